package commands

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fleetware/otaagent/internal/config"
	"github.com/fleetware/otaagent/pkg/agent"
	"github.com/fleetware/otaagent/pkg/errors"
	"github.com/fleetware/otaagent/pkg/metrics"
	"github.com/fleetware/otaagent/pkg/osal"
	"github.com/fleetware/otaagent/pkg/ota"
	"github.com/fleetware/otaagent/pkg/platform"
	"github.com/fleetware/otaagent/pkg/store"
	"github.com/fleetware/otaagent/pkg/transport"
)

var (
	runJobFile   string
	runImageFile string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the update agent until interrupted",
	RunE:  runAgent,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runJobFile, "job-file", "", "Serve a local job document instead of a remote job service")
	runCmd.Flags().StringVar(&runImageFile, "image-file", "", "Serve a local firmware image for block requests")
}

// recordingControl mirrors every job status update into the local store so
// the status command can report history without a network.
type recordingControl struct {
	ota.ControlTransport
	repo *store.Repository
}

func (c *recordingControl) UpdateJobStatus(ctx context.Context, deviceID, jobID string, status ota.JobStatus, reason string) error {
	if err := c.repo.UpsertJob(&store.Job{JobID: jobID, Status: string(status), ErrorMessage: reason}); err != nil {
		slog.Warn("job_record_failed", "job_id", jobID, "error", err)
	}
	return c.ControlTransport.UpdateJobStatus(ctx, deviceID, jobID, status, reason)
}

func runAgent(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "config invalid")
	}

	if err := ensureDirectories(cfg.SQLitePath, cfg.WorkDir, cfg.CertDir); err != nil {
		return err
	}

	repo, err := store.NewRepository(cfg.SQLitePath)
	if err != nil {
		return errors.Wrap(err, "store init failed")
	}
	defer repo.Close()

	plat, err := platform.NewLocal(cfg.WorkDir, cfg.CertDir, repo)
	if err != nil {
		return errors.Wrap(err, "platform init failed")
	}

	rt, err := osal.New(cfg.QueueDepth)
	if err != nil {
		return errors.Wrap(err, "event queue init failed")
	}

	broker := transport.NewInMem()
	if runJobFile != "" {
		doc, err := os.ReadFile(runJobFile)
		if err != nil {
			return errors.Wrap(err, "job file read failed")
		}
		broker.SetJobDocument(doc)
	}
	if runImageFile != "" {
		img, err := os.ReadFile(runImageFile)
		if err != nil {
			return errors.Wrap(err, "image file read failed")
		}
		broker.ServeImage(img)
	}
	control := &recordingControl{ControlTransport: broker, repo: repo}

	var data ota.DataTransport
	primary := ota.ProtocolStream
	switch cfg.DataProtocol {
	case "s3":
		data, err = transport.NewS3(ctx, cfg.S3Region, cfg.S3Anonymous)
		if err != nil {
			return errors.Wrap(err, "S3 data plane failed")
		}
		primary = ota.ProtocolHTTP
	case "http":
		data = transport.NewHTTP(0)
		primary = ota.ProtocolHTTP
	}

	var a *agent.Agent
	a = agent.New(
		agent.Config{
			DeviceID:       cfg.DeviceID,
			CurrentVersion: cfg.FirmwareVersion,
			Buffers: ota.BufferSizes{
				FilePath:     cfg.FilePathBufLen,
				CertPath:     cfg.CertPathBufLen,
				StreamName:   cfg.StreamNameBufLen,
				URL:          cfg.URLBufLen,
				AuthScheme:   cfg.AuthSchemeBufLen,
				Signature:    cfg.SignatureBufLen,
				DecodeMemory: cfg.DecodeBufLen,
				MaxBlocks:    cfg.MaxBlocks,
			},
			MaxMomentum:         cfg.MaxMomentum,
			RequestWidth:        cfg.RequestWidth,
			RequestTimeout:      cfg.RequestTimeout,
			SelfTestTimeout:     cfg.SelfTestTimeout,
			MaxJobDocLen:        cfg.MaxJobDocLen,
			DefaultBlockSize:    cfg.DefaultBlockSize,
			PrimaryDataProtocol: primary,
			AllowDowngrade:      cfg.AllowDowngrade,
			AllowSameVersion:    cfg.AllowSameVersion,
		},
		agent.Collaborators{OS: rt, Control: control, Data: data, Platform: plat},
		agent.Callbacks{Job: func(ev ota.JobEvent) {
			switch ev {
			case ota.JobEventActivate:
				slog.Info("update_verified_activating")
				if err := a.ActivateNewImage(ctx); err != nil {
					slog.Error("activation_failed", "error", err)
				}
			case ota.JobEventStartTest:
				slog.Info("self_test_pending", "hint", "run `otaagent accept` or `otaagent reject`")
			case ota.JobEventFail:
				slog.Error("update_failed")
			}
		}},
	)

	if err := a.Init(ctx); err != nil {
		return errors.Wrap(err, "agent init failed")
	}

	if cfg.MetricsAddr != "" {
		exporter := metrics.NewExporter(a)
		mux := http.NewServeMux()
		mux.Handle("/metrics", exporter.Handler())
		go func() {
			slog.Info("metrics_listening", "addr", cfg.MetricsAddr)
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				slog.Error("metrics_server_failed", "error", err)
			}
		}()
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	state := a.Shutdown(10 * time.Second)
	slog.Info("agent_exit", "state", state.String())
	return nil
}
