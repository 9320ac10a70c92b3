package commands

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/fleetware/otaagent/internal/config"
	"github.com/fleetware/otaagent/pkg/errors"
	"github.com/fleetware/otaagent/pkg/image"
	"github.com/fleetware/otaagent/pkg/ota"
	"github.com/fleetware/otaagent/pkg/platform"
	"github.com/fleetware/otaagent/pkg/store"
)

var acceptCmd = &cobra.Command{
	Use:   "accept",
	Short: "Accept the image under self test, making it permanent",
	RunE: func(cmd *cobra.Command, args []string) error {
		return setImageState(ota.ImageStateAccepted)
	},
}

var rejectCmd = &cobra.Command{
	Use:   "reject",
	Short: "Reject the image under self test and roll back",
	RunE: func(cmd *cobra.Command, args []string) error {
		return setImageState(ota.ImageStateRejected)
	},
}

var abortCmd = &cobra.Command{
	Use:   "abort",
	Short: "Abort the pending image and roll back",
	RunE: func(cmd *cobra.Command, args []string) error {
		return setImageState(ota.ImageStateAborted)
	},
}

func init() {
	rootCmd.AddCommand(acceptCmd)
	rootCmd.AddCommand(rejectCmd)
	rootCmd.AddCommand(abortCmd)
}

// setImageState applies an image lifecycle transition through the same
// manager the running agent uses, so the persisted state and rollback
// behavior are identical.
func setImageState(state ota.ImageState) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
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

	mgr := image.NewManager(plat)
	if _, err := mgr.Restore(ctx); err != nil {
		return errors.Wrap(err, "image state restore failed")
	}
	if err := mgr.Set(ctx, state); err != nil {
		return errors.Wrap(err, "image state transition failed")
	}

	slog.Info("image_state_set", "state", state.String())
	return nil
}
