// Package platform implements the platform collaborator for hosts with a
// regular filesystem: receive-file I/O, ECDSA signature verification,
// image-state persistence, activation, and rollback.
package platform

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fleetware/otaagent/pkg/errors"
	"github.com/fleetware/otaagent/pkg/ota"
	"github.com/fleetware/otaagent/pkg/store"
)

// Slot layout under the work directory.
const (
	stagingDir  = "staging"
	activeDir   = "active"
	previousDir = "previous"
)

// Local is a platform collaborator backed by the local filesystem and the
// agent's sqlite store.
type Local struct {
	workDir string
	certDir string
	repo    *store.Repository

	mu      sync.Mutex
	staged  string // path of the verified staged image, empty until CloseFile
	jobID   string
	version string
}

// NewLocal creates the platform collaborator. workDir holds the staging
// and active image slots; certDir holds the signing certificates named by
// job documents.
func NewLocal(workDir, certDir string, repo *store.Repository) (*Local, error) {
	for _, dir := range []string{stagingDir, activeDir, previousDir} {
		if err := os.MkdirAll(filepath.Join(workDir, dir), 0o755); err != nil {
			return nil, errors.Wrap(err, "failed to create work dir")
		}
	}
	slog.Info("platform_init", "work_dir", workDir, "cert_dir", certDir)
	return &Local{workDir: workDir, certDir: certDir, repo: repo}, nil
}

// SetJobInfo records the job identity persisted alongside the image state.
func (l *Local) SetJobInfo(jobID, version string) {
	l.mu.Lock()
	l.jobID = jobID
	l.version = version
	l.mu.Unlock()
}

func (l *Local) stagingPath(fc *ota.FileContext) string {
	return filepath.Join(l.workDir, stagingDir, filepath.Base(fc.FilePath.String()))
}

// CreateFile opens the staging file for the transfer and stores the handle
// in fc.File.
func (l *Local) CreateFile(ctx context.Context, fc *ota.FileContext) error {
	if fc.FilePath.IsEmpty() {
		return ota.NewErr(ota.KindRxFileCreateFailed, fmt.Errorf("empty file path"))
	}

	path := l.stagingPath(fc)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		slog.Error("platform_file_create_failed", "path", path, "error", err)
		return ota.NewErr(ota.KindRxFileCreateFailed, err)
	}

	fc.File = f
	slog.Info("platform_file_created", "path", path, "file_size", fc.FileSize)
	return nil
}

// WriteBlock writes one received block at its file offset.
func (l *Local) WriteBlock(ctx context.Context, fc *ota.FileContext, offset int64, data []byte) (int, error) {
	if fc.File == nil {
		return 0, fmt.Errorf("platform: write to closed file context")
	}
	n, err := fc.File.WriteAt(data, offset)
	if err != nil {
		slog.Error("platform_block_write_failed", "offset", offset, "error", err)
		return n, errors.Wrap(err, "failed to write block")
	}
	return n, nil
}

// CloseFile finalizes the staging file and verifies its signature against
// the certificate named in the job document. On success the image is left
// staged for activation.
func (l *Local) CloseFile(ctx context.Context, fc *ota.FileContext) error {
	if fc.File == nil {
		return ota.NewErr(ota.KindFileClose, fmt.Errorf("no open file"))
	}
	if err := fc.File.Close(); err != nil {
		slog.Error("platform_file_close_failed", "error", err)
		return ota.NewErr(ota.KindFileClose, err)
	}
	fc.File = nil

	path := l.stagingPath(fc)
	if err := l.verifySignature(path, fc); err != nil {
		os.Remove(path)
		return err
	}

	l.mu.Lock()
	l.staged = path
	l.mu.Unlock()

	slog.Info("platform_file_verified", "path", path)
	return nil
}

// verifySignature checks the ECDSA P-256 / SHA-256 signature carried by
// the job document against the named signing certificate.
func (l *Local) verifySignature(path string, fc *ota.FileContext) error {
	pub, err := l.loadSignerKey(fc.CertPath.String())
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return ota.NewErr(ota.KindFileClose, err)
	}
	defer f.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, f); err != nil {
		return ota.NewErr(ota.KindFileClose, err)
	}
	digest := hash.Sum(nil)

	if !ecdsa.VerifyASN1(pub, digest, fc.Signature.Bytes()) {
		slog.Error("platform_signature_check_failed", "path", path, "cert", fc.CertPath.String())
		return ota.NewErr(ota.KindSignatureCheckFailed, nil)
	}

	slog.Info("platform_signature_verified", "path", path, "cert", fc.CertPath.String())
	return nil
}

// loadSignerKey reads an ECDSA public key from a PEM file, accepting either
// a bare PKIX public key or an X.509 certificate.
func (l *Local) loadSignerKey(certFile string) (*ecdsa.PublicKey, error) {
	if certFile == "" {
		return nil, ota.NewErr(ota.KindBadSignerCert, fmt.Errorf("no signing certificate named"))
	}

	raw, err := os.ReadFile(filepath.Join(l.certDir, filepath.Base(certFile)))
	if err != nil {
		slog.Error("platform_signer_cert_unreadable", "cert", certFile, "error", err)
		return nil, ota.NewErr(ota.KindBadSignerCert, err)
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, ota.NewErr(ota.KindBadSignerCert, fmt.Errorf("no PEM block in %s", certFile))
	}

	var key any
	switch block.Type {
	case "CERTIFICATE":
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, ota.NewErr(ota.KindBadSignerCert, err)
		}
		key = cert.PublicKey
	default:
		key, err = x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, ota.NewErr(ota.KindBadSignerCert, err)
		}
	}

	pub, ok := key.(*ecdsa.PublicKey)
	if !ok {
		return nil, ota.NewErr(ota.KindBadSignerCert, fmt.Errorf("signer key in %s is not ECDSA", certFile))
	}
	return pub, nil
}

// Abort closes and discards a partially received file.
func (l *Local) Abort(ctx context.Context, fc *ota.FileContext) error {
	if fc.File != nil {
		if err := fc.File.Close(); err != nil {
			slog.Error("platform_abort_close_failed", "error", err)
			return ota.NewErr(ota.KindFileAbort, err)
		}
		fc.File = nil
	}
	if !fc.FilePath.IsEmpty() {
		path := l.stagingPath(fc)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return ota.NewErr(ota.KindFileAbort, err)
		}
		slog.Info("platform_file_aborted", "path", path)
	}
	return nil
}

// ImageState reads the persisted image state.
func (l *Local) ImageState(ctx context.Context) (ota.ImageState, error) {
	state, _, _, err := l.repo.ImageState()
	if err != nil {
		return ota.ImageStateUnknown, err
	}
	return ota.ParseImageState(state), nil
}

// SetImageState persists the image state. Rejected and Aborted roll the
// staged or activated image back to the previous one.
func (l *Local) SetImageState(ctx context.Context, state ota.ImageState) error {
	l.mu.Lock()
	jobID, version := l.jobID, l.version
	l.mu.Unlock()

	if err := l.repo.SetImageState(state.String(), jobID, version); err != nil {
		return err
	}

	if state == ota.ImageStateRejected || state == ota.ImageStateAborted {
		return l.rollback()
	}
	return nil
}

// rollback discards the staged image and restores the previous active one
// if an activation already happened.
func (l *Local) rollback() error {
	l.mu.Lock()
	staged := l.staged
	l.staged = ""
	l.mu.Unlock()

	if staged != "" {
		if err := os.Remove(staged); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, "failed to remove staged image")
		}
		slog.Info("platform_staged_image_discarded", "path", staged)
	}

	prev, err := os.ReadDir(filepath.Join(l.workDir, previousDir))
	if err != nil || len(prev) == 0 {
		return nil
	}
	for _, entry := range prev {
		from := filepath.Join(l.workDir, previousDir, entry.Name())
		to := filepath.Join(l.workDir, activeDir, entry.Name())
		if err := os.Rename(from, to); err != nil {
			return errors.Wrap(err, "failed to restore previous image")
		}
		slog.Info("platform_previous_image_restored", "path", to)
	}
	return nil
}

// ActivateNewImage moves the verified staged image into the active slot,
// keeping the prior active image for rollback.
func (l *Local) ActivateNewImage(ctx context.Context) error {
	l.mu.Lock()
	staged := l.staged
	l.mu.Unlock()

	if staged == "" {
		return ota.NewErr(ota.KindActivateFailed, fmt.Errorf("no verified image staged"))
	}

	name := filepath.Base(staged)
	active := filepath.Join(l.workDir, activeDir, name)
	if _, err := os.Stat(active); err == nil {
		if err := os.Rename(active, filepath.Join(l.workDir, previousDir, name)); err != nil {
			return ota.NewErr(ota.KindActivateFailed, err)
		}
	}
	if err := os.Rename(staged, active); err != nil {
		return ota.NewErr(ota.KindActivateFailed, err)
	}

	l.mu.Lock()
	l.staged = ""
	l.mu.Unlock()

	slog.Info("platform_image_activated", "path", active)
	return nil
}

// Reset asks the host to restart so the activated image runs. On this
// platform the process supervisor owns the actual restart; the call only
// records the request.
func (l *Local) Reset(ctx context.Context) error {
	slog.Info("platform_device_reset_requested")
	return nil
}

var _ ota.Platform = (*Local)(nil)
