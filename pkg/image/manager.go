// Package image owns the lifecycle of the currently running or pending
// firmware image and the matching platform persistence calls.
package image

import (
	"context"
	"log/slog"
	"sync"

	"github.com/fleetware/otaagent/pkg/ota"
)

// Manager tracks and transitions the image state. It serializes its own
// access so the application may call Set while the agent loop runs.
type Manager struct {
	platform ota.Platform

	mu            sync.Mutex
	state         ota.ImageState
	pendingCommit bool
}

// NewManager creates a manager over the given platform collaborator.
func NewManager(platform ota.Platform) *Manager {
	return &Manager{platform: platform, state: ota.ImageStateUnknown}
}

// State returns the current in-memory image state.
func (m *Manager) State() ota.ImageState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Restore reads the persisted image state at boot. A platform-reported
// Testing state means a new image is running under self test and the
// caller should raise the start-test callback.
func (m *Manager) Restore(ctx context.Context) (ota.ImageState, error) {
	state, err := m.platform.ImageState(ctx)
	if err != nil {
		slog.Error("image_state_restore_failed", "error", err)
		return ota.ImageStateUnknown, ota.NewErr(ota.KindBadImageState, err)
	}

	m.mu.Lock()
	m.state = state
	m.pendingCommit = state == ota.ImageStateTesting
	m.mu.Unlock()

	slog.Info("image_state_restored", "state", state.String())
	return state, nil
}

// MarkTesting moves a verified download into the Testing state and
// persists it. Called by the agent after a successful file close.
func (m *Manager) MarkTesting(ctx context.Context) error {
	if err := m.platform.SetImageState(ctx, ota.ImageStateTesting); err != nil {
		slog.Error("image_state_persist_failed", "state", "testing", "error", err)
		return ota.NewErr(ota.KindCommitFailed, err)
	}

	m.mu.Lock()
	m.state = ota.ImageStateTesting
	m.pendingCommit = true
	m.mu.Unlock()

	slog.Info("image_marked_testing")
	return nil
}

// Set applies an application-requested image state transition. Accepted
// finalizes the pending image; Rejected and Aborted roll it back through
// the platform collaborator.
func (m *Manager) Set(ctx context.Context, state ota.ImageState) error {
	switch state {
	case ota.ImageStateAccepted, ota.ImageStateRejected, ota.ImageStateAborted:
	default:
		slog.Error("image_state_out_of_range", "state", int(state))
		return ota.NewErr(ota.KindBadImageState, nil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if state == ota.ImageStateAccepted && !m.pendingCommit {
		slog.Error("image_accept_without_pending_job")
		return ota.NewErr(ota.KindNoActiveJob, nil)
	}

	if err := m.platform.SetImageState(ctx, state); err != nil {
		kind := ota.KindCommitFailed
		switch state {
		case ota.ImageStateRejected:
			kind = ota.KindRejectFailed
		case ota.ImageStateAborted:
			kind = ota.KindAbortFailed
		}
		slog.Error("image_state_persist_failed", "state", state.String(), "error", err)
		return ota.NewErr(kind, err)
	}

	m.state = state
	m.pendingCommit = false
	slog.Info("image_state_set", "state", state.String())
	return nil
}

// VerifySelfTest checks the job's self-test expectation against the
// platform-reported state. A mismatch is an integrity signal, possible
// tampering, never silently reconciled.
func (m *Manager) VerifySelfTest(ctx context.Context, jobInSelfTest bool) error {
	state, err := m.platform.ImageState(ctx)
	if err != nil {
		return ota.NewErr(ota.KindBadImageState, err)
	}

	platformTesting := state == ota.ImageStateTesting
	if jobInSelfTest != platformTesting {
		slog.Error("image_state_mismatch",
			"job_self_test", jobInSelfTest,
			"platform_state", state.String(),
		)
		return ota.NewErr(ota.KindImageStateMismatch, nil)
	}
	return nil
}
