package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fleetware/otaagent/pkg/job"
	"github.com/fleetware/otaagent/pkg/ota"
)

// stateAny matches every state in the transition table.
const stateAny ota.State = -2

// handlerFunc processes one event. It returns the next state, or
// ota.StateNoTransition to stay put.
type handlerFunc func(a *Agent, ctx context.Context, ev ota.Event) (ota.State, error)

type transition struct {
	state   ota.State
	event   ota.EventID
	handler handlerFunc
}

// transitions mirrors the controller design: exact (state, event) pairs
// first, stateAny rows as fallback. Events with no matching row are logged
// and discarded.
var transitions = []transition{
	{ota.StateReady, ota.EventStart, (*Agent).handleStart},
	{ota.StateReady, ota.EventRequestJobDocument, (*Agent).handleRequestJob},
	{ota.StateRequestingJob, ota.EventRequestJobDocument, (*Agent).handleRequestJob},
	{ota.StateWaitingForJob, ota.EventRequestTimer, (*Agent).handleRequestJob},
	{ota.StateWaitingForJob, ota.EventRequestJobDocument, (*Agent).handleRequestJob},
	{ota.StateCreatingFile, ota.EventCreateFile, (*Agent).handleCreateFile},
	{ota.StateRequestingFileBlock, ota.EventRequestData, (*Agent).handleRequestData},
	{ota.StateRequestingFileBlock, ota.EventRequestTimer, (*Agent).handleRequestData},
	{ota.StateWaitingForFileBlock, ota.EventRequestData, (*Agent).handleRequestData},
	{ota.StateWaitingForFileBlock, ota.EventRequestTimer, (*Agent).handleRequestData},
	{ota.StateWaitingForFileBlock, ota.EventReceivedData, (*Agent).handleReceivedData},
	{ota.StateClosingFile, ota.EventCloseFile, (*Agent).handleCloseFile},
	{stateAny, ota.EventReceivedJobDocument, (*Agent).handleProcessJob},
	{stateAny, ota.EventSuspend, (*Agent).handleSuspend},
	{stateAny, ota.EventUserAbort, (*Agent).handleUserAbort},
	{stateAny, ota.EventImageStateUpdated, (*Agent).handleImageStateUpdated},
	{stateAny, ota.EventSelfTestTimeout, (*Agent).handleSelfTestTimeout},
	{stateAny, ota.EventShutdown, (*Agent).handleShutdown},
}

func lookup(state ota.State, event ota.EventID) handlerFunc {
	var fallback handlerFunc
	for _, t := range transitions {
		if t.event != event {
			continue
		}
		if t.state == state {
			return t.handler
		}
		if t.state == stateAny {
			fallback = t.handler
		}
	}
	return fallback
}

func (a *Agent) handle(ev ota.Event) {
	state := a.State()
	fn := lookup(state, ev.ID)
	if fn == nil {
		slog.Debug("event_unexpected", "state", state.String(), "event", ev.ID.String())
		if ev.ID == ota.EventReceivedData || ev.ID == ota.EventReceivedJobDocument {
			a.statDropped.Add(1)
		}
		return
	}

	next, err := fn(a, a.loopCtx, ev)
	if err != nil {
		slog.Error("event_handler_failed",
			"state", state.String(),
			"event", ev.ID.String(),
			"error", err,
		)
	} else if ev.ID == ota.EventReceivedData || ev.ID == ota.EventReceivedJobDocument {
		a.statProcessed.Add(1)
	}
	if next != ota.StateNoTransition {
		a.setState(next)
	}
}

// handleStart runs once after Init. A platform-reported Testing state means
// the device just rebooted into a new image: the application gets the
// start-test callback and a bounded window to accept it.
func (a *Agent) handleStart(ctx context.Context, ev ota.Event) (ota.State, error) {
	if a.images.State() == ota.ImageStateTesting {
		slog.Info("self_test_active_at_boot")
		a.armSelfTestTimer()
		if a.cb.Job != nil {
			a.cb.Job(ota.JobEventStartTest)
		}
	}

	if err := a.enqueue(ota.Event{ID: ota.EventRequestJobDocument}); err != nil {
		return ota.StateNoTransition, err
	}
	return ota.StateRequestingJob, nil
}

// handleRequestJob publishes one job request and arms the retry timer.
// Momentum bounds how many consecutive requests go unanswered before the
// agent gives up and returns to Ready.
func (a *Agent) handleRequestJob(ctx context.Context, ev ota.Event) (ota.State, error) {
	if a.momentum > a.cfg.MaxMomentum {
		slog.Error("job_request_momentum_exceeded", "momentum", a.momentum, "max", a.cfg.MaxMomentum)
		a.stopRequestCycle()
		if a.cb.Job != nil {
			a.cb.Job(ota.JobEventFail)
		}
		return ota.StateReady, ota.NewErr(ota.KindMomentumAbort, nil)
	}

	if err := a.collab.Control.RequestJob(ctx, a.cfg.DeviceID, a.clientToken); err != nil {
		slog.Error("job_request_publish_failed", "error", err)
		a.momentum++
		a.armRequestTimer()
		return ota.StateNoTransition, err
	}

	a.momentum++
	a.armRequestTimer()
	slog.Debug("job_requested", "momentum", a.momentum)
	return ota.StateWaitingForJob, nil
}

// handleProcessJob parses a received job document and decides what the
// agent does next: start a transfer, resume one, enter self test, or go
// back to idle.
func (a *Agent) handleProcessJob(ctx context.Context, ev ota.Event) (ota.State, error) {
	a.stopRequestCycle()

	res, perr := a.parser.Parse(ev.Data, a.activeJobID, a.fc)
	switch perr {
	case job.ParseErrNone:
		if res == nil {
			// The custom parse hook consumed the document; nothing for the
			// standard flow to do.
			slog.Info("job_custom_handled")
			return ota.StateReady, nil
		}
		return a.acceptJob(ctx, res)

	case job.ParseErrUpdateCurrentJob:
		slog.Info("job_resumed", "job_id", a.activeJobID, "blocks_received", a.fc.Bitmap.Received())
		if err := a.enqueue(ota.Event{ID: ota.EventRequestData}); err != nil {
			return ota.StateNoTransition, err
		}
		return ota.StateRequestingFileBlock, nil

	case job.ParseErrNoActiveJobs:
		return ota.StateReady, nil

	case job.ParseErrBusyWithExistingJob:
		// The service moved on. Drop the stale transfer and fetch the job
		// it wants us on.
		if err := a.abortTransfer(ctx, ota.NewErr(ota.KindJobParserError, fmt.Errorf("superseded by new job"))); err != nil {
			slog.Warn("stale_transfer_abort_failed", "error", err)
		}
		if err := a.enqueue(ota.Event{ID: ota.EventRequestJobDocument}); err != nil {
			return ota.StateReady, err
		}
		return ota.StateRequestingJob, nil

	default:
		slog.Error("job_rejected", "parse_error", perr.String())
		return ota.StateReady, ota.NewErr(ota.KindJobParserError, fmt.Errorf("parse result %s", perr))
	}
}

// acceptJob applies the version policies, then either enters self test or
// starts the block transfer.
func (a *Agent) acceptJob(ctx context.Context, res *job.Result) (ota.State, error) {
	if res.SelfTest {
		return a.enterSelfTest(ctx, res)
	}

	if !a.cfg.AllowSameVersion && res.Version != "" && res.Version == a.cfg.CurrentVersion {
		return a.rejectJob(ctx, res.JobID, ota.NewErr(ota.KindSameFirmwareVersion, nil))
	}
	if !a.cfg.AllowDowngrade && res.Version != "" && res.Version < a.cfg.CurrentVersion {
		return a.rejectJob(ctx, res.JobID, ota.NewErr(ota.KindDowngradeNotAllowed,
			fmt.Errorf("job version %q below running %q", res.Version, a.cfg.CurrentVersion)))
	}

	if err := a.fc.Bitmap.Init(a.fc.BlockCount()); err != nil {
		return a.rejectJob(ctx, res.JobID, ota.NewErr(ota.KindOutOfMemory, err))
	}

	protocol, err := a.selectProtocol()
	if err != nil {
		return a.rejectJob(ctx, res.JobID, err)
	}
	if protocol == ota.ProtocolHTTP {
		if err := a.collab.Data.Init(ctx, a.fc); err != nil {
			return a.rejectJob(ctx, res.JobID, err)
		}
	}

	a.activeJobID = res.JobID
	a.clientToken = res.ClientToken
	a.jobVersion = res.Version
	a.jobSelfTest = false
	a.dataProtocol = protocol
	a.blocksInBatch = 0
	a.retry.Reset()

	a.updateJobStatus(ctx, ota.JobStatusInProgress, fmt.Sprintf("blocks_remaining=%d", a.fc.BlockCount()))

	if err := a.enqueue(ota.Event{ID: ota.EventCreateFile}); err != nil {
		return ota.StateNoTransition, err
	}
	slog.Info("job_accepted",
		"job_id", res.JobID,
		"protocol", protocol,
		"blocks", a.fc.BlockCount(),
	)
	return ota.StateCreatingFile, nil
}

// enterSelfTest handles the job document that comes back after rebooting
// into a new image. The platform must agree we are testing; a mismatch is
// treated as tampering and the image is rejected.
func (a *Agent) enterSelfTest(ctx context.Context, res *job.Result) (ota.State, error) {
	a.fc.Reset()

	if err := a.images.VerifySelfTest(ctx, true); err != nil {
		slog.Error("self_test_state_mismatch", "job_id", res.JobID, "error", err)
		if serr := a.images.Set(ctx, ota.ImageStateRejected); serr != nil {
			slog.Error("self_test_reject_failed", "error", serr)
		}
		a.updateJobStatusFor(ctx, res.JobID, ota.JobStatusFailed, ota.KindImageStateMismatch.String())
		return ota.StateReady, err
	}

	if res.Version == a.cfg.CurrentVersion && !a.cfg.AllowSameVersion {
		slog.Error("self_test_version_unchanged", "version", res.Version)
		if serr := a.images.Set(ctx, ota.ImageStateRejected); serr != nil {
			slog.Error("self_test_reject_failed", "error", serr)
		}
		a.updateJobStatusFor(ctx, res.JobID, ota.JobStatusFailed, ota.KindSameFirmwareVersion.String())
		return ota.StateReady, ota.NewErr(ota.KindSameFirmwareVersion, nil)
	}

	a.activeJobID = res.JobID
	a.clientToken = res.ClientToken
	a.jobSelfTest = true
	a.recordJobInfo(res.JobID, res.Version)
	a.armSelfTestTimer()
	a.updateJobStatus(ctx, ota.JobStatusSelfTest, "")

	slog.Info("self_test_started", "job_id", res.JobID, "new_version", res.Version)
	if a.cb.Job != nil {
		a.cb.Job(ota.JobEventStartTest)
	}
	return ota.StateReady, nil
}

// rejectJob reports the job as failed and clears the populated context
// before any transfer started.
func (a *Agent) rejectJob(ctx context.Context, jobID string, cause error) (ota.State, error) {
	slog.Error("job_policy_reject", "job_id", jobID, "error", cause)
	a.updateJobStatusFor(ctx, jobID, ota.JobStatusFailed, ota.KindOf(cause).String())
	a.fc.Reset()
	return ota.StateReady, cause
}

func (a *Agent) handleCreateFile(ctx context.Context, ev ota.Event) (ota.State, error) {
	if err := a.collab.Platform.CreateFile(ctx, a.fc); err != nil {
		slog.Error("receive_file_create_failed", "path", a.fc.FilePath.String(), "error", err)
		a.failTransfer(ctx, err)
		return ota.StateReady, err
	}

	if err := a.enqueue(ota.Event{ID: ota.EventRequestData}); err != nil {
		return ota.StateNoTransition, err
	}
	return ota.StateRequestingFileBlock, nil
}

// handleRequestData issues one request cycle for the next batch of missing
// blocks. One cycle is one momentum increment regardless of batch width.
func (a *Agent) handleRequestData(ctx context.Context, ev ota.Event) (ota.State, error) {
	if a.momentum > a.cfg.MaxMomentum {
		slog.Error("data_request_momentum_exceeded", "momentum", a.momentum, "max", a.cfg.MaxMomentum)
		err := ota.NewErr(ota.KindMomentumAbort, nil)
		a.failTransfer(ctx, err)
		return ota.StateReady, err
	}

	a.indices = a.fc.Bitmap.AppendMissing(a.indices[:0], int(a.cfg.RequestWidth))
	if len(a.indices) == 0 {
		if err := a.enqueue(ota.Event{ID: ota.EventCloseFile}); err != nil {
			return ota.StateNoTransition, err
		}
		return ota.StateClosingFile, nil
	}
	a.blocksInBatch = uint32(len(a.indices))

	var err error
	switch a.dataProtocol {
	case ota.ProtocolHTTP:
		err = a.requestRanges(ctx, a.indices)
	default:
		err = a.collab.Control.RequestBlocks(ctx, a.cfg.DeviceID,
			a.fc.StreamName.String(), a.fc.FileID, a.fc.BlockSize, a.indices)
	}

	a.momentum++
	a.armRequestTimer()

	if err != nil {
		slog.Error("block_request_failed", "blocks", len(a.indices), "error", err)
		return ota.StateWaitingForFileBlock, err
	}
	slog.Debug("blocks_requested", "count", len(a.indices), "momentum", a.momentum)
	return ota.StateWaitingForFileBlock, nil
}

// requestRanges fetches the batch over the ranged data plane and feeds the
// results back through the ingest path, so stream and direct download share
// one bookkeeping flow.
func (a *Agent) requestRanges(ctx context.Context, indices []uint32) error {
	for _, idx := range indices {
		offset := int64(idx) * a.fc.BlockSize
		length := a.fc.BlockLen(idx)

		payload, err := a.collab.Data.RequestRange(ctx, a.fc, offset, length)
		if err != nil {
			return err
		}

		msg := &ota.BlockMessage{
			FileID:     a.fc.FileID,
			BlockIndex: idx,
			BlockSize:  int64(len(payload)),
			Payload:    payload,
		}
		raw, err := msg.Marshal()
		if err != nil {
			return ota.NewErr(ota.KindRequestFailed, err)
		}
		a.onBlockMessage(raw)
	}
	return nil
}

// handleReceivedData ingests one block: decode, bounds-check, first-time
// mark, write. A block index outside the current file is a protocol
// violation and aborts the transfer.
func (a *Agent) handleReceivedData(ctx context.Context, ev ota.Event) (ota.State, error) {
	msg, err := ota.UnmarshalBlockMessage(ev.Data, a.cfg.Buffers.DecodeMemory)
	if err != nil {
		a.statDropped.Add(1)
		slog.Warn("block_decode_failed", "error", err)
		return ota.StateNoTransition, ota.NewErr(ota.KindIngestError, err)
	}

	if msg.FileID != a.fc.FileID {
		a.statDropped.Add(1)
		slog.Warn("block_wrong_file", "got", msg.FileID, "want", a.fc.FileID)
		return ota.StateNoTransition, nil
	}

	if msg.BlockIndex >= a.fc.BlockCount() || msg.BlockSize != a.fc.BlockLen(msg.BlockIndex) {
		ierr := ota.NewErr(ota.KindIngestError,
			fmt.Errorf("block %d size %d outside file geometry", msg.BlockIndex, msg.BlockSize))
		a.failTransfer(ctx, ierr)
		return ota.StateReady, ierr
	}

	first, err := a.fc.Bitmap.MarkReceived(msg.BlockIndex)
	if err != nil {
		ierr := ota.NewErr(ota.KindIngestError, err)
		a.failTransfer(ctx, ierr)
		return ota.StateReady, ierr
	}
	if !first {
		a.statDropped.Add(1)
		slog.Debug("block_duplicate", "index", msg.BlockIndex)
		return ota.StateNoTransition, nil
	}

	offset := int64(msg.BlockIndex) * a.fc.BlockSize
	if _, err := a.collab.Platform.WriteBlock(ctx, a.fc, offset, msg.Payload); err != nil {
		werr := ota.NewErr(ota.KindIngestError, err)
		a.failTransfer(ctx, werr)
		return ota.StateReady, werr
	}

	// An accepted response resets the retry pressure entirely.
	a.momentum = 0
	a.retry.Reset()
	if a.blocksInBatch > 0 {
		a.blocksInBatch--
	}

	slog.Debug("block_received",
		"index", msg.BlockIndex,
		"received", a.fc.Bitmap.Received(),
		"total", a.fc.Bitmap.Blocks(),
	)

	if a.fc.Bitmap.IsComplete() {
		a.stopRequestCycle()
		if err := a.enqueue(ota.Event{ID: ota.EventCloseFile}); err != nil {
			return ota.StateNoTransition, err
		}
		return ota.StateClosingFile, nil
	}

	if a.blocksInBatch == 0 {
		remaining := a.fc.Bitmap.Blocks() - a.fc.Bitmap.Received()
		a.updateJobStatus(ctx, ota.JobStatusInProgress, fmt.Sprintf("blocks_remaining=%d", remaining))
		if err := a.enqueue(ota.Event{ID: ota.EventRequestData}); err != nil {
			return ota.StateNoTransition, err
		}
		return ota.StateRequestingFileBlock, nil
	}

	a.armRequestTimer()
	return ota.StateNoTransition, nil
}

// handleCloseFile finalizes the download: close and verify through the
// platform, then hand the image to self test. A verification failure needs
// a fresh job, not a retry of the same bytes.
func (a *Agent) handleCloseFile(ctx context.Context, ev ota.Event) (ota.State, error) {
	a.stopRequestCycle()
	if a.dataProtocol == ota.ProtocolHTTP && a.collab.Data != nil {
		if err := a.collab.Data.Cleanup(ctx); err != nil {
			slog.Warn("data_plane_cleanup_failed", "error", err)
		}
	}

	if err := a.collab.Platform.CloseFile(ctx, a.fc); err != nil {
		slog.Error("file_close_failed", "job_id", a.activeJobID, "error", err)
		a.updateJobStatus(ctx, ota.JobStatusFailed, ota.KindOf(err).String())
		if a.cb.Job != nil {
			a.cb.Job(ota.JobEventFail)
		}
		a.clearJob()
		if qerr := a.enqueue(ota.Event{ID: ota.EventRequestJobDocument}); qerr != nil {
			return ota.StateReady, qerr
		}
		return ota.StateRequestingJob, err
	}

	a.recordJobInfo(a.activeJobID, a.jobVersion)
	if err := a.images.MarkTesting(ctx); err != nil {
		a.updateJobStatus(ctx, ota.JobStatusFailed, ota.KindOf(err).String())
		if a.cb.Job != nil {
			a.cb.Job(ota.JobEventFail)
		}
		a.clearJob()
		return ota.StateReady, err
	}

	a.updateJobStatus(ctx, ota.JobStatusInProgress, "signature_verified")
	a.fc.File = nil

	slog.Info("download_complete", "job_id", a.activeJobID, "version", a.jobVersion)
	if a.cb.Job != nil {
		a.cb.Job(ota.JobEventActivate)
	}
	return ota.StateReady, nil
}

func (a *Agent) handleSuspend(ctx context.Context, ev ota.Event) (ota.State, error) {
	a.suspendedFrom = a.State()
	if err := a.collab.OS.StopTimer(ota.TimerRequest); err != nil {
		slog.Warn("request_timer_stop_failed", "error", err)
	}
	slog.Info("agent_suspended", "from", a.suspendedFrom.String())
	return ota.StateSuspended, nil
}

func (a *Agent) handleUserAbort(ctx context.Context, ev ota.Event) (ota.State, error) {
	if a.activeJobID == "" && !a.fc.Open() {
		slog.Info("abort_without_active_job")
		return ota.StateNoTransition, ota.NewErr(ota.KindNoActiveJob, nil)
	}

	err := ota.NewErr(ota.KindUserAbort, nil)
	a.failTransfer(ctx, err)
	return ota.StateReady, nil
}

// handleImageStateUpdated runs the loop-owned bookkeeping after the
// application committed, rejected, or aborted the image.
func (a *Agent) handleImageStateUpdated(ctx context.Context, ev ota.Event) (ota.State, error) {
	state := a.images.State()
	slog.Info("image_state_updated", "state", state.String(), "job_id", a.activeJobID)

	switch state {
	case ota.ImageStateAccepted:
		if err := a.collab.OS.StopTimer(ota.TimerSelfTest); err != nil {
			slog.Warn("self_test_timer_stop_failed", "error", err)
		}
		a.updateJobStatus(ctx, ota.JobStatusSucceeded, "")
		a.clearJob()

	case ota.ImageStateRejected:
		a.updateJobStatus(ctx, ota.JobStatusRejected, "")
		if a.fc.Open() {
			a.failTransfer(ctx, ota.NewErr(ota.KindRejectFailed, nil))
		} else {
			a.clearJob()
		}

	case ota.ImageStateAborted:
		a.updateJobStatus(ctx, ota.JobStatusFailed, ota.KindUserAbort.String())
		if a.fc.Open() {
			a.failTransfer(ctx, ota.NewErr(ota.KindUserAbort, nil))
		} else {
			a.clearJob()
		}
	}
	return ota.StateNoTransition, nil
}

// handleSelfTestTimeout fires when the application never accepted or
// rejected the image in time. The image is rejected and the device reset so
// the previous image boots.
func (a *Agent) handleSelfTestTimeout(ctx context.Context, ev ota.Event) (ota.State, error) {
	slog.Error("self_test_timed_out", "job_id", a.activeJobID)

	if err := a.images.Set(ctx, ota.ImageStateRejected); err != nil {
		slog.Error("self_test_timeout_reject_failed", "error", err)
	}
	a.updateJobStatus(ctx, ota.JobStatusRejected, "self_test_timeout")
	a.clearJob()

	if err := a.collab.Platform.Reset(ctx); err != nil {
		slog.Error("device_reset_failed", "error", err)
		return ota.StateReady, ota.NewErr(ota.KindResetNotSupported, err)
	}
	return ota.StateReady, nil
}

func (a *Agent) handleShutdown(ctx context.Context, ev ota.Event) (ota.State, error) {
	a.setState(ota.StateShuttingDown)
	slog.Info("agent_shutting_down")

	if a.fc.File != nil {
		if err := a.collab.Platform.Abort(ctx, a.fc); err != nil {
			slog.Warn("shutdown_transfer_abort_failed", "error", err)
		}
	}
	a.fc.Reset()
	a.clearJob()
	return ota.StateStopped, nil
}

// failTransfer aborts the open transfer, reports the failure, and notifies
// the application. Transfers are never left half-open.
func (a *Agent) failTransfer(ctx context.Context, cause error) {
	slog.Error("transfer_failed", "job_id", a.activeJobID, "error", cause)
	a.stopRequestCycle()

	if err := a.abortTransfer(ctx, cause); err != nil {
		slog.Warn("transfer_abort_failed", "error", err)
	}
	if a.cb.Job != nil {
		a.cb.Job(ota.JobEventFail)
	}
}

// abortTransfer discards the open file and active job without invoking the
// application callback.
func (a *Agent) abortTransfer(ctx context.Context, cause error) error {
	var err error
	if a.fc.File != nil {
		err = a.collab.Platform.Abort(ctx, a.fc)
	}
	if a.dataProtocol == ota.ProtocolHTTP && a.collab.Data != nil {
		if cerr := a.collab.Data.Cleanup(ctx); cerr != nil {
			slog.Warn("data_plane_cleanup_failed", "error", cerr)
		}
	}
	if a.activeJobID != "" {
		a.updateJobStatus(ctx, ota.JobStatusFailed, ota.KindOf(cause).String())
	}
	a.fc.Reset()
	a.clearJob()
	return err
}

// jobInfoRecorder is implemented by platforms that persist the job identity
// alongside the image state.
type jobInfoRecorder interface {
	SetJobInfo(jobID, version string)
}

func (a *Agent) recordJobInfo(jobID, version string) {
	if rec, ok := a.collab.Platform.(jobInfoRecorder); ok {
		rec.SetJobInfo(jobID, version)
	}
}

func (a *Agent) clearJob() {
	a.activeJobID = ""
	a.clientToken = ""
	a.jobVersion = ""
	a.jobSelfTest = false
	a.dataProtocol = ""
	a.momentum = 0
	a.blocksInBatch = 0
	a.retry.Reset()
}

// stopRequestCycle disarms the retry timer and resets momentum.
func (a *Agent) stopRequestCycle() {
	if err := a.collab.OS.StopTimer(ota.TimerRequest); err != nil {
		slog.Warn("request_timer_stop_failed", "error", err)
	}
	a.momentum = 0
	a.retry.Reset()
}

func (a *Agent) armSelfTestTimer() {
	if err := a.collab.OS.StartTimer(ota.TimerSelfTest, a.cfg.SelfTestTimeout, func() {
		if err := a.collab.OS.SendEvent(ota.Event{ID: ota.EventSelfTestTimeout}); err != nil {
			slog.Warn("self_test_timeout_event_dropped", "error", err)
		}
	}); err != nil {
		slog.Error("self_test_timer_start_failed", "error", err)
	}
}

// selectProtocol picks the data path for the accepted job: the configured
// primary when offered, otherwise whichever supported protocol the job
// lists first.
func (a *Agent) selectProtocol() (string, error) {
	for _, p := range a.fc.Protocols {
		if p == a.cfg.PrimaryDataProtocol {
			return a.protocolUsable(p)
		}
	}
	for _, p := range a.fc.Protocols {
		if s, err := a.protocolUsable(p); err == nil {
			return s, nil
		}
	}
	return "", ota.NewErr(ota.KindInvalidDataProtocol,
		fmt.Errorf("no usable protocol among %v", a.fc.Protocols))
}

func (a *Agent) protocolUsable(p string) (string, error) {
	if p == ota.ProtocolHTTP && a.collab.Data == nil {
		return "", ota.NewErr(ota.KindInvalidDataProtocol, fmt.Errorf("no data transport configured"))
	}
	return p, nil
}

func (a *Agent) updateJobStatus(ctx context.Context, status ota.JobStatus, reason string) {
	a.updateJobStatusFor(ctx, a.activeJobID, status, reason)
}

func (a *Agent) updateJobStatusFor(ctx context.Context, jobID string, status ota.JobStatus, reason string) {
	if jobID == "" {
		return
	}
	if err := a.collab.Control.UpdateJobStatus(ctx, a.cfg.DeviceID, jobID, status, reason); err != nil {
		slog.Warn("job_status_update_failed", "job_id", jobID, "status", string(status), "error", err)
	}
}
