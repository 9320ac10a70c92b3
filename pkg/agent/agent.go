// Package agent implements the firmware update controller: a single-consumer
// event loop that acquires update jobs, downloads image blocks, verifies the
// result through the platform collaborator, and drives the self-test,
// commit, and rollback lifecycle.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fleetware/otaagent/pkg/image"
	"github.com/fleetware/otaagent/pkg/job"
	"github.com/fleetware/otaagent/pkg/ota"
)

// Defaults applied by Config.normalize.
const (
	DefaultMaxMomentum     = 32
	DefaultRequestWidth    = 8
	DefaultRequestTimeout  = 10 * time.Second
	DefaultSelfTestTimeout = 16 * time.Minute
	DefaultMaxJobDocLen    = 8192
	DefaultBlockSize       = 1 << 10
	DefaultQueueDepth      = 20
)

// Config carries the fixed configuration of one agent instance. All buffer
// capacities are final at Init time; nothing grows afterwards.
type Config struct {
	// DeviceID identifies this device to the job service. Bounded by
	// ota.MaxThingNameLen.
	DeviceID string

	// CurrentVersion is the firmware version running now, compared against
	// job versions for the downgrade and same-version policies.
	CurrentVersion string

	Buffers ota.BufferSizes

	// MaxMomentum bounds consecutive unanswered requests before the active
	// transfer is abandoned.
	MaxMomentum uint32

	// RequestWidth is how many missing blocks one request cycle asks for.
	RequestWidth uint32

	// RequestTimeout is the initial re-request interval; retries back off
	// exponentially from it.
	RequestTimeout time.Duration

	// SelfTestTimeout bounds how long a new image may sit in self test
	// before the agent rejects it and resets the device.
	SelfTestTimeout time.Duration

	MaxJobDocLen     int
	DefaultBlockSize int64

	// PrimaryDataProtocol is preferred when a job offers several transfer
	// protocols. Defaults to the block stream.
	PrimaryDataProtocol string

	AllowDowngrade   bool
	AllowSameVersion bool
}

func (c *Config) normalize() {
	if c.MaxMomentum == 0 {
		c.MaxMomentum = DefaultMaxMomentum
	}
	if c.RequestWidth == 0 {
		c.RequestWidth = DefaultRequestWidth
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.SelfTestTimeout <= 0 {
		c.SelfTestTimeout = DefaultSelfTestTimeout
	}
	if c.MaxJobDocLen <= 0 {
		c.MaxJobDocLen = DefaultMaxJobDocLen
	}
	if c.DefaultBlockSize <= 0 {
		c.DefaultBlockSize = DefaultBlockSize
	}
	if c.PrimaryDataProtocol == "" {
		c.PrimaryDataProtocol = ota.ProtocolStream
	}
}

func (c *Config) validate() error {
	if c.DeviceID == "" {
		return fmt.Errorf("device id is required")
	}
	if len(c.DeviceID) > ota.MaxThingNameLen {
		return fmt.Errorf("device id length %d exceeds buffer capacity %d", len(c.DeviceID), ota.MaxThingNameLen)
	}
	if err := c.Buffers.Validate(); err != nil {
		return err
	}
	return nil
}

// Collaborators are the capability interfaces the hosting application
// supplies. Data may be nil when every job uses the stream protocol.
type Collaborators struct {
	OS       ota.OS
	Control  ota.ControlTransport
	Data     ota.DataTransport
	Platform ota.Platform
}

// Callbacks are the application-facing hooks. Job is required; CustomJob is
// optional.
type Callbacks struct {
	Job       ota.AppCallback
	CustomJob job.CustomCallback
}

// Agent is the controller. Construct it with New, bring it up with Init,
// and take it down with Shutdown. All lifecycle bookkeeping happens on the
// internal processing loop; public methods only enqueue events or read
// atomic snapshots.
type Agent struct {
	cfg    Config
	collab Collaborators
	cb     Callbacks

	state  atomic.Int32
	images *image.Manager
	parser *job.Parser
	fc     *ota.FileContext

	// Loop-owned job bookkeeping. Never touched off the loop goroutine.
	activeJobID   string
	clientToken   string
	jobVersion    string
	jobSelfTest   bool
	dataProtocol  string
	momentum      uint32
	blocksInBatch uint32
	retry         *backoff.ExponentialBackOff
	indices       []uint32

	suspendedFrom ota.State
	deferred      []ota.Event

	statReceived  atomic.Uint32
	statQueued    atomic.Uint32
	statProcessed atomic.Uint32
	statDropped   atomic.Uint32

	loopCtx    context.Context
	loopCancel context.CancelFunc
	loopDone   chan struct{}
	cleanup    sync.Once
}

// New constructs an agent in the Init state. It does not touch any
// collaborator; Init does.
func New(cfg Config, collab Collaborators, cb Callbacks) *Agent {
	cfg.normalize()
	a := &Agent{
		cfg:      cfg,
		collab:   collab,
		cb:       cb,
		images:   image.NewManager(collab.Platform),
		loopDone: make(chan struct{}),
	}
	a.state.Store(int32(ota.StateInit))
	return a
}

// State returns the controller state.
func (a *Agent) State() ota.State {
	return ota.State(a.state.Load())
}

func (a *Agent) setState(s ota.State) {
	prev := a.State()
	if s == prev {
		return
	}
	a.state.Store(int32(s))
	slog.Info("agent_state_changed", "from", prev.String(), "to", s.String())
}

// Init validates the configuration, allocates every buffer, restores the
// persisted image state, subscribes to the control transport, and starts
// the processing loop. Any failure leaves the agent in Init with no
// background activity.
func (a *Agent) Init(ctx context.Context) error {
	if a.State() != ota.StateInit {
		return ota.NewErr(ota.KindAgentStopped, fmt.Errorf("agent already initialized in state %s", a.State()))
	}

	if err := a.cfg.validate(); err != nil {
		slog.Error("agent_config_invalid", "error", err)
		return ota.NewErr(ota.KindOutOfMemory, err)
	}

	parser, err := job.NewParser(job.Params{
		MaxDocLen:        a.cfg.MaxJobDocLen,
		DefaultBlockSize: a.cfg.DefaultBlockSize,
		Custom:           a.cb.CustomJob,
	})
	if err != nil {
		return ota.NewErr(ota.KindJobParserError, err)
	}

	a.parser = parser
	a.fc = ota.NewFileContext(a.cfg.Buffers)
	a.indices = make([]uint32, 0, a.cfg.RequestWidth)
	a.retry = backoff.NewExponentialBackOff()
	a.retry.InitialInterval = a.cfg.RequestTimeout
	a.retry.MaxElapsedTime = 0

	if _, err := a.images.Restore(ctx); err != nil {
		return err
	}

	if err := a.collab.Control.Subscribe(ctx, a.cfg.DeviceID, a.onJobDocument, a.onBlockMessage); err != nil {
		slog.Error("agent_subscribe_failed", "error", err)
		return ota.NewErr(ota.KindSubscribeFailed, err)
	}

	a.statReceived.Store(0)
	a.statQueued.Store(0)
	a.statProcessed.Store(0)
	a.statDropped.Store(0)

	a.loopCtx, a.loopCancel = context.WithCancel(context.Background())
	a.setState(ota.StateReady)
	go a.loop()

	if err := a.enqueue(ota.Event{ID: ota.EventStart}); err != nil {
		return err
	}

	slog.Info("agent_initialized", "device_id", a.cfg.DeviceID, "version", a.cfg.CurrentVersion)
	return nil
}

// Shutdown asks the loop to stop and waits up to maxWait. On timeout the
// remaining teardown is forced so buffers and subscriptions are released
// regardless. Returns the state attained.
func (a *Agent) Shutdown(maxWait time.Duration) ota.State {
	if err := a.enqueue(ota.Event{ID: ota.EventShutdown}); err != nil {
		slog.Warn("shutdown_enqueue_failed", "error", err)
		a.forceCleanup()
		return a.State()
	}

	select {
	case <-a.loopDone:
	case <-time.After(maxWait):
		slog.Warn("shutdown_wait_expired", "max_wait", maxWait)
		a.forceCleanup()
	}
	return a.State()
}

// CheckForUpdate asks the job service for the next pending job.
func (a *Agent) CheckForUpdate() error {
	return a.enqueue(ota.Event{ID: ota.EventRequestJobDocument})
}

// Suspend pauses event processing. Events arriving while suspended are
// held and replayed, in order, on Resume.
func (a *Agent) Suspend() error {
	return a.enqueue(ota.Event{ID: ota.EventSuspend})
}

// Resume restores the state held when Suspend was issued.
func (a *Agent) Resume() error {
	return a.enqueue(ota.Event{ID: ota.EventResume})
}

// Abort cancels the active transfer, if any.
func (a *Agent) Abort() error {
	return a.enqueue(ota.Event{ID: ota.EventUserAbort})
}

// SetImageState applies an application-requested image state transition.
// Validation and persistence happen synchronously; job bookkeeping follows
// on the processing loop.
func (a *Agent) SetImageState(ctx context.Context, state ota.ImageState) error {
	if err := a.images.Set(ctx, state); err != nil {
		return err
	}
	if a.State() != ota.StateInit {
		if err := a.enqueue(ota.Event{ID: ota.EventImageStateUpdated}); err != nil {
			slog.Warn("image_state_event_enqueue_failed", "error", err)
		}
	}
	return nil
}

// GetImageState returns the image state as last persisted or restored.
func (a *Agent) GetImageState() ota.ImageState {
	return a.images.State()
}

// ActivateNewImage makes the verified image the boot image and resets the
// device so it runs under self test.
func (a *Agent) ActivateNewImage(ctx context.Context) error {
	if err := a.collab.Platform.ActivateNewImage(ctx); err != nil {
		slog.Error("image_activate_failed", "error", err)
		return ota.NewErr(ota.KindActivateFailed, err)
	}
	slog.Info("image_activated")
	return a.collab.Platform.Reset(ctx)
}

// Statistics returns a snapshot of the message counters.
func (a *Agent) Statistics() ota.Statistics {
	return ota.Statistics{
		Received:  a.statReceived.Load(),
		Queued:    a.statQueued.Load(),
		Processed: a.statProcessed.Load(),
		Dropped:   a.statDropped.Load(),
	}
}

// PacketsReceived returns the count of messages delivered by the transport.
func (a *Agent) PacketsReceived() uint32 { return a.statReceived.Load() }

// PacketsQueued returns the count of messages accepted onto the event queue.
func (a *Agent) PacketsQueued() uint32 { return a.statQueued.Load() }

// PacketsProcessed returns the count of messages fully handled by the loop.
func (a *Agent) PacketsProcessed() uint32 { return a.statProcessed.Load() }

// PacketsDropped returns the count of messages dropped as duplicates or
// for lack of queue space.
func (a *Agent) PacketsDropped() uint32 { return a.statDropped.Load() }

func (a *Agent) enqueue(ev ota.Event) error {
	if err := a.collab.OS.SendEvent(ev); err != nil {
		slog.Warn("event_enqueue_failed", "event", ev.ID.String(), "error", err)
		return err
	}
	return nil
}

// onJobDocument runs on a transport goroutine.
func (a *Agent) onJobDocument(doc []byte) {
	a.statReceived.Add(1)
	if err := a.collab.OS.SendEvent(ota.Event{ID: ota.EventReceivedJobDocument, Data: doc}); err != nil {
		a.statDropped.Add(1)
		slog.Warn("job_document_dropped", "error", err)
		return
	}
	a.statQueued.Add(1)
}

// onBlockMessage runs on a transport goroutine.
func (a *Agent) onBlockMessage(msg []byte) {
	a.statReceived.Add(1)
	if err := a.collab.OS.SendEvent(ota.Event{ID: ota.EventReceivedData, Data: msg}); err != nil {
		a.statDropped.Add(1)
		slog.Warn("block_message_dropped", "error", err)
		return
	}
	a.statQueued.Add(1)
}

// loop is the single consumer of the event queue. All mutation of the file
// context, bitmap, and job bookkeeping happens here, one event at a time.
func (a *Agent) loop() {
	defer a.forceCleanup()

	for {
		ev, err := a.collab.OS.ReceiveEvent(a.loopCtx)
		if err != nil {
			if ota.KindOf(err) != ota.KindAgentStopped {
				slog.Error("event_receive_failed", "error", err)
			}
			return
		}

		a.dispatch(ev)

		if a.State() == ota.StateStopped {
			return
		}
	}
}

// dispatch applies the suspension discipline, then hands the event to the
// state machine. While suspended, everything but Resume and Shutdown is
// held for later replay.
func (a *Agent) dispatch(ev ota.Event) {
	if a.State() == ota.StateSuspended {
		switch ev.ID {
		case ota.EventResume:
			a.handleResume()
			return
		case ota.EventShutdown:
		default:
			a.deferred = append(a.deferred, ev)
			slog.Debug("event_deferred", "event", ev.ID.String())
			return
		}
	}
	a.handle(ev)
}

func (a *Agent) handleResume() {
	a.setState(a.suspendedFrom)
	slog.Info("agent_resumed", "state", a.suspendedFrom.String())

	switch a.suspendedFrom {
	case ota.StateWaitingForJob:
		a.armRequestTimer()
	case ota.StateRequestingFileBlock, ota.StateWaitingForFileBlock:
		a.armRequestTimer()
	}

	replay := a.deferred
	a.deferred = nil
	for _, ev := range replay {
		a.handle(ev)
		if a.State() == ota.StateStopped || a.State() == ota.StateSuspended {
			break
		}
	}
}

func (a *Agent) armRequestTimer() {
	d := a.retry.NextBackOff()
	if err := a.collab.OS.StartTimer(ota.TimerRequest, d, func() {
		if err := a.collab.OS.SendEvent(ota.Event{ID: ota.EventRequestTimer}); err != nil {
			slog.Warn("request_timer_event_dropped", "error", err)
		}
	}); err != nil {
		slog.Error("request_timer_start_failed", "error", err)
	}
}

func (a *Agent) forceCleanup() {
	a.cleanup.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if a.fc != nil && a.fc.File != nil {
			if err := a.collab.Platform.Abort(ctx, a.fc); err != nil {
				slog.Warn("shutdown_file_abort_failed", "error", err)
			}
		}
		if a.fc != nil {
			a.fc.Reset()
		}
		if a.collab.Data != nil {
			if err := a.collab.Data.Cleanup(ctx); err != nil {
				slog.Warn("shutdown_data_cleanup_failed", "error", err)
			}
		}
		if err := a.collab.Control.Unsubscribe(ctx, a.cfg.DeviceID); err != nil {
			slog.Warn("shutdown_unsubscribe_failed", "error", err)
		}
		if a.loopCancel != nil {
			a.loopCancel()
		}
		if err := a.collab.OS.Close(); err != nil {
			slog.Warn("shutdown_os_close_failed", "error", err)
		}

		a.setState(ota.StateStopped)
		close(a.loopDone)
		slog.Info("agent_stopped")
	})
}
