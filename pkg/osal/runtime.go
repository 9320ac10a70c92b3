// Package osal supplies the default OS collaborator: a FIFO event queue
// backed by a buffered channel and named one-shot timers.
package osal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fleetware/otaagent/pkg/ota"
)

// Runtime implements ota.OS.
type Runtime struct {
	events chan ota.Event
	done   chan struct{}

	mu     sync.Mutex
	timers map[ota.TimerID]*time.Timer
	closed bool
}

// New creates a runtime with a queue of the given depth.
func New(depth int) (*Runtime, error) {
	if depth <= 0 {
		return nil, ota.NewErr(ota.KindEventQueueCreateFailed,
			fmt.Errorf("queue depth must be positive, got %d", depth))
	}
	return &Runtime{
		events: make(chan ota.Event, depth),
		done:   make(chan struct{}),
		timers: make(map[ota.TimerID]*time.Timer),
	}, nil
}

// SendEvent enqueues an event without blocking. A full queue is reported,
// not waited out; the caller decides whether that means a dropped message.
func (r *Runtime) SendEvent(ev ota.Event) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ota.NewErr(ota.KindAgentStopped, nil)
	}

	select {
	case r.events <- ev:
		return nil
	default:
		return ota.NewErr(ota.KindEventQueueSendFailed, fmt.Errorf("queue full"))
	}
}

// ReceiveEvent blocks until an event arrives, the runtime closes, or ctx
// is done.
func (r *Runtime) ReceiveEvent(ctx context.Context) (ota.Event, error) {
	select {
	case ev := <-r.events:
		return ev, nil
	case <-r.done:
		// Drain anything enqueued before the close.
		select {
		case ev := <-r.events:
			return ev, nil
		default:
			return ota.Event{}, ota.NewErr(ota.KindAgentStopped, nil)
		}
	case <-ctx.Done():
		return ota.Event{}, ctx.Err()
	}
}

// StartTimer arms the named timer, re-arming it if already running.
func (r *Runtime) StartTimer(id ota.TimerID, d time.Duration, fire func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ota.NewErr(ota.KindTimerFailed, fmt.Errorf("runtime closed"))
	}

	if t, ok := r.timers[id]; ok {
		t.Stop()
	}
	r.timers[id] = time.AfterFunc(d, fire)
	return nil
}

// StopTimer disarms the named timer. Stopping an unarmed timer is not an
// error.
func (r *Runtime) StopTimer(id ota.TimerID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.timers[id]; ok {
		t.Stop()
		delete(r.timers, id)
	}
	return nil
}

// Close stops all timers and wakes any blocked receiver. Events already
// queued remain receivable until drained.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	for id, t := range r.timers {
		t.Stop()
		delete(r.timers, id)
	}
	close(r.done)
	return nil
}

// Pending returns the number of queued events. Used by shutdown accounting.
func (r *Runtime) Pending() int {
	return len(r.events)
}

var _ ota.OS = (*Runtime)(nil)
