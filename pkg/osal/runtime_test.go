package osal

import (
	"context"
	"testing"
	"time"

	"github.com/fleetware/otaagent/pkg/ota"
)

func TestQueue_FIFO(t *testing.T) {
	r, err := New(8)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	for _, id := range []ota.EventID{ota.EventStart, ota.EventRequestData, ota.EventCloseFile} {
		if err := r.SendEvent(ota.Event{ID: id}); err != nil {
			t.Fatalf("send %s: %v", id, err)
		}
	}

	ctx := context.Background()
	for _, want := range []ota.EventID{ota.EventStart, ota.EventRequestData, ota.EventCloseFile} {
		ev, err := r.ReceiveEvent(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if ev.ID != want {
			t.Errorf("received %s, want %s", ev.ID, want)
		}
	}
}

func TestQueue_FullIsReported(t *testing.T) {
	r, err := New(1)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if err := r.SendEvent(ota.Event{ID: ota.EventStart}); err != nil {
		t.Fatal(err)
	}
	err = r.SendEvent(ota.Event{ID: ota.EventStart})
	if ota.KindOf(err) != ota.KindEventQueueSendFailed {
		t.Errorf("expected event_queue_send_failed, got %v", err)
	}
}

func TestNew_InvalidDepth(t *testing.T) {
	if _, err := New(0); ota.KindOf(err) != ota.KindEventQueueCreateFailed {
		t.Errorf("expected event_queue_create_failed, got %v", err)
	}
}

func TestReceive_ContextCancel(t *testing.T) {
	r, _ := New(1)
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := r.ReceiveEvent(ctx); err == nil {
		t.Error("expected context error")
	}
}

func TestClose_DrainsQueuedEvents(t *testing.T) {
	r, _ := New(4)
	r.SendEvent(ota.Event{ID: ota.EventShutdown})
	r.Close()

	ev, err := r.ReceiveEvent(context.Background())
	if err != nil {
		t.Fatalf("queued event lost on close: %v", err)
	}
	if ev.ID != ota.EventShutdown {
		t.Errorf("received %s", ev.ID)
	}

	if _, err := r.ReceiveEvent(context.Background()); ota.KindOf(err) != ota.KindAgentStopped {
		t.Errorf("expected agent_stopped after drain, got %v", err)
	}

	if err := r.SendEvent(ota.Event{ID: ota.EventStart}); ota.KindOf(err) != ota.KindAgentStopped {
		t.Errorf("send after close should fail with agent_stopped, got %v", err)
	}
}

func TestTimer_FiresAndRearms(t *testing.T) {
	r, _ := New(4)
	defer r.Close()

	fired := make(chan struct{}, 2)
	if err := r.StartTimer(ota.TimerRequest, 10*time.Millisecond, func() { fired <- struct{}{} }); err != nil {
		t.Fatal(err)
	}

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}

	// Re-arm, then stop before it fires.
	r.StartTimer(ota.TimerRequest, 50*time.Millisecond, func() { fired <- struct{}{} })
	r.StopTimer(ota.TimerRequest)

	select {
	case <-fired:
		t.Error("stopped timer fired")
	case <-time.After(100 * time.Millisecond):
	}
}
