package transport

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/fleetware/otaagent/pkg/ota"
)

func TestInMemJobRequest(t *testing.T) {
	broker := NewInMem()
	doc := []byte(`{"execution":{"jobId":"job-1"}}`)
	broker.SetJobDocument(doc)

	got := make(chan []byte, 1)
	err := broker.Subscribe(context.Background(), "dev-1", func(d []byte) { got <- d }, func([]byte) {})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := broker.RequestJob(context.Background(), "dev-1", "token-1"); err != nil {
		t.Fatalf("RequestJob: %v", err)
	}

	select {
	case d := <-got:
		if !bytes.Equal(d, doc) {
			t.Errorf("got document %q, want %q", d, doc)
		}
	case <-time.After(time.Second):
		t.Fatal("job document never delivered")
	}
}

func TestInMemRequestJobWithoutSubscriber(t *testing.T) {
	broker := NewInMem()
	err := broker.RequestJob(context.Background(), "dev-1", "")
	if ota.KindOf(err) != ota.KindPublishFailed {
		t.Errorf("got %v, want KindPublishFailed", err)
	}
}

func TestInMemBlockSlicing(t *testing.T) {
	image := make([]byte, 1000)
	for i := range image {
		image[i] = byte(i)
	}

	broker := NewInMem()
	broker.ServeImage(image)

	got := make(chan *ota.BlockMessage, 8)
	err := broker.Subscribe(context.Background(), "dev-1", func([]byte) {}, func(raw []byte) {
		msg, err := ota.UnmarshalBlockMessage(raw, 256)
		if err != nil {
			t.Errorf("UnmarshalBlockMessage: %v", err)
			return
		}
		got <- msg
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := broker.RequestBlocks(context.Background(), "dev-1", "stream-1", 0, 256, []uint32{0, 3}); err != nil {
		t.Fatalf("RequestBlocks: %v", err)
	}

	want := map[uint32]int64{0: 256, 3: 232}
	for range want {
		select {
		case msg := <-got:
			size, ok := want[msg.BlockIndex]
			if !ok {
				t.Fatalf("unexpected block index %d", msg.BlockIndex)
			}
			if msg.BlockSize != size {
				t.Errorf("block %d: got size %d, want %d", msg.BlockIndex, msg.BlockSize, size)
			}
			if msg.Payload[0] != image[int64(msg.BlockIndex)*256] {
				t.Errorf("block %d: payload starts with wrong byte", msg.BlockIndex)
			}
		case <-time.After(time.Second):
			t.Fatal("block never delivered")
		}
	}
}

func TestInMemDropRequests(t *testing.T) {
	broker := NewInMem()
	broker.SetJobDocument([]byte(`{}`))
	broker.DropRequests(1)

	got := make(chan []byte, 2)
	if err := broker.Subscribe(context.Background(), "dev-1", func(d []byte) { got <- d }, func([]byte) {}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := broker.RequestJob(context.Background(), "dev-1", ""); err != nil {
		t.Fatalf("dropped RequestJob returned error: %v", err)
	}
	select {
	case <-got:
		t.Fatal("dropped request was answered")
	case <-time.After(50 * time.Millisecond):
	}

	if err := broker.RequestJob(context.Background(), "dev-1", ""); err != nil {
		t.Fatalf("RequestJob: %v", err)
	}
	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("second request never answered")
	}
}

func TestInMemStatusUpdates(t *testing.T) {
	broker := NewInMem()
	ctx := context.Background()

	if err := broker.UpdateJobStatus(ctx, "dev-1", "job-1", ota.JobStatusInProgress, "blocks_remaining=4"); err != nil {
		t.Fatalf("UpdateJobStatus: %v", err)
	}
	if err := broker.UpdateJobStatus(ctx, "dev-1", "job-1", ota.JobStatusSucceeded, ""); err != nil {
		t.Fatalf("UpdateJobStatus: %v", err)
	}

	statuses := broker.Statuses()
	if len(statuses) != 2 {
		t.Fatalf("got %d status updates, want 2", len(statuses))
	}
	if statuses[0].Status != ota.JobStatusInProgress || statuses[1].Status != ota.JobStatusSucceeded {
		t.Errorf("unexpected status sequence: %+v", statuses)
	}
}
