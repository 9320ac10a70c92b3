// Package transport provides the transport collaborators consumed by the
// agent: an in-memory pub/sub control plane for local use and tests, and
// ranged data planes over S3 and presigned HTTP URLs.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fleetware/otaagent/pkg/ota"
	"github.com/google/uuid"
)

// MaxTopicLen bounds the topic strings the in-memory broker builds. A
// device identifier producing a longer topic is a reported error, never a
// truncation.
const MaxTopicLen = 256

// StatusUpdate records one job status report published by the agent.
type StatusUpdate struct {
	JobID  string
	Status ota.JobStatus
	Reason string
}

// InMem is a single-device in-memory broker implementing
// ota.ControlTransport. It serves one preset job document and answers
// block requests from an in-memory image, mimicking a stream-capable job
// service closely enough for local runs and tests.
type InMem struct {
	mu                sync.Mutex
	jobDoc            []byte
	image             []byte
	jobs              func(doc []byte)
	blocks            func(msg []byte)
	subscribed        bool
	statuses          []StatusUpdate
	dropJobRequests   int
	dropBlockRequests int
}

// NewInMem creates an empty broker. Without a job document, job requests
// go unanswered, which is exactly what momentum tests need.
func NewInMem() *InMem {
	return &InMem{}
}

// SetJobDocument sets the document served to the next job request.
func (t *InMem) SetJobDocument(doc []byte) {
	t.mu.Lock()
	t.jobDoc = doc
	t.mu.Unlock()
}

// ServeImage sets the firmware image backing block requests.
func (t *InMem) ServeImage(image []byte) {
	t.mu.Lock()
	t.image = image
	t.mu.Unlock()
}

// DropRequests makes the broker ignore the next n job and block requests,
// simulating an unresponsive service.
func (t *InMem) DropRequests(n int) {
	t.mu.Lock()
	t.dropJobRequests = n
	t.dropBlockRequests = n
	t.mu.Unlock()
}

// Statuses returns the job status updates published so far.
func (t *InMem) Statuses() []StatusUpdate {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]StatusUpdate, len(t.statuses))
	copy(out, t.statuses)
	return out
}

func topic(parts ...string) (string, error) {
	s := ""
	for i, p := range parts {
		if i > 0 {
			s += "/"
		}
		s += p
	}
	if len(s) > MaxTopicLen {
		return "", ota.NewErr(ota.KindTopicTooLarge, fmt.Errorf("topic length %d exceeds %d", len(s), MaxTopicLen))
	}
	return s, nil
}

// Subscribe registers the agent's job and block handlers.
func (t *InMem) Subscribe(ctx context.Context, deviceID string, jobs func(doc []byte), blocks func(msg []byte)) error {
	if _, err := topic("devices", deviceID, "jobs"); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.subscribed {
		return ota.NewErr(ota.KindSubscribeFailed, fmt.Errorf("already subscribed"))
	}
	t.jobs = jobs
	t.blocks = blocks
	t.subscribed = true
	slog.Debug("inmem_subscribed", "device_id", deviceID)
	return nil
}

// Unsubscribe removes the handlers.
func (t *InMem) Unsubscribe(ctx context.Context, deviceID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.subscribed {
		return ota.NewErr(ota.KindUnsubscribeFailed, fmt.Errorf("not subscribed"))
	}
	t.jobs = nil
	t.blocks = nil
	t.subscribed = false
	return nil
}

// RequestJob answers with the preset job document, if any, on a separate
// goroutine like a real broker would.
func (t *InMem) RequestJob(ctx context.Context, deviceID, clientToken string) error {
	t.mu.Lock()
	handler := t.jobs
	doc := t.jobDoc
	drop := t.dropJobRequests > 0
	if drop {
		t.dropJobRequests--
	}
	t.mu.Unlock()

	if handler == nil {
		return ota.NewErr(ota.KindPublishFailed, fmt.Errorf("no subscriber"))
	}
	if drop || doc == nil {
		slog.Debug("inmem_job_request_unanswered", "device_id", deviceID)
		return nil
	}

	corr := clientToken
	if corr == "" {
		corr = uuid.NewString()
	}
	slog.Debug("inmem_job_request", "device_id", deviceID, "correlation", corr)
	go handler(doc)
	return nil
}

// RequestBlocks answers each requested index with a block message cut from
// the in-memory image.
func (t *InMem) RequestBlocks(ctx context.Context, deviceID, streamName string, fileID uint32, blockSize int64, indices []uint32) error {
	if _, err := topic("devices", deviceID, "streams", streamName); err != nil {
		return err
	}

	t.mu.Lock()
	handler := t.blocks
	image := t.image
	drop := t.dropBlockRequests > 0
	if drop {
		t.dropBlockRequests--
	}
	t.mu.Unlock()

	if handler == nil {
		return ota.NewErr(ota.KindPublishFailed, fmt.Errorf("no subscriber"))
	}
	if drop || image == nil {
		slog.Debug("inmem_block_request_unanswered", "device_id", deviceID)
		return nil
	}

	msgs := make([][]byte, 0, len(indices))
	for _, idx := range indices {
		start := int64(idx) * blockSize
		if start >= int64(len(image)) {
			continue
		}
		end := start + blockSize
		if end > int64(len(image)) {
			end = int64(len(image))
		}
		payload := image[start:end]
		msg := &ota.BlockMessage{
			FileID:     fileID,
			BlockIndex: idx,
			BlockSize:  int64(len(payload)),
			Payload:    payload,
		}
		raw, err := msg.Marshal()
		if err != nil {
			return ota.NewErr(ota.KindPublishFailed, err)
		}
		msgs = append(msgs, raw)
	}

	go func() {
		for _, raw := range msgs {
			handler(raw)
		}
	}()
	return nil
}

// UpdateJobStatus records the status update.
func (t *InMem) UpdateJobStatus(ctx context.Context, deviceID, jobID string, status ota.JobStatus, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.statuses = append(t.statuses, StatusUpdate{JobID: jobID, Status: status, Reason: reason})
	slog.Debug("inmem_job_status", "job_id", jobID, "status", string(status))
	return nil
}

var _ ota.ControlTransport = (*InMem)(nil)
