package ota

import (
	"context"
	"time"
)

// OS is the host collaborator supplying the event queue and timers. The
// queue guarantees FIFO ordering; the agent assumes no priorities and no
// reordering.
type OS interface {
	// SendEvent enqueues an event without blocking. A full or closed queue
	// is an error, never a silent drop.
	SendEvent(ev Event) error

	// ReceiveEvent blocks until an event is available or ctx is done.
	ReceiveEvent(ctx context.Context) (Event, error)

	// StartTimer arms (or re-arms) the named timer. fire runs on an
	// arbitrary goroutine and must only enqueue events.
	StartTimer(id TimerID, d time.Duration, fire func()) error

	// StopTimer disarms the named timer if armed.
	StopTimer(id TimerID) error

	// Close releases the queue and all timers.
	Close() error
}

// ControlTransport is the publish/subscribe collaborator used to talk to
// the job service: job notifications, status updates, and, for the stream
// protocol, block requests and deliveries.
type ControlTransport interface {
	// Subscribe registers handlers for job documents and data blocks
	// addressed to deviceID. Handlers run on transport goroutines and must
	// only enqueue events.
	Subscribe(ctx context.Context, deviceID string, jobs func(doc []byte), blocks func(msg []byte)) error

	// Unsubscribe removes the handlers registered by Subscribe.
	Unsubscribe(ctx context.Context, deviceID string) error

	// RequestJob asks the job service for the next pending job.
	RequestJob(ctx context.Context, deviceID, clientToken string) error

	// RequestBlocks asks the data stream for the listed block indices.
	RequestBlocks(ctx context.Context, deviceID, streamName string, fileID uint32, blockSize int64, indices []uint32) error

	// UpdateJobStatus reports job progress back to the service.
	UpdateJobStatus(ctx context.Context, deviceID, jobID string, status JobStatus, reason string) error
}

// DataTransport is the request/response collaborator used when the job
// selects a direct-download protocol (presigned URL or object store).
type DataTransport interface {
	// Init prepares a request session for the transfer described by fc.
	Init(ctx context.Context, fc *FileContext) error

	// RequestRange fetches length bytes starting at offset.
	RequestRange(ctx context.Context, fc *FileContext, offset, length int64) ([]byte, error)

	// Cleanup tears the session down. Safe to call without Init.
	Cleanup(ctx context.Context) error
}

// Platform is the collaborator performing actual file I/O, signature
// verification, image-state persistence, activation, and device reset.
type Platform interface {
	// CreateFile opens the receive file and stores the handle in fc.File.
	CreateFile(ctx context.Context, fc *FileContext) error

	// WriteBlock writes data at the given file offset.
	WriteBlock(ctx context.Context, fc *FileContext, offset int64, data []byte) (int, error)

	// CloseFile finalizes the receive file and verifies its signature
	// against the signing certificate named in fc.
	CloseFile(ctx context.Context, fc *FileContext) error

	// Abort closes and discards a partially received file.
	Abort(ctx context.Context, fc *FileContext) error

	// ImageState reads the persisted image state.
	ImageState(ctx context.Context) (ImageState, error)

	// SetImageState persists the image state. Rejected and Aborted roll the
	// staged image back.
	SetImageState(ctx context.Context, state ImageState) error

	// ActivateNewImage makes the verified image the boot image.
	ActivateNewImage(ctx context.Context) error

	// Reset restarts the device so the activated image runs.
	Reset(ctx context.Context) error
}

// Statistics is a snapshot of the agent's message counters. All four are
// monotonically non-decreasing within one agent lifetime and reset only by
// re-initialization.
type Statistics struct {
	Received  uint32
	Queued    uint32
	Processed uint32
	Dropped   uint32
}
