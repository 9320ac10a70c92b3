package ota

// ImageState is the lifecycle state of the currently running or pending
// firmware image. The platform collaborator persists it across a device
// reset so the agent can read it back at next boot.
type ImageState int

const (
	ImageStateUnknown ImageState = iota
	ImageStateTesting
	ImageStateAccepted
	ImageStateRejected
	ImageStateAborted
)

func (s ImageState) String() string {
	switch s {
	case ImageStateTesting:
		return "testing"
	case ImageStateAccepted:
		return "accepted"
	case ImageStateRejected:
		return "rejected"
	case ImageStateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// ParseImageState is the inverse of ImageState.String. Unrecognized input
// maps to ImageStateUnknown.
func ParseImageState(s string) ImageState {
	switch s {
	case "testing":
		return ImageStateTesting
	case "accepted":
		return ImageStateAccepted
	case "rejected":
		return ImageStateRejected
	case "aborted":
		return ImageStateAborted
	default:
		return ImageStateUnknown
	}
}

// JobEvent is the value passed to the application's job-event callback.
type JobEvent int

const (
	// JobEventActivate: the download is complete and authenticated; the
	// application should activate the new image and reset.
	JobEventActivate JobEvent = iota
	// JobEventFail: the update failed and the image is unusable.
	JobEventFail
	// JobEventStartTest: the new image is running in self test; the
	// application should run its acceptance checks.
	JobEventStartTest
)

func (e JobEvent) String() string {
	switch e {
	case JobEventActivate:
		return "activate"
	case JobEventFail:
		return "fail"
	case JobEventStartTest:
		return "start_test"
	default:
		return "unknown"
	}
}

// AppCallback notifies the hosting application of job lifecycle events.
// It is invoked from the agent processing loop and must not block.
type AppCallback func(event JobEvent)

// JobStatus is the status the agent reports back to the job service.
type JobStatus string

const (
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusSelfTest   JobStatus = "self_test"
	JobStatusSucceeded  JobStatus = "succeeded"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRejected   JobStatus = "rejected"
)
