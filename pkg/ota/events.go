package ota

// EventID identifies an event consumed by the agent processing loop.
type EventID int

const (
	EventStart EventID = iota
	EventRequestJobDocument
	EventReceivedJobDocument
	EventCreateFile
	EventRequestData
	EventReceivedData
	EventRequestTimer
	EventCloseFile
	EventSuspend
	EventResume
	EventImageStateUpdated
	EventSelfTestTimeout
	EventUserAbort
	EventShutdown
)

func (e EventID) String() string {
	switch e {
	case EventStart:
		return "start"
	case EventRequestJobDocument:
		return "request_job_document"
	case EventReceivedJobDocument:
		return "received_job_document"
	case EventCreateFile:
		return "create_file"
	case EventRequestData:
		return "request_data"
	case EventReceivedData:
		return "received_data"
	case EventRequestTimer:
		return "request_timer"
	case EventCloseFile:
		return "close_file"
	case EventSuspend:
		return "suspend"
	case EventResume:
		return "resume"
	case EventImageStateUpdated:
		return "image_state_updated"
	case EventSelfTestTimeout:
		return "self_test_timeout"
	case EventUserAbort:
		return "user_abort"
	case EventShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Event is one unit of work for the agent loop. Data carries the raw
// message payload for job document and file block events, nil otherwise.
type Event struct {
	ID   EventID
	Data []byte
}

// TimerID identifies one of the agent's timers.
type TimerID int

const (
	// TimerRequest re-fires a pending job or block request while the agent
	// waits for a response.
	TimerRequest TimerID = iota
	// TimerSelfTest bounds how long a new image may sit in self test before
	// it is rejected.
	TimerSelfTest
)

func (t TimerID) String() string {
	switch t {
	case TimerRequest:
		return "request"
	case TimerSelfTest:
		return "self_test"
	default:
		return "unknown"
	}
}
