// Package ota defines the shared vocabulary of the firmware update agent:
// controller and image states, events, the composite error code, the file
// transfer context, and the collaborator interfaces the hosting application
// supplies.
package ota

// State is the state of the agent controller.
type State int32

const (
	// StateNoTransition is returned by handlers that leave the state unchanged.
	StateNoTransition State = iota - 1
	StateInit
	StateReady
	StateRequestingJob
	StateWaitingForJob
	StateCreatingFile
	StateRequestingFileBlock
	StateWaitingForFileBlock
	StateClosingFile
	StateSuspended
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateReady:
		return "ready"
	case StateRequestingJob:
		return "requesting_job"
	case StateWaitingForJob:
		return "waiting_for_job"
	case StateCreatingFile:
		return "creating_file"
	case StateRequestingFileBlock:
		return "requesting_file_block"
	case StateWaitingForFileBlock:
		return "waiting_for_file_block"
	case StateClosingFile:
		return "closing_file"
	case StateSuspended:
		return "suspended"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Active reports whether the agent is doing work in this state, as opposed
// to being stopped or on the way down.
func (s State) Active() bool {
	switch s {
	case StateSuspended, StateShuttingDown, StateStopped:
		return false
	}
	return s >= StateInit
}
