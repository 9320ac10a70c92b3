package ota

import (
	"errors"
	"fmt"
)

// ErrKind is the agent-level error category. On the wire it occupies the
// upper 8 bits of the packed 32-bit error word; the lower 24 bits carry a
// platform-specific sub-code whose meaning is defined by the platform
// collaborator in use.
type ErrKind uint8

const (
	KindNone                   ErrKind = 0x00
	KindSignatureCheckFailed   ErrKind = 0x01
	KindBadSignerCert          ErrKind = 0x02
	KindOutOfMemory            ErrKind = 0x03
	KindActivateFailed         ErrKind = 0x04
	KindCommitFailed           ErrKind = 0x05
	KindRejectFailed           ErrKind = 0x06
	KindAbortFailed            ErrKind = 0x07
	KindPublishFailed          ErrKind = 0x08
	KindBadImageState          ErrKind = 0x09
	KindNoActiveJob            ErrKind = 0x0a
	KindNoFreeContext          ErrKind = 0x0b
	KindRequestInitFailed      ErrKind = 0x0c
	KindRequestFailed          ErrKind = 0x0d
	KindFileAbort              ErrKind = 0x10
	KindFileClose              ErrKind = 0x11
	KindRxFileCreateFailed     ErrKind = 0x12
	KindRxFileTooLarge         ErrKind = 0x14
	KindMomentumAbort          ErrKind = 0x21
	KindDowngradeNotAllowed    ErrKind = 0x22
	KindSameFirmwareVersion    ErrKind = 0x23
	KindJobParserError         ErrKind = 0x24
	KindImageStateMismatch     ErrKind = 0x26
	KindIngestError            ErrKind = 0x27
	KindUserAbort              ErrKind = 0x28
	KindResetNotSupported      ErrKind = 0x29
	KindTopicTooLarge          ErrKind = 0x2a
	KindSelfTestTimerFailed    ErrKind = 0x2b
	KindEventQueueSendFailed   ErrKind = 0x2c
	KindInvalidDataProtocol    ErrKind = 0x2d
	KindAgentStopped           ErrKind = 0x2e
	KindEventQueueCreateFailed ErrKind = 0x2f
	KindTimerFailed            ErrKind = 0x32
	KindSubscribeFailed        ErrKind = 0x40
	KindUnsubscribeFailed      ErrKind = 0x41
	KindPanic                  ErrKind = 0xfe
	KindUninitialized          ErrKind = 0xff
)

func (k ErrKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindSignatureCheckFailed:
		return "signature_check_failed"
	case KindBadSignerCert:
		return "bad_signer_cert"
	case KindOutOfMemory:
		return "out_of_memory"
	case KindActivateFailed:
		return "activate_failed"
	case KindCommitFailed:
		return "commit_failed"
	case KindRejectFailed:
		return "reject_failed"
	case KindAbortFailed:
		return "abort_failed"
	case KindPublishFailed:
		return "publish_failed"
	case KindBadImageState:
		return "bad_image_state"
	case KindNoActiveJob:
		return "no_active_job"
	case KindNoFreeContext:
		return "no_free_context"
	case KindRequestInitFailed:
		return "request_init_failed"
	case KindRequestFailed:
		return "request_failed"
	case KindFileAbort:
		return "file_abort"
	case KindFileClose:
		return "file_close"
	case KindRxFileCreateFailed:
		return "rx_file_create_failed"
	case KindRxFileTooLarge:
		return "rx_file_too_large"
	case KindMomentumAbort:
		return "momentum_abort"
	case KindDowngradeNotAllowed:
		return "downgrade_not_allowed"
	case KindSameFirmwareVersion:
		return "same_firmware_version"
	case KindJobParserError:
		return "job_parser_error"
	case KindImageStateMismatch:
		return "image_state_mismatch"
	case KindIngestError:
		return "ingest_error"
	case KindUserAbort:
		return "user_abort"
	case KindResetNotSupported:
		return "reset_not_supported"
	case KindTopicTooLarge:
		return "topic_too_large"
	case KindSelfTestTimerFailed:
		return "self_test_timer_failed"
	case KindEventQueueSendFailed:
		return "event_queue_send_failed"
	case KindInvalidDataProtocol:
		return "invalid_data_protocol"
	case KindAgentStopped:
		return "agent_stopped"
	case KindEventQueueCreateFailed:
		return "event_queue_create_failed"
	case KindTimerFailed:
		return "timer_failed"
	case KindSubscribeFailed:
		return "subscribe_failed"
	case KindUnsubscribeFailed:
		return "unsubscribe_failed"
	case KindPanic:
		return "panic"
	case KindUninitialized:
		return "uninitialized"
	default:
		return "unknown"
	}
}

const (
	subCodeMask   = 0x00ffffff
	kindShiftBits = 24
)

// Err is the composite agent error: an agent-level kind, an optional
// platform sub-code, and an optional wrapped cause.
type Err struct {
	Kind  ErrKind
	Sub   uint32
	Cause error
}

// NewErr builds a composite error wrapping cause. cause may be nil.
func NewErr(kind ErrKind, cause error) *Err {
	return &Err{Kind: kind, Cause: cause}
}

// NewErrSub builds a composite error carrying a platform sub-code.
func NewErrSub(kind ErrKind, sub uint32) *Err {
	return &Err{Kind: kind, Sub: sub & subCodeMask}
}

func (e *Err) Error() string {
	switch {
	case e.Cause != nil:
		return fmt.Sprintf("ota: %s: %v", e.Kind, e.Cause)
	case e.Sub != 0:
		return fmt.Sprintf("ota: %s (sub-code 0x%06x)", e.Kind, e.Sub)
	default:
		return fmt.Sprintf("ota: %s", e.Kind)
	}
}

func (e *Err) Unwrap() error { return e.Cause }

// Pack encodes the error in the packed 32-bit wire form: kind in the upper
// 8 bits, platform sub-code in the lower 24.
func (e *Err) Pack() uint32 {
	return uint32(e.Kind)<<kindShiftBits | e.Sub&subCodeMask
}

// Unpack decodes a packed 32-bit error word.
func Unpack(code uint32) *Err {
	return &Err{Kind: ErrKind(code >> kindShiftBits), Sub: code & subCodeMask}
}

// KindOf extracts the agent error kind from err, unwrapping as needed.
// Errors that are not composite errors report KindUninitialized; a nil
// error reports KindNone.
func KindOf(err error) ErrKind {
	if err == nil {
		return KindNone
	}
	var e *Err
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUninitialized
}
