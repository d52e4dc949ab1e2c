package trace

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes trace errors.
type ErrorCode string

const (
	// ErrCodeMalformedMetadata: a required key is absent or a value does not parse.
	ErrCodeMalformedMetadata ErrorCode = "MALFORMED_METADATA"

	// ErrCodeCorruptTrace: a frame could not be decoded.
	ErrCodeCorruptTrace ErrorCode = "CORRUPT_TRACE"

	// ErrCodeSeekFailure: the stream cannot be positioned at the target time.
	ErrCodeSeekFailure ErrorCode = "SEEK_FAILURE"

	// ErrCodeNoPriorState: the seek target precedes the first snapshot.
	ErrCodeNoPriorState ErrorCode = "NO_PRIOR_STATE"

	// ErrCodeOutOfOrderWrite: an event falls behind the writer's reorder window.
	ErrCodeOutOfOrderWrite ErrorCode = "OUT_OF_ORDER_WRITE"

	// ErrCodeUninitializedState: a stateful writer received events before its
	// initial state.
	ErrCodeUninitializedState ErrorCode = "UNINITIALIZED_STATE"
)

// Sentinels for errors.Is. A *Error matches the sentinel of its code.
var (
	ErrMalformedMetadata  = errors.New("malformed metadata")
	ErrCorruptTrace       = errors.New("corrupt trace")
	ErrSeekFailure        = errors.New("seek failure")
	ErrNoPriorState       = errors.New("no prior state")
	ErrOutOfOrderWrite    = errors.New("out of order write")
	ErrUninitializedState = errors.New("uninitialized state")
)

// Store-level sentinels. Store implementations wrap these.
var (
	ErrNoSuchTrace   = errors.New("no such trace")
	ErrAlreadyExists = errors.New("trace already exists")
)

// ErrClosed is returned by readers and writers used after Close.
var ErrClosed = errors.New("trace: use of closed reader or writer")

var sentinels = map[ErrorCode]error{
	ErrCodeMalformedMetadata:  ErrMalformedMetadata,
	ErrCodeCorruptTrace:       ErrCorruptTrace,
	ErrCodeSeekFailure:        ErrSeekFailure,
	ErrCodeNoPriorState:       ErrNoPriorState,
	ErrCodeOutOfOrderWrite:    ErrOutOfOrderWrite,
	ErrCodeUninitializedState: ErrUninitializedState,
}

// Error is a failure attributed to one trace.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Trace is the trace name.
	Trace string

	// Message is a human-readable description.
	Message string

	// Key is the offending metadata key (MALFORMED_METADATA only).
	Key string

	// Offset is the byte offset of the offending frame, or -1.
	Offset int64

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Trace != "" {
		msg += fmt.Sprintf(" (trace=%s", e.Trace)
		if e.Key != "" {
			msg += fmt.Sprintf(", key=%q", e.Key)
		}
		if e.Offset >= 0 {
			msg += fmt.Sprintf(", offset=%d", e.Offset)
		}
		msg += ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e.Code.
func (e *Error) Is(target error) bool {
	return sentinels[e.Code] == target
}

func malformed(name, key, msg string, err error) *Error {
	return &Error{Code: ErrCodeMalformedMetadata, Trace: name, Key: key, Message: msg, Offset: -1, Err: err}
}

func corrupt(name string, offset int64, msg string, err error) *Error {
	return &Error{Code: ErrCodeCorruptTrace, Trace: name, Message: msg, Offset: offset, Err: err}
}

func seekFailure(name string, t int64, err error) *Error {
	return &Error{Code: ErrCodeSeekFailure, Trace: name, Message: fmt.Sprintf("cannot seek to %d", t), Offset: -1, Err: err}
}

func noPriorState(name string, t, first int64) *Error {
	msg := fmt.Sprintf("time %d precedes first snapshot", t)
	if first < Infinity {
		msg = fmt.Sprintf("time %d precedes first snapshot at %d", t, first)
	}
	return &Error{Code: ErrCodeNoPriorState, Trace: name, Message: msg, Offset: -1}
}

func outOfOrder(name string, t, bound int64) *Error {
	return &Error{
		Code:    ErrCodeOutOfOrderWrite,
		Trace:   name,
		Message: fmt.Sprintf("event at %d is older than the reorder bound %d", t, bound),
		Offset:  -1,
	}
}

func uninitialized(name string) *Error {
	return &Error{Code: ErrCodeUninitializedState, Trace: name, Message: "queue called before SetInitState", Offset: -1}
}

// IsCorrupt reports whether err is a CORRUPT_TRACE error and returns its
// frame offset.
func IsCorrupt(err error) (int64, bool) {
	var te *Error
	if errors.As(err, &te) && te.Code == ErrCodeCorruptTrace {
		return te.Offset, true
	}
	return 0, false
}
