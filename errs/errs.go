// Package errs implements the error taxonomy described in the toolkit's
// error handling design: a small set of typed errors that distinguish
// fatal conditions from the two native sentinels (EndOfStream, TryAgain)
// that are loop-control values, never exceptions.
package errs

import "fmt"

// InvalidArgument reports a caller-supplied value that can never succeed,
// e.g. an unknown codec name or a channel-count mismatch on a
// non-parameter-change-capable encoder.
type InvalidArgument struct {
	Msg string
}

func (e *InvalidArgument) Error() string { return "invalid argument: " + e.Msg }

// NewInvalidArgument builds an *InvalidArgument with a formatted message.
func NewInvalidArgument(format string, args ...any) error {
	return &InvalidArgument{Msg: fmt.Sprintf(format, args...)}
}

// ResourceExhausted reports queue overflow or allocation failure.
type ResourceExhausted struct {
	Msg string
}

func (e *ResourceExhausted) Error() string { return "resource exhausted: " + e.Msg }

func NewResourceExhausted(format string, args ...any) error {
	return &ResourceExhausted{Msg: fmt.Sprintf(format, args...)}
}

// NotFound reports a missing codec, parser, or format.
type NotFound struct {
	Msg string
}

func (e *NotFound) Error() string { return "not found: " + e.Msg }

func NewNotFound(format string, args ...any) error {
	return &NotFound{Msg: fmt.Sprintf(format, args...)}
}

// PipelineState reports an operation attempted out of lifecycle order,
// e.g. write after close, or add_stream after the header was written.
type PipelineState struct {
	Msg string
}

func (e *PipelineState) Error() string { return "invalid pipeline state: " + e.Msg }

func NewPipelineState(format string, args ...any) error {
	return &PipelineState{Msg: fmt.Sprintf(format, args...)}
}

// Corruption reports a frame or packet flagged as decode-corrupt. Under
// exit_on_error=false these are dropped silently by the caller instead of
// propagated.
type Corruption struct {
	Msg string
}

func (e *Corruption) Error() string { return "corrupt data: " + e.Msg }

func NewCorruption(format string, args ...any) error {
	return &Corruption{Msg: fmt.Sprintf(format, args...)}
}

// EndOfStream is the typed terminal value surfaced when the native layer
// reports end-of-stream. It is returned, never panicked or wrapped in a
// generic error chain beyond errors.Is compatibility.
var EndOfStream = &sentinel{"end of stream"}

// TryAgain is the native "temporarily unavailable" condition. It must
// never escape a wrapper method; it is always a loop-continuation signal
// consumed internally.
var TryAgain = &sentinel{"temporarily unavailable"}

type sentinel struct{ msg string }

func (s *sentinel) Error() string { return s.msg }

// NativeError wraps any other negative return code from the native
// library, carrying the numeric code and the operation that produced it.
type NativeError struct {
	Op   string
	Code int
	Desc string
}

func (e *NativeError) Error() string {
	if e.Desc != "" {
		return fmt.Sprintf("%s: native error %d: %s", e.Op, e.Code, e.Desc)
	}
	return fmt.Sprintf("%s: native error %d", e.Op, e.Code)
}

func NewNativeError(op string, code int, desc string) error {
	return &NativeError{Op: op, Code: code, Desc: desc}
}

// IsTryAgain reports whether err is the TryAgain sentinel.
func IsTryAgain(err error) bool { return err == TryAgain }

// IsEndOfStream reports whether err is the EndOfStream sentinel.
func IsEndOfStream(err error) bool { return err == EndOfStream }
