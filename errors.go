package funnel

import (
	"errors"
	"fmt"
	"syscall"
)

// Error represents a structured stream error with context and errno mapping.
type Error struct {
	Op     string    // Operation that failed (e.g., "dequeue", "enqueue", "add_format")
	Stream string    // Stream name, empty if not applicable
	Code   ErrorCode // High-level error category
	Errno  syscall.Errno
	Msg    string
	Inner  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}

	if e.Stream != "" {
		parts = append(parts, fmt.Sprintf("stream=%s", e.Stream))
	}

	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("funnel: %s (%s)", msg, parts[0])
	}

	return fmt.Sprintf("funnel: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is provides errors.Is support for bare sentinel comparison.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}

	if se, ok := target.(SentinelError); ok {
		return e.Code == ErrorCode(se)
	}

	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}

	return false
}

// ErrorCode represents the taxonomy from spec §7.
type ErrorCode string

const (
	ErrCodeAlreadyInitialized    ErrorCode = "already initialised"
	ErrCodeInvalidArgument       ErrorCode = "invalid argument"
	ErrCodeNotSupported          ErrorCode = "not supported"
	ErrCodeNotPresent            ErrorCode = "not present"
	ErrCodeNoDevice              ErrorCode = "no device"
	ErrCodeConnectionRefused     ErrorCode = "connection refused"
	ErrCodeIO                    ErrorCode = "i/o error"
	ErrCodeBusy                  ErrorCode = "busy"
	ErrCodeInProgress            ErrorCode = "in progress"
	ErrCodeShutdown              ErrorCode = "shutdown"
	ErrCodeStale                 ErrorCode = "stale"
	ErrCodeWouldBlock            ErrorCode = "would block"
	ErrCodeUnsupportedOperation  ErrorCode = "unsupported operation"
)

// SentinelError is a bare string-typed error, kept for comparability with
// package-level sentinel values (ErrAlreadyInitialized, etc.) the way the
// teacher's UblkError bridges into the structured *Error type.
type SentinelError string

func (e SentinelError) Error() string {
	return string(e)
}

// Sentinel values, one per ErrorCode, usable directly with errors.Is against
// a returned *Error.
const (
	ErrAlreadyInitialized   SentinelError = SentinelError(ErrCodeAlreadyInitialized)
	ErrInvalidArgument      SentinelError = SentinelError(ErrCodeInvalidArgument)
	ErrNotSupported         SentinelError = SentinelError(ErrCodeNotSupported)
	ErrNotPresent           SentinelError = SentinelError(ErrCodeNotPresent)
	ErrNoDevice             SentinelError = SentinelError(ErrCodeNoDevice)
	ErrConnectionRefused    SentinelError = SentinelError(ErrCodeConnectionRefused)
	ErrIO                   SentinelError = SentinelError(ErrCodeIO)
	ErrBusy                 SentinelError = SentinelError(ErrCodeBusy)
	ErrInProgress           SentinelError = SentinelError(ErrCodeInProgress)
	ErrShutdown             SentinelError = SentinelError(ErrCodeShutdown)
	ErrStale                SentinelError = SentinelError(ErrCodeStale)
	ErrWouldBlock           SentinelError = SentinelError(ErrCodeWouldBlock)
	ErrUnsupportedOperation SentinelError = SentinelError(ErrCodeUnsupportedOperation)
)

// NewError creates a new structured error.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// NewErrorWithErrno creates a new structured error carrying a kernel errno.
func NewErrorWithErrno(op string, code ErrorCode, errno syscall.Errno) *Error {
	return &Error{Op: op, Code: code, Errno: errno, Msg: errno.Error()}
}

// NewStreamError creates a new stream-scoped error.
func NewStreamError(op, stream string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Stream: stream, Code: code, Msg: msg}
}

// WrapError wraps an existing error with funnel context.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	if fe, ok := inner.(*Error); ok {
		return &Error{
			Op:     op,
			Stream: fe.Stream,
			Code:   fe.Code,
			Errno:  fe.Errno,
			Msg:    fe.Msg,
			Inner:  fe.Inner,
		}
	}

	if errno, ok := inner.(syscall.Errno); ok {
		return &Error{
			Op:    op,
			Code:  mapErrnoToCode(errno),
			Errno: errno,
			Msg:   errno.Error(),
			Inner: inner,
		}
	}

	return &Error{Op: op, Code: ErrCodeIO, Msg: inner.Error(), Inner: inner}
}

// mapErrnoToCode maps a kernel errno to the stream error taxonomy (spec §7).
func mapErrnoToCode(errno syscall.Errno) ErrorCode {
	switch errno {
	case syscall.EEXIST:
		return ErrCodeAlreadyInitialized
	case syscall.EINVAL:
		return ErrCodeInvalidArgument
	case syscall.EOPNOTSUPP:
		return ErrCodeNotSupported
	case syscall.ENOENT:
		return ErrCodeNotPresent
	case syscall.ENODEV:
		return ErrCodeNoDevice
	case syscall.ECONNREFUSED:
		return ErrCodeConnectionRefused
	case syscall.EBUSY:
		return ErrCodeBusy
	case syscall.EINPROGRESS:
		return ErrCodeInProgress
	case syscall.ESHUTDOWN:
		return ErrCodeShutdown
	case syscall.ESTALE:
		return ErrCodeStale
	case syscall.EAGAIN:
		return ErrCodeWouldBlock
	default:
		return ErrCodeIO
	}
}

// IsCode checks if an error matches a specific error code.
func IsCode(err error, code ErrorCode) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code == code
	}
	return false
}

// IsErrno checks if an error matches a specific errno.
func IsErrno(err error, errno syscall.Errno) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Errno == errno
	}
	return false
}
