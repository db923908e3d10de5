package funnel

import (
	"errors"
	"syscall"
	"testing"
)

func TestStructuredError(t *testing.T) {
	err := NewError("add_format", ErrCodeInvalidArgument, "fourcc not in wire table")

	if err.Op != "add_format" {
		t.Errorf("expected Op=add_format, got %s", err.Op)
	}
	if err.Code != ErrCodeInvalidArgument {
		t.Errorf("expected Code=ErrCodeInvalidArgument, got %s", err.Code)
	}

	expected := "funnel: fourcc not in wire table (op=add_format)"
	if err.Error() != expected {
		t.Errorf("expected error message %q, got %q", expected, err.Error())
	}
}

func TestErrorWithErrno(t *testing.T) {
	err := NewErrorWithErrno("dequeue", ErrCodeShutdown, syscall.ESHUTDOWN)

	if err.Errno != syscall.ESHUTDOWN {
		t.Errorf("expected Errno=ESHUTDOWN, got %v", err.Errno)
	}
	if err.Code != ErrCodeShutdown {
		t.Errorf("expected Code=ErrCodeShutdown, got %s", err.Code)
	}
}

func TestStreamError(t *testing.T) {
	err := NewStreamError("enqueue", "webcam-0", ErrCodeStale, "buffer orphaned by renegotiation")

	if err.Stream != "webcam-0" {
		t.Errorf("expected Stream=webcam-0, got %s", err.Stream)
	}

	expected := "funnel: buffer orphaned by renegotiation (op=enqueue)"
	if err.Error() != expected {
		t.Errorf("expected error message %q, got %q", expected, err.Error())
	}
}

func TestWrapError(t *testing.T) {
	err := WrapError("negotiate", syscall.ENODEV)

	if err.Code != ErrCodeNoDevice {
		t.Errorf("expected Code=ErrCodeNoDevice, got %s", err.Code)
	}
	if err.Errno != syscall.ENODEV {
		t.Errorf("expected Errno=ENODEV, got %v", err.Errno)
	}
	if !errors.Is(err, syscall.ENODEV) {
		t.Error("expected wrapped error to satisfy errors.Is for ENODEV")
	}
}

func TestSentinelCompatibility(t *testing.T) {
	var legacyErr error = ErrStale
	structuredErr := &Error{Code: ErrCodeStale}

	if !errors.Is(structuredErr, ErrStale) {
		t.Error("structured error should be compatible with the stale sentinel")
	}
	if legacyErr.Error() != "stale" {
		t.Errorf("expected sentinel error message, got %q", legacyErr.Error())
	}
}

func TestIsCode(t *testing.T) {
	err := NewError("get_rate", ErrCodeInProgress, "not yet negotiated")

	if !IsCode(err, ErrCodeInProgress) {
		t.Error("IsCode should return true for matching code")
	}
	if IsCode(err, ErrCodeIO) {
		t.Error("IsCode should return false for non-matching code")
	}
	if IsCode(nil, ErrCodeInProgress) {
		t.Error("IsCode should return false for nil error")
	}
}

func TestIsErrno(t *testing.T) {
	err := NewErrorWithErrno("probe_allocate", ErrCodeIO, syscall.EIO)

	if !IsErrno(err, syscall.EIO) {
		t.Error("IsErrno should return true for matching errno")
	}
	if IsErrno(err, syscall.EPERM) {
		t.Error("IsErrno should return false for non-matching errno")
	}
	if IsErrno(nil, syscall.EIO) {
		t.Error("IsErrno should return false for nil error")
	}
}

func TestErrnoMapping(t *testing.T) {
	cases := []struct {
		errno    syscall.Errno
		expected ErrorCode
	}{
		{syscall.EEXIST, ErrCodeAlreadyInitialized},
		{syscall.EINVAL, ErrCodeInvalidArgument},
		{syscall.EOPNOTSUPP, ErrCodeNotSupported},
		{syscall.ENOENT, ErrCodeNotPresent},
		{syscall.ENODEV, ErrCodeNoDevice},
		{syscall.ECONNREFUSED, ErrCodeConnectionRefused},
		{syscall.EBUSY, ErrCodeBusy},
		{syscall.EINPROGRESS, ErrCodeInProgress},
		{syscall.ESHUTDOWN, ErrCodeShutdown},
		{syscall.ESTALE, ErrCodeStale},
		{syscall.EAGAIN, ErrCodeWouldBlock},
	}

	for _, tc := range cases {
		if code := mapErrnoToCode(tc.errno); code != tc.expected {
			t.Errorf("mapErrnoToCode(%v) = %s, want %s", tc.errno, code, tc.expected)
		}
	}
}
