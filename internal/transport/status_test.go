package transport

// status_test.go tests the uniform status taxonomy and error mapping.

import (
	"errors"
	"fmt"
	"testing"
)

func TestStatusErrRoundTrip(t *testing.T) {
	statuses := []Status{
		StatusKeyNotFound,
		StatusKeyExists,
		StatusInvalidArgument,
		StatusQueueFull,
		StatusDeviceNotReady,
		StatusDeviceError,
		StatusTimeout,
		StatusIteratorLimitExceeded,
		StatusInvalidIteratorHandle,
	}

	for _, s := range statuses {
		t.Run(s.String(), func(t *testing.T) {
			err := s.Err()
			if err == nil {
				t.Fatal("non-OK status mapped to nil error")
			}
			if got := StatusOf(err); got != s {
				t.Errorf("StatusOf(%v) = %s, want %s", err, got, s)
			}
			// Mapping survives wrapping.
			wrapped := fmt.Errorf("submit: %w", err)
			if got := StatusOf(wrapped); got != s {
				t.Errorf("StatusOf(wrapped) = %s, want %s", got, s)
			}
		})
	}
}

func TestStatusOKErr(t *testing.T) {
	if StatusOK.Err() != nil {
		t.Error("StatusOK.Err() != nil")
	}
	if got := StatusOf(nil); got != StatusOK {
		t.Errorf("StatusOf(nil) = %s", got)
	}
}

func TestStatusOfUnknownError(t *testing.T) {
	if got := StatusOf(errors.New("something else")); got != StatusDeviceError {
		t.Errorf("unknown error mapped to %s, want DeviceError", got)
	}
}

func TestStatusRetryable(t *testing.T) {
	if !StatusQueueFull.Retryable() {
		t.Error("QueueFull must be retryable")
	}
	for _, s := range []Status{StatusOK, StatusInvalidArgument, StatusDeviceError, StatusTimeout} {
		if s.Retryable() {
			t.Errorf("%s must not be retryable", s)
		}
	}
}

func TestStatusTableTranslate(t *testing.T) {
	table := StatusTable{RawSuccess: StatusOK, RawKeyNotExist: StatusKeyNotFound}

	if got := table.Translate(RawSuccess); got != StatusOK {
		t.Errorf("Translate(RawSuccess) = %s", got)
	}
	if got := table.Translate(RawKeyNotExist); got != StatusKeyNotFound {
		t.Errorf("Translate(RawKeyNotExist) = %s", got)
	}
	// Unknown raw codes degrade to DeviceError, never panic.
	if got := table.Translate(RawStatus(0xABC)); got != StatusDeviceError {
		t.Errorf("Translate(unknown) = %s, want DeviceError", got)
	}
}

func TestOpenUnknownScheme(t *testing.T) {
	if _, err := Open("nvme://dev0"); err == nil {
		t.Error("expected error for unregistered scheme")
	}
	if _, err := Open("no-scheme-here"); err == nil {
		t.Error("expected error for path without scheme")
	}
}

func TestOpenMem(t *testing.T) {
	b, err := Open("mem://kv0")
	if err != nil {
		t.Fatalf("Open(mem://kv0) failed: %v", err)
	}
	if _, ok := b.(*memDevice); !ok {
		t.Errorf("Open returned %T, want *memDevice", b)
	}
}
