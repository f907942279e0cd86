// Package transport defines the boundary between the command engine and the
// device backend that owns the physical (or emulated) queue pairs.
//
// The engine never touches device memory layout; it fills Descriptor
// structures, hands them to a Backend, and reads back Completion records.
// Backends translate their own raw completion codes into the uniform Status
// taxonomy through a per-backend table, so adding a backend never touches
// engine logic.
package transport

import "errors"

// Status is the uniform result taxonomy surfaced to callers from both the
// synchronous and asynchronous paths.
type Status uint8

const (
	// StatusOK means the operation completed successfully.
	StatusOK Status = iota

	// StatusKeyNotFound is the normal, expected outcome of retrieve/delete
	// on an absent key. It is a regular result code, not an exceptional
	// condition.
	StatusKeyNotFound

	// StatusKeyExists is reported by an idempotent store when the key is
	// already present. Like StatusKeyNotFound it is a regular result code.
	StatusKeyExists

	// StatusInvalidArgument means malformed key/value/buffer sizing.
	// Never retried; caller bug.
	StatusInvalidArgument

	// StatusQueueFull means the transport submission queue has no free
	// slot. Retryable by the caller after a subsequent poll.
	StatusQueueFull

	// StatusDeviceNotReady means the device is not initialized or has been
	// torn down.
	StatusDeviceNotReady

	// StatusDeviceError is a transport-reported hardware/firmware fault.
	// Not retried automatically; may require session teardown.
	StatusDeviceError

	// StatusTimeout means the synchronous path exceeded its spin budget
	// waiting for a completion. The underlying operation may still
	// complete later; the caller must not assume it was cancelled.
	StatusTimeout

	// StatusIteratorLimitExceeded means the device has no free cursor
	// slots. The caller must close unused cursors.
	StatusIteratorLimitExceeded

	// StatusInvalidIteratorHandle means an iterator operation was issued
	// against a handle that was never opened or is already closed.
	StatusInvalidIteratorHandle
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusKeyNotFound:
		return "KeyNotFound"
	case StatusKeyExists:
		return "KeyExists"
	case StatusInvalidArgument:
		return "InvalidArgument"
	case StatusQueueFull:
		return "QueueFull"
	case StatusDeviceNotReady:
		return "DeviceNotReady"
	case StatusDeviceError:
		return "DeviceError"
	case StatusTimeout:
		return "Timeout"
	case StatusIteratorLimitExceeded:
		return "IteratorLimitExceeded"
	case StatusInvalidIteratorHandle:
		return "InvalidIteratorHandle"
	default:
		return "Unknown"
	}
}

// Retryable reports whether the caller may retry the operation after a
// subsequent poll. Only queue-full rejections are retryable; everything else
// is either final or a caller bug.
func (s Status) Retryable() bool {
	return s == StatusQueueFull
}

// Sentinel errors corresponding to the non-OK statuses.
// Use errors.Is to detect them in returned errors.
var (
	ErrKeyNotFound           = errors.New("udd: key not found")
	ErrKeyExists             = errors.New("udd: key already exists")
	ErrInvalidArgument       = errors.New("udd: invalid argument")
	ErrQueueFull             = errors.New("udd: submission queue full")
	ErrDeviceNotReady        = errors.New("udd: device not ready")
	ErrDeviceError           = errors.New("udd: device error")
	ErrTimeout               = errors.New("udd: timed out waiting for completion")
	ErrIteratorLimitExceeded = errors.New("udd: device iterator limit exceeded")
	ErrInvalidIteratorHandle = errors.New("udd: invalid iterator handle")
)

// Err returns the sentinel error for the status, or nil for StatusOK.
func (s Status) Err() error {
	switch s {
	case StatusOK:
		return nil
	case StatusKeyNotFound:
		return ErrKeyNotFound
	case StatusKeyExists:
		return ErrKeyExists
	case StatusInvalidArgument:
		return ErrInvalidArgument
	case StatusQueueFull:
		return ErrQueueFull
	case StatusDeviceNotReady:
		return ErrDeviceNotReady
	case StatusDeviceError:
		return ErrDeviceError
	case StatusTimeout:
		return ErrTimeout
	case StatusIteratorLimitExceeded:
		return ErrIteratorLimitExceeded
	case StatusInvalidIteratorHandle:
		return ErrInvalidIteratorHandle
	default:
		return ErrDeviceError
	}
}

// StatusOf maps an error back to its status. A nil error maps to StatusOK;
// an unrecognized error maps to StatusDeviceError.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrKeyNotFound):
		return StatusKeyNotFound
	case errors.Is(err, ErrKeyExists):
		return StatusKeyExists
	case errors.Is(err, ErrInvalidArgument):
		return StatusInvalidArgument
	case errors.Is(err, ErrQueueFull):
		return StatusQueueFull
	case errors.Is(err, ErrDeviceNotReady):
		return StatusDeviceNotReady
	case errors.Is(err, ErrTimeout):
		return StatusTimeout
	case errors.Is(err, ErrIteratorLimitExceeded):
		return StatusIteratorLimitExceeded
	case errors.Is(err, ErrInvalidIteratorHandle):
		return StatusInvalidIteratorHandle
	default:
		return StatusDeviceError
	}
}

// RawStatus is a backend-specific completion code as reported by the device.
// Each backend publishes a StatusTable mapping its raw codes into the
// uniform taxonomy.
type RawStatus uint16

// StatusTable maps backend raw completion codes to the uniform taxonomy.
// Raw codes absent from the table are treated as StatusDeviceError.
type StatusTable map[RawStatus]Status

// Translate maps a raw completion code through the table.
func (t StatusTable) Translate(raw RawStatus) Status {
	if s, ok := t[raw]; ok {
		return s
	}
	return StatusDeviceError
}
