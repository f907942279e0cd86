package udd

// errors.go surfaces the uniform result taxonomy.
//
// Submission-time validation failures are returned immediately from the
// submit call and never reach the completion processor; every other outcome
// arrives through a completion, either as Result.Status (asynchronous path)
// or as the return value of a synchronous call. Both paths use the same
// taxonomy.

import "github.com/openkvs/udd/internal/transport"

// Status is the uniform result code surfaced from both the synchronous and
// asynchronous paths.
type Status = transport.Status

// Result taxonomy.
const (
	// StatusOK means the operation completed successfully.
	StatusOK = transport.StatusOK
	// StatusKeyNotFound is the normal outcome of retrieve/delete on an
	// absent key.
	StatusKeyNotFound = transport.StatusKeyNotFound
	// StatusKeyExists is reported by an idempotent store on a present key.
	StatusKeyExists = transport.StatusKeyExists
	// StatusInvalidArgument means malformed key/value/buffer sizing.
	StatusInvalidArgument = transport.StatusInvalidArgument
	// StatusQueueFull means the submission queue had no free slot.
	StatusQueueFull = transport.StatusQueueFull
	// StatusDeviceNotReady means the device is uninitialized or torn down.
	StatusDeviceNotReady = transport.StatusDeviceNotReady
	// StatusDeviceError is a transport-reported hardware/firmware fault.
	StatusDeviceError = transport.StatusDeviceError
	// StatusTimeout means a synchronous call exhausted its spin budget.
	StatusTimeout = transport.StatusTimeout
	// StatusIteratorLimitExceeded means no device cursor slot was free.
	StatusIteratorLimitExceeded = transport.StatusIteratorLimitExceeded
	// StatusInvalidIteratorHandle means the cursor handle is not open.
	StatusInvalidIteratorHandle = transport.StatusInvalidIteratorHandle
)

// Sentinel errors corresponding to the non-OK statuses.
// Use errors.Is to detect them.
var (
	ErrKeyNotFound           = transport.ErrKeyNotFound
	ErrKeyExists             = transport.ErrKeyExists
	ErrInvalidArgument       = transport.ErrInvalidArgument
	ErrQueueFull             = transport.ErrQueueFull
	ErrDeviceNotReady        = transport.ErrDeviceNotReady
	ErrDeviceError           = transport.ErrDeviceError
	ErrTimeout               = transport.ErrTimeout
	ErrIteratorLimitExceeded = transport.ErrIteratorLimitExceeded
	ErrInvalidIteratorHandle = transport.ErrInvalidIteratorHandle
)

// StatusOf maps an error back to its status. A nil error maps to StatusOK;
// an unrecognized error maps to StatusDeviceError.
func StatusOf(err error) Status {
	return transport.StatusOf(err)
}
