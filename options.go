package udd

// options.go implements session configuration options.

import (
	"fmt"
	"time"

	"github.com/openkvs/udd/internal/compression"
	"github.com/openkvs/udd/internal/logging"
)

// Logger is an alias for the logging.Logger interface.
// This allows users to pass their own logger implementation.
type Logger = logging.Logger

// CompressionType is an alias for the compression type.
type CompressionType = compression.Type

// Compression type constants.
const (
	NoCompression     = compression.NoCompression
	SnappyCompression = compression.SnappyCompression
	ZlibCompression   = compression.ZlibCompression
	LZ4Compression    = compression.LZ4Compression
	LZ4HCCompression  = compression.LZ4HCCompression
	ZstdCompression   = compression.ZstdCompression
)

// Options holds the session-creation parameters. Queue depth, core
// affinities, and the completion queue count are fixed at Open and never
// mutated while operations are outstanding.
type Options struct {
	// DevicePath selects the device, including the backend scheme
	// (e.g. "mem://kv0").
	DevicePath string

	// SyncDeviceInit requests synchronous device initialization.
	SyncDeviceInit bool

	// QueueDepth is the maximum number of commands the transport accepts
	// before a submission is rejected with StatusQueueFull. Must be > 0.
	// Default: 64.
	QueueDepth int

	// SQCoreMask is the submission core affinity mask. Backends that do
	// not pin threads ignore it.
	SQCoreMask uint64

	// CQCoreMask is the completion core affinity mask.
	CQCoreMask uint64

	// NumCQThreads is the number of completion queues, one per
	// caller-designated polling goroutine. Default: 1.
	NumCQThreads int

	// MemSizeMB is the reserved memory size in megabytes. 0 lets the
	// backend choose.
	MemSizeMB int

	// Persistent requests that device contents survive Close/Open cycles
	// where the backend supports it.
	Persistent bool

	// DataPath is the host-side location for persisted backend state.
	DataPath string

	// ContextPoolSize caps the operation-context free-list. Contexts
	// beyond the cap are dropped on release instead of pooled. 0 uses the
	// queue depth, which bounds pool growth in practice since callers cap
	// outstanding operations at queue depth.
	ContextPoolSize int

	// ValuePoolSize caps the value-container free-list. 0 uses the queue
	// depth.
	ValuePoolSize int

	// SyncSpinBudget is the maximum number of completion-poll rounds a
	// synchronous call performs before giving up with StatusTimeout.
	// Default: 1 << 20.
	SyncSpinBudget int

	// SyncTimeout additionally bounds a synchronous call in wall time.
	// 0 means no wall-time bound (the spin budget still applies).
	SyncTimeout time.Duration

	// Compression is the value compression applied when a store is issued
	// with the Compress option. Default: SnappyCompression.
	Compression CompressionType

	// ChecksumDescriptors makes submission attach a CRC32C over key and
	// value to each store descriptor, which the device verifies.
	// Default: true.
	ChecksumDescriptors bool

	// Logger receives engine log output. nil uses a WARN-level logger
	// writing to stderr.
	Logger Logger

	// Statistics collects engine tickers when non-nil.
	Statistics *Statistics
}

// DefaultOptions returns the options used when a field is left zero.
func DefaultOptions() *Options {
	return &Options{
		DevicePath:          "mem://kv0",
		QueueDepth:          64,
		NumCQThreads:        1,
		SyncSpinBudget:      1 << 20,
		Compression:         SnappyCompression,
		ChecksumDescriptors: true,
	}
}

// Validate checks the options for consistency and fills defaulted fields.
func (o *Options) Validate() error {
	if o.DevicePath == "" {
		return fmt.Errorf("%w: device path is empty", ErrInvalidArgument)
	}
	if o.QueueDepth <= 0 {
		return fmt.Errorf("%w: queue depth must be > 0, got %d", ErrInvalidArgument, o.QueueDepth)
	}
	if o.NumCQThreads < 0 {
		return fmt.Errorf("%w: completion thread count must be >= 0, got %d", ErrInvalidArgument, o.NumCQThreads)
	}
	if o.NumCQThreads == 0 {
		o.NumCQThreads = 1
	}
	if o.ContextPoolSize <= 0 {
		o.ContextPoolSize = o.QueueDepth
	}
	if o.ValuePoolSize <= 0 {
		o.ValuePoolSize = o.QueueDepth
	}
	if o.SyncSpinBudget <= 0 {
		o.SyncSpinBudget = 1 << 20
	}
	if !o.Compression.IsSupported() {
		return fmt.Errorf("%w: unsupported compression type %s", ErrInvalidArgument, o.Compression)
	}
	if o.Persistent && o.DataPath == "" {
		return fmt.Errorf("%w: persistent session requires a data path", ErrInvalidArgument)
	}
	return nil
}

// clone returns a copy so later caller mutation cannot affect the session.
func (o *Options) clone() *Options {
	c := *o
	return &c
}
