package transport

// backend.go defines the capability interface a device backend implements
// and the descriptor/record structures exchanged across it.

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Opcode identifies a device command.
type Opcode uint8

const (
	// OpStore writes a key-value pair.
	OpStore Opcode = iota + 1
	// OpRetrieve reads the value for a key.
	OpRetrieve
	// OpDelete removes a key.
	OpDelete
	// OpExist checks presence of a batch of keys.
	OpExist
	// OpIterOpen opens a device-side iteration cursor.
	OpIterOpen
	// OpIterClose closes a cursor.
	OpIterClose
	// OpIterNext advances a cursor by one batch.
	OpIterNext
)

// String returns the opcode mnemonic.
func (op Opcode) String() string {
	switch op {
	case OpStore:
		return "store"
	case OpRetrieve:
		return "retrieve"
	case OpDelete:
		return "delete"
	case OpExist:
		return "exist"
	case OpIterOpen:
		return "iter-open"
	case OpIterClose:
		return "iter-close"
	case OpIterNext:
		return "iter-next"
	default:
		return fmt.Sprintf("op(%d)", uint8(op))
	}
}

// Store option flags carried in Descriptor.Option.
const (
	// OptStoreIdempotent fails the store with a key-exists code if the key
	// is already present.
	OptStoreIdempotent uint8 = 1 << 0
	// OptStoreUpdateOnly fails the store with a key-not-found code if the
	// key is absent.
	OptStoreUpdateOnly uint8 = 1 << 1
	// OptStoreAppend appends the value to an existing value instead of
	// replacing it.
	OptStoreAppend uint8 = 1 << 2
)

// IterEntryOverhead is the per-key framing cost inside an iterator result
// buffer: a 4-byte length prefix ahead of each key. Callers size their
// batch buffers with it; backends budget result packing against it.
const IterEntryOverhead = 4

// Descriptor is the opaque command descriptor handed to the backend.
//
// Ctx is the completion correlation token: the backend carries it through
// unchanged and hands it back in the matching Completion. The engine stores
// its per-operation context pointer there; the backend must never inspect it.
type Descriptor struct {
	Opcode    Opcode
	Container int
	Key       []byte
	Value     []byte   // store payload
	Keys      [][]byte // exist batch
	Option    uint8    // opcode-specific option flags
	Checksum  uint32   // masked CRC32C over key then value; 0 = unchecked

	// Iterator fields.
	IterHandle uint32
	Bitmask    uint32
	Pattern    uint32
	ResultSize int // result buffer size in bytes for iter-next

	Ctx any
}

// Completion is a raw completion record polled from a completion queue.
type Completion struct {
	Opcode    Opcode
	Status    RawStatus
	Queue     int
	Value     []byte // retrieve result
	ValueSize int    // full stored length, even if Value was truncated
	Exist     []byte // exist batch results, one byte per key
	Keys      [][]byte
	Exhausted bool // cursor has no further keys

	// IterHandle is set by iter-open completions.
	IterHandle uint32

	Ctx any
}

// Limits describes device-reported sizing bounds the engine validates
// against at submission time.
type Limits struct {
	MinKeySize   int
	MaxKeySize   int
	MaxValueSize int
	MaxExistKeys int
	MaxIterators int
}

// Info is the device identity/capacity record returned by DeviceInfo.
type Info struct {
	Vendor     string
	Model      string
	TotalBytes int64
	Limits     Limits
}

// Config carries the session-creation parameters consumed by Init.
// All fields are fixed for the lifetime of the backend instance.
type Config struct {
	// Path is the device path, including the backend scheme
	// (e.g. "mem://kv0").
	Path string
	// Sync requests synchronous device initialization.
	Sync bool
	// QueueDepth is the maximum number of commands the backend accepts
	// before Submit reports ErrQueueFull. Must be > 0.
	QueueDepth int
	// SQCoreMask and CQCoreMask are the submission/completion core
	// affinity masks. Backends that do not pin threads may ignore them.
	SQCoreMask uint64
	CQCoreMask uint64
	// NumCQThreads is the number of completion queues the backend should
	// expose, one per caller-designated polling thread. 0 means 1.
	NumCQThreads int
	// MemSizeMB is the reserved memory size in megabytes.
	MemSizeMB int
	// Persist requests that backend contents survive Close/Init cycles
	// where the backend supports it.
	Persist bool
	// DataPath is the host-side location for persisted backend state.
	DataPath string
}

// Backend is the capability interface over the underlying queue-pair device.
// One backend instance serves one session; backends are selected at session
// construction time by the scheme of the device path.
//
// Concurrency: Submit may be called from multiple goroutines. Poll on
// distinct queue indices may run concurrently; Poll must never deliver the
// same completion record twice.
type Backend interface {
	// Init prepares the device. It must be called exactly once, before
	// any other method.
	Init(cfg Config) error

	// Submit hands a command descriptor to the submission queue.
	// Returns ErrQueueFull when no slot is free and ErrDeviceNotReady
	// when Init has not succeeded or Close has been called.
	Submit(d *Descriptor) error

	// Poll drains up to max raw completion records from the given
	// completion queue into out, returning the number drained. A max <= 0
	// drains whatever fits in out. Poll returns ErrDeviceNotReady after
	// Close.
	Poll(queue int, max int, out []Completion) (int, error)

	// CompletionQueues returns the number of completion queues.
	CompletionQueues() int

	// Limits returns the device-reported sizing bounds.
	Limits() Limits

	// Capacity returns used and total device capacity in bytes.
	Capacity() (used, total int64, err error)

	// WAF returns the device's write-amplification factor.
	WAF() float64

	// DeviceInfo returns the device identity record.
	DeviceInfo() Info

	// StatusTable returns the backend's raw-to-uniform status mapping.
	StatusTable() StatusTable

	// Close tears down the device. Outstanding unpolled completions are
	// discarded.
	Close() error
}

// Factory constructs an uninitialized backend instance.
type Factory func() Backend

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a backend available under the given device-path scheme.
// It panics if the scheme is already registered.
func Register(scheme string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[scheme]; dup {
		panic("transport: Register called twice for scheme " + scheme)
	}
	registry[scheme] = f
}

// Open creates a backend instance for the given device path by scheme.
// The path must look like "scheme://rest"; the backend is returned
// uninitialized.
func Open(path string) (Backend, error) {
	scheme, _, ok := strings.Cut(path, "://")
	if !ok || scheme == "" {
		return nil, fmt.Errorf("transport: device path %q has no scheme", path)
	}

	registryMu.RLock()
	f, found := registry[scheme]
	registryMu.RUnlock()
	if !found {
		return nil, fmt.Errorf("transport: unknown device scheme %q (registered: %s)",
			scheme, strings.Join(Schemes(), ", "))
	}
	return f(), nil
}

// Schemes returns the registered backend schemes, sorted.
func Schemes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for s := range registry {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
