package transport

// memdev.go implements an in-memory queue-pair backend.
//
// The memory device emulates the behavior the engine depends on: a bounded
// submission window, per-queue completion rings, device-side iteration
// cursors with a slot limit, descriptor checksum verification, and
// capacity/write-amplification accounting. Commands execute at submission
// time; their completion records sit in a completion ring until polled, and
// an unpolled record occupies a submission slot, so a caller that stops
// polling will see queue-full exactly like on hardware.
//
// It backs tests, examples, and the kvsmoke tool.

import (
	"encoding/binary"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/zeebo/xxh3"
	"gopkg.in/yaml.v3"

	"github.com/openkvs/udd/internal/checksum"
)

// Raw completion codes reported by the memory device.
const (
	RawSuccess          RawStatus = 0x000
	RawKeyNotExist      RawStatus = 0x010
	RawKeyExists        RawStatus = 0x012
	RawMediaError       RawStatus = 0x072
	RawCapacityExceeded RawStatus = 0x073
	RawIteratorNotExist RawStatus = 0x090
	RawIteratorMax      RawStatus = 0x091
	RawUninitialized    RawStatus = 0x0FF
)

// memStatusTable maps the memory device's raw codes into the uniform
// taxonomy.
var memStatusTable = StatusTable{
	RawSuccess:          StatusOK,
	RawKeyNotExist:      StatusKeyNotFound,
	RawKeyExists:        StatusKeyExists,
	RawMediaError:       StatusDeviceError,
	RawCapacityExceeded: StatusDeviceError,
	RawIteratorNotExist: StatusInvalidIteratorHandle,
	RawIteratorMax:      StatusIteratorLimitExceeded,
	RawUninitialized:    StatusDeviceNotReady,
}

// memLimits are the sizing bounds the memory device reports.
var memLimits = Limits{
	MinKeySize:   4,
	MaxKeySize:   255,
	MaxValueSize: 2 * 1024 * 1024,
	MaxExistKeys: 256,
	MaxIterators: 16,
}

const (
	// memDefaultSizeMB is the device capacity when none is configured.
	memDefaultSizeMB = 1024

	// memPageSize is the internal write granularity used for
	// write-amplification accounting.
	memPageSize = 4096
)

func init() {
	Register("mem", func() Backend { return &memDevice{} })
}

// memCursor is one device-side iteration cursor: a snapshot of the matching
// keys taken at open time plus a position.
type memCursor struct {
	container int
	keys      [][]byte
	pos       int
}

// memDevice is the in-memory backend. One instance per session.
type memDevice struct {
	cfg   Config
	ready atomic.Bool

	// backlog counts completion records submitted but not yet polled.
	// It is bounded by cfg.QueueDepth.
	backlog atomic.Int64

	// mu guards containers, cursors, and capacity accounting.
	mu         sync.Mutex
	containers map[int]map[string][]byte
	cursors    map[uint32]*memCursor
	nextCursor uint32
	usedBytes  int64

	logicalBytes  atomic.Int64
	physicalBytes atomic.Int64

	cqs []cqRing
}

// cqRing is one completion queue. Push and pop are mutex-guarded so that
// overlapping pollers can never observe the same record twice.
type cqRing struct {
	mu      sync.Mutex
	records []Completion
}

func (r *cqRing) push(c Completion) {
	r.mu.Lock()
	r.records = append(r.records, c)
	r.mu.Unlock()
}

func (r *cqRing) pop(max int, out []Completion) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.records)
	if max > 0 && n > max {
		n = max
	}
	if n > len(out) {
		n = len(out)
	}
	copy(out, r.records[:n])
	r.records = r.records[n:]
	return n
}

// Init implements Backend.
func (d *memDevice) Init(cfg Config) error {
	if cfg.QueueDepth <= 0 {
		return fmt.Errorf("memdev: queue depth must be > 0, got %d", cfg.QueueDepth)
	}
	if cfg.MemSizeMB <= 0 {
		cfg.MemSizeMB = memDefaultSizeMB
	}
	if cfg.NumCQThreads <= 0 {
		cfg.NumCQThreads = 1
	}
	d.cfg = cfg
	d.containers = make(map[int]map[string][]byte)
	d.cursors = make(map[uint32]*memCursor)
	d.cqs = make([]cqRing, cfg.NumCQThreads)

	if cfg.Persist && cfg.DataPath != "" {
		if err := d.load(cfg.DataPath); err != nil {
			return fmt.Errorf("memdev: load snapshot: %w", err)
		}
	}

	d.ready.Store(true)
	return nil
}

// Submit implements Backend. The command executes immediately; its
// completion record is routed to a completion queue by key hash and occupies
// a submission slot until polled.
func (d *memDevice) Submit(desc *Descriptor) error {
	if !d.ready.Load() {
		return ErrDeviceNotReady
	}

	// Reserve a slot. CAS keeps the bound strict under concurrent submit.
	for {
		n := d.backlog.Load()
		if n >= int64(d.cfg.QueueDepth) {
			return ErrQueueFull
		}
		if d.backlog.CompareAndSwap(n, n+1) {
			break
		}
	}

	comp := d.execute(desc)
	comp.Ctx = desc.Ctx
	comp.Opcode = desc.Opcode
	comp.Queue = d.route(desc)
	d.cqs[comp.Queue].push(comp)
	return nil
}

// route picks the completion queue for a descriptor. Key-addressed commands
// hash the key so completions for the same key always land on the same
// queue; iterator commands hash the cursor handle.
func (d *memDevice) route(desc *Descriptor) int {
	n := len(d.cqs)
	if n == 1 {
		return 0
	}
	switch desc.Opcode {
	case OpIterOpen, OpIterClose, OpIterNext:
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], desc.IterHandle)
		return int(xxh3.Hash(b[:]) % uint64(n))
	case OpExist:
		if len(desc.Keys) > 0 {
			return int(xxh3.Hash(desc.Keys[0]) % uint64(n))
		}
		return 0
	default:
		return int(xxh3.Hash(desc.Key) % uint64(n))
	}
}

// execute applies one command to the device state and builds its completion.
func (d *memDevice) execute(desc *Descriptor) Completion {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch desc.Opcode {
	case OpStore:
		return d.execStore(desc)
	case OpRetrieve:
		return d.execRetrieve(desc)
	case OpDelete:
		return d.execDelete(desc)
	case OpExist:
		return d.execExist(desc)
	case OpIterOpen:
		return d.execIterOpen(desc)
	case OpIterClose:
		return d.execIterClose(desc)
	case OpIterNext:
		return d.execIterNext(desc)
	default:
		return Completion{Status: RawMediaError}
	}
}

func (d *memDevice) execStore(desc *Descriptor) Completion {
	if desc.Checksum != 0 {
		crc := checksum.Value(desc.Key)
		crc = checksum.Extend(crc, desc.Value)
		if checksum.Mask(crc) != desc.Checksum {
			return Completion{Status: RawMediaError}
		}
	}

	cont := d.container(desc.Container)
	k := string(desc.Key)
	old, exists := cont[k]

	switch {
	case desc.Option&OptStoreIdempotent != 0 && exists:
		return Completion{Status: RawKeyExists}
	case desc.Option&OptStoreUpdateOnly != 0 && !exists:
		return Completion{Status: RawKeyNotExist}
	}

	newVal := desc.Value
	if desc.Option&OptStoreAppend != 0 && exists {
		newVal = append(append([]byte(nil), old...), desc.Value...)
	} else {
		newVal = append([]byte(nil), desc.Value...)
	}

	delta := int64(len(desc.Key) + len(newVal))
	if exists {
		delta -= int64(len(desc.Key) + len(old))
	}
	total := int64(d.cfg.MemSizeMB) << 20
	if d.usedBytes+delta > total {
		return Completion{Status: RawCapacityExceeded}
	}

	cont[k] = newVal
	d.usedBytes += delta

	// The device writes whole pages internally; the gap between the
	// page-aligned physical write and the logical payload is what the
	// WAF query reports.
	logical := int64(len(desc.Key) + len(desc.Value))
	d.logicalBytes.Add(logical)
	d.physicalBytes.Add(alignUp(logical, memPageSize))

	return Completion{Status: RawSuccess}
}

func (d *memDevice) execRetrieve(desc *Descriptor) Completion {
	cont := d.container(desc.Container)
	val, exists := cont[string(desc.Key)]
	if !exists {
		return Completion{Status: RawKeyNotExist}
	}

	out := append([]byte(nil), val...)
	if desc.ResultSize > 0 && len(out) > desc.ResultSize {
		out = out[:desc.ResultSize]
	}
	return Completion{Status: RawSuccess, Value: out, ValueSize: len(val)}
}

func (d *memDevice) execDelete(desc *Descriptor) Completion {
	cont := d.container(desc.Container)
	k := string(desc.Key)
	val, exists := cont[k]
	if !exists {
		return Completion{Status: RawKeyNotExist}
	}
	delete(cont, k)
	d.usedBytes -= int64(len(k) + len(val))
	return Completion{Status: RawSuccess}
}

func (d *memDevice) execExist(desc *Descriptor) Completion {
	cont := d.container(desc.Container)
	results := make([]byte, len(desc.Keys))
	for i, k := range desc.Keys {
		if _, ok := cont[string(k)]; ok {
			results[i] = 1
		}
	}
	return Completion{Status: RawSuccess, Exist: results}
}

func (d *memDevice) execIterOpen(desc *Descriptor) Completion {
	if len(d.cursors) >= memLimits.MaxIterators {
		return Completion{Status: RawIteratorMax}
	}

	cont := d.container(desc.Container)
	var keys [][]byte
	for k := range cont {
		if matchPrefix([]byte(k), desc.Bitmask, desc.Pattern) {
			keys = append(keys, []byte(k))
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		return string(keys[i]) < string(keys[j])
	})

	d.nextCursor++
	handle := d.nextCursor
	d.cursors[handle] = &memCursor{container: desc.Container, keys: keys}
	return Completion{Status: RawSuccess, IterHandle: handle}
}

func (d *memDevice) execIterClose(desc *Descriptor) Completion {
	if _, ok := d.cursors[desc.IterHandle]; !ok {
		return Completion{Status: RawIteratorNotExist}
	}
	delete(d.cursors, desc.IterHandle)
	return Completion{Status: RawSuccess}
}

func (d *memDevice) execIterNext(desc *Descriptor) Completion {
	cur, ok := d.cursors[desc.IterHandle]
	if !ok {
		return Completion{Status: RawIteratorNotExist}
	}

	// Pack keys into the caller's buffer budget: 4-byte length prefix per
	// key. An exhausted cursor stays open and keeps answering with an
	// empty, exhausted batch.
	var keys [][]byte
	budget := desc.ResultSize
	for cur.pos < len(cur.keys) {
		k := cur.keys[cur.pos]
		cost := IterEntryOverhead + len(k)
		if cost > budget {
			break
		}
		keys = append(keys, append([]byte(nil), k...))
		budget -= cost
		cur.pos++
	}

	return Completion{
		Status:    RawSuccess,
		Keys:      keys,
		Exhausted: cur.pos >= len(cur.keys),
	}
}

// matchPrefix applies the device's bitmask/pattern filter over the first
// four key bytes (big-endian, zero-padded for short keys).
func matchPrefix(key []byte, bitmask, pattern uint32) bool {
	var b [4]byte
	copy(b[:], key)
	prefix := binary.BigEndian.Uint32(b[:])
	return prefix&bitmask == pattern&bitmask
}

func alignUp(n, align int64) int64 {
	if n == 0 {
		return 0
	}
	return (n + align - 1) / align * align
}

// container returns the key map for a container id, creating it on first
// reference. Caller holds d.mu.
func (d *memDevice) container(id int) map[string][]byte {
	cont, ok := d.containers[id]
	if !ok {
		cont = make(map[string][]byte)
		d.containers[id] = cont
	}
	return cont
}

// Poll implements Backend.
func (d *memDevice) Poll(queue int, max int, out []Completion) (int, error) {
	if !d.ready.Load() {
		return 0, ErrDeviceNotReady
	}
	if queue < 0 || queue >= len(d.cqs) {
		return 0, fmt.Errorf("memdev: completion queue %d out of range [0,%d): %w",
			queue, len(d.cqs), ErrInvalidArgument)
	}
	n := d.cqs[queue].pop(max, out)
	if n > 0 {
		d.backlog.Add(int64(-n))
	}
	return n, nil
}

// CompletionQueues implements Backend.
func (d *memDevice) CompletionQueues() int {
	return len(d.cqs)
}

// Limits implements Backend.
func (d *memDevice) Limits() Limits {
	return memLimits
}

// Capacity implements Backend.
func (d *memDevice) Capacity() (used, total int64, err error) {
	if !d.ready.Load() {
		return 0, 0, ErrDeviceNotReady
	}
	d.mu.Lock()
	used = d.usedBytes
	d.mu.Unlock()
	return used, int64(d.cfg.MemSizeMB) << 20, nil
}

// WAF implements Backend.
func (d *memDevice) WAF() float64 {
	logical := d.logicalBytes.Load()
	if logical == 0 {
		return 1.0
	}
	return float64(d.physicalBytes.Load()) / float64(logical)
}

// DeviceInfo implements Backend.
func (d *memDevice) DeviceInfo() Info {
	return Info{
		Vendor:     "openkvs",
		Model:      "memdev",
		TotalBytes: int64(d.cfg.MemSizeMB) << 20,
		Limits:     memLimits,
	}
}

// StatusTable implements Backend.
func (d *memDevice) StatusTable() StatusTable {
	return memStatusTable
}

// Close implements Backend. If the device was opened persistent, its
// containers are snapshotted to the configured data path.
func (d *memDevice) Close() error {
	if !d.ready.CompareAndSwap(true, false) {
		return nil
	}
	if d.cfg.Persist && d.cfg.DataPath != "" {
		if err := d.save(d.cfg.DataPath); err != nil {
			return fmt.Errorf("memdev: save snapshot: %w", err)
		}
	}
	return nil
}

// memSnapshot is the YAML form of persisted device contents.
type memSnapshot struct {
	Containers []memSnapshotContainer `yaml:"containers"`
}

type memSnapshotContainer struct {
	ID      int                `yaml:"id"`
	Entries []memSnapshotEntry `yaml:"entries"`
}

type memSnapshotEntry struct {
	Key   []byte `yaml:"key"`
	Value []byte `yaml:"value"`
}

func (d *memDevice) save(path string) error {
	d.mu.Lock()
	snap := memSnapshot{}
	ids := make([]int, 0, len(d.containers))
	for id := range d.containers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		sc := memSnapshotContainer{ID: id}
		for k, v := range d.containers[id] {
			sc.Entries = append(sc.Entries, memSnapshotEntry{
				Key:   []byte(k),
				Value: append([]byte(nil), v...),
			})
		}
		sort.Slice(sc.Entries, func(i, j int) bool {
			return string(sc.Entries[i].Key) < string(sc.Entries[j].Key)
		})
		snap.Containers = append(snap.Containers, sc)
	}
	d.mu.Unlock()

	data, err := yaml.Marshal(&snap)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (d *memDevice) load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var snap memSnapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return err
	}

	for _, sc := range snap.Containers {
		cont := make(map[string][]byte, len(sc.Entries))
		for _, e := range sc.Entries {
			cont[string(e.Key)] = append([]byte(nil), e.Value...)
			d.usedBytes += int64(len(e.Key) + len(e.Value))
		}
		d.containers[sc.ID] = cont
	}
	return nil
}
