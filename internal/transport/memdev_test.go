package transport

// memdev_test.go tests the in-memory queue-pair backend.

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/openkvs/udd/internal/checksum"
)

func newTestDevice(t *testing.T, cfg Config) *memDevice {
	t.Helper()
	d := &memDevice{}
	if cfg.Path == "" {
		cfg.Path = "mem://test"
	}
	if cfg.QueueDepth == 0 {
		cfg.QueueDepth = 32
	}
	if err := d.Init(cfg); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

// drainOne polls all queues until a single completion is found.
func drainOne(t *testing.T, d *memDevice) Completion {
	t.Helper()
	out := make([]Completion, 1)
	for q := 0; q < d.CompletionQueues(); q++ {
		n, err := d.Poll(q, 1, out)
		if err != nil {
			t.Fatalf("Poll(%d) failed: %v", q, err)
		}
		if n == 1 {
			return out[0]
		}
	}
	t.Fatal("no completion found on any queue")
	return Completion{}
}

func TestMemDeviceStoreRetrieve(t *testing.T) {
	d := newTestDevice(t, Config{})

	if err := d.Submit(&Descriptor{
		Opcode: OpStore, Key: []byte("key1"), Value: []byte("value1"), Ctx: "s",
	}); err != nil {
		t.Fatalf("store submit failed: %v", err)
	}
	comp := drainOne(t, d)
	if comp.Status != RawSuccess {
		t.Fatalf("store status = %#x", comp.Status)
	}
	if comp.Ctx != "s" {
		t.Errorf("correlation token lost: %v", comp.Ctx)
	}

	if err := d.Submit(&Descriptor{Opcode: OpRetrieve, Key: []byte("key1"), Ctx: "r"}); err != nil {
		t.Fatalf("retrieve submit failed: %v", err)
	}
	comp = drainOne(t, d)
	if comp.Status != RawSuccess {
		t.Fatalf("retrieve status = %#x", comp.Status)
	}
	if !bytes.Equal(comp.Value, []byte("value1")) {
		t.Errorf("retrieve value = %q", comp.Value)
	}
	if comp.ValueSize != 6 {
		t.Errorf("ValueSize = %d, want 6", comp.ValueSize)
	}
}

func TestMemDeviceRetrieveMissing(t *testing.T) {
	d := newTestDevice(t, Config{})

	if err := d.Submit(&Descriptor{Opcode: OpRetrieve, Key: []byte("nope")}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if comp := drainOne(t, d); comp.Status != RawKeyNotExist {
		t.Errorf("status = %#x, want RawKeyNotExist", comp.Status)
	}
}

func TestMemDeviceQueueFull(t *testing.T) {
	d := newTestDevice(t, Config{QueueDepth: 2})

	for i := 0; i < 2; i++ {
		if err := d.Submit(&Descriptor{
			Opcode: OpStore, Key: []byte{'k', byte('0' + i), 'x', 'x'}, Value: []byte("v"),
		}); err != nil {
			t.Fatalf("submit %d failed: %v", i, err)
		}
	}

	// Third submission finds no free slot.
	err := d.Submit(&Descriptor{Opcode: OpStore, Key: []byte("k2xx"), Value: []byte("v")})
	if err != ErrQueueFull {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}

	// Draining one record frees one slot.
	drainOne(t, d)
	if err := d.Submit(&Descriptor{Opcode: OpStore, Key: []byte("k2xx"), Value: []byte("v")}); err != nil {
		t.Fatalf("submit after drain failed: %v", err)
	}
}

func TestMemDeviceStoreOptions(t *testing.T) {
	d := newTestDevice(t, Config{})

	put := func(key, val string, opt uint8) RawStatus {
		t.Helper()
		if err := d.Submit(&Descriptor{
			Opcode: OpStore, Key: []byte(key), Value: []byte(val), Option: opt,
		}); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
		return drainOne(t, d).Status
	}
	get := func(key string) []byte {
		t.Helper()
		if err := d.Submit(&Descriptor{Opcode: OpRetrieve, Key: []byte(key)}); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
		return drainOne(t, d).Value
	}

	// Idempotent store: second write rejected.
	if s := put("idem", "v1", OptStoreIdempotent); s != RawSuccess {
		t.Fatalf("first idempotent store = %#x", s)
	}
	if s := put("idem", "v2", OptStoreIdempotent); s != RawKeyExists {
		t.Errorf("second idempotent store = %#x, want RawKeyExists", s)
	}

	// Update-only store: absent key rejected.
	if s := put("missing", "v", OptStoreUpdateOnly); s != RawKeyNotExist {
		t.Errorf("update-only on absent key = %#x, want RawKeyNotExist", s)
	}

	// Append store concatenates.
	if s := put("app1", "abc", 0); s != RawSuccess {
		t.Fatalf("store = %#x", s)
	}
	if s := put("app1", "def", OptStoreAppend); s != RawSuccess {
		t.Fatalf("append = %#x", s)
	}
	if got := get("app1"); !bytes.Equal(got, []byte("abcdef")) {
		t.Errorf("append result = %q, want abcdef", got)
	}
}

func TestMemDeviceChecksumVerification(t *testing.T) {
	d := newTestDevice(t, Config{})

	key, val := []byte("ckey"), []byte("cval")
	good := checksum.Mask(checksum.Extend(checksum.Value(key), val))

	if err := d.Submit(&Descriptor{Opcode: OpStore, Key: key, Value: val, Checksum: good}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if comp := drainOne(t, d); comp.Status != RawSuccess {
		t.Errorf("valid checksum rejected: %#x", comp.Status)
	}

	if err := d.Submit(&Descriptor{Opcode: OpStore, Key: key, Value: val, Checksum: good ^ 1}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if comp := drainOne(t, d); comp.Status != RawMediaError {
		t.Errorf("corrupt checksum accepted: %#x", comp.Status)
	}
}

func TestMemDeviceExistBatch(t *testing.T) {
	d := newTestDevice(t, Config{})

	if err := d.Submit(&Descriptor{Opcode: OpStore, Key: []byte("have"), Value: []byte("v")}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	drainOne(t, d)

	if err := d.Submit(&Descriptor{
		Opcode: OpExist,
		Keys:   [][]byte{[]byte("have"), []byte("nope"), []byte("have")},
	}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	comp := drainOne(t, d)
	if comp.Status != RawSuccess {
		t.Fatalf("exist status = %#x", comp.Status)
	}
	if !bytes.Equal(comp.Exist, []byte{1, 0, 1}) {
		t.Errorf("exist results = %v, want [1 0 1]", comp.Exist)
	}
}

func TestMemDeviceIteratorProtocol(t *testing.T) {
	d := newTestDevice(t, Config{QueueDepth: 64})

	// Keys with two distinct 1-byte prefixes.
	for _, k := range []string{"aaa1", "aaa2", "aaa3", "zzz1"} {
		if err := d.Submit(&Descriptor{Opcode: OpStore, Key: []byte(k), Value: []byte("v")}); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
		drainOne(t, d)
	}

	// Open a cursor matching prefix 'a' on the first byte.
	if err := d.Submit(&Descriptor{
		Opcode:  OpIterOpen,
		Bitmask: 0xFF000000,
		Pattern: uint32('a') << 24,
	}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	comp := drainOne(t, d)
	if comp.Status != RawSuccess {
		t.Fatalf("iter-open status = %#x", comp.Status)
	}
	handle := comp.IterHandle

	// First batch: budget fits two keys (2 * (4+4) = 16 bytes).
	if err := d.Submit(&Descriptor{Opcode: OpIterNext, IterHandle: handle, ResultSize: 16}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	comp = drainOne(t, d)
	if len(comp.Keys) != 2 || comp.Exhausted {
		t.Fatalf("batch 1: %d keys, exhausted=%v", len(comp.Keys), comp.Exhausted)
	}
	if !bytes.Equal(comp.Keys[0], []byte("aaa1")) || !bytes.Equal(comp.Keys[1], []byte("aaa2")) {
		t.Errorf("batch 1 keys = %q %q", comp.Keys[0], comp.Keys[1])
	}

	// Second batch drains the cursor.
	if err := d.Submit(&Descriptor{Opcode: OpIterNext, IterHandle: handle, ResultSize: 16}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	comp = drainOne(t, d)
	if len(comp.Keys) != 1 || !comp.Exhausted {
		t.Fatalf("batch 2: %d keys, exhausted=%v", len(comp.Keys), comp.Exhausted)
	}

	// Exhausted cursor keeps answering empty batches.
	if err := d.Submit(&Descriptor{Opcode: OpIterNext, IterHandle: handle, ResultSize: 16}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	comp = drainOne(t, d)
	if len(comp.Keys) != 0 || !comp.Exhausted {
		t.Errorf("batch 3: %d keys, exhausted=%v", len(comp.Keys), comp.Exhausted)
	}

	// Close, then next is rejected.
	if err := d.Submit(&Descriptor{Opcode: OpIterClose, IterHandle: handle}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if comp = drainOne(t, d); comp.Status != RawSuccess {
		t.Fatalf("iter-close status = %#x", comp.Status)
	}
	if err := d.Submit(&Descriptor{Opcode: OpIterNext, IterHandle: handle, ResultSize: 16}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if comp = drainOne(t, d); comp.Status != RawIteratorNotExist {
		t.Errorf("next after close status = %#x, want RawIteratorNotExist", comp.Status)
	}
}

func TestMemDeviceIteratorLimit(t *testing.T) {
	d := newTestDevice(t, Config{QueueDepth: 64})

	for i := 0; i < memLimits.MaxIterators; i++ {
		if err := d.Submit(&Descriptor{Opcode: OpIterOpen}); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
		if comp := drainOne(t, d); comp.Status != RawSuccess {
			t.Fatalf("iter-open %d status = %#x", i, comp.Status)
		}
	}

	if err := d.Submit(&Descriptor{Opcode: OpIterOpen}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if comp := drainOne(t, d); comp.Status != RawIteratorMax {
		t.Errorf("over-limit open status = %#x, want RawIteratorMax", comp.Status)
	}
}

func TestMemDeviceCapacityAndWAF(t *testing.T) {
	d := newTestDevice(t, Config{MemSizeMB: 1})

	used, total, err := d.Capacity()
	if err != nil || used != 0 || total != 1<<20 {
		t.Fatalf("Capacity = (%d, %d, %v)", used, total, err)
	}
	if waf := d.WAF(); waf != 1.0 {
		t.Errorf("idle WAF = %f, want 1.0", waf)
	}

	if err := d.Submit(&Descriptor{Opcode: OpStore, Key: []byte("key1"), Value: []byte("small")}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	drainOne(t, d)

	used, _, _ = d.Capacity()
	if used != int64(len("key1")+len("small")) {
		t.Errorf("used = %d", used)
	}
	// One small logical write still costs a full internal page.
	if waf := d.WAF(); waf <= 1.0 {
		t.Errorf("WAF after small write = %f, want > 1.0", waf)
	}
}

func TestMemDeviceCapacityExceeded(t *testing.T) {
	d := newTestDevice(t, Config{MemSizeMB: 1})

	// A value larger than the 1MB device must be rejected.
	big := make([]byte, 1<<20)
	if err := d.Submit(&Descriptor{Opcode: OpStore, Key: []byte("bigk"), Value: big}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if comp := drainOne(t, d); comp.Status != RawCapacityExceeded {
		t.Errorf("status = %#x, want RawCapacityExceeded", comp.Status)
	}
}

func TestMemDeviceNotReady(t *testing.T) {
	d := &memDevice{}
	if err := d.Submit(&Descriptor{Opcode: OpStore, Key: []byte("k")}); err != ErrDeviceNotReady {
		t.Errorf("Submit before Init = %v, want ErrDeviceNotReady", err)
	}

	d = newTestDevice(t, Config{})
	_ = d.Close()
	if err := d.Submit(&Descriptor{Opcode: OpStore, Key: []byte("k")}); err != ErrDeviceNotReady {
		t.Errorf("Submit after Close = %v, want ErrDeviceNotReady", err)
	}
	if _, err := d.Poll(0, 1, make([]Completion, 1)); err != ErrDeviceNotReady {
		t.Errorf("Poll after Close = %v, want ErrDeviceNotReady", err)
	}
}

func TestMemDeviceMultiQueueRouting(t *testing.T) {
	d := newTestDevice(t, Config{NumCQThreads: 4, QueueDepth: 128})

	if d.CompletionQueues() != 4 {
		t.Fatalf("CompletionQueues = %d", d.CompletionQueues())
	}

	// Same key always routes to the same queue.
	for i := 0; i < 3; i++ {
		if err := d.Submit(&Descriptor{Opcode: OpStore, Key: []byte("same-key"), Value: []byte("v")}); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}
	out := make([]Completion, 8)
	var hits int
	for q := 0; q < 4; q++ {
		n, err := d.Poll(q, 0, out)
		if err != nil {
			t.Fatalf("Poll failed: %v", err)
		}
		if n > 0 {
			hits++
			if n != 3 {
				t.Errorf("queue %d drained %d records, want all 3 on one queue", q, n)
			}
		}
	}
	if hits != 1 {
		t.Errorf("completions for one key spread over %d queues", hits)
	}
}

func TestMemDevicePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memdev.yaml")

	d := newTestDevice(t, Config{Persist: true, DataPath: path})
	if err := d.Submit(&Descriptor{Opcode: OpStore, Key: []byte("durable"), Value: []byte("payload")}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	drainOne(t, d)
	if err := d.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// A fresh device instance loads the snapshot.
	d2 := newTestDevice(t, Config{Persist: true, DataPath: path})
	if err := d2.Submit(&Descriptor{Opcode: OpRetrieve, Key: []byte("durable")}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	comp := drainOne(t, d2)
	if comp.Status != RawSuccess {
		t.Fatalf("retrieve after reopen status = %#x", comp.Status)
	}
	if !bytes.Equal(comp.Value, []byte("payload")) {
		t.Errorf("retrieve after reopen = %q", comp.Value)
	}
}
