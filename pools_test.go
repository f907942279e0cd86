package udd

import (
	"fmt"
	"testing"
)

func TestContextPoolConservation(t *testing.T) {
	opts := DefaultOptions()
	opts.Statistics = NewStatistics()
	sess := newTestSession(t, opts)

	const n = 50
	for i := 0; i < n; i++ {
		key := fmt.Appendf(nil, "pool-key-%03d", i)
		if err := sess.StoreSync(0, key, []byte("v"), nil); err != nil {
			t.Fatalf("StoreSync: %v", err)
		}
	}

	// Serial synchronous ops use one context at a time: after warmup
	// every acquisition is a pool hit and the free-list never exceeds 1.
	ctxs, _ := sess.pools.sizes()
	if ctxs != 1 {
		t.Errorf("context free-list holds %d after serial ops, want 1", ctxs)
	}
	hits := opts.Statistics.GetTickerCount(TickerContextPoolHits)
	misses := opts.Statistics.GetTickerCount(TickerContextPoolMisses)
	if misses != 1 {
		t.Errorf("context pool misses = %d, want 1", misses)
	}
	if hits != n-1 {
		t.Errorf("context pool hits = %d, want %d", hits, n-1)
	}
}

func TestContextResetBeforeReuse(t *testing.T) {
	p := newResourcePools(4, 4, nil)

	c := p.acquireContext()
	c.op = OpRetrieve
	c.cb = func(*Result) {}
	c.tag1 = "stale"
	c.key = []byte("stale-key")
	c.value = &Value{}
	c.releaseValue = true
	c.slot = newSyncSlot()
	p.releaseContext(c)

	c2 := p.acquireContext()
	if c2 != c {
		t.Fatal("free-list did not recycle the released context")
	}
	if c2.op != 0 || c2.cb != nil || c2.tag1 != nil || c2.key != nil ||
		c2.value != nil || c2.releaseValue || c2.slot != nil {
		t.Fatalf("recycled context carries stale state: %+v", c2)
	}
}

func TestContextPoolBound(t *testing.T) {
	p := newResourcePools(2, 2, nil)

	a, b, c := p.acquireContext(), p.acquireContext(), p.acquireContext()
	p.releaseContext(a)
	p.releaseContext(b)
	p.releaseContext(c) // over capacity, dropped

	ctxs, _ := p.sizes()
	if ctxs != 2 {
		t.Fatalf("free-list holds %d contexts, capacity is 2", ctxs)
	}
}

func TestValuePoolGrowsCapacity(t *testing.T) {
	p := newResourcePools(4, 4, nil)

	small := p.acquireValue(100)
	if small.Cap() < 100 {
		t.Fatalf("Cap = %d, want >= 100", small.Cap())
	}
	small.SetBytes([]byte("payload"))
	p.releaseValue(small)

	// A larger request must come back with enough capacity and no stale
	// payload, even when it reuses the pooled container.
	big := p.acquireValue(1 << 20)
	if big.Cap() < 1<<20 {
		t.Fatalf("Cap = %d, want >= %d", big.Cap(), 1<<20)
	}
	if big.Len() != 0 || big.ActualSize() != 0 {
		t.Fatalf("recycled container not reset: len=%d actual=%d", big.Len(), big.ActualSize())
	}
}

func TestReleaseNilValue(t *testing.T) {
	p := newResourcePools(4, 4, nil)
	p.releaseValue(nil) // must not panic

	_, vals := p.sizes()
	if vals != 0 {
		t.Fatalf("free-list holds %d values after nil release", vals)
	}
}

func TestSyncSlotSignalsOnce(t *testing.T) {
	slot := newSyncSlot()
	if slot.completed() {
		t.Fatal("fresh slot reports completed")
	}
	slot.complete(StatusKeyNotFound)
	if !slot.completed() {
		t.Fatal("completed slot reports pending")
	}
	if slot.status != StatusKeyNotFound {
		t.Fatalf("status = %v, want KeyNotFound", slot.status)
	}
}

func BenchmarkSyncStore(b *testing.B) {
	opts := DefaultOptions()
	opts.DevicePath = "mem://bench-store"
	sess, err := Open(opts)
	if err != nil {
		b.Fatalf("Open: %v", err)
	}
	defer sess.Close()

	key := []byte("bench-key")
	value := make([]byte, 1024)

	b.SetBytes(int64(len(value)))
	for i := 0; i < b.N; i++ {
		if err := sess.StoreSync(0, key, value, nil); err != nil {
			b.Fatalf("StoreSync: %v", err)
		}
	}
}

func BenchmarkSyncRetrieve(b *testing.B) {
	opts := DefaultOptions()
	opts.DevicePath = "mem://bench-retrieve"
	sess, err := Open(opts)
	if err != nil {
		b.Fatalf("Open: %v", err)
	}
	defer sess.Close()

	key := []byte("bench-key")
	value := make([]byte, 1024)
	if err := sess.StoreSync(0, key, value, nil); err != nil {
		b.Fatalf("StoreSync: %v", err)
	}

	val := sess.GetValue(len(value))
	defer sess.PutValue(val)

	b.SetBytes(int64(len(value)))
	for i := 0; i < b.N; i++ {
		if err := sess.RetrieveSync(0, key, val, nil); err != nil {
			b.Fatalf("RetrieveSync: %v", err)
		}
	}
}
