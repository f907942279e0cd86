package mempool

// pool_test.go tests the buffer pool implementation.

import "testing"

func TestPoolBasic(t *testing.T) {
	pool := NewPool()

	// Get various sizes
	sizes := []int{100, 1000, 20000, 100000, 1 << 21}
	for _, size := range sizes {
		buf := pool.Get(size)
		if cap(buf) < size {
			t.Errorf("expected cap >= %d, got %d", size, cap(buf))
		}
		if len(buf) != 0 {
			t.Errorf("expected len 0, got %d", len(buf))
		}
		pool.Put(buf)
	}
}

func TestPoolBuckets(t *testing.T) {
	pool := NewPool()

	// Get a 4KB-bucket buffer
	buf1 := pool.Get(3000)
	if cap(buf1) < 3000 {
		t.Errorf("expected cap >= 3000, got %d", cap(buf1))
	}

	// Use and return it
	buf1 = append(buf1, make([]byte, 1500)...)
	pool.Put(buf1)

	// Get another - should be from pool (capacity >= requested)
	buf2 := pool.Get(2500)
	if cap(buf2) < 2500 {
		t.Errorf("expected cap >= 2500, got %d", cap(buf2))
	}
	pool.Put(buf2)
}

func TestPoolOversized(t *testing.T) {
	pool := NewPool()

	// Request a buffer larger than any bucket
	buf := pool.Get(8 * 1024 * 1024)
	if cap(buf) < 8*1024*1024 {
		t.Errorf("expected cap >= 8MB, got %d", cap(buf))
	}

	// Should not panic on put
	pool.Put(buf)
}

func TestPoolNilPut(t *testing.T) {
	pool := NewPool()

	// Should not panic
	pool.Put(nil)
}

func BenchmarkPoolGet(b *testing.B) {
	pool := NewPool()

	for i := 0; i < b.N; i++ {
		buf := pool.Get(4096)
		pool.Put(buf)
	}
}

func BenchmarkPoolGetParallel(b *testing.B) {
	pool := NewPool()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			buf := pool.Get(4096)
			pool.Put(buf)
		}
	})
}
