// Package mempool provides byte-buffer pooling for value payloads.
//
// This package is internal and not part of the public API.
//
// The driver moves key-value payloads between the caller and the device on
// every store/retrieve. The buffer pool provides reusable byte slices sized
// for typical device value lengths so that per-command staging (compression
// input/output, retrieve destinations) does not allocate on the hot path.
//
// Pools are owned by a Session; there is deliberately no package-level
// default pool, so buffer reuse never outlives the session that created it.
package mempool

import "sync"

// Pool manages reusable byte slices of various sizes.
type Pool struct {
	// Size buckets: 512B, 4KB, 32KB, 256KB, 2MB.
	// The top bucket matches the largest value length the device accepts.
	pools [5]sync.Pool
}

// BucketSizes defines the buffer size buckets.
var BucketSizes = [5]int{
	512,
	4 * 1024,
	32 * 1024,
	256 * 1024,
	2 * 1024 * 1024,
}

// NewPool creates a new Pool.
func NewPool() *Pool {
	bp := &Pool{}
	for i := range bp.pools {
		size := BucketSizes[i]
		bp.pools[i] = sync.Pool{
			New: func() any {
				buf := make([]byte, 0, size)
				return &buf
			},
		}
	}
	return bp
}

// Get retrieves a byte slice with at least the specified capacity.
func (bp *Pool) Get(minSize int) []byte {
	bucket := bp.getBucket(minSize)
	if bucket < 0 {
		// Too large for pool
		return make([]byte, 0, minSize)
	}

	bufPtr, ok := bp.pools[bucket].Get().(*[]byte)
	if !ok {
		return make([]byte, 0, minSize)
	}
	buf := *bufPtr
	return buf[:0]
}

// Put returns a byte slice to the pool.
func (bp *Pool) Put(buf []byte) {
	if buf == nil {
		return
	}

	bucket := bp.getBucket(cap(buf))
	if bucket < 0 || cap(buf) > BucketSizes[len(BucketSizes)-1]*2 {
		// Too large - don't pool
		return
	}

	// Clear the slice before returning
	buf = buf[:0]
	bp.pools[bucket].Put(&buf)
}

func (bp *Pool) getBucket(size int) int {
	for i, bucketSize := range BucketSizes {
		if size <= bucketSize {
			return i
		}
	}
	return -1
}
