package udd

// pools.go implements the session-scoped resource pools.
//
// Two bounded free-lists (operation contexts, value containers) share one
// mutex. The lock is held only for the push/pop itself, never across a
// submission or a callback, so callbacks may re-enter submission without
// deadlock. Pool entries are fully reset before reuse so a recycled context
// can never fire a stale callback.

import (
	"sync"

	"github.com/openkvs/udd/internal/mempool"
	"github.com/openkvs/udd/internal/transport"
)

// opContext is the per-in-flight-operation record. It is owned exclusively
// by the engine from submission until its completion is observed, and is
// returned to the pool immediately after the callback fires.
type opContext struct {
	op   transport.Opcode
	sess *Session
	cb   CompletionCallback
	tag1 any
	tag2 any

	key []byte

	// value is the container involved in this operation; releaseValue
	// marks it engine-owned, to be pooled when the completion fires.
	value        *Value
	releaseValue bool

	// decompress requests unframing of the retrieved payload.
	decompress bool

	// exist is the caller's result buffer for a batch existence check.
	exist []byte

	iter  *Iterator
	batch *IteratorBatch

	// slot is the single-slot completion signal observed by the
	// synchronous spin-wait; nil for asynchronous operations.
	slot *syncSlot
}

// reset clears all fields so a pooled context cannot leak an owner, a
// callback, or a buffer reference into its next use.
func (c *opContext) reset() {
	*c = opContext{}
}

// syncSlot is the single-slot signal a synchronous submission waits on.
// The completion processor stores the status and then closes done; the
// close gives the spin-wait the happens-before edge it needs to read the
// status, whether the completion was drained by this goroutine or by a
// concurrent poller.
type syncSlot struct {
	status Status
	done   chan struct{}
}

func newSyncSlot() *syncSlot {
	return &syncSlot{done: make(chan struct{})}
}

func (s *syncSlot) complete(status Status) {
	s.status = status
	close(s.done)
}

func (s *syncSlot) completed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// resourcePools holds the two free-lists. Owned by one Session and injected
// into submission and completion; there is no process-wide pool state.
type resourcePools struct {
	mu     sync.Mutex
	ctxs   []*opContext
	vals   []*Value
	maxCtx int
	maxVal int

	bufs  *mempool.Pool
	stats *Statistics
}

func newResourcePools(maxCtx, maxVal int, stats *Statistics) *resourcePools {
	return &resourcePools{
		ctxs:   make([]*opContext, 0, maxCtx),
		vals:   make([]*Value, 0, maxVal),
		maxCtx: maxCtx,
		maxVal: maxVal,
		bufs:   mempool.NewPool(),
		stats:  stats,
	}
}

func (p *resourcePools) tick(t TickerType) {
	if p.stats != nil {
		p.stats.RecordTick(t, 1)
	}
}

// acquireContext returns a ready-to-fill context, reusing a pooled one when
// available.
func (p *resourcePools) acquireContext() *opContext {
	p.mu.Lock()
	if n := len(p.ctxs); n > 0 {
		c := p.ctxs[n-1]
		p.ctxs[n-1] = nil
		p.ctxs = p.ctxs[:n-1]
		p.mu.Unlock()
		p.tick(TickerContextPoolHits)
		return c
	}
	p.mu.Unlock()
	p.tick(TickerContextPoolMisses)
	return &opContext{}
}

// releaseContext resets the context and returns it to the free-list. When
// the list is at capacity the context is dropped for the GC instead.
func (p *resourcePools) releaseContext(c *opContext) {
	c.reset()
	p.mu.Lock()
	if len(p.ctxs) < p.maxCtx {
		p.ctxs = append(p.ctxs, c)
	}
	p.mu.Unlock()
}

// acquireValue returns a value container whose buffer holds at least minCap
// bytes of capacity.
func (p *resourcePools) acquireValue(minCap int) *Value {
	p.mu.Lock()
	if n := len(p.vals); n > 0 {
		v := p.vals[n-1]
		p.vals[n-1] = nil
		p.vals = p.vals[:n-1]
		p.mu.Unlock()
		p.tick(TickerValuePoolHits)
		if cap(v.buf) < minCap {
			p.bufs.Put(v.buf)
			v.buf = p.bufs.Get(minCap)
		}
		return v
	}
	p.mu.Unlock()
	p.tick(TickerValuePoolMisses)
	return &Value{buf: p.bufs.Get(minCap)}
}

// releaseValue resets the container and returns it to the free-list. A
// dropped container still returns its buffer to the byte pool.
func (p *resourcePools) releaseValue(v *Value) {
	if v == nil {
		return
	}
	v.reset()
	p.mu.Lock()
	if len(p.vals) < p.maxVal {
		p.vals = append(p.vals, v)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	p.bufs.Put(v.buf)
	v.buf = nil
}

// sizes reports the current free-list lengths. Test hook.
func (p *resourcePools) sizes() (ctxs, vals int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ctxs), len(p.vals)
}
