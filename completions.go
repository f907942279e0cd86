package udd

// completions.go implements the completion processor.
//
// This is the only place operation contexts are retired. Each drained
// record is correlated back to its context, translated through the
// backend's status table, dispatched to the owner's callback, and its
// context and value container returned to the pools. Callbacks run with no
// engine lock held, so they may submit further operations.

import (
	"fmt"

	"github.com/openkvs/udd/internal/compression"
	"github.com/openkvs/udd/internal/logging"
	"github.com/openkvs/udd/internal/transport"
)

// Result is the completion record delivered to callbacks and synthesized by
// the synchronous paths.
//
// A Result and any buffers it references are valid only for the duration of
// the callback; the engine recycles them as soon as the callback returns.
type Result struct {
	// Op is the completed command's opcode.
	Op Opcode
	// Status is the operation outcome in the uniform taxonomy.
	Status Status
	// Key is the key the command addressed; nil for exist and iterator
	// commands.
	Key []byte
	// Value is the container holding retrieved bytes; non-nil only for
	// retrieve.
	Value *Value
	// Exist holds one byte per batch key (1 = present); non-nil only for
	// exist.
	Exist []byte
	// Batch is the filled iterator batch; non-nil only for iter-next.
	Batch *IteratorBatch
	// Tag1 and Tag2 are the opaque tags supplied at submission.
	Tag1 any
	Tag2 any
}

// CompletionCallback receives the result of one asynchronous operation. It
// is invoked exactly once per submitted operation, on whichever goroutine
// drives the completion processor.
type CompletionCallback func(res *Result)

// pollChunk is how many raw records one backend poll fetches at most.
const pollChunk = 64

// ProcessCompletions polls the device's completion queues for up to max
// completions (round-robin across queues) and dispatches each to its
// owner's callback. A max <= 0 drains everything currently available and
// then returns: unpolled completions are bounded by the queue depth, so one
// invocation processes at most that many per queue even when callbacks
// submit further operations.
//
// Returns the number of completions processed. The error return is non-nil
// only when the completion path itself is unavailable (session closed,
// device error); per-operation failures travel through callbacks instead.
func (s *Session) ProcessCompletions(max int) (int, error) {
	if s.closed.Load() {
		return 0, fmt.Errorf("%w: session closed", ErrDeviceNotReady)
	}
	return s.drainRoundRobin(max)
}

// ProcessQueue is ProcessCompletions restricted to a single completion
// queue. Dedicated polling goroutines, one per queue, should use this so
// that no two of them contend for the same completions.
func (s *Session) ProcessQueue(queue, max int) (int, error) {
	if s.closed.Load() {
		return 0, fmt.Errorf("%w: session closed", ErrDeviceNotReady)
	}
	if queue < 0 || queue >= s.backend.CompletionQueues() {
		return 0, fmt.Errorf("%w: completion queue %d out of range [0,%d)",
			ErrInvalidArgument, queue, s.backend.CompletionQueues())
	}
	return s.processQueue(queue, max)
}

// drainRoundRobin distributes max across all completion queues.
func (s *Session) drainRoundRobin(max int) (int, error) {
	total := 0
	for q := 0; q < s.backend.CompletionQueues(); q++ {
		budget := 0
		if max > 0 {
			budget = max - total
			if budget == 0 {
				break
			}
		}
		n, err := s.processQueue(q, budget)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// drainAll drains whatever is currently available on every queue. Used by
// the synchronous spin-wait and by Close, which bypass the closed check.
func (s *Session) drainAll() (int, error) {
	total := 0
	for q := 0; q < s.backend.CompletionQueues(); q++ {
		n, err := s.processQueue(q, 0)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// processQueue drains up to max records (everything available when max<=0)
// from one queue and dispatches them.
func (s *Session) processQueue(queue, max int) (int, error) {
	// Unpolled completions occupy submission slots, so no queue holds more
	// than the queue depth when a drain starts. Bounding a drain-everything
	// call by the depth keeps it terminating even when callbacks resubmit
	// from inside dispatch and refill the ring between polls.
	if max <= 0 {
		max = s.opts.QueueDepth
	}
	chunk := pollChunk
	if max < chunk {
		chunk = max
	}
	out := make([]transport.Completion, chunk)

	total := 0
	for {
		want := chunk
		if remaining := max - total; remaining < want {
			want = remaining
		}
		if want == 0 {
			return total, nil
		}

		n, err := s.backend.Poll(queue, want, out[:want])
		if err != nil {
			s.logger.Fatalf(logging.NSCQ+"queue %d unavailable: %v", queue, err)
			return total, err
		}
		for i := 0; i < n; i++ {
			s.dispatch(&out[i])
		}
		total += n

		// A short read means the queue held nothing more right now.
		if n < want {
			return total, nil
		}
	}
}

// dispatch retires one raw completion record: translate, deliver, recycle.
func (s *Session) dispatch(rec *transport.Completion) {
	ctx, ok := rec.Ctx.(*opContext)
	if !ok || ctx == nil {
		s.logger.Errorf(logging.NSCQ+"completion with no context (op %s, raw %#x)",
			rec.Opcode, rec.Status)
		return
	}

	status := s.statusTable.Translate(rec.Status)

	switch ctx.op {
	case OpRetrieve:
		if status == StatusOK {
			status = s.finishRetrieve(ctx, rec)
		}
	case OpExist:
		if status == StatusOK && ctx.exist != nil {
			copy(ctx.exist, rec.Exist)
		}
	case OpIterOpen:
		if status == StatusOK && ctx.iter != nil {
			ctx.iter.handle = rec.IterHandle
		}
	case OpIterNext:
		if status == StatusOK && ctx.batch != nil {
			ctx.batch.Keys = rec.Keys
			ctx.batch.Exhausted = rec.Exhausted
			s.tick(TickerKeysIterated, uint64(len(rec.Keys)))
			s.tick(TickerIteratorBatches, 1)
			s.measure(HistogramIterBatchKeys, uint64(len(rec.Keys)))
		}
	}

	if status == StatusDeviceError {
		s.logger.Errorf(logging.NSCQ+"%s completed with device error (raw %#x)",
			ctx.op, rec.Status)
	}

	// Deliver outside any engine lock.
	if ctx.cb != nil {
		res := Result{
			Op:     ctx.op,
			Status: status,
			Key:    ctx.key,
			Value:  ctx.value,
			Exist:  ctx.exist,
			Batch:  ctx.batch,
			Tag1:   ctx.tag1,
			Tag2:   ctx.tag2,
		}
		ctx.cb(&res)
	}
	if ctx.slot != nil {
		ctx.slot.complete(status)
	}

	if ctx.releaseValue {
		s.pools.releaseValue(ctx.value)
	}
	s.inflight.Add(-1)
	s.pools.releaseContext(ctx)
	s.tick(TickerCompletionsProcessed, 1)
}

// finishRetrieve moves retrieved bytes into the caller's container,
// unframing compressed payloads when requested.
func (s *Session) finishRetrieve(ctx *opContext, rec *transport.Completion) Status {
	payload := rec.Value
	actual := rec.ValueSize

	if ctx.decompress {
		plain, err := compression.UnframeValue(payload)
		if err != nil {
			s.logger.Errorf(logging.NSCQ+"unframe retrieved value: %v", err)
			return StatusDeviceError
		}
		payload = plain
		actual = len(plain)
	}

	ctx.value.setPayload(payload, actual)
	s.tick(TickerBytesRead, uint64(len(payload)))
	s.measure(HistogramValueBytes, uint64(len(payload)))
	return StatusOK
}
