package udd

import (
	"fmt"

	"github.com/openkvs/udd/internal/logging"
	"github.com/openkvs/udd/internal/transport"
)

// IterEntryOverhead is the per-key framing cost inside an iterator result
// buffer: a 4-byte length prefix ahead of each key. A batch buffer must be
// at least IterEntryOverhead + DeviceLimits.MaxKeySize bytes so any key can
// be delivered.
const IterEntryOverhead = transport.IterEntryOverhead

// Iterator is a device-side cursor over the keys of a container whose
// leading bytes match a bitmask/pattern pair. It is created by
// Session.OpenIterator and consumed with IteratorNext until a batch reports
// Exhausted; CloseIterator releases the device cursor slot.
//
// An Iterator is not safe for concurrent use. Operations on a closed or
// never-opened iterator return ErrInvalidIteratorHandle.
type Iterator struct {
	sess      *Session
	container int
	bitmask   uint32
	pattern   uint32
	handle    uint32
	open      bool
}

// Handle returns the device-assigned cursor handle.
func (it *Iterator) Handle() uint32 { return it.handle }

// Container returns the container the cursor was opened on.
func (it *Iterator) Container() int { return it.container }

// IteratorBatch receives one batch of keys from IteratorNext. Reuse the
// same batch across calls; each call replaces Keys and Exhausted.
type IteratorBatch struct {
	bufSize int

	// Keys holds the batch's keys. The slices are owned by the batch and
	// are valid until the next IteratorNext call that fills it.
	Keys [][]byte

	// Exhausted is set when the cursor has no further keys. The batch
	// carrying it may still contain keys.
	Exhausted bool
}

// NewIteratorBatch returns a batch whose result buffer holds bufferSize
// bytes. Each delivered key costs IterEntryOverhead + len(key) bytes of
// that budget.
func NewIteratorBatch(bufferSize int) *IteratorBatch {
	return &IteratorBatch{bufSize: bufferSize}
}

// BufferSize returns the batch's result buffer size in bytes.
func (b *IteratorBatch) BufferSize() int { return b.bufSize }

func (b *IteratorBatch) reset() {
	b.Keys = nil
	b.Exhausted = false
}

// OpenIterator opens a device-side cursor over the keys of container whose
// first four bytes, masked with bitmask, equal pattern (both interpreted
// big-endian over the key prefix). The key set is fixed when the cursor
// opens; concurrent mutations do not affect it.
//
// Devices hold a limited number of cursors; exceeding it returns
// ErrIteratorLimitExceeded.
func (s *Session) OpenIterator(container int, bitmask, pattern uint32) (*Iterator, error) {
	it := &Iterator{
		sess:      s,
		container: container,
		bitmask:   bitmask,
		pattern:   pattern,
	}

	slot := newSyncSlot()
	ctx := s.prepContext(OpIterOpen, nil, nil, nil, nil, slot)
	ctx.iter = it
	desc := &transport.Descriptor{
		Opcode:    OpIterOpen,
		Container: container,
		Bitmask:   bitmask,
		Pattern:   pattern,
		Ctx:       ctx,
	}
	if err := s.submit(desc, ctx); err != nil {
		return nil, err
	}
	if status := s.waitSync(slot); status != StatusOK {
		return nil, status.Err()
	}
	it.open = true
	s.logger.Debugf(logging.NSIter+"cursor %d opened on container %d (mask %#x pattern %#x)",
		it.handle, container, bitmask, pattern)
	return it, nil
}

// IteratorNext submits an asynchronous request for the cursor's next batch
// of keys. The callback observes the filled batch; a batch with Exhausted
// set ends the scan. Requesting past exhaustion completes with an empty
// exhausted batch.
func (s *Session) IteratorNext(it *Iterator, batch *IteratorBatch, tag1, tag2 any, cb CompletionCallback) error {
	return s.iterNext(it, batch, tag1, tag2, cb, nil)
}

// IteratorNextSync requests the cursor's next batch and waits for it.
func (s *Session) IteratorNextSync(it *Iterator, batch *IteratorBatch) error {
	slot := newSyncSlot()
	if err := s.iterNext(it, batch, nil, nil, nil, slot); err != nil {
		return err
	}
	return s.waitSync(slot).Err()
}

func (s *Session) iterNext(it *Iterator, batch *IteratorBatch, tag1, tag2 any, cb CompletionCallback, slot *syncSlot) error {
	if err := s.validateIterator(it); err != nil {
		return err
	}
	if batch == nil {
		return fmt.Errorf("%w: iterator next needs a batch", ErrInvalidArgument)
	}
	if min := IterEntryOverhead + s.limits.MaxKeySize; batch.bufSize < min {
		return fmt.Errorf("%w: batch buffer of %d bytes cannot hold a maximum-size key (need %d)",
			ErrInvalidArgument, batch.bufSize, min)
	}
	batch.reset()

	ctx := s.prepContext(OpIterNext, nil, tag1, tag2, cb, slot)
	ctx.iter = it
	ctx.batch = batch
	desc := &transport.Descriptor{
		Opcode:     OpIterNext,
		Container:  it.container,
		IterHandle: it.handle,
		ResultSize: batch.bufSize,
		Ctx:        ctx,
	}
	return s.submit(desc, ctx)
}

// CloseIterator releases the cursor's device slot. On success the iterator
// is closed and further operations return ErrInvalidIteratorHandle. A close
// that fails to submit or times out leaves the iterator open so it can be
// retried; a cursor the device no longer recognizes is treated as already
// released.
func (s *Session) CloseIterator(it *Iterator) error {
	if err := s.validateIterator(it); err != nil {
		return err
	}

	slot := newSyncSlot()
	ctx := s.prepContext(OpIterClose, nil, nil, nil, nil, slot)
	ctx.iter = it
	desc := &transport.Descriptor{
		Opcode:     OpIterClose,
		Container:  it.container,
		IterHandle: it.handle,
		Ctx:        ctx,
	}
	if err := s.submit(desc, ctx); err != nil {
		return err
	}
	status := s.waitSync(slot)
	if status == StatusOK || status == StatusInvalidIteratorHandle {
		it.open = false
	}
	if status != StatusOK {
		return status.Err()
	}
	s.logger.Debugf(logging.NSIter+"cursor %d closed", it.handle)
	return nil
}

func (s *Session) validateIterator(it *Iterator) error {
	if it == nil || !it.open {
		return fmt.Errorf("%w: iterator is not open", ErrInvalidIteratorHandle)
	}
	if it.sess != s {
		return fmt.Errorf("%w: iterator belongs to another session", ErrInvalidIteratorHandle)
	}
	return nil
}
