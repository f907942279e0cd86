package udd

// submit.go implements command submission.
//
// Every operation goes through the same path: validate, borrow a context
// from the pool, build the command descriptor with the context as its
// completion correlation token, and hand it to the transport queue.
// Asynchronous submissions return immediately with pending results arriving
// through the completion processor; synchronous variants attach a
// single-slot signal and drive the completion processor themselves until it
// fires or the spin budget runs out.

import (
	"fmt"
	"runtime"

	"github.com/openkvs/udd/internal/checksum"
	"github.com/openkvs/udd/internal/compression"
	"github.com/openkvs/udd/internal/logging"
	"github.com/openkvs/udd/internal/transport"
)

// StoreOptions modifies store semantics. The zero value (and nil) is a
// plain upsert.
type StoreOptions struct {
	// Idempotent fails the store with StatusKeyExists if the key is
	// already present.
	Idempotent bool
	// UpdateOnly fails the store with StatusKeyNotFound if the key is
	// absent.
	UpdateOnly bool
	// Append appends the value to any existing value instead of
	// replacing it.
	Append bool
	// Compress frames the value with the session's compression type
	// before it is written. Retrieve it with RetrieveOptions.Decompress.
	Compress bool
}

func (o *StoreOptions) flags() uint8 {
	if o == nil {
		return 0
	}
	var f uint8
	if o.Idempotent {
		f |= transport.OptStoreIdempotent
	}
	if o.UpdateOnly {
		f |= transport.OptStoreUpdateOnly
	}
	if o.Append {
		f |= transport.OptStoreAppend
	}
	return f
}

// RetrieveOptions modifies retrieve semantics.
type RetrieveOptions struct {
	// Decompress unframes a value that was stored with
	// StoreOptions.Compress.
	Decompress bool
}

// Store submits an asynchronous store. The callback receives the result;
// tag1 and tag2 travel to it unchanged. The returned error covers
// submission failures only (validation, queue full, device not ready).
func (s *Session) Store(container int, key, value []byte, o *StoreOptions, tag1, tag2 any, cb CompletionCallback) error {
	return s.store(container, key, value, o, tag1, tag2, cb, nil)
}

// StoreSync submits a store and waits for its completion, returning the
// operation's result as an error (nil for StatusOK).
func (s *Session) StoreSync(container int, key, value []byte, o *StoreOptions) error {
	slot := newSyncSlot()
	if err := s.store(container, key, value, o, nil, nil, nil, slot); err != nil {
		return err
	}
	return s.waitSync(slot).Err()
}

func (s *Session) store(container int, key, value []byte, o *StoreOptions, tag1, tag2 any, cb CompletionCallback, slot *syncSlot) error {
	if err := s.validateKey(key); err != nil {
		return err
	}
	if len(value) > s.limits.MaxValueSize {
		return fmt.Errorf("%w: value length %d exceeds device limit %d",
			ErrInvalidArgument, len(value), s.limits.MaxValueSize)
	}

	payload := value
	if o != nil && o.Compress {
		framed, err := compression.FrameValue(s.opts.Compression, value)
		if err != nil {
			return fmt.Errorf("%w: compress value: %v", ErrInvalidArgument, err)
		}
		if len(framed) > s.limits.MaxValueSize {
			return fmt.Errorf("%w: framed value length %d exceeds device limit %d",
				ErrInvalidArgument, len(framed), s.limits.MaxValueSize)
		}
		payload = framed
	}

	ctx := s.prepContext(OpStore, key, tag1, tag2, cb, slot)
	desc := &transport.Descriptor{
		Opcode:    OpStore,
		Container: container,
		Key:       key,
		Value:     payload,
		Option:    o.flags(),
		Ctx:       ctx,
	}
	if s.opts.ChecksumDescriptors {
		desc.Checksum = checksum.Mask(checksum.Extend(checksum.Value(key), payload))
	}

	if err := s.submit(desc, ctx); err != nil {
		return err
	}
	s.tick(TickerBytesWritten, uint64(len(payload)))
	s.measure(HistogramValueBytes, uint64(len(payload)))
	return nil
}

// Retrieve submits an asynchronous retrieve into the supplied container.
// The engine returns the container to the pool after the callback runs, so
// the callback must copy the bytes if it needs them later.
func (s *Session) Retrieve(container int, key []byte, value *Value, o *RetrieveOptions, tag1, tag2 any, cb CompletionCallback) error {
	return s.retrieve(container, key, value, o, tag1, tag2, cb, nil, true)
}

// RetrieveSync submits a retrieve and waits for its completion. The caller
// keeps ownership of the container and should return it with PutValue when
// done.
func (s *Session) RetrieveSync(container int, key []byte, value *Value, o *RetrieveOptions) error {
	slot := newSyncSlot()
	if err := s.retrieve(container, key, value, o, nil, nil, nil, slot, false); err != nil {
		return err
	}
	return s.waitSync(slot).Err()
}

func (s *Session) retrieve(container int, key []byte, value *Value, o *RetrieveOptions, tag1, tag2 any, cb CompletionCallback, slot *syncSlot, engineOwned bool) error {
	if err := s.validateKey(key); err != nil {
		return err
	}
	if value == nil {
		return fmt.Errorf("%w: retrieve needs a value container", ErrInvalidArgument)
	}
	if value.Cap() == 0 {
		return fmt.Errorf("%w: retrieve container has no capacity", ErrInvalidArgument)
	}

	ctx := s.prepContext(OpRetrieve, key, tag1, tag2, cb, slot)
	ctx.value = value
	ctx.releaseValue = engineOwned
	ctx.decompress = o != nil && o.Decompress

	desc := &transport.Descriptor{
		Opcode:     OpRetrieve,
		Container:  container,
		Key:        key,
		ResultSize: value.Cap(),
		Ctx:        ctx,
	}
	return s.submit(desc, ctx)
}

// Delete submits an asynchronous delete. Deleting an absent key completes
// with StatusKeyNotFound, a regular result.
func (s *Session) Delete(container int, key []byte, tag1, tag2 any, cb CompletionCallback) error {
	return s.del(container, key, tag1, tag2, cb, nil)
}

// DeleteSync submits a delete and waits for its completion.
func (s *Session) DeleteSync(container int, key []byte) error {
	slot := newSyncSlot()
	if err := s.del(container, key, nil, nil, nil, slot); err != nil {
		return err
	}
	return s.waitSync(slot).Err()
}

func (s *Session) del(container int, key []byte, tag1, tag2 any, cb CompletionCallback, slot *syncSlot) error {
	if err := s.validateKey(key); err != nil {
		return err
	}
	ctx := s.prepContext(OpDelete, key, tag1, tag2, cb, slot)
	desc := &transport.Descriptor{
		Opcode:    OpDelete,
		Container: container,
		Key:       key,
		Ctx:       ctx,
	}
	return s.submit(desc, ctx)
}

// Exist submits an asynchronous batch existence check. results must hold
// exactly one byte per key; on completion results[i] is 1 when keys[i] is
// present.
func (s *Session) Exist(container int, keys [][]byte, results []byte, tag1, tag2 any, cb CompletionCallback) error {
	return s.exist(container, keys, results, tag1, tag2, cb, nil)
}

// ExistSync submits a batch existence check and waits for its completion.
func (s *Session) ExistSync(container int, keys [][]byte, results []byte) error {
	slot := newSyncSlot()
	if err := s.exist(container, keys, results, nil, nil, nil, slot); err != nil {
		return err
	}
	return s.waitSync(slot).Err()
}

func (s *Session) exist(container int, keys [][]byte, results []byte, tag1, tag2 any, cb CompletionCallback, slot *syncSlot) error {
	if len(keys) == 0 {
		return fmt.Errorf("%w: exist batch is empty", ErrInvalidArgument)
	}
	if len(keys) > s.limits.MaxExistKeys {
		return fmt.Errorf("%w: exist batch of %d keys exceeds device limit %d",
			ErrInvalidArgument, len(keys), s.limits.MaxExistKeys)
	}
	if len(results) != len(keys) {
		return fmt.Errorf("%w: exist result buffer holds %d entries for %d keys",
			ErrInvalidArgument, len(results), len(keys))
	}
	for _, k := range keys {
		if err := s.validateKey(k); err != nil {
			return err
		}
	}

	ctx := s.prepContext(OpExist, nil, tag1, tag2, cb, slot)
	ctx.exist = results
	desc := &transport.Descriptor{
		Opcode:    OpExist,
		Container: container,
		Keys:      keys,
		Ctx:       ctx,
	}
	return s.submit(desc, ctx)
}

// validateKey applies the device-reported key bounds.
func (s *Session) validateKey(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("%w: key is empty", ErrInvalidArgument)
	}
	if len(key) < s.limits.MinKeySize {
		return fmt.Errorf("%w: key length %d below device minimum %d",
			ErrInvalidArgument, len(key), s.limits.MinKeySize)
	}
	if len(key) > s.limits.MaxKeySize {
		return fmt.Errorf("%w: key length %d exceeds device limit %d",
			ErrInvalidArgument, len(key), s.limits.MaxKeySize)
	}
	return nil
}

// prepContext borrows a context from the pool and binds the submission's
// callback and tags to it.
func (s *Session) prepContext(op Opcode, key []byte, tag1, tag2 any, cb CompletionCallback, slot *syncSlot) *opContext {
	ctx := s.pools.acquireContext()
	ctx.op = op
	ctx.sess = s
	ctx.key = key
	ctx.tag1 = tag1
	ctx.tag2 = tag2
	ctx.cb = cb
	ctx.slot = slot
	return ctx
}

// submit hands the descriptor to the transport queue. Asynchronous
// submissions report a full queue immediately; synchronous ones are allowed
// to drain completions and retry until the spin budget runs out.
func (s *Session) submit(desc *transport.Descriptor, ctx *opContext) error {
	if !s.ready() {
		s.pools.releaseContext(ctx)
		return fmt.Errorf("%w: session not accepting submissions", ErrDeviceNotReady)
	}

	s.inflight.Add(1)
	err := s.backend.Submit(desc)
	if err == nil {
		s.tick(TickerCommandsSubmitted, 1)
		return nil
	}

	if err == transport.ErrQueueFull && ctx.slot != nil {
		// Synchronous path: spin-poll the completion processor until a
		// slot frees or the budget is exhausted.
		deadline := s.deadline()
		for spin := 0; spin < s.opts.SyncSpinBudget && !expired(deadline); spin++ {
			if _, derr := s.drainAll(); derr != nil {
				err = derr
				break
			}
			err = s.backend.Submit(desc)
			if err == nil {
				s.tick(TickerCommandsSubmitted, 1)
				return nil
			}
			if err != transport.ErrQueueFull {
				break
			}
			runtime.Gosched()
		}
	}

	s.inflight.Add(-1)
	s.pools.releaseContext(ctx)
	if err == transport.ErrQueueFull {
		s.tick(TickerQueueFullRejections, 1)
		s.logger.Debugf(logging.NSSubmit+"%s rejected: queue full", desc.Opcode)
	}
	return err
}

// waitSync drives the completion processor until the slot fires, returning
// the operation's status. Exhausting the spin budget returns StatusTimeout;
// the operation itself may still complete later and will recycle its
// context when its completion is eventually drained.
func (s *Session) waitSync(slot *syncSlot) Status {
	deadline := s.deadline()
	for spin := 0; ; spin++ {
		if slot.completed() {
			s.measure(HistogramSyncWaitSpins, uint64(spin))
			return slot.status
		}
		if spin >= s.opts.SyncSpinBudget || expired(deadline) {
			s.tick(TickerSyncTimeouts, 1)
			s.logger.Warnf(logging.NSSubmit + "synchronous wait exhausted its spin budget")
			return StatusTimeout
		}
		if _, err := s.drainAll(); err != nil {
			// The queue is gone; the completion will never arrive.
			return StatusOf(err)
		}
		runtime.Gosched()
	}
}
