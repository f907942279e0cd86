package udd

// value.go implements the reusable value container.

// Value is a reusable byte-buffer handle for a key's value payload.
//
// Ownership: a Value is handed to the caller for the duration of one
// store/retrieve call. On the synchronous path the caller returns it with
// Session.PutValue when done; on the asynchronous path the engine returns it
// to the pool as soon as the completion callback has run, so callbacks must
// copy the bytes if they need them afterwards.
type Value struct {
	buf    []byte
	actual int
}

// Bytes returns the payload currently held by the container. The slice is
// only valid until the container is returned to the pool.
func (v *Value) Bytes() []byte {
	return v.buf
}

// Len returns the number of payload bytes held.
func (v *Value) Len() int {
	return len(v.buf)
}

// ActualSize returns the full length of the value on the device, which can
// exceed Len when a retrieve was satisfied into a smaller container.
func (v *Value) ActualSize() int {
	return v.actual
}

// Cap returns the container capacity. A retrieve fills at most Cap bytes.
func (v *Value) Cap() int {
	return cap(v.buf)
}

// SetBytes replaces the payload with a copy of p.
func (v *Value) SetBytes(p []byte) {
	v.buf = append(v.buf[:0], p...)
	v.actual = len(p)
}

// setPayload installs retrieved bytes and the device-reported full length.
func (v *Value) setPayload(p []byte, actual int) {
	v.buf = append(v.buf[:0], p...)
	v.actual = actual
}

// reset clears payload metadata without freeing the backing buffer.
func (v *Value) reset() {
	v.buf = v.buf[:0]
	v.actual = 0
}
