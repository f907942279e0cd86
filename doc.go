/*
Package udd implements a polling-mode, user-space driver that exposes a
key-value command interface (store, retrieve, delete, existence check, range
iteration) on top of a queue-pair-based storage device.

Key-value commands are submitted to a device submission queue and complete
asynchronously: the caller either supplies a completion callback and later
drives ProcessCompletions, or uses the synchronous variants, which spin on
the completion path internally. Per-operation state and value buffers are
pooled per session so the hot path does not allocate.

# Usage

	opts := udd.DefaultOptions()
	opts.DevicePath = "mem://kv0"
	sess, err := udd.Open(opts)
	if err != nil {
		// ...
	}
	defer sess.Close()

	err = sess.StoreSync(0, []byte("key1"), []byte("value1"), nil)

Asynchronous operations deliver their result through a callback invoked from
ProcessCompletions on whichever goroutine drives it:

	err = sess.Store(0, []byte("key2"), []byte("value2"), nil, tag, nil,
		func(res *udd.Result) {
			// inspect res.Status, copy res.Value if needed
		})
	// ...
	n, err := sess.ProcessCompletions(0)

# Concurrency

A Session is safe for concurrent use by multiple goroutines. The engine owns
no threads: the caller (or a small number of caller-designated polling
goroutines, one per completion queue) must drive ProcessCompletions or
ProcessQueue. Session.Poll starts one poller per completion queue for
callers that want that managed. Completions are delivered in the order the
device reports them, which need not match submission order; two operations
on the same key submitted concurrently have no ordering guarantee from this
layer.

Individual Iterator instances are not safe for concurrent use; each
goroutine should drive its own cursor.
*/
package udd
