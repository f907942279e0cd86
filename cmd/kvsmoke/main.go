// End-to-end smoke test for the udd key-value driver engine.
//
// Use `kvsmoke` to run a fast end-to-end check against an in-memory device:
// synchronous and asynchronous stores and retrieves, batch existence checks,
// prefix iteration, queue-full backpressure, and persistence across sessions.
//
// Run a smoke test:
//
// ```bash
// ./bin/kvsmoke -keys=10000 -value-size=1000
// ```
package main

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/openkvs/udd"
)

var (
	numKeys    = flag.Int("keys", 10000, "Number of keys to write")
	valueSize  = flag.Int("value-size", 1000, "Size of each value in bytes")
	queueDepth = flag.Int("queue-depth", 64, "Submission queue depth")
	devicePath = flag.String("device", "mem://kvsmoke", "Device path")
	dataDir    = flag.String("data", "", "Persistence directory (default: temp directory)")
	keepData   = flag.Bool("keep", false, "Keep persisted device state after test")
	verbose    = flag.Bool("v", false, "Verbose output")
)

func main() {
	flag.Parse()

	fmt.Println("╔══════════════════════════════════════════════════════════════╗")
	fmt.Println("║           udd Engine Smoke Test                              ║")
	fmt.Println("╠══════════════════════════════════════════════════════════════╣")
	fmt.Printf("║ Keys: %d, Value Size: %d bytes, Queue Depth: %d\n", *numKeys, *valueSize, *queueDepth)
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
	fmt.Println()

	var testDir string
	var err error
	if *dataDir == "" {
		testDir, err = os.MkdirTemp("", "kvsmoke-*")
		if err != nil {
			fatal("Failed to create temp dir: %v", err)
		}
		if !*keepData {
			defer os.RemoveAll(testDir)
		}
	} else {
		testDir = *dataDir
	}

	fmt.Print("🔧 Generating test data... ")
	start := time.Now()
	keys, values := generateTestData(*numKeys, *valueSize)
	fmt.Printf("done (%v)\n", time.Since(start))

	passed := 0
	failed := 0

	tests := []struct {
		name string
		fn   func(string, [][]byte, [][]byte) error
	}{
		{"Sync Store/Retrieve", testSyncStoreRetrieve},
		{"Async Store/Retrieve", testAsyncStoreRetrieve},
		{"Delete", testDelete},
		{"Store Options", testStoreOptions},
		{"Batch Exist", testExist},
		{"Compressed Values", testCompression},
		{"Prefix Iteration", testIteration},
		{"Queue Backpressure", testQueueBackpressure},
		{"Statistics", testStatistics},
		{"Persistence (Close/Reopen)", testPersistence},
		{"Device Telemetry", testTelemetry},
	}

	for _, t := range tests {
		fmt.Printf("\n🧪 Test: %s\n", t.name)
		start := time.Now()
		err := t.fn(testDir, keys, values)
		elapsed := time.Since(start)

		if err != nil {
			fmt.Printf("   ❌ FAILED: %v (%v)\n", err, elapsed)
			failed++
		} else {
			fmt.Printf("   ✅ PASSED (%v)\n", elapsed)
			passed++
		}
	}

	fmt.Println()
	fmt.Println("═══════════════════════════════════════════════════════════════")
	fmt.Printf("Results: %d passed, %d failed\n", passed, failed)
	if failed > 0 {
		fmt.Println("❌ SMOKE TEST FAILED")
		os.Exit(1)
	}
	fmt.Println("✅ SMOKE TEST PASSED")
}

func generateTestData(n int, valueSize int) ([][]byte, [][]byte) {
	keys := make([][]byte, n)
	values := make([][]byte, n)

	for i := 0; i < n; i++ {
		keys[i] = fmt.Appendf(nil, "key%08d", i)
		values[i] = make([]byte, valueSize)
		rand.Read(values[i])
		copy(values[i], fmt.Sprintf("idx=%08d|", i))
	}

	return keys, values
}

func openSession(opts *udd.Options) (*udd.Session, error) {
	if opts == nil {
		opts = udd.DefaultOptions()
	}
	opts.DevicePath = *devicePath
	opts.QueueDepth = *queueDepth
	return udd.Open(opts)
}

// Test 1: synchronous store and retrieve round trip.
func testSyncStoreRetrieve(_ string, keys, values [][]byte) error {
	sess, err := openSession(nil)
	if err != nil {
		return fmt.Errorf("open failed: %w", err)
	}
	defer sess.Close()

	for i := range keys {
		if err := sess.StoreSync(0, keys[i], values[i], nil); err != nil {
			return fmt.Errorf("store %d failed: %w", i, err)
		}
	}
	log("  Stored %d keys", len(keys))

	val := sess.GetValue(*valueSize)
	defer sess.PutValue(val)
	for i := range keys {
		if err := sess.RetrieveSync(0, keys[i], val, nil); err != nil {
			return fmt.Errorf("retrieve %d failed: %w", i, err)
		}
		if !bytes.Equal(val.Bytes(), values[i]) {
			return fmt.Errorf("value mismatch at key %d", i)
		}
	}
	log("  Verified %d keys", len(keys))

	return nil
}

// Test 2: asynchronous submissions driven by a polling loop.
func testAsyncStoreRetrieve(_ string, keys, values [][]byte) error {
	sess, err := openSession(nil)
	if err != nil {
		return fmt.Errorf("open failed: %w", err)
	}
	defer sess.Close()

	var completed atomic.Int64
	var failures atomic.Int64
	cb := func(res *udd.Result) {
		if res.Status != udd.StatusOK {
			failures.Add(1)
		}
		completed.Add(1)
	}

	submitted := 0
	for i := range keys {
		for {
			err := sess.Store(0, keys[i], values[i], nil, i, nil, cb)
			if err == nil {
				submitted++
				break
			}
			if !errors.Is(err, udd.ErrQueueFull) {
				return fmt.Errorf("store %d failed: %w", i, err)
			}
			if _, err := sess.ProcessCompletions(0); err != nil {
				return fmt.Errorf("poll failed: %w", err)
			}
		}
	}
	for completed.Load() < int64(submitted) {
		if _, err := sess.ProcessCompletions(0); err != nil {
			return fmt.Errorf("drain failed: %w", err)
		}
	}
	if failures.Load() > 0 {
		return fmt.Errorf("%d async stores failed", failures.Load())
	}
	log("  Stored %d keys asynchronously", submitted)

	// Spot-check with synchronous retrieves.
	val := sess.GetValue(*valueSize)
	defer sess.PutValue(val)
	step := max(len(keys)/100, 1)
	checked := 0
	for i := 0; i < len(keys); i += step {
		if err := sess.RetrieveSync(0, keys[i], val, nil); err != nil {
			return fmt.Errorf("retrieve %d failed: %w", i, err)
		}
		if !bytes.Equal(val.Bytes(), values[i]) {
			return fmt.Errorf("value mismatch at key %d", i)
		}
		checked++
	}
	log("  Verified %d sampled keys", checked)

	return nil
}

// Test 3: delete semantics, including key-not-found as a result code.
func testDelete(_ string, keys, values [][]byte) error {
	sess, err := openSession(nil)
	if err != nil {
		return fmt.Errorf("open failed: %w", err)
	}
	defer sess.Close()

	n := min(100, len(keys))
	for i := 0; i < n; i++ {
		if err := sess.StoreSync(0, keys[i], values[i], nil); err != nil {
			return fmt.Errorf("store failed: %w", err)
		}
	}
	for i := 1; i < n; i += 2 {
		if err := sess.DeleteSync(0, keys[i]); err != nil {
			return fmt.Errorf("delete %d failed: %w", i, err)
		}
	}

	val := sess.GetValue(*valueSize)
	defer sess.PutValue(val)
	for i := 0; i < n; i++ {
		err := sess.RetrieveSync(0, keys[i], val, nil)
		if i%2 == 0 {
			if err != nil {
				return fmt.Errorf("even key %d should exist: %w", i, err)
			}
		} else if !errors.Is(err, udd.ErrKeyNotFound) {
			return fmt.Errorf("odd key %d should be deleted, got: %w", i, err)
		}
	}
	log("  Verified delete: %d exist, %d deleted", (n+1)/2, n/2)

	// Deleting an absent key is a regular result, not a driver error.
	if err := sess.DeleteSync(0, []byte("never-stored")); !errors.Is(err, udd.ErrKeyNotFound) {
		return fmt.Errorf("delete of absent key: expected ErrKeyNotFound, got %w", err)
	}
	log("  Delete of absent key reports KeyNotFound")

	return nil
}

// Test 4: idempotent, update-only, and append store flags.
func testStoreOptions(_ string, keys, values [][]byte) error {
	sess, err := openSession(nil)
	if err != nil {
		return fmt.Errorf("open failed: %w", err)
	}
	defer sess.Close()

	key := []byte("opts-key")
	if err := sess.StoreSync(0, key, []byte("first"), &udd.StoreOptions{Idempotent: true}); err != nil {
		return fmt.Errorf("idempotent first store failed: %w", err)
	}
	err = sess.StoreSync(0, key, []byte("second"), &udd.StoreOptions{Idempotent: true})
	if !errors.Is(err, udd.ErrKeyExists) {
		return fmt.Errorf("idempotent second store: expected ErrKeyExists, got %w", err)
	}

	err = sess.StoreSync(0, []byte("missing!"), []byte("x"), &udd.StoreOptions{UpdateOnly: true})
	if !errors.Is(err, udd.ErrKeyNotFound) {
		return fmt.Errorf("update-only store: expected ErrKeyNotFound, got %w", err)
	}

	if err := sess.StoreSync(0, key, []byte("-more"), &udd.StoreOptions{Append: true}); err != nil {
		return fmt.Errorf("append store failed: %w", err)
	}
	val := sess.GetValue(64)
	defer sess.PutValue(val)
	if err := sess.RetrieveSync(0, key, val, nil); err != nil {
		return fmt.Errorf("retrieve failed: %w", err)
	}
	if string(val.Bytes()) != "first-more" {
		return fmt.Errorf("append result mismatch: got %q", val.Bytes())
	}
	log("  Verified idempotent, update-only, and append flags")

	return nil
}

// Test 5: batch existence check.
func testExist(_ string, keys, values [][]byte) error {
	sess, err := openSession(nil)
	if err != nil {
		return fmt.Errorf("open failed: %w", err)
	}
	defer sess.Close()

	n := min(64, len(keys))
	for i := 0; i < n; i += 2 {
		if err := sess.StoreSync(0, keys[i], values[i], nil); err != nil {
			return fmt.Errorf("store failed: %w", err)
		}
	}

	results := make([]byte, n)
	if err := sess.ExistSync(0, keys[:n], results); err != nil {
		return fmt.Errorf("exist failed: %w", err)
	}
	for i := 0; i < n; i++ {
		want := byte(0)
		if i%2 == 0 {
			want = 1
		}
		if results[i] != want {
			return fmt.Errorf("exist[%d] = %d, want %d", i, results[i], want)
		}
	}
	log("  Verified existence of %d keys in one batch", n)

	return nil
}

// Test 6: compressed store and decompressed retrieve.
func testCompression(_ string, keys, values [][]byte) error {
	for _, ct := range []udd.CompressionType{
		udd.SnappyCompression, udd.LZ4Compression, udd.ZstdCompression,
	} {
		opts := udd.DefaultOptions()
		opts.Compression = ct
		sess, err := openSession(opts)
		if err != nil {
			return fmt.Errorf("open with %s failed: %w", ct, err)
		}

		// Compressible payload.
		payload := bytes.Repeat([]byte("udd-compresses-this "), 200)
		key := []byte("compressed-key")
		if err := sess.StoreSync(0, key, payload, &udd.StoreOptions{Compress: true}); err != nil {
			sess.Close()
			return fmt.Errorf("%s store failed: %w", ct, err)
		}

		val := sess.GetValue(len(payload) + 64)
		err = sess.RetrieveSync(0, key, val, &udd.RetrieveOptions{Decompress: true})
		if err != nil {
			sess.Close()
			return fmt.Errorf("%s retrieve failed: %w", ct, err)
		}
		if !bytes.Equal(val.Bytes(), payload) {
			sess.Close()
			return fmt.Errorf("%s round trip mismatch", ct)
		}
		sess.PutValue(val)
		sess.Close()
		log("  %s round trip ok (%d bytes)", ct, len(payload))
	}

	return nil
}

// Test 7: device-side prefix iteration with bitmask/pattern matching.
func testIteration(_ string, keys, values [][]byte) error {
	sess, err := openSession(nil)
	if err != nil {
		return fmt.Errorf("open failed: %w", err)
	}
	defer sess.Close()

	// Two key families distinguished by their 4-byte prefix.
	const nPer = 100
	for i := 0; i < nPer; i++ {
		if err := sess.StoreSync(0, fmt.Appendf(nil, "AAAA%06d", i), []byte("a"), nil); err != nil {
			return fmt.Errorf("store failed: %w", err)
		}
		if err := sess.StoreSync(0, fmt.Appendf(nil, "BBBB%06d", i), []byte("b"), nil); err != nil {
			return fmt.Errorf("store failed: %w", err)
		}
	}

	pattern := binary.BigEndian.Uint32([]byte("AAAA"))
	it, err := sess.OpenIterator(0, 0xFFFFFFFF, pattern)
	if err != nil {
		return fmt.Errorf("open iterator failed: %w", err)
	}

	batch := udd.NewIteratorBatch(udd.IterEntryOverhead + sess.Limits().MaxKeySize)
	seen := 0
	for {
		if err := sess.IteratorNextSync(it, batch); err != nil {
			return fmt.Errorf("iterator next failed: %w", err)
		}
		for _, k := range batch.Keys {
			if !bytes.HasPrefix(k, []byte("AAAA")) {
				return fmt.Errorf("iterator leaked key %q past the prefix filter", k)
			}
			seen++
		}
		if batch.Exhausted {
			break
		}
	}
	if seen != nPer {
		return fmt.Errorf("iterator returned %d keys, want %d", seen, nPer)
	}
	log("  Iterated %d matching keys, 0 leaked", seen)

	if err := sess.CloseIterator(it); err != nil {
		return fmt.Errorf("close iterator failed: %w", err)
	}
	if err := sess.IteratorNextSync(it, batch); !errors.Is(err, udd.ErrInvalidIteratorHandle) {
		return fmt.Errorf("next on closed iterator: expected ErrInvalidIteratorHandle, got %w", err)
	}
	log("  Closed cursor rejects further use")

	return nil
}

// Test 8: queue-full rejection and recovery after polling.
func testQueueBackpressure(_ string, keys, values [][]byte) error {
	opts := udd.DefaultOptions()
	opts.QueueDepth = 4
	sess, err := openSession(opts)
	if err != nil {
		return fmt.Errorf("open failed: %w", err)
	}
	defer sess.Close()

	cb := func(*udd.Result) {}

	// Fill the queue without polling.
	n := 0
	for i := range keys {
		err := sess.Store(0, keys[i], values[i], nil, nil, nil, cb)
		if errors.Is(err, udd.ErrQueueFull) {
			break
		}
		if err != nil {
			return fmt.Errorf("store failed: %w", err)
		}
		n++
	}
	if n != 4 {
		return fmt.Errorf("queue accepted %d submissions at depth 4", n)
	}
	log("  Queue rejected submission %d at depth 4", n+1)

	// Draining one completion frees one slot.
	if _, err := sess.ProcessCompletions(1); err != nil {
		return fmt.Errorf("poll failed: %w", err)
	}
	if err := sess.Store(0, keys[n], values[n], nil, nil, nil, cb); err != nil {
		return fmt.Errorf("store after drain failed: %w", err)
	}
	log("  Submission accepted after draining one completion")

	for sess.Outstanding() > 0 {
		if _, err := sess.ProcessCompletions(0); err != nil {
			return fmt.Errorf("drain failed: %w", err)
		}
	}

	return nil
}

// Test 9: statistics tickers reflect engine activity.
func testStatistics(_ string, keys, values [][]byte) error {
	opts := udd.DefaultOptions()
	opts.Statistics = udd.NewStatistics()
	sess, err := openSession(opts)
	if err != nil {
		return fmt.Errorf("open failed: %w", err)
	}
	defer sess.Close()

	n := min(100, len(keys))
	for i := 0; i < n; i++ {
		if err := sess.StoreSync(0, keys[i], values[i], nil); err != nil {
			return fmt.Errorf("store failed: %w", err)
		}
	}

	stats := sess.Statistics()
	if got := stats.GetTickerCount(udd.TickerCommandsSubmitted); got < uint64(n) {
		return fmt.Errorf("submitted ticker = %d, want >= %d", got, n)
	}
	if got := stats.GetTickerCount(udd.TickerCompletionsProcessed); got < uint64(n) {
		return fmt.Errorf("completions ticker = %d, want >= %d", got, n)
	}
	log("  Tickers: %d submitted, %d completed, %d bytes written",
		stats.GetTickerCount(udd.TickerCommandsSubmitted),
		stats.GetTickerCount(udd.TickerCompletionsProcessed),
		stats.GetTickerCount(udd.TickerBytesWritten))

	return nil
}

// Test 10: persisted device contents survive close/reopen.
func testPersistence(dir string, keys, values [][]byte) error {
	dataPath := filepath.Join(dir, "persist.yaml")
	os.Remove(dataPath)

	opts := udd.DefaultOptions()
	opts.Persistent = true
	opts.DataPath = dataPath

	n := min(200, len(keys))

	// Session 1: write and close.
	sess, err := openSession(opts)
	if err != nil {
		return fmt.Errorf("open failed: %w", err)
	}
	for i := 0; i < n; i++ {
		if err := sess.StoreSync(0, keys[i], values[i], nil); err != nil {
			sess.Close()
			return fmt.Errorf("store failed: %w", err)
		}
	}
	if err := sess.Close(); err != nil {
		return fmt.Errorf("close failed: %w", err)
	}
	log("  Session 1: stored %d keys and closed", n)

	// Session 2: verify.
	opts2 := udd.DefaultOptions()
	opts2.Persistent = true
	opts2.DataPath = dataPath
	sess2, err := openSession(opts2)
	if err != nil {
		return fmt.Errorf("reopen failed: %w", err)
	}
	defer sess2.Close()

	val := sess2.GetValue(*valueSize)
	defer sess2.PutValue(val)
	for i := 0; i < n; i++ {
		if err := sess2.RetrieveSync(0, keys[i], val, nil); err != nil {
			return fmt.Errorf("retrieve %d after reopen failed: %w", i, err)
		}
		if !bytes.Equal(val.Bytes(), values[i]) {
			return fmt.Errorf("value mismatch at key %d after reopen", i)
		}
	}
	log("  Session 2: verified %d keys after reopen", n)

	return nil
}

// Test 11: capacity, utilization, WAF, and identity queries.
func testTelemetry(_ string, keys, values [][]byte) error {
	sess, err := openSession(nil)
	if err != nil {
		return fmt.Errorf("open failed: %w", err)
	}
	defer sess.Close()

	n := min(100, len(keys))
	for i := 0; i < n; i++ {
		if err := sess.StoreSync(0, keys[i], values[i], nil); err != nil {
			return fmt.Errorf("store failed: %w", err)
		}
	}

	used, total, err := sess.Capacity()
	if err != nil {
		return fmt.Errorf("capacity failed: %w", err)
	}
	if used <= 0 || total <= 0 || used > total {
		return fmt.Errorf("implausible capacity: used=%d total=%d", used, total)
	}

	waf, err := sess.WAF()
	if err != nil {
		return fmt.Errorf("WAF failed: %w", err)
	}
	if waf < 1.0 {
		return fmt.Errorf("WAF %f below 1.0", waf)
	}

	info, err := sess.DeviceInfo()
	if err != nil {
		return fmt.Errorf("device info failed: %w", err)
	}
	log("  Device: %s %s, used %d / %d bytes, WAF %.2f", info.Vendor, info.Model, used, total, waf)

	return nil
}

func log(format string, args ...any) {
	if *verbose {
		fmt.Printf(format+"\n", args...)
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FATAL: "+format+"\n", args...)
	os.Exit(1)
}
