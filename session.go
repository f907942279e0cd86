package udd

// session.go implements the device session facade.

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openkvs/udd/internal/logging"
	"github.com/openkvs/udd/internal/transport"
)

// Opcode identifies a device command.
type Opcode = transport.Opcode

// Opcode constants.
const (
	OpStore     = transport.OpStore
	OpRetrieve  = transport.OpRetrieve
	OpDelete    = transport.OpDelete
	OpExist     = transport.OpExist
	OpIterOpen  = transport.OpIterOpen
	OpIterClose = transport.OpIterClose
	OpIterNext  = transport.OpIterNext
)

// Session is one open device. It owns the transport backend, the resource
// pools, and the configuration fixed at Open time.
//
// A Session is safe for concurrent use. See the package documentation for
// the polling contract.
type Session struct {
	opts        *Options
	backend     transport.Backend
	statusTable transport.StatusTable
	limits      transport.Limits
	pools       *resourcePools
	logger      logging.Logger
	stats       *Statistics

	// inflight counts submitted-but-not-completed operations; Close
	// drains it to zero before tearing the backend down.
	inflight atomic.Int64

	closed   atomic.Bool
	notReady atomic.Bool
}

// Open creates a session on the device selected by opts.DevicePath. The
// backend is chosen by the path's scheme through the transport registry.
func Open(opts *Options) (*Session, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	backend, err := transport.Open(opts.DevicePath)
	if err != nil {
		return nil, err
	}
	return OpenWith(backend, opts)
}

// OpenWith creates a session on a caller-constructed, uninitialized backend.
// This is how alternative device backends are plugged in without touching
// the engine.
func OpenWith(backend transport.Backend, opts *Options) (*Session, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	opts = opts.clone()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	logger := logging.OrDefault(opts.Logger)

	err := backend.Init(transport.Config{
		Path:         opts.DevicePath,
		Sync:         opts.SyncDeviceInit,
		QueueDepth:   opts.QueueDepth,
		SQCoreMask:   opts.SQCoreMask,
		CQCoreMask:   opts.CQCoreMask,
		NumCQThreads: opts.NumCQThreads,
		MemSizeMB:    opts.MemSizeMB,
		Persist:      opts.Persistent,
		DataPath:     opts.DataPath,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: init %s: %v", ErrDeviceNotReady, opts.DevicePath, err)
	}

	s := &Session{
		opts:        opts,
		backend:     backend,
		statusTable: backend.StatusTable(),
		limits:      backend.Limits(),
		pools:       newResourcePools(opts.ContextPoolSize, opts.ValuePoolSize, opts.Statistics),
		logger:      logger,
		stats:       opts.Statistics,
	}

	// A fatal log latches the session: further submissions are rejected
	// with StatusDeviceNotReady while draining may continue.
	if dl, ok := logger.(*logging.DefaultLogger); ok {
		dl.SetFatalHandler(func(string) { s.notReady.Store(true) })
	}

	logger.Infof(logging.NSSession+"opened %s (queue depth %d, %d cq)",
		opts.DevicePath, opts.QueueDepth, backend.CompletionQueues())
	return s, nil
}

// Close drains outstanding completions and tears down the backend. If the
// drain budget is exhausted while operations are still in flight the
// backend is closed anyway and ErrTimeout is returned; their callbacks will
// never fire.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	var drainErr error
	deadline := s.deadline()
	for spin := 0; s.inflight.Load() > 0; spin++ {
		if spin >= s.opts.SyncSpinBudget || expired(deadline) {
			s.logger.Warnf(logging.NSSession+"closing with %d operations in flight",
				s.inflight.Load())
			drainErr = fmt.Errorf("%w: close drain abandoned", ErrTimeout)
			break
		}
		if _, err := s.drainAll(); err != nil {
			drainErr = err
			break
		}
		runtime.Gosched()
	}

	s.notReady.Store(true)
	if err := s.backend.Close(); err != nil {
		return err
	}
	s.logger.Infof(logging.NSSession + "closed")
	return drainErr
}

// Poll runs one completion poller per completion queue until ctx is
// cancelled. It is a convenience for callers that do not want to drive
// ProcessQueue themselves; the goroutines belong to the errgroup, not to
// the engine.
func (s *Session) Poll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for q := 0; q < s.backend.CompletionQueues(); q++ {
		q := q
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				default:
				}
				n, err := s.ProcessQueue(q, 0)
				if err != nil {
					return err
				}
				if n == 0 {
					runtime.Gosched()
				}
			}
		})
	}
	return g.Wait()
}

// GetValue returns a pooled value container with at least minCap bytes of
// capacity.
func (s *Session) GetValue(minCap int) *Value {
	return s.pools.acquireValue(minCap)
}

// PutValue returns a value container to the pool. The caller must not touch
// the container afterwards.
func (s *Session) PutValue(v *Value) {
	s.pools.releaseValue(v)
}

// Limits returns the device-reported sizing bounds.
func (s *Session) Limits() DeviceLimits {
	return s.limits
}

// QueueDepth returns the session's fixed submission queue depth.
func (s *Session) QueueDepth() int {
	return s.opts.QueueDepth
}

// CompletionQueues returns the number of completion queues; ProcessQueue
// accepts indices in [0, CompletionQueues).
func (s *Session) CompletionQueues() int {
	return s.backend.CompletionQueues()
}

// Outstanding returns the number of submitted operations whose completions
// have not yet been observed.
func (s *Session) Outstanding() int {
	return int(s.inflight.Load())
}

// Statistics returns the statistics sink attached at Open, or nil.
func (s *Session) Statistics() *Statistics {
	return s.stats
}

// ready reports whether submissions are currently accepted.
func (s *Session) ready() bool {
	return !s.closed.Load() && !s.notReady.Load()
}

func (s *Session) tick(t TickerType, n uint64) {
	if s.stats != nil {
		s.stats.RecordTick(t, n)
	}
}

func (s *Session) measure(h HistogramType, v uint64) {
	if s.stats != nil {
		s.stats.MeasureValue(h, v)
	}
}

// deadline computes the wall-clock bound for a synchronous wait; the zero
// time means no bound.
func (s *Session) deadline() time.Time {
	if s.opts.SyncTimeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(s.opts.SyncTimeout)
}

func expired(deadline time.Time) bool {
	return !deadline.IsZero() && time.Now().After(deadline)
}
