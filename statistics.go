package udd

// statistics.go implements ticker and histogram collection for the engine.
//
// A Statistics instance is optional: attach one through Options.Statistics
// to collect counters. All methods are safe for concurrent use from
// submission and completion-polling goroutines.

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// TickerType represents different types of counters.
type TickerType int

const (
	// TickerCommandsSubmitted is the count of commands accepted by the
	// transport.
	TickerCommandsSubmitted TickerType = iota
	// TickerCompletionsProcessed is the count of completions drained and
	// dispatched.
	TickerCompletionsProcessed
	// TickerQueueFullRejections is the count of submissions rejected with
	// StatusQueueFull.
	TickerQueueFullRejections
	// TickerSyncTimeouts is the count of synchronous calls that exhausted
	// their spin budget.
	TickerSyncTimeouts
	// TickerBytesWritten is the total payload bytes handed to store
	// commands.
	TickerBytesWritten
	// TickerBytesRead is the total payload bytes returned by retrieve
	// completions.
	TickerBytesRead
	// TickerKeysIterated is the count of keys returned by iterator
	// batches.
	TickerKeysIterated
	// TickerIteratorBatches is the count of iterator-next completions.
	TickerIteratorBatches
	// TickerContextPoolHits counts contexts served from the free-list.
	TickerContextPoolHits
	// TickerContextPoolMisses counts contexts freshly constructed.
	TickerContextPoolMisses
	// TickerValuePoolHits counts value containers served from the
	// free-list.
	TickerValuePoolHits
	// TickerValuePoolMisses counts value containers freshly constructed.
	TickerValuePoolMisses

	// TickerEnumMax is the maximum ticker type for sizing arrays.
	TickerEnumMax
)

// String returns the name of the ticker type.
func (t TickerType) String() string {
	names := []string{
		"udd.commands.submitted",
		"udd.completions.processed",
		"udd.queue.full.rejections",
		"udd.sync.timeouts",
		"udd.bytes.written",
		"udd.bytes.read",
		"udd.iter.keys",
		"udd.iter.batches",
		"udd.pool.context.hits",
		"udd.pool.context.misses",
		"udd.pool.value.hits",
		"udd.pool.value.misses",
	}
	if int(t) < len(names) {
		return names[t]
	}
	return "unknown"
}

// HistogramType represents different types of histograms.
type HistogramType int

const (
	// HistogramSyncWaitSpins is the histogram of poll rounds spent per
	// synchronous call.
	HistogramSyncWaitSpins HistogramType = iota
	// HistogramValueBytes is the histogram of value payload sizes.
	HistogramValueBytes
	// HistogramIterBatchKeys is the histogram of keys per iterator batch.
	HistogramIterBatchKeys

	// HistogramEnumMax is the maximum histogram type for sizing arrays.
	HistogramEnumMax
)

// String returns the name of the histogram type.
func (h HistogramType) String() string {
	names := []string{
		"udd.sync.wait.spins",
		"udd.value.bytes",
		"udd.iter.batch.keys",
	}
	if int(h) < len(names) {
		return names[h]
	}
	return "unknown"
}

// HistogramData holds aggregated histogram statistics.
type HistogramData struct {
	Count   uint64
	Sum     uint64
	Min     float64
	Max     float64
	Average float64
}

// Statistics collects engine metrics.
type Statistics struct {
	tickers    [TickerEnumMax]uint64
	histograms [HistogramEnumMax]*histogramImpl
}

// histogramImpl is a simple streaming histogram.
type histogramImpl struct {
	min   uint64
	max   uint64
	sum   uint64
	count uint64
}

// NewStatistics creates a new Statistics instance.
func NewStatistics() *Statistics {
	s := &Statistics{}
	for i := range s.histograms {
		s.histograms[i] = &histogramImpl{min: ^uint64(0)}
	}
	return s
}

// GetTickerCount returns the current value of a ticker.
func (s *Statistics) GetTickerCount(tickerType TickerType) uint64 {
	if tickerType < 0 || tickerType >= TickerEnumMax {
		return 0
	}
	return atomic.LoadUint64(&s.tickers[tickerType])
}

// RecordTick increments a ticker by count.
func (s *Statistics) RecordTick(tickerType TickerType, count uint64) {
	if tickerType < 0 || tickerType >= TickerEnumMax {
		return
	}
	atomic.AddUint64(&s.tickers[tickerType], count)
}

// SetTickerCount sets the ticker to a specific value.
func (s *Statistics) SetTickerCount(tickerType TickerType, count uint64) {
	if tickerType < 0 || tickerType >= TickerEnumMax {
		return
	}
	atomic.StoreUint64(&s.tickers[tickerType], count)
}

// GetHistogramData returns histogram statistics.
func (s *Statistics) GetHistogramData(histogramType HistogramType) HistogramData {
	if histogramType < 0 || histogramType >= HistogramEnumMax {
		return HistogramData{}
	}

	h := s.histograms[histogramType]
	count := atomic.LoadUint64(&h.count)
	if count == 0 {
		return HistogramData{}
	}

	sum := atomic.LoadUint64(&h.sum)
	minV := atomic.LoadUint64(&h.min)
	maxV := atomic.LoadUint64(&h.max)

	return HistogramData{
		Count:   count,
		Sum:     sum,
		Min:     float64(minV),
		Max:     float64(maxV),
		Average: float64(sum) / float64(count),
	}
}

// MeasureValue records a value to a histogram.
func (s *Statistics) MeasureValue(histogramType HistogramType, value uint64) {
	if histogramType < 0 || histogramType >= HistogramEnumMax {
		return
	}

	h := s.histograms[histogramType]
	atomic.AddUint64(&h.count, 1)
	atomic.AddUint64(&h.sum, value)

	for {
		old := atomic.LoadUint64(&h.min)
		if value >= old {
			break
		}
		if atomic.CompareAndSwapUint64(&h.min, old, value) {
			break
		}
	}

	for {
		old := atomic.LoadUint64(&h.max)
		if value <= old {
			break
		}
		if atomic.CompareAndSwapUint64(&h.max, old, value) {
			break
		}
	}
}

// Reset clears all statistics. Safe to call while other goroutines record;
// histograms are cleared field by field rather than swapped out, so a
// concurrent measurement lands in either the old or the new window.
func (s *Statistics) Reset() {
	for i := range s.tickers {
		atomic.StoreUint64(&s.tickers[i], 0)
	}
	for _, h := range s.histograms {
		atomic.StoreUint64(&h.count, 0)
		atomic.StoreUint64(&h.sum, 0)
		atomic.StoreUint64(&h.min, ^uint64(0))
		atomic.StoreUint64(&h.max, 0)
	}
}

// String returns a formatted string of all statistics.
func (s *Statistics) String() string {
	var b strings.Builder
	for t := TickerType(0); t < TickerEnumMax; t++ {
		fmt.Fprintf(&b, "%s COUNT : %d\n", t, s.GetTickerCount(t))
	}
	for h := HistogramType(0); h < HistogramEnumMax; h++ {
		data := s.GetHistogramData(h)
		fmt.Fprintf(&b, "%s COUNT : %d SUM : %d AVG : %.2f\n",
			h, data.Count, data.Sum, data.Average)
	}
	return b.String()
}
