package stats

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Histogram bounds in microseconds: 1µs to 1 minute, 3 significant digits.
const (
	minLatencyMicros = 1
	maxLatencyMicros = 60 * 1000 * 1000
	sigFigs          = 3
)

func newHistogram() *hdrhistogram.Histogram {
	return hdrhistogram.New(minLatencyMicros, maxLatencyMicros, sigFigs)
}

// LatencySummary is a histogram read out in microseconds.
type LatencySummary struct {
	Count int64
	P50   int64
	P95   int64
	P99   int64
	Max   int64
	Mean  float64
}

func summarize(h *hdrhistogram.Histogram) LatencySummary {
	if h.TotalCount() == 0 {
		return LatencySummary{}
	}
	return LatencySummary{
		Count: h.TotalCount(),
		P50:   h.ValueAtQuantile(50),
		P95:   h.ValueAtQuantile(95),
		P99:   h.ValueAtQuantile(99),
		Max:   h.Max(),
		Mean:  h.Mean(),
	}
}

// PerformanceStats tracks latencies of one kind of operation, overall and
// for the interval since the last TakeInterval call.
type PerformanceStats struct {
	mu        sync.Mutex
	total     int64
	failed    int64
	overall   *hdrhistogram.Histogram
	interval  *hdrhistogram.Histogram
	intFailed int64
	startTime time.Time
}

func NewPerformanceStats() *PerformanceStats {
	return &PerformanceStats{
		overall:   newHistogram(),
		interval:  newHistogram(),
		startTime: time.Now(),
	}
}

// RecordLatency records a successful operation. Values outside the
// histogram range are clamped.
func (ps *PerformanceStats) RecordLatency(d time.Duration) {
	v := d.Microseconds()
	if v < minLatencyMicros {
		v = minLatencyMicros
	} else if v > maxLatencyMicros {
		v = maxLatencyMicros
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.total++
	_ = ps.overall.RecordValue(v)
	_ = ps.interval.RecordValue(v)
}

func (ps *PerformanceStats) RecordError() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.total++
	ps.failed++
	ps.intFailed++
}

// Counts returns total and failed operations.
func (ps *PerformanceStats) Counts() (total, failed int64) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.total, ps.failed
}

func (ps *PerformanceStats) QPS() float64 {
	elapsed := time.Since(ps.startTime).Seconds()
	if elapsed == 0 {
		return 0
	}
	total, _ := ps.Counts()
	return float64(total) / elapsed
}

func (ps *PerformanceStats) Overall() LatencySummary {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return summarize(ps.overall)
}

// TakeInterval returns the latencies and error count recorded since the
// previous call and starts a new interval.
func (ps *PerformanceStats) TakeInterval() (LatencySummary, int64) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	s, failed := summarize(ps.interval), ps.intFailed
	ps.interval.Reset()
	ps.intFailed = 0
	return s, failed
}
