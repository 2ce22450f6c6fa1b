// Package stats aggregates iteration reports into latency histograms and
// counters and exports them to the console, CSV, CloudWatch and Prometheus.
package stats

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis-performance/grpc-cache-loadtest/internal/check"
	"github.com/redis-performance/grpc-cache-loadtest/internal/target"
	"github.com/redis-performance/grpc-cache-loadtest/internal/workflow"
)

// Ops lists the operations tracked, in workflow order.
var Ops = []string{target.OpSet, target.OpGet, target.OpDelete}

// CheckCounts is the tally of one named check.
type CheckCounts struct {
	Name    string
	Passed  int64
	Failed  int64
	Skipped int64
}

func (c CheckCounts) Total() int64 { return c.Passed + c.Failed + c.Skipped }

// WorkloadStats is safe for concurrent use by all VUs.
type WorkloadStats struct {
	OpStats    map[string]*PerformanceStats
	Connect    *PerformanceStats
	Iterations *PerformanceStats

	FullIterations    atomic.Int64
	PartialIterations atomic.Int64
	// FailedIterations ended with a connection or RPC error.
	FailedIterations atomic.Int64
	// InterruptedIterations were cut off by the graceful stop. They are
	// not failures of the target.
	InterruptedIterations atomic.Int64
	ConnectionErrors      atomic.Int64
	// RPCErrors counts calls that got no response.
	RPCErrors atomic.Int64
	StartTime time.Time

	checksMu   sync.Mutex
	checks     map[string]*CheckCounts
	checkOrder []string
}

func NewWorkloadStats() *WorkloadStats {
	ws := &WorkloadStats{
		OpStats:    make(map[string]*PerformanceStats, len(Ops)),
		Connect:    NewPerformanceStats(),
		Iterations: NewPerformanceStats(),
		StartTime:  time.Now(),
		checks:     make(map[string]*CheckCounts),
	}
	for _, op := range Ops {
		ws.OpStats[op] = NewPerformanceStats()
	}
	// Known checks are listed even before they are first recorded.
	for _, name := range workflow.CheckNames {
		ws.checkCounts(name)
	}
	return ws
}

// checkCounts must be called with checksMu held, or during construction.
func (ws *WorkloadStats) checkCounts(name string) *CheckCounts {
	c, ok := ws.checks[name]
	if !ok {
		c = &CheckCounts{Name: name}
		ws.checks[name] = c
		ws.checkOrder = append(ws.checkOrder, name)
	}
	return c
}

// Record folds one iteration into the totals. err is what
// workflow.Iteration.Run returned alongside report.
func (ws *WorkloadStats) Record(report *workflow.Report, err error) {
	if report == nil {
		return
	}

	if target.IsConnectionError(err) {
		ws.ConnectionErrors.Add(1)
		ws.FailedIterations.Add(1)
		ws.Connect.RecordError()
		ws.Iterations.RecordError()
		return
	}
	ws.Connect.RecordLatency(report.ConnectLatency)

	for _, step := range report.Steps {
		ps, ok := ws.OpStats[step.Op]
		if !ok {
			continue
		}
		if step.Err != nil {
			ps.RecordError()
			ws.RPCErrors.Add(1)
		} else {
			ps.RecordLatency(step.Latency)
		}
	}

	ws.checksMu.Lock()
	for _, r := range report.Checks() {
		c := ws.checkCounts(r.Name)
		switch r.Outcome {
		case check.Passed:
			c.Passed++
		case check.Failed:
			c.Failed++
		case check.Skipped:
			c.Skipped++
		}
	}
	ws.checksMu.Unlock()

	if err != nil {
		ws.FailedIterations.Add(1)
		ws.Iterations.RecordError()
		return
	}
	ws.Iterations.RecordLatency(report.Duration)
	if report.Shape() == "full" {
		ws.FullIterations.Add(1)
	} else {
		ws.PartialIterations.Add(1)
	}
}

// RecordIteration is Record for an iteration run under ctx. Once ctx is
// cancelled the outcome is the runner's doing, so it goes to
// RecordInterrupted instead.
func (ws *WorkloadStats) RecordIteration(ctx context.Context, report *workflow.Report, err error) {
	if ctx.Err() != nil {
		ws.RecordInterrupted(report)
		return
	}
	ws.Record(report, err)
}

// RecordInterrupted counts an iteration cancelled by the runner. Steps that
// completed keep their latency; checks and error counters are untouched.
func (ws *WorkloadStats) RecordInterrupted(report *workflow.Report) {
	ws.InterruptedIterations.Add(1)
	if report == nil {
		return
	}
	for _, step := range report.Steps {
		if ps, ok := ws.OpStats[step.Op]; ok && step.Err == nil {
			ps.RecordLatency(step.Latency)
		}
	}
}

// Checks returns the per-check tallies in first-seen order.
func (ws *WorkloadStats) Checks() []CheckCounts {
	ws.checksMu.Lock()
	defer ws.checksMu.Unlock()
	out := make([]CheckCounts, 0, len(ws.checkOrder))
	for _, name := range ws.checkOrder {
		out = append(out, *ws.checks[name])
	}
	return out
}

// ChecksFailed is the number of failed check evaluations.
func (ws *WorkloadStats) ChecksFailed() int64 {
	var n int64
	for _, c := range ws.Checks() {
		n += c.Failed
	}
	return n
}

// Failed reports whether the run breached its thresholds: any failed check
// or any iteration that ended in an error.
func (ws *WorkloadStats) Failed() bool {
	return ws.ChecksFailed() > 0 || ws.FailedIterations.Load() > 0
}

// OpSnapshot is one operation's interval view.
type OpSnapshot struct {
	QPS    float64
	Errors int64
	LatencySummary
}

// Snapshot is a point-in-time view used by the progress line and exporters.
type Snapshot struct {
	Timestamp         time.Time
	Elapsed           time.Duration
	ActiveVUs         int
	Iterations        int64
	FullIterations    int64
	PartialIterations int64
	FailedIterations  int64
	// Interrupted iterations are not part of Iterations.
	Interrupted      int64
	ConnectionErrors int64
	RPCErrors        int64
	ChecksFailed     int64
	IterationsPerSec float64
	Ops              map[string]OpSnapshot
	ActiveTCPConns   int
	TCPConnDelta     int
}

// TakeSnapshot closes the current interval. It must be called from a
// single reporting goroutine; interval is the time since the last call.
func (ws *WorkloadStats) TakeSnapshot(interval time.Duration) Snapshot {
	now := time.Now()
	secs := interval.Seconds()
	if secs <= 0 {
		secs = 1
	}

	snap := Snapshot{
		Timestamp:         now,
		Elapsed:           now.Sub(ws.StartTime),
		FullIterations:    ws.FullIterations.Load(),
		PartialIterations: ws.PartialIterations.Load(),
		FailedIterations:  ws.FailedIterations.Load(),
		Interrupted:       ws.InterruptedIterations.Load(),
		ConnectionErrors:  ws.ConnectionErrors.Load(),
		RPCErrors:         ws.RPCErrors.Load(),
		ChecksFailed:      ws.ChecksFailed(),
		Ops:               make(map[string]OpSnapshot, len(Ops)),
	}
	snap.Iterations = snap.FullIterations + snap.PartialIterations + snap.FailedIterations

	iter, iterFailed := ws.Iterations.TakeInterval()
	snap.IterationsPerSec = float64(iter.Count+iterFailed) / secs

	for _, op := range Ops {
		lat, failed := ws.OpStats[op].TakeInterval()
		snap.Ops[op] = OpSnapshot{
			QPS:            float64(lat.Count+failed) / secs,
			Errors:         failed,
			LatencySummary: lat,
		}
	}
	return snap
}
