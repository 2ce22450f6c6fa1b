package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis-performance/grpc-cache-loadtest/internal/runner"
	"github.com/redis-performance/grpc-cache-loadtest/internal/stats"
	"github.com/redis-performance/grpc-cache-loadtest/internal/target"
	"github.com/sirupsen/logrus"
)

// progressReporter closes a stats interval every second and fans the
// snapshot out to the console, CSV and CloudWatch.
type progressReporter struct {
	stats      *stats.WorkloadStats
	vus        int
	duration   time.Duration
	quiet      bool
	tcp        *stats.TCPMonitor
	csv        *stats.CSVLogger
	cloudwatch *stats.CloudWatchEmitter
	log        *logrus.Entry
}

func (r *progressReporter) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			snap := r.stats.TakeSnapshot(now.Sub(last))
			last = now
			snap.ActiveVUs = r.vus
			snap.ActiveTCPConns, snap.TCPConnDelta, _ = r.tcp.Stats()

			if r.csv != nil {
				if err := r.csv.LogMetrics(snap); err != nil {
					r.log.WithError(err).Warn("failed to write CSV metrics")
				}
			}
			if r.cloudwatch != nil {
				go r.cloudwatch.Emit(context.Background(), snap)
			}
			if !r.quiet {
				fmt.Print(progressLine(snap, r.duration))
			}
		}
	}
}

func progressLine(snap stats.Snapshot, total time.Duration) string {
	set, get, del := snap.Ops[target.OpSet], snap.Ops[target.OpGet], snap.Ops[target.OpDelete]
	return fmt.Sprintf(
		"\n%s\n"+
			"VUs : %d\n"+
			"\n"+
			"Throughput\n"+
			"  Iter/s  : %.0f  |  SET: %.0f/s  |  GET: %.0f/s  |  DELETE: %.0f/s\n"+
			"\n"+
			"Latency\n"+
			"  SET     : p50 %.2f ms | p99 %.2f ms\n"+
			"  GET     : p50 %.2f ms | p99 %.2f ms\n"+
			"  DELETE  : p50 %.2f ms | p99 %.2f ms\n"+
			"\n"+
			"Iterations: %d full | %d partial | %d failed | %d interrupted | checks failed: %d\n"+
			"Errors: %d connect | %d rpc\n"+
			"  TCP Conns: %d (Δ%+d)",
		createStaticProgressBar(snap.Elapsed, total),
		snap.ActiveVUs,
		snap.IterationsPerSec, set.QPS, get.QPS, del.QPS,
		float64(set.P50)/1000.0, float64(set.P99)/1000.0,
		float64(get.P50)/1000.0, float64(get.P99)/1000.0,
		float64(del.P50)/1000.0, float64(del.P99)/1000.0,
		snap.FullIterations, snap.PartialIterations, snap.FailedIterations, snap.Interrupted, snap.ChecksFailed,
		snap.ConnectionErrors, snap.RPCErrors,
		snap.ActiveTCPConns, snap.TCPConnDelta,
	)
}

// createStaticProgressBar creates a progress bar for a fixed duration run
func createStaticProgressBar(elapsed, total time.Duration) string {
	barWidth := 10
	progress := 1.0
	if total > 0 {
		progress = float64(elapsed) / float64(total)
	}
	if progress > 1.0 {
		progress = 1.0
	}

	filled := int(progress * float64(barWidth))

	var bar strings.Builder
	bar.WriteString("[")
	for i := 0; i < barWidth; i++ {
		switch {
		case i < filled:
			bar.WriteString("=")
		case i == filled && progress < 1.0:
			bar.WriteString(">")
		default:
			bar.WriteString("-")
		}
	}
	bar.WriteString("]")

	timeStr := fmt.Sprintf("%02d:%02d/%02d:%02d",
		int(elapsed.Minutes()), int(elapsed.Seconds())%60,
		int(total.Minutes()), int(total.Seconds())%60)

	return fmt.Sprintf("%s %s", bar.String(), timeStr)
}

func percent(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

// printFinalResults prints the checks table, iteration shapes and
// per-operation latency.
func printFinalResults(ws *stats.WorkloadStats, summary runner.Summary) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	fmt.Println("LOAD TEST RESULTS")
	fmt.Println(strings.Repeat("=", 60))

	full, partial := ws.FullIterations.Load(), ws.PartialIterations.Load()
	failed := ws.FailedIterations.Load()
	iterations := full + partial + failed

	fmt.Printf("Elapsed: %s\n", summary.Elapsed.Round(time.Millisecond))
	fmt.Printf("Iterations: %d (%.2f/s)\n", iterations, float64(iterations)/summary.Elapsed.Seconds())
	fmt.Printf("  full (set, get, delete): %d\n", full)
	fmt.Printf("  partial (set, get): %d\n", partial)
	fmt.Printf("  failed: %d (%.2f%%)\n", failed, percent(failed, iterations))
	fmt.Printf("  interrupted at graceful stop: %d (not counted as failed)\n", ws.InterruptedIterations.Load())
	fmt.Printf("Connection errors: %d\n", ws.ConnectionErrors.Load())
	fmt.Printf("RPC errors (no response): %d\n", ws.RPCErrors.Load())
	fmt.Println()

	fmt.Println("Checks")
	for _, c := range ws.Checks() {
		mark := "✓"
		if c.Failed > 0 {
			mark = "✗"
		}
		fmt.Printf("  %s %-22s %6.2f%%  pass %d / fail %d / skip %d\n",
			mark, c.Name, percent(c.Passed, c.Passed+c.Failed), c.Passed, c.Failed, c.Skipped)
	}
	fmt.Println()

	if lat := ws.Connect.Overall(); lat.Count > 0 {
		fmt.Printf("CONNECT Latency - P50: %d μs, P95: %d μs, P99: %d μs\n", lat.P50, lat.P95, lat.P99)
	}
	for _, op := range stats.Ops {
		ps := ws.OpStats[op]
		total, errs := ps.Counts()
		if total == 0 {
			continue
		}
		lat := ps.Overall()
		name := strings.ToUpper(op)
		fmt.Printf("%s Operations: %d\n", name, total)
		fmt.Printf("%s Errors: %d (%.2f%%)\n", name, errs, percent(errs, total))
		fmt.Printf("%s Latency - P50: %d μs, P95: %d μs, P99: %d μs, Max: %d μs\n", name, lat.P50, lat.P95, lat.P99, lat.Max)
	}
	if lat := ws.Iterations.Overall(); lat.Count > 0 {
		fmt.Printf("ITERATION Duration - P50: %d μs, P95: %d μs, P99: %d μs\n", lat.P50, lat.P95, lat.P99)
	}

	fmt.Println(strings.Repeat("=", 60))
	if ws.Failed() {
		fmt.Println("RESULT: FAILED (checks failed or iterations errored)")
	} else {
		fmt.Println("RESULT: PASSED")
	}
}
