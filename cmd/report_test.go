package cmd

import (
	"testing"
	"time"

	"github.com/redis-performance/grpc-cache-loadtest/internal/stats"
	"github.com/redis-performance/grpc-cache-loadtest/internal/target"
	"github.com/stretchr/testify/assert"
)

func TestCreateStaticProgressBar(t *testing.T) {
	assert.Equal(t, "[>---------] 00:00/01:00", createStaticProgressBar(0, time.Minute))
	assert.Equal(t, "[=====>----] 00:30/01:00", createStaticProgressBar(30*time.Second, time.Minute))
	assert.Equal(t, "[==========] 01:10/01:00", createStaticProgressBar(70*time.Second, time.Minute))
}

func TestPercent(t *testing.T) {
	assert.Zero(t, percent(1, 0))
	assert.InDelta(t, 25.0, percent(1, 4), 0.001)
}

func TestProgressLine(t *testing.T) {
	snap := stats.Snapshot{
		Elapsed:           10 * time.Second,
		ActiveVUs:         100,
		IterationsPerSec:  42,
		FullIterations:    20,
		PartialIterations: 80,
		Interrupted:       3,
		RPCErrors:         4,
		Ops: map[string]stats.OpSnapshot{
			target.OpGet: {QPS: 42, LatencySummary: stats.LatencySummary{P50: 1500, P99: 3000}},
		},
	}
	line := progressLine(snap, time.Minute)
	assert.Contains(t, line, "VUs : 100")
	assert.Contains(t, line, "GET     : p50 1.50 ms | p99 3.00 ms")
	assert.Contains(t, line, "20 full | 80 partial | 0 failed | 3 interrupted")
	assert.Contains(t, line, "0 connect | 4 rpc")
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "probe", "config", "version"} {
		assert.True(t, names[want], want)
	}
	assert.NotNil(t, probeCmd.Flags().Lookup("client-id"))
	assert.NotNil(t, runCmd.Flags().Lookup("graceful-stop"))
}
