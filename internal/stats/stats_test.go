package stats

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/redis-performance/grpc-cache-loadtest/internal/check"
	"github.com/redis-performance/grpc-cache-loadtest/internal/keyspace"
	"github.com/redis-performance/grpc-cache-loadtest/internal/target"
	"github.com/redis-performance/grpc-cache-loadtest/internal/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
)

func passing(names ...string) []check.Result {
	var out []check.Result
	for _, n := range names {
		out = append(out, check.Result{Name: n, Outcome: check.Passed})
	}
	return out
}

func fullReport(vu int) *workflow.Report {
	return &workflow.Report{
		Context:        keyspace.ClientContext{ClientID: vu},
		ConnectLatency: time.Millisecond,
		DeletePlanned:  true,
		Duration:       5 * time.Millisecond,
		Steps: []workflow.Step{
			{Op: target.OpSet, Latency: time.Millisecond, Status: codes.OK, Checks: passing(workflow.CheckSetStatus)},
			{Op: target.OpGet, Latency: 2 * time.Millisecond, Status: codes.OK,
				Checks: passing(workflow.CheckGetStatus, workflow.CheckValueFound, workflow.CheckValueMatches)},
			{Op: target.OpDelete, Latency: time.Millisecond, Status: codes.OK, Checks: passing(workflow.CheckDeleteStatus)},
		},
	}
}

func partialReport() *workflow.Report {
	r := fullReport(3)
	r.DeletePlanned = false
	r.Steps = r.Steps[:2]
	return r
}

func rpcFailedReport() (*workflow.Report, error) {
	err := &target.RPCError{Op: target.OpGet, Key: "hello-1-0", Err: context.DeadlineExceeded}
	r := fullReport(1)
	r.Steps = r.Steps[:2]
	r.Steps[1] = workflow.Step{Op: target.OpGet, Status: codes.Unknown, Err: err, Checks: []check.Result{
		{Name: workflow.CheckGetStatus, Outcome: check.Failed, Err: check.ErrNoResponse},
		{Name: workflow.CheckValueFound, Outcome: check.Failed, Err: check.ErrNoResponse},
		{Name: workflow.CheckValueMatches, Outcome: check.Skipped},
	}}
	return r, err
}

func checkByName(t *testing.T, ws *WorkloadStats, name string) CheckCounts {
	t.Helper()
	for _, c := range ws.Checks() {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("check %q not tracked", name)
	return CheckCounts{}
}

func TestRecordAggregates(t *testing.T) {
	ws := NewWorkloadStats()
	ws.Record(fullReport(5), nil)
	ws.Record(partialReport(), nil)
	ws.Record(rpcFailedReport())
	ws.Record(&workflow.Report{}, &target.ConnectionError{Address: "x", Err: errors.New("refused")})
	ws.Record(nil, nil)

	assert.EqualValues(t, 1, ws.FullIterations.Load())
	assert.EqualValues(t, 1, ws.PartialIterations.Load())
	assert.EqualValues(t, 2, ws.FailedIterations.Load())
	assert.EqualValues(t, 1, ws.ConnectionErrors.Load())
	assert.EqualValues(t, 1, ws.RPCErrors.Load())

	total, failed := ws.OpStats[target.OpGet].Counts()
	assert.EqualValues(t, 3, total)
	assert.EqualValues(t, 1, failed)
	total, _ = ws.OpStats[target.OpDelete].Counts()
	assert.EqualValues(t, 1, total)

	assert.Equal(t, CheckCounts{Name: workflow.CheckSetStatus, Passed: 3}, checkByName(t, ws, workflow.CheckSetStatus))
	assert.Equal(t, CheckCounts{Name: workflow.CheckValueMatches, Passed: 2, Skipped: 1}, checkByName(t, ws, workflow.CheckValueMatches))
	assert.Equal(t, CheckCounts{Name: workflow.CheckDeleteStatus, Passed: 1}, checkByName(t, ws, workflow.CheckDeleteStatus))
	assert.EqualValues(t, 2, ws.ChecksFailed())
	assert.True(t, ws.Failed())
}

func TestChecksListedInWorkflowOrder(t *testing.T) {
	ws := NewWorkloadStats()
	var names []string
	for _, c := range ws.Checks() {
		names = append(names, c.Name)
		assert.Zero(t, c.Total())
	}
	assert.Equal(t, workflow.CheckNames, names)
	assert.False(t, ws.Failed())
}

func TestCleanRunNotFailed(t *testing.T) {
	ws := NewWorkloadStats()
	for vu := 1; vu <= 10; vu++ {
		ws.Record(fullReport(vu), nil)
	}
	assert.False(t, ws.Failed())
	assert.EqualValues(t, 10, checkByName(t, ws, workflow.CheckValueMatches).Passed)
}

func TestTakeSnapshotResetsInterval(t *testing.T) {
	ws := NewWorkloadStats()
	ws.Record(fullReport(5), nil)
	ws.Record(partialReport(), nil)

	snap := ws.TakeSnapshot(time.Second)
	assert.EqualValues(t, 2, snap.Iterations)
	assert.InDelta(t, 2.0, snap.IterationsPerSec, 0.001)
	assert.InDelta(t, 2.0, snap.Ops[target.OpGet].QPS, 0.001)
	assert.InDelta(t, 2000, snap.Ops[target.OpGet].P50, 10)

	next := ws.TakeSnapshot(time.Second)
	assert.EqualValues(t, 2, next.Iterations, "totals are cumulative")
	assert.Zero(t, next.Ops[target.OpGet].QPS, "interval latencies are reset")
	assert.EqualValues(t, 2, ws.OpStats[target.OpGet].Overall().Count)
}

func TestPerformanceStatsClamps(t *testing.T) {
	ps := NewPerformanceStats()
	ps.RecordLatency(0)
	ps.RecordLatency(2 * time.Minute)
	s := ps.Overall()
	assert.EqualValues(t, 2, s.Count)
	assert.GreaterOrEqual(t, s.Max, int64(59*time.Second/time.Microsecond))
}

func TestCSVLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	cl, err := NewCSVLogger(path)
	require.NoError(t, err)

	ws := NewWorkloadStats()
	ws.Record(fullReport(5), nil)
	snap := ws.TakeSnapshot(time.Second)
	snap.ActiveVUs = 4
	require.NoError(t, cl.LogMetrics(snap))
	require.NoError(t, cl.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, csvHeader, rows[0])
	assert.Len(t, rows[1], len(csvHeader))
	assert.Equal(t, "4", rows[1][2])
	assert.Equal(t, "1", rows[1][4], "full iterations")
}

type fakeCloudWatch struct {
	inputs []*cloudwatch.PutMetricDataInput
	err    error
}

func (f *fakeCloudWatch) PutMetricData(_ context.Context, in *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.inputs = append(f.inputs, in)
	return &cloudwatch.PutMetricDataOutput{}, f.err
}

func TestCloudWatchEmit(t *testing.T) {
	fake := &fakeCloudWatch{}
	cw := &CloudWatchEmitter{Client: fake, Namespace: "CacheLoad", Dimensions: dimensions("h", "grpc", "run-1")}

	ws := NewWorkloadStats()
	ws.Record(fullReport(5), nil)
	require.NoError(t, cw.Emit(context.Background(), ws.TakeSnapshot(time.Second)))

	require.Len(t, fake.inputs, 1)
	in := fake.inputs[0]
	assert.Equal(t, "CacheLoad", *in.Namespace)
	assert.Len(t, in.MetricData, 8+2*len(Ops))
	for _, d := range in.MetricData {
		assert.Len(t, d.Dimensions, 3)
		assert.EqualValues(t, 1, *d.StorageResolution)
	}
	assert.Equal(t, "IterationsPerSecond", *in.MetricData[0].MetricName)
	assert.InDelta(t, 1.0, *in.MetricData[0].Value, 0.001)

	fake.err = errors.New("throttled")
	assert.Error(t, cw.Emit(context.Background(), Snapshot{}))
}

func TestMetricsHandler(t *testing.T) {
	ws := NewWorkloadStats()
	ws.Record(fullReport(5), nil)
	ws.Record(partialReport(), nil)

	rec := httptest.NewRecorder()
	MetricsHandler(ws).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)

	assert.Contains(t, text, `cacheload_iterations_total{outcome="full"} 1`)
	assert.Contains(t, text, `cacheload_iterations_total{outcome="partial"} 1`)
	assert.Contains(t, text, `cacheload_rpc_total{op="get"} 2`)
	assert.Contains(t, text, `cacheload_checks_total{check="value matches",outcome="pass"} 2`)
	assert.True(t, strings.Contains(text, "go_goroutines"))
}

const procTCP = `  sl  local_address rem_address   st tx_queue rx_queue tr tm->when retrnsmt   uid  timeout inode
   0: 0100007F:D2F0 0100007F:1F90 01 00000000:00000000 00:00000000 00000000  1000        0 1 1 0000000000000000 20 4 30 10 -1
   1: 0100007F:D2F2 0100007F:1F90 06 00000000:00000000 00:00000000 00000000  1000        0 2 1 0000000000000000 20 4 30 10 -1
   2: 0100007F:D2F4 0100007F:18EB 01 00000000:00000000 00:00000000 00000000  1000        0 3 1 0000000000000000 20 4 30 10 -1
   3: 00000000:1F90 00000000:0000 0A 00000000:00000000 00:00000000 00000000  1000        0 4 1 0000000000000000 20 4 30 10 -1
`

func TestCountProcTCP(t *testing.T) {
	assert.Equal(t, 2, countProcTCP(strings.NewReader(procTCP), nil))
	assert.Equal(t, 1, countProcTCP(strings.NewReader(procTCP), []int{8080}))
	assert.Equal(t, 1, countProcTCP(strings.NewReader(procTCP), []int{6379}))
	assert.Equal(t, 0, countProcTCP(strings.NewReader(procTCP), []int{443}))
	assert.Equal(t, 0, countProcTCP(strings.NewReader(""), nil))
}

func TestTCPMonitorHistory(t *testing.T) {
	counts := []int{3, 5, 4}
	tm := NewTCPMonitor(8080)
	tm.count = func(ports []int) int {
		assert.Equal(t, []int{8080}, ports)
		c := counts[0]
		counts = counts[1:]
		return c
	}

	tm.Sample()
	tm.Sample()
	current, delta, _ := tm.Stats()
	assert.Equal(t, 5, current)
	assert.Equal(t, 2, delta)

	tm.Sample()
	current, delta, history := tm.Stats()
	assert.Equal(t, 4, current)
	assert.Equal(t, -1, delta)
	assert.Equal(t, []int{3, 5, 4}, history)
}
