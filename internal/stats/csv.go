package stats

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"
)

// CSVLogger writes one row per snapshot.
type CSVLogger struct {
	file   *os.File
	writer *csv.Writer
	mutex  sync.Mutex
}

var csvHeader = []string{
	"timestamp", "elapsed_seconds", "vus",
	"iterations", "full_iterations", "partial_iterations", "failed_iterations", "interrupted_iterations",
	"connection_errors", "rpc_errors", "checks_failed", "iterations_per_sec",
	"set_qps", "set_errors", "set_latency_p50_us", "set_latency_p95_us", "set_latency_p99_us", "set_latency_max_us",
	"get_qps", "get_errors", "get_latency_p50_us", "get_latency_p95_us", "get_latency_p99_us", "get_latency_max_us",
	"delete_qps", "delete_errors", "delete_latency_p50_us", "delete_latency_p95_us", "delete_latency_p99_us", "delete_latency_max_us",
	"active_tcp_conns", "tcp_conn_delta",
}

func NewCSVLogger(filename string) (*CSVLogger, error) {
	file, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create CSV file: %w", err)
	}

	writer := csv.NewWriter(file)
	if err := writer.Write(csvHeader); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}
	writer.Flush()

	return &CSVLogger{file: file, writer: writer}, nil
}

func (cl *CSVLogger) LogMetrics(snap Snapshot) error {
	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	record := []string{
		snap.Timestamp.Format(time.RFC3339),
		strconv.Itoa(int(snap.Elapsed.Seconds())),
		strconv.Itoa(snap.ActiveVUs),
		strconv.FormatInt(snap.Iterations, 10),
		strconv.FormatInt(snap.FullIterations, 10),
		strconv.FormatInt(snap.PartialIterations, 10),
		strconv.FormatInt(snap.FailedIterations, 10),
		strconv.FormatInt(snap.Interrupted, 10),
		strconv.FormatInt(snap.ConnectionErrors, 10),
		strconv.FormatInt(snap.RPCErrors, 10),
		strconv.FormatInt(snap.ChecksFailed, 10),
		fmt.Sprintf("%.2f", snap.IterationsPerSec),
	}
	for _, op := range Ops {
		o := snap.Ops[op]
		record = append(record,
			fmt.Sprintf("%.2f", o.QPS),
			strconv.FormatInt(o.Errors, 10),
			strconv.FormatInt(o.P50, 10),
			strconv.FormatInt(o.P95, 10),
			strconv.FormatInt(o.P99, 10),
			strconv.FormatInt(o.Max, 10),
		)
	}
	record = append(record, strconv.Itoa(snap.ActiveTCPConns), strconv.Itoa(snap.TCPConnDelta))

	if err := cl.writer.Write(record); err != nil {
		return fmt.Errorf("failed to write CSV record: %w", err)
	}
	cl.writer.Flush()
	return cl.writer.Error()
}

func (cl *CSVLogger) Close() error {
	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	if cl.writer != nil {
		cl.writer.Flush()
	}
	if cl.file != nil {
		return cl.file.Close()
	}
	return nil
}
