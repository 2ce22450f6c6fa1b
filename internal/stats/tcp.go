package stats

import (
	"bufio"
	"context"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// TCPMonitor samples the number of established TCP connections to the
// target ports once a second. A count that keeps growing while the VU
// count is constant means connections are leaking.
type TCPMonitor struct {
	mu             sync.RWMutex
	ports          []int
	currentCount   int
	previousCount  int
	history        []int
	maxHistorySize int

	count func(ports []int) int
}

// NewTCPMonitor watches connections whose remote port is one of ports, or
// all established connections when ports is empty.
func NewTCPMonitor(ports ...int) *TCPMonitor {
	return &TCPMonitor{ports: ports, maxHistorySize: 10, count: countEstablished}
}

func (tm *TCPMonitor) updateCount(count int) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	tm.previousCount = tm.currentCount
	tm.currentCount = count
	tm.history = append(tm.history, count)
	if len(tm.history) > tm.maxHistorySize {
		tm.history = tm.history[1:]
	}
}

// Stats returns the latest count, its change from the previous sample and
// the recent history.
func (tm *TCPMonitor) Stats() (current, delta int, history []int) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.currentCount, tm.currentCount - tm.previousCount, slices.Clone(tm.history)
}

// Sample takes one reading.
func (tm *TCPMonitor) Sample() {
	tm.updateCount(tm.count(tm.ports))
}

// Start samples every second until ctx is done.
func (tm *TCPMonitor) Start(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	tm.Sample()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tm.Sample()
		}
	}
}

// countFromProc counts established sockets listed in /proc/net/tcp{,6}.
func countFromProc(ports []int) int {
	total := 0
	for _, path := range []string{"/proc/net/tcp", "/proc/net/tcp6"} {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		total += countProcTCP(f, ports)
		f.Close()
	}
	return total
}

// countProcTCP parses the /proc/net/tcp table format: a header line, then
// one socket per line with the remote address as HEXIP:HEXPORT in the
// third column and the state in the fourth (01 is ESTABLISHED).
func countProcTCP(r io.Reader, ports []int) int {
	sc := bufio.NewScanner(r)
	if !sc.Scan() {
		return 0
	}
	n := 0
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 4 || fields[3] != "01" {
			continue
		}
		if len(ports) == 0 {
			n++
			continue
		}
		remote := fields[2]
		idx := strings.LastIndex(remote, ":")
		if idx == -1 {
			continue
		}
		port, err := strconv.ParseInt(remote[idx+1:], 16, 32)
		if err == nil && slices.Contains(ports, int(port)) {
			n++
		}
	}
	return n
}
