//go:build !linux

package stats

// Neither sock_diag nor /proc/net exists here; the monitor reports zero.
func countEstablished([]int) int { return 0 }
