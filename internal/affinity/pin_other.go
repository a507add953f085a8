//go:build !linux

package affinity

import "log/slog"

// Pin is a no-op on platforms without sched_setaffinity. Pinning is advisory,
// so the run proceeds unpinned rather than failing every job.
func Pin(pid int, m Mask) error {
	slog.Warn("CPU affinity not supported on this platform, running unpinned",
		"pid", pid, "mask", m.Hex())
	return nil
}
