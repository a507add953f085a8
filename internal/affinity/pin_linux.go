//go:build linux

package affinity

import "golang.org/x/sys/unix"

// Pin restricts the process identified by pid to the threads in m using
// sched_setaffinity. Called right after the renderer is started; threads the
// process spawned before the call migrate on the next scheduling decision.
func Pin(pid int, m Mask) error {
	var set unix.CPUSet
	for i := 0; i < MaxThreads; i++ {
		if m.Has(i) {
			set.Set(i)
		}
	}
	return unix.SchedSetaffinity(pid, &set)
}
