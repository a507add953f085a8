// ============================================================================
// Rawbatch Affinity Planner - CPU Thread Masks
// ============================================================================
//
// Package: internal/affinity
// File: affinity.go
// Purpose: Compute CPU affinity masks for worker thread ranges and apply them
// to launched renderer processes.
//
// A mask covers a contiguous, 0-indexed, inclusive thread range. Thread 8-11
// yields bits 8..11 set, hex "F00". The mask is advisory: the OS scheduler
// enforces the pinning, rawbatch only requests it at process launch.
//
// ============================================================================

package affinity

import "fmt"

// MaxThreads is the widest host this planner can address. Masks are a single
// 64-bit word; the profile generator clamps larger hosts to this width.
const MaxThreads = 64

// Mask is a CPU thread bitmask. Bit i set means thread i is allowed.
type Mask uint64

// Range returns the mask with bits start..end (inclusive) set.
//
// Preconditions: 0 <= start <= end < MaxThreads. Violations are programming
// errors in the profile generator, not runtime conditions, so they panic.
func Range(start, end int) Mask {
	if start < 0 || end < start || end >= MaxThreads {
		panic(fmt.Sprintf("affinity: invalid thread range [%d,%d]", start, end))
	}
	var m Mask
	for i := start; i <= end; i++ {
		m |= 1 << uint(i)
	}
	return m
}

// Hex returns the uppercase hex encoding without a 0x prefix, the form the
// Windows "start /affinity" launcher historically consumed. Used in logs so a
// human can cross-check the pinning in a process monitor.
func (m Mask) Hex() string {
	return fmt.Sprintf("%X", uint64(m))
}

// Count returns the number of threads the mask allows.
func (m Mask) Count() int {
	n := 0
	for v := uint64(m); v != 0; v &= v - 1 {
		n++
	}
	return n
}

// Has reports whether thread i is allowed by the mask.
func (m Mask) Has(i int) bool {
	if i < 0 || i >= MaxThreads {
		return false
	}
	return m&(1<<uint(i)) != 0
}
