// ============================================================================
// Rawbatch Worker Profile Generator - Thread Budget Allocation
// ============================================================================
//
// Package: internal/profile
// File: profile.go
// Purpose: Partition the host's CPU threads into disjoint worker slots, each
// describing how one concurrent renderer instance is pinned and configured.
//
// Allocation model:
//   allocatable = total threads - reserved cores (reserved stay with the OS)
//   effective workers = min(max workers, job count)
//   GPU profiles first (up to the GPU instance cap), then CPU-only profiles
//   Ranges are carved from the highest thread index downward, so the reserved
//   low-numbered cores are the last to be touched.
//
// A profile whose width no longer fits the remaining budget is skipped and
// logged, never fatal: fewer parallel slots than requested is an acceptable
// degradation. An empty result means the batch cannot run at all.
//
// Profiles are recomputed per batch and sized to that batch's job count; they
// are not a static pool.
//
// ============================================================================

package profile

import (
	"log/slog"

	"github.com/rawbatch/rawbatch/internal/affinity"
)

// Kind tells whether a worker slot drives the renderer with the GPU enabled
// or CPU-only. CPU-only slots fill scheduling gaps without fighting the GPU
// slots for VRAM.
type Kind string

const (
	KindGPU Kind = "gpu"
	KindCPU Kind = "cpu"
)

// Profile describes one worker slot: a disjoint CPU thread range, its
// affinity mask, and the accelerator mode of the renderer instance bound to
// it. Exactly one in-flight job holds a profile at any time.
type Profile struct {
	// ID numbers profiles sequentially from 1 in allocation order. Sandbox
	// directories are keyed by it, so IDs must be unique within a batch.
	ID   int
	Kind Kind
	// ThreadStart/ThreadEnd are the 0-indexed inclusive thread range.
	ThreadStart int
	ThreadEnd   int
	Mask        affinity.Mask
	// UseOpenCL mirrors Kind as the renderer flag value.
	UseOpenCL bool
}

// Width returns the number of threads the profile occupies.
func (p Profile) Width() int {
	return p.ThreadEnd - p.ThreadStart + 1
}

// Params are the inputs to one Generate call.
type Params struct {
	TotalThreads   int
	ReservedCores  int
	MaxWorkers     int
	MaxGPUWorkers  int
	JobCount       int
	GPUThreadWidth int
	CPUThreadWidth int
}

// Generate computes the worker profiles for one batch, plus the number of
// requested slots it could not allocate.
//
// The returned slice may be shorter than min(MaxWorkers, JobCount) when the
// thread budget runs out, and empty when not a single width fits; the
// executor treats an empty list as a fatal capacity condition for the batch.
func Generate(params Params) ([]Profile, int) {
	total := params.TotalThreads
	if total > affinity.MaxThreads {
		slog.Warn("host reports more threads than the affinity mask width, clamping",
			"total_threads", total, "max", affinity.MaxThreads)
		total = affinity.MaxThreads
	}

	allocatable := total - params.ReservedCores
	if allocatable < 0 {
		allocatable = 0
	}

	effective := params.MaxWorkers
	if params.JobCount < effective {
		effective = params.JobCount
	}
	if effective <= 0 {
		return nil, 0
	}

	gpuCount := params.MaxGPUWorkers
	if effective < gpuCount {
		gpuCount = effective
	}
	if gpuCount < 0 {
		gpuCount = 0
	}
	cpuCount := effective - gpuCount

	profiles := make([]Profile, 0, effective)
	assigned := 0
	skipped := 0
	nextTop := total - 1 // allocate downward from the highest thread index
	nextID := 1

	alloc := func(kind Kind, width int) {
		if width <= 0 {
			slog.Warn("skipping worker profile with non-positive thread width",
				"kind", kind, "width", width)
			skipped++
			return
		}
		if assigned+width > allocatable {
			slog.Warn("skipping worker profile, thread budget exhausted",
				"kind", kind,
				"width", width,
				"assigned", assigned,
				"allocatable", allocatable)
			skipped++
			return
		}

		start := nextTop - width + 1
		end := nextTop
		profiles = append(profiles, Profile{
			ID:          nextID,
			Kind:        kind,
			ThreadStart: start,
			ThreadEnd:   end,
			Mask:        affinity.Range(start, end),
			UseOpenCL:   kind == KindGPU,
		})

		slog.Debug("allocated worker profile",
			"id", nextID,
			"kind", kind,
			"threads", []int{start, end},
			"mask", affinity.Range(start, end).Hex())

		assigned += width
		nextTop = start - 1
		nextID++
	}

	for i := 0; i < gpuCount; i++ {
		alloc(KindGPU, params.GPUThreadWidth)
	}
	for i := 0; i < cpuCount; i++ {
		alloc(KindCPU, params.CPUThreadWidth)
	}

	return profiles, skipped
}
