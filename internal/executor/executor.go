// ============================================================================
// Rawbatch Executor - Sandboxed Parallel Job Executor
// ============================================================================
//
// Package: internal/executor
// File: executor.go
// Purpose: Bounded-concurrency scheduler that binds each folder conversion to
// one worker profile, drives the external renderer as a pinned subprocess
// inside a scoped sandbox, and aggregates outcomes into a BatchResult.
//
// Concurrency model:
//   - Profiles are generated fresh per batch and loaded into a buffered
//     channel. The channel is the sole throttle: a worker goroutine must hold
//     a profile while its renderer runs, so in-flight renderer processes
//     never exceed the profile count.
//   - Dispatch uses an errgroup capped at the profile count, so at most one
//     goroutine per profile exists at a time.
//   - Cancellation drains: no new renderer launches after ctx is done, but
//     in-flight processes run to completion. Undispatched jobs are abandoned,
//     not failed, and appear nowhere in the BatchResult.
//
// Error contract: launch failures, pin failures and non-zero renderer exits
// all become failed JobResults. ExecuteJobs itself only degenerates when
// profile generation yields nothing, in which case every job is marked
// failed without an invocation attempt.
//
// ============================================================================

package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rawbatch/rawbatch/internal/affinity"
	"github.com/rawbatch/rawbatch/internal/metrics"
	"github.com/rawbatch/rawbatch/internal/profile"
	"github.com/rawbatch/rawbatch/internal/sandbox"
	"github.com/rawbatch/rawbatch/pkg/types"
)

// Config is the read-only configuration surface the executor consumes.
type Config struct {
	// RendererCLI is the darktable-cli executable path.
	RendererCLI string

	Width   int
	Height  int
	Quality int

	MaxWorkers     int
	MaxGPUWorkers  int
	ReservedCores  int
	GPUThreadWidth int
	CPUThreadWidth int

	// TotalThreads overrides the detected host thread count; zero means
	// runtime.NumCPU().
	TotalThreads int

	// SandboxRoot is the parent for per-batch sandbox trees; zero value means
	// the OS temp directory.
	SandboxRoot string

	// Quiet discards renderer stdout instead of passing it through.
	Quiet bool
}

// Executor runs batches of folder conversion jobs.
type Executor struct {
	cfg       Config
	collector *metrics.Collector

	// pinFn is swapped out in tests; production wiring is the OS call.
	pinFn func(pid int, m affinity.Mask) error
}

// New creates an executor. collector may be nil when metrics are disabled.
func New(cfg Config, collector *metrics.Collector) *Executor {
	return &Executor{
		cfg:       cfg,
		collector: collector,
		pinFn:     affinity.Pin,
	}
}

// ExecuteJobs converts every folder in jobs, up to the concurrency the worker
// profiles allow, and returns the aggregated outcome. onProgress, if non-nil,
// receives one JobResult per finished attempt; invocations are serialized.
func (e *Executor) ExecuteJobs(ctx context.Context, jobs []types.Job, onProgress func(types.JobResult)) types.BatchResult {
	if len(jobs) == 0 {
		return types.BatchResult{}
	}

	total := e.cfg.TotalThreads
	if total <= 0 {
		total = runtime.NumCPU()
	}

	profiles, skipped := profile.Generate(profile.Params{
		TotalThreads:   total,
		ReservedCores:  e.cfg.ReservedCores,
		MaxWorkers:     e.cfg.MaxWorkers,
		MaxGPUWorkers:  e.cfg.MaxGPUWorkers,
		JobCount:       len(jobs),
		GPUThreadWidth: e.cfg.GPUThreadWidth,
		CPUThreadWidth: e.cfg.CPUThreadWidth,
	})
	if len(profiles) == 0 {
		return e.failAll(jobs, onProgress,
			"no worker profile fits the allocatable thread budget")
	}
	if e.collector != nil {
		e.collector.RecordProfilesSkipped(skipped)
	}

	slog.Info("starting batch",
		"jobs", len(jobs),
		"workers", len(profiles),
		"total_threads", total)

	runRoot, cleanup, err := e.makeRunRoot()
	if err != nil {
		return e.failAll(jobs, onProgress, err.Error())
	}
	defer cleanup()

	// The buffered channel is the FIFO profile pool and the sole throttle.
	pool := make(chan profile.Profile, len(profiles))
	for _, p := range profiles {
		pool <- p
	}

	state := newBatchState(jobs, onProgress)

	var g errgroup.Group
	g.SetLimit(len(profiles))

	for i, job := range jobs {
		if ctx.Err() != nil {
			slog.Warn("cancellation requested, abandoning undispatched jobs",
				"abandoned", len(jobs)-i)
			break
		}
		if e.collector != nil {
			e.collector.SetPending(len(jobs) - i - 1)
		}

		job := job
		g.Go(func() error {
			p := <-pool
			defer func() { pool <- p }()

			// Dispatched but not launched: drain means abandon here too.
			if ctx.Err() != nil {
				return nil
			}

			res := e.runJob(job, p, runRoot)
			state.record(job, res)
			return nil
		})
	}

	_ = g.Wait()
	if e.collector != nil {
		e.collector.SetPending(0)
	}

	return state.snapshot()
}

// failAll marks every job failed without invoking the renderer. Used for the
// fatal capacity condition and for an unusable sandbox root.
func (e *Executor) failAll(jobs []types.Job, onProgress func(types.JobResult), reason string) types.BatchResult {
	slog.Error("cannot run batch, failing all jobs", "jobs", len(jobs), "reason", reason)

	state := newBatchState(jobs, onProgress)
	for _, job := range jobs {
		state.record(job, types.JobResult{
			Success: false,
			Folder:  job.InputFolder,
			Error:   reason,
		})
	}
	return state.snapshot()
}

// makeRunRoot creates the unique per-batch sandbox parent. Retried batches
// each get their own tree, so a crashed run never poisons the next one.
func (e *Executor) makeRunRoot() (string, func(), error) {
	parent := e.cfg.SandboxRoot
	if parent == "" {
		parent = os.TempDir()
	}

	root := filepath.Join(parent, "rawbatch-"+uuid.NewString())
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", nil, fmt.Errorf("failed to create batch sandbox root: %w", err)
	}

	cleanup := func() {
		if err := os.RemoveAll(root); err != nil {
			slog.Debug("batch sandbox root cleanup failed, ignoring",
				"root", root, "error", err)
		}
	}
	return root, cleanup, nil
}

// runJob executes one renderer invocation bound to one profile.
func (e *Executor) runJob(job types.Job, p profile.Profile, runRoot string) types.JobResult {
	var res types.JobResult

	err := sandbox.With(runRoot, p.ID, func(sb sandbox.Sandbox) error {
		inv := invocation{
			Job:     job,
			Profile: p,
			Sandbox: sb,
			Width:   e.cfg.Width,
			Height:  e.cfg.Height,
			Quality: e.cfg.Quality,
		}
		res = e.runRenderer(inv)
		return nil
	})
	if err != nil {
		// Sandbox creation failed before the renderer could launch.
		return types.JobResult{
			Success: false,
			Folder:  job.InputFolder,
			Error:   err.Error(),
		}
	}
	return res
}

// runRenderer launches the renderer process, pins it to the profile's thread
// range, waits for it, and maps the outcome to a JobResult.
func (e *Executor) runRenderer(inv invocation) types.JobResult {
	res := types.JobResult{Folder: inv.Job.InputFolder}

	cmd := exec.Command(e.cfg.RendererCLI, inv.args()...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if e.cfg.Quiet {
		cmd.Stdout = io.Discard
	} else {
		cmd.Stdout = os.Stdout
	}

	slog.Debug("launching renderer",
		"worker_id", inv.Profile.ID,
		"kind", inv.Profile.Kind,
		"mask", inv.Profile.Mask.Hex(),
		"folder", inv.Job.InputFolder)

	start := time.Now()
	if e.collector != nil {
		e.collector.WorkerStarted()
		defer e.collector.WorkerDone()
	}

	if err := cmd.Start(); err != nil {
		res.Error = fmt.Sprintf("failed to launch renderer: %v", err)
		e.observe(res, time.Since(start), inv.Job.FileCount)
		return res
	}

	// Pinning happens after launch; the OS enforces the range from here on.
	if err := e.pinFn(cmd.Process.Pid, inv.Profile.Mask); err != nil {
		// An unpinned renderer would fight the other instances for threads,
		// so treat the rejection like a launch failure.
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		res.Error = fmt.Sprintf("failed to set CPU affinity: %v", err)
		e.observe(res, time.Since(start), inv.Job.FileCount)
		return res
	}

	err := cmd.Wait()
	elapsed := time.Since(start)

	if err == nil {
		res.Success = true
		e.observe(res, elapsed, inv.Job.FileCount)
		return res
	}

	text := stderr.String()
	if text != "" {
		res.Error = text
	} else {
		res.Error = err.Error()
	}
	res.FailedFiles = extractFailedFiles(text)
	e.observe(res, elapsed, inv.Job.FileCount)
	return res
}

func (e *Executor) observe(res types.JobResult, elapsed time.Duration, fileCount int) {
	if e.collector == nil {
		return
	}
	if res.Success {
		e.collector.RecordCompleted(elapsed.Seconds(), fileCount)
	} else {
		e.collector.RecordFailed(elapsed.Seconds())
	}
}
