// ============================================================================
// Rawbatch Executor - Batch Result Accumulator
// ============================================================================
//
// Package: internal/executor
// File: batch.go
// Purpose: Thread-safe accumulation of per-job outcomes into a BatchResult,
// plus file-count-weighted progress accounting.
//
// The accumulator is the only mutable structure shared between worker
// goroutines besides the profile pool channel; one mutex serializes result
// recording, progress bookkeeping and the caller's progress callback.
//
// ============================================================================

package executor

import (
	"log/slog"
	"sync"

	"github.com/rawbatch/rawbatch/pkg/types"
)

// batchState collects outcomes while worker goroutines run.
type batchState struct {
	mu sync.Mutex

	results    []types.JobResult
	failedJobs []types.Job

	completed      int
	failed         int
	filesCompleted int

	// Progress is weighted by file count, not folder count; a 400-file
	// folder and a 3-file folder should not advance the bar equally.
	filesDone  int
	totalFiles int

	onProgress func(types.JobResult)
}

func newBatchState(jobs []types.Job, onProgress func(types.JobResult)) *batchState {
	total := 0
	for _, j := range jobs {
		total += j.FileCount
	}
	return &batchState{
		totalFiles: total,
		onProgress: onProgress,
	}
}

// record stores one attempt outcome and advances progress. The progress
// callback runs under the lock, which also serializes it for callers whose
// callback is not safe for concurrent use.
func (s *batchState) record(job types.Job, res types.JobResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results = append(s.results, res)
	s.filesDone += job.FileCount

	if res.Success {
		s.completed++
		s.filesCompleted += job.FileCount
	} else {
		s.failed++
		s.failedJobs = append(s.failedJobs, job)
	}

	pct := 0.0
	if s.totalFiles > 0 {
		pct = float64(s.filesDone) / float64(s.totalFiles) * 100
	}
	slog.Info("folder finished",
		"folder", job.InputFolder,
		"success", res.Success,
		"files", job.FileCount,
		"progress_pct", int(pct))

	if s.onProgress != nil {
		s.onProgress(res)
	}
}

// snapshot freezes the accumulated state into the public result record.
// Called after all workers have returned, so no lock contention remains.
func (s *batchState) snapshot() types.BatchResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return types.BatchResult{
		Completed:      s.completed,
		Failed:         s.failed,
		FailedJobs:     s.failedJobs,
		Results:        s.results,
		FilesCompleted: s.filesCompleted,
	}
}
