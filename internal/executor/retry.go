// ============================================================================
// Rawbatch Executor - Bounded Retry Controller
// ============================================================================
//
// Package: internal/executor
// File: retry.go
// Purpose: Re-run failed folder conversions for a bounded number of rounds,
// folding each round's successes into a running total.
//
// A folder is the unit of retry: there is no partial-file resume, every prior
// failure re-enters the next round as a fresh job. No backoff between rounds;
// renderer failures here are capacity or file problems, not transient remote
// errors, so waiting buys nothing.
//
// ============================================================================

package executor

import (
	"context"
	"log/slog"

	"github.com/rawbatch/rawbatch/pkg/types"
)

// RetryFailed re-executes failed until the set empties or maxRetries rounds
// have run. The returned BatchResult aggregates across rounds: successes
// accumulate, FailedJobs is whatever still fails after the last round, and
// Results holds one entry per attempt in every round.
func (e *Executor) RetryFailed(ctx context.Context, failed []types.Job, maxRetries int, onProgress func(types.JobResult)) types.BatchResult {
	var total types.BatchResult
	remaining := failed

	for round := 1; round <= maxRetries && len(remaining) > 0; round++ {
		if ctx.Err() != nil {
			slog.Warn("cancellation requested, stopping retries",
				"remaining", len(remaining))
			break
		}

		slog.Info("retrying failed folders",
			"round", round,
			"max_rounds", maxRetries,
			"folders", len(remaining))
		if e.collector != nil {
			e.collector.RecordRetryRound()
		}

		res := e.ExecuteJobs(ctx, remaining, onProgress)
		total.Completed += res.Completed
		total.FilesCompleted += res.FilesCompleted
		total.Results = append(total.Results, res.Results...)
		remaining = res.FailedJobs
	}

	total.Failed = len(remaining)
	total.FailedJobs = remaining
	return total
}
