// ============================================================================
// Rawbatch Sandbox Lifecycle Manager - Per-Worker Renderer Isolation
// ============================================================================
//
// Package: internal/sandbox
// File: sandbox.go
// Purpose: Scoped creation and teardown of the isolated config/cache
// directories each renderer instance needs.
//
// The renderer persists a library index and cache to disk by default, and
// concurrent instances sharing those paths corrupt each other ("database is
// locked"). Each worker slot therefore gets a private configdir and cachedir
// under a per-batch root; the library itself is kept in memory by the
// executor's --library :memory: flag, but the cache directory is still
// required for temporary artifacts.
//
// Removal is best-effort on every exit path: a cleanup failure must never
// fail an otherwise-successful conversion.
//
// ============================================================================

package sandbox

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Sandbox holds the per-worker paths handed to one renderer invocation.
type Sandbox struct {
	WorkerID  int
	ConfigDir string
	CacheDir  string
}

// With creates the sandbox directories for workerID under root, invokes body,
// and removes the directories again regardless of how body exits. Directory
// names are keyed by workerID, so uniqueness of worker IDs within a profile
// pool guarantees concurrently active sandboxes never collide.
func With(root string, workerID int, body func(sb Sandbox) error) error {
	sb := Sandbox{
		WorkerID:  workerID,
		ConfigDir: filepath.Join(root, fmt.Sprintf("dt_config_%d", workerID)),
		CacheDir:  filepath.Join(root, fmt.Sprintf("dt_cache_%d", workerID)),
	}

	if err := os.MkdirAll(sb.ConfigDir, 0o755); err != nil {
		return fmt.Errorf("failed to create sandbox config dir: %w", err)
	}
	if err := os.MkdirAll(sb.CacheDir, 0o755); err != nil {
		// Partial creation still gets torn down.
		remove(sb)
		return fmt.Errorf("failed to create sandbox cache dir: %w", err)
	}

	defer remove(sb)
	return body(sb)
}

// remove deletes both sandbox directories, suppressing errors. The renderer
// has exited by the time this runs, so leftovers only cost disk space.
func remove(sb Sandbox) {
	for _, dir := range []string{sb.ConfigDir, sb.CacheDir} {
		if err := os.RemoveAll(dir); err != nil {
			slog.Debug("sandbox cleanup failed, ignoring",
				"worker_id", sb.WorkerID, "dir", dir, "error", err)
		}
	}
}
