// ============================================================================
// Rawbatch Executor - Renderer Invocation Builder
// ============================================================================
//
// Package: internal/executor
// File: command.go
// Purpose: Build the darktable-cli argument vector for one job/profile pair
// and scrape failed RAW file paths out of the renderer's stderr.
//
// The output template is passed through as a single argv element exactly as
// the planner produced it; the renderer expands its $(...) tokens itself, so
// no shell and no quoting layer sits between us and the process.
//
// ============================================================================

package executor

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rawbatch/rawbatch/internal/profile"
	"github.com/rawbatch/rawbatch/internal/sandbox"
	"github.com/rawbatch/rawbatch/pkg/types"
)

// invocation carries everything needed to build one renderer command line.
type invocation struct {
	Job     types.Job
	Profile profile.Profile
	Sandbox sandbox.Sandbox

	Width   int
	Height  int
	Quality int
}

// args builds the darktable-cli argument vector. The flag set is load-bearing
// for parallelism: an in-memory library plus per-worker configdir/cachedir is
// what lets several renderer instances run at once without tripping over a
// locked database, and the opencl conf group keeps GPU instances from
// overcommitting VRAM.
func (inv invocation) args() []string {
	return []string{
		inv.Job.InputFolder,
		inv.Job.OutputTemplate,
		"--width", fmt.Sprint(inv.Width),
		"--height", fmt.Sprint(inv.Height),
		"--apply-custom-presets", "false",
		"--library", ":memory:",
		"--configdir", inv.Sandbox.ConfigDir,
		"--cachedir", inv.Sandbox.CacheDir,
		"--core",
		"--conf", fmt.Sprintf("plugins/imageio/format/jpeg/quality=%d", inv.Quality),
		"--conf", "opencl_memory_headroom=1500",
		"--conf", "opencl_async_pixelpipe=TRUE",
		"--conf", "opencl_scheduling_profile=very_fast_gpu",
		"--conf", fmt.Sprintf("opencl=%s", openclFlag(inv.Profile.UseOpenCL)),
	}
}

func openclFlag(enabled bool) string {
	if enabled {
		return "TRUE"
	}
	return "FALSE"
}

// rawFileRe matches path-like tokens ending in a known RAW extension.
var rawFileRe = regexp.MustCompile(`(?i)[^\s"']+\.(arw|cr2|cr3|nef|dng|orf|rw2|raf|pef)\b`)

// extractFailedFiles scans renderer stderr for RAW file paths. Best-effort
// heuristic only: the renderer has no structured error report, so the list
// may be empty or incomplete even when the run failed.
func extractFailedFiles(stderr string) []string {
	matches := rawFileRe.FindAllString(stderr, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(matches))
	files := make([]string, 0, len(matches))
	for _, m := range matches {
		key := strings.ToLower(m)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		files = append(files, m)
	}
	return files
}
