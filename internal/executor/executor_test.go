package executor

// ============================================================================
// Executor Test File
// Purpose: Verify batch execution against stub renderers: success and failure
// mapping, stderr scraping, capacity failure, cancellation, launch errors
// ============================================================================

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rawbatch/rawbatch/internal/affinity"
	"github.com/rawbatch/rawbatch/pkg/types"
)

// ============================================================================
// Test Helpers
// ============================================================================

// writeStubRenderer writes an executable shell script standing in for
// darktable-cli. Each invocation appends its argv to logPath.
func writeStubRenderer(t *testing.T, dir, name, logPath, extra string) string {
	t.Helper()
	script := fmt.Sprintf("#!/bin/sh\necho \"$@\" >> %q\n%s\n", logPath, extra)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func invocationLog(t *testing.T, logPath string) []string {
	t.Helper()
	data, err := os.ReadFile(logPath)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil
	}
	return lines
}

func testConfig(cli string) Config {
	return Config{
		RendererCLI:    cli,
		Width:          2048,
		Height:         2048,
		Quality:        90,
		MaxWorkers:     3,
		MaxGPUWorkers:  2,
		ReservedCores:  4,
		GPUThreadWidth: 4,
		CPUThreadWidth: 4,
		TotalThreads:   16,
		Quiet:          true,
	}
}

// newTestExecutor disables real pinning; the stub renderer is not the
// renderer and the test host's CPU layout is not ours to assume.
func newTestExecutor(cfg Config, root string) *Executor {
	cfg.SandboxRoot = root
	e := New(cfg, nil)
	e.pinFn = func(pid int, m affinity.Mask) error { return nil }
	return e
}

func makeJobs(n int) []types.Job {
	jobs := make([]types.Job, 0, n)
	for i := 0; i < n; i++ {
		jobs = append(jobs, types.Job{
			InputFolder:    fmt.Sprintf("/photos/folder_%02d", i),
			OutputTemplate: "/photos/Converted/$(EXIF.YEAR)-$(EXIF.MONTH)-$(EXIF.DAY)/$(FILE.NAME).jpg",
			Pattern:        types.PatternPlainDSC,
			FileCount:      10 + i,
		})
	}
	return jobs
}

// ============================================================================
// Success Path
// ============================================================================

// TestExecuteJobsAllSucceed tests the clean batch: every job completes, files
// are counted, no failures recorded.
func TestExecuteJobsAllSucceed(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "calls.log")
	cli := writeStubRenderer(t, dir, "dt-ok", logPath, "exit 0")

	jobs := makeJobs(5)
	wantFiles := 0
	for _, j := range jobs {
		wantFiles += j.FileCount
	}

	e := newTestExecutor(testConfig(cli), dir)
	res := e.ExecuteJobs(context.Background(), jobs, nil)

	assert.Equal(t, len(jobs), res.Completed)
	assert.Equal(t, 0, res.Failed)
	assert.Empty(t, res.FailedJobs)
	assert.Equal(t, wantFiles, res.FilesCompleted)
	assert.Len(t, res.Results, len(jobs))
	assert.Len(t, invocationLog(t, logPath), len(jobs))
}

// TestExecuteJobsRendererFlags tests the argument vector the renderer sees:
// positional input/template, sandbox dirs, and the opencl mode per profile.
func TestExecuteJobsRendererFlags(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "calls.log")
	cli := writeStubRenderer(t, dir, "dt-ok", logPath, "exit 0")

	jobs := makeJobs(1)
	e := newTestExecutor(testConfig(cli), dir)
	res := e.ExecuteJobs(context.Background(), jobs, nil)
	require.Equal(t, 1, res.Completed)

	lines := invocationLog(t, logPath)
	require.Len(t, lines, 1)
	argv := lines[0]

	assert.True(t, strings.HasPrefix(argv, jobs[0].InputFolder+" "))
	assert.Contains(t, argv, jobs[0].OutputTemplate)
	assert.Contains(t, argv, "--width 2048")
	assert.Contains(t, argv, "--height 2048")
	assert.Contains(t, argv, "--library :memory:")
	assert.Contains(t, argv, "--configdir")
	assert.Contains(t, argv, "dt_config_1")
	assert.Contains(t, argv, "dt_cache_1")
	assert.Contains(t, argv, "plugins/imageio/format/jpeg/quality=90")
	// One job means one profile, GPU-first, so opencl is on.
	assert.Contains(t, argv, "--conf opencl=TRUE")
}

// TestExecuteJobsProgressWeighting tests that progress callbacks fire once
// per job and the accumulator weights by file count.
func TestExecuteJobsProgressWeighting(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "calls.log")
	cli := writeStubRenderer(t, dir, "dt-ok", logPath, "exit 0")

	jobs := makeJobs(4)
	e := newTestExecutor(testConfig(cli), dir)

	var mu sync.Mutex
	var seen []types.JobResult
	res := e.ExecuteJobs(context.Background(), jobs, func(r types.JobResult) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, r)
	})

	assert.Len(t, seen, len(jobs))
	assert.Equal(t, len(jobs), res.Completed)
}

// ============================================================================
// Failure Paths
// ============================================================================

// TestExecuteJobsAllFail tests failure mapping: every job lands in
// FailedJobs with the stderr text and scraped RAW paths attached.
func TestExecuteJobsAllFail(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "calls.log")
	cli := writeStubRenderer(t, dir, "dt-fail", logPath,
		"echo 'ERROR: cannot open /photos/bad/DSC07514.ARW' >&2\nexit 1")

	jobs := makeJobs(3)
	e := newTestExecutor(testConfig(cli), dir)
	res := e.ExecuteJobs(context.Background(), jobs, nil)

	assert.Equal(t, 0, res.Completed)
	assert.Equal(t, len(jobs), res.Failed)
	assert.Len(t, res.FailedJobs, len(jobs))
	assert.Equal(t, 0, res.FilesCompleted)

	for _, r := range res.Results {
		assert.False(t, r.Success)
		assert.Contains(t, r.Error, "cannot open")
		assert.Equal(t, []string{"/photos/bad/DSC07514.ARW"}, r.FailedFiles)
	}
}

// TestExecuteJobsLaunchError tests the missing-executable path: recorded as
// per-job failures, never a panic or propagated error.
func TestExecuteJobsLaunchError(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(filepath.Join(dir, "no-such-renderer"))

	jobs := makeJobs(2)
	e := newTestExecutor(cfg, dir)
	res := e.ExecuteJobs(context.Background(), jobs, nil)

	assert.Equal(t, len(jobs), res.Failed)
	for _, r := range res.Results {
		assert.False(t, r.Success)
		assert.Contains(t, r.Error, "failed to launch renderer")
		assert.Empty(t, r.FailedFiles)
	}
}

// TestExecuteJobsPinError tests the affinity rejection path: the renderer is
// killed and the job fails with the pin error recorded.
func TestExecuteJobsPinError(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "calls.log")
	cli := writeStubRenderer(t, dir, "dt-ok", logPath, "exec sleep 2")

	jobs := makeJobs(1)
	e := newTestExecutor(testConfig(cli), dir)
	e.pinFn = func(pid int, m affinity.Mask) error {
		return fmt.Errorf("sched_setaffinity: operation not permitted")
	}

	res := e.ExecuteJobs(context.Background(), jobs, nil)

	require.Equal(t, 1, res.Failed)
	assert.Contains(t, res.Results[0].Error, "failed to set CPU affinity")
}

// TestExecuteJobsNoCapacity tests the fatal capacity condition: zero
// generated profiles fails every job without a single renderer launch.
func TestExecuteJobsNoCapacity(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "calls.log")
	cli := writeStubRenderer(t, dir, "dt-ok", logPath, "exit 0")

	cfg := testConfig(cli)
	cfg.ReservedCores = 16 // eats the whole budget

	jobs := makeJobs(3)
	e := newTestExecutor(cfg, dir)
	res := e.ExecuteJobs(context.Background(), jobs, nil)

	assert.Equal(t, len(jobs), res.Failed)
	assert.Len(t, res.FailedJobs, len(jobs))
	for _, r := range res.Results {
		assert.Contains(t, r.Error, "thread budget")
	}
	assert.Empty(t, invocationLog(t, logPath), "renderer must not be invoked")
}

// ============================================================================
// Cancellation
// ============================================================================

// TestExecuteJobsCancelledBeforeStart tests drain semantics for a context
// cancelled up front: nothing launches, abandoned jobs appear nowhere.
func TestExecuteJobsCancelledBeforeStart(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "calls.log")
	cli := writeStubRenderer(t, dir, "dt-ok", logPath, "exit 0")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	jobs := makeJobs(4)
	e := newTestExecutor(testConfig(cli), dir)
	res := e.ExecuteJobs(ctx, jobs, nil)

	assert.Equal(t, 0, res.Completed)
	assert.Equal(t, 0, res.Failed)
	assert.Empty(t, res.Results, "abandoned jobs must not produce results")
	assert.Empty(t, invocationLog(t, logPath))
}

// TestExecuteJobsDrainMidBatch tests drain semantics for a context cancelled
// while a renderer is in flight: the running job finishes and is counted, the
// undispatched remainder is abandoned and appears nowhere in the result.
func TestExecuteJobsDrainMidBatch(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "calls.log")
	cli := writeStubRenderer(t, dir, "dt-slow", logPath, "sleep 1\nexit 0")

	cfg := testConfig(cli)
	cfg.MaxWorkers = 1
	cfg.MaxGPUWorkers = 1

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(300 * time.Millisecond)
		cancel()
	}()

	jobs := makeJobs(4)
	e := newTestExecutor(cfg, dir)
	start := time.Now()
	res := e.ExecuteJobs(ctx, jobs, nil)

	// The in-flight renderer ran to completion rather than being killed.
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
	assert.Equal(t, 1, res.Completed)
	assert.Equal(t, 0, res.Failed)
	assert.Len(t, res.Results, 1, "abandoned jobs must not produce results")
	assert.Len(t, invocationLog(t, logPath), 1)
}

// ============================================================================
// Concurrency Bound
// ============================================================================

// TestExecuteJobsConcurrencyBound tests that in-flight renderer processes
// never exceed the profile count. Each stub invocation drops a marker file,
// records how many markers are live, lingers, then removes its own.
func TestExecuteJobsConcurrencyBound(t *testing.T) {
	dir := t.TempDir()
	liveDir := filepath.Join(dir, "live")
	require.NoError(t, os.MkdirAll(liveDir, 0o755))
	logPath := filepath.Join(dir, "calls.log")
	activeLog := filepath.Join(dir, "active.log")

	body := fmt.Sprintf(
		"m=%s/$$\ntouch \"$m\"\nls %s | wc -l >> %s\nsleep 0.3\nrm -f \"$m\"\nexit 0",
		liveDir, liveDir, activeLog)
	cli := writeStubRenderer(t, dir, "dt-count", logPath, body)

	cfg := testConfig(cli)
	cfg.MaxWorkers = 2
	cfg.MaxGPUWorkers = 1

	jobs := makeJobs(6)
	e := newTestExecutor(cfg, dir)
	res := e.ExecuteJobs(context.Background(), jobs, nil)
	require.Equal(t, len(jobs), res.Completed)

	counts := invocationLog(t, activeLog)
	require.Len(t, counts, len(jobs))
	for _, line := range counts {
		n, err := strconv.Atoi(strings.TrimSpace(line))
		require.NoError(t, err)
		assert.LessOrEqual(t, n, 2,
			"more renderers live than worker profiles")
	}
}

// TestExecuteJobsEmptyBatch tests the trivial input.
func TestExecuteJobsEmptyBatch(t *testing.T) {
	e := newTestExecutor(testConfig("/bin/true"), t.TempDir())
	res := e.ExecuteJobs(context.Background(), nil, nil)
	assert.Zero(t, res.Completed)
	assert.Zero(t, res.Failed)
	assert.Empty(t, res.Results)
}

// ============================================================================
// Sandbox Integration
// ============================================================================

// TestExecuteJobsSandboxRemoved tests that no per-batch sandbox tree survives
// the call.
func TestExecuteJobsSandboxRemoved(t *testing.T) {
	dir := t.TempDir()
	sandboxRoot := filepath.Join(dir, "sandboxes")
	require.NoError(t, os.MkdirAll(sandboxRoot, 0o755))
	logPath := filepath.Join(dir, "calls.log")
	cli := writeStubRenderer(t, dir, "dt-ok", logPath, "exit 0")

	e := newTestExecutor(testConfig(cli), sandboxRoot)
	res := e.ExecuteJobs(context.Background(), makeJobs(3), nil)
	require.Equal(t, 3, res.Completed)

	entries, err := os.ReadDir(sandboxRoot)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// ============================================================================
// Stderr Scraping
// ============================================================================

// TestExtractFailedFiles tests the best-effort RAW path extractor.
func TestExtractFailedFiles(t *testing.T) {
	tests := []struct {
		name   string
		stderr string
		want   []string
	}{
		{
			name:   "single arw path",
			stderr: "ERROR: cannot import /p/DSC07514.ARW (corrupt)",
			want:   []string{"/p/DSC07514.ARW"},
		},
		{
			name:   "mixed case extensions",
			stderr: "failed: /p/a.arw\nfailed: /p/b.CR3\nfailed: /p/c.Nef",
			want:   []string{"/p/a.arw", "/p/b.CR3", "/p/c.Nef"},
		},
		{
			name:   "duplicates collapsed",
			stderr: "x /p/a.dng y /p/a.dng z /p/A.DNG",
			want:   []string{"/p/a.dng"},
		},
		{
			name:   "no raw tokens",
			stderr: "out of memory while tiling",
			want:   nil,
		},
		{
			name:   "jpeg not matched",
			stderr: "wrote /p/out.jpg",
			want:   nil,
		},
		{
			name:   "extension must end the token",
			stderr: "weird /p/file.arwx trailer",
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractFailedFiles(tt.stderr))
		})
	}
}
