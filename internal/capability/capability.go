// ============================================================================
// Rawbatch Capability Detection - Renderer Installation Validation
// ============================================================================
//
// Package: internal/capability
// File: capability.go
// Purpose: Probe the external renderer binary and report whether the
// installation can serve a conversion run.
//
// ============================================================================

package capability

import (
	"context"
	"os"
	"os/exec"
	"regexp"
	"time"
)

// versionTimeout bounds the --version probe; a hung renderer must not hang
// the validate command.
const versionTimeout = 10 * time.Second

var (
	versionRe = regexp.MustCompile(`(?i)darktable[- ]cli\s+(\d+\.\d+\.\d+)`)
	// Fallback for builds whose banner does not name the binary.
	bareVersionRe = regexp.MustCompile(`\d+\.\d+\.\d+`)
)

// Result is the outcome of one installation check.
type Result struct {
	RendererOK   bool
	RendererPath string
	Version      string
	Errors       []string
}

// Validate checks that the renderer at cliPath exists and answers a version
// probe.
func Validate(cliPath string) Result {
	res := Result{RendererPath: cliPath}

	if _, err := os.Stat(cliPath); err != nil {
		res.Errors = append(res.Errors, "renderer not found at: "+cliPath)
		return res
	}

	version, ok := Version(cliPath)
	if !ok {
		res.Errors = append(res.Errors, "renderer exists but version check failed")
		return res
	}

	res.RendererOK = true
	res.Version = version
	return res
}

// Version runs the renderer's --version probe and parses the version out of
// its combined output. Returns false when the probe fails, times out, or the
// output holds nothing version-shaped.
func Version(cliPath string) (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), versionTimeout)
	defer cancel()

	// The renderer prints the banner on stdout or stderr depending on build.
	out, _ := exec.CommandContext(ctx, cliPath, "--version").CombinedOutput()

	if m := versionRe.FindSubmatch(out); m != nil {
		return string(m[1]), true
	}
	if m := bareVersionRe.Find(out); m != nil {
		return string(m), true
	}
	return "", false
}
