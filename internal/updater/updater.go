// ============================================================================
// Rawbatch Update Monitor - Renderer Release Checking
// ============================================================================
//
// Package: internal/updater
// File: updater.go
// Purpose: Check the renderer's release feed for a newer version than the
// installed one and format a user-facing notice.
//
// Lookups go through a time-bounded cache (cache.go); live fetches retry
// with Fibonacci backoff since the release API throttles aggressively.
// Every failure path degrades to "no update information", never to a failed
// conversion run.
//
// ============================================================================

package updater

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

// defaultAPIURL is the latest-release endpoint of the renderer project.
const defaultAPIURL = "https://api.github.com/repos/darktable-org/darktable/releases/latest"

// Release describes one published renderer release.
type Release struct {
	Version   string
	URL       string
	Published string
}

// CheckResult compares the installed renderer against the latest release.
type CheckResult struct {
	UpdateAvailable bool
	Current         string
	Latest          string
	URL             string
}

// Monitor checks the release feed with caching.
type Monitor struct {
	client    *http.Client
	apiURL    string
	cache     *cache
	cacheDays int
	now       func() time.Time
}

// NewMonitor creates a monitor caching at cachePath for cacheDays.
func NewMonitor(cachePath string, cacheDays int) *Monitor {
	return &Monitor{
		client:    &http.Client{Timeout: 10 * time.Second},
		apiURL:    defaultAPIURL,
		cache:     newCache(cachePath),
		cacheDays: cacheDays,
		now:       time.Now,
	}
}

// LatestRelease returns the newest published release, from cache when the
// last lookup is recent enough and forceRefresh is false.
func (m *Monitor) LatestRelease(ctx context.Context, forceRefresh bool) (*Release, error) {
	if !forceRefresh {
		if state := m.cache.load(); state.valid(m.now(), m.cacheDays) {
			return &Release{
				Version:   state.LatestVersion,
				URL:       state.ReleaseURL,
				Published: state.Published,
			}, nil
		}
	}

	rel, err := m.fetch(ctx)
	if err != nil {
		return nil, err
	}

	m.cache.save(cacheState{
		LastCheck:     m.now(),
		LatestVersion: rel.Version,
		ReleaseURL:    rel.URL,
		Published:     rel.Published,
	})
	return rel, nil
}

// fetch queries the release API, retrying transient failures.
func (m *Monitor) fetch(ctx context.Context) (*Release, error) {
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(500*time.Millisecond))

	var rel *Release
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.apiURL, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/vnd.github.v3+json")

		resp, err := m.client.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return retry.RetryableError(fmt.Errorf("release API returned %d", resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("release API returned %d", resp.StatusCode)
		}

		var body struct {
			TagName     string `json:"tag_name"`
			HTMLURL     string `json:"html_url"`
			PublishedAt string `json:"published_at"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return fmt.Errorf("failed to decode release response: %w", err)
		}

		// Tags look like "release-5.4.0" or "v5.4.0".
		version := strings.TrimPrefix(body.TagName, "release-")
		version = strings.TrimPrefix(version, "v")

		rel = &Release{
			Version:   version,
			URL:       body.HTMLURL,
			Published: body.PublishedAt,
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch latest release: %w", err)
	}
	return rel, nil
}

// CheckForUpdates compares currentVersion against the latest release.
func (m *Monitor) CheckForUpdates(ctx context.Context, currentVersion string) (*CheckResult, error) {
	rel, err := m.LatestRelease(ctx, false)
	if err != nil {
		return nil, err
	}
	if rel.Version == "" {
		return nil, fmt.Errorf("release feed carried no version tag")
	}

	return &CheckResult{
		UpdateAvailable: compareVersions(currentVersion, rel.Version) < 0,
		Current:         currentVersion,
		Latest:          rel.Version,
		URL:             rel.URL,
	}, nil
}

// compareVersions orders dotted numeric versions: -1, 0 or 1. Non-numeric
// segments are skipped; missing segments count as zero.
func compareVersions(a, b string) int {
	pa := parseVersion(a)
	pb := parseVersion(b)

	for len(pa) < len(pb) {
		pa = append(pa, 0)
	}
	for len(pb) < len(pa) {
		pb = append(pb, 0)
	}

	for i := range pa {
		if pa[i] < pb[i] {
			return -1
		}
		if pa[i] > pb[i] {
			return 1
		}
	}
	return 0
}

func parseVersion(v string) []int {
	var parts []int
	for _, seg := range strings.Split(v, ".") {
		n, err := strconv.Atoi(seg)
		if err != nil {
			continue
		}
		parts = append(parts, n)
	}
	return parts
}

// FormatMessage renders a user-facing update notice.
func FormatMessage(res *CheckResult) string {
	if res == nil {
		return "Unable to check for renderer updates."
	}
	if !res.UpdateAvailable {
		return fmt.Sprintf("darktable %s is up to date.", res.Current)
	}

	var b strings.Builder
	b.WriteString(strings.Repeat("=", 50) + "\n")
	b.WriteString("darktable update available!\n")
	b.WriteString(fmt.Sprintf("  Current:  %s\n", res.Current))
	b.WriteString(fmt.Sprintf("  Latest:   %s\n", res.Latest))
	if res.URL != "" {
		b.WriteString(fmt.Sprintf("  Download: %s\n", res.URL))
	}
	b.WriteString(strings.Repeat("=", 50))
	return b.String()
}
