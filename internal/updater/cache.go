// ============================================================================
// Rawbatch Update Monitor - Release Cache Persistence
// ============================================================================
//
// Package: internal/updater
// File: cache.go
// Purpose: Persist the last successful release lookup so repeated runs do
// not hammer the release API.
//
// The cache is advisory; load and save failures degrade to a fresh fetch and
// are never surfaced to the caller.
//
// ============================================================================

package updater

import (
	"encoding/json"
	"log/slog"
	"os"
	"time"
)

// cacheState is the on-disk cache record.
type cacheState struct {
	LastCheck     time.Time `json:"last_check"`
	LatestVersion string    `json:"latest_version"`
	ReleaseURL    string    `json:"release_url"`
	Published     string    `json:"published"`
}

type cache struct {
	path string
}

func newCache(path string) *cache {
	return &cache{path: path}
}

// load returns the cached state, or nil when absent or unreadable.
func (c *cache) load() *cacheState {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil
	}
	var state cacheState
	if err := json.Unmarshal(data, &state); err != nil {
		slog.Debug("discarding corrupt update cache", "path", c.path, "error", err)
		return nil
	}
	return &state
}

// save writes the state, best-effort.
func (c *cache) save(state cacheState) {
	data, err := json.Marshal(state)
	if err != nil {
		return
	}
	if err := os.WriteFile(c.path, data, 0o644); err != nil {
		slog.Debug("failed to write update cache, ignoring", "path", c.path, "error", err)
	}
}

// valid reports whether the cached lookup is younger than cacheDays.
func (s *cacheState) valid(now time.Time, cacheDays int) bool {
	if s == nil || s.LastCheck.IsZero() {
		return false
	}
	return now.Sub(s.LastCheck) < time.Duration(cacheDays)*24*time.Hour
}
