// ============================================================================
// Rawbatch Job Planner - Folder Discovery and Job Creation
// ============================================================================
//
// Package: internal/planner
// File: planner.go
// Purpose: Walk the input tree for leaf folders holding RAW files, classify
// each folder's filename convention, and emit the immutable job list the
// executor consumes.
//
// A leaf folder is any directory that directly contains at least one RAW
// file; nesting does not matter beyond that. The output directory is excluded
// from discovery so a previous run's JPEGs never become input.
//
// All paths handed to the renderer use forward slashes regardless of host
// conventions.
//
// ============================================================================

package planner

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rawbatch/rawbatch/pkg/types"
)

// rawExtensions are the recognized RAW file suffixes, lowercase.
var rawExtensions = map[string]bool{
	".arw": true,
	".cr2": true,
	".cr3": true,
	".nef": true,
	".dng": true,
	".orf": true,
	".rw2": true,
	".raf": true,
	".pef": true,
}

// IsRawFile reports whether name carries a recognized RAW extension.
func IsRawFile(name string) bool {
	return rawExtensions[strings.ToLower(filepath.Ext(name))]
}

// DiscoverLeafFolders walks inpath and returns every directory directly
// containing at least one RAW file, sorted. Directories under outpath are
// skipped; pass outpath == "" to disable the exclusion.
func DiscoverLeafFolders(inpath, outpath string) ([]string, error) {
	info, err := os.Stat(inpath)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("input path is not a directory: %s", inpath)
	}

	var leaves []string
	err = filepath.WalkDir(inpath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if outpath != "" && isWithin(path, outpath) {
			return filepath.SkipDir
		}

		leaf, err := isLeafFolder(path)
		if err != nil {
			return err
		}
		if leaf {
			leaves = append(leaves, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to discover folders: %w", err)
	}

	sort.Strings(leaves)
	return leaves, nil
}

// isWithin reports whether path equals base or sits below it.
func isWithin(path, base string) bool {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func isLeafFolder(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if !e.IsDir() && IsRawFile(e.Name()) {
			return true, nil
		}
	}
	return false, nil
}

// CountRawFiles counts RAW files directly inside folder.
func CountRawFiles(folder string) (int, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, e := range entries {
		if !e.IsDir() && IsRawFile(e.Name()) {
			count++
		}
	}
	return count, nil
}

// CreateJobs builds one job per leaf folder: detected pattern, matching
// output template under outpath, and the folder's RAW file count.
func CreateJobs(leaves []string, outpath string) ([]types.Job, error) {
	base := ToForwardSlashes(outpath)
	jobs := make([]types.Job, 0, len(leaves))

	for _, folder := range leaves {
		pattern, err := DetectFolderPattern(folder)
		if err != nil {
			return nil, err
		}
		count, err := CountRawFiles(folder)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, types.Job{
			InputFolder:    ToForwardSlashes(folder),
			OutputTemplate: OutputTemplate(pattern, base),
			Pattern:        pattern,
			FileCount:      count,
		})
	}
	return jobs, nil
}

// DefaultOutpath derives the output directory for an input tree: a sibling
// named <input>-jpeg, deliberately outside the input so discovery never eats
// its own output.
func DefaultOutpath(inpath string) string {
	clean := filepath.Clean(inpath)
	return filepath.Join(filepath.Dir(clean), filepath.Base(clean)+"-jpeg")
}

// ToForwardSlashes normalizes a path for the renderer's command line.
func ToForwardSlashes(path string) string {
	return strings.ReplaceAll(path, "\\", "/")
}
