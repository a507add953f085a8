// ============================================================================
// Rawbatch Job Planner - Filename Pattern Detection
// ============================================================================
//
// Package: internal/planner
// File: patterns.go
// Purpose: Classify a folder's filename convention and derive the renderer
// output template for it.
//
// Filenames that already carry a capture timestamp only need a dated
// subfolder; plain DSC-style names additionally get the timestamp prefixed
// onto the output filename via the renderer's EXIF variables. Classification
// samples one RAW file per folder; shoots do not mix conventions inside a
// folder.
//
// ============================================================================

package planner

import (
	"os"
	"regexp"

	"github.com/rawbatch/rawbatch/pkg/types"
)

var (
	// 2025-12-25_16-34-32_DSC07514.ARW
	datetimePrefixRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}_\d{2}-\d{2}-\d{2}_[A-Za-z]+\d+\.\w+$`)
	// DSC07514_2025-12-25_16-34-32.ARW
	datetimeSuffixRe = regexp.MustCompile(`^[A-Za-z]+\d+_\d{4}-\d{2}-\d{2}_\d{2}-\d{2}-\d{2}\.\w+$`)
	// DSC07514.ARW
	plainDSCRe = regexp.MustCompile(`^[A-Za-z]+\d+\.\w+$`)
)

// DetectFilenamePattern classifies a single RAW filename.
func DetectFilenamePattern(name string) types.FolderPattern {
	switch {
	case datetimePrefixRe.MatchString(name):
		return types.PatternDatetimePrefix
	case datetimeSuffixRe.MatchString(name):
		return types.PatternDatetimeSuffix
	case plainDSCRe.MatchString(name):
		return types.PatternPlainDSC
	default:
		return types.PatternUnknown
	}
}

// DetectFolderPattern classifies folder by its first RAW file. A folder
// without RAW files is PatternUnknown.
func DetectFolderPattern(folder string) (types.FolderPattern, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return types.PatternUnknown, err
	}
	for _, e := range entries {
		if !e.IsDir() && IsRawFile(e.Name()) {
			return DetectFilenamePattern(e.Name()), nil
		}
	}
	return types.PatternUnknown, nil
}

// OutputTemplate builds the renderer output path template for a pattern.
// base must already use forward slashes. The template is one argv element;
// the renderer expands the $(...) variables itself.
func OutputTemplate(pattern types.FolderPattern, base string) string {
	for len(base) > 0 && base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}

	const dateDir = "$(EXIF.YEAR)-$(EXIF.MONTH)-$(EXIF.DAY)"

	switch pattern {
	case types.PatternDatetimePrefix, types.PatternDatetimeSuffix:
		// Timestamp already in the filename, keep it as-is.
		return base + "/" + dateDir + "/$(FILE.NAME).jpg"
	default:
		// plain_dsc and unknown both get the full timestamp prefix.
		return base + "/" + dateDir + "/" + dateDir +
			"_$(EXIF.HOUR)-$(EXIF.MINUTE)-$(EXIF.SECOND)_$(FILE.NAME).jpg"
	}
}
