// Package types defines the core domain model shared across rawbatch.
package types

// FolderPattern classifies the filename convention used inside a leaf folder.
// The pattern decides how much datetime information the output template has to
// add: filenames that already carry a timestamp only need a dated subfolder.
type FolderPattern string

const (
	// PatternDatetimePrefix matches 2025-12-25_16-34-32_DSC07514.ARW.
	PatternDatetimePrefix FolderPattern = "datetime_prefix"
	// PatternDatetimeSuffix matches DSC07514_2025-12-25_16-34-32.ARW.
	PatternDatetimeSuffix FolderPattern = "datetime_suffix"
	// PatternPlainDSC matches DSC07514.ARW.
	PatternPlainDSC FolderPattern = "plain_dsc"
	// PatternUnknown is any unrecognized convention; treated like PatternPlainDSC.
	PatternUnknown FolderPattern = "unknown"
)

// Job is one folder conversion unit, created once per run by the planner and
// immutable afterwards. Identity is InputFolder, unique across a run. A Job
// may be consumed several times when the retry controller resubmits it.
type Job struct {
	// InputFolder is the leaf folder holding the RAW files, forward slashes.
	InputFolder string `json:"input_folder"`
	// OutputTemplate is the renderer output path template, already containing
	// the renderer's placeholder tokens. Passed through unmodified.
	OutputTemplate string `json:"output_template"`
	// Pattern is the detected filename convention of the folder.
	Pattern FolderPattern `json:"pattern"`
	// FileCount is the number of RAW files in the folder, used for
	// file-weighted progress accounting.
	FileCount int `json:"file_count"`
}

// JobResult is the outcome of one job attempt. Produced exactly once per
// attempt; a retried job produces a fresh JobResult each round.
type JobResult struct {
	Success bool   `json:"success"`
	Folder  string `json:"folder"`
	// FailedFiles is a best-effort list of RAW file paths scraped from the
	// renderer's stderr. May be empty even when the attempt failed.
	FailedFiles []string `json:"failed_files"`
	Error       string   `json:"error,omitempty"`
}

// BatchResult aggregates one ExecuteJobs call. Completed+Failed equals
// len(Results); jobs abandoned by cancellation appear in neither.
type BatchResult struct {
	Completed  int         `json:"completed"`
	Failed     int         `json:"failed"`
	FailedJobs []Job       `json:"failed_jobs"`
	Results    []JobResult `json:"results"`
	// FilesCompleted sums FileCount over successfully converted folders only.
	FilesCompleted int `json:"files_completed"`
}
