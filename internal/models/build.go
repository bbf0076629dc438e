package models

import "time"

// BuildErrorKind classifies a build diagnostic.
type BuildErrorKind string

const (
	BuildErrorSyntax           BuildErrorKind = "syntax_error"
	BuildErrorType             BuildErrorKind = "type_error"
	BuildErrorMissingReference BuildErrorKind = "missing_reference"
	BuildErrorTimeout          BuildErrorKind = "timeout"
	BuildErrorUnclassified     BuildErrorKind = "unclassified"
)

// BuildError is one classified diagnostic from a build invocation.
type BuildError struct {
	Kind    BuildErrorKind `json:"kind"`
	Message string         `json:"message"`
	File    string         `json:"file,omitempty"`
	Line    int            `json:"line,omitempty"`
	Column  int            `json:"column,omitempty"`
	RawCode string         `json:"raw_code,omitempty"`
}

// BuildWarning is a non-fatal diagnostic from a build invocation.
type BuildWarning struct {
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
}

// BuildAttempt records a single build invocation. Attempts are append-only
// within a BuildResult.
type BuildAttempt struct {
	AttemptNumber int            `json:"attempt_number"`
	RawOutput     string         `json:"raw_output,omitempty"`
	Errors        []BuildError   `json:"errors,omitempty"`
	Warnings      []BuildWarning `json:"warnings,omitempty"`
	FixedFiles    []string       `json:"fixed_files,omitempty"`
	StartedAt     time.Time      `json:"started_at"`
	FinishedAt    *time.Time     `json:"finished_at,omitempty"`
}

// BuildResult is the terminal artifact of one build-fix engine run.
type BuildResult struct {
	Success    bool           `json:"success"`
	RetryCount int            `json:"retry_count"`
	FixedFiles []string       `json:"fixed_files,omitempty"`
	Errors     []BuildError   `json:"errors,omitempty"`
	Warnings   []BuildWarning `json:"warnings,omitempty"`
	Attempts   []BuildAttempt `json:"attempts,omitempty"`
}

// FixPatch is a full-content replacement for one file, proposed by the
// fixer collaborator. Patches are ephemeral and never persisted.
type FixPatch struct {
	TargetFile string `json:"target_file"`
	NewContent string `json:"new_content"`
}
