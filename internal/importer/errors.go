package importer

// errors.go defines the pipeline error taxonomy:
//
//   - ParseError: fatal, the file is unreadable; no job leaves uploaded.
//   - MappingError: recoverable, operator corrects the mapping and resubmits.
//   - ConflictError: a second concurrent import for the same (company,
//     entity type) scope; no job is created.
//   - StorageError: transient batch-level failure, retried with backoff.
//   - FatalCommitError: retry budget exhausted, job transitions to failed
//     with the checkpoint and partial results preserved.
//
// Row-level failures (validation, duplicate keys) are not Go errors; they
// are RowError values accumulated on the job record.

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced by the service layer.
var (
	// ErrJobNotFound is returned when an import job id does not exist for
	// the calling company.
	ErrJobNotFound = errors.New("import job not found")

	// ErrUnknownEntityType is returned when no contract is registered for
	// the requested entity type.
	ErrUnknownEntityType = errors.New("unknown entity type")

	// ErrInvalidTransition is returned when an operation is requested in a
	// status that does not allow it.
	ErrInvalidTransition = errors.New("operation not allowed in current job status")

	// ErrMappingLocked is returned when a mapping change is attempted after
	// a commit has been confirmed.
	ErrMappingLocked = errors.New("mapping is immutable once committing has started")

	// ErrStaleCheckpoint is returned by the store when a batch commit's
	// checkpoint precondition no longer holds (another process advanced it).
	ErrStaleCheckpoint = errors.New("checkpoint advanced by another process")
)

// ParseError is a fatal file-level failure: unsupported format, corrupt
// content, or a row exceeding configured limits.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse: %s: %v", e.Reason, e.Err)
	}
	return "parse: " + e.Reason
}

func (e *ParseError) Unwrap() error { return e.Err }

// MappingError describes one structural problem with a submitted mapping.
type MappingError struct {
	Field   string `json:"field,omitempty"`
	Source  string `json:"source,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e MappingError) Error() string { return e.Message }

// Mapping error codes.
const (
	MapCodeRequiredUnmapped = "required_unmapped"
	MapCodeDuplicateSource  = "duplicate_source"
	MapCodeDuplicateTarget  = "duplicate_target"
	MapCodeUnknownTarget    = "unknown_target"
)

// MappingErrors aggregates the structural problems of one submission.
type MappingErrors []MappingError

func (e MappingErrors) Error() string {
	if len(e) == 1 {
		return "invalid mapping: " + e[0].Message
	}
	return fmt.Sprintf("invalid mapping: %d problems", len(e))
}

// ConflictError reports that another import for the same company and entity
// type is already active.
type ConflictError struct {
	CompanyID  string
	EntityType EntityType
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("an import for %s is already in progress for this company", e.EntityType)
}

// StorageError wraps a transient storage failure during a batch commit.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

// FatalCommitError marks a commit as unrecoverable after the retry budget
// is exhausted. The job moves to failed at its last durable checkpoint.
type FatalCommitError struct {
	Checkpoint int
	Attempts   int
	Err        error
}

func (e *FatalCommitError) Error() string {
	return fmt.Sprintf("commit failed after %d attempts at checkpoint %d: %v",
		e.Attempts, e.Checkpoint, e.Err)
}

func (e *FatalCommitError) Unwrap() error { return e.Err }
