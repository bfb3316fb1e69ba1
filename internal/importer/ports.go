package importer

// ports.go declares the storage and file interfaces the pipeline consumes.
// The pg-backed implementations live in internal/store; tests substitute
// in-memory fakes.

import (
	"context"
	"io"
)

// JobStore persists the ImportJob state machine record.
//
// Implementations must enforce two invariants:
//
//   - At most one job per (company, entity type) in an active status;
//     violating writes fail with *ConflictError.
//   - CommitBatch is atomic: the records, the counter deltas, and the new
//     checkpoint become durable together or not at all, and the write fails
//     with ErrStaleCheckpoint when the stored checkpoint no longer matches
//     BatchCommit.OldCheckpoint.
type JobStore interface {
	// CreateJob inserts a new job in uploaded status. It fails with
	// *ConflictError when another job for the same company and entity type
	// is already active, so no second job is created for a busy scope.
	CreateJob(ctx context.Context, job *ImportJob) error
	GetJob(ctx context.Context, companyID, id string) (*ImportJob, error)
	ListJobs(ctx context.Context, companyID string, limit int) ([]*ImportJob, error)

	// ListCommitting returns jobs left in committing status, used to resume
	// interrupted imports after a process restart.
	ListCommitting(ctx context.Context) ([]*ImportJob, error)

	// SetMapping stores the mapping and moves the job to StatusMapping.
	SetMapping(ctx context.Context, id string, m Mapping) error

	// SetStatus transitions from → to, failing with ErrInvalidTransition if
	// the job is no longer in the from status.
	SetStatus(ctx context.Context, id string, from, to JobStatus) error

	// CommitBatch durably applies one batch (see interface doc).
	CommitBatch(ctx context.Context, id string, batch BatchCommit) error

	// FinishJob moves the job to a terminal status and stamps completedAt.
	FinishJob(ctx context.Context, id string, status JobStatus, failureMessage string) error

	// SetCancelRequested flips the durable cancellation flag checked by the
	// commit executor between batches.
	SetCancelRequested(ctx context.Context, id string) error
}

// RecordStore answers natural-key existence queries against committed data.
type RecordStore interface {
	// ExistingKeys returns the subset of keys already persisted for the
	// company and entity type.
	ExistingKeys(ctx context.Context, companyID string, entity EntityType, keys []string) (map[string]struct{}, error)
}

// FileStore spools uploaded files so the row sequence stays restartable
// across dry runs, commits, and process restarts.
type FileStore interface {
	Save(ctx context.Context, jobID, filename string, r io.Reader) error
	Open(jobID string) (io.ReadCloser, error)
	Remove(jobID string) error
}
