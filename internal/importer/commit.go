package importer

// commit.go replays validation deterministically and persists accepted rows
// in checkpointed batches.
//
// The row sequence is an immutable arena indexed by integer offset; the
// job's checkpoint is the only cursor. Rows below the checkpoint are
// re-validated on resume (to rebuild the intra-file duplicate set) but never
// re-committed, and the store's natural-key conflict handling backstops the
// replay, so a restart from any valid checkpoint cannot double-insert.
//
// Batch sizing must stay constant for the life of a job: resume alignment
// relies on chunk boundaries reproducing the original run.
//
// A batch-level storage error is retried with exponential backoff; an
// exhausted retry budget promotes to *FatalCommitError and the job fails at
// its last durable checkpoint. Cancellation is observed between batches
// only; rows already committed stay committed.

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// CommitConfig tunes the executor. The retry budget and backoff are
// deployment parameters rather than fixed constants.
type CommitConfig struct {
	BatchSize       int
	MaxAttempts     int
	RetryBackoff    time.Duration
	MaxStoredErrors int
}

func (c CommitConfig) withDefaults() CommitConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 200
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	if c.MaxStoredErrors <= 0 {
		c.MaxStoredErrors = 100
	}
	return c
}

// Executor drives a job through the committing state to a terminal status.
type Executor struct {
	jobs    JobStore
	records RecordStore
	cfg     CommitConfig
	log     *slog.Logger
}

// NewExecutor creates a commit executor.
func NewExecutor(jobs JobStore, records RecordStore, cfg CommitConfig, log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}
	return &Executor{jobs: jobs, records: records, cfg: cfg.withDefaults(), log: log}
}

// Run commits a job from its current checkpoint to a terminal status.
// The job must already be in committing status. A context cancellation
// (process shutdown) leaves the job in committing for a later resume; every
// other exit path lands the job in completed, failed, or cancelled.
func (e *Executor) Run(ctx context.Context, job *ImportJob, src RowSource, c *Contract) error {
	log := e.log.With("import_job", job.ID, "entity", job.EntityType, "company", job.CompanyID)

	reader, err := src.Rows()
	if err != nil {
		return e.fail(ctx, job, log, err)
	}
	defer reader.Close()

	run := &commitRun{
		exec:         e,
		job:          job,
		eval:         newEvaluator(job.CompanyID, c, job.Mapping, e.records),
		checkpoint:   job.Checkpoint,
		storedErrors: len(job.Errors),
		truncated:    job.ErrorsTruncated,
	}

	if job.Checkpoint > 0 {
		log.Info("resuming commit from checkpoint", "checkpoint", job.Checkpoint)
	}

	err = forEachChunk(ctx, reader, e.cfg.BatchSize, func(chunk []Row) error {
		return run.commitChunk(ctx, chunk)
	})

	switch {
	case err == nil:
		if err := e.jobs.FinishJob(ctx, job.ID, StatusCompleted, ""); err != nil {
			return e.fail(ctx, job, log, err)
		}
		log.Info("import completed",
			"accepted", run.accepted, "rejected", run.rejected, "checkpoint", run.checkpoint)
		return nil

	case errors.Is(err, errCancelObserved):
		if err := e.jobs.FinishJob(ctx, job.ID, StatusCancelled, ""); err != nil {
			return e.fail(ctx, job, log, err)
		}
		log.Info("import cancelled at batch boundary", "checkpoint", run.checkpoint)
		return nil

	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		// Shutdown: stay in committing, resume picks it up from checkpoint.
		log.Warn("commit interrupted, will resume from checkpoint", "checkpoint", run.checkpoint)
		return err

	default:
		return e.fail(ctx, job, log, err)
	}
}

// errCancelObserved is the internal signal that the durable cancel flag was
// seen at a batch boundary.
var errCancelObserved = errors.New("cancellation requested")

func (e *Executor) fail(ctx context.Context, job *ImportJob, log *slog.Logger, cause error) error {
	fatal := &FatalCommitError{Checkpoint: job.Checkpoint, Attempts: e.cfg.MaxAttempts, Err: cause}
	var already *FatalCommitError
	if errors.As(cause, &already) {
		fatal = already
	}

	log.Error("import failed", "error", fatal, "checkpoint", fatal.Checkpoint)

	// Best effort: the job may be unreachable if storage itself is down.
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := e.jobs.FinishJob(finishCtx, job.ID, StatusFailed, fatal.Error()); err != nil {
		log.Error("could not record failed status", "error", err)
	}
	return fatal
}

// commitRun is the mutable cursor state of one Run invocation.
type commitRun struct {
	exec *Executor
	job  *ImportJob
	eval *evaluator

	checkpoint   int
	accepted     int
	rejected     int
	storedErrors int
	truncated    bool
}

// commitChunk evaluates one batch and, when it holds rows past the
// checkpoint, persists it atomically and advances the checkpoint.
func (r *commitRun) commitChunk(ctx context.Context, chunk []Row) error {
	verdicts, err := r.eval.evaluateChunk(ctx, chunk)
	if err != nil {
		err = r.retryable(ctx, err, func(ctx context.Context) error {
			var retryErr error
			verdicts, retryErr = r.eval.evaluateChunk(ctx, chunk)
			return retryErr
		})
		if err != nil {
			return err
		}
	}

	batch := BatchCommit{OldCheckpoint: r.checkpoint}

	for _, v := range verdicts {
		if v.Index < r.job.Checkpoint {
			// Replayed row: validation ran for the duplicate set only.
			continue
		}

		batch.Processed++
		if v.Accepted() {
			batch.Accepted++
			batch.Records = append(batch.Records, Record{
				RowIndex:   v.Index,
				NaturalKey: v.NaturalKey,
				Payload:    ExportPayload(v),
			})
		} else {
			batch.Rejected++
			for _, re := range v.Errors {
				if r.storedErrors+len(batch.Errors) < r.exec.cfg.MaxStoredErrors {
					batch.Errors = append(batch.Errors, re)
				} else {
					r.truncated = true
				}
			}
		}
	}

	if batch.Processed == 0 {
		return nil
	}

	batch.NewCheckpoint = chunk[len(chunk)-1].Index + 1
	batch.Truncated = r.truncated

	err = r.exec.jobs.CommitBatch(ctx, r.job.ID, batch)
	if err != nil {
		err = r.retryable(ctx, err, func(ctx context.Context) error {
			return r.exec.jobs.CommitBatch(ctx, r.job.ID, batch)
		})
		if err != nil {
			return err
		}
	}

	r.checkpoint = batch.NewCheckpoint
	r.accepted += batch.Accepted
	r.rejected += batch.Rejected
	r.storedErrors += len(batch.Errors)

	// Cancellation is observed here, at the batch boundary, from the
	// durable flag, never mid-batch.
	current, err := r.exec.jobs.GetJob(ctx, r.job.CompanyID, r.job.ID)
	if err == nil && current.CancelRequested {
		return errCancelObserved
	}
	return nil
}

// retryable re-runs a failed batch operation with exponential backoff until
// the retry budget is spent, then promotes to *FatalCommitError.
func (r *commitRun) retryable(ctx context.Context, first error, op func(context.Context) error) error {
	err := first
	backoff := r.exec.cfg.RetryBackoff

	for attempt := 2; attempt <= r.exec.cfg.MaxAttempts; attempt++ {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		r.exec.log.Warn("batch commit retry",
			"import_job", r.job.ID, "attempt", attempt, "backoff", backoff, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2

		if err = op(ctx); err == nil {
			return nil
		}
	}

	return &FatalCommitError{Checkpoint: r.checkpoint, Attempts: r.exec.cfg.MaxAttempts, Err: err}
}
