// Package store provides the Postgres-backed persistence for import jobs
// and committed records. Two invariants live here rather than in the
// service layer because they must hold across processes:
//
//   - the partial unique index import_jobs_active_scope keeps at most one
//     active job per (company, entity type), and
//   - CommitBatch applies records, counters, and the checkpoint in a single
//     transaction guarded by a checkpoint precondition.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldserve/importer/internal/importer"
)

// pgUniqueViolation is the SQLSTATE for unique constraint failures.
const pgUniqueViolation = "23505"

// JobStore is the pg implementation of importer.JobStore.
type JobStore struct {
	pool *pgxpool.Pool
}

func NewJobStore(pool *pgxpool.Pool) *JobStore {
	return &JobStore{pool: pool}
}

const jobColumns = `id, company_id, entity_type, status, source_file, mapping,
	total_rows, processed_rows, accepted_rows, rejected_rows, checkpoint,
	errors, errors_truncated, failure_message, cancel_requested,
	created_at, updated_at, completed_at`

func (s *JobStore) CreateJob(ctx context.Context, job *importer.ImportJob) error {
	// Creating a job does not claim the exclusivity slot (uploaded is not
	// active), but a busy scope still refuses new uploads so the operator
	// is told up front instead of at mapping time.
	var busy bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM import_jobs
			WHERE company_id = $1 AND entity_type = $2
			  AND status IN ('mapping', 'validating', 'dry_run', 'committing')
		)`, job.CompanyID, string(job.EntityType)).Scan(&busy)
	if err != nil {
		return fmt.Errorf("check active scope: %w", err)
	}
	if busy {
		return &importer.ConflictError{CompanyID: job.CompanyID, EntityType: job.EntityType}
	}

	mapping, err := marshalMapping(job.Mapping)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO import_jobs (
			id, company_id, entity_type, status, source_file, mapping, total_rows
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		job.ID, job.CompanyID, string(job.EntityType), string(job.Status),
		job.SourceFile, mapping, job.TotalRows)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *JobStore) GetJob(ctx context.Context, companyID, id string) (*importer.ImportJob, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, importer.ErrJobNotFound
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM import_jobs WHERE id = $1 AND company_id = $2`,
		id, companyID)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, importer.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (s *JobStore) ListJobs(ctx context.Context, companyID string, limit int) ([]*importer.ImportJob, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM import_jobs
		 WHERE company_id = $1 ORDER BY created_at DESC LIMIT $2`,
		companyID, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (s *JobStore) ListCommitting(ctx context.Context) ([]*importer.ImportJob, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM import_jobs
		 WHERE status = 'committing' ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list committing: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (s *JobStore) SetMapping(ctx context.Context, id string, m importer.Mapping) error {
	job, err := s.lookup(ctx, id)
	if err != nil {
		return err
	}

	mapping, err := marshalMapping(m)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE import_jobs
		SET mapping = $2, status = 'mapping', updated_at = now()
		WHERE id = $1 AND status IN ('uploaded', 'mapping', 'dry_run')`,
		id, mapping)
	if isUniqueViolation(err, "import_jobs_active_scope") {
		return &importer.ConflictError{CompanyID: job.CompanyID, EntityType: job.EntityType}
	}
	if err != nil {
		return fmt.Errorf("set mapping: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return importer.ErrInvalidTransition
	}
	return nil
}

func (s *JobStore) SetStatus(ctx context.Context, id string, from, to importer.JobStatus) error {
	job, err := s.lookup(ctx, id)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE import_jobs SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2`,
		id, string(from), string(to))
	if isUniqueViolation(err, "import_jobs_active_scope") {
		return &importer.ConflictError{CompanyID: job.CompanyID, EntityType: job.EntityType}
	}
	if err != nil {
		return fmt.Errorf("set status %s: %w", to, err)
	}
	if tag.RowsAffected() == 0 {
		return importer.ErrInvalidTransition
	}
	return nil
}

func (s *JobStore) CommitBatch(ctx context.Context, id string, batch importer.BatchCommit) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin commit batch: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		companyID, entityType string
		checkpoint            int
	)
	err = tx.QueryRow(ctx, `
		SELECT company_id, entity_type, checkpoint
		FROM import_jobs WHERE id = $1 FOR UPDATE`, id).
		Scan(&companyID, &entityType, &checkpoint)
	if errors.Is(err, pgx.ErrNoRows) {
		return importer.ErrJobNotFound
	}
	if err != nil {
		return fmt.Errorf("lock job: %w", err)
	}
	if checkpoint != batch.OldCheckpoint {
		return importer.ErrStaleCheckpoint
	}

	if len(batch.Records) > 0 {
		// ON CONFLICT DO NOTHING makes a replayed batch a no-op for rows
		// that were already committed before a crash.
		b := &pgx.Batch{}
		for _, rec := range batch.Records {
			payload, err := json.Marshal(rec.Payload)
			if err != nil {
				return fmt.Errorf("marshal record payload: %w", err)
			}
			b.Queue(`
				INSERT INTO imported_records (
					job_id, company_id, entity_type, row_index, natural_key, payload
				) VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT ON CONSTRAINT imported_records_natural_key DO NOTHING`,
				id, companyID, entityType, rec.RowIndex, rec.NaturalKey, payload)
		}
		if err := tx.SendBatch(ctx, b).Close(); err != nil {
			return fmt.Errorf("insert records: %w", err)
		}
	}

	rowErrs, err := marshalRowErrors(batch.Errors)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		UPDATE import_jobs SET
			processed_rows   = processed_rows + $2,
			accepted_rows    = accepted_rows + $3,
			rejected_rows    = rejected_rows + $4,
			checkpoint       = $5,
			errors           = errors || $6::jsonb,
			errors_truncated = errors_truncated OR $7,
			updated_at       = now()
		WHERE id = $1`,
		id, batch.Processed, batch.Accepted, batch.Rejected,
		batch.NewCheckpoint, rowErrs, batch.Truncated)
	if err != nil {
		return fmt.Errorf("advance checkpoint: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit batch tx: %w", err)
	}
	return nil
}

func (s *JobStore) FinishJob(ctx context.Context, id string, status importer.JobStatus, failureMessage string) error {
	if !status.Terminal() {
		return fmt.Errorf("finish job: %s is not a terminal status", status)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE import_jobs
		SET status = $2, failure_message = $3, completed_at = now(), updated_at = now()
		WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')`,
		id, string(status), failureMessage)
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.lookup(ctx, id); err != nil {
			return err
		}
		return importer.ErrInvalidTransition
	}
	return nil
}

func (s *JobStore) SetCancelRequested(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE import_jobs SET cancel_requested = TRUE, updated_at = now()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("set cancel requested: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return importer.ErrJobNotFound
	}
	return nil
}

// lookup fetches company and entity type without the caller's company
// scoping, for internal transitions addressed by id alone.
func (s *JobStore) lookup(ctx context.Context, id string) (*importer.ImportJob, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, importer.ErrJobNotFound
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM import_jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, importer.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup job: %w", err)
	}
	return job, nil
}

func marshalMapping(m importer.Mapping) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal mapping: %w", err)
	}
	return b, nil
}

// marshalRowErrors encodes a batch's row errors for the jsonb append in
// CommitBatch. An empty batch must encode as the empty array: encoding the
// nil slice would yield the scalar null, and Postgres's jsonb || treats a
// non-array right operand as a one-element array, so every clean batch
// would append a null entry to the job's error list.
func marshalRowErrors(errs []importer.RowError) ([]byte, error) {
	if len(errs) == 0 {
		return []byte("[]"), nil
	}
	b, err := json.Marshal(errs)
	if err != nil {
		return nil, fmt.Errorf("marshal row errors: %w", err)
	}
	return b, nil
}

func scanJob(row pgx.Row) (*importer.ImportJob, error) {
	var (
		job              importer.ImportJob
		entityType       string
		status           string
		mapping, rowErrs []byte
	)
	err := row.Scan(
		&job.ID, &job.CompanyID, &entityType, &status, &job.SourceFile, &mapping,
		&job.TotalRows, &job.ProcessedRows, &job.AcceptedRows, &job.RejectedRows,
		&job.Checkpoint, &rowErrs, &job.ErrorsTruncated, &job.FailureMessage,
		&job.CancelRequested, &job.CreatedAt, &job.UpdatedAt, &job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	job.EntityType = importer.EntityType(entityType)
	job.Status = importer.JobStatus(status)
	if len(mapping) > 0 {
		if err := json.Unmarshal(mapping, &job.Mapping); err != nil {
			return nil, fmt.Errorf("decode mapping: %w", err)
		}
	}
	if len(rowErrs) > 0 {
		if err := json.Unmarshal(rowErrs, &job.Errors); err != nil {
			return nil, fmt.Errorf("decode errors: %w", err)
		}
	}
	return &job, nil
}

func collectJobs(rows pgx.Rows) ([]*importer.ImportJob, error) {
	var jobs []*importer.ImportJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgUniqueViolation &&
		strings.Contains(pgErr.ConstraintName, constraint)
}
