package importer

// service.go orchestrates the pipeline end to end: upload intake, mapping
// submission, dry runs, commit confirmation, cancellation, and the poll
// projection. Commits run as background goroutines bounded by the
// CommitLimiter; the HTTP layer only ever sees snapshots of durable state.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ServiceConfig collects the pipeline's tunables.
type ServiceConfig struct {
	Parse                ParseLimits
	Commit               CommitConfig
	MaxConcurrentCommits int
	CommitSlotWait       time.Duration
	DryRunChunkSize      int
}

// Service exposes the import pipeline operations.
type Service struct {
	jobs    JobStore
	records RecordStore
	files   FileStore
	limiter *CommitLimiter
	exec    *Executor
	cfg     ServiceConfig
	log     *slog.Logger

	bgCtx    context.Context
	bgCancel context.CancelFunc
	wg       sync.WaitGroup
}

// NewService wires the pipeline together.
func NewService(jobs JobStore, records RecordStore, files FileStore, cfg ServiceConfig, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	bgCtx, bgCancel := context.WithCancel(context.Background())

	return &Service{
		jobs:     jobs,
		records:  records,
		files:    files,
		limiter:  NewCommitLimiter(cfg.MaxConcurrentCommits, cfg.CommitSlotWait),
		exec:     NewExecutor(jobs, records, cfg.Commit, log),
		cfg:      cfg,
		log:      log,
		bgCtx:    bgCtx,
		bgCancel: bgCancel,
	}
}

// UploadResult is the response to a successful upload intake.
type UploadResult struct {
	Job              *ImportJob `json:"job"`
	Header           []string   `json:"header"`
	SuggestedMapping Mapping    `json:"suggestedMapping,omitempty"`
}

// CreateJob spools the uploaded file, parses it to fix totalRows, and
// creates the job in uploaded status. A *ParseError means no job was
// created; a *ConflictError means another import for the same company and
// entity type is already active.
func (s *Service) CreateJob(ctx context.Context, companyID string, entity EntityType, filename string, file io.Reader) (*UploadResult, error) {
	contract, ok := ContractFor(entity)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntityType, entity)
	}

	jobID := uuid.New().String()

	if err := s.files.Save(ctx, jobID, filename, file); err != nil {
		return nil, fmt.Errorf("spool upload: %w", err)
	}

	src, err := s.source(jobID, filename)
	if err != nil {
		_ = s.files.Remove(jobID)
		return nil, err
	}

	now := time.Now().UTC()
	job := &ImportJob{
		ID:         jobID,
		CompanyID:  companyID,
		EntityType: entity,
		Status:     StatusUploaded,
		SourceFile: filename,
		TotalRows:  src.TotalRows(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.jobs.CreateJob(ctx, job); err != nil {
		_ = s.files.Remove(jobID)
		return nil, err
	}

	s.log.Info("import job created",
		"import_job", job.ID, "entity", entity, "company", companyID,
		"file", filename, "total_rows", job.TotalRows)

	return &UploadResult{
		Job:              job,
		Header:           src.Header(),
		SuggestedMapping: SuggestMapping(src.Header(), contract),
	}, nil
}

// SubmitMapping stores a structurally valid mapping and runs the validation
// pass, leaving the job in dry_run with a first summary. Returns
// MappingErrors when the mapping is rejected; the job keeps its previous
// mapping and status in that case.
func (s *Service) SubmitMapping(ctx context.Context, companyID, jobID string, m Mapping) (*ImportJob, DryRunSummary, error) {
	job, err := s.jobs.GetJob(ctx, companyID, jobID)
	if err != nil {
		return nil, DryRunSummary{}, err
	}

	switch job.Status {
	case StatusUploaded, StatusMapping, StatusDryRun:
	case StatusCommitting, StatusCompleted:
		return nil, DryRunSummary{}, ErrMappingLocked
	default:
		return nil, DryRunSummary{}, ErrInvalidTransition
	}

	contract, ok := ContractFor(job.EntityType)
	if !ok {
		return nil, DryRunSummary{}, fmt.Errorf("%w: %s", ErrUnknownEntityType, job.EntityType)
	}

	if errs := ValidateMapping(m, contract); len(errs) > 0 {
		return nil, DryRunSummary{}, errs
	}

	// Entering the active scope: the store's exclusivity index rejects this
	// with *ConflictError if another import holds the slot.
	if err := s.jobs.SetMapping(ctx, jobID, m); err != nil {
		return nil, DryRunSummary{}, err
	}

	summary, err := s.runValidationPass(ctx, job, contract, m)
	if err != nil {
		return nil, DryRunSummary{}, err
	}

	job, err = s.jobs.GetJob(ctx, companyID, jobID)
	if err != nil {
		return nil, DryRunSummary{}, err
	}
	return job, summary, nil
}

// DryRun re-simulates the import. Legal while the job is in mapping (with a
// stored mapping) or dry_run status, any number of times; it never touches
// the checkpoint or counters.
func (s *Service) DryRun(ctx context.Context, companyID, jobID string) (DryRunSummary, error) {
	job, err := s.jobs.GetJob(ctx, companyID, jobID)
	if err != nil {
		return DryRunSummary{}, err
	}

	if job.Status != StatusMapping && job.Status != StatusDryRun {
		return DryRunSummary{}, ErrInvalidTransition
	}
	if len(job.Mapping) == 0 {
		return DryRunSummary{}, fmt.Errorf("%w: no mapping submitted", ErrInvalidTransition)
	}

	contract, ok := ContractFor(job.EntityType)
	if !ok {
		return DryRunSummary{}, fmt.Errorf("%w: %s", ErrUnknownEntityType, job.EntityType)
	}

	if job.Status == StatusMapping {
		return s.runValidationPass(ctx, job, contract, job.Mapping)
	}
	return s.simulate(ctx, job, contract, job.Mapping)
}

// runValidationPass walks mapping → validating → dry_run around a
// simulation. On simulation failure the job drops back to mapping so the
// operator can retry.
func (s *Service) runValidationPass(ctx context.Context, job *ImportJob, contract *Contract, m Mapping) (DryRunSummary, error) {
	if err := s.jobs.SetStatus(ctx, job.ID, StatusMapping, StatusValidating); err != nil {
		return DryRunSummary{}, err
	}

	summary, err := s.simulate(ctx, job, contract, m)
	if err != nil {
		_ = s.jobs.SetStatus(ctx, job.ID, StatusValidating, StatusMapping)
		return DryRunSummary{}, err
	}

	if err := s.jobs.SetStatus(ctx, job.ID, StatusValidating, StatusDryRun); err != nil {
		return DryRunSummary{}, err
	}
	return summary, nil
}

func (s *Service) simulate(ctx context.Context, job *ImportJob, contract *Contract, m Mapping) (DryRunSummary, error) {
	src, err := s.source(job.ID, job.SourceFile)
	if err != nil {
		return DryRunSummary{}, err
	}
	return Simulate(ctx, job.CompanyID, contract, m, src, s.records, s.cfg.DryRunChunkSize)
}

// Confirm transitions the job to committing, after which the mapping is
// immutable, and starts the background commit. It returns the job
// snapshot immediately; clients follow progress via polling.
func (s *Service) Confirm(ctx context.Context, companyID, jobID string) (*ImportJob, error) {
	job, err := s.jobs.GetJob(ctx, companyID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != StatusDryRun {
		return nil, ErrInvalidTransition
	}

	contract, ok := ContractFor(job.EntityType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntityType, job.EntityType)
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	if err := s.jobs.SetStatus(ctx, jobID, StatusDryRun, StatusCommitting); err != nil {
		s.limiter.Release()
		return nil, err
	}

	job, err = s.jobs.GetJob(ctx, companyID, jobID)
	if err != nil {
		s.limiter.Release()
		return nil, err
	}

	s.startCommit(job, contract)
	return job, nil
}

// startCommit launches the executor goroutine. The caller must already hold
// a limiter slot; it is released when the executor returns.
func (s *Service) startCommit(job *ImportJob, contract *Contract) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.limiter.Release()
		s.runCommit(job, contract)
	}()
}

// runCommit drives the executor and cleans up the spooled upload once the
// job is terminal. An interrupted commit (process shutdown) keeps its file
// so the resume path can reopen it.
func (s *Service) runCommit(job *ImportJob, contract *Contract) {
	src, err := s.source(job.ID, job.SourceFile)
	if err != nil {
		s.log.Error("commit could not reopen upload",
			"import_job", job.ID, "error", err)
		_ = s.jobs.FinishJob(s.bgCtx, job.ID, StatusFailed, err.Error())
		s.removeSpool(job.ID)
		return
	}

	// Run already logged and recorded the outcome.
	err = s.exec.Run(s.bgCtx, job, src, contract)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	s.removeSpool(job.ID)
}

func (s *Service) removeSpool(jobID string) {
	if err := s.files.Remove(jobID); err != nil {
		s.log.Warn("could not remove spooled upload", "import_job", jobID, "error", err)
	}
}

// ResumeInterrupted relaunches commits left in committing status by a
// previous process. Call once at startup. It never blocks on executor
// slots: a backlog larger than the slot count queues in the background and
// drains as slots free up, so startup cannot fail on a crowded resume.
func (s *Service) ResumeInterrupted(ctx context.Context) error {
	jobs, err := s.jobs.ListCommitting(ctx)
	if err != nil {
		return fmt.Errorf("list interrupted imports: %w", err)
	}

	for _, job := range jobs {
		contract, ok := ContractFor(job.EntityType)
		if !ok {
			s.log.Error("interrupted import has unknown entity type",
				"import_job", job.ID, "entity", job.EntityType)
			_ = s.jobs.FinishJob(ctx, job.ID, StatusFailed, "unknown entity type")
			s.removeSpool(job.ID)
			continue
		}

		s.log.Info("resuming interrupted import",
			"import_job", job.ID, "checkpoint", job.Checkpoint)
		s.resumeCommit(job, contract)
	}
	return nil
}

// resumeCommit waits for an executor slot without a deadline and then runs
// the commit. An expired wait budget only means the slots are still busy;
// the goroutine keeps waiting until shutdown cancels it, leaving the job in
// committing for the next start.
func (s *Service) resumeCommit(job *ImportJob, contract *Contract) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		for s.limiter.Acquire(s.bgCtx) != nil {
			if s.bgCtx.Err() != nil {
				return
			}
		}
		defer s.limiter.Release()
		s.runCommit(job, contract)
	}()
}

// Cancel requests cancellation. Jobs not yet committing are cancelled
// immediately; a committing job observes the durable flag at its next batch
// boundary, so rows committed before then remain committed.
func (s *Service) Cancel(ctx context.Context, companyID, jobID string) (*ImportJob, error) {
	job, err := s.jobs.GetJob(ctx, companyID, jobID)
	if err != nil {
		return nil, err
	}

	switch {
	case job.Status.Terminal():
		return nil, ErrInvalidTransition
	case job.Status == StatusCommitting:
		if err := s.jobs.SetCancelRequested(ctx, jobID); err != nil {
			return nil, err
		}
	default:
		if err := s.jobs.FinishJob(ctx, jobID, StatusCancelled, ""); err != nil {
			return nil, err
		}
		s.removeSpool(jobID)
	}

	return s.jobs.GetJob(ctx, companyID, jobID)
}

// GetProgress returns the job projection for polling. It reads only durably
// committed state, so observed progress never regresses and never runs
// ahead of storage.
func (s *Service) GetProgress(ctx context.Context, companyID, jobID string) (*ImportJob, error) {
	return s.jobs.GetJob(ctx, companyID, jobID)
}

// ListJobs returns the company's recent import jobs, newest first.
func (s *Service) ListJobs(ctx context.Context, companyID string, limit int) ([]*ImportJob, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.jobs.ListJobs(ctx, companyID, limit)
}

// ActiveCommits reports how many background commits are running.
func (s *Service) ActiveCommits() int {
	return s.limiter.ActiveCount()
}

// Shutdown waits for running commits to reach a batch boundary and finish,
// then cancels the background context. Commits still running when ctx
// expires are interrupted and resume from their checkpoint on restart.
func (s *Service) Shutdown(ctx context.Context) error {
	err := s.limiter.WaitForDrain(ctx)
	s.bgCancel()
	s.wg.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (s *Service) source(jobID, filename string) (RowSource, error) {
	return NewSource(func() (io.ReadCloser, error) {
		return s.files.Open(jobID)
	}, filename, s.cfg.Parse)
}
