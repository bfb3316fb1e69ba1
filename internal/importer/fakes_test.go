package importer

// fakes_test.go provides in-memory JobStore, RecordStore, and FileStore
// implementations mirroring the pg store's semantics: active-scope
// exclusivity, checkpoint preconditions, and conflict-skipping record
// inserts. Failure injection hooks simulate transient storage errors.

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

type memStore struct {
	mu      sync.Mutex
	jobs    map[string]*ImportJob
	records map[string]map[string]Record // companyID+entity -> naturalKey -> record

	// failCommits makes the next N CommitBatch calls fail with failErr.
	failCommits int
	// failLookups makes the next N ExistingKeys calls fail with failErr.
	failLookups int
	failErr     error

	// afterCommit, when set, runs after each successful CommitBatch.
	afterCommit func(batches int)
	batches     int
}

func newMemStore() *memStore {
	return &memStore{
		jobs:    make(map[string]*ImportJob),
		records: make(map[string]map[string]Record),
	}
}

func (m *memStore) scopeKey(companyID string, entity EntityType) string {
	return companyID + "\x00" + string(entity)
}

func (m *memStore) scopeBusy(companyID string, entity EntityType, exceptID string) bool {
	for _, j := range m.jobs {
		if j.ID != exceptID && j.CompanyID == companyID && j.EntityType == entity && j.Status.Active() {
			return true
		}
	}
	return false
}

func copyJob(j *ImportJob) *ImportJob {
	out := *j
	out.Mapping = append(Mapping(nil), j.Mapping...)
	out.Errors = append([]RowError(nil), j.Errors...)
	return &out
}

func (m *memStore) CreateJob(_ context.Context, job *ImportJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.scopeBusy(job.CompanyID, job.EntityType, job.ID) {
		return &ConflictError{CompanyID: job.CompanyID, EntityType: job.EntityType}
	}
	m.jobs[job.ID] = copyJob(job)
	return nil
}

func (m *memStore) GetJob(_ context.Context, companyID, id string) (*ImportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok || j.CompanyID != companyID {
		return nil, ErrJobNotFound
	}
	return copyJob(j), nil
}

func (m *memStore) ListJobs(_ context.Context, companyID string, limit int) ([]*ImportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*ImportJob
	for _, j := range m.jobs {
		if j.CompanyID == companyID && len(out) < limit {
			out = append(out, copyJob(j))
		}
	}
	return out, nil
}

func (m *memStore) ListCommitting(context.Context) ([]*ImportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*ImportJob
	for _, j := range m.jobs {
		if j.Status == StatusCommitting {
			out = append(out, copyJob(j))
		}
	}
	return out, nil
}

func (m *memStore) SetMapping(_ context.Context, id string, mapping Mapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	switch j.Status {
	case StatusUploaded, StatusMapping, StatusDryRun:
	default:
		return ErrInvalidTransition
	}
	if m.scopeBusy(j.CompanyID, j.EntityType, id) {
		return &ConflictError{CompanyID: j.CompanyID, EntityType: j.EntityType}
	}
	j.Mapping = append(Mapping(nil), mapping...)
	j.Status = StatusMapping
	j.UpdatedAt = time.Now()
	return nil
}

func (m *memStore) SetStatus(_ context.Context, id string, from, to JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if j.Status != from {
		return ErrInvalidTransition
	}
	if to.Active() && !from.Active() && m.scopeBusy(j.CompanyID, j.EntityType, id) {
		return &ConflictError{CompanyID: j.CompanyID, EntityType: j.EntityType}
	}
	j.Status = to
	j.UpdatedAt = time.Now()
	return nil
}

func (m *memStore) CommitBatch(_ context.Context, id string, batch BatchCommit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failCommits > 0 {
		m.failCommits--
		return m.failErr
	}

	j, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if j.Checkpoint != batch.OldCheckpoint {
		return ErrStaleCheckpoint
	}

	scope := m.scopeKey(j.CompanyID, j.EntityType)
	if m.records[scope] == nil {
		m.records[scope] = make(map[string]Record)
	}
	for _, rec := range batch.Records {
		if _, exists := m.records[scope][rec.NaturalKey]; exists {
			continue
		}
		m.records[scope][rec.NaturalKey] = rec
	}

	j.Checkpoint = batch.NewCheckpoint
	j.ProcessedRows += batch.Processed
	j.AcceptedRows += batch.Accepted
	j.RejectedRows += batch.Rejected
	j.Errors = append(j.Errors, batch.Errors...)
	j.ErrorsTruncated = j.ErrorsTruncated || batch.Truncated
	j.UpdatedAt = time.Now()

	m.batches++
	if m.afterCommit != nil {
		m.afterCommit(m.batches)
	}
	return nil
}

func (m *memStore) FinishJob(_ context.Context, id string, status JobStatus, failureMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if j.Status.Terminal() {
		return ErrInvalidTransition
	}
	j.Status = status
	j.FailureMessage = failureMessage
	now := time.Now()
	j.CompletedAt = &now
	j.UpdatedAt = now
	return nil
}

func (m *memStore) SetCancelRequested(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	j.CancelRequested = true
	return nil
}

func (m *memStore) ExistingKeys(_ context.Context, companyID string, entity EntityType, keys []string) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failLookups > 0 {
		m.failLookups--
		return nil, m.failErr
	}

	scope := m.scopeKey(companyID, entity)
	found := make(map[string]struct{})
	for _, k := range keys {
		if _, ok := m.records[scope][k]; ok {
			found[k] = struct{}{}
		}
	}
	return found, nil
}

// seedRecord plants an existing committed record for duplicate and
// referential tests.
func (m *memStore) seedRecord(companyID string, entity EntityType, naturalKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	scope := m.scopeKey(companyID, entity)
	if m.records[scope] == nil {
		m.records[scope] = make(map[string]Record)
	}
	m.records[scope][naturalKey] = Record{NaturalKey: naturalKey}
}

func (m *memStore) recordCount(companyID string, entity EntityType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records[m.scopeKey(companyID, entity)])
}

type memFiles struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newMemFiles() *memFiles {
	return &memFiles{files: make(map[string][]byte)}
}

func (f *memFiles) Save(_ context.Context, jobID, _ string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[jobID] = data
	return nil
}

func (f *memFiles) Open(jobID string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[jobID]
	if !ok {
		return nil, errors.New("file not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *memFiles) Remove(jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, jobID)
	return nil
}
