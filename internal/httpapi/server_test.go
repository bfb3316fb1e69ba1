package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldserve/importer/internal/config"
	_ "github.com/fieldserve/importer/internal/contracts"
	"github.com/fieldserve/importer/internal/importer"
)

// fakeStore is a minimal in-memory JobStore, RecordStore, and FileStore for
// exercising the HTTP surface. It mirrors the pg store's exclusivity and
// checkpoint rules without failure injection.
type fakeStore struct {
	mu    sync.Mutex
	jobs  map[string]*importer.ImportJob
	keys  map[string]map[string]struct{}
	files map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:  make(map[string]*importer.ImportJob),
		keys:  make(map[string]map[string]struct{}),
		files: make(map[string][]byte),
	}
}

func (f *fakeStore) busy(companyID string, entity importer.EntityType, exceptID string) bool {
	for _, j := range f.jobs {
		if j.ID != exceptID && j.CompanyID == companyID && j.EntityType == entity && j.Status.Active() {
			return true
		}
	}
	return false
}

func cloneJob(j *importer.ImportJob) *importer.ImportJob {
	out := *j
	out.Mapping = append(importer.Mapping(nil), j.Mapping...)
	out.Errors = append([]importer.RowError(nil), j.Errors...)
	return &out
}

func (f *fakeStore) CreateJob(_ context.Context, job *importer.ImportJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy(job.CompanyID, job.EntityType, job.ID) {
		return &importer.ConflictError{CompanyID: job.CompanyID, EntityType: job.EntityType}
	}
	f.jobs[job.ID] = cloneJob(job)
	return nil
}

func (f *fakeStore) GetJob(_ context.Context, companyID, id string) (*importer.ImportJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok || j.CompanyID != companyID {
		return nil, importer.ErrJobNotFound
	}
	return cloneJob(j), nil
}

func (f *fakeStore) ListJobs(_ context.Context, companyID string, limit int) ([]*importer.ImportJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*importer.ImportJob
	for _, j := range f.jobs {
		if j.CompanyID == companyID && len(out) < limit {
			out = append(out, cloneJob(j))
		}
	}
	return out, nil
}

func (f *fakeStore) ListCommitting(context.Context) ([]*importer.ImportJob, error) {
	return nil, nil
}

func (f *fakeStore) SetMapping(_ context.Context, id string, m importer.Mapping) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return importer.ErrJobNotFound
	}
	switch j.Status {
	case importer.StatusUploaded, importer.StatusMapping, importer.StatusDryRun:
	default:
		return importer.ErrInvalidTransition
	}
	if f.busy(j.CompanyID, j.EntityType, id) {
		return &importer.ConflictError{CompanyID: j.CompanyID, EntityType: j.EntityType}
	}
	j.Mapping = append(importer.Mapping(nil), m...)
	j.Status = importer.StatusMapping
	return nil
}

func (f *fakeStore) SetStatus(_ context.Context, id string, from, to importer.JobStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return importer.ErrJobNotFound
	}
	if j.Status != from {
		return importer.ErrInvalidTransition
	}
	j.Status = to
	return nil
}

func (f *fakeStore) CommitBatch(_ context.Context, id string, batch importer.BatchCommit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return importer.ErrJobNotFound
	}
	if j.Checkpoint != batch.OldCheckpoint {
		return importer.ErrStaleCheckpoint
	}
	scope := j.CompanyID + "\x00" + string(j.EntityType)
	if f.keys[scope] == nil {
		f.keys[scope] = make(map[string]struct{})
	}
	for _, rec := range batch.Records {
		f.keys[scope][rec.NaturalKey] = struct{}{}
	}
	j.Checkpoint = batch.NewCheckpoint
	j.ProcessedRows += batch.Processed
	j.AcceptedRows += batch.Accepted
	j.RejectedRows += batch.Rejected
	j.Errors = append(j.Errors, batch.Errors...)
	j.ErrorsTruncated = j.ErrorsTruncated || batch.Truncated
	return nil
}

func (f *fakeStore) FinishJob(_ context.Context, id string, status importer.JobStatus, failureMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return importer.ErrJobNotFound
	}
	if j.Status.Terminal() {
		return importer.ErrInvalidTransition
	}
	j.Status = status
	j.FailureMessage = failureMessage
	now := time.Now()
	j.CompletedAt = &now
	return nil
}

func (f *fakeStore) SetCancelRequested(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return importer.ErrJobNotFound
	}
	j.CancelRequested = true
	return nil
}

func (f *fakeStore) ExistingKeys(_ context.Context, companyID string, entity importer.EntityType, keys []string) (map[string]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	scope := companyID + "\x00" + string(entity)
	found := make(map[string]struct{})
	for _, k := range keys {
		if _, ok := f.keys[scope][k]; ok {
			found[k] = struct{}{}
		}
	}
	return found, nil
}

func (f *fakeStore) Save(_ context.Context, jobID, _ string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[jobID] = data
	return nil
}

func (f *fakeStore) Open(jobID string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[jobID]
	if !ok {
		return nil, errors.New("file not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeStore) Remove(jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, jobID)
	return nil
}

// ==================================================================
// Test Server Setup
// ==================================================================

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{RequestTimeout: 10 * time.Second},
		Import: config.ImportConfig{MaxFileSize: 1 << 20},
		Rate:   config.RateLimitConfig{Enabled: false},
	}
}

func newTestServer(t *testing.T) (*Server, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	svc := importer.NewService(store, store, store, importer.ServiceConfig{
		Commit: importer.CommitConfig{
			BatchSize:    2,
			MaxAttempts:  2,
			RetryBackoff: time.Millisecond,
		},
		MaxConcurrentCommits: 2,
		CommitSlotWait:       time.Second,
	}, slog.Default())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		svc.Shutdown(ctx)
	})
	return NewServer(svc, testConfig()), store
}

const customersCSV = "First Name,Last Name,Email\n" +
	"Ada,Lovelace,ada@example.com\n" +
	"Grace,Hopper,grace@example.com\n" +
	"Alan,Turing,alan@example.com\n"

func customersMapping() importer.Mapping {
	return importer.Mapping{
		{Source: "First Name", Target: "first_name"},
		{Source: "Last Name", Target: "last_name"},
		{Source: "Email", Target: "email"},
	}
}

func multipartUpload(t *testing.T, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func doRequest(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func companyRequest(method, target string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, target, body)
	req.Header.Set("X-Company-ID", "co-1")
	return req
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

// uploadCustomers runs the upload step and returns the new job id.
func uploadCustomers(t *testing.T, srv *Server) string {
	t.Helper()
	body, contentType := multipartUpload(t, "customers.csv", customersCSV)
	req := companyRequest(http.MethodPost, "/api/import/customers", body)
	req.Header.Set("Content-Type", contentType)

	rec := doRequest(srv, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	env := decodeEnvelope(t, rec)
	data := env["data"].(map[string]any)
	job := data["job"].(map[string]any)
	return job["id"].(string)
}

// submitMapping runs the mapping step, leaving the job in dry_run.
func submitMapping(t *testing.T, srv *Server, jobID string) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{"mapping": customersMapping()})
	require.NoError(t, err)
	req := companyRequest(http.MethodPost, "/api/import/"+jobID+"/mapping", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	rec := doRequest(srv, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

// ==================================================================
// Middleware Tests
// ==================================================================

func TestRequireCompanyHeader(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/import/jobs", nil)
	rec := doRequest(srv, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, false, env["success"])
	errObj := env["error"].(map[string]any)
	assert.Equal(t, "bad_request", errObj["code"])
}

func TestSecurityHeadersSet(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestProgressEndpointAllowsCORS(t *testing.T) {
	srv, store := newTestServer(t)
	seedJob(store, "job-1", importer.StatusDryRun)

	req := companyRequest(http.MethodGet, "/import/progress/job-1", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := doRequest(srv, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func seedJob(store *fakeStore, id string, status importer.JobStatus) {
	now := time.Now().UTC()
	store.jobs[id] = &importer.ImportJob{
		ID:         id,
		CompanyID:  "co-1",
		EntityType: importer.EntityCustomers,
		Status:     status,
		SourceFile: "customers.csv",
		TotalRows:  3,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// ==================================================================
// Handler Tests
// ==================================================================

func TestUploadCreatesJob(t *testing.T) {
	srv, _ := newTestServer(t)

	body, contentType := multipartUpload(t, "customers.csv", customersCSV)
	req := companyRequest(http.MethodPost, "/api/import/customers", body)
	req.Header.Set("Content-Type", contentType)

	rec := doRequest(srv, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	env := decodeEnvelope(t, rec)
	require.Equal(t, true, env["success"])
	data := env["data"].(map[string]any)
	job := data["job"].(map[string]any)
	assert.Equal(t, "uploaded", job["status"])
	assert.Equal(t, float64(3), job["totalRows"])
	assert.Len(t, data["header"], 3)
	assert.Len(t, data["suggestedMapping"], 3)
}

func TestUploadWithoutFile(t *testing.T) {
	srv, _ := newTestServer(t)

	req := companyRequest(http.MethodPost, "/api/import/customers", strings.NewReader("not multipart"))
	rec := doRequest(srv, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadUnknownEntityType(t *testing.T) {
	srv, _ := newTestServer(t)

	body, contentType := multipartUpload(t, "w.csv", "a,b\n1,2\n")
	req := companyRequest(http.MethodPost, "/api/import/widgets", body)
	req.Header.Set("Content-Type", contentType)

	rec := doRequest(srv, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	env := decodeEnvelope(t, rec)
	errObj := env["error"].(map[string]any)
	assert.Equal(t, "unknown_entity_type", errObj["code"])
}

func TestUploadCorruptFile(t *testing.T) {
	srv, _ := newTestServer(t)

	body, contentType := multipartUpload(t, "customers.csv", "")
	req := companyRequest(http.MethodPost, "/api/import/customers", body)
	req.Header.Set("Content-Type", contentType)

	rec := doRequest(srv, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	env := decodeEnvelope(t, rec)
	errObj := env["error"].(map[string]any)
	assert.Equal(t, "parse_failed", errObj["code"])
}

func TestSubmitMappingValidationErrors(t *testing.T) {
	srv, _ := newTestServer(t)
	jobID := uploadCustomers(t, srv)

	payload := `{"mapping":[{"source":"First Name","target":"no_such_field"}]}`
	req := companyRequest(http.MethodPost, "/api/import/"+jobID+"/mapping", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	rec := doRequest(srv, req)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	env := decodeEnvelope(t, rec)
	errObj := env["error"].(map[string]any)
	assert.Equal(t, "invalid_mapping", errObj["code"])
	details := env["details"].([]any)
	assert.NotEmpty(t, details)
}

func TestSubmitMappingBadJSON(t *testing.T) {
	srv, _ := newTestServer(t)
	jobID := uploadCustomers(t, srv)

	req := companyRequest(http.MethodPost, "/api/import/"+jobID+"/mapping", strings.NewReader("{"))
	rec := doRequest(srv, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProgressUnknownJob(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, companyRequest(http.MethodGet, "/import/progress/nope", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	env := decodeEnvelope(t, rec)
	errObj := env["error"].(map[string]any)
	assert.Equal(t, "Import job not found", errObj["message"])
	assert.Equal(t, "not_found", errObj["code"])
}

func TestListJobsInvalidLimit(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, companyRequest(http.MethodGet, "/api/import/jobs?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListJobsEmpty(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, companyRequest(http.MethodGet, "/api/import/jobs", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	env := decodeEnvelope(t, rec)
	assert.Equal(t, []any{}, env["data"])
}

func TestListEntities(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, companyRequest(http.MethodGet, "/api/import/entities", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	env := decodeEnvelope(t, rec)
	entities := env["data"].([]any)
	require.NotEmpty(t, entities)

	var found bool
	for _, e := range entities {
		info := e.(map[string]any)
		if info["entityType"] == "customers" {
			found = true
			assert.Contains(t, info["requiredFields"], "email")
			assert.Contains(t, info["naturalKey"], "email")
		}
	}
	assert.True(t, found, "customers entity not listed")
}

func TestDownloadTemplateCSV(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, companyRequest(http.MethodGet, "/api/import/template/customers?format=csv", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "customers_import_template.csv")

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 2)
	// Required fields lead the header.
	assert.True(t, strings.HasPrefix(lines[0], "first_name,last_name,email"), lines[0])
}

func TestDownloadTemplateXLSX(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, companyRequest(http.MethodGet, "/api/import/template/pricebook", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "spreadsheetml")
	assert.NotZero(t, rec.Body.Len())
}

func TestDownloadTemplateUnknownEntity(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, companyRequest(http.MethodGet, "/api/import/template/widgets", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	env := decodeEnvelope(t, rec)
	data := env["data"].(map[string]any)
	assert.Equal(t, "ok", data["status"])
}

// ==================================================================
// Wizard Flow Tests
// ==================================================================

func TestWizardFlow(t *testing.T) {
	srv, store := newTestServer(t)

	jobID := uploadCustomers(t, srv)
	submitMapping(t, srv, jobID)

	// Dry run is repeatable and side-effect free.
	rec := doRequest(srv, companyRequest(http.MethodPost, "/api/import/"+jobID+"/dry-run", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	env := decodeEnvelope(t, rec)
	summary := env["data"].(map[string]any)
	assert.Equal(t, float64(3), summary["totalRows"])
	assert.Equal(t, float64(3), summary["accepted"])

	// Confirm starts the background commit.
	rec = doRequest(srv, companyRequest(http.MethodPost, "/api/import/"+jobID+"/confirm", nil))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	// Poll until terminal, as the wizard does.
	deadline := time.Now().Add(5 * time.Second)
	var job map[string]any
	for time.Now().Before(deadline) {
		rec = doRequest(srv, companyRequest(http.MethodGet, "/import/progress/"+jobID, nil))
		require.Equal(t, http.StatusOK, rec.Code)
		job = decodeEnvelope(t, rec)["data"].(map[string]any)
		status := job["status"].(string)
		if status == "completed" || status == "failed" || status == "cancelled" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	require.NotNil(t, job)
	assert.Equal(t, "completed", job["status"], job["failureMessage"])
	assert.Equal(t, float64(3), job["checkpoint"])
	assert.Equal(t, float64(3), job["acceptedRows"])

	store.mu.Lock()
	committed := len(store.keys["co-1\x00customers"])
	store.mu.Unlock()
	assert.Equal(t, 3, committed)
}

func TestConfirmBeforeDryRun(t *testing.T) {
	srv, _ := newTestServer(t)
	jobID := uploadCustomers(t, srv)

	rec := doRequest(srv, companyRequest(http.MethodPost, "/api/import/"+jobID+"/confirm", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCancelJob(t *testing.T) {
	srv, _ := newTestServer(t)
	jobID := uploadCustomers(t, srv)

	rec := doRequest(srv, companyRequest(http.MethodPost, "/api/import/"+jobID+"/cancel", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	job := env["data"].(map[string]any)
	assert.Equal(t, "cancelled", job["status"])

	// Cancelling a terminal job is a state conflict.
	rec = doRequest(srv, companyRequest(http.MethodPost, "/api/import/"+jobID+"/cancel", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSecondUploadConflicts(t *testing.T) {
	srv, _ := newTestServer(t)
	jobID := uploadCustomers(t, srv)
	submitMapping(t, srv, jobID)

	body, contentType := multipartUpload(t, "more.csv", customersCSV)
	req := companyRequest(http.MethodPost, "/api/import/customers", body)
	req.Header.Set("Content-Type", contentType)

	rec := doRequest(srv, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
	env := decodeEnvelope(t, rec)
	errObj := env["error"].(map[string]any)
	assert.Equal(t, "conflict", errObj["code"])
}
