package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// ==================================================================
// Fixtures
// ==================================================================

var registerPartsOnce sync.Once

// partsContract registers a minimal "parts" entity used by the commit and
// service tests. Registration is global, so it happens once per test binary.
func partsContract(t *testing.T) *Contract {
	t.Helper()
	registerPartsOnce.Do(func() {
		minCost := decimal.Zero
		RegisterContract(&Contract{
			Entity: "parts",
			Label:  "Parts",
			Fields: []FieldSpec{
				{Name: "part_number", Type: FieldText, Required: true, Example: "P-100"},
				{Name: "name", Type: FieldText, Required: true, Example: "Bearing"},
				{Name: "unit_cost", Type: FieldNumeric, Min: &minCost, Example: "12.50"},
			},
			NaturalKey: []string{"part_number"},
		})
	})
	c, ok := ContractFor("parts")
	if !ok {
		t.Fatal("parts contract not registered")
	}
	return c
}

func partsMapping() Mapping {
	return Mapping{
		{Source: "Part Number", Target: "part_number"},
		{Source: "Name", Target: "name"},
		{Source: "Unit Cost", Target: "unit_cost"},
	}
}

// partsCSV builds a spreadsheet with n unique rows.
func partsCSV(n int) string {
	var b strings.Builder
	b.WriteString("Part Number,Name,Unit Cost\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "P-%d,Part %d,%d.50\n", i, i, i+1)
	}
	return b.String()
}

// committingJob seeds a job in committing status with the mapping applied,
// mirroring the state Confirm leaves behind.
func committingJob(t *testing.T, store *memStore, totalRows int) *ImportJob {
	t.Helper()
	now := time.Now().UTC()
	job := &ImportJob{
		ID:         "job-1",
		CompanyID:  "co-1",
		EntityType: "parts",
		Status:     StatusCommitting,
		SourceFile: "parts.csv",
		Mapping:    partsMapping(),
		TotalRows:  totalRows,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := store.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return job
}

func testExecutor(store *memStore, cfg CommitConfig) *Executor {
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = time.Millisecond
	}
	return NewExecutor(store, store, cfg, slog.Default())
}

func mustGetJob(t *testing.T, store *memStore, companyID, id string) *ImportJob {
	t.Helper()
	job, err := store.GetJob(context.Background(), companyID, id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	return job
}

// ==================================================================
// Executor Tests
// ==================================================================

func TestExecutorCompletes(t *testing.T) {
	contract := partsContract(t)
	store := newMemStore()
	job := committingJob(t, store, 5)
	src := sourceFromBytes(t, "parts.csv", []byte(partsCSV(5)))

	exec := testExecutor(store, CommitConfig{BatchSize: 2})
	if err := exec.Run(context.Background(), job, src, contract); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := mustGetJob(t, store, "co-1", job.ID)
	if got.Status != StatusCompleted {
		t.Fatalf("status = %s, want %s", got.Status, StatusCompleted)
	}
	if got.Checkpoint != 5 {
		t.Errorf("checkpoint = %d, want 5", got.Checkpoint)
	}
	if got.ProcessedRows != 5 || got.AcceptedRows != 5 || got.RejectedRows != 0 {
		t.Errorf("counters = %d/%d/%d, want 5/5/0",
			got.ProcessedRows, got.AcceptedRows, got.RejectedRows)
	}
	if got.ProcessedRows != got.AcceptedRows+got.RejectedRows {
		t.Errorf("processed %d != accepted %d + rejected %d",
			got.ProcessedRows, got.AcceptedRows, got.RejectedRows)
	}
	if n := store.recordCount("co-1", "parts"); n != 5 {
		t.Errorf("stored records = %d, want 5", n)
	}
	if got.CompletedAt == nil {
		t.Error("completedAt not stamped")
	}
	// 5 rows at batch size 2 is three batches.
	if store.batches != 3 {
		t.Errorf("batches = %d, want 3", store.batches)
	}
}

func TestExecutorRecordsRejections(t *testing.T) {
	contract := partsContract(t)
	store := newMemStore()
	job := committingJob(t, store, 3)

	// Row 1 is missing the required name.
	csv := "Part Number,Name,Unit Cost\nP-0,Zero,1.00\nP-1,,2.00\nP-2,Two,3.00\n"
	src := sourceFromBytes(t, "parts.csv", []byte(csv))

	exec := testExecutor(store, CommitConfig{BatchSize: 10})
	if err := exec.Run(context.Background(), job, src, contract); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := mustGetJob(t, store, "co-1", job.ID)
	if got.Status != StatusCompleted {
		t.Fatalf("status = %s, want %s", got.Status, StatusCompleted)
	}
	if got.AcceptedRows != 2 || got.RejectedRows != 1 {
		t.Errorf("accepted/rejected = %d/%d, want 2/1", got.AcceptedRows, got.RejectedRows)
	}
	if len(got.Errors) != 1 {
		t.Fatalf("stored errors = %d, want 1", len(got.Errors))
	}
	if got.Errors[0].RowIndex != 1 || got.Errors[0].Code != CodeRequiredMissing {
		t.Errorf("error = %+v, want rowIndex 1 code %s", got.Errors[0], CodeRequiredMissing)
	}
	if n := store.recordCount("co-1", "parts"); n != 2 {
		t.Errorf("stored records = %d, want 2", n)
	}
}

func TestExecutorErrorCap(t *testing.T) {
	contract := partsContract(t)
	store := newMemStore()
	job := committingJob(t, store, 4)

	// Every row is missing the required name.
	csv := "Part Number,Name\nP-0,\nP-1,\nP-2,\nP-3,\n"
	src := sourceFromBytes(t, "parts.csv", []byte(csv))

	exec := testExecutor(store, CommitConfig{BatchSize: 2, MaxStoredErrors: 3})
	if err := exec.Run(context.Background(), job, src, contract); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := mustGetJob(t, store, "co-1", job.ID)
	if len(got.Errors) != 3 {
		t.Errorf("stored errors = %d, want 3", len(got.Errors))
	}
	if !got.ErrorsTruncated {
		t.Error("errorsTruncated not set")
	}
	if got.RejectedRows != 4 {
		t.Errorf("rejectedRows = %d, want 4: the cap limits stored detail, not counting", got.RejectedRows)
	}
}

func TestExecutorResumeFromCheckpoint(t *testing.T) {
	contract := partsContract(t)
	store := newMemStore()
	job := committingJob(t, store, 5)
	data := []byte(partsCSV(5))

	// Interrupt the first run after one durable batch, as a process
	// shutdown would.
	ctx, cancel := context.WithCancel(context.Background())
	store.afterCommit = func(batches int) {
		if batches == 1 {
			cancel()
		}
	}

	exec := testExecutor(store, CommitConfig{BatchSize: 2})
	err := exec.Run(ctx, job, sourceFromBytes(t, "parts.csv", data), contract)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("interrupted Run: %v, want context.Canceled", err)
	}

	mid := mustGetJob(t, store, "co-1", job.ID)
	if mid.Status != StatusCommitting {
		t.Fatalf("status after interrupt = %s, want %s", mid.Status, StatusCommitting)
	}
	if mid.Checkpoint != 2 {
		t.Fatalf("checkpoint after interrupt = %d, want 2", mid.Checkpoint)
	}

	// Resume with the durable job state, the way ResumeInterrupted does.
	store.afterCommit = nil
	if err := exec.Run(context.Background(), mid, sourceFromBytes(t, "parts.csv", data), contract); err != nil {
		t.Fatalf("resumed Run: %v", err)
	}

	got := mustGetJob(t, store, "co-1", job.ID)
	if got.Status != StatusCompleted {
		t.Fatalf("status = %s, want %s", got.Status, StatusCompleted)
	}
	if got.Checkpoint != 5 {
		t.Errorf("checkpoint = %d, want 5", got.Checkpoint)
	}
	if got.ProcessedRows != 5 || got.AcceptedRows != 5 || got.RejectedRows != 0 {
		t.Errorf("counters = %d/%d/%d, want 5/5/0: replayed rows must not count twice",
			got.ProcessedRows, got.AcceptedRows, got.RejectedRows)
	}
	if n := store.recordCount("co-1", "parts"); n != 5 {
		t.Errorf("stored records = %d, want 5: resume must not double-insert", n)
	}
}

func TestExecutorRetriesTransientFailure(t *testing.T) {
	contract := partsContract(t)
	store := newMemStore()
	store.failCommits = 1
	store.failErr = errors.New("connection reset")
	job := committingJob(t, store, 3)
	src := sourceFromBytes(t, "parts.csv", []byte(partsCSV(3)))

	exec := testExecutor(store, CommitConfig{BatchSize: 2, MaxAttempts: 3})
	if err := exec.Run(context.Background(), job, src, contract); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := mustGetJob(t, store, "co-1", job.ID)
	if got.Status != StatusCompleted {
		t.Fatalf("status = %s, want %s", got.Status, StatusCompleted)
	}
	if got.Checkpoint != 3 {
		t.Errorf("checkpoint = %d, want 3", got.Checkpoint)
	}
}

func TestExecutorFailsAfterRetryBudget(t *testing.T) {
	contract := partsContract(t)
	store := newMemStore()
	store.failErr = errors.New("disk full")
	job := committingJob(t, store, 4)
	data := []byte(partsCSV(4))

	// First batch lands, then every later attempt fails.
	store.afterCommit = func(batches int) {
		if batches == 1 {
			store.failCommits = 100
		}
	}

	exec := testExecutor(store, CommitConfig{BatchSize: 2, MaxAttempts: 2})
	err := exec.Run(context.Background(), job, sourceFromBytes(t, "parts.csv", data), contract)

	var fatal *FatalCommitError
	if !errors.As(err, &fatal) {
		t.Fatalf("Run: %v, want *FatalCommitError", err)
	}
	if fatal.Checkpoint != 2 {
		t.Errorf("fatal checkpoint = %d, want 2", fatal.Checkpoint)
	}

	got := mustGetJob(t, store, "co-1", job.ID)
	if got.Status != StatusFailed {
		t.Fatalf("status = %s, want %s", got.Status, StatusFailed)
	}
	if got.Checkpoint != 2 {
		t.Errorf("durable checkpoint = %d, want 2: failures keep committed work", got.Checkpoint)
	}
	if got.FailureMessage == "" {
		t.Error("failureMessage not recorded")
	}
}

func TestExecutorStaleCheckpointIsFatal(t *testing.T) {
	contract := partsContract(t)
	store := newMemStore()
	job := committingJob(t, store, 3)

	// Simulate a competing writer: the in-memory job has moved on while
	// this executor still holds checkpoint 0.
	stale := *job
	store.mu.Lock()
	store.jobs[job.ID].Checkpoint = 2
	store.mu.Unlock()

	exec := testExecutor(store, CommitConfig{BatchSize: 2, MaxAttempts: 2})
	err := exec.Run(context.Background(), &stale, sourceFromBytes(t, "parts.csv", []byte(partsCSV(3))), contract)

	var fatal *FatalCommitError
	if !errors.As(err, &fatal) {
		t.Fatalf("Run: %v, want *FatalCommitError", err)
	}
	if !errors.Is(err, ErrStaleCheckpoint) {
		t.Errorf("Run: %v, want wrapped ErrStaleCheckpoint", err)
	}
}

func TestExecutorCancelAtBatchBoundary(t *testing.T) {
	contract := partsContract(t)
	store := newMemStore()
	job := committingJob(t, store, 6)

	// Flag cancellation after the first durable batch; the executor must
	// observe it before starting the second.
	store.afterCommit = func(batches int) {
		if batches == 1 {
			store.jobs[job.ID].CancelRequested = true
		}
	}

	exec := testExecutor(store, CommitConfig{BatchSize: 2})
	if err := exec.Run(context.Background(), job, sourceFromBytes(t, "parts.csv", []byte(partsCSV(6))), contract); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := mustGetJob(t, store, "co-1", job.ID)
	if got.Status != StatusCancelled {
		t.Fatalf("status = %s, want %s", got.Status, StatusCancelled)
	}
	if got.Checkpoint != 2 {
		t.Errorf("checkpoint = %d, want 2: the first batch stays committed", got.Checkpoint)
	}
	if n := store.recordCount("co-1", "parts"); n != 2 {
		t.Errorf("stored records = %d, want 2", n)
	}
}

func TestExecutorDuplicateKeysRejected(t *testing.T) {
	contract := partsContract(t)
	store := newMemStore()
	store.seedRecord("co-1", "parts", "p-9")
	job := committingJob(t, store, 3)

	// P-9 already exists; P-0 appears twice in the file.
	csv := "Part Number,Name\nP-0,Zero\nP-9,Nine\nP-0,Zero Again\n"
	src := sourceFromBytes(t, "parts.csv", []byte(csv))

	exec := testExecutor(store, CommitConfig{BatchSize: 10})
	if err := exec.Run(context.Background(), job, src, contract); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := mustGetJob(t, store, "co-1", job.ID)
	if got.AcceptedRows != 1 || got.RejectedRows != 2 {
		t.Fatalf("accepted/rejected = %d/%d, want 1/2", got.AcceptedRows, got.RejectedRows)
	}

	codes := map[string]int{}
	for _, re := range got.Errors {
		codes[re.Code]++
	}
	if codes[CodeDuplicateKey] != 1 || codes[CodeDuplicateInFile] != 1 {
		t.Errorf("error codes = %v, want one %s and one %s",
			codes, CodeDuplicateKey, CodeDuplicateInFile)
	}
}
