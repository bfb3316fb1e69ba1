// Package importer implements the bulk data-import pipeline: parsing an
// uploaded spreadsheet, mapping its columns onto an entity's fields,
// validating rows, dry-run simulation, and checkpointed batch commits.
// The package has no HTTP dependencies and is driven by the httpapi layer.
package importer

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntityType identifies one of the importable business record kinds.
type EntityType string

const (
	EntityJobs              EntityType = "jobs"
	EntityInvoices          EntityType = "invoices"
	EntityEstimates         EntityType = "estimates"
	EntityContracts         EntityType = "contracts"
	EntityPurchaseOrders    EntityType = "purchase-orders"
	EntityCustomers         EntityType = "customers"
	EntityPricebook         EntityType = "pricebook"
	EntityMaterials         EntityType = "materials"
	EntityEquipment         EntityType = "equipment"
	EntitySchedule          EntityType = "schedule"
	EntityMaintenancePlans  EntityType = "maintenance-plans"
	EntityServiceAgreements EntityType = "service-agreements"
	EntityServiceTickets    EntityType = "service-tickets"
)

// JobStatus is the state machine value of an import job.
type JobStatus string

const (
	StatusUploaded   JobStatus = "uploaded"
	StatusMapping    JobStatus = "mapping"
	StatusValidating JobStatus = "validating"
	StatusDryRun     JobStatus = "dry_run"
	StatusCommitting JobStatus = "committing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether the status is an end state.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Active reports whether the job occupies the per-(company, entity type)
// exclusivity slot. Uploaded jobs do not: a job becomes active once a
// mapping has been submitted.
func (s JobStatus) Active() bool {
	switch s {
	case StatusMapping, StatusValidating, StatusDryRun, StatusCommitting:
		return true
	}
	return false
}

// statusTransitions lists the legal next states for each status.
// The committing → committing self-loop (per-batch checkpoint advance)
// does not change status and is not listed.
var statusTransitions = map[JobStatus][]JobStatus{
	StatusUploaded:   {StatusMapping, StatusCancelled},
	StatusMapping:    {StatusMapping, StatusValidating, StatusCancelled},
	StatusValidating: {StatusDryRun, StatusCancelled},
	StatusDryRun:     {StatusMapping, StatusValidating, StatusCommitting, StatusCancelled},
	StatusCommitting: {StatusCompleted, StatusFailed, StatusCancelled},
}

// CanTransition reports whether moving from s to next is legal.
func (s JobStatus) CanTransition(next JobStatus) bool {
	for _, allowed := range statusTransitions[s] {
		if next == allowed {
			return true
		}
	}
	return false
}

// FieldMapping binds one source spreadsheet column to one target field.
type FieldMapping struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Mapping is the ordered source-column → target-field mapping of a job.
// It is immutable once a commit has been confirmed.
type Mapping []FieldMapping

// TargetFor returns the target field a source column maps to.
func (m Mapping) TargetFor(source string) (string, bool) {
	for _, fm := range m {
		if fm.Source == source {
			return fm.Target, true
		}
	}
	return "", false
}

// SourceFor returns the source column mapped to a target field.
func (m Mapping) SourceFor(target string) (string, bool) {
	for _, fm := range m {
		if fm.Target == target {
			return fm.Source, true
		}
	}
	return "", false
}

// Apply projects a raw cells map (keyed by source column) onto target field
// names. Unmapped fields are absent from the result.
func (m Mapping) Apply(cells map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for _, fm := range m {
		if v, ok := cells[fm.Source]; ok {
			out[fm.Target] = v
		}
	}
	return out
}

// RowError describes one validation or duplicate failure for one row.
type RowError struct {
	RowIndex int    `json:"rowIndex"`
	Field    string `json:"field,omitempty"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

// Row error codes surfaced in ImportJob.Errors and DryRunSummary.
const (
	CodeTypeCoercion    = "invalid_type"
	CodeRequiredMissing = "required_missing"
	CodeEnumValue       = "invalid_enum"
	CodeRange           = "out_of_range"
	CodeCrossField      = "cross_field"
	CodeReference       = "missing_reference"
	CodeDuplicateInFile = "duplicate_in_file"
	CodeDuplicateKey    = "duplicate_key"
	CodeColumnCount     = "column_count"
)

// ImportJob is the persisted record of one end-to-end import attempt.
type ImportJob struct {
	ID         string     `json:"id"`
	CompanyID  string     `json:"companyId"`
	EntityType EntityType `json:"entityType"`
	Status     JobStatus  `json:"status"`
	SourceFile string     `json:"sourceFile"`
	Mapping    Mapping    `json:"mapping,omitempty"`

	TotalRows     int `json:"totalRows"`
	ProcessedRows int `json:"processedRows"`
	AcceptedRows  int `json:"acceptedRows"`
	RejectedRows  int `json:"rejectedRows"`

	// Checkpoint is the number of rows durably committed; rows with index
	// below Checkpoint are never re-committed on resume.
	Checkpoint int `json:"checkpoint"`

	Errors          []RowError `json:"errors,omitempty"`
	ErrorsTruncated bool       `json:"errorsTruncated"`
	FailureMessage  string     `json:"failureMessage,omitempty"`
	CancelRequested bool       `json:"cancelRequested"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Row is one raw spreadsheet row keyed by source column name.
type Row struct {
	Index int
	Cells map[string]string
}

// VerdictKind classifies the outcome of validating one row.
type VerdictKind int

const (
	VerdictAccepted VerdictKind = iota
	VerdictAcceptedWithWarnings
	VerdictRejected
)

// RowVerdict is the validation outcome for a single row.
type RowVerdict struct {
	Index      int
	Kind       VerdictKind
	Fields     map[string]Value
	NaturalKey string
	Errors     []RowError
	Warnings   []RowError
}

// Accepted reports whether the row passed (with or without warnings).
func (v RowVerdict) Accepted() bool {
	return v.Kind != VerdictRejected
}

// Value is a coerced field value. Valid is false for empty cells.
type Value struct {
	Raw    string
	Kind   FieldType
	Valid  bool
	Text   string
	Number decimal.Decimal
	Date   time.Time
	Bool   bool
}

// Export returns the JSON-friendly representation persisted for the field.
func (v Value) Export() any {
	if !v.Valid {
		return nil
	}
	switch v.Kind {
	case FieldNumeric:
		return v.Number
	case FieldDate:
		return v.Date.Format("2006-01-02")
	case FieldBool:
		return v.Bool
	default:
		return v.Text
	}
}

// DryRunSummary is the projected outcome of a commit without side effects.
type DryRunSummary struct {
	TotalRows    int        `json:"totalRows"`
	Accepted     int        `json:"accepted"`
	Rejected     int        `json:"rejected"`
	Warnings     int        `json:"warnings"`
	SampleErrors []RowError `json:"sampleErrors,omitempty"`
	Truncated    bool       `json:"truncated"`
}

// Record is one accepted row bound for persisted storage.
type Record struct {
	RowIndex   int
	NaturalKey string
	Payload    map[string]any
}

// BatchCommit carries everything the store must persist atomically for one
// committed batch: the accepted records, the counter deltas, and the new
// checkpoint. The checkpoint must only advance if the records are durable.
type BatchCommit struct {
	OldCheckpoint int
	NewCheckpoint int
	Processed     int
	Accepted      int
	Rejected      int
	Errors        []RowError
	Truncated     bool
	Records       []Record
}
