// Package core implements the data migration pipeline: job lifecycle,
// field mapping, cleaning, validation, dedup-aware execution, progress
// tracking, and rollback. It has no HTTP dependencies; the web layer is a
// thin shell over Service.
package core

import (
	"context"
	"time"
)

// DedupStrategy decides what happens when a source row matches an existing
// target record by unique fields.
type DedupStrategy string

const (
	// DedupSkip leaves the existing record untouched.
	DedupSkip DedupStrategy = "skip"
	// DedupUpdate overwrites the existing record's mapped fields.
	DedupUpdate DedupStrategy = "update"
	// DedupMerge fills only fields that are empty on the existing record.
	DedupMerge DedupStrategy = "merge"
)

// ValidStrategy reports whether s is a known dedup strategy.
func ValidStrategy(s DedupStrategy) bool {
	switch s {
	case DedupSkip, DedupUpdate, DedupMerge:
		return true
	}
	return false
}

// CleaningRule is a declarative per-field transform configuration. Transforms
// run in a fixed order: trim, cast to the declared type, enum normalization,
// default-if-empty. Fields without an explicit rule get DefaultCleaningRule.
type CleaningRule struct {
	Trim          bool   `json:"trim"`
	Cast          bool   `json:"cast"`
	NormalizeEnum bool   `json:"normalize_enum"`
	Default       string `json:"default,omitempty"`
}

// DefaultCleaningRule enables every transform and sets no default value.
func DefaultCleaningRule() CleaningRule {
	return CleaningRule{Trim: true, Cast: true, NormalizeEnum: true}
}

// RecordAction is the outcome of one row during execution.
type RecordAction string

const (
	ActionCreated RecordAction = "created"
	ActionUpdated RecordAction = "updated"
	ActionSkipped RecordAction = "skipped"
	ActionFailed  RecordAction = "failed"
)

// MigrationJob is the central aggregate of the pipeline.
type MigrationJob struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	EntityType string `json:"entity_type"`
	SourceType string `json:"source_type,omitempty"`
	Status     Status `json:"status"`

	TotalRows      int `json:"total_rows"`
	ProcessedRows  int `json:"processed_rows"`
	CreatedRecords int `json:"created_records"`
	UpdatedRecords int `json:"updated_records"`
	SkippedRecords int `json:"skipped_records"`
	FailedRecords  int `json:"failed_records"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// ErrorMessage is set only on fatal, job-level failure.
	ErrorMessage string `json:"error_message,omitempty"`

	SourceColumns []string   `json:"source_columns,omitempty"`
	SourceRows    [][]string `json:"-"`

	FieldMapping  map[string]string       `json:"field_mapping,omitempty"`
	CleaningRules map[string]CleaningRule `json:"cleaning_rules,omitempty"`
	DedupStrategy DedupStrategy           `json:"dedup_strategy,omitempty"`
	DedupFields   []string                `json:"dedup_fields,omitempty"`

	ValidationResult *ValidationResult `json:"validation_result,omitempty"`
}

// ProgressPercent derives completion as processed/total, clamped to [0,100].
func (j *MigrationJob) ProgressPercent() float64 {
	if j.TotalRows <= 0 {
		return 0
	}
	pct := float64(j.ProcessedRows) / float64(j.TotalRows) * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// Clone returns a deep-enough copy for handing across goroutine boundaries.
func (j *MigrationJob) Clone() *MigrationJob {
	c := *j
	c.SourceColumns = append([]string(nil), j.SourceColumns...)
	c.SourceRows = append([][]string(nil), j.SourceRows...)
	c.DedupFields = append([]string(nil), j.DedupFields...)
	if j.FieldMapping != nil {
		c.FieldMapping = make(map[string]string, len(j.FieldMapping))
		for k, v := range j.FieldMapping {
			c.FieldMapping[k] = v
		}
	}
	if j.CleaningRules != nil {
		c.CleaningRules = make(map[string]CleaningRule, len(j.CleaningRules))
		for k, v := range j.CleaningRules {
			c.CleaningRules[k] = v
		}
	}
	return &c
}

// MigrationRecord is the persisted outcome of a single source row.
// Immutable after write; deleted en masse with its job.
type MigrationRecord struct {
	ID           string       `json:"id"`
	JobID        string       `json:"job_id"`
	RowNumber    int          `json:"row_number"`
	Action       RecordAction `json:"action,omitempty"`
	ErrorMessage string       `json:"error_message,omitempty"`
	// SourceData is the raw row keyed by source column.
	SourceData map[string]string `json:"source_data,omitempty"`
	// TransformedData is the row after mapping and cleaning, exactly as it
	// was written (or attempted) against the target.
	TransformedData map[string]string `json:"transformed_data,omitempty"`
	// TargetID is the target-store record this row created or touched.
	TargetID string `json:"target_id,omitempty"`
	// PriorData is the pre-image of the target record before an update or
	// merge write. Needed to reverse updates on rollback; nil for creates.
	PriorData map[string]string `json:"prior_data,omitempty"`
}

// IssueSeverity classifies a validation issue.
type IssueSeverity string

const (
	SeverityError   IssueSeverity = "error"
	SeverityWarning IssueSeverity = "warning"
)

// ValidationIssue is one problem found during the dry run, attributed to a
// row and field.
type ValidationIssue struct {
	Severity IssueSeverity `json:"severity"`
	Field    string        `json:"field,omitempty"`
	Message  string        `json:"message"`
	Row      int           `json:"row"`
	Value    string        `json:"value,omitempty"`
}

// ValidationResult is the outcome of a full dry run. Recomputed on every
// validate call; errors block execution, warnings do not.
type ValidationResult struct {
	IsValid      bool              `json:"is_valid"`
	ErrorCount   int               `json:"error_count"`
	WarningCount int               `json:"warning_count"`
	Errors       []ValidationIssue `json:"errors,omitempty"`
	Warnings     []ValidationIssue `json:"warnings,omitempty"`
}

// DuplicateReport lists, per configured dedup field, every cleaned value that
// occurs on more than one row.
type DuplicateReport struct {
	// Fields maps field -> duplicated value -> row numbers carrying it.
	Fields map[string]map[string][]int `json:"fields"`
	// FieldCounts is the number of duplicated values per field.
	FieldCounts map[string]int `json:"field_counts"`
}

// PreviewRow is one row of the pre-execution inspection view.
type PreviewRow struct {
	RowNumber   int               `json:"row_number"`
	Source      map[string]string `json:"source"`
	Transformed map[string]string `json:"transformed"`
	Warnings    []string          `json:"warnings,omitempty"`
}

// ProgressResponse is the live (or final) state of an execution.
type ProgressResponse struct {
	JobID           string  `json:"job_id"`
	Status          Status  `json:"status"`
	TotalRows       int     `json:"total_rows"`
	ProcessedRows   int     `json:"processed_rows"`
	CreatedRecords  int     `json:"created_records"`
	UpdatedRecords  int     `json:"updated_records"`
	SkippedRecords  int     `json:"skipped_records"`
	FailedRecords   int     `json:"failed_records"`
	ProgressPercent float64 `json:"progress_percent"`
	ErrorMessage    string  `json:"error_message,omitempty"`
}

// RollbackPreview reports what a rollback would touch, without mutating.
type RollbackPreview struct {
	JobID             string `json:"job_id"`
	RecordsToRollback int    `json:"records_to_rollback"`
	CreatedRecords    int    `json:"created_records"`
	UpdatedRecords    int    `json:"updated_records"`
}

// RollbackResult is the outcome of a rollback call.
type RollbackResult struct {
	JobID      string `json:"job_id"`
	RolledBack int    `json:"rolled_back_records"`
	Status     Status `json:"status"`
}

// JobFilter narrows ListJobs.
type JobFilter struct {
	Status     Status
	EntityType string
	Limit      int
	Offset     int
}

// RecordFilter narrows ListRecords.
type RecordFilter struct {
	Action RecordAction
	Limit  int
	Offset int
}

// JobStore persists jobs and per-row records. Implemented by store.Postgres
// and store.Memory.
type JobStore interface {
	CreateJob(ctx context.Context, job *MigrationJob) error
	GetJob(ctx context.Context, id string) (*MigrationJob, error)
	UpdateJob(ctx context.Context, job *MigrationJob) error
	ListJobs(ctx context.Context, filter JobFilter) ([]*MigrationJob, error)
	DeleteJob(ctx context.Context, id string) error

	InsertRecord(ctx context.Context, rec *MigrationRecord) error
	ListRecords(ctx context.Context, jobID string, filter RecordFilter) ([]*MigrationRecord, error)
	DeleteRecords(ctx context.Context, jobID string) error
}

// TargetRecord is an existing record in the target data store.
type TargetRecord struct {
	ID     string
	Fields map[string]string
}

// TargetStore is the external system records are imported into. Queried by
// unique field values; implemented by target.Postgres and target.Memory.
type TargetStore interface {
	FindByUnique(ctx context.Context, entityType string, key map[string]string) (*TargetRecord, error)
	Get(ctx context.Context, entityType, id string) (*TargetRecord, error)
	Insert(ctx context.Context, entityType string, fields map[string]string) (string, error)
	Update(ctx context.Context, entityType, id string, fields map[string]string) error
	Delete(ctx context.Context, entityType, id string) error
}
