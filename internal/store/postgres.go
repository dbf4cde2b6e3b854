package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/kalstad/migrate/internal/core"
)

// DBTX is the subset of pgx operations the store needs.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Postgres is the production JobStore. Structured job configuration
// (mapping, rules, source rows, validation result) lives in jsonb columns;
// see schema.sql for the DDL.
type Postgres struct {
	db DBTX
}

// NewPostgres creates a JobStore backed by the given pool or transaction.
func NewPostgres(db DBTX) *Postgres {
	return &Postgres{db: db}
}

const jobColumns = `id, name, entity_type, source_type, status,
	total_rows, processed_rows, created_records, updated_records, skipped_records, failed_records,
	created_at, started_at, completed_at, error_message,
	source_columns, source_rows, field_mapping, cleaning_rules, dedup_strategy, dedup_fields, validation_result`

func (p *Postgres) CreateJob(ctx context.Context, job *core.MigrationJob) error {
	enc, err := encodeJob(job)
	if err != nil {
		return err
	}

	_, err = p.db.Exec(ctx, `
		INSERT INTO migration_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`,
		job.ID, job.Name, job.EntityType, textOrNull(job.SourceType), string(job.Status),
		job.TotalRows, job.ProcessedRows, job.CreatedRecords, job.UpdatedRecords, job.SkippedRecords, job.FailedRecords,
		job.CreatedAt, tsOrNull(job.StartedAt), tsOrNull(job.CompletedAt), textOrNull(job.ErrorMessage),
		enc.sourceColumns, enc.sourceRows, enc.fieldMapping, enc.cleaningRules,
		textOrNull(string(job.DedupStrategy)), enc.dedupFields, enc.validationResult,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (p *Postgres) GetJob(ctx context.Context, id string) (*core.MigrationJob, error) {
	row := p.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM migration_jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (p *Postgres) UpdateJob(ctx context.Context, job *core.MigrationJob) error {
	enc, err := encodeJob(job)
	if err != nil {
		return err
	}

	tag, err := p.db.Exec(ctx, `
		UPDATE migration_jobs SET
			name = $2, entity_type = $3, source_type = $4, status = $5,
			total_rows = $6, processed_rows = $7, created_records = $8,
			updated_records = $9, skipped_records = $10, failed_records = $11,
			started_at = $12, completed_at = $13, error_message = $14,
			source_columns = $15, source_rows = $16, field_mapping = $17,
			cleaning_rules = $18, dedup_strategy = $19, dedup_fields = $20,
			validation_result = $21
		WHERE id = $1`,
		job.ID, job.Name, job.EntityType, textOrNull(job.SourceType), string(job.Status),
		job.TotalRows, job.ProcessedRows, job.CreatedRecords,
		job.UpdatedRecords, job.SkippedRecords, job.FailedRecords,
		tsOrNull(job.StartedAt), tsOrNull(job.CompletedAt), textOrNull(job.ErrorMessage),
		enc.sourceColumns, enc.sourceRows, enc.fieldMapping,
		enc.cleaningRules, textOrNull(string(job.DedupStrategy)), enc.dedupFields,
		enc.validationResult,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrJobNotFound
	}
	return nil
}

func (p *Postgres) ListJobs(ctx context.Context, filter core.JobFilter) ([]*core.MigrationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM migration_jobs WHERE 1=1`
	var args []interface{}

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.EntityType != "" {
		args = append(args, filter.EntityType)
		query += fmt.Sprintf(" AND entity_type = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []*core.MigrationJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (p *Postgres) DeleteJob(ctx context.Context, id string) error {
	tag, err := p.db.Exec(ctx, `DELETE FROM migration_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrJobNotFound
	}
	return nil
}

func (p *Postgres) InsertRecord(ctx context.Context, rec *core.MigrationRecord) error {
	source, err := json.Marshal(rec.SourceData)
	if err != nil {
		return fmt.Errorf("encode source data: %w", err)
	}
	transformed, err := json.Marshal(rec.TransformedData)
	if err != nil {
		return fmt.Errorf("encode transformed data: %w", err)
	}
	var prior []byte
	if rec.PriorData != nil {
		if prior, err = json.Marshal(rec.PriorData); err != nil {
			return fmt.Errorf("encode prior data: %w", err)
		}
	}

	_, err = p.db.Exec(ctx, `
		INSERT INTO migration_records
			(id, job_id, row_number, action, error_message, source_data, transformed_data, target_id, prior_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.JobID, rec.RowNumber, textOrNull(string(rec.Action)), textOrNull(rec.ErrorMessage),
		source, transformed, textOrNull(rec.TargetID), prior,
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

func (p *Postgres) ListRecords(ctx context.Context, jobID string, filter core.RecordFilter) ([]*core.MigrationRecord, error) {
	query := `
		SELECT id, job_id, row_number, action, error_message, source_data, transformed_data, target_id, prior_data
		FROM migration_records WHERE job_id = $1`
	args := []interface{}{jobID}

	if filter.Action != "" {
		args = append(args, string(filter.Action))
		query += fmt.Sprintf(" AND action = $%d", len(args))
	}
	query += " ORDER BY row_number"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []*core.MigrationRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *Postgres) DeleteRecords(ctx context.Context, jobID string) error {
	if _, err := p.db.Exec(ctx, `DELETE FROM migration_records WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("delete records: %w", err)
	}
	return nil
}

// encodedJob holds the jsonb payloads of a job row.
type encodedJob struct {
	sourceColumns    []byte
	sourceRows       []byte
	fieldMapping     []byte
	cleaningRules    []byte
	dedupFields      []byte
	validationResult []byte
}

func encodeJob(job *core.MigrationJob) (*encodedJob, error) {
	enc := &encodedJob{}
	var err error
	if enc.sourceColumns, err = json.Marshal(job.SourceColumns); err != nil {
		return nil, fmt.Errorf("encode source columns: %w", err)
	}
	if enc.sourceRows, err = json.Marshal(job.SourceRows); err != nil {
		return nil, fmt.Errorf("encode source rows: %w", err)
	}
	if enc.fieldMapping, err = json.Marshal(job.FieldMapping); err != nil {
		return nil, fmt.Errorf("encode field mapping: %w", err)
	}
	if enc.cleaningRules, err = json.Marshal(job.CleaningRules); err != nil {
		return nil, fmt.Errorf("encode cleaning rules: %w", err)
	}
	if enc.dedupFields, err = json.Marshal(job.DedupFields); err != nil {
		return nil, fmt.Errorf("encode dedup fields: %w", err)
	}
	if job.ValidationResult != nil {
		if enc.validationResult, err = json.Marshal(job.ValidationResult); err != nil {
			return nil, fmt.Errorf("encode validation result: %w", err)
		}
	}
	return enc, nil
}

func scanJob(row pgx.Row) (*core.MigrationJob, error) {
	var (
		job              core.MigrationJob
		sourceType       pgtype.Text
		status           string
		startedAt        pgtype.Timestamptz
		completedAt      pgtype.Timestamptz
		errorMessage     pgtype.Text
		dedupStrategy    pgtype.Text
		sourceColumns    []byte
		sourceRows       []byte
		fieldMapping     []byte
		cleaningRules    []byte
		dedupFields      []byte
		validationResult []byte
	)

	err := row.Scan(
		&job.ID, &job.Name, &job.EntityType, &sourceType, &status,
		&job.TotalRows, &job.ProcessedRows, &job.CreatedRecords, &job.UpdatedRecords, &job.SkippedRecords, &job.FailedRecords,
		&job.CreatedAt, &startedAt, &completedAt, &errorMessage,
		&sourceColumns, &sourceRows, &fieldMapping, &cleaningRules, &dedupStrategy, &dedupFields, &validationResult,
	)
	if err != nil {
		return nil, err
	}

	job.Status = core.Status(status)
	job.SourceType = sourceType.String
	job.ErrorMessage = errorMessage.String
	job.DedupStrategy = core.DedupStrategy(dedupStrategy.String)
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}

	if err := decodeInto(sourceColumns, &job.SourceColumns); err != nil {
		return nil, err
	}
	if err := decodeInto(sourceRows, &job.SourceRows); err != nil {
		return nil, err
	}
	if err := decodeInto(fieldMapping, &job.FieldMapping); err != nil {
		return nil, err
	}
	if err := decodeInto(cleaningRules, &job.CleaningRules); err != nil {
		return nil, err
	}
	if err := decodeInto(dedupFields, &job.DedupFields); err != nil {
		return nil, err
	}
	if len(validationResult) > 0 {
		job.ValidationResult = &core.ValidationResult{}
		if err := json.Unmarshal(validationResult, job.ValidationResult); err != nil {
			return nil, fmt.Errorf("decode validation result: %w", err)
		}
	}

	return &job, nil
}

func scanRecord(row pgx.Row) (*core.MigrationRecord, error) {
	var (
		rec          core.MigrationRecord
		action       pgtype.Text
		errorMessage pgtype.Text
		targetID     pgtype.Text
		source       []byte
		transformed  []byte
		prior        []byte
	)

	err := row.Scan(&rec.ID, &rec.JobID, &rec.RowNumber, &action, &errorMessage, &source, &transformed, &targetID, &prior)
	if err != nil {
		return nil, err
	}

	rec.Action = core.RecordAction(action.String)
	rec.ErrorMessage = errorMessage.String
	rec.TargetID = targetID.String
	if err := decodeInto(source, &rec.SourceData); err != nil {
		return nil, err
	}
	if err := decodeInto(transformed, &rec.TransformedData); err != nil {
		return nil, err
	}
	if len(prior) > 0 {
		if err := decodeInto(prior, &rec.PriorData); err != nil {
			return nil, err
		}
	}

	return &rec, nil
}

func decodeInto(data []byte, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode jsonb: %w", err)
	}
	return nil
}

func textOrNull(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}

func tsOrNull(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}
