package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kalstad/migrate/internal/catalog"
	"github.com/kalstad/migrate/internal/fileparse"
)

// Service wires the pipeline together: catalog for schemas, job store for
// state, target store for the records being migrated, and a registry of live
// execution runs.
type Service struct {
	catalog *catalog.Catalog
	store   JobStore
	target  TargetStore
	limiter *RunLimiter

	// flushEvery is how many processed rows pass between counter flushes to
	// the job store during execution.
	flushEvery int

	mu   sync.RWMutex
	runs map[string]*activeRun
}

// Options tunes Service behavior; zero values get defaults.
type Options struct {
	MaxConcurrentRuns int
	MaxRunWait        time.Duration
	FlushEvery        int
}

// NewService creates a pipeline service.
func NewService(cat *catalog.Catalog, store JobStore, target TargetStore, opts Options) *Service {
	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 50
	}
	return &Service{
		catalog:    cat,
		store:      store,
		target:     target,
		limiter:    NewRunLimiter(opts.MaxConcurrentRuns, opts.MaxRunWait),
		flushEvery: flushEvery,
		runs:       make(map[string]*activeRun),
	}
}

// Catalog exposes the entity catalog for the read-only schema endpoints.
func (s *Service) Catalog() *catalog.Catalog {
	return s.catalog
}

// RunnerStatus reports the execution limiter state for monitoring.
func (s *Service) RunnerStatus() RunLimiterStatus {
	return s.limiter.Status()
}

// WaitForRuns blocks until all active executions finish, for graceful
// shutdown.
func (s *Service) WaitForRuns(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// CreateJob registers a new migration job for an entity type, in pending.
func (s *Service) CreateJob(ctx context.Context, name, entityType, sourceType string) (*MigrationJob, error) {
	if _, err := s.catalog.Schema(entityType); err != nil {
		return nil, err
	}
	if name == "" {
		name = fmt.Sprintf("%s migration %s", entityType, time.Now().Format("2006-01-02 15:04"))
	}

	job := &MigrationJob{
		ID:         uuid.New().String(),
		Name:       name,
		EntityType: entityType,
		SourceType: sourceType,
		Status:     StatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// GetJob returns the full job aggregate.
func (s *Service) GetJob(ctx context.Context, id string) (*MigrationJob, error) {
	return s.store.GetJob(ctx, id)
}

// ListJobs returns jobs matching the filter, newest first.
func (s *Service) ListJobs(ctx context.Context, filter JobFilter) ([]*MigrationJob, error) {
	return s.store.ListJobs(ctx, filter)
}

// DeleteJob removes a job and its records. Allowed from any status; a live
// run is cancelled first and left to notice the missing job on its next
// store write.
func (s *Service) DeleteJob(ctx context.Context, id string) error {
	if _, err := s.store.GetJob(ctx, id); err != nil {
		return err
	}

	s.mu.RLock()
	run, live := s.runs[id]
	s.mu.RUnlock()
	if live {
		run.cancel()
	}

	if err := s.store.DeleteRecords(ctx, id); err != nil {
		return err
	}
	return s.store.DeleteJob(ctx, id)
}

// AttachSource stores a parsed upload on the job and moves it to uploaded.
// Re-uploading replaces the previous source and clears any validation; the
// saved mapping survives so columns can be remapped incrementally.
func (s *Service) AttachSource(ctx context.Context, jobID string, src *fileparse.Source) (*MigrationJob, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := job.transition("upload", StatusUploaded); err != nil {
		return nil, err
	}

	job.SourceColumns = src.Columns
	job.SourceRows = src.Rows
	job.TotalRows = src.TotalRows
	job.ValidationResult = nil

	if err := s.store.UpdateJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Columns returns the source file's column names.
func (s *Service) Columns(ctx context.Context, jobID string) ([]string, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := requireStatus("read columns", job, StatusUploaded, StatusMapped, StatusValidated, StatusRunning, StatusCompleted, StatusCancelled); err != nil {
		return nil, err
	}
	return job.SourceColumns, nil
}

// SampleRows returns up to limit raw source rows for inspection.
func (s *Service) SampleRows(ctx context.Context, jobID string, limit int) ([][]string, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := requireStatus("read sample", job, StatusUploaded, StatusMapped, StatusValidated, StatusRunning, StatusCompleted, StatusCancelled); err != nil {
		return nil, err
	}

	if limit <= 0 || limit > 100 {
		limit = 5
	}
	if limit > len(job.SourceRows) {
		limit = len(job.SourceRows)
	}
	return job.SourceRows[:limit], nil
}

// ListRecords returns per-row outcomes of a job's execution.
func (s *Service) ListRecords(ctx context.Context, jobID string, filter RecordFilter) ([]*MigrationRecord, error) {
	if _, err := s.store.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return s.store.ListRecords(ctx, jobID, filter)
}

// RecoverInterrupted marks jobs left running by a previous process as
// failed. Called once at startup; a half-finished run is never silently
// resumed.
func (s *Service) RecoverInterrupted(ctx context.Context) (int, error) {
	jobs, err := s.store.ListJobs(ctx, JobFilter{Status: StatusRunning})
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, job := range jobs {
		job.Status = StatusFailed
		job.ErrorMessage = "execution interrupted by process restart"
		now := time.Now().UTC()
		job.CompletedAt = &now
		if err := s.store.UpdateJob(ctx, job); err != nil {
			return recovered, err
		}
		recovered++
	}
	return recovered, nil
}
