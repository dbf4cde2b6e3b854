package core

// execute.go performs the real import. Execution is the only long-running
// operation: Execute returns immediately after moving the job to running and
// spawning a worker, and Progress can be polled concurrently from other
// callers while the worker proceeds. Rows are processed in row-number order
// and are isolated from each other: a row failure is recorded and counted,
// never fatal. Only job-store faults abort the run.

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kalstad/migrate/internal/catalog"
)

// activeRun is the in-memory state of one executing job. Counters are read
// and written under mu so concurrent Progress calls never see a torn set.
type activeRun struct {
	jobID    string
	cancelFn context.CancelFunc
	done     chan struct{}

	mu       sync.Mutex
	progress ProgressResponse
}

func (r *activeRun) cancel() {
	r.cancelFn()
}

func (r *activeRun) snapshot() ProgressResponse {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress
}

func (r *activeRun) update(fn func(p *ProgressResponse)) {
	r.mu.Lock()
	fn(&r.progress)
	r.mu.Unlock()
}

// Execute starts the import for a validated job. Returns the initial
// progress snapshot; the work continues in the background.
func (s *Service) Execute(ctx context.Context, jobID string) (*ProgressResponse, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := requireStatus("execute", job, StatusValidated); err != nil {
		return nil, err
	}
	if job.ValidationResult != nil && !job.ValidationResult.IsValid {
		return nil, ErrValidationBlocked
	}

	schema, err := s.catalog.Schema(job.EntityType)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	run := &activeRun{
		jobID:    job.ID,
		cancelFn: cancel,
		done:     make(chan struct{}),
		progress: progressFrom(job),
	}

	// Claim the job in the run registry before touching anything else, so two
	// concurrent Execute calls can never both spawn a worker for it.
	s.mu.Lock()
	if _, exists := s.runs[job.ID]; exists {
		s.mu.Unlock()
		cancel()
		return nil, &InvalidStateError{Op: "execute", Status: StatusRunning}
	}
	s.runs[job.ID] = run
	s.mu.Unlock()

	unclaim := func() {
		s.mu.Lock()
		delete(s.runs, job.ID)
		s.mu.Unlock()
		cancel()
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		unclaim()
		return nil, err
	}

	now := time.Now().UTC()
	if err := job.transition("execute", StatusRunning); err != nil {
		s.limiter.Release()
		unclaim()
		return nil, err
	}
	job.StartedAt = &now
	job.CompletedAt = nil
	job.ErrorMessage = ""
	job.ProcessedRows = 0
	job.CreatedRecords = 0
	job.UpdatedRecords = 0
	job.SkippedRecords = 0
	job.FailedRecords = 0

	if err := s.store.UpdateJob(ctx, job); err != nil {
		s.limiter.Release()
		unclaim()
		return nil, err
	}

	run.update(func(p *ProgressResponse) { *p = progressFrom(job) })

	go s.runExecution(runCtx, run, job.Clone(), schema)

	p := run.snapshot()
	return &p, nil
}

// runExecution is the background worker for one job.
func (s *Service) runExecution(ctx context.Context, run *activeRun, job *MigrationJob, schema catalog.EntitySchema) {
	logger := slog.Default().With("job_id", job.ID, "entity_type", job.EntityType)
	logger.Info("execution started", "total_rows", job.TotalRows)

	defer func() {
		s.mu.Lock()
		delete(s.runs, job.ID)
		s.mu.Unlock()
		close(run.done)
		s.limiter.Release()
	}()

	tr := newTransformer(schema, job.SourceColumns, job.FieldMapping, job.CleaningRules)

	// Cancellation is honored only at row boundaries: ctx is checked before
	// each row, but the writes themselves run on a separate context so a
	// cancel landing mid-row never aborts that row's target write or its
	// record persistence.
	writeCtx := context.Background()

	for i, row := range job.SourceRows {
		if ctx.Err() != nil {
			s.finishRun(run, job, StatusCancelled, "")
			logger.Info("execution cancelled", "processed_rows", job.ProcessedRows)
			return
		}

		rowNum := i + 1
		rec := s.processRow(writeCtx, tr, job, schema, rowNum, row)

		if err := s.store.InsertRecord(writeCtx, rec); err != nil {
			s.finishRun(run, job, StatusFailed, fmt.Sprintf("persist record for row %d: %v", rowNum, err))
			logger.Error("execution failed", "error", err, "row", rowNum)
			return
		}

		job.ProcessedRows++
		switch rec.Action {
		case ActionCreated:
			job.CreatedRecords++
		case ActionUpdated:
			job.UpdatedRecords++
		case ActionSkipped:
			job.SkippedRecords++
		case ActionFailed:
			job.FailedRecords++
		}

		run.update(func(p *ProgressResponse) {
			p.ProcessedRows = job.ProcessedRows
			p.CreatedRecords = job.CreatedRecords
			p.UpdatedRecords = job.UpdatedRecords
			p.SkippedRecords = job.SkippedRecords
			p.FailedRecords = job.FailedRecords
			p.ProgressPercent = job.ProgressPercent()
		})

		if job.ProcessedRows%s.flushEvery == 0 {
			if err := s.store.UpdateJob(writeCtx, job); err != nil {
				s.finishRun(run, job, StatusFailed, fmt.Sprintf("persist progress: %v", err))
				logger.Error("execution failed", "error", err)
				return
			}
		}
	}

	s.finishRun(run, job, StatusCompleted, "")
	logger.Info("execution completed",
		"created", job.CreatedRecords,
		"updated", job.UpdatedRecords,
		"skipped", job.SkippedRecords,
		"failed", job.FailedRecords,
	)
}

// processRow transforms and imports one row, returning its record. All
// failures are captured on the record; this function never errors.
func (s *Service) processRow(ctx context.Context, tr *transformer, job *MigrationJob, schema catalog.EntitySchema, rowNum int, row []string) *MigrationRecord {
	rec := &MigrationRecord{
		ID:         uuid.New().String(),
		JobID:      job.ID,
		RowNumber:  rowNum,
		SourceData: tr.sourceMap(job.SourceColumns, row),
	}

	transformed := tr.transform(row)
	rec.TransformedData = transformed

	// Re-check what validation checked: a row can still be bad here if the
	// source was edited between passes or a default produced an invalid value.
	for _, field := range schema.Fields {
		value := transformed[field.Name]
		if field.Required && value == "" {
			rec.Action = ActionFailed
			rec.ErrorMessage = fmt.Sprintf("required field %q is empty", field.Name)
			return rec
		}
		if !validValue(value, field) {
			rec.Action = ActionFailed
			rec.ErrorMessage = fmt.Sprintf("invalid %s value for %q: %q", field.Type, field.Name, value)
			return rec
		}
	}

	// DedupFields is restricted to the schema's unique fields at SaveMapping
	// time, so this lookup always matches on target-enforced identity.
	key, hasKey := uniqueKey(transformed, job.DedupFields)

	var existing *TargetRecord
	if hasKey {
		found, err := s.target.FindByUnique(ctx, job.EntityType, key)
		if err != nil {
			rec.Action = ActionFailed
			rec.ErrorMessage = fmt.Sprintf("lookup existing record: %v", err)
			return rec
		}
		existing = found
	}

	if existing == nil {
		id, err := s.target.Insert(ctx, job.EntityType, transformed)
		if err != nil {
			rec.Action = ActionFailed
			rec.ErrorMessage = fmt.Sprintf("create record: %v", err)
			return rec
		}
		rec.Action = ActionCreated
		rec.TargetID = id
		return rec
	}

	switch job.DedupStrategy {
	case DedupSkip:
		rec.Action = ActionSkipped
		rec.TargetID = existing.ID

	case DedupUpdate:
		rec.PriorData = cloneFields(existing.Fields)
		next := cloneFields(existing.Fields)
		for k, v := range transformed {
			next[k] = v
		}
		if err := s.target.Update(ctx, job.EntityType, existing.ID, next); err != nil {
			rec.PriorData = nil
			rec.Action = ActionFailed
			rec.ErrorMessage = fmt.Sprintf("update record: %v", err)
			return rec
		}
		rec.Action = ActionUpdated
		rec.TargetID = existing.ID

	case DedupMerge:
		rec.PriorData = cloneFields(existing.Fields)
		next := cloneFields(existing.Fields)
		changed := false
		for k, v := range transformed {
			if next[k] == "" && v != "" {
				next[k] = v
				changed = true
			}
		}
		if changed {
			if err := s.target.Update(ctx, job.EntityType, existing.ID, next); err != nil {
				rec.PriorData = nil
				rec.Action = ActionFailed
				rec.ErrorMessage = fmt.Sprintf("merge record: %v", err)
				return rec
			}
		}
		rec.Action = ActionUpdated
		rec.TargetID = existing.ID

	default:
		rec.Action = ActionFailed
		rec.ErrorMessage = fmt.Sprintf("unknown dedup strategy %q", job.DedupStrategy)
	}

	return rec
}

// finishRun records the terminal state of a run on the job and in the live
// progress snapshot. Store errors here are logged and swallowed: the run is
// over either way, and RecoverInterrupted picks up stragglers on restart.
func (s *Service) finishRun(run *activeRun, job *MigrationJob, status Status, errMsg string) {
	now := time.Now().UTC()
	job.Status = status
	job.CompletedAt = &now
	job.ErrorMessage = errMsg

	run.update(func(p *ProgressResponse) {
		p.Status = status
		p.ProcessedRows = job.ProcessedRows
		p.CreatedRecords = job.CreatedRecords
		p.UpdatedRecords = job.UpdatedRecords
		p.SkippedRecords = job.SkippedRecords
		p.FailedRecords = job.FailedRecords
		p.ProgressPercent = job.ProgressPercent()
		p.ErrorMessage = errMsg
	})

	if err := s.store.UpdateJob(context.Background(), job); err != nil {
		slog.Error("persist terminal job state", "job_id", job.ID, "error", err)
	}
}

// Progress returns live counters for a running job, or the persisted state
// for a finished one. Safe to call concurrently with an active run.
func (s *Service) Progress(ctx context.Context, jobID string) (*ProgressResponse, error) {
	s.mu.RLock()
	run, live := s.runs[jobID]
	s.mu.RUnlock()

	if live {
		p := run.snapshot()
		return &p, nil
	}

	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	p := progressFrom(job)
	return &p, nil
}

// CancelResult reports the outcome of a cancel request.
type CancelResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Cancel requests a cooperative stop of a running job. The in-flight row
// finishes; no further rows start. Already-processed rows keep their
// outcomes; cancellation is not a rollback.
func (s *Service) Cancel(ctx context.Context, jobID string) (*CancelResult, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := requireStatus("cancel", job, StatusRunning); err != nil {
		return nil, err
	}

	s.mu.RLock()
	run, live := s.runs[jobID]
	s.mu.RUnlock()

	if !live {
		// Marked running but no worker in this process (e.g. pre-restart).
		now := time.Now().UTC()
		job.Status = StatusCancelled
		job.CompletedAt = &now
		if err := s.store.UpdateJob(ctx, job); err != nil {
			return nil, err
		}
		return &CancelResult{Success: true, Message: "job marked cancelled"}, nil
	}

	run.cancel()
	return &CancelResult{Success: true, Message: "cancellation requested, in-flight row will finish"}, nil
}

func progressFrom(job *MigrationJob) ProgressResponse {
	return ProgressResponse{
		JobID:           job.ID,
		Status:          job.Status,
		TotalRows:       job.TotalRows,
		ProcessedRows:   job.ProcessedRows,
		CreatedRecords:  job.CreatedRecords,
		UpdatedRecords:  job.UpdatedRecords,
		SkippedRecords:  job.SkippedRecords,
		FailedRecords:   job.FailedRecords,
		ProgressPercent: job.ProgressPercent(),
		ErrorMessage:    job.ErrorMessage,
	}
}

func cloneFields(fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
