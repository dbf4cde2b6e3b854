package core

// rollback.go reverses a completed or cancelled job's effects on the target
// store. Created records are deleted outright; updated and merged records are
// restored from the pre-image captured at execution time, so update rollback
// is exact rather than best-effort.

import (
	"context"
	"log/slog"
)

// PreviewRollback computes what a rollback would touch, without mutating
// anything. Valid only for completed or cancelled jobs.
func (s *Service) PreviewRollback(ctx context.Context, jobID string) (*RollbackPreview, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := requireStatus("preview rollback", job, StatusCompleted, StatusCancelled); err != nil {
		return nil, err
	}

	created, updated, err := s.countReversible(ctx, jobID)
	if err != nil {
		return nil, err
	}

	return &RollbackPreview{
		JobID:             jobID,
		RecordsToRollback: created + updated,
		CreatedRecords:    created,
		UpdatedRecords:    updated,
	}, nil
}

// Rollback deletes every target record this job created and restores every
// record it updated from the stored pre-image, then marks the job
// rolled_back. Idempotent: rolling back an already rolled-back job is a
// no-op returning zero.
func (s *Service) Rollback(ctx context.Context, jobID string) (*RollbackResult, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if job.Status == StatusRolledBack {
		return &RollbackResult{JobID: jobID, RolledBack: 0, Status: StatusRolledBack}, nil
	}
	if err := requireStatus("rollback", job, StatusCompleted, StatusCancelled); err != nil {
		return nil, err
	}

	logger := slog.Default().With("job_id", jobID, "entity_type", job.EntityType)

	records, err := s.store.ListRecords(ctx, jobID, RecordFilter{})
	if err != nil {
		return nil, err
	}

	rolledBack := 0
	for _, rec := range records {
		switch rec.Action {
		case ActionCreated:
			if rec.TargetID == "" {
				continue
			}
			if err := s.target.Delete(ctx, job.EntityType, rec.TargetID); err != nil {
				logger.Warn("rollback delete failed", "target_id", rec.TargetID, "row", rec.RowNumber, "error", err)
				continue
			}
			rolledBack++

		case ActionUpdated:
			if rec.TargetID == "" || rec.PriorData == nil {
				continue
			}
			if err := s.target.Update(ctx, job.EntityType, rec.TargetID, rec.PriorData); err != nil {
				logger.Warn("rollback restore failed", "target_id", rec.TargetID, "row", rec.RowNumber, "error", err)
				continue
			}
			rolledBack++
		}
	}

	if err := job.transition("rollback", StatusRolledBack); err != nil {
		return nil, err
	}
	if err := s.store.UpdateJob(ctx, job); err != nil {
		return nil, err
	}

	logger.Info("rollback completed", "rolled_back_records", rolledBack)

	return &RollbackResult{
		JobID:      jobID,
		RolledBack: rolledBack,
		Status:     StatusRolledBack,
	}, nil
}

// countReversible tallies records a rollback would touch: creates with a
// target id, updates with a retained pre-image.
func (s *Service) countReversible(ctx context.Context, jobID string) (created, updated int, err error) {
	records, err := s.store.ListRecords(ctx, jobID, RecordFilter{})
	if err != nil {
		return 0, 0, err
	}
	for _, rec := range records {
		switch rec.Action {
		case ActionCreated:
			if rec.TargetID != "" {
				created++
			}
		case ActionUpdated:
			if rec.TargetID != "" && rec.PriorData != nil {
				updated++
			}
		}
	}
	return created, updated, nil
}
