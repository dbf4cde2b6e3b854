// Package store persists migration jobs and per-row records. Postgres is the
// production backend; Memory backs tests and dev mode with identical
// semantics.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/kalstad/migrate/internal/core"
)

// Memory is an in-memory JobStore guarded by a RWMutex. Values are cloned on
// the way in and out so callers never share state with the store.
type Memory struct {
	mu      sync.RWMutex
	jobs    map[string]*core.MigrationJob
	records map[string][]*core.MigrationRecord // job id -> records in insert order
	seq     map[string]int                     // job id -> creation sequence for stable list order
	nextSeq int
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		jobs:    make(map[string]*core.MigrationJob),
		records: make(map[string][]*core.MigrationRecord),
		seq:     make(map[string]int),
	}
}

func (m *Memory) CreateJob(ctx context.Context, job *core.MigrationJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job.Clone()
	m.nextSeq++
	m.seq[job.ID] = m.nextSeq
	return nil
}

func (m *Memory) GetJob(ctx context.Context, id string) (*core.MigrationJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, core.ErrJobNotFound
	}
	return job.Clone(), nil
}

func (m *Memory) UpdateJob(ctx context.Context, job *core.MigrationJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; !ok {
		return core.ErrJobNotFound
	}
	m.jobs[job.ID] = job.Clone()
	return nil
}

func (m *Memory) ListJobs(ctx context.Context, filter core.JobFilter) ([]*core.MigrationJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*core.MigrationJob
	for _, job := range m.jobs {
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.EntityType != "" && job.EntityType != filter.EntityType {
			continue
		}
		out = append(out, job.Clone())
	}

	// Newest first, matching the Postgres ORDER BY created_at DESC.
	sort.Slice(out, func(i, j int) bool {
		return m.seq[out[i].ID] > m.seq[out[j].ID]
	})

	return paginate(out, filter.Limit, filter.Offset), nil
}

func (m *Memory) DeleteJob(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return core.ErrJobNotFound
	}
	delete(m.jobs, id)
	delete(m.seq, id)
	delete(m.records, id)
	return nil
}

func (m *Memory) InsertRecord(ctx context.Context, rec *core.MigrationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[rec.JobID]; !ok {
		return core.ErrJobNotFound
	}
	c := *rec
	m.records[rec.JobID] = append(m.records[rec.JobID], &c)
	return nil
}

func (m *Memory) ListRecords(ctx context.Context, jobID string, filter core.RecordFilter) ([]*core.MigrationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*core.MigrationRecord
	for _, rec := range m.records[jobID] {
		if filter.Action != "" && rec.Action != filter.Action {
			continue
		}
		c := *rec
		out = append(out, &c)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].RowNumber < out[j].RowNumber
	})

	return paginate(out, filter.Limit, filter.Offset), nil
}

func (m *Memory) DeleteRecords(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, jobID)
	return nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
