// Package target stores the records a migration produces. The engine only
// depends on the small TargetStore interface in core; this package provides
// the Postgres production backend and an in-memory one for tests.
package target

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/kalstad/migrate/internal/core"
)

// Memory is an in-memory TargetStore. Field maps are copied on every
// boundary crossing so callers and store never alias.
type Memory struct {
	mu      sync.RWMutex
	records map[string]map[string]map[string]string // entity type -> id -> fields
}

// NewMemory creates an empty in-memory target store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]map[string]map[string]string)}
}

func (m *Memory) FindByUnique(ctx context.Context, entityType string, key map[string]string) (*core.TargetRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for id, fields := range m.records[entityType] {
		match := true
		for k, v := range key {
			if fields[k] != v {
				match = false
				break
			}
		}
		if match {
			return &core.TargetRecord{ID: id, Fields: copyFields(fields)}, nil
		}
	}
	return nil, nil
}

func (m *Memory) Get(ctx context.Context, entityType, id string) (*core.TargetRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	fields, ok := m.records[entityType][id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return &core.TargetRecord{ID: id, Fields: copyFields(fields)}, nil
}

func (m *Memory) Insert(ctx context.Context, entityType string, fields map[string]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.records[entityType] == nil {
		m.records[entityType] = make(map[string]map[string]string)
	}
	id := uuid.New().String()
	m.records[entityType][id] = copyFields(fields)
	return id, nil
}

func (m *Memory) Update(ctx context.Context, entityType, id string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[entityType][id]; !ok {
		return core.ErrNotFound
	}
	m.records[entityType][id] = copyFields(fields)
	return nil
}

func (m *Memory) Delete(ctx context.Context, entityType, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[entityType][id]; !ok {
		return core.ErrNotFound
	}
	delete(m.records[entityType], id)
	return nil
}

// Count returns the number of stored records for an entity type.
// Test helper.
func (m *Memory) Count(entityType string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records[entityType])
}

func copyFields(fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
