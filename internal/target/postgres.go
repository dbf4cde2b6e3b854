package target

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kalstad/migrate/internal/core"
)

// DBTX is the subset of pgx operations the target store needs.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Postgres keeps every entity's records in one entity_records table with a
// jsonb fields column. Unique-key lookup uses jsonb containment, which the
// GIN index on fields serves.
type Postgres struct {
	db DBTX
}

// NewPostgres creates a TargetStore backed by the given pool or transaction.
func NewPostgres(db DBTX) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) FindByUnique(ctx context.Context, entityType string, key map[string]string) (*core.TargetRecord, error) {
	encoded, err := json.Marshal(key)
	if err != nil {
		return nil, fmt.Errorf("encode lookup key: %w", err)
	}

	row := p.db.QueryRow(ctx, `
		SELECT id, fields FROM entity_records
		WHERE entity_type = $1 AND fields @> $2
		LIMIT 1`,
		entityType, encoded,
	)

	rec, err := scanTarget(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by unique key: %w", err)
	}
	return rec, nil
}

func (p *Postgres) Get(ctx context.Context, entityType, id string) (*core.TargetRecord, error) {
	row := p.db.QueryRow(ctx, `
		SELECT id, fields FROM entity_records
		WHERE entity_type = $1 AND id = $2`,
		entityType, id,
	)

	rec, err := scanTarget(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

func (p *Postgres) Insert(ctx context.Context, entityType string, fields map[string]string) (string, error) {
	encoded, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encode fields: %w", err)
	}

	id := uuid.New().String()
	_, err = p.db.Exec(ctx, `
		INSERT INTO entity_records (id, entity_type, fields)
		VALUES ($1, $2, $3)`,
		id, entityType, encoded,
	)
	if err != nil {
		return "", fmt.Errorf("insert record: %w", err)
	}
	return id, nil
}

func (p *Postgres) Update(ctx context.Context, entityType, id string, fields map[string]string) error {
	encoded, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}

	tag, err := p.db.Exec(ctx, `
		UPDATE entity_records SET fields = $3, updated_at = now()
		WHERE entity_type = $1 AND id = $2`,
		entityType, id, encoded,
	)
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, entityType, id string) error {
	tag, err := p.db.Exec(ctx, `
		DELETE FROM entity_records
		WHERE entity_type = $1 AND id = $2`,
		entityType, id,
	)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func scanTarget(row pgx.Row) (*core.TargetRecord, error) {
	var (
		rec    core.TargetRecord
		fields []byte
	)
	if err := row.Scan(&rec.ID, &fields); err != nil {
		return nil, err
	}
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &rec.Fields); err != nil {
			return nil, fmt.Errorf("decode fields: %w", err)
		}
	}
	return &rec, nil
}
