package core_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/kalstad/migrate/internal/core"
	"github.com/kalstad/migrate/internal/entities"
	"github.com/kalstad/migrate/internal/store"
	"github.com/kalstad/migrate/internal/target"
)

// faultyTarget delegates to a real in-memory target but fails Insert for one
// poisoned email, to exercise row isolation.
type faultyTarget struct {
	*target.Memory
	failEmail string
}

func (f *faultyTarget) Insert(ctx context.Context, entityType string, fields map[string]string) (string, error) {
	if fields["email"] == f.failEmail {
		return "", errors.New("target rejected the record")
	}
	return f.Memory.Insert(ctx, entityType, fields)
}

// gatedTarget blocks the first Insert until released, so a test can cancel a
// run that is reliably still in flight.
type gatedTarget struct {
	*target.Memory
	gate    chan struct{}
	entered chan struct{}
	once    bool
}

func (g *gatedTarget) Insert(ctx context.Context, entityType string, fields map[string]string) (string, error) {
	if !g.once {
		g.once = true
		close(g.entered)
		<-g.gate
	}
	return g.Memory.Insert(ctx, entityType, fields)
}

func TestExecuteCreates(t *testing.T) {
	env := newTestEnv(t)

	job := env.mappedJob(t, [][]string{
		{"Acme", "acme@example.test", "enterprise"},
		{"Beta", "beta@example.test", "smb"},
		{"Gamma", "gamma@example.test", "smb"},
	}, core.MappingConfig{})
	job = env.execute(t, job.ID)

	if job.Status != core.StatusCompleted {
		t.Fatalf("status = %s, want completed", job.Status)
	}
	if job.CreatedRecords != 3 || job.ProcessedRows != 3 {
		t.Errorf("created %d processed %d, want 3/3", job.CreatedRecords, job.ProcessedRows)
	}
	if job.StartedAt == nil || job.CompletedAt == nil {
		t.Error("timestamps not set")
	}
	checkCounters(t, job)

	if got := env.target.Count("customers"); got != 3 {
		t.Errorf("target records = %d, want 3", got)
	}
}

func TestExecuteDedupStrategies(t *testing.T) {
	tests := []struct {
		name        string
		strategy    core.DedupStrategy
		existing    map[string]string
		wantAction  core.RecordAction
		wantFields  map[string]string
		wantCreated int
	}{
		{
			name:       "skip leaves existing untouched",
			strategy:   core.DedupSkip,
			existing:   map[string]string{"name": "Old Name", "email": "dup@example.test", "phone": "555"},
			wantAction: core.ActionSkipped,
			wantFields: map[string]string{"name": "Old Name", "email": "dup@example.test", "phone": "555"},
		},
		{
			name:       "update overwrites mapped fields",
			strategy:   core.DedupUpdate,
			existing:   map[string]string{"name": "Old Name", "email": "dup@example.test", "phone": "555"},
			wantAction: core.ActionUpdated,
			wantFields: map[string]string{
				"name": "New Name", "email": "dup@example.test", "phone": "555",
				"segment": "SMB", "active": "true",
			},
		},
		{
			name:       "merge fills only empty fields",
			strategy:   core.DedupMerge,
			existing:   map[string]string{"name": "", "email": "dup@example.test", "phone": "555", "segment": "Enterprise"},
			wantAction: core.ActionUpdated,
			wantFields: map[string]string{
				"name": "New Name", "email": "dup@example.test", "phone": "555",
				"segment": "Enterprise", "active": "true",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()

			existingID, err := env.target.Insert(ctx, "customers", tt.existing)
			if err != nil {
				t.Fatalf("seed target: %v", err)
			}

			job := env.mappedJob(t, [][]string{
				{"New Name", "dup@example.test", "smb"},
			}, core.MappingConfig{DedupStrategy: tt.strategy})
			job = env.execute(t, job.ID)

			checkCounters(t, job)
			if job.ProcessedRows != 1 {
				t.Fatalf("processed = %d, want 1", job.ProcessedRows)
			}

			records, err := env.svc.ListRecords(ctx, job.ID, core.RecordFilter{})
			if err != nil {
				t.Fatalf("list records: %v", err)
			}
			rec := records[0]
			if rec.Action != tt.wantAction {
				t.Errorf("action = %s, want %s", rec.Action, tt.wantAction)
			}
			if rec.TargetID != existingID {
				t.Errorf("target id = %q, want the existing record's", rec.TargetID)
			}
			if tt.wantAction == core.ActionUpdated && rec.PriorData == nil {
				t.Error("updated record must retain the pre-image")
			}

			got, err := env.target.Get(ctx, "customers", existingID)
			if err != nil {
				t.Fatalf("get target record: %v", err)
			}
			for k, want := range tt.wantFields {
				if got.Fields[k] != want {
					t.Errorf("field %s = %q, want %q", k, got.Fields[k], want)
				}
			}

			if env.target.Count("customers") != 1 {
				t.Errorf("target count = %d, want 1", env.target.Count("customers"))
			}
		})
	}
}

func TestExecuteRowIsolation(t *testing.T) {
	cat, err := entities.Default()
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	st := store.NewMemory()
	tg := &faultyTarget{Memory: target.NewMemory(), failEmail: "poison@example.test"}
	env := &testEnv{
		svc:    core.NewService(cat, st, tg, core.Options{}),
		store:  st,
		target: tg.Memory,
	}

	job := env.mappedJob(t, [][]string{
		{"Acme", "acme@example.test", "smb"},
		{"Bad", "poison@example.test", "smb"},
		{"Gamma", "gamma@example.test", "smb"},
	}, core.MappingConfig{})
	job = env.execute(t, job.ID)

	// One row failing must not stop the run or taint its neighbors.
	if job.Status != core.StatusCompleted {
		t.Fatalf("status = %s, want completed", job.Status)
	}
	if job.CreatedRecords != 2 || job.FailedRecords != 1 || job.ProcessedRows != 3 {
		t.Errorf("counters = created %d failed %d processed %d, want 2/1/3",
			job.CreatedRecords, job.FailedRecords, job.ProcessedRows)
	}
	checkCounters(t, job)

	failed, err := env.svc.ListRecords(context.Background(), job.ID, core.RecordFilter{Action: core.ActionFailed})
	if err != nil {
		t.Fatalf("list failed records: %v", err)
	}
	if len(failed) != 1 || failed[0].RowNumber != 2 {
		t.Fatalf("failed records = %+v", failed)
	}
	if failed[0].ErrorMessage == "" {
		t.Error("failed record should carry the error")
	}
}

func TestExecuteCancel(t *testing.T) {
	cat, err := entities.Default()
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	st := store.NewMemory()
	tg := &gatedTarget{
		Memory:  target.NewMemory(),
		gate:    make(chan struct{}),
		entered: make(chan struct{}),
	}
	env := &testEnv{
		svc:    core.NewService(cat, st, tg, core.Options{}),
		store:  st,
		target: tg.Memory,
	}
	ctx := context.Background()

	job := env.mappedJob(t, [][]string{
		{"Acme", "a@example.test", "smb"},
		{"Beta", "b@example.test", "smb"},
		{"Gamma", "c@example.test", "smb"},
	}, core.MappingConfig{})

	if _, err := env.svc.Validate(ctx, job.ID); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if _, err := env.svc.Execute(ctx, job.ID); err != nil {
		t.Fatalf("execute: %v", err)
	}

	// Wait until the worker is inside row 1, then cancel and release it.
	<-tg.entered
	result, err := env.svc.Cancel(ctx, job.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !result.Success {
		t.Fatalf("cancel result = %+v", result)
	}
	close(tg.gate)
	env.waitForRuns(t)

	job, _ = env.svc.GetJob(ctx, job.ID)
	if job.Status != core.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", job.Status)
	}
	// The in-flight row finished; later rows never started.
	if job.ProcessedRows == 0 || job.ProcessedRows == job.TotalRows {
		t.Errorf("processed = %d of %d, want a partial run", job.ProcessedRows, job.TotalRows)
	}
	checkCounters(t, job)

	// Already-processed rows keep their outcomes.
	records, _ := env.svc.ListRecords(ctx, job.ID, core.RecordFilter{})
	if len(records) != job.ProcessedRows {
		t.Errorf("records = %d, processed = %d", len(records), job.ProcessedRows)
	}
}

// ctxCheckedStore aborts writes once their context is cancelled, the way a
// SQL-backed store does.
type ctxCheckedStore struct {
	*store.Memory
}

func (s *ctxCheckedStore) InsertRecord(ctx context.Context, rec *core.MigrationRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Memory.InsertRecord(ctx, rec)
}

func (s *ctxCheckedStore) UpdateJob(ctx context.Context, job *core.MigrationJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Memory.UpdateJob(ctx, job)
}

func TestCancelMidRowPersistsInFlightRow(t *testing.T) {
	cat, err := entities.Default()
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	st := &ctxCheckedStore{Memory: store.NewMemory()}
	tg := &gatedTarget{
		Memory:  target.NewMemory(),
		gate:    make(chan struct{}),
		entered: make(chan struct{}),
	}
	env := &testEnv{
		svc:    core.NewService(cat, st, tg, core.Options{}),
		store:  st.Memory,
		target: tg.Memory,
	}
	ctx := context.Background()

	job := env.mappedJob(t, [][]string{
		{"Acme", "a@example.test", "smb"},
		{"Beta", "b@example.test", "smb"},
	}, core.MappingConfig{})

	if _, err := env.svc.Validate(ctx, job.ID); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if _, err := env.svc.Execute(ctx, job.ID); err != nil {
		t.Fatalf("execute: %v", err)
	}

	// Cancel lands while row 1's target write is in flight. The row must
	// still finish and persist even though the store rejects writes on a
	// cancelled context.
	<-tg.entered
	if _, err := env.svc.Cancel(ctx, job.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	close(tg.gate)
	env.waitForRuns(t)

	job, _ = env.svc.GetJob(ctx, job.ID)
	if job.Status != core.StatusCancelled {
		t.Fatalf("status = %s (%s), want cancelled", job.Status, job.ErrorMessage)
	}
	if job.ProcessedRows != 1 || job.CreatedRecords != 1 {
		t.Errorf("processed %d created %d, want 1/1", job.ProcessedRows, job.CreatedRecords)
	}

	records, err := env.svc.ListRecords(ctx, job.ID, core.RecordFilter{})
	if err != nil {
		t.Fatalf("list records: %v", err)
	}
	if len(records) != 1 || records[0].Action != core.ActionCreated {
		t.Fatalf("records = %+v, want the in-flight row persisted as created", records)
	}
}

func TestExecuteSingleRunPerJob(t *testing.T) {
	cat, err := entities.Default()
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	st := store.NewMemory()
	tg := &gatedTarget{
		Memory:  target.NewMemory(),
		gate:    make(chan struct{}),
		entered: make(chan struct{}),
	}
	env := &testEnv{
		svc:    core.NewService(cat, st, tg, core.Options{}),
		store:  st,
		target: tg.Memory,
	}
	ctx := context.Background()

	job := env.mappedJob(t, [][]string{
		{"Acme", "a@example.test", "smb"},
		{"Beta", "b@example.test", "smb"},
		{"Gamma", "c@example.test", "smb"},
	}, core.MappingConfig{})

	if _, err := env.svc.Validate(ctx, job.ID); err != nil {
		t.Fatalf("validate: %v", err)
	}

	// Two concurrent Execute calls: exactly one may claim the job.
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.svc.Execute(ctx, job.ID)
		}(i)
	}
	wg.Wait()

	started := 0
	for _, err := range errs {
		if err == nil {
			started++
			continue
		}
		var stateErr *core.InvalidStateError
		if !errors.As(err, &stateErr) {
			t.Fatalf("loser error = %v, want InvalidStateError", err)
		}
	}
	if started != 1 {
		t.Fatalf("started = %d runs, want exactly 1", started)
	}

	close(tg.gate)
	env.waitForRuns(t)

	job, _ = env.svc.GetJob(ctx, job.ID)
	if job.Status != core.StatusCompleted {
		t.Fatalf("status = %s, want completed", job.Status)
	}
	if job.ProcessedRows != 3 || job.CreatedRecords != 3 {
		t.Errorf("processed %d created %d, want 3/3 (rows must not import twice)", job.ProcessedRows, job.CreatedRecords)
	}
	if got := env.target.Count("customers"); got != 3 {
		t.Errorf("target records = %d, want 3", got)
	}

	records, _ := env.svc.ListRecords(ctx, job.ID, core.RecordFilter{})
	if len(records) != 3 {
		t.Errorf("records = %d, want 3", len(records))
	}
}

func TestCancelWithoutLiveRun(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	stuck := &core.MigrationJob{
		ID:         "orphan-run",
		Name:       "orphan",
		EntityType: "customers",
		Status:     core.StatusRunning,
	}
	if err := env.store.CreateJob(ctx, stuck); err != nil {
		t.Fatalf("seed: %v", err)
	}

	result, err := env.svc.Cancel(ctx, stuck.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !result.Success {
		t.Fatalf("result = %+v", result)
	}

	job, _ := env.svc.GetJob(ctx, stuck.ID)
	if job.Status != core.StatusCancelled {
		t.Errorf("status = %s, want cancelled", job.Status)
	}
}

func TestCancelRequiresRunning(t *testing.T) {
	env := newTestEnv(t)

	job := env.mappedJob(t, [][]string{
		{"Acme", "a@example.test", "smb"},
	}, core.MappingConfig{})

	_, err := env.svc.Cancel(context.Background(), job.ID)
	var stateErr *core.InvalidStateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected InvalidStateError, got %v", err)
	}
}

func TestProgress(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	job := env.mappedJob(t, [][]string{
		{"Acme", "a@example.test", "smb"},
		{"Beta", "b@example.test", "smb"},
	}, core.MappingConfig{})
	job = env.execute(t, job.ID)

	p, err := env.svc.Progress(ctx, job.ID)
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if p.Status != core.StatusCompleted || p.ProcessedRows != 2 || p.ProgressPercent != 100 {
		t.Errorf("progress = %+v", p)
	}
}

func TestExecuteRequiresValidation(t *testing.T) {
	env := newTestEnv(t)

	job := env.mappedJob(t, [][]string{
		{"Acme", "a@example.test", "smb"},
	}, core.MappingConfig{})

	_, err := env.svc.Execute(context.Background(), job.ID)
	var stateErr *core.InvalidStateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected InvalidStateError for mapped job, got %v", err)
	}
}
