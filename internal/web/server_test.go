package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalstad/migrate/internal/config"
	"github.com/kalstad/migrate/internal/core"
	"github.com/kalstad/migrate/internal/entities"
	"github.com/kalstad/migrate/internal/store"
	"github.com/kalstad/migrate/internal/target"
)

func testServer(t *testing.T) *Server {
	t.Helper()

	cat, err := entities.Default()
	require.NoError(t, err)

	service := core.NewService(cat, store.NewMemory(), target.NewMemory(), core.Options{})

	cfg := &config.Config{}
	cfg.Server.RequestTimeout = 60 * time.Second
	cfg.Import.MaxFileSize = 10 * 1024 * 1024
	cfg.Rate.Enabled = false

	return NewServer(service, cfg)
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), "body: %s", rec.Body.String())
}

func uploadCSV(t *testing.T, srv *Server, jobID, csvContent string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "import.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte(csvContent))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/jobs/"+jobID+"/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func createJob(t *testing.T, srv *Server, entityType string) string {
	t.Helper()

	rec := doJSON(t, srv, http.MethodPost, "/jobs", CreateJobRequest{
		Name:       "test import",
		EntityType: entityType,
		SourceType: "csv",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var job core.MigrationJob
	decodeBody(t, rec, &job)
	require.NotEmpty(t, job.ID)
	return job.ID
}

func waitForStatus(t *testing.T, srv *Server, jobID string, want core.Status) core.ProgressResponse {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec := doJSON(t, srv, http.MethodGet, "/jobs/"+jobID+"/progress", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var p core.ProgressResponse
		decodeBody(t, rec, &p)
		if p.Status == want {
			return p
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached status %s", jobID, want)
	return core.ProgressResponse{}
}

func TestCatalogEndpoints(t *testing.T) {
	srv := testServer(t)

	t.Run("list entities", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodGet, "/entities", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Entities []struct {
				Type string `json:"type"`
			} `json:"entities"`
		}
		decodeBody(t, rec, &body)
		assert.Len(t, body.Entities, 6)
		assert.Equal(t, "customers", body.Entities[0].Type)
	})

	t.Run("migration order respects dependencies", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodGet, "/migration-order", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Order []string `json:"migration_order"`
		}
		decodeBody(t, rec, &body)
		require.Len(t, body.Order, 6)

		pos := make(map[string]int)
		for i, e := range body.Order {
			pos[e] = i
		}
		assert.Less(t, pos["customers"], pos["invoices"])
		assert.Less(t, pos["invoices"], pos["payments"])
		assert.Less(t, pos["products"], pos["invoice_items"])
	})

	t.Run("entity schema", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodGet, "/entities/customers/schema", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Type   string `json:"type"`
			Fields []struct {
				Name     string `json:"name"`
				Required bool   `json:"required"`
				Unique   bool   `json:"unique"`
			} `json:"fields"`
		}
		decodeBody(t, rec, &body)
		assert.Equal(t, "customers", body.Type)
		assert.NotEmpty(t, body.Fields)
	})

	t.Run("entity dependencies", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodGet, "/entities/invoice_items/dependencies", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Dependencies []struct {
				Type string `json:"type"`
			} `json:"dependencies"`
		}
		decodeBody(t, rec, &body)
		require.Len(t, body.Dependencies, 2)
		assert.Equal(t, "invoices", body.Dependencies[0].Type)
		assert.Equal(t, "products", body.Dependencies[1].Type)
	})

	t.Run("unknown entity is 404", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodGet, "/entities/widgets/schema", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		var errResp ErrorResponse
		decodeBody(t, rec, &errResp)
		assert.Equal(t, "CAT001", errResp.Code)
	})
}

func TestJobCRUD(t *testing.T) {
	srv := testServer(t)

	t.Run("create requires entity type", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/jobs", CreateJobRequest{Name: "x"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("create with unknown entity is 404", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/jobs", CreateJobRequest{EntityType: "widgets"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("create, get, list, delete", func(t *testing.T) {
		jobID := createJob(t, srv, "customers")

		rec := doJSON(t, srv, http.MethodGet, "/jobs/"+jobID, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var job core.MigrationJob
		decodeBody(t, rec, &job)
		assert.Equal(t, core.StatusPending, job.Status)
		assert.Equal(t, "customers", job.EntityType)

		rec = doJSON(t, srv, http.MethodGet, "/jobs?entity_type=customers", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var list struct {
			Jobs []core.MigrationJob `json:"jobs"`
		}
		decodeBody(t, rec, &list)
		assert.Len(t, list.Jobs, 1)

		rec = doJSON(t, srv, http.MethodDelete, "/jobs/"+jobID, nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		rec = doJSON(t, srv, http.MethodGet, "/jobs/"+jobID, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("missing job is 404", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodGet, "/jobs/no-such-job", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		var errResp ErrorResponse
		decodeBody(t, rec, &errResp)
		assert.Equal(t, "JOB002", errResp.Code)
	})

	t.Run("bad status filter is 400", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodGet, "/jobs?status=paused", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestUploadAndInspect(t *testing.T) {
	srv := testServer(t)
	jobID := createJob(t, srv, "customers")

	rec := uploadCSV(t, srv, jobID, "Name,Email,Segment\nAcme,acme@example.test,smb\nBeta,beta@example.test,enterprise\n")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var upload struct {
		Status    core.Status `json:"status"`
		Columns   []string    `json:"columns"`
		TotalRows int         `json:"total_rows"`
	}
	decodeBody(t, rec, &upload)
	assert.Equal(t, core.StatusUploaded, upload.Status)
	assert.Equal(t, []string{"Name", "Email", "Segment"}, upload.Columns)
	assert.Equal(t, 2, upload.TotalRows)

	rec = doJSON(t, srv, http.MethodGet, "/jobs/"+jobID+"/columns", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cols struct {
		Columns []string `json:"columns"`
	}
	decodeBody(t, rec, &cols)
	assert.Equal(t, []string{"Name", "Email", "Segment"}, cols.Columns)

	rec = doJSON(t, srv, http.MethodGet, "/jobs/"+jobID+"/sample?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sample struct {
		Rows [][]string `json:"rows"`
	}
	decodeBody(t, rec, &sample)
	require.Len(t, sample.Rows, 1)
	assert.Equal(t, []string{"Acme", "acme@example.test", "smb"}, sample.Rows[0])

	t.Run("empty file is 400", func(t *testing.T) {
		otherID := createJob(t, srv, "customers")
		rec := uploadCSV(t, srv, otherID, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("columns before upload is 409", func(t *testing.T) {
		otherID := createJob(t, srv, "customers")
		rec := doJSON(t, srv, http.MethodGet, "/jobs/"+otherID+"/columns", nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestFullMigrationFlow(t *testing.T) {
	srv := testServer(t)
	jobID := createJob(t, srv, "customers")

	rec := uploadCSV(t, srv, jobID, "Name,Email,Segment\nAcme,acme@example.test,smb\nBeta,beta@example.test,enterprise\nGamma,gamma@example.test,smb\n")
	require.Equal(t, http.StatusOK, rec.Code)

	// Suggested mapping should cover all three columns.
	rec = doJSON(t, srv, http.MethodPost, "/jobs/"+jobID+"/mapping/suggest", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var suggestion struct {
		FieldMapping map[string]string `json:"field_mapping"`
	}
	decodeBody(t, rec, &suggestion)
	assert.Equal(t, map[string]string{
		"Name":    "name",
		"Email":   "email",
		"Segment": "segment",
	}, suggestion.FieldMapping)

	// Executing before mapping/validation is a state conflict.
	rec = doJSON(t, srv, http.MethodPost, "/jobs/"+jobID+"/execute", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, srv, http.MethodPut, "/jobs/"+jobID+"/mapping", core.MappingConfig{
		FieldMapping:  suggestion.FieldMapping,
		DedupStrategy: core.DedupSkip,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, srv, http.MethodPost, "/jobs/"+jobID+"/validate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var result core.ValidationResult
	decodeBody(t, rec, &result)
	require.True(t, result.IsValid, "validation: %+v", result.Errors)

	rec = doJSON(t, srv, http.MethodGet, "/jobs/"+jobID+"/preview?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/jobs/"+jobID+"/duplicates", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/jobs/"+jobID+"/execute", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	progress := waitForStatus(t, srv, jobID, core.StatusCompleted)
	assert.Equal(t, 3, progress.ProcessedRows)
	assert.Equal(t, 3, progress.CreatedRecords)
	assert.Equal(t, float64(100), progress.ProgressPercent)

	rec = doJSON(t, srv, http.MethodGet, "/jobs/"+jobID+"/records", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var records struct {
		Records []core.MigrationRecord `json:"records"`
	}
	decodeBody(t, rec, &records)
	require.Len(t, records.Records, 3)
	for i, r := range records.Records {
		assert.Equal(t, i+1, r.RowNumber)
		assert.Equal(t, core.ActionCreated, r.Action)
	}

	// Rollback preview, then rollback, then confirm idempotence.
	rec = doJSON(t, srv, http.MethodGet, "/jobs/"+jobID+"/rollback-preview", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var preview core.RollbackPreview
	decodeBody(t, rec, &preview)
	assert.Equal(t, 3, preview.RecordsToRollback)

	rec = doJSON(t, srv, http.MethodPost, "/jobs/"+jobID+"/rollback", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rollback core.RollbackResult
	decodeBody(t, rec, &rollback)
	assert.Equal(t, 3, rollback.RolledBack)
	assert.Equal(t, core.StatusRolledBack, rollback.Status)

	rec = doJSON(t, srv, http.MethodPost, "/jobs/"+jobID+"/rollback", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &rollback)
	assert.Equal(t, 0, rollback.RolledBack)

	// Validate after rollback is a state conflict.
	rec = doJSON(t, srv, http.MethodPost, "/jobs/"+jobID+"/validate", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

}

func TestValidationErrorsBlockExecution(t *testing.T) {
	srv := testServer(t)
	jobID := createJob(t, srv, "customers")

	rec := uploadCSV(t, srv, jobID, "Name,Email\nAcme,acme@example.test\nBeta,\n")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodPut, "/jobs/"+jobID+"/mapping", core.MappingConfig{
		FieldMapping: map[string]string{"Name": "name", "Email": "email"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/jobs/"+jobID+"/validate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var result core.ValidationResult
	decodeBody(t, rec, &result)
	require.False(t, result.IsValid)
	assert.Equal(t, 1, result.ErrorCount)

	rec = doJSON(t, srv, http.MethodPost, "/jobs/"+jobID+"/execute", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestIncompleteMappingIs400(t *testing.T) {
	srv := testServer(t)
	jobID := createJob(t, srv, "customers")

	rec := uploadCSV(t, srv, jobID, "Name\nAcme\n")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodPut, "/jobs/"+jobID+"/mapping", core.MappingConfig{
		FieldMapping: map[string]string{"Name": "name"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var errResp ErrorResponse
	decodeBody(t, rec, &errResp)
	assert.Equal(t, "MAP001", errResp.Code)
}

func TestHealthz(t *testing.T) {
	srv := testServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status string `json:"status"`
		Runner struct {
			MaxConcurrent int `json:"max_concurrent"`
		} `json:"runner"`
	}
	decodeBody(t, rec, &body)
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, core.DefaultMaxConcurrentRuns, body.Runner.MaxConcurrent)
}

func TestSecurityHeaders(t *testing.T) {
	srv := testServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/healthz", nil)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestRateLimiter(t *testing.T) {
	rl := newRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.allow("10.0.0.1"), "request %d should pass", i+1)
	}
	assert.False(t, rl.allow("10.0.0.1"), "fourth request should be limited")
	assert.True(t, rl.allow("10.0.0.2"), "other IPs are unaffected")
}

func TestParseIntParam(t *testing.T) {
	for _, tt := range []struct {
		query string
		want  int
	}{
		{"limit=7", 7},
		{"limit=0", 0},
		{"limit=-3", 10},
		{"limit=abc", 10},
		{"", 10},
	} {
		req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/x?%s", tt.query), nil)
		assert.Equal(t, tt.want, parseIntParam(req, "limit", 10), "query %q", tt.query)
	}
}
