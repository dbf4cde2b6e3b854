package web

// handlers_jobs.go covers the job lifecycle endpoints: CRUD, source upload,
// and source/record inspection.

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalstad/migrate/internal/core"
	"github.com/kalstad/migrate/internal/fileparse"
	"github.com/kalstad/migrate/internal/logging"
)

// CreateJobRequest is the POST /jobs payload.
type CreateJobRequest struct {
	Name       string `json:"name"`
	EntityType string `json:"entity_type"`
	SourceType string `json:"source_type"`
}

// handleCreateJob registers a new migration job in pending.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, r, "invalid JSON body")
		return
	}
	if req.EntityType == "" {
		s.badRequest(w, r, "entity_type is required")
		return
	}

	job, err := s.service.CreateJob(r.Context(), req.Name, req.EntityType, req.SourceType)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, job)
}

// handleListJobs returns jobs newest first, optionally filtered.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	filter := core.JobFilter{
		Status:     core.Status(r.URL.Query().Get("status")),
		EntityType: r.URL.Query().Get("entity_type"),
		Limit:      parseIntParam(r, "limit", 50),
		Offset:     parseIntParam(r, "offset", 0),
	}
	if filter.Status != "" && !core.ValidStatus(filter.Status) {
		s.badRequest(w, r, "unknown status filter")
		return
	}

	jobs, err := s.service.ListJobs(r.Context(), filter)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []*core.MigrationJob{}
	}
	writeJSON(w, map[string]interface{}{"jobs": jobs})
}

// handleGetJob returns the full job aggregate.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.service.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, job)
}

// handleDeleteJob removes a job and all its records.
func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteJob(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleUpload parses a multipart source file and attaches it to the job.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	logger := logging.WithFields(r.Context(), "job_id", jobID)

	maxSize := s.cfg.Import.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	if err := r.ParseMultipartForm(maxSize); err != nil {
		s.badRequest(w, r, "file too large or invalid form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.badRequest(w, r, "no file provided")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	src, err := fileparse.Parse(data)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	job, err := s.service.AttachSource(r.Context(), jobID, src)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	logger.Info("source attached",
		"file", header.Filename,
		"columns", len(src.Columns),
		"rows", src.TotalRows,
	)

	writeJSON(w, map[string]interface{}{
		"job_id":     job.ID,
		"status":     job.Status,
		"columns":    src.Columns,
		"total_rows": src.TotalRows,
	})
}

// handleColumns returns the attached source's column names.
func (s *Server) handleColumns(w http.ResponseWriter, r *http.Request) {
	columns, err := s.service.Columns(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, map[string]interface{}{"columns": columns})
}

// handleSampleRows returns up to limit raw source rows.
func (s *Server) handleSampleRows(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", 5)

	rows, err := s.service.SampleRows(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, map[string]interface{}{"rows": rows})
}

// handleListRecords returns per-row outcomes of the execution.
func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	filter := core.RecordFilter{
		Action: core.RecordAction(r.URL.Query().Get("action")),
		Limit:  parseIntParam(r, "limit", 100),
		Offset: parseIntParam(r, "offset", 0),
	}

	records, err := s.service.ListRecords(r.Context(), chi.URLParam(r, "id"), filter)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if records == nil {
		records = []*core.MigrationRecord{}
	}
	writeJSON(w, map[string]interface{}{"records": records})
}
