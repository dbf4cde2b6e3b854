package web

// handlers_execute.go covers execution, live progress, cancellation, and
// rollback.

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalstad/migrate/internal/logging"
)

// handleExecute starts the import and returns the initial progress snapshot.
// The work continues in the background; clients poll /progress.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	progress, err := s.service.Execute(r.Context(), jobID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	logging.WithFields(r.Context(), "job_id", jobID).Info("execution accepted")
	writeJSONStatus(w, http.StatusAccepted, progress)
}

// handleProgress returns live counters for a running job, or the final state
// of a finished one.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := s.service.Progress(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, progress)
}

// handleCancel requests a cooperative stop of a running job.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// handleRollbackPreview reports what a rollback would touch.
func (s *Server) handleRollbackPreview(w http.ResponseWriter, r *http.Request) {
	preview, err := s.service.PreviewRollback(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, preview)
}

// handleRollback reverses the job's effects on the target store.
func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	result, err := s.service.Rollback(r.Context(), jobID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	logging.WithFields(r.Context(), "job_id", jobID).Info("rollback finished",
		"rolled_back_records", result.RolledBack)
	writeJSON(w, result)
}
