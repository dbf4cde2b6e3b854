package web

// handlers_validate.go covers the dry-run endpoints: validation, transform
// preview, and the duplicate report.

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleValidate runs the full dry run and returns the result.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.Validate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// handlePreview returns a paginated view of transformed rows.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", 20)
	offset := parseIntParam(r, "offset", 0)

	rows, err := s.service.Preview(r.Context(), chi.URLParam(r, "id"), limit, offset)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, map[string]interface{}{"rows": rows})
}

// handleDuplicates reports in-file duplicate values per dedup field.
func (s *Server) handleDuplicates(w http.ResponseWriter, r *http.Request) {
	report, err := s.service.Duplicates(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, report)
}
