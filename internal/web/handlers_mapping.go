package web

// handlers_mapping.go covers mapping suggestion and persistence.

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalstad/migrate/internal/core"
)

// handleSuggestMapping proposes a column-to-field mapping by name similarity.
// The suggestion is not saved; the client reviews and PUTs it back.
func (s *Server) handleSuggestMapping(w http.ResponseWriter, r *http.Request) {
	mapping, err := s.service.SuggestMapping(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, map[string]interface{}{"field_mapping": mapping})
}

// handleSaveMapping validates and persists the mapping configuration.
func (s *Server) handleSaveMapping(w http.ResponseWriter, r *http.Request) {
	var cfg core.MappingConfig
	if err := decodeJSON(r, &cfg); err != nil {
		s.badRequest(w, r, "invalid JSON body")
		return
	}
	if len(cfg.FieldMapping) == 0 {
		s.badRequest(w, r, "field_mapping is required")
		return
	}

	job, err := s.service.SaveMapping(r.Context(), chi.URLParam(r, "id"), cfg)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, job)
}
