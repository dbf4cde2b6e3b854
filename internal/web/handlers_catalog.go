package web

// handlers_catalog.go serves the read-only entity catalog endpoints.

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleListEntities returns summary info for every registered entity type.
func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"entities": s.service.Catalog().Entities(),
	})
}

// handleMigrationOrder returns the dependency-sorted list of entity types.
// Entities earlier in the list must be migrated first.
func (s *Server) handleMigrationOrder(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"migration_order": s.service.Catalog().MigrationOrder(),
	})
}

// handleEntitySchema returns the full field schema for one entity type.
func (s *Server) handleEntitySchema(w http.ResponseWriter, r *http.Request) {
	entityType := chi.URLParam(r, "type")

	schema, err := s.service.Catalog().Schema(entityType)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, schema)
}

// handleEntityDependencies returns the direct dependencies of an entity type.
func (s *Server) handleEntityDependencies(w http.ResponseWriter, r *http.Request) {
	entityType := chi.URLParam(r, "type")

	deps, err := s.service.Catalog().Dependencies(entityType)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, map[string]interface{}{
		"entity_type":  entityType,
		"dependencies": deps,
	})
}
