// Package catalog holds the static registry of importable entity types:
// their field schemas, uniqueness rules, and dependencies on other entities.
// A Catalog is built once at startup, finalized (which runs the dependency
// sort and rejects cycles), and read-only from then on. It is passed to the
// pipeline as a plain dependency so tests can construct their own.
package catalog

import (
	"fmt"
	"strings"
)

// FieldType is the declared data type of an entity field.
type FieldType string

const (
	FieldString    FieldType = "string"
	FieldNumber    FieldType = "number"
	FieldBoolean   FieldType = "boolean"
	FieldDate      FieldType = "date"
	FieldEnum      FieldType = "enum"
	FieldReference FieldType = "reference"
)

// FieldSchema describes one field of an entity.
type FieldSchema struct {
	Name       string    `json:"name"`
	Type       FieldType `json:"type"`
	Required   bool      `json:"required"`
	Unique     bool      `json:"unique"`
	EnumValues []string  `json:"enum_values,omitempty"`
	Default    string    `json:"default,omitempty"`
	// References names the entity type a reference field points at.
	References string `json:"references,omitempty"`
}

// EntitySchema is the full descriptor for one importable entity type.
type EntitySchema struct {
	Type        string        `json:"type"`
	DisplayName string        `json:"display_name"`
	Fields      []FieldSchema `json:"fields"`
	// Dependencies lists entity types that must be migrated before this one.
	Dependencies []string `json:"dependencies,omitempty"`
}

// EntityInfo is the summary view of an entity type.
type EntityInfo struct {
	Type           string   `json:"type"`
	DisplayName    string   `json:"display_name"`
	RequiredFields []string `json:"required_fields"`
	UniqueFields   []string `json:"unique_fields"`
	Dependencies   []string `json:"dependencies"`
}

// RequiredFields returns the names of all required fields in declaration order.
func (s EntitySchema) RequiredFields() []string {
	var out []string
	for _, f := range s.Fields {
		if f.Required {
			out = append(out, f.Name)
		}
	}
	return out
}

// UniqueFields returns the names of all unique fields in declaration order.
func (s EntitySchema) UniqueFields() []string {
	var out []string
	for _, f := range s.Fields {
		if f.Unique {
			out = append(out, f.Name)
		}
	}
	return out
}

// Field returns the schema for a named field.
func (s EntitySchema) Field(name string) (FieldSchema, bool) {
	for _, f := range s.Fields {
		if strings.EqualFold(f.Name, name) {
			return f, true
		}
	}
	return FieldSchema{}, false
}

// Info returns the summary view of the schema.
func (s EntitySchema) Info() EntityInfo {
	return EntityInfo{
		Type:           s.Type,
		DisplayName:    s.DisplayName,
		RequiredFields: s.RequiredFields(),
		UniqueFields:   s.UniqueFields(),
		Dependencies:   append([]string(nil), s.Dependencies...),
	}
}

// UnknownEntityError is returned when a lookup names an unregistered type.
type UnknownEntityError struct {
	Type string
}

func (e *UnknownEntityError) Error() string {
	return fmt.Sprintf("unknown entity type: %s", e.Type)
}

// CyclicDependencyError is returned by Finalize when the dependency graph
// contains a cycle. Configuration error; fatal at startup.
type CyclicDependencyError struct {
	Remaining []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic entity dependencies involving: %s", strings.Join(e.Remaining, ", "))
}

// Catalog is the registry of entity schemas. Register entities, call
// Finalize once, then treat it as read-only.
type Catalog struct {
	schemas   map[string]EntitySchema
	order     []string // registration order, used for deterministic ties
	migration []string // cached topological order, set by Finalize
	finalized bool
}

// New creates an empty catalog.
func New() *Catalog {
	return &Catalog{schemas: make(map[string]EntitySchema)}
}

// Register adds an entity schema.
// Panics if the type is already registered or the catalog is finalized;
// registration is a startup-time activity.
func (c *Catalog) Register(s EntitySchema) {
	if c.finalized {
		panic("catalog: register after finalize")
	}
	if _, exists := c.schemas[s.Type]; exists {
		panic(fmt.Sprintf("catalog: entity already registered: %s", s.Type))
	}
	c.schemas[s.Type] = s
	c.order = append(c.order, s.Type)
}

// Finalize verifies every declared dependency exists, computes the migration
// order, and seals the catalog. Must be called exactly once after all
// Register calls.
func (c *Catalog) Finalize() error {
	for _, t := range c.order {
		for _, dep := range c.schemas[t].Dependencies {
			if _, ok := c.schemas[dep]; !ok {
				return fmt.Errorf("entity %s depends on unregistered type %s", t, dep)
			}
		}
	}

	order, err := topoSort(c.order, c.schemas)
	if err != nil {
		return err
	}

	c.migration = order
	c.finalized = true
	return nil
}

// Schema returns the full schema for an entity type.
func (c *Catalog) Schema(entityType string) (EntitySchema, error) {
	s, ok := c.schemas[entityType]
	if !ok {
		return EntitySchema{}, &UnknownEntityError{Type: entityType}
	}
	return s, nil
}

// Entities returns summary info for all registered entities in registration order.
func (c *Catalog) Entities() []EntityInfo {
	out := make([]EntityInfo, 0, len(c.order))
	for _, t := range c.order {
		out = append(out, c.schemas[t].Info())
	}
	return out
}

// MigrationOrder returns the cached dependency-ordered list of entity types.
// Every entity appears after all entities it depends on.
func (c *Catalog) MigrationOrder() []string {
	return append([]string(nil), c.migration...)
}

// Dependencies returns the direct (not transitive) dependencies of an entity.
func (c *Catalog) Dependencies(entityType string) ([]EntityInfo, error) {
	s, ok := c.schemas[entityType]
	if !ok {
		return nil, &UnknownEntityError{Type: entityType}
	}
	out := make([]EntityInfo, 0, len(s.Dependencies))
	for _, dep := range s.Dependencies {
		out = append(out, c.schemas[dep].Info())
	}
	return out, nil
}

// Count returns the number of registered entities.
func (c *Catalog) Count() int {
	return len(c.schemas)
}
