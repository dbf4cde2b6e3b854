package core

// mapping.go proposes and persists column-to-field mappings.

import (
	"context"
	"strings"
)

// normalizeName lowers a column or field name and strips everything but
// letters and digits, so "Customer E-Mail" matches "customer_email".
func normalizeName(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SuggestMapping proposes a source column for each target field by name
// similarity: exact normalized match first, then substring containment in
// either direction. Fields without a confident match are omitted rather than
// guessed. Deterministic: columns are scanned in file order, fields in schema
// order, and the first hit wins.
func (s *Service) SuggestMapping(ctx context.Context, jobID string) (map[string]string, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := requireStatus("suggest mapping", job, StatusUploaded, StatusMapped, StatusValidated); err != nil {
		return nil, err
	}

	schema, err := s.catalog.Schema(job.EntityType)
	if err != nil {
		return nil, err
	}

	mapping := make(map[string]string)
	usedCols := make(map[string]bool)

	// Exact normalized matches take priority over substring matches, so do a
	// full pass for each tier.
	for _, field := range schema.Fields {
		fieldNorm := normalizeName(field.Name)
		for _, col := range job.SourceColumns {
			if usedCols[col] {
				continue
			}
			if normalizeName(col) == fieldNorm {
				mapping[col] = field.Name
				usedCols[col] = true
				break
			}
		}
	}

	for _, field := range schema.Fields {
		if mappedTo(mapping, field.Name) {
			continue
		}
		fieldNorm := normalizeName(field.Name)
		if fieldNorm == "" {
			continue
		}
		for _, col := range job.SourceColumns {
			if usedCols[col] {
				continue
			}
			colNorm := normalizeName(col)
			if colNorm == "" {
				continue
			}
			if strings.Contains(colNorm, fieldNorm) || strings.Contains(fieldNorm, colNorm) {
				mapping[col] = field.Name
				usedCols[col] = true
				break
			}
		}
	}

	return mapping, nil
}

func mappedTo(mapping map[string]string, field string) bool {
	for _, f := range mapping {
		if f == field {
			return true
		}
	}
	return false
}

// MappingConfig is the full mapping payload saved onto a job.
type MappingConfig struct {
	FieldMapping  map[string]string       `json:"field_mapping"`
	CleaningRules map[string]CleaningRule `json:"cleaning_rules,omitempty"`
	DedupStrategy DedupStrategy           `json:"dedup_strategy,omitempty"`
	DedupFields   []string                `json:"dedup_fields,omitempty"`
}

// SaveMapping validates and persists the mapping and dedup configuration,
// moving the job to mapped. Every required field must have a mapped column
// or a default (from its cleaning rule or the schema); otherwise
// IncompleteMappingError lists what is missing. Unique-field requirements are
// data-dependent and checked at validation time instead.
func (s *Service) SaveMapping(ctx context.Context, jobID string, cfg MappingConfig) (*MigrationJob, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := requireStatus("save mapping", job, StatusUploaded, StatusMapped, StatusValidated); err != nil {
		return nil, err
	}

	schema, err := s.catalog.Schema(job.EntityType)
	if err != nil {
		return nil, err
	}

	// Reject mappings that name unknown columns or fields, or that assign
	// two columns to the same target field (the transform would have to pick
	// one arbitrarily).
	colSet := make(map[string]bool, len(job.SourceColumns))
	for _, c := range job.SourceColumns {
		colSet[strings.ToLower(c)] = true
	}
	targets := make(map[string]bool, len(cfg.FieldMapping))
	for col, field := range cfg.FieldMapping {
		if !colSet[strings.ToLower(col)] {
			return nil, &IncompleteMappingError{Missing: []string{"unknown source column: " + col}}
		}
		if _, ok := schema.Field(field); !ok {
			return nil, &IncompleteMappingError{Missing: []string{"unknown target field: " + field}}
		}
		lf := strings.ToLower(field)
		if targets[lf] {
			return nil, &IncompleteMappingError{Missing: []string{"field mapped from more than one column: " + field}}
		}
		targets[lf] = true
	}

	var missing []string
	for _, field := range schema.Fields {
		if !field.Required {
			continue
		}
		if mappedTo(cfg.FieldMapping, field.Name) {
			continue
		}
		if rule, ok := cfg.CleaningRules[field.Name]; ok && rule.Default != "" {
			continue
		}
		if field.Default != "" {
			continue
		}
		missing = append(missing, field.Name)
	}
	if len(missing) > 0 {
		return nil, &IncompleteMappingError{Missing: missing}
	}

	strategy := cfg.DedupStrategy
	if strategy == "" {
		strategy = DedupSkip
	}
	if !ValidStrategy(strategy) {
		return nil, &IncompleteMappingError{Missing: []string{"unknown dedup strategy: " + string(strategy)}}
	}

	// Dedup matching must use fields the target enforces uniqueness on;
	// anything else would match (or miss) records on a non-identifying value.
	dedupFields := cfg.DedupFields
	if len(dedupFields) == 0 {
		dedupFields = schema.UniqueFields()
	}
	for _, f := range dedupFields {
		fs, ok := schema.Field(f)
		if !ok {
			return nil, &IncompleteMappingError{Missing: []string{"unknown dedup field: " + f}}
		}
		if !fs.Unique {
			return nil, &IncompleteMappingError{Missing: []string{"dedup field is not unique: " + f}}
		}
	}

	if err := job.transition("save mapping", StatusMapped); err != nil {
		return nil, err
	}

	job.FieldMapping = cfg.FieldMapping
	job.CleaningRules = cfg.CleaningRules
	job.DedupStrategy = strategy
	job.DedupFields = dedupFields
	// Any mapping change invalidates a prior validation.
	job.ValidationResult = nil

	if err := s.store.UpdateJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}
