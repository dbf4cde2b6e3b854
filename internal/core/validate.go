package core

// validate.go is the read-only dry run: it applies the saved mapping and
// cleaning rules to every source row and reports errors and warnings with
// row/field attribution, without writing anything. Re-running it against the
// same mapping and source data yields an identical result.

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Validate transforms every row and checks required fields, declared types,
// and in-batch uniqueness. Required/type problems are errors; an in-batch
// duplicate of a unique field is a warning, because the dedup strategy
// resolves it at execution time. The job moves to validated only when no
// errors were found; otherwise it stays mapped with the result attached.
func (s *Service) Validate(ctx context.Context, jobID string) (*ValidationResult, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := requireStatus("validate", job, StatusMapped, StatusValidated); err != nil {
		return nil, err
	}

	schema, err := s.catalog.Schema(job.EntityType)
	if err != nil {
		return nil, err
	}

	tr := newTransformer(schema, job.SourceColumns, job.FieldMapping, job.CleaningRules)
	result := &ValidationResult{IsValid: true}

	// value -> rows, per unique field, for in-batch duplicate warnings.
	seen := make(map[string]map[string][]int)
	for _, f := range schema.UniqueFields() {
		seen[f] = make(map[string][]int)
	}

	for i, row := range job.SourceRows {
		rowNum := i + 1
		transformed := tr.transform(row)

		for _, field := range schema.Fields {
			value := transformed[field.Name]

			if field.Required && value == "" {
				result.addError(ValidationIssue{
					Severity: SeverityError,
					Field:    field.Name,
					Message:  "required field is empty",
					Row:      rowNum,
				})
				continue
			}

			if !validValue(value, field) {
				msg := fmt.Sprintf("invalid %s value", field.Type)
				if len(field.EnumValues) > 0 {
					msg = "value must be one of: " + strings.Join(field.EnumValues, ", ")
				}
				result.addError(ValidationIssue{
					Severity: SeverityError,
					Field:    field.Name,
					Message:  msg,
					Row:      rowNum,
					Value:    value,
				})
				continue
			}

			if field.Unique && value != "" {
				seen[field.Name][value] = append(seen[field.Name][value], rowNum)
			}
		}
	}

	// Report each later occurrence of a duplicated unique value, in row order.
	var dupWarnings []ValidationIssue
	for _, f := range schema.UniqueFields() {
		for value, rows := range seen[f] {
			for _, rowNum := range rows[1:] {
				dupWarnings = append(dupWarnings, ValidationIssue{
					Severity: SeverityWarning,
					Field:    f,
					Message:  fmt.Sprintf("duplicate value within file (first seen on row %d)", rows[0]),
					Row:      rowNum,
					Value:    value,
				})
			}
		}
	}
	sort.Slice(dupWarnings, func(i, j int) bool {
		if dupWarnings[i].Row != dupWarnings[j].Row {
			return dupWarnings[i].Row < dupWarnings[j].Row
		}
		return dupWarnings[i].Field < dupWarnings[j].Field
	})
	for _, w := range dupWarnings {
		result.addWarning(w)
	}

	result.IsValid = result.ErrorCount == 0

	job.ValidationResult = result
	if result.IsValid {
		if err := job.transition("validate", StatusValidated); err != nil {
			return nil, err
		}
	}
	if err := s.store.UpdateJob(ctx, job); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *ValidationResult) addError(issue ValidationIssue) {
	r.Errors = append(r.Errors, issue)
	r.ErrorCount++
}

func (r *ValidationResult) addWarning(issue ValidationIssue) {
	r.Warnings = append(r.Warnings, issue)
	r.WarningCount++
}

// Preview returns a paginated view of transform output so a human can
// inspect what execution would write. Read-only; does not touch job state.
func (s *Service) Preview(ctx context.Context, jobID string, limit, offset int) ([]PreviewRow, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := requireStatus("preview", job, StatusMapped, StatusValidated); err != nil {
		return nil, err
	}

	schema, err := s.catalog.Schema(job.EntityType)
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(job.SourceRows) {
		return []PreviewRow{}, nil
	}
	end := offset + limit
	if end > len(job.SourceRows) {
		end = len(job.SourceRows)
	}

	tr := newTransformer(schema, job.SourceColumns, job.FieldMapping, job.CleaningRules)
	out := make([]PreviewRow, 0, end-offset)

	for i := offset; i < end; i++ {
		row := job.SourceRows[i]
		transformed := tr.transform(row)

		var warnings []string
		for _, field := range schema.Fields {
			value := transformed[field.Name]
			if field.Required && value == "" {
				warnings = append(warnings, fmt.Sprintf("%s: required field is empty", field.Name))
			} else if !validValue(value, field) {
				warnings = append(warnings, fmt.Sprintf("%s: invalid %s value %q", field.Name, field.Type, value))
			}
		}

		out = append(out, PreviewRow{
			RowNumber:   i + 1,
			Source:      tr.sourceMap(job.SourceColumns, row),
			Transformed: transformed,
			Warnings:    warnings,
		})
	}

	return out, nil
}

// Duplicates scans the configured dedup fields across all rows' cleaned
// values and reports every value that occurs more than once, with its row
// numbers. Purely informational.
func (s *Service) Duplicates(ctx context.Context, jobID string) (*DuplicateReport, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := requireStatus("report duplicates", job, StatusMapped, StatusValidated); err != nil {
		return nil, err
	}

	schema, err := s.catalog.Schema(job.EntityType)
	if err != nil {
		return nil, err
	}

	fields := job.DedupFields
	if len(fields) == 0 {
		fields = schema.UniqueFields()
	}

	tr := newTransformer(schema, job.SourceColumns, job.FieldMapping, job.CleaningRules)

	occurrences := make(map[string]map[string][]int, len(fields))
	for _, f := range fields {
		occurrences[f] = make(map[string][]int)
	}

	for i, row := range job.SourceRows {
		transformed := tr.transform(row)
		for _, f := range fields {
			if v := transformed[f]; v != "" {
				occurrences[f][v] = append(occurrences[f][v], i+1)
			}
		}
	}

	report := &DuplicateReport{
		Fields:      make(map[string]map[string][]int, len(fields)),
		FieldCounts: make(map[string]int, len(fields)),
	}
	for _, f := range fields {
		dups := make(map[string][]int)
		for value, rows := range occurrences[f] {
			if len(rows) > 1 {
				dups[value] = rows
			}
		}
		report.Fields[f] = dups
		report.FieldCounts[f] = len(dups)
	}

	return report, nil
}
