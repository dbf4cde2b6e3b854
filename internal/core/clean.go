package core

// clean.go applies field mapping and cleaning rules to source rows.
//
// Cleaning copes with the usual spreadsheet-export mess: mixed date formats
// (with a 2-digit-year pivot), currency symbols and thousands separators,
// accounting-style negatives, and the many spellings of true/false. Every
// value is canonicalized to a stable string form so that validate and execute
// produce byte-identical transforms for identical input.

import (
	"regexp"
	"strings"
	"time"

	"github.com/kalstad/migrate/internal/catalog"
)

// numericPattern matches integers, decimals, and scientific notation after
// cleanup.
var numericPattern = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// twoDigitYearPivot: parsed 2-digit years more than this many years in the
// future are pushed back a century.
var twoDigitYearPivot = 20

var (
	twoDigitYearLayouts = []string{
		"1/2/06", "01/02/06", "1-2-06", "1.2.06", "01.02.06",
	}
	fourDigitYearLayouts = []string{
		"2006-01-02", "2006/01/02", "2006.01.02",
		"1/2/2006", "01/02/2006", "1-2-2006", "01-02-2006", "1.2.2006", "01.02.2006",
		"Jan 2, 2006", "2 Jan 2006",
		"20060102",
	}
)

// canonDate parses s in any accepted layout and returns the ISO form.
func canonDate(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}

	for _, layout := range fourDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), true
		}
	}

	pivot := time.Now().Year() + twoDigitYearPivot
	for _, layout := range twoDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Year() > pivot {
				t = t.AddDate(-100, 0, 0)
			}
			return t.Format("2006-01-02"), true
		}
	}

	return "", false
}

// canonNumber strips currency symbols, thousands separators, and accounting
// parentheses, returning a plain decimal string.
func canonNumber(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	for _, sym := range []string{"$", "€", "£", "kr", ","} {
		s = strings.ReplaceAll(s, sym, "")
	}
	s = strings.TrimSpace(s)

	if negative {
		s = "-" + s
	}

	if !numericPattern.MatchString(s) {
		return "", false
	}
	return s, true
}

// canonBool accepts true/false, yes/no, t/f, y/n, 1/0 in any case.
func canonBool(s string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "t", "yes", "y", "1":
		return "true", true
	case "false", "f", "no", "n", "0":
		return "false", true
	}
	return "", false
}

// normalizeEnum matches s case-insensitively against the allowed values and
// returns the canonical spelling.
func normalizeEnum(s string, allowed []string) (string, bool) {
	for _, v := range allowed {
		if strings.EqualFold(v, strings.TrimSpace(s)) {
			return v, true
		}
	}
	return "", false
}

// validValue reports whether a cleaned value satisfies the field's declared
// type. Empty values are always acceptable here; required-ness is checked
// separately.
func validValue(value string, field catalog.FieldSchema) bool {
	if value == "" {
		return true
	}
	switch field.Type {
	case catalog.FieldNumber:
		_, ok := canonNumber(value)
		return ok
	case catalog.FieldDate:
		_, ok := canonDate(value)
		return ok
	case catalog.FieldBoolean:
		_, ok := canonBool(value)
		return ok
	case catalog.FieldEnum:
		if len(field.EnumValues) == 0 {
			return true
		}
		_, ok := normalizeEnum(value, field.EnumValues)
		return ok
	}
	return true
}

// applyRule runs the fixed cleaning order on one raw value:
// trim, cast, enum normalization, default-if-empty.
// Cast and enum normalization leave the value untouched when it does not
// parse; validation reports those as type errors.
func applyRule(raw string, field catalog.FieldSchema, rule CleaningRule) string {
	v := raw

	if rule.Trim {
		v = strings.TrimSpace(v)
	}

	if rule.Cast && v != "" {
		switch field.Type {
		case catalog.FieldDate:
			if c, ok := canonDate(v); ok {
				v = c
			}
		case catalog.FieldNumber:
			if c, ok := canonNumber(v); ok {
				v = c
			}
		case catalog.FieldBoolean:
			if c, ok := canonBool(v); ok {
				v = c
			}
		}
	}

	if rule.NormalizeEnum && v != "" && field.Type == catalog.FieldEnum {
		if c, ok := normalizeEnum(v, field.EnumValues); ok {
			v = c
		}
	}

	if v == "" {
		if rule.Default != "" {
			v = rule.Default
		} else if field.Default != "" {
			v = field.Default
		}
	}

	return v
}

// transformer applies a job's saved mapping and cleaning rules to rows.
// Built once per validate/execute pass so both see the same configuration.
type transformer struct {
	schema   catalog.EntitySchema
	colIdx   map[string]int    // source column -> position
	fieldCol map[string]string // target field -> source column
	rules    map[string]CleaningRule
}

func newTransformer(schema catalog.EntitySchema, columns []string, mapping map[string]string, rules map[string]CleaningRule) *transformer {
	t := &transformer{
		schema:   schema,
		colIdx:   make(map[string]int, len(columns)),
		fieldCol: make(map[string]string, len(mapping)),
		rules:    rules,
	}
	for i, col := range columns {
		t.colIdx[strings.ToLower(col)] = i
	}

	// Resolve the mapping by scanning columns in file order, so two columns
	// mapped to the same field always resolve to the earlier column and every
	// pass over the same configuration produces the same transform.
	byCol := make(map[string]string, len(mapping))
	for col, field := range mapping {
		byCol[strings.ToLower(col)] = field
	}
	for _, col := range columns {
		lc := strings.ToLower(col)
		field, ok := byCol[lc]
		if !ok {
			continue
		}
		if _, taken := t.fieldCol[field]; !taken {
			t.fieldCol[field] = lc
		}
	}
	return t
}

// rule returns the cleaning rule for a field, falling back to the default.
func (t *transformer) rule(field string) CleaningRule {
	if r, ok := t.rules[field]; ok {
		return r
	}
	return DefaultCleaningRule()
}

// transform maps and cleans one source row into target-field values.
// Unmapped fields appear only when a default fills them.
func (t *transformer) transform(row []string) map[string]string {
	out := make(map[string]string, len(t.schema.Fields))

	for _, field := range t.schema.Fields {
		raw := ""
		if col, ok := t.fieldCol[field.Name]; ok {
			if pos, ok := t.colIdx[col]; ok && pos < len(row) {
				raw = row[pos]
			}
		}

		v := applyRule(raw, field, t.rule(field.Name))
		if v == "" && raw == "" {
			// Nothing mapped, nothing defaulted: leave the field out.
			if _, mapped := t.fieldCol[field.Name]; !mapped {
				continue
			}
		}
		out[field.Name] = v
	}

	return out
}

// sourceMap converts a raw row into a column-keyed map for record storage.
func (t *transformer) sourceMap(columns []string, row []string) map[string]string {
	out := make(map[string]string, len(columns))
	for i, col := range columns {
		if i < len(row) {
			out[col] = row[i]
		}
	}
	return out
}

// uniqueKey extracts the dedup-key values from a transformed row.
// Returns false when any key field is empty.
func uniqueKey(transformed map[string]string, fields []string) (map[string]string, bool) {
	key := make(map[string]string, len(fields))
	for _, f := range fields {
		v := transformed[f]
		if v == "" {
			return nil, false
		}
		key[f] = v
	}
	return key, len(key) > 0
}
