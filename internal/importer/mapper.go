package importer

// mapper.go resolves spreadsheet columns onto target fields.
//
// SuggestMapping is best-effort and never fails: exact header match first,
// then case-insensitive, then the contract's alias table. ValidateMapping is
// strict: a mapping is rejected when a required field has no source column,
// when one source column feeds two targets, or when it names a field the
// contract does not declare. Unmapped optional fields are allowed and left
// empty; a mapping is never silently partial.

import (
	"fmt"
	"strings"
)

// SuggestMapping proposes a mapping from a file's header row to the
// contract's fields. Columns with no plausible target are omitted.
func SuggestMapping(header []string, c *Contract) Mapping {
	used := make(map[string]bool, len(c.Fields))
	var out Mapping

	match := func(col string) (string, bool) {
		cleaned := CleanCell(col)

		// Pass 1: exact name.
		for _, f := range c.Fields {
			if !used[f.Name] && f.Name == cleaned {
				return f.Name, true
			}
		}
		// Pass 2: case-insensitive, tolerating space/underscore variants.
		norm := normalizeHeader(cleaned)
		for _, f := range c.Fields {
			if !used[f.Name] && normalizeHeader(f.Name) == norm {
				return f.Name, true
			}
		}
		// Pass 3: alias table.
		for _, f := range c.Fields {
			if used[f.Name] {
				continue
			}
			for _, alias := range f.Aliases {
				if normalizeHeader(alias) == norm {
					return f.Name, true
				}
			}
		}
		return "", false
	}

	for _, col := range header {
		if target, ok := match(col); ok {
			used[target] = true
			out = append(out, FieldMapping{Source: col, Target: target})
		}
	}
	return out
}

// ValidateMapping checks a mapping's structure against the contract.
// It returns all problems found, or nil if the mapping is usable.
func ValidateMapping(m Mapping, c *Contract) MappingErrors {
	var errs MappingErrors

	seenSource := make(map[string]bool, len(m))
	seenTarget := make(map[string]bool, len(m))

	for _, fm := range m {
		if seenSource[fm.Source] {
			errs = append(errs, MappingError{
				Source:  fm.Source,
				Code:    MapCodeDuplicateSource,
				Message: fmt.Sprintf("column %q is mapped to more than one field", fm.Source),
			})
		}
		seenSource[fm.Source] = true

		if seenTarget[fm.Target] {
			errs = append(errs, MappingError{
				Field:   fm.Target,
				Code:    MapCodeDuplicateTarget,
				Message: fmt.Sprintf("field %q receives more than one column", fm.Target),
			})
		}
		seenTarget[fm.Target] = true

		if _, ok := c.Field(fm.Target); !ok {
			errs = append(errs, MappingError{
				Field:   fm.Target,
				Source:  fm.Source,
				Code:    MapCodeUnknownTarget,
				Message: fmt.Sprintf("field %q is not part of the %s contract", fm.Target, c.Entity),
			})
		}
	}

	for _, name := range c.RequiredFields() {
		if !seenTarget[name] {
			errs = append(errs, MappingError{
				Field:   name,
				Code:    MapCodeRequiredUnmapped,
				Message: fmt.Sprintf("required field %q has no source column", name),
			})
		}
	}

	return errs
}

// normalizeHeader lowercases a header and collapses separators so that
// "Invoice Number", "invoice_number", and "invoice-number" all agree.
func normalizeHeader(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(" ", "", "_", "", "-", "", ".", "").Replace(s)
	return s
}
