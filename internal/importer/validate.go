package importer

// validate.go is the row-level Validation Engine.
//
// ValidateRow is a pure function of the row, the mapping, the contract, and
// the supplied reference snapshot, so dry run and commit reach identical
// verdicts for the same inputs. Per-field evaluation order: type coercion,
// required presence, domain rules (enum membership, numeric range). The
// first failing rule short-circuits that field, but every field is still
// evaluated independently, so one row can carry several field errors. After
// the per-field pass come cross-field rules and referential checks.

import (
	"errors"
	"fmt"
	"strings"
)

// RefLookup is a snapshot of reference data visible to validation:
// which natural keys already exist per entity type for this company.
type RefLookup interface {
	Exists(entity EntityType, naturalKey string) bool
}

// NoRefs is a RefLookup with no existing records.
var NoRefs RefLookup = emptyRefs{}

type emptyRefs struct{}

func (emptyRefs) Exists(EntityType, string) bool { return false }

// MapRefs is a map-backed RefLookup keyed by entity type.
type MapRefs map[EntityType]map[string]struct{}

func (m MapRefs) Exists(entity EntityType, key string) bool {
	_, ok := m[entity][key]
	return ok
}

// Add records a known natural key for an entity type.
func (m MapRefs) Add(entity EntityType, key string) {
	if m[entity] == nil {
		m[entity] = make(map[string]struct{})
	}
	m[entity][key] = struct{}{}
}

// ValidateRow produces the verdict for one row. Rejection reasons and
// warnings carry the row index so they can be appended to the job record
// directly.
func ValidateRow(row Row, m Mapping, c *Contract, refs RefLookup) RowVerdict {
	verdict := RowVerdict{
		Index:  row.Index,
		Fields: make(map[string]Value, len(c.Fields)),
	}

	mapped := m.Apply(row.Cells)

	reject := func(field, code, msg string) {
		verdict.Errors = append(verdict.Errors, RowError{
			RowIndex: row.Index, Field: field, Code: code, Message: msg,
		})
	}
	warn := func(field, code, msg string) {
		verdict.Warnings = append(verdict.Warnings, RowError{
			RowIndex: row.Index, Field: field, Code: code, Message: msg,
		})
	}

	for _, spec := range c.Fields {
		raw, present := mapped[spec.Name]

		v, err := Coerce(raw, spec)
		if err != nil {
			if spec.Required {
				reject(spec.Name, coercionCode(spec, err), err.Error())
			} else {
				// Bad data in an optional field drops the value but keeps
				// the row.
				warn(spec.Name, coercionCode(spec, err), err.Error())
				v = Value{Raw: CleanCell(raw), Kind: spec.Type}
			}
			verdict.Fields[spec.Name] = v
			continue
		}

		if spec.Required && (!present || !v.Valid) {
			reject(spec.Name, CodeRequiredMissing, fmt.Sprintf("required field %q is empty", spec.Name))
		}
		verdict.Fields[spec.Name] = v
	}

	// Cross-field rules run only when every involved field coerced cleanly;
	// a field already in error would just produce noise.
	for _, rule := range c.CrossRules {
		if !fieldsClean(verdict, rule.Fields) {
			continue
		}
		if msg := rule.Check(verdict.Fields); msg != "" {
			reject("", CodeCrossField, msg)
		}
	}

	for _, ref := range c.References {
		v := verdict.Fields[ref.Field]
		if !v.Valid {
			continue
		}
		key := normalizeKeyPart(v.Raw)
		if !refs.Exists(ref.Entity, key) {
			reject(ref.Field, CodeReference,
				fmt.Sprintf("%s %q does not exist for this company", ref.Entity, v.Raw))
		}
	}

	switch {
	case len(verdict.Errors) > 0:
		verdict.Kind = VerdictRejected
	case len(verdict.Warnings) > 0:
		verdict.Kind = VerdictAcceptedWithWarnings
	default:
		verdict.Kind = VerdictAccepted
	}

	if verdict.Accepted() {
		verdict.NaturalKey = c.NaturalKeyFor(verdict.Fields)
	}

	return verdict
}

// ExportPayload converts a verdict's coerced fields to the JSON document
// persisted for the row. Invalid (empty) values are omitted.
func ExportPayload(v RowVerdict) map[string]any {
	payload := make(map[string]any, len(v.Fields))
	for name, val := range v.Fields {
		if exported := val.Export(); exported != nil {
			payload[name] = exported
		}
	}
	return payload
}

func coercionCode(spec FieldSpec, err error) string {
	switch {
	case spec.Type == FieldEnum:
		return CodeEnumValue
	case errors.Is(err, errOutOfRange):
		return CodeRange
	default:
		return CodeTypeCoercion
	}
}

func fieldsClean(v RowVerdict, names []string) bool {
	for _, e := range v.Errors {
		for _, n := range names {
			if e.Field == n {
				return false
			}
		}
	}
	for _, n := range names {
		if !v.Fields[n].Valid {
			return false
		}
	}
	return true
}

// normalizeKeyPart matches Contract.NaturalKeyFor's per-part normalization
// so referential lookups agree with stored natural keys.
func normalizeKeyPart(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
