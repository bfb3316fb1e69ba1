package importer

// contract.go defines the entity field contract: the per-entity-type
// description of fields, types, natural key, and referential rules that the
// Validation Engine consumes. Contracts are data, not behavior: an entity
// type supplies field lists rather than overriding pipeline logic.

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// FieldType is the expected data type of a target field.
type FieldType int

const (
	FieldText FieldType = iota
	FieldEnum
	FieldDate
	FieldNumeric
	FieldBool
)

func (t FieldType) String() string {
	switch t {
	case FieldEnum:
		return "enum"
	case FieldDate:
		return "date"
	case FieldNumeric:
		return "numeric"
	case FieldBool:
		return "bool"
	default:
		return "text"
	}
}

// FieldSpec defines one target field and its per-field rules.
type FieldSpec struct {
	Name       string
	Type       FieldType
	Required   bool
	EnumValues []string // valid values for FieldEnum, matched case-insensitively
	Aliases    []string // alternate header names accepted by mapping suggestion
	Min, Max   *decimal.Decimal
	Example    string // sample value for template generation
}

// CrossFieldRule checks a relationship between coerced fields of one row.
// Check must be a pure function of its input; it returns a message when the
// rule is violated.
type CrossFieldRule struct {
	Name   string
	Fields []string
	Check  func(fields map[string]Value) string
}

// ReferentialCheck declares that a field's value must match the natural key
// of an existing record of another entity type within the same company.
type ReferentialCheck struct {
	Field  string
	Entity EntityType
}

// Contract is the full field contract for one entity type.
type Contract struct {
	Entity     EntityType
	Label      string
	Fields     []FieldSpec
	NaturalKey []string // field names forming the duplicate-detection key
	CrossRules []CrossFieldRule
	References []ReferentialCheck
}

// Field returns the spec for a field name, if declared.
func (c *Contract) Field(name string) (FieldSpec, bool) {
	for _, f := range c.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// RequiredFields returns the names of all required fields in declaration order.
func (c *Contract) RequiredFields() []string {
	var out []string
	for _, f := range c.Fields {
		if f.Required {
			out = append(out, f.Name)
		}
	}
	return out
}

// OptionalFields returns the names of all optional fields in declaration order.
func (c *Contract) OptionalFields() []string {
	var out []string
	for _, f := range c.Fields {
		if !f.Required {
			out = append(out, f.Name)
		}
	}
	return out
}

// NaturalKeyFor builds the normalized duplicate-detection key from coerced
// field values. Components are trimmed, casefolded, and joined with an
// unprintable separator so composite keys cannot collide.
func (c *Contract) NaturalKeyFor(fields map[string]Value) string {
	parts := make([]string, len(c.NaturalKey))
	for i, name := range c.NaturalKey {
		v := fields[name]
		parts[i] = strings.ToLower(strings.TrimSpace(v.Raw))
	}
	return strings.Join(parts, "\x1f")
}

var (
	contractRegistry   = make(map[EntityType]*Contract)
	contractRegistryMu sync.RWMutex
)

// RegisterContract adds an entity contract to the registry.
// Panics if the entity type is already registered or the contract is
// internally inconsistent (natural key or cross rules referencing fields
// the contract does not declare, or an optional natural-key field).
func RegisterContract(c *Contract) {
	contractRegistryMu.Lock()
	defer contractRegistryMu.Unlock()

	if _, exists := contractRegistry[c.Entity]; exists {
		panic(fmt.Sprintf("contract already registered: %s", c.Entity))
	}
	if len(c.NaturalKey) == 0 {
		panic(fmt.Sprintf("contract %s has no natural key", c.Entity))
	}
	for _, name := range c.NaturalKey {
		spec, ok := c.Field(name)
		if !ok {
			panic(fmt.Sprintf("contract %s: natural key field %q not declared", c.Entity, name))
		}
		if !spec.Required {
			panic(fmt.Sprintf("contract %s: natural key field %q must be required", c.Entity, name))
		}
	}
	for _, rule := range c.CrossRules {
		for _, name := range rule.Fields {
			if _, ok := c.Field(name); !ok {
				panic(fmt.Sprintf("contract %s: rule %q references unknown field %q", c.Entity, rule.Name, name))
			}
		}
	}
	for _, ref := range c.References {
		if _, ok := c.Field(ref.Field); !ok {
			panic(fmt.Sprintf("contract %s: referential check on unknown field %q", c.Entity, ref.Field))
		}
	}

	contractRegistry[c.Entity] = c
}

// ContractFor returns the registered contract for an entity type.
func ContractFor(entity EntityType) (*Contract, bool) {
	contractRegistryMu.RLock()
	defer contractRegistryMu.RUnlock()

	c, ok := contractRegistry[entity]
	return c, ok
}

// Contracts returns all registered contracts sorted by entity type.
func Contracts() []*Contract {
	contractRegistryMu.RLock()
	defer contractRegistryMu.RUnlock()

	out := make([]*Contract, 0, len(contractRegistry))
	for _, c := range contractRegistry {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Entity < out[j].Entity })
	return out
}

// ClearContracts removes all registered contracts. Primarily for tests.
func ClearContracts() {
	contractRegistryMu.Lock()
	defer contractRegistryMu.Unlock()
	contractRegistry = make(map[EntityType]*Contract)
}
