package contracts

import (
	"testing"

	"github.com/fieldserve/importer/internal/importer"
)

// ==================================================================
// Registry Tests
// ==================================================================

var allEntities = []importer.EntityType{
	importer.EntityJobs,
	importer.EntityInvoices,
	importer.EntityEstimates,
	importer.EntityContracts,
	importer.EntityPurchaseOrders,
	importer.EntityCustomers,
	importer.EntityPricebook,
	importer.EntityMaterials,
	importer.EntityEquipment,
	importer.EntitySchedule,
	importer.EntityMaintenancePlans,
	importer.EntityServiceAgreements,
	importer.EntityServiceTickets,
}

func TestAllEntityTypesRegistered(t *testing.T) {
	for _, entity := range allEntities {
		c, ok := importer.ContractFor(entity)
		if !ok {
			t.Errorf("no contract for %s", entity)
			continue
		}
		if c.Label == "" {
			t.Errorf("%s: empty label", entity)
		}
		if len(c.Fields) == 0 {
			t.Errorf("%s: no fields", entity)
		}
	}

	if got := len(importer.Contracts()); got < len(allEntities) {
		t.Errorf("registered contracts = %d, want at least %d", got, len(allEntities))
	}
}

func TestNaturalKeysAreRequiredFields(t *testing.T) {
	// RegisterContract enforces this at init; the test documents it against
	// future contract edits.
	for _, entity := range allEntities {
		c, _ := importer.ContractFor(entity)
		if c == nil {
			continue
		}
		if len(c.NaturalKey) == 0 {
			t.Errorf("%s: no natural key", entity)
		}
		for _, name := range c.NaturalKey {
			spec, ok := c.Field(name)
			if !ok {
				t.Errorf("%s: natural key field %q not declared", entity, name)
				continue
			}
			if !spec.Required {
				t.Errorf("%s: natural key field %q is optional", entity, name)
			}
		}
	}
}

func TestReferencesTargetRegisteredEntities(t *testing.T) {
	for _, entity := range allEntities {
		c, _ := importer.ContractFor(entity)
		if c == nil {
			continue
		}
		for _, ref := range c.References {
			if _, ok := importer.ContractFor(ref.Entity); !ok {
				t.Errorf("%s: reference %q targets unregistered entity %s",
					entity, ref.Field, ref.Entity)
			}
		}
	}
}

func TestScheduleHasCompositeKey(t *testing.T) {
	c, ok := importer.ContractFor(importer.EntitySchedule)
	if !ok {
		t.Fatal("schedule contract missing")
	}
	if len(c.NaturalKey) != 2 {
		t.Fatalf("schedule natural key = %v, want composite of 2 fields", c.NaturalKey)
	}
}

func TestFieldExamplesPresent(t *testing.T) {
	// Template generation renders an example row; every field needs one.
	for _, entity := range allEntities {
		c, _ := importer.ContractFor(entity)
		if c == nil {
			continue
		}
		for _, f := range c.Fields {
			if f.Example == "" {
				t.Errorf("%s: field %q has no example", entity, f.Name)
			}
		}
	}
}

func TestEnumFieldsDeclareValues(t *testing.T) {
	for _, entity := range allEntities {
		c, _ := importer.ContractFor(entity)
		if c == nil {
			continue
		}
		for _, f := range c.Fields {
			if f.Type == importer.FieldEnum && len(f.EnumValues) == 0 {
				t.Errorf("%s: enum field %q has no values", entity, f.Name)
			}
		}
	}
}

func TestInvoiceCrossFieldRules(t *testing.T) {
	c, ok := importer.ContractFor(importer.EntityInvoices)
	if !ok {
		t.Fatal("invoices contract missing")
	}
	if len(c.CrossRules) == 0 {
		t.Fatal("invoices contract has no cross-field rules")
	}
	for _, rule := range c.CrossRules {
		for _, name := range rule.Fields {
			if _, ok := c.Field(name); !ok {
				t.Errorf("rule %q references unknown field %q", rule.Name, name)
			}
		}
	}
}
