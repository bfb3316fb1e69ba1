package contracts

import "github.com/fieldserve/importer/internal/importer"

func registerAgreements() {
	importer.RegisterContract(&importer.Contract{
		Entity: importer.EntityMaintenancePlans,
		Label:  "Maintenance Plans",
		Fields: []importer.FieldSpec{
			{Name: "plan_code", Type: importer.FieldText, Required: true, Aliases: []string{"plan", "plan id", "code"}, Example: "GOLD-HVAC"},
			{Name: "name", Type: importer.FieldText, Required: true, Aliases: []string{"plan name"}, Example: "Gold HVAC plan"},
			{Name: "description", Type: importer.FieldText, Example: "Two visits per year plus priority dispatch"},
			{Name: "billing_frequency", Type: importer.FieldEnum, EnumValues: []string{"monthly", "quarterly", "annual"}, Aliases: []string{"frequency", "billing"}, Example: "monthly"},
			{Name: "price", Type: importer.FieldNumeric, Required: true, Min: dec("0"), Aliases: []string{"amount", "rate"}, Example: "29.00"},
			{Name: "visits_per_year", Type: importer.FieldNumeric, Min: dec("0"), Max: dec("52"), Aliases: []string{"visits"}, Example: "2"},
			{Name: "active", Type: importer.FieldBool, Aliases: []string{"is active"}, Example: "yes"},
		},
		NaturalKey: []string{"plan_code"},
	})

	importer.RegisterContract(&importer.Contract{
		Entity: importer.EntityServiceAgreements,
		Label:  "Service Agreements",
		Fields: []importer.FieldSpec{
			{Name: "agreement_number", Type: importer.FieldText, Required: true, Aliases: []string{"agreement #", "agreement no"}, Example: "AGR-118"},
			{Name: "customer_email", Type: importer.FieldText, Required: true, Aliases: []string{"customer", "customer e-mail"}, Example: "ada@example.com"},
			{Name: "plan_code", Type: importer.FieldText, Aliases: []string{"plan"}, Example: "GOLD-HVAC"},
			{Name: "status", Type: importer.FieldEnum, EnumValues: []string{"pending", "active", "paused", "cancelled", "expired"}, Example: "active"},
			{Name: "start_date", Type: importer.FieldDate, Required: true, Aliases: []string{"effective date"}, Example: "2024-01-01"},
			{Name: "end_date", Type: importer.FieldDate, Aliases: []string{"expiration date"}, Example: "2024-12-31"},
			{Name: "billing_amount", Type: importer.FieldNumeric, Min: dec("0"), Aliases: []string{"amount", "price"}, Example: "29.00"},
		},
		NaturalKey: []string{"agreement_number"},
		CrossRules: []importer.CrossFieldRule{
			dateOrder("end_after_start", "start_date", "end_date", "end_date must be on or after start_date"),
		},
		References: []importer.ReferentialCheck{
			{Field: "customer_email", Entity: importer.EntityCustomers},
			{Field: "plan_code", Entity: importer.EntityMaintenancePlans},
		},
	})
}
