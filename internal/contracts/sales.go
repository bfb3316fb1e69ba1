package contracts

import "github.com/fieldserve/importer/internal/importer"

func registerSales() {
	importer.RegisterContract(&importer.Contract{
		Entity: importer.EntityCustomers,
		Label:  "Customers",
		Fields: []importer.FieldSpec{
			{Name: "first_name", Type: importer.FieldText, Required: true, Aliases: []string{"firstname", "given name"}, Example: "Ada"},
			{Name: "last_name", Type: importer.FieldText, Required: true, Aliases: []string{"lastname", "surname", "family name"}, Example: "Lovelace"},
			{Name: "email", Type: importer.FieldText, Required: true, Aliases: []string{"e-mail", "email address"}, Example: "ada@example.com"},
			{Name: "company_name", Type: importer.FieldText, Aliases: []string{"company", "business name"}, Example: "Lovelace Analytical"},
			{Name: "phone", Type: importer.FieldText, Aliases: []string{"phone number", "telephone"}, Example: "555-0142"},
			{Name: "address", Type: importer.FieldText, Aliases: []string{"street", "street address"}, Example: "12 Byron Rd"},
			{Name: "city", Type: importer.FieldText, Example: "London"},
			{Name: "state", Type: importer.FieldText, Aliases: []string{"province", "region"}, Example: "TX"},
			{Name: "zip_code", Type: importer.FieldText, Aliases: []string{"zip", "postal code", "postcode"}, Example: "73301"},
			{Name: "type", Type: importer.FieldEnum, EnumValues: []string{"residential", "commercial"}, Aliases: []string{"customer type"}, Example: "residential"},
			{Name: "status", Type: importer.FieldEnum, EnumValues: []string{"active", "inactive", "lead"}, Example: "active"},
			{Name: "notes", Type: importer.FieldText, Example: "Gate code 4412"},
		},
		NaturalKey: []string{"email"},
	})

	importer.RegisterContract(&importer.Contract{
		Entity: importer.EntityInvoices,
		Label:  "Invoices",
		Fields: []importer.FieldSpec{
			{Name: "invoice_number", Type: importer.FieldText, Required: true, Aliases: []string{"invoice #", "invoice no", "number"}, Example: "INV-1042"},
			{Name: "customer_email", Type: importer.FieldText, Required: true, Aliases: []string{"customer", "customer e-mail", "bill to email"}, Example: "ada@example.com"},
			{Name: "title", Type: importer.FieldText, Aliases: []string{"description", "subject"}, Example: "Spring maintenance"},
			{Name: "status", Type: importer.FieldEnum, EnumValues: []string{"draft", "sent", "partial", "paid", "overdue", "void"}, Example: "sent"},
			{Name: "issue_date", Type: importer.FieldDate, Aliases: []string{"invoice date", "date"}, Example: "2024-03-01"},
			{Name: "due_date", Type: importer.FieldDate, Aliases: []string{"due"}, Example: "2024-03-31"},
			{Name: "subtotal", Type: importer.FieldNumeric, Min: dec("0"), Example: "450.00"},
			{Name: "tax_amount", Type: importer.FieldNumeric, Min: dec("0"), Aliases: []string{"tax"}, Example: "37.13"},
			{Name: "discount_amount", Type: importer.FieldNumeric, Min: dec("0"), Aliases: []string{"discount"}, Example: "0.00"},
			{Name: "total_amount", Type: importer.FieldNumeric, Required: true, Min: dec("0"), Aliases: []string{"total", "amount"}, Example: "487.13"},
			{Name: "amount_paid", Type: importer.FieldNumeric, Min: dec("0"), Aliases: []string{"paid"}, Example: "0.00"},
		},
		NaturalKey: []string{"invoice_number"},
		CrossRules: []importer.CrossFieldRule{
			dateOrder("due_after_issue", "issue_date", "due_date", "due_date must be on or after issue_date"),
			{
				Name:   "paid_within_total",
				Fields: []string{"amount_paid", "total_amount"},
				Check: func(fields map[string]importer.Value) string {
					paid, total := fields["amount_paid"], fields["total_amount"]
					if paid.Valid && total.Valid && paid.Number.GreaterThan(total.Number) {
						return "amount_paid cannot exceed total_amount"
					}
					return ""
				},
			},
		},
		References: []importer.ReferentialCheck{
			{Field: "customer_email", Entity: importer.EntityCustomers},
		},
	})

	importer.RegisterContract(&importer.Contract{
		Entity: importer.EntityEstimates,
		Label:  "Estimates",
		Fields: []importer.FieldSpec{
			{Name: "estimate_number", Type: importer.FieldText, Required: true, Aliases: []string{"estimate #", "quote number", "quote #"}, Example: "EST-2001"},
			{Name: "customer_email", Type: importer.FieldText, Required: true, Aliases: []string{"customer", "customer e-mail"}, Example: "ada@example.com"},
			{Name: "title", Type: importer.FieldText, Aliases: []string{"description"}, Example: "Panel upgrade"},
			{Name: "status", Type: importer.FieldEnum, EnumValues: []string{"draft", "sent", "approved", "declined", "expired"}, Example: "sent"},
			{Name: "issue_date", Type: importer.FieldDate, Aliases: []string{"estimate date", "date"}, Example: "2024-02-10"},
			{Name: "expiry_date", Type: importer.FieldDate, Aliases: []string{"expires", "valid until"}, Example: "2024-03-10"},
			{Name: "total_amount", Type: importer.FieldNumeric, Required: true, Min: dec("0"), Aliases: []string{"total", "amount"}, Example: "2150.00"},
		},
		NaturalKey: []string{"estimate_number"},
		CrossRules: []importer.CrossFieldRule{
			dateOrder("expiry_after_issue", "issue_date", "expiry_date", "expiry_date must be on or after issue_date"),
		},
		References: []importer.ReferentialCheck{
			{Field: "customer_email", Entity: importer.EntityCustomers},
		},
	})

	importer.RegisterContract(&importer.Contract{
		Entity: importer.EntityContracts,
		Label:  "Contracts",
		Fields: []importer.FieldSpec{
			{Name: "contract_number", Type: importer.FieldText, Required: true, Aliases: []string{"contract #", "contract no"}, Example: "CTR-310"},
			{Name: "customer_email", Type: importer.FieldText, Required: true, Aliases: []string{"customer", "customer e-mail"}, Example: "ada@example.com"},
			{Name: "title", Type: importer.FieldText, Example: "Annual HVAC service"},
			{Name: "status", Type: importer.FieldEnum, EnumValues: []string{"draft", "active", "expired", "terminated"}, Example: "active"},
			{Name: "start_date", Type: importer.FieldDate, Required: true, Aliases: []string{"effective date"}, Example: "2024-01-01"},
			{Name: "end_date", Type: importer.FieldDate, Aliases: []string{"expiration date"}, Example: "2024-12-31"},
			{Name: "contract_value", Type: importer.FieldNumeric, Min: dec("0"), Aliases: []string{"value", "amount"}, Example: "5400.00"},
			{Name: "auto_renew", Type: importer.FieldBool, Aliases: []string{"renews", "auto renewal"}, Example: "yes"},
		},
		NaturalKey: []string{"contract_number"},
		CrossRules: []importer.CrossFieldRule{
			dateOrder("end_after_start", "start_date", "end_date", "end_date must be on or after start_date"),
		},
		References: []importer.ReferentialCheck{
			{Field: "customer_email", Entity: importer.EntityCustomers},
		},
	})
}
