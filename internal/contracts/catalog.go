package contracts

import "github.com/fieldserve/importer/internal/importer"

func registerCatalog() {
	importer.RegisterContract(&importer.Contract{
		Entity: importer.EntityPricebook,
		Label:  "Pricebook",
		Fields: []importer.FieldSpec{
			{Name: "item_code", Type: importer.FieldText, Required: true, Aliases: []string{"sku", "code", "item #"}, Example: "SVC-DIAG"},
			{Name: "name", Type: importer.FieldText, Required: true, Aliases: []string{"item name", "service name"}, Example: "Diagnostic visit"},
			{Name: "category", Type: importer.FieldText, Example: "Service"},
			{Name: "description", Type: importer.FieldText, Example: "On-site diagnostic, first hour"},
			{Name: "unit_price", Type: importer.FieldNumeric, Required: true, Min: dec("0"), Aliases: []string{"price", "rate"}, Example: "129.00"},
			{Name: "unit_cost", Type: importer.FieldNumeric, Min: dec("0"), Aliases: []string{"cost"}, Example: "0.00"},
			{Name: "taxable", Type: importer.FieldBool, Aliases: []string{"is taxable"}, Example: "yes"},
			{Name: "active", Type: importer.FieldBool, Aliases: []string{"is active", "enabled"}, Example: "yes"},
		},
		NaturalKey: []string{"item_code"},
	})

	importer.RegisterContract(&importer.Contract{
		Entity: importer.EntityMaterials,
		Label:  "Materials",
		Fields: []importer.FieldSpec{
			{Name: "material_code", Type: importer.FieldText, Required: true, Aliases: []string{"part number", "part #", "sku"}, Example: "CAP-45-5"},
			{Name: "name", Type: importer.FieldText, Required: true, Aliases: []string{"material name", "part name"}, Example: "Run capacitor 45/5 uF"},
			{Name: "category", Type: importer.FieldText, Example: "Electrical"},
			{Name: "unit", Type: importer.FieldText, Aliases: []string{"uom", "unit of measure"}, Example: "each"},
			{Name: "unit_cost", Type: importer.FieldNumeric, Min: dec("0"), Aliases: []string{"cost"}, Example: "14.20"},
			{Name: "unit_price", Type: importer.FieldNumeric, Min: dec("0"), Aliases: []string{"price"}, Example: "42.00"},
			{Name: "quantity_on_hand", Type: importer.FieldNumeric, Min: dec("0"), Aliases: []string{"qty", "stock", "on hand"}, Example: "18"},
			{Name: "supplier", Type: importer.FieldText, Aliases: []string{"vendor"}, Example: "Grainger"},
		},
		NaturalKey: []string{"material_code"},
	})

	importer.RegisterContract(&importer.Contract{
		Entity: importer.EntityPurchaseOrders,
		Label:  "Purchase Orders",
		Fields: []importer.FieldSpec{
			{Name: "po_number", Type: importer.FieldText, Required: true, Aliases: []string{"po #", "purchase order", "purchase order number"}, Example: "PO-7781"},
			{Name: "supplier", Type: importer.FieldText, Required: true, Aliases: []string{"vendor"}, Example: "Grainger"},
			{Name: "status", Type: importer.FieldEnum, EnumValues: []string{"draft", "ordered", "partial", "received", "cancelled"}, Example: "ordered"},
			{Name: "order_date", Type: importer.FieldDate, Required: true, Aliases: []string{"date", "ordered on"}, Example: "2024-03-12"},
			{Name: "expected_date", Type: importer.FieldDate, Aliases: []string{"eta", "expected"}, Example: "2024-03-19"},
			{Name: "total_amount", Type: importer.FieldNumeric, Min: dec("0"), Aliases: []string{"total", "amount"}, Example: "312.40"},
			{Name: "job_number", Type: importer.FieldText, Aliases: []string{"job #", "job no"}, Example: "JOB-5120"},
		},
		NaturalKey: []string{"po_number"},
		CrossRules: []importer.CrossFieldRule{
			dateOrder("expected_after_order", "order_date", "expected_date", "expected_date must be on or after order_date"),
		},
	})

	importer.RegisterContract(&importer.Contract{
		Entity: importer.EntityEquipment,
		Label:  "Equipment",
		Fields: []importer.FieldSpec{
			{Name: "serial_number", Type: importer.FieldText, Required: true, Aliases: []string{"serial", "serial #"}, Example: "4T1B11HK5KU2"},
			{Name: "customer_email", Type: importer.FieldText, Required: true, Aliases: []string{"customer", "customer e-mail"}, Example: "ada@example.com"},
			{Name: "name", Type: importer.FieldText, Required: true, Aliases: []string{"equipment name", "unit"}, Example: "Rooftop unit 1"},
			{Name: "manufacturer", Type: importer.FieldText, Aliases: []string{"make", "brand"}, Example: "Trane"},
			{Name: "model_number", Type: importer.FieldText, Aliases: []string{"model", "model #"}, Example: "4TTR4036L1"},
			{Name: "install_date", Type: importer.FieldDate, Aliases: []string{"installed"}, Example: "2019-06-30"},
			{Name: "warranty_expiry", Type: importer.FieldDate, Aliases: []string{"warranty end", "warranty expiration"}, Example: "2029-06-30"},
			{Name: "location", Type: importer.FieldText, Example: "Roof, NE corner"},
		},
		NaturalKey: []string{"serial_number"},
		CrossRules: []importer.CrossFieldRule{
			dateOrder("warranty_after_install", "install_date", "warranty_expiry", "warranty_expiry must be on or after install_date"),
		},
		References: []importer.ReferentialCheck{
			{Field: "customer_email", Entity: importer.EntityCustomers},
		},
	})
}
