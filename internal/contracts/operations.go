package contracts

import "github.com/fieldserve/importer/internal/importer"

func registerOperations() {
	importer.RegisterContract(&importer.Contract{
		Entity: importer.EntityJobs,
		Label:  "Jobs",
		Fields: []importer.FieldSpec{
			{Name: "job_number", Type: importer.FieldText, Required: true, Aliases: []string{"job #", "job no", "work order"}, Example: "JOB-5120"},
			{Name: "customer_email", Type: importer.FieldText, Required: true, Aliases: []string{"customer", "customer e-mail"}, Example: "ada@example.com"},
			{Name: "title", Type: importer.FieldText, Required: true, Aliases: []string{"job title", "description"}, Example: "Replace condenser fan"},
			{Name: "status", Type: importer.FieldEnum, EnumValues: []string{"quoted", "scheduled", "in_progress", "completed", "cancelled"}, Example: "scheduled"},
			{Name: "priority", Type: importer.FieldEnum, EnumValues: []string{"low", "normal", "high", "urgent"}, Example: "normal"},
			{Name: "scheduled_date", Type: importer.FieldDate, Aliases: []string{"start date"}, Example: "2024-04-02"},
			{Name: "completed_date", Type: importer.FieldDate, Aliases: []string{"finish date"}, Example: "2024-04-02"},
			{Name: "estimated_hours", Type: importer.FieldNumeric, Min: dec("0"), Max: dec("1000"), Aliases: []string{"hours"}, Example: "3.5"},
			{Name: "quoted_amount", Type: importer.FieldNumeric, Min: dec("0"), Aliases: []string{"quote", "amount"}, Example: "680.00"},
			{Name: "notes", Type: importer.FieldText, Example: "Roof access via east ladder"},
		},
		NaturalKey: []string{"job_number"},
		CrossRules: []importer.CrossFieldRule{
			dateOrder("completed_after_scheduled", "scheduled_date", "completed_date", "completed_date must be on or after scheduled_date"),
		},
		References: []importer.ReferentialCheck{
			{Field: "customer_email", Entity: importer.EntityCustomers},
		},
	})

	importer.RegisterContract(&importer.Contract{
		Entity: importer.EntitySchedule,
		Label:  "Schedule",
		Fields: []importer.FieldSpec{
			{Name: "job_number", Type: importer.FieldText, Required: true, Aliases: []string{"job #", "job no"}, Example: "JOB-5120"},
			{Name: "scheduled_date", Type: importer.FieldDate, Required: true, Aliases: []string{"date", "visit date"}, Example: "2024-04-02"},
			{Name: "technician_email", Type: importer.FieldText, Aliases: []string{"technician", "assigned to"}, Example: "tech@example.com"},
			{Name: "start_time", Type: importer.FieldText, Aliases: []string{"start"}, Example: "08:30"},
			{Name: "end_time", Type: importer.FieldText, Aliases: []string{"end"}, Example: "11:00"},
			{Name: "status", Type: importer.FieldEnum, EnumValues: []string{"tentative", "confirmed", "completed", "cancelled"}, Example: "confirmed"},
			{Name: "notes", Type: importer.FieldText, Example: "Customer prefers morning"},
		},
		// A job may have several visits on different days; one visit per
		// job per day.
		NaturalKey: []string{"job_number", "scheduled_date"},
		References: []importer.ReferentialCheck{
			{Field: "job_number", Entity: importer.EntityJobs},
		},
	})

	importer.RegisterContract(&importer.Contract{
		Entity: importer.EntityServiceTickets,
		Label:  "Service Tickets",
		Fields: []importer.FieldSpec{
			{Name: "ticket_number", Type: importer.FieldText, Required: true, Aliases: []string{"ticket #", "ticket no"}, Example: "TKT-910"},
			{Name: "customer_email", Type: importer.FieldText, Required: true, Aliases: []string{"customer", "customer e-mail"}, Example: "ada@example.com"},
			{Name: "subject", Type: importer.FieldText, Required: true, Aliases: []string{"title", "issue"}, Example: "No heat on second floor"},
			{Name: "status", Type: importer.FieldEnum, EnumValues: []string{"open", "in_progress", "on_hold", "resolved", "closed"}, Example: "open"},
			{Name: "priority", Type: importer.FieldEnum, EnumValues: []string{"low", "normal", "high", "urgent"}, Example: "high"},
			{Name: "opened_date", Type: importer.FieldDate, Aliases: []string{"created", "opened"}, Example: "2024-01-15"},
			{Name: "resolved_date", Type: importer.FieldDate, Aliases: []string{"resolved", "closed date"}, Example: "2024-01-16"},
			{Name: "description", Type: importer.FieldText, Example: "Thermostat reads 58F, setpoint 70F"},
		},
		NaturalKey: []string{"ticket_number"},
		CrossRules: []importer.CrossFieldRule{
			dateOrder("resolved_after_opened", "opened_date", "resolved_date", "resolved_date must be on or after opened_date"),
		},
		References: []importer.ReferentialCheck{
			{Field: "customer_email", Entity: importer.EntityCustomers},
		},
	})
}
