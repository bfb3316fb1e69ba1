// Package contracts registers the field contract for every importable
// entity type. Import this package for side effects to make the closed
// entity set available to the pipeline.
//
// Contracts are data: field lists with types and aliases, the natural key
// used for duplicate detection, cross-field rules, and referential checks.
// Field shapes mirror the product's record schemas; monetary amounts are
// numeric with two-decimal inputs, dates accept the common spreadsheet
// formats, and enum values match the product's status vocabularies.
package contracts

import (
	"github.com/shopspring/decimal"

	"github.com/fieldserve/importer/internal/importer"
)

func init() {
	registerSales()
	registerOperations()
	registerCatalog()
	registerAgreements()
}

// dec builds a range bound for a numeric field spec.
func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

// dateOrder returns a cross-field rule requiring first ≤ second when both
// dates are present.
func dateOrder(name, first, second, msg string) importer.CrossFieldRule {
	return importer.CrossFieldRule{
		Name:   name,
		Fields: []string{first, second},
		Check: func(fields map[string]importer.Value) string {
			a, b := fields[first], fields[second]
			if a.Valid && b.Valid && b.Date.Before(a.Date) {
				return msg
			}
			return ""
		},
	}
}
