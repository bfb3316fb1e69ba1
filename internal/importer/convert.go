package importer

// convert.go coerces raw spreadsheet cells into typed field values.
//
// It handles the messy reality of user-provided files:
//   - multiple date formats (US, EU, ISO) including 2-digit years
//   - currency symbols, thousands separators, accounting negatives
//   - various boolean spellings (yes/no, true/false, 1/0)
//   - Excel formula prefixes (="value") and stray quotes
//
// Coerce returns a Value with Valid=false for empty input and a non-nil
// error only when a non-empty cell cannot be interpreted as the field type.

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	errBadValue   = errors.New("value does not match field type")
	errOutOfRange = errors.New("value out of range")
)

// numericPattern validates cleaned numeric input: integers, decimals, and
// scientific notation.
var numericPattern = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// twoDigitYearPivot: 2-digit years more than this far in the future are
// pushed back a century.
const twoDigitYearPivot = 20

var (
	twoDigitYearLayouts = []string{
		"1/2/06", "01/02/06", "1-2-06", "1.2.06", "01.02.06",
	}
	fourDigitYearLayouts = []string{
		"1/2/2006", "01/02/2006", "1-2-2006", "01-02-2006", "1.2.2006", "01.02.2006",
		"2006-01-02", "2006/01/02", "2006.01.02",
		"Jan 2, 2006", "2 Jan 2006",
		"20060102",
	}
)

// CleanCell strips common spreadsheet artifacts from a cell value:
// surrounding whitespace, Excel formula prefixes (="..."), and stray quotes.
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	s = strings.Trim(s, `"'`)
	return strings.TrimSpace(s)
}

// Coerce converts a raw cell to a typed Value per the field spec.
// An empty cell yields Value{Valid: false} and no error regardless of type.
func Coerce(raw string, spec FieldSpec) (Value, error) {
	cleaned := CleanCell(raw)
	v := Value{Raw: cleaned, Kind: spec.Type}
	if cleaned == "" {
		return v, nil
	}

	switch spec.Type {
	case FieldText:
		v.Text = cleaned
		v.Valid = true

	case FieldEnum:
		match, ok := matchEnum(cleaned, spec.EnumValues)
		if !ok {
			return v, fmt.Errorf("%w: %q is not one of %s",
				errBadValue, cleaned, strings.Join(spec.EnumValues, ", "))
		}
		v.Text = match
		v.Valid = true

	case FieldNumeric:
		d, err := parseNumeric(cleaned)
		if err != nil {
			return v, fmt.Errorf("%w: %q is not a number", errBadValue, cleaned)
		}
		if spec.Min != nil && d.LessThan(*spec.Min) {
			return v, fmt.Errorf("%w: %s is below minimum %s", errOutOfRange, d, spec.Min)
		}
		if spec.Max != nil && d.GreaterThan(*spec.Max) {
			return v, fmt.Errorf("%w: %s is above maximum %s", errOutOfRange, d, spec.Max)
		}
		v.Number = d
		v.Valid = true

	case FieldDate:
		t, err := parseDate(cleaned)
		if err != nil {
			return v, fmt.Errorf("%w: %q is not a recognized date", errBadValue, cleaned)
		}
		v.Date = t
		v.Valid = true

	case FieldBool:
		b, err := parseBool(cleaned)
		if err != nil {
			return v, fmt.Errorf("%w: %q is not a boolean", errBadValue, cleaned)
		}
		v.Bool = b
		v.Valid = true
	}

	return v, nil
}

// matchEnum matches a value against the allowed set case-insensitively and
// returns the canonical spelling.
func matchEnum(s string, allowed []string) (string, bool) {
	for _, a := range allowed {
		if strings.EqualFold(s, a) {
			return a, true
		}
	}
	return "", false
}

// parseNumeric handles currency symbols, thousands separators, and the
// accounting format "(123.45)" for negatives.
func parseNumeric(s string) (decimal.Decimal, error) {
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, "€", "")
	s = strings.ReplaceAll(s, "£", "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	if negative {
		s = "-" + s
	}

	if !numericPattern.MatchString(s) {
		return decimal.Decimal{}, errBadValue
	}
	return decimal.NewFromString(s)
}

// parseDate tries 4-digit-year layouts first (unambiguous), then 2-digit
// layouts with the pivot adjustment.
func parseDate(s string) (time.Time, error) {
	for _, layout := range fourDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}

	pivot := time.Now().Year() + twoDigitYearPivot
	for _, layout := range twoDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Year() > pivot {
				t = t.AddDate(-100, 0, 0)
			}
			return t, nil
		}
	}

	return time.Time{}, errBadValue
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "true", "t", "yes", "y", "1":
		return true, nil
	case "false", "f", "no", "n", "0":
		return false, nil
	}
	return false, errBadValue
}
