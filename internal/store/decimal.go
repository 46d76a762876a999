package store

import "github.com/shopspring/decimal"

// mustDecimal parses a persisted decimal string back into a
// decimal.Decimal. Rows are only ever written via AppendXxx with
// String(), so a parse failure here indicates column corruption rather
// than a condition callers can usefully recover from.
func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
