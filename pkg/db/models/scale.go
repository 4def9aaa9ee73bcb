package models

import "github.com/shopspring/decimal"

// Scales of the numeric columns. Postgres rounds anything finer on insert,
// so values are checked or rounded to these first.
const (
	MoneyScale    int32 = 2
	QuantityScale int32 = 3
)

// FitsScale reports whether d has no significant digits past places.
func FitsScale(d decimal.Decimal, places int32) bool {
	return d.Equal(d.Truncate(places))
}
