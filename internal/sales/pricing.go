package sales

import (
	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/cim-backend/pkg/errors"
)

// Aggregate sums product-line and expanded combo-line subtotals. A sale needs
// at least one line of either kind. Subtotals arrive at money scale, so the
// sum needs no rounding.
func Aggregate(productLines, comboLines []ResolvedLine) (decimal.Decimal, error) {
	if len(productLines) == 0 && len(comboLines) == 0 {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "sale requires at least one line item")
	}
	total := decimal.Zero
	for _, line := range productLines {
		total = total.Add(line.Subtotal)
	}
	for _, line := range comboLines {
		total = total.Add(line.Subtotal)
	}
	return total, nil
}
