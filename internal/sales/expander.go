package sales

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/cim-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/cim-backend/pkg/errors"
)

type catalogReader interface {
	FindProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Product, error)
	FindCombos(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Combo, error)
}

// Expander turns combo lines into per-component product lines priced at the
// products' current unit price. It only reads.
type Expander struct {
	catalog catalogReader
}

func NewExpander(catalog catalogReader) *Expander {
	return &Expander{catalog: catalog}
}

// Expand resolves a single combo line.
func (e *Expander) Expand(ctx context.Context, comboID uuid.UUID, quantity decimal.Decimal) ([]ResolvedLine, error) {
	return e.ExpandAll(ctx, []ComboLine{{ComboID: comboID, Quantity: quantity}})
}

// ExpandAll resolves every combo line with one combo read and one product
// read. Output follows input order, then component position. A combo that is
// missing or inactive, or that references a missing or inactive product,
// rejects the whole call.
func (e *Expander) ExpandAll(ctx context.Context, lines []ComboLine) ([]ResolvedLine, error) {
	if len(lines) == 0 {
		return nil, nil
	}

	comboIDs := make([]uuid.UUID, 0, len(lines))
	for _, line := range lines {
		if line.ComboID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "combo id required")
		}
		if !line.Quantity.IsPositive() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "combo quantity must be positive").
				WithDetails(map[string]any{"combo_id": line.ComboID.String()})
		}
		if !models.FitsScale(line.Quantity, models.QuantityScale) {
			return nil, tooPrecise("combo quantity", models.QuantityScale, map[string]any{"combo_id": line.ComboID.String()})
		}
		comboIDs = append(comboIDs, line.ComboID)
	}

	combos, err := e.catalog.FindCombos(ctx, comboIDs)
	if err != nil {
		return nil, err
	}

	var productIDs []uuid.UUID
	for _, line := range lines {
		combo, ok := combos[line.ComboID]
		if !ok || !combo.IsActive {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "combo not found").
				WithDetails(map[string]any{"combo_id": line.ComboID.String()})
		}
		for _, component := range combo.Components {
			productIDs = append(productIDs, component.ProductID)
		}
	}

	products, err := e.catalog.FindProducts(ctx, productIDs)
	if err != nil {
		return nil, err
	}

	var out []ResolvedLine
	for _, line := range lines {
		combo := combos[line.ComboID]
		comboID := combo.ID
		for _, component := range combo.Components {
			product, ok := products[component.ProductID]
			if !ok || !product.IsActive {
				return nil, pkgerrors.New(pkgerrors.CodeNotFound, "combo product not found").
					WithDetails(map[string]any{
						"combo_id":   comboID.String(),
						"product_id": component.ProductID.String(),
					})
			}
			quantity := line.Quantity.Mul(component.QuantityPerCombo)
			if !models.FitsScale(quantity, models.QuantityScale) {
				return nil, tooPrecise("combo component quantity", models.QuantityScale, map[string]any{
					"combo_id":   comboID.String(),
					"product_id": product.ID.String(),
				})
			}
			// rounded per line so the sale total equals the stored subtotals
			out = append(out, ResolvedLine{
				ProductID: product.ID,
				ComboID:   &comboID,
				Quantity:  quantity,
				UnitPrice: product.PricePerUnit,
				Subtotal:  quantity.Mul(product.PricePerUnit).Round(models.MoneyScale),
			})
		}
	}
	return out, nil
}

// resolveProducts checks standalone product lines against the catalog. The
// caller's subtotal is kept as given.
func resolveProducts(ctx context.Context, catalog catalogReader, lines []ProductLine) ([]ResolvedLine, error) {
	if len(lines) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, 0, len(lines))
	for _, line := range lines {
		if line.ProductID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
		}
		if !line.Quantity.IsPositive() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "product quantity must be positive").
				WithDetails(map[string]any{"product_id": line.ProductID.String()})
		}
		if line.Subtotal.IsNegative() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "product subtotal must not be negative").
				WithDetails(map[string]any{"product_id": line.ProductID.String()})
		}
		if !models.FitsScale(line.Quantity, models.QuantityScale) {
			return nil, tooPrecise("product quantity", models.QuantityScale, map[string]any{"product_id": line.ProductID.String()})
		}
		if !models.FitsScale(line.Subtotal, models.MoneyScale) {
			return nil, tooPrecise("product subtotal", models.MoneyScale, map[string]any{"product_id": line.ProductID.String()})
		}
		ids = append(ids, line.ProductID)
	}

	products, err := catalog.FindProducts(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]ResolvedLine, 0, len(lines))
	for _, line := range lines {
		product, ok := products[line.ProductID]
		if !ok || !product.IsActive {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found").
				WithDetails(map[string]any{"product_id": line.ProductID.String()})
		}
		out = append(out, ResolvedLine{
			ProductID: product.ID,
			Quantity:  line.Quantity,
			UnitPrice: product.PricePerUnit,
			Subtotal:  line.Subtotal,
		})
	}
	return out, nil
}

func tooPrecise(field string, places int32, details map[string]any) error {
	details["max_decimal_places"] = places
	return pkgerrors.Newf(pkgerrors.CodeValidation, "%s allows at most %d decimal places", field, places).
		WithDetails(details)
}
