package inventory

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/cim-backend/pkg/db"
	"github.com/angelmondragon/cim-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/cim-backend/pkg/errors"
)

const availableWeightCheck = "chk_products_available_weight"

// Consumption is one stock draw against a product. Consumptions are never
// merged: two draws against the same product stay two decrements.
type Consumption struct {
	ProductID uuid.UUID
	Quantity  decimal.Decimal
}

// Ledger mutates products.available_weight. Every method runs on the
// caller's transaction and performs no reads outside it.
type Ledger struct{}

func NewLedger() *Ledger {
	return &Ledger{}
}

// ApplyDepletion issues one atomic conditional decrement per consumption, in
// order. Each decrement re-checks stock as left by the previous ones, so the
// first draw that cannot be satisfied fails the whole depletion with
// CodeInsufficientStock naming that product. The caller rolls back.
func (l *Ledger) ApplyDepletion(ctx context.Context, tx *gorm.DB, consumptions []Consumption) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	for _, c := range consumptions {
		if c.ProductID == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "consumption product id required")
		}
		if !c.Quantity.IsPositive() || !models.FitsScale(c.Quantity, models.QuantityScale) {
			return pkgerrors.Newf(pkgerrors.CodeValidation, "consumption quantity must be positive with at most %d decimal places", models.QuantityScale).
				WithDetails(map[string]any{"product_id": c.ProductID.String()})
		}

		res := tx.WithContext(ctx).
			Model(&models.Product{}).
			Where("id = ? AND is_active = ? AND available_weight >= ?", c.ProductID, true, c.Quantity).
			Update("available_weight", gorm.Expr("available_weight - ?", c.Quantity))
		if res.Error != nil {
			if dbpkg.IsCheckViolation(res.Error, availableWeightCheck) {
				return insufficientStock(c)
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "decrement stock")
		}
		if res.RowsAffected == 0 {
			return insufficientStock(c)
		}
	}
	return nil
}

// Restock atomically increments a product's available weight and returns the
// new value.
func (l *Ledger) Restock(ctx context.Context, tx *gorm.DB, productID uuid.UUID, quantity decimal.Decimal) (decimal.Decimal, error) {
	if tx == nil {
		return decimal.Zero, errors.New("transaction required")
	}
	if !quantity.IsPositive() {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "restock quantity must be positive")
	}
	if !models.FitsScale(quantity, models.QuantityScale) {
		return decimal.Zero, pkgerrors.Newf(pkgerrors.CodeValidation, "restock quantity allows at most %d decimal places", models.QuantityScale)
	}

	res := tx.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ?", productID).
		Update("available_weight", gorm.Expr("available_weight + ?", quantity))
	if res.Error != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "increment stock")
	}
	if res.RowsAffected == 0 {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeNotFound, "product not found").
			WithDetails(map[string]any{"product_id": productID.String()})
	}

	var product models.Product
	if err := tx.WithContext(ctx).Select("id", "available_weight").First(&product, "id = ?", productID).Error; err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload stock")
	}
	return product.AvailableWeight, nil
}

func insufficientStock(c Consumption) error {
	return pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock").
		WithDetails(map[string]any{
			"product_id": c.ProductID.String(),
			"requested":  c.Quantity.String(),
		})
}
