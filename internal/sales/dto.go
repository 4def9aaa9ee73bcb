package sales

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/cim-backend/pkg/db/models"
	"github.com/angelmondragon/cim-backend/pkg/enums"
)

// ProductLine is a standalone product entry of a sale request. Subtotal is
// accepted as supplied by the caller.
type ProductLine struct {
	ProductID uuid.UUID
	Quantity  decimal.Decimal
	Subtotal  decimal.Decimal
}

// ComboLine is a combo entry of a sale request. Its pricing is always derived
// from the combo's components.
type ComboLine struct {
	ComboID  uuid.UUID
	Quantity decimal.Decimal
}

// SettleInput is everything the coordinator needs to settle one sale.
type SettleInput struct {
	OperatorID uuid.UUID
	Role       enums.OperatorRole
	SaleType   string
	Profit     decimal.Decimal
	Detail     *string
	Products   []ProductLine
	Combos     []ComboLine
}

// ResolvedLine is one product occurrence ready to be persisted and depleted.
// ComboID is set for lines produced by combo expansion.
type ResolvedLine struct {
	ProductID uuid.UUID
	ComboID   *uuid.UUID
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
	Subtotal  decimal.Decimal
}

// SaleSummary is the header view returned by listings.
type SaleSummary struct {
	ID          uuid.UUID       `json:"id"`
	OperatorID  uuid.UUID       `json:"operator_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	SaleType    string          `json:"sale_type"`
	Profit      decimal.Decimal `json:"profit"`
	Detail      *string         `json:"detail,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// LineItemDTO is one persisted line of a sale.
type LineItemDTO struct {
	ID          uuid.UUID       `json:"id"`
	ProductID   uuid.UUID       `json:"product_id"`
	ProductName string          `json:"product_name,omitempty"`
	ComboID     *uuid.UUID      `json:"combo_id,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

// SaleDetail is a sale header plus its line items in recorded order.
type SaleDetail struct {
	SaleSummary
	LineItems []LineItemDTO `json:"line_items"`
}

func summaryFromModel(sale models.Sale) SaleSummary {
	return SaleSummary{
		ID:          sale.ID,
		OperatorID:  sale.OperatorID,
		TotalAmount: sale.TotalAmount,
		SaleType:    sale.SaleType,
		Profit:      sale.Profit,
		Detail:      sale.Detail,
		CreatedAt:   sale.CreatedAt,
	}
}

func detailFromModel(sale models.Sale) SaleDetail {
	items := make([]LineItemDTO, 0, len(sale.LineItems))
	for _, item := range sale.LineItems {
		dto := LineItemDTO{
			ID:        item.ID,
			ProductID: item.ProductID,
			ComboID:   item.ComboID,
			Quantity:  item.Quantity,
			Subtotal:  item.Subtotal,
		}
		if item.Product != nil {
			dto.ProductName = item.Product.Name
		}
		items = append(items, dto)
	}
	return SaleDetail{
		SaleSummary: summaryFromModel(sale),
		LineItems:   items,
	}
}
