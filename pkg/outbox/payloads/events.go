package payloads

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SaleSettledEvent is emitted in the same unit of work that commits a sale.
type SaleSettledEvent struct {
	SaleID      uuid.UUID         `json:"sale_id"`
	OperatorID  uuid.UUID         `json:"operator_id"`
	SaleType    string            `json:"sale_type"`
	TotalAmount decimal.Decimal   `json:"total_amount"`
	LineItems   []SettledLineItem `json:"line_items"`
}

// SettledLineItem mirrors one persisted sale line.
type SettledLineItem struct {
	ProductID uuid.UUID       `json:"product_id"`
	ComboID   *uuid.UUID      `json:"combo_id,omitempty"`
	Quantity  decimal.Decimal `json:"quantity"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// ProductRestockedEvent is emitted when an admin increments available weight.
type ProductRestockedEvent struct {
	ProductID       uuid.UUID       `json:"product_id"`
	Quantity        decimal.Decimal `json:"quantity"`
	AvailableWeight decimal.Decimal `json:"available_weight"`
}
