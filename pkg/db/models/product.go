package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Product is a stocked item sold by weight. AvailableWeight is only mutated
// by the inventory ledger's conditional decrement and restock increment.
type Product struct {
	ID               uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	Name             string          `gorm:"column:name;not null"`
	Description      *string         `gorm:"column:description"`
	AvailableWeight  decimal.Decimal `gorm:"column:available_weight;type:numeric(14,3);not null;default:0"`
	PricePerUnit     decimal.Decimal `gorm:"column:price_per_unit;type:numeric(12,2);not null"`
	PricePerHalfUnit decimal.Decimal `gorm:"column:price_per_half_unit;type:numeric(12,2);not null"`
	MinQuantity      decimal.Decimal `gorm:"column:min_quantity;type:numeric(14,3);not null;default:0"`
	PackagingType    *string         `gorm:"column:packaging_type"`
	BoxWeight        decimal.Decimal `gorm:"column:box_weight;type:numeric(14,3);not null;default:0"`
	IsActive         bool            `gorm:"column:is_active;not null;default:true"`
	CreatedAt        time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Product) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
