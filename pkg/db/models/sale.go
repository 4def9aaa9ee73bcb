package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Sale is the header row written once per successful settlement.
type Sale struct {
	ID          uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	OperatorID  uuid.UUID       `gorm:"column:operator_id;type:uuid;not null;index"`
	TotalAmount decimal.Decimal `gorm:"column:total_amount;type:numeric(14,2);not null"`
	SaleType    string          `gorm:"column:sale_type;not null"`
	Profit      decimal.Decimal `gorm:"column:profit;type:numeric(14,2);not null;default:0"`
	Detail      *string         `gorm:"column:detail"`
	IsActive    bool            `gorm:"column:is_active;not null;default:true"`
	LineItems   []SaleLineItem  `gorm:"foreignKey:SaleID;constraint:OnDelete:CASCADE"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (s *Sale) BeforeCreate(*gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// SaleLineItem records one product occurrence of a sale. ComboID is set when
// the line was derived from a combo expansion.
type SaleLineItem struct {
	ID        uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	SaleID    uuid.UUID       `gorm:"column:sale_id;type:uuid;not null;index"`
	ProductID uuid.UUID       `gorm:"column:product_id;type:uuid;not null"`
	Product   *Product        `gorm:"foreignKey:ProductID;constraint:OnDelete:RESTRICT"`
	ComboID   *uuid.UUID      `gorm:"column:combo_id;type:uuid"`
	Quantity  decimal.Decimal `gorm:"column:quantity;type:numeric(14,3);not null"`
	Subtotal  decimal.Decimal `gorm:"column:subtotal;type:numeric(14,2);not null"`
	Position  int             `gorm:"column:position;not null"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (l *SaleLineItem) BeforeCreate(*gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}
