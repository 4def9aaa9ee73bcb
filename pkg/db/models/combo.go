package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Combo is a fixed bundle of products. Price is the listed bundle price.
type Combo struct {
	ID          uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	Name        string           `gorm:"column:name;not null"`
	Description *string          `gorm:"column:description"`
	Price       decimal.Decimal  `gorm:"column:price;type:numeric(12,2);not null"`
	IsActive    bool             `gorm:"column:is_active;not null;default:true"`
	Components  []ComboComponent `gorm:"foreignKey:ComboID;constraint:OnDelete:CASCADE"`
	CreatedAt   time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *Combo) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// ComboComponent is one {product, quantity per combo} entry of a Combo.
type ComboComponent struct {
	ID               uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	ComboID          uuid.UUID       `gorm:"column:combo_id;type:uuid;not null;index"`
	ProductID        uuid.UUID       `gorm:"column:product_id;type:uuid;not null"`
	Product          *Product        `gorm:"foreignKey:ProductID;constraint:OnDelete:RESTRICT"`
	QuantityPerCombo decimal.Decimal `gorm:"column:quantity_per_combo;type:numeric(14,3);not null"`
	Position         int             `gorm:"column:position;not null;default:0"`
}

func (c *ComboComponent) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
