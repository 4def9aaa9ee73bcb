// Package dbtest opens throwaway SQLite databases carrying the CIM schema and
// seeds catalog rows for repository and service tests.
package dbtest

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/cim-backend/pkg/db"
	"github.com/angelmondragon/cim-backend/pkg/db/models"
)

// Open returns a uniquely named shared-cache in-memory database with every
// CIM table migrated. The pool is pinned to one connection so transactions
// from concurrent goroutines serialize instead of failing with SQLITE_BUSY.
func Open(t testing.TB, name string) *gorm.DB {
	t.Helper()
	dsn := "file:" + name + "_" + uuid.NewString() + "?mode=memory&cache=shared&_foreign_keys=1"
	conn, err := gorm.Open(sqlite.Open(dsn), dbpkg.GormConfig())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := conn.AutoMigrate(
		&models.Product{},
		&models.Combo{},
		&models.ComboComponent{},
		&models.Sale{},
		&models.SaleLineItem{},
		&models.OutboxEvent{},
		&models.OutboxDLQ{},
	); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	return conn
}

// ProductOption mutates a product before it is inserted.
type ProductOption func(*models.Product)

func Inactive() ProductOption {
	return func(p *models.Product) { p.IsActive = false }
}

// SeedProduct inserts an active product with the given stock and whole-unit price.
func SeedProduct(t testing.TB, db *gorm.DB, name string, stock, price string, opts ...ProductOption) models.Product {
	t.Helper()
	p := models.Product{
		Name:             name,
		AvailableWeight:  decimal.RequireFromString(stock),
		PricePerUnit:     decimal.RequireFromString(price),
		PricePerHalfUnit: decimal.RequireFromString(price).Div(decimal.NewFromInt(2)),
		MinQuantity:      decimal.NewFromInt(1),
		IsActive:         true,
	}
	for _, opt := range opts {
		opt(&p)
	}
	if err := db.Create(&p).Error; err != nil {
		t.Fatalf("seed product %s: %v", name, err)
	}
	// gorm skips zero values that carry a default tag.
	if !p.IsActive {
		if err := db.Model(&models.Product{}).Where("id = ?", p.ID).Update("is_active", false).Error; err != nil {
			t.Fatalf("deactivate product %s: %v", name, err)
		}
	}
	return p
}

// Component is a {product, quantity per combo} pair for SeedCombo.
type Component struct {
	ProductID uuid.UUID
	Quantity  string
}

// SeedCombo inserts an active combo with the given components.
func SeedCombo(t testing.TB, db *gorm.DB, name, price string, components ...Component) models.Combo {
	t.Helper()
	c := models.Combo{
		Name:     name,
		Price:    decimal.RequireFromString(price),
		IsActive: true,
	}
	for i, comp := range components {
		c.Components = append(c.Components, models.ComboComponent{
			ProductID:        comp.ProductID,
			QuantityPerCombo: decimal.RequireFromString(comp.Quantity),
			Position:         i,
		})
	}
	if err := db.Create(&c).Error; err != nil {
		t.Fatalf("seed combo %s: %v", name, err)
	}
	return c
}

// DeactivateCombo flips a seeded combo to inactive.
func DeactivateCombo(t testing.TB, db *gorm.DB, id uuid.UUID) {
	t.Helper()
	if err := db.Model(&models.Combo{}).Where("id = ?", id).Update("is_active", false).Error; err != nil {
		t.Fatalf("deactivate combo: %v", err)
	}
}

// Stock reads the current available weight of a product.
func Stock(t testing.TB, db *gorm.DB, id uuid.UUID) decimal.Decimal {
	t.Helper()
	var p models.Product
	if err := db.First(&p, "id = ?", id).Error; err != nil {
		t.Fatalf("load product: %v", err)
	}
	return p.AvailableWeight
}

// Count returns the row count of model's table.
func Count(t testing.TB, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	if err := db.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}
