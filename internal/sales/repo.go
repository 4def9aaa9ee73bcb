package sales

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/cim-backend/pkg/db"
	"github.com/angelmondragon/cim-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/cim-backend/pkg/errors"
	"github.com/angelmondragon/cim-backend/pkg/pagination"
)

const lineItemBatchSize = 100

// Repository persists sale headers and line items.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

// CreateSale inserts the header row and fills in its generated identity.
func (r *Repository) CreateSale(ctx context.Context, sale *models.Sale) error {
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	if err := r.db.WithContext(ctx).Omit("LineItems").Create(sale).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert sale")
	}
	return nil
}

// CreateLineItems inserts every line in batches, one row per occurrence.
func (r *Repository) CreateLineItems(ctx context.Context, items []models.SaleLineItem) error {
	if len(items) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Omit("Product").CreateInBatches(&items, lineItemBatchSize).Error; err != nil {
		if dbpkg.IsForeignKeyViolation(err, "") {
			return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "line item references unknown product")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert sale line items")
	}
	return nil
}

// FindSale loads an active sale with its line items and their products.
func (r *Repository) FindSale(ctx context.Context, id uuid.UUID) (*models.Sale, error) {
	var sale models.Sale
	err := r.db.WithContext(ctx).
		Preload("LineItems", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		Preload("LineItems.Product").
		Where("id = ? AND is_active = ?", id, true).
		First(&sale).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "sale not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load sale")
	}
	return &sale, nil
}

// ListSales returns active sale headers newest first using a
// (created_at, id) keyset cursor.
func (r *Repository) ListSales(ctx context.Context, params pagination.Params) (pagination.Page[models.Sale], error) {
	keyset, err := pagination.Keyset(params)
	if err != nil {
		return pagination.Page[models.Sale]{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	var rows []models.Sale
	if err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Scopes(keyset).
		Find(&rows).Error; err != nil {
		return pagination.Page[models.Sale]{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list sales")
	}
	return pagination.Collect(rows, params, func(s models.Sale) pagination.Cursor {
		return pagination.Cursor{CreatedAt: s.CreatedAt, ID: s.ID}
	}), nil
}
