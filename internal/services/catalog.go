package services

import (
	"context"
	"errors"

	"github.com/diewo77/go-pos/internal/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ProductPrice is what the ledger needs from the catalog at line time.
type ProductPrice struct {
	ProductID uint
	UnitPrice decimal.Decimal
	Tax       decimal.Decimal
}

// ProductCatalog resolves a product of a tenant. Unknown, inactive and
// foreign-tenant products all report ErrProductNotFound.
type ProductCatalog interface {
	Lookup(ctx context.Context, tenantID string, productID uint) (ProductPrice, error)
}

// TableRegistry confirms a table exists in a tenant and takes tabs.
// Inactive tables report false.
type TableRegistry interface {
	Exists(ctx context.Context, tenantID string, tableID uint) (bool, error)
}

// GormCatalog reads the products table.
type GormCatalog struct {
	db *gorm.DB
}

func NewGormCatalog(db *gorm.DB) *GormCatalog {
	return &GormCatalog{db: db}
}

func (c *GormCatalog) Lookup(ctx context.Context, tenantID string, productID uint) (ProductPrice, error) {
	var p models.Product
	err := c.db.WithContext(ctx).Scopes(ForTenant(tenantID)).
		Where("id = ? AND active = ?", productID, true).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ProductPrice{}, ErrProductNotFound
	}
	if err != nil {
		return ProductPrice{}, storage(err)
	}
	return ProductPrice{ProductID: p.ID, UnitPrice: p.Price, Tax: p.Tax}, nil
}

// GormTableRegistry reads the tables table.
type GormTableRegistry struct {
	db *gorm.DB
}

func NewGormTableRegistry(db *gorm.DB) *GormTableRegistry {
	return &GormTableRegistry{db: db}
}

func (r *GormTableRegistry) Exists(ctx context.Context, tenantID string, tableID uint) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Table{}).Scopes(ForTenant(tenantID)).
		Where("id = ? AND is_active = ?", tableID, true).Count(&n).Error
	if err != nil {
		return false, storage(err)
	}
	return n > 0, nil
}
