package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Category groups a tenant's products. Names are unique per tenant.
type Category struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TenantID  string    `gorm:"size:64;not null;index;uniqueIndex:ux_categories_tenant_name,priority:1" json:"tenant_id"`
	Name      string    `gorm:"size:120;not null;uniqueIndex:ux_categories_tenant_name,priority:2" json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c *Category) GetTenantID() string { return c.TenantID }

// Product is a sellable item of a tenant's catalog.
type Product struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	TenantID   string          `gorm:"size:64;not null;index;uniqueIndex:ux_products_tenant_sku,priority:1" json:"tenant_id"`
	Name       string          `gorm:"size:255;not null" json:"name"`
	SKU        *string         `gorm:"size:64;uniqueIndex:ux_products_tenant_sku,priority:2" json:"sku,omitempty"`
	Price      decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"price"`
	Tax        decimal.Decimal `gorm:"type:decimal(5,2);not null" json:"tax"`
	Active     bool            `gorm:"not null" json:"active"`
	CategoryID *uint           `gorm:"index" json:"category_id,omitempty"`
	Category   *Category       `gorm:"foreignKey:CategoryID" json:"category,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func (p *Product) GetTenantID() string { return p.TenantID }

// Table is a physical table a tab can be opened on.
type Table struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	TenantID    string    `gorm:"size:64;not null;index;uniqueIndex:ux_tables_tenant_name,priority:1" json:"tenant_id"`
	Name        string    `gorm:"size:120;not null;uniqueIndex:ux_tables_tenant_name,priority:2" json:"name"`
	Description string    `gorm:"size:500" json:"description,omitempty"`
	IsActive    bool      `gorm:"not null" json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (t *Table) GetTenantID() string { return t.TenantID }
