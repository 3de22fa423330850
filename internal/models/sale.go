package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SaleStatus is the lifecycle state of a tab.
type SaleStatus string

const (
	SaleStatusOpen   SaleStatus = "OPEN"
	SaleStatusClosed SaleStatus = "CLOSED"
	// SaleStatusCancelled is accepted by the schema; no operation produces it.
	SaleStatusCancelled SaleStatus = "CANCELLED"
)

// Mutable reports whether lines, payment method or status may still change.
func (s SaleStatus) Mutable() bool { return s == SaleStatusOpen }

const (
	PaymentCash = "cash"
	PaymentCard = "card"
)

// Sale is a tab or ticket. Total always equals the sum of its lines.
type Sale struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	TenantID      string          `gorm:"size:64;not null;index" json:"tenant_id"`
	Total         decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"total"`
	PaymentMethod string          `gorm:"size:32;not null" json:"payment_method"`
	Status        SaleStatus      `gorm:"size:16;not null;index" json:"status"`
	TableID       *uint           `gorm:"index" json:"table_id,omitempty"`
	Name          *string         `gorm:"size:120" json:"name,omitempty"`
	UserID        *uint           `gorm:"index" json:"user_id,omitempty"`
	ClosedByID    *uint           `json:"closed_by_id,omitempty"`
	CreatedAt     time.Time       `gorm:"index" json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Lines         []SaleLine      `gorm:"foreignKey:SaleID;constraint:OnDelete:CASCADE" json:"lines"`
}

func (s *Sale) GetTenantID() string { return s.TenantID }

// SaleLine is one product entry of a sale, priced when it was added.
type SaleLine struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	SaleID    uint            `gorm:"not null;index" json:"sale_id"`
	ProductID uint            `gorm:"not null" json:"product_id"`
	Quantity  int             `gorm:"not null" json:"quantity"`
	PriceUnit decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"price_unit"`
	LineTotal decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"line_total"`
}
