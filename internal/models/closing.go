package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ClosingType distinguishes a read-only X report from a purging Z report.
type ClosingType string

const (
	ClosingX ClosingType = "X"
	ClosingZ ClosingType = "Z"
)

func (t ClosingType) Valid() bool { return t == ClosingX || t == ClosingZ }

// Purges reports whether the closing deletes the sales it captured.
func (t ClosingType) Purges() bool { return t == ClosingZ }

// CashClosing is an immutable reconciliation record.
type CashClosing struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	ClosingType ClosingType     `gorm:"size:1;not null" json:"closing_type"`
	UserID      uint            `gorm:"not null" json:"user_id"`
	TenantID    string          `gorm:"size:64;not null;index" json:"tenant_id"`
	Date        time.Time       `gorm:"not null" json:"date"`
	FromDate    time.Time       `json:"from_date"`
	ToDate      time.Time       `json:"to_date"`
	FromSales   uint            `json:"from_sales"`
	ToSales     uint            `json:"to_sales"`
	TotalSales  int64           `gorm:"not null" json:"total_sales"`
	TotalCash   decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"total_cash"`
	TotalCard   decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"total_card"`
	TotalTotal  decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"total_total"`
}

func (c *CashClosing) GetTenantID() string { return c.TenantID }
