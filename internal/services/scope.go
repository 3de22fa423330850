package services

import (
	"github.com/diewo77/go-pos/auth"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ForTenant restricts a query to one tenant's rows. Every sale, line and
// closing query in this package goes through it.
func ForTenant(tenantID string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("tenant_id = ?", tenantID)
	}
}

// forUpdate adds a row lock. The sqlite dialect drops locking clauses,
// where the single writer gives the same guarantee.
func forUpdate(db *gorm.DB) *gorm.DB {
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

func requireCaller(id auth.Identity) error {
	if !id.Valid() {
		return ErrMissingTenant
	}
	return nil
}

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

// page normalizes skip/limit query values.
func page(skip, limit int) (int, int) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return skip, limit
}
