package services

import (
	"fmt"
	"testing"

	"github.com/diewo77/go-pos/auth"
	"github.com/diewo77/go-pos/internal/config"
	"github.com/diewo77/go-pos/internal/db"
	"github.com/diewo77/go-pos/internal/metrics"
	"github.com/diewo77/go-pos/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db      *gorm.DB
	ledger  *LedgerService
	closing *ClosingService
	metrics *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn, err := db.Open(config.DatabaseConfig{
		Driver: config.DriverSQLite,
		Path:   fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()),
	}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, db.Migrate(conn))
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			sqlDB.Close()
		}
	})

	m := metrics.New()
	return &fixture{
		db:      conn,
		ledger:  NewLedgerService(conn, NewGormCatalog(conn), NewGormTableRegistry(conn), zap.NewNop(), m),
		closing: NewClosingService(conn, zap.NewNop(), m),
		metrics: m,
	}
}

func (f *fixture) product(t *testing.T, tenant, price string) uint {
	t.Helper()
	p := models.Product{
		TenantID: tenant,
		Name:     "item " + price,
		Price:    decimal.RequireFromString(price),
		Tax:      decimal.NewFromInt(10),
		Active:   true,
	}
	require.NoError(t, f.db.Create(&p).Error)
	return p.ID
}

func (f *fixture) table(t *testing.T, tenant, name string) uint {
	t.Helper()
	tb := models.Table{TenantID: tenant, Name: name, IsActive: true}
	require.NoError(t, f.db.Create(&tb).Error)
	return tb.ID
}

func caller(tenant string, uid uint) auth.Identity {
	return auth.Identity{UserID: uid, TenantID: tenant, Role: models.ProfileCashier}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func uintp(v uint) *uint { return &v }

func strp(s string) *string { return &s }
