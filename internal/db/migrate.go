package db

import (
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/diewo77/go-pos/internal/config"
	"github.com/diewo77/go-pos/internal/models"
	migrate "github.com/golang-migrate/migrate/v4"
	// Registers the postgres driver for golang-migrate.
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// openSaleTableIndex keeps a table from carrying two OPEN tabs in a tenant.
const openSaleTableIndex = `CREATE UNIQUE INDEX IF NOT EXISTS ux_sales_open_table
	ON sales (tenant_id, table_id)
	WHERE status = 'OPEN' AND table_id IS NOT NULL`

// Models lists every persisted model in dependency order.
func Models() []any {
	return []any{
		&models.Permission{}, &models.Profile{}, &models.User{},
		&models.Category{}, &models.Product{}, &models.Table{},
		&models.Sale{}, &models.SaleLine{}, &models.CashClosing{},
	}
}

// Open connects with the configured driver, retrying while the database
// starts up.
func Open(cfg config.DatabaseConfig, log *zap.Logger) (*gorm.DB, error) {
	level := logger.Silent
	if cfg.Debug {
		level = logger.Info
	}
	gcfg := &gorm.Config{
		Logger:         logger.Default.LogMode(level),
		TranslateError: true,
	}

	var dial gorm.Dialector
	dsn := cfg.DSN()
	switch cfg.Driver {
	case config.DriverSQLite:
		dial = sqlite.Open(dsn)
	case config.DriverPostgres:
		dsn = NormalizeDSN(dsn)
		dial = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported driver %q", cfg.Driver)
	}
	log.Info("connecting to database", zap.String("driver", cfg.Driver), zap.String("dsn", MaskDSN(dsn)))

	var (
		conn *gorm.DB
		err  error
	)
	for attempt := 1; attempt <= 10; attempt++ {
		conn, err = gorm.Open(dial, gcfg)
		if err == nil {
			err = conn.Exec("SELECT 1").Error
		}
		if err == nil {
			break
		}
		log.Warn("database not ready, retrying", zap.Int("attempt", attempt), zap.Error(err))
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if cfg.Driver == config.DriverSQLite {
		// one writer; concurrent requests queue on the pool
		if sqlDB, err := conn.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}
	return conn, nil
}

// Migrate creates or updates the schema with AutoMigrate and then adds the
// constraints gorm tags cannot express.
func Migrate(db *gorm.DB) error {
	for _, m := range Models() {
		if err := db.AutoMigrate(m); err != nil {
			return fmt.Errorf("automigrate %T: %w", m, err)
		}
	}
	if err := db.Exec(openSaleTableIndex).Error; err != nil {
		return fmt.Errorf("create open sale index: %w", err)
	}
	for _, table := range []string{"sales", "sale_lines", "cash_closings"} {
		if !db.Migrator().HasTable(table) {
			return errors.New("missing table after migration: " + table)
		}
	}
	return nil
}

// RunSQLMigrations applies the embedded versioned migrations to a
// PostgreSQL database given in URL form.
func RunSQLMigrations(databaseURL string) error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
