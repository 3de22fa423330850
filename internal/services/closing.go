package services

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/diewo77/go-pos/auth"
	"github.com/diewo77/go-pos/internal/metrics"
	"github.com/diewo77/go-pos/internal/models"
	"github.com/diewo77/go-pos/internal/money"
	"github.com/diewo77/go-pos/validation"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const closingAttempts = 3

// ClosingService produces X and Z cash closings.
//
// Snapshot, closing insert and (for Z) purge share one transaction. On
// PostgreSQL it runs at REPEATABLE READ and a Z snapshot locks the rows it
// captures, so lines cannot be added to a captured tab while it is being
// purged and sales committed after the snapshot are left alone.
type ClosingService struct {
	db      *gorm.DB
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewClosingService(db *gorm.DB, log *zap.Logger, m *metrics.Metrics) *ClosingService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ClosingService{db: db, log: log, metrics: m, now: time.Now}
}

// snapshot is the aggregate view of the sales a closing covers.
type snapshot struct {
	fromID, toID     uint
	fromDate, toDate time.Time
	totals           *money.Totals
}

func (s *snapshot) count() int64 { return s.totals.Count }

// CreateClosing records an X or Z closing of every sale of the caller's
// tenant. A tenant without sales gets ErrNothingToClose and no record.
func (s *ClosingService) CreateClosing(ctx context.Context, caller auth.Identity, typ models.ClosingType) (*models.CashClosing, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	if !typ.Valid() {
		return nil, invalid(validation.Violations{"closing_type": "invalid_choice"})
	}

	var (
		closing *models.CashClosing
		err     error
	)
	for attempt := 1; attempt <= closingAttempts; attempt++ {
		closing, err = s.createOnce(ctx, caller, typ)
		if !isSerializationFailure(err) {
			break
		}
		s.log.Warn("closing snapshot conflicted, retrying",
			zap.String("tenant_id", caller.TenantID),
			zap.Int("attempt", attempt))
	}
	if err != nil {
		if !errors.Is(err, ErrConflict) {
			s.log.Error("cash closing failed",
				zap.String("tenant_id", caller.TenantID),
				zap.String("type", string(typ)),
				zap.Error(err))
		}
		return nil, storage(err)
	}

	var purged int64
	if typ.Purges() {
		purged = closing.TotalSales
	}
	s.metrics.ClosingCreated(string(typ), purged)
	s.log.Info("cash closing created",
		zap.String("tenant_id", closing.TenantID),
		zap.Uint("closing_id", closing.ID),
		zap.String("type", string(typ)),
		zap.Uint("from_sales", closing.FromSales),
		zap.Uint("to_sales", closing.ToSales),
		zap.Int64("sales", closing.TotalSales),
		zap.Int64("purged", purged),
		zap.String("total", closing.TotalTotal.StringFixed(money.Places)))
	return closing, nil
}

func (s *ClosingService) createOnce(ctx context.Context, caller auth.Identity, typ models.ClosingType) (*models.CashClosing, error) {
	var out models.CashClosing
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		snap, err := takeSnapshot(tx, caller.TenantID, typ.Purges())
		if err != nil {
			return err
		}
		if snap.count() == 0 {
			return ErrNothingToClose
		}
		out = models.CashClosing{
			ClosingType: typ,
			UserID:      caller.UserID,
			TenantID:    caller.TenantID,
			Date:        s.now().UTC(),
			FromDate:    snap.fromDate,
			ToDate:      snap.toDate,
			FromSales:   snap.fromID,
			ToSales:     snap.toID,
			TotalSales:  snap.count(),
			TotalCash:   money.Round(snap.totals.Method(models.PaymentCash)),
			TotalCard:   money.Round(snap.totals.Method(models.PaymentCard)),
			TotalTotal:  money.Round(snap.totals.Total),
		}
		if err := tx.Create(&out).Error; err != nil {
			return err
		}
		if !typ.Purges() {
			return nil
		}
		return purge(tx, caller.TenantID, snap)
	}, s.txOptions()...)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *ClosingService) txOptions() []*sql.TxOptions {
	if s.db.Dialector.Name() == "postgres" {
		return []*sql.TxOptions{{Isolation: sql.LevelRepeatableRead}}
	}
	return nil
}

// takeSnapshot reads the tenant's sales once and aggregates them, so every
// figure of the closing describes the same set of rows.
func takeSnapshot(tx *gorm.DB, tenantID string, lock bool) (*snapshot, error) {
	q := tx.Model(&models.Sale{}).
		Select("id", "created_at", "total", "payment_method").
		Scopes(ForTenant(tenantID)).
		Order("id")
	if lock {
		q = q.Scopes(forUpdate)
	}
	rows, err := q.Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	snap := &snapshot{totals: money.NewTotals()}
	for rows.Next() {
		var sale models.Sale
		if err := tx.ScanRows(rows, &sale); err != nil {
			return nil, err
		}
		if snap.totals.Count == 0 {
			snap.fromID, snap.toID = sale.ID, sale.ID
			snap.fromDate, snap.toDate = sale.CreatedAt, sale.CreatedAt
		}
		if sale.ID < snap.fromID {
			snap.fromID = sale.ID
		}
		if sale.ID > snap.toID {
			snap.toID = sale.ID
		}
		if sale.CreatedAt.Before(snap.fromDate) {
			snap.fromDate = sale.CreatedAt
		}
		if sale.CreatedAt.After(snap.toDate) {
			snap.toDate = sale.CreatedAt
		}
		snap.totals.Add(sale.PaymentMethod, sale.Total)
	}
	return snap, rows.Err()
}

// purge deletes the captured id range with its lines. Anything other than
// exactly the captured count aborts the closing.
func purge(tx *gorm.DB, tenantID string, snap *snapshot) error {
	inRange := tx.Model(&models.Sale{}).Select("id").
		Where("tenant_id = ? AND id BETWEEN ? AND ?", tenantID, snap.fromID, snap.toID)
	if err := tx.Where("sale_id IN (?)", inRange).Delete(&models.SaleLine{}).Error; err != nil {
		return err
	}
	res := tx.Where("tenant_id = ? AND id BETWEEN ? AND ?", tenantID, snap.fromID, snap.toID).
		Delete(&models.Sale{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != snap.count() {
		return ErrPurgeIncomplete
	}
	return nil
}

// ListClosings returns the tenant's closing history, newest first.
func (s *ClosingService) ListClosings(ctx context.Context, caller auth.Identity, skip, limit int) ([]models.CashClosing, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	skip, limit = page(skip, limit)
	closings := []models.CashClosing{}
	err := s.db.WithContext(ctx).Scopes(ForTenant(caller.TenantID)).
		Order("date DESC, id DESC").
		Offset(skip).Limit(limit).
		Find(&closings).Error
	if err != nil {
		return nil, storage(err)
	}
	return closings, nil
}

func (s *ClosingService) GetClosing(ctx context.Context, caller auth.Identity, id uint) (*models.CashClosing, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	var c models.CashClosing
	err := s.db.WithContext(ctx).Scopes(ForTenant(caller.TenantID)).Where("id = ?", id).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrClosingNotFound
	}
	if err != nil {
		return nil, storage(err)
	}
	return &c, nil
}
