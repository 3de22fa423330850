package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/diewo77/go-pos/auth"
	"github.com/diewo77/go-pos/internal/metrics"
	"github.com/diewo77/go-pos/internal/models"
	"github.com/diewo77/go-pos/internal/money"
	"github.com/diewo77/go-pos/validation"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LineInput is one requested product/quantity pair.
type LineInput struct {
	ProductID uint `json:"product_id"`
	Quantity  int  `json:"quantity"`
}

// OpenAccountInput names the tab being opened. Both fields are optional.
type OpenAccountInput struct {
	TableID *uint
	Name    *string
}

// LedgerService owns sales and their lines.
//
// Catalog and table lookups run before a write transaction starts; the
// transaction itself only reads and writes sale rows, under a row lock on
// the sale being changed.
type LedgerService struct {
	db      *gorm.DB
	catalog ProductCatalog
	tables  TableRegistry
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewLedgerService(db *gorm.DB, catalog ProductCatalog, tables TableRegistry, log *zap.Logger, m *metrics.Metrics) *LedgerService {
	if log == nil {
		log = zap.NewNop()
	}
	return &LedgerService{db: db, catalog: catalog, tables: tables, log: log, metrics: m}
}

// CreateImmediateSale records a walk-up sale, already CLOSED.
func (s *LedgerService) CreateImmediateSale(ctx context.Context, caller auth.Identity, paymentMethod string, lines []LineInput) (*models.Sale, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	method, err := normalizePayment(paymentMethod)
	if err != nil {
		return nil, err
	}
	priced, err := s.priceLines(ctx, caller.TenantID, lines, false)
	if err != nil {
		return nil, err
	}

	uid := caller.UserID
	sale := models.Sale{
		TenantID:      caller.TenantID,
		Status:        models.SaleStatusClosed,
		PaymentMethod: method,
		UserID:        &uid,
		Total:         lineSum(priced),
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(&sale).Error; err != nil {
			return err
		}
		for i := range priced {
			priced[i].SaleID = sale.ID
		}
		return tx.Create(&priced).Error
	})
	if err != nil {
		s.log.Error("create sale failed", zap.String("tenant_id", caller.TenantID), zap.Error(err))
		return nil, storage(err)
	}
	sale.Lines = priced

	s.metrics.SaleCreated("immediate")
	s.metrics.LinesAdded(len(priced))
	s.log.Info("sale created",
		zap.String("tenant_id", sale.TenantID),
		zap.Uint("sale_id", sale.ID),
		zap.String("total", sale.Total.StringFixed(money.Places)),
		zap.String("payment_method", sale.PaymentMethod))
	return &sale, nil
}

// OpenAccount starts an empty OPEN tab. A table can carry at most one open
// tab per tenant; the partial unique index ux_sales_open_table backs the
// in-transaction check against concurrent opens.
func (s *LedgerService) OpenAccount(ctx context.Context, caller auth.Identity, in OpenAccountInput) (*models.Sale, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	name := in.Name
	if name != nil {
		trimmed := strings.TrimSpace(*name)
		name = &trimmed
		if trimmed == "" {
			name = nil
		}
	}
	v := validation.Violations{}
	if name != nil {
		validation.MaxLen("name", *name, 120, v)
	}
	if in.TableID != nil {
		validation.NonZeroID("table_id", *in.TableID, v)
	}
	if !v.Empty() {
		return nil, invalid(v)
	}

	if in.TableID != nil {
		ok, err := s.tables.Exists(ctx, caller.TenantID, *in.TableID)
		if err != nil {
			return nil, storage(err)
		}
		if !ok {
			return nil, ErrTableNotFound
		}
	}

	uid := caller.UserID
	sale := models.Sale{
		TenantID:      caller.TenantID,
		Status:        models.SaleStatusOpen,
		PaymentMethod: models.PaymentCash,
		Total:         decimal.Zero,
		TableID:       in.TableID,
		Name:          name,
		UserID:        &uid,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if sale.TableID != nil {
			var n int64
			err := tx.Model(&models.Sale{}).Scopes(ForTenant(caller.TenantID)).
				Where("table_id = ? AND status = ?", *sale.TableID, models.SaleStatusOpen).
				Count(&n).Error
			if err != nil {
				return err
			}
			if n > 0 {
				return ErrTableOccupied
			}
		}
		return tx.Omit(clause.Associations).Create(&sale).Error
	})
	if isDuplicateKey(err) {
		return nil, ErrTableOccupied
	}
	if err != nil {
		return nil, storage(err)
	}
	sale.Lines = []models.SaleLine{}

	s.metrics.SaleCreated("open")
	s.log.Info("account opened",
		zap.String("tenant_id", sale.TenantID),
		zap.Uint("sale_id", sale.ID),
		zap.Uintp("table_id", sale.TableID))
	return &sale, nil
}

// AddLines appends lines to an open tab. Lines for a product already on the
// tab are kept separate.
func (s *LedgerService) AddLines(ctx context.Context, caller auth.Identity, saleID uint, lines []LineInput) (*models.Sale, error) {
	if err := s.peekOpen(ctx, caller, saleID); err != nil {
		return nil, err
	}
	priced, err := s.priceLines(ctx, caller.TenantID, lines, false)
	if err != nil {
		return nil, err
	}
	sale, err := s.mutateOpen(ctx, caller, saleID, func(tx *gorm.DB, sale *models.Sale) error {
		for i := range priced {
			priced[i].SaleID = sale.ID
		}
		if err := tx.Create(&priced).Error; err != nil {
			return err
		}
		return recomputeTotal(tx, sale.ID)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.LinesAdded(len(priced))
	s.log.Info("lines added",
		zap.String("tenant_id", caller.TenantID),
		zap.Uint("sale_id", saleID),
		zap.Int("lines", len(priced)),
		zap.String("total", sale.Total.StringFixed(money.Places)))
	return sale, nil
}

// ReplaceLines swaps the whole line set of an open tab. An empty set clears
// the tab.
func (s *LedgerService) ReplaceLines(ctx context.Context, caller auth.Identity, saleID uint, lines []LineInput) (*models.Sale, error) {
	if err := s.peekOpen(ctx, caller, saleID); err != nil {
		return nil, err
	}
	priced, err := s.priceLines(ctx, caller.TenantID, lines, true)
	if err != nil {
		return nil, err
	}
	sale, err := s.mutateOpen(ctx, caller, saleID, func(tx *gorm.DB, sale *models.Sale) error {
		if err := tx.Where("sale_id = ?", sale.ID).Delete(&models.SaleLine{}).Error; err != nil {
			return err
		}
		if len(priced) > 0 {
			for i := range priced {
				priced[i].SaleID = sale.ID
			}
			if err := tx.Create(&priced).Error; err != nil {
				return err
			}
		}
		return recomputeTotal(tx, sale.ID)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.LinesAdded(len(priced))
	s.log.Info("lines replaced",
		zap.String("tenant_id", caller.TenantID),
		zap.Uint("sale_id", saleID),
		zap.Int("lines", len(priced)))
	return sale, nil
}

// CloseAccount settles an open tab. There is no way back to OPEN.
func (s *LedgerService) CloseAccount(ctx context.Context, caller auth.Identity, saleID uint, paymentMethod string) (*models.Sale, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	method, err := normalizePayment(paymentMethod)
	if err != nil {
		return nil, err
	}
	uid := caller.UserID
	sale, err := s.mutateOpen(ctx, caller, saleID, func(tx *gorm.DB, sale *models.Sale) error {
		return tx.Model(sale).Updates(map[string]any{
			"status":         models.SaleStatusClosed,
			"payment_method": method,
			"closed_by_id":   uid,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	s.metrics.SaleClosed()
	s.log.Info("account closed",
		zap.String("tenant_id", caller.TenantID),
		zap.Uint("sale_id", saleID),
		zap.String("payment_method", method),
		zap.String("total", sale.Total.StringFixed(money.Places)))
	return sale, nil
}

func (s *LedgerService) Get(ctx context.Context, caller auth.Identity, saleID uint) (*models.Sale, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	var sale models.Sale
	err := s.db.WithContext(ctx).Scopes(ForTenant(caller.TenantID)).
		Preload("Lines", linesInOrder).
		Where("id = ?", saleID).
		First(&sale).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSaleNotFound
	}
	if err != nil {
		return nil, storage(err)
	}
	return &sale, nil
}

// List pages through all sales of the tenant, newest first.
func (s *LedgerService) List(ctx context.Context, caller auth.Identity, skip, limit int) ([]models.Sale, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	skip, limit = page(skip, limit)
	sales := []models.Sale{}
	err := s.db.WithContext(ctx).Scopes(ForTenant(caller.TenantID)).
		Preload("Lines", linesInOrder).
		Order("created_at DESC, id DESC").
		Offset(skip).Limit(limit).
		Find(&sales).Error
	if err != nil {
		return nil, storage(err)
	}
	return sales, nil
}

// ListOpen returns every OPEN tab of the tenant, newest first.
func (s *LedgerService) ListOpen(ctx context.Context, caller auth.Identity) ([]models.Sale, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	sales := []models.Sale{}
	err := s.db.WithContext(ctx).Scopes(ForTenant(caller.TenantID)).
		Preload("Lines", linesInOrder).
		Where("status = ?", models.SaleStatusOpen).
		Order("created_at DESC, id DESC").
		Find(&sales).Error
	if err != nil {
		return nil, storage(err)
	}
	return sales, nil
}

// UnlinkUser clears creator and closer references to a user on the
// tenant's sales. Sales are kept. tx is the caller's transaction.
func UnlinkUser(tx *gorm.DB, tenantID string, userID uint) error {
	if err := tx.Model(&models.Sale{}).Scopes(ForTenant(tenantID)).
		Where("user_id = ?", userID).Update("user_id", nil).Error; err != nil {
		return storage(err)
	}
	if err := tx.Model(&models.Sale{}).Scopes(ForTenant(tenantID)).
		Where("closed_by_id = ?", userID).Update("closed_by_id", nil).Error; err != nil {
		return storage(err)
	}
	return nil
}

// peekOpen reports NotFound or InvalidState before any catalog work, so a
// closed tab is reported as such even when the request also names unknown
// products. mutateOpen repeats the check under lock.
func (s *LedgerService) peekOpen(ctx context.Context, caller auth.Identity, saleID uint) error {
	if err := requireCaller(caller); err != nil {
		return err
	}
	var sale models.Sale
	err := s.db.WithContext(ctx).Select("id", "status").Scopes(ForTenant(caller.TenantID)).
		Where("id = ?", saleID).First(&sale).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrSaleNotFound
	}
	if err != nil {
		return storage(err)
	}
	if !sale.Status.Mutable() {
		return ErrSaleNotOpen
	}
	return nil
}

// mutateOpen locks the sale row, checks it is still OPEN, applies fn and
// returns the sale as committed.
func (s *LedgerService) mutateOpen(ctx context.Context, caller auth.Identity, saleID uint, fn func(tx *gorm.DB, sale *models.Sale) error) (*models.Sale, error) {
	var out models.Sale
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sale models.Sale
		err := tx.Scopes(ForTenant(caller.TenantID), forUpdate).
			Where("id = ?", saleID).
			First(&sale).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSaleNotFound
		}
		if err != nil {
			return err
		}
		if !sale.Status.Mutable() {
			return ErrSaleNotOpen
		}
		if err := fn(tx, &sale); err != nil {
			return err
		}
		return tx.Preload("Lines", linesInOrder).First(&out, sale.ID).Error
	})
	if err != nil {
		if !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrInvalidState) {
			s.log.Error("sale mutation failed",
				zap.String("tenant_id", caller.TenantID),
				zap.Uint("sale_id", saleID),
				zap.Error(err))
		}
		return nil, storage(err)
	}
	return &out, nil
}

// priceLines validates the request and captures the current unit price of
// every product.
func (s *LedgerService) priceLines(ctx context.Context, tenantID string, lines []LineInput, allowEmpty bool) ([]models.SaleLine, error) {
	if len(lines) == 0 {
		if allowEmpty {
			return nil, nil
		}
		return nil, ErrEmptyLines
	}
	v := validation.Violations{}
	for i, l := range lines {
		validation.NonZeroID(fmt.Sprintf("lines[%d].product_id", i), l.ProductID, v)
		validation.PositiveInt(fmt.Sprintf("lines[%d].quantity", i), l.Quantity, v)
	}
	if !v.Empty() {
		return nil, invalid(v)
	}

	prices := make(map[uint]decimal.Decimal, len(lines))
	out := make([]models.SaleLine, 0, len(lines))
	for i, l := range lines {
		price, seen := prices[l.ProductID]
		if !seen {
			p, err := s.catalog.Lookup(ctx, tenantID, l.ProductID)
			if errors.Is(err, ErrNotFound) {
				return nil, notFoundProduct(fmt.Sprintf("lines[%d].product_id", i))
			}
			if err != nil {
				return nil, storage(err)
			}
			price = p.UnitPrice
			prices[l.ProductID] = price
		}
		out = append(out, models.SaleLine{
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			PriceUnit: price,
			LineTotal: money.LineTotal(l.Quantity, price),
		})
	}
	return out, nil
}

// recomputeTotal sets the sale total from its stored lines.
func recomputeTotal(tx *gorm.DB, saleID uint) error {
	var totals []decimal.Decimal
	if err := tx.Model(&models.SaleLine{}).Where("sale_id = ?", saleID).Pluck("line_total", &totals).Error; err != nil {
		return err
	}
	return tx.Model(&models.Sale{}).Where("id = ?", saleID).Update("total", money.Sum(totals...)).Error
}

func lineSum(lines []models.SaleLine) decimal.Decimal {
	totals := make([]decimal.Decimal, len(lines))
	for i, l := range lines {
		totals[i] = l.LineTotal
	}
	return money.Sum(totals...)
}

func linesInOrder(db *gorm.DB) *gorm.DB { return db.Order("id") }

func normalizePayment(method string) (string, error) {
	m := strings.ToLower(strings.TrimSpace(method))
	if m == "" {
		return models.PaymentCash, nil
	}
	if len(m) > 32 {
		return "", invalid(validation.Violations{"payment_method": "too_long"})
	}
	return m, nil
}
