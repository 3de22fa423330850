package policy

import (
	"context"
	"time"

	"github.com/diewo77/go-pos/auth"
	"github.com/diewo77/go-pos/internal/handlers"
	"github.com/diewo77/go-pos/internal/metrics"
	"github.com/diewo77/go-pos/internal/models"
	"github.com/diewo77/go-pos/internal/services"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// tenantResources are the resource types whose records carry a tenant id.
var tenantResources = []string{"sale", "closing", "product", "table", "user"}

// RouterConfig holds the wired services, handlers and authorization of
// the API.
type RouterConfig struct {
	AuthGate      *AuthGate
	Authenticator *auth.Authenticator
	Metrics       *metrics.Metrics

	Ledger   *services.LedgerService
	Closings *services.ClosingService

	AuthHandler      *handlers.AuthHandler
	AdminUserHandler *handlers.AdminUserHandler
	SaleHandler      *handlers.SaleHandler
	ClosingHandler   *handlers.ClosingHandler
	ProductHandler   *handlers.ProductHandler
	TableHandler     *handlers.TableHandler
	CategoryHandler  *handlers.CategoryHandler
}

type Options struct {
	// ProfileCacheTTL bounds how long a role change takes to apply.
	ProfileCacheTTL time.Duration
	Logger          *zap.Logger
	// Metrics may be nil.
	Metrics *metrics.Metrics
}

func NewRouterConfig(db *gorm.DB, authn *auth.Authenticator, opts Options) *RouterConfig {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	authGate := NewAuthGate(db, opts.ProfileCacheTTL)
	tenant := NewTenantPolicy()
	for _, res := range tenantResources {
		authGate.RegisterPolicy(res, tenant)
	}

	ledger := services.NewLedgerService(db,
		services.NewGormCatalog(db),
		services.NewGormTableRegistry(db),
		log.Named("ledger"), opts.Metrics)
	closings := services.NewClosingService(db, log.Named("closing"), opts.Metrics)

	hlog := log.Named("http")
	return &RouterConfig{
		AuthGate:         authGate,
		Authenticator:    authn,
		Metrics:          opts.Metrics,
		Ledger:           ledger,
		Closings:         closings,
		AuthHandler:      handlers.NewAuthHandler(db, authn, hlog),
		AdminUserHandler: handlers.NewAdminUserHandler(db, authGate, hlog),
		SaleHandler:      handlers.NewSaleHandler(ledger, authGate, hlog),
		ClosingHandler:   handlers.NewClosingHandler(closings, authGate, hlog),
		ProductHandler:   handlers.NewProductHandler(db, authGate, hlog),
		TableHandler:     handlers.NewTableHandler(db, authGate, hlog),
		CategoryHandler:  handlers.NewCategoryHandler(db, authGate, hlog),
	}
}

// UserVerifier rejects tokens whose user no longer exists in the tenant the
// token names.
func UserVerifier(db *gorm.DB) auth.Verifier {
	return func(ctx context.Context, id auth.Identity) bool {
		var n int64
		err := db.WithContext(ctx).Model(&models.User{}).
			Where("id = ? AND tenant_id = ?", id.UserID, id.TenantID).
			Count(&n).Error
		return err == nil && n > 0
	}
}
