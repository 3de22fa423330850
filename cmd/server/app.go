package main

import (
	"net/http"
	"time"

	"github.com/diewo77/go-pos/gate"
	"github.com/diewo77/go-pos/httpx"
	"github.com/diewo77/go-pos/internal/policy"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App is the HTTP entry point with every route mounted.
type App struct {
	router      chi.Router
	db          *gorm.DB
	routerCfg   *policy.RouterConfig
	log         *zap.Logger
	corsOrigins []string
}

func NewApp(db *gorm.DB, routerCfg *policy.RouterConfig, log *zap.Logger, corsOrigins []string) *App {
	app := &App{
		router:      chi.NewRouter(),
		db:          db,
		routerCfg:   routerCfg,
		log:         log,
		corsOrigins: corsOrigins,
	}
	app.setupRoutes()
	return app
}

func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

func (a *App) setupRoutes() {
	r := a.router
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(a.withLogging)
	if len(a.corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: a.corsOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
			MaxAge:         300,
		}))
	}
	r.Use(a.routerCfg.Authenticator.Middleware)

	r.Get("/health", a.health)
	r.Get("/healthz", a.healthz)
	if m := a.routerCfg.Metrics; m != nil {
		r.Handle("/metrics", m.Handler())
	}

	ah := a.routerCfg.AuthHandler
	uh := a.routerCfg.AdminUserHandler
	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", ah.Register)
		r.Post("/login", ah.Login)
		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth)
			r.Get("/me", ah.Me)
			r.With(a.requirePermission("user", gate.ActionList)).Get("/users", uh.List)
			r.With(a.requirePermission("user", gate.ActionCreate)).Post("/users", uh.Create)
			r.With(a.requireAdmin).Put("/users/{id}/profile", uh.AssignProfile)
			r.With(a.requirePermission("user", gate.ActionDelete)).Delete("/users/{id}", uh.Delete)
			r.With(a.requirePermission("user", gate.ActionList)).Get("/profiles", uh.Profiles)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(a.requireAuth)

		sh := a.routerCfg.SaleHandler
		r.Route("/sales", func(r chi.Router) {
			r.With(a.requirePermission("sale", gate.ActionCreate)).Post("/", sh.Create)
			r.With(a.requirePermission("sale", gate.ActionList)).Get("/", sh.List)
			r.With(a.requirePermission("sale", gate.ActionList)).Get("/open", sh.ListOpen)
			r.With(a.requirePermission("sale", gate.ActionCreate)).Post("/open", sh.Open)
			r.With(a.requirePermission("sale", gate.ActionView)).Get("/{id}", sh.Get)
			r.With(a.requirePermission("sale", gate.ActionUpdate)).Post("/{id}/lines", sh.AddLines)
			r.With(a.requirePermission("sale", gate.ActionUpdate)).Put("/{id}/lines", sh.ReplaceLines)
			r.With(a.requirePermission("sale", gate.ActionClose)).Post("/{id}/close", sh.Close)
		})

		ch := a.routerCfg.ClosingHandler
		r.Route("/cash-closing", func(r chi.Router) {
			r.With(a.requirePermission("closing", gate.ActionCreate)).Post("/", ch.CreateX)
			r.With(a.requirePermission("closing", gate.ActionDelete)).Delete("/sales", ch.CreateZ)
			r.With(a.requirePermission("closing", gate.ActionList)).Get("/", ch.List)
			r.With(a.requirePermission("closing", gate.ActionView)).Get("/{id}", ch.Get)
		})

		ph := a.routerCfg.ProductHandler
		cth := a.routerCfg.CategoryHandler
		r.Route("/products", func(r chi.Router) {
			r.With(a.requirePermission("product", gate.ActionList)).Get("/", ph.List)
			r.With(a.requirePermission("product", gate.ActionCreate)).Post("/", ph.Create)
			r.With(a.requirePermission("product", gate.ActionList)).Get("/categories", cth.List)
			r.With(a.requirePermission("product", gate.ActionCreate)).Post("/categories", cth.Create)
			r.With(a.requirePermission("product", gate.ActionUpdate)).Put("/categories/{id}", cth.Update)
			r.With(a.requirePermission("product", gate.ActionView)).Get("/{id}", ph.View)
			r.With(a.requirePermission("product", gate.ActionUpdate)).Put("/{id}", ph.Update)
			r.With(a.requirePermission("product", gate.ActionDelete)).Delete("/{id}", ph.Delete)
		})

		th := a.routerCfg.TableHandler
		r.Route("/tables", func(r chi.Router) {
			r.With(a.requirePermission("table", gate.ActionList)).Get("/", th.List)
			r.With(a.requirePermission("table", gate.ActionCreate)).Post("/", th.Create)
			r.With(a.requirePermission("table", gate.ActionView)).Get("/{id}", th.View)
			r.With(a.requirePermission("table", gate.ActionUpdate)).Put("/{id}", th.Update)
			r.With(a.requirePermission("table", gate.ActionDelete)).Delete("/{id}", th.Delete)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.JSONError(w, http.StatusNotFound, "route_not_found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.JSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
	})
}

func (a *App) requireAuth(next http.Handler) http.Handler {
	return a.routerCfg.Authenticator.RequireAuth(next)
}

func (a *App) requireAdmin(next http.Handler) http.Handler {
	return a.routerCfg.AuthGate.RequireAdmin()(next)
}

func (a *App) requirePermission(resourceType string, action gate.Action) func(http.Handler) http.Handler {
	return a.routerCfg.AuthGate.RequirePermission(resourceType, action)
}

// withLogging logs every request and feeds the HTTP metrics.
func (a *App) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		a.routerCfg.Metrics.ObserveRequest(r.Method, status, elapsed)
		a.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Duration("duration", elapsed),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (a *App) health(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// healthz also pings the database.
func (a *App) healthz(w http.ResponseWriter, r *http.Request) {
	sqlDB, err := a.db.DB()
	if err == nil {
		err = sqlDB.PingContext(r.Context())
	}
	if err != nil {
		a.log.Warn("health check failed", zap.Error(err))
		httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "database": "down"})
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok", "database": "up"})
}
