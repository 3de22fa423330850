package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/diewo77/go-pos/auth"
	"github.com/diewo77/go-pos/gate"
	"github.com/diewo77/go-pos/httpx"
	"github.com/diewo77/go-pos/internal/config"
	"github.com/diewo77/go-pos/internal/db"
	"github.com/diewo77/go-pos/internal/models"
	"github.com/diewo77/go-pos/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// tenantGate allows every action inside the caller's tenant, like the
// production gate does for an admin.
type tenantGate struct{ deny bool }

func (g tenantGate) Authorize(ctx context.Context, _ gate.Action, _ string, resource any) error {
	id, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return gate.ErrUnauthorized
	}
	if g.deny {
		return gate.ErrForbidden
	}
	if scoped, ok := resource.(interface{ GetTenantID() string }); ok && scoped.GetTenantID() != id.TenantID {
		return gate.ErrForbidden
	}
	return nil
}

type cacheSpy struct{ invalidated []uint }

func (c *cacheSpy) InvalidateUser(userID uint) int {
	c.invalidated = append(c.invalidated, userID)
	return 1
}

type env struct {
	t      *testing.T
	db     *gorm.DB
	router chi.Router
	cache  *cacheSpy
}

func newEnv(t *testing.T, az Authorizer) *env {
	t.Helper()
	conn, err := db.Open(config.DatabaseConfig{
		Driver: config.DriverSQLite,
		Path:   fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_")),
	}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, db.Migrate(conn))
	require.NoError(t, db.Seed(conn))
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			sqlDB.Close()
		}
	})

	log := zap.NewNop()
	ledger := services.NewLedgerService(conn, services.NewGormCatalog(conn), services.NewGormTableRegistry(conn), log, nil)
	closings := services.NewClosingService(conn, log, nil)
	sh := NewSaleHandler(ledger, az, log)
	ch := NewClosingHandler(closings, az, log)
	ph := NewProductHandler(conn, az, log)
	th := NewTableHandler(conn, az, log)
	cth := NewCategoryHandler(conn, az, log)
	cache := &cacheSpy{}
	uh := NewAdminUserHandler(conn, cache, log)

	r := chi.NewRouter()
	r.Post("/sales", sh.Create)
	r.Get("/sales", sh.List)
	r.Post("/sales/open", sh.Open)
	r.Get("/sales/{id}", sh.Get)
	r.Put("/sales/{id}/lines", sh.ReplaceLines)
	r.Post("/sales/{id}/close", sh.Close)
	r.Post("/cash-closing", ch.CreateX)
	r.Delete("/cash-closing/sales", ch.CreateZ)
	r.Get("/cash-closing/{id}", ch.Get)
	r.Get("/products", ph.List)
	r.Post("/products", ph.Create)
	r.Get("/products/categories", cth.List)
	r.Post("/products/categories", cth.Create)
	r.Put("/products/categories/{id}", cth.Update)
	r.Get("/products/{id}", ph.View)
	r.Put("/products/{id}", ph.Update)
	r.Get("/tables/{id}", th.View)
	r.Post("/tables", th.Create)
	r.Put("/auth/users/{id}/profile", uh.AssignProfile)
	r.Delete("/auth/users/{id}", uh.Delete)
	return &env{t: t, db: conn, router: r, cache: cache}
}

func (e *env) do(id *auth.Identity, method, path, body string) *httptest.ResponseRecorder {
	e.t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	if id != nil {
		req = req.WithContext(auth.WithIdentity(req.Context(), *id))
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *env) user(tenant, email, role string) auth.Identity {
	e.t.Helper()
	p, err := db.ProfileByName(e.db, role)
	require.NoError(e.t, err)
	u := models.User{Email: email, Password: "x", TenantID: tenant, ProfileID: &p.ID}
	require.NoError(e.t, e.db.Create(&u).Error)
	return auth.Identity{UserID: u.ID, TenantID: tenant, Role: role}
}

func (e *env) product(tenant, name, price string) uint {
	e.t.Helper()
	p := models.Product{TenantID: tenant, Name: name, Price: decimal.RequireFromString(price), Active: true}
	require.NoError(e.t, e.db.Create(&p).Error)
	return p.ID
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestStatusOf(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{services.ErrEmptyLines, http.StatusBadRequest, "lines_required"},
		{services.ErrSaleNotFound, http.StatusNotFound, "sale_not_found"},
		{services.ErrSaleNotOpen, http.StatusConflict, "sale_not_open"},
		{services.ErrTableOccupied, http.StatusConflict, "table_occupied"},
		{services.ErrNothingToClose, http.StatusConflict, "nothing_to_close"},
		{services.ErrPurgeIncomplete, http.StatusInternalServerError, "purge_incomplete"},
		{gate.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{fmt.Errorf("wrapped: %w", gate.ErrForbidden), http.StatusForbidden, "forbidden"},
		{httpx.ErrInvalidJSON, http.StatusBadRequest, "invalid_json"},
		{errors.New("disk on fire"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		status, code := statusOf(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.code, code, tc.err.Error())
	}
}

func TestWriteServiceErrorDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	writeServiceError(rec, zap.NewNop(), &services.Error{
		Kind:   services.ErrValidation,
		Code:   "validation_failed",
		Fields: map[string]string{"lines[0].quantity": "must_be_positive"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"validation_failed","details":{"lines[0].quantity":"must_be_positive"}}`, rec.Body.String())

	rec = httptest.NewRecorder()
	writeServiceError(rec, zap.NewNop(), services.ErrSaleNotFound)
	assert.JSONEq(t, `{"error":"sale_not_found"}`, rec.Body.String())
}

func TestHasBody(t *testing.T) {
	assert.False(t, hasBody(httptest.NewRequest(http.MethodPost, "/", nil)))
	assert.True(t, hasBody(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))))
}

func TestHandlersRequireIdentity(t *testing.T) {
	e := newEnv(t, tenantGate{})
	for _, path := range []string{"/sales", "/products"} {
		rec := e.do(nil, http.MethodGet, path, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestSaleHandlers(t *testing.T) {
	e := newEnv(t, tenantGate{})
	cashier := e.user("t1", "c@t1.test", models.ProfileCashier)
	p := e.product("t1", "Water", "1.20")

	rec := e.do(&cashier, http.MethodPost, "/sales/open", `{"name":"Terrace"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	tab := decode[models.Sale](t, rec)
	assert.Equal(t, models.SaleStatusOpen, tab.Status)

	rec = e.do(&cashier, http.MethodPut, fmt.Sprintf("/sales/%d/lines", tab.ID), fmt.Sprintf(`{"lines":[{"product_id":%d,"quantity":5}]}`, p))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	tab = decode[models.Sale](t, rec)
	assert.True(t, tab.Total.Equal(decimal.RequireFromString("6")))

	rec = e.do(&cashier, http.MethodPost, fmt.Sprintf("/sales/%d/close", tab.ID), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	tab = decode[models.Sale](t, rec)
	assert.Equal(t, "cash", tab.PaymentMethod)

	rec = e.do(&cashier, http.MethodPost, fmt.Sprintf("/sales/%d/close", tab.ID), "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = e.do(&cashier, http.MethodPost, "/sales/0/close", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"invalid_id","details":{"id":"invalid"}}`, rec.Body.String())

	rec = e.do(&cashier, http.MethodPost, "/sales", `{"lines":[`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_json", decode[httpx.ErrorResponse](t, rec).Error)

	rec = e.do(&cashier, http.MethodGet, "/sales?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.Sale](t, rec), 1)
}

func TestSaleGetUsesAuthorizer(t *testing.T) {
	e := newEnv(t, tenantGate{deny: true})
	cashier := e.user("t1", "c@t1.test", models.ProfileCashier)
	p := e.product("t1", "Tea", "2")

	rec := e.do(&cashier, http.MethodPost, "/sales", fmt.Sprintf(`{"lines":[{"product_id":%d,"quantity":1}]}`, p))
	require.Equal(t, http.StatusCreated, rec.Code)
	sale := decode[models.Sale](t, rec)

	rec = e.do(&cashier, http.MethodGet, fmt.Sprintf("/sales/%d", sale.ID), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestClosingHandlers(t *testing.T) {
	e := newEnv(t, tenantGate{})
	admin := e.user("t1", "a@t1.test", models.ProfileAdmin)
	other := e.user("t2", "a@t2.test", models.ProfileAdmin)
	p := e.product("t1", "Soup", "4.50")

	rec := e.do(&admin, http.MethodPost, "/cash-closing", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = e.do(&admin, http.MethodPost, "/sales", fmt.Sprintf(`{"payment_method":"card","lines":[{"product_id":%d,"quantity":2}]}`, p))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = e.do(&admin, http.MethodPost, "/cash-closing", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	x := decode[models.CashClosing](t, rec)
	assert.Equal(t, models.ClosingX, x.ClosingType)
	assert.True(t, x.TotalCard.Equal(decimal.RequireFromString("9")))

	rec = e.do(&other, http.MethodGet, fmt.Sprintf("/cash-closing/%d", x.ID), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(&admin, http.MethodDelete, "/cash-closing/sales", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.ClosingZ, decode[models.CashClosing](t, rec).ClosingType)
}

func TestProductHandlers(t *testing.T) {
	e := newEnv(t, tenantGate{})
	admin := e.user("t1", "a@t1.test", models.ProfileAdmin)

	rec := e.do(&admin, http.MethodPost, "/products", `{"name":"Iced Tea","sku":"tea-01","price":"2.456","tax":"21"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	p := decode[models.Product](t, rec)
	assert.Equal(t, "TEA-01", *p.SKU)
	assert.True(t, p.Price.Equal(decimal.RequireFromString("2.46")))

	rec = e.do(&admin, http.MethodPost, "/products", `{"name":"Mystery","price":"1","tax":"120"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(&admin, http.MethodPost, "/products", `{"name":"Coffee","price":"1.5","active":false}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = e.do(&admin, http.MethodGet, "/products?q=TEA", "")
	require.Equal(t, http.StatusOK, rec.Code)
	found := decode[[]models.Product](t, rec)
	require.Len(t, found, 1)
	assert.Equal(t, "Iced Tea", found[0].Name)

	rec = e.do(&admin, http.MethodGet, "/products?active=1", "")
	assert.Len(t, decode[[]models.Product](t, rec), 1)
	rec = e.do(&admin, http.MethodGet, "/products", "")
	assert.Len(t, decode[[]models.Product](t, rec), 2)
}

func TestCategoryHandlers(t *testing.T) {
	e := newEnv(t, tenantGate{})
	admin := e.user("t1", "a@t1.test", models.ProfileAdmin)
	intruder := e.user("t2", "i@t2.test", models.ProfileAdmin)

	rec := e.do(&admin, http.MethodPost, "/products/categories", `{"name":" Drinks "}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	drinks := decode[models.Category](t, rec)
	assert.Equal(t, "Drinks", drinks.Name)
	assert.Equal(t, "t1", drinks.TenantID)

	rec = e.do(&admin, http.MethodPost, "/products/categories", `{"name":"Drinks"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "category_name_taken", decode[map[string]any](t, rec)["error"])

	rec = e.do(&admin, http.MethodPost, "/products/categories", `{"name":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(&intruder, http.MethodPost, "/products/categories", `{"name":"Drinks"}`)
	require.Equal(t, http.StatusCreated, rec.Code, "names are unique per tenant only")
	foreign := decode[models.Category](t, rec)

	rec = e.do(&admin, http.MethodGet, "/products/categories", "")
	require.Equal(t, http.StatusOK, rec.Code)
	listed := decode[[]models.Category](t, rec)
	require.Len(t, listed, 1)
	assert.Equal(t, drinks.ID, listed[0].ID)

	rec = e.do(&admin, http.MethodPut, fmt.Sprintf("/products/categories/%d", drinks.ID), `{"name":"Beverages"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Beverages", decode[models.Category](t, rec).Name)

	rec = e.do(&admin, http.MethodPut, fmt.Sprintf("/products/categories/%d", foreign.ID), `{"name":"Stolen"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "category_not_found", decode[map[string]any](t, rec)["error"])
}

func TestProductCategoryAssignment(t *testing.T) {
	e := newEnv(t, tenantGate{})
	admin := e.user("t1", "a@t1.test", models.ProfileAdmin)
	own := models.Category{TenantID: "t1", Name: "Food"}
	other := models.Category{TenantID: "t2", Name: "Food"}
	require.NoError(t, e.db.Create(&own).Error)
	require.NoError(t, e.db.Create(&other).Error)

	rec := e.do(&admin, http.MethodPost, "/products", fmt.Sprintf(`{"name":"Bagel","price":"3","category_id":%d}`, other.ID))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[struct {
		Error   string            `json:"error"`
		Details map[string]string `json:"details"`
	}](t, rec)
	assert.Equal(t, "invalid_category", body.Error)
	assert.Equal(t, "not_found", body.Details["category_id"])

	rec = e.do(&admin, http.MethodPost, "/products", fmt.Sprintf(`{"name":"Bagel","price":"3","category_id":%d}`, own.ID))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	p := decode[models.Product](t, rec)
	require.NotNil(t, p.CategoryID)
	assert.Equal(t, own.ID, *p.CategoryID)
	require.NotNil(t, p.Category)
	assert.Equal(t, "Food", p.Category.Name)

	plain := e.product("t1", "Water", "1")
	rec = e.do(&admin, http.MethodGet, fmt.Sprintf("/products?category_id=%d", own.ID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	listed := decode[[]models.Product](t, rec)
	require.Len(t, listed, 1)
	assert.Equal(t, p.ID, listed[0].ID)
	require.NotNil(t, listed[0].Category)

	path := fmt.Sprintf("/products/%d", plain)
	rec = e.do(&admin, http.MethodPut, path, fmt.Sprintf(`{"name":"Water","price":"1","category_id":%d}`, other.ID))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = e.do(&admin, http.MethodPut, path, fmt.Sprintf(`{"name":"Water","price":"1","category_id":%d}`, own.ID))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = e.do(&admin, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, rec.Code)
	viewed := decode[models.Product](t, rec)
	require.NotNil(t, viewed.Category)
	assert.Equal(t, own.ID, viewed.Category.ID)

	rec = e.do(&admin, http.MethodPut, path, `{"name":"Water","price":"1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decode[models.Product](t, rec).CategoryID)

	var count int64
	require.NoError(t, e.db.Model(&models.Category{}).Count(&count).Error)
	assert.EqualValues(t, 2, count, "saving a product never writes categories")
}

func TestTableHandlers(t *testing.T) {
	e := newEnv(t, tenantGate{})
	admin := e.user("t1", "a@t1.test", models.ProfileAdmin)
	intruder := e.user("t2", "i@t2.test", models.ProfileAdmin)

	rec := e.do(&admin, http.MethodPost, "/tables", `{"name":"Patio 1"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	table := decode[models.Table](t, rec)
	assert.True(t, table.IsActive)

	rec = e.do(&admin, http.MethodPost, "/tables", `{"name":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(&admin, http.MethodPost, "/sales/open", fmt.Sprintf(`{"table_id":%d}`, table.ID))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = e.do(&admin, http.MethodGet, fmt.Sprintf("/tables/%d", table.ID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[map[string]any](t, rec)
	assert.Equal(t, true, view["has_open_sale"])

	rec = e.do(&intruder, http.MethodGet, fmt.Sprintf("/tables/%d", table.ID), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminUserHandlers(t *testing.T) {
	e := newEnv(t, tenantGate{})
	admin := e.user("t1", "a@t1.test", models.ProfileAdmin)
	cashier := e.user("t1", "c@t1.test", models.ProfileCashier)
	stranger := e.user("t2", "s@t2.test", models.ProfileCashier)
	p := e.product("t1", "Bread", "1")

	rec := e.do(&cashier, http.MethodPost, "/sales", fmt.Sprintf(`{"lines":[{"product_id":%d,"quantity":1}]}`, p))
	require.Equal(t, http.StatusCreated, rec.Code)
	sale := decode[models.Sale](t, rec)
	require.NotNil(t, sale.UserID)

	rec = e.do(&admin, http.MethodPut, fmt.Sprintf("/auth/users/%d/profile", admin.UserID), `{"role":"viewer"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = e.do(&admin, http.MethodPut, fmt.Sprintf("/auth/users/%d/profile", cashier.UserID), `{"role":"owner"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = e.do(&admin, http.MethodPut, fmt.Sprintf("/auth/users/%d/profile", stranger.UserID), `{"role":"viewer"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(&admin, http.MethodPut, fmt.Sprintf("/auth/users/%d/profile", cashier.UserID), `{"role":"viewer"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []uint{cashier.UserID}, e.cache.invalidated)

	rec = e.do(&admin, http.MethodDelete, fmt.Sprintf("/auth/users/%d", admin.UserID), "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = e.do(&admin, http.MethodDelete, fmt.Sprintf("/auth/users/%d", stranger.UserID), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(&admin, http.MethodDelete, fmt.Sprintf("/auth/users/%d", cashier.UserID), "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []uint{cashier.UserID, cashier.UserID}, e.cache.invalidated)

	var kept models.Sale
	require.NoError(t, e.db.First(&kept, sale.ID).Error)
	assert.Nil(t, kept.UserID)
}
