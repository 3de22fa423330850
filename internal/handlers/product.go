package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/diewo77/go-pos/gate"
	"github.com/diewo77/go-pos/httpx"
	"github.com/diewo77/go-pos/internal/models"
	"github.com/diewo77/go-pos/internal/services"
	"github.com/diewo77/go-pos/validation"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ProductHandler struct {
	db   *gorm.DB
	gate Authorizer
	log  *zap.Logger
}

func NewProductHandler(db *gorm.DB, az Authorizer, log *zap.Logger) *ProductHandler {
	return &ProductHandler{db: db, gate: az, log: log}
}

type productRequest struct {
	Name   string          `json:"name"`
	SKU    *string         `json:"sku"`
	Price  decimal.Decimal `json:"price"`
	Tax    decimal.Decimal `json:"tax"`
	Active *bool           `json:"active"`

	CategoryID *uint `json:"category_id"`
}

func (req *productRequest) validate() validation.Violations {
	v := validation.Violations{}
	req.Name = strings.TrimSpace(req.Name)
	validation.Required("name", req.Name, v)
	validation.MaxLen("name", req.Name, 255, v)
	if req.SKU != nil {
		sku := strings.ToUpper(strings.TrimSpace(*req.SKU))
		req.SKU = &sku
		if sku == "" {
			req.SKU = nil
		} else {
			validation.MaxLen("sku", sku, 64, v)
		}
	}
	validation.NonNegativeDecimal("price", req.Price, v)
	validation.NonNegativeDecimal("tax", req.Tax, v)
	if req.Tax.GreaterThan(decimal.NewFromInt(100)) {
		v.Add("tax", "out_of_range")
	}
	if req.CategoryID != nil && *req.CategoryID == 0 {
		req.CategoryID = nil
	}
	return v
}

// category resolves the requested category within the caller's tenant.
func (h *ProductHandler) category(r *http.Request, tenantID string, req *productRequest) (*models.Category, error) {
	if req.CategoryID == nil {
		return nil, nil
	}
	return tenantCategory(h.db.WithContext(r.Context()), tenantID, *req.CategoryID)
}

// List returns the tenant's products by name. ?q filters on name or SKU,
// ?active=1 hides inactive ones and ?category_id narrows to one category.
func (h *ProductHandler) List(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	q := h.db.WithContext(r.Context()).Scopes(services.ForTenant(id.TenantID))
	if term := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("q"))); term != "" {
		like := "%" + term + "%"
		q = q.Where("LOWER(name) LIKE ? OR LOWER(sku) LIKE ?", like, like)
	}
	if r.URL.Query().Get("active") == "1" {
		q = q.Where("active = ?", true)
	}
	if c := httpx.QueryInt(r, "category_id", 0); c > 0 {
		q = q.Where("category_id = ?", c)
	}
	skip := httpx.QueryInt(r, "skip", 0)
	if skip < 0 {
		skip = 0
	}
	limit := httpx.QueryInt(r, "limit", 100)
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	products := []models.Product{}
	if err := q.Preload("Category").Order("name, id").Offset(skip).Limit(limit).Find(&products).Error; err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, products)
}

func (h *ProductHandler) Create(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req productRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	if v := req.validate(); !v.Empty() {
		httpx.JSONError(w, http.StatusBadRequest, "validation_failed", v)
		return
	}
	category, err := h.category(r, id.TenantID, &req)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	product := models.Product{
		TenantID:   id.TenantID,
		Name:       req.Name,
		SKU:        req.SKU,
		Price:      req.Price.Round(2),
		Tax:        req.Tax.Round(2),
		Active:     req.Active == nil || *req.Active,
		CategoryID: req.CategoryID,
	}
	if err := h.db.WithContext(r.Context()).Omit(clause.Associations).Create(&product).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			httpx.JSONError(w, http.StatusConflict, "sku_taken", validation.Violations{"sku": "already_exists"})
			return
		}
		writeServiceError(w, h.log, err)
		return
	}
	h.log.Info("product created", zap.String("tenant_id", id.TenantID), zap.Uint("product_id", product.ID))
	product.Category = category
	httpx.JSON(w, http.StatusCreated, product)
}

func (h *ProductHandler) View(w http.ResponseWriter, r *http.Request) {
	product, ok := h.load(w, r, gate.ActionView)
	if !ok {
		return
	}
	httpx.JSON(w, http.StatusOK, product)
}

func (h *ProductHandler) Update(w http.ResponseWriter, r *http.Request) {
	product, ok := h.load(w, r, gate.ActionUpdate)
	if !ok {
		return
	}
	var req productRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	if v := req.validate(); !v.Empty() {
		httpx.JSONError(w, http.StatusBadRequest, "validation_failed", v)
		return
	}
	category, err := h.category(r, product.TenantID, &req)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	product.Name = req.Name
	product.SKU = req.SKU
	product.Price = req.Price.Round(2)
	product.Tax = req.Tax.Round(2)
	if req.Active != nil {
		product.Active = *req.Active
	}
	product.CategoryID = req.CategoryID
	product.Category = nil
	if err := h.db.WithContext(r.Context()).Omit(clause.Associations).Save(product).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			httpx.JSONError(w, http.StatusConflict, "sku_taken", validation.Violations{"sku": "already_exists"})
			return
		}
		writeServiceError(w, h.log, err)
		return
	}
	product.Category = category
	httpx.JSON(w, http.StatusOK, product)
}

// Delete removes a product. Lines already sold keep their captured price.
func (h *ProductHandler) Delete(w http.ResponseWriter, r *http.Request) {
	product, ok := h.load(w, r, gate.ActionDelete)
	if !ok {
		return
	}
	if err := h.db.WithContext(r.Context()).Delete(product).Error; err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// load fetches the product named in the path within the caller's tenant and
// runs the record-level check.
func (h *ProductHandler) load(w http.ResponseWriter, r *http.Request, action gate.Action) (*models.Product, bool) {
	id, ok := identity(w, r)
	if !ok {
		return nil, false
	}
	productID, ok := pathID(r, "id")
	if !ok {
		writeBadID(w, "id")
		return nil, false
	}
	var product models.Product
	err := h.db.WithContext(r.Context()).Scopes(services.ForTenant(id.TenantID)).
		Preload("Category").Where("id = ?", productID).First(&product).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		writeServiceError(w, h.log, services.ErrProductNotFound)
		return nil, false
	}
	if err != nil {
		writeServiceError(w, h.log, err)
		return nil, false
	}
	if err := h.gate.Authorize(r.Context(), action, "product", &product); err != nil {
		writeServiceError(w, h.log, err)
		return nil, false
	}
	return &product, true
}
