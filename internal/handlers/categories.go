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
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CategoryHandler manages the product categories of a tenant. Access is
// granted through the product permissions.
type CategoryHandler struct {
	db   *gorm.DB
	gate Authorizer
	log  *zap.Logger
}

func NewCategoryHandler(db *gorm.DB, az Authorizer, log *zap.Logger) *CategoryHandler {
	return &CategoryHandler{db: db, gate: az, log: log}
}

type categoryRequest struct {
	Name string `json:"name"`
}

func (req *categoryRequest) validate() validation.Violations {
	v := validation.Violations{}
	req.Name = strings.TrimSpace(req.Name)
	validation.Required("name", req.Name, v)
	validation.MaxLen("name", req.Name, 120, v)
	return v
}

func (h *CategoryHandler) List(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	skip := httpx.QueryInt(r, "skip", 0)
	if skip < 0 {
		skip = 0
	}
	limit := httpx.QueryInt(r, "limit", 100)
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	categories := []models.Category{}
	err := h.db.WithContext(r.Context()).Scopes(services.ForTenant(id.TenantID)).
		Order("name, id").Offset(skip).Limit(limit).Find(&categories).Error
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, categories)
}

func (h *CategoryHandler) Create(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req categoryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	if v := req.validate(); !v.Empty() {
		httpx.JSONError(w, http.StatusBadRequest, "validation_failed", v)
		return
	}
	category := models.Category{TenantID: id.TenantID, Name: req.Name}
	if err := h.db.WithContext(r.Context()).Create(&category).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			httpx.JSONError(w, http.StatusConflict, "category_name_taken", validation.Violations{"name": "already_exists"})
			return
		}
		writeServiceError(w, h.log, err)
		return
	}
	h.log.Info("category created", zap.String("tenant_id", id.TenantID), zap.Uint("category_id", category.ID))
	httpx.JSON(w, http.StatusCreated, category)
}

// Update renames a category.
func (h *CategoryHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	categoryID, ok := pathID(r, "id")
	if !ok {
		writeBadID(w, "id")
		return
	}
	var req categoryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	if v := req.validate(); !v.Empty() {
		httpx.JSONError(w, http.StatusBadRequest, "validation_failed", v)
		return
	}

	var category models.Category
	err := h.db.WithContext(r.Context()).Scopes(services.ForTenant(id.TenantID)).
		Where("id = ?", categoryID).First(&category).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		writeServiceError(w, h.log, services.ErrCategoryNotFound)
		return
	}
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	if err := h.gate.Authorize(r.Context(), gate.ActionUpdate, "product", &category); err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	category.Name = req.Name
	if err := h.db.WithContext(r.Context()).Save(&category).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			httpx.JSONError(w, http.StatusConflict, "category_name_taken", validation.Violations{"name": "already_exists"})
			return
		}
		writeServiceError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, category)
}

// tenantCategory loads a category of tenantID, reporting ErrInvalidCategory
// when the id names nothing the tenant owns.
func tenantCategory(tx *gorm.DB, tenantID string, categoryID uint) (*models.Category, error) {
	var c models.Category
	err := tx.Scopes(services.ForTenant(tenantID)).Where("id = ?", categoryID).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, services.ErrInvalidCategory
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
