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

type TableHandler struct {
	db   *gorm.DB
	gate Authorizer
	log  *zap.Logger
}

func NewTableHandler(db *gorm.DB, az Authorizer, log *zap.Logger) *TableHandler {
	return &TableHandler{db: db, gate: az, log: log}
}

type tableRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	IsActive    *bool  `json:"is_active"`
}

func (req *tableRequest) validate() validation.Violations {
	v := validation.Violations{}
	req.Name = strings.TrimSpace(req.Name)
	validation.Required("name", req.Name, v)
	validation.MaxLen("name", req.Name, 120, v)
	validation.MaxLen("description", req.Description, 500, v)
	return v
}

// tableView is a table plus whether a tab is currently open on it.
type tableView struct {
	models.Table
	HasOpenSale bool `json:"has_open_sale"`
}

func (h *TableHandler) openTables(r *http.Request, tenantID string) (map[uint]bool, error) {
	var ids []uint
	err := h.db.WithContext(r.Context()).Model(&models.Sale{}).
		Scopes(services.ForTenant(tenantID)).
		Where("status = ? AND table_id IS NOT NULL", models.SaleStatusOpen).
		Pluck("table_id", &ids).Error
	if err != nil {
		return nil, err
	}
	open := make(map[uint]bool, len(ids))
	for _, id := range ids {
		open[id] = true
	}
	return open, nil
}

func (h *TableHandler) List(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var tables []models.Table
	err := h.db.WithContext(r.Context()).Scopes(services.ForTenant(id.TenantID)).
		Order("name, id").Find(&tables).Error
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	open, err := h.openTables(r, id.TenantID)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	out := make([]tableView, len(tables))
	for i, t := range tables {
		out[i] = tableView{Table: t, HasOpenSale: open[t.ID]}
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *TableHandler) Create(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req tableRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	if v := req.validate(); !v.Empty() {
		httpx.JSONError(w, http.StatusBadRequest, "validation_failed", v)
		return
	}
	table := models.Table{
		TenantID:    id.TenantID,
		Name:        req.Name,
		Description: req.Description,
		IsActive:    req.IsActive == nil || *req.IsActive,
	}
	if err := h.db.WithContext(r.Context()).Create(&table).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			httpx.JSONError(w, http.StatusConflict, "table_name_taken", validation.Violations{"name": "already_exists"})
			return
		}
		writeServiceError(w, h.log, err)
		return
	}
	h.log.Info("table created", zap.String("tenant_id", id.TenantID), zap.Uint("table_id", table.ID))
	httpx.JSON(w, http.StatusCreated, tableView{Table: table})
}

func (h *TableHandler) View(w http.ResponseWriter, r *http.Request) {
	table, ok := h.load(w, r, gate.ActionView)
	if !ok {
		return
	}
	open, err := h.openTables(r, table.TenantID)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, tableView{Table: *table, HasOpenSale: open[table.ID]})
}

func (h *TableHandler) Update(w http.ResponseWriter, r *http.Request) {
	table, ok := h.load(w, r, gate.ActionUpdate)
	if !ok {
		return
	}
	var req tableRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	if v := req.validate(); !v.Empty() {
		httpx.JSONError(w, http.StatusBadRequest, "validation_failed", v)
		return
	}
	table.Name = req.Name
	table.Description = req.Description
	if req.IsActive != nil {
		table.IsActive = *req.IsActive
	}
	if err := h.db.WithContext(r.Context()).Save(table).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			httpx.JSONError(w, http.StatusConflict, "table_name_taken", validation.Violations{"name": "already_exists"})
			return
		}
		writeServiceError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, tableView{Table: *table})
}

// Delete refuses while a tab is open on the table.
func (h *TableHandler) Delete(w http.ResponseWriter, r *http.Request) {
	table, ok := h.load(w, r, gate.ActionDelete)
	if !ok {
		return
	}
	open, err := h.openTables(r, table.TenantID)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	if open[table.ID] {
		writeServiceError(w, h.log, services.ErrTableOccupied)
		return
	}
	if err := h.db.WithContext(r.Context()).Delete(table).Error; err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *TableHandler) load(w http.ResponseWriter, r *http.Request, action gate.Action) (*models.Table, bool) {
	id, ok := identity(w, r)
	if !ok {
		return nil, false
	}
	tableID, ok := pathID(r, "id")
	if !ok {
		writeBadID(w, "id")
		return nil, false
	}
	var table models.Table
	err := h.db.WithContext(r.Context()).Scopes(services.ForTenant(id.TenantID)).
		Where("id = ?", tableID).First(&table).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		writeServiceError(w, h.log, services.ErrTableNotFound)
		return nil, false
	}
	if err != nil {
		writeServiceError(w, h.log, err)
		return nil, false
	}
	if err := h.gate.Authorize(r.Context(), action, "table", &table); err != nil {
		writeServiceError(w, h.log, err)
		return nil, false
	}
	return &table, true
}
