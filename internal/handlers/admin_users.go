package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/diewo77/go-pos/auth"
	"github.com/diewo77/go-pos/httpx"
	"github.com/diewo77/go-pos/internal/models"
	"github.com/diewo77/go-pos/internal/services"
	"github.com/diewo77/go-pos/validation"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var assignableRoles = []string{models.ProfileAdmin, models.ProfileCashier, models.ProfileViewer}

// AdminUserHandler lets tenant admins manage the staff accounts of their
// own tenant.
type AdminUserHandler struct {
	db    *gorm.DB
	cache ProfileCache
	log   *zap.Logger
}

func NewAdminUserHandler(db *gorm.DB, cache ProfileCache, log *zap.Logger) *AdminUserHandler {
	return &AdminUserHandler{db: db, cache: cache, log: log}
}

type createUserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

type assignRoleRequest struct {
	Role string `json:"role"`
}

func (h *AdminUserHandler) List(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	users := []models.User{}
	err := h.db.WithContext(r.Context()).Preload("Profile").
		Scopes(services.ForTenant(id.TenantID)).
		Order("id").Find(&users).Error
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, users)
}

// Create adds a user to the caller's tenant. Role defaults to cashier.
func (h *AdminUserHandler) Create(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req createUserRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	if req.Role == "" {
		req.Role = models.ProfileCashier
	}
	creds := credentials{Email: req.Email, Password: req.Password, Name: req.Name}
	v := creds.validate(true)
	validation.OneOf("role", req.Role, assignableRoles, v)
	if !v.Empty() {
		httpx.JSONError(w, http.StatusBadRequest, "validation_failed", v)
		return
	}
	hash, err := auth.HashPassword(creds.Password)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	profile, err := profileByName(h.db.WithContext(r.Context()), req.Role)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	user := models.User{
		Email:     creds.Email,
		Name:      strings.TrimSpace(creds.Name),
		Password:  hash,
		TenantID:  id.TenantID,
		ProfileID: &profile.ID,
	}
	if err := h.db.WithContext(r.Context()).Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			httpx.JSONError(w, http.StatusConflict, "email_taken", validation.Violations{"email": "already_exists"})
			return
		}
		writeServiceError(w, h.log, err)
		return
	}
	user.Profile = profile
	h.log.Info("user created",
		zap.String("tenant_id", id.TenantID),
		zap.Uint("user_id", user.ID),
		zap.String("role", req.Role))
	httpx.JSON(w, http.StatusCreated, user)
}

// AssignProfile changes a user's role and drops their cached grants.
func (h *AdminUserHandler) AssignProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	userID, ok := pathID(r, "id")
	if !ok {
		writeBadID(w, "id")
		return
	}
	var req assignRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	v := validation.Violations{}
	validation.OneOf("role", req.Role, assignableRoles, v)
	if !v.Empty() {
		httpx.JSONError(w, http.StatusBadRequest, "validation_failed", v)
		return
	}
	if userID == id.UserID && req.Role != models.ProfileAdmin {
		httpx.JSONError(w, http.StatusConflict, "cannot_demote_self", nil)
		return
	}

	profile, err := profileByName(h.db.WithContext(r.Context()), req.Role)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	res := h.db.WithContext(r.Context()).Model(&models.User{}).
		Scopes(services.ForTenant(id.TenantID)).
		Where("id = ?", userID).
		Update("profile_id", profile.ID)
	if res.Error != nil {
		writeServiceError(w, h.log, res.Error)
		return
	}
	if res.RowsAffected == 0 {
		httpx.JSONError(w, http.StatusNotFound, "user_not_found", nil)
		return
	}
	if h.cache != nil {
		h.cache.InvalidateUser(userID)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user_id": userID, "role": profile.Name})
}

// Delete removes a user of the caller's tenant. Their sales stay and lose
// the reference to them.
func (h *AdminUserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	userID, ok := pathID(r, "id")
	if !ok {
		writeBadID(w, "id")
		return
	}
	if userID == id.UserID {
		httpx.JSONError(w, http.StatusConflict, "cannot_delete_self", nil)
		return
	}

	var found bool
	err := h.db.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
		res := tx.Scopes(services.ForTenant(id.TenantID)).Where("id = ?", userID).Delete(&models.User{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		found = true
		return services.UnlinkUser(tx, id.TenantID, userID)
	})
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	if !found {
		httpx.JSONError(w, http.StatusNotFound, "user_not_found", nil)
		return
	}
	if h.cache != nil {
		h.cache.InvalidateUser(userID)
	}
	h.log.Info("user deleted", zap.String("tenant_id", id.TenantID), zap.Uint("user_id", userID))
	w.WriteHeader(http.StatusNoContent)
}

// Profiles lists the roles that can be assigned, with their grants.
func (h *AdminUserHandler) Profiles(w http.ResponseWriter, r *http.Request) {
	profiles := []models.Profile{}
	err := h.db.WithContext(r.Context()).Preload("Permissions").
		Where("name IN ?", assignableRoles).
		Order("id").Find(&profiles).Error
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, profiles)
}
