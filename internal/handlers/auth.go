package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/diewo77/go-pos/auth"
	"github.com/diewo77/go-pos/httpx"
	"github.com/diewo77/go-pos/internal/models"
	"github.com/diewo77/go-pos/validation"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const minPasswordLen = 8

type AuthHandler struct {
	db    *gorm.DB
	authn *auth.Authenticator
	log   *zap.Logger
}

func NewAuthHandler(db *gorm.DB, authn *auth.Authenticator, log *zap.Logger) *AuthHandler {
	return &AuthHandler{db: db, authn: authn, log: log}
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

func (c *credentials) validate(signup bool) validation.Violations {
	v := validation.Violations{}
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	validation.Required("email", c.Email, v)
	validation.MaxLen("email", c.Email, 255, v)
	if c.Email != "" && !strings.Contains(c.Email, "@") {
		v.Add("email", "invalid_format")
	}
	validation.Required("password", c.Password, v)
	if signup {
		if len(c.Password) < minPasswordLen {
			v.Add("password", "too_short")
		}
		validation.MaxLen("name", c.Name, 255, v)
	}
	return v
}

type tokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	UserID      uint      `json:"user_id"`
	TenantID    string    `json:"tenant_id"`
	Role        string    `json:"role"`
}

func (h *AuthHandler) issue(w http.ResponseWriter, status int, user *models.User) {
	id := auth.Identity{UserID: user.ID, TenantID: user.TenantID, Role: user.Role()}
	token, exp, err := h.authn.Issue(id)
	if err != nil {
		h.log.Error("issue token failed", zap.Uint("user_id", user.ID), zap.Error(err))
		httpx.JSONError(w, http.StatusInternalServerError, "token_error", nil)
		return
	}
	httpx.JSON(w, status, tokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresAt:   exp,
		UserID:      user.ID,
		TenantID:    user.TenantID,
		Role:        id.Role,
	})
}

// Register opens a new tenant and makes the caller its admin.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	if v := req.validate(true); !v.Empty() {
		httpx.JSONError(w, http.StatusBadRequest, "validation_failed", v)
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	var user models.User
	err = h.db.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
		profile, err := profileByName(tx, models.ProfileAdmin)
		if err != nil {
			return err
		}
		user = models.User{
			Email:     req.Email,
			Name:      strings.TrimSpace(req.Name),
			Password:  hash,
			TenantID:  uuid.NewString(),
			ProfileID: &profile.ID,
			Profile:   profile,
		}
		return tx.Omit("Profile").Create(&user).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		httpx.JSONError(w, http.StatusConflict, "email_taken", validation.Violations{"email": "already_exists"})
		return
	}
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	h.log.Info("tenant registered", zap.String("tenant_id", user.TenantID), zap.Uint("user_id", user.ID))
	h.issue(w, http.StatusCreated, &user)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	if v := req.validate(false); !v.Empty() {
		httpx.JSONError(w, http.StatusBadRequest, "validation_failed", v)
		return
	}
	var user models.User
	err := h.db.WithContext(r.Context()).Preload("Profile").Where("email = ?", req.Email).First(&user).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		writeServiceError(w, h.log, err)
		return
	}
	if err != nil || !auth.CheckPassword(user.Password, req.Password) {
		httpx.JSONError(w, http.StatusUnauthorized, "invalid_credentials", nil)
		return
	}
	h.issue(w, http.StatusOK, &user)
}

// Me returns the caller's account.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var user models.User
	err := h.db.WithContext(r.Context()).Preload("Profile").
		Where("id = ? AND tenant_id = ?", id.UserID, id.TenantID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func profileByName(tx *gorm.DB, name string) (*models.Profile, error) {
	var p models.Profile
	if err := tx.Where("name = ?", name).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}
