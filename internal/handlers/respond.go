// Package handlers exposes the POS services over JSON/HTTP.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/diewo77/go-pos/auth"
	"github.com/diewo77/go-pos/gate"
	"github.com/diewo77/go-pos/httpx"
	"github.com/diewo77/go-pos/internal/services"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Authorizer checks a loaded record against the caller. policy.AuthGate
// implements it.
type Authorizer interface {
	Authorize(ctx context.Context, action gate.Action, resourceType string, resource any) error
}

// ProfileCache forgets cached grants of a user after a role change or
// deletion.
type ProfileCache interface {
	InvalidateUser(userID uint) int
}

func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest, services.CodeOf(err)
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound, services.CodeOf(err)
	case errors.Is(err, services.ErrInvalidState), errors.Is(err, services.ErrConflict):
		return http.StatusConflict, services.CodeOf(err)
	case errors.Is(err, gate.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, gate.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, httpx.ErrInvalidJSON):
		return http.StatusBadRequest, "invalid_json"
	}
	return http.StatusInternalServerError, services.CodeOf(err)
}

// writeServiceError maps a service error to its status and the
// {"error": code, "details": fields} envelope.
func writeServiceError(w http.ResponseWriter, log *zap.Logger, err error) {
	status, code := statusOf(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", zap.String("code", code), zap.Error(err))
	}
	var details any
	if fields := services.FieldsOf(err); len(fields) > 0 {
		details = fields
	}
	httpx.JSONError(w, status, code, details)
}

// pathID reads a positive numeric URL parameter.
func pathID(r *http.Request, key string) (uint, bool) {
	n, err := strconv.ParseUint(chi.URLParam(r, key), 10, 64)
	if err != nil || n == 0 {
		return 0, false
	}
	return uint(n), true
}

func writeBadID(w http.ResponseWriter, key string) {
	httpx.JSONError(w, http.StatusBadRequest, "invalid_id", map[string]string{key: "invalid"})
}

// identity returns the caller or answers 401.
func identity(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
	}
	return id, ok
}

// hasBody reports whether the request carries a body worth decoding.
func hasBody(r *http.Request) bool {
	return r.Body != nil && r.Body != http.NoBody && r.ContentLength != 0
}
