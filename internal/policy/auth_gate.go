package policy

import (
	"context"
	"net/http"
	"time"

	"github.com/diewo77/go-pos/auth"
	"github.com/diewo77/go-pos/gate"
	"github.com/diewo77/go-pos/httpx"
	"gorm.io/gorm"
)

// AuthGate is the single authorization point of the API. Subjects are full
// identities, so a profile is always resolved within the caller's tenant.
type AuthGate struct {
	Gate          *gate.HybridGate[auth.Identity]
	CacheResolver *gate.CachedResolver[auth.Identity]
}

// NewAuthGate resolves profiles from the database and caches them for
// cacheTTL. A zero TTL disables caching.
func NewAuthGate(db *gorm.DB, cacheTTL time.Duration) *AuthGate {
	return NewAuthGateWithResolver(NewDBProfileResolver(db), cacheTTL)
}

func NewAuthGateWithResolver(resolver gate.ProfileResolver[auth.Identity], cacheTTL time.Duration) *AuthGate {
	cached := gate.NewCachedResolver[auth.Identity](resolver, cacheTTL)
	return &AuthGate{
		Gate:          gate.NewHybridGate[auth.Identity](cached),
		CacheResolver: cached,
	}
}

func (ag *AuthGate) RegisterPolicy(resourceType string, p gate.Policy[auth.Identity]) {
	ag.Gate.Register(resourceType, p)
}

// Authorize checks the caller's profile and, for a loaded resource, the
// policy registered for its type.
func (ag *AuthGate) Authorize(ctx context.Context, action gate.Action, resourceType string, resource any) error {
	id, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return gate.ErrUnauthorized
	}
	return ag.Gate.Authorize(ctx, id, action, resourceType, resource)
}

func (ag *AuthGate) Can(ctx context.Context, action gate.Action, resourceType string, resource any) bool {
	return ag.Authorize(ctx, action, resourceType, resource) == nil
}

func (ag *AuthGate) CanProfile(ctx context.Context, action gate.Action, resourceType string) bool {
	id, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return false
	}
	return ag.Gate.CanProfile(ctx, id, action, resourceType)
}

// IsAdmin reports whether the caller holds "*:*".
func (ag *AuthGate) IsAdmin(ctx context.Context) bool {
	id, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return false
	}
	profile, err := ag.CacheResolver.Resolve(ctx, id)
	if err != nil || profile == nil {
		return false
	}
	return profile.HasPermission(gate.PermissionSuperAdmin)
}

// InvalidateUser drops every cached profile of userID, whatever tenant or
// role its tokens carry.
func (ag *AuthGate) InvalidateUser(userID uint) int {
	return ag.CacheResolver.InvalidateWhere(func(id auth.Identity) bool {
		return id.UserID == userID
	})
}

func (ag *AuthGate) InvalidateAll() {
	ag.CacheResolver.InvalidateAll()
}

// RequirePermission answers 401 without an identity and 403 when the
// caller's profile lacks resourceType:action.
func (ag *AuthGate) RequirePermission(resourceType string, action gate.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := auth.IdentityFromContext(r.Context()); !ok {
				httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
				return
			}
			if !ag.CanProfile(r.Context(), action, resourceType) {
				httpx.JSONError(w, http.StatusForbidden, "forbidden", map[string]string{
					"permission": string(gate.NewPermission(resourceType, action)),
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin only lets "*:*" profiles through.
func (ag *AuthGate) RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := auth.IdentityFromContext(r.Context()); !ok {
				httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
				return
			}
			if !ag.IsAdmin(r.Context()) {
				httpx.JSONError(w, http.StatusForbidden, "forbidden", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
