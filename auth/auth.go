// Package auth issues and verifies bearer tokens and carries the caller's
// identity (user, tenant, role) through the request context.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

type ctxKey string

const identityCtxKey = ctxKey("identity")

var (
	ErrInvalidToken = errors.New("invalid_token")
	ErrNoSecret     = errors.New("auth secret is empty")
)

// Identity is who is calling and on behalf of which tenant.
type Identity struct {
	UserID   uint
	TenantID string
	Role     string
}

// Valid reports whether the identity can scope a request.
func (i Identity) Valid() bool { return i.UserID != 0 && i.TenantID != "" }

type claims struct {
	UserID   uint   `json:"user_id"`
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier re-checks a token's identity against the user store, so tokens
// of deleted users stop working before they expire.
type Verifier func(ctx context.Context, id Identity) bool

// Authenticator signs and parses HS256 tokens.
type Authenticator struct {
	secret []byte
	ttl    time.Duration
	verify Verifier
	now    func() time.Time
}

func NewAuthenticator(secret string, ttl time.Duration, verify Verifier) (*Authenticator, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Authenticator{secret: []byte(secret), ttl: ttl, verify: verify, now: time.Now}, nil
}

// Issue returns a signed token for id and its expiry.
func (a *Authenticator) Issue(id Identity) (string, time.Time, error) {
	now := a.now()
	exp := now.Add(a.ttl)
	c := claims{
		UserID:   id.UserID,
		TenantID: id.TenantID,
		Role:     id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Parse validates a token and returns the identity it carries.
func (a *Authenticator) Parse(token string) (Identity, error) {
	tok, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.now))
	if err != nil || !tok.Valid {
		return Identity{}, ErrInvalidToken
	}
	c, ok := tok.Claims.(*claims)
	if !ok {
		return Identity{}, ErrInvalidToken
	}
	id := Identity{UserID: c.UserID, TenantID: c.TenantID, Role: c.Role}
	if !id.Valid() {
		return Identity{}, ErrInvalidToken
	}
	return id, nil
}

// Middleware attaches the identity of a valid bearer token to the request
// context. Requests without one pass through untouched; RequireAuth rejects
// them where needed.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tok := bearerToken(r); tok != "" {
			if id, err := a.Parse(tok); err == nil {
				r = r.WithContext(WithIdentity(r.Context(), id))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAuth answers 401 unless the context holds a verified identity.
func (a *Authenticator) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFromContext(r.Context())
		if !ok || (a.verify != nil && !a.verify(r.Context(), id)) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("WWW-Authenticate", "Bearer")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey, id)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityCtxKey).(Identity)
	if !ok || !id.Valid() {
		return Identity{}, false
	}
	return id, true
}

// UserIDFromContext is a shorthand for handlers that only need the caller id.
func UserIDFromContext(ctx context.Context) (uint, bool) {
	id, ok := IdentityFromContext(ctx)
	return id.UserID, ok
}

func HashPassword(plain string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func CheckPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
