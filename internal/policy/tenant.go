package policy

import (
	"context"

	"github.com/diewo77/go-pos/auth"
	"github.com/diewo77/go-pos/gate"
)

// TenantScoped is implemented by every model that belongs to a tenant.
type TenantScoped interface {
	GetTenantID() string
}

// TenantPolicy lets a caller touch a loaded record only inside their own
// tenant. With no record (list, create) the profile check alone decides.
type TenantPolicy struct{}

func NewTenantPolicy() *TenantPolicy { return &TenantPolicy{} }

func (p *TenantPolicy) Can(_ context.Context, id auth.Identity, _ gate.Action, resource any) bool {
	if resource == nil {
		return true
	}
	scoped, ok := resource.(TenantScoped)
	if !ok {
		return false
	}
	return id.TenantID != "" && scoped.GetTenantID() == id.TenantID
}
