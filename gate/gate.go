// Package gate is a small authorization layer: subjects resolve to a
// permission profile ("resource:action" grants) and, once a concrete
// resource is loaded, an optional per-resource policy decides whether the
// subject may touch that particular record.
//
// The subject type is generic. The POS server uses auth.Identity so policies
// can compare the caller's tenant with the tenant of the loaded row.
package gate

import (
	"context"
	"errors"
)

// Action describes what a subject wants to do with a resource type.
type Action string

const (
	ActionView   Action = "view"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionList   Action = "list"
	// ActionClose settles an open record (a tab).
	ActionClose Action = "close"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

// Policy is consulted after the profile check, with the loaded resource.
// For list and create calls resource is nil.
type Policy[U any] interface {
	Can(ctx context.Context, user U, action Action, resource any) bool
}

// PolicyFunc adapts a plain function to Policy.
type PolicyFunc[U any] func(ctx context.Context, user U, action Action, resource any) bool

func (f PolicyFunc[U]) Can(ctx context.Context, user U, action Action, resource any) bool {
	return f(ctx, user, action, resource)
}
