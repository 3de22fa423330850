package gate

import "context"

// HybridGate checks the subject's profile first and then, when a loaded
// resource is supplied, the policy registered for its resource type.
type HybridGate[U comparable] struct {
	resolver ProfileResolver[U]
	policies map[string]Policy[U]
}

func NewHybridGate[U comparable](resolver ProfileResolver[U]) *HybridGate[U] {
	return &HybridGate[U]{
		resolver: resolver,
		policies: make(map[string]Policy[U]),
	}
}

// Register sets the record-level policy for resourceType, replacing any
// previous one.
func (g *HybridGate[U]) Register(resourceType string, p Policy[U]) {
	g.policies[resourceType] = p
}

// Authorize returns ErrUnauthorized for the zero subject and ErrForbidden
// when the profile lacks the grant or the resource policy refuses.
func (g *HybridGate[U]) Authorize(ctx context.Context, user U, action Action, resourceType string, resource any) error {
	var zero U
	if user == zero {
		return ErrUnauthorized
	}
	if !g.CanProfile(ctx, user, action, resourceType) {
		return ErrForbidden
	}
	if resource == nil {
		return nil
	}
	if p, ok := g.policies[resourceType]; ok && !p.Can(ctx, user, action, resource) {
		return ErrForbidden
	}
	return nil
}

func (g *HybridGate[U]) Can(ctx context.Context, user U, action Action, resourceType string, resource any) bool {
	return g.Authorize(ctx, user, action, resourceType, resource) == nil
}

// CanProfile checks the profile grant only. Route middleware uses it before
// any record is loaded.
func (g *HybridGate[U]) CanProfile(ctx context.Context, user U, action Action, resourceType string) bool {
	var zero U
	if user == zero {
		return false
	}
	profile, err := g.resolver.Resolve(ctx, user)
	if err != nil || profile == nil {
		return false
	}
	return profile.HasPermission(NewPermission(resourceType, action))
}
