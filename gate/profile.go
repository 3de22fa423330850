package gate

import "context"

// Profile is a named set of grants (a role).
type Profile interface {
	ID() uint
	Name() string
	HasPermission(permission Permission) bool
	Permissions() []Permission
}

// ProfileResolver maps a subject to its profile. A nil profile with a nil
// error means the subject has no profile and is denied everything.
type ProfileResolver[U any] interface {
	Resolve(ctx context.Context, user U) (Profile, error)
}

// StaticProfile is an in-memory Profile.
type StaticProfile struct {
	id    uint
	name  string
	perms []Permission
}

func NewStaticProfile(id uint, name string, permissions ...Permission) *StaticProfile {
	return &StaticProfile{id: id, name: name, perms: append([]Permission(nil), permissions...)}
}

func (p *StaticProfile) ID() uint     { return p.id }
func (p *StaticProfile) Name() string { return p.name }

func (p *StaticProfile) Permissions() []Permission {
	return append([]Permission(nil), p.perms...)
}

func (p *StaticProfile) HasPermission(requested Permission) bool {
	return HasAny(p.perms, requested)
}

// HasAny reports whether any grant in perms matches requested.
func HasAny(perms []Permission, requested Permission) bool {
	for _, perm := range perms {
		if perm.Matches(requested) {
			return true
		}
	}
	return false
}

// StaticResolver resolves subjects from a fixed map. Used by tests and by
// deployments that configure roles in code.
type StaticResolver[U comparable] struct {
	profiles map[U]Profile
}

func NewStaticResolver[U comparable]() *StaticResolver[U] {
	return &StaticResolver[U]{profiles: make(map[U]Profile)}
}

func (r *StaticResolver[U]) Set(user U, profile Profile) {
	r.profiles[user] = profile
}

func (r *StaticResolver[U]) Resolve(_ context.Context, user U) (Profile, error) {
	return r.profiles[user], nil
}
