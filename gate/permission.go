package gate

import (
	"fmt"
	"strings"
)

// Permission is a grant in "resource:action" form, e.g. "sale:close".
type Permission string

const (
	Wildcard = "*"
	// PermissionSuperAdmin grants every action on every resource.
	PermissionSuperAdmin Permission = "*:*"
)

func NewPermission(resourceType string, action Action) Permission {
	return Permission(resourceType + ":" + string(action))
}

// ParsePermission validates a "resource:action" code.
func ParsePermission(code string) (Permission, error) {
	res, act, ok := strings.Cut(strings.TrimSpace(code), ":")
	if !ok || res == "" || act == "" {
		return "", fmt.Errorf("invalid permission %q", code)
	}
	return NewPermission(res, Action(act)), nil
}

// Split returns the resource and action halves, or empty strings when
// the permission is malformed.
func (p Permission) Split() (string, Action) {
	res, act, ok := strings.Cut(string(p), ":")
	if !ok {
		return "", ""
	}
	return res, Action(act)
}

// Matches reports whether p covers requested. "*:*" covers everything and
// "sale:*" covers every sale action.
func (p Permission) Matches(requested Permission) bool {
	if p == PermissionSuperAdmin || p == requested {
		return true
	}
	res, act := p.Split()
	reqRes, _ := requested.Split()
	return res != "" && res == reqRes && string(act) == Wildcard
}
