// Package rbac resolves permissions from roles, direct grants and
// one-level role hierarchy. Checks are pure in-memory lookups; role
// definitions may optionally be persisted through a Store.
package rbac

import "reflect"

const (
	// WildcardResource matches any resource string, including resources
	// introduced after the permission was granted. Broad grant; reserve it
	// for super-admin style roles.
	WildcardResource = "*"

	// ActionManage implies every action on the matched resource.
	ActionManage = "manage"
)

// Permission is a fine-grained capability. Conditions, when present,
// must all be satisfied by the request context for the permission to
// apply.
type Permission struct {
	Resource   string         `json:"resource"`
	Action     string         `json:"action"`
	Conditions map[string]any `json:"conditions,omitempty"`
}

// Matches reports whether this permission satisfies the requested
// (resource, action) under the given context.
func (p Permission) Matches(resource, action string, ctx map[string]any) bool {
	if p.Resource != WildcardResource && p.Resource != resource {
		return false
	}
	if p.Action != action && p.Action != ActionManage {
		return false
	}
	for key, want := range p.Conditions {
		got, ok := ctx[key]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

// pairKey identifies a permission for deduplication purposes.
func (p Permission) pairKey() string {
	return p.Resource + "\x00" + p.Action
}

// Role groups permissions. Hierarchy lists parent roles whose permissions
// are inherited; the walk is one level deep, so a role wanting multi-level
// inheritance must list its full ancestor chain itself.
type Role struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Permissions []Permission `json:"permissions"`
	Hierarchy   []string     `json:"hierarchy,omitempty"`
}

// UserPermissions is the per-user authorization record. The effective set
// is a deduplicated union of direct, role and ancestor-role permissions,
// recomputed on every mutation so reads never pay resolution cost.
type UserPermissions struct {
	UserID               string       `json:"user_id"`
	Roles                []string     `json:"roles"`
	DirectPermissions    []Permission `json:"direct_permissions"`
	EffectivePermissions []Permission `json:"effective_permissions"`
}

// CheckRequest asks whether a user may perform an action on a resource.
type CheckRequest struct {
	UserID   string         `json:"user_id"`
	Resource string         `json:"resource"`
	Action   string         `json:"action"`
	Context  map[string]any `json:"context,omitempty"`
}

// CheckResult is the structured authorization decision. Denials name the
// permission that would have satisfied the request so callers can render
// actionable errors and audit precisely.
type CheckResult struct {
	Allowed             bool             `json:"allowed"`
	Reason              string           `json:"reason,omitempty"`
	RequiredPermissions []Permission     `json:"required_permissions,omitempty"`
	UserPermissions     *UserPermissions `json:"user_permissions,omitempty"`
}
