package rbac

// Built-in role IDs seeded at startup.
const (
	RoleSuperAdmin   = "super_admin"
	RoleAdmin        = "admin"
	RoleModerator    = "moderator"
	RoleAlumni       = "alumni"
	RoleFamilyMember = "family_member"
)

// BuiltinRoles returns the platform's default role definitions. The admin
// role inherits moderator through its hierarchy, which keeps the inherited
// path exercised in production configuration rather than only in tests.
func BuiltinRoles() []Role {
	return []Role{
		{
			ID:   RoleSuperAdmin,
			Name: "Super Administrator",
			Permissions: []Permission{
				{Resource: WildcardResource, Action: ActionManage},
			},
		},
		{
			ID:   RoleAdmin,
			Name: "Administrator",
			Permissions: []Permission{
				{Resource: "roles", Action: ActionManage},
				{Resource: "users", Action: ActionManage},
				{Resource: "invitations", Action: ActionManage},
				{Resource: "ratelimit", Action: ActionManage},
			},
			Hierarchy: []string{RoleModerator},
		},
		{
			ID:   RoleModerator,
			Name: "Moderator",
			Permissions: []Permission{
				{Resource: "chat", Action: ActionManage},
				{Resource: "users", Action: "read"},
			},
		},
		{
			ID:   RoleAlumni,
			Name: "Alumni",
			Permissions: []Permission{
				{Resource: "chat", Action: "read"},
				{Resource: "chat", Action: "write"},
				{Resource: "invitations", Action: "create"},
				{Resource: "profile", Action: "update", Conditions: map[string]any{"owner": true}},
			},
		},
		{
			ID:   RoleFamilyMember,
			Name: "Family Member",
			Permissions: []Permission{
				{Resource: "chat", Action: "read"},
				{Resource: "chat", Action: "write"},
				{Resource: "profile", Action: "update", Conditions: map[string]any{"owner": true}},
			},
		},
	}
}
