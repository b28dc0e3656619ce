package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleAdmin   = "admin"
	RoleService = "service"
	RoleViewer  = "viewer"
	// RolePlatformAdmin operates across tenants and bypasses role checks.
	RolePlatformAdmin = "platform_admin"
)

func IsPlatformAdmin(role string) bool { return role == RolePlatformAdmin }

// Known reports whether role is one of the roles above.
func Known(role string) bool {
	switch role {
	case RoleAdmin, RoleService, RoleViewer, RolePlatformAdmin:
		return true
	default:
		return false
	}
}
