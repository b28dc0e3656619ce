package rbac

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"voiceagent-lbs/internal/auth"
)

// RequireTenant enforces the multi-tenant invariant on routes carrying a
// :tenant_id parameter: a tenant-scoped token may only reach its own tenant.
// Platform-scoped tokens (no tenant) must belong to a platform admin.
func RequireTenant(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		scoped, err := auth.TenantID(c.Request.Context())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
			return
		}
		role, _ := auth.Role(c.Request.Context())
		if scoped == "" {
			if !IsPlatformAdmin(role) {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "tenant scope required"})
				return
			}
			c.Next()
			return
		}
		if scoped != c.Param(param) {
			// Do not reveal whether the other tenant exists.
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.Next()
	}
}

// RequireAnyRole allows access if the caller has any of the provided roles.
// Rules:
// - platform_admin bypasses all checks
// - tenant isolation is enforced via RequireTenant (use it in the chain)
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, r := range allowed {
		allowedSet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		role, err := auth.Role(c.Request.Context())
		if err != nil || role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}
		if IsPlatformAdmin(role) {
			c.Next()
			return
		}
		if _, ok := allowedSet[role]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
