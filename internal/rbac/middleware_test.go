package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"voiceagent-lbs/internal/auth"
)

func serve(tenantID, role, path string) int {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/tenants/:tenant_id/x", func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), "u", tenantID, role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}, RequireTenant("tenant_id"), RequireAnyRole(RoleAdmin, RoleService), func(c *gin.Context) {
		c.Status(200)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w.Code
}

func TestRequireAnyRole_PlatformAdminBypasses(t *testing.T) {
	if code := serve("", RolePlatformAdmin, "/tenants/t1/x"); code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireAnyRole_ViewerDenied(t *testing.T) {
	if code := serve("t1", RoleViewer, "/tenants/t1/x"); code != 403 {
		t.Fatalf("expected 403, got %d", code)
	}
}

func TestRequireTenant_OtherTenantHidden(t *testing.T) {
	if code := serve("t1", RoleAdmin, "/tenants/t2/x"); code != 404 {
		t.Fatalf("expected 404, got %d", code)
	}
	if code := serve("t1", RoleService, "/tenants/t1/x"); code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireTenant_PlatformScopeNeedsPlatformRole(t *testing.T) {
	if code := serve("", RoleAdmin, "/tenants/t1/x"); code != 403 {
		t.Fatalf("expected 403, got %d", code)
	}
}

func TestKnown(t *testing.T) {
	if !Known(RoleService) || Known("owner") {
		t.Fatalf("unexpected role table")
	}
}
