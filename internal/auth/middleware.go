package auth

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"voiceagent-lbs/pkg/logger"
)

// bearerToken returns the token of an "Authorization: Bearer <token>" header.
// The scheme is case-insensitive.
func bearerToken(header string) (string, bool) {
	scheme, tok, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}

// RequireAccessToken verifies an access token and puts the caller's identity
// into the request context. The request logger gains actor and tenant fields.
// Role and tenant checks belong to rbac.
func RequireAccessToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		ctx := c.Request.Context()
		claims, err := m.Verify(tok, TokenTypeAccess, time.Now())
		if err != nil {
			logger.From(ctx).Debug("access token rejected", slog.String("error", err.Error()))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		log := logger.From(ctx).With(
			slog.String("actor_id", claims.ActorID),
			slog.String("actor_tenant_id", claims.TenantID),
		)
		ctx = logger.With(WithIdentity(ctx, claims.ActorID, claims.TenantID, claims.Role), log)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
