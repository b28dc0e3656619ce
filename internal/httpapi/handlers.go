package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"voiceagent-lbs/internal/auth"
	"voiceagent-lbs/internal/calls"
	"voiceagent-lbs/internal/lock"
	"voiceagent-lbs/internal/rbac"
	"voiceagent-lbs/internal/routing"
	"voiceagent-lbs/pkg/logger"
)

// Handlers groups the internal admin handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Engine   *routing.Engine
	Cache    routing.GroupCache
	Emitter  routing.Emitter
	Sessions SessionReader
	Store    Pinger
}

type SessionReader interface {
	Get(ctx context.Context, tenantID, token string) (*calls.Session, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// --- Health ---

func (h Handlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readyz reports ready only while the coordination store answers.
func (h Handlers) Readyz(c *gin.Context) {
	if h.Store == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	if err := h.Store.Ping(c.Request.Context()); err != nil {
		logger.FromGin(c).Warn("readiness check failed", slog.String("error", err.Error()))
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// --- Groups ---

// InvalidateGroup clears rotation state and cached configuration of a group
// after the administrative side edited its memberships.
// RBAC: admin or service.
func (h Handlers) InvalidateGroup(c *gin.Context) {
	if h.Engine == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "routing not configured"})
		return
	}
	tenantID, groupID := c.Param("tenant_id"), c.Param("group_id")
	if tenantID == "" || groupID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "tenant_id and group_id required"})
		return
	}

	actorID, _ := auth.ActorID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	ctx := routing.WithActor(c.Request.Context(), routing.Actor{ID: actorID, Role: role})
	ctx = routing.WithClientIP(ctx, c.ClientIP())
	ctx = logger.With(ctx, logger.FromGin(c))

	err := h.Engine.InvalidateGroup(ctx, tenantID, groupID, h.Cache, h.Emitter)
	if errors.Is(err, lock.ErrContention) {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "group busy, retry"})
		return
	}
	if err != nil {
		logger.FromGin(c).Error("group invalidation failed", slog.String("error", err.Error()))
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "invalidation failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant_id": tenantID, "group_id": groupID, "invalidated": true})
}

// --- Sessions ---

type sessionResponse struct {
	Session     *calls.Session `json:"session"`
	Consistent  bool           `json:"consistent"`
	VerifyError string         `json:"verify_error,omitempty"`
	Terminal    bool           `json:"terminal"`
}

// ShowSession returns a stored session and whether its history replays to
// its current state.
// RBAC: admin, service or viewer.
func (h Handlers) ShowSession(c *gin.Context) {
	if h.Sessions == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "sessions not configured"})
		return
	}
	s, err := h.Sessions.Get(c.Request.Context(), c.Param("tenant_id"), c.Param("token"))
	if errors.Is(err, calls.ErrSessionNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if err != nil {
		logger.FromGin(c).Error("session lookup failed", slog.String("error", err.Error()))
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "lookup failed"})
		return
	}
	resp := sessionResponse{Session: s, Consistent: true, Terminal: calls.IsTerminal(s.Status)}
	if err := s.Verify(); err != nil {
		resp.Consistent = false
		resp.VerifyError = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

// Convenience middleware bundles.

func RequireTenantAndAnyRole(roles ...string) []gin.HandlerFunc {
	return []gin.HandlerFunc{rbac.RequireTenant("tenant_id"), rbac.RequireAnyRole(roles...)}
}
