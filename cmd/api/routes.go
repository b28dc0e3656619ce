package main

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"voiceagent-lbs/internal/auth"
	"voiceagent-lbs/internal/calls"
	"voiceagent-lbs/internal/catalog"
	"voiceagent-lbs/internal/config"
	"voiceagent-lbs/internal/coordination"
	"voiceagent-lbs/internal/events"
	"voiceagent-lbs/internal/httpapi"
	"voiceagent-lbs/internal/rbac"
	"voiceagent-lbs/internal/routing"
	"voiceagent-lbs/internal/telephony"
)

type deps struct {
	cfg        config.Config
	auth       *auth.Manager
	webhooks   telephony.WebhookHandler
	engine     *routing.Engine
	cache      *catalog.CachedSource
	dispatcher *events.Dispatcher
	sessions   *calls.Store
	store      coordination.Store
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d deps) {
	h := httpapi.Handlers{
		Engine:   d.engine,
		Cache:    d.cache,
		Emitter:  d.dispatcher,
		Sessions: d.sessions,
		Store:    d.store,
	}

	// public
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)
	if d.cfg.App.MetricsEnabled {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	// Carrier webhooks. Tenants are resolved from the payload domain and
	// authenticated with their webhook token inside the handlers.
	webhooks := r.Group("/webhooks/cloudonix")
	{
		webhooks.POST("/voice", d.webhooks.HandleVoice)
		webhooks.POST("/session", d.webhooks.HandleSession)
		webhooks.POST("/cdr", d.webhooks.HandleCDR)
	}

	// internal admin surface
	internal := r.Group("/internal/v1")
	internal.Use(auth.RequireAccessToken(d.auth))
	{
		tenants := internal.Group("/tenants/:tenant_id")

		tenants.POST("/groups/:group_id/invalidate",
			append(httpapi.RequireTenantAndAnyRole(rbac.RoleAdmin, rbac.RoleService), h.InvalidateGroup)...,
		)
		tenants.GET("/sessions/:token",
			append(httpapi.RequireTenantAndAnyRole(rbac.RoleAdmin, rbac.RoleService, rbac.RoleViewer), h.ShowSession)...,
		)
	}
}
