// Package catalog is the read-only configuration the routing core consumes:
// tenants, voice agents, groups with their memberships, routing rules and
// trunks. It is administered elsewhere.
package catalog

import (
	"context"
	"errors"
)

var (
	ErrNotFound       = errors.New("catalog: not found")
	ErrTenantNotFound = errors.New("catalog: tenant not found")
	ErrInvalid        = errors.New("catalog: invalid configuration")
)

// Source reads configuration. Implementations must be safe for concurrent use.
type Source interface {
	TenantByDomain(ctx context.Context, domain string) (Tenant, error)
	Tenant(ctx context.Context, tenantID string) (Tenant, error)
	Agent(ctx context.Context, tenantID, agentID string) (VoiceAgent, error)
	Group(ctx context.Context, tenantID, groupID string) (GroupView, error)
	// RoutingRules returns the tenant's enabled inbound rules.
	RoutingRules(ctx context.Context, tenantID string) ([]RoutingRule, error)
	// OutboundRules returns the tenant's enabled outbound rules.
	OutboundRules(ctx context.Context, tenantID string) ([]OutboundRule, error)
	// Trunks returns all of the tenant's trunks.
	Trunks(ctx context.Context, tenantID string) ([]Trunk, error)
}
