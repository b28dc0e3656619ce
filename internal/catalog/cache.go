package catalog

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultCacheTTL  = 30 * time.Second
	defaultCacheSize = 4096
)

// CachedSource memoizes successful reads of another Source for a short TTL.
// Misses and errors are never cached.
type CachedSource struct {
	next  Source
	cache *expirable.LRU[string, any]
}

var _ Source = (*CachedSource)(nil)

func NewCachedSource(next Source, size int, ttl time.Duration) *CachedSource {
	if size <= 0 {
		size = defaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedSource{next: next, cache: expirable.NewLRU[string, any](size, nil, ttl)}
}

func cached[T any](c *CachedSource, key string, load func() (T, error)) (T, error) {
	if v, ok := c.cache.Get(key); ok {
		if t, ok := v.(T); ok {
			return t, nil
		}
	}
	v, err := load()
	if err != nil {
		return v, err
	}
	c.cache.Add(key, v)
	return v, nil
}

func (c *CachedSource) TenantByDomain(ctx context.Context, domain string) (Tenant, error) {
	return cached(c, "domain|"+normalizeDomain(domain), func() (Tenant, error) { return c.next.TenantByDomain(ctx, domain) })
}

func (c *CachedSource) Tenant(ctx context.Context, tenantID string) (Tenant, error) {
	return cached(c, "tenant|"+tenantID, func() (Tenant, error) { return c.next.Tenant(ctx, tenantID) })
}

func (c *CachedSource) Agent(ctx context.Context, tenantID, agentID string) (VoiceAgent, error) {
	return cached(c, "agent|"+scoped(tenantID, agentID), func() (VoiceAgent, error) { return c.next.Agent(ctx, tenantID, agentID) })
}

func (c *CachedSource) Group(ctx context.Context, tenantID, groupID string) (GroupView, error) {
	gv, err := cached(c, groupCacheKey(tenantID, groupID), func() (GroupView, error) { return c.next.Group(ctx, tenantID, groupID) })
	if err != nil {
		return gv, err
	}
	gv.Members = append([]Member(nil), gv.Members...)
	return gv, nil
}

func (c *CachedSource) RoutingRules(ctx context.Context, tenantID string) ([]RoutingRule, error) {
	rules, err := cached(c, "rules|"+tenantID, func() ([]RoutingRule, error) { return c.next.RoutingRules(ctx, tenantID) })
	return append([]RoutingRule(nil), rules...), err
}

func (c *CachedSource) OutboundRules(ctx context.Context, tenantID string) ([]OutboundRule, error) {
	rules, err := cached(c, "outbound|"+tenantID, func() ([]OutboundRule, error) { return c.next.OutboundRules(ctx, tenantID) })
	return append([]OutboundRule(nil), rules...), err
}

func (c *CachedSource) Trunks(ctx context.Context, tenantID string) ([]Trunk, error) {
	trunks, err := cached(c, "trunks|"+tenantID, func() ([]Trunk, error) { return c.next.Trunks(ctx, tenantID) })
	return append([]Trunk(nil), trunks...), err
}

// InvalidateGroup drops the cached view of one group.
func (c *CachedSource) InvalidateGroup(tenantID, groupID string) {
	c.cache.Remove(groupCacheKey(tenantID, groupID))
}

// Purge drops everything.
func (c *CachedSource) Purge() { c.cache.Purge() }

func groupCacheKey(tenantID, groupID string) string { return "group|" + scoped(tenantID, groupID) }
