package routing

import (
	"context"
	"fmt"
	"time"

	"voiceagent-lbs/internal/catalog"
	"voiceagent-lbs/internal/coordination"
)

// DefaultSlotTTL bounds how long a leaked reservation (a worker dying before
// the call ends) can hold an agent slot.
const DefaultSlotTTL = 4 * time.Hour

// Capacity tracks concurrent calls per agent with one capped counter each.
type Capacity struct {
	store coordination.Store
	keys  coordination.Keys
	ttl   time.Duration
}

func NewCapacity(store coordination.Store, keys coordination.Keys, ttl time.Duration) *Capacity {
	if ttl <= 0 {
		ttl = DefaultSlotTTL
	}
	return &Capacity{store: store, keys: keys, ttl: ttl}
}

// Reserve takes one slot on the agent. Agents without a limit always succeed
// and no slot is recorded (reserved=false).
func (c *Capacity) Reserve(ctx context.Context, a catalog.VoiceAgent) (ok, reserved bool, err error) {
	if a.MaxConcurrentCalls <= 0 {
		return true, false, nil
	}
	ok, err = c.store.AcquireSlot(ctx, c.keys.AgentActiveCalls(a.TenantID, a.ID), a.MaxConcurrentCalls, c.ttl)
	if err != nil {
		return false, false, fmt.Errorf("routing: reserve agent %s: %w", a.ID, err)
	}
	return ok, ok, nil
}

func (c *Capacity) Release(ctx context.Context, tenantID, agentID string) error {
	if err := c.store.ReleaseSlot(ctx, c.keys.AgentActiveCalls(tenantID, agentID)); err != nil {
		return fmt.Errorf("routing: release agent %s: %w", agentID, err)
	}
	return nil
}

// Available filters members down to enabled agents with a free slot.
func (c *Capacity) Available(ctx context.Context, members []catalog.Member) ([]catalog.Member, error) {
	out := make([]catalog.Member, 0, len(members))
	for _, m := range members {
		if !m.Agent.Enabled {
			continue
		}
		if m.Agent.MaxConcurrentCalls > 0 {
			n, err := c.store.SlotCount(ctx, c.keys.AgentActiveCalls(m.Agent.TenantID, m.Agent.ID))
			if err != nil {
				return nil, fmt.Errorf("routing: agent %s load: %w", m.Agent.ID, err)
			}
			if n >= int64(m.Agent.MaxConcurrentCalls) {
				continue
			}
		}
		out = append(out, m)
	}
	return out, nil
}
