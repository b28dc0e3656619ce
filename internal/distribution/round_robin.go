package distribution

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"voiceagent-lbs/internal/catalog"
	"voiceagent-lbs/internal/coordination"
)

// RoundRobin keeps one pointer per group and hands out the enabled member
// after it, wrapping. With capacity weighting an agent of capacity N owns N
// slots in the ring, interleaved so heavy agents are not served back to back.
type RoundRobin struct {
	store coordination.Store
	keys  coordination.Keys
	ttl   time.Duration
}

func (s *RoundRobin) Name() catalog.Strategy { return catalog.StrategyRoundRobin }

func (s *RoundRobin) Select(ctx context.Context, group catalog.GroupView, available []catalog.Member) (*catalog.Member, error) {
	if len(available) == 0 {
		return nil, nil
	}
	ring := Ring(group.EnabledMembers(), group.Group.Settings.CapacityWeighted)
	if len(ring) == 0 {
		return nil, nil
	}
	avail := availableSet(available)
	key := s.keys.RoundRobinPointer(group.Group.TenantID, group.Group.ID)

	// Unavailable agents keep their place in the ring; skip past them.
	for i := 0; i < len(ring); i++ {
		slot, err := s.store.AdvanceRing(ctx, key, ring, s.ttl)
		if err != nil {
			return nil, fmt.Errorf("distribution: round robin: %w", err)
		}
		if m, ok := avail[slotAgent(slot)]; ok {
			return &m, nil
		}
	}
	return nil, nil
}

// Ring lays out the slots of members in their stable order. Without weighting
// every member has one slot. With weighting, round r holds every member whose
// weight exceeds r.
func Ring(members []catalog.Member, weighted bool) []string {
	if !weighted {
		ring := make([]string, len(members))
		for i, m := range members {
			ring[i] = slotName(m.Agent.ID, 0)
		}
		return ring
	}
	maxWeight := 0
	for _, m := range members {
		if w := m.Membership.Weight(); w > maxWeight {
			maxWeight = w
		}
	}
	var ring []string
	for r := 0; r < maxWeight; r++ {
		for _, m := range members {
			if m.Membership.Weight() > r {
				ring = append(ring, slotName(m.Agent.ID, r))
			}
		}
	}
	return ring
}

func slotName(agentID string, n int) string { return agentID + "#" + strconv.Itoa(n) }

func slotAgent(slot string) string {
	if i := strings.LastIndexByte(slot, '#'); i >= 0 {
		return slot[:i]
	}
	return slot
}
