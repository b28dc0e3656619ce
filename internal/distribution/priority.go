package distribution

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"voiceagent-lbs/internal/catalog"
	"voiceagent-lbs/internal/coordination"
)

// Priority walks priority levels from highest to lowest. Within a level it
// either rotates (round-robin-same-priority) or prefers the longest-standing
// member. Without failover only the top level is ever considered.
type Priority struct {
	store coordination.Store
	keys  coordination.Keys
	ttl   time.Duration
}

func (s *Priority) Name() catalog.Strategy { return catalog.StrategyPriority }

// Level is the members sharing one priority value, in join order.
type Level struct {
	Priority int
	Members  []catalog.Member
}

// Fingerprint identifies the member set of a level so rotation state never
// carries over to a different set of agents that happens to share the value.
func (l Level) Fingerprint() uint64 {
	ids := make([]string, len(l.Members))
	for i, m := range l.Members {
		ids[i] = m.Agent.ID
	}
	sort.Strings(ids)
	return xxhash.Sum64String(strings.Join(ids, "\x00"))
}

// Levels groups members by descending priority.
func Levels(members []catalog.Member) []Level {
	sorted := append([]catalog.Member(nil), members...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].Membership, sorted[j].Membership
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.JoinedAt.Before(b.JoinedAt)
	})
	var levels []Level
	for _, m := range sorted {
		if n := len(levels); n > 0 && levels[n-1].Priority == m.Membership.Priority {
			levels[n-1].Members = append(levels[n-1].Members, m)
			continue
		}
		levels = append(levels, Level{Priority: m.Membership.Priority, Members: []catalog.Member{m}})
	}
	return levels
}

func (s *Priority) Select(ctx context.Context, group catalog.GroupView, available []catalog.Member) (*catalog.Member, error) {
	if len(available) == 0 {
		return nil, nil
	}
	avail := availableSet(available)
	levels := Levels(group.EnabledMembers())
	if !group.Group.Settings.Failover && len(levels) > 1 {
		levels = levels[:1]
	}

	for _, level := range levels {
		candidates := level.Members
		start := 0
		if group.Group.Settings.RoundRobinSamePriority && len(candidates) > 1 {
			key := s.keys.PriorityRotation(group.Group.TenantID, group.Group.ID, level.Priority, level.Fingerprint())
			n, err := s.store.Increment(ctx, key, s.ttl)
			if err != nil {
				return nil, fmt.Errorf("distribution: priority rotation: %w", err)
			}
			start = int((n - 1) % int64(len(candidates)))
		}
		for i := range candidates {
			m := candidates[(start+i)%len(candidates)]
			if a, ok := avail[m.Agent.ID]; ok {
				return &a, nil
			}
		}
	}
	return nil, nil
}
