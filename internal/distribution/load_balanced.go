package distribution

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"voiceagent-lbs/internal/catalog"
	"voiceagent-lbs/internal/coordination"
)

// LoadBalanced picks the available agent with the fewest calls in the rolling
// window, ties broken by agent id. Each agent's window is a timestamped log;
// pruning, counting and recording happen in one atomic script.
type LoadBalanced struct {
	store  coordination.Store
	keys   coordination.Keys
	window time.Duration
	now    func() time.Time
}

func (s *LoadBalanced) Name() catalog.Strategy { return catalog.StrategyLoadBalanced }

func (s *LoadBalanced) Select(ctx context.Context, group catalog.GroupView, available []catalog.Member) (*catalog.Member, error) {
	if len(available) == 0 {
		return nil, nil
	}
	candidates := append([]catalog.Member(nil), available...)
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Agent.ID < candidates[j].Agent.ID })

	windows := make([]string, len(candidates))
	for i, m := range candidates {
		windows[i] = s.keys.LoadWindow(group.Group.TenantID, group.Group.ID, m.Agent.ID)
	}
	idx, err := s.store.RecordLeastLoaded(ctx, windows, uuid.NewString(), s.now(), s.window)
	if err != nil {
		return nil, fmt.Errorf("distribution: load balanced: %w", err)
	}
	if idx < 0 || idx >= len(candidates) {
		return nil, nil
	}
	chosen := candidates[idx]
	return &chosen, nil
}

// Retract drops the entry Select recorded for chosen, for when its slot could
// not be reserved. Callers hold the group lock, so the newest entry is ours.
func (s *LoadBalanced) Retract(ctx context.Context, group catalog.GroupView, chosen catalog.Member) error {
	if err := s.store.DropNewest(ctx, s.keys.LoadWindow(group.Group.TenantID, group.Group.ID, chosen.Agent.ID)); err != nil {
		return fmt.Errorf("distribution: load balanced retract: %w", err)
	}
	return nil
}

// Counts reports the current window count per agent id.
func (s *LoadBalanced) Counts(ctx context.Context, group catalog.GroupView) (map[string]int64, error) {
	members := group.Members
	windows := make([]string, len(members))
	for i, m := range members {
		windows[i] = s.keys.LoadWindow(group.Group.TenantID, group.Group.ID, m.Agent.ID)
	}
	counts, err := s.store.WindowCounts(ctx, windows, s.now(), s.window)
	if err != nil {
		return nil, fmt.Errorf("distribution: load balanced counts: %w", err)
	}
	out := make(map[string]int64, len(members))
	for i, m := range members {
		if i < len(counts) {
			out[m.Agent.ID] = counts[i]
		}
	}
	return out, nil
}
