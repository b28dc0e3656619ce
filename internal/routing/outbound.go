package routing

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"voiceagent-lbs/internal/catalog"
)

// routeOutbound picks trunks for an outbound call: the first matching outbound
// rule with an enabled trunk, then the tenant's default trunk, then the
// highest-priority enabled trunk.
//
// The three catalog reads are independent and run concurrently.
func (e *Engine) routeOutbound(ctx context.Context, req Request) (Decision, error) {
	var (
		trunks  []catalog.Trunk
		tenant  catalog.Tenant
		rule    catalog.OutboundRule
		matched bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(recovered(func() (err error) {
		trunks, err = e.catalog.Trunks(gctx, req.TenantID)
		return err
	}))
	g.Go(recovered(func() (err error) {
		tenant, err = e.catalog.Tenant(gctx, req.TenantID)
		return err
	}))
	g.Go(recovered(func() (err error) {
		rule, matched, err = e.matcher.MatchOutbound(gctx, req.TenantID, req.From, req.To)
		return err
	}))
	if err := g.Wait(); err != nil {
		return Decision{}, err
	}

	enabled := make(map[string]catalog.Trunk, len(trunks))
	for _, t := range trunks {
		if t.Enabled {
			enabled[t.ID] = t
		}
	}
	dial := func(rt RoutingType, ids []string, ruleID string) Decision {
		return Decision{
			Success:     true,
			RoutingType: rt,
			Action:      ActionConnectTrunk,
			TrunkIDs:    ids,
			RuleID:      ruleID,
			Destination: req.To,
			CallerID:    req.From,
		}
	}

	if matched {
		var ids []string
		for _, id := range rule.TrunkIDs {
			if _, on := enabled[id]; on {
				ids = append(ids, id)
			}
		}
		if len(ids) > 0 {
			return dial(RoutingOutboundRule, ids, rule.ID), nil
		}
	}

	if _, on := enabled[tenant.DefaultTrunkID]; on {
		return dial(RoutingDefaultTrunk, []string{tenant.DefaultTrunkID}, ""), nil
	}

	if len(enabled) == 0 {
		return Hangup(req.TenantID, req.CallID, ReasonNoTrunk), nil
	}
	candidates := make([]catalog.Trunk, 0, len(enabled))
	for _, t := range enabled {
		candidates = append(candidates, t)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].ID < candidates[j].ID
	})
	return dial(RoutingFallbackTrunk, []string{candidates[0].ID}, ""), nil
}

// recovered turns a panic in fn into an error; Route's own recover does not
// reach other goroutines.
func recovered(fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("routing: %v", p)
			}
		}()
		return fn()
	}
}
