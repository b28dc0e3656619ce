package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"voiceagent-lbs/internal/catalog"
	"voiceagent-lbs/internal/coordination"
	"voiceagent-lbs/internal/distribution"
	"voiceagent-lbs/internal/lock"
	"voiceagent-lbs/internal/matcher"
	"voiceagent-lbs/internal/metrics"
	"voiceagent-lbs/pkg/logger"
)

// Request is one call to route.
type Request struct {
	TenantID  string
	CallID    string
	Direction catalog.Direction
	From      string
	To        string
}

func (r Request) attributes() matcher.CallAttributes {
	return matcher.CallAttributes{Direction: r.Direction, From: r.From, To: r.To}
}

// Engine turns a call into a Decision.
//
// Inbound: rule match, then either the single target agent or the target
// group's strategy. Outbound: outbound rule, tenant default trunk, any enabled
// trunk, hangup.
//
// Route never returns an error. Expected failures (no rule, no agent) are
// hangup decisions; unexpected ones (store outage, lock contention, panics)
// become hangup decisions carrying the error text.
type Engine struct {
	catalog    catalog.Source
	matcher    *matcher.Matcher
	strategies *distribution.Registry
	locker     *lock.Locker
	capacity   *Capacity
	keys       coordination.Keys
}

func NewEngine(src catalog.Source, m *matcher.Matcher, strategies *distribution.Registry, locker *lock.Locker, capacity *Capacity, keys coordination.Keys) *Engine {
	return &Engine{catalog: src, matcher: m, strategies: strategies, locker: locker, capacity: capacity, keys: keys}
}

// Route decides what to do with req.
func (e *Engine) Route(ctx context.Context, req Request) (d Decision) {
	log := logger.From(ctx).With(slog.String("tenant_id", req.TenantID), slog.String("call_id", req.CallID))
	defer func() {
		if p := recover(); p != nil {
			log.Error("routing panic", slog.Any("panic", p), slog.String("stack", string(debug.Stack())))
			d = Hangup(req.TenantID, req.CallID, fmt.Sprintf("routing error: %v", p))
		}
		if err := d.Validate(); err != nil {
			log.Error("routing produced an invalid decision", slog.Any("decision", d))
			d = Hangup(req.TenantID, req.CallID, "routing error: "+err.Error())
		}
		metrics.RecordDecision(string(d.RoutingType), d.Success)
		log.Info("routing decision",
			slog.String("routing_type", string(d.RoutingType)),
			slog.Bool("success", d.Success),
			slog.String("reason", d.Reason),
		)
	}()

	var err error
	if req.Direction == catalog.DirectionOutbound {
		d, err = e.routeOutbound(ctx, req)
	} else {
		d, err = e.routeInbound(ctx, req)
	}
	if err != nil {
		if errors.Is(err, lock.ErrContention) {
			metrics.RecordLockContention("group")
		}
		log.Warn("routing failed", slog.String("error", err.Error()))
		return Hangup(req.TenantID, req.CallID, "routing error: "+err.Error())
	}
	d.TenantID, d.CallID = req.TenantID, req.CallID
	return d
}

func (e *Engine) routeInbound(ctx context.Context, req Request) (Decision, error) {
	rule, ok, err := e.matcher.Match(ctx, req.TenantID, req.attributes())
	if err != nil {
		return Decision{}, err
	}
	if !ok {
		return Hangup(req.TenantID, req.CallID, ReasonNoMatchingRule), nil
	}

	var d Decision
	switch rule.TargetKind {
	case catalog.TargetAgent:
		d, err = e.routeToAgent(ctx, req, rule.TargetID)
	case catalog.TargetGroup:
		d, err = e.routeToGroup(ctx, req, rule.TargetID)
	default:
		return Decision{}, fmt.Errorf("routing: rule %s has unknown target kind %q", rule.ID, rule.TargetKind)
	}
	if err != nil {
		return Decision{}, err
	}
	d.RuleID = rule.ID
	return d, nil
}

func (e *Engine) routeToAgent(ctx context.Context, req Request, agentID string) (Decision, error) {
	a, err := e.catalog.Agent(ctx, req.TenantID, agentID)
	if errors.Is(err, catalog.ErrNotFound) {
		return Hangup(req.TenantID, req.CallID, ReasonAgentNotFound), nil
	}
	if err != nil {
		return Decision{}, err
	}
	if !a.Enabled {
		return Hangup(req.TenantID, req.CallID, ReasonAgentDisabled), nil
	}
	ok, reserved, err := e.capacity.Reserve(ctx, a)
	if err != nil {
		return Decision{}, err
	}
	if !ok {
		return Hangup(req.TenantID, req.CallID, ReasonAgentAtCapacity), nil
	}
	return Decision{
		Success:     true,
		RoutingType: RoutingVoiceAgent,
		Action:      ActionConnectAgent,
		Agent:       &a,
		Reserved:    reserved,
		CallerID:    req.From,
	}, nil
}

// routeToGroup runs the group's strategy and reserves the chosen agent while
// holding the group lock. A reservation lost to a concurrent call drops that
// agent and selects again.
func (e *Engine) routeToGroup(ctx context.Context, req Request, groupID string) (Decision, error) {
	return lock.WithLock(ctx, e.locker, e.keys.GroupLock(req.TenantID, groupID), func(ctx context.Context) (Decision, error) {
		gv, err := e.catalog.Group(ctx, req.TenantID, groupID)
		if errors.Is(err, catalog.ErrNotFound) {
			return Hangup(req.TenantID, req.CallID, ReasonGroupNotFound), nil
		}
		if err != nil {
			return Decision{}, err
		}
		if !gv.Group.Enabled {
			return Hangup(req.TenantID, req.CallID, ReasonGroupDisabled), nil
		}
		available, err := e.capacity.Available(ctx, gv.Members)
		if err != nil {
			return Decision{}, err
		}

		for attempts := len(available); attempts > 0 && len(available) > 0; attempts-- {
			chosen, err := e.strategies.Select(ctx, gv, available)
			if err != nil {
				return Decision{}, err
			}
			if chosen == nil {
				break
			}
			ok, reserved, err := e.capacity.Reserve(ctx, chosen.Agent)
			if err != nil {
				return Decision{}, err
			}
			if ok {
				agent := chosen.Agent
				return Decision{
					Success:     true,
					RoutingType: RoutingAgentGroup,
					Action:      ActionConnectAgent,
					Agent:       &agent,
					GroupID:     gv.Group.ID,
					Reserved:    reserved,
					CallerID:    req.From,
				}, nil
			}
			if err := e.strategies.Retract(ctx, gv, *chosen); err != nil {
				return Decision{}, err
			}
			available = without(available, chosen.Agent.ID)
		}
		return Hangup(req.TenantID, req.CallID, ReasonNoAvailableAgent), nil
	})
}

func without(members []catalog.Member, agentID string) []catalog.Member {
	out := make([]catalog.Member, 0, len(members))
	for _, m := range members {
		if m.Agent.ID != agentID {
			out = append(out, m)
		}
	}
	return out
}

// ReleaseAgent returns the slot a connected decision reserved.
func (e *Engine) ReleaseAgent(ctx context.Context, tenantID, agentID string) error {
	return e.capacity.Release(ctx, tenantID, agentID)
}
