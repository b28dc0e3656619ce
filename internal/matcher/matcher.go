// Package matcher evaluates a tenant's ordered routing rules against a call.
package matcher

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"voiceagent-lbs/internal/catalog"
	"voiceagent-lbs/pkg/logger"
)

// CallAttributes is what rules are evaluated against.
type CallAttributes struct {
	Direction catalog.Direction
	From      string
	To        string
}

// Target is the number a rule pattern is compared to: the destination for
// inbound calls, the caller for outbound ones.
func (a CallAttributes) Target() string {
	if a.Direction == catalog.DirectionOutbound {
		return a.From
	}
	return a.To
}

type Matcher struct {
	src      catalog.Source
	patterns *Patterns
}

func New(src catalog.Source, patterns *Patterns) *Matcher {
	return &Matcher{src: src, patterns: patterns}
}

// Match returns the highest-priority enabled rule of the tenant matching the
// call. ok is false when nothing matches.
func (m *Matcher) Match(ctx context.Context, tenantID string, attrs CallAttributes) (catalog.RoutingRule, bool, error) {
	rules, err := m.src.RoutingRules(ctx, tenantID)
	if err != nil {
		return catalog.RoutingRule{}, false, fmt.Errorf("matcher: load rules: %w", err)
	}
	SortRules(rules)

	target := attrs.Target()
	for _, r := range rules {
		if !r.Enabled || r.TenantID != tenantID {
			continue
		}
		ok, err := m.patterns.Match(r.Pattern, target)
		if err != nil {
			logger.From(ctx).Warn("skipping rule with invalid pattern",
				slog.String("tenant_id", tenantID),
				slog.String("rule_id", r.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if ok {
			return r, true, nil
		}
	}
	return catalog.RoutingRule{}, false, nil
}

// MatchOutbound returns the first enabled outbound rule whose caller and
// destination patterns both match.
func (m *Matcher) MatchOutbound(ctx context.Context, tenantID, caller, destination string) (catalog.OutboundRule, bool, error) {
	rules, err := m.src.OutboundRules(ctx, tenantID)
	if err != nil {
		return catalog.OutboundRule{}, false, fmt.Errorf("matcher: load outbound rules: %w", err)
	}
	SortOutboundRules(rules)

	for _, r := range rules {
		if !r.Enabled || r.TenantID != tenantID {
			continue
		}
		callerOK, err := m.patterns.Match(r.CallerPattern, caller)
		if err == nil && callerOK {
			var destOK bool
			destOK, err = m.patterns.Match(r.DestinationPattern, destination)
			if err == nil && destOK {
				return r, true, nil
			}
		}
		if err != nil {
			logger.From(ctx).Warn("skipping outbound rule with invalid pattern",
				slog.String("tenant_id", tenantID),
				slog.String("rule_id", r.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return catalog.OutboundRule{}, false, nil
}

// SortRules orders rules by priority descending, then creation time, then id.
func SortRules(rules []catalog.RoutingRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		a, b := rules[i], rules[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

func SortOutboundRules(rules []catalog.OutboundRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		a, b := rules[i], rules[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
