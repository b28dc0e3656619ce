package catalog

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Strategy is the distribution strategy tag stored on a group.
type Strategy string

const (
	StrategyLoadBalanced Strategy = "load_balanced"
	StrategyPriority     Strategy = "priority"
	StrategyRoundRobin   Strategy = "round_robin"
)

func (s Strategy) Valid() bool {
	switch s {
	case StrategyLoadBalanced, StrategyPriority, StrategyRoundRobin:
		return true
	default:
		return false
	}
}

// Direction of a call relative to the tenant.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// ParseDirection accepts the carrier's spellings; anything unrecognized is inbound.
func ParseDirection(s string) Direction {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "outbound", "outgoing", "outbound-api", "outbound-dial":
		return DirectionOutbound
	default:
		return DirectionInbound
	}
}

// TargetKind is what a routing rule points at.
type TargetKind string

const (
	TargetAgent TargetKind = "agent"
	TargetGroup TargetKind = "group"
)

const (
	MinPriority = 1
	MaxPriority = 100
)

type Tenant struct {
	ID     string `yaml:"id" json:"id"`
	Name   string `yaml:"name" json:"name"`
	Domain string `yaml:"domain" json:"domain"`
	// WebhookToken, when set, must accompany every carrier webhook for this tenant.
	WebhookToken   string `yaml:"webhook_token" json:"-"`
	DefaultTrunkID string `yaml:"default_trunk_id" json:"default_trunk_id,omitempty"`
}

// VoiceAgent is an AI call-handling endpoint reachable through a provider.
type VoiceAgent struct {
	ID       string `yaml:"id" json:"id"`
	TenantID string `yaml:"tenant_id" json:"tenant_id"`
	Name     string `yaml:"name" json:"name"`
	Provider string `yaml:"provider" json:"provider"`
	// Destination is the provider-specific connection value (SIP URI, agent number, ...).
	Destination string `yaml:"destination" json:"destination"`
	Username    string `yaml:"username" json:"-"`
	Password    string `yaml:"password" json:"-"`
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	// MaxConcurrentCalls caps calls reserved on the agent; 0 means unlimited.
	MaxConcurrentCalls int `yaml:"max_concurrent_calls" json:"max_concurrent_calls"`
}

type GroupSettings struct {
	RoundRobinSamePriority bool `yaml:"round_robin_same_priority" json:"round_robin_same_priority"`
	Failover               bool `yaml:"failover" json:"failover"`
	CapacityWeighted       bool `yaml:"capacity_weighted" json:"capacity_weighted"`
}

type AgentGroup struct {
	ID       string        `yaml:"id" json:"id"`
	TenantID string        `yaml:"tenant_id" json:"tenant_id"`
	Name     string        `yaml:"name" json:"name"`
	Strategy Strategy      `yaml:"strategy" json:"strategy"`
	Settings GroupSettings `yaml:"settings" json:"settings"`
	Enabled  bool          `yaml:"enabled" json:"enabled"`
}

// Membership places an agent in a group.
type Membership struct {
	GroupID  string    `yaml:"group_id" json:"group_id"`
	AgentID  string    `yaml:"agent_id" json:"agent_id"`
	Priority int       `yaml:"priority" json:"priority"`
	Capacity int       `yaml:"capacity" json:"capacity"`
	JoinedAt time.Time `yaml:"joined_at" json:"joined_at"`
}

// Weight is the capacity weight, 1 when none was configured.
func (m Membership) Weight() int {
	if m.Capacity <= 0 {
		return 1
	}
	return m.Capacity
}

func (m Membership) Validate() error {
	if m.Priority < MinPriority || m.Priority > MaxPriority {
		return fmt.Errorf("%w: priority %d of agent %s in group %s", ErrInvalid, m.Priority, m.AgentID, m.GroupID)
	}
	if m.Capacity < 0 {
		return fmt.Errorf("%w: capacity %d of agent %s in group %s", ErrInvalid, m.Capacity, m.AgentID, m.GroupID)
	}
	return nil
}

type RoutingRule struct {
	ID         string     `yaml:"id" json:"id"`
	TenantID   string     `yaml:"tenant_id" json:"tenant_id"`
	Name       string     `yaml:"name" json:"name"`
	Pattern    string     `yaml:"pattern" json:"pattern"`
	TargetKind TargetKind `yaml:"target_kind" json:"target_kind"`
	TargetID   string     `yaml:"target_id" json:"target_id"`
	Priority   int        `yaml:"priority" json:"priority"`
	Enabled    bool       `yaml:"enabled" json:"enabled"`
	CreatedAt  time.Time  `yaml:"created_at" json:"created_at"`
}

// OutboundRule selects trunks for outbound calls by caller id and destination.
// An empty pattern matches anything.
type OutboundRule struct {
	ID                 string    `yaml:"id" json:"id"`
	TenantID           string    `yaml:"tenant_id" json:"tenant_id"`
	Name               string    `yaml:"name" json:"name"`
	CallerPattern      string    `yaml:"caller_pattern" json:"caller_pattern"`
	DestinationPattern string    `yaml:"destination_pattern" json:"destination_pattern"`
	TrunkIDs           []string  `yaml:"trunk_ids" json:"trunk_ids"`
	Priority           int       `yaml:"priority" json:"priority"`
	Enabled            bool      `yaml:"enabled" json:"enabled"`
	CreatedAt          time.Time `yaml:"created_at" json:"created_at"`
}

type Trunk struct {
	ID       string `yaml:"id" json:"id"`
	TenantID string `yaml:"tenant_id" json:"tenant_id"`
	Name     string `yaml:"name" json:"name"`
	Priority int    `yaml:"priority" json:"priority"`
	Enabled  bool   `yaml:"enabled" json:"enabled"`
}

// Member is a membership resolved against its agent.
type Member struct {
	Agent      VoiceAgent `json:"agent"`
	Membership Membership `json:"membership"`
}

// GroupView is a group together with its resolved memberships, in membership
// join order. It is everything a distribution strategy may look at.
type GroupView struct {
	Group   AgentGroup `json:"group"`
	Members []Member   `json:"members"`
}

// EnabledMembers returns members whose agent is enabled.
func (g GroupView) EnabledMembers() []Member {
	out := make([]Member, 0, len(g.Members))
	for _, m := range g.Members {
		if m.Agent.Enabled {
			out = append(out, m)
		}
	}
	return out
}

// Validate checks membership bounds and, for priority groups, that tied
// priorities are only used with same-priority rotation.
func (g GroupView) Validate() error {
	var errs []error
	if !g.Group.Strategy.Valid() {
		errs = append(errs, fmt.Errorf("%w: group %s has unknown strategy %q", ErrInvalid, g.Group.ID, g.Group.Strategy))
	}
	seen := make(map[int]string, len(g.Members))
	for _, m := range g.Members {
		if err := m.Membership.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if g.Group.Strategy != StrategyPriority || g.Group.Settings.RoundRobinSamePriority {
			continue
		}
		if other, dup := seen[m.Membership.Priority]; dup {
			errs = append(errs, fmt.Errorf("%w: agents %s and %s share priority %d in group %s without same-priority rotation",
				ErrInvalid, other, m.Agent.ID, m.Membership.Priority, g.Group.ID))
		}
		seen[m.Membership.Priority] = m.Agent.ID
	}
	return errors.Join(errs...)
}
