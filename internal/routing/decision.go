package routing

import (
	"errors"

	"voiceagent-lbs/internal/catalog"
)

// Decision is the provider-agnostic output of the routing engine.
//
// It carries exactly one outcome: an agent to dial (directly or picked from a
// group), trunks to dial out through, or a hangup. Rendering it into carrier
// markup is the telephony package's job.
type Decision struct {
	TenantID string `json:"tenant_id"`
	CallID   string `json:"call_id,omitempty"`

	Success     bool        `json:"success"`
	RoutingType RoutingType `json:"routing_type"`
	Action      Action      `json:"action"`

	// Set for ActionConnectAgent.
	Agent   *catalog.VoiceAgent `json:"agent,omitempty"`
	GroupID string              `json:"group_id,omitempty"`
	RuleID  string              `json:"rule_id,omitempty"`
	// Reserved is true when a concurrency slot was taken on Agent.
	Reserved bool `json:"reserved,omitempty"`

	// Set for ActionConnectTrunk.
	TrunkIDs    []string `json:"trunk_ids,omitempty"`
	Destination string   `json:"destination,omitempty"`

	CallerID string `json:"caller_id,omitempty"`

	// Reason explains an unsuccessful decision. Intended for logs and events.
	Reason string `json:"reason,omitempty"`
}

type RoutingType string

const (
	RoutingVoiceAgent    RoutingType = "voice_agent"
	RoutingAgentGroup    RoutingType = "agent_group"
	RoutingOutboundRule  RoutingType = "outbound_rule"
	RoutingDefaultTrunk  RoutingType = "default_trunk"
	RoutingFallbackTrunk RoutingType = "fallback_trunk"
	RoutingHangup        RoutingType = "hangup"
)

type Action string

const (
	ActionConnectAgent Action = "connect_agent"
	ActionConnectTrunk Action = "connect_trunk"
	ActionHangup       Action = "hangup"
)

// Reasons for hangup decisions.
const (
	ReasonNoMatchingRule   = "no matching rule"
	ReasonNoAvailableAgent = "no available agent"
	ReasonAgentDisabled    = "agent disabled"
	ReasonAgentAtCapacity  = "agent at capacity"
	ReasonAgentNotFound    = "target agent not found"
	ReasonGroupDisabled    = "group disabled"
	ReasonGroupNotFound    = "target group not found"
	ReasonNoTrunk          = "no trunk available"
)

// Hangup builds an unsuccessful decision.
func Hangup(tenantID, callID, reason string) Decision {
	return Decision{
		TenantID:    tenantID,
		CallID:      callID,
		Success:     false,
		RoutingType: RoutingHangup,
		Action:      ActionHangup,
		Reason:      reason,
	}
}

var ErrInvalidDecision = errors.New("routing: invalid decision")

// Validate checks the single-outcome invariant.
func (d Decision) Validate() error {
	switch d.Action {
	case ActionConnectAgent:
		if d.Agent == nil || len(d.TrunkIDs) > 0 || !d.Success {
			return ErrInvalidDecision
		}
		if d.RoutingType == RoutingAgentGroup && d.GroupID == "" {
			return ErrInvalidDecision
		}
	case ActionConnectTrunk:
		if len(d.TrunkIDs) == 0 || d.Agent != nil || !d.Success {
			return ErrInvalidDecision
		}
	case ActionHangup:
		if d.Agent != nil || len(d.TrunkIDs) > 0 || d.Success || d.RoutingType != RoutingHangup {
			return ErrInvalidDecision
		}
	default:
		return ErrInvalidDecision
	}
	return nil
}
