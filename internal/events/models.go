package events

import (
	"encoding/json"
	"time"
)

// Event is an immutable notification for real-time and analytics consumers.
//
// Invariants:
// - TenantID is required; events are published per tenant.
// - Delivery is best-effort; nothing on the webhook path waits for it.
type Event struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	Type         EventType `json:"type"`
	CallID       string    `json:"call_id,omitempty"`
	SessionToken string    `json:"session_token,omitempty"`

	// Data carries the type-specific payload.
	Data json.RawMessage `json:"data,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

type EventType string

const (
	TypeCallStateChanged      EventType = "call.state_changed"
	TypeRoutingDecisionMade   EventType = "routing.decision_made"
	TypeCallDetailRecord      EventType = "call.detail_record"
	TypeGroupStateInvalidated EventType = "group.state_invalidated"
)

type StateChange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type RoutingDecision struct {
	Success     bool     `json:"success"`
	RoutingType string   `json:"routing_type"`
	AgentID     string   `json:"agent_id,omitempty"`
	GroupID     string   `json:"group_id,omitempty"`
	RuleID      string   `json:"rule_id,omitempty"`
	TrunkIDs    []string `json:"trunk_ids,omitempty"`
	Reason      string   `json:"reason,omitempty"`
}

type CallDetail struct {
	Disposition     string `json:"disposition"`
	RawDisposition  string `json:"raw_disposition,omitempty"`
	DurationSeconds int    `json:"duration"`
	BilledSeconds   int    `json:"billsec"`
	From            string `json:"from"`
	To              string `json:"to"`
}

type GroupInvalidation struct {
	GroupID   string `json:"group_id"`
	ActorID   string `json:"actor_id,omitempty"`
	ActorRole string `json:"actor_role,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
}
