package calls

import (
	"time"

	"voiceagent-lbs/internal/catalog"
)

// Session is one call's lifecycle record.
//
// Multi-tenant invariant: TenantID is required and is part of the storage key.
//
// A Session is self-contained: Status can always be rebuilt from History, so a
// worker that restarts mid-call resumes from the stored document alone.
type Session struct {
	Token     string            `json:"token"`
	TenantID  string            `json:"tenant_id"`
	CallID    string            `json:"call_id"`
	Direction catalog.Direction `json:"direction"`
	From      string            `json:"from"`
	To        string            `json:"to"`

	Status   CallStatus        `json:"status"`
	Target   *Target           `json:"target,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	History  []HistoryEntry    `json:"history"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Target is where the call was routed.
type Target struct {
	RoutingType string   `json:"routing_type"`
	AgentID     string   `json:"agent_id,omitempty"`
	GroupID     string   `json:"group_id,omitempty"`
	TrunkIDs    []string `json:"trunk_ids,omitempty"`
	// Reserved is set while the agent holds a concurrency slot for this call.
	Reserved bool `json:"reserved,omitempty"`
}

type HistoryEntry struct {
	From     CallStatus        `json:"from"`
	To       CallStatus        `json:"to"`
	At       time.Time         `json:"at"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type CallStatus string

const (
	StatusReceived   CallStatus = "received"
	StatusQueued     CallStatus = "queued"
	StatusRouting    CallStatus = "routing"
	StatusConnecting CallStatus = "connecting"
	StatusConnected  CallStatus = "connected"
	StatusCompleted  CallStatus = "completed"
	StatusBusy       CallStatus = "busy"
	StatusFailed     CallStatus = "failed"
	StatusNoAnswer   CallStatus = "no_answer"
)

// Statuses lists every lifecycle state.
var Statuses = []CallStatus{
	StatusReceived,
	StatusQueued,
	StatusRouting,
	StatusConnecting,
	StatusConnected,
	StatusCompleted,
	StatusBusy,
	StatusFailed,
	StatusNoAnswer,
}
