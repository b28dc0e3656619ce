package coordination

import (
	"strconv"
	"strings"
)

// Keys builds every coordination key used by the routing core.
//
// Multi-tenant invariant: every key carries the tenant segment, and keys that
// belong to a group share the `{tenant:group}` hash tag so multi-key scripts stay
// on one cluster slot.
//
// Business logic never concatenates key strings itself; it asks Keys.
type Keys struct {
	prefix string
}

func NewKeys(prefix string) Keys {
	if prefix == "" {
		prefix = "lbs"
	}
	return Keys{prefix: segment(prefix)}
}

// Idempotency is the marker key for one webhook delivery.
func (k Keys) Idempotency(tenantID, eventType, sessionToken, eventID string) string {
	return k.join("idem", tag(tenantID), segment(eventType), segment(sessionToken), segment(eventID))
}

func (k Keys) Session(tenantID, sessionToken string) string {
	return k.join("session", tag(tenantID), segment(sessionToken))
}

func (k Keys) SessionLock(tenantID, sessionToken string) string {
	return k.join("lock", tag(tenantID), "session", segment(sessionToken))
}

func (k Keys) GroupLock(tenantID, groupID string) string {
	return k.join("lock", tag(tenantID), "group", segment(groupID))
}

// RoundRobinPointer holds the last slot handed out for a group.
func (k Keys) RoundRobinPointer(tenantID, groupID string) string {
	return k.join("rr", groupTag(tenantID, groupID))
}

// PriorityRotation is the rotation counter of one priority level. The member
// fingerprint keeps two distinct levels that share a priority value apart.
func (k Keys) PriorityRotation(tenantID, groupID string, priority int, fingerprint uint64) string {
	return k.join("prio", groupTag(tenantID, groupID), strconv.Itoa(priority), strconv.FormatUint(fingerprint, 16))
}

// PriorityRotationPattern matches every rotation counter of a group.
func (k Keys) PriorityRotationPattern(tenantID, groupID string) string {
	return k.join("prio", groupTag(tenantID, groupID), "*")
}

// LoadWindow is the timestamped call log of one agent within a group.
func (k Keys) LoadWindow(tenantID, groupID, agentID string) string {
	return k.join("lb", groupTag(tenantID, groupID), segment(agentID))
}

// LoadWindowPattern matches every load window of a group.
func (k Keys) LoadWindowPattern(tenantID, groupID string) string {
	return k.join("lb", groupTag(tenantID, groupID), "*")
}

// AgentActiveCalls counts calls currently reserved on an agent.
func (k Keys) AgentActiveCalls(tenantID, agentID string) string {
	return k.join("active", tag(tenantID), segment(agentID))
}

func (k Keys) EventsChannel(tenantID string) string {
	return k.join("events", segment(tenantID))
}

func (k Keys) join(parts ...string) string {
	return k.prefix + ":" + strings.Join(parts, ":")
}

func tag(tenantID string) string {
	return "{" + segment(tenantID) + "}"
}

func groupTag(tenantID, groupID string) string {
	return "{" + segment(tenantID) + ":" + segment(groupID) + "}"
}

// segment neutralizes separators, hash-tag braces and SCAN glob characters so
// an identifier can never reach into another tenant's key space.
func segment(s string) string {
	if s == "" {
		return "_"
	}
	return segmentReplacer.Replace(s)
}

var segmentReplacer = strings.NewReplacer(
	":", "_",
	"{", "_",
	"}", "_",
	"*", "_",
	"?", "_",
	"[", "_",
	"]", "_",
	"\\", "_",
	" ", "_",
)
