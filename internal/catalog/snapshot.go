package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Snapshot is a complete configuration export, as read from a YAML file.
type Snapshot struct {
	Tenants       []Tenant       `yaml:"tenants"`
	Agents        []VoiceAgent   `yaml:"agents"`
	Groups        []AgentGroup   `yaml:"groups"`
	Memberships   []Membership   `yaml:"memberships"`
	RoutingRules  []RoutingRule  `yaml:"routing_rules"`
	OutboundRules []OutboundRule `yaml:"outbound_rules"`
	Trunks        []Trunk        `yaml:"trunks"`
}

func ParseSnapshot(b []byte) (*Snapshot, error) {
	var s Snapshot
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("catalog: parse snapshot: %w", err)
	}
	return &s, nil
}

func LoadSnapshotFile(path string) (*Snapshot, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read snapshot: %w", err)
	}
	return ParseSnapshot(b)
}

// SnapshotSource serves a validated Snapshot from memory.
type SnapshotSource struct {
	tenants       map[string]Tenant
	byDomain      map[string]string
	agents        map[string]VoiceAgent // tenant/agent
	groups        map[string]GroupView  // tenant/group
	rules         map[string][]RoutingRule
	outboundRules map[string][]OutboundRule
	trunks        map[string][]Trunk
}

var _ Source = (*SnapshotSource)(nil)

// NewSnapshotSource validates s and indexes it.
func NewSnapshotSource(s *Snapshot) (*SnapshotSource, error) {
	if s == nil {
		s = &Snapshot{}
	}
	src := &SnapshotSource{
		tenants:       make(map[string]Tenant, len(s.Tenants)),
		byDomain:      make(map[string]string, len(s.Tenants)),
		agents:        make(map[string]VoiceAgent, len(s.Agents)),
		groups:        make(map[string]GroupView, len(s.Groups)),
		rules:         make(map[string][]RoutingRule),
		outboundRules: make(map[string][]OutboundRule),
		trunks:        make(map[string][]Trunk),
	}
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	for _, t := range s.Tenants {
		if t.ID == "" || t.Domain == "" {
			invalid("tenant needs id and domain")
			continue
		}
		if _, dup := src.tenants[t.ID]; dup {
			invalid("duplicate tenant %s", t.ID)
			continue
		}
		domain := normalizeDomain(t.Domain)
		if _, dup := src.byDomain[domain]; dup {
			invalid("duplicate tenant domain %s", t.Domain)
			continue
		}
		src.tenants[t.ID] = t
		src.byDomain[domain] = t.ID
	}
	hasTenant := func(id string) bool { _, ok := src.tenants[id]; return ok }

	for _, a := range s.Agents {
		if !hasTenant(a.TenantID) {
			invalid("agent %s references unknown tenant %s", a.ID, a.TenantID)
			continue
		}
		if a.MaxConcurrentCalls < 0 {
			invalid("agent %s has negative max_concurrent_calls", a.ID)
		}
		src.agents[scoped(a.TenantID, a.ID)] = a
	}
	// Memberships name only the group, so group ids are unique across tenants.
	groupKeys := make(map[string]string, len(s.Groups))
	for _, g := range s.Groups {
		if !hasTenant(g.TenantID) {
			invalid("group %s references unknown tenant %s", g.ID, g.TenantID)
			continue
		}
		if _, dup := groupKeys[g.ID]; dup {
			invalid("duplicate group %s", g.ID)
			continue
		}
		groupKeys[g.ID] = scoped(g.TenantID, g.ID)
		src.groups[groupKeys[g.ID]] = GroupView{Group: g}
	}

	members := append([]Membership(nil), s.Memberships...)
	sort.SliceStable(members, func(i, j int) bool { return members[i].JoinedAt.Before(members[j].JoinedAt) })
	for _, m := range members {
		key, ok := groupKeys[m.GroupID]
		if !ok {
			invalid("membership references unknown group %s", m.GroupID)
			continue
		}
		gv := src.groups[key]
		a, ok := src.agents[scoped(gv.Group.TenantID, m.AgentID)]
		if !ok {
			invalid("membership in group %s references unknown agent %s", m.GroupID, m.AgentID)
			continue
		}
		gv.Members = append(gv.Members, Member{Agent: a, Membership: m})
		src.groups[key] = gv
	}
	for _, gv := range src.groups {
		if err := gv.Validate(); err != nil {
			errs = append(errs, err)
		}
	}

	for _, r := range s.RoutingRules {
		if !hasTenant(r.TenantID) {
			invalid("rule %s references unknown tenant %s", r.ID, r.TenantID)
			continue
		}
		switch r.TargetKind {
		case TargetAgent:
			if _, ok := src.agents[scoped(r.TenantID, r.TargetID)]; !ok {
				invalid("rule %s targets unknown agent %s", r.ID, r.TargetID)
			}
		case TargetGroup:
			if _, ok := src.groups[scoped(r.TenantID, r.TargetID)]; !ok {
				invalid("rule %s targets unknown group %s", r.ID, r.TargetID)
			}
		default:
			invalid("rule %s has unknown target kind %q", r.ID, r.TargetKind)
		}
		if r.Enabled {
			src.rules[r.TenantID] = append(src.rules[r.TenantID], r)
		}
	}

	trunkIDs := make(map[string]bool, len(s.Trunks))
	for _, tr := range s.Trunks {
		if !hasTenant(tr.TenantID) {
			invalid("trunk %s references unknown tenant %s", tr.ID, tr.TenantID)
			continue
		}
		trunkIDs[scoped(tr.TenantID, tr.ID)] = true
		src.trunks[tr.TenantID] = append(src.trunks[tr.TenantID], tr)
	}
	for _, t := range src.tenants {
		if t.DefaultTrunkID != "" && !trunkIDs[scoped(t.ID, t.DefaultTrunkID)] {
			invalid("tenant %s default trunk %s does not exist", t.ID, t.DefaultTrunkID)
		}
	}
	for _, r := range s.OutboundRules {
		if !hasTenant(r.TenantID) {
			invalid("outbound rule %s references unknown tenant %s", r.ID, r.TenantID)
			continue
		}
		for _, id := range r.TrunkIDs {
			if !trunkIDs[scoped(r.TenantID, id)] {
				invalid("outbound rule %s references unknown trunk %s", r.ID, id)
			}
		}
		if r.Enabled {
			src.outboundRules[r.TenantID] = append(src.outboundRules[r.TenantID], r)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return src, nil
}

func (s *SnapshotSource) TenantByDomain(_ context.Context, domain string) (Tenant, error) {
	id, ok := s.byDomain[normalizeDomain(domain)]
	if !ok {
		return Tenant{}, ErrTenantNotFound
	}
	return s.tenants[id], nil
}

func (s *SnapshotSource) Tenant(_ context.Context, tenantID string) (Tenant, error) {
	t, ok := s.tenants[tenantID]
	if !ok {
		return Tenant{}, ErrTenantNotFound
	}
	return t, nil
}

func (s *SnapshotSource) Agent(_ context.Context, tenantID, agentID string) (VoiceAgent, error) {
	a, ok := s.agents[scoped(tenantID, agentID)]
	if !ok {
		return VoiceAgent{}, ErrNotFound
	}
	return a, nil
}

func (s *SnapshotSource) Group(_ context.Context, tenantID, groupID string) (GroupView, error) {
	g, ok := s.groups[scoped(tenantID, groupID)]
	if !ok {
		return GroupView{}, ErrNotFound
	}
	g.Members = append([]Member(nil), g.Members...)
	return g, nil
}

func (s *SnapshotSource) RoutingRules(_ context.Context, tenantID string) ([]RoutingRule, error) {
	return append([]RoutingRule(nil), s.rules[tenantID]...), nil
}

func (s *SnapshotSource) OutboundRules(_ context.Context, tenantID string) ([]OutboundRule, error) {
	return append([]OutboundRule(nil), s.outboundRules[tenantID]...), nil
}

func (s *SnapshotSource) Trunks(_ context.Context, tenantID string) ([]Trunk, error) {
	return append([]Trunk(nil), s.trunks[tenantID]...), nil
}

func scoped(tenantID, id string) string { return tenantID + "/" + id }

func normalizeDomain(d string) string { return strings.ToLower(strings.TrimSpace(d)) }
