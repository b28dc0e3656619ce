package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSnapshot = `
tenants:
  - id: t1
    name: Acme
    domain: Acme.Example.com
    webhook_token: s3cret
    default_trunk_id: tr1
agents:
  - {id: a1, tenant_id: t1, name: One, provider: retell, destination: "sip:one@agents", enabled: true}
  - {id: a2, tenant_id: t1, name: Two, provider: vapi, destination: "sip:two@agents", enabled: false, max_concurrent_calls: 2}
groups:
  - id: g1
    tenant_id: t1
    name: Sales
    strategy: priority
    enabled: true
    settings: {failover: true}
memberships:
  - {group_id: g1, agent_id: a2, priority: 50, capacity: 2, joined_at: 2024-01-02T00:00:00Z}
  - {group_id: g1, agent_id: a1, priority: 80, joined_at: 2024-01-01T00:00:00Z}
routing_rules:
  - {id: r1, tenant_id: t1, pattern: "+1555*", target_kind: group, target_id: g1, priority: 10, enabled: true}
  - {id: r2, tenant_id: t1, pattern: "*", target_kind: agent, target_id: a1, priority: 1, enabled: false}
outbound_rules:
  - {id: o1, tenant_id: t1, destination_pattern: "+44*", trunk_ids: [tr1], priority: 5, enabled: true}
trunks:
  - {id: tr1, tenant_id: t1, name: Main, priority: 10, enabled: true}
`

func TestSnapshotSource_IndexesSnapshot(t *testing.T) {
	snap, err := ParseSnapshot([]byte(sampleSnapshot))
	require.NoError(t, err)
	src, err := NewSnapshotSource(snap)
	require.NoError(t, err)
	ctx := context.Background()

	tenant, err := src.TenantByDomain(ctx, "acme.example.com ")
	require.NoError(t, err)
	assert.Equal(t, "t1", tenant.ID)
	assert.Equal(t, "s3cret", tenant.WebhookToken)

	g, err := src.Group(ctx, "t1", "g1")
	require.NoError(t, err)
	require.Len(t, g.Members, 2)
	assert.Equal(t, "a1", g.Members[0].Agent.ID, "members are kept in join order")
	assert.True(t, g.Group.Settings.Failover)
	assert.Len(t, g.EnabledMembers(), 1)

	rules, err := src.RoutingRules(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, rules, 1, "disabled rules are not served")
	assert.Equal(t, "r1", rules[0].ID)

	_, err = src.Group(ctx, "t2", "g1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = src.TenantByDomain(ctx, "other.example.com")
	assert.ErrorIs(t, err, ErrTenantNotFound)
}

func TestNewSnapshotSource_RejectsBrokenReferences(t *testing.T) {
	snap := &Snapshot{
		Tenants: []Tenant{{ID: "t1", Domain: "a.example.com"}},
		Groups:  []AgentGroup{{ID: "g1", TenantID: "t1", Strategy: "fastest"}},
		Memberships: []Membership{
			{GroupID: "g1", AgentID: "missing", Priority: 10},
		},
		RoutingRules: []RoutingRule{{ID: "r1", TenantID: "t1", TargetKind: TargetAgent, TargetID: "nope"}},
	}
	_, err := NewSnapshotSource(snap)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "unknown strategy")
	assert.Contains(t, err.Error(), "unknown agent missing")
	assert.Contains(t, err.Error(), "targets unknown agent nope")
}

func TestGroupView_Validate(t *testing.T) {
	gv := GroupView{
		Group: AgentGroup{ID: "g", Strategy: StrategyPriority},
		Members: []Member{
			{Agent: VoiceAgent{ID: "a"}, Membership: Membership{Priority: 10}},
			{Agent: VoiceAgent{ID: "b"}, Membership: Membership{Priority: 10}},
		},
	}
	assert.ErrorIs(t, gv.Validate(), ErrInvalid, "tied priorities need same-priority rotation")

	gv.Group.Settings.RoundRobinSamePriority = true
	assert.NoError(t, gv.Validate())

	gv.Members[0].Membership.Priority = 101
	assert.ErrorIs(t, gv.Validate(), ErrInvalid)
}

func TestMembership_Weight(t *testing.T) {
	assert.Equal(t, 1, Membership{}.Weight())
	assert.Equal(t, 3, Membership{Capacity: 3}.Weight())
}

func TestLoadSnapshotFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleSnapshot), 0o600))
	snap, err := LoadSnapshotFile(path)
	require.NoError(t, err)
	assert.Len(t, snap.Agents, 2)

	_, err = ParseSnapshot([]byte("tenants: [{id: t1, bogus: 1}]"))
	assert.Error(t, err, "unknown fields are rejected")

	empty, err := ParseSnapshot(nil)
	require.NoError(t, err)
	assert.Empty(t, empty.Tenants)
}
