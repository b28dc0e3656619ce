package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"

	"voiceagent-lbs/pkg/utils"
)

// NOTE: PostgresSource assumes the administrative schema exposes:
// - tenants
// - voice_agents
// - agent_groups (settings jsonb)
// - agent_group_memberships
// - routing_rules
// - outbound_rules (trunk_ids text[])
// - trunks
//
// It only ever reads.

// PostgresSource reads configuration through database/sql with the pgx driver.
type PostgresSource struct {
	db    *sql.DB
	types *pgtype.Map
}

var _ Source = (*PostgresSource)(nil)

func NewPostgresSource(db *sql.DB) *PostgresSource {
	return &PostgresSource{db: db, types: pgtype.NewMap()}
}

const tenantColumns = `id, name, domain, COALESCE(webhook_token, ''), COALESCE(default_trunk_id::text, '')`

func scanTenant(row *sql.Row) (Tenant, error) {
	var t Tenant
	if err := row.Scan(&t.ID, &t.Name, &t.Domain, &t.WebhookToken, &t.DefaultTrunkID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Tenant{}, ErrTenantNotFound
		}
		return Tenant{}, err
	}
	return t, nil
}

func (s *PostgresSource) TenantByDomain(ctx context.Context, domain string) (Tenant, error) {
	q := `SELECT ` + tenantColumns + ` FROM tenants WHERE lower(domain) = $1`
	return scanTenant(s.db.QueryRowContext(ctx, q, strings.ToLower(strings.TrimSpace(domain))))
}

func (s *PostgresSource) Tenant(ctx context.Context, tenantID string) (Tenant, error) {
	q := `SELECT ` + tenantColumns + ` FROM tenants WHERE id = $1`
	return scanTenant(s.db.QueryRowContext(ctx, q, tenantID))
}

const agentColumns = `a.id, a.tenant_id, a.name, a.provider, a.destination,
COALESCE(a.username, ''), COALESCE(a.password, ''), a.enabled, COALESCE(a.max_concurrent_calls, 0)`

func agentDest(a *VoiceAgent) []any {
	return []any{&a.ID, &a.TenantID, &a.Name, &a.Provider, &a.Destination, &a.Username, &a.Password, &a.Enabled, &a.MaxConcurrentCalls}
}

func (s *PostgresSource) Agent(ctx context.Context, tenantID, agentID string) (VoiceAgent, error) {
	q := `SELECT ` + agentColumns + ` FROM voice_agents a WHERE a.tenant_id = $1 AND a.id = $2`
	var a VoiceAgent
	if err := s.db.QueryRowContext(ctx, q, tenantID, agentID).Scan(agentDest(&a)...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return VoiceAgent{}, ErrNotFound
		}
		return VoiceAgent{}, err
	}
	return a, nil
}

// Group reads the group and its memberships in one read-only transaction so a
// concurrent edit is never seen half applied.
func (s *PostgresSource) Group(ctx context.Context, tenantID, groupID string) (GroupView, error) {
	var gv GroupView
	err := utils.ReadTx(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		const gq = `
SELECT id, tenant_id, name, strategy, COALESCE(settings, '{}'::jsonb), enabled
FROM agent_groups
WHERE tenant_id = $1 AND id = $2
`
		var settings []byte
		if err := tx.QueryRowContext(ctx, gq, tenantID, groupID).Scan(
			&gv.Group.ID,
			&gv.Group.TenantID,
			&gv.Group.Name,
			&gv.Group.Strategy,
			&settings,
			&gv.Group.Enabled,
		); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if err := json.Unmarshal(settings, &gv.Group.Settings); err != nil {
			return fmt.Errorf("catalog: group %s settings: %w", groupID, err)
		}

		mq := `
SELECT m.group_id, m.agent_id, m.priority, COALESCE(m.capacity, 0), m.created_at, ` + agentColumns + `
FROM agent_group_memberships m
JOIN voice_agents a ON a.id = m.agent_id AND a.tenant_id = $1
WHERE m.group_id = $2
ORDER BY m.created_at, m.agent_id
`
		rows, err := tx.QueryContext(ctx, mq, tenantID, groupID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var m Member
			dest := append([]any{
				&m.Membership.GroupID,
				&m.Membership.AgentID,
				&m.Membership.Priority,
				&m.Membership.Capacity,
				&m.Membership.JoinedAt,
			}, agentDest(&m.Agent)...)
			if err := rows.Scan(dest...); err != nil {
				return err
			}
			gv.Members = append(gv.Members, m)
		}
		return rows.Err()
	})
	if err != nil {
		return GroupView{}, err
	}
	if err := gv.Validate(); err != nil {
		return GroupView{}, err
	}
	return gv, nil
}

func (s *PostgresSource) RoutingRules(ctx context.Context, tenantID string) ([]RoutingRule, error) {
	const q = `
SELECT id, tenant_id, name, pattern, target_kind, target_id, priority, enabled, created_at
FROM routing_rules
WHERE tenant_id = $1 AND enabled
ORDER BY priority DESC, created_at, id
`
	rows, err := s.db.QueryContext(ctx, q, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RoutingRule
	for rows.Next() {
		var r RoutingRule
		if err := rows.Scan(&r.ID, &r.TenantID, &r.Name, &r.Pattern, &r.TargetKind, &r.TargetID, &r.Priority, &r.Enabled, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresSource) OutboundRules(ctx context.Context, tenantID string) ([]OutboundRule, error) {
	const q = `
SELECT id, tenant_id, name, COALESCE(caller_pattern, ''), COALESCE(destination_pattern, ''),
       COALESCE(trunk_ids, '{}'::text[]), priority, enabled, created_at
FROM outbound_rules
WHERE tenant_id = $1 AND enabled
ORDER BY priority DESC, created_at, id
`
	rows, err := s.db.QueryContext(ctx, q, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OutboundRule
	for rows.Next() {
		var r OutboundRule
		if err := rows.Scan(
			&r.ID,
			&r.TenantID,
			&r.Name,
			&r.CallerPattern,
			&r.DestinationPattern,
			s.types.SQLScanner(&r.TrunkIDs),
			&r.Priority,
			&r.Enabled,
			&r.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresSource) Trunks(ctx context.Context, tenantID string) ([]Trunk, error) {
	const q = `
SELECT id, tenant_id, name, priority, enabled
FROM trunks
WHERE tenant_id = $1
ORDER BY priority DESC, id
`
	rows, err := s.db.QueryContext(ctx, q, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Trunk
	for rows.Next() {
		var t Trunk
		if err := rows.Scan(&t.ID, &t.TenantID, &t.Name, &t.Priority, &t.Enabled); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
