package routing

import (
	"context"
	"log/slog"

	"voiceagent-lbs/internal/events"
	"voiceagent-lbs/internal/lock"
	"voiceagent-lbs/pkg/logger"
)

// GroupCache is implemented by catalog sources that memoize group views.
type GroupCache interface {
	InvalidateGroup(tenantID, groupID string)
}

// Emitter accepts events without blocking.
type Emitter interface {
	EmitData(ctx context.Context, e events.Event, data any) bool
}

// InvalidateGroup clears a group's rotation state and cached configuration
// after its memberships, priorities or capacities changed. It holds the group
// lock so no routing decision observes half-cleared state.
func (e *Engine) InvalidateGroup(ctx context.Context, tenantID, groupID string, cache GroupCache, emitter Emitter) error {
	err := lock.Do(ctx, e.locker, e.keys.GroupLock(tenantID, groupID), func(ctx context.Context) error {
		if err := e.strategies.Invalidate(ctx, tenantID, groupID); err != nil {
			return err
		}
		if cache != nil {
			cache.InvalidateGroup(tenantID, groupID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	actor := ActorFromContext(ctx)
	logger.From(ctx).Info("group state invalidated",
		slog.String("tenant_id", tenantID),
		slog.String("group_id", groupID),
		slog.String("actor_id", actor.ID),
	)
	if emitter != nil {
		emitter.EmitData(ctx, events.Event{TenantID: tenantID, Type: events.TypeGroupStateInvalidated}, events.GroupInvalidation{
			GroupID:   groupID,
			ActorID:   actor.ID,
			ActorRole: actor.Role,
			IPAddress: ClientIPFromContext(ctx),
		})
	}
	return nil
}
