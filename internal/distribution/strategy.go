// Package distribution picks one agent out of a group.
//
// Strategies never fail on empty input: they return nil. An error always means
// the coordination store could not be used.
package distribution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"voiceagent-lbs/internal/catalog"
	"voiceagent-lbs/internal/coordination"
)

var ErrUnknownStrategy = errors.New("distribution: unknown strategy")

const (
	DefaultWindow   = 24 * time.Hour
	DefaultStateTTL = 24 * time.Hour
)

// Strategy selects an agent from the available members of a group.
type Strategy interface {
	Name() catalog.Strategy
	Select(ctx context.Context, group catalog.GroupView, available []catalog.Member) (*catalog.Member, error)
}

type Options struct {
	// Window is the Load-Balanced rolling window.
	Window time.Duration
	// StateTTL bounds how long rotation pointers outlive the last call.
	StateTTL time.Duration
	Now      func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Window <= 0 {
		o.Window = DefaultWindow
	}
	if o.StateTTL <= 0 {
		o.StateTTL = DefaultStateTTL
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Registry maps the stored strategy tag to its implementation.
type Registry struct {
	store      coordination.Store
	keys       coordination.Keys
	strategies map[catalog.Strategy]Strategy
}

func NewRegistry(store coordination.Store, keys coordination.Keys, opts Options) *Registry {
	opts = opts.withDefaults()
	r := &Registry{store: store, keys: keys, strategies: map[catalog.Strategy]Strategy{}}
	for _, s := range []Strategy{
		&LoadBalanced{store: store, keys: keys, window: opts.Window, now: opts.Now},
		&Priority{store: store, keys: keys, ttl: opts.StateTTL},
		&RoundRobin{store: store, keys: keys, ttl: opts.StateTTL},
	} {
		r.strategies[s.Name()] = s
	}
	return r
}

func (r *Registry) For(tag catalog.Strategy) (Strategy, error) {
	s, ok := r.strategies[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, tag)
	}
	return s, nil
}

// Select runs the group's configured strategy.
func (r *Registry) Select(ctx context.Context, group catalog.GroupView, available []catalog.Member) (*catalog.Member, error) {
	s, err := r.For(group.Group.Strategy)
	if err != nil {
		return nil, err
	}
	return s.Select(ctx, group, available)
}

// Retracter is implemented by strategies whose selection leaves a record that
// must be undone when the chosen agent turns out to be full.
type Retracter interface {
	Retract(ctx context.Context, group catalog.GroupView, chosen catalog.Member) error
}

// Retract undoes the selection of chosen if the group's strategy recorded one.
func (r *Registry) Retract(ctx context.Context, group catalog.GroupView, chosen catalog.Member) error {
	s, err := r.For(group.Group.Strategy)
	if err != nil {
		return err
	}
	if rt, ok := s.(Retracter); ok {
		return rt.Retract(ctx, group, chosen)
	}
	return nil
}

// Invalidate drops the rotation state of a group: the round-robin pointer and
// every priority rotation counter. Load windows are call history, not derived
// state, and are kept.
func (r *Registry) Invalidate(ctx context.Context, tenantID, groupID string) error {
	if err := r.store.Delete(ctx, r.keys.RoundRobinPointer(tenantID, groupID)); err != nil {
		return fmt.Errorf("distribution: invalidate round robin: %w", err)
	}
	if _, err := r.store.DeleteMatching(ctx, r.keys.PriorityRotationPattern(tenantID, groupID)); err != nil {
		return fmt.Errorf("distribution: invalidate priority rotation: %w", err)
	}
	return nil
}

func availableSet(available []catalog.Member) map[string]catalog.Member {
	out := make(map[string]catalog.Member, len(available))
	for _, m := range available {
		out[m.Agent.ID] = m
	}
	return out
}
