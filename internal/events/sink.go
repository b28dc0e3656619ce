package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"voiceagent-lbs/internal/coordination"
)

// Sink delivers events to a consumer.
type Sink interface {
	Publish(ctx context.Context, e Event) error
}

// MemorySink keeps every event; useful in tests and for lbsctl dry runs.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (s *MemorySink) Publish(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// RedisSink publishes each event as JSON on the tenant's pub/sub channel.
type RedisSink struct {
	store coordination.Store
	keys  coordination.Keys
}

func NewRedisSink(store coordination.Store, keys coordination.Keys) *RedisSink {
	return &RedisSink{store: store, keys: keys}
}

func (s *RedisSink) Publish(ctx context.Context, e Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("events: encode %s: %w", e.Type, err)
	}
	return s.store.Publish(ctx, s.keys.EventsChannel(e.TenantID), b)
}
