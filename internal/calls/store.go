package calls

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"voiceagent-lbs/internal/coordination"
)

const DefaultSessionTTL = 24 * time.Hour

var (
	ErrSessionNotFound = errors.New("calls: session not found")
	ErrSessionExists   = errors.New("calls: session already exists")
)

// Observer is told about every state change after it has been persisted.
type Observer interface {
	SessionTransitioned(ctx context.Context, s *Session, from, to CallStatus)
}

type ObserverFunc func(ctx context.Context, s *Session, from, to CallStatus)

func (f ObserverFunc) SessionTransitioned(ctx context.Context, s *Session, from, to CallStatus) {
	f(ctx, s, from, to)
}

// Store persists sessions in the coordination store.
//
// Mutating methods assume the caller holds the session lock; they do a plain
// read then write of the session document.
type Store struct {
	store     coordination.Store
	keys      coordination.Keys
	ttl       time.Duration
	now       func() time.Time
	observers []Observer
}

func NewStore(store coordination.Store, keys coordination.Keys, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Store{store: store, keys: keys, ttl: ttl, now: time.Now}
}

// Observe registers o for every later transition.
func (st *Store) Observe(o Observer) { st.observers = append(st.observers, o) }

// SetClock replaces the time source.
func (st *Store) SetClock(now func() time.Time) { st.now = now }

// Create persists a new session in the received state.
func (st *Store) Create(ctx context.Context, s *Session) error {
	if s.TenantID == "" || s.Token == "" {
		return fmt.Errorf("calls: tenant and token are required")
	}
	now := st.now().UTC()
	s.Status = StatusReceived
	s.History = nil
	s.CreatedAt, s.UpdatedAt = now, now
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("calls: encode session: %w", err)
	}
	ok, err := st.store.SetIfAbsent(ctx, st.keys.Session(s.TenantID, s.Token), string(b), st.ttl)
	if err != nil {
		return fmt.Errorf("calls: create session: %w", err)
	}
	if !ok {
		return ErrSessionExists
	}
	return nil
}

func (st *Store) Get(ctx context.Context, tenantID, token string) (*Session, error) {
	v, ok, err := st.store.Get(ctx, st.keys.Session(tenantID, token))
	if err != nil {
		return nil, fmt.Errorf("calls: load session: %w", err)
	}
	if !ok {
		return nil, ErrSessionNotFound
	}
	var s Session
	if err := json.Unmarshal([]byte(v), &s); err != nil {
		return nil, fmt.Errorf("calls: decode session %s: %w", token, err)
	}
	return &s, nil
}

// Save writes s back with a refreshed TTL.
func (st *Store) Save(ctx context.Context, s *Session) error {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("calls: encode session: %w", err)
	}
	if err := st.store.Set(ctx, st.keys.Session(s.TenantID, s.Token), string(b), st.ttl); err != nil {
		return fmt.Errorf("calls: save session: %w", err)
	}
	return nil
}

// Transition applies one legal edge and persists the result.
func (st *Store) Transition(ctx context.Context, tenantID, token string, next CallStatus, metadata map[string]string) (*Session, error) {
	s, err := st.Get(ctx, tenantID, token)
	if err != nil {
		return nil, err
	}
	from := s.Status
	if err := s.Transition(next, metadata, st.now()); err != nil {
		return s, err
	}
	if err := st.Save(ctx, s); err != nil {
		return nil, err
	}
	st.notify(ctx, s, []CallStatus{from, next})
	return s, nil
}

// AdvanceTo walks s along the shortest legal path to target and persists it.
// It returns the states entered; none when s is already at target.
func (st *Store) AdvanceTo(ctx context.Context, s *Session, target CallStatus, metadata map[string]string) ([]CallStatus, error) {
	from := s.Status
	entered, err := s.AdvanceTo(target, metadata, st.now())
	if err != nil {
		return nil, err
	}
	if len(entered) == 0 {
		return nil, nil
	}
	if err := st.Save(ctx, s); err != nil {
		return nil, err
	}
	st.notify(ctx, s, append([]CallStatus{from}, entered...))
	return entered, nil
}

// notify reports each consecutive pair in chain.
func (st *Store) notify(ctx context.Context, s *Session, chain []CallStatus) {
	for i := 1; i < len(chain); i++ {
		for _, o := range st.observers {
			o.SessionTransitioned(ctx, s, chain[i-1], chain[i])
		}
	}
}
