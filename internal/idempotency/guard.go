// Package idempotency deduplicates webhook deliveries.
//
// A delivery is identified by (tenant, event type, session token, event id).
// The first delivery claims a TTL'd marker with a single set-if-absent; any
// later delivery inside the TTL is a duplicate.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"voiceagent-lbs/internal/coordination"
)

const DefaultTTL = 24 * time.Hour

const (
	statusProcessing = "processing"
	statusCompleted  = "completed"
)

var ErrInvalidKey = errors.New("idempotency: tenant, event type and event id are required")

// Delivery identifies one webhook delivery.
type Delivery struct {
	TenantID     string
	EventType    string
	SessionToken string
	EventID      string
}

func (d Delivery) validate() error {
	if strings.TrimSpace(d.TenantID) == "" || strings.TrimSpace(d.EventType) == "" || strings.TrimSpace(d.EventID) == "" {
		return ErrInvalidKey
	}
	return nil
}

// Marker is what a claimed delivery currently records.
type Marker struct {
	Completed bool
	// Result is the payload stored by Finalize (for call-start, the rendered document).
	Result string
}

type Guard struct {
	store coordination.Store
	keys  coordination.Keys
	ttl   time.Duration
}

func NewGuard(store coordination.Store, keys coordination.Keys, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{store: store, keys: keys, ttl: ttl}
}

func (g *Guard) key(d Delivery) string {
	return g.keys.Idempotency(d.TenantID, d.EventType, d.SessionToken, d.EventID)
}

// TryClaim returns true when this delivery is the first one seen within the TTL.
// Store failures are returned; the caller must not proceed as if it had claimed.
func (g *Guard) TryClaim(ctx context.Context, d Delivery) (bool, error) {
	if err := d.validate(); err != nil {
		return false, err
	}
	ok, err := g.store.SetIfAbsent(ctx, g.key(d), statusProcessing, g.ttl)
	if err != nil {
		return false, fmt.Errorf("idempotency: claim %s: %w", d.EventType, err)
	}
	return ok, nil
}

// Finalize marks a claimed delivery completed and stores result alongside it.
// The marker keeps the TTL set at claim time.
func (g *Guard) Finalize(ctx context.Context, d Delivery, result string) error {
	if err := d.validate(); err != nil {
		return err
	}
	ok, err := g.store.Replace(ctx, g.key(d), statusCompleted+"\n"+result)
	if err != nil {
		return fmt.Errorf("idempotency: finalize %s: %w", d.EventType, err)
	}
	if !ok {
		// Marker expired between claim and finalize; recreate it.
		if _, err := g.store.SetIfAbsent(ctx, g.key(d), statusCompleted+"\n"+result, g.ttl); err != nil {
			return fmt.Errorf("idempotency: finalize %s: %w", d.EventType, err)
		}
	}
	return nil
}

// Release drops the marker of a delivery whose processing failed so the
// carrier's retry is not rejected as a duplicate.
func (g *Guard) Release(ctx context.Context, d Delivery) error {
	if err := d.validate(); err != nil {
		return err
	}
	if err := g.store.Delete(ctx, g.key(d)); err != nil {
		return fmt.Errorf("idempotency: release %s: %w", d.EventType, err)
	}
	return nil
}

// Lookup reads the marker of a delivery. ok is false when none exists.
func (g *Guard) Lookup(ctx context.Context, d Delivery) (Marker, bool, error) {
	if err := d.validate(); err != nil {
		return Marker{}, false, err
	}
	v, ok, err := g.store.Get(ctx, g.key(d))
	if err != nil {
		return Marker{}, false, fmt.Errorf("idempotency: lookup %s: %w", d.EventType, err)
	}
	if !ok {
		return Marker{}, false, nil
	}
	status, result, _ := strings.Cut(v, "\n")
	return Marker{Completed: status == statusCompleted, Result: result}, true, nil
}
