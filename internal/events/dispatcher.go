// Package events emits call-state and routing notifications without ever
// blocking the webhook path.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"voiceagent-lbs/pkg/logger"
)

const DefaultBuffer = 1024

var ErrInvalidEvent = errors.New("events: invalid event")

// Dispatcher queues events in a bounded buffer and delivers them from a
// background goroutine. When the buffer is full the event is dropped.
type Dispatcher struct {
	sinks   []Sink
	queue   chan Event
	clock   func() time.Time
	log     *slog.Logger
	onDrop  func(EventType)
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

type Option func(*Dispatcher)

// OnDrop is called for every event dropped on a full buffer.
func OnDrop(fn func(EventType)) Option { return func(d *Dispatcher) { d.onDrop = fn } }

func WithLogger(l *slog.Logger) Option { return func(d *Dispatcher) { d.log = l } }

func NewDispatcher(buffer int, sinks []Sink, opts ...Option) *Dispatcher {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	d := &Dispatcher{
		sinks:   sinks,
		queue:   make(chan Event, buffer),
		clock:   time.Now,
		log:     slog.Default(),
		onDrop:  func(EventType) {},
		timeout: 2 * time.Second,
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Emit enqueues e. It never blocks and reports whether e was accepted.
func (d *Dispatcher) Emit(ctx context.Context, e Event) bool {
	if e.TenantID == "" || e.Type == "" {
		logger.From(ctx).Warn("dropping invalid event", slog.String("type", string(e.Type)))
		return false
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = d.clock().UTC()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.onDrop(e.Type)
		return false
	}
	select {
	case d.queue <- e:
		return true
	default:
		d.onDrop(e.Type)
		return false
	}
}

// EmitData marshals data into the event payload and emits it.
func (d *Dispatcher) EmitData(ctx context.Context, e Event, data any) bool {
	b, err := json.Marshal(data)
	if err != nil {
		logger.From(ctx).Warn("dropping unencodable event", slog.String("type", string(e.Type)), slog.String("error", err.Error()))
		return false
	}
	e.Data = b
	return d.Emit(ctx, e)
}

// Run delivers queued events until Close is called and the buffer is drained.
func (d *Dispatcher) Run() {
	defer close(d.done)
	for e := range d.queue {
		for _, s := range d.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			if err := s.Publish(ctx, e); err != nil {
				d.log.Warn("event delivery failed",
					slog.String("type", string(e.Type)),
					slog.String("tenant_id", e.TenantID),
					slog.String("error", err.Error()),
				)
			}
			cancel()
		}
	}
}

// Close stops intake and waits for Run to drain the buffer or ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
