package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"voiceagent-lbs/internal/coordination"
	"voiceagent-lbs/internal/coordination/coordinationtest"
)

func TestEmit_RequiresTenantAndType(t *testing.T) {
	d := NewDispatcher(4, nil)
	if d.Emit(context.Background(), Event{Type: TypeCallStateChanged}) {
		t.Fatalf("expected event without tenant to be rejected")
	}
	if d.Emit(context.Background(), Event{TenantID: "t1"}) {
		t.Fatalf("expected event without type to be rejected")
	}
}

func TestDispatcher_DeliversToEverySink(t *testing.T) {
	a, b := NewMemorySink(), NewMemorySink()
	d := NewDispatcher(8, []Sink{a, b})
	go d.Run()

	ok := d.EmitData(context.Background(), Event{TenantID: "t1", Type: TypeCallStateChanged, CallID: "c1"}, StateChange{From: "queued", To: "routing"})
	if !ok {
		t.Fatalf("expected event to be accepted")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	for _, s := range []*MemorySink{a, b} {
		evs := s.Events()
		if len(evs) != 1 {
			t.Fatalf("expected 1 event, got %d", len(evs))
		}
		if evs[0].ID == "" || evs[0].CreatedAt.IsZero() {
			t.Fatalf("expected id and timestamp to be filled in")
		}
		var sc StateChange
		if err := json.Unmarshal(evs[0].Data, &sc); err != nil || sc.To != "routing" {
			t.Fatalf("unexpected payload %s (%v)", evs[0].Data, err)
		}
	}
}

func TestEmit_DropsWhenFullWithoutBlocking(t *testing.T) {
	var dropped []EventType
	d := NewDispatcher(1, nil, OnDrop(func(et EventType) { dropped = append(dropped, et) }))

	// No Run goroutine: the single slot fills and the next emit must drop.
	if !d.Emit(context.Background(), Event{TenantID: "t1", Type: TypeCallStateChanged}) {
		t.Fatalf("expected first event to be queued")
	}
	done := make(chan bool, 1)
	go func() { done <- d.Emit(context.Background(), Event{TenantID: "t1", Type: TypeRoutingDecisionMade}) }()

	select {
	case ok := <-done:
		if ok {
			t.Fatalf("expected second event to be dropped")
		}
	case <-time.After(time.Second):
		t.Fatalf("emit blocked on a full buffer")
	}
	if len(dropped) != 1 || dropped[0] != TypeRoutingDecisionMade {
		t.Fatalf("expected one dropped routing event, got %v", dropped)
	}
}

func TestEmit_AfterCloseIsDropped(t *testing.T) {
	d := NewDispatcher(4, nil)
	go d.Run()
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if d.Emit(context.Background(), Event{TenantID: "t1", Type: TypeCallStateChanged}) {
		t.Fatalf("expected emit after close to be dropped")
	}
}

func TestRedisSink_PublishesOnTenantChannel(t *testing.T) {
	store, mr := coordinationtest.NewStore(t)
	keys := coordination.NewKeys("test")
	sink := NewRedisSink(store, keys)

	sub := mr.NewSubscriber()
	defer sub.Close()
	sub.Subscribe(keys.EventsChannel("t1"))

	if err := sink.Publish(context.Background(), Event{ID: "e1", TenantID: "t1", Type: TypeCallDetailRecord}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-sub.Messages():
		var e Event
		if err := json.Unmarshal([]byte(msg.Message), &e); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if e.ID != "e1" || e.Type != TypeCallDetailRecord {
			t.Fatalf("unexpected event %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatalf("no message published")
	}
}
