package telephony

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"voiceagent-lbs/internal/calls"
	"voiceagent-lbs/internal/catalog"
	"voiceagent-lbs/internal/coordination"
	"voiceagent-lbs/internal/events"
	"voiceagent-lbs/internal/idempotency"
	"voiceagent-lbs/internal/lock"
	"voiceagent-lbs/internal/metrics"
	"voiceagent-lbs/internal/routing"
	"voiceagent-lbs/pkg/logger"
)

// Idempotency event types, one per webhook.
const (
	EventCallStart     = "call_start"
	EventSessionUpdate = "session_update"
	EventCDR           = "cdr"
)

// ErrUnknownTenant covers both an unknown domain and a webhook token mismatch;
// callers must not be able to tell them apart.
var ErrUnknownTenant = errors.New("telephony: unknown tenant")

// Router is the routing engine as seen by the webhook service.
type Router interface {
	Route(ctx context.Context, req routing.Request) routing.Decision
	ReleaseAgent(ctx context.Context, tenantID, agentID string) error
}

// Service runs the carrier webhooks: deduplicate, serialize per session,
// route, move the session through its lifecycle and answer.
type Service struct {
	catalog  catalog.Source
	guard    *idempotency.Guard
	locker   *lock.Locker
	sessions *calls.Store
	router   Router
	keys     coordination.Keys
	emitter  routing.Emitter
}

// NewService wires the service and subscribes it to session transitions so
// terminal calls release their agent slot and every change is published.
func NewService(src catalog.Source, guard *idempotency.Guard, locker *lock.Locker, sessions *calls.Store, router Router, keys coordination.Keys, emitter routing.Emitter) *Service {
	s := &Service{
		catalog:  src,
		guard:    guard,
		locker:   locker,
		sessions: sessions,
		router:   router,
		keys:     keys,
		emitter:  emitter,
	}
	sessions.Observe(s)
	return s
}

// ResolveTenant maps a webhook domain to its tenant and checks the presented
// webhook token when the tenant has one.
func (s *Service) ResolveTenant(ctx context.Context, domain, token string) (catalog.Tenant, error) {
	t, err := s.catalog.TenantByDomain(ctx, domain)
	if errors.Is(err, catalog.ErrTenantNotFound) || errors.Is(err, catalog.ErrNotFound) {
		return catalog.Tenant{}, ErrUnknownTenant
	}
	if err != nil {
		return catalog.Tenant{}, fmt.Errorf("telephony: resolve %s: %w", domain, err)
	}
	if t.WebhookToken != "" && subtle.ConstantTimeCompare([]byte(t.WebhookToken), []byte(token)) != 1 {
		return catalog.Tenant{}, ErrUnknownTenant
	}
	return t, nil
}

// StartResult is the answer to a call-start webhook. Document is always a
// valid CXML document, also when an error is returned.
type StartResult struct {
	Document  string
	Decision  routing.Decision
	Duplicate bool
}

// StartCall routes a new call. A duplicate delivery gets the document stored
// by the first one, or a hangup while the first is still in flight.
func (s *Service) StartCall(ctx context.Context, tenant catalog.Tenant, in VoiceRequest) (StartResult, error) {
	d := idempotency.Delivery{
		TenantID:     tenant.ID,
		EventType:    EventCallStart,
		SessionToken: in.SessionToken(),
		EventID:      in.CallID,
	}
	hangup := StartResult{Document: HangupDocument, Decision: routing.Hangup(tenant.ID, in.CallID, "")}

	claimed, err := s.guard.TryClaim(ctx, d)
	if err != nil {
		hangup.Decision.Reason = "routing error: " + err.Error()
		return hangup, err
	}
	if !claimed {
		metrics.RecordDuplicate(EventCallStart)
		hangup.Duplicate = true
		hangup.Decision.Reason = "duplicate delivery"
		m, ok, err := s.guard.Lookup(ctx, d)
		if err != nil {
			return hangup, err
		}
		if ok && m.Completed && m.Result != "" {
			hangup.Document = m.Result
		}
		return hangup, nil
	}

	decision, err := s.routeCall(ctx, tenant, in)
	if err != nil {
		if errors.Is(err, lock.ErrContention) {
			metrics.RecordLockContention("session")
		}
		if rerr := s.guard.Release(ctx, d); rerr != nil {
			logger.From(ctx).Warn("idempotency release failed", slog.String("error", rerr.Error()))
		}
		hangup.Decision.Reason = "routing error: " + err.Error()
		return hangup, err
	}

	doc, err := RenderOrHangup(decision)
	if err != nil {
		logger.From(ctx).Error("cxml render failed, answering with hangup",
			slog.String("call_id", in.CallID),
			slog.String("error", err.Error()),
		)
	}
	if err := s.guard.Finalize(ctx, d, doc); err != nil {
		logger.From(ctx).Warn("idempotency finalize failed", slog.String("error", err.Error()))
	}
	return StartResult{Document: doc, Decision: decision}, nil
}

// routeCall creates the session, routes it and records the outcome, all under
// the session lock.
func (s *Service) routeCall(ctx context.Context, tenant catalog.Tenant, in VoiceRequest) (routing.Decision, error) {
	token := in.SessionToken()
	return lock.WithLock(ctx, s.locker, s.keys.SessionLock(tenant.ID, token), func(ctx context.Context) (routing.Decision, error) {
		sess := &calls.Session{
			Token:     token,
			TenantID:  tenant.ID,
			CallID:    in.CallID,
			Direction: in.CallDirection(),
			From:      in.From,
			To:        in.To,
		}
		err := s.sessions.Create(ctx, sess)
		if errors.Is(err, calls.ErrSessionExists) {
			// A session update can arrive before the call-start webhook.
			sess, err = s.sessions.Get(ctx, tenant.ID, token)
			if err != nil {
				return routing.Decision{}, err
			}
			// Only a session that was already routed or has ended is final.
			if calls.IsTerminal(sess.Status) || sess.Target != nil {
				return routing.Hangup(tenant.ID, in.CallID, "session already "+string(sess.Status)), nil
			}
			sess.CallID = in.CallID
			sess.Direction = in.CallDirection()
		} else if err != nil {
			return routing.Decision{}, err
		}
		if sess.Status == calls.StatusReceived || sess.Status == calls.StatusQueued {
			if _, err := s.sessions.AdvanceTo(ctx, sess, calls.StatusRouting, nil); err != nil {
				return routing.Decision{}, err
			}
		}

		decision := s.router.Route(ctx, routing.Request{
			TenantID:  tenant.ID,
			CallID:    in.CallID,
			Direction: sess.Direction,
			From:      in.From,
			To:        in.To,
		})

		if decision.Success {
			sess.Target = targetOf(decision)
			err = s.connect(ctx, sess, decision)
		} else {
			_, err = s.sessions.AdvanceTo(ctx, sess, calls.StatusFailed, map[string]string{
				"reason": decision.Reason,
			})
		}
		if err != nil {
			if decision.Reserved && decision.Agent != nil {
				if rerr := s.router.ReleaseAgent(ctx, tenant.ID, decision.Agent.ID); rerr != nil {
					logger.From(ctx).Warn("agent slot release failed", slog.String("error", rerr.Error()))
				}
			}
			return routing.Decision{}, err
		}

		s.emit(ctx, events.Event{
			TenantID:     tenant.ID,
			Type:         events.TypeRoutingDecisionMade,
			CallID:       in.CallID,
			SessionToken: token,
		}, decisionPayload(decision))
		return decision, nil
	})
}

// connect moves sess to connecting unless the carrier already reported it
// there or beyond, in which case only the target is persisted.
func (s *Service) connect(ctx context.Context, sess *calls.Session, d routing.Decision) error {
	if sess.Status == calls.StatusRouting {
		_, err := s.sessions.AdvanceTo(ctx, sess, calls.StatusConnecting, map[string]string{
			"routing_type": string(d.RoutingType),
		})
		return err
	}
	return s.sessions.Save(ctx, sess)
}

func targetOf(d routing.Decision) *calls.Target {
	t := &calls.Target{
		RoutingType: string(d.RoutingType),
		GroupID:     d.GroupID,
		TrunkIDs:    d.TrunkIDs,
		Reserved:    d.Reserved,
	}
	if d.Agent != nil {
		t.AgentID = d.Agent.ID
	}
	return t
}

func decisionPayload(d routing.Decision) events.RoutingDecision {
	p := events.RoutingDecision{
		Success:     d.Success,
		RoutingType: string(d.RoutingType),
		GroupID:     d.GroupID,
		RuleID:      d.RuleID,
		TrunkIDs:    d.TrunkIDs,
		Reason:      d.Reason,
	}
	if d.Agent != nil {
		p.AgentID = d.Agent.ID
	}
	return p
}

// UpdateResult reports what a session or CDR webhook did.
type UpdateResult struct {
	Duplicate bool
	// Ignored is set when the reported state cannot be reached from the
	// session's current state, e.g. it is already terminal.
	Ignored bool
	Status  calls.CallStatus
}

// UpdateSession applies a carrier session update, creating the session when
// the update is the first thing heard about the call.
func (s *Service) UpdateSession(ctx context.Context, tenant catalog.Tenant, u SessionUpdate) (UpdateResult, error) {
	target, err := MapSessionStatus(u.Status)
	if err != nil {
		return UpdateResult{}, err
	}
	d := idempotency.Delivery{
		TenantID:     tenant.ID,
		EventType:    EventSessionUpdate,
		SessionToken: u.Token,
		EventID:      u.EventID(),
	}
	md := map[string]string{
		"external_status": u.Status,
		"session_id":      strconv.FormatInt(u.ID, 10),
	}
	seed := &calls.Session{
		Token:     u.Token,
		TenantID:  tenant.ID,
		Direction: catalog.DirectionInbound,
		From:      u.CallerID,
		To:        u.Destination,
	}
	return s.advance(ctx, d, seed, target, md)
}

// RecordCDR publishes a call detail record and moves a known session to the
// terminal state its disposition implies.
func (s *Service) RecordCDR(ctx context.Context, tenant catalog.Tenant, c CDR) (UpdateResult, error) {
	disposition := NormalizeDisposition(c.Disposition)
	d := idempotency.Delivery{
		TenantID:     tenant.ID,
		EventType:    EventCDR,
		SessionToken: c.SessionToken(),
		EventID:      c.CallID,
	}
	md := map[string]string{"disposition": string(disposition)}

	res, err := s.advance(ctx, d, nil, disposition.TerminalStatus(), md)
	if err != nil || res.Duplicate {
		return res, err
	}
	s.emit(ctx, events.Event{
		TenantID:     tenant.ID,
		Type:         events.TypeCallDetailRecord,
		CallID:       c.CallID,
		SessionToken: c.SessionToken(),
	}, events.CallDetail{
		Disposition:     string(disposition),
		RawDisposition:  c.Disposition,
		DurationSeconds: c.Duration,
		BilledSeconds:   c.BillSec,
		From:            c.From,
		To:              c.To,
	})
	return res, nil
}

// advance claims the delivery and walks the session to target under the
// session lock. A missing session is created from seed, or left alone when
// seed is nil.
func (s *Service) advance(ctx context.Context, d idempotency.Delivery, seed *calls.Session, target calls.CallStatus, md map[string]string) (UpdateResult, error) {
	claimed, err := s.guard.TryClaim(ctx, d)
	if err != nil {
		return UpdateResult{}, err
	}
	if !claimed {
		metrics.RecordDuplicate(d.EventType)
		return UpdateResult{Duplicate: true}, nil
	}

	res, err := lock.WithLock(ctx, s.locker, s.keys.SessionLock(d.TenantID, d.SessionToken), func(ctx context.Context) (UpdateResult, error) {
		sess, err := s.sessions.Get(ctx, d.TenantID, d.SessionToken)
		if errors.Is(err, calls.ErrSessionNotFound) {
			if seed == nil {
				return UpdateResult{Ignored: true}, nil
			}
			if err := s.sessions.Create(ctx, seed); err != nil {
				return UpdateResult{}, err
			}
			sess, err = seed, nil
		}
		if err != nil {
			return UpdateResult{}, err
		}
		if _, err := s.sessions.AdvanceTo(ctx, sess, target, md); err != nil {
			if errors.Is(err, calls.ErrUnreachable) {
				logger.From(ctx).Info("session update ignored",
					slog.String("session_token", sess.Token),
					slog.String("status", string(sess.Status)),
					slog.String("target", string(target)),
				)
				return UpdateResult{Ignored: true, Status: sess.Status}, nil
			}
			return UpdateResult{}, err
		}
		return UpdateResult{Status: sess.Status}, nil
	})
	if err != nil {
		if errors.Is(err, lock.ErrContention) {
			metrics.RecordLockContention("session")
		}
		if rerr := s.guard.Release(ctx, d); rerr != nil {
			logger.From(ctx).Warn("idempotency release failed", slog.String("error", rerr.Error()))
		}
		return UpdateResult{}, err
	}
	if err := s.guard.Finalize(ctx, d, string(res.Status)); err != nil {
		logger.From(ctx).Warn("idempotency finalize failed", slog.String("error", err.Error()))
	}
	return res, nil
}

// SessionTransitioned publishes every state change and returns the agent slot
// when a call that held one ends.
func (s *Service) SessionTransitioned(ctx context.Context, sess *calls.Session, from, to calls.CallStatus) {
	metrics.RecordTransition(string(to))
	s.emit(ctx, events.Event{
		TenantID:     sess.TenantID,
		Type:         events.TypeCallStateChanged,
		CallID:       sess.CallID,
		SessionToken: sess.Token,
	}, events.StateChange{From: string(from), To: string(to)})

	if !calls.IsTerminal(to) || sess.Target == nil || !sess.Target.Reserved || sess.Target.AgentID == "" {
		return
	}
	if err := s.router.ReleaseAgent(ctx, sess.TenantID, sess.Target.AgentID); err != nil {
		logger.From(ctx).Warn("agent slot release failed",
			slog.String("agent_id", sess.Target.AgentID),
			slog.String("error", err.Error()),
		)
	}
}

// Session returns a stored session.
func (s *Service) Session(ctx context.Context, tenantID, token string) (*calls.Session, error) {
	return s.sessions.Get(ctx, tenantID, token)
}

func (s *Service) emit(ctx context.Context, e events.Event, data any) {
	if s.emitter == nil {
		return
	}
	s.emitter.EmitData(ctx, e, data)
}
