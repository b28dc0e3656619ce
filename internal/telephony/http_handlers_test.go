package telephony

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voiceagent-lbs/internal/calls"
	"voiceagent-lbs/internal/catalog"
	"voiceagent-lbs/internal/coordination"
	"voiceagent-lbs/internal/coordination/coordinationtest"
	"voiceagent-lbs/internal/distribution"
	"voiceagent-lbs/internal/events"
	"voiceagent-lbs/internal/idempotency"
	"voiceagent-lbs/internal/lock"
	"voiceagent-lbs/internal/matcher"
	"voiceagent-lbs/internal/routing"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func testSnapshot() *catalog.Snapshot {
	return &catalog.Snapshot{
		Tenants: []catalog.Tenant{
			{ID: "t1", Domain: "t1.example.com"},
			{ID: "t2", Domain: "t2.example.com", WebhookToken: "s3cret"},
		},
		Agents: []catalog.VoiceAgent{
			{ID: "1", TenantID: "t1", Provider: "retell", Destination: "sip:1@agents", Enabled: true},
			{ID: "2", TenantID: "t1", Provider: "retell", Destination: "sip:2@agents", Enabled: true},
			{ID: "3", TenantID: "t1", Provider: "retell", Destination: "sip:3@agents", Enabled: true},
			{ID: "solo", TenantID: "t1", Provider: "vapi", Destination: "sip:solo@agents", Enabled: true, MaxConcurrentCalls: 1},
			{ID: "x", TenantID: "t2", Provider: "vapi", Destination: "sip:x@agents", Enabled: true},
		},
		Groups: []catalog.AgentGroup{
			{ID: "G", TenantID: "t1", Strategy: catalog.StrategyRoundRobin, Enabled: true},
		},
		Memberships: []catalog.Membership{
			{GroupID: "G", AgentID: "1", Priority: 10, JoinedAt: epoch},
			{GroupID: "G", AgentID: "2", Priority: 10, JoinedAt: epoch.Add(time.Minute)},
			{GroupID: "G", AgentID: "3", Priority: 10, JoinedAt: epoch.Add(2 * time.Minute)},
		},
		RoutingRules: []catalog.RoutingRule{
			{ID: "R", TenantID: "t1", Pattern: "+1555*", TargetKind: catalog.TargetGroup, TargetID: "G", Priority: 10, Enabled: true},
			{ID: "solo", TenantID: "t1", Pattern: "+1666*", TargetKind: catalog.TargetAgent, TargetID: "solo", Priority: 10, Enabled: true},
			{ID: "x", TenantID: "t2", Pattern: "*", TargetKind: catalog.TargetAgent, TargetID: "x", Priority: 1, Enabled: true},
		},
	}
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingEmitter) EmitData(_ context.Context, e events.Event, data any) bool {
	b, _ := json.Marshal(data)
	e.Data = b
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return true
}

func (r *recordingEmitter) ofType(t events.EventType) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	svc     *Service
	emitter *recordingEmitter
	router  *gin.Engine
}

func newFixtureOn(t *testing.T, store coordination.Store) fixture {
	t.Helper()
	keys := coordination.NewKeys("test")
	src, err := catalog.NewSnapshotSource(testSnapshot())
	require.NoError(t, err)
	patterns, err := matcher.NewPatterns(0)
	require.NoError(t, err)
	t.Cleanup(patterns.Close)

	locker := lock.New(store, time.Second, lock.WithBackoff(time.Millisecond))
	engine := routing.NewEngine(
		src,
		matcher.New(src, patterns),
		distribution.NewRegistry(store, keys, distribution.Options{}),
		locker,
		routing.NewCapacity(store, keys, time.Hour),
		keys,
	)
	em := &recordingEmitter{}
	svc := NewService(src, idempotency.NewGuard(store, keys, time.Hour), locker, calls.NewStore(store, keys, time.Hour), engine, keys, em)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := WebhookHandler{Service: svc}
	r.POST("/webhooks/cloudonix/voice", h.HandleVoice)
	r.POST("/webhooks/cloudonix/session", h.HandleSession)
	r.POST("/webhooks/cloudonix/cdr", h.HandleCDR)
	return fixture{svc: svc, emitter: em, router: r}
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store, _ := coordinationtest.NewStore(t)
	return newFixtureOn(t, store)
}

func (f fixture) voice(callID, to string, header http.Header) *httptest.ResponseRecorder {
	form := url.Values{
		"CallSid": {callID},
		"From":    {"+12125550000"},
		"To":      {to},
		"Domain":  {"t1.example.com"},
	}
	if header != nil && header.Get("X-Domain") != "" {
		form.Set("Domain", header.Get("X-Domain"))
	}
	req := httptest.NewRequest(http.MethodPost, "/webhooks/cloudonix/voice", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f fixture) postJSON(path string, body any) *httptest.ResponseRecorder {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(string(b)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func sessionUpdate(token, status string, modified time.Time) map[string]any {
	return map[string]any{
		"id":          42,
		"domain":      "t1.example.com",
		"token":       token,
		"status":      status,
		"callerId":    "+12125550000",
		"destination": "+15550001",
		"createdAt":   epoch.Format(time.RFC3339),
		"modifiedAt":  modified.Format(time.RFC3339),
	}
}

func cdr(callID, token, disposition string) map[string]any {
	return map[string]any{
		"call_id":     callID,
		"domain":      "t1.example.com",
		"from":        "+12125550000",
		"to":          "+15550001",
		"disposition": disposition,
		"duration":    30,
		"billsec":     25,
		"session":     map[string]any{"token": token},
	}
}

func (f fixture) session(t *testing.T, token string) *calls.Session {
	t.Helper()
	s, err := f.svc.Session(context.Background(), "t1", token)
	require.NoError(t, err)
	require.NoError(t, s.Verify())
	return s
}

func TestVoice_RoundRobinScenario(t *testing.T) {
	f := newFixture(t)

	w1 := f.voice("c1", "+15550001", nil)
	w2 := f.voice("c2", "+15550002", nil)

	require.Equal(t, http.StatusOK, w1.Code)
	assert.Equal(t, contentTypeXML, w1.Header().Get("Content-Type"))
	assert.Contains(t, w1.Body.String(), "sip:1@agents")
	assert.Contains(t, w2.Body.String(), "sip:2@agents")
	assert.NoError(t, ValidateCXML(w1.Body.String()))

	s := f.session(t, "c1")
	assert.Equal(t, calls.StatusConnecting, s.Status)
	require.NotNil(t, s.Target)
	assert.Equal(t, "1", s.Target.AgentID)
	assert.Equal(t, "G", s.Target.GroupID)

	decisions := f.emitter.ofType(events.TypeRoutingDecisionMade)
	require.Len(t, decisions, 2)
	var p events.RoutingDecision
	require.NoError(t, json.Unmarshal(decisions[0].Data, &p))
	assert.True(t, p.Success)
	assert.Equal(t, "agent_group", p.RoutingType)
	assert.Equal(t, "R", p.RuleID)
	assert.Len(t, f.emitter.ofType(events.TypeCallStateChanged), 6)
}

func TestVoice_RoutesAfterEarlySessionUpdate(t *testing.T) {
	for _, status := range []string{"processing", "ringing"} {
		t.Run(status, func(t *testing.T) {
			f := newFixture(t)
			w := f.postJSON("/webhooks/cloudonix/session", sessionUpdate("c1", status, epoch))
			require.Equal(t, http.StatusOK, w.Code)

			v := f.voice("c1", "+15550001", nil)
			require.Equal(t, http.StatusOK, v.Code)
			assert.Contains(t, v.Body.String(), "<Dial")
			assert.Contains(t, v.Body.String(), "sip:1@agents")

			s := f.session(t, "c1")
			assert.Equal(t, calls.StatusConnecting, s.Status)
			require.NotNil(t, s.Target)
			assert.Equal(t, "1", s.Target.AgentID)
		})
	}
}

func TestVoice_EndedSessionHangsUp(t *testing.T) {
	f := newFixture(t)
	w := f.postJSON("/webhooks/cloudonix/session", sessionUpdate("c1", "noanswer", epoch))
	require.Equal(t, http.StatusOK, w.Code)

	v := f.voice("c1", "+15550001", nil)
	require.Equal(t, http.StatusOK, v.Code)
	assert.Contains(t, v.Body.String(), "<Hangup")
	assert.NotContains(t, v.Body.String(), "<Dial")
}

func TestVoice_DuplicateReplaysDocument(t *testing.T) {
	f := newFixture(t)

	first := f.voice("c1", "+15550001", nil)
	again := f.voice("c1", "+15550001", nil)

	require.Equal(t, http.StatusOK, again.Code)
	assert.Equal(t, "true", again.Header().Get(headerReplay))
	assert.Equal(t, first.Body.String(), again.Body.String())
	assert.Len(t, f.emitter.ofType(events.TypeRoutingDecisionMade), 1)

	next := f.voice("c2", "+15550001", nil)
	assert.Contains(t, next.Body.String(), "sip:2@agents")
}

func TestVoice_NoMatchingRuleHangsUp(t *testing.T) {
	f := newFixture(t)

	w := f.voice("c1", "+4930000", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, HangupDocument, w.Body.String())

	s := f.session(t, "c1")
	assert.Equal(t, calls.StatusFailed, s.Status)
	assert.Equal(t, routing.ReasonNoMatchingRule, s.Metadata["reason"])
}

func TestVoice_TenantResolution(t *testing.T) {
	f := newFixture(t)

	w := f.voice("c1", "+1555", http.Header{"X-Domain": {"nobody.example.com"}})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "unknown domain", w.Body.String())

	w = f.voice("c1", "+1555", http.Header{"X-Domain": {"t2.example.com"}})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.voice("c1", "+1555", http.Header{"X-Domain": {"t2.example.com"}, "X-Webhook-Token": {"wrong"}})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.voice("c1", "+1555", http.Header{"X-Domain": {"t2.example.com"}, "Authorization": {"Bearer s3cret"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "sip:x@agents")
}

func TestVoice_MalformedIs400(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/cloudonix/voice", strings.NewReader("From=%2B1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVoice_StoreOutageAnswersHangup(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 50 * time.Millisecond})
	t.Cleanup(func() { _ = rdb.Close() })
	f := newFixtureOn(t, coordination.NewRedisStore(rdb, 100*time.Millisecond))

	w := f.voice("c1", "+15550001", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, HangupDocument, w.Body.String())

	w = f.postJSON("/webhooks/cloudonix/session", sessionUpdate("c1", "ringing", epoch))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = f.postJSON("/webhooks/cloudonix/cdr", cdr("c1", "c1", "ANSWER"))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSession_NoAnswerMapsToFailed(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.voice("c1", "+15550001", nil).Code)

	w := f.postJSON("/webhooks/cloudonix/session", sessionUpdate("c1", "noanswer", epoch.Add(time.Second)))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())

	s := f.session(t, "c1")
	assert.Equal(t, calls.StatusFailed, s.Status)
	assert.Equal(t, "noanswer", s.Metadata["external_status"])
}

func TestSession_CreatesMissingSessionAlongLegalPath(t *testing.T) {
	f := newFixture(t)

	w := f.postJSON("/webhooks/cloudonix/session", sessionUpdate("early", "ringing", epoch))
	require.Equal(t, http.StatusOK, w.Code)

	s := f.session(t, "early")
	assert.Equal(t, calls.StatusConnecting, s.Status)
	assert.Len(t, s.History, 3)
}

func TestSession_DuplicateAndUnreachable(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.voice("c1", "+15550001", nil).Code)

	answered := sessionUpdate("c1", "answer", epoch.Add(time.Second))
	require.Equal(t, http.StatusOK, f.postJSON("/webhooks/cloudonix/session", answered).Code)

	dup := f.postJSON("/webhooks/cloudonix/session", answered)
	require.Equal(t, http.StatusOK, dup.Code)
	assert.Equal(t, "true", dup.Header().Get(headerReplay))

	require.Equal(t, http.StatusOK, f.postJSON("/webhooks/cloudonix/session", sessionUpdate("c1", "completed", epoch.Add(2*time.Second))).Code)
	late := f.postJSON("/webhooks/cloudonix/session", sessionUpdate("c1", "ringing", epoch.Add(3*time.Second)))
	require.Equal(t, http.StatusOK, late.Code)

	s := f.session(t, "c1")
	assert.Equal(t, calls.StatusCompleted, s.Status)
}

func TestSession_Rejects(t *testing.T) {
	f := newFixture(t)

	w := f.postJSON("/webhooks/cloudonix/session", sessionUpdate("c1", "teleporting", epoch))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	bad := sessionUpdate("c1", "ringing", epoch)
	bad["domain"] = "nobody.example.com"
	assert.Equal(t, http.StatusNotFound, f.postJSON("/webhooks/cloudonix/session", bad).Code)

	bad = sessionUpdate("c1", "ringing", epoch)
	bad["id"] = "not-a-number"
	assert.Equal(t, http.StatusBadRequest, f.postJSON("/webhooks/cloudonix/session", bad).Code)
}

func TestCDR_EndsCallAndReleasesAgent(t *testing.T) {
	f := newFixture(t)

	first := f.voice("c1", "+16660001", nil)
	assert.Contains(t, first.Body.String(), "sip:solo@agents")
	assert.True(t, f.session(t, "c1").Target.Reserved)

	busy := f.voice("c2", "+16660002", nil)
	assert.Equal(t, HangupDocument, busy.Body.String())

	w := f.postJSON("/webhooks/cloudonix/cdr", cdr("c1", "c1", "CONNECTED"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, calls.StatusCompleted, f.session(t, "c1").Status)

	cdrs := f.emitter.ofType(events.TypeCallDetailRecord)
	require.Len(t, cdrs, 1)
	var detail events.CallDetail
	require.NoError(t, json.Unmarshal(cdrs[0].Data, &detail))
	assert.Equal(t, "ANSWER", detail.Disposition)
	assert.Equal(t, 25, detail.BilledSeconds)

	again := f.voice("c3", "+16660003", nil)
	assert.Contains(t, again.Body.String(), "sip:solo@agents")
}

func TestCDR_UnknownDispositionFails(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.voice("c1", "+15550001", nil).Code)

	w := f.postJSON("/webhooks/cloudonix/cdr", cdr("c1", "c1", "WEIRD"))
	require.Equal(t, http.StatusOK, w.Code)
	s := f.session(t, "c1")
	assert.Equal(t, calls.StatusFailed, s.Status)
	assert.Equal(t, "FAILED", s.Metadata["disposition"])

	dup := f.postJSON("/webhooks/cloudonix/cdr", cdr("c1", "c1", "WEIRD"))
	assert.Equal(t, "true", dup.Header().Get(headerReplay))
	assert.Len(t, f.emitter.ofType(events.TypeCallDetailRecord), 1)
}

func TestCDR_UnknownSessionStillRecorded(t *testing.T) {
	f := newFixture(t)
	w := f.postJSON("/webhooks/cloudonix/cdr", cdr("ghost", "", "BUSY"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, f.emitter.ofType(events.TypeCallDetailRecord), 1)

	_, err := f.svc.Session(context.Background(), "t1", "ghost")
	assert.ErrorIs(t, err, calls.ErrSessionNotFound)
}
