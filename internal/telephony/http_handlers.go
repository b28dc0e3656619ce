package telephony

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"voiceagent-lbs/internal/metrics"
	"voiceagent-lbs/internal/routing"
	"voiceagent-lbs/pkg/logger"
)

const (
	headerWebhookToken = "X-Webhook-Token"
	headerReplay       = "X-Idempotent-Replay"
	contentTypeXML     = "application/xml; charset=utf-8"
)

// WebhookHandler converts the carrier webhooks to internal types, delegates
// to Service and writes the carrier's expected answer.
//
// No business logic here.
//
// Once a call-start request is authenticated the answer is always a 200 CXML
// document; the carrier needs one to end the call cleanly.
type WebhookHandler struct {
	Service *Service
}

// HandleVoice is the call-start webhook.
func (h WebhookHandler) HandleVoice(c *gin.Context) {
	start := time.Now()
	defer observe(c, "voice", start)
	log := logger.FromGin(c)

	in, err := ParseVoiceRequest(c.Request)
	if err != nil {
		log.Warn("voice webhook parse failed", slog.String("error", err.Error()))
		c.String(http.StatusBadRequest, "invalid payload")
		return
	}
	log = log.With(slog.String("call_id", in.CallID), slog.String("domain", in.Domain))
	ctx := logger.With(routing.WithClientIP(c.Request.Context(), c.ClientIP()), log)

	tenant, err := h.Service.ResolveTenant(ctx, in.Domain, presentedToken(c.Request))
	if errors.Is(err, ErrUnknownTenant) {
		c.String(http.StatusNotFound, "unknown domain")
		return
	}
	if err != nil {
		log.Error("tenant resolution failed, answering with hangup", slog.String("error", err.Error()))
		c.Data(http.StatusOK, contentTypeXML, []byte(HangupDocument))
		return
	}

	res, err := h.Service.StartCall(logger.With(ctx, log.With(slog.String("tenant_id", tenant.ID))), tenant, in)
	if err != nil {
		log.Error("call start failed, answering with hangup", slog.String("error", err.Error()))
	}
	if res.Duplicate {
		c.Header(headerReplay, "true")
	}
	c.Data(http.StatusOK, contentTypeXML, []byte(res.Document))
}

// HandleSession is the session-update webhook.
func (h WebhookHandler) HandleSession(c *gin.Context) {
	start := time.Now()
	defer observe(c, "session", start)
	log := logger.FromGin(c)

	var u SessionUpdate
	if err := c.ShouldBindJSON(&u); err != nil {
		log.Warn("session webhook parse failed", slog.String("error", err.Error()))
		c.String(http.StatusBadRequest, "invalid json")
		return
	}
	if err := u.Normalize(); err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}
	if _, err := MapSessionStatus(u.Status); err != nil {
		c.String(http.StatusBadRequest, "unknown status "+strconv.Quote(u.Status))
		return
	}
	log = log.With(slog.String("session_token", u.Token), slog.String("domain", u.Domain))
	ctx := logger.With(c.Request.Context(), log)

	tenant, err := h.Service.ResolveTenant(ctx, u.Domain, presentedToken(c.Request))
	if errors.Is(err, ErrUnknownTenant) {
		c.String(http.StatusNotFound, "unknown domain")
		return
	}
	if err != nil {
		log.Error("tenant resolution failed", slog.String("error", err.Error()))
		c.String(http.StatusServiceUnavailable, "temporarily unavailable")
		return
	}

	res, err := h.Service.UpdateSession(ctx, tenant, u)
	if err != nil {
		log.Error("session update failed", slog.String("error", err.Error()))
		c.String(http.StatusServiceUnavailable, "temporarily unavailable")
		return
	}
	if res.Duplicate {
		c.Header(headerReplay, "true")
	}
	c.String(http.StatusOK, "OK")
}

// HandleCDR is the call-detail-record webhook.
func (h WebhookHandler) HandleCDR(c *gin.Context) {
	start := time.Now()
	defer observe(c, "cdr", start)
	log := logger.FromGin(c)

	var cdr CDR
	if err := c.ShouldBindJSON(&cdr); err != nil {
		log.Warn("cdr webhook parse failed", slog.String("error", err.Error()))
		c.String(http.StatusBadRequest, "invalid json")
		return
	}
	if err := cdr.Normalize(); err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}
	log = log.With(slog.String("call_id", cdr.CallID), slog.String("domain", cdr.Domain))
	ctx := logger.With(c.Request.Context(), log)

	tenant, err := h.Service.ResolveTenant(ctx, cdr.Domain, presentedToken(c.Request))
	if errors.Is(err, ErrUnknownTenant) {
		c.String(http.StatusNotFound, "unknown domain")
		return
	}
	if err != nil {
		log.Error("tenant resolution failed", slog.String("error", err.Error()))
		c.String(http.StatusServiceUnavailable, "temporarily unavailable")
		return
	}

	res, err := h.Service.RecordCDR(ctx, tenant, cdr)
	if err != nil {
		log.Error("cdr processing failed", slog.String("error", err.Error()))
		c.String(http.StatusServiceUnavailable, "temporarily unavailable")
		return
	}
	if res.Duplicate {
		c.Header(headerReplay, "true")
	}
	c.String(http.StatusOK, "OK")
}

// presentedToken reads the webhook token from Authorization: Bearer or the
// dedicated header.
func presentedToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
	}
	return strings.TrimSpace(r.Header.Get(headerWebhookToken))
}

func observe(c *gin.Context, webhook string, start time.Time) {
	metrics.ObserveWebhook(webhook, strconv.Itoa(c.Writer.Status()), time.Since(start))
}
