package telephony

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"voiceagent-lbs/internal/catalog"
)

// Cloudonix webhook payloads. Only the fields the routing core reads are kept.
// Business logic (routing decisions) is not made here.

var ErrInvalidPayload = errors.New("telephony: invalid webhook payload")

// VoiceRequest is the call-start webhook. The carrier sends it form encoded
// by default; JSON is accepted too.
type VoiceRequest struct {
	CallID    string `json:"CallSid"`
	From      string `json:"From"`
	To        string `json:"To"`
	Direction string `json:"Direction"`
	Domain    string `json:"Domain"`
	// Session is the carrier session token; CallID stands in when absent.
	Session string `json:"Session"`
}

// ParseVoiceRequest reads a call-start webhook from r.
func ParseVoiceRequest(r *http.Request) (VoiceRequest, error) {
	var v VoiceRequest
	if isJSON(r) {
		if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
			return VoiceRequest{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
	} else {
		if err := r.ParseForm(); err != nil {
			return VoiceRequest{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		v = VoiceRequest{
			CallID:    r.PostFormValue("CallSid"),
			From:      r.PostFormValue("From"),
			To:        r.PostFormValue("To"),
			Direction: r.PostFormValue("Direction"),
			Domain:    r.PostFormValue("Domain"),
			Session:   r.PostFormValue("Session"),
		}
	}
	v.CallID = strings.TrimSpace(v.CallID)
	v.From = strings.TrimSpace(v.From)
	v.To = strings.TrimSpace(v.To)
	v.Domain = normalizeDomain(v.Domain)
	v.Session = strings.TrimSpace(v.Session)
	if err := v.Validate(); err != nil {
		return VoiceRequest{}, err
	}
	return v, nil
}

func (v VoiceRequest) Validate() error {
	var missing []string
	if v.CallID == "" {
		missing = append(missing, "CallSid")
	}
	if v.To == "" {
		missing = append(missing, "To")
	}
	if v.Domain == "" {
		missing = append(missing, "Domain")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidPayload, strings.Join(missing, ", "))
	}
	return nil
}

func (v VoiceRequest) SessionToken() string {
	if v.Session != "" {
		return v.Session
	}
	return v.CallID
}

func (v VoiceRequest) CallDirection() catalog.Direction {
	return catalog.ParseDirection(v.Direction)
}

// SessionUpdate is the carrier's session lifecycle notification.
type SessionUpdate struct {
	ID          int64     `json:"id"`
	Domain      string    `json:"domain"`
	Token       string    `json:"token"`
	Status      string    `json:"status"`
	CallerID    string    `json:"callerId"`
	Destination string    `json:"destination"`
	CreatedAt   time.Time `json:"createdAt"`
	ModifiedAt  time.Time `json:"modifiedAt"`
}

func (u *SessionUpdate) Normalize() error {
	u.Domain = normalizeDomain(u.Domain)
	u.Token = strings.TrimSpace(u.Token)
	u.Status = strings.TrimSpace(u.Status)
	var missing []string
	if u.ID <= 0 {
		missing = append(missing, "id")
	}
	if u.Domain == "" {
		missing = append(missing, "domain")
	}
	if u.Token == "" {
		missing = append(missing, "token")
	}
	if u.Status == "" {
		missing = append(missing, "status")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidPayload, strings.Join(missing, ", "))
	}
	return nil
}

// EventID identifies one delivery of an update. The carrier repeats the same
// id for every status change of a session, so status and modification time
// are part of it.
func (u SessionUpdate) EventID() string {
	return strconv.FormatInt(u.ID, 10) + ":" + strings.ToLower(u.Status) + ":" + strconv.FormatInt(u.ModifiedAt.UnixMilli(), 10)
}

// CDR is a call detail record, sent once after the call ended.
type CDR struct {
	CallID      string     `json:"call_id"`
	Domain      string     `json:"domain"`
	From        string     `json:"from"`
	To          string     `json:"to"`
	Disposition string     `json:"disposition"`
	Duration    int        `json:"duration"`
	BillSec     int        `json:"billsec"`
	Session     CDRSession `json:"session"`
}

// CDRSession is the timing sub-object of a CDR.
type CDRSession struct {
	Token      string     `json:"token"`
	CreatedAt  *time.Time `json:"createdAt,omitempty"`
	AnsweredAt *time.Time `json:"answerTime,omitempty"`
	EndedAt    *time.Time `json:"endTime,omitempty"`
}

func (c *CDR) Normalize() error {
	c.CallID = strings.TrimSpace(c.CallID)
	c.Domain = normalizeDomain(c.Domain)
	c.Session.Token = strings.TrimSpace(c.Session.Token)
	var missing []string
	if c.CallID == "" {
		missing = append(missing, "call_id")
	}
	if c.Domain == "" {
		missing = append(missing, "domain")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidPayload, strings.Join(missing, ", "))
	}
	if c.Duration < 0 || c.BillSec < 0 {
		return fmt.Errorf("%w: negative duration", ErrInvalidPayload)
	}
	return nil
}

func (c CDR) SessionToken() string {
	if c.Session.Token != "" {
		return c.Session.Token
	}
	return c.CallID
}

func isJSON(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/json"
}

func normalizeDomain(s string) string {
	return strings.ToLower(strings.TrimSuffix(strings.TrimSpace(s), "."))
}
