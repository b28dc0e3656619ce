package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"

	"voiceagent-lbs/internal/routing"
)

// CXML is the carrier's call-control markup. Only the verbs the routing core
// answers with are modelled: Dial (to an agent service or out through trunks)
// and Hangup.

// HangupDocument is returned whenever rendering fails. It is a constant so the
// fallback itself can never fail.
const HangupDocument = xml.Header + "<Response>\n  <Hangup></Hangup>\n</Response>"

var ErrRender = errors.New("telephony: cannot render decision")

type cxmlResponse struct {
	XMLName xml.Name    `xml:"Response"`
	Dial    *cxmlDial   `xml:"Dial,omitempty"`
	Hangup  *cxmlHangup `xml:"Hangup,omitempty"`
}

type cxmlDial struct {
	CallerID string       `xml:"callerId,attr,omitempty"`
	Trunks   string       `xml:"trunks,attr,omitempty"`
	Service  *cxmlService `xml:"Service,omitempty"`
	Number   string       `xml:",chardata"`
}

type cxmlService struct {
	Provider    string `xml:"provider,attr"`
	Username    string `xml:"username,attr,omitempty"`
	Password    string `xml:"password,attr,omitempty"`
	Destination string `xml:",chardata"`
}

type cxmlHangup struct{}

// RenderCXML maps a routing decision to CXML and checks the output parses.
func RenderCXML(d routing.Decision) (string, error) {
	var r cxmlResponse

	switch d.Action {
	case routing.ActionHangup:
		r.Hangup = &cxmlHangup{}
	case routing.ActionConnectAgent:
		if d.Agent == nil || strings.TrimSpace(d.Agent.Destination) == "" {
			return "", fmt.Errorf("%w: agent destination required", ErrRender)
		}
		provider := strings.TrimSpace(d.Agent.Provider)
		if provider == "" {
			return "", fmt.Errorf("%w: agent %s has no provider", ErrRender, d.Agent.ID)
		}
		r.Dial = &cxmlDial{
			CallerID: d.CallerID,
			Service: &cxmlService{
				Provider:    provider,
				Username:    d.Agent.Username,
				Password:    d.Agent.Password,
				Destination: d.Agent.Destination,
			},
		}
	case routing.ActionConnectTrunk:
		if len(d.TrunkIDs) == 0 || strings.TrimSpace(d.Destination) == "" {
			return "", fmt.Errorf("%w: trunks and destination required", ErrRender)
		}
		r.Dial = &cxmlDial{
			CallerID: d.CallerID,
			Trunks:   strings.Join(d.TrunkIDs, ","),
			Number:   d.Destination,
		}
	default:
		return "", fmt.Errorf("%w: unknown action %q", ErrRender, d.Action)
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", fmt.Errorf("%w: %w", ErrRender, err)
	}
	if err := enc.Flush(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrRender, err)
	}
	out := buf.String()
	if err := ValidateCXML(out); err != nil {
		return "", err
	}
	return out, nil
}

// RenderOrHangup never fails; a decision that cannot be rendered ends the call.
func RenderOrHangup(d routing.Decision) (string, error) {
	out, err := RenderCXML(d)
	if err != nil {
		return HangupDocument, err
	}
	return out, nil
}

// ValidateCXML parses doc and checks it holds exactly one verb.
func ValidateCXML(doc string) error {
	var r cxmlResponse
	if err := xml.Unmarshal([]byte(doc), &r); err != nil {
		return fmt.Errorf("%w: output does not parse: %w", ErrRender, err)
	}
	if (r.Dial == nil) == (r.Hangup == nil) {
		return fmt.Errorf("%w: expected exactly one verb", ErrRender)
	}
	return nil
}
