package telephony

import (
	"errors"
	"strings"

	"voiceagent-lbs/internal/calls"
)

var ErrUnknownStatus = errors.New("telephony: unknown session status")

var sessionStatuses = map[string]calls.CallStatus{
	"new":        calls.StatusReceived,
	"queued":     calls.StatusQueued,
	"processing": calls.StatusRouting,
	"routing":    calls.StatusRouting,
	"ringing":    calls.StatusConnecting,
	"connecting": calls.StatusConnecting,
	"dialing":    calls.StatusConnecting,
	"answer":     calls.StatusConnected,
	"answered":   calls.StatusConnected,
	"connected":  calls.StatusConnected,
	"external":   calls.StatusConnected,
	"completed":  calls.StatusCompleted,
	"hangup":     calls.StatusCompleted,
	"busy":       calls.StatusBusy,
	"noanswer":   calls.StatusFailed,
	"cancel":     calls.StatusFailed,
	"nocredit":   calls.StatusFailed,
	"error":      calls.StatusFailed,
	"failed":     calls.StatusFailed,
}

// MapSessionStatus translates the carrier's session status vocabulary.
func MapSessionStatus(s string) (calls.CallStatus, error) {
	st, ok := sessionStatuses[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", ErrUnknownStatus
	}
	return st, nil
}

// Disposition is the normalized outcome of a call detail record.
type Disposition string

const (
	DispositionAnswer     Disposition = "ANSWER"
	DispositionBusy       Disposition = "BUSY"
	DispositionCancel     Disposition = "CANCEL"
	DispositionFailed     Disposition = "FAILED"
	DispositionCongestion Disposition = "CONGESTION"
	DispositionNoAnswer   Disposition = "NOANSWER"
)

var dispositions = map[string]Disposition{
	"ANSWER":     DispositionAnswer,
	"ANSWERED":   DispositionAnswer,
	"CONNECTED":  DispositionAnswer,
	"BUSY":       DispositionBusy,
	"CANCEL":     DispositionCancel,
	"CANCELED":   DispositionCancel,
	"CANCELLED":  DispositionCancel,
	"FAILED":     DispositionFailed,
	"ERROR":      DispositionFailed,
	"CONGESTION": DispositionCongestion,
	"NOANSWER":   DispositionNoAnswer,
	"NO ANSWER":  DispositionNoAnswer,
	"NO_ANSWER":  DispositionNoAnswer,
}

// NormalizeDisposition maps a raw CDR disposition; unknown values are FAILED.
func NormalizeDisposition(s string) Disposition {
	if d, ok := dispositions[strings.ToUpper(strings.TrimSpace(s))]; ok {
		return d
	}
	return DispositionFailed
}

// TerminalStatus is the lifecycle state a call ends in for a disposition.
func (d Disposition) TerminalStatus() calls.CallStatus {
	switch d {
	case DispositionAnswer:
		return calls.StatusCompleted
	case DispositionBusy:
		return calls.StatusBusy
	case DispositionNoAnswer:
		return calls.StatusNoAnswer
	default:
		return calls.StatusFailed
	}
}
