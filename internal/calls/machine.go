package calls

import (
	"errors"
	"fmt"
	"maps"
	"time"
)

var (
	ErrIllegalTransition = errors.New("calls: illegal transition")
	ErrUnreachable       = errors.New("calls: target state unreachable")
	ErrCorruptHistory    = errors.New("calls: history does not reproduce status")
)

// TransitionError describes a rejected transition.
type TransitionError struct {
	From CallStatus
	To   CallStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("calls: illegal transition %s -> %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool { return target == ErrIllegalTransition }

var allowed = map[CallStatus][]CallStatus{
	StatusReceived:   {StatusQueued},
	StatusQueued:     {StatusRouting},
	StatusRouting:    {StatusConnecting},
	StatusConnecting: {StatusConnected, StatusBusy, StatusFailed, StatusNoAnswer},
	StatusConnected:  {StatusCompleted, StatusBusy, StatusFailed},
}

// CanTransition reports whether next is directly reachable from current.
func CanTransition(current, next CallStatus) bool {
	for _, s := range allowed[current] {
		if s == next {
			return true
		}
	}
	return false
}

// AllowedTransitions returns the states directly reachable from s.
func AllowedTransitions(s CallStatus) []CallStatus {
	return append([]CallStatus(nil), allowed[s]...)
}

// IsTerminal reports whether s has no outgoing edges.
func IsTerminal(s CallStatus) bool {
	_, ok := allowed[s]
	return !ok && s.Valid()
}

func (s CallStatus) Valid() bool {
	for _, v := range Statuses {
		if v == s {
			return true
		}
	}
	return false
}

// PathTo returns the shortest chain of legal transitions leading from one
// state to another, excluding from. It is empty when from == to.
func PathTo(from, to CallStatus) ([]CallStatus, error) {
	if from == to {
		return nil, nil
	}
	prev := map[CallStatus]CallStatus{from: from}
	queue := []CallStatus{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range allowed[cur] {
			if _, seen := prev[next]; seen {
				continue
			}
			prev[next] = cur
			if next == to {
				var path []CallStatus
				for s := to; s != from; s = prev[s] {
					path = append([]CallStatus{s}, path...)
				}
				return path, nil
			}
			queue = append(queue, next)
		}
	}
	return nil, fmt.Errorf("%w: %s -> %s", ErrUnreachable, from, to)
}

// Transition moves the session to next, appending history and merging
// metadata. An illegal edge leaves the session untouched.
func (s *Session) Transition(next CallStatus, metadata map[string]string, at time.Time) error {
	if !CanTransition(s.Status, next) {
		return &TransitionError{From: s.Status, To: next}
	}
	entry := HistoryEntry{From: s.Status, To: next, At: at.UTC()}
	if len(metadata) > 0 {
		entry.Metadata = maps.Clone(metadata)
		if s.Metadata == nil {
			s.Metadata = make(map[string]string, len(metadata))
		}
		maps.Copy(s.Metadata, metadata)
	}
	s.History = append(s.History, entry)
	s.Status = next
	s.UpdatedAt = at.UTC()
	return nil
}

// AdvanceTo walks the shortest legal path to target, recording every hop.
// It returns the states entered.
func (s *Session) AdvanceTo(target CallStatus, metadata map[string]string, at time.Time) ([]CallStatus, error) {
	path, err := PathTo(s.Status, target)
	if err != nil {
		return nil, err
	}
	for i, next := range path {
		var md map[string]string
		if i == len(path)-1 {
			md = metadata
		}
		if err := s.Transition(next, md, at); err != nil {
			return path[:i], err
		}
	}
	return path, nil
}

// Verify replays History from the initial state and checks it reproduces Status.
func (s *Session) Verify() error {
	state := StatusReceived
	for i, h := range s.History {
		if h.From != state {
			return fmt.Errorf("%w: entry %d starts at %s, expected %s", ErrCorruptHistory, i, h.From, state)
		}
		if !CanTransition(h.From, h.To) {
			return fmt.Errorf("%w: entry %d: %w", ErrCorruptHistory, i, &TransitionError{From: h.From, To: h.To})
		}
		state = h.To
	}
	if state != s.Status {
		return fmt.Errorf("%w: replay ends at %s, status is %s", ErrCorruptHistory, state, s.Status)
	}
	return nil
}
