package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrTerminalStatus is returned when a transition is applied to a status that
// has already reached a terminal state.
var ErrTerminalStatus = errors.New("transaction status is terminal")

// StatusState is the server-side lifecycle state of a submitted transaction.
type StatusState string

const (
	StatusPending    StatusState = "pending"
	StatusProcessing StatusState = "processing"
	StatusCompleted  StatusState = "completed"
	StatusFailed     StatusState = "failed"
	StatusCancelled  StatusState = "cancelled"
	// StatusTimedOut is assigned locally when polling gives up without a
	// terminal answer from the server. It means unconfirmed, not rejected.
	StatusTimedOut StatusState = "timed_out"
)

// Terminal reports whether no further transition can leave s.
func (s StatusState) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	}
	return false
}

// ParseStatusState maps a server status string onto a StatusState.
// The backend also reports "declined" and "expired"; both are rejections.
func ParseStatusState(raw string) (StatusState, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pending":
		return StatusPending, nil
	case "processing":
		return StatusProcessing, nil
	case "completed", "success", "successful":
		return StatusCompleted, nil
	case "failed", "declined", "expired":
		return StatusFailed, nil
	case "cancelled", "canceled":
		return StatusCancelled, nil
	default:
		return "", fmt.Errorf("unknown transaction status %q", raw)
	}
}

var allowedTransitions = map[StatusState][]StatusState{
	StatusPending:    {StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut},
}

// CanTransition reports whether from -> to is a legal state change.
func CanTransition(from, to StatusState) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransactionStatus tracks a submitted transaction until it is terminal.
type TransactionStatus struct {
	TransactionRef string      `json:"transaction_ref"`
	RemoteID       string      `json:"remote_id"`
	State          StatusState `json:"state"`
	FailureReason  string      `json:"failure_reason,omitempty"`
	Attempts       int         `json:"attempts"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Terminal reports whether the status can no longer change.
func (s TransactionStatus) Terminal() bool {
	return s.State.Terminal()
}

// Advance moves the status to next. Repeating the current state or moving
// backwards (processing -> pending) is ignored and reports changed=false.
func (s *TransactionStatus) Advance(next StatusState, reason string, at time.Time) (bool, error) {
	if s.Terminal() {
		return false, ErrTerminalStatus
	}
	if next == s.State || !CanTransition(s.State, next) {
		return false, nil
	}
	s.State = next
	if reason != "" {
		s.FailureReason = reason
	}
	s.UpdatedAt = at
	return true, nil
}
