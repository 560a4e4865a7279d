package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultMaxAttempts is the number of retryable submission failures a queued
// transaction may accumulate before it is abandoned.
const DefaultMaxAttempts = 3

var (
	// ErrInvalidAmount is returned when a transaction amount is zero or negative.
	ErrInvalidAmount = errors.New("amount must be greater than zero")
	// ErrEmptyRecipient is returned when a transaction has no recipient handle.
	ErrEmptyRecipient = errors.New("recipient handle is required")
)

// QueueState is the lifecycle state of a queued transaction.
type QueueState string

const (
	// QueueStateQueued indicates the transaction is waiting to be submitted.
	QueueStateQueued QueueState = "queued"
	// QueueStateSubmitting indicates a submission attempt is in flight.
	QueueStateSubmitting QueueState = "submitting"
	// QueueStateFailed indicates the last attempt failed and the record has
	// not yet been picked up again. It is eligible for submission like Queued.
	QueueStateFailed QueueState = "failed"
	// QueueStateAbandoned indicates the transaction will never be retried
	// automatically.
	QueueStateAbandoned QueueState = "abandoned"
)

// Valid reports whether s is a known queue state.
func (s QueueState) Valid() bool {
	switch s {
	case QueueStateQueued, QueueStateSubmitting, QueueStateFailed, QueueStateAbandoned:
		return true
	}
	return false
}

// Eligible reports whether a record in state s may be picked up by a drain.
func (s QueueState) Eligible() bool {
	return s == QueueStateQueued || s == QueueStateFailed
}

// NewTransaction is a payment the user asked to send.
type NewTransaction struct {
	// ID is optional. When set it is reused as the idempotency key, which lets
	// a failed direct submission be queued under the key the server already saw.
	ID              string
	RecipientHandle string
	Amount          decimal.Decimal
	Description     string
}

// Validate checks the fields every submission path requires.
func (t NewTransaction) Validate() error {
	if strings.TrimSpace(t.RecipientHandle) == "" {
		return ErrEmptyRecipient
	}
	if !t.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

// QueuedTransaction is a pending payment persisted in the durable queue.
// ID doubles as the idempotency key sent with every submission attempt.
type QueuedTransaction struct {
	ID              string          `json:"id"`
	RecipientHandle string          `json:"recipient_handle"`
	Amount          decimal.Decimal `json:"amount"`
	Description     string          `json:"description,omitempty"`
	EnqueuedAt      time.Time       `json:"enqueued_at"`
	AttemptCount    int             `json:"attempt_count"`
	State           QueueState      `json:"state"`
	LastError       string          `json:"last_error,omitempty"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// ConnectivityState is the last verified reachability of the backend.
type ConnectivityState struct {
	Online        bool      `json:"online"`
	LastChangedAt time.Time `json:"last_changed_at"`
}

// SubmissionRef identifies a transaction the server accepted.
type SubmissionRef struct {
	// TransactionID is the client-generated id (idempotency key).
	TransactionID string `json:"transaction_id"`
	// TransactionRef is the server-assigned human reference.
	TransactionRef string `json:"transaction_ref"`
	// RemoteID is the server id used by the status endpoint.
	RemoteID string `json:"remote_id"`
	// InitialState is the state reported by the submit call.
	InitialState StatusState `json:"initial_state"`
}
