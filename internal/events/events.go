// Package events defines the notifications the payment core emits to the UI
// layer and helpers for fanning them out.
package events

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/dvloznov/paysync/internal/domain"
)

// OutcomeKind is the classified result of a submission attempt.
type OutcomeKind string

const (
	// OutcomeSubmitted means the backend accepted the payment.
	OutcomeSubmitted OutcomeKind = "submitted"
	// OutcomeQueued means the payment was stored for later delivery.
	OutcomeQueued OutcomeKind = "queued"
	// OutcomeRetryScheduled means a retryable attempt failed and the record
	// went back to the queue.
	OutcomeRetryScheduled OutcomeKind = "retry_scheduled"
	// OutcomeAbandoned means retries are exhausted or the backend rejected
	// the request. The record is never retried automatically.
	OutcomeAbandoned OutcomeKind = "abandoned"
	// OutcomeRejected means a direct submission was refused before anything
	// was queued.
	OutcomeRejected OutcomeKind = "rejected"
	// OutcomePaused means the session was rejected; the record stays queued.
	OutcomePaused OutcomeKind = "paused"
)

// Outcome describes what happened to one submission.
type Outcome struct {
	Kind OutcomeKind `json:"kind"`
	// Ref is set when Kind is OutcomeSubmitted.
	Ref      *domain.SubmissionRef `json:"ref,omitempty"`
	Attempts int                   `json:"attempts"`
	// Message is the server's literal text for rejections, or the classified
	// failure for retries.
	Message string `json:"message,omitempty"`
}

// Listener receives core events. Implementations must not block.
type Listener interface {
	OnConnectivityChange(online bool)
	OnQueueChanged(queue []domain.QueuedTransaction)
	OnSubmissionResult(id string, outcome Outcome)
	OnStatusUpdate(transactionRef string, status domain.TransactionStatus)
}

// Funcs adapts optional callbacks to a Listener. Nil fields are skipped.
type Funcs struct {
	ConnectivityChange func(online bool)
	QueueChanged       func(queue []domain.QueuedTransaction)
	SubmissionResult   func(id string, outcome Outcome)
	StatusUpdate       func(transactionRef string, status domain.TransactionStatus)
}

func (f Funcs) OnConnectivityChange(online bool) {
	if f.ConnectivityChange != nil {
		f.ConnectivityChange(online)
	}
}

func (f Funcs) OnQueueChanged(queue []domain.QueuedTransaction) {
	if f.QueueChanged != nil {
		f.QueueChanged(queue)
	}
}

func (f Funcs) OnSubmissionResult(id string, outcome Outcome) {
	if f.SubmissionResult != nil {
		f.SubmissionResult(id, outcome)
	}
}

func (f Funcs) OnStatusUpdate(ref string, status domain.TransactionStatus) {
	if f.StatusUpdate != nil {
		f.StatusUpdate(ref, status)
	}
}

// Fanout delivers every event to its listeners in registration order.
type Fanout struct {
	mu        sync.RWMutex
	listeners []Listener
}

// NewFanout creates a Fanout over the given listeners.
func NewFanout(listeners ...Listener) *Fanout {
	return &Fanout{listeners: listeners}
}

// Add registers another listener.
func (f *Fanout) Add(l Listener) {
	f.mu.Lock()
	f.listeners = append(f.listeners, l)
	f.mu.Unlock()
}

func (f *Fanout) snapshot() []Listener {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]Listener(nil), f.listeners...)
}

func (f *Fanout) OnConnectivityChange(online bool) {
	for _, l := range f.snapshot() {
		l.OnConnectivityChange(online)
	}
}

func (f *Fanout) OnQueueChanged(queue []domain.QueuedTransaction) {
	for _, l := range f.snapshot() {
		l.OnQueueChanged(queue)
	}
}

func (f *Fanout) OnSubmissionResult(id string, outcome Outcome) {
	for _, l := range f.snapshot() {
		l.OnSubmissionResult(id, outcome)
	}
}

func (f *Fanout) OnStatusUpdate(ref string, status domain.TransactionStatus) {
	for _, l := range f.snapshot() {
		l.OnStatusUpdate(ref, status)
	}
}

// LogListener writes every event to a zerolog logger.
type LogListener struct {
	Log zerolog.Logger
}

func (l LogListener) OnConnectivityChange(online bool) {
	l.Log.Info().Bool("online", online).Msg("Connectivity changed")
}

func (l LogListener) OnQueueChanged(queue []domain.QueuedTransaction) {
	l.Log.Debug().Int("queued", len(queue)).Msg("Queue changed")
}

func (l LogListener) OnSubmissionResult(id string, outcome Outcome) {
	ev := l.Log.Info()
	if outcome.Kind == OutcomeAbandoned || outcome.Kind == OutcomeRejected {
		ev = l.Log.Warn()
	}
	ev = ev.Str("txn_id", id).Str("outcome", string(outcome.Kind)).Int("attempts", outcome.Attempts)
	if outcome.Ref != nil {
		ev = ev.Str("remote_id", outcome.Ref.RemoteID).Str("reference", outcome.Ref.TransactionRef)
	}
	if outcome.Message != "" {
		ev = ev.Str("message", outcome.Message)
	}
	ev.Msg("Submission result")
}

func (l LogListener) OnStatusUpdate(ref string, status domain.TransactionStatus) {
	l.Log.Info().
		Str("reference", ref).
		Str("state", string(status.State)).
		Int("attempts", status.Attempts).
		Bool("terminal", status.Terminal()).
		Msg("Transaction status updated")
}

var (
	_ Listener = Funcs{}
	_ Listener = (*Fanout)(nil)
	_ Listener = LogListener{}
)
