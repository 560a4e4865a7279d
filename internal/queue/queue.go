// Package queue implements the durable FIFO of pending payment submissions.
//
// The persisted collection is the only source of truth: every operation reads
// the whole collection from storage, applies its change and writes it back,
// all under one lock, so concurrent callers cannot lose each other's updates
// and a relaunch sees exactly what was last written.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/paysync/internal/domain"
	"github.com/dvloznov/paysync/internal/kvstore"
)

// DefaultKey is the storage key holding the serialized queue.
const DefaultKey = "offline_transaction_queue"

var (
	// ErrNotFound is returned when no queued transaction has the given id.
	ErrNotFound = errors.New("queued transaction not found")
	// ErrDuplicateID is returned when Append is given an id already queued.
	ErrDuplicateID = errors.New("queued transaction id already exists")
	// ErrInvalidState is returned for unknown states or disallowed transitions.
	ErrInvalidState = errors.New("invalid queue state")
)

// Observer receives the full queue after every change.
type Observer func([]domain.QueuedTransaction)

// Queue is a persisted, ordered store of pending transactions.
type Queue struct {
	mu        sync.Mutex
	store     kvstore.Storage
	key       string
	now       func() time.Time
	newID     func() string
	log       zerolog.Logger
	observers []Observer

	// seq numbers persisted snapshots; notifyMu serialises delivery so
	// observers never see an older snapshot after a newer one.
	seq      uint64
	notifyMu sync.Mutex
	notified uint64
}

// Option configures a Queue.
type Option func(*Queue)

// WithKey overrides the storage key.
func WithKey(key string) Option { return func(q *Queue) { q.key = key } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(q *Queue) { q.now = now } }

// WithIDGenerator overrides id generation.
func WithIDGenerator(gen func() string) Option { return func(q *Queue) { q.newID = gen } }

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option { return func(q *Queue) { q.log = log } }

// WithObserver registers an observer notified after each mutation.
func WithObserver(o Observer) Option {
	return func(q *Queue) { q.observers = append(q.observers, o) }
}

// New creates a queue over store.
func New(store kvstore.Storage, opts ...Option) *Queue {
	q := &Queue{
		store: store,
		key:   DefaultKey,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Append validates req, assigns an id when the caller did not supply one and
// persists the new record at the tail of the queue.
func (q *Queue) Append(ctx context.Context, req domain.NewTransaction) (domain.QueuedTransaction, error) {
	if err := req.Validate(); err != nil {
		return domain.QueuedTransaction{}, err
	}

	now := q.now()
	rec := domain.QueuedTransaction{
		ID:              req.ID,
		RecipientHandle: domain.NormalizeHandle(req.RecipientHandle),
		Amount:          req.Amount,
		Description:     req.Description,
		EnqueuedAt:      now,
		State:           domain.QueueStateQueued,
		UpdatedAt:       now,
	}
	if rec.ID == "" {
		rec.ID = q.newID()
	}

	err := q.mutate(ctx, "Append", func(recs []domain.QueuedTransaction) ([]domain.QueuedTransaction, error) {
		if indexOf(recs, rec.ID) >= 0 {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, rec.ID)
		}
		return append(recs, rec), nil
	})
	if err != nil {
		return domain.QueuedTransaction{}, err
	}

	q.log.Info().
		Str("txn_id", rec.ID).
		Str("recipient", rec.RecipientHandle).
		Str("amount", rec.Amount.String()).
		Msg("Transaction queued for offline processing")
	return rec, nil
}

// List returns all records in FIFO order.
func (q *Queue) List(ctx context.Context) ([]domain.QueuedTransaction, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	recs, err := q.load(ctx)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	return recs, nil
}

// Get returns the record with the given id.
func (q *Queue) Get(ctx context.Context, id string) (domain.QueuedTransaction, error) {
	recs, err := q.List(ctx)
	if err != nil {
		return domain.QueuedTransaction{}, err
	}
	if i := indexOf(recs, id); i >= 0 {
		return recs[i], nil
	}
	return domain.QueuedTransaction{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Remove deletes the record with the given id. Removing an absent id is a no-op.
func (q *Queue) Remove(ctx context.Context, id string) error {
	return q.mutate(ctx, "Remove", func(recs []domain.QueuedTransaction) ([]domain.QueuedTransaction, error) {
		i := indexOf(recs, id)
		if i < 0 {
			return nil, errNoChange
		}
		return append(recs[:i], recs[i+1:]...), nil
	})
}

// UpdateState persists a state transition, recording errMsg as the last error
// when it is non-empty.
func (q *Queue) UpdateState(ctx context.Context, id string, state domain.QueueState, errMsg string) error {
	if !state.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidState, state)
	}
	_, err := q.Update(ctx, id, func(rec *domain.QueuedTransaction) error {
		rec.State = state
		if errMsg != "" {
			rec.LastError = errMsg
		}
		return nil
	})
	return err
}

// Update applies fn to the record with the given id and persists the result
// atomically. The id and enqueue time cannot be changed by fn.
func (q *Queue) Update(ctx context.Context, id string, fn func(*domain.QueuedTransaction) error) (domain.QueuedTransaction, error) {
	var updated domain.QueuedTransaction
	err := q.mutate(ctx, "Update", func(recs []domain.QueuedTransaction) ([]domain.QueuedTransaction, error) {
		i := indexOf(recs, id)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		rec := recs[i]
		if err := fn(&rec); err != nil {
			return nil, err
		}
		if !rec.State.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidState, rec.State)
		}
		rec.ID = recs[i].ID
		rec.EnqueuedAt = recs[i].EnqueuedAt
		rec.UpdatedAt = q.now()
		recs[i] = rec
		updated = rec
		return recs, nil
	})
	return updated, err
}

// Recover rehydrates the queue after a restart. Records left in Submitting by
// a crash are reverted to Queued; the persisted order is kept as is.
func (q *Queue) Recover(ctx context.Context) ([]domain.QueuedTransaction, error) {
	var recovered int
	err := q.mutate(ctx, "Recover", func(recs []domain.QueuedTransaction) ([]domain.QueuedTransaction, error) {
		now := q.now()
		for i := range recs {
			if recs[i].State == domain.QueueStateSubmitting {
				recs[i].State = domain.QueueStateQueued
				recs[i].UpdatedAt = now
				recovered++
			}
		}
		if recovered == 0 {
			return nil, errNoChange
		}
		return recs, nil
	})
	if err != nil {
		return nil, err
	}

	recs, err := q.List(ctx)
	if err != nil {
		return nil, err
	}
	q.log.Info().
		Int("queued", len(recs)).
		Int("interrupted", recovered).
		Msg("Queue rehydrated from storage")
	return recs, nil
}

// Requeue resets an abandoned record so it is picked up again. It is the
// user-initiated retry path; automatic retries never leave Abandoned.
func (q *Queue) Requeue(ctx context.Context, id string) (domain.QueuedTransaction, error) {
	return q.Update(ctx, id, func(rec *domain.QueuedTransaction) error {
		if rec.State != domain.QueueStateAbandoned {
			return fmt.Errorf("%w: cannot requeue a %s record", ErrInvalidState, rec.State)
		}
		rec.State = domain.QueueStateQueued
		rec.AttemptCount = 0
		rec.LastError = ""
		return nil
	})
}

// Clear removes every record.
func (q *Queue) Clear(ctx context.Context) error {
	return q.mutate(ctx, "Clear", func([]domain.QueuedTransaction) ([]domain.QueuedTransaction, error) {
		return []domain.QueuedTransaction{}, nil
	})
}

// Status summarizes the queue for display.
type Status struct {
	QueuedCount    int                        `json:"queued_count"`
	AbandonedCount int                        `json:"abandoned_count"`
	Transactions   []domain.QueuedTransaction `json:"transactions"`
}

// Status returns counts by state together with the records.
func (q *Queue) Status(ctx context.Context) (Status, error) {
	recs, err := q.List(ctx)
	if err != nil {
		return Status{}, err
	}
	st := Status{Transactions: recs}
	for _, rec := range recs {
		if rec.State == domain.QueueStateAbandoned {
			st.AbandonedCount++
		} else {
			st.QueuedCount++
		}
	}
	return st, nil
}

var errNoChange = errors.New("no change")

// mutate runs a read-modify-write cycle under the queue lock and notifies
// observers once the new collection is persisted.
func (q *Queue) mutate(ctx context.Context, op string, fn func([]domain.QueuedTransaction) ([]domain.QueuedTransaction, error)) error {
	q.mu.Lock()

	recs, err := q.load(ctx)
	if err != nil {
		q.mu.Unlock()
		return fmt.Errorf("%s: %w", op, err)
	}

	next, err := fn(recs)
	if errors.Is(err, errNoChange) {
		q.mu.Unlock()
		return nil
	}
	if err != nil {
		q.mu.Unlock()
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := q.save(ctx, next); err != nil {
		q.mu.Unlock()
		return fmt.Errorf("%s: %w", op, err)
	}
	q.seq++
	seq := q.seq
	snapshot := append([]domain.QueuedTransaction(nil), next...)
	q.mu.Unlock()

	q.notify(seq, snapshot)
	return nil
}

// notify delivers snapshot unless a later one has already gone out.
func (q *Queue) notify(seq uint64, snapshot []domain.QueuedTransaction) {
	if len(q.observers) == 0 {
		return
	}
	q.notifyMu.Lock()
	defer q.notifyMu.Unlock()
	if seq <= q.notified {
		return
	}
	q.notified = seq
	for _, o := range q.observers {
		o(snapshot)
	}
}

func (q *Queue) load(ctx context.Context) ([]domain.QueuedTransaction, error) {
	raw, err := q.store.Read(ctx, q.key)
	if errors.Is(err, kvstore.ErrNotFound) {
		return []domain.QueuedTransaction{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", q.key, err)
	}
	recs := []domain.QueuedTransaction{}
	if raw == "" {
		return recs, nil
	}
	if err := json.Unmarshal([]byte(raw), &recs); err != nil {
		return nil, fmt.Errorf("decode %s: %w", q.key, err)
	}
	return recs, nil
}

func (q *Queue) save(ctx context.Context, recs []domain.QueuedTransaction) error {
	data, err := json.Marshal(recs)
	if err != nil {
		return fmt.Errorf("encode %s: %w", q.key, err)
	}
	if err := q.store.Write(ctx, q.key, string(data)); err != nil {
		return fmt.Errorf("persist %s: %w", q.key, err)
	}
	return nil
}

func indexOf(recs []domain.QueuedTransaction, id string) int {
	for i := range recs {
		if recs[i].ID == id {
			return i
		}
	}
	return -1
}
