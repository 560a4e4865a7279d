// Package submission delivers payments to the backend: directly when online,
// and by draining the durable queue when connectivity returns.
package submission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/dvloznov/paysync/internal/domain"
	"github.com/dvloznov/paysync/internal/events"
	"github.com/dvloznov/paysync/internal/queue"
	"github.com/dvloznov/paysync/internal/remote"
	"github.com/dvloznov/paysync/internal/session"
)

// Store is the durable queue as seen by the worker. *queue.Queue satisfies it.
type Store interface {
	Append(ctx context.Context, req domain.NewTransaction) (domain.QueuedTransaction, error)
	List(ctx context.Context) ([]domain.QueuedTransaction, error)
	Update(ctx context.Context, id string, fn func(*domain.QueuedTransaction) error) (domain.QueuedTransaction, error)
	Remove(ctx context.Context, id string) error
}

// Connectivity reports verified reachability. *connectivity.Monitor satisfies it.
type Connectivity interface {
	Current() domain.ConnectivityState
	Subscribe(fn func(online bool)) (unsubscribe func())
}

// Tracking starts status polling for accepted submissions.
type Tracking interface {
	Track(ref domain.SubmissionRef) error
}

// Config controls retry behaviour.
type Config struct {
	// MaxAttempts is the retryable-failure budget per record.
	MaxAttempts int
	// CallTimeout bounds each submit call.
	CallTimeout time.Duration
	// Backoff spaces automatic follow-up drains after retryable failures.
	Backoff Backoff
}

// Deps groups the worker's collaborators.
type Deps struct {
	Store        Store
	Remote       remote.Submitter
	Connectivity Connectivity
	Session      session.Store
	// Tracking and Listener are optional.
	Tracking Tracking
	Listener events.Listener
}

// CycleResult summarizes one pass over the queue.
type CycleResult struct {
	Submitted int
	Retried   int
	Abandoned int
	// Halted is set when the cycle stopped early: offline, signed out,
	// session rejected or cancelled.
	Halted bool
}

var errNotEligible = errors.New("record not eligible for submission")

// errSessionRevoked is the cancellation cause used when the session is
// rejected while an attempt is in flight.
var errSessionRevoked = errors.New("session revoked during submission")

// Worker drains the durable queue. At most one drain runs at a time; triggers
// that arrive during a drain are folded into a single follow-up cycle.
type Worker struct {
	store    Store
	remote   remote.Submitter
	conn     Connectivity
	session  session.Store
	tracking Tracking
	listener events.Listener
	cfg      Config
	log      zerolog.Logger

	flight singleflight.Group

	mu       sync.Mutex
	draining bool
	pending  bool

	// attempts holds the cancel func of every in-flight submit call, keyed
	// by idempotency key. A direct Submit and a drain can overlap.
	attemptMu sync.Mutex
	attempts  map[string]context.CancelCauseFunc

	lifeMu      sync.Mutex
	runCtx      context.Context
	runCancel   context.CancelFunc
	unsubscribe []func()
	retryTimer  *time.Timer
	wg          sync.WaitGroup
}

// NewWorker validates deps and applies config defaults.
func NewWorker(deps Deps, cfg Config, log zerolog.Logger) (*Worker, error) {
	if deps.Store == nil || deps.Remote == nil || deps.Connectivity == nil || deps.Session == nil {
		return nil, errors.New("NewWorker: store, remote, connectivity and session are required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = domain.DefaultMaxAttempts
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if cfg.Backoff == nil {
		cfg.Backoff = NewExponentialBackoff(DefaultRetryInitial, DefaultRetryMax)
	}
	listener := deps.Listener
	if listener == nil {
		listener = events.Funcs{}
	}
	return &Worker{
		store:    deps.Store,
		remote:   deps.Remote,
		conn:     deps.Connectivity,
		session:  deps.Session,
		tracking: deps.Tracking,
		listener: listener,
		cfg:      cfg,
		log:      log,
		attempts: make(map[string]context.CancelCauseFunc),
	}, nil
}

// Start subscribes to connectivity and session signals and kicks off an
// initial drain. Stop undoes it.
func (w *Worker) Start(ctx context.Context) {
	w.lifeMu.Lock()
	if w.runCtx != nil {
		w.lifeMu.Unlock()
		return
	}
	w.runCtx, w.runCancel = context.WithCancel(ctx)
	w.unsubscribe = []func(){
		w.conn.Subscribe(func(online bool) {
			if online {
				w.Trigger("connectivity")
			}
		}),
		w.session.OnUnauthorized(w.abortAttempt),
	}
	w.lifeMu.Unlock()

	w.log.Info().Int("max_attempts", w.cfg.MaxAttempts).Msg("Submission worker started")
	w.Trigger("startup")
}

// Stop cancels any running drain and waits for it to return.
func (w *Worker) Stop() {
	w.lifeMu.Lock()
	if w.runCtx == nil {
		w.lifeMu.Unlock()
		return
	}
	for _, unsub := range w.unsubscribe {
		unsub()
	}
	w.unsubscribe = nil
	if w.retryTimer != nil {
		w.retryTimer.Stop()
		w.retryTimer = nil
	}
	w.runCancel()
	w.runCtx = nil
	w.lifeMu.Unlock()

	w.wg.Wait()
	w.log.Info().Msg("Submission worker stopped")
}

// Trigger starts a drain in the background. It is a no-op when the worker
// is not started.
func (w *Worker) Trigger(reason string) {
	w.lifeMu.Lock()
	ctx := w.runCtx
	if ctx == nil {
		w.lifeMu.Unlock()
		return
	}
	w.wg.Add(1)
	w.lifeMu.Unlock()

	go func() {
		defer w.wg.Done()
		w.log.Debug().Str("reason", reason).Msg("Drain triggered")
		if _, err := w.Drain(ctx); err != nil && ctx.Err() == nil {
			w.log.Error().Err(err).Str("reason", reason).Msg("Drain failed")
		}
	}()
}

// Retry is the manual retry trigger.
func (w *Worker) Retry() { w.Trigger("manual") }

// Resume is called when the host application returns to the foreground.
func (w *Worker) Resume() { w.Trigger("resume") }

// Drain processes the queue until no trigger is pending. When another drain
// is already running the call only marks a follow-up and returns at once
// with a zero result.
func (w *Worker) Drain(ctx context.Context) (CycleResult, error) {
	w.mu.Lock()
	if w.draining {
		w.pending = true
		w.mu.Unlock()
		return CycleResult{}, nil
	}
	w.draining = true
	w.mu.Unlock()

	var total CycleResult
	for {
		res, err := w.drainOnce(ctx)
		total.Submitted += res.Submitted
		total.Retried += res.Retried
		total.Abandoned += res.Abandoned
		total.Halted = res.Halted

		w.mu.Lock()
		if err != nil || ctx.Err() != nil || !w.pending {
			// A trigger that arrived during a failed cycle still gets its
			// follow-up.
			retrigger := err != nil && w.pending && ctx.Err() == nil
			w.draining = false
			w.pending = false
			w.mu.Unlock()
			w.scheduleFollowUp(res)
			if retrigger {
				w.Trigger("pending")
			}
			return total, err
		}
		w.pending = false
		w.mu.Unlock()
	}
}

func (w *Worker) drainOnce(ctx context.Context) (CycleResult, error) {
	var res CycleResult

	if !w.conn.Current().Online {
		w.log.Debug().Msg("Offline, skipping drain")
		res.Halted = true
		return res, nil
	}
	if _, ok := w.session.Token(); !ok {
		w.log.Info().Msg("No session token, queued payments paused")
		res.Halted = true
		return res, nil
	}

	recs, err := w.store.List(ctx)
	if err != nil {
		return res, fmt.Errorf("Drain: list queue: %w", err)
	}

	for _, rec := range recs {
		if !rec.State.Eligible() {
			continue
		}
		if ctx.Err() != nil || !w.conn.Current().Online {
			w.log.Info().Msg("Connectivity lost, stopping drain")
			res.Halted = true
			return res, nil
		}

		kind, err := w.process(ctx, rec)
		if err != nil {
			return res, err
		}
		switch kind {
		case events.OutcomeSubmitted:
			res.Submitted++
		case events.OutcomeRetryScheduled:
			res.Retried++
		case events.OutcomeAbandoned:
			res.Abandoned++
		case events.OutcomePaused:
			res.Halted = true
			return res, nil
		}
	}
	return res, nil
}

// process submits one record and persists the classified result. An empty
// kind means the record was skipped.
func (w *Worker) process(ctx context.Context, rec domain.QueuedTransaction) (events.OutcomeKind, error) {
	id := rec.ID
	log := w.log.With().Str("txn_id", id).Int("attempt", rec.AttemptCount+1).Logger()

	rec, err := w.store.Update(ctx, id, func(r *domain.QueuedTransaction) error {
		if !r.State.Eligible() {
			return errNotEligible
		}
		r.State = domain.QueueStateSubmitting
		return nil
	})
	if errors.Is(err, queue.ErrNotFound) || errors.Is(err, errNotEligible) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("Drain: mark submitting %s: %w", id, err)
	}

	log.Info().Msg("Submitting queued transaction")
	result, err := w.submit(ctx, remote.SubmitRequestFor(rec))

	// Persisting the outcome must not be skipped because the drain context
	// was cancelled while the call was in flight.
	persistCtx := context.WithoutCancel(ctx)

	switch {
	case err == nil:
		if err := w.store.Remove(persistCtx, rec.ID); err != nil {
			return "", fmt.Errorf("Drain: remove submitted %s: %w", rec.ID, err)
		}
		log.Info().Str("remote_id", result.RemoteID).Str("reference", result.Reference).Msg("Queued transaction submitted")
		w.succeeded(rec.ID, rec.AttemptCount+1, result)
		return events.OutcomeSubmitted, nil

	case errors.Is(err, errSessionRevoked) || remote.Classify(err) == remote.KindAuth:
		if _, uerr := w.store.Update(persistCtx, rec.ID, func(r *domain.QueuedTransaction) error {
			r.State = domain.QueueStateQueued
			return nil
		}); uerr != nil {
			return "", fmt.Errorf("Drain: requeue %s after auth failure: %w", rec.ID, uerr)
		}
		log.Warn().Err(err).Msg("Session rejected, pausing queue")
		w.listener.OnSubmissionResult(rec.ID, events.Outcome{
			Kind:     events.OutcomePaused,
			Attempts: rec.AttemptCount,
			Message:  remote.Message(err),
		})
		return events.OutcomePaused, nil

	case ctx.Err() != nil:
		// The drain itself was cancelled; that says nothing about the payment.
		if _, uerr := w.store.Update(persistCtx, rec.ID, func(r *domain.QueuedTransaction) error {
			r.State = domain.QueueStateQueued
			return nil
		}); uerr != nil {
			return "", fmt.Errorf("Drain: requeue %s after cancellation: %w", rec.ID, uerr)
		}
		log.Info().Msg("Drain cancelled mid-submission, transaction left queued")
		return "", nil

	case remote.Retryable(err):
		updated, uerr := w.store.Update(persistCtx, rec.ID, func(r *domain.QueuedTransaction) error {
			r.AttemptCount++
			r.LastError = err.Error()
			if r.AttemptCount >= w.cfg.MaxAttempts {
				r.State = domain.QueueStateAbandoned
			} else {
				r.State = domain.QueueStateQueued
			}
			return nil
		})
		if uerr != nil {
			return "", fmt.Errorf("Drain: record failure of %s: %w", rec.ID, uerr)
		}
		if updated.State == domain.QueueStateAbandoned {
			log.Warn().Err(err).Msg("Retry budget exhausted, transaction abandoned")
			w.listener.OnSubmissionResult(rec.ID, events.Outcome{
				Kind:     events.OutcomeAbandoned,
				Attempts: updated.AttemptCount,
				Message:  remote.Message(err),
			})
			return events.OutcomeAbandoned, nil
		}
		log.Warn().Err(err).Str("kind", remote.Classify(err).String()).Msg("Submission failed, will retry")
		w.listener.OnSubmissionResult(rec.ID, events.Outcome{
			Kind:     events.OutcomeRetryScheduled,
			Attempts: updated.AttemptCount,
			Message:  remote.Message(err),
		})
		return events.OutcomeRetryScheduled, nil

	default:
		msg := remote.Message(err)
		if _, uerr := w.store.Update(persistCtx, rec.ID, func(r *domain.QueuedTransaction) error {
			r.State = domain.QueueStateAbandoned
			r.LastError = msg
			return nil
		}); uerr != nil {
			return "", fmt.Errorf("Drain: abandon %s: %w", rec.ID, uerr)
		}
		log.Warn().Str("server_message", msg).Msg("Submission rejected, transaction abandoned")
		w.listener.OnSubmissionResult(rec.ID, events.Outcome{
			Kind:     events.OutcomeAbandoned,
			Attempts: rec.AttemptCount,
			Message:  msg,
		})
		return events.OutcomeAbandoned, nil
	}
}

// Submit is the entry point for a new payment. Online, it goes straight to
// the backend; offline or on a retryable or session failure it is queued
// under the same id so the backend can de-duplicate a delivery it already
// saw. Validation failures are returned as OutcomeRejected and never queued.
func (w *Worker) Submit(ctx context.Context, req domain.NewTransaction) (events.Outcome, error) {
	if err := req.Validate(); err != nil {
		return events.Outcome{}, err
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	req.RecipientHandle = domain.NormalizeHandle(req.RecipientHandle)
	log := w.log.With().Str("txn_id", req.ID).Logger()

	if !w.conn.Current().Online {
		log.Info().Msg("Offline, queueing payment")
		return w.enqueue(ctx, req, "")
	}
	if _, ok := w.session.Token(); !ok {
		log.Info().Msg("No session token, queueing payment")
		return w.enqueue(ctx, req, "")
	}

	result, err := w.submit(ctx, remote.SubmitRequest{
		RecipientHandle: req.RecipientHandle,
		Amount:          req.Amount,
		Description:     req.Description,
		IdempotencyKey:  req.ID,
	})
	switch {
	case err == nil:
		log.Info().Str("remote_id", result.RemoteID).Str("reference", result.Reference).Msg("Payment submitted")
		return w.succeeded(req.ID, 1, result), nil

	case errors.Is(err, errSessionRevoked) || remote.Retryable(err) || remote.Classify(err) == remote.KindAuth:
		log.Warn().Err(err).Msg("Direct submission failed, queueing payment")
		return w.enqueue(ctx, req, remote.Message(err))

	default:
		msg := remote.Message(err)
		log.Warn().Str("server_message", msg).Msg("Payment rejected")
		outcome := events.Outcome{Kind: events.OutcomeRejected, Attempts: 1, Message: msg}
		w.listener.OnSubmissionResult(req.ID, outcome)
		return outcome, nil
	}
}

func (w *Worker) enqueue(ctx context.Context, req domain.NewTransaction, reason string) (events.Outcome, error) {
	rec, err := w.store.Append(context.WithoutCancel(ctx), req)
	if err != nil {
		return events.Outcome{}, fmt.Errorf("Submit: queue %s: %w", req.ID, err)
	}
	outcome := events.Outcome{Kind: events.OutcomeQueued, Message: reason}
	w.listener.OnSubmissionResult(rec.ID, outcome)
	return outcome, nil
}

func (w *Worker) succeeded(id string, attempts int, result remote.SubmitResult) events.Outcome {
	ref := domain.SubmissionRef{
		TransactionID:  id,
		TransactionRef: result.Reference,
		RemoteID:       result.RemoteID,
		InitialState:   result.InitialState,
	}
	outcome := events.Outcome{Kind: events.OutcomeSubmitted, Ref: &ref, Attempts: attempts}
	w.listener.OnSubmissionResult(id, outcome)

	if w.tracking != nil {
		if err := w.tracking.Track(ref); err != nil {
			w.log.Warn().Err(err).Str("txn_id", id).Msg("Could not start status tracking")
		}
	}
	return outcome
}

// submit performs one bounded call. Concurrent calls for the same key share
// a single request.
func (w *Worker) submit(ctx context.Context, req remote.SubmitRequest) (remote.SubmitResult, error) {
	v, err, _ := w.flight.Do(req.IdempotencyKey, func() (any, error) {
		callCtx, cancelCause := context.WithCancelCause(ctx)
		callCtx, cancel := context.WithTimeout(callCtx, w.cfg.CallTimeout)
		defer cancel()

		w.attemptMu.Lock()
		w.attempts[req.IdempotencyKey] = cancelCause
		w.attemptMu.Unlock()
		defer func() {
			w.attemptMu.Lock()
			delete(w.attempts, req.IdempotencyKey)
			w.attemptMu.Unlock()
			cancelCause(nil)
		}()

		res, err := w.remote.Submit(callCtx, req)
		if err != nil && errors.Is(context.Cause(callCtx), errSessionRevoked) {
			return res, fmt.Errorf("%w: %w", errSessionRevoked, err)
		}
		return res, err
	})
	if err != nil {
		return remote.SubmitResult{}, err
	}
	return v.(remote.SubmitResult), nil
}

// abortAttempt cancels every in-flight submit call.
func (w *Worker) abortAttempt() {
	w.attemptMu.Lock()
	cancels := make([]context.CancelCauseFunc, 0, len(w.attempts))
	for _, cancel := range w.attempts {
		cancels = append(cancels, cancel)
	}
	w.attemptMu.Unlock()

	if len(cancels) > 0 {
		w.log.Warn().Int("in_flight", len(cancels)).Msg("Session revoked, aborting in-flight submissions")
	}
	for _, cancel := range cancels {
		cancel(errSessionRevoked)
	}
}

// scheduleFollowUp arms a timer for another drain after a cycle that left
// retryable failures behind.
func (w *Worker) scheduleFollowUp(last CycleResult) {
	w.lifeMu.Lock()
	defer w.lifeMu.Unlock()
	if w.runCtx == nil {
		return
	}
	if last.Retried == 0 {
		w.cfg.Backoff.Reset()
		return
	}
	delay := w.cfg.Backoff.NextBackOff()
	if delay == backoff.Stop {
		w.log.Warn().Int("retrying", last.Retried).Msg("Retry backoff exhausted, waiting for the next trigger")
		return
	}
	if w.retryTimer != nil {
		w.retryTimer.Stop()
	}
	w.log.Info().Dur("delay", delay).Int("retrying", last.Retried).Msg("Scheduling retry drain")
	w.retryTimer = time.AfterFunc(delay, func() { w.Trigger("backoff") })
}
