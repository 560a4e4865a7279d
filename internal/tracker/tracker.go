// Package tracker follows submitted payments until the backend reports a
// terminal state or the polling budget runs out.
package tracker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/paysync/internal/domain"
	"github.com/dvloznov/paysync/internal/events"
	"github.com/dvloznov/paysync/internal/remote"
)

const (
	DefaultInterval    = 5 * time.Second
	DefaultMaxAttempts = 24
)

// ErrAlreadyStarted is returned when Start is called on a used tracker.
var ErrAlreadyStarted = errors.New("tracker already started")

// Config controls polling.
type Config struct {
	// CallTimeout bounds each status request. The default is 10s.
	CallTimeout time.Duration
	Scheduler   Scheduler
	Now         func() time.Time
}

func (c Config) withDefaults() Config {
	if c.CallTimeout <= 0 {
		c.CallTimeout = 10 * time.Second
	}
	if c.Scheduler == nil {
		c.Scheduler = RealScheduler{}
	}
	if c.Now == nil {
		c.Now = func() time.Time { return time.Now().UTC() }
	}
	return c
}

// Tracker polls one transaction. It is single use: once stopped or
// terminal it cannot be started again.
//
// Listener callbacks are delivered from the polling goroutine and must not
// call Stop on the same tracker.
type Tracker struct {
	fetcher  remote.StatusFetcher
	listener events.Listener
	cfg      Config
	log      zerolog.Logger

	// onFinish is called once when the tracker reaches a terminal state.
	onFinish func(*Tracker)

	mu     sync.Mutex
	run    *run
	status domain.TransactionStatus
}

// run is the state of one Start call. Every tick captures it and checks
// live before each side effect.
type run struct {
	live   atomic.Bool
	ctx    context.Context
	cancel context.CancelFunc

	remoteID    string
	interval    time.Duration
	maxAttempts int

	// emitMu is held while a tick applies its result and emits; Stop takes
	// it to wait out a tick that passed its liveness check.
	emitMu sync.Mutex
	timer  Timer
}

// New creates an idle tracker.
func New(fetcher remote.StatusFetcher, listener events.Listener, cfg Config, log zerolog.Logger) *Tracker {
	if listener == nil {
		listener = events.Funcs{}
	}
	return &Tracker{fetcher: fetcher, listener: listener, cfg: cfg.withDefaults(), log: log}
}

// Start begins polling ref every interval, giving up after maxAttempts polls
// without a terminal answer. Zero values select the defaults (5s, 24).
func (t *Tracker) Start(ref domain.SubmissionRef, interval time.Duration, maxAttempts int) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	initial := ref.InitialState
	if initial == "" {
		initial = domain.StatusPending
	}

	t.mu.Lock()
	if t.run != nil {
		t.mu.Unlock()
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &run{ctx: ctx, cancel: cancel, remoteID: ref.RemoteID, interval: interval, maxAttempts: maxAttempts}
	r.live.Store(true)
	t.run = r
	t.status = domain.TransactionStatus{
		TransactionRef: ref.TransactionRef,
		RemoteID:       ref.RemoteID,
		State:          initial,
		UpdatedAt:      t.cfg.Now(),
	}
	t.log = t.log.With().Str("reference", ref.TransactionRef).Str("remote_id", ref.RemoteID).Logger()

	if initial.Terminal() {
		status := t.status
		t.mu.Unlock()
		t.finish(r, status)
		return nil
	}
	r.timer = t.cfg.Scheduler.AfterFunc(interval, func() { t.tick(r) })
	t.mu.Unlock()

	t.log.Debug().Dur("interval", interval).Int("max_attempts", maxAttempts).Msg("Status tracking started")
	return nil
}

func (t *Tracker) tick(r *run) {
	if !r.live.Load() {
		return
	}

	ctx, cancel := context.WithTimeout(r.ctx, t.cfg.CallTimeout)
	res, err := t.fetcher.FetchStatus(ctx, r.remoteID)
	cancel()

	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	if !r.live.Load() {
		return
	}

	t.mu.Lock()
	t.status.Attempts++
	changed := false
	if err != nil {
		t.log.Debug().Err(err).Int("attempt", t.status.Attempts).Msg("Status poll failed, will retry")
	} else {
		changed, _ = t.status.Advance(res.State, res.FailureReason, t.cfg.Now())
	}

	if !t.status.Terminal() && t.status.Attempts >= r.maxAttempts {
		t.status.Advance(domain.StatusTimedOut, "", t.cfg.Now())
		t.log.Warn().Int("attempts", t.status.Attempts).Msg("Status polling exhausted, outcome unconfirmed")
	}
	status := t.status
	if !status.Terminal() && r.live.Load() {
		r.timer = t.cfg.Scheduler.AfterFunc(r.interval, func() { t.tick(r) })
	}
	t.mu.Unlock()

	if status.Terminal() {
		t.finishLocked(r, status)
		return
	}
	if changed {
		t.listener.OnStatusUpdate(status.TransactionRef, status)
	}
}

func (t *Tracker) finish(r *run, status domain.TransactionStatus) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	t.finishLocked(r, status)
}

// finishLocked must be called with r.emitMu held.
func (t *Tracker) finishLocked(r *run, status domain.TransactionStatus) {
	if !r.live.CompareAndSwap(true, false) {
		return
	}
	r.cancel()
	t.log.Info().Str("state", string(status.State)).Int("attempts", status.Attempts).Msg("Transaction reached terminal state")
	if t.onFinish != nil {
		t.onFinish(t)
	}
	t.listener.OnStatusUpdate(status.TransactionRef, status)
}

// Stop cancels polling. When it returns no further callback will be
// delivered, including for a poll whose timer had already fired. It is safe
// to call more than once and before Start.
func (t *Tracker) Stop() {
	t.mu.Lock()
	r := t.run
	if r == nil {
		t.mu.Unlock()
		return
	}
	wasLive := r.live.Swap(false)
	r.cancel()
	if r.timer != nil {
		r.timer.Stop()
	}
	t.mu.Unlock()

	// Wait out a tick that is already emitting.
	r.emitMu.Lock()
	r.emitMu.Unlock()

	if wasLive {
		t.log.Debug().Msg("Status tracking stopped")
	}
}

// Status returns a snapshot of the tracked status.
func (t *Tracker) Status() domain.TransactionStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Active reports whether the tracker is still polling.
func (t *Tracker) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.run != nil && t.run.live.Load()
}
