package tracker

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/paysync/internal/domain"
	"github.com/dvloznov/paysync/internal/events"
	"github.com/dvloznov/paysync/internal/remote"
)

// ErrAlreadyTracked is returned when a reference already has a live tracker.
var ErrAlreadyTracked = errors.New("transaction already tracked")

// Manager owns one Tracker per in-flight transaction. Trackers share no
// state; the manager only indexes them.
type Manager struct {
	fetcher     remote.StatusFetcher
	listener    events.Listener
	cfg         Config
	interval    time.Duration
	maxAttempts int
	log         zerolog.Logger

	mu       sync.Mutex
	trackers map[string]*Tracker
}

// NewManager creates a manager whose trackers poll every interval up to
// maxAttempts times.
func NewManager(fetcher remote.StatusFetcher, listener events.Listener, cfg Config, interval time.Duration, maxAttempts int, log zerolog.Logger) *Manager {
	return &Manager{
		fetcher:     fetcher,
		listener:    listener,
		cfg:         cfg,
		interval:    interval,
		maxAttempts: maxAttempts,
		log:         log,
		trackers:    make(map[string]*Tracker),
	}
}

func trackingKey(ref domain.SubmissionRef) string {
	if ref.TransactionRef != "" {
		return ref.TransactionRef
	}
	return ref.RemoteID
}

// Track starts a tracker for ref. It satisfies submission.Tracking.
func (m *Manager) Track(ref domain.SubmissionRef) error {
	if ref.RemoteID == "" {
		return fmt.Errorf("Track: %s: remote id is required", ref.TransactionID)
	}
	key := trackingKey(ref)

	m.mu.Lock()
	if _, ok := m.trackers[key]; ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyTracked, key)
	}
	t := New(m.fetcher, m.listener, m.cfg, m.log)
	t.onFinish = func(done *Tracker) { m.forget(key, done) }
	m.trackers[key] = t
	m.mu.Unlock()

	if err := t.Start(ref, m.interval, m.maxAttempts); err != nil {
		m.forget(key, t)
		return fmt.Errorf("Track: %s: %w", key, err)
	}
	return nil
}

func (m *Manager) forget(key string, t *Tracker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.trackers[key] == t {
		delete(m.trackers, key)
	}
}

// Cancel stops tracking ref. It reports whether a tracker was found.
func (m *Manager) Cancel(ref string) bool {
	m.mu.Lock()
	t, ok := m.trackers[ref]
	delete(m.trackers, ref)
	m.mu.Unlock()

	if !ok {
		return false
	}
	t.Stop()
	return true
}

// Active returns the status of every live tracker, ordered by reference.
func (m *Manager) Active() []domain.TransactionStatus {
	m.mu.Lock()
	trackers := make([]*Tracker, 0, len(m.trackers))
	for _, t := range m.trackers {
		trackers = append(trackers, t)
	}
	m.mu.Unlock()

	out := make([]domain.TransactionStatus, 0, len(trackers))
	for _, t := range trackers {
		out = append(out, t.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TransactionRef < out[j].TransactionRef })
	return out
}

// StopAll stops every tracker.
func (m *Manager) StopAll() {
	m.mu.Lock()
	trackers := m.trackers
	m.trackers = make(map[string]*Tracker)
	m.mu.Unlock()

	for _, t := range trackers {
		t.Stop()
	}
	if len(trackers) > 0 {
		m.log.Info().Int("stopped", len(trackers)).Msg("Stopped status trackers")
	}
}
