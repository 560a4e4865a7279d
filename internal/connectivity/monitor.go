// Package connectivity tracks whether the backend is reachable and tells
// subscribers when that changes.
package connectivity

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/paysync/internal/domain"
)

const (
	DefaultInterval = 30 * time.Second
	DefaultTimeout  = 5 * time.Second
)

// Config controls probing.
type Config struct {
	// Timeout bounds a single probe.
	Timeout time.Duration
	// Confirmations is how many consecutive disagreeing probes are needed
	// before a transition is reported. Values below 1 mean 1.
	Confirmations int
	Now           func() time.Time
}

// Monitor probes reachability and notifies subscribers on verified
// transitions only. The zero state is unknown; the first probe result is
// reported as a transition.
type Monitor struct {
	probe Probe
	cfg   Config
	log   zerolog.Logger

	inFlight atomic.Int32

	// emitMu serializes observe+notify so listeners see transitions in order.
	emitMu sync.Mutex

	mu        sync.Mutex
	known     bool
	state     domain.ConnectivityState
	streak    int
	listeners []subscriber
	nextID    int

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type subscriber struct {
	id int
	fn func(online bool)
}

// NewMonitor creates a monitor over probe.
func NewMonitor(probe Probe, cfg Config, log zerolog.Logger) *Monitor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Confirmations < 1 {
		cfg.Confirmations = 1
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Monitor{probe: probe, cfg: cfg, log: log}
}

// IsOnline probes now and reports the result. Probe failures of any kind
// mean offline; they are logged, never returned.
func (m *Monitor) IsOnline(ctx context.Context) bool {
	m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	return m.check(ctx)
}

// Refresh probes unless another probe is already in flight, in which case it
// returns ran=false without probing.
func (m *Monitor) Refresh(ctx context.Context) (online, ran bool) {
	if !m.inFlight.CompareAndSwap(0, 1) {
		return false, false
	}
	defer m.inFlight.Add(-1)
	return m.check(ctx), true
}

func (m *Monitor) check(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	err := m.probe.Check(probeCtx)
	online := err == nil
	// A caller that gave up is not evidence about the network, and a
	// stopped monitor must not notify.
	if ctx.Err() != nil {
		return false
	}
	if err != nil {
		m.log.Debug().Err(err).Msg("Connectivity probe failed")
	}
	m.observe(online)
	return online
}

func (m *Monitor) observe(online bool) {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	m.mu.Lock()
	changed := false
	switch {
	case !m.known:
		changed = true
	case online == m.state.Online:
		m.streak = 0
	default:
		m.streak++
		changed = m.streak >= m.cfg.Confirmations
	}
	if !changed {
		m.mu.Unlock()
		return
	}
	m.known = true
	m.streak = 0
	m.state = domain.ConnectivityState{Online: online, LastChangedAt: m.cfg.Now()}
	fns := make([]func(bool), 0, len(m.listeners))
	for _, s := range m.listeners {
		fns = append(fns, s.fn)
	}
	m.mu.Unlock()

	m.log.Info().Bool("online", online).Msg("Connectivity state changed")
	for _, fn := range fns {
		fn(online)
	}
}

// Current returns the last verified state without probing. Before the first
// probe completes it reports offline.
func (m *Monitor) Current() domain.ConnectivityState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers fn for verified transitions. Listeners are called in
// registration order and must not call IsOnline or Refresh synchronously.
func (m *Monitor) Subscribe(fn func(online bool)) (unsubscribe func()) {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.listeners = append(m.listeners, subscriber{id: id, fn: fn})
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			for i, s := range m.listeners {
				if s.id == id {
					m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Start probes immediately and then every interval until Stop or ctx is
// done. Calling Start while running is a no-op.
func (m *Monitor) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	m.log.Info().Dur("interval", interval).Dur("timeout", m.cfg.Timeout).Msg("Connectivity monitoring started")
	go m.run(ctx, interval, m.done)
}

func (m *Monitor) run(ctx context.Context, interval time.Duration, done chan struct{}) {
	var ticks sync.WaitGroup
	defer func() {
		ticks.Wait()
		close(done)
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		// Ticks run on their own goroutine so a slow probe never delays the
		// ticker; Refresh drops a tick that would overlap.
		ticks.Add(1)
		go func() {
			defer ticks.Done()
			if _, ran := m.Refresh(ctx); !ran {
				m.log.Debug().Msg("Skipping connectivity tick, probe still in flight")
			}
		}()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Stop ends periodic probing and waits for in-flight ticks, so no listener
// is called after it returns. It is safe to call more than once.
func (m *Monitor) Stop() {
	m.runMu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	m.log.Info().Msg("Connectivity monitoring stopped")
}
