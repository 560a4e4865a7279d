package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/dvloznov/paysync/internal/domain"
	"github.com/dvloznov/paysync/internal/events"
	"github.com/dvloznov/paysync/internal/remote"
)

// manualScheduler collects timers; tests fire them explicitly.
type manualScheduler struct {
	mu     sync.Mutex
	timers []*manualTimer
}

type manualTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTimer{d: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

// next removes and returns the oldest timer, stopped or not.
func (s *manualScheduler) next() *manualTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.timers) == 0 {
		return nil
	}
	t := s.timers[0]
	s.timers = s.timers[1:]
	return t
}

func (s *manualScheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

// fire runs the next timer that has not been stopped.
func (s *manualScheduler) fire(t *testing.T) {
	t.Helper()
	for {
		tm := s.next()
		if tm == nil {
			t.Fatal("no timer scheduled")
		}
		if !tm.stopped {
			tm.f()
			return
		}
	}
}

type scriptedFetcher struct {
	mu      sync.Mutex
	calls   int
	results []fetchResult
}

type fetchResult struct {
	res remote.StatusResult
	err error
}

func (f *scriptedFetcher) FetchStatus(ctx context.Context, remoteID string) (remote.StatusResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	f.calls++
	return f.results[i].res, f.results[i].err
}

func (f *scriptedFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func processing() fetchResult {
	return fetchResult{res: remote.StatusResult{State: domain.StatusProcessing}}
}

type statusLog struct {
	mu      sync.Mutex
	updates []domain.TransactionStatus
}

func (l *statusLog) listener() events.Listener {
	return events.Funcs{StatusUpdate: func(ref string, s domain.TransactionStatus) {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.updates = append(l.updates, s)
	}}
}

func (l *statusLog) states() []domain.StatusState {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.StatusState, 0, len(l.updates))
	for _, u := range l.updates {
		out = append(out, u.State)
	}
	return out
}

var testRef = domain.SubmissionRef{TransactionID: "txn-1", TransactionRef: "FL1", RemoteID: "812", InitialState: domain.StatusPending}

func TestTracker_TimesOutOnLastAttempt(t *testing.T) {
	sched := &manualScheduler{}
	fetcher := &scriptedFetcher{results: []fetchResult{processing()}}
	log := &statusLog{}
	tr := New(fetcher, log.listener(), Config{Scheduler: sched}, zerolog.Nop())

	if err := tr.Start(testRef, 5*time.Second, 24); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	for i := 1; i <= 23; i++ {
		sched.mu.Lock()
		d := sched.timers[0].d
		sched.mu.Unlock()
		if d != 5*time.Second {
			t.Fatalf("poll %d scheduled after %s, want 5s", i, d)
		}
		sched.fire(t)
		if st := tr.Status(); st.Terminal() {
			t.Fatalf("terminal after %d polls: %s", i, st.State)
		}
	}

	sched.fire(t)
	st := tr.Status()
	if st.State != domain.StatusTimedOut || st.Attempts != 24 {
		t.Fatalf("after 24 polls: state=%s attempts=%d", st.State, st.Attempts)
	}
	if fetcher.count() != 24 {
		t.Errorf("fetch calls = %d, want 24", fetcher.count())
	}
	if sched.pending() != 0 {
		t.Errorf("timers still pending after timeout: %d", sched.pending())
	}
	if tr.Active() {
		t.Error("tracker should be inactive after timeout")
	}

	want := []domain.StatusState{domain.StatusProcessing, domain.StatusTimedOut}
	if diff := cmp.Diff(want, log.states()); diff != "" {
		t.Errorf("updates mismatch (-want +got):\n%s", diff)
	}
}

func TestTracker_StopsOnTerminalState(t *testing.T) {
	sched := &manualScheduler{}
	fetcher := &scriptedFetcher{results: []fetchResult{
		processing(),
		{res: remote.StatusResult{State: domain.StatusFailed, Terminal: true, FailureReason: "Insufficient funds"}},
	}}
	log := &statusLog{}
	tr := New(fetcher, log.listener(), Config{Scheduler: sched}, zerolog.Nop())
	tr.Start(testRef, 0, 0)

	sched.fire(t)
	sched.fire(t)

	st := tr.Status()
	if st.State != domain.StatusFailed || st.FailureReason != "Insufficient funds" {
		t.Errorf("Status() = %+v", st)
	}
	if sched.pending() != 0 {
		t.Error("no further polls expected after terminal state")
	}
	if diff := cmp.Diff([]domain.StatusState{domain.StatusProcessing, domain.StatusFailed}, log.states()); diff != "" {
		t.Errorf("updates mismatch (-want +got):\n%s", diff)
	}
}

func TestTracker_NetworkErrorsCountTowardBudget(t *testing.T) {
	sched := &manualScheduler{}
	netErr := fetchResult{err: &remote.Error{Kind: remote.KindTransient, Err: errors.New("no route to host")}}
	fetcher := &scriptedFetcher{results: []fetchResult{
		netErr,
		netErr,
		{res: remote.StatusResult{State: domain.StatusCompleted, Terminal: true}},
	}}
	log := &statusLog{}
	tr := New(fetcher, log.listener(), Config{Scheduler: sched}, zerolog.Nop())
	tr.Start(testRef, time.Second, 3)

	sched.fire(t)
	sched.fire(t)
	if st := tr.Status(); st.Terminal() || st.Attempts != 2 {
		t.Fatalf("after two failed polls: %+v", st)
	}

	sched.fire(t)
	if st := tr.Status(); st.State != domain.StatusCompleted || st.Attempts != 3 {
		t.Errorf("Status() = %+v, want completed on attempt 3", st)
	}
	if diff := cmp.Diff([]domain.StatusState{domain.StatusCompleted}, log.states()); diff != "" {
		t.Errorf("updates mismatch (-want +got):\n%s", diff)
	}
}

func TestTracker_NetworkErrorsExhaustBudget(t *testing.T) {
	sched := &manualScheduler{}
	fetcher := &scriptedFetcher{results: []fetchResult{{err: context.DeadlineExceeded}}}
	tr := New(fetcher, nil, Config{Scheduler: sched}, zerolog.Nop())
	tr.Start(testRef, time.Second, 2)

	sched.fire(t)
	sched.fire(t)
	if st := tr.Status(); st.State != domain.StatusTimedOut {
		t.Errorf("State = %s, want timed_out", st.State)
	}
}

func TestTracker_StopSuppressesAlreadyFiredTick(t *testing.T) {
	sched := &manualScheduler{}
	fetcher := &scriptedFetcher{results: []fetchResult{processing()}}
	log := &statusLog{}
	tr := New(fetcher, log.listener(), Config{Scheduler: sched}, zerolog.Nop())
	tr.Start(testRef, 5*time.Second, 24)

	// The timer fired before Stop; its callback only runs afterwards.
	fired := sched.next()
	tr.Stop()
	fired.f()

	if fetcher.count() != 0 {
		t.Errorf("fetch calls after Stop = %d, want 0", fetcher.count())
	}
	if len(log.states()) != 0 {
		t.Errorf("callbacks after Stop: %v", log.states())
	}
	tr.Stop()
}

func TestTracker_StopDuringInFlightPoll(t *testing.T) {
	sched := &manualScheduler{}
	entered := make(chan struct{})
	release := make(chan struct{})
	fetcher := fetcherFunc(func(ctx context.Context, id string) (remote.StatusResult, error) {
		close(entered)
		<-release
		return remote.StatusResult{State: domain.StatusCompleted, Terminal: true}, nil
	})
	log := &statusLog{}
	tr := New(fetcher, log.listener(), Config{Scheduler: sched}, zerolog.Nop())
	tr.Start(testRef, 5*time.Second, 24)

	tick := sched.next()
	done := make(chan struct{})
	go func() {
		defer close(done)
		tick.f()
	}()
	<-entered

	tr.Stop()
	close(release)
	<-done

	if len(log.states()) != 0 {
		t.Errorf("callbacks after Stop: %v", log.states())
	}
	if tr.Status().Terminal() {
		t.Error("stopped tracker must not apply a late result")
	}
	if sched.pending() != 0 {
		t.Error("stopped tracker scheduled another poll")
	}
}

type fetcherFunc func(ctx context.Context, remoteID string) (remote.StatusResult, error)

func (f fetcherFunc) FetchStatus(ctx context.Context, remoteID string) (remote.StatusResult, error) {
	return f(ctx, remoteID)
}

func TestTracker_StartTwice(t *testing.T) {
	tr := New(&scriptedFetcher{results: []fetchResult{processing()}}, nil, Config{Scheduler: &manualScheduler{}}, zerolog.Nop())
	if err := tr.Start(testRef, 0, 0); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := tr.Start(testRef, 0, 0); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}
}

func TestTracker_TerminalInitialStateDoesNotPoll(t *testing.T) {
	sched := &manualScheduler{}
	fetcher := &scriptedFetcher{results: []fetchResult{processing()}}
	log := &statusLog{}
	tr := New(fetcher, log.listener(), Config{Scheduler: sched}, zerolog.Nop())

	ref := testRef
	ref.InitialState = domain.StatusCompleted
	tr.Start(ref, 0, 0)

	if sched.pending() != 0 || fetcher.count() != 0 {
		t.Error("terminal submission should not be polled")
	}
	if diff := cmp.Diff([]domain.StatusState{domain.StatusCompleted}, log.states()); diff != "" {
		t.Errorf("updates mismatch (-want +got):\n%s", diff)
	}
}

func TestTracker_RealScheduler(t *testing.T) {
	done := make(chan domain.TransactionStatus, 1)
	fetcher := &scriptedFetcher{results: []fetchResult{{res: remote.StatusResult{State: domain.StatusCompleted, Terminal: true}}}}
	tr := New(fetcher, events.Funcs{StatusUpdate: func(ref string, s domain.TransactionStatus) {
		done <- s
	}}, Config{}, zerolog.Nop())
	tr.Start(testRef, time.Millisecond, 3)

	select {
	case s := <-done:
		if s.State != domain.StatusCompleted {
			t.Errorf("State = %s", s.State)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no status update")
	}
}
