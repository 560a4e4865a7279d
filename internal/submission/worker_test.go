package submission

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/paysync/internal/domain"
	"github.com/dvloznov/paysync/internal/events"
	"github.com/dvloznov/paysync/internal/kvstore"
	"github.com/dvloznov/paysync/internal/queue"
	"github.com/dvloznov/paysync/internal/remote"
	"github.com/dvloznov/paysync/internal/session"
)

type fakeConn struct {
	mu     sync.Mutex
	online bool
	subs   []func(bool)
}

func (c *fakeConn) Current() domain.ConnectivityState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.ConnectivityState{Online: c.online}
}

func (c *fakeConn) Subscribe(fn func(bool)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, fn)
	return func() {}
}

func (c *fakeConn) set(online bool) {
	c.mu.Lock()
	c.online = online
	subs := make([]func(bool), len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()
	for _, fn := range subs {
		fn(online)
	}
}

type fakeSubmitter struct {
	mu    sync.Mutex
	calls []remote.SubmitRequest
	fn    func(ctx context.Context, n int, req remote.SubmitRequest) (remote.SubmitResult, error)
}

func (s *fakeSubmitter) Submit(ctx context.Context, req remote.SubmitRequest) (remote.SubmitResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	n := len(s.calls)
	s.mu.Unlock()
	if s.fn == nil {
		return accepted(req), nil
	}
	return s.fn(ctx, n, req)
}

func (s *fakeSubmitter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func accepted(req remote.SubmitRequest) remote.SubmitResult {
	return remote.SubmitResult{
		RemoteID:     "r-" + req.IdempotencyKey,
		Reference:    "FL-" + req.IdempotencyKey,
		InitialState: domain.StatusPending,
	}
}

type fakeTracking struct {
	mu   sync.Mutex
	refs []domain.SubmissionRef
}

func (f *fakeTracking) Track(ref domain.SubmissionRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refs = append(f.refs, ref)
	return nil
}

type outcomeLog struct {
	mu    sync.Mutex
	kinds []events.OutcomeKind
	last  map[string]events.Outcome
}

func (o *outcomeLog) listener() events.Listener {
	return events.Funcs{SubmissionResult: func(id string, out events.Outcome) {
		o.mu.Lock()
		defer o.mu.Unlock()
		if o.last == nil {
			o.last = make(map[string]events.Outcome)
		}
		o.kinds = append(o.kinds, out.Kind)
		o.last[id] = out
	}}
}

func (o *outcomeLog) snapshot() []events.OutcomeKind {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]events.OutcomeKind(nil), o.kinds...)
}

type harness struct {
	queue    *queue.Queue
	conn     *fakeConn
	remote   *fakeSubmitter
	session  *session.MemoryStore
	tracking *fakeTracking
	outcomes *outcomeLog
	worker   *Worker
}

func newHarness(t *testing.T, online bool, cfg Config) *harness {
	t.Helper()
	h := &harness{
		queue:    queue.New(kvstore.NewMemoryStore()),
		conn:     &fakeConn{online: online},
		remote:   &fakeSubmitter{},
		session:  session.NewMemoryStore("tok"),
		tracking: &fakeTracking{},
		outcomes: &outcomeLog{},
	}
	w, err := NewWorker(Deps{
		Store:        h.queue,
		Remote:       h.remote,
		Connectivity: h.conn,
		Session:      h.session,
		Tracking:     h.tracking,
		Listener:     h.outcomes.listener(),
	}, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewWorker() error = %v", err)
	}
	h.worker = w
	return h
}

func (h *harness) enqueue(t *testing.T, amount int64) domain.QueuedTransaction {
	t.Helper()
	rec, err := h.queue.Append(context.Background(), domain.NewTransaction{
		RecipientHandle: "+260971234567",
		Amount:          decimal.NewFromInt(amount),
	})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	return rec
}

func (h *harness) list(t *testing.T) []domain.QueuedTransaction {
	t.Helper()
	recs, err := h.queue.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	return recs
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestWorker_OfflinePaymentSentOnReconnect(t *testing.T) {
	h := newHarness(t, false, Config{})
	ctx := context.Background()

	out, err := h.worker.Submit(ctx, domain.NewTransaction{
		RecipientHandle: "+260971234567",
		Amount:          decimal.NewFromInt(150),
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if out.Kind != events.OutcomeQueued {
		t.Fatalf("Submit() outcome = %s, want queued", out.Kind)
	}
	if n := len(h.list(t)); n != 1 {
		t.Fatalf("queue len = %d, want 1", n)
	}

	h.worker.Start(ctx)
	defer h.worker.Stop()
	if h.remote.count() != 0 {
		t.Fatalf("submitted while offline")
	}

	h.conn.set(true)
	waitFor(t, "queue to drain", func() bool { return len(h.list(t)) == 0 })

	if got := h.remote.count(); got != 1 {
		t.Errorf("remote submit calls = %d, want 1", got)
	}
	req := h.remote.calls[0]
	if req.RecipientHandle != "+260971234567" || !req.Amount.Equal(decimal.NewFromInt(150)) {
		t.Errorf("submitted %+v", req)
	}
	waitFor(t, "tracking to start", func() bool {
		h.tracking.mu.Lock()
		defer h.tracking.mu.Unlock()
		return len(h.tracking.refs) == 1
	})
}

func TestWorker_ConcurrentDrainsSubmitOnce(t *testing.T) {
	h := newHarness(t, true, Config{})
	rec := h.enqueue(t, 150)

	entered := make(chan struct{})
	release := make(chan struct{})
	h.remote.fn = func(ctx context.Context, n int, req remote.SubmitRequest) (remote.SubmitResult, error) {
		if n == 1 {
			close(entered)
		}
		<-release
		return accepted(req), nil
	}

	ctx := context.Background()
	first := make(chan CycleResult)
	go func() {
		res, _ := h.worker.Drain(ctx)
		first <- res
	}()
	<-entered

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.worker.Drain(ctx)
		}()
	}
	wg.Wait()
	close(release)

	res := <-first
	if res.Submitted != 1 {
		t.Errorf("Submitted = %d, want 1", res.Submitted)
	}
	if got := h.remote.count(); got != 1 {
		t.Errorf("remote submit calls for %s = %d, want 1", rec.ID, got)
	}
	if n := len(h.list(t)); n != 0 {
		t.Errorf("queue len = %d, want 0", n)
	}
}

func TestWorker_TriggersDuringDrainCoalesce(t *testing.T) {
	h := newHarness(t, true, Config{})
	h.enqueue(t, 10)

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	var lists atomic.Int32
	h.remote.fn = func(ctx context.Context, n int, req remote.SubmitRequest) (remote.SubmitResult, error) {
		entered <- struct{}{}
		<-release
		return accepted(req), nil
	}
	countingStore := &listCounter{Store: h.queue, n: &lists}
	h.worker.store = countingStore

	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.worker.Drain(ctx)
	}()
	<-entered
	h.worker.Drain(ctx)
	h.worker.Drain(ctx)
	close(release)
	<-done

	// One cycle for the original call plus exactly one follow-up.
	if got := lists.Load(); got != 2 {
		t.Errorf("drain cycles = %d, want 2", got)
	}
}

type listCounter struct {
	Store
	n *atomic.Int32
}

func (l *listCounter) List(ctx context.Context) ([]domain.QueuedTransaction, error) {
	l.n.Add(1)
	return l.Store.List(ctx)
}

func TestWorker_AttemptCap(t *testing.T) {
	h := newHarness(t, true, Config{MaxAttempts: 3})
	rec := h.enqueue(t, 40)
	h.remote.fn = func(ctx context.Context, n int, req remote.SubmitRequest) (remote.SubmitResult, error) {
		return remote.SubmitResult{}, &remote.Error{Kind: remote.KindServer, StatusCode: 503}
	}

	ctx := context.Background()
	wantStates := []domain.QueueState{domain.QueueStateQueued, domain.QueueStateQueued, domain.QueueStateAbandoned}
	for i, want := range wantStates {
		if _, err := h.worker.Drain(ctx); err != nil {
			t.Fatalf("Drain() #%d error = %v", i+1, err)
		}
		got, err := h.queue.Get(ctx, rec.ID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.State != want || got.AttemptCount != i+1 {
			t.Errorf("after drain %d: state=%s attempts=%d, want %s/%d", i+1, got.State, got.AttemptCount, want, i+1)
		}
	}

	if _, err := h.worker.Drain(ctx); err != nil {
		t.Fatalf("Drain() #4 error = %v", err)
	}
	if got := h.remote.count(); got != 3 {
		t.Errorf("remote submit calls = %d, want 3", got)
	}
	got, _ := h.queue.Get(ctx, rec.ID)
	if got.AttemptCount > 3 {
		t.Errorf("AttemptCount = %d, exceeds cap", got.AttemptCount)
	}

	want := []events.OutcomeKind{events.OutcomeRetryScheduled, events.OutcomeRetryScheduled, events.OutcomeAbandoned}
	if diff := cmp.Diff(want, h.outcomes.snapshot()); diff != "" {
		t.Errorf("outcomes mismatch (-want +got):\n%s", diff)
	}
}

func TestWorker_ValidationFailureAbandonsImmediately(t *testing.T) {
	h := newHarness(t, true, Config{})
	rec := h.enqueue(t, 40)
	h.remote.fn = func(ctx context.Context, n int, req remote.SubmitRequest) (remote.SubmitResult, error) {
		return remote.SubmitResult{}, &remote.Error{Kind: remote.KindValidation, StatusCode: 400, Message: "Recipient wallet not found"}
	}

	ctx := context.Background()
	res, err := h.worker.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if res.Abandoned != 1 {
		t.Errorf("Abandoned = %d, want 1", res.Abandoned)
	}

	got, _ := h.queue.Get(ctx, rec.ID)
	if got.State != domain.QueueStateAbandoned || got.AttemptCount != 0 {
		t.Errorf("state=%s attempts=%d, want abandoned/0", got.State, got.AttemptCount)
	}
	if got.LastError != "Recipient wallet not found" {
		t.Errorf("LastError = %q", got.LastError)
	}
	if msg := h.outcomes.last[rec.ID].Message; msg != "Recipient wallet not found" {
		t.Errorf("outcome message = %q", msg)
	}

	h.worker.Drain(ctx)
	if got := h.remote.count(); got != 1 {
		t.Errorf("remote submit calls = %d, want 1", got)
	}
}

func TestWorker_ConnectivityLossHaltsDrain(t *testing.T) {
	h := newHarness(t, true, Config{})
	first := h.enqueue(t, 10)
	h.enqueue(t, 20)
	h.enqueue(t, 30)

	h.remote.fn = func(ctx context.Context, n int, req remote.SubmitRequest) (remote.SubmitResult, error) {
		h.conn.set(false)
		return accepted(req), nil
	}

	res, err := h.worker.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if !res.Halted || res.Submitted != 1 {
		t.Errorf("Drain() = %+v, want halted after one submission", res)
	}
	if got := h.remote.count(); got != 1 {
		t.Errorf("remote submit calls = %d, want 1", got)
	}

	recs := h.list(t)
	if len(recs) != 2 {
		t.Fatalf("queue len = %d, want 2", len(recs))
	}
	for _, r := range recs {
		if r.ID == first.ID {
			t.Errorf("submitted record %s still queued", r.ID)
		}
		if r.State != domain.QueueStateQueued || r.AttemptCount != 0 {
			t.Errorf("%s state=%s attempts=%d, want queued/0", r.ID, r.State, r.AttemptCount)
		}
	}
}

func TestWorker_AuthFailurePausesWithoutConsumingAttempts(t *testing.T) {
	h := newHarness(t, true, Config{})
	first := h.enqueue(t, 10)
	h.enqueue(t, 20)

	h.remote.fn = func(ctx context.Context, n int, req remote.SubmitRequest) (remote.SubmitResult, error) {
		h.session.MarkUnauthorized()
		return remote.SubmitResult{}, &remote.Error{Kind: remote.KindAuth, StatusCode: 401, Message: "Invalid token."}
	}

	ctx := context.Background()
	res, err := h.worker.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if !res.Halted {
		t.Error("drain should halt on auth failure")
	}
	if got := h.remote.count(); got != 1 {
		t.Errorf("remote submit calls = %d, want 1", got)
	}

	got, _ := h.queue.Get(ctx, first.ID)
	if got.State != domain.QueueStateQueued || got.AttemptCount != 0 {
		t.Errorf("state=%s attempts=%d, want queued/0", got.State, got.AttemptCount)
	}
	if diff := cmp.Diff([]events.OutcomeKind{events.OutcomePaused}, h.outcomes.snapshot()); diff != "" {
		t.Errorf("outcomes mismatch (-want +got):\n%s", diff)
	}

	// Signed out: nothing is attempted until a new token arrives.
	h.worker.Drain(ctx)
	if got := h.remote.count(); got != 1 {
		t.Errorf("remote submit calls while signed out = %d, want 1", got)
	}

	h.session.SetToken("fresh")
	h.remote.fn = nil
	h.worker.Drain(ctx)
	if n := len(h.list(t)); n != 0 {
		t.Errorf("queue len after sign-in = %d, want 0", n)
	}
}

func TestWorker_UnauthorizedSignalAbortsInFlightAttempt(t *testing.T) {
	h := newHarness(t, true, Config{})
	rec := h.enqueue(t, 10)

	entered := make(chan struct{})
	h.remote.fn = func(ctx context.Context, n int, req remote.SubmitRequest) (remote.SubmitResult, error) {
		close(entered)
		<-ctx.Done()
		return remote.SubmitResult{}, ctx.Err()
	}

	h.worker.Start(context.Background())
	defer h.worker.Stop()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("submission never started")
	}
	h.session.MarkUnauthorized()

	waitFor(t, "paused outcome", func() bool {
		return len(h.outcomes.snapshot()) == 1
	})
	if kinds := h.outcomes.snapshot(); kinds[0] != events.OutcomePaused {
		t.Fatalf("outcome = %s, want paused", kinds[0])
	}

	got, _ := h.queue.Get(context.Background(), rec.ID)
	if got.State != domain.QueueStateQueued || got.AttemptCount != 0 {
		t.Errorf("state=%s attempts=%d, want queued/0", got.State, got.AttemptCount)
	}
}

func TestWorker_UnauthorizedAbortsDrainAfterDirectSubmitCompletes(t *testing.T) {
	h := newHarness(t, true, Config{})
	queued := h.enqueue(t, 10)

	entered := make(chan struct{})
	var once sync.Once
	h.remote.fn = func(ctx context.Context, n int, req remote.SubmitRequest) (remote.SubmitResult, error) {
		if req.IdempotencyKey != queued.ID {
			return accepted(req), nil
		}
		once.Do(func() { close(entered) })
		select {
		case <-ctx.Done():
			return remote.SubmitResult{}, ctx.Err()
		case <-time.After(time.Second):
			return accepted(req), nil
		}
	}

	h.worker.Start(context.Background())
	defer h.worker.Stop()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("drain submission never started")
	}

	out, err := h.worker.Submit(context.Background(), domain.NewTransaction{
		ID:              "direct-1",
		RecipientHandle: "+260971234567",
		Amount:          decimal.NewFromInt(25),
	})
	if err != nil || out.Kind != events.OutcomeSubmitted {
		t.Fatalf("direct Submit() = %s, %v; want submitted", out.Kind, err)
	}

	h.session.MarkUnauthorized()

	waitFor(t, "drain outcome", func() bool {
		h.outcomes.mu.Lock()
		defer h.outcomes.mu.Unlock()
		_, ok := h.outcomes.last[queued.ID]
		return ok
	})
	h.outcomes.mu.Lock()
	got := h.outcomes.last[queued.ID]
	h.outcomes.mu.Unlock()
	if got.Kind != events.OutcomePaused {
		t.Fatalf("drain outcome = %s, want paused", got.Kind)
	}

	rec, _ := h.queue.Get(context.Background(), queued.ID)
	if rec.State != domain.QueueStateQueued || rec.AttemptCount != 0 {
		t.Errorf("state=%s attempts=%d, want queued/0", rec.State, rec.AttemptCount)
	}
}

type failFirstList struct {
	Store
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (f *failFirstList) List(ctx context.Context) ([]domain.QueuedTransaction, error) {
	if f.calls.Add(1) == 1 {
		close(f.entered)
		<-f.release
		return nil, errors.New("storage unavailable")
	}
	return f.Store.List(ctx)
}

func TestWorker_TriggerDuringFailedCycleStillDrains(t *testing.T) {
	h := newHarness(t, true, Config{})
	h.enqueue(t, 10)

	store := &failFirstList{Store: h.queue, entered: make(chan struct{}), release: make(chan struct{})}
	h.worker.store = store

	h.worker.Start(context.Background())
	defer h.worker.Stop()

	select {
	case <-store.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("startup drain never listed the queue")
	}

	// Arrives while the first cycle is still running and is folded into it.
	h.worker.Drain(context.Background())
	close(store.release)

	waitFor(t, "follow-up drain", func() bool { return len(h.list(t)) == 0 })
	if got := h.remote.count(); got != 1 {
		t.Errorf("remote submit calls = %d, want 1", got)
	}
}

func TestWorker_StopLeavesInFlightRecordQueued(t *testing.T) {
	h := newHarness(t, true, Config{})
	rec := h.enqueue(t, 10)

	entered := make(chan struct{})
	h.remote.fn = func(ctx context.Context, n int, req remote.SubmitRequest) (remote.SubmitResult, error) {
		close(entered)
		<-ctx.Done()
		return remote.SubmitResult{}, ctx.Err()
	}

	h.worker.Start(context.Background())
	<-entered
	h.worker.Stop()

	got, _ := h.queue.Get(context.Background(), rec.ID)
	if got.State != domain.QueueStateQueued || got.AttemptCount != 0 {
		t.Errorf("state=%s attempts=%d, want queued/0", got.State, got.AttemptCount)
	}
}

func TestWorker_BackoffSchedulesFollowUpDrain(t *testing.T) {
	h := newHarness(t, true, Config{Backoff: NewExponentialBackoff(time.Millisecond, 5*time.Millisecond)})
	h.enqueue(t, 10)
	h.remote.fn = func(ctx context.Context, n int, req remote.SubmitRequest) (remote.SubmitResult, error) {
		if n == 1 {
			return remote.SubmitResult{}, &remote.Error{Kind: remote.KindTransient, Err: errors.New("connection reset")}
		}
		return accepted(req), nil
	}

	h.worker.Start(context.Background())
	defer h.worker.Stop()

	waitFor(t, "retry drain", func() bool { return len(h.list(t)) == 0 })
	if got := h.remote.count(); got != 2 {
		t.Errorf("remote submit calls = %d, want 2", got)
	}
}

func TestWorker_SkipsAbandonedRecords(t *testing.T) {
	h := newHarness(t, true, Config{})
	stuck := h.enqueue(t, 10)
	h.queue.UpdateState(context.Background(), stuck.ID, domain.QueueStateAbandoned, "rejected")
	failed := h.enqueue(t, 20)
	h.queue.UpdateState(context.Background(), failed.ID, domain.QueueStateFailed, "gateway")

	h.worker.Drain(context.Background())

	if got := h.remote.count(); got != 1 {
		t.Fatalf("remote submit calls = %d, want 1", got)
	}
	if h.remote.calls[0].IdempotencyKey != failed.ID {
		t.Errorf("submitted %s, want the failed record %s", h.remote.calls[0].IdempotencyKey, failed.ID)
	}
}

func TestWorker_Submit(t *testing.T) {
	tests := []struct {
		name       string
		online     bool
		err        error
		wantKind   events.OutcomeKind
		wantQueued bool
	}{
		{"online success", true, nil, events.OutcomeSubmitted, false},
		{"offline", false, nil, events.OutcomeQueued, true},
		{"network failure", true, &remote.Error{Kind: remote.KindTransient}, events.OutcomeQueued, true},
		{"timeout", true, context.DeadlineExceeded, events.OutcomeQueued, true},
		{"session rejected", true, &remote.Error{Kind: remote.KindAuth, StatusCode: 401}, events.OutcomeQueued, true},
		{"validation", true, &remote.Error{Kind: remote.KindValidation, Message: "Amount exceeds limit"}, events.OutcomeRejected, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.online, Config{})
			var seenKey string
			h.remote.fn = func(ctx context.Context, n int, req remote.SubmitRequest) (remote.SubmitResult, error) {
				seenKey = req.IdempotencyKey
				if tt.err != nil {
					return remote.SubmitResult{}, tt.err
				}
				return accepted(req), nil
			}

			out, err := h.worker.Submit(context.Background(), domain.NewTransaction{
				RecipientHandle: "0971234567",
				Amount:          decimal.NewFromInt(25),
			})
			if err != nil {
				t.Fatalf("Submit() error = %v", err)
			}
			if out.Kind != tt.wantKind {
				t.Errorf("outcome = %s, want %s", out.Kind, tt.wantKind)
			}

			recs := h.list(t)
			if tt.wantQueued != (len(recs) == 1) {
				t.Fatalf("queued records = %d, wantQueued %v", len(recs), tt.wantQueued)
			}
			if tt.wantQueued {
				if recs[0].AttemptCount != 0 || recs[0].RecipientHandle != "+260971234567" {
					t.Errorf("queued record = %+v", recs[0])
				}
				if seenKey != "" && recs[0].ID != seenKey {
					t.Errorf("queued id %s differs from idempotency key %s", recs[0].ID, seenKey)
				}
			}
			if tt.wantKind == events.OutcomeRejected && out.Message != "Amount exceeds limit" {
				t.Errorf("rejection message = %q", out.Message)
			}
			if tt.wantKind == events.OutcomeSubmitted && (out.Ref == nil || len(h.tracking.refs) != 1) {
				t.Errorf("submitted outcome %+v, tracked %d", out, len(h.tracking.refs))
			}
		})
	}
}

func TestWorker_SubmitRejectsInvalidInput(t *testing.T) {
	h := newHarness(t, true, Config{})
	_, err := h.worker.Submit(context.Background(), domain.NewTransaction{RecipientHandle: "+260971234567"})
	if !errors.Is(err, domain.ErrInvalidAmount) {
		t.Errorf("Submit() error = %v, want ErrInvalidAmount", err)
	}
	if h.remote.count() != 0 {
		t.Error("invalid input reached the backend")
	}
}

func TestNewWorker_RequiresDeps(t *testing.T) {
	if _, err := NewWorker(Deps{}, Config{}, zerolog.Nop()); err == nil {
		t.Error("NewWorker() expected error for missing deps")
	}
}
