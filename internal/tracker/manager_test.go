package tracker

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/paysync/internal/domain"
	"github.com/dvloznov/paysync/internal/remote"
)

func TestManager_TrackAndFinish(t *testing.T) {
	sched := &manualScheduler{}
	fetcher := &scriptedFetcher{results: []fetchResult{{res: remote.StatusResult{State: domain.StatusCompleted, Terminal: true}}}}
	m := NewManager(fetcher, nil, Config{Scheduler: sched}, 5*time.Second, 24, zerolog.Nop())

	if err := m.Track(testRef); err != nil {
		t.Fatalf("Track() error = %v", err)
	}
	if err := m.Track(testRef); !errors.Is(err, ErrAlreadyTracked) {
		t.Errorf("duplicate Track() error = %v, want ErrAlreadyTracked", err)
	}
	if active := m.Active(); len(active) != 1 || active[0].TransactionRef != "FL1" {
		t.Fatalf("Active() = %+v", active)
	}

	sched.fire(t)
	if active := m.Active(); len(active) != 0 {
		t.Errorf("finished tracker still active: %+v", active)
	}
}

func TestManager_IndependentTrackers(t *testing.T) {
	sched := &manualScheduler{}
	fetcher := &scriptedFetcher{results: []fetchResult{processing()}}
	m := NewManager(fetcher, nil, Config{Scheduler: sched}, time.Second, 24, zerolog.Nop())

	other := domain.SubmissionRef{TransactionID: "txn-2", TransactionRef: "FL2", RemoteID: "813"}
	m.Track(testRef)
	m.Track(other)

	if !m.Cancel("FL1") {
		t.Fatal("Cancel(FL1) = false")
	}
	if m.Cancel("FL1") {
		t.Error("second Cancel(FL1) should report nothing to cancel")
	}

	active := m.Active()
	if len(active) != 1 || active[0].TransactionRef != "FL2" {
		t.Errorf("Active() = %+v, want only FL2", active)
	}

	m.StopAll()
	if len(m.Active()) != 0 {
		t.Error("StopAll left trackers behind")
	}
}

func TestManager_RequiresRemoteID(t *testing.T) {
	m := NewManager(&scriptedFetcher{}, nil, Config{Scheduler: &manualScheduler{}}, 0, 0, zerolog.Nop())
	if err := m.Track(domain.SubmissionRef{TransactionRef: "FL9"}); err == nil {
		t.Error("Track() without remote id should fail")
	}
}
