package history

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/paysync/internal/domain"
	"github.com/dvloznov/paysync/internal/events"
)

// Recorder is an events.Listener that writes submission results and status
// changes to a Repository in the background. Events never block: when the
// buffer is full the row is dropped and logged.
type Recorder struct {
	repo          Repository
	log           zerolog.Logger
	now           func() time.Time
	flushInterval time.Duration
	batchSize     int
	writeTimeout  time.Duration

	rows    chan *Row
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// RecorderConfig tunes batching.
type RecorderConfig struct {
	Buffer        int
	BatchSize     int
	FlushInterval time.Duration
	WriteTimeout  time.Duration
	Now           func() time.Time
}

// NewRecorder starts the background writer. Call Close to flush and stop.
func NewRecorder(repo Repository, cfg RecorderConfig, log zerolog.Logger) *Recorder {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	r := &Recorder{
		repo:          repo,
		log:           log,
		now:           cfg.Now,
		flushInterval: cfg.FlushInterval,
		batchSize:     cfg.BatchSize,
		writeTimeout:  cfg.WriteTimeout,
		rows:          make(chan *Row, cfg.Buffer),
		done:          make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *Recorder) OnConnectivityChange(bool)                 {}
func (r *Recorder) OnQueueChanged([]domain.QueuedTransaction) {}

func (r *Recorder) OnSubmissionResult(id string, o events.Outcome) {
	row := &Row{
		Kind:          KindSubmission,
		TransactionID: nullString(id),
		State:         string(o.Kind),
		Attempts:      int64(o.Attempts),
		Message:       nullString(o.Message),
	}
	if o.Ref != nil {
		row.TransactionRef = nullString(o.Ref.TransactionRef)
		row.RemoteID = nullString(o.Ref.RemoteID)
	}
	r.enqueue(row)
}

func (r *Recorder) OnStatusUpdate(ref string, s domain.TransactionStatus) {
	r.enqueue(&Row{
		Kind:           KindStatus,
		TransactionRef: nullString(ref),
		RemoteID:       nullString(s.RemoteID),
		State:          string(s.State),
		Attempts:       int64(s.Attempts),
		Message:        nullString(s.FailureReason),
	})
}

func (r *Recorder) enqueue(row *Row) {
	row.EventID = uuid.NewString()
	row.RecordedAt = r.now()

	select {
	case <-r.done:
		return
	default:
	}
	select {
	case r.rows <- row:
	default:
		r.log.Warn().Str("kind", row.Kind).Str("state", row.State).Msg("History buffer full, dropping row")
	}
}

func (r *Recorder) loop() {
	defer close(r.stopped)
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	batch := make([]*Row, 0, r.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
		defer cancel()
		if err := r.repo.Insert(ctx, batch); err != nil {
			r.log.Error().Err(err).Int("rows", len(batch)).Msg("Failed to write history rows")
		}
		batch = make([]*Row, 0, r.batchSize)
	}

	for {
		select {
		case row := <-r.rows:
			batch = append(batch, row)
			if len(batch) >= r.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-r.done:
			for {
				select {
				case row := <-r.rows:
					batch = append(batch, row)
				default:
					flush()
					return
				}
			}
		}
	}
}

// Close flushes buffered rows and waits for the writer to stop.
func (r *Recorder) Close() {
	r.once.Do(func() { close(r.done) })
	<-r.stopped
}

var _ events.Listener = (*Recorder)(nil)
