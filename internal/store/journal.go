package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/seantiz/tagpool/internal/model"
	"github.com/seantiz/tagpool/internal/pool"
)

// DefaultJournalTimeout bounds each journal write.
const DefaultJournalTimeout = 5 * time.Second

// Journal is a pool.Observer that records job lifecycle events in a Store.
//
// Writes happen in event order on one background goroutine, so observing a
// submission or a start never waits on the store. A finished or failed event
// blocks until it has been written: once a job's waiters wake, its record is
// terminal. Write failures are logged and never affect the job itself.
type Journal struct {
	store   Store
	logger  *slog.Logger
	timeout time.Duration

	mu      sync.Mutex
	pending []journalEntry
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

// journalEntry is one queued event. written, when set, is closed once the
// entry has been handled. An entry without a job id is a flush barrier.
type journalEntry struct {
	event   pool.Event
	written chan struct{}
}

var _ pool.Observer = (*Journal)(nil)

// NewJournal returns a Journal writing to s and starts its writer. Close
// stops it.
func NewJournal(s Store, logger *slog.Logger) *Journal {
	j := &Journal{
		store:   s,
		logger:  logger,
		timeout: DefaultJournalTimeout,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go j.run()
	return j
}

// Observe implements pool.Observer.
func (j *Journal) Observe(e pool.Event) {
	if e.JobID == "" {
		return
	}

	entry := journalEntry{event: e}
	switch e.Type {
	case pool.EventJobSubmitted, pool.EventJobStarted:
	case pool.EventJobFinished, pool.EventJobFailed:
		entry.written = make(chan struct{})
	default:
		return
	}

	if !j.enqueue(entry) {
		j.write(e)
		return
	}
	if entry.written != nil {
		<-entry.written
	}
}

// Flush waits until every event observed so far has been written.
func (j *Journal) Flush() {
	entry := journalEntry{written: make(chan struct{})}
	if j.enqueue(entry) {
		<-entry.written
	}
}

// Close writes the queued events and stops the writer. Events observed
// afterwards are written synchronously.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	j.mu.Unlock()

	j.signal()
	<-j.done
	return nil
}

func (j *Journal) enqueue(entry journalEntry) bool {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return false
	}
	j.pending = append(j.pending, entry)
	j.mu.Unlock()

	j.signal()
	return true
}

func (j *Journal) signal() {
	select {
	case j.wake <- struct{}{}:
	default:
	}
}

func (j *Journal) run() {
	defer close(j.done)

	for {
		j.mu.Lock()
		batch := j.pending
		j.pending = nil
		closed := j.closed
		j.mu.Unlock()

		for _, entry := range batch {
			if entry.event.JobID != "" {
				j.write(entry.event)
			}
			if entry.written != nil {
				close(entry.written)
			}
		}

		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-j.wake
	}
}

func (j *Journal) write(e pool.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	var err error
	switch e.Type {
	case pool.EventJobSubmitted:
		err = j.store.CreateJob(ctx, &model.JobRecord{
			ID:        e.JobID,
			Kind:      e.Kind,
			Status:    model.StatusPending,
			CreatedAt: e.Time.UTC(),
		})
	case pool.EventJobStarted:
		err = j.store.MarkStarted(ctx, e.JobID, e.WorkerID, e.Time)
	case pool.EventJobFinished:
		err = j.store.MarkFinished(ctx, e.JobID, Finish{
			Status:     model.StatusCompleted,
			LineCount:  e.Lines,
			DurationMS: int(e.Duration.Milliseconds()),
			At:         e.Time,
		})
	case pool.EventJobFailed:
		res := Finish{
			Status:     model.StatusFailed,
			DurationMS: int(e.Duration.Milliseconds()),
			At:         e.Time,
		}
		if e.Err != nil {
			res.Error = e.Err.Error()
		}
		err = j.store.MarkFinished(ctx, e.JobID, res)
	}

	if err != nil {
		j.logger.Error("journal job event",
			"job_id", e.JobID,
			"event", string(e.Type),
			"error", err,
		)
	}
}
