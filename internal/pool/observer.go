package pool

import (
	"context"
	"log/slog"
	"time"

	"github.com/seantiz/tagpool/internal/model"
)

// EventType names a pool lifecycle event.
type EventType string

// Event types.
const (
	EventJobSubmitted    EventType = "job_submitted"
	EventJobStarted      EventType = "job_started"
	EventJobFinished     EventType = "job_finished"
	EventJobFailed       EventType = "job_failed"
	EventWorkerStarted   EventType = "worker_started"
	EventWorkerRestarted EventType = "worker_restarted"
	EventWorkerExited    EventType = "worker_exited"
	EventPoolStopping    EventType = "pool_stopping"
	EventPoolStopped     EventType = "pool_stopped"
	EventProtocolError   EventType = "protocol_error"
)

// NoWorker is the WorkerID of events not tied to a worker.
const NoWorker = -1

// Event describes something that happened in a pool. Fields that do not apply
// to the event type are zero, except WorkerID which is NoWorker.
type Event struct {
	Type     EventType     `json:"type"`
	Time     time.Time     `json:"time"`
	JobID    string        `json:"job_id,omitempty"`
	Kind     model.OpKind  `json:"kind,omitempty"`
	WorkerID int           `json:"worker_id"`
	Duration time.Duration `json:"duration_ns,omitempty"`
	Lines    int           `json:"lines,omitempty"`
	Pending  int           `json:"pending,omitempty"`
	Err      error         `json:"-"`
}

// Terminal reports whether the event ends a job's lifecycle.
func (e Event) Terminal() bool {
	return e.Type == EventJobFinished || e.Type == EventJobFailed
}

// Observer receives pool events. Observe is called synchronously from
// submitting goroutines, workers and the router, so implementations must be
// safe for concurrent use and return quickly.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

type multiObserver []Observer

func (m multiObserver) Observe(e Event) {
	for _, o := range m {
		o.Observe(e)
	}
}

// Observers fans each event out to every non-nil observer in order.
func Observers(obs ...Observer) Observer {
	var m multiObserver
	for _, o := range obs {
		if o != nil {
			m = append(m, o)
		}
	}
	return m
}

// LogObserver logs events with logger. Job progress goes to debug, failures
// to warn, protocol errors to error, and everything else to info.
func LogObserver(logger *slog.Logger) Observer {
	return ObserverFunc(func(e Event) {
		attrs := make([]slog.Attr, 0, 6)
		if e.JobID != "" {
			attrs = append(attrs, slog.String("job_id", e.JobID), slog.String("kind", string(e.Kind)))
		}
		if e.WorkerID != NoWorker {
			attrs = append(attrs, slog.Int("worker_id", e.WorkerID))
		}

		level := slog.LevelInfo
		switch e.Type {
		case EventJobSubmitted, EventJobStarted:
			level = slog.LevelDebug
		case EventJobFinished:
			level = slog.LevelDebug
			attrs = append(attrs, slog.Int64("duration_ms", e.Duration.Milliseconds()), slog.Int("lines", e.Lines))
		case EventJobFailed:
			level = slog.LevelWarn
			attrs = append(attrs, slog.Int64("duration_ms", e.Duration.Milliseconds()))
		case EventProtocolError:
			level = slog.LevelError
		case EventPoolStopping:
			attrs = append(attrs, slog.Int("pending", e.Pending))
		}
		if e.Err != nil {
			attrs = append(attrs, slog.String("error", e.Err.Error()))
		}

		logger.LogAttrs(context.Background(), level, string(e.Type), attrs...)
	})
}
