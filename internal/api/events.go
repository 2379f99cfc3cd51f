package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/tagpool/internal/model"
	"github.com/seantiz/tagpool/internal/pool"
	"github.com/seantiz/tagpool/internal/store"
)

// eventPayload is the data of one SSE event on /v1/jobs/{id}/events.
type eventPayload struct {
	Type       pool.EventType `json:"type"`
	Time       time.Time      `json:"time"`
	JobID      string         `json:"job_id"`
	Kind       model.OpKind   `json:"kind,omitempty"`
	WorkerID   *int           `json:"worker_id,omitempty"`
	DurationMS int64          `json:"duration_ms,omitempty"`
	Lines      int            `json:"lines,omitempty"`
	Error      string         `json:"error,omitempty"`
}

func newEventPayload(e pool.Event) eventPayload {
	p := eventPayload{
		Type:       e.Type,
		Time:       e.Time,
		JobID:      e.JobID,
		Kind:       e.Kind,
		DurationMS: e.Duration.Milliseconds(),
		Lines:      e.Lines,
	}
	if e.WorkerID != pool.NoWorker {
		id := e.WorkerID
		p.WorkerID = &id
	}
	if e.Err != nil {
		p.Error = e.Err.Error()
	}
	return p
}

func terminalStatus(status string) bool {
	return status == model.StatusCompleted || status == model.StatusFailed
}

// handleStreamEvents streams a job's lifecycle events as SSE until the job
// finishes. The final event is always "done" carrying the journal record.
func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Subscribe before reading the journal so no event can fall between the
	// two. A job that finished in between yields a closed channel.
	ch, unsub := s.broker.Subscribe(id)
	defer unsub()

	rec, err := s.jobRecord(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.broker.Forget(id)
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("get job for events", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if terminalStatus(rec.Status) {
		if _, live := s.jobs.get(id); !live {
			s.broker.Forget(id)
		}
		w.WriteHeader(http.StatusOK)
		_ = writeSSEJSON(w, "done", rec)
		return
	}

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	eventStreams.Inc()
	defer eventStreams.Dec()

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	if canFlush {
		flusher.Flush()
	}

	for {
		select {
		case e, ok := <-ch:
			if !ok {
				s.writeDone(w, r, id)
				if canFlush {
					flusher.Flush()
				}
				return
			}
			if err := writeSSEJSON(w, string(e.Type), newEventPayload(e)); err != nil {
				return // Write failed (e.g. client gone).
			}
			if canFlush {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return // Client disconnected.
		}
	}
}

// writeDone sends the closing event with the job's final journal record.
func (s *Server) writeDone(w http.ResponseWriter, r *http.Request, id string) {
	rec, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		_ = writeSSEEvent(w, "done", "stream complete")
		return
	}
	_ = writeSSEJSON(w, "done", rec)
}

func writeSSEJSON(w http.ResponseWriter, eventType string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return writeSSEEvent(w, eventType, string(data))
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}
