package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/tagpool/internal/model"
	"github.com/seantiz/tagpool/internal/pool"
	"github.com/seantiz/tagpool/internal/store"
)

// maxResultWait caps ?wait= so a long poll ends before the write timeout.
const maxResultWait = 25 * time.Second

// resultResponse is the JSON response for GET /v1/jobs/{id}/result.
type resultResponse struct {
	ID      string       `json:"id"`
	Kind    model.OpKind `json:"kind"`
	Status  string       `json:"status"`
	Lines   []string     `json:"lines,omitempty"`
	OutPath string       `json:"out_path,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// handleGetResult returns a job's output once it has finished. With
// ?wait=<duration> it blocks up to that long for the job to finish. A
// finished result is handed out once and then released.
func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var wait time.Duration
	if v := r.URL.Query().Get("wait"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid wait duration")
			return
		}
		wait = min(d, maxResultWait)
	}

	job, ok := s.jobs.get(id)
	if !ok {
		s.writeMissingResult(w, r, id)
		return
	}

	if wait > 0 && !job.Finished() {
		ctx, cancel := context.WithTimeout(r.Context(), wait)
		defer cancel()
		start := time.Now()
		_ = job.WaitContext(ctx)
		resultWait.Observe(time.Since(start).Seconds())
	}

	resp := resultResponse{ID: id, Kind: job.Operation().Kind(), Status: model.StatusPending}
	if !job.Finished() {
		recordFetch(fetchPending)
		s.writeJSON(w, http.StatusAccepted, resp)
		return
	}

	out, err := job.Result()
	if err != nil {
		resp.Status = model.StatusFailed
		resp.Error = err.Error()
	} else {
		resp.Status = model.StatusCompleted
		resp.Lines = out.Lines
		resp.OutPath = out.OutPath
	}

	s.jobs.remove(id)
	s.broker.Forget(id)

	recordFetch(fetchReady)
	s.writeJSON(w, http.StatusOK, resp)
}

// writeMissingResult distinguishes jobs that never existed from jobs whose
// result was already collected or expired.
func (s *Server) writeMissingResult(w http.ResponseWriter, r *http.Request, id string) {
	_, err := s.store.GetJob(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		recordFetch(fetchNotFound)
		s.writeError(w, http.StatusNotFound, "job not found")
	case err != nil:
		s.logger.Error("get job for result", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get job")
	default:
		recordFetch(fetchGone)
		s.writeError(w, http.StatusGone, "result no longer available")
	}
}

// liveJobs holds job handles whose results have not been collected yet.
type liveJobs struct {
	mu   sync.Mutex
	jobs map[string]*liveJob
}

type liveJob struct {
	job *pool.Job
	// doneSeen is when a sweep first saw the job finished.
	doneSeen time.Time
}

func newLiveJobs() *liveJobs {
	return &liveJobs{jobs: make(map[string]*liveJob)}
}

func (l *liveJobs) add(job *pool.Job) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.jobs[job.ID()] = &liveJob{job: job}
}

func (l *liveJobs) get(id string) (*pool.Job, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lj, ok := l.jobs[id]
	if !ok {
		return nil, false
	}
	return lj.job, true
}

func (l *liveJobs) remove(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.jobs, id)
}

func (l *liveJobs) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.jobs)
}

// sweep drops finished jobs that have been held longer than retention and
// returns their ids.
func (l *liveJobs) sweep(now time.Time, retention time.Duration) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var expired []string
	for id, lj := range l.jobs {
		if !lj.job.Finished() {
			continue
		}
		if lj.doneSeen.IsZero() {
			lj.doneSeen = now
		}
		if now.Sub(lj.doneSeen) >= retention {
			delete(l.jobs, id)
			expired = append(expired, id)
		}
	}
	return expired
}
