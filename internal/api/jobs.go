package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/tagpool/internal/model"
	"github.com/seantiz/tagpool/internal/pool"
	"github.com/seantiz/tagpool/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 8 << 20 // 8 MB
)

// submitJobResponse is the JSON response for POST /v1/jobs.
type submitJobResponse struct {
	ID          string       `json:"id"`
	Kind        model.OpKind `json:"kind"`
	Status      string       `json:"status"`
	SubmittedAt time.Time    `json:"submitted_at"`
}

// listJobsResponse wraps the paginated list response.
type listJobsResponse struct {
	Jobs   []*model.JobRecord `json:"jobs"`
	Total  int                `json:"total"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

// handleSubmitJob accepts {"kind": ..., "args": {...}} and queues the
// operation on the pool.
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req model.Envelope
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		recordSubmission(kindUnknown, submitRejected)
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.Kind == "" {
		recordSubmission(kindUnknown, submitRejected)
		s.writeError(w, http.StatusBadRequest, "kind is required")
		return
	}
	if len(req.Args) == 0 {
		req.Args = json.RawMessage("{}")
	}

	op, err := model.DecodeOperation(req)
	if err != nil {
		recordSubmission(req.Kind, submitRejected)
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := s.pool.Submit(op)
	switch {
	case errors.Is(err, pool.ErrPoolStopped):
		recordSubmission(op.Kind(), submitUnavailable)
		s.writeError(w, http.StatusServiceUnavailable, "pool is stopped")
		return
	case errors.Is(err, pool.ErrInvalidOperation):
		recordSubmission(op.Kind(), submitRejected)
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		recordSubmission(op.Kind(), submitUnavailable)
		s.logger.Error("submit job", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to submit job")
		return
	}

	recordSubmission(op.Kind(), submitAccepted)
	s.jobs.add(job)

	w.Header().Set("Location", "/v1/jobs/"+job.ID())
	s.writeJSON(w, http.StatusAccepted, submitJobResponse{
		ID:          job.ID(),
		Kind:        op.Kind(),
		Status:      jobStatus(job),
		SubmittedAt: job.SubmittedAt(),
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := s.jobRecord(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("get job", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	jobs, total, err := s.store.ListJobs(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list jobs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	if jobs == nil {
		jobs = []*model.JobRecord{}
	}

	s.writeJSON(w, http.StatusOK, listJobsResponse{
		Jobs:   jobs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// jobStatus reports the coarse status of a live job handle.
// jobRecord reads the journal, falling back to the live handle for a job
// whose submission has not been journaled yet.
func (s *Server) jobRecord(ctx context.Context, id string) (*model.JobRecord, error) {
	rec, err := s.store.GetJob(ctx, id)
	if !errors.Is(err, store.ErrNotFound) {
		return rec, err
	}
	job, ok := s.jobs.get(id)
	if !ok {
		return nil, err
	}
	return &model.JobRecord{
		ID:        id,
		Kind:      job.Operation().Kind(),
		Status:    jobStatus(job),
		CreatedAt: job.SubmittedAt().UTC(),
	}, nil
}

func jobStatus(job *pool.Job) string {
	if !job.Finished() {
		return model.StatusPending
	}
	if _, err := job.Result(); err != nil {
		return model.StatusFailed
	}
	return model.StatusCompleted
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
