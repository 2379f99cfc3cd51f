package api

import (
	"net/http"
)

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	Total         int            `json:"total"`
	ByStatus      map[string]int `json:"by_status"`
	ByKind        map[string]int `json:"by_kind"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
	TotalLines    int            `json:"total_lines"`
	Pending       int            `json:"pending"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetJobStats(r.Context())
	if err != nil {
		s.logger.Error("get job stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		Total:         stats.Total,
		ByStatus:      stats.CountByStatus,
		ByKind:        stats.CountByKind,
		AvgDurationMS: stats.AvgDurationMS,
		TotalLines:    stats.TotalLines,
		Pending:       s.pool.Pending(),
	})
}

// poolResponse is the JSON response for GET /v1/pool.
type poolResponse struct {
	Strategy    string `json:"strategy"`
	Workers     int    `json:"workers"`
	Pending     int    `json:"pending"`
	Stopped     bool   `json:"stopped"`
	HeldResults int    `json:"held_results"`
}

func (s *Server) handleGetPool(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, poolResponse{
		Strategy:    s.pool.Strategy(),
		Workers:     s.pool.Workers(),
		Pending:     s.pool.Pending(),
		Stopped:     s.pool.Stopped(),
		HeldResults: s.jobs.len(),
	})
}
