package api

import "net/http"

type backendsResponse struct {
	Backends []string `json:"backends"`
}

func (s *Server) handleListBackends(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, backendsResponse{Backends: s.registry.List()})
}
