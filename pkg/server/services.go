package server

import (
	"encoding/json"
	"net/http"

	"github.com/raterudder/indrav2h/pkg/integration"
)

// Service calls always answer 200 once dispatched; their failures only show
// in the logs.

func (s *Server) decodeServiceCall(w http.ResponseWriter, r *http.Request) (integration.ServiceCall, bool) {
	var call integration.ServiceCall
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
		writeJSONError(w, "invalid request", http.StatusBadRequest)
		return call, false
	}
	return call, true
}

func (s *Server) handleSetModeService(w http.ResponseWriter, r *http.Request) {
	call, ok := s.decodeServiceCall(w, r)
	if !ok {
		return
	}
	s.registry.SetModeService(r.Context(), call)
	writeJSON(w, struct{}{}, http.StatusOK)
}

func (s *Server) handleSetScheduleService(w http.ResponseWriter, r *http.Request) {
	call, ok := s.decodeServiceCall(w, r)
	if !ok {
		return
	}
	s.registry.SetScheduleService(r.Context(), call)
	writeJSON(w, struct{}{}, http.StatusOK)
}
