package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/raterudder/indrav2h/pkg/entity"
	"github.com/raterudder/indrav2h/pkg/integration"
	"github.com/raterudder/indrav2h/pkg/log"
	"github.com/raterudder/indrav2h/pkg/storage"
)

type entryResponse struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	Available  bool      `json:"available"`
	State      string    `json:"state"`
	LastUpdate time.Time `json:"lastUpdate,omitzero"`
	LastError  string    `json:"lastError,omitempty"`
}

func newEntryResponse(e *integration.Entry) entryResponse {
	coord := e.Coordinator
	resp := entryResponse{
		ID:         e.ID,
		Email:      e.Email,
		Available:  coord.LastUpdateSuccess() && coord.Data() != nil,
		State:      coord.State().String(),
		LastUpdate: coord.LastUpdate(),
	}
	if err := coord.LastError(); err != nil {
		resp.LastError = err.Error()
	}
	return resp
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	entries := s.registry.Entries()
	resp := make([]entryResponse, len(entries))
	for i, e := range entries {
		resp[i] = newEntryResponse(e)
	}
	writeJSON(w, resp, http.StatusOK)
}

// entry returns the entry named in the path or writes a 404.
func (s *Server) entry(w http.ResponseWriter, r *http.Request) (*integration.Entry, bool) {
	id := r.PathValue("entryID")
	e, ok := s.registry.Entry(id)
	if !ok {
		log.Ctx(r.Context()).WarnContext(r.Context(), "entry not found", slog.String("entryID", id))
		writeJSONError(w, "entry not found", http.StatusNotFound)
		return nil, false
	}
	return e, true
}

type statesResponse struct {
	Device entity.ChargerDevice `json:"device"`
	States []entity.State       `json:"states"`
}

func (s *Server) handleEntryStates(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entry(w, r)
	if !ok {
		return
	}
	writeJSON(w, statesResponse{
		Device: e.Entities.Device,
		States: e.Entities.States(),
	}, http.StatusOK)
}

func (s *Server) handleEntrySnapshot(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entry(w, r)
	if !ok {
		return
	}
	snap := e.Coordinator.Data()
	if snap == nil {
		writeJSONError(w, "no data yet", http.StatusNotFound)
		return
	}
	writeJSON(w, snap, http.StatusOK)
}

func (s *Server) handleStoredSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("entryID")
	snap, err := s.storage.GetSnapshot(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrSnapshotNotFound) {
			writeJSONError(w, "snapshot not found", http.StatusNotFound)
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to get stored snapshot", slog.Any("error", err))
		writeJSONError(w, "failed to get stored snapshot", http.StatusInternalServerError)
		return
	}
	writeJSON(w, snap, http.StatusOK)
}

func (s *Server) handleSelectOption(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	e, ok := s.entry(w, r)
	if !ok {
		return
	}
	var req struct {
		Option string `json:"option"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request", http.StatusBadRequest)
		return
	}

	ctx = log.WithEntry(ctx, e.ID)
	email, _ := ctx.Value(emailContextKey).(string)
	log.Ctx(ctx).InfoContext(ctx, "selecting mode", slog.String("option", req.Option), slog.String("email", email))
	if err := e.Entities.Select.SelectOption(ctx, req.Option); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, e.Entities.Select.State(), http.StatusOK)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entry(w, r)
	if !ok {
		return
	}
	ctx := log.WithEntry(r.Context(), e.ID)
	if err := e.Coordinator.RequestRefresh(ctx); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, newEntryResponse(e), http.StatusAccepted)
}
