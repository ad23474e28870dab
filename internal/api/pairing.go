package api

import (
	"encoding/json"
	"net/http"
)

// selectRequest is the body of the selection endpoints. An empty ID clears
// that side of the selection.
type selectRequest struct {
	ID string `json:"id"`
}

// handleGetPairing returns the live sets and the current selection.
func (s *Server) handleGetPairing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.reconciler.State())
}

func (s *Server) handleSelectVehicle(w http.ResponseWriter, r *http.Request) {
	s.handleSelect(w, r, s.reconciler.SelectVehicle)
}

func (s *Server) handleSelectBeacon(w http.ResponseWriter, r *http.Request) {
	s.handleSelect(w, r, s.reconciler.SelectBeacon)
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request, selectFn func(string) error) {
	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if err := selectFn(req.ID); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.reconciler.Selection())
}

// handleClearSelection empties both sides of the selection.
func (s *Server) handleClearSelection(w http.ResponseWriter, _ *http.Request) {
	s.reconciler.ClearSelection()
	w.WriteHeader(http.StatusNoContent)
}

// handleConfirmPairing pairs the selected vehicle and beacon.
func (s *Server) handleConfirmPairing(w http.ResponseWriter, r *http.Request) {
	res, err := s.reconciler.Confirm(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
