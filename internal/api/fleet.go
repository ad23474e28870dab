package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/GuLopes14/echobeacon-core/internal/command"
	"github.com/GuLopes14/echobeacon-core/internal/fleet"
)

// handleListVehicles returns every vehicle.
func (s *Server) handleListVehicles(w http.ResponseWriter, r *http.Request) {
	vehicles, err := s.fleet.ListVehicles(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"vehicles": vehicles,
		"count":    len(vehicles),
	})
}

// handleCreateVehicle registers a vehicle in reception.
func (s *Server) handleCreateVehicle(w http.ResponseWriter, r *http.Request) {
	var in fleet.VehicleInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	v, err := s.fleet.RegisterVehicle(r.Context(), in)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.logger.Info("vehicle registered", "vehicle_id", v.ID, "plate", v.Plate)
	writeJSON(w, http.StatusCreated, v)
}

func (s *Server) handleGetVehicle(w http.ResponseWriter, r *http.Request) {
	v, err := s.fleet.GetVehicle(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// handleUpdateVehicle replaces the editable fields of a vehicle.
func (s *Server) handleUpdateVehicle(w http.ResponseWriter, r *http.Request) {
	var in fleet.VehicleInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	v, err := s.fleet.UpdateVehicle(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// handleDeleteVehicle releases the vehicle's beacon and removes the vehicle.
func (s *Server) handleDeleteVehicle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.pairer.RemoveVehicle(r.Context(), id); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.logger.Info("vehicle removed", "vehicle_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// handleLocateVehicle sends the activate command to the vehicle's beacon.
func (s *Server) handleLocateVehicle(w http.ResponseWriter, r *http.Request) {
	v, err := s.fleet.GetVehicle(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if err := s.publisher.Locate(v); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"vehicle_id":  v.ID,
		"beacon_code": v.BeaconCode,
		"command":     command.ActionActivate,
	})
}

// beaconRequest is the body of POST /beacons.
type beaconRequest struct {
	Code string `json:"codigo"`
}

// handleListBeacons returns every beacon.
func (s *Server) handleListBeacons(w http.ResponseWriter, r *http.Request) {
	beacons, err := s.fleet.ListBeacons(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"beacons": beacons,
		"count":   len(beacons),
	})
}

// handleCreateBeacon registers an available beacon.
func (s *Server) handleCreateBeacon(w http.ResponseWriter, r *http.Request) {
	var req beaconRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	b, err := s.fleet.RegisterBeacon(r.Context(), req.Code)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.logger.Info("beacon registered", "beacon_id", b.ID, "code", b.Code)
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleGetBeacon(w http.ResponseWriter, r *http.Request) {
	b, err := s.fleet.GetBeacon(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}
