package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/GuLopes14/echobeacon-core/internal/audit"
	"github.com/GuLopes14/echobeacon-core/internal/command"
	"github.com/GuLopes14/echobeacon-core/internal/fleet"
	"github.com/GuLopes14/echobeacon-core/internal/infrastructure/mqtt"
	"github.com/GuLopes14/echobeacon-core/internal/pairing"
)

// Error represents a structured error response.
type Error struct {
	Status  int            `json:"status"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Common error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeUnauthorized   = "unauthorised"
	ErrCodeConflict       = "conflict"
	ErrCodeInternal       = "internal_error"
	ErrCodeValidation     = "validation_error"
	ErrCodeTransport      = "transport_error"
	ErrCodeInconsistent   = "inconsistent_state"
	ErrCodeNotReady       = "not_ready"
	ErrCodeMethodNotAllow = "method_not_allowed"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDomainError maps an error from the domain packages to a response.
// Unknown errors become a 500 with a generic message and are logged.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	var inconsistent *pairing.InconsistencyError
	var invalid *pairing.ValidationError

	switch {
	case errors.As(err, &inconsistent):
		writeJSON(w, http.StatusConflict, Error{
			Status:  http.StatusConflict,
			Code:    ErrCodeInconsistent,
			Message: err.Error(),
			Details: map[string]any{
				"operation": inconsistent.Operation,
				"completed": inconsistent.Completed,
				"failed":    inconsistent.Failed,
			},
		})
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusBadRequest, Error{
			Status:  http.StatusBadRequest,
			Code:    ErrCodeValidation,
			Message: err.Error(),
			Details: map[string]any{"field": invalid.Field},
		})
	case errors.Is(err, fleet.ErrVehicleNotFound), errors.Is(err, fleet.ErrBeaconNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, fleet.ErrDuplicatePlate), errors.Is(err, fleet.ErrDuplicateBeaconCode):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, fleet.ErrInvalidVehicle),
		errors.Is(err, fleet.ErrInvalidBeacon),
		errors.Is(err, command.ErrNoBeacon),
		errors.Is(err, audit.ErrInvalidDirection),
		errors.Is(err, mqtt.ErrInvalidTopic),
		errors.Is(err, mqtt.ErrInvalidOptions):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, pairing.ErrNotStarted):
		writeError(w, http.StatusServiceUnavailable, ErrCodeNotReady, err.Error())
	case errors.Is(err, mqtt.ErrTransport):
		writeError(w, http.StatusBadGateway, ErrCodeTransport, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		writeInternalError(w, "internal server error")
	}
}
