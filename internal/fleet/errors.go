package fleet

import "errors"

// Domain errors for the fleet package.
//
//	if errors.Is(err, fleet.ErrDuplicatePlate) {
//	    // ask for another plate
//	}
var (
	// ErrVehicleNotFound is returned when a vehicle ID does not exist.
	ErrVehicleNotFound = errors.New("fleet: vehicle not found")

	// ErrBeaconNotFound is returned when a beacon ID does not exist.
	ErrBeaconNotFound = errors.New("fleet: beacon not found")

	// ErrInvalidVehicle is returned when a required vehicle field is blank.
	ErrInvalidVehicle = errors.New("fleet: invalid vehicle")

	// ErrInvalidBeacon is returned when the beacon identification code is blank.
	ErrInvalidBeacon = errors.New("fleet: invalid beacon")

	// ErrDuplicatePlate is returned when another vehicle already has the plate.
	ErrDuplicatePlate = errors.New("fleet: plate already registered")

	// ErrDuplicateBeaconCode is returned when another beacon already has the code.
	ErrDuplicateBeaconCode = errors.New("fleet: beacon code already registered")
)
