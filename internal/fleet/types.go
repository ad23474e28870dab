package fleet

import (
	"fmt"
	"strings"
	"time"

	"github.com/GuLopes14/echobeacon-core/internal/store"
)

// Collections.
const (
	CollectionVehicles = "motos"
	CollectionBeacons  = "echobeacons"
)

// Stored field names.
const (
	FieldModel      = "modelo"
	FieldPlate      = "placa"
	FieldChassis    = "chassi"
	FieldProblem    = "problema"
	FieldStatus     = "status"
	FieldBeaconID   = "echoBeaconId"
	FieldBeaconCode = "echoBeaconCodigo"
	FieldCreatedAt  = "createdAt"

	FieldCode      = "codigo"
	FieldAvailable = "disponivel"
	FieldVehicleID = "motoId"
)

// VehicleStatus is where a vehicle is in the yard workflow.
type VehicleStatus string

// Vehicle statuses.
const (
	// StatusReception is a vehicle waiting for a beacon.
	StatusReception VehicleStatus = "recepcao"

	// StatusYard is a vehicle with a beacon, parked in the yard.
	StatusYard VehicleStatus = "patio"
)

// Vehicle is a motorcycle tracked in the yard.
type Vehicle struct {
	ID         string        `json:"id"`
	Model      string        `json:"modelo"`
	Plate      string        `json:"placa"`
	Chassis    string        `json:"chassi"`
	Problem    string        `json:"problema"`
	Status     VehicleStatus `json:"status"`
	BeaconID   string        `json:"echoBeaconId,omitempty"`
	BeaconCode string        `json:"echoBeaconCodigo,omitempty"`
	CreatedAt  time.Time     `json:"createdAt"`
}

// HasBeacon reports whether a beacon is attached.
func (v Vehicle) HasBeacon() bool {
	return v.BeaconID != ""
}

// VehicleFromDocument converts a stored document.
func VehicleFromDocument(doc store.Document) Vehicle {
	created := doc.Time(FieldCreatedAt)
	if created.IsZero() {
		created = doc.CreatedAt
	}
	return Vehicle{
		ID:         doc.ID,
		Model:      doc.String(FieldModel),
		Plate:      doc.String(FieldPlate),
		Chassis:    doc.String(FieldChassis),
		Problem:    doc.String(FieldProblem),
		Status:     VehicleStatus(doc.String(FieldStatus)),
		BeaconID:   doc.String(FieldBeaconID),
		BeaconCode: doc.String(FieldBeaconCode),
		CreatedAt:  created,
	}
}

// Beacon is a tracking tag that can be attached to one vehicle.
type Beacon struct {
	ID        string    `json:"id"`
	Code      string    `json:"codigo"`
	Available bool      `json:"disponivel"`
	VehicleID string    `json:"motoId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// BeaconFromDocument converts a stored document.
func BeaconFromDocument(doc store.Document) Beacon {
	created := doc.Time(FieldCreatedAt)
	if created.IsZero() {
		created = doc.CreatedAt
	}
	return Beacon{
		ID:        doc.ID,
		Code:      doc.String(FieldCode),
		Available: doc.Bool(FieldAvailable),
		VehicleID: doc.String(FieldVehicleID),
		CreatedAt: created,
	}
}

// VehicleInput holds the user-editable vehicle fields.
type VehicleInput struct {
	Model   string `json:"modelo"`
	Plate   string `json:"placa"`
	Chassis string `json:"chassi"`
	Problem string `json:"problema"`
}

// Normalize trims every field and upper-cases the plate.
func (in VehicleInput) Normalize() VehicleInput {
	return VehicleInput{
		Model:   strings.TrimSpace(in.Model),
		Plate:   strings.ToUpper(strings.TrimSpace(in.Plate)),
		Chassis: strings.TrimSpace(in.Chassis),
		Problem: strings.TrimSpace(in.Problem),
	}
}

// Validate checks that every field is present after trimming.
func (in VehicleInput) Validate() error {
	n := in.Normalize()
	for _, f := range []struct{ name, value string }{
		{FieldModel, n.Model},
		{FieldPlate, n.Plate},
		{FieldChassis, n.Chassis},
		{FieldProblem, n.Problem},
	} {
		if f.value == "" {
			return fmt.Errorf("%w: %s is required", ErrInvalidVehicle, f.name)
		}
	}
	return nil
}

func (in VehicleInput) fields() map[string]any {
	return map[string]any{
		FieldModel:   in.Model,
		FieldPlate:   in.Plate,
		FieldChassis: in.Chassis,
		FieldProblem: in.Problem,
	}
}

// AvailableVehiclesQuery selects vehicles waiting for a beacon.
func AvailableVehiclesQuery() store.Query {
	return store.Query{
		Collection: CollectionVehicles,
		Where:      []store.Filter{{Field: FieldStatus, Value: string(StatusReception)}},
	}
}

// AvailableBeaconsQuery selects beacons not attached to a vehicle.
func AvailableBeaconsQuery() store.Query {
	return store.Query{
		Collection: CollectionBeacons,
		Where:      []store.Filter{{Field: FieldAvailable, Value: true}},
	}
}
