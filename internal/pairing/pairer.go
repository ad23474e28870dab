package pairing

import (
	"context"
	"errors"
	"fmt"

	"github.com/GuLopes14/echobeacon-core/internal/fleet"
	"github.com/GuLopes14/echobeacon-core/internal/metrics"
	"github.com/GuLopes14/echobeacon-core/internal/store"
)

// Operation names used in errors and metrics.
const (
	OperationPair   = "pair"
	OperationRemove = "remove"
)

// Result is the outcome of a successful pairing.
type Result struct {
	VehicleID  string `json:"vehicleId"`
	BeaconID   string `json:"beaconId"`
	BeaconCode string `json:"beaconCode"`

	// Atomic is true when both writes were committed in one transaction.
	Atomic bool `json:"atomic"`
}

// Pairer links vehicles to beacons and removes vehicles.
//
// When the store implements store.Transactor both writes of an operation
// are committed together. Otherwise they are applied in order and a
// failure of the second is reported as an *InconsistencyError.
type Pairer struct {
	store store.Store
	tx    store.Transactor
}

// NewPairer creates a pairer on s.
func NewPairer(s store.Store) *Pairer {
	p := &Pairer{store: s}
	if tx, ok := s.(store.Transactor); ok {
		p.tx = tx
	}
	return p
}

// Pair attaches the selected beacon to the selected vehicle.
func (p *Pairer) Pair(ctx context.Context, sel Selection) (Result, error) {
	res, err := p.pair(ctx, sel)
	metrics.PairingOperations.WithLabelValues(OperationPair, resultLabel(err)).Inc()
	return res, err
}

func (p *Pairer) pair(ctx context.Context, sel Selection) (Result, error) {
	if sel.VehicleID == "" {
		return Result{}, missing(FieldVehicle)
	}
	if sel.BeaconID == "" {
		return Result{}, missing(FieldBeacon)
	}

	if p.tx != nil {
		var res Result
		err := p.tx.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
			var err error
			res, err = pairWrites(ctx, tx, sel, nil)
			return err
		})
		if err != nil {
			return Result{}, err
		}
		res.Atomic = true
		return res, nil
	}

	return pairWrites(ctx, p.store, sel, func(err error) error {
		return &InconsistencyError{
			Operation: OperationPair,
			Completed: "vehicle " + sel.VehicleID + " linked",
			Failed:    "beacon " + sel.BeaconID + " update",
			Err:       err,
		}
	})
}

// writer is satisfied by store.Store and store.Tx.
type writer interface {
	Get(ctx context.Context, collection, id string) (store.Document, error)
	Update(ctx context.Context, collection, id string, fields map[string]any) error
	Delete(ctx context.Context, collection, id string) error
}

// pairWrites checks both records and applies the vehicle write then the
// beacon write. partial wraps a beacon write failure; nil returns it as is.
func pairWrites(ctx context.Context, w writer, sel Selection, partial func(error) error) (Result, error) {
	vdoc, err := w.Get(ctx, fleet.CollectionVehicles, sel.VehicleID)
	if err != nil {
		return Result{}, notFound(err, fleet.ErrVehicleNotFound)
	}
	bdoc, err := w.Get(ctx, fleet.CollectionBeacons, sel.BeaconID)
	if err != nil {
		return Result{}, notFound(err, fleet.ErrBeaconNotFound)
	}

	vehicle := fleet.VehicleFromDocument(vdoc)
	beacon := fleet.BeaconFromDocument(bdoc)
	if vehicle.Status != fleet.StatusReception || vehicle.HasBeacon() {
		return Result{}, &ValidationError{Field: FieldVehicle, Reason: "is not waiting for a beacon"}
	}
	if !beacon.Available {
		return Result{}, &ValidationError{Field: FieldBeacon, Reason: "is not available"}
	}

	if err := w.Update(ctx, fleet.CollectionVehicles, vehicle.ID, map[string]any{
		fleet.FieldStatus:     string(fleet.StatusYard),
		fleet.FieldBeaconID:   beacon.ID,
		fleet.FieldBeaconCode: beacon.Code,
	}); err != nil {
		return Result{}, fmt.Errorf("linking vehicle %s: %w", vehicle.ID, err)
	}

	if err := w.Update(ctx, fleet.CollectionBeacons, beacon.ID, map[string]any{
		fleet.FieldAvailable: false,
		fleet.FieldVehicleID: vehicle.ID,
	}); err != nil {
		if partial != nil {
			return Result{}, partial(err)
		}
		return Result{}, fmt.Errorf("reserving beacon %s: %w", beacon.ID, err)
	}

	return Result{VehicleID: vehicle.ID, BeaconID: beacon.ID, BeaconCode: beacon.Code}, nil
}

// RemoveVehicle releases the vehicle's beacon and deletes the vehicle.
// If the release fails nothing is deleted.
func (p *Pairer) RemoveVehicle(ctx context.Context, vehicleID string) error {
	err := p.removeVehicle(ctx, vehicleID)
	metrics.PairingOperations.WithLabelValues(OperationRemove, resultLabel(err)).Inc()
	return err
}

func (p *Pairer) removeVehicle(ctx context.Context, vehicleID string) error {
	if vehicleID == "" {
		return missing(FieldVehicle)
	}

	if p.tx != nil {
		return p.tx.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
			return removeWrites(ctx, tx, vehicleID, nil)
		})
	}
	return removeWrites(ctx, p.store, vehicleID, func(beaconID string, err error) error {
		return &InconsistencyError{
			Operation: OperationRemove,
			Completed: "beacon " + beaconID + " released",
			Failed:    "vehicle " + vehicleID + " delete",
			Err:       err,
		}
	})
}

func removeWrites(ctx context.Context, w writer, vehicleID string, partial func(string, error) error) error {
	vdoc, err := w.Get(ctx, fleet.CollectionVehicles, vehicleID)
	if err != nil {
		return notFound(err, fleet.ErrVehicleNotFound)
	}
	vehicle := fleet.VehicleFromDocument(vdoc)

	released := false
	if vehicle.HasBeacon() {
		err := w.Update(ctx, fleet.CollectionBeacons, vehicle.BeaconID, map[string]any{
			fleet.FieldAvailable: true,
			fleet.FieldVehicleID: store.DeleteField,
		})
		switch {
		case err == nil:
			released = true
		case errors.Is(err, store.ErrNotFound):
			// Beacon already gone; nothing to release.
		default:
			return fmt.Errorf("releasing beacon %s: %w", vehicle.BeaconID, err)
		}
	}

	if err := w.Delete(ctx, fleet.CollectionVehicles, vehicleID); err != nil {
		if released && partial != nil {
			return partial(vehicle.BeaconID, err)
		}
		return fmt.Errorf("deleting vehicle %s: %w", vehicleID, err)
	}
	return nil
}

func notFound(err, domain error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %w", domain, err)
	}
	return err
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrInconsistent):
		return "inconsistent"
	default:
		return "failed"
	}
}
