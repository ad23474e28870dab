package fleet

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/GuLopes14/echobeacon-core/internal/store"
)

// Repository registers and reads vehicles and beacons.
//
// Uniqueness of plates and beacon codes is checked with a query before the
// write, so two concurrent registrations of the same value can both succeed.
type Repository struct {
	store store.Store
}

// NewRepository creates a repository on s.
func NewRepository(s store.Store) *Repository {
	return &Repository{store: s}
}

// RegisterVehicle stores a new vehicle in StatusReception.
func (r *Repository) RegisterVehicle(ctx context.Context, in VehicleInput) (Vehicle, error) {
	if err := in.Validate(); err != nil {
		return Vehicle{}, err
	}
	in = in.Normalize()

	if err := r.checkPlateFree(ctx, in.Plate, ""); err != nil {
		return Vehicle{}, err
	}

	fields := in.fields()
	fields[FieldStatus] = string(StatusReception)
	fields[FieldCreatedAt] = store.ServerTimestamp

	id, err := r.store.Add(ctx, CollectionVehicles, fields)
	if err != nil {
		return Vehicle{}, fmt.Errorf("registering vehicle: %w", err)
	}
	return r.GetVehicle(ctx, id)
}

// UpdateVehicle replaces the editable fields of a vehicle. Status and
// beacon assignment are not touched.
func (r *Repository) UpdateVehicle(ctx context.Context, id string, in VehicleInput) (Vehicle, error) {
	if err := in.Validate(); err != nil {
		return Vehicle{}, err
	}
	in = in.Normalize()

	current, err := r.GetVehicle(ctx, id)
	if err != nil {
		return Vehicle{}, err
	}
	if !strings.EqualFold(current.Plate, in.Plate) {
		if err := r.checkPlateFree(ctx, in.Plate, id); err != nil {
			return Vehicle{}, err
		}
	}

	if err := r.store.Update(ctx, CollectionVehicles, id, in.fields()); err != nil {
		return Vehicle{}, fmt.Errorf("updating vehicle %s: %w", id, mapNotFound(err, ErrVehicleNotFound))
	}
	return r.GetVehicle(ctx, id)
}

func (r *Repository) checkPlateFree(ctx context.Context, plate, exceptID string) error {
	docs, err := r.store.Find(ctx, store.Query{
		Collection: CollectionVehicles,
		Where:      []store.Filter{{Field: FieldPlate, Value: plate}},
	})
	if err != nil {
		return fmt.Errorf("checking plate %q: %w", plate, err)
	}
	for _, d := range docs {
		if d.ID != exceptID {
			return fmt.Errorf("%w: %s", ErrDuplicatePlate, plate)
		}
	}
	return nil
}

// GetVehicle returns one vehicle.
func (r *Repository) GetVehicle(ctx context.Context, id string) (Vehicle, error) {
	doc, err := r.store.Get(ctx, CollectionVehicles, id)
	if err != nil {
		return Vehicle{}, mapNotFound(err, ErrVehicleNotFound)
	}
	return VehicleFromDocument(doc), nil
}

// ListVehicles returns every vehicle, oldest first.
func (r *Repository) ListVehicles(ctx context.Context) ([]Vehicle, error) {
	docs, err := r.store.Find(ctx, store.Query{Collection: CollectionVehicles})
	if err != nil {
		return nil, fmt.Errorf("listing vehicles: %w", err)
	}
	vehicles := make([]Vehicle, 0, len(docs))
	for _, d := range docs {
		vehicles = append(vehicles, VehicleFromDocument(d))
	}
	return vehicles, nil
}

// RegisterBeacon stores a new available beacon with the given identification code.
func (r *Repository) RegisterBeacon(ctx context.Context, code string) (Beacon, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Beacon{}, fmt.Errorf("%w: %s is required", ErrInvalidBeacon, FieldCode)
	}

	docs, err := r.store.Find(ctx, store.Query{
		Collection: CollectionBeacons,
		Where:      []store.Filter{{Field: FieldCode, Value: code}},
	})
	if err != nil {
		return Beacon{}, fmt.Errorf("checking beacon code %q: %w", code, err)
	}
	if len(docs) > 0 {
		return Beacon{}, fmt.Errorf("%w: %s", ErrDuplicateBeaconCode, code)
	}

	id, err := r.store.Add(ctx, CollectionBeacons, map[string]any{
		FieldCode:      code,
		FieldAvailable: true,
		FieldCreatedAt: store.ServerTimestamp,
	})
	if err != nil {
		return Beacon{}, fmt.Errorf("registering beacon: %w", err)
	}
	return r.GetBeacon(ctx, id)
}

// GetBeacon returns one beacon.
func (r *Repository) GetBeacon(ctx context.Context, id string) (Beacon, error) {
	doc, err := r.store.Get(ctx, CollectionBeacons, id)
	if err != nil {
		return Beacon{}, mapNotFound(err, ErrBeaconNotFound)
	}
	return BeaconFromDocument(doc), nil
}

// ListBeacons returns every beacon, oldest first.
func (r *Repository) ListBeacons(ctx context.Context) ([]Beacon, error) {
	docs, err := r.store.Find(ctx, store.Query{Collection: CollectionBeacons})
	if err != nil {
		return nil, fmt.Errorf("listing beacons: %w", err)
	}
	beacons := make([]Beacon, 0, len(docs))
	for _, d := range docs {
		beacons = append(beacons, BeaconFromDocument(d))
	}
	return beacons, nil
}

// mapNotFound translates store.ErrNotFound into the package's own error.
func mapNotFound(err, notFound error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %w", notFound, err)
	}
	return err
}
