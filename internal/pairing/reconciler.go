package pairing

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/GuLopes14/echobeacon-core/internal/fleet"
	"github.com/GuLopes14/echobeacon-core/internal/metrics"
	"github.com/GuLopes14/echobeacon-core/internal/store"
)

// Phase is the sync state of one live set.
type Phase string

// Live set phases.
const (
	PhaseLoading Phase = "loading"
	PhaseSynced  Phase = "synced"
)

// Selection is the in-progress pairing choice. Empty IDs mean nothing is
// selected on that side.
type Selection struct {
	VehicleID string `json:"vehicleId,omitempty"`
	BeaconID  string `json:"beaconId,omitempty"`
}

// Complete reports whether both sides are selected.
func (s Selection) Complete() bool {
	return s.VehicleID != "" && s.BeaconID != ""
}

// ChangeKind says what part of the reconciler state changed.
type ChangeKind string

// Change kinds.
const (
	ChangeVehicles  ChangeKind = "vehicles"
	ChangeBeacons   ChangeKind = "beacons"
	ChangeSelection ChangeKind = "selection"
	ChangeStopped   ChangeKind = "stopped"
)

// Change is delivered to observers after every state change.
type Change struct {
	Kind      ChangeKind
	State     State
	Cleared   string // FieldVehicle or FieldBeacon when a snapshot invalidated that side
	Confirmed *Result
}

// State is a copy of the reconciler state.
type State struct {
	Ready         bool            `json:"ready"`
	VehiclesPhase Phase           `json:"vehiclesPhase"`
	BeaconsPhase  Phase           `json:"beaconsPhase"`
	Vehicles      []fleet.Vehicle `json:"vehicles"`
	Beacons       []fleet.Beacon  `json:"beacons"`
	Selection     Selection       `json:"selection"`
}

// Logger is the logging interface used by the reconciler.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Reconciler keeps the available vehicles and beacons in sync with the
// store and holds the user's selection.
//
// Each live set is replaced wholesale by every snapshot. A selected ID that
// is missing from the newest snapshot is cleared while that snapshot is
// applied, so Selection never refers to a record outside the live sets.
type Reconciler struct {
	store  store.Store
	pairer *Pairer

	// notifyMu serialises apply-then-notify so observers see changes in
	// the order they were made. Observers must not call mutating methods.
	notifyMu sync.Mutex

	mu            sync.Mutex
	running       bool
	gen           uint64
	stops         []func()
	halted        chan struct{} // closed when the current run ends
	vehiclesPhase Phase
	beaconsPhase  Phase
	vehicles      []fleet.Vehicle
	beacons       []fleet.Beacon
	selection     Selection
	ready         chan struct{}
	observers     map[uint64]func(Change)
	nextObserver  uint64
	logger        Logger
}

// NewReconciler creates a reconciler. Nothing is read until Start.
func NewReconciler(s store.Store, p *Pairer) *Reconciler {
	return &Reconciler{
		store:         s,
		pairer:        p,
		vehiclesPhase: PhaseLoading,
		beaconsPhase:  PhaseLoading,
		ready:         make(chan struct{}),
		observers:     make(map[uint64]func(Change)),
		logger:        noopLogger{},
	}
}

// SetLogger sets the logger.
func (r *Reconciler) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	r.mu.Lock()
	r.logger = logger
	r.mu.Unlock()
}

func (r *Reconciler) getLogger() Logger {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.logger
}

// Start installs the two live queries. They stay installed until Stop or
// until ctx ends, which stops the reconciler the same way; selection
// changes never reinstall them.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrAlreadyStarted
	}
	r.running = true
	r.gen++
	gen := r.gen
	halted := make(chan struct{})
	r.halted = halted
	r.resetLocked()
	r.mu.Unlock()

	stopVehicles, err := r.store.Listen(ctx, fleet.AvailableVehiclesQuery(), func(s store.Snapshot) {
		r.applyVehicles(gen, s)
	})
	if err != nil {
		r.halt(gen, "start failed")
		return fmt.Errorf("listening to vehicles: %w", err)
	}

	stopBeacons, err := r.store.Listen(ctx, fleet.AvailableBeaconsQuery(), func(s store.Snapshot) {
		r.applyBeacons(gen, s)
	})
	if err != nil {
		stopVehicles()
		r.halt(gen, "start failed")
		return fmt.Errorf("listening to beacons: %w", err)
	}

	r.mu.Lock()
	if r.gen != gen {
		// Stopped while starting.
		r.mu.Unlock()
		stopVehicles()
		stopBeacons()
		return nil
	}
	r.stops = []func(){stopVehicles, stopBeacons}
	r.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			r.halt(gen, "context ended")
		case <-halted:
		}
	}()

	r.getLogger().Info("pairing reconciler started")
	return nil
}

// Stop removes the live queries, empties the live sets and clears the
// selection. Snapshots still in flight are discarded.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	gen := r.gen
	r.mu.Unlock()
	r.halt(gen, "stopped")
}

// halt ends run gen. It is a no-op when that run is already over.
func (r *Reconciler) halt(gen uint64, reason string) {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	if !r.running || r.gen != gen {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.gen++
	stops := r.stops
	r.stops = nil
	close(r.halted)
	r.resetLocked()
	change := Change{Kind: ChangeStopped, State: r.stateLocked()}
	observers := r.observersLocked()
	logger := r.logger
	r.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
	logger.Info("pairing reconciler stopped", "reason", reason)
	notify(observers, change)
}

// resetLocked returns both live sets to Loading and clears the selection.
func (r *Reconciler) resetLocked() {
	r.vehiclesPhase, r.beaconsPhase = PhaseLoading, PhaseLoading
	r.vehicles, r.beacons = nil, nil
	r.selection = Selection{}
	select {
	case <-r.ready:
		r.ready = make(chan struct{})
	default:
	}
}

func (r *Reconciler) applyVehicles(gen uint64, snap store.Snapshot) {
	vehicles := make([]fleet.Vehicle, 0, len(snap.Documents))
	for _, doc := range snap.Documents {
		vehicles = append(vehicles, fleet.VehicleFromDocument(doc))
	}

	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	if r.gen != gen {
		r.mu.Unlock()
		return
	}
	r.vehicles = vehicles
	r.vehiclesPhase = PhaseSynced
	cleared := ""
	if id := r.selection.VehicleID; id != "" && !containsVehicle(vehicles, id) {
		r.selection.VehicleID = ""
		cleared = FieldVehicle
	}
	r.markReadyLocked()
	change := Change{Kind: ChangeVehicles, State: r.stateLocked(), Cleared: cleared}
	observers := r.observersLocked()
	logger := r.logger
	r.mu.Unlock()

	metrics.LiveSetSize.WithLabelValues(fleet.CollectionVehicles).Set(float64(len(vehicles)))
	if cleared != "" {
		logger.Info("vehicle selection cleared", "reason", "no longer available")
	}
	notify(observers, change)
}

func (r *Reconciler) applyBeacons(gen uint64, snap store.Snapshot) {
	beacons := make([]fleet.Beacon, 0, len(snap.Documents))
	for _, doc := range snap.Documents {
		beacons = append(beacons, fleet.BeaconFromDocument(doc))
	}

	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	if r.gen != gen {
		r.mu.Unlock()
		return
	}
	r.beacons = beacons
	r.beaconsPhase = PhaseSynced
	cleared := ""
	if id := r.selection.BeaconID; id != "" && !containsBeacon(beacons, id) {
		r.selection.BeaconID = ""
		cleared = FieldBeacon
	}
	r.markReadyLocked()
	change := Change{Kind: ChangeBeacons, State: r.stateLocked(), Cleared: cleared}
	observers := r.observersLocked()
	logger := r.logger
	r.mu.Unlock()

	metrics.LiveSetSize.WithLabelValues(fleet.CollectionBeacons).Set(float64(len(beacons)))
	if cleared != "" {
		logger.Info("beacon selection cleared", "reason", "no longer available")
	}
	notify(observers, change)
}

func (r *Reconciler) markReadyLocked() {
	if r.vehiclesPhase != PhaseSynced || r.beaconsPhase != PhaseSynced {
		return
	}
	select {
	case <-r.ready:
	default:
		close(r.ready)
	}
}

// Ready reports whether both live sets have received a snapshot.
func (r *Reconciler) Ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.vehiclesPhase == PhaseSynced && r.beaconsPhase == PhaseSynced
}

// WaitReady blocks until both live sets have received a snapshot or ctx ends.
func (r *Reconciler) WaitReady(ctx context.Context) error {
	r.mu.Lock()
	ready := r.ready
	r.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SelectVehicle selects an available vehicle. An empty id clears the
// vehicle side.
func (r *Reconciler) SelectVehicle(id string) error {
	return r.selectSide(FieldVehicle, id)
}

// SelectBeacon selects an available beacon. An empty id clears the beacon
// side.
func (r *Reconciler) SelectBeacon(id string) error {
	return r.selectSide(FieldBeacon, id)
}

func (r *Reconciler) selectSide(field, id string) error {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return ErrNotStarted
	}
	switch field {
	case FieldVehicle:
		if id != "" && !containsVehicle(r.vehicles, id) {
			r.mu.Unlock()
			return &ValidationError{Field: FieldVehicle, Reason: "is not available"}
		}
		r.selection.VehicleID = id
	case FieldBeacon:
		if id != "" && !containsBeacon(r.beacons, id) {
			r.mu.Unlock()
			return &ValidationError{Field: FieldBeacon, Reason: "is not available"}
		}
		r.selection.BeaconID = id
	}
	change := Change{Kind: ChangeSelection, State: r.stateLocked()}
	observers := r.observersLocked()
	r.mu.Unlock()

	notify(observers, change)
	return nil
}

// ClearSelection empties both sides.
func (r *Reconciler) ClearSelection() {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	r.selection = Selection{}
	change := Change{Kind: ChangeSelection, State: r.stateLocked()}
	observers := r.observersLocked()
	r.mu.Unlock()

	notify(observers, change)
}

// Selection returns the current selection.
func (r *Reconciler) Selection() Selection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.selection
}

// State returns a copy of the live sets, phases and selection.
func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stateLocked()
}

func (r *Reconciler) stateLocked() State {
	return State{
		Ready:         r.vehiclesPhase == PhaseSynced && r.beaconsPhase == PhaseSynced,
		VehiclesPhase: r.vehiclesPhase,
		BeaconsPhase:  r.beaconsPhase,
		Vehicles:      append([]fleet.Vehicle(nil), r.vehicles...),
		Beacons:       append([]fleet.Beacon(nil), r.beacons...),
		Selection:     r.selection,
	}
}

// Confirm pairs the selected vehicle and beacon. The selection is cleared
// on success and kept on failure.
func (r *Reconciler) Confirm(ctx context.Context) (Result, error) {
	r.mu.Lock()
	running := r.running
	sel := r.selection
	r.mu.Unlock()

	if !running {
		return Result{}, ErrNotStarted
	}

	res, err := r.pairer.Pair(ctx, sel)
	if err != nil {
		r.getLogger().Warn("pairing failed",
			"vehicle_id", sel.VehicleID,
			"beacon_id", sel.BeaconID,
			"error", err,
		)
		return Result{}, err
	}

	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	if r.selection == sel {
		r.selection = Selection{}
	}
	change := Change{Kind: ChangeSelection, State: r.stateLocked(), Confirmed: &res}
	observers := r.observersLocked()
	logger := r.logger
	r.mu.Unlock()

	logger.Info("vehicle paired",
		"vehicle_id", res.VehicleID,
		"beacon_id", res.BeaconID,
		"beacon_code", res.BeaconCode,
		"atomic", res.Atomic,
	)
	notify(observers, change)
	return res, nil
}

// OnChange registers fn for every state change and returns a function that
// removes it. fn runs synchronously and must not call mutating methods.
func (r *Reconciler) OnChange(fn func(Change)) (remove func()) {
	r.mu.Lock()
	r.nextObserver++
	id := r.nextObserver
	r.observers[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.observers, id)
		r.mu.Unlock()
	}
}

func (r *Reconciler) observersLocked() []func(Change) {
	ids := make([]uint64, 0, len(r.observers))
	for id := range r.observers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]func(Change), 0, len(ids))
	for _, id := range ids {
		out = append(out, r.observers[id])
	}
	return out
}

func notify(observers []func(Change), change Change) {
	for _, fn := range observers {
		fn(change)
	}
}

func containsVehicle(vehicles []fleet.Vehicle, id string) bool {
	return slices.ContainsFunc(vehicles, func(v fleet.Vehicle) bool { return v.ID == id })
}

func containsBeacon(beacons []fleet.Beacon, id string) bool {
	return slices.ContainsFunc(beacons, func(b fleet.Beacon) bool { return b.ID == id })
}
