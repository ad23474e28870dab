package pairing

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/GuLopes14/echobeacon-core/internal/fleet"
	"github.com/GuLopes14/echobeacon-core/internal/infrastructure/database"
	"github.com/GuLopes14/echobeacon-core/internal/store"
	_ "github.com/GuLopes14/echobeacon-core/migrations" // registers the schema
)

var errBoom = errors.New("boom")

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "pairing.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return store.NewSQLiteStore(db.DB)
}

// seed registers one vehicle and one beacon.
func seed(t *testing.T, s store.Store, plate, code string) (fleet.Vehicle, fleet.Beacon) {
	t.Helper()
	repo := fleet.NewRepository(s)
	ctx := context.Background()

	v, err := repo.RegisterVehicle(ctx, fleet.VehicleInput{
		Model:   "Mottu Sport",
		Plate:   plate,
		Chassis: "CH-" + plate,
		Problem: "Revisão",
	})
	if err != nil {
		t.Fatalf("RegisterVehicle() error = %v", err)
	}
	b, err := repo.RegisterBeacon(ctx, code)
	if err != nil {
		t.Fatalf("RegisterBeacon() error = %v", err)
	}
	return v, b
}

// failingStore hides the Transactor of the wrapped store and fails chosen writes.
type failingStore struct {
	store.Store

	mu         sync.Mutex
	failUpdate map[string]error
	failDelete map[string]error
	updates    []string
}

func newFailingStore(inner store.Store) *failingStore {
	return &failingStore{
		Store:      inner,
		failUpdate: make(map[string]error),
		failDelete: make(map[string]error),
	}
}

func (f *failingStore) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	f.mu.Lock()
	err := f.failUpdate[collection]
	f.updates = append(f.updates, collection)
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Store.Update(ctx, collection, id, fields)
}

func (f *failingStore) Delete(ctx context.Context, collection, id string) error {
	f.mu.Lock()
	err := f.failDelete[collection]
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Store.Delete(ctx, collection, id)
}

// failingTxStore keeps transactions but fails chosen writes inside them.
type failingTxStore struct {
	*store.SQLiteStore
	failUpdate string
}

func (f *failingTxStore) RunTransaction(ctx context.Context, fn func(context.Context, store.Tx) error) error {
	return f.SQLiteStore.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		return fn(ctx, &failingTx{Tx: tx, failUpdate: f.failUpdate})
	})
}

type failingTx struct {
	store.Tx
	failUpdate string
}

func (f *failingTx) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	if collection == f.failUpdate {
		return errBoom
	}
	return f.Tx.Update(ctx, collection, id, fields)
}

// manualStore lets tests push live snapshots by hand.
type manualStore struct {
	store.Store

	mu        sync.Mutex
	listeners map[string]func(store.Snapshot)
	stopped   map[string]int
	listenErr map[string]error
}

func newManualStore() *manualStore {
	return &manualStore{
		listeners: make(map[string]func(store.Snapshot)),
		stopped:   make(map[string]int),
		listenErr: make(map[string]error),
	}
}

func (m *manualStore) Listen(_ context.Context, q store.Query, fn func(store.Snapshot)) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.listenErr[q.Collection]; err != nil {
		return nil, err
	}
	m.listeners[q.Collection] = fn
	return func() {
		m.mu.Lock()
		m.stopped[q.Collection]++
		m.mu.Unlock()
	}, nil
}

func (m *manualStore) push(t *testing.T, collection string, docs ...store.Document) {
	t.Helper()
	m.mu.Lock()
	fn := m.listeners[collection]
	m.mu.Unlock()
	if fn == nil {
		t.Fatalf("no listener on %s", collection)
	}
	fn(store.Snapshot{Documents: docs, ReadAt: time.Now()})
}

func (m *manualStore) stopCount(collection string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped[collection]
}

func vehicleDoc(id string) store.Document {
	return store.Document{ID: id, Fields: map[string]any{
		fleet.FieldPlate:  "P-" + id,
		fleet.FieldStatus: string(fleet.StatusReception),
	}}
}

func beaconDoc(id string) store.Document {
	return store.Document{ID: id, Fields: map[string]any{
		fleet.FieldCode:      "C-" + id,
		fleet.FieldAvailable: true,
	}}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
