package audit

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/GuLopes14/echobeacon-core/internal/infrastructure/database"
	_ "github.com/GuLopes14/echobeacon-core/migrations" // registers the schema
)

func newTestRepository(t *testing.T) *SQLiteRepository {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "audit.db"),
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
	return NewSQLiteRepository(db.DB)
}

// ============================================================================
// ParsePayload
// ============================================================================

func TestParsePayload(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    any
	}{
		{"plain text", "hello", map[string]any{"raw": "hello"}},
		{"empty", "", map[string]any{"raw": ""}},
		{"truncated json", `{"comando":`, map[string]any{"raw": `{"comando":`}},
		{
			"command",
			`{"comando":"ativar","numero_identificacao":"4"}`,
			map[string]any{"comando": "ativar", "numero_identificacao": "4"},
		},
		{"empty object", "{}", map[string]any{}},
		{"array", `[1,"a"]`, []any{float64(1), "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParsePayload([]byte(tt.payload)); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParsePayload(%q) = %#v, want %#v", tt.payload, got, tt.want)
			}
		})
	}
}

// ============================================================================
// SQLiteRepository
// ============================================================================

func TestCreateAndList(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	records := []*Record{
		{Direction: DirectionOutgoing, Topic: "cmd", Payload: ParsePayload([]byte(`{"comando":"ativar"}`)), CreatedAt: base},
		{Direction: DirectionIncoming, Topic: "status", Payload: ParsePayload([]byte("online")), CreatedAt: base.Add(time.Second)},
		{Direction: DirectionIncoming, Topic: "status", Payload: ParsePayload([]byte(`{"bateria":80}`)), CreatedAt: base.Add(2 * time.Second)},
	}
	for _, rec := range records {
		if err := repo.Create(ctx, rec); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if rec.ID == "" {
			t.Error("Create() did not set ID")
		}
	}

	all, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if all.Total != 3 || len(all.Records) != 3 || all.Limit != defaultListLimit {
		t.Fatalf("List() = total %d, %d records, limit %d", all.Total, len(all.Records), all.Limit)
	}
	if all.Records[0].ID != records[2].ID {
		t.Error("List() not ordered newest first")
	}
	if !reflect.DeepEqual(all.Records[1].Payload, map[string]any{"raw": "online"}) {
		t.Errorf("raw payload = %#v", all.Records[1].Payload)
	}
	if !all.Records[2].CreatedAt.Equal(base) {
		t.Errorf("CreatedAt = %v, want %v", all.Records[2].CreatedAt, base)
	}

	incoming, _ := repo.List(ctx, Filter{Direction: DirectionIncoming})
	if incoming.Total != 2 {
		t.Errorf("incoming Total = %d, want 2", incoming.Total)
	}

	byTopic, _ := repo.List(ctx, Filter{Topic: "cmd"})
	if byTopic.Total != 1 || byTopic.Records[0].Direction != DirectionOutgoing {
		t.Errorf("topic filter = %+v", byTopic)
	}

	page, _ := repo.List(ctx, Filter{Limit: 1, Offset: 1})
	if page.Total != 3 || len(page.Records) != 1 || page.Records[0].ID != records[1].ID {
		t.Errorf("page = %+v", page)
	}

	clamped, _ := repo.List(ctx, Filter{Limit: 1000, Offset: -3})
	if clamped.Limit != maxListLimit || clamped.Offset != 0 {
		t.Errorf("clamped limit/offset = %d/%d", clamped.Limit, clamped.Offset)
	}
}

func TestCreateInvalidDirection(t *testing.T) {
	repo := newTestRepository(t)

	err := repo.Create(context.Background(), &Record{Direction: "sideways", Topic: "t"})
	if !errors.Is(err, ErrWriteFailed) || !errors.Is(err, ErrInvalidDirection) {
		t.Errorf("Create() error = %v, want ErrWriteFailed and ErrInvalidDirection", err)
	}

	if _, err := repo.List(context.Background(), Filter{Direction: "sideways"}); !errors.Is(err, ErrInvalidDirection) {
		t.Errorf("List() error = %v, want ErrInvalidDirection", err)
	}
}

// ============================================================================
// Recorder
// ============================================================================

type memorySink struct {
	mu      sync.Mutex
	records []Record
	err     error
	gate    chan struct{}
}

func (m *memorySink) Create(_ context.Context, rec *Record) error {
	if m.gate != nil {
		<-m.gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, *rec)
	return nil
}

func (m *memorySink) all() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}

func TestRecorderWritesInOrder(t *testing.T) {
	sink := &memorySink{}
	r := NewRecorder(sink, 8)
	r.Start()

	r.Record(DirectionOutgoing, "cmd", []byte(`{"comando":"ativar","numero_identificacao":"4"}`))
	r.Record(DirectionIncoming, "status", []byte("hello"))

	if err := r.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	got := sink.all()
	if len(got) != 2 {
		t.Fatalf("wrote %d records, want 2", len(got))
	}
	want := map[string]any{"comando": "ativar", "numero_identificacao": "4"}
	if !reflect.DeepEqual(got[0].Payload, want) {
		t.Errorf("first payload = %#v, want %#v", got[0].Payload, want)
	}
	if !reflect.DeepEqual(got[1].Payload, map[string]any{"raw": "hello"}) {
		t.Errorf("second payload = %#v, want raw hello", got[1].Payload)
	}
	if got[1].Direction != DirectionIncoming || got[1].CreatedAt.IsZero() {
		t.Errorf("second record = %+v", got[1])
	}
}

func TestRecorderDropsWhenFull(t *testing.T) {
	sink := &memorySink{gate: make(chan struct{})}
	r := NewRecorder(sink, 1)

	// Not started: the queue holds exactly one record.
	if !r.Record(DirectionOutgoing, "t", []byte("1")) {
		t.Fatal("first Record() not queued")
	}
	if r.Record(DirectionOutgoing, "t", []byte("2")) {
		t.Error("Record() queued beyond capacity")
	}

	close(sink.gate)
	if err := r.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if n := len(sink.all()); n != 1 {
		t.Errorf("wrote %d records, want 1", n)
	}

	if r.Record(DirectionOutgoing, "t", []byte("3")) {
		t.Error("Record() after Close reported queued")
	}
}

func TestRecorderSinkFailureIsAbsorbed(t *testing.T) {
	sink := &memorySink{err: errors.New("disk full")}
	r := NewRecorder(sink, 4)

	var mirrored []Record
	r.AddMirror(func(rec Record) { mirrored = append(mirrored, rec) })
	r.Start()

	if !r.Record(DirectionOutgoing, "cmd", []byte("{}")) {
		t.Fatal("Record() not queued")
	}
	if err := r.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if len(mirrored) != 1 || mirrored[0].Topic != "cmd" {
		t.Errorf("mirrored = %+v, want the failed record", mirrored)
	}
}

type panickingSink struct {
	calls int
}

func (p *panickingSink) Create(context.Context, *Record) error {
	p.calls++
	panic("sink exploded")
}

func TestRecorderSurvivesPanics(t *testing.T) {
	sink := &panickingSink{}
	r := NewRecorder(sink, 4)

	var mirrored []string
	r.AddMirror(func(Record) { panic("mirror exploded") })
	r.AddMirror(func(rec Record) { mirrored = append(mirrored, rec.Topic) })
	r.Start()

	r.Record(DirectionOutgoing, "first", []byte("{}"))
	r.Record(DirectionIncoming, "second", []byte("{}"))

	if err := r.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if sink.calls != 2 {
		t.Errorf("sink called %d times, want 2", sink.calls)
	}
	if !reflect.DeepEqual(mirrored, []string{"first", "second"}) {
		t.Errorf("mirrored = %v, want [first second]", mirrored)
	}
}

func TestRecorderCloseTimeout(t *testing.T) {
	sink := &memorySink{gate: make(chan struct{})}
	defer close(sink.gate)

	r := NewRecorder(sink, 4)
	r.Start()
	r.Record(DirectionOutgoing, "t", []byte("x"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := r.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Close() error = %v, want DeadlineExceeded", err)
	}
}

func TestRecorderWithSQLite(t *testing.T) {
	repo := newTestRepository(t)
	r := NewRecorder(repo, 0)
	r.Start()

	r.Record(DirectionOutgoing, "fiap/iot/echobeacon/comando", []byte(`{"comando":"ativar","numero_identificacao":"EB-1"}`))
	if err := r.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	res, err := repo.List(context.Background(), Filter{Direction: DirectionOutgoing})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 1 {
		t.Fatalf("Total = %d, want 1", res.Total)
	}
	payload, ok := res.Records[0].Payload.(map[string]any)
	if !ok || payload["numero_identificacao"] != "EB-1" {
		t.Errorf("payload = %#v", res.Records[0].Payload)
	}
}
