package command

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/GuLopes14/echobeacon-core/internal/audit"
	"github.com/GuLopes14/echobeacon-core/internal/fleet"
	"github.com/GuLopes14/echobeacon-core/internal/infrastructure/mqtt"
)

const commandTopic = "fiap/iot/echobeacon/comando"

var testTopics = mqtt.Topics{Command: commandTopic, Status: "fiap/iot/echobeacon/status"}

type published struct {
	topic   string
	payload string
}

type fakeTransport struct {
	mu   sync.Mutex
	err  error
	sent []published
}

func (f *fakeTransport) Publish(topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, published{topic, string(payload)})
	return f.err
}

type recorded struct {
	direction audit.Direction
	topic     string
	payload   string
}

type fakeAuditor struct {
	mu      sync.Mutex
	records []recorded
	panics  bool
}

func (f *fakeAuditor) Record(direction audit.Direction, topic string, payload []byte) bool {
	if f.panics {
		panic("audit exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, recorded{direction, topic, string(payload)})
	return true
}

type failingSink struct{}

func (failingSink) Create(context.Context, *audit.Record) error {
	return audit.ErrWriteFailed
}

// ============================================================================
// Publisher
// ============================================================================

func TestPublishAuditsOutgoing(t *testing.T) {
	tr := &fakeTransport{}
	au := &fakeAuditor{}
	p := NewPublisher(tr, au, testTopics)

	if err := p.Publish(commandTopic, "{}"); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(tr.sent) != 1 || tr.sent[0] != (published{commandTopic, "{}"}) {
		t.Errorf("sent = %+v", tr.sent)
	}
	want := []recorded{{audit.DirectionOutgoing, commandTopic, "{}"}}
	if !reflect.DeepEqual(au.records, want) {
		t.Errorf("records = %+v, want %+v", au.records, want)
	}
}

func TestPublishFailureStillAudited(t *testing.T) {
	tr := &fakeTransport{err: mqtt.ErrNotConnected}
	au := &fakeAuditor{}
	p := NewPublisher(tr, au, testTopics)

	err := p.Publish(commandTopic, "{}")
	if !errors.Is(err, mqtt.ErrNotConnected) || !errors.Is(err, mqtt.ErrTransport) {
		t.Fatalf("Publish() error = %v, want ErrNotConnected", err)
	}
	if len(au.records) != 1 {
		t.Errorf("records = %d, want the attempt audited", len(au.records))
	}
}

func TestPublishAuditIsolation(t *testing.T) {
	failingRecorder := audit.NewRecorder(failingSink{}, 1)
	failingRecorder.Start()
	defer failingRecorder.Close(context.Background()) //nolint:errcheck // test cleanup

	closedRecorder := audit.NewRecorder(failingSink{}, 1)
	_ = closedRecorder.Close(context.Background())

	auditors := map[string]Auditor{
		"failing sink": failingRecorder,
		"closed":       closedRecorder,
		"panicking":    &fakeAuditor{panics: true},
	}

	for _, transportErr := range []error{nil, mqtt.ErrNotConnected} {
		baseline := NewPublisher(&fakeTransport{err: transportErr}, nil, testTopics).
			Publish(commandTopic, "{}")

		for name, au := range auditors {
			t.Run(name, func(t *testing.T) {
				tr := &fakeTransport{err: transportErr}
				got := NewPublisher(tr, au, testTopics).Publish(commandTopic, "{}")

				if (got == nil) != (baseline == nil) {
					t.Fatalf("Publish() = %v, baseline %v", got, baseline)
				}
				if got != nil && got.Error() != baseline.Error() {
					t.Errorf("Publish() = %q, baseline %q", got, baseline)
				}
				if len(tr.sent) != 1 {
					t.Errorf("sent %d messages, want 1", len(tr.sent))
				}
			})
		}
	}
}

func TestLocate(t *testing.T) {
	tests := []struct {
		name    string
		vehicle fleet.Vehicle
		ident   string
	}{
		{"by code", fleet.Vehicle{ID: "v1", BeaconID: "b1", BeaconCode: "4"}, "4"},
		{"falls back to id", fleet.Vehicle{ID: "v1", BeaconID: "b1"}, "b1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &fakeTransport{}
			au := &fakeAuditor{}
			if err := NewPublisher(tr, au, testTopics).Locate(tt.vehicle); err != nil {
				t.Fatalf("Locate() error = %v", err)
			}
			if len(tr.sent) != 1 || tr.sent[0].topic != commandTopic {
				t.Fatalf("sent = %+v", tr.sent)
			}

			var cmd map[string]any
			if err := json.Unmarshal([]byte(tr.sent[0].payload), &cmd); err != nil {
				t.Fatalf("payload not JSON: %v", err)
			}
			want := map[string]any{"comando": "ativar", "numero_identificacao": tt.ident}
			if !reflect.DeepEqual(cmd, want) {
				t.Errorf("payload = %v, want %v", cmd, want)
			}
			if !reflect.DeepEqual(audit.ParsePayload([]byte(au.records[0].payload)), want) {
				t.Errorf("audited payload = %s", au.records[0].payload)
			}
		})
	}
}

func TestLocateWithoutBeacon(t *testing.T) {
	tr := &fakeTransport{}
	au := &fakeAuditor{}

	err := NewPublisher(tr, au, testTopics).Locate(fleet.Vehicle{ID: "v1"})
	if !errors.Is(err, ErrNoBeacon) {
		t.Fatalf("Locate() error = %v, want ErrNoBeacon", err)
	}
	if len(tr.sent) != 0 || len(au.records) != 0 {
		t.Error("Locate() without beacon sent or audited a message")
	}
}

// ============================================================================
// StatusMonitor
// ============================================================================

type fakeSubscriber struct {
	mu       sync.Mutex
	handlers map[string]mqtt.MessageHandler
	unsubs   int
	err      error
}

func (f *fakeSubscriber) Subscribe(topic string, h mqtt.MessageHandler) (mqtt.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return mqtt.Subscription{}, f.err
	}
	if f.handlers == nil {
		f.handlers = make(map[string]mqtt.MessageHandler)
	}
	f.handlers[topic] = h
	return mqtt.Subscription{}, nil
}

func (f *fakeSubscriber) Unsubscribe(mqtt.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubs++
	return nil
}

func (f *fakeSubscriber) deliver(t *testing.T, topic, payload string) {
	t.Helper()
	f.mu.Lock()
	h := f.handlers[topic]
	f.mu.Unlock()
	if h == nil {
		t.Fatalf("no handler on %s", topic)
	}
	if err := h(topic, []byte(payload)); err != nil {
		t.Errorf("handler error = %v", err)
	}
}

func TestStatusMonitor(t *testing.T) {
	sub := &fakeSubscriber{}
	au := &fakeAuditor{}
	m := NewStatusMonitor(sub, au, testTopics.Status)

	var got []StatusMessage
	remove := m.OnStatus(func(msg StatusMessage) { got = append(got, msg) })

	if err := m.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := m.Start(); !errors.Is(err, ErrMonitorRunning) {
		t.Errorf("second Start() error = %v, want ErrMonitorRunning", err)
	}

	sub.deliver(t, testTopics.Status, "hello")
	sub.deliver(t, testTopics.Status, `{"id":"4","estado":"ativo"}`)

	if len(au.records) != 2 || au.records[0].direction != audit.DirectionIncoming {
		t.Fatalf("records = %+v", au.records)
	}
	if len(got) != 2 {
		t.Fatalf("observed %d messages, want 2", len(got))
	}
	if !reflect.DeepEqual(got[0].Payload, map[string]any{"raw": "hello"}) {
		t.Errorf("first payload = %#v", got[0].Payload)
	}

	remove()
	sub.deliver(t, testTopics.Status, "again")
	if len(got) != 2 {
		t.Error("observer called after removal")
	}

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	_ = m.Stop()
	if sub.unsubs != 1 {
		t.Errorf("unsubscribes = %d, want 1", sub.unsubs)
	}
}

func TestStatusMonitorSubscribeError(t *testing.T) {
	sub := &fakeSubscriber{err: mqtt.ErrInvalidTopic}
	m := NewStatusMonitor(sub, nil, "bad/#/topic")

	if err := m.Start(); !errors.Is(err, mqtt.ErrInvalidTopic) {
		t.Fatalf("Start() error = %v, want ErrInvalidTopic", err)
	}
	sub.err = nil
	if err := m.Start(); err != nil {
		t.Errorf("Start() after failure error = %v", err)
	}
}
