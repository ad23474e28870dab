package command

import (
	"errors"
	"sync"
	"time"

	"github.com/GuLopes14/echobeacon-core/internal/audit"
	"github.com/GuLopes14/echobeacon-core/internal/infrastructure/mqtt"
	"github.com/GuLopes14/echobeacon-core/internal/metrics"
)

// ErrMonitorRunning is returned by Start on a running monitor.
var ErrMonitorRunning = errors.New("command: status monitor already running")

// Subscriber registers message handlers.
type Subscriber interface {
	Subscribe(topic string, handler mqtt.MessageHandler) (mqtt.Subscription, error)
	Unsubscribe(sub mqtt.Subscription) error
}

// StatusMessage is one message received on the status topic.
type StatusMessage struct {
	Topic      string    `json:"topic"`
	Payload    any       `json:"payload"`
	ReceivedAt time.Time `json:"received_at"`
}

// StatusMonitor audits every message on the status topic and forwards it
// to observers.
type StatusMonitor struct {
	subscriber Subscriber
	auditor    Auditor
	topic      string

	mu        sync.Mutex
	sub       *mqtt.Subscription
	observers map[uint64]func(StatusMessage)
	nextID    uint64
	logger    Logger
}

// NewStatusMonitor creates a monitor for topic. auditor may be nil.
func NewStatusMonitor(subscriber Subscriber, auditor Auditor, topic string) *StatusMonitor {
	return &StatusMonitor{
		subscriber: subscriber,
		auditor:    auditor,
		topic:      topic,
		observers:  make(map[uint64]func(StatusMessage)),
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger.
func (m *StatusMonitor) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	m.mu.Lock()
	m.logger = logger
	m.mu.Unlock()
}

// Start subscribes to the status topic.
func (m *StatusMonitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sub != nil {
		return ErrMonitorRunning
	}
	sub, err := m.subscriber.Subscribe(m.topic, m.handle)
	if err != nil {
		return err
	}
	m.sub = &sub
	return nil
}

// Stop unsubscribes. Audit records already queued are still written.
func (m *StatusMonitor) Stop() error {
	m.mu.Lock()
	sub := m.sub
	m.sub = nil
	m.mu.Unlock()

	if sub == nil {
		return nil
	}
	return m.subscriber.Unsubscribe(*sub)
}

// OnStatus registers fn for every status message and returns a function
// that removes it.
func (m *StatusMonitor) OnStatus(fn func(StatusMessage)) (remove func()) {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.observers[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.observers, id)
		m.mu.Unlock()
	}
}

func (m *StatusMonitor) handle(topic string, payload []byte) error {
	metrics.MessagesReceived.WithLabelValues(topic).Inc()

	if m.auditor != nil {
		m.auditor.Record(audit.DirectionIncoming, topic, payload)
	}

	msg := StatusMessage{
		Topic:      topic,
		Payload:    audit.ParsePayload(payload),
		ReceivedAt: time.Now().UTC(),
	}

	m.mu.Lock()
	observers := make([]func(StatusMessage), 0, len(m.observers))
	for _, fn := range m.observers {
		observers = append(observers, fn)
	}
	logger := m.logger
	m.mu.Unlock()

	logger.Debug("beacon status received", "topic", topic, "bytes", len(payload))
	for _, fn := range observers {
		fn(msg)
	}
	return nil
}
