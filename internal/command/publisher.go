package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/GuLopes14/echobeacon-core/internal/audit"
	"github.com/GuLopes14/echobeacon-core/internal/fleet"
	"github.com/GuLopes14/echobeacon-core/internal/infrastructure/mqtt"
	"github.com/GuLopes14/echobeacon-core/internal/metrics"
)

// ActionActivate makes a beacon beep and flash so it can be found.
const ActionActivate = "ativar"

// ErrNoBeacon is returned by Locate for a vehicle without a beacon.
var ErrNoBeacon = errors.New("command: vehicle has no beacon")

// Command is the JSON body sent on the command topic.
type Command struct {
	Action         string `json:"comando"`
	Identification string `json:"numero_identificacao"`
}

// Transport sends messages to the broker.
type Transport interface {
	Publish(topic string, payload []byte) error
}

// Auditor queues audit records without blocking.
type Auditor interface {
	Record(direction audit.Direction, topic string, payload []byte) bool
}

// Logger is the logging interface used by this package.
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

// Publisher sends commands and audits every attempt.
//
// The audit record is queued after the send whatever its outcome, so a
// command attempted while disconnected still shows up in the log. Nothing
// the auditor does can change what Publish returns.
type Publisher struct {
	transport Transport
	auditor   Auditor
	topics    mqtt.Topics
	logger    Logger
}

// NewPublisher creates a publisher. auditor may be nil.
func NewPublisher(transport Transport, auditor Auditor, topics mqtt.Topics) *Publisher {
	return &Publisher{
		transport: transport,
		auditor:   auditor,
		topics:    topics,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger.
func (p *Publisher) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	p.logger = logger
}

// CommandTopic returns the topic Locate publishes on.
func (p *Publisher) CommandTopic() string { return p.topics.Command }

// Publish sends message on topic. A transport failure is returned and
// matches mqtt.ErrTransport.
func (p *Publisher) Publish(topic, message string) error {
	payload := []byte(message)

	start := time.Now()
	err := p.transport.Publish(topic, payload)
	metrics.CommandLatency.Observe(time.Since(start).Seconds())

	result := "success"
	if err != nil {
		result = "failed"
	}
	metrics.CommandsPublished.WithLabelValues(topic, result).Inc()

	p.audit(topic, payload)

	if err != nil {
		p.logger.Warn("publish failed", "topic", topic, "error", err)
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	p.logger.Debug("published", "topic", topic, "bytes", len(payload))
	return nil
}

// audit queues the outgoing record. A panicking auditor is logged and
// otherwise ignored.
func (p *Publisher) audit(topic string, payload []byte) {
	if p.auditor == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("audit panicked", "topic", topic, "panic", r)
		}
	}()
	p.auditor.Record(audit.DirectionOutgoing, topic, payload)
}

// Locate sends the activate command to the vehicle's beacon. The beacon
// code identifies it; the beacon ID is used when the code is unknown.
func (p *Publisher) Locate(v fleet.Vehicle) error {
	if !v.HasBeacon() {
		return fmt.Errorf("%w: %s", ErrNoBeacon, v.ID)
	}

	ident := v.BeaconCode
	if ident == "" {
		ident = v.BeaconID
	}

	body, err := json.Marshal(Command{Action: ActionActivate, Identification: ident})
	if err != nil {
		return fmt.Errorf("encoding command: %w", err)
	}
	return p.Publish(p.topics.Command, string(body))
}
