package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/looplab/fsm"
)

// Client is the single broker connection shared by the process.
//
// Connect and Disconnect are explicit; a lost connection moves the status
// to StatusError and stays there until the next Connect. Every Connect
// starts a new connection generation, and callbacks from an older paho
// client are ignored, so a superseded attempt can never change the status.
//
// All methods are safe for concurrent use.
type Client struct {
	newPaho func(*pahomqtt.ClientOptions) pahomqtt.Client

	// mu guards the fields below. It is never held while waiting on a
	// broker token.
	mu      sync.Mutex
	paho    pahomqtt.Client
	opts    Options
	gen     uint64
	lastErr error

	// brokerSubs holds the topics subscribed on the current connection.
	// It is reset whenever the connection changes.
	brokerSubs map[string]struct{}

	inbound func(topic string, payload []byte)

	listeners    []statusListener
	nextListener uint64

	// transMu serialises status transitions and their notifications.
	transMu sync.Mutex
	machine *fsm.FSM

	logger   Logger
	loggerMu sync.RWMutex
}

// Logger is the logging interface used by this package.
// Compatible with logging.Logger and slog.Logger.
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

// MessageHandler is the callback signature for received messages.
//
// Handlers run on the delivery goroutine and must not block or wait on
// another broker operation.
type MessageHandler func(topic string, payload []byte) error

// NewClient creates a disconnected client.
func NewClient() *Client {
	return newClientWithFactory(pahomqtt.NewClient)
}

// newClientWithFactory lets tests substitute the paho client.
func newClientWithFactory(factory func(*pahomqtt.ClientOptions) pahomqtt.Client) *Client {
	return &Client{
		newPaho:    factory,
		brokerSubs: make(map[string]struct{}),
		machine:    newStatusMachine(),
		logger:     noopLogger{},
	}
}

// Connect starts connecting to the broker described by opts and returns
// without waiting for the result. The status moves to StatusConnecting and
// later to StatusConnected or StatusError.
//
// Calling Connect while connecting or connected tears down the existing
// connection and connects to the new target.
func (c *Client) Connect(opts Options) error {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	c.gen++
	gen := c.gen
	old := c.paho
	c.paho = nil
	c.opts = opts
	c.brokerSubs = make(map[string]struct{})
	c.mu.Unlock()

	if old != nil {
		old.Disconnect(defaultDisconnectQuiesce)
	}

	c.transition(gen, eventConnect, nil)

	popts := buildClientOptions(opts)
	popts.SetDefaultPublishHandler(func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.deliver(gen, msg.Topic(), msg.Payload())
	})
	popts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleConnectionLost(gen, err)
	})

	pc := c.newPaho(popts)

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return nil
	}
	c.paho = pc
	c.mu.Unlock()

	c.getLogger().Info("connecting to mqtt broker",
		"broker", opts.BrokerURL,
		"client_id", opts.ClientID,
	)

	token := pc.Connect()
	go c.awaitConnect(gen, pc, token, opts.ConnectTimeout)
	return nil
}

// awaitConnect waits for the outcome of one connection attempt.
func (c *Client) awaitConnect(gen uint64, pc pahomqtt.Client, token pahomqtt.Token, timeout time.Duration) {
	var err error
	if !token.WaitTimeout(timeout) {
		err = fmt.Errorf("%w: %w after %v", ErrConnectionFailed, ErrTimeout, timeout)
	} else if tokenErr := token.Error(); tokenErr != nil {
		err = fmt.Errorf("%w: %w", ErrConnectionFailed, tokenErr)
	}

	if !c.isCurrent(gen) {
		if err == nil {
			pc.Disconnect(0)
		}
		return
	}

	if err != nil {
		pc.Disconnect(0)
		c.getLogger().Warn("mqtt connection attempt failed", "error", err)
		c.transition(gen, eventFail, err)
		return
	}

	c.transition(gen, eventConnected, nil)
}

// handleConnectionLost is called by paho when an established connection drops.
func (c *Client) handleConnectionLost(gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.brokerSubs = make(map[string]struct{})
	c.mu.Unlock()

	err := fmt.Errorf("%w: %w", ErrConnectionLost, cause)
	c.getLogger().Warn("mqtt connection lost", "error", cause)
	c.transition(gen, eventFail, err)
}

// Disconnect closes the connection and moves the status to StatusDisconnected.
// It is safe to call when already disconnected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	pc := c.paho
	c.paho = nil
	c.brokerSubs = make(map[string]struct{})
	c.mu.Unlock()

	if pc != nil {
		pc.Disconnect(defaultDisconnectQuiesce)
	}

	c.transition(gen, eventDisconnect, nil)
}

// isCurrent reports whether gen is still the active connection generation.
func (c *Client) isCurrent(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.gen
}

// active returns the paho client when the status is StatusConnected.
func (c *Client) active() (pahomqtt.Client, Options, uint64, bool) {
	if c.Status() != StatusConnected {
		return nil, Options{}, 0, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paho == nil {
		return nil, Options{}, 0, false
	}
	return c.paho, c.opts, c.gen, true
}

// SetInboundHandler sets the function that receives every inbound message.
// There is a single inbound path; the Registry installs itself here.
func (c *Client) SetInboundHandler(fn func(topic string, payload []byte)) {
	c.mu.Lock()
	c.inbound = fn
	c.mu.Unlock()
}

// deliver hands one inbound message to the inbound handler.
func (c *Client) deliver(gen uint64, topic string, payload []byte) {
	c.mu.Lock()
	fn := c.inbound
	current := gen == c.gen
	c.mu.Unlock()

	if !current || fn == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.getLogger().Error("mqtt inbound handler panic recovered",
				"topic", topic,
				"panic", r,
			)
		}
	}()
	fn(topic, payload)
}

// HealthCheck verifies the MQTT connection is up.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if c.Status() != StatusConnected {
		return ErrNotConnected
	}
	return nil
}

// BrokerURL returns the broker of the current or most recent connection.
func (c *Client) BrokerURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts.BrokerURL
}

// SetLogger sets a logger for connection and handler diagnostics.
func (c *Client) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}
