package mqtt

import (
	"crypto/tls"
	"fmt"
	"net/url"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/GuLopes14/echobeacon-core/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for CONNACK.
	defaultConnectTimeout = 10 * time.Second

	// defaultOperationTimeout bounds publish/subscribe acknowledgements.
	defaultOperationTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 60 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// clientIDPrefix is used when no client ID is configured.
	clientIDPrefix = "echobeacon-"

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// secureSchemes are the broker URL schemes that need a TLS configuration.
var secureSchemes = map[string]bool{"ssl": true, "tls": true, "mqtts": true, "wss": true}

// supportedSchemes are the broker URL schemes paho can dial.
var supportedSchemes = map[string]bool{
	"tcp": true, "mqtt": true,
	"ssl": true, "tls": true, "mqtts": true,
	"ws": true, "wss": true,
}

// Options describes one broker connection.
type Options struct {
	// BrokerURL is the broker endpoint, e.g. "tcp://localhost:1883" or
	// "wss://broker.hivemq.com:8884/mqtt".
	BrokerURL string

	// ClientID identifies the session. A random ID is generated when empty.
	ClientID string

	Username string
	Password string

	KeepAlive    time.Duration
	CleanSession bool
	QoS          byte

	// ConnectTimeout bounds the wait for the broker to accept the connection.
	ConnectTimeout time.Duration

	// OperationTimeout bounds publish, subscribe and unsubscribe.
	OperationTimeout time.Duration
}

// OptionsFromConfig converts the mqtt section of config.yaml.
func OptionsFromConfig(cfg config.MQTTConfig) Options {
	return Options{
		BrokerURL:        cfg.Broker.URL,
		ClientID:         cfg.Broker.ClientID,
		Username:         cfg.Auth.Username,
		Password:         cfg.Auth.Password,
		KeepAlive:        time.Duration(cfg.KeepAlive) * time.Second,
		CleanSession:     cfg.CleanSession,
		QoS:              byte(cfg.QoS), //nolint:gosec // range checked by config.Validate
		ConnectTimeout:   time.Duration(cfg.ConnectTimeout) * time.Second,
		OperationTimeout: time.Duration(cfg.OperationTimeout) * time.Second,
	}
}

// Validate checks that the options describe a dialable broker.
func (o Options) Validate() error {
	if o.BrokerURL == "" {
		return fmt.Errorf("%w: broker URL is required", ErrInvalidOptions)
	}
	u, err := url.Parse(o.BrokerURL)
	if err != nil {
		return fmt.Errorf("%w: parsing broker URL: %w", ErrInvalidOptions, err)
	}
	if !supportedSchemes[strings.ToLower(u.Scheme)] {
		return fmt.Errorf("%w: unsupported broker scheme %q", ErrInvalidOptions, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: broker URL %q has no host", ErrInvalidOptions, o.BrokerURL)
	}
	if o.QoS > maxQoS {
		return fmt.Errorf("%w: QoS %d (must be 0, 1, or 2)", ErrInvalidOptions, o.QoS)
	}
	if o.ConnectTimeout < 0 || o.OperationTimeout < 0 || o.KeepAlive < 0 {
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidOptions)
	}
	return nil
}

// withDefaults fills zero values.
func (o Options) withDefaults() Options {
	if o.ClientID == "" {
		o.ClientID = clientIDPrefix + uuid.NewString()[:8]
	}
	if o.KeepAlive == 0 {
		o.KeepAlive = defaultKeepAlive
	}
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = defaultConnectTimeout
	}
	if o.OperationTimeout == 0 {
		o.OperationTimeout = defaultOperationTimeout
	}
	return o
}

// buildClientOptions creates paho options for one connection attempt.
//
// Reconnection is left to the caller: paho's auto-reconnect and connect-retry
// are both disabled, so a dropped connection stays down until Connect is
// called again.
func buildClientOptions(o Options) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(o.BrokerURL)
	opts.SetClientID(o.ClientID)

	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}

	opts.SetCleanSession(o.CleanSession)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(o.ConnectTimeout)
	opts.SetKeepAlive(o.KeepAlive)
	opts.SetWriteTimeout(o.OperationTimeout)

	// Messages for one topic reach the registry in broker order.
	opts.SetOrderMatters(true)

	if u, err := url.Parse(o.BrokerURL); err == nil && secureSchemes[strings.ToLower(u.Scheme)] {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
		})
	}

	return opts
}
