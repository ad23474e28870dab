package mqtt

import (
	"errors"
	"fmt"
)

// ErrTransport is the root of every broker-related failure. All other
// errors in this file wrap it, so callers can use errors.Is(err, ErrTransport)
// to tell transport problems apart from validation or storage errors.
var ErrTransport = errors.New("mqtt: transport error")

// Domain-specific errors for MQTT operations.
var (
	// ErrNotConnected is returned when attempting operations on a disconnected client.
	ErrNotConnected = fmt.Errorf("%w: client not connected", ErrTransport)

	// ErrConnectionFailed is returned when a connection attempt fails.
	ErrConnectionFailed = fmt.Errorf("%w: connection failed", ErrTransport)

	// ErrConnectionLost is recorded as the last error when an established
	// connection drops without a Disconnect call.
	ErrConnectionLost = fmt.Errorf("%w: connection lost", ErrTransport)

	// ErrPublishFailed is returned when a publish operation fails.
	ErrPublishFailed = fmt.Errorf("%w: publish failed", ErrTransport)

	// ErrSubscribeFailed is returned when a subscribe operation fails.
	ErrSubscribeFailed = fmt.Errorf("%w: subscribe failed", ErrTransport)

	// ErrUnsubscribeFailed is returned when an unsubscribe operation fails.
	ErrUnsubscribeFailed = fmt.Errorf("%w: unsubscribe failed", ErrTransport)

	// ErrTimeout is returned when a broker acknowledgement does not arrive in time.
	ErrTimeout = fmt.Errorf("%w: operation timed out", ErrTransport)

	// ErrInvalidTopic is returned when an empty or malformed topic is provided.
	ErrInvalidTopic = fmt.Errorf("%w: invalid topic", ErrTransport)

	// ErrInvalidOptions is returned by Connect when the connection options are unusable.
	ErrInvalidOptions = fmt.Errorf("%w: invalid connection options", ErrTransport)
)
