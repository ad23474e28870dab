package mqtt

import (
	"fmt"
	"strings"
)

// Maximum payload size for MQTT messages (1MB).
const maxPayloadSize = 1 << 20

// Publish sends payload to topic with the connection's QoS, not retained.
// It waits at most OperationTimeout for the broker acknowledgement.
//
// Example:
//
//	err := client.Publish("fiap/iot/echobeacon/comando", []byte(`{"comando":"ativar"}`))
func (c *Client) Publish(topic string, payload []byte) error {
	if err := validatePublishTopic(topic); err != nil {
		return err
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	pc, opts, _, ok := c.active()
	if !ok {
		return ErrNotConnected
	}

	token := pc.Publish(topic, opts.QoS, false, payload)
	if !token.WaitTimeout(opts.OperationTimeout) {
		return fmt.Errorf("%w: %w after %v", ErrPublishFailed, ErrTimeout, opts.OperationTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// SubscribeRaw subscribes the connection to topic. Messages arrive through
// the inbound handler. Subscribing to a topic already subscribed on the
// current connection is a no-op.
//
// Only the Registry should call this; other code subscribes through it.
func (c *Client) SubscribeRaw(topic string) error {
	if err := validateFilter(topic); err != nil {
		return err
	}

	pc, opts, gen, ok := c.active()
	if !ok {
		return ErrNotConnected
	}

	c.mu.Lock()
	_, exists := c.brokerSubs[topic]
	c.mu.Unlock()
	if exists {
		return nil
	}

	token := pc.Subscribe(topic, opts.QoS, nil)
	if !token.WaitTimeout(opts.OperationTimeout) {
		return fmt.Errorf("%w: %w after %v", ErrSubscribeFailed, ErrTimeout, opts.OperationTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	c.mu.Lock()
	if gen == c.gen {
		c.brokerSubs[topic] = struct{}{}
	}
	c.mu.Unlock()
	return nil
}

// UnsubscribeRaw removes the broker subscription for topic. It is a no-op
// when the topic is not subscribed on the current connection.
func (c *Client) UnsubscribeRaw(topic string) error {
	if err := validateFilter(topic); err != nil {
		return err
	}

	pc, opts, gen, ok := c.active()
	if !ok {
		return ErrNotConnected
	}

	c.mu.Lock()
	_, exists := c.brokerSubs[topic]
	c.mu.Unlock()
	if !exists {
		return nil
	}

	token := pc.Unsubscribe(topic)
	if !token.WaitTimeout(opts.OperationTimeout) {
		return fmt.Errorf("%w: %w after %v", ErrUnsubscribeFailed, ErrTimeout, opts.OperationTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}

	c.mu.Lock()
	if gen == c.gen {
		delete(c.brokerSubs, topic)
	}
	c.mu.Unlock()
	return nil
}

// validatePublishTopic rejects empty topics and wildcards.
func validatePublishTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: topic cannot be empty", ErrInvalidTopic)
	}
	if strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: wildcards are not allowed when publishing to %q", ErrInvalidTopic, topic)
	}
	return nil
}

// validateFilter checks a subscription filter. '#' must be the last level
// and wildcards must occupy a whole level.
func validateFilter(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: topic cannot be empty", ErrInvalidTopic)
	}
	levels := strings.Split(topic, "/")
	for i, level := range levels {
		if !strings.ContainsAny(level, "+#") {
			continue
		}
		if len(level) != 1 {
			return fmt.Errorf("%w: wildcard must occupy a whole level in %q", ErrInvalidTopic, topic)
		}
		if level == "#" && i != len(levels)-1 {
			return fmt.Errorf("%w: '#' must be the last level in %q", ErrInvalidTopic, topic)
		}
	}
	return nil
}
