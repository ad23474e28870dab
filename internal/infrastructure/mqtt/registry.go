package mqtt

import (
	"fmt"
	"sort"
	"sync"
)

// Transport is the part of Client the Registry depends on.
type Transport interface {
	Status() Status
	SubscribeRaw(topic string) error
	UnsubscribeRaw(topic string) error
	SetInboundHandler(fn func(topic string, payload []byte))
	OnStatusChange(fn func(StatusChange)) (remove func())
}

// Subscription identifies one handler registered with a Registry.
type Subscription struct {
	id    uint64
	topic string
}

// Topic returns the topic filter the subscription was made on.
func (s Subscription) Topic() string { return s.topic }

type handlerEntry struct {
	id      uint64
	handler MessageHandler
}

// Registry multiplexes one broker subscription per topic across any number
// of handlers. It is the only caller of the transport's SubscribeRaw and
// UnsubscribeRaw.
//
// Broker subscriptions are issued only while the transport is connected;
// after every transition into StatusConnected the registry re-subscribes
// each topic that still has handlers.
type Registry struct {
	transport Transport

	// subMu serialises broker operations so the first/last handler checks
	// and the matching raw calls happen together. Dispatch never takes it.
	subMu sync.Mutex

	mu     sync.RWMutex
	topics map[string][]handlerEntry
	nextID uint64

	removeListener func()

	logger   Logger
	loggerMu sync.RWMutex
}

// NewRegistry creates a registry and installs it as the transport's
// inbound handler and status listener.
func NewRegistry(transport Transport) *Registry {
	r := &Registry{
		transport: transport,
		topics:    make(map[string][]handlerEntry),
		logger:    noopLogger{},
	}
	transport.SetInboundHandler(r.Dispatch)
	r.removeListener = transport.OnStatusChange(r.handleStatusChange)
	return r
}

// Close detaches the registry from the transport. Handlers stay registered
// but no longer receive messages.
func (r *Registry) Close() {
	if r.removeListener != nil {
		r.removeListener()
	}
	r.transport.SetInboundHandler(nil)
}

// Subscribe registers handler for topic. The first handler for a topic
// subscribes the broker when connected; otherwise the broker subscription
// is made on the next connect.
//
// If the broker subscription fails the handler is not registered.
func (r *Registry) Subscribe(topic string, handler MessageHandler) (Subscription, error) {
	if err := validateFilter(topic); err != nil {
		return Subscription{}, err
	}
	if handler == nil {
		return Subscription{}, fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}

	r.subMu.Lock()
	defer r.subMu.Unlock()

	r.mu.Lock()
	r.nextID++
	sub := Subscription{id: r.nextID, topic: topic}
	first := len(r.topics[topic]) == 0
	r.topics[topic] = append(r.topics[topic], handlerEntry{id: sub.id, handler: handler})
	r.mu.Unlock()

	if first && r.transport.Status() == StatusConnected {
		if err := r.transport.SubscribeRaw(topic); err != nil {
			r.remove(sub)
			return Subscription{}, err
		}
	}

	return sub, nil
}

// Unsubscribe removes one handler. Removing the last handler for a topic
// unsubscribes the broker when connected. Unknown subscriptions are ignored.
func (r *Registry) Unsubscribe(sub Subscription) error {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	found, empty := r.remove(sub)
	if !found || !empty {
		return nil
	}
	return r.unsubscribeBroker(sub.topic)
}

// UnsubscribeAll removes every handler for topic.
func (r *Registry) UnsubscribeAll(topic string) error {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	r.mu.Lock()
	_, had := r.topics[topic]
	delete(r.topics, topic)
	r.mu.Unlock()

	if !had {
		return nil
	}
	return r.unsubscribeBroker(topic)
}

// remove deletes sub from the handler table and reports whether it was
// present and whether its topic is now empty.
func (r *Registry) remove(sub Subscription) (found, empty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.topics[sub.topic]
	for i, e := range entries {
		if e.id != sub.id {
			continue
		}
		entries = append(entries[:i:i], entries[i+1:]...)
		if len(entries) == 0 {
			delete(r.topics, sub.topic)
			return true, true
		}
		r.topics[sub.topic] = entries
		return true, false
	}
	return false, false
}

func (r *Registry) unsubscribeBroker(topic string) error {
	if r.transport.Status() != StatusConnected {
		return nil
	}
	return r.transport.UnsubscribeRaw(topic)
}

// Dispatch delivers one inbound message to every handler whose filter
// matches topic, in registration order. A handler that fails or panics is
// logged and does not stop the others.
func (r *Registry) Dispatch(topic string, payload []byte) {
	r.mu.RLock()
	var matched []handlerEntry
	for filter, entries := range r.topics {
		if TopicMatches(filter, topic) {
			matched = append(matched, entries...)
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].id < matched[j].id })

	for _, e := range matched {
		r.invoke(e, topic, payload)
	}
}

func (r *Registry) invoke(e handlerEntry, topic string, payload []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			r.getLogger().Error("MQTT handler panic recovered",
				"topic", topic,
				"panic", rec,
			)
		}
	}()

	if err := e.handler(topic, payload); err != nil {
		r.getLogger().Warn("MQTT handler returned error",
			"topic", topic,
			"error", err,
		)
	}
}

// handleStatusChange re-subscribes every topic after a (re)connect.
func (r *Registry) handleStatusChange(change StatusChange) {
	if change.To != StatusConnected || change.From == StatusConnected {
		return
	}

	r.subMu.Lock()
	defer r.subMu.Unlock()

	for _, topic := range r.Topics() {
		if err := r.transport.SubscribeRaw(topic); err != nil {
			r.getLogger().Error("restoring MQTT subscription",
				"topic", topic,
				"error", err,
			)
		}
	}
}

// Topics returns the topics that currently have handlers, sorted.
func (r *Registry) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	topics := make([]string, 0, len(r.topics))
	for t := range r.topics {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

// HandlerCount returns the number of handlers registered for topic.
func (r *Registry) HandlerCount(topic string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics[topic])
}

// SetLogger sets a logger for handler failures.
func (r *Registry) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	r.loggerMu.Lock()
	r.logger = logger
	r.loggerMu.Unlock()
}

func (r *Registry) getLogger() Logger {
	r.loggerMu.RLock()
	defer r.loggerMu.RUnlock()
	return r.logger
}
