package mqtt

import (
	"context"
	"errors"

	"github.com/looplab/fsm"
)

// Status is the connection state of a Client.
type Status string

// Connection states.
const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// Status machine events.
const (
	eventConnect    = "connect"
	eventConnected  = "connected"
	eventFail       = "fail"
	eventDisconnect = "disconnect"
)

// StatusChange describes one transition. Err is set when To is StatusError.
type StatusChange struct {
	From Status
	To   Status
	Err  error
}

// newStatusMachine builds the connection state machine:
//
//	disconnected|error|connected --connect--> connecting
//	connecting --connected--> connected
//	connecting|connected --fail--> error
//	any --disconnect--> disconnected
func newStatusMachine() *fsm.FSM {
	all := []string{
		string(StatusDisconnected), string(StatusConnecting),
		string(StatusConnected), string(StatusError),
	}
	return fsm.NewFSM(
		string(StatusDisconnected),
		fsm.Events{
			{Name: eventConnect, Src: all, Dst: string(StatusConnecting)},
			{Name: eventConnected, Src: []string{string(StatusConnecting)}, Dst: string(StatusConnected)},
			{Name: eventFail, Src: []string{string(StatusConnecting), string(StatusConnected)}, Dst: string(StatusError)},
			{Name: eventDisconnect, Src: all, Dst: string(StatusDisconnected)},
		},
		fsm.Callbacks{},
	)
}

// statusListener is one OnStatusChange registration.
type statusListener struct {
	id uint64
	fn func(StatusChange)
}

// transition fires event on the status machine when gen is still the
// current connection generation, then notifies listeners in registration
// order. Calls are serialised by transMu so listeners observe transitions
// in the order they happened.
func (c *Client) transition(gen uint64, event string, cause error) {
	c.transMu.Lock()
	defer c.transMu.Unlock()

	c.mu.Lock()
	stale := gen != c.gen
	c.mu.Unlock()
	if stale {
		return
	}

	from := Status(c.machine.Current())
	if err := c.machine.Event(context.Background(), event); err != nil {
		var noTransition fsm.NoTransitionError
		if !errors.As(err, &noTransition) {
			c.getLogger().Debug("ignoring mqtt status event",
				"event", event,
				"status", from,
				"error", err,
			)
		}
		return
	}
	to := Status(c.machine.Current())

	c.mu.Lock()
	switch to {
	case StatusError:
		c.lastErr = cause
	case StatusConnecting:
		c.lastErr = nil
	}
	listeners := make([]statusListener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	change := StatusChange{From: from, To: to}
	if to == StatusError {
		change.Err = cause
	}

	c.getLogger().Info("mqtt status changed", "from", from, "to", to)
	for _, l := range listeners {
		c.notify(l, change)
	}
}

// notify calls one listener, recovering from panics.
func (c *Client) notify(l statusListener, change StatusChange) {
	defer func() {
		if r := recover(); r != nil {
			c.getLogger().Error("mqtt status listener panic recovered", "panic", r)
		}
	}()
	l.fn(change)
}

// Status returns the current connection state.
func (c *Client) Status() Status {
	return Status(c.machine.Current())
}

// LastError returns the error that caused the most recent transition to
// StatusError. It is cleared when a new connection attempt starts.
func (c *Client) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// OnStatusChange registers fn to be called on every status transition.
// Listeners run synchronously on the goroutine that caused the transition
// and must not call Connect or Disconnect. The returned function removes
// the listener.
func (c *Client) OnStatusChange(fn func(StatusChange)) (remove func()) {
	c.mu.Lock()
	c.nextListener++
	id := c.nextListener
	c.listeners = append(c.listeners, statusListener{id: id, fn: fn})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, l := range c.listeners {
			if l.id == id {
				c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
				return
			}
		}
	}
}
