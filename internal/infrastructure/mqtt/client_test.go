package mqtt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect(t *testing.T) {
	c, ff := newTestClient(t)

	var mu sync.Mutex
	var changes []StatusChange
	c.OnStatusChange(func(ch StatusChange) {
		mu.Lock()
		changes = append(changes, ch)
		mu.Unlock()
	})

	if err := c.Connect(testOptions()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitForStatus(t, c, StatusConnected)

	mu.Lock()
	defer mu.Unlock()
	want := []StatusChange{
		{From: StatusDisconnected, To: StatusConnecting},
		{From: StatusConnecting, To: StatusConnected},
	}
	if len(changes) != len(want) {
		t.Fatalf("got %d status changes %v, want %v", len(changes), changes, want)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("change[%d] = %+v, want %+v", i, changes[i], want[i])
		}
	}

	opts := ff.last().opts
	if opts.AutoReconnect {
		t.Error("AutoReconnect should be disabled")
	}
	if opts.ConnectRetry {
		t.Error("ConnectRetry should be disabled")
	}
	if !opts.Order {
		t.Error("ordered delivery should be enabled")
	}
	if opts.ClientID != "echobeacon-test" {
		t.Errorf("ClientID = %q, want %q", opts.ClientID, "echobeacon-test")
	}
}

func TestConnectGeneratesClientID(t *testing.T) {
	c, ff := newTestClient(t)

	opts := testOptions()
	opts.ClientID = ""
	if err := c.Connect(opts); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitForStatus(t, c, StatusConnected)

	if got := ff.last().opts.ClientID; len(got) <= len(clientIDPrefix) {
		t.Errorf("ClientID = %q, want generated id with prefix %q", got, clientIDPrefix)
	}
}

func TestConnectInvalidOptions(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{"empty", ""},
		{"unsupported scheme", "http://broker:80"},
		{"no host", "tcp://"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, ff := newTestClient(t)
			opts := testOptions()
			opts.BrokerURL = tt.url

			err := c.Connect(opts)
			if !errors.Is(err, ErrInvalidOptions) {
				t.Errorf("Connect() error = %v, want ErrInvalidOptions", err)
			}
			if c.Status() != StatusDisconnected {
				t.Errorf("Status() = %s, want disconnected", c.Status())
			}
			if ff.count() != 0 {
				t.Errorf("created %d paho clients, want 0", ff.count())
			}
		})
	}
}

func TestConnectFailure(t *testing.T) {
	c, ff := newTestClient(t)
	ff.prepare = func(f *fakePaho) {
		f.connectToken = &fakeToken{err: errors.New("not authorised")}
	}

	if err := c.Connect(testOptions()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitForStatus(t, c, StatusError)

	err := c.LastError()
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("LastError() = %v, want ErrConnectionFailed", err)
	}
	if !errors.Is(err, ErrTransport) {
		t.Errorf("LastError() = %v, want to match ErrTransport", err)
	}
	if ff.count() != 1 {
		t.Errorf("created %d paho clients, want 1 (no retry)", ff.count())
	}
}

func TestConnectTimeout(t *testing.T) {
	c, ff := newTestClient(t)
	ff.prepare = func(f *fakePaho) {
		f.connectToken = &fakeToken{timeout: true}
	}

	if err := c.Connect(testOptions()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitForStatus(t, c, StatusError)

	if !errors.Is(c.LastError(), ErrTimeout) {
		t.Errorf("LastError() = %v, want ErrTimeout", c.LastError())
	}
}

func TestConnectWhileConnectingReplacesAttempt(t *testing.T) {
	c, ff := newTestClient(t)
	gate := make(chan struct{})
	ff.prepare = func(f *fakePaho) {
		// prepare runs with the factory lock held.
		if len(ff.clients) == 0 {
			f.connectToken = &fakeToken{gate: gate}
		}
	}

	if err := c.Connect(testOptions()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if c.Status() != StatusConnecting {
		t.Fatalf("Status() = %s, want connecting", c.Status())
	}
	first := ff.last()

	second := testOptions()
	second.BrokerURL = "wss://broker.example.com:8884/mqtt"
	if err := c.Connect(second); err != nil {
		t.Fatalf("second Connect() error = %v", err)
	}
	waitForStatus(t, c, StatusConnected)
	if q := first.lastQuiesce(); q != defaultDisconnectQuiesce {
		t.Errorf("superseded client quiesce = %dms, want %dms", q, defaultDisconnectQuiesce)
	}

	// The first attempt completes late and must not disturb the new connection.
	close(gate)
	time.Sleep(20 * time.Millisecond)

	if c.Status() != StatusConnected {
		t.Errorf("Status() = %s, want connected", c.Status())
	}
	if first.disconnectCount() == 0 {
		t.Error("superseded paho client was not disconnected")
	}
	if c.BrokerURL() != second.BrokerURL {
		t.Errorf("BrokerURL() = %q, want %q", c.BrokerURL(), second.BrokerURL)
	}
	if ff.last().opts.TLSConfig == nil {
		t.Error("wss broker should get a TLS config")
	}
}

func TestConnectionLost(t *testing.T) {
	c, ff := connectedClient(t)

	lost := make(chan StatusChange, 1)
	c.OnStatusChange(func(ch StatusChange) {
		if ch.To == StatusError {
			lost <- ch
		}
	})

	f := ff.last()
	f.opts.OnConnectionLost(f, errors.New("EOF"))

	select {
	case ch := <-lost:
		if ch.From != StatusConnected || ch.To != StatusError {
			t.Errorf("change = %+v, want connected -> error", ch)
		}
		if !errors.Is(ch.Err, ErrConnectionLost) {
			t.Errorf("change.Err = %v, want ErrConnectionLost", ch.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("no status change after connection loss")
	}

	time.Sleep(20 * time.Millisecond)
	if ff.count() != 1 {
		t.Errorf("created %d paho clients, want 1 (no automatic reconnect)", ff.count())
	}
	if c.Status() != StatusError {
		t.Errorf("Status() = %s, want error", c.Status())
	}
}

func TestStaleConnectionLostIgnored(t *testing.T) {
	c, ff := connectedClient(t)
	old := ff.last()

	if err := c.Connect(testOptions()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitForStatus(t, c, StatusConnected)

	old.opts.OnConnectionLost(old, errors.New("EOF"))
	if c.Status() != StatusConnected {
		t.Errorf("Status() = %s after stale connection loss, want connected", c.Status())
	}
}

func TestDisconnect(t *testing.T) {
	c, ff := connectedClient(t)

	c.Disconnect()

	if c.Status() != StatusDisconnected {
		t.Errorf("Status() = %s, want disconnected", c.Status())
	}
	if ff.last().disconnectCount() != 1 {
		t.Errorf("paho Disconnect called %d times, want 1", ff.last().disconnectCount())
	}
	if q := ff.last().lastQuiesce(); q != defaultDisconnectQuiesce {
		t.Errorf("quiesce = %dms, want %dms", q, defaultDisconnectQuiesce)
	}

	// Second disconnect is a no-op.
	c.Disconnect()
	if c.Status() != StatusDisconnected {
		t.Errorf("Status() = %s, want disconnected", c.Status())
	}
}

func TestOnStatusChangeRemove(t *testing.T) {
	c, _ := newTestClient(t)

	var calls int
	remove := c.OnStatusChange(func(StatusChange) { calls++ })
	remove()

	if err := c.Connect(testOptions()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitForStatus(t, c, StatusConnected)
	c.Disconnect()

	if calls != 0 {
		t.Errorf("removed listener called %d times", calls)
	}
}

// =============================================================================
// HealthCheck Tests
// =============================================================================

func TestHealthCheck(t *testing.T) {
	c, _ := connectedClient(t)

	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v, want nil", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() expected error for cancelled context")
	}

	c.Disconnect()
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

// =============================================================================
// Publish Tests
// =============================================================================

func TestPublish(t *testing.T) {
	c, ff := connectedClient(t)

	payload := []byte(`{"comando":"ativar","numero_identificacao":"EB-001"}`)
	if err := c.Publish(DefaultCommandTopic, payload); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	calls := ff.last().publishCalls()
	if len(calls) != 1 {
		t.Fatalf("got %d publishes, want 1", len(calls))
	}
	got := calls[0]
	if got.topic != DefaultCommandTopic || got.qos != 1 || got.retained || string(got.payload) != string(payload) {
		t.Errorf("publish = %+v", got)
	}
}

func TestPublishErrors(t *testing.T) {
	t.Run("not connected", func(t *testing.T) {
		c, _ := newTestClient(t)
		err := c.Publish(DefaultCommandTopic, []byte("{}"))
		if !errors.Is(err, ErrNotConnected) {
			t.Errorf("Publish() error = %v, want ErrNotConnected", err)
		}
	})

	t.Run("invalid topics", func(t *testing.T) {
		c, _ := connectedClient(t)
		for _, topic := range []string{"", "fiap/+/status", "fiap/#"} {
			if err := c.Publish(topic, nil); !errors.Is(err, ErrInvalidTopic) {
				t.Errorf("Publish(%q) error = %v, want ErrInvalidTopic", topic, err)
			}
		}
	})

	t.Run("payload too large", func(t *testing.T) {
		c, _ := connectedClient(t)
		err := c.Publish(DefaultCommandTopic, make([]byte, maxPayloadSize+1))
		if !errors.Is(err, ErrPublishFailed) {
			t.Errorf("Publish() error = %v, want ErrPublishFailed", err)
		}
	})

	t.Run("broker error", func(t *testing.T) {
		c, ff := newTestClient(t)
		ff.prepare = func(f *fakePaho) { f.publishToken = &fakeToken{err: errors.New("denied")} }
		if err := c.Connect(testOptions()); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}
		waitForStatus(t, c, StatusConnected)

		err := c.Publish(DefaultCommandTopic, []byte("{}"))
		if !errors.Is(err, ErrPublishFailed) || !errors.Is(err, ErrTransport) {
			t.Errorf("Publish() error = %v, want ErrPublishFailed", err)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		c, ff := newTestClient(t)
		ff.prepare = func(f *fakePaho) { f.publishToken = &fakeToken{timeout: true} }
		if err := c.Connect(testOptions()); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}
		waitForStatus(t, c, StatusConnected)

		err := c.Publish(DefaultCommandTopic, []byte("{}"))
		if !errors.Is(err, ErrTimeout) {
			t.Errorf("Publish() error = %v, want ErrTimeout", err)
		}
	})
}

// =============================================================================
// Raw Subscription Tests
// =============================================================================

func TestSubscribeRawIdempotent(t *testing.T) {
	c, ff := connectedClient(t)

	for i := 0; i < 3; i++ {
		if err := c.SubscribeRaw(DefaultStatusTopic); err != nil {
			t.Fatalf("SubscribeRaw() error = %v", err)
		}
	}
	if got := ff.last().subscribeCalls(); len(got) != 1 {
		t.Errorf("broker subscribe calls = %v, want exactly one", got)
	}

	for i := 0; i < 2; i++ {
		if err := c.UnsubscribeRaw(DefaultStatusTopic); err != nil {
			t.Fatalf("UnsubscribeRaw() error = %v", err)
		}
	}
	if got := ff.last().unsubscribeCalls(); len(got) != 1 {
		t.Errorf("broker unsubscribe calls = %v, want exactly one", got)
	}
}

func TestSubscribeRawResetPerConnection(t *testing.T) {
	c, ff := connectedClient(t)
	if err := c.SubscribeRaw(DefaultStatusTopic); err != nil {
		t.Fatalf("SubscribeRaw() error = %v", err)
	}

	if err := c.Connect(testOptions()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitForStatus(t, c, StatusConnected)

	if err := c.SubscribeRaw(DefaultStatusTopic); err != nil {
		t.Fatalf("SubscribeRaw() error = %v", err)
	}
	if got := ff.last().subscribeCalls(); len(got) != 1 {
		t.Errorf("subscribe calls on new connection = %v, want one", got)
	}
}

func TestSubscribeRawErrors(t *testing.T) {
	c, _ := newTestClient(t)
	if err := c.SubscribeRaw(DefaultStatusTopic); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SubscribeRaw() error = %v, want ErrNotConnected", err)
	}

	c, ff := newTestClient(t)
	ff.prepare = func(f *fakePaho) { f.subToken = &fakeToken{err: errors.New("not authorised")} }
	if err := c.Connect(testOptions()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitForStatus(t, c, StatusConnected)

	if err := c.SubscribeRaw(DefaultStatusTopic); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("SubscribeRaw() error = %v, want ErrSubscribeFailed", err)
	}
	// A failed subscription is not remembered, so a retry reaches the broker.
	_ = c.SubscribeRaw(DefaultStatusTopic)
	if got := ff.last().subscribeCalls(); len(got) != 2 {
		t.Errorf("subscribe calls = %v, want 2", got)
	}

	if err := c.SubscribeRaw("fiap/#/status"); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("SubscribeRaw() error = %v, want ErrInvalidTopic", err)
	}
}

// =============================================================================
// Inbound Tests
// =============================================================================

func TestInboundDelivery(t *testing.T) {
	c, ff := connectedClient(t)

	var gotTopic, gotPayload string
	c.SetInboundHandler(func(topic string, payload []byte) {
		gotTopic, gotPayload = topic, string(payload)
	})

	f := ff.last()
	f.opts.DefaultPublishHandler(f, fakeMessage{topic: DefaultStatusTopic, payload: []byte("ok")})

	if gotTopic != DefaultStatusTopic || gotPayload != "ok" {
		t.Errorf("inbound = (%q, %q), want (%q, %q)", gotTopic, gotPayload, DefaultStatusTopic, "ok")
	}
}

func TestInboundPanicRecovered(t *testing.T) {
	c, ff := connectedClient(t)
	c.SetInboundHandler(func(string, []byte) { panic("boom") })

	f := ff.last()
	f.opts.DefaultPublishHandler(f, fakeMessage{topic: DefaultStatusTopic})
}

func TestInboundFromStaleConnectionDropped(t *testing.T) {
	c, ff := connectedClient(t)
	old := ff.last()

	if err := c.Connect(testOptions()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitForStatus(t, c, StatusConnected)

	var calls int
	c.SetInboundHandler(func(string, []byte) { calls++ })
	old.opts.DefaultPublishHandler(old, fakeMessage{topic: DefaultStatusTopic})

	if calls != 0 {
		t.Errorf("stale message delivered %d times, want 0", calls)
	}
}
