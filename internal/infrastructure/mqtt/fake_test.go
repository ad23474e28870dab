package mqtt

import (
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// fakeToken is a paho token that completes immediately, never completes
// (timeout), or completes when gate is closed.
type fakeToken struct {
	err     error
	timeout bool
	gate    chan struct{}
}

func (t *fakeToken) Wait() bool { return t.WaitTimeout(time.Hour) }

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	if t.timeout {
		return false
	}
	if t.gate == nil {
		return true
	}
	select {
	case <-t.gate:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if !t.timeout && t.gate == nil {
		close(ch)
	}
	return ch
}

func (t *fakeToken) Error() error { return t.err }

// fakeMessage implements pahomqtt.Message.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type fakePublish struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakePaho records every call made by Client.
type fakePaho struct {
	opts *pahomqtt.ClientOptions

	mu           sync.Mutex
	connectToken *fakeToken
	publishToken *fakeToken
	subToken     *fakeToken
	unsubToken   *fakeToken
	publishes    []fakePublish
	subscribes   []string
	unsubscribes []string
	disconnects  int
	quiesce      uint
}

func (f *fakePaho) IsConnected() bool      { return true }
func (f *fakePaho) IsConnectionOpen() bool { return true }

func (f *fakePaho) Connect() pahomqtt.Token {
	if f.connectToken != nil {
		return f.connectToken
	}
	return &fakeToken{}
}

func (f *fakePaho) Disconnect(quiesce uint) {
	f.mu.Lock()
	f.disconnects++
	f.quiesce = quiesce
	f.mu.Unlock()
}

func (f *fakePaho) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, _ := payload.([]byte)
	f.publishes = append(f.publishes, fakePublish{topic: topic, qos: qos, retained: retained, payload: b})
	if f.publishToken != nil {
		return f.publishToken
	}
	return &fakeToken{}
}

func (f *fakePaho) Subscribe(topic string, _ byte, _ pahomqtt.MessageHandler) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes = append(f.subscribes, topic)
	if f.subToken != nil {
		return f.subToken
	}
	return &fakeToken{}
}

func (f *fakePaho) SubscribeMultiple(map[string]byte, pahomqtt.MessageHandler) pahomqtt.Token {
	return &fakeToken{}
}

func (f *fakePaho) Unsubscribe(topics ...string) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribes = append(f.unsubscribes, topics...)
	if f.unsubToken != nil {
		return f.unsubToken
	}
	return &fakeToken{}
}

func (f *fakePaho) AddRoute(string, pahomqtt.MessageHandler) {}

func (f *fakePaho) OptionsReader() pahomqtt.ClientOptionsReader {
	return pahomqtt.NewOptionsReader(f.opts)
}

func (f *fakePaho) subscribeCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.subscribes...)
}

func (f *fakePaho) unsubscribeCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.unsubscribes...)
}

func (f *fakePaho) publishCalls() []fakePublish {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fakePublish(nil), f.publishes...)
}

func (f *fakePaho) lastQuiesce() uint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quiesce
}

func (f *fakePaho) disconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

// fakeFactory creates fakePaho clients; prepare customises each new one.
type fakeFactory struct {
	mu      sync.Mutex
	clients []*fakePaho
	prepare func(*fakePaho)
}

func (ff *fakeFactory) newClient(opts *pahomqtt.ClientOptions) pahomqtt.Client {
	f := &fakePaho{opts: opts}
	ff.mu.Lock()
	if ff.prepare != nil {
		ff.prepare(f)
	}
	ff.clients = append(ff.clients, f)
	ff.mu.Unlock()
	return f
}

func (ff *fakeFactory) count() int {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return len(ff.clients)
}

func (ff *fakeFactory) last() *fakePaho {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if len(ff.clients) == 0 {
		return nil
	}
	return ff.clients[len(ff.clients)-1]
}

func newTestClient(t *testing.T) (*Client, *fakeFactory) {
	t.Helper()
	ff := &fakeFactory{}
	return newClientWithFactory(ff.newClient), ff
}

func testOptions() Options {
	return Options{
		BrokerURL:        "tcp://127.0.0.1:1883",
		ClientID:         "echobeacon-test",
		QoS:              1,
		ConnectTimeout:   time.Second,
		OperationTimeout: 100 * time.Millisecond,
	}
}

// waitForStatus polls until the client reaches want and the transition's
// listeners have run.
func waitForStatus(t *testing.T, c *Client, want Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.Status() == want {
			c.transMu.Lock()
			c.transMu.Unlock() //nolint:staticcheck // waits for in-flight notifications
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Status() = %s, want %s", c.Status(), want)
}

// connectedClient returns a client that has completed a connection.
func connectedClient(t *testing.T) (*Client, *fakeFactory) {
	t.Helper()
	c, ff := newTestClient(t)
	if err := c.Connect(testOptions()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitForStatus(t, c, StatusConnected)
	return c, ff
}

// fakeTransport is a Transport with a manually driven status.
type fakeTransport struct {
	mu           sync.Mutex
	status       Status
	subscribes   []string
	unsubscribes []string
	subErr       error
	inbound      func(topic string, payload []byte)
	listeners    []func(StatusChange)
}

func newFakeTransport(status Status) *fakeTransport {
	return &fakeTransport{status: status}
}

func (f *fakeTransport) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeTransport) SubscribeRaw(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return f.subErr
	}
	f.subscribes = append(f.subscribes, topic)
	return nil
}

func (f *fakeTransport) UnsubscribeRaw(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribes = append(f.unsubscribes, topic)
	return nil
}

func (f *fakeTransport) SetInboundHandler(fn func(topic string, payload []byte)) {
	f.mu.Lock()
	f.inbound = fn
	f.mu.Unlock()
}

func (f *fakeTransport) OnStatusChange(fn func(StatusChange)) func() {
	f.mu.Lock()
	f.listeners = append(f.listeners, fn)
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.listeners = nil
		f.mu.Unlock()
	}
}

func (f *fakeTransport) setStatus(s Status) {
	f.mu.Lock()
	from := f.status
	f.status = s
	listeners := append([]func(StatusChange){}, f.listeners...)
	f.mu.Unlock()
	for _, fn := range listeners {
		fn(StatusChange{From: from, To: s})
	}
}

func (f *fakeTransport) deliver(topic string, payload []byte) {
	f.mu.Lock()
	fn := f.inbound
	f.mu.Unlock()
	if fn != nil {
		fn(topic, payload)
	}
}

func (f *fakeTransport) counts(topic string) (subs, unsubs int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subscribes {
		if s == topic {
			subs++
		}
	}
	for _, s := range f.unsubscribes {
		if s == topic {
			unsubs++
		}
	}
	return subs, unsubs
}
