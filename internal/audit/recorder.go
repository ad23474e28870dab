package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/GuLopes14/echobeacon-core/internal/metrics"
)

const (
	// DefaultQueueSize is used when NewRecorder gets a size below one.
	DefaultQueueSize = 256

	writeTimeout = 5 * time.Second
)

// Logger is the logging interface used by the recorder.
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

// MirrorFunc receives every record after its write was attempted.
type MirrorFunc func(rec Record)

// Recorder queues records and writes them to a Sink from one goroutine.
//
// Record never blocks: when the queue is full the record is dropped and a
// warning is logged. Write failures are logged and counted, never returned.
// Close stops accepting records and waits for the queue to drain.
type Recorder struct {
	sink   Sink
	queue  chan *Record
	now    func() time.Time
	logger Logger

	mu      sync.RWMutex
	closed  bool
	started bool
	mirrors []MirrorFunc

	done chan struct{}
}

// NewRecorder creates a recorder writing to sink. Call Start to begin draining.
func NewRecorder(sink Sink, queueSize int) *Recorder {
	if queueSize < 1 {
		queueSize = DefaultQueueSize
	}
	return &Recorder{
		sink:   sink,
		queue:  make(chan *Record, queueSize),
		now:    func() time.Time { return time.Now().UTC() },
		logger: noopLogger{},
		done:   make(chan struct{}),
	}
}

// SetLogger sets the logger.
func (r *Recorder) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	r.mu.Lock()
	r.logger = logger
	r.mu.Unlock()
}

// AddMirror registers fn to receive every record. Mirrors run on the
// drain goroutine and must not block.
func (r *Recorder) AddMirror(fn MirrorFunc) {
	r.mu.Lock()
	r.mirrors = append(r.mirrors, fn)
	r.mu.Unlock()
}

// Start launches the drain goroutine. Calling it twice has no effect.
func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.closed {
		return
	}
	r.started = true
	go r.drain()
}

// Record queues a message for writing. The payload is parsed with
// ParsePayload. It reports whether the record was queued.
func (r *Recorder) Record(direction Direction, topic string, payload []byte) bool {
	rec := &Record{
		Direction: direction,
		Topic:     topic,
		Payload:   ParsePayload(payload),
		CreatedAt: r.now(),
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		metrics.AuditRecords.WithLabelValues(string(direction), "dropped").Inc()
		r.logger.Warn("audit recorder closed, dropping record", "direction", direction, "topic", topic)
		return false
	}

	select {
	case r.queue <- rec:
		metrics.AuditQueueDepth.Set(float64(len(r.queue)))
		return true
	default:
		metrics.AuditRecords.WithLabelValues(string(direction), "dropped").Inc()
		r.logger.Warn("audit queue full, dropping record", "direction", direction, "topic", topic)
		return false
	}
}

func (r *Recorder) drain() {
	defer close(r.done)
	for rec := range r.queue {
		metrics.AuditQueueDepth.Set(float64(len(r.queue)))
		r.write(rec)
	}
}

func (r *Recorder) write(rec *Record) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	r.mu.RLock()
	logger := r.logger
	mirrors := r.mirrors
	r.mu.RUnlock()

	if err := r.create(ctx, rec); err != nil {
		metrics.AuditRecords.WithLabelValues(string(rec.Direction), "failed").Inc()
		logger.Error("audit write failed",
			"direction", rec.Direction,
			"topic", rec.Topic,
			"error", err,
		)
	} else {
		metrics.AuditRecords.WithLabelValues(string(rec.Direction), "written").Inc()
	}

	for _, fn := range mirrors {
		mirror(logger, fn, *rec)
	}
}

// create calls the sink, turning a panic into ErrWriteFailed so the drain
// goroutine survives it.
func (r *Recorder) create(ctx context.Context, rec *Record) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: sink panicked: %v", ErrWriteFailed, p)
		}
	}()
	return r.sink.Create(ctx, rec)
}

func mirror(logger Logger, fn MirrorFunc, rec Record) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("audit mirror panicked", "topic", rec.Topic, "panic", p)
		}
	}()
	fn(rec)
}

// Close stops accepting records and waits until every queued record has
// been written or ctx ends.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return r.wait(ctx)
	}
	r.closed = true
	close(r.queue)
	if !r.started {
		r.started = true
		go r.drain()
	}
	r.mu.Unlock()

	return r.wait(ctx)
}

func (r *Recorder) wait(ctx context.Context) error {
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
