// Package dispatch provides the asynchronous boundary between mutation
// extraction and the event store.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	eventbus "github.com/hanpama/mutagraph/internal/eventbus"
	events "github.com/hanpama/mutagraph/internal/events"
	metrics "github.com/hanpama/mutagraph/internal/metrics"
	mutation "github.com/hanpama/mutagraph/internal/mutation"
	sink "github.com/hanpama/mutagraph/internal/sink"
)

var (
	// ErrClosed reports a Record after Close. The call is not persisted.
	ErrClosed = errors.New("dispatch: closed")
	// ErrQueueFull reports a dropped call: its stream queue was at
	// capacity. Persistence here is best-effort; the request path is
	// never blocked on store backpressure.
	ErrQueueFull = errors.New("dispatch: stream queue full")
)

const (
	defaultQueueCapacity = 256
	defaultAppendTimeout = 10 * time.Second
)

// Dispatcher decorates a backend sink with fire-and-forget submission.
// Record enqueues and returns; one worker per stream drains its queue in
// FIFO order, so appends for one stream never reorder while distinct
// streams proceed concurrently. Workers are supervised: every failure is
// logged, counted, and published, never swallowed — and never retried.
type Dispatcher struct {
	backend       sink.Sink
	name          string
	logger        *slog.Logger
	metrics       *metrics.Set
	queueCap      int
	appendTimeout time.Duration

	mu     sync.Mutex
	queues map[string]chan item
	closed bool
	wg     sync.WaitGroup
}

var _ sink.Sink = (*Dispatcher)(nil)

type item struct {
	ctx  context.Context
	call mutation.Call
}

type Option func(*Dispatcher)

func WithLogger(l *slog.Logger) Option         { return func(d *Dispatcher) { d.logger = l } }
func WithMetrics(m *metrics.Set) Option        { return func(d *Dispatcher) { d.metrics = m } }
func WithQueueCapacity(n int) Option           { return func(d *Dispatcher) { d.queueCap = n } }
func WithAppendTimeout(t time.Duration) Option { return func(d *Dispatcher) { d.appendTimeout = t } }

// WithBackendName sets the label used in logs, metrics and events.
func WithBackendName(name string) Option { return func(d *Dispatcher) { d.name = name } }

func New(backend sink.Sink, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		backend:       backend,
		name:          "sink",
		queueCap:      defaultQueueCapacity,
		appendTimeout: defaultAppendTimeout,
		queues:        make(map[string]chan item),
	}
	for _, o := range opts {
		o(d)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	d.logger = d.logger.With("component", "dispatch")
	if d.metrics == nil {
		d.metrics = metrics.New()
	}
	return d
}

// Record enqueues c for its stream and returns without waiting for the
// append. The call is handed off under a context detached from
// cancellation: a request timeout or client disconnect after this point
// never retracts the append.
func (d *Dispatcher) Record(ctx context.Context, c mutation.Call) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.metrics.DispatchDropped.Inc()
		return ErrClosed
	}
	q := d.queues[c.Stream]
	if q == nil {
		q = make(chan item, d.queueCap)
		d.queues[c.Stream] = q
		d.wg.Add(1)
		go d.drain(c.Stream, q)
	}
	select {
	case q <- item{ctx: context.WithoutCancel(ctx), call: c}:
		d.metrics.DispatchQueueDepth.WithLabelValues(c.Stream).Inc()
		return nil
	default:
		d.metrics.DispatchDropped.Inc()
		d.logger.ErrorContext(ctx, "stream queue full, dropping call",
			"stream", c.Stream, "eventType", c.EventType)
		return ErrQueueFull
	}
}

// Close stops intake and waits for the queued appends to land, up to ctx's
// deadline. Safe to call more than once.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	for _, q := range d.queues {
		close(q)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatch: drain interrupted: %w", ctx.Err())
	}
}

func (d *Dispatcher) drain(stream string, q chan item) {
	defer d.wg.Done()
	for it := range q {
		d.metrics.DispatchQueueDepth.WithLabelValues(stream).Dec()
		d.append(it.ctx, it.call)
	}
}

func (d *Dispatcher) append(ctx context.Context, c mutation.Call) {
	if d.appendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.appendTimeout)
		defer cancel()
	}
	start := time.Now()
	eventbus.Publish(ctx, events.SinkAppendStart{Stream: c.Stream, EventType: c.EventType, Backend: d.name})
	err := d.backend.Record(ctx, c)
	dur := time.Since(start)
	eventbus.Publish(ctx, events.SinkAppendFinish{
		Stream:    c.Stream,
		EventType: c.EventType,
		Backend:   d.name,
		Err:       err,
		Duration:  dur,
	})
	outcome := "ok"
	if err != nil {
		outcome = "error"
		d.logger.ErrorContext(ctx, "append failed",
			"stream", c.Stream, "eventType", c.EventType, "error", err)
	}
	d.metrics.SinkAppends.WithLabelValues(d.name, outcome).Inc()
	d.metrics.SinkAppendDuration.WithLabelValues(d.name).Observe(dur.Seconds())
}
