// Package intercept drives the mutation pipeline for one GraphQL
// operation: extract calls, submit them for persistence, report the
// outcome.
package intercept

import (
	"context"
	"errors"
	"log/slog"
	"time"

	eventbus "github.com/hanpama/mutagraph/internal/eventbus"
	events "github.com/hanpama/mutagraph/internal/events"
	extractor "github.com/hanpama/mutagraph/internal/extractor"
	language "github.com/hanpama/mutagraph/internal/language"
	metrics "github.com/hanpama/mutagraph/internal/metrics"
	mutation "github.com/hanpama/mutagraph/internal/mutation"
	sink "github.com/hanpama/mutagraph/internal/sink"
)

// State names where an operation ended up in the pipeline.
type State int

const (
	StateReceived State = iota
	StateExtracted
	StateDispatching
	StateCompleted
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateExtracted:
		return "extracted"
	case StateDispatching:
		return "dispatching"
	case StateCompleted:
		return "completed"
	case StateRejected:
		return "rejected"
	}
	return "unknown"
}

// Result reports the terminal state of one intercepted operation and the
// calls submitted for it.
type Result struct {
	State State
	Calls []mutation.Call
}

// Interceptor extracts mutation calls from parsed operations and hands
// them to a sink. Extraction failures reject the whole operation before
// anything is submitted. Submission failures are logged and counted but
// never surfaced to the caller: once extraction succeeds the operation
// proceeds regardless of store health.
type Interceptor struct {
	extractor *extractor.Extractor
	sink      sink.Sink
	logger    *slog.Logger
	metrics   *metrics.Set
}

type Option func(*Interceptor)

func WithLogger(l *slog.Logger) Option  { return func(i *Interceptor) { i.logger = l } }
func WithMetrics(m *metrics.Set) Option { return func(i *Interceptor) { i.metrics = m } }

func New(x *extractor.Extractor, s sink.Sink, opts ...Option) *Interceptor {
	i := &Interceptor{extractor: x, sink: s}
	for _, o := range opts {
		o(i)
	}
	if i.logger == nil {
		i.logger = slog.Default()
	}
	i.logger = i.logger.With("component", "intercept")
	if i.metrics == nil {
		i.metrics = metrics.New()
	}
	return i
}

// Intercept runs the pipeline for the named operation of doc. A non-nil
// error means the operation was rejected and must not reach the upstream;
// the zero-call completed result means there was nothing to record.
func (i *Interceptor) Intercept(ctx context.Context, doc *language.QueryDocument, operationName string, vars mutation.Variables) (Result, error) {
	start := time.Now()
	eventbus.Publish(ctx, events.MutationReceived{OperationName: operationName})

	calls, err := i.extractor.Extract(doc, operationName, vars)
	if err != nil {
		i.metrics.OperationsRejected.WithLabelValues(rejectionReason(err)).Inc()
		eventbus.Publish(ctx, events.MutationRejected{OperationName: operationName, Err: err})
		i.logger.WarnContext(ctx, "operation rejected",
			"operationName", operationName, "error", err)
		return Result{State: StateRejected}, err
	}

	fields := make([]string, len(calls))
	for n, c := range calls {
		fields[n] = c.FieldName
	}
	eventbus.Publish(ctx, events.MutationExtracted{OperationName: operationName, Fields: fields})

	if len(calls) == 0 {
		eventbus.Publish(ctx, events.MutationCompleted{
			OperationName: operationName,
			Duration:      time.Since(start),
		})
		return Result{State: StateCompleted}, nil
	}

	eventbus.Publish(ctx, events.MutationDispatching{OperationName: operationName, Calls: len(calls)})
	submitted := 0
	for _, c := range calls {
		i.metrics.MutationsExtracted.WithLabelValues(c.FieldName).Inc()
		if err := i.sink.Record(ctx, c); err != nil {
			i.logger.ErrorContext(ctx, "submission failed",
				"stream", c.Stream, "eventType", c.EventType, "error", err)
			continue
		}
		submitted++
	}

	eventbus.Publish(ctx, events.MutationCompleted{
		OperationName: operationName,
		Submitted:     submitted,
		Duration:      time.Since(start),
	})
	return Result{State: StateCompleted, Calls: calls}, nil
}

func rejectionReason(err error) string {
	var unbound *extractor.UnboundVariableError
	if errors.As(err, &unbound) {
		return "unbound_variable"
	}
	return "extraction"
}
