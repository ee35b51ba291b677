package otel

import (
	"context"
	"sync"

	eventbus "github.com/hanpama/mutagraph/internal/eventbus"
	events "github.com/hanpama/mutagraph/internal/events"
	reqid "github.com/hanpama/mutagraph/internal/reqid"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
)

// Setup configures OpenTelemetry and attaches eventbus subscribers.
// If endpoint is empty, no telemetry is configured.
func Setup(endpoint, service string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithInsecure()))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)

	sub := &subscriber{tracer: otel.Tracer("mutagraph")}
	sub.register()

	return tp.Shutdown, nil
}

type subscriber struct {
	tracer    trace.Tracer
	httpSpans sync.Map // rid -> trace.Span
	gqlSpans  sync.Map // rid -> trace.Span
	mutSpans  sync.Map // rid -> trace.Span
	sinkSpans sync.Map // rid+stream -> trace.Span
}

func (s *subscriber) register() {
	eventbus.Subscribe(func(ctx context.Context, e events.HTTPStart) {
		rid, _ := reqid.FromContext(ctx)
		_, span := s.tracer.Start(ctx, "http.request")
		span.SetAttributes(
			semconv.HTTPMethodKey.String(e.Method),
			attribute.String("http.target", e.Path),
		)
		s.httpSpans.Store(rid, span)
	})

	eventbus.Subscribe(func(ctx context.Context, e events.HTTPFinish) {
		rid, _ := reqid.FromContext(ctx)
		v, ok := s.httpSpans.LoadAndDelete(rid)
		if !ok {
			return
		}
		span := v.(trace.Span)
		span.SetAttributes(semconv.HTTPStatusCodeKey.Int(e.Status))
		span.End()
	})

	eventbus.Subscribe(func(ctx context.Context, e events.GraphQLStart) {
		rid, _ := reqid.FromContext(ctx)
		parent := ctx
		if v, ok := s.httpSpans.Load(rid); ok {
			parent = trace.ContextWithSpan(ctx, v.(trace.Span))
		}
		_, span := s.tracer.Start(parent, "graphql.operation")
		span.SetAttributes(
			attribute.String("graphql.operation.name", e.OperationName),
			attribute.String("graphql.operation.type", e.OperationType),
		)
		s.gqlSpans.Store(rid, span)
	})

	eventbus.Subscribe(func(ctx context.Context, e events.GraphQLFinish) {
		rid, _ := reqid.FromContext(ctx)
		v, ok := s.gqlSpans.LoadAndDelete(rid)
		if !ok {
			return
		}
		span := v.(trace.Span)
		span.SetAttributes(
			attribute.Int("graphql.error_count", len(e.Errors)),
			attribute.Bool("graphql.rejected", e.Rejected),
		)
		span.End()
	})

	eventbus.Subscribe(func(ctx context.Context, e events.MutationReceived) {
		rid, _ := reqid.FromContext(ctx)
		parent := ctx
		if v, ok := s.gqlSpans.Load(rid); ok {
			parent = trace.ContextWithSpan(ctx, v.(trace.Span))
		} else if v, ok := s.httpSpans.Load(rid); ok {
			parent = trace.ContextWithSpan(ctx, v.(trace.Span))
		}
		_, span := s.tracer.Start(parent, "mutation.pipeline")
		span.SetAttributes(attribute.String("graphql.operation.name", e.OperationName))
		s.mutSpans.Store(rid, span)
	})

	eventbus.Subscribe(func(ctx context.Context, e events.MutationExtracted) {
		rid, _ := reqid.FromContext(ctx)
		if v, ok := s.mutSpans.Load(rid); ok {
			v.(trace.Span).SetAttributes(attribute.Int("mutation.fields", len(e.Fields)))
		}
	})

	eventbus.Subscribe(func(ctx context.Context, e events.MutationCompleted) {
		rid, _ := reqid.FromContext(ctx)
		v, ok := s.mutSpans.LoadAndDelete(rid)
		if !ok {
			return
		}
		span := v.(trace.Span)
		span.SetAttributes(attribute.Int("mutation.submitted", e.Submitted))
		span.End()
	})

	eventbus.Subscribe(func(ctx context.Context, e events.MutationRejected) {
		rid, _ := reqid.FromContext(ctx)
		v, ok := s.mutSpans.LoadAndDelete(rid)
		if !ok {
			return
		}
		span := v.(trace.Span)
		if e.Err != nil {
			span.RecordError(e.Err)
		}
		span.End()
	})

	// Sink appends usually outlive the request span. When the parent is
	// already gone the span starts a new trace carrying the request ID as
	// an attribute instead.
	eventbus.Subscribe(func(ctx context.Context, e events.SinkAppendStart) {
		rid, _ := reqid.FromContext(ctx)
		parent := ctx
		attached := false
		if v, ok := s.gqlSpans.Load(rid); ok {
			parent = trace.ContextWithSpan(ctx, v.(trace.Span))
			attached = true
		} else if v, ok := s.httpSpans.Load(rid); ok {
			parent = trace.ContextWithSpan(ctx, v.(trace.Span))
			attached = true
		}
		_, span := s.tracer.Start(parent, "sink.append")
		span.SetAttributes(
			attribute.String("messaging.destination.name", e.Stream),
			attribute.String("mutagraph.event.type", e.EventType),
			attribute.String("mutagraph.backend", e.Backend),
		)
		if !attached {
			span.SetAttributes(attribute.String("mutagraph.request_id", rid))
		}
		s.sinkSpans.Store(rid+"/"+e.Stream, span)
	})

	eventbus.Subscribe(func(ctx context.Context, e events.SinkAppendFinish) {
		rid, _ := reqid.FromContext(ctx)
		v, ok := s.sinkSpans.LoadAndDelete(rid + "/" + e.Stream)
		if !ok {
			return
		}
		span := v.(trace.Span)
		if e.Err != nil {
			span.RecordError(e.Err)
		}
		span.End()
	})
}
