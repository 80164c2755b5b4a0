// Package otel turns event bus events into OpenTelemetry spans.
package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/hanpama/gqlforge/internal/eventbus"
	"github.com/hanpama/gqlforge/internal/events"
	"github.com/hanpama/gqlforge/internal/reqid"
)

// Setup exports spans to an OTLP collector at endpoint and subscribes to the
// global event bus. An empty endpoint disables tracing.
func Setup(ctx context.Context, endpoint, service string) (shutdown func(context.Context) error, err error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure())
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

	unsubscribe := Register(tp.Tracer("gqlforge"))
	return func(ctx context.Context) error {
		unsubscribe()
		return tp.Shutdown(ctx)
	}, nil
}

// Register subscribes span producers using tracer to the global bus.
func Register(tracer trace.Tracer) (unsubscribe func()) {
	s := &subscriber{tracer: tracer}
	return s.register()
}

type subscriber struct {
	tracer        trace.Tracer
	httpSpans     sync.Map // request id -> trace.Span
	gqlSpans      sync.Map // request id -> trace.Span
	upstreamSpans sync.Map // call id -> trace.Span
}

// parent returns ctx carrying the innermost open span of the request.
func (s *subscriber) parent(ctx context.Context) context.Context {
	rid, ok := reqid.FromContext(ctx)
	if !ok {
		return ctx
	}
	if v, ok := s.gqlSpans.Load(rid); ok {
		return trace.ContextWithSpan(ctx, v.(trace.Span))
	}
	if v, ok := s.httpSpans.Load(rid); ok {
		return trace.ContextWithSpan(ctx, v.(trace.Span))
	}
	return ctx
}

func (s *subscriber) register() func() {
	subs := []func(){
		eventbus.Subscribe(func(ctx context.Context, e events.HTTPStart) {
			rid, _ := reqid.FromContext(ctx)
			_, span := s.tracer.Start(ctx, "http.request",
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPMethodKey.String(e.Request.Method),
					attribute.String("http.target", e.Request.URL.Path),
					attribute.String("request.id", rid),
				))
			s.httpSpans.Store(rid, span)
		}),

		eventbus.Subscribe(func(ctx context.Context, e events.HTTPFinish) {
			rid, _ := reqid.FromContext(ctx)
			v, ok := s.httpSpans.LoadAndDelete(rid)
			if !ok {
				return
			}
			span := v.(trace.Span)
			span.SetAttributes(semconv.HTTPStatusCodeKey.Int(e.Status))
			span.End()
		}),

		eventbus.Subscribe(func(ctx context.Context, e events.GraphQLStart) {
			rid, _ := reqid.FromContext(ctx)
			_, span := s.tracer.Start(s.parent(ctx), "graphql.operation", trace.WithAttributes(
				attribute.String("graphql.operation.name", e.OperationName),
				attribute.String("graphql.operation.type", e.OperationType),
			))
			s.gqlSpans.Store(rid, span)
		}),

		eventbus.Subscribe(func(ctx context.Context, e events.GraphQLFinish) {
			rid, _ := reqid.FromContext(ctx)
			v, ok := s.gqlSpans.LoadAndDelete(rid)
			if !ok {
				return
			}
			span := v.(trace.Span)
			span.SetAttributes(
				attribute.Int("graphql.error_count", len(e.Errors)),
				attribute.Int64("graphql.cache_ttl_ms", e.CacheTTL.Milliseconds()),
			)
			if len(e.Errors) > 0 {
				span.SetStatus(codes.Error, e.Errors[0].Error())
			}
			span.End()
		}),

		eventbus.Subscribe(func(ctx context.Context, e events.UpstreamStart) {
			attrs := []attribute.KeyValue{attribute.String("net.peer.name", e.Target)}
			switch e.Kind {
			case events.KindGRPC:
				attrs = append(attrs, semconv.RPCSystemKey.String("grpc"), semconv.RPCMethodKey.String(e.Method))
			default:
				attrs = append(attrs, semconv.HTTPMethodKey.String(e.Method))
			}
			_, span := s.tracer.Start(s.parent(ctx), e.Kind+".client",
				trace.WithSpanKind(trace.SpanKindClient),
				trace.WithAttributes(attrs...))
			s.upstreamSpans.Store(e.ID, span)
		}),

		eventbus.Subscribe(func(ctx context.Context, e events.UpstreamFinish) {
			v, ok := s.upstreamSpans.LoadAndDelete(e.ID)
			if !ok {
				return
			}
			span := v.(trace.Span)
			switch e.Kind {
			case events.KindGRPC:
				span.SetAttributes(attribute.String("grpc.code", e.Code.String()))
			default:
				span.SetAttributes(semconv.HTTPStatusCodeKey.Int(e.Status))
			}
			if e.Err != nil {
				span.RecordError(e.Err)
				span.SetStatus(codes.Error, e.Err.Error())
			}
			span.End()
		}),
	}
	return func() {
		for _, unsubscribe := range subs {
			unsubscribe()
		}
	}
}
