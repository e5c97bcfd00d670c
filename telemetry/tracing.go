package telemetry

import (
	"context"
	"net/http"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Tracer wraps an OpenTelemetry tracer with membership span helpers.
type Tracer struct {
	tracer trace.Tracer
}

var (
	globalTracer *Tracer
	tracerMu     sync.RWMutex
)

// SetGlobalTracer sets the package-level tracer.
func SetGlobalTracer(t *Tracer) {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	globalTracer = t
}

// GetTracer returns the package-level tracer, or a no-op tracer if unset.
func GetTracer() *Tracer {
	tracerMu.RLock()
	defer tracerMu.RUnlock()
	if globalTracer == nil {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer("")}
	}
	return globalTracer
}

// NewTracer creates a tracer from the global provider.
func NewTracer(name string) *Tracer {
	return &Tracer{tracer: otel.Tracer(name)}
}

// StartSpan starts a span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// --- RPC Spans ---

// RPCSpanOptions describes a completed unary call.
type RPCSpanOptions struct {
	Node     string
	Accepted bool
	Reason   string
}

// StartRPCSpan starts a span for a unary JSON-RPC call. Servers pass
// trace.SpanKindServer, agents trace.SpanKindClient.
func (t *Tracer) StartRPCSpan(ctx context.Context, method, peer string, kind trace.SpanKind) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, method, trace.WithSpanKind(kind))
	span.SetAttributes(
		attribute.String("rpc.system", "jsonrpc"),
		attribute.String("rpc.method", method),
	)
	if peer != "" {
		span.SetAttributes(attribute.String("net.peer.address", peer))
	}
	return ctx, span
}

// EndRPCSpan records the call outcome and ends the span.
func (t *Tracer) EndRPCSpan(span trace.Span, opts RPCSpanOptions, err error) {
	span.SetAttributes(
		attribute.String("membership.node", opts.Node),
		attribute.Bool("membership.accepted", opts.Accepted),
	)
	if opts.Reason != "" {
		span.SetAttributes(attribute.String("membership.reason", opts.Reason))
	}
	end(span, err)
}

// --- Stream Spans ---

// StreamSpanOptions carries the counters of a finished heartbeat stream.
type StreamSpanOptions struct {
	Received int
	Applied  int
	Ignored  int
}

// StartStreamSpan starts a span covering one heartbeat stream.
func (t *Tracer) StartStreamSpan(ctx context.Context, session, peer string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "heartbeat.stream", trace.WithSpanKind(trace.SpanKindServer))
	span.SetAttributes(
		attribute.String("heartbeat.session", session),
		attribute.String("net.peer.address", peer),
	)
	return ctx, span
}

// EndStreamSpan records stream counters and ends the span.
func (t *Tracer) EndStreamSpan(span trace.Span, opts StreamSpanOptions, err error) {
	span.SetAttributes(
		attribute.Int("heartbeat.received", opts.Received),
		attribute.Int("heartbeat.applied", opts.Applied),
		attribute.Int("heartbeat.ignored", opts.Ignored),
	)
	end(span, err)
}

// --- Monitor Spans ---

// CycleSpanOptions carries the results of one monitor cycle.
type CycleSpanOptions struct {
	Nodes       int
	Transitions int
}

// StartCycleSpan starts a span for one sweep-and-report cycle.
func (t *Tracer) StartCycleSpan(ctx context.Context) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "monitor.cycle", trace.WithSpanKind(trace.SpanKindInternal))
}

// EndCycleSpan records cycle results and ends the span.
func (t *Tracer) EndCycleSpan(span trace.Span, opts CycleSpanOptions, err error) {
	span.SetAttributes(
		attribute.Int("monitor.nodes", opts.Nodes),
		attribute.Int("monitor.transitions", opts.Transitions),
	)
	end(span, err)
}

func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// --- Context Propagation ---

// InjectHTTP writes the trace context of ctx into outgoing request headers.
func InjectHTTP(ctx context.Context, header http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(header))
}

// ExtractHTTP returns ctx extended with the trace context found in header.
func ExtractHTTP(ctx context.Context, header http.Header) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(header))
}

// TraceID returns the hex trace id of the span in ctx, or "" if none.
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
