// Package controlplane serves node registration and heartbeat streams on
// top of a shared registry.
package controlplane

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	cperrors "github.com/vinayprograms/controlplane/errors"
	"github.com/vinayprograms/controlplane/heartbeat"
	"github.com/vinayprograms/controlplane/liveness"
	"github.com/vinayprograms/controlplane/logging"
	"github.com/vinayprograms/controlplane/registry"
	"github.com/vinayprograms/controlplane/telemetry"
	"github.com/vinayprograms/controlplane/transport"
)

// Service bridges inbound calls to the registry.
type Service struct {
	registry *registry.Registry
	logger   *logging.Logger
	tracer   *telemetry.Tracer
	metrics  *Metrics
	clock    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the clock used to stamp registrations and heartbeats.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithTracer sets the tracer.
func WithTracer(t *telemetry.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// WithMetrics sets the counters.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService creates a service over reg.
func NewService(reg *registry.Registry, opts ...Option) *Service {
	s := &Service{
		registry: reg,
		logger:   logging.New().WithComponent("service"),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tracer == nil {
		s.tracer = telemetry.GetTracer()
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(nil)
	}
	return s
}

// Registry returns the registry the service writes to.
func (s *Service) Registry() *registry.Registry {
	return s.registry
}

// RegisterNode admits name into the cluster. An empty name is rejected
// without touching the registry. Any other name is recorded as READY,
// replacing an earlier record of the same name.
func (s *Service) RegisterNode(ctx context.Context, name, peer string) RegisterResponse {
	_, span := s.tracer.StartRPCSpan(ctx, MethodRegisterNode, peer, trace.SpanKindServer)

	if name == "" {
		resp := RegisterResponse{Accepted: false, Reason: ReasonEmptyName}
		s.logger.RegistrationRejected(name, peer, resp.Reason)
		s.metrics.Registrations.WithLabelValues("rejected").Inc()
		s.tracer.EndRPCSpan(span, telemetry.RPCSpanOptions{Reason: resp.Reason}, nil)
		return resp
	}

	existed := s.registry.Exists(name)
	s.registry.Upsert(registry.NodeState{
		Name:       name,
		Peer:       peer,
		LastSeenMs: s.clock().UnixMilli(),
		Status:     liveness.StatusReady,
	})

	if existed {
		s.logger.Info("node_reregistered", map[string]interface{}{"node": name, "peer": peer})
	} else {
		s.logger.NodeRegistered(name, peer)
	}
	s.metrics.Registrations.WithLabelValues("accepted").Inc()

	resp := RegisterResponse{Accepted: true, Reason: ReasonWelcome}
	s.tracer.EndRPCSpan(span, telemetry.RPCSpanOptions{Node: name, Accepted: true, Reason: resp.Reason}, nil)
	return resp
}

// StreamSummary describes one finished heartbeat stream.
type StreamSummary struct {
	Session  string
	Received int
	Applied  int
	Ignored  int
	Duration time.Duration
}

// StreamHeartbeats consumes stream until it ends. Each heartbeat from a
// registered node refreshes that node with the server's receipt time.
// Heartbeats from unknown nodes are dropped and the stream continues.
//
// A clean end of stream returns a nil error. Cancellation returns ctx.Err().
// Any other receive failure is returned; every touch already applied stays.
func (s *Service) StreamHeartbeats(ctx context.Context, stream heartbeat.Stream) (StreamSummary, error) {
	summary := StreamSummary{Session: uuid.NewString()}
	peer := transport.PeerFromContext(ctx)
	started := s.clock()

	ctx, span := s.tracer.StartStreamSpan(ctx, summary.Session, peer)
	logger := s.logger.WithTraceID(telemetry.TraceID(ctx))
	logger.StreamOpened(summary.Session, peer)

	s.metrics.ActiveStreams.Inc()
	defer s.metrics.ActiveStreams.Dec()

	var err error
	for {
		var hb *heartbeat.Heartbeat
		hb, err = stream.Recv(ctx)
		if err != nil {
			break
		}
		summary.Received++

		nowMs := s.clock().UnixMilli()
		if hb.NodeName == "" || !s.registry.Touch(hb.NodeName, nowMs) {
			summary.Ignored++
			s.metrics.Heartbeats.WithLabelValues("ignored").Inc()
			logger.HeartbeatIgnored(hb.NodeName)
			continue
		}
		summary.Applied++
		s.metrics.Heartbeats.WithLabelValues("applied").Inc()
		logger.Debug("heartbeat", map[string]interface{}{
			"node":    hb.NodeName,
			"skew_ms": nowMs - hb.ClientTimestampMs,
		})
	}

	switch {
	case errors.Is(err, io.EOF):
		err = nil
	case ctx.Err() != nil:
		err = ctx.Err()
	default:
		err = cperrors.Wrap(err, "heartbeat stream "+summary.Session)
	}

	summary.Duration = s.clock().Sub(started)
	logger.StreamClosed(summary.Session, summary.Received, summary.Applied, summary.Duration, err)
	s.tracer.EndStreamSpan(span, telemetry.StreamSpanOptions{
		Received: summary.Received,
		Applied:  summary.Applied,
		Ignored:  summary.Ignored,
	}, err)
	return summary, err
}
