// Package monitor runs the periodic liveness sweep and reports the
// resulting registry snapshot to a set of sinks.
package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/vinayprograms/controlplane/liveness"
	"github.com/vinayprograms/controlplane/logging"
	"github.com/vinayprograms/controlplane/registry"
	"github.com/vinayprograms/controlplane/telemetry"
)

// DefaultInterval is the production sweep period.
const DefaultInterval = 5 * time.Second

var ErrInvalidConfig = errors.New("invalid monitor configuration")

// Sink consumes one snapshot per cycle. nowMs is the time the sweep used.
type Sink interface {
	Observe(ctx context.Context, nodes []registry.NodeState, nowMs int64) error
}

// SinkFunc is a function adapter for Sink.
type SinkFunc func(ctx context.Context, nodes []registry.NodeState, nowMs int64) error

func (f SinkFunc) Observe(ctx context.Context, nodes []registry.NodeState, nowMs int64) error {
	return f(ctx, nodes, nowMs)
}

// Config configures a Monitor.
type Config struct {
	Registry   *registry.Registry
	Thresholds liveness.Thresholds

	// Interval between cycles. Default: 5 seconds.
	Interval time.Duration

	Sinks []Sink

	// Clock supplies the sweep time. Default: time.Now.
	Clock func() time.Time

	Logger *logging.Logger
	Tracer *telemetry.Tracer
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Registry == nil {
		return ErrInvalidConfig
	}
	return c.Thresholds.Validate()
}

// Result is the outcome of one cycle.
type Result struct {
	NowMs       int64
	Nodes       []registry.NodeState
	Transitions []registry.Transition
}

// Monitor sweeps the registry on a fixed interval. It is the only path by
// which a silent node degrades.
type Monitor struct {
	config Config
	logger *logging.Logger
	tracer *telemetry.Tracer
}

// New creates a monitor.
func New(cfg Config) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	m := &Monitor{config: cfg, logger: cfg.Logger, tracer: cfg.Tracer}
	if m.logger == nil {
		m.logger = logging.New().WithComponent("monitor")
	}
	if m.tracer == nil {
		m.tracer = telemetry.GetTracer()
	}
	return m, nil
}

// Run cycles until ctx is done. The first cycle runs after one interval.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := m.Cycle(ctx); err != nil {
				m.logger.Warn("cycle_failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}

// Cycle sweeps, snapshots and hands the snapshot to every sink. Sink
// errors are joined; a failing sink does not stop the others.
func (m *Monitor) Cycle(ctx context.Context) (Result, error) {
	ctx, span := m.tracer.StartCycleSpan(ctx)

	t := m.config.Thresholds
	nowMs := m.config.Clock().UnixMilli()
	transitions := m.config.Registry.Sweep(nowMs, t.SuspectTimeoutMs, t.NotReadyTimeoutMs)
	for _, tr := range transitions {
		m.logger.StatusTransition(tr.Name, tr.From.String(), tr.To.String())
	}

	nodes := m.config.Registry.Snapshot()

	var errs []error
	for _, sink := range m.config.Sinks {
		if err := sink.Observe(ctx, nodes, nowMs); err != nil {
			errs = append(errs, err)
		}
	}
	err := errors.Join(errs...)

	m.tracer.EndCycleSpan(span, telemetry.CycleSpanOptions{
		Nodes:       len(nodes),
		Transitions: len(transitions),
	}, err)
	return Result{NowMs: nowMs, Nodes: nodes, Transitions: transitions}, err
}
