package shutdown

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrAlreadyShutdown is returned by Shutdown while another call is in progress.
	ErrAlreadyShutdown = errors.New("shutdown already initiated")

	// ErrTimeout indicates the context expired before every phase ran.
	ErrTimeout = errors.New("shutdown timeout exceeded")

	// ErrHandlerFailed indicates one or more handlers returned an error.
	ErrHandlerFailed = errors.New("one or more handlers failed")

	ErrInvalidConfig = errors.New("invalid configuration")
)

// Phases used by the control plane and agent binaries. Lower runs first.
const (
	// PhaseIngress stops accepting work: HTTP listener, mDNS advertisement.
	PhaseIngress = 10

	// PhaseStreams ends long-lived loops: heartbeat streams, the monitor,
	// the agent's sender and its close handshake.
	PhaseStreams = 20

	// PhaseBackends closes shared connections: message bus, registry watchers.
	PhaseBackends = 30

	// PhaseTelemetry flushes spans last so earlier phases are traced.
	PhaseTelemetry = 40
)

// Handler is implemented by components that need graceful shutdown.
// The context expires when the shutdown timeout is reached.
type Handler interface {
	OnShutdown(ctx context.Context) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context) error

// OnShutdown implements Handler.
func (f HandlerFunc) OnShutdown(ctx context.Context) error {
	return f(ctx)
}

// HandlerResult is the outcome of one handler.
type HandlerResult struct {
	Name     string
	Phase    int
	Duration time.Duration
	Err      error
}

// Result is the outcome of a complete shutdown.
type Result struct {
	TotalDuration time.Duration
	Results       []HandlerResult
	Err           error
}

// Failed returns true if any handler failed.
func (r *Result) Failed() bool {
	return r.Err != nil
}

// FailedHandlers returns the names of handlers that failed.
func (r *Result) FailedHandlers() []string {
	var failed []string
	for _, hr := range r.Results {
		if hr.Err != nil {
			failed = append(failed, hr.Name)
		}
	}
	return failed
}

// Config configures the coordinator.
type Config struct {
	// Timeout bounds signal-triggered shutdowns. Default: 10 seconds.
	Timeout time.Duration

	// DefaultPhase is assigned by Register. Default: PhaseStreams.
	DefaultPhase int

	// ContinueOnError runs later phases even if a handler failed.
	ContinueOnError bool

	// OnProgress is called as each handler completes.
	OnProgress func(result HandlerResult)
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Timeout < 0 {
		return ErrInvalidConfig
	}
	return nil
}

// DefaultConfig returns the configuration both binaries start from.
func DefaultConfig() Config {
	return Config{
		Timeout:         10 * time.Second,
		DefaultPhase:    PhaseStreams,
		ContinueOnError: true,
	}
}

type registration struct {
	name    string
	handler Handler
	phase   int
}
