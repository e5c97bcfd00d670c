package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"
)

// Coordinator runs registered handlers phase by phase when the process is
// asked to stop. Handlers in the same phase run concurrently.
type Coordinator struct {
	config Config

	mu       sync.Mutex
	handlers []registration
	started  bool
	err      error
	result   *Result

	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	signalChan chan os.Signal
}

// NewCoordinator creates a coordinator. Zero Timeout and DefaultPhase take
// the DefaultConfig values.
func NewCoordinator(config Config) *Coordinator {
	defaults := DefaultConfig()
	if config.Timeout == 0 {
		config.Timeout = defaults.Timeout
	}
	if config.DefaultPhase == 0 {
		config.DefaultPhase = defaults.DefaultPhase
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		config:     config,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		signalChan: make(chan os.Signal, 1),
	}
}

// Context is cancelled as soon as shutdown begins. Long-running loops
// (the monitor, the agent) run under it.
func (c *Coordinator) Context() context.Context {
	return c.ctx
}

// Register adds a handler at the default phase.
func (c *Coordinator) Register(name string, handler Handler) {
	c.RegisterWithPhase(name, handler, c.config.DefaultPhase)
}

// RegisterWithPhase adds a handler at phase.
func (c *Coordinator) RegisterWithPhase(name string, handler Handler, phase int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handlers = append(c.handlers, registration{name: name, handler: handler, phase: phase})
}

// RegisterFunc registers fn at phase.
func (c *Coordinator) RegisterFunc(name string, phase int, fn func(ctx context.Context) error) {
	c.RegisterWithPhase(name, HandlerFunc(fn), phase)
}

// Shutdown cancels Context and runs every phase in order. A second call
// while the first is running returns ErrAlreadyShutdown; a call after
// completion returns the first call's error.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		select {
		case <-c.done:
			return c.err
		default:
			return ErrAlreadyShutdown
		}
	}
	c.started = true
	handlers := make([]registration, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.Unlock()

	c.cancel()
	result := c.run(ctx, handlers)

	c.mu.Lock()
	c.result = result
	c.err = result.Err
	c.mu.Unlock()
	close(c.done)
	return result.Err
}

// ShutdownWithTimeout runs Shutdown bounded by timeout, or the configured
// Timeout when timeout is zero.
func (c *Coordinator) ShutdownWithTimeout(timeout time.Duration) error {
	if timeout == 0 {
		timeout = c.config.Timeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.Shutdown(ctx)
}

// HandleSignals shuts down on the first SIGINT or SIGTERM.
func (c *Coordinator) HandleSignals() {
	signal.Notify(c.signalChan, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		select {
		case <-c.signalChan:
			signal.Stop(c.signalChan)
			_ = c.ShutdownWithTimeout(c.config.Timeout)
		case <-c.done:
		}
	}()
}

// Trigger simulates a signal.
func (c *Coordinator) Trigger() {
	select {
	case c.signalChan <- syscall.SIGTERM:
	default:
	}
}

// Done is closed when shutdown completes.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Err returns the shutdown error once Done is closed.
func (c *Coordinator) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Result returns per-handler results once Done is closed.
func (c *Coordinator) Result() *Result {
	select {
	case <-c.done:
		return c.result
	default:
		return nil
	}
}

func (c *Coordinator) run(ctx context.Context, handlers []registration) *Result {
	start := time.Now()
	sort.SliceStable(handlers, func(i, j int) bool {
		return handlers[i].phase < handlers[j].phase
	})

	result := &Result{Results: make([]HandlerResult, 0, len(handlers))}
	finish := func(err error) *Result {
		result.Err = err
		result.TotalDuration = time.Since(start)
		return result
	}

	var overallErr error
	for _, group := range groupByPhase(handlers) {
		if ctx.Err() != nil {
			return finish(ErrTimeout)
		}

		phaseResults := c.executePhase(ctx, group)
		result.Results = append(result.Results, phaseResults...)

		for _, hr := range phaseResults {
			if hr.Err == nil {
				continue
			}
			overallErr = ErrHandlerFailed
			if !c.config.ContinueOnError {
				return finish(overallErr)
			}
		}
	}
	return finish(overallErr)
}

func (c *Coordinator) executePhase(ctx context.Context, handlers []registration) []HandlerResult {
	results := make([]HandlerResult, len(handlers))
	var wg sync.WaitGroup

	for i, reg := range handlers {
		wg.Add(1)
		go func(idx int, r registration) {
			defer wg.Done()

			start := time.Now()
			err := r.handler.OnShutdown(ctx)
			hr := HandlerResult{Name: r.name, Phase: r.phase, Duration: time.Since(start), Err: err}
			results[idx] = hr

			if c.config.OnProgress != nil {
				c.config.OnProgress(hr)
			}
		}(i, reg)
	}

	wg.Wait()
	return results
}

// groupByPhase splits phase-sorted handlers into runs of equal phase.
func groupByPhase(handlers []registration) [][]registration {
	var groups [][]registration
	for i, h := range handlers {
		if i == 0 || h.phase != handlers[i-1].phase {
			groups = append(groups, nil)
		}
		groups[len(groups)-1] = append(groups[len(groups)-1], h)
	}
	return groups
}
