package heartbeat

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Sender publishes one heartbeat immediately and then one per interval until
// stopped, its context ends, or a send fails.
type Sender struct {
	publisher Publisher
	nodeName  string
	interval  time.Duration
	clock     func() time.Time
	onSent    func(int, *Heartbeat)

	sent atomic.Int64

	mu      sync.Mutex
	running bool
	err     error
	cancel  context.CancelFunc
	doneCh  chan struct{}
}

// NewSender creates a heartbeat sender.
func NewSender(cfg SenderConfig) (*Sender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	defaults := DefaultSenderConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.Clock == nil {
		cfg.Clock = defaults.Clock
	}

	return &Sender{
		publisher: cfg.Publisher,
		nodeName:  cfg.NodeName,
		interval:  cfg.Interval,
		clock:     cfg.Clock,
		onSent:    cfg.OnSent,
	}, nil
}

// Start launches the send loop.
func (s *Sender) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyStarted
	}
	s.running = true
	s.err = nil

	ctx, s.cancel = context.WithCancel(ctx)
	s.doneCh = make(chan struct{})
	go s.run(ctx, s.doneCh)
	return nil
}

func (s *Sender) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.send(ctx); err != nil {
			if ctx.Err() == nil {
				s.mu.Lock()
				s.err = err
				s.mu.Unlock()
			}
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Sender) send(ctx context.Context) error {
	hb := New(s.nodeName, s.clock())
	if err := s.publisher.Send(ctx, hb); err != nil {
		return err
	}
	count := s.sent.Add(1)
	if s.onSent != nil {
		s.onSent(int(count), hb)
	}
	return nil
}

// Done is closed when the loop exits for any reason.
func (s *Sender) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doneCh
}

// Stop ends the loop and waits for it to exit. It returns the send error
// that ended the loop early, if any.
func (s *Sender) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.running = false
	cancel, done := s.cancel, s.doneCh
	s.mu.Unlock()

	cancel()
	<-done

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Err returns the send error that ended the loop, or nil.
func (s *Sender) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Sent returns the number of heartbeats published.
func (s *Sender) Sent() int {
	return int(s.sent.Load())
}

// NodeName returns the node this sender speaks for.
func (s *Sender) NodeName() string {
	return s.nodeName
}
