package bus

import "sync"

// MemoryBus implements MessageBus in process. Used by tests and by a control
// plane started without a bus URL.
type MemoryBus struct {
	config Config

	mu     sync.RWMutex
	subs   map[string][]*channelSub
	closed bool
}

// NewMemoryBus creates an in-memory bus.
func NewMemoryBus(cfg Config) *MemoryBus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	return &MemoryBus{
		config: cfg,
		subs:   make(map[string][]*channelSub),
	}
}

// Publish delivers to every subscriber of subject, dropping on full buffers.
func (b *MemoryBus) Publish(subject string, data []byte) error {
	if err := ValidateSubject(subject); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}
	msg := &Message{Subject: subject, Data: data}
	for _, sub := range b.subs[subject] {
		sub.deliver(msg)
	}
	return nil
}

// Subscribe creates an exact-match subscription to subject.
func (b *MemoryBus) Subscribe(subject string) (Subscription, error) {
	if err := ValidateSubject(subject); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	sub := newChannelSub(b.config.BufferSize)
	sub.onStop = func() error {
		b.remove(subject, sub)
		return nil
	}
	b.subs[subject] = append(b.subs[subject], sub)
	return sub, nil
}

func (b *MemoryBus) remove(subject string, target *channelSub) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[subject]
	for i, sub := range subs {
		if sub == target {
			b.subs[subject] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Close ends every subscription. Further calls are no-ops.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.subs {
		for _, sub := range subs {
			sub.stop()
		}
	}
	b.subs = nil
	return nil
}
