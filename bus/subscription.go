package bus

import "sync"

// channelSub is a buffered, drop-on-full subscription whose channel is
// closed exactly once and never written after closing.
type channelSub struct {
	mu     sync.Mutex
	ch     chan *Message
	closed bool
	onStop func() error
}

func newChannelSub(size int) *channelSub {
	return &channelSub{ch: make(chan *Message, size)}
}

// deliver enqueues msg without blocking. Reports false when dropped.
func (s *channelSub) deliver(msg *Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	select {
	case s.ch <- msg:
		return true
	default:
		return false
	}
}

// stop closes the channel. Reports whether this call closed it.
func (s *channelSub) stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	s.closed = true
	close(s.ch)
	return true
}

func (s *channelSub) Messages() <-chan *Message {
	return s.ch
}

func (s *channelSub) Unsubscribe() error {
	if !s.stop() {
		return nil
	}
	if s.onStop != nil {
		return s.onStop()
	}
	return nil
}
