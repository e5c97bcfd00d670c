package bus

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSBus implements MessageBus on a core NATS connection.
type NATSBus struct {
	conn   *nats.Conn
	config NATSConfig

	mu   sync.Mutex
	subs map[*channelSub]struct{}
}

// NATSConfig holds NATS connection configuration.
type NATSConfig struct {
	Config

	// URL is the server URL, e.g. "nats://localhost:4222".
	URL string

	// Name identifies this client to the server.
	Name string

	Token    string
	User     string
	Password string

	ReconnectWait time.Duration

	// MaxReconnects of -1 retries forever.
	MaxReconnects int

	ConnectTimeout time.Duration
}

// DefaultNATSConfig returns the default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		Config:         DefaultConfig(),
		URL:            nats.DefaultURL,
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1,
		ConnectTimeout: 5 * time.Second,
	}
}

// NewNATSBus connects to NATS.
func NewNATSBus(cfg NATSConfig) (*NATSBus, error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}

	conn, err := nats.Connect(cfg.URL, buildNATSOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NATSBus{conn: conn, config: cfg, subs: make(map[*channelSub]struct{})}, nil
}

func buildNATSOptions(cfg NATSConfig) []nats.Option {
	opts := []nats.Option{
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
	}
	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}
	return opts
}

// Publish sends data to subject.
func (b *NATSBus) Publish(subject string, data []byte) error {
	if err := ValidateSubject(subject); err != nil {
		return err
	}
	if b.conn.IsClosed() {
		return ErrClosed
	}
	if err := b.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

// Subscribe creates a subscription to subject.
func (b *NATSBus) Subscribe(subject string) (Subscription, error) {
	if err := ValidateSubject(subject); err != nil {
		return nil, err
	}
	if b.conn.IsClosed() {
		return nil, ErrClosed
	}

	sub := newChannelSub(b.config.BufferSize)
	natsSub, err := b.conn.Subscribe(subject, func(m *nats.Msg) {
		sub.deliver(&Message{Subject: m.Subject, Data: m.Data})
	})
	if err != nil {
		sub.stop()
		return nil, fmt.Errorf("nats subscribe: %w", err)
	}
	sub.onStop = func() error {
		b.mu.Lock()
		delete(b.subs, sub)
		b.mu.Unlock()
		return natsSub.Unsubscribe()
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub, nil
}

// Flush round-trips to the server so earlier publishes are processed.
func (b *NATSBus) Flush() error {
	return b.conn.Flush()
}

// Close closes the connection and every subscription channel.
func (b *NATSBus) Close() error {
	b.conn.Close()

	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		sub.stop()
	}
	b.subs = make(map[*channelSub]struct{})
	return nil
}
