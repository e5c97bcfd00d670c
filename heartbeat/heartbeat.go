package heartbeat

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrAlreadyStarted = errors.New("heartbeat sender already started")
	ErrNotStarted     = errors.New("heartbeat sender not started")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// Heartbeat is one liveness message from an agent. ClientTimestampMs is the
// agent's wall clock; the control plane records its own receipt time and
// only logs this value.
type Heartbeat struct {
	NodeName          string `json:"node_name"`
	ClientTimestampMs int64  `json:"now_unix_ms"`
}

// New builds a heartbeat for node stamped with t.
func New(node string, t time.Time) *Heartbeat {
	return &Heartbeat{NodeName: node, ClientTimestampMs: t.UnixMilli()}
}

// Marshal serializes a heartbeat to JSON.
func (h *Heartbeat) Marshal() ([]byte, error) {
	return json.Marshal(h)
}

// Unmarshal deserializes a heartbeat from JSON.
func Unmarshal(data []byte) (*Heartbeat, error) {
	var h Heartbeat
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Stream is the receiving side of a heartbeat stream. Recv blocks until the
// next heartbeat arrives. It returns io.EOF when the sender finished the
// stream cleanly and ctx.Err() when ctx is done. Any other error means the
// stream broke.
type Stream interface {
	Recv(ctx context.Context) (*Heartbeat, error)
}

// Publisher is the sending side of a heartbeat stream.
type Publisher interface {
	Send(ctx context.Context, hb *Heartbeat) error
}

// SenderConfig configures a Sender.
type SenderConfig struct {
	Publisher Publisher
	NodeName  string

	// Interval between heartbeats. Default: 1 second.
	Interval time.Duration

	// Clock stamps outgoing heartbeats. Default: time.Now.
	Clock func() time.Time

	// OnSent is called after each successful send with the running count.
	OnSent func(count int, hb *Heartbeat)
}

// Validate checks the configuration.
func (c *SenderConfig) Validate() error {
	if c.Publisher == nil || c.NodeName == "" {
		return ErrInvalidConfig
	}
	return nil
}

// DefaultSenderConfig returns configuration with sensible defaults.
func DefaultSenderConfig() SenderConfig {
	return SenderConfig{
		Interval: time.Second,
		Clock:    time.Now,
	}
}
