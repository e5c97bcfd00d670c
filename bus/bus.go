package bus

import (
	"errors"
	"strings"
)

var (
	ErrClosed         = errors.New("bus closed")
	ErrInvalidSubject = errors.New("invalid subject")
)

// Membership subjects.
const (
	// SubjectHeartbeat carries agent heartbeats; the node name is in the payload.
	SubjectHeartbeat = "membership.heartbeat"

	// SubjectSnapshot carries the monitor's periodic registry snapshot.
	SubjectSnapshot = "membership.snapshot"
)

// Message is a message received from the bus.
type Message struct {
	Subject string
	Data    []byte
}

// MessageBus is a fire-and-forget pub/sub transport.
type MessageBus interface {
	// Publish sends data to every current subscriber of subject.
	Publish(subject string, data []byte) error

	// Subscribe delivers messages published to subject after the call.
	Subscribe(subject string) (Subscription, error)

	// Close ends every subscription and releases the connection.
	Close() error
}

// Subscription is an active subscription.
type Subscription interface {
	// Messages is closed when the subscription or the bus ends.
	Messages() <-chan *Message

	Unsubscribe() error
}

// Config holds common bus configuration.
type Config struct {
	// BufferSize of subscription channels. Messages beyond it are dropped.
	BufferSize int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{BufferSize: 256}
}

// ValidateSubject rejects empty subjects and subjects with empty tokens or
// whitespace.
func ValidateSubject(subject string) error {
	if subject == "" || strings.ContainsAny(subject, " \t\r\n") {
		return ErrInvalidSubject
	}
	for _, token := range strings.Split(subject, ".") {
		if token == "" {
			return ErrInvalidSubject
		}
	}
	return nil
}
