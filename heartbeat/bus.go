package heartbeat

import (
	"context"
	"io"
	"sync/atomic"

	"github.com/vinayprograms/controlplane/bus"
)

// BusPublisher publishes heartbeats to a message bus subject.
type BusPublisher struct {
	bus     bus.MessageBus
	subject string
}

// NewBusPublisher creates a publisher. An empty subject means
// bus.SubjectHeartbeat.
func NewBusPublisher(b bus.MessageBus, subject string) *BusPublisher {
	if subject == "" {
		subject = bus.SubjectHeartbeat
	}
	return &BusPublisher{bus: b, subject: subject}
}

// Send implements Publisher.
func (p *BusPublisher) Send(ctx context.Context, hb *Heartbeat) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := hb.Marshal()
	if err != nil {
		return err
	}
	return p.bus.Publish(p.subject, data)
}

// BusStream adapts a bus subscription into a Stream. Every node publishing
// to the subject shares the one stream. Payloads that do not decode are
// skipped and counted.
type BusStream struct {
	sub       bus.Subscription
	malformed atomic.Int64
}

// NewBusStream subscribes to subject (default bus.SubjectHeartbeat).
func NewBusStream(b bus.MessageBus, subject string) (*BusStream, error) {
	if subject == "" {
		subject = bus.SubjectHeartbeat
	}
	sub, err := b.Subscribe(subject)
	if err != nil {
		return nil, err
	}
	return &BusStream{sub: sub}, nil
}

// Recv implements Stream. It returns io.EOF once the subscription ends.
func (s *BusStream) Recv(ctx context.Context) (*Heartbeat, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case msg, ok := <-s.sub.Messages():
			if !ok {
				return nil, io.EOF
			}
			hb, err := Unmarshal(msg.Data)
			if err != nil {
				s.malformed.Add(1)
				continue
			}
			return hb, nil
		}
	}
}

// Malformed returns how many payloads failed to decode.
func (s *BusStream) Malformed() int {
	return int(s.malformed.Load())
}

// Close ends the subscription; a pending Recv returns io.EOF.
func (s *BusStream) Close() error {
	return s.sub.Unsubscribe()
}
