package controlplane

import (
	"context"
	"encoding/json"
	"io"

	cperrors "github.com/vinayprograms/controlplane/errors"
	"github.com/vinayprograms/controlplane/heartbeat"
	"github.com/vinayprograms/controlplane/transport"
)

// errReporter is implemented by transports that record why they stopped.
type errReporter interface {
	Err() error
}

// transportStream adapts a JSON-RPC transport to heartbeat.Stream.
//
// Heartbeats arrive as ControlPlane.Heartbeat notifications. The client ends
// the stream with a ControlPlane.CloseHeartbeats request, which is answered
// with an empty result before Recv reports io.EOF.
type transportStream struct {
	t         transport.Transport
	malformed int
}

func newTransportStream(t transport.Transport) *transportStream {
	return &transportStream{t: t}
}

// Recv implements heartbeat.Stream.
func (s *transportStream) Recv(ctx context.Context) (*heartbeat.Heartbeat, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case msg, ok := <-s.t.Recv():
			if !ok {
				return nil, s.endError()
			}
			switch {
			case msg.Notification != nil && msg.Notification.Method == MethodHeartbeat:
				if hb, ok := s.decode(msg.Notification.Params); ok {
					return hb, nil
				}
			case msg.Request != nil && msg.Request.Method == MethodCloseHeartbeats:
				ack, err := transport.NewResult(msg.Request.ID, CloseAck{})
				if err != nil {
					return nil, err
				}
				if err := s.t.Send(&transport.OutboundMessage{Response: ack}); err != nil {
					return nil, cperrors.Wrap(err, "sending close ack")
				}
				return nil, io.EOF
			case msg.Request != nil:
				s.t.Send(&transport.OutboundMessage{Response: transport.NewErrorResponse(msg.Request.ID, &transport.Error{
					Code:    transport.MethodNotFound,
					Message: "Method not found",
					Data:    msg.Request.Method,
				})})
			}
		}
	}
}

func (s *transportStream) decode(params json.RawMessage) (*heartbeat.Heartbeat, bool) {
	hb, err := heartbeat.Unmarshal(params)
	if err != nil {
		s.malformed++
		return nil, false
	}
	return hb, true
}

// endError classifies a closed receive channel. A peer that sent a normal
// close frame without CloseHeartbeats ends the stream cleanly; anything else
// is a dropped stream.
func (s *transportStream) endError() error {
	if r, ok := s.t.(errReporter); ok {
		if err := r.Err(); err != nil {
			return cperrors.StreamClosed(cperrors.WithCause(err))
		}
		return io.EOF
	}
	return cperrors.StreamClosed()
}
