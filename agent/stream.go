package agent

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/vinayprograms/controlplane/controlplane"
	cperrors "github.com/vinayprograms/controlplane/errors"
	"github.com/vinayprograms/controlplane/heartbeat"
	"github.com/vinayprograms/controlplane/telemetry"
	"github.com/vinayprograms/controlplane/transport"
)

// HeartbeatStream is an open heartbeat stream to the control plane.
type HeartbeatStream struct {
	t      *transport.WebSocketTransport
	cancel context.CancelFunc
	runErr chan error
	once   sync.Once
}

// OpenStream dials the control plane's heartbeat endpoint. The stream
// outlives ctx; end it with CloseAndRecv or Abort.
func (c *Client) OpenStream(ctx context.Context) (*HeartbeatStream, error) {
	u := *c.baseURL
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = controlplane.PathHeartbeats

	header := http.Header{}
	telemetry.InjectHTTP(ctx, header)

	t, err := transport.DialWebSocket(ctx, u.String(), header, c.config.WebSocket)
	if err != nil {
		return nil, cperrors.Wrap(err, "opening heartbeat stream", cperrors.WithNodeName(c.config.NodeName))
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &HeartbeatStream{t: t, cancel: cancel, runErr: make(chan error, 1)}
	go func() { s.runErr <- t.Run(runCtx) }()
	return s, nil
}

// Send implements heartbeat.Publisher.
func (s *HeartbeatStream) Send(ctx context.Context, hb *heartbeat.Heartbeat) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	note, err := transport.NewNotification(controlplane.MethodHeartbeat, hb)
	if err != nil {
		return cperrors.InvalidInput("encoding heartbeat", cperrors.WithCause(err))
	}
	if err := s.t.Send(&transport.OutboundMessage{Notification: note}); err != nil {
		return s.lost(err)
	}
	return nil
}

// CloseAndRecv ends the stream and waits for the server's ack.
func (s *HeartbeatStream) CloseAndRecv(ctx context.Context) error {
	defer s.shutdown()

	id := uuid.NewString()
	req, err := transport.NewRequest(id, controlplane.MethodCloseHeartbeats, nil)
	if err != nil {
		return cperrors.Internal("encoding close request", cperrors.WithCause(err))
	}
	if err := s.t.Send(&transport.OutboundMessage{Request: req}); err != nil {
		return s.lost(err)
	}

	for {
		select {
		case <-ctx.Done():
			return cperrors.Wrap(ctx.Err(), "waiting for close ack")
		case msg, ok := <-s.t.Recv():
			if !ok {
				return s.lost(transport.ErrClosed)
			}
			if msg.Response == nil || msg.Response.ID != id {
				continue
			}
			var ack controlplane.CloseAck
			return msg.Response.Decode(&ack)
		}
	}
}

// Abort drops the stream without the close handshake.
func (s *HeartbeatStream) Abort() error {
	s.shutdown()
	return nil
}

func (s *HeartbeatStream) shutdown() {
	s.once.Do(func() {
		s.t.Close()
		s.cancel()
		<-s.runErr
	})
}

// lost builds the error for a stream that can no longer carry messages.
func (s *HeartbeatStream) lost(err error) error {
	cause := s.t.Err()
	if cause == nil {
		cause = err
	}
	if errors.Is(err, transport.ErrSendTimeout) {
		return cperrors.New(cperrors.ErrCodeTimeout, "heartbeat send timed out", cperrors.WithCause(err))
	}
	return cperrors.StreamClosed(cperrors.WithCause(cause))
}
