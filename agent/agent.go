// Package agent is the node side of the membership protocol: it registers
// once with the control plane and then streams heartbeats until stopped.
package agent

import (
	"context"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/vinayprograms/controlplane/bus"
	"github.com/vinayprograms/controlplane/controlplane"
	cperrors "github.com/vinayprograms/controlplane/errors"
	"github.com/vinayprograms/controlplane/heartbeat"
	"github.com/vinayprograms/controlplane/logging"
	"github.com/vinayprograms/controlplane/telemetry"
	"github.com/vinayprograms/controlplane/transport"
)

// DefaultServer is the control plane address used when none is given.
const DefaultServer = "localhost:50051"

// DefaultCloseTimeout bounds the wait for the server's close ack.
const DefaultCloseTimeout = 5 * time.Second

// Config configures a Client.
type Config struct {
	NodeName string

	// Server is host:port or an http(s) URL. Default: localhost:50051.
	Server string

	// Interval between heartbeats. Default: 1 second.
	Interval time.Duration

	// Bus, when set, carries heartbeats instead of a WebSocket stream.
	// Registration still goes to Server.
	Bus        bus.MessageBus
	BusSubject string

	CloseTimeout time.Duration
	WebSocket    transport.WebSocketConfig

	Clock  func() time.Time
	Logger *logging.Logger
	Tracer *telemetry.Tracer
}

// Client talks to one control plane on behalf of one node.
type Client struct {
	config  Config
	baseURL *url.URL
	rpc     *transport.Client
	logger  *logging.Logger
	tracer  *telemetry.Tracer
}

// New creates a client. The node name must be non-empty.
func New(cfg Config) (*Client, error) {
	if cfg.NodeName == "" {
		return nil, cperrors.InvalidInput("node name is required")
	}
	if cfg.Server == "" {
		cfg.Server = DefaultServer
	}
	if cfg.Interval <= 0 {
		cfg.Interval = heartbeat.DefaultSenderConfig().Interval
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = DefaultCloseTimeout
	}
	if cfg.WebSocket.SendBufferSize == 0 {
		cfg.WebSocket = transport.DefaultWebSocketConfig()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	base, err := ServerURL(cfg.Server)
	if err != nil {
		return nil, err
	}

	c := &Client{
		config:  cfg,
		baseURL: base,
		logger:  cfg.Logger,
		tracer:  cfg.Tracer,
	}
	if c.logger == nil {
		c.logger = logging.New().WithComponent("agent")
	}
	if c.tracer == nil {
		c.tracer = telemetry.GetTracer()
	}
	c.rpc = transport.NewClient(base.JoinPath(controlplane.PathRPC).String(), nil)
	c.rpc.BeforeSend = telemetry.InjectHTTP
	return c, nil
}

// ServerURL turns host:port or an http(s) URL into the control plane's
// base URL.
func ServerURL(server string) (*url.URL, error) {
	if !strings.Contains(server, "://") {
		server = "http://" + server
	}
	u, err := url.Parse(server)
	if err != nil {
		return nil, cperrors.Config("agent.server", err.Error())
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, cperrors.Config("agent.server", "scheme must be http or https")
	}
	if u.Host == "" {
		return nil, cperrors.Config("agent.server", "missing host")
	}
	return u, nil
}

// NodeName returns the node this client speaks for.
func (c *Client) NodeName() string {
	return c.config.NodeName
}

// Register asks the control plane to admit this node. A rejection returns
// the response together with a REJECTED error carrying the reason; a call
// that never got an answer returns a transient error.
func (c *Client) Register(ctx context.Context) (controlplane.RegisterResponse, error) {
	ctx, span := c.tracer.StartRPCSpan(ctx, controlplane.MethodRegisterNode, c.baseURL.Host, trace.SpanKindClient)

	c.logger.Info("registering", map[string]interface{}{"node": c.config.NodeName, "server": c.baseURL.Host})

	var resp controlplane.RegisterResponse
	err := c.rpc.Call(ctx, controlplane.MethodRegisterNode, controlplane.RegisterParams{NodeName: c.config.NodeName}, &resp)
	if err != nil {
		err = cperrors.Wrap(err, "registering "+c.config.NodeName, cperrors.WithNodeName(c.config.NodeName))
		c.tracer.EndRPCSpan(span, telemetry.RPCSpanOptions{Node: c.config.NodeName}, err)
		return resp, err
	}

	opts := telemetry.RPCSpanOptions{Node: c.config.NodeName, Accepted: resp.Accepted, Reason: resp.Reason}
	if !resp.Accepted {
		rejected := cperrors.Rejected(c.config.NodeName, resp.Reason)
		c.tracer.EndRPCSpan(span, opts, rejected)
		return resp, rejected
	}

	c.logger.Info("registered", map[string]interface{}{"node": c.config.NodeName, "reason": resp.Reason})
	c.tracer.EndRPCSpan(span, opts, nil)
	return resp, nil
}

// Run registers, then sends one heartbeat per interval until ctx ends.
// When registration fails no heartbeat is sent. A lost stream stops the
// heartbeats and is returned as an error; cancellation closes the stream,
// waits for the server's ack and returns nil.
func (c *Client) Run(ctx context.Context) error {
	if _, err := c.Register(ctx); err != nil {
		return err
	}

	publisher, finish, err := c.openPublisher(ctx)
	if err != nil {
		return err
	}

	sender, err := heartbeat.NewSender(heartbeat.SenderConfig{
		Publisher: publisher,
		NodeName:  c.config.NodeName,
		Interval:  c.config.Interval,
		Clock:     c.config.Clock,
		OnSent: func(count int, hb *heartbeat.Heartbeat) {
			c.logger.Debug("heartbeat_sent", map[string]interface{}{"count": count, "now_unix_ms": hb.ClientTimestampMs})
		},
	})
	if err != nil {
		finish(context.Background(), true)
		return cperrors.Internal("creating heartbeat sender", cperrors.WithCause(err))
	}

	c.logger.Info("heartbeats_started", map[string]interface{}{"node": c.config.NodeName, "interval": c.config.Interval.String()})
	if err := sender.Start(ctx); err != nil {
		finish(context.Background(), true)
		return cperrors.Internal("starting heartbeat sender", cperrors.WithCause(err))
	}

	select {
	case <-ctx.Done():
	case <-sender.Done():
	}
	sendErr := sender.Stop()

	closeCtx, cancel := context.WithTimeout(context.Background(), c.config.CloseTimeout)
	defer cancel()

	if sendErr != nil {
		finish(closeCtx, true)
		c.logger.Error("heartbeat_failed", map[string]interface{}{"sent": sender.Sent(), "error": sendErr.Error()})
		return cperrors.Wrap(sendErr, "heartbeat stream lost", cperrors.WithNodeName(c.config.NodeName))
	}

	if err := finish(closeCtx, false); err != nil {
		c.logger.Error("stream_close_failed", map[string]interface{}{"sent": sender.Sent(), "error": err.Error()})
		return err
	}
	c.logger.Info("heartbeats_stopped", map[string]interface{}{"node": c.config.NodeName, "sent": sender.Sent()})
	return nil
}

// openPublisher returns where heartbeats go and how to finish it. finish
// with abort set skips the close handshake.
func (c *Client) openPublisher(ctx context.Context) (heartbeat.Publisher, func(context.Context, bool) error, error) {
	if c.config.Bus != nil {
		p := heartbeat.NewBusPublisher(c.config.Bus, c.config.BusSubject)
		return p, func(context.Context, bool) error { return nil }, nil
	}

	stream, err := c.OpenStream(ctx)
	if err != nil {
		return nil, nil, err
	}
	return stream, func(ctx context.Context, abort bool) error {
		if abort {
			return stream.Abort()
		}
		return stream.CloseAndRecv(ctx)
	}, nil
}
