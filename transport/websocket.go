package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	cperrors "github.com/vinayprograms/controlplane/errors"
)

var errAlreadyRunning = errors.New("transport already running")

// WebSocketTransport implements Transport over WebSocket.
type WebSocketTransport struct {
	conn   *websocket.Conn
	config WebSocketConfig

	recv chan *InboundMessage
	send chan *OutboundMessage

	done       chan struct{} // closed when shutdown begins
	writerDone chan struct{}
	stopped    chan struct{} // closed after the connection is closed

	// mu guards closed. Send holds it shared while enqueueing so nothing
	// lands in the queue after the writer's final drain.
	mu     sync.RWMutex
	closed bool

	errMu sync.Mutex
	err   error
	quiet bool // peer or self initiated close; later I/O errors are expected

	started  atomic.Bool
	stopOnce sync.Once
}

// WebSocketConfig holds WebSocket transport configuration.
type WebSocketConfig struct {
	Config

	// WriteTimeout bounds each frame write and a blocked Send.
	WriteTimeout time.Duration

	// ReadTimeout for read operations (0 = no timeout). Pongs extend it.
	ReadTimeout time.Duration

	// MaxMessageSize limits incoming message size.
	MaxMessageSize int64

	// PingInterval for keepalive pings (0 = disabled).
	PingInterval time.Duration

	// CloseGrace is how long Close waits for the peer to answer the close
	// frame before dropping the connection.
	CloseGrace time.Duration
}

// DefaultWebSocketConfig returns configuration with sensible defaults.
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		Config:         DefaultConfig(),
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    0,
		MaxMessageSize: 64 * 1024,
		PingInterval:   30 * time.Second,
		CloseGrace:     time.Second,
	}
}

// NewWebSocketTransport creates a transport from an existing connection.
func NewWebSocketTransport(conn *websocket.Conn, cfg WebSocketConfig) *WebSocketTransport {
	if cfg.RecvBufferSize <= 0 {
		cfg.RecvBufferSize = DefaultConfig().RecvBufferSize
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = DefaultConfig().SendBufferSize
	}
	if cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	return &WebSocketTransport{
		conn:       conn,
		config:     cfg,
		recv:       make(chan *InboundMessage, cfg.RecvBufferSize),
		send:       make(chan *OutboundMessage, cfg.SendBufferSize),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

// NewWebSocketUpgrader creates an upgrader for accepting WebSocket connections.
func NewWebSocketUpgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
}

// DialWebSocket opens a client connection to url.
func DialWebSocket(ctx context.Context, url string, header http.Header, cfg WebSocketConfig) (*WebSocketTransport, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, cperrors.WrapWithCode(err, cperrors.ErrCodeUnavailable,
				fmt.Sprintf("dial %s: HTTP %d", url, resp.StatusCode))
		}
		return nil, cperrors.Wrapf(err, "dial %s", url)
	}
	return NewWebSocketTransport(conn, cfg), nil
}

// Recv returns the channel for incoming messages.
func (t *WebSocketTransport) Recv() <-chan *InboundMessage {
	return t.recv
}

// Send queues a message for sending.
func (t *WebSocketTransport) Send(msg *OutboundMessage) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return ErrClosed
	}

	var timeout <-chan time.Time
	if t.config.WriteTimeout > 0 {
		timer := time.NewTimer(t.config.WriteTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case t.send <- msg:
		return nil
	case <-t.writerDone:
		return ErrClosed
	case <-timeout:
		return ErrSendTimeout
	}
}

// Run starts the read and write pumps and blocks until the transport stops.
// It returns nil after a clean close from either side, ctx.Err() when ctx
// ended the run, and the I/O error when the connection failed.
func (t *WebSocketTransport) Run(ctx context.Context) error {
	if !t.started.CompareAndSwap(false, true) {
		return errAlreadyRunning
	}

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		t.readLoop()
	}()
	go func() {
		defer close(t.writerDone)
		t.writeLoop()
	}()

	select {
	case <-ctx.Done():
	case <-t.done:
	case <-readerDone:
	case <-t.writerDone:
	}

	t.signal()
	<-t.writerDone
	t.finish(readerDone)
	<-readerDone

	if err := t.Err(); err != nil {
		return err
	}
	return ctx.Err()
}

// Close stops accepting sends, flushes the queue and closes the connection.
func (t *WebSocketTransport) Close() error {
	t.signal()
	if t.started.Load() {
		<-t.stopped
		return nil
	}
	t.finish(nil)
	return nil
}

// Done is closed once the connection has been closed.
func (t *WebSocketTransport) Done() <-chan struct{} {
	return t.stopped
}

// Err returns the I/O error that ended the transport, if any.
func (t *WebSocketTransport) Err() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.err
}

func (t *WebSocketTransport) signal() {
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		close(t.done)
	}
	t.mu.Unlock()
}

func (t *WebSocketTransport) setErr(err error) {
	t.errMu.Lock()
	if t.err == nil && !t.quiet {
		t.err = err
	}
	t.errMu.Unlock()
}

func (t *WebSocketTransport) setQuiet() {
	t.errMu.Lock()
	t.quiet = true
	t.errMu.Unlock()
}

// finish sends the close frame and closes the connection. When readerDone
// is given it waits up to CloseGrace for the peer's close reply first.
func (t *WebSocketTransport) finish(readerDone <-chan struct{}) {
	t.stopOnce.Do(func() {
		t.setQuiet()
		deadline := time.Now().Add(t.config.WriteTimeout)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := t.conn.WriteControl(websocket.CloseMessage, msg, deadline); err == nil && readerDone != nil {
			select {
			case <-readerDone:
			case <-time.After(t.config.CloseGrace):
			}
		}
		t.conn.Close()
		close(t.stopped)
	})
}

func (t *WebSocketTransport) readLoop() {
	defer close(t.recv)

	if t.config.ReadTimeout > 0 {
		t.conn.SetReadDeadline(time.Now().Add(t.config.ReadTimeout))
		t.conn.SetPongHandler(func(string) error {
			return t.conn.SetReadDeadline(time.Now().Add(t.config.ReadTimeout))
		})
	}

	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.setQuiet()
			} else {
				t.setErr(err)
			}
			return
		}

		if t.config.ReadTimeout > 0 {
			t.conn.SetReadDeadline(time.Now().Add(t.config.ReadTimeout))
		}

		msg, err := ParseInbound(data)
		if err != nil {
			t.Send(&OutboundMessage{Response: NewErrorResponse(nil, ToRPCError(err))})
			continue
		}

		select {
		case t.recv <- msg:
		case <-t.done:
			return
		}
	}
}

func (t *WebSocketTransport) writeLoop() {
	var ping <-chan time.Time
	if t.config.PingInterval > 0 {
		ticker := time.NewTicker(t.config.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case msg := <-t.send:
			if err := t.write(msg); err != nil {
				t.setErr(err)
				return
			}
		case <-ping:
			deadline := time.Now().Add(t.config.WriteTimeout)
			if err := t.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				t.setErr(err)
				return
			}
		case <-t.done:
			t.drain()
			return
		}
	}
}

// drain writes everything queued before shutdown began.
func (t *WebSocketTransport) drain() {
	for {
		select {
		case msg := <-t.send:
			if err := t.write(msg); err != nil {
				t.setErr(err)
				return
			}
		default:
			return
		}
	}
}

func (t *WebSocketTransport) write(msg *OutboundMessage) error {
	data, err := MarshalOutbound(msg)
	if err != nil {
		return err
	}
	if t.config.WriteTimeout > 0 {
		t.conn.SetWriteDeadline(time.Now().Add(t.config.WriteTimeout))
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}
