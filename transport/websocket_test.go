package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// wsPair starts a server that wraps each upgraded connection in a
// WebSocketTransport and hands it back on the returned channel.
func wsPair(t testing.TB) (string, <-chan *WebSocketTransport) {
	t.Helper()
	upgrader := NewWebSocketUpgrader()
	ready := make(chan *WebSocketTransport, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade error: %v", err)
			return
		}
		ready <- NewWebSocketTransport(conn, DefaultWebSocketConfig())
	}))
	t.Cleanup(server.Close)

	return "ws" + strings.TrimPrefix(server.URL, "http"), ready
}

func TestWebSocketConfig_Defaults(t *testing.T) {
	cfg := DefaultWebSocketConfig()
	if cfg.MaxMessageSize != 64*1024 {
		t.Errorf("MaxMessageSize = %d, want 64KiB", cfg.MaxMessageSize)
	}
	if cfg.WriteTimeout != 10*time.Second {
		t.Errorf("WriteTimeout = %v, want 10s", cfg.WriteTimeout)
	}
	if cfg.CloseGrace != time.Second {
		t.Errorf("CloseGrace = %v, want 1s", cfg.CloseGrace)
	}
}

func TestWebSocketTransport_RoundTrip(t *testing.T) {
	wsURL, ready := wsPair(t)

	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	defer clientConn.Close()

	serverTransport := <-ready
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- serverTransport.Run(ctx) }()

	req, _ := NewRequest(1, "test", nil)
	reqData, _ := json.Marshal(req)
	clientConn.WriteMessage(websocket.TextMessage, reqData)

	select {
	case msg := <-serverTransport.Recv():
		if msg.Request == nil {
			t.Fatal("expected request")
		}
		if msg.Request.Method != "test" {
			t.Errorf("method = %q, want %q", msg.Request.Method, "test")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}

	resp, _ := NewResult(1, "ok")
	if err := serverTransport.Send(&OutboundMessage{Response: resp}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	clientConn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := clientConn.ReadMessage()
	if err != nil {
		t.Fatalf("read error: %v", err)
	}

	var got Response
	json.Unmarshal(data, &got)
	var result string
	if err := got.Decode(&result); err != nil || result != "ok" {
		t.Errorf("result = %q (%v), want %q", result, err, "ok")
	}

	cancel()
	<-done
}

func TestWebSocketTransport_CloseFlushesQueue(t *testing.T) {
	wsURL, ready := wsPair(t)

	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	defer clientConn.Close()

	serverTransport := <-ready
	done := make(chan error, 1)
	go func() { done <- serverTransport.Run(context.Background()) }()

	// Queue then close immediately: the ack must precede the close frame.
	ack, _ := NewResult("close-1", struct{}{})
	if err := serverTransport.Send(&OutboundMessage{Response: ack}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	closed := make(chan struct{})
	go func() {
		serverTransport.Close()
		close(closed)
	}()

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := clientConn.ReadMessage()
	if err != nil {
		t.Fatalf("expected queued response before close, got %v", err)
	}
	msg, err := ParseInbound(data)
	if err != nil || msg.Response == nil || msg.Response.ID != "close-1" {
		t.Fatalf("unexpected message %s (%v)", data, err)
	}

	_, _, err = clientConn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("expected normal close, got %v", err)
	}

	<-closed
	if err := <-done; err != nil {
		t.Errorf("Run() = %v, want nil after clean close", err)
	}
}

func TestWebSocketTransport_Notifications(t *testing.T) {
	wsURL, ready := wsPair(t)

	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	defer clientConn.Close()

	serverTransport := <-ready
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go serverTransport.Run(ctx)

	note, _ := NewNotification("update", map[string]string{"status": "ready"})
	serverTransport.Send(&OutboundMessage{Notification: note})

	clientConn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := clientConn.ReadMessage()
	if err != nil {
		t.Fatalf("read error: %v", err)
	}

	var got Notification
	json.Unmarshal(data, &got)
	if got.Method != "update" {
		t.Errorf("method = %q, want %q", got.Method, "update")
	}
}

func TestDialWebSocket_BothEnds(t *testing.T) {
	wsURL, ready := wsPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := DialWebSocket(ctx, wsURL, nil, DefaultWebSocketConfig())
	if err != nil {
		t.Fatalf("DialWebSocket: %v", err)
	}
	server := <-ready

	serverDone := make(chan error, 1)
	clientDone := make(chan error, 1)
	go func() { serverDone <- server.Run(ctx) }()
	go func() { clientDone <- client.Run(ctx) }()

	note, _ := NewNotification("ping", map[string]int{"n": 1})
	if err := client.Send(&OutboundMessage{Notification: note}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case msg := <-server.Recv():
		if msg.Notification == nil || msg.Notification.Method != "ping" {
			t.Fatalf("unexpected message: %s", msg.Raw)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for notification")
	}

	server.Close()

	// The client sees the close frame and its Recv channel drains shut.
	select {
	case _, ok := <-client.Recv():
		if ok {
			t.Error("expected client Recv to be closed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client did not observe close")
	}
	if err := <-clientDone; err != nil {
		t.Errorf("client Run() = %v, want nil", err)
	}
	<-serverDone
}

func TestDialWebSocket_Refused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	defer server.Close()

	if _, err := DialWebSocket(context.Background(), wsURL, nil, DefaultWebSocketConfig()); err == nil {
		t.Fatal("expected handshake error")
	}
}

// --- Failure Tests ---

func TestWebSocketTransport_SendAfterClose(t *testing.T) {
	wsURL, ready := wsPair(t)

	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	clientConn.Close()

	serverTransport := <-ready
	serverTransport.Close()

	note, _ := NewNotification("test", nil)
	err = serverTransport.Send(&OutboundMessage{Notification: note})
	if !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}

func TestWebSocketTransport_ClientDrop(t *testing.T) {
	wsURL, ready := wsPair(t)

	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}

	serverTransport := <-ready
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- serverTransport.Run(ctx) }()

	// Drop the TCP connection without a close frame.
	clientConn.UnderlyingConn().Close()

	select {
	case err := <-done:
		if err == nil {
			t.Error("abrupt disconnect should surface an error")
		}
		if serverTransport.Err() == nil {
			t.Error("Err() should record the read failure")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("transport did not exit after client drop")
	}
}

// --- Security Tests ---

func TestWebSocketTransport_MalformedJSON(t *testing.T) {
	wsURL, ready := wsPair(t)

	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	defer clientConn.Close()

	serverTransport := <-ready
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go serverTransport.Run(ctx)

	clientConn.WriteMessage(websocket.TextMessage, []byte(`{invalid`))

	clientConn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := clientConn.ReadMessage()
	if err != nil {
		t.Fatalf("read error: %v", err)
	}

	var resp Response
	json.Unmarshal(data, &resp)
	if resp.Error == nil {
		t.Fatal("expected error response")
	}
	if resp.Error.Code != ParseError {
		t.Errorf("error code = %d, want %d", resp.Error.Code, ParseError)
	}
}

// --- Performance Tests ---

func BenchmarkWebSocketTransport_Throughput(b *testing.B) {
	wsURL, ready := wsPair(b)

	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		b.Fatalf("dial error: %v", err)
	}
	defer clientConn.Close()

	serverTransport := <-ready
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go serverTransport.Run(ctx)

	note, _ := NewNotification("bench", map[string]int64{"now_unix_ms": 1})
	data, _ := json.Marshal(note)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		clientConn.WriteMessage(websocket.TextMessage, data)
		<-serverTransport.Recv()
	}
}
