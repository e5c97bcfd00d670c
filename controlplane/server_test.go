package controlplane

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cperrors "github.com/vinayprograms/controlplane/errors"
	"github.com/vinayprograms/controlplane/heartbeat"
	"github.com/vinayprograms/controlplane/liveness"
	"github.com/vinayprograms/controlplane/logging"
	"github.com/vinayprograms/controlplane/registry"
	"github.com/vinayprograms/controlplane/transport"
)

type testServer struct {
	*httptest.Server
	reg   *registry.Registry
	clock *fakeClock
	srv   *Server
}

func startServer(t *testing.T) *testServer {
	t.Helper()
	reg := registry.New()
	logger := logging.New()
	logger.SetOutput(io.Discard)

	promReg := prometheus.NewRegistry()
	clock := newFakeClock()
	svc := NewService(reg,
		WithClock(clock.Now),
		WithLogger(logger),
		WithMetrics(NewMetrics(promReg)),
	)
	srv := NewServer(context.Background(), svc, ServerConfig{Gatherer: promReg, Logger: logger})
	hs := httptest.NewServer(srv)

	t.Cleanup(func() {
		srv.Close()
		hs.Close()
		reg.Close()
	})
	return &testServer{Server: hs, reg: reg, clock: clock, srv: srv}
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + PathHeartbeats
}

func (ts *testServer) register(t *testing.T, name string) RegisterResponse {
	t.Helper()
	var resp RegisterResponse
	err := transport.NewClient(ts.URL+PathRPC, nil).Call(context.Background(), MethodRegisterNode, RegisterParams{NodeName: name}, &resp)
	require.NoError(t, err)
	return resp
}

func dialStream(t *testing.T, ts *testServer) *transport.WebSocketTransport {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	client, err := transport.DialWebSocket(ctx, ts.wsURL(), nil, transport.DefaultWebSocketConfig())
	require.NoError(t, err)
	go client.Run(ctx)
	t.Cleanup(func() { client.Close() })
	return client
}

func sendHeartbeat(t *testing.T, c *transport.WebSocketTransport, name string) {
	t.Helper()
	note, err := transport.NewNotification(MethodHeartbeat, heartbeat.New(name, time.Now()))
	require.NoError(t, err)
	require.NoError(t, c.Send(&transport.OutboundMessage{Notification: note}))
}

func awaitResponse(t *testing.T, c *transport.WebSocketTransport) *transport.Response {
	t.Helper()
	select {
	case msg, ok := <-c.Recv():
		require.True(t, ok, "stream closed before a response arrived")
		require.NotNil(t, msg.Response, "expected a response, got %s", msg.Raw)
		return msg.Response
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for response")
		return nil
	}
}

func TestServer_RegisterOverRPC(t *testing.T) {
	ts := startServer(t)

	resp := ts.register(t, "worker-1")
	assert.True(t, resp.Accepted)
	assert.Equal(t, ReasonWelcome, resp.Reason)

	nodes := ts.reg.Snapshot()
	require.Len(t, nodes, 1)
	assert.Equal(t, "worker-1", nodes[0].Name)
	assert.Contains(t, nodes[0].Peer, "127.0.0.1:")
}

func TestServer_RegisterEmptyName(t *testing.T) {
	ts := startServer(t)

	resp := ts.register(t, "")
	assert.False(t, resp.Accepted)
	assert.Equal(t, ReasonEmptyName, resp.Reason)
	assert.Equal(t, 0, ts.reg.Size())
}

func TestServer_RegisterInvalidParams(t *testing.T) {
	ts := startServer(t)

	body := `{"jsonrpc":"2.0","id":1,"method":"ControlPlane.RegisterNode","params":["worker-1"]}`
	httpResp, err := http.Post(ts.URL+PathRPC, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer httpResp.Body.Close()

	var resp transport.Response
	require.NoError(t, json.NewDecoder(httpResp.Body).Decode(&resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, transport.InvalidParams, resp.Error.Code)
}

func TestServer_UnknownMethod(t *testing.T) {
	ts := startServer(t)

	err := transport.NewClient(ts.URL+PathRPC, nil).Call(context.Background(), "ControlPlane.RemoveNode", nil, nil)
	assert.Equal(t, cperrors.ErrCodeMethod, cperrors.Code(err))
}

func TestServer_HeartbeatStream(t *testing.T) {
	ts := startServer(t)
	ts.register(t, "worker-1")
	registered := ts.clock.Now().UnixMilli()

	ts.reg.Sweep(registered+20_000, 30_000, 10_000)
	require.Equal(t, liveness.StatusNotReady, ts.reg.Snapshot()[0].Status)
	ts.clock.Advance(20 * time.Second)

	client := dialStream(t, ts)
	sendHeartbeat(t, client, "worker-1")

	assert.Eventually(t, func() bool {
		return ts.reg.Snapshot()[0].Status == liveness.StatusReady
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, ts.clock.Now().UnixMilli(), ts.reg.Snapshot()[0].LastSeenMs)

	closeReq, err := transport.NewRequest("close-1", MethodCloseHeartbeats, nil)
	require.NoError(t, err)
	require.NoError(t, client.Send(&transport.OutboundMessage{Request: closeReq}))

	ack := awaitResponse(t, client)
	assert.Equal(t, "close-1", ack.ID)
	assert.Nil(t, ack.Error)
	assert.JSONEq(t, `{}`, string(ack.Result))
}

func TestServer_HeartbeatFromGhostIgnored(t *testing.T) {
	ts := startServer(t)

	client := dialStream(t, ts)
	sendHeartbeat(t, client, "ghost-node")

	// The stream keeps going: a later request is still answered.
	closeReq, _ := transport.NewRequest(1, MethodCloseHeartbeats, nil)
	require.NoError(t, client.Send(&transport.OutboundMessage{Request: closeReq}))
	ack := awaitResponse(t, client)
	assert.Nil(t, ack.Error)

	assert.Equal(t, 0, ts.reg.Size())
	assert.False(t, ts.reg.Exists("ghost-node"))
}

func TestServer_StreamUnknownRequest(t *testing.T) {
	ts := startServer(t)
	client := dialStream(t, ts)

	req, _ := transport.NewRequest(9, "ControlPlane.Sweep", nil)
	require.NoError(t, client.Send(&transport.OutboundMessage{Request: req}))

	resp := awaitResponse(t, client)
	require.NotNil(t, resp.Error)
	assert.Equal(t, transport.MethodNotFound, resp.Error.Code)
}

func TestServer_CloseEndsStreams(t *testing.T) {
	ts := startServer(t)
	client := dialStream(t, ts)
	sendHeartbeat(t, client, "ghost-node")

	done := make(chan struct{})
	go func() {
		ts.srv.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Server.Close did not return")
	}

	select {
	case _, ok := <-client.Recv():
		assert.False(t, ok, "client should see the stream end")
	case <-time.After(2 * time.Second):
		t.Fatal("client did not observe close")
	}

	// New streams are refused once closed.
	httpResp, err := http.Get(ts.URL + PathHeartbeats)
	require.NoError(t, err)
	httpResp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, httpResp.StatusCode)
}

func TestServer_Health(t *testing.T) {
	ts := startServer(t)
	ts.register(t, "worker-1")

	httpResp, err := http.Get(ts.URL + PathHealth)
	require.NoError(t, err)
	defer httpResp.Body.Close()

	var health Health
	require.NoError(t, json.NewDecoder(httpResp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.Nodes)
}

func TestServer_Metrics(t *testing.T) {
	ts := startServer(t)
	ts.register(t, "worker-1")
	ts.register(t, "")

	httpResp, err := http.Get(ts.URL + PathMetrics)
	require.NoError(t, err)
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `controlplane_registrations_total{result="accepted"} 1`)
	assert.Contains(t, string(body), `controlplane_registrations_total{result="rejected"} 1`)
}
