package controlplane

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	cperrors "github.com/vinayprograms/controlplane/errors"
	"github.com/vinayprograms/controlplane/logging"
	"github.com/vinayprograms/controlplane/telemetry"
	"github.com/vinayprograms/controlplane/transport"
)

// ServerConfig configures a Server.
type ServerConfig struct {
	// WebSocket tunes heartbeat stream connections.
	WebSocket transport.WebSocketConfig

	// Gatherer backs GET /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer

	Logger *logging.Logger
}

// Server exposes a Service over HTTP: unary JSON-RPC on /rpc and heartbeat
// streams on /heartbeats.
type Server struct {
	service  *Service
	config   ServerConfig
	mux      *http.ServeMux
	upgrader *websocket.Upgrader
	logger   *logging.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	streams sync.WaitGroup
}

// NewServer creates a server for svc. Streams end when ctx is cancelled or
// Close is called.
func NewServer(ctx context.Context, svc *Service, cfg ServerConfig) *Server {
	if cfg.WebSocket.SendBufferSize == 0 {
		cfg.WebSocket = transport.DefaultWebSocketConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.New().WithComponent("server")
	}

	s := &Server{
		service:  svc,
		config:   cfg,
		mux:      http.NewServeMux(),
		upgrader: transport.NewWebSocketUpgrader(),
		logger:   logger,
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.mux.Handle(PathRPC, transport.NewHTTPHandler(transport.Methods{
		MethodRegisterNode: transport.HandlerFunc(s.handleRegister),
	}))
	s.mux.HandleFunc(PathHeartbeats, s.handleHeartbeats)
	s.mux.HandleFunc(PathHealth, s.handleHealth)
	if cfg.Gatherer != nil {
		s.mux.Handle(PathMetrics, promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Close ends every open heartbeat stream and waits for their handlers.
func (s *Server) Close() error {
	s.cancel()
	s.streams.Wait()
	return nil
}

func (s *Server) handleRegister(ctx context.Context, method string, params json.RawMessage) (interface{}, error) {
	var p RegisterParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &transport.Error{Code: transport.InvalidParams, Message: "Invalid params", Data: err.Error()}
		}
	}
	return s.service.RegisterNode(ctx, p.NodeName, transport.PeerFromContext(ctx)), nil
}

func (s *Server) handleHeartbeats(w http.ResponseWriter, r *http.Request) {
	if s.ctx.Err() != nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		s.logger.Debug("upgrade_failed", map[string]interface{}{"peer": r.RemoteAddr, "error": err.Error()})
		return
	}

	s.streams.Add(1)
	defer s.streams.Done()

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	ctx = telemetry.ExtractHTTP(ctx, r.Header)
	ctx = transport.WithPeer(ctx, r.RemoteAddr)

	t := transport.NewWebSocketTransport(conn, s.config.WebSocket)
	runErr := make(chan error, 1)
	go func() { runErr <- t.Run(ctx) }()

	_, err = s.service.StreamHeartbeats(ctx, newTransportStream(t))
	t.Close()
	<-runErr

	if err != nil && !cperrors.Is(err, cperrors.ErrCodeStreamClosed) && ctx.Err() == nil {
		s.logger.Warn("stream_failed", map[string]interface{}{"peer": r.RemoteAddr, "error": err.Error()})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(Health{Status: "ok", Nodes: s.service.Registry().Size()})
}
