// Command controlplane accepts node registrations and heartbeat streams,
// sweeps node liveness on an interval and prints the cluster table.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/vinayprograms/controlplane/bus"
	"github.com/vinayprograms/controlplane/config"
	"github.com/vinayprograms/controlplane/controlplane"
	"github.com/vinayprograms/controlplane/discovery"
	cperrors "github.com/vinayprograms/controlplane/errors"
	"github.com/vinayprograms/controlplane/heartbeat"
	"github.com/vinayprograms/controlplane/logging"
	"github.com/vinayprograms/controlplane/monitor"
	"github.com/vinayprograms/controlplane/registry"
	"github.com/vinayprograms/controlplane/shutdown"
	"github.com/vinayprograms/controlplane/telemetry"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	listen := flag.String("listen", "", "listen address (default 0.0.0.0:50051)")
	suspect := flag.Int64("suspect-timeout-ms", 0, "idle time before a node is SUSPECT")
	notReady := flag.Int64("not-ready-timeout-ms", 0, "idle time before a node is NOT_READY")
	strict := flag.Bool("strict", false, "refuse to start when SUSPECT is unreachable")
	interval := flag.Duration("monitor-interval", 0, "sweep interval (default 5s)")
	natsURL := flag.String("nats", "", "NATS URL for bus heartbeats and snapshots")
	advertise := flag.Bool("advertise", false, "advertise over mDNS")
	otelEndpoint := flag.String("otel-endpoint", "", "OTLP trace endpoint")
	logLevel := flag.String("log-level", "", "debug, info, warn or error")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.LoadFile(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "❌ %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// Flags given on the command line win over the file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			cfg.Server.Listen = *listen
		case "suspect-timeout-ms":
			cfg.Liveness.SuspectTimeoutMs = *suspect
		case "not-ready-timeout-ms":
			cfg.Liveness.NotReadyTimeoutMs = *notReady
		case "strict":
			cfg.Liveness.Strict = *strict
		case "monitor-interval":
			cfg.Monitor.Interval.Duration = *interval
		case "nats":
			cfg.Bus.URL = *natsURL
		case "advertise":
			cfg.Server.Advertise = *advertise
		case "otel-endpoint":
			cfg.Telemetry.Endpoint = *otelEndpoint
		case "log-level":
			cfg.Log.Level = *logLevel
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}

	logger := logging.New().WithComponent("controlplane")
	logger.SetLevel(cfg.LogLevel())

	if err := run(cfg, logger); err != nil {
		logger.Error("exit", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *logging.Logger) error {
	thresholds := cfg.Thresholds()
	if err := thresholds.CheckLadder(); err != nil {
		if cfg.Liveness.Strict {
			return cperrors.Config("liveness", "suspect_timeout_ms must be below not_ready_timeout_ms", cperrors.WithCause(err))
		}
		logger.Warn("suspect_unreachable", map[string]interface{}{
			"suspect_timeout_ms":   thresholds.SuspectTimeoutMs,
			"not_ready_timeout_ms": thresholds.NotReadyTimeoutMs,
		})
	}

	coord := shutdown.NewCoordinator(shutdown.DefaultConfig())
	coord.HandleSignals()
	ctx := coord.Context()

	if cfg.Telemetry.Endpoint != "" {
		provider, err := telemetry.InitProvider(ctx, telemetry.ProviderConfig{
			ServiceName:    "controlplane",
			ServiceVersion: version,
			Endpoint:       cfg.Telemetry.Endpoint,
			Protocol:       cfg.Telemetry.Protocol,
			Insecure:       cfg.Telemetry.Insecure,
		})
		if err != nil {
			logger.Warn("tracing_disabled", map[string]interface{}{"error": err.Error()})
		} else {
			coord.RegisterFunc("telemetry", shutdown.PhaseTelemetry, provider.Shutdown)
		}
	}
	tracer := telemetry.GetTracer()

	reg := registry.New()
	coord.RegisterFunc("registry", shutdown.PhaseBackends, func(context.Context) error { return reg.Close() })
	go watchRegistry(ctx, reg, logger.WithComponent("registry"))

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc := controlplane.NewService(reg,
		controlplane.WithLogger(logger.WithComponent("service")),
		controlplane.WithTracer(tracer),
		controlplane.WithMetrics(controlplane.NewMetrics(promReg)),
	)
	srv := controlplane.NewServer(ctx, svc, controlplane.ServerConfig{
		Gatherer: promReg,
		Logger:   logger.WithComponent("server"),
	})

	ln, err := net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		return cperrors.Wrapf(err, "listening on %s", cfg.Server.Listen)
	}
	httpServer := &http.Server{Handler: srv, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("serve_failed", map[string]interface{}{"error": err.Error()})
			coord.ShutdownWithTimeout(0)
		}
	}()
	coord.RegisterFunc("http", shutdown.PhaseIngress, httpServer.Shutdown)
	coord.RegisterFunc("streams", shutdown.PhaseStreams, func(context.Context) error { return srv.Close() })

	if cfg.Server.Advertise {
		port, err := discovery.PortFromListen(ln.Addr().String())
		if err != nil {
			return err
		}
		adv, err := discovery.Advertise(cfg.Server.Instance, port, map[string]string{"version": version})
		if err != nil {
			logger.Warn("advertise_failed", map[string]interface{}{"error": err.Error()})
		} else {
			coord.RegisterFunc("mdns", shutdown.PhaseIngress, func(context.Context) error {
				adv.Shutdown()
				return nil
			})
		}
	}

	sinks := []monitor.Sink{monitor.NewMetricsSink(promReg)}
	if cfg.Monitor.Table {
		sinks = append(sinks, monitor.NewTableSink(os.Stdout))
	}
	if cfg.Monitor.LogSnapshots {
		sinks = append(sinks, monitor.NewLogSink(logger.WithComponent("monitor")))
	}

	if cfg.Bus.URL != "" {
		busSinks, err := startBus(ctx, cfg, svc, coord, logger)
		if err != nil {
			return err
		}
		sinks = append(sinks, busSinks...)
	}

	mon, err := monitor.New(monitor.Config{
		Registry:   reg,
		Thresholds: thresholds,
		Interval:   cfg.Monitor.Interval.Duration,
		Sinks:      sinks,
		Logger:     logger.WithComponent("monitor"),
		Tracer:     tracer,
	})
	if err != nil {
		return err
	}
	monDone := make(chan struct{})
	go func() {
		defer close(monDone)
		mon.Run(ctx)
	}()
	coord.RegisterFunc("monitor", shutdown.PhaseStreams, func(ctx context.Context) error {
		select {
		case <-monDone:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	fmt.Printf("🚀 Control plane listening on %s\n", ln.Addr())
	fmt.Println("📡 Ready to accept node registrations and heartbeats!")
	fmt.Println("🛑 Press Ctrl+C to stop")

	<-coord.Done()
	if result := coord.Result(); result != nil && result.Failed() {
		logger.Warn("shutdown_incomplete", map[string]interface{}{"failed": result.FailedHandlers()})
	}
	return coord.Err()
}

// startBus connects to NATS, feeds bus heartbeats into the service and
// returns the snapshot sink when snapshots are published.
func startBus(ctx context.Context, cfg *config.Config, svc *controlplane.Service, coord *shutdown.Coordinator, logger *logging.Logger) ([]monitor.Sink, error) {
	natsCfg := bus.DefaultNATSConfig()
	natsCfg.URL = cfg.Bus.URL
	natsCfg.Name = cfg.Server.Instance
	b, err := bus.NewNATSBus(natsCfg)
	if err != nil {
		return nil, cperrors.WrapWithCode(err, cperrors.ErrCodeUnavailable, "connecting to "+cfg.Bus.URL)
	}

	stream, err := heartbeat.NewBusStream(b, cfg.Bus.HeartbeatSubject)
	if err != nil {
		b.Close()
		return nil, err
	}
	busLogger := logger.WithComponent("bus")
	go func() {
		summary, err := svc.StreamHeartbeats(ctx, stream)
		if err != nil && ctx.Err() == nil {
			busLogger.Error("bus_stream_failed", map[string]interface{}{"error": err.Error()})
		}
		busLogger.Info("bus_stream_closed", map[string]interface{}{
			"applied":   summary.Applied,
			"ignored":   summary.Ignored,
			"malformed": stream.Malformed(),
		})
	}()
	coord.RegisterFunc("bus", shutdown.PhaseBackends, func(context.Context) error {
		stream.Close()
		return b.Close()
	})

	if !cfg.Monitor.PublishSnapshots {
		return nil, nil
	}
	sink, err := monitor.NewBusSink(b, cfg.Bus.SnapshotSubject)
	if err != nil {
		return nil, err
	}
	return []monitor.Sink{sink}, nil
}

// watchRegistry logs registry events at DEBUG until the registry closes.
func watchRegistry(ctx context.Context, reg *registry.Registry, logger *logging.Logger) {
	events, err := reg.Watch()
	if err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			logger.Debug("registry_event", map[string]interface{}{
				"type":   string(ev.Type),
				"node":   ev.Node.Name,
				"status": ev.Node.Status.String(),
			})
		}
	}
}
