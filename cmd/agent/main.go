// Command agent registers a node with the control plane and streams
// heartbeats until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/vinayprograms/controlplane/agent"
	"github.com/vinayprograms/controlplane/bus"
	"github.com/vinayprograms/controlplane/config"
	"github.com/vinayprograms/controlplane/discovery"
	cperrors "github.com/vinayprograms/controlplane/errors"
	"github.com/vinayprograms/controlplane/logging"
	"github.com/vinayprograms/controlplane/shutdown"
	"github.com/vinayprograms/controlplane/telemetry"
)

var version = "dev"

func usage() {
	name := os.Args[0]
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "🤖 Node agent - registration and heartbeat client\n\n")
	fmt.Fprintf(out, "Usage: %s [OPTIONS]\n\nOptions:\n", name)
	fmt.Fprintln(out, "  -n, --node-name <name>    Node name for registration (required)")
	fmt.Fprintln(out, "  -s, --server <address>    Control plane address (default: localhost:50051)")
	fmt.Fprintln(out, "      --discover            Find the control plane over mDNS")
	fmt.Fprintln(out, "      --interval <dur>      Heartbeat interval (default: 1s)")
	fmt.Fprintln(out, "      --nats <url>          Send heartbeats over NATS instead of a stream")
	fmt.Fprintln(out, "      --config <path>       TOML config file")
	fmt.Fprintln(out, "      --otel-endpoint <addr> OTLP trace collector")
	fmt.Fprintln(out, "      --log-level <level>   debug, info, warn or error")
	fmt.Fprintln(out, "  -h, --help                Show this help message")
	fmt.Fprintf(out, "\nExamples:\n")
	fmt.Fprintf(out, "  %s --node-name worker-1\n", name)
	fmt.Fprintf(out, "  %s -n worker-2 -s 192.168.1.100:50051\n", name)
	fmt.Fprintf(out, "  %s --node-name control-node --server localhost:9090\n", name)
}

func main() {
	var nodeName, server string
	flag.StringVar(&nodeName, "n", "", "node name (required)")
	flag.StringVar(&nodeName, "node-name", "", "node name (required)")
	flag.StringVar(&server, "s", "", "control plane address")
	flag.StringVar(&server, "server", "", "control plane address")
	discover := flag.Bool("discover", false, "find the control plane over mDNS")
	interval := flag.Duration("interval", 0, "heartbeat interval")
	natsURL := flag.String("nats", "", "NATS URL for bus heartbeats")
	configPath := flag.String("config", "", "path to a TOML config file")
	otelEndpoint := flag.String("otel-endpoint", "", "OTLP trace endpoint")
	logLevel := flag.String("log-level", "", "log level")
	flag.Usage = usage
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
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "n", "node-name":
			cfg.Agent.NodeName = nodeName
		case "s", "server":
			cfg.Agent.Server = server
		case "discover":
			cfg.Agent.Discover = *discover
		case "interval":
			cfg.Agent.Interval.Duration = *interval
		case "nats":
			cfg.Bus.URL = *natsURL
			cfg.Agent.UseBus = true
		case "otel-endpoint":
			cfg.Telemetry.Endpoint = *otelEndpoint
		case "log-level":
			cfg.Log.Level = *logLevel
		}
	})

	if cfg.Agent.NodeName == "" {
		fmt.Fprintln(os.Stderr, "❌ Error: node name is required")
		usage()
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}

	// -s beats --discover; discovery only fills in a missing address.
	serverGiven := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "s" || f.Name == "server" {
			serverGiven = true
		}
	})
	if cfg.Agent.Discover && !serverGiven {
		addr, err := discovery.Lookup(context.Background(), discovery.DefaultLookupTimeout)
		if err != nil {
			fmt.Fprintf(os.Stderr, "❌ %v\n", err)
			os.Exit(1)
		}
		cfg.Agent.Server = addr
	}

	logger := logging.New().WithComponent("agent")
	logger.SetLevel(cfg.LogLevel())

	fmt.Println("🤖 Agent starting...")
	fmt.Printf("📛 Node Name: %s\n", cfg.Agent.NodeName)
	fmt.Printf("🎯 Control Plane: %s\n", cfg.Agent.Server)

	if err := run(cfg, logger); err != nil {
		if cperrors.Is(err, cperrors.ErrCodeRejected) {
			fmt.Printf("❌ Registration rejected: %s\n", cperrors.AsCodedError(err).Metadata()["reason"])
		}
		fmt.Printf("💥 %v\n", err)
		os.Exit(1)
	}
	fmt.Println("👋 Agent shutting down...")
}

func run(cfg *config.Config, logger *logging.Logger) error {
	coord := shutdown.NewCoordinator(shutdown.DefaultConfig())
	coord.HandleSignals()
	ctx := coord.Context()

	if cfg.Telemetry.Endpoint != "" {
		provider, err := telemetry.InitProvider(ctx, telemetry.ProviderConfig{
			ServiceName:    "controlplane-agent",
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

	acfg := agent.Config{
		NodeName: cfg.Agent.NodeName,
		Server:   cfg.Agent.Server,
		Interval: cfg.Agent.Interval.Duration,
		Logger:   logger,
		Tracer:   telemetry.GetTracer(),
	}
	if cfg.Agent.UseBus && cfg.Bus.URL != "" {
		natsCfg := bus.DefaultNATSConfig()
		natsCfg.URL = cfg.Bus.URL
		natsCfg.Name = cfg.Agent.NodeName
		b, err := bus.NewNATSBus(natsCfg)
		if err != nil {
			return cperrors.WrapWithCode(err, cperrors.ErrCodeUnavailable, "connecting to "+cfg.Bus.URL)
		}
		coord.RegisterFunc("bus", shutdown.PhaseBackends, func(context.Context) error {
			if err := b.Flush(); err != nil {
				logger.Warn("bus_flush_failed", map[string]interface{}{"error": err.Error()})
			}
			return b.Close()
		})
		acfg.Bus = b
		acfg.BusSubject = cfg.Bus.HeartbeatSubject
	}

	client, err := agent.New(acfg)
	if err != nil {
		return err
	}

	runErr := client.Run(ctx)

	// A signal already started shutdown; otherwise Run ended on its own.
	if ctx.Err() == nil {
		coord.ShutdownWithTimeout(0)
	}
	<-coord.Done()
	return runErr
}
