// Package config loads the TOML configuration shared by the control plane
// and the agent.
package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/vinayprograms/controlplane/bus"
	cperrors "github.com/vinayprograms/controlplane/errors"
	"github.com/vinayprograms/controlplane/liveness"
	"github.com/vinayprograms/controlplane/logging"
)

// Duration is a time.Duration written as a string such as "5s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the full configuration file.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Liveness  LivenessConfig  `toml:"liveness"`
	Monitor   MonitorConfig   `toml:"monitor"`
	Bus       BusConfig       `toml:"bus"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Agent     AgentConfig     `toml:"agent"`
	Log       LogConfig       `toml:"log"`
}

// ServerConfig is the control plane's listener.
type ServerConfig struct {
	Listen string `toml:"listen"`

	// Advertise registers the control plane over mDNS.
	Advertise bool   `toml:"advertise"`
	Instance  string `toml:"instance"`
}

// LivenessConfig holds the sweep thresholds. They are independent knobs:
// SUSPECT is only reachable while suspect_timeout_ms < not_ready_timeout_ms.
type LivenessConfig struct {
	SuspectTimeoutMs  int64 `toml:"suspect_timeout_ms"`
	NotReadyTimeoutMs int64 `toml:"not_ready_timeout_ms"`

	// Strict refuses to start when SUSPECT is unreachable.
	Strict bool `toml:"strict"`
}

// MonitorConfig controls the health monitor loop and its sinks.
type MonitorConfig struct {
	Interval         Duration `toml:"interval"`
	Table            bool     `toml:"table"`
	LogSnapshots     bool     `toml:"log_snapshots"`
	PublishSnapshots bool     `toml:"publish_snapshots"`
}

// BusConfig selects the message bus. An empty URL disables it.
type BusConfig struct {
	URL              string `toml:"url"`
	HeartbeatSubject string `toml:"heartbeat_subject"`
	SnapshotSubject  string `toml:"snapshot_subject"`
}

// TelemetryConfig configures OTLP trace export. An empty endpoint disables it.
type TelemetryConfig struct {
	Endpoint string `toml:"endpoint"`
	Protocol string `toml:"protocol"`
	Insecure bool   `toml:"insecure"`
}

// AgentConfig is read by the node agent.
type AgentConfig struct {
	NodeName string   `toml:"node_name"`
	Server   string   `toml:"server"`
	Interval Duration `toml:"interval"`

	// Discover finds the control plane over mDNS when Server is empty.
	Discover bool `toml:"discover"`

	// UseBus sends heartbeats over the bus instead of a WebSocket stream.
	UseBus bool `toml:"use_bus"`
}

// LogConfig sets the minimum log level.
type LogConfig struct {
	Level string `toml:"level"`
}

// Default returns the production configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:   "0.0.0.0:50051",
			Instance: "controlplane",
		},
		Liveness: LivenessConfig{
			SuspectTimeoutMs:  3000,
			NotReadyTimeoutMs: liveness.DefaultNotReadyTimeoutMs,
		},
		Monitor: MonitorConfig{
			Interval: Duration{5 * time.Second},
			Table:    true,
		},
		Bus: BusConfig{
			HeartbeatSubject: bus.SubjectHeartbeat,
			SnapshotSubject:  bus.SubjectSnapshot,
		},
		Telemetry: TelemetryConfig{
			Protocol: "grpc",
		},
		Agent: AgentConfig{
			Server:   "localhost:50051",
			Interval: Duration{time.Second},
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadFile reads path over the defaults.
func LoadFile(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(string(content))
}

// Parse decodes TOML content over the defaults and validates the result.
// Unknown keys are rejected.
func Parse(content string) (*Config, error) {
	cfg := Default()
	md, err := toml.Decode(content, cfg)
	if err != nil {
		return nil, cperrors.Config("config", "failed to parse", cperrors.WithCause(err))
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, cperrors.Config(keys[0], "unknown keys: "+strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Server.Listen); err != nil {
		return cperrors.Config("server.listen", err.Error())
	}
	if err := c.Thresholds().Validate(); err != nil {
		return cperrors.Config("liveness", "invalid thresholds", cperrors.WithCause(err))
	}
	if c.Monitor.Interval.Duration <= 0 {
		return cperrors.Config("monitor.interval", "must be positive")
	}
	if c.Agent.Interval.Duration <= 0 {
		return cperrors.Config("agent.interval", "must be positive")
	}
	if err := bus.ValidateSubject(c.Bus.HeartbeatSubject); err != nil {
		return cperrors.Config("bus.heartbeat_subject", err.Error())
	}
	if err := bus.ValidateSubject(c.Bus.SnapshotSubject); err != nil {
		return cperrors.Config("bus.snapshot_subject", err.Error())
	}
	switch c.Telemetry.Protocol {
	case "grpc", "http":
	default:
		return cperrors.Config("telemetry.protocol", fmt.Sprintf("unsupported protocol %q", c.Telemetry.Protocol))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return cperrors.Config("log.level", err.Error())
	}
	return nil
}

// Thresholds returns the liveness thresholds.
func (c *Config) Thresholds() liveness.Thresholds {
	return liveness.Thresholds{
		SuspectTimeoutMs:  c.Liveness.SuspectTimeoutMs,
		NotReadyTimeoutMs: c.Liveness.NotReadyTimeoutMs,
	}
}

// LogLevel returns the parsed log level. Validate has already checked it.
func (c *Config) LogLevel() logging.Level {
	level, err := logging.ParseLevel(c.Log.Level)
	if err != nil {
		return logging.LevelInfo
	}
	return level
}
