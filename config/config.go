// Package config loads the runtime configuration: built-in defaults, then
// an optional YAML file, then MCP_DUPLEX_* environment variables, then
// whatever command-line flags the caller bound.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/mcp-duplex/transport"
)

// EnvPrefix prefixes every environment override, e.g.
// MCP_DUPLEX_EVENT_STREAM_ADDR.
const EnvPrefix = "MCP_DUPLEX"

// Config is the effective configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	Stream      StreamConfig      `mapstructure:"stream"`
	EventStream EventStreamConfig `mapstructure:"event_stream"`
	WebSocket   WebSocketConfig   `mapstructure:"websocket"`
	Limits      LimitsConfig      `mapstructure:"limits"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
	Harness     HarnessConfig     `mapstructure:"harness"`
}

type ServerConfig struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type StreamConfig struct {
	// Framing is "newline" or "length".
	Framing string `mapstructure:"framing"`
}

type EventStreamConfig struct {
	Addr              string        `mapstructure:"addr"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	// MaxListen bounds each push channel; zero is unbounded.
	MaxListen       time.Duration `mapstructure:"max_listen"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type WebSocketConfig struct {
	Addr string `mapstructure:"addr"`
}

// LimitsConfig feeds the middleware stack. Zero disables a limit.
type LimitsConfig struct {
	Rate            int           `mapstructure:"rate"`
	Burst           int           `mapstructure:"burst"`
	MaxRequestBytes int64         `mapstructure:"max_request_bytes"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
}

type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

type HarnessConfig struct {
	// ServerCommand launches the server under test. Empty means this
	// executable's serve command.
	ServerCommand   []string      `mapstructure:"server_command"`
	ReadyTimeout    time.Duration `mapstructure:"ready_timeout"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
	ListenDuration  time.Duration `mapstructure:"listen_duration"`
	SSEAddr         string        `mapstructure:"sse_addr"`
}

// SetDefaults registers every key with its default. Keys without a default
// are invisible to environment overrides.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.name", "mcp-duplex-demo")
	v.SetDefault("server.version", "1.0.0")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("stream.framing", "newline")

	v.SetDefault("event_stream.addr", "localhost:8000")
	v.SetDefault("event_stream.heartbeat_interval", 5*time.Second)
	v.SetDefault("event_stream.max_listen", time.Duration(0))
	v.SetDefault("event_stream.read_timeout", 30*time.Second)
	v.SetDefault("event_stream.shutdown_timeout", 10*time.Second)

	v.SetDefault("websocket.addr", "localhost:8001")

	v.SetDefault("limits.rate", 0)
	v.SetDefault("limits.burst", 0)
	v.SetDefault("limits.max_request_bytes", int64(1<<20))
	v.SetDefault("limits.request_timeout", 30*time.Second)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "localhost:4317")
	v.SetDefault("telemetry.service_name", "mcp-duplex")

	v.SetDefault("harness.server_command", []string{})
	v.SetDefault("harness.ready_timeout", 10*time.Second)
	v.SetDefault("harness.graceful_timeout", 5*time.Second)
	v.SetDefault("harness.listen_duration", 3*time.Second)
	v.SetDefault("harness.sse_addr", "localhost:8000")
}

// New returns a viper instance with defaults and environment overrides
// wired. Flags are bound by the caller before Load.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads file (if not empty) into v and decodes the result.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	var errs []error
	if _, err := transport.ParseFraming(c.Stream.Framing); err != nil {
		errs = append(errs, fmt.Errorf("stream.framing: %w", err))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}
	if c.EventStream.HeartbeatInterval <= 0 {
		errs = append(errs, errors.New("event_stream.heartbeat_interval must be positive"))
	}
	if c.EventStream.MaxListen < 0 {
		errs = append(errs, errors.New("event_stream.max_listen must not be negative"))
	}
	if c.Limits.Rate < 0 || c.Limits.Burst < 0 {
		errs = append(errs, errors.New("limits.rate and limits.burst must not be negative"))
	}
	if c.Harness.ReadyTimeout <= 0 || c.Harness.GracefulTimeout <= 0 {
		errs = append(errs, errors.New("harness timeouts must be positive"))
	}
	return errors.Join(errs...)
}

// SlogLevel parses the configured level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(l.Level))
	return level, err
}

// YAML renders the configuration the way a config file would spell it.
func (c *Config) YAML() ([]byte, error) {
	doc := map[string]any{
		"server": map[string]any{
			"name":    c.Server.Name,
			"version": c.Server.Version,
		},
		"log": map[string]any{
			"level":  c.Log.Level,
			"format": c.Log.Format,
		},
		"stream": map[string]any{
			"framing": c.Stream.Framing,
		},
		"event_stream": map[string]any{
			"addr":               c.EventStream.Addr,
			"heartbeat_interval": c.EventStream.HeartbeatInterval.String(),
			"max_listen":         c.EventStream.MaxListen.String(),
			"read_timeout":       c.EventStream.ReadTimeout.String(),
			"shutdown_timeout":   c.EventStream.ShutdownTimeout.String(),
		},
		"websocket": map[string]any{
			"addr": c.WebSocket.Addr,
		},
		"limits": map[string]any{
			"rate":              c.Limits.Rate,
			"burst":             c.Limits.Burst,
			"max_request_bytes": c.Limits.MaxRequestBytes,
			"request_timeout":   c.Limits.RequestTimeout.String(),
		},
		"telemetry": map[string]any{
			"enabled":      c.Telemetry.Enabled,
			"endpoint":     c.Telemetry.Endpoint,
			"service_name": c.Telemetry.ServiceName,
		},
		"harness": map[string]any{
			"server_command":   c.Harness.ServerCommand,
			"ready_timeout":    c.Harness.ReadyTimeout.String(),
			"graceful_timeout": c.Harness.GracefulTimeout.String(),
			"listen_duration":  c.Harness.ListenDuration.String(),
			"sse_addr":         c.Harness.SSEAddr,
		},
	}
	return yaml.Marshal(doc)
}
