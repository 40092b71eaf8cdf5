package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/felixgeelhaar/mcp-duplex/config"
	"github.com/felixgeelhaar/mcp-duplex/telemetry"
)

// Version is set via ldflags at build time.
var Version = "dev"

// app carries what every subcommand shares once the root has run.
type app struct {
	v       *viper.Viper
	cfgFile string

	cfg      *config.Config
	logger   *slog.Logger
	shutdown telemetry.ShutdownFunc
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.New()}

	root := &cobra.Command{
		Use:   "mcp-duplex",
		Short: "Serve MCP capabilities over stream and event-stream bindings",
		Long: `mcp-duplex serves one set of tools, resources and prompts over two bindings:

  stdio / ws  framed JSON-RPC stream (newline or length-prefixed frames)
  sse         HTTP event stream (GET /sse) plus a REST command channel

and runs the end-to-end scenarios against both.

Configuration comes from defaults, an optional YAML file (--config),
MCP_DUPLEX_* environment variables and flags, later sources winning.
For example: MCP_DUPLEX_EVENT_STREAM_ADDR=0.0.0.0:8000

Examples:
  # Serve over stdio with length-prefixed frames
  mcp-duplex serve stdio --framing length

  # Serve the event stream on port 8000
  mcp-duplex serve sse --addr localhost:8000

  # Run the scenarios against the stdio binding only
  mcp-duplex test --stdio-only

  # Print the effective configuration
  mcp-duplex config show`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.teardown()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "YAML config file")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json)")
	flags.Bool("telemetry", false, "export traces and metrics over OTLP gRPC")
	mustBind(a.v.BindPFlag("log.level", flags.Lookup("log-level")))
	mustBind(a.v.BindPFlag("log.format", flags.Lookup("log-format")))
	mustBind(a.v.BindPFlag("telemetry.enabled", flags.Lookup("telemetry")))

	root.AddCommand(newServeCmd(a), newTestCmd(a), newConfigCmd(a))
	return root
}

func (a *app) setup(ctx context.Context) error {
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	level, _ := cfg.Log.SlogLevel()
	a.logger = telemetry.NewLogger(os.Stderr, telemetry.LoggerOptions{
		Level:   level,
		Format:  cfg.Log.Format,
		Service: cfg.Telemetry.ServiceName,
		Bridge:  cfg.Telemetry.Enabled,
	})

	if cfg.Telemetry.Enabled {
		if ctx == nil {
			ctx = context.Background()
		}
		shutdown, err := telemetry.Init(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.Endpoint)
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		a.shutdown = shutdown
	}
	return nil
}

func (a *app) teardown() error {
	if a.shutdown == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.shutdown(ctx); err != nil {
		a.logger.Warn("telemetry shutdown", slog.String("error", err.Error()))
	}
	return nil
}

// mustBind panics on a flag binding error, which only a misspelled flag
// name can cause.
func mustBind(err error) {
	if err != nil {
		panic(fmt.Sprintf("bind flag: %v", err))
	}
}
