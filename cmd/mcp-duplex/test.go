package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/mcp-duplex/harness"
	"github.com/felixgeelhaar/mcp-duplex/transport"
)

// errScenariosFailed makes the process exit non-zero after the summary has
// already been printed.
var errScenariosFailed = errors.New("scenarios failed")

func newTestCmd(a *app) *cobra.Command {
	var stdioOnly, sseOnly bool

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Run the end-to-end scenarios against a freshly started server",
		Long: `Start the server once per binding as a subprocess, run the scenarios
against it and stop it again (SIGTERM, then SIGKILL after the graceful
timeout). Prints one PASS/FAIL line per binding and exits non-zero if any
binding failed.

By default the server is this executable's serve command; set
harness.server_command (MCP_DUPLEX_HARNESS_SERVER_COMMAND) to test another
server.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			base, err := a.serverCommand()
			if err != nil {
				return err
			}

			h := a.cfg.Harness
			framing, err := transport.ParseFraming(a.cfg.Stream.Framing)
			if err != nil {
				return err
			}

			var bindings []harness.Binding
			if !sseOnly {
				bindings = append(bindings, harness.StdioBinding(
					withArgs(base, "stdio", "--framing", framing.Name()), framing))
			}
			if !stdioOnly {
				bindings = append(bindings, harness.EventStreamBinding(
					withArgs(base, "sse", "--addr", h.SSEAddr), "http://"+h.SSEAddr,
					h.ReadyTimeout, h.ListenDuration))
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			runner := harness.NewRunner(
				harness.WithLogger(a.logger),
				harness.WithStopTimeout(h.GracefulTimeout),
			)
			summary := runner.RunAll(ctx, bindings...)
			if err := summary.Write(cmd.OutOrStdout()); err != nil {
				return err
			}
			if !summary.OK() {
				return errScenariosFailed
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&stdioOnly, "stdio-only", false, "test only the stdio binding")
	cmd.Flags().BoolVar(&sseOnly, "sse-only", false, "test only the event-stream binding")
	cmd.MarkFlagsMutuallyExclusive("stdio-only", "sse-only")
	return cmd
}

// serverCommand is the configured server command, or this executable's
// serve command carrying the same config file.
func (a *app) serverCommand() ([]string, error) {
	if len(a.cfg.Harness.ServerCommand) > 0 {
		return slices.Clone(a.cfg.Harness.ServerCommand), nil
	}
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate executable: %w", err)
	}
	cmd := []string{exe}
	if a.cfgFile != "" {
		cmd = append(cmd, "--config", a.cfgFile)
	}
	return append(cmd, "serve"), nil
}

func withArgs(base []string, args ...string) []string {
	return append(slices.Clone(base), args...)
}
