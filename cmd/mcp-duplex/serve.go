package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	duplex "github.com/felixgeelhaar/mcp-duplex"
	"github.com/felixgeelhaar/mcp-duplex/middleware"
	"github.com/felixgeelhaar/mcp-duplex/servers/demo"
	"github.com/felixgeelhaar/mcp-duplex/transport"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the demo capability set over one binding",
	}

	stdio := &cobra.Command{
		Use:   "stdio",
		Short: "Serve one stream session over stdin/stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			framing, err := transport.ParseFraming(a.cfg.Stream.Framing)
			if err != nil {
				return err
			}
			return a.serve(cmd.Context(), func(ctx context.Context, srv *duplex.Server) error {
				return duplex.ServeStdio(ctx, srv, transport.WithFraming(framing))
			})
		},
	}
	stdio.Flags().String("framing", "newline", "frame format (newline, length)")
	mustBind(a.v.BindPFlag("stream.framing", stdio.Flags().Lookup("framing")))

	sse := &cobra.Command{
		Use:   "sse",
		Short: "Serve the push channel and command channel over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := a.cfg.EventStream
			return a.serve(cmd.Context(), func(ctx context.Context, srv *duplex.Server) error {
				return duplex.ServeEventStream(ctx, srv, c.Addr,
					transport.WithHeartbeatInterval(c.HeartbeatInterval),
					transport.WithMaxListen(c.MaxListen),
					transport.WithReadTimeout(c.ReadTimeout),
					transport.WithShutdownTimeout(c.ShutdownTimeout),
				)
			})
		},
	}
	sse.Flags().String("addr", "localhost:8000", "listen address")
	sse.Flags().Duration("heartbeat", 5*time.Second, "heartbeat interval")
	sse.Flags().Duration("max-listen", 0, "close push channels after this long (0 = never)")
	mustBind(a.v.BindPFlag("event_stream.addr", sse.Flags().Lookup("addr")))
	mustBind(a.v.BindPFlag("event_stream.max_listen", sse.Flags().Lookup("max-listen")))
	mustBind(a.v.BindPFlag("event_stream.heartbeat_interval", sse.Flags().Lookup("heartbeat")))

	ws := &cobra.Command{
		Use:   "ws",
		Short: "Serve one stream session per WebSocket connection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr := a.cfg.WebSocket.Addr
			return a.serve(cmd.Context(), func(ctx context.Context, srv *duplex.Server) error {
				return duplex.ServeWebSocket(ctx, srv, addr)
			})
		},
	}
	ws.Flags().String("addr", "localhost:8001", "listen address")
	mustBind(a.v.BindPFlag("websocket.addr", ws.Flags().Lookup("addr")))

	cmd.AddCommand(stdio, sse, ws)
	return cmd
}

// serve builds the demo server from the loaded config and runs fn until
// SIGINT or SIGTERM.
func (a *app) serve(parent context.Context, fn func(context.Context, *duplex.Server) error) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := duplex.NewServer(duplex.ServerInfo{Name: a.cfg.Server.Name, Version: a.cfg.Server.Version},
		duplex.WithLogger(a.logger),
		duplex.WithLimits(middleware.StackOptions{
			Timeout:      a.cfg.Limits.RequestTimeout,
			MaxParamSize: a.cfg.Limits.MaxRequestBytes,
			RateLimit:    a.cfg.Limits.Rate,
			RateBurst:    a.cfg.Limits.Burst,
			Tracing:      a.cfg.Telemetry.Enabled,
		}),
	)
	if err := demo.Register(srv.Registry); err != nil {
		return err
	}

	err := fn(ctx, srv)
	if errors.Is(err, transport.ErrProtocolViolation) {
		a.logger.Warn("session closed by protocol violation", slog.String("error", err.Error()))
		return nil
	}
	if err == nil {
		a.logger.Info("server stopped")
	}
	return err
}
