// Package duplex serves one capability set over two kinds of binding: a
// framed JSON-RPC stream (stdio or WebSocket) and an HTTP event stream with
// a separate command channel.
//
// Basic usage:
//
//	srv := duplex.NewServer(duplex.ServerInfo{Name: "my-server", Version: "1.0.0"})
//
//	type AddInput struct {
//	    A float64 `json:"a" jsonschema:"required"`
//	    B float64 `json:"b" jsonschema:"required"`
//	}
//
//	srv.Tool("add").
//	    Description("Add two numbers").
//	    Handler(func(ctx context.Context, in AddInput) (float64, error) {
//	        return in.A + in.B, nil
//	    })
//
//	duplex.ServeStdio(ctx, srv)
package duplex

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/felixgeelhaar/mcp-duplex/middleware"
	"github.com/felixgeelhaar/mcp-duplex/protocol"
	"github.com/felixgeelhaar/mcp-duplex/server"
	"github.com/felixgeelhaar/mcp-duplex/transport"
)

// ServerInfo names the server in the handshake.
type ServerInfo = server.Info

// Content types returned by tool handlers.
type (
	Content          = protocol.Content
	ResourceContents = protocol.ResourceContents
	GetPromptResult  = protocol.GetPromptResult
)

// Middleware types.
type (
	Middleware   = middleware.Middleware
	StackOptions = middleware.StackOptions
)

// ProgressFromContext returns the progress reporter of a tools/call that
// carried a progress token. It never returns nil.
var ProgressFromContext = server.ProgressFromContext

// UserMessage builds a single user-message prompt result.
var UserMessage = server.UserMessage

// Server is a registry plus the request pipeline built on first use.
// Register everything before serving: the registry is sealed when the
// pipeline is built.
type Server struct {
	*server.Registry

	info       ServerInfo
	logger     *slog.Logger
	stack      StackOptions
	middleware []Middleware

	once       sync.Once
	dispatcher *server.Dispatcher
	handler    transport.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger used by the default middleware.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithLimits enables the optional middleware: timeout, size limit, rate
// limit and tracing.
func WithLimits(opts StackOptions) Option {
	return func(s *Server) {
		s.stack = opts
	}
}

// WithMiddleware appends middleware after the default stack.
func WithMiddleware(m ...Middleware) Option {
	return func(s *Server) {
		s.middleware = append(s.middleware, m...)
	}
}

// NewServer creates a server with an empty registry.
func NewServer(info ServerInfo, opts ...Option) *Server {
	s := &Server{
		Registry: server.NewRegistry(),
		info:     info,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Info returns the server's name and version.
func (s *Server) Info() ServerInfo { return s.info }

// Dispatcher returns the dispatcher, building the pipeline if needed.
func (s *Server) Dispatcher() *server.Dispatcher {
	s.build()
	return s.dispatcher
}

// Handler returns the middleware-wrapped handler every binding runs.
func (s *Server) Handler() transport.Handler {
	s.build()
	return s.handler
}

func (s *Server) build() {
	s.once.Do(func() {
		s.dispatcher = server.NewDispatcher(s.Registry, s.info)
		stack := middleware.NewStack(s.logger, s.stack).Append(s.middleware...)
		s.handler = transport.HandlerFunc(stack.Then(s.dispatcher.HandleRequest))
	})
}

// ServeStdio serves one stream session over stdin and stdout until EOF or
// ctx is cancelled.
func ServeStdio(ctx context.Context, srv *Server, opts ...transport.StdioOption) error {
	opts = append([]transport.StdioOption{transport.WithStdioLogger(srv.logger)}, opts...)
	return serve(ctx, transport.NewStdio(opts...), srv)
}

// ServeEventStream serves the push and command channels on addr until ctx
// is cancelled.
func ServeEventStream(ctx context.Context, srv *Server, addr string, opts ...transport.EventStreamOption) error {
	opts = append([]transport.EventStreamOption{transport.WithEventStreamLogger(srv.logger)}, opts...)
	return serve(ctx, transport.NewEventStream(addr, opts...), srv)
}

// ServeWebSocket serves one stream session per WebSocket connection on addr
// until ctx is cancelled.
func ServeWebSocket(ctx context.Context, srv *Server, addr string, opts ...transport.WebSocketOption) error {
	opts = append([]transport.WebSocketOption{transport.WithWebSocketLogger(srv.logger)}, opts...)
	return serve(ctx, transport.NewWebSocket(addr, opts...), srv)
}

// serve treats cancellation as a clean stop.
func serve(ctx context.Context, t transport.Transport, srv *Server) error {
	err := t.Serve(ctx, srv.Handler())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
