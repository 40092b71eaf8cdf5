package transport

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Stdio serves a single session over the process's standard streams.
type Stdio struct {
	in      io.Reader
	out     io.Writer
	framing Framing
	logger  *slog.Logger
	metrics *Metrics

	mu      sync.Mutex
	session *Session
}

// StdioOption configures a Stdio transport.
type StdioOption func(*Stdio)

// WithStdin replaces os.Stdin.
func WithStdin(r io.Reader) StdioOption {
	return func(s *Stdio) {
		s.in = r
	}
}

// WithStdout replaces os.Stdout.
func WithStdout(w io.Writer) StdioOption {
	return func(s *Stdio) {
		s.out = w
	}
}

// WithFraming sets the frame format. Newline framing is the default.
func WithFraming(f Framing) StdioOption {
	return func(s *Stdio) {
		s.framing = f
	}
}

// WithStdioLogger sets the logger. It must not write to the same stream as
// the frames.
func WithStdioLogger(l *slog.Logger) StdioOption {
	return func(s *Stdio) {
		s.logger = l
	}
}

// WithStdioMetrics records session and frame metrics.
func WithStdioMetrics(m *Metrics) StdioOption {
	return func(s *Stdio) {
		s.metrics = m
	}
}

// NewStdio creates a stdio transport.
func NewStdio(opts ...StdioOption) *Stdio {
	s := &Stdio{
		in:      os.Stdin,
		out:     os.Stdout,
		framing: NewlineFraming{},
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Addr returns "stdio".
func (s *Stdio) Addr() string {
	return "stdio"
}

// Session returns the running session, or nil before Serve.
func (s *Stdio) Session() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// Serve runs the one session of this process until stdin reaches EOF, ctx
// is cancelled or the peer violates the protocol.
func (s *Stdio) Serve(ctx context.Context, handler Handler) error {
	sess := NewSession(NewStreamConn(s.in, s.out, s.framing), handler,
		WithSessionLogger(s.logger),
		WithSessionMetrics(s.metrics, "stdio"),
	)

	s.mu.Lock()
	s.session = sess
	s.mu.Unlock()

	return sess.Serve(ctx)
}
