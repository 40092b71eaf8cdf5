package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/mcp-duplex/protocol"
)

// State is the lifecycle state of a stream session.
type State int32

// Session states. A session only moves forward; Close jumps to StateClosed
// from anywhere.
const (
	StateConnecting State = iota
	StateInitialized
	StateServing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateInitialized:
		return "initialized"
	case StateServing:
		return "serving"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// ErrSessionClosed is returned when writing to a closed session.
var ErrSessionClosed = errors.New("session closed")

// FrameConn carries whole frames in both directions. WriteFrame must be safe
// for concurrent use; ReadFrame is only called from one goroutine.
type FrameConn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(payload []byte) error
	Close() error
}

type streamConn struct {
	reader  FrameReader
	w       io.Writer
	framing Framing
	closer  io.Closer

	mu sync.Mutex
}

// NewStreamConn frames a reader/writer pair. Close closes w when it is an
// io.Closer.
func NewStreamConn(r io.Reader, w io.Writer, framing Framing) FrameConn {
	if framing == nil {
		framing = NewlineFraming{}
	}
	c := &streamConn{reader: framing.NewReader(r), w: w, framing: framing}
	if closer, ok := w.(io.Closer); ok {
		c.closer = closer
	}
	return c
}

func (c *streamConn) ReadFrame() ([]byte, error) { return c.reader.ReadFrame() }

func (c *streamConn) WriteFrame(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.framing.WriteFrame(c.w, payload)
}

func (c *streamConn) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// Session runs the stream protocol over one FrameConn: the initialize
// handshake first, then requests answered strictly in arrival order.
type Session struct {
	id      string
	conn    FrameConn
	handler Handler
	logger  *slog.Logger
	metrics *Metrics
	binding string

	state     atomic.Int32
	done      chan struct{}
	closeOnce sync.Once
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSessionLogger sets the session logger.
func WithSessionLogger(l *slog.Logger) SessionOption {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSessionMetrics records frames and session counts under binding.
func WithSessionMetrics(m *Metrics, binding string) SessionOption {
	return func(s *Session) {
		s.metrics = m
		s.binding = binding
	}
}

// NewSession returns a session in StateConnecting with a fresh UUID.
func NewSession(conn FrameConn, handler Handler, opts ...SessionOption) *Session {
	s := &Session{
		id:      uuid.NewString(),
		conn:    conn,
		handler: handler,
		logger:  slog.New(slog.DiscardHandler),
		binding: "stream",
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("session_id", s.id), slog.String("binding", s.binding))
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// State returns the current state.
func (s *Session) State() State { return State(s.state.Load()) }

// Done is closed once the session is closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close moves the session to StateClosed and closes the connection.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosed))
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

// advance moves from one state to the next and reports whether it did.
func (s *Session) advance(from, to State) bool {
	return s.state.CompareAndSwap(int32(from), int32(to))
}

// Serve reads frames until the peer closes the stream, ctx is cancelled or
// the peer violates the protocol. A clean end of stream returns nil.
func (s *Session) Serve(ctx context.Context) error {
	s.metrics.sessionOpened(s.binding)
	s.logger.Info("session opened")
	defer func() {
		_ = s.Close()
		s.metrics.sessionClosed(s.binding)
		s.logger.Info("session closed")
	}()

	frames := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		for {
			frame, err := s.conn.ReadFrame()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- frame:
			case <-s.done:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			switch {
			case errors.Is(err, io.EOF):
				return nil
			case errors.Is(err, ErrFrameTooLarge):
				s.writeResponse(protocol.NewErrorResponse(nil, protocol.NewInvalidRequest(err.Error())))
				return fmt.Errorf("%w: %v", ErrProtocolViolation, err)
			}
			if s.State() == StateClosed {
				return nil
			}
			return fmt.Errorf("read frame: %w", err)
		case frame := <-frames:
			s.metrics.frame(s.binding, "in")
			if err := s.handleFrame(ctx, frame); err != nil {
				s.logger.Warn("closing session", slog.String("reason", err.Error()))
				return err
			}
		}
	}
}

func (s *Session) handleFrame(ctx context.Context, frame []byte) error {
	var req protocol.Request
	if err := json.Unmarshal(frame, &req); err != nil {
		s.writeResponse(protocol.NewErrorResponse(json.RawMessage("null"), protocol.NewParseError(err.Error())))
		return fmt.Errorf("%w: malformed frame: %v", ErrProtocolViolation, err)
	}
	if req.JSONRPC != protocol.JSONRPCVersion || req.Method == "" {
		if !req.IsNotification() {
			s.writeResponse(protocol.NewErrorResponse(req.ID, protocol.NewInvalidRequest("not a JSON-RPC 2.0 request")))
		}
		return nil
	}

	if resp := s.dispatch(ctx, &req); resp != nil {
		s.writeResponse(resp)
	}
	return nil
}

func (s *Session) dispatch(ctx context.Context, req *protocol.Request) *protocol.Response {
	ctx = protocol.ContextWithSessionID(ctx, s.id)
	ctx = protocol.ContextWithNotificationSender(ctx, s)

	switch s.State() {
	case StateConnecting:
		if req.Method != protocol.MethodInitialize {
			if req.IsNotification() {
				s.logger.Debug("dropping notification before initialize", slog.String("method", req.Method))
				return nil
			}
			return protocol.NewErrorResponse(req.ID, protocol.NewNotReady(req.Method))
		}
		resp := call(ctx, s.handler, req)
		if resp != nil && resp.Error == nil && s.advance(StateConnecting, StateInitialized) {
			s.logger.Debug("session initialized")
		}
		return resp

	case StateInitialized, StateServing:
		if req.Method == protocol.MethodInitialize {
			if req.IsNotification() {
				return nil
			}
			return protocol.NewErrorResponse(req.ID, protocol.NewInvalidRequest("session already initialized"))
		}
		s.advance(StateInitialized, StateServing)
		return call(ctx, s.handler, req)
	}
	return nil
}

// SendNotification writes a server-originated notification to the peer.
func (s *Session) SendNotification(method string, params any) error {
	if s.State() == StateClosed {
		return ErrSessionClosed
	}
	notif, err := protocol.NewNotification(method, params)
	if err != nil {
		return err
	}
	data, err := json.Marshal(notif)
	if err != nil {
		return err
	}
	if err := s.conn.WriteFrame(data); err != nil {
		return err
	}
	s.metrics.frame(s.binding, "out")
	return nil
}

func (s *Session) writeResponse(resp *protocol.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("encode response", slog.String("error", err.Error()))
		data, _ = json.Marshal(protocol.NewErrorResponse(resp.ID, protocol.NewInternalError("failed to encode response")))
	}
	if err := s.conn.WriteFrame(data); err != nil {
		s.logger.Warn("write response", slog.String("error", err.Error()))
		return
	}
	s.metrics.frame(s.binding, "out")
}
