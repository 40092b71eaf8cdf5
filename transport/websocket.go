package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket serves one stream session per WebSocket connection. Each text
// message carries exactly one frame.
type WebSocket struct {
	addr     string
	path     string
	upgrader websocket.Upgrader

	readTimeout  time.Duration
	writeTimeout time.Duration

	logger  *slog.Logger
	metrics *Metrics

	mu         sync.RWMutex
	listenAddr string
	sessions   map[*Session]struct{}
}

// WebSocketOption configures a WebSocket transport.
type WebSocketOption func(*WebSocket)

// WithWebSocketPath sets the upgrade path. Defaults to "/".
func WithWebSocketPath(path string) WebSocketOption {
	return func(ws *WebSocket) {
		ws.path = path
	}
}

// WithWebSocketReadTimeout closes sessions idle for longer than d.
// Zero disables the idle timeout.
func WithWebSocketReadTimeout(d time.Duration) WebSocketOption {
	return func(ws *WebSocket) {
		ws.readTimeout = d
	}
}

// WithWebSocketWriteTimeout bounds each frame write.
func WithWebSocketWriteTimeout(d time.Duration) WebSocketOption {
	return func(ws *WebSocket) {
		ws.writeTimeout = d
	}
}

// WithWebSocketCheckOrigin sets the origin check for upgrades. All origins
// are accepted by default.
func WithWebSocketCheckOrigin(fn func(r *http.Request) bool) WebSocketOption {
	return func(ws *WebSocket) {
		ws.upgrader.CheckOrigin = fn
	}
}

// WithWebSocketLogger sets the logger.
func WithWebSocketLogger(l *slog.Logger) WebSocketOption {
	return func(ws *WebSocket) {
		ws.logger = l
	}
}

// WithWebSocketMetrics records session and frame metrics.
func WithWebSocketMetrics(m *Metrics) WebSocketOption {
	return func(ws *WebSocket) {
		ws.metrics = m
	}
}

// NewWebSocket creates a WebSocket transport listening on addr.
func NewWebSocket(addr string, opts ...WebSocketOption) *WebSocket {
	ws := &WebSocket{
		addr: addr,
		path: "/",
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		writeTimeout: 10 * time.Second,
		logger:       slog.New(slog.DiscardHandler),
		sessions:     make(map[*Session]struct{}),
	}
	for _, opt := range opts {
		opt(ws)
	}
	return ws
}

// Addr returns the configured address.
func (ws *WebSocket) Addr() string {
	return ws.addr
}

// ListenAddr returns the bound address once Serve is listening.
func (ws *WebSocket) ListenAddr() string {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return ws.listenAddr
}

// ActiveSessions returns the number of open sessions.
func (ws *WebSocket) ActiveSessions() int {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return len(ws.sessions)
}

// Handler returns the upgrade handler, for mounting on an existing server.
func (ws *WebSocket) Handler(ctx context.Context, handler Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": ws.ActiveSessions()})
	})
	mux.HandleFunc(ws.path, func(w http.ResponseWriter, r *http.Request) {
		ws.handleConnection(ctx, w, r, handler)
	})
	return mux
}

// Serve listens on addr and serves sessions until ctx is cancelled.
func (ws *WebSocket) Serve(ctx context.Context, handler Handler) error {
	listener, err := net.Listen("tcp", ws.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	ws.mu.Lock()
	ws.listenAddr = listener.Addr().String()
	ws.mu.Unlock()

	server := &http.Server{
		Handler:           ws.Handler(ctx, handler),
		ReadHeaderTimeout: 10 * time.Second,
	}
	ws.logger.Info("websocket transport listening", slog.String("addr", ws.ListenAddr()))

	errCh := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		ws.closeAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (ws *WebSocket) handleConnection(ctx context.Context, w http.ResponseWriter, r *http.Request, handler Handler) {
	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		ws.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	sess := NewSession(&wsConn{conn: conn, readTimeout: ws.readTimeout, writeTimeout: ws.writeTimeout}, handler,
		WithSessionLogger(ws.logger),
		WithSessionMetrics(ws.metrics, "websocket"),
	)

	ws.mu.Lock()
	ws.sessions[sess] = struct{}{}
	ws.mu.Unlock()
	defer func() {
		ws.mu.Lock()
		delete(ws.sessions, sess)
		ws.mu.Unlock()
	}()

	if err := sess.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		ws.logger.Warn("websocket session ended", slog.String("session_id", sess.ID()), slog.String("error", err.Error()))
	}
}

func (ws *WebSocket) closeAll() {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	for sess := range ws.sessions {
		_ = sess.Close()
	}
}

// NewWebSocketConn adapts an established WebSocket connection to FrameConn,
// one frame per message. Clients use it to speak the stream protocol over a
// dialed connection.
func NewWebSocketConn(conn *websocket.Conn) FrameConn {
	return &wsConn{conn: conn, writeTimeout: 10 * time.Second}
}

type wsConn struct {
	conn         *websocket.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration

	mu sync.Mutex
}

func (c *wsConn) ReadFrame() ([]byte, error) {
	for {
		if c.readTimeout > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
		}
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return nil, io.EOF
			}
			return nil, err
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *wsConn) WriteFrame(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *wsConn) Close() error {
	c.mu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.mu.Unlock()
	return c.conn.Close()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
