package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"

	"github.com/felixgeelhaar/mcp-duplex/protocol"
)

// Event-stream defaults.
const (
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultShutdownTimeout   = 10 * time.Second
)

// SessionHeader carries the push-channel session id. Clients may echo it on
// command requests to be accounted to that session.
const SessionHeader = "Mcp-Session-Id"

// EventStream is the HTTP binding: a push channel at /sse emitting server
// events and a command channel of plain request/response routes.
type EventStream struct {
	addr      string
	basePath  string
	heartbeat time.Duration
	maxListen time.Duration

	readTimeout     time.Duration
	shutdownTimeout time.Duration
	drainDelay      time.Duration
	cors            CORSConfig

	logger   *slog.Logger
	metrics  *Metrics
	shutdown *ShutdownManager

	nextID atomic.Int64

	mu         sync.RWMutex
	listenAddr string
	push       map[string]context.CancelFunc
	pushClosed bool
	pushWG     sync.WaitGroup
}

// EventStreamOption configures an EventStream.
type EventStreamOption func(*EventStream)

// WithHeartbeatInterval sets the push-channel heartbeat period.
func WithHeartbeatInterval(d time.Duration) EventStreamOption {
	return func(es *EventStream) {
		if d > 0 {
			es.heartbeat = d
		}
	}
}

// WithMaxListen closes push channels after d. Zero keeps them open until
// the client leaves.
func WithMaxListen(d time.Duration) EventStreamOption {
	return func(es *EventStream) {
		es.maxListen = d
	}
}

// WithReadTimeout bounds each command request. Push channels are not
// affected.
func WithReadTimeout(d time.Duration) EventStreamOption {
	return func(es *EventStream) {
		es.readTimeout = d
	}
}

// WithShutdownTimeout bounds the wait for in-flight command requests.
func WithShutdownTimeout(d time.Duration) EventStreamOption {
	return func(es *EventStream) {
		es.shutdownTimeout = d
	}
}

// WithShutdownDrainDelay delays refusing new command requests on shutdown.
func WithShutdownDrainDelay(d time.Duration) EventStreamOption {
	return func(es *EventStream) {
		es.drainDelay = d
	}
}

// WithCORS replaces the permissive default CORS policy.
func WithCORS(config CORSConfig) EventStreamOption {
	return func(es *EventStream) {
		es.cors = config
	}
}

// WithBasePath mounts every route under path.
func WithBasePath(path string) EventStreamOption {
	return func(es *EventStream) {
		es.basePath = strings.TrimSuffix(path, "/")
	}
}

// WithEventStreamLogger sets the logger.
func WithEventStreamLogger(l *slog.Logger) EventStreamOption {
	return func(es *EventStream) {
		es.logger = l
	}
}

// WithEventStreamMetrics replaces the binding's own metrics.
func WithEventStreamMetrics(m *Metrics) EventStreamOption {
	return func(es *EventStream) {
		es.metrics = m
	}
}

// NewEventStream creates an event-stream binding listening on addr.
func NewEventStream(addr string, opts ...EventStreamOption) *EventStream {
	es := &EventStream{
		addr:            addr,
		heartbeat:       DefaultHeartbeatInterval,
		readTimeout:     30 * time.Second,
		shutdownTimeout: DefaultShutdownTimeout,
		cors:            DefaultCORSConfig(),
		logger:          slog.New(slog.DiscardHandler),
		push:            make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(es)
	}
	if es.metrics == nil {
		es.metrics = NewMetrics()
	}
	es.shutdown = NewShutdownManager(ShutdownConfig{
		Timeout:    es.shutdownTimeout,
		DrainDelay: es.drainDelay,
		OnDrainStart: func() {
			es.logger.Info("draining command channel", slog.Int64("in_flight", es.shutdown.InFlightRequests()))
		},
	})
	return es
}

// Addr returns the configured address.
func (es *EventStream) Addr() string {
	return es.addr
}

// ListenAddr returns the bound address once Serve is listening.
func (es *EventStream) ListenAddr() string {
	es.mu.RLock()
	defer es.mu.RUnlock()
	return es.listenAddr
}

// Metrics returns the binding's metrics.
func (es *EventStream) Metrics() *Metrics {
	return es.metrics
}

// ActiveSessions returns the number of running push-channel producers.
func (es *EventStream) ActiveSessions() int {
	es.mu.RLock()
	defer es.mu.RUnlock()
	return len(es.push)
}

// Serve listens on addr until ctx is cancelled, then stops every push
// channel, drains the command channel and closes the listener.
func (es *EventStream) Serve(ctx context.Context, handler Handler) error {
	listener, err := net.Listen("tcp", es.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	es.mu.Lock()
	es.listenAddr = listener.Addr().String()
	es.mu.Unlock()

	server := &http.Server{
		Handler:           es.Handler(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}
	es.logger.Info("event-stream transport listening", slog.String("addr", es.ListenAddr()))

	errCh := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		es.closePush()
		return err
	case <-ctx.Done():
	}

	es.closePush()
	es.pushWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), es.shutdownTimeout+time.Second)
	defer cancel()
	if err := es.shutdown.Shutdown(shutdownCtx); err != nil {
		es.logger.Warn("command channel did not drain", slog.String("error", err.Error()))
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return ctx.Err()
}

// Handler builds the router. It is exposed so the binding can run under
// httptest or be mounted into a larger server.
func (es *EventStream) Handler(handler Handler) http.Handler {
	c := &commandChannel{es: es, handler: handler}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/health", es.handleHealth)
	r.Get("/sse", es.handlePush)
	r.Handle("/metrics", es.metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(es.instrument)
		if es.readTimeout > 0 {
			r.Use(chimw.Timeout(es.readTimeout))
		}
		r.Get("/tools", c.listTools)
		r.Post("/tools/call", c.callTool)
		r.Get("/resources", c.listResources)
		r.Get("/resources/read", c.readResource)
		r.Get("/prompts", c.listPrompts)
		r.Post("/prompts/get", c.getPrompt)
	})

	var root http.Handler = r
	if es.basePath != "" {
		mounted := chi.NewRouter()
		mounted.Mount(es.basePath, r)
		root = mounted
	}
	return CORSHandler(es.cors, root)
}

func (es *EventStream) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	code := http.StatusOK
	if es.shutdown.IsDraining() {
		status = "draining"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"status": status, "sessions": es.ActiveSessions()})
}

func (es *EventStream) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		es.metrics.observeHTTP(route, ww.Status(), time.Since(start))
		es.logger.Debug("command handled",
			slog.String("route", route),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
		)
	})
}

func (es *EventStream) handlePush(w http.ResponseWriter, r *http.Request) {
	id := uuid.NewString()
	w.Header().Set(SessionHeader, id)

	sess, err := sse.Upgrade(w, r)
	if err != nil {
		es.logger.Error("failed to upgrade push channel", slog.String("error", err.Error()))
		writeProtocolError(w, protocol.NewInternalError("event stream not supported"))
		return
	}

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if es.maxListen > 0 {
		ctx, cancel = context.WithTimeout(r.Context(), es.maxListen)
	} else {
		ctx, cancel = context.WithCancel(r.Context())
	}
	defer cancel()

	if !es.trackPush(id, cancel) {
		return
	}
	defer es.untrackPush(id)

	logger := es.logger.With(slog.String("session_id", id))
	logger.Info("push channel opened", slog.String("remote", r.RemoteAddr))

	emit := func(ev protocol.Event) error {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		msg := &sse.Message{}
		msg.AppendData(string(data))
		if err := sess.Send(msg); err != nil {
			return err
		}
		return sess.Flush()
	}

	err = Produce(ctx, id, es.heartbeat, emit, es.metrics.heartbeat)
	switch {
	case err != nil:
		logger.Info("push channel closed", slog.String("reason", "write failed"), slog.String("error", err.Error()))
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		logger.Info("push channel closed", slog.String("reason", "max listen reached"))
	default:
		logger.Info("push channel closed", slog.String("reason", "client disconnected"))
	}
}

func (es *EventStream) trackPush(id string, cancel context.CancelFunc) bool {
	es.mu.Lock()
	defer es.mu.Unlock()
	if es.pushClosed || es.shutdown.IsDraining() {
		return false
	}
	es.push[id] = cancel
	es.pushWG.Add(1)
	es.metrics.pushOpened()
	return true
}

func (es *EventStream) untrackPush(id string) {
	es.mu.Lock()
	delete(es.push, id)
	es.mu.Unlock()
	es.metrics.pushClosed()
	es.pushWG.Done()
}

// closePush cancels every producer and refuses new ones, so pushWG.Wait
// cannot be held open by a client arriving during shutdown.
func (es *EventStream) closePush() {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.pushClosed = true
	for _, cancel := range es.push {
		cancel()
	}
}

// Produce runs one push channel: a connected event, then a heartbeat every
// interval until ctx is done. It returns nil when ctx ends and the emit
// error when a write fails. onBeat, if non-nil, is called after each
// heartbeat is written.
func Produce(ctx context.Context, sessionID string, interval time.Duration, emit func(protocol.Event) error, onBeat func()) error {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	err := emit(protocol.Event{
		Type:      protocol.EventConnected,
		Message:   "Connected to MCP event stream",
		SessionID: sessionID,
	})
	if err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if ctx.Err() != nil {
				return nil
			}
			err := emit(protocol.Event{
				Type:      protocol.EventHeartbeat,
				Timestamp: float64(now.UnixNano()) / float64(time.Second),
			})
			if err != nil {
				return err
			}
			if onBeat != nil {
				onBeat()
			}
		}
	}
}

// commandChannel turns the HTTP routes into protocol requests for handler.
type commandChannel struct {
	es      *EventStream
	handler Handler
}

type resultEnvelope struct {
	Result any `json:"result"`
}

type errorEnvelope struct {
	Error string `json:"error"`
	Code  int    `json:"code,omitempty"`
}

type resourceEnvelope struct {
	Content  string `json:"content"`
	MimeType string `json:"mimeType,omitempty"`
	URI      string `json:"uri"`
}

func (c *commandChannel) listTools(w http.ResponseWriter, r *http.Request) {
	var result protocol.ListToolsResult
	if c.run(w, r, protocol.MethodToolsList, nil, &result) {
		if result.Tools == nil {
			result.Tools = []protocol.ToolDescriptor{}
		}
		writeJSON(w, http.StatusOK, result.Tools)
	}
}

func (c *commandChannel) listResources(w http.ResponseWriter, r *http.Request) {
	var result protocol.ListResourcesResult
	if c.run(w, r, protocol.MethodResourcesList, nil, &result) {
		if result.Resources == nil {
			result.Resources = []protocol.ResourceDescriptor{}
		}
		writeJSON(w, http.StatusOK, result.Resources)
	}
}

func (c *commandChannel) listPrompts(w http.ResponseWriter, r *http.Request) {
	var result protocol.ListPromptsResult
	if c.run(w, r, protocol.MethodPromptsList, nil, &result) {
		if result.Prompts == nil {
			result.Prompts = []protocol.PromptDescriptor{}
		}
		writeJSON(w, http.StatusOK, result.Prompts)
	}
}

func (c *commandChannel) callTool(w http.ResponseWriter, r *http.Request) {
	var params protocol.CallToolParams
	if !decodeBody(w, r, &params) {
		return
	}
	if params.Name == "" {
		writeProtocolError(w, protocol.NewInvalidParams("name is required"))
		return
	}
	var result protocol.CallToolResult
	if c.run(w, r, protocol.MethodToolsCall, params, &result) {
		writeJSON(w, http.StatusOK, resultEnvelope{Result: result})
	}
}

func (c *commandChannel) readResource(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.Query().Get("uri")
	if uri == "" {
		writeProtocolError(w, protocol.NewInvalidParams("uri query parameter is required"))
		return
	}
	var result protocol.ReadResourceResult
	if !c.run(w, r, protocol.MethodResourcesRead, protocol.ReadResourceParams{URI: uri}, &result) {
		return
	}
	out := resourceEnvelope{URI: uri}
	if len(result.Contents) > 0 {
		first := result.Contents[0]
		out.Content = first.Text
		if out.Content == "" {
			out.Content = first.Blob
		}
		out.MimeType = first.MimeType
	}
	writeJSON(w, http.StatusOK, out)
}

func (c *commandChannel) getPrompt(w http.ResponseWriter, r *http.Request) {
	var params protocol.GetPromptParams
	if !decodeBody(w, r, &params) {
		return
	}
	if params.Name == "" {
		writeProtocolError(w, protocol.NewInvalidParams("name is required"))
		return
	}
	var result protocol.GetPromptResult
	if c.run(w, r, protocol.MethodPromptsGet, params, &result) {
		writeJSON(w, http.StatusOK, resultEnvelope{Result: result})
	}
}

// run dispatches one command and decodes its result into out. On failure
// it writes the error envelope and returns false.
func (c *commandChannel) run(w http.ResponseWriter, r *http.Request, method string, params any, out any) bool {
	if !c.es.shutdown.TrackRequest() {
		writeJSON(w, http.StatusServiceUnavailable, errorEnvelope{Error: "server is shutting down", Code: protocol.CodeInternalError})
		return false
	}
	defer c.es.shutdown.CompleteRequest()

	req, err := protocol.NewRequest(c.es.nextID.Add(1), method, params)
	if err != nil {
		writeProtocolError(w, protocol.NewInvalidParams(err.Error()))
		return false
	}
	ctx := protocol.ContextWithSessionID(r.Context(), commandSessionID(r))

	resp := call(ctx, c.handler, req)
	if resp.Error != nil {
		writeProtocolError(w, resp.Error)
		return false
	}
	if err := resp.DecodeResult(out); err != nil {
		writeProtocolError(w, protocol.NewInternalError("decode result: "+err.Error()))
		return false
	}
	return true
}

func commandSessionID(r *http.Request) string {
	if id := r.Header.Get(SessionHeader); id != "" {
		return id
	}
	if id := r.URL.Query().Get("sessionId"); id != "" {
		return id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, DefaultMaxFrameSize)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		writeProtocolError(w, protocol.NewParseError("invalid request body: "+err.Error()))
		return false
	}
	return true
}

func writeProtocolError(w http.ResponseWriter, perr *protocol.Error) {
	writeJSON(w, statusFor(perr), errorEnvelope{Error: perr.Message, Code: perr.Code})
}

func statusFor(perr *protocol.Error) int {
	switch perr.Code {
	case protocol.CodeRateLimited:
		return http.StatusTooManyRequests
	case protocol.CodeInternalError:
		return http.StatusInternalServerError
	}
	return http.StatusBadRequest
}
