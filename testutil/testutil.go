// Package testutil connects clients to handlers in memory for tests.
//
// Example usage:
//
//	srv := duplex.NewServer(duplex.ServerInfo{Name: "test", Version: "1.0.0"})
//	srv.Tool("greet").Handler(greet)
//
//	tc := testutil.NewTestClient(t, srv.Handler())
//	tc.AssertToolExists("greet")
//	text := tc.CallToolText("greet", map[string]any{"name": "Ada"})
package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/felixgeelhaar/mcp-duplex/client"
	"github.com/felixgeelhaar/mcp-duplex/protocol"
	"github.com/felixgeelhaar/mcp-duplex/transport"
)

// Notification is a server-initiated message seen by a TestClient.
type Notification struct {
	Method string
	Params json.RawMessage
}

// TestClient is a stream-binding client wired to a session over in-memory
// pipes. Failures are reported through t.
type TestClient struct {
	*client.Client
	t       testing.TB
	session *transport.Session

	mu            sync.Mutex
	notifications []Notification
}

// Option configures NewTestClient.
type Option func(*options)

type options struct {
	framing    transport.Framing
	initialize bool
	timeout    time.Duration
}

// WithFraming selects the frame format. The default is newline framing.
func WithFraming(f transport.Framing) Option {
	return func(o *options) {
		o.framing = f
	}
}

// WithoutInitialize skips the handshake, leaving the session in the
// Connecting state.
func WithoutInitialize() Option {
	return func(o *options) {
		o.initialize = false
	}
}

// WithTimeout bounds every request. The default is 5s.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// NewTestClient serves handler on a fresh session and returns a client
// connected to it, initialized unless WithoutInitialize is given. Both ends
// are closed when the test finishes.
func NewTestClient(t testing.TB, handler transport.Handler, opts ...Option) *TestClient {
	t.Helper()
	o := options{framing: transport.NewlineFraming{}, initialize: true, timeout: 5 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}

	clientR, serverW := io.Pipe()
	serverR, clientW := io.Pipe()

	tc := &TestClient{t: t}
	tc.session = transport.NewSession(transport.NewStreamConn(serverR, serverW, o.framing), handler)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan struct{})
	go func() {
		defer close(served)
		_ = tc.session.Serve(ctx)
		_ = serverW.Close()
	}()

	ft := client.NewStreamTransport(clientR, clientW, o.framing,
		client.WithNotificationHandler(tc.record))
	tc.Client = client.New(ft, client.WithTimeout(o.timeout))

	t.Cleanup(func() {
		_ = tc.Client.Close()
		cancel()
		<-served
	})

	if o.initialize {
		if _, err := tc.Initialize(context.Background()); err != nil {
			t.Fatalf("initialize: %v", err)
		}
	}
	return tc
}

func (tc *TestClient) record(method string, params json.RawMessage) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.notifications = append(tc.notifications, Notification{Method: method, Params: params})
}

// Session returns the server-side session.
func (tc *TestClient) Session() *transport.Session { return tc.session }

// Notifications returns the notifications received so far.
func (tc *TestClient) Notifications() []Notification {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return slices.Clone(tc.notifications)
}

// CallToolText calls a tool that must succeed and returns its text.
func (tc *TestClient) CallToolText(name string, args any) string {
	tc.t.Helper()
	result, err := tc.CallTool(context.Background(), name, args)
	if err != nil {
		tc.t.Fatalf("call %s: %v", name, err)
	}
	if result.IsError {
		tc.t.Fatalf("call %s failed: %s", name, result.Text())
	}
	return result.Text()
}

// AssertToolExists fails the test unless the server lists the tool.
func (tc *TestClient) AssertToolExists(name string) {
	tc.t.Helper()
	tools, err := tc.ListTools(context.Background())
	if err != nil {
		tc.t.Fatalf("list tools: %v", err)
	}
	if !slices.ContainsFunc(tools, func(d protocol.ToolDescriptor) bool { return d.Name == name }) {
		tc.t.Errorf("tool %q not found", name)
	}
}

// AssertResourceExists fails the test unless the server lists the URI.
func (tc *TestClient) AssertResourceExists(uri string) {
	tc.t.Helper()
	resources, err := tc.ListResources(context.Background())
	if err != nil {
		tc.t.Fatalf("list resources: %v", err)
	}
	if !slices.ContainsFunc(resources, func(d protocol.ResourceDescriptor) bool { return d.URI == uri }) {
		tc.t.Errorf("resource %q not found", uri)
	}
}

// AssertPromptExists fails the test unless the server lists the prompt.
func (tc *TestClient) AssertPromptExists(name string) {
	tc.t.Helper()
	prompts, err := tc.ListPrompts(context.Background())
	if err != nil {
		tc.t.Fatalf("list prompts: %v", err)
	}
	if !slices.ContainsFunc(prompts, func(d protocol.PromptDescriptor) bool { return d.Name == name }) {
		tc.t.Errorf("prompt %q not found", name)
	}
}

// AssertErrorCode fails the test unless err is a protocol error with code.
func AssertErrorCode(t testing.TB, err error, code int) {
	t.Helper()
	var perr *protocol.Error
	if !errors.As(err, &perr) {
		t.Errorf("error = %v, want protocol error %d", err, code)
		return
	}
	if perr.Code != code {
		t.Errorf("error code = %d (%s), want %d", perr.Code, perr.Message, code)
	}
}

// NewEventStreamClient serves handler on an event-stream binding under
// httptest and returns a client for it plus the binding itself.
func NewEventStreamClient(t testing.TB, handler transport.Handler, opts ...transport.EventStreamOption) (*client.EventStreamClient, *transport.EventStream) {
	t.Helper()
	es := transport.NewEventStream("", opts...)
	srv := httptest.NewServer(es.Handler(handler))
	t.Cleanup(srv.Close)
	return client.NewEventStreamClient(srv.URL, client.WithCommandTimeout(5*time.Second)), es
}
