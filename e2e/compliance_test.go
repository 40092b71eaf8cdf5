// Package e2e runs the same scenarios against every binding, in process.
package e2e

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	duplex "github.com/felixgeelhaar/mcp-duplex"
	"github.com/felixgeelhaar/mcp-duplex/client"
	"github.com/felixgeelhaar/mcp-duplex/harness"
	"github.com/felixgeelhaar/mcp-duplex/protocol"
	"github.com/felixgeelhaar/mcp-duplex/servers/demo"
	"github.com/felixgeelhaar/mcp-duplex/testutil"
	"github.com/felixgeelhaar/mcp-duplex/transport"
)

func newDemoServer(t *testing.T) *duplex.Server {
	t.Helper()
	srv := duplex.NewServer(demo.Info())
	if err := demo.Register(srv.Registry); err != nil {
		t.Fatalf("register demo: %v", err)
	}
	return srv
}

type binding struct {
	name    string
	connect func(t *testing.T, h transport.Handler) client.Capabilities
}

func bindings() []binding {
	return []binding{
		{"stdio newline", func(t *testing.T, h transport.Handler) client.Capabilities {
			return testutil.NewTestClient(t, h)
		}},
		{"stdio length-prefixed", func(t *testing.T, h transport.Handler) client.Capabilities {
			return testutil.NewTestClient(t, h, testutil.WithFraming(transport.LengthPrefixFraming{}))
		}},
		{"websocket", func(t *testing.T, h transport.Handler) client.Capabilities {
			ctx, cancel := context.WithCancel(context.Background())
			ws := transport.NewWebSocket("")
			srv := httptest.NewServer(ws.Handler(ctx, h))
			t.Cleanup(func() {
				cancel()
				srv.Close()
			})

			ft, err := client.DialWebSocket(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http")+"/")
			if err != nil {
				t.Fatalf("dial: %v", err)
			}
			c := client.New(ft, client.WithTimeout(5*time.Second))
			t.Cleanup(func() { _ = c.Close() })
			if _, err := c.Initialize(context.Background()); err != nil {
				t.Fatalf("initialize: %v", err)
			}
			return c
		}},
		{"event stream", func(t *testing.T, h transport.Handler) client.Capabilities {
			es, _ := testutil.NewEventStreamClient(t, h)
			return es
		}},
	}
}

func TestScenarios(t *testing.T) {
	for _, b := range bindings() {
		t.Run(b.name, func(t *testing.T) {
			c := b.connect(t, newDemoServer(t).Handler())
			for _, r := range harness.RunSteps(context.Background(), c, harness.Scenario()) {
				if r.Err != nil {
					t.Errorf("%s: %v", r.Name, r.Err)
				}
			}
		})
	}
}

// Every binding must answer the same request the same way.
func TestBindingsAgree(t *testing.T) {
	type observation struct {
		add        string
		calcError  string
		prompt     string
		unknownErr int
		missingErr int
		resource   string
		tools      []string
	}

	observe := func(t *testing.T, c client.Capabilities) observation {
		ctx := context.Background()
		var o observation

		res, err := c.CallTool(ctx, "add", map[string]any{"a": 2.5, "b": 4})
		if err != nil {
			t.Fatal(err)
		}
		o.add = res.Text()

		res, err = c.CallTool(ctx, "calculate", map[string]any{"expression": "1/0"})
		if err != nil {
			t.Fatal(err)
		}
		if !res.IsError {
			t.Errorf("1/0 succeeded: %s", res.Text())
		}
		o.calcError = res.Text()

		prompt, err := c.GetPrompt(ctx, "explain_code", map[string]string{"code": "x := 1", "language": "go"})
		if err != nil {
			t.Fatal(err)
		}
		o.prompt = prompt.Text()

		_, err = c.CallTool(ctx, "nope", map[string]any{})
		o.unknownErr = code(err)
		_, err = c.GetPrompt(ctx, "code_review", map[string]string{})
		o.missingErr = code(err)

		contents, err := c.ReadResource(ctx, "file://readme")
		if err != nil {
			t.Fatal(err)
		}
		o.resource = contents.Text

		tools, err := c.ListTools(ctx)
		if err != nil {
			t.Fatal(err)
		}
		for _, tool := range tools {
			o.tools = append(o.tools, tool.Name)
		}
		return o
	}

	var first *observation
	for _, b := range bindings() {
		t.Run(b.name, func(t *testing.T) {
			got := observe(t, b.connect(t, newDemoServer(t).Handler()))
			if got.unknownErr != protocol.CodeUnknownTool {
				t.Errorf("unknown tool code = %d", got.unknownErr)
			}
			if got.missingErr != protocol.CodeMissingArgument {
				t.Errorf("missing argument code = %d", got.missingErr)
			}
			if first == nil {
				first = &got
				return
			}
			if got.add != first.add || got.calcError != first.calcError || got.prompt != first.prompt || got.resource != first.resource {
				t.Errorf("observation differs:\n got  %+v\n want %+v", got, *first)
			}
			if strings.Join(got.tools, ",") != strings.Join(first.tools, ",") {
				t.Errorf("tools = %v, want %v", got.tools, first.tools)
			}
		})
	}
}

func code(err error) int {
	var perr *protocol.Error
	if errors.As(err, &perr) {
		return perr.Code
	}
	return 0
}

// rawStream drives a stream session with hand-written frames.
type rawStream struct {
	t     *testing.T
	w     io.WriteCloser
	lines *bufio.Scanner
	done  chan error
}

func newRawStream(t *testing.T) *rawStream {
	t.Helper()
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	sess := transport.NewSession(transport.NewStreamConn(inR, outW, transport.NewlineFraming{}), newDemoServer(t).Handler())

	done := make(chan error, 1)
	go func() {
		done <- sess.Serve(context.Background())
		outW.Close()
	}()
	t.Cleanup(func() { inW.Close() })
	return &rawStream{t: t, w: inW, lines: bufio.NewScanner(outR), done: done}
}

func (r *rawStream) send(frame string) {
	r.t.Helper()
	if _, err := io.WriteString(r.w, frame+"\n"); err != nil {
		r.t.Fatalf("write: %v", err)
	}
}

func (r *rawStream) recv() map[string]json.RawMessage {
	r.t.Helper()
	if !r.lines.Scan() {
		r.t.Fatal("stream ended")
	}
	var msg map[string]json.RawMessage
	if err := json.Unmarshal(r.lines.Bytes(), &msg); err != nil {
		r.t.Fatalf("decode %s: %v", r.lines.Text(), err)
	}
	return msg
}

func (r *rawStream) handshake() {
	r.t.Helper()
	r.send(`{"jsonrpc":"2.0","id":0,"method":"initialize","params":{"protocolVersion":"2024-11-05","clientInfo":{"name":"raw","version":"1"}}}`)
	r.recv()
	r.send(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)
}

func errorCode(t *testing.T, msg map[string]json.RawMessage) int {
	t.Helper()
	var e protocol.Error
	if err := json.Unmarshal(msg["error"], &e); err != nil {
		t.Fatalf("no error in %v", msg)
	}
	return e.Code
}

func TestJSONRPC(t *testing.T) {
	t.Run("version and id echo", func(t *testing.T) {
		r := newRawStream(t)
		r.handshake()

		r.send(`{"jsonrpc":"2.0","id":"abc-1","method":"ping"}`)
		msg := r.recv()
		if string(msg["jsonrpc"]) != `"2.0"` {
			t.Errorf("jsonrpc = %s", msg["jsonrpc"])
		}
		if string(msg["id"]) != `"abc-1"` {
			t.Errorf("id = %s, want %q", msg["id"], "abc-1")
		}
		if _, ok := msg["error"]; ok {
			t.Errorf("ping failed: %s", msg["error"])
		}
	})

	t.Run("unknown method", func(t *testing.T) {
		r := newRawStream(t)
		r.handshake()
		r.send(`{"jsonrpc":"2.0","id":7,"method":"tools/destroy"}`)
		if got := errorCode(t, r.recv()); got != protocol.CodeMethodNotFound {
			t.Errorf("code = %d, want %d", got, protocol.CodeMethodNotFound)
		}
	})

	t.Run("not ready before initialize", func(t *testing.T) {
		r := newRawStream(t)
		r.send(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
		if got := errorCode(t, r.recv()); got != protocol.CodeNotReady {
			t.Errorf("code = %d, want %d", got, protocol.CodeNotReady)
		}
	})

	t.Run("responses in arrival order", func(t *testing.T) {
		r := newRawStream(t)
		r.handshake()
		for _, id := range []string{"1", "2", "3"} {
			r.send(`{"jsonrpc":"2.0","id":` + id + `,"method":"tools/call","params":{"name":"echo","arguments":{"message":"m` + id + `"}}}`)
		}
		for _, id := range []string{"1", "2", "3"} {
			if got := string(r.recv()["id"]); got != id {
				t.Errorf("id = %s, want %s", got, id)
			}
		}
	})

	t.Run("parse error closes session", func(t *testing.T) {
		r := newRawStream(t)
		r.handshake()
		r.send(`{"jsonrpc":"2.0","id":1,"method":`)
		msg := r.recv()
		if got := errorCode(t, msg); got != protocol.CodeParseError {
			t.Errorf("code = %d, want %d", got, protocol.CodeParseError)
		}
		if string(msg["id"]) != "null" {
			t.Errorf("id = %s, want null", msg["id"])
		}
		select {
		case err := <-r.done:
			if !errors.Is(err, transport.ErrProtocolViolation) {
				t.Errorf("Serve() = %v, want protocol violation", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("session still open after malformed frame")
		}
	})
}
