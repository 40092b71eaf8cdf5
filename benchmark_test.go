package duplex_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	duplex "github.com/felixgeelhaar/mcp-duplex"
	"github.com/felixgeelhaar/mcp-duplex/middleware"
	"github.com/felixgeelhaar/mcp-duplex/protocol"
	"github.com/felixgeelhaar/mcp-duplex/servers/demo"
)

func newBenchServer(b *testing.B, opts ...duplex.Option) *duplex.Server {
	b.Helper()
	srv := duplex.NewServer(demo.Info(), opts...)
	if err := demo.Register(srv.Registry); err != nil {
		b.Fatal(err)
	}
	return srv
}

func BenchmarkCallTool(b *testing.B) {
	d := newBenchServer(b).Dispatcher()
	args := json.RawMessage(`{"a":2,"b":3}`)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := d.CallTool(context.Background(), "add", args); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkCalculate(b *testing.B) {
	d := newBenchServer(b).Dispatcher()
	args := json.RawMessage(`{"expression":"sqrt(16) + 2 * 3 ^ 2 - max(1, 4) % 3"}`)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := d.CallTool(context.Background(), "calculate", args); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkHandleRequest(b *testing.B) {
	req, err := protocol.NewRequest(1, protocol.MethodToolsCall, protocol.CallToolParams{
		Name:      "echo",
		Arguments: json.RawMessage(`{"message":"hello"}`),
	})
	if err != nil {
		b.Fatal(err)
	}

	b.Run("default_stack", func(b *testing.B) {
		h := newBenchServer(b).Handler()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			if _, err := h.HandleRequest(context.Background(), req); err != nil {
				b.Fatal(err)
			}
		}
	})

	b.Run("full_stack", func(b *testing.B) {
		h := newBenchServer(b,
			duplex.WithLogger(slog.New(slog.DiscardHandler)),
			duplex.WithLimits(middleware.StackOptions{Timeout: 1 << 30, MaxParamSize: 1 << 20}),
		).Handler()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			if _, err := h.HandleRequest(context.Background(), req); err != nil {
				b.Fatal(err)
			}
		}
	})
}
