package middleware

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/felixgeelhaar/mcp-duplex/protocol"
)

func newTestProviders(t *testing.T) (*tracetest.InMemoryExporter, *sdktrace.TracerProvider, *sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		_ = mp.Shutdown(context.Background())
	})
	return exporter, tp, reader, mp
}

func sumOf(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestOTel(t *testing.T) {
	t.Run("creates a span per request", func(t *testing.T) {
		exporter, tp, reader, mp := newTestProviders(t)
		h := OTel(WithTracerProvider(tp), WithMeterProvider(mp))(okHandler)

		ctx := protocol.ContextWithSessionID(context.Background(), "sess-9")
		if _, err := h(ctx, testRequest(protocol.MethodToolsList)); err != nil {
			t.Fatal(err)
		}

		spans := exporter.GetSpans()
		if len(spans) != 1 || spans[0].Name != "mcp.tools/list" {
			t.Fatalf("spans = %v", spans)
		}
		found := false
		for _, a := range spans[0].Attributes {
			if a.Key == attribute.Key("mcp.session_id") && a.Value.AsString() == "sess-9" {
				found = true
			}
		}
		if !found {
			t.Errorf("session attribute missing: %v", spans[0].Attributes)
		}
		if n := sumOf(t, reader, "mcp.server.requests"); n != 1 {
			t.Errorf("requests = %d, want 1", n)
		}
	})

	t.Run("records errors", func(t *testing.T) {
		exporter, tp, reader, mp := newTestProviders(t)
		h := OTel(WithTracerProvider(tp), WithMeterProvider(mp))(func(context.Context, *protocol.Request) (*protocol.Response, error) {
			return nil, protocol.NewUnknownPrompt("x")
		})

		_, err := h(context.Background(), testRequest(protocol.MethodPromptsGet))
		if !errors.Is(err, protocol.ErrUnknownPrompt) {
			t.Fatalf("err = %v", err)
		}
		if spans := exporter.GetSpans(); spans[0].Status.Code != codes.Error {
			t.Errorf("status = %v, want error", spans[0].Status)
		}
		if n := sumOf(t, reader, "mcp.server.errors"); n != 1 {
			t.Errorf("errors = %d, want 1", n)
		}
	})

	t.Run("counts tool failures", func(t *testing.T) {
		_, tp, reader, mp := newTestProviders(t)
		h := OTel(WithTracerProvider(tp), WithMeterProvider(mp))(func(_ context.Context, req *protocol.Request) (*protocol.Response, error) {
			return protocol.NewResponse(req.ID, &protocol.CallToolResult{IsError: true}), nil
		})

		_, _ = h(context.Background(), testRequest(protocol.MethodToolsCall))
		if n := sumOf(t, reader, "mcp.server.tool.failures"); n != 1 {
			t.Errorf("tool failures = %d, want 1", n)
		}
		if n := sumOf(t, reader, "mcp.server.errors"); n != 0 {
			t.Errorf("errors = %d, want 0", n)
		}
	})

	t.Run("skips ping by default", func(t *testing.T) {
		exporter, tp, _, mp := newTestProviders(t)
		h := OTel(WithTracerProvider(tp), WithMeterProvider(mp))(okHandler)
		_, _ = h(context.Background(), testRequest(protocol.MethodPing))
		if n := len(exporter.GetSpans()); n != 0 {
			t.Errorf("spans = %d, want 0", n)
		}
	})
}
