package server

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
)

type recordingSender struct {
	mu     sync.Mutex
	method []string
	params []json.RawMessage
}

func (r *recordingSender) SendNotification(method string, params any) error {
	data, err := json.Marshal(params)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.method = append(r.method, method)
	r.params = append(r.params, data)
	return nil
}

func (r *recordingSender) decoded(t *testing.T, i int) map[string]any {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	var m map[string]any
	if err := json.Unmarshal(r.params[i], &m); err != nil {
		t.Fatalf("decode notification %d: %v", i, err)
	}
	return m
}

func TestProgressReporter(t *testing.T) {
	t.Run("sends progress notifications", func(t *testing.T) {
		sender := &recordingSender{}
		reporter := NewProgressReporter("token-123", sender)

		total := 100.0
		if err := reporter.Report(50, &total); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if len(sender.method) != 1 || sender.method[0] != "notifications/progress" {
			t.Fatalf("methods = %v", sender.method)
		}
		params := sender.decoded(t, 0)
		if params["progressToken"] != "token-123" {
			t.Errorf("progressToken = %v", params["progressToken"])
		}
		if params["progress"] != 50.0 || params["total"] != 100.0 {
			t.Errorf("progress/total = %v/%v", params["progress"], params["total"])
		}
	})

	t.Run("omits total when unknown", func(t *testing.T) {
		sender := &recordingSender{}
		_ = NewProgressReporter("t", sender).ReportWithMessage(1, nil, "working")

		params := sender.decoded(t, 0)
		if _, ok := params["total"]; ok {
			t.Error("total should be omitted")
		}
		if params["message"] != "working" {
			t.Errorf("message = %v", params["message"])
		}
	})

	t.Run("keeps values increasing", func(t *testing.T) {
		sender := &recordingSender{}
		reporter := NewProgressReporter("t", sender)
		_ = reporter.Report(10, nil)
		_ = reporter.Report(5, nil)

		second := sender.decoded(t, 1)["progress"].(float64)
		if second <= 10 {
			t.Errorf("second progress = %v, want > 10", second)
		}
	})

	t.Run("no-op without context reporter", func(t *testing.T) {
		reporter := ProgressFromContext(context.Background())
		if err := reporter.Report(1, nil); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if reporter.Token() != "" {
			t.Errorf("Token() = %q, want empty", reporter.Token())
		}
	})
}

func TestExtractProgressToken(t *testing.T) {
	tests := []struct {
		params string
		want   ProgressToken
	}{
		{`{"name":"add","_meta":{"progressToken":"abc"}}`, "abc"},
		{`{"name":"add","_meta":{"progressToken":42}}`, "42"},
		{`{"name":"add"}`, ""},
		{`not json`, ""},
	}
	for _, tt := range tests {
		if got := ExtractProgressToken(json.RawMessage(tt.params)); got != tt.want {
			t.Errorf("ExtractProgressToken(%s) = %q, want %q", tt.params, got, tt.want)
		}
	}
}
