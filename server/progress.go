package server

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/felixgeelhaar/mcp-duplex/protocol"
)

// ProgressToken correlates progress notifications with a tools/call request.
type ProgressToken string

// Progress is one progress update. Total is omitted when unknown.
type Progress struct {
	Progress float64  `json:"progress"`
	Total    *float64 `json:"total,omitempty"`
	Message  string   `json:"message,omitempty"`
}

// ProgressReporter lets tool handlers report progress on bindings that can
// push notifications. It is a no-op when the caller asked for no progress.
type ProgressReporter interface {
	Report(progress float64, total *float64) error
	ReportWithMessage(progress float64, total *float64, message string) error
	Token() ProgressToken
}

type progressReporter struct {
	token    ProgressToken
	notifier protocol.NotificationSender
	mu       sync.Mutex
	last     float64
}

// NewProgressReporter returns a reporter that sends notifications/progress
// through notifier.
func NewProgressReporter(token ProgressToken, notifier protocol.NotificationSender) ProgressReporter {
	return &progressReporter{
		token:    token,
		notifier: notifier,
	}
}

func (p *progressReporter) Token() ProgressToken {
	return p.token
}

func (p *progressReporter) Report(progress float64, total *float64) error {
	return p.ReportWithMessage(progress, total, "")
}

func (p *progressReporter) ReportWithMessage(progress float64, total *float64, message string) error {
	if p.token == "" || p.notifier == nil {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// values sent must strictly increase
	if progress <= p.last {
		progress = p.last + 0.1
	}
	p.last = progress

	return p.notifier.SendNotification(protocol.MethodProgress, progressParams{
		ProgressToken: p.token,
		Progress:      Progress{Progress: progress, Total: total, Message: message},
	})
}

type progressParams struct {
	ProgressToken ProgressToken `json:"progressToken"`
	Progress
}

type progressContextKey struct{}

// ContextWithProgress returns a context with the progress reporter attached.
func ContextWithProgress(ctx context.Context, reporter ProgressReporter) context.Context {
	return context.WithValue(ctx, progressContextKey{}, reporter)
}

// ProgressFromContext returns the progress reporter from context, or a no-op reporter if none.
func ProgressFromContext(ctx context.Context) ProgressReporter {
	if reporter, ok := ctx.Value(progressContextKey{}).(ProgressReporter); ok {
		return reporter
	}
	return &noopProgressReporter{}
}

type noopProgressReporter struct{}

func (n *noopProgressReporter) Report(_ float64, _ *float64) error                      { return nil }
func (n *noopProgressReporter) ReportWithMessage(_ float64, _ *float64, _ string) error { return nil }
func (n *noopProgressReporter) Token() ProgressToken                                    { return "" }

// ExtractProgressToken extracts the progress token from request params.
func ExtractProgressToken(params json.RawMessage) ProgressToken {
	if params == nil {
		return ""
	}

	var meta struct {
		Meta struct {
			ProgressToken json.RawMessage `json:"progressToken"`
		} `json:"_meta"`
	}
	if err := json.Unmarshal(params, &meta); err != nil || len(meta.Meta.ProgressToken) == 0 {
		return ""
	}

	// tokens may be strings or integers
	var s string
	if err := json.Unmarshal(meta.Meta.ProgressToken, &s); err == nil {
		return ProgressToken(s)
	}
	return ProgressToken(meta.Meta.ProgressToken)
}
