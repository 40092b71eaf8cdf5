package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/mcp-duplex/protocol"
)

// Logging logs one line per request. Completed requests log at info, tool
// failures reported in-band at warn and rejected requests at error.
// Notifications and pings log at debug.
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
			start := time.Now()
			resp, err := next(ctx, req)

			attrs := []slog.Attr{
				slog.String("method", req.Method),
				slog.Duration("duration", time.Since(start)),
			}
			if id := protocol.SessionIDFromContext(ctx); id != "" {
				attrs = append(attrs, slog.String("session_id", id))
			}
			if id := RequestIDFromContext(ctx); id != "" {
				attrs = append(attrs, slog.String("request_id", id))
			}
			if name := targetName(req); name != "" {
				attrs = append(attrs, slog.String("target", name))
			}

			switch {
			case err != nil:
				var perr *protocol.Error
				if errors.As(err, &perr) {
					attrs = append(attrs, slog.Int("code", perr.Code))
				}
				attrs = append(attrs, slog.String("error", err.Error()))
				logger.LogAttrs(ctx, slog.LevelError, "request failed", attrs...)
			case toolFailed(resp):
				logger.LogAttrs(ctx, slog.LevelWarn, "tool reported failure", attrs...)
			case req.IsNotification() || req.Method == protocol.MethodPing:
				logger.LogAttrs(ctx, slog.LevelDebug, "request completed", attrs...)
			default:
				logger.LogAttrs(ctx, slog.LevelInfo, "request completed", attrs...)
			}
			return resp, err
		}
	}
}

// targetName extracts the tool, prompt or resource a request addresses.
func targetName(req *protocol.Request) string {
	if len(req.Params) == 0 {
		return ""
	}
	switch req.Method {
	case protocol.MethodToolsCall, protocol.MethodPromptsGet, protocol.MethodResourcesRead:
	default:
		return ""
	}
	var p struct {
		Name string `json:"name"`
		URI  string `json:"uri"`
	}
	if json.Unmarshal(req.Params, &p) != nil {
		return ""
	}
	if p.Name != "" {
		return p.Name
	}
	return p.URI
}

func toolFailed(resp *protocol.Response) bool {
	if resp == nil {
		return false
	}
	result, ok := resp.Result.(*protocol.CallToolResult)
	return ok && result.IsError
}
