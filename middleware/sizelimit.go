package middleware

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/felixgeelhaar/mcp-duplex/protocol"
)

// Size units.
const (
	KB = 1024
	MB = 1024 * KB
)

// SizeLimitOption configures SizeLimit.
type SizeLimitOption func(*sizeLimitConfig)

type sizeLimitConfig struct {
	logger *slog.Logger
}

// WithSizeLimitLogger logs rejected requests to l.
func WithSizeLimitLogger(l *slog.Logger) SizeLimitOption {
	return func(o *sizeLimitConfig) {
		o.logger = l
	}
}

// SizeLimit rejects requests whose params exceed maxBytes with InvalidRequest.
func SizeLimit(maxBytes int64, opts ...SizeLimitOption) Middleware {
	cfg := &sizeLimitConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
			if size := int64(len(req.Params)); size > maxBytes {
				if cfg.logger != nil {
					cfg.logger.WarnContext(ctx, "request size limit exceeded",
						slog.String("method", req.Method),
						slog.Int64("size", size),
						slog.Int64("max", maxBytes),
					)
				}
				return nil, protocol.NewInvalidRequest(fmt.Sprintf("request size %d exceeds limit of %d bytes", size, maxBytes))
			}
			return next(ctx, req)
		}
	}
}
