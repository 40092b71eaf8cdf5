package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/fortify/ratelimit"

	"github.com/felixgeelhaar/mcp-duplex/protocol"
)

// KeyFunc derives the bucket a request is charged to.
type KeyFunc func(ctx context.Context, req *protocol.Request) string

// RateLimitOption configures the rate limiter.
type RateLimitOption func(*rateLimitConfig)

type rateLimitConfig struct {
	keyFunc KeyFunc
	logger  *slog.Logger
	exempt  map[string]bool
}

// WithRateLimitKeyFunc sets how requests are bucketed.
func WithRateLimitKeyFunc(fn KeyFunc) RateLimitOption {
	return func(o *rateLimitConfig) {
		o.keyFunc = fn
	}
}

// WithRateLimitLogger logs throttled requests to l.
func WithRateLimitLogger(l *slog.Logger) RateLimitOption {
	return func(o *rateLimitConfig) {
		o.logger = l
	}
}

// RateLimit throttles requests with a token bucket refilled at rate per
// second. The handshake methods are never throttled.
func RateLimit(rate int, burst int, opts ...RateLimitOption) Middleware {
	cfg := &rateLimitConfig{
		keyFunc: func(context.Context, *protocol.Request) string { return "global" },
		exempt: map[string]bool{
			protocol.MethodInitialize:  true,
			protocol.MethodInitialized: true,
		},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	limiter := ratelimit.New(&ratelimit.Config{
		Rate:     rate,
		Burst:    burst,
		Interval: time.Second,
	})

	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
			if cfg.exempt[req.Method] {
				return next(ctx, req)
			}
			key := cfg.keyFunc(ctx, req)
			if !limiter.Allow(ctx, key) {
				if cfg.logger != nil {
					cfg.logger.WarnContext(ctx, "rate limit exceeded",
						slog.String("method", req.Method),
						slog.String("key", key),
					)
				}
				return nil, protocol.NewRateLimited()
			}
			return next(ctx, req)
		}
	}
}

// RateLimitByMethod keeps one bucket per request kind.
func RateLimitByMethod(rate int, burst int, opts ...RateLimitOption) Middleware {
	allOpts := append([]RateLimitOption{
		WithRateLimitKeyFunc(func(_ context.Context, req *protocol.Request) string {
			return req.Method
		}),
	}, opts...)
	return RateLimit(rate, burst, allOpts...)
}

// RateLimitBySession keeps one bucket per session. Requests outside a
// session share the "anonymous" bucket.
func RateLimitBySession(rate int, burst int, opts ...RateLimitOption) Middleware {
	allOpts := append([]RateLimitOption{
		WithRateLimitKeyFunc(func(ctx context.Context, _ *protocol.Request) string {
			if id := protocol.SessionIDFromContext(ctx); id != "" {
				return id
			}
			return "anonymous"
		}),
	}, opts...)
	return RateLimit(rate, burst, allOpts...)
}
