package middleware

import (
	"log/slog"
	"slices"
	"time"
)

// DefaultStack returns the stack every binding runs by default: panic
// recovery, request IDs and request logging.
func DefaultStack(logger *slog.Logger) []Middleware {
	return []Middleware{
		Recover(logger),
		RequestID(),
		Logging(logger),
	}
}

// StackOptions selects the optional middleware layered on DefaultStack.
// Zero values disable the corresponding middleware.
type StackOptions struct {
	Timeout      time.Duration
	MaxParamSize int64
	RateLimit    int
	RateBurst    int
	Tracing      bool
}

// NewStack builds DefaultStack plus whatever opts enables.
func NewStack(logger *slog.Logger, opts StackOptions) *Stack {
	base := DefaultStack(logger)
	if opts.Tracing {
		// after RequestID so spans carry the request id, before Logging
		base = slices.Insert(base, len(base)-1, OTel())
	}
	stack := Use(base...)
	if opts.MaxParamSize > 0 {
		stack.Append(SizeLimit(opts.MaxParamSize, WithSizeLimitLogger(logger)))
	}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = opts.RateLimit
		}
		stack.Append(RateLimitBySession(opts.RateLimit, burst, WithRateLimitLogger(logger)))
	}
	if opts.Timeout > 0 {
		stack.Append(Timeout(opts.Timeout))
	}
	return stack
}
