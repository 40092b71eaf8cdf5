package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/felixgeelhaar/mcp-duplex/protocol"
)

// Timeout bounds every request by d. A handler that gives up because the
// deadline passed yields an internal error naming the method.
func Timeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			resp, err := next(ctx, req)
			if err != nil && errors.Is(err, context.DeadlineExceeded) {
				return nil, protocol.NewInternalError(req.Method + ": deadline exceeded after " + d.String())
			}
			return resp, err
		}
	}
}
