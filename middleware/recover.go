package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/felixgeelhaar/mcp-duplex/protocol"
)

// PanicHandler turns a recovered panic into the request's result.
type PanicHandler func(ctx context.Context, req *protocol.Request, panicVal any) (*protocol.Response, error)

// Recover converts panics escaping the handler chain into internal errors.
// The stack is logged when logger is non-nil.
func Recover(logger *slog.Logger) Middleware {
	return RecoverWithHandler(func(ctx context.Context, req *protocol.Request, panicVal any) (*protocol.Response, error) {
		if logger != nil {
			logger.ErrorContext(ctx, "handler panic",
				slog.String("method", req.Method),
				slog.Any("panic", panicVal),
				slog.String("stack", string(debug.Stack())),
			)
		}
		return nil, protocol.NewInternalError(fmt.Sprintf("panic: %v", panicVal))
	})
}

// RecoverWithHandler recovers panics and delegates to handler.
func RecoverWithHandler(handler PanicHandler) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *protocol.Request) (resp *protocol.Response, err error) {
			defer func() {
				if r := recover(); r != nil {
					resp, err = handler(ctx, req, r)
				}
			}()
			return next(ctx, req)
		}
	}
}
