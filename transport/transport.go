package transport

import (
	"context"
	"errors"

	"github.com/felixgeelhaar/mcp-duplex/protocol"
)

// Handler processes one decoded request. Every binding funnels its traffic
// through the same Handler, normally a middleware-wrapped Dispatcher.
type Handler interface {
	HandleRequest(ctx context.Context, req *protocol.Request) (*protocol.Response, error)
}

// HandlerFunc adapts an ordinary function to Handler.
type HandlerFunc func(ctx context.Context, req *protocol.Request) (*protocol.Response, error)

// HandleRequest calls f(ctx, req).
func (f HandlerFunc) HandleRequest(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	return f(ctx, req)
}

// Transport is a binding that serves a Handler until ctx is cancelled.
type Transport interface {
	Serve(ctx context.Context, handler Handler) error
	Addr() string
}

// ErrProtocolViolation is returned when a peer sent something that forced
// the session closed, such as a frame that is not valid JSON.
var ErrProtocolViolation = errors.New("protocol violation")

// call runs handler and always yields a response for requests. Handler
// errors become error responses; a nil response to a request becomes an
// empty result.
func call(ctx context.Context, handler Handler, req *protocol.Request) *protocol.Response {
	resp, err := handler.HandleRequest(ctx, req)
	if req.IsNotification() {
		return nil
	}
	if err != nil {
		var perr *protocol.Error
		if errors.As(err, &perr) {
			return protocol.NewErrorResponse(req.ID, perr)
		}
		return protocol.NewErrorResponse(req.ID, protocol.NewInternalError(err.Error()))
	}
	if resp == nil {
		return protocol.NewResponse(req.ID, nil)
	}
	return resp
}
