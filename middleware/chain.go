package middleware

import (
	"context"

	"github.com/felixgeelhaar/mcp-duplex/protocol"
)

// HandlerFunc handles one decoded request. A nil response with a nil error
// means the request was a notification.
type HandlerFunc func(ctx context.Context, req *protocol.Request) (*protocol.Response, error)

// Middleware wraps a handler with additional behavior.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middleware so that Chain(m1, m2)(h) runs m1, then m2, then h.
func Chain(middlewares ...Middleware) Middleware {
	return func(final HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			if middlewares[i] == nil {
				continue
			}
			final = middlewares[i](final)
		}
		return final
	}
}

// Stack is an ordered, growable list of middleware.
type Stack struct {
	middlewares []Middleware
}

// Use starts a stack with the given middleware.
func Use(middlewares ...Middleware) *Stack {
	return &Stack{middlewares: middlewares}
}

// Append adds middleware to the end of the stack.
func (s *Stack) Append(middlewares ...Middleware) *Stack {
	s.middlewares = append(s.middlewares, middlewares...)
	return s
}

// Len returns the number of middleware in the stack.
func (s *Stack) Len() int { return len(s.middlewares) }

// Then wraps handler with the whole stack.
func (s *Stack) Then(handler HandlerFunc) HandlerFunc {
	return Chain(s.middlewares...)(handler)
}
