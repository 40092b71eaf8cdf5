// Package middleware wraps the request handler shared by all bindings.
//
// Each middleware sees the decoded request and the response or error the
// rest of the chain produced:
//
//	h := middleware.Chain(
//	    middleware.Recover(logger),
//	    middleware.RequestID(),
//	    middleware.Logging(logger),
//	    middleware.RateLimitBySession(50, 100),
//	)(dispatcher.HandleRequest)
//
// Recover, RequestID and Logging make up DefaultStack. NewStack layers the
// optional Timeout, SizeLimit, RateLimit and OTel middleware on top from a
// StackOptions value, which is how the command line wires configuration in.
//
// Logging writes through log/slog. Tool calls that completed with isError
// set are logged at warn, since they are failures reported in-band rather
// than protocol errors.
package middleware
