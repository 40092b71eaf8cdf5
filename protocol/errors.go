package protocol

import "fmt"

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Session and capability lookup error codes.
const (
	CodeNotReady        = -32002
	CodeRateLimited     = -32003
	CodeUnknownTool     = -32010
	CodeUnknownResource = -32011
	CodeUnknownPrompt   = -32012
	CodeMissingArgument = -32013
)

// Error represents a JSON-RPC 2.0 error.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("mcp: %s (code: %d)", e.Message, e.Code)
}

// Is implements errors.Is comparison by error code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithData returns a copy of the error with additional data attached.
func (e *Error) WithData(data any) *Error {
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Data:    data,
	}
}

// IsProtocolError reports whether the code belongs to the protocol class:
// malformed frames, requests before initialization and unknown request kinds.
func (e *Error) IsProtocolError() bool {
	switch e.Code {
	case CodeParseError, CodeInvalidRequest, CodeMethodNotFound, CodeNotReady:
		return true
	}
	return false
}

// IsLookupError reports whether the code names a missing capability or argument.
func (e *Error) IsLookupError() bool {
	switch e.Code {
	case CodeUnknownTool, CodeUnknownResource, CodeUnknownPrompt, CodeMissingArgument:
		return true
	}
	return false
}

// Sentinels for errors.Is checks. Only the code is compared.
var (
	ErrNotReady        = &Error{Code: CodeNotReady, Message: "session not initialized"}
	ErrUnknownTool     = &Error{Code: CodeUnknownTool, Message: "unknown tool"}
	ErrUnknownResource = &Error{Code: CodeUnknownResource, Message: "unknown resource"}
	ErrUnknownPrompt   = &Error{Code: CodeUnknownPrompt, Message: "unknown prompt"}
	ErrMissingArgument = &Error{Code: CodeMissingArgument, Message: "missing required argument"}
	ErrMethodNotFound  = &Error{Code: CodeMethodNotFound, Message: "method not found"}
	ErrParse           = &Error{Code: CodeParseError, Message: "parse error"}
)

// NewParseError creates a parse error (-32700).
func NewParseError(msg string) *Error {
	return &Error{Code: CodeParseError, Message: msg}
}

// NewInvalidRequest creates an invalid request error (-32600).
func NewInvalidRequest(msg string) *Error {
	return &Error{Code: CodeInvalidRequest, Message: msg}
}

// NewMethodNotFound creates a method not found error (-32601).
func NewMethodNotFound(method string) *Error {
	return &Error{Code: CodeMethodNotFound, Message: "method not found: " + method}
}

// NewInvalidParams creates an invalid params error (-32602).
func NewInvalidParams(msg string) *Error {
	return &Error{Code: CodeInvalidParams, Message: msg}
}

// NewInternalError creates an internal error (-32603).
func NewInternalError(msg string) *Error {
	return &Error{Code: CodeInternalError, Message: msg}
}

// NewNotReady rejects a request that arrived before the initialize handshake.
func NewNotReady(method string) *Error {
	return &Error{Code: CodeNotReady, Message: fmt.Sprintf("session not initialized: %s received before initialize", method)}
}

// NewUnknownTool creates an unknown tool error.
func NewUnknownTool(name string) *Error {
	return &Error{Code: CodeUnknownTool, Message: "unknown tool: " + name}
}

// NewUnknownResource creates an unknown resource error.
func NewUnknownResource(uri string) *Error {
	return &Error{Code: CodeUnknownResource, Message: "unknown resource: " + uri}
}

// NewUnknownPrompt creates an unknown prompt error.
func NewUnknownPrompt(name string) *Error {
	return &Error{Code: CodeUnknownPrompt, Message: "unknown prompt: " + name}
}

// NewMissingArgument reports the required prompt arguments that were absent.
func NewMissingArgument(prompt string, missing ...string) *Error {
	return &Error{
		Code:    CodeMissingArgument,
		Message: fmt.Sprintf("prompt %q: missing required argument(s): %v", prompt, missing),
		Data:    map[string]any{"missing": missing},
	}
}

// NewRateLimited creates a rate limited error (-32003).
func NewRateLimited() *Error {
	return &Error{Code: CodeRateLimited, Message: "rate limit exceeded"}
}
