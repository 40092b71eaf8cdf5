// Package protocol defines the wire model shared by every binding.
//
// Requests are JSON-RPC 2.0 objects whose method names the request kind
// (tools/list, tools/call, resources/list, resources/read, prompts/list,
// prompts/get) and whose params carry the kind-specific payload. A Response
// carries exactly one of result or error.
//
// # Error taxonomy
//
// Protocol errors reject the frame itself:
//
//	CodeParseError     = -32700  // malformed frame
//	CodeInvalidRequest = -32600  // structurally invalid request
//	CodeMethodNotFound = -32601  // unknown request kind
//	CodeNotReady       = -32002  // request before initialize
//
// Lookup errors name a missing capability or argument:
//
//	CodeUnknownTool     = -32010
//	CodeUnknownResource = -32011
//	CodeUnknownPrompt   = -32012
//	CodeMissingArgument = -32013
//
// Errors compare by code, so sentinels work with errors.Is:
//
//	if errors.Is(err, protocol.ErrMissingArgument) { ... }
//
// Tool handler failures are not protocol errors. They arrive as a
// successful CallToolResult with IsError set.
package protocol
