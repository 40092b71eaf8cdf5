// Package transport implements the bindings that carry MCP requests to a
// Handler.
//
// Stream bindings (Stdio, WebSocket) run a Session per connection. A session
// starts in StateConnecting and answers everything except initialize with a
// NotReady error; a successful initialize moves it to StateInitialized and
// the first request or notifications/initialized after that to StateServing.
// Frames are delimited by a Framing, newline by default or a 4-byte length
// prefix. A frame that is not JSON gets a parse error response and closes
// the session.
//
// EventStream is the HTTP binding. GET /sse opens a push channel that emits
// a connected event and then a heartbeat every interval until the client
// goes away, the optional listen limit passes or the server stops. The
// command routes (/tools, /tools/call, /resources, /resources/read,
// /prompts, /prompts/get) are independent request/response exchanges that
// reply {"result": ...} or {"error": "...", "code": n}.
package transport
