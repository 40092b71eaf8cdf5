package protocol

// ProtocolVersion is the negotiated protocol revision announced during initialization.
const ProtocolVersion = "2024-11-05"

// Request kinds carried in the JSON-RPC method field.
const (
	MethodInitialize    = "initialize"
	MethodInitialized   = "notifications/initialized"
	MethodPing          = "ping"
	MethodToolsList     = "tools/list"
	MethodToolsCall     = "tools/call"
	MethodResourcesList = "resources/list"
	MethodResourcesRead = "resources/read"
	MethodPromptsList   = "prompts/list"
	MethodPromptsGet    = "prompts/get"
)

// Server-originated notification methods.
const (
	MethodProgress = "notifications/progress"
)

// Push-channel event types.
const (
	EventConnected = "connected"
	EventHeartbeat = "heartbeat"
)

// IsLifecycle reports whether method belongs to the session handshake rather
// than to the capability surface.
func IsLifecycle(method string) bool {
	switch method {
	case MethodInitialize, MethodInitialized, MethodPing:
		return true
	}
	return false
}
