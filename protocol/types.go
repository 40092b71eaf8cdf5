package protocol

import "encoding/json"

// ToolDescriptor describes a registered tool.
type ToolDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"inputSchema"`
}

// ResourceDescriptor describes a registered resource. URI may use an opaque
// scheme such as config://settings.
type ResourceDescriptor struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// PromptArgument describes an argument accepted by a prompt.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
}

// PromptDescriptor describes a registered prompt.
type PromptDescriptor struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
}

// Content is a single item of tool output or prompt message content.
type Content struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// TextContent builds a text content item.
func TextContent(text string) Content {
	return Content{Type: "text", Text: text}
}

// CallToolParams is the payload of a tools/call request.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Meta      *RequestMeta    `json:"_meta,omitempty"`
}

// RequestMeta carries request metadata. A progress token asks the server to
// report progress notifications for the call.
type RequestMeta struct {
	ProgressToken string `json:"progressToken,omitempty"`
}

// CallToolResult is the result of a tools/call request. IsError marks a
// handler failure reported as a successful response.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Text joins the text items of the result.
func (r *CallToolResult) Text() string {
	return joinText(r.Content)
}

// ReadResourceParams is the payload of a resources/read request.
type ReadResourceParams struct {
	URI string `json:"uri"`
}

// ResourceContents is the content returned for a resource read.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     string `json:"blob,omitempty"`
}

// ReadResourceResult is the result of a resources/read request.
type ReadResourceResult struct {
	Contents []ResourceContents `json:"contents"`
}

// GetPromptParams is the payload of a prompts/get request.
type GetPromptParams struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments,omitempty"`
}

// PromptMessage is one rendered message of a prompt.
type PromptMessage struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// GetPromptResult is the result of a prompts/get request.
type GetPromptResult struct {
	Description string          `json:"description,omitempty"`
	Messages    []PromptMessage `json:"messages"`
}

// Text joins the text content of every message.
func (r *GetPromptResult) Text() string {
	items := make([]Content, 0, len(r.Messages))
	for _, m := range r.Messages {
		items = append(items, m.Content)
	}
	return joinText(items)
}

// ListToolsResult is the result of a tools/list request.
type ListToolsResult struct {
	Tools []ToolDescriptor `json:"tools"`
}

// ListResourcesResult is the result of a resources/list request.
type ListResourcesResult struct {
	Resources []ResourceDescriptor `json:"resources"`
}

// ListPromptsResult is the result of a prompts/list request.
type ListPromptsResult struct {
	Prompts []PromptDescriptor `json:"prompts"`
}

// Implementation names a client or server.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeParams is the payload of the initialize handshake.
type InitializeParams struct {
	ProtocolVersion string          `json:"protocolVersion"`
	ClientInfo      Implementation  `json:"clientInfo"`
	Capabilities    json.RawMessage `json:"capabilities,omitempty"`
}

// ServerCapabilities is the capability summary announced by the server.
type ServerCapabilities struct {
	Tools     *struct{} `json:"tools,omitempty"`
	Resources *struct{} `json:"resources,omitempty"`
	Prompts   *struct{} `json:"prompts,omitempty"`
}

// InitializeResult acknowledges the handshake.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	ServerInfo      Implementation     `json:"serverInfo"`
	Capabilities    ServerCapabilities `json:"capabilities"`
}

// Event is a push-channel payload.
type Event struct {
	Type      string  `json:"type"`
	Message   string  `json:"message,omitempty"`
	SessionID string  `json:"sessionId,omitempty"`
	Timestamp float64 `json:"timestamp,omitempty"`
}

func joinText(items []Content) string {
	var out []byte
	for i, c := range items {
		if c.Type != "text" {
			continue
		}
		if i > 0 && len(out) > 0 {
			out = append(out, '\n')
		}
		out = append(out, c.Text...)
	}
	return string(out)
}
