package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/felixgeelhaar/mcp-duplex/protocol"
)

// Transport carries JSON-RPC traffic to a server.
type Transport interface {
	// Send sends a request and waits for the response with the same id.
	Send(ctx context.Context, req *protocol.Request) (*protocol.Response, error)
	// Notify sends a request that expects no response.
	Notify(ctx context.Context, req *protocol.Request) error
	// Close closes the transport connection.
	Close() error
}

// Capabilities is the capability surface shared by the JSON-RPC client and
// the event-stream client.
type Capabilities interface {
	ListTools(ctx context.Context) ([]protocol.ToolDescriptor, error)
	CallTool(ctx context.Context, name string, arguments any) (*protocol.CallToolResult, error)
	ListResources(ctx context.Context) ([]protocol.ResourceDescriptor, error)
	ReadResource(ctx context.Context, uri string) (*protocol.ResourceContents, error)
	ListPrompts(ctx context.Context) ([]protocol.PromptDescriptor, error)
	GetPrompt(ctx context.Context, name string, arguments map[string]string) (*protocol.GetPromptResult, error)
	Close() error
}

var (
	_ Capabilities = (*Client)(nil)
	_ Capabilities = (*EventStreamClient)(nil)
)

// ErrNoContent is returned by ReadResource when the server answered with no
// contents.
var ErrNoContent = errors.New("resource has no content")

// Client is a JSON-RPC client for the stream bindings.
type Client struct {
	transport Transport
	opts      clientOptions

	mu         sync.RWMutex
	serverInfo *ServerInfo
	requestID  atomic.Int64
}

// ServerInfo is what the server announced during the handshake.
type ServerInfo struct {
	Name            string
	Version         string
	ProtocolVersion string
	Features        Features
}

// Features lists the capability groups the server declared.
type Features struct {
	Tools     bool
	Resources bool
	Prompts   bool
}

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	timeout     time.Duration
	clientName  string
	clientVer   string
	protocolVer string
}

// WithTimeout sets the default timeout for requests.
func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.timeout = d
	}
}

// WithClientInfo sets the client name and version sent in the handshake.
func WithClientInfo(name, version string) Option {
	return func(o *clientOptions) {
		o.clientName = name
		o.clientVer = version
	}
}

// WithProtocolVersion sets the protocol version to request.
func WithProtocolVersion(version string) Option {
	return func(o *clientOptions) {
		o.protocolVer = version
	}
}

// New creates a client over transport.
func New(transport Transport, opts ...Option) *Client {
	options := clientOptions{
		timeout:     30 * time.Second,
		clientName:  "mcp-duplex-client",
		clientVer:   "1.0.0",
		protocolVer: protocol.ProtocolVersion,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &Client{
		transport: transport,
		opts:      options,
	}
}

// Initialize performs the handshake and then announces
// notifications/initialized. No other request is accepted by the server
// before it.
func (c *Client) Initialize(ctx context.Context) (*ServerInfo, error) {
	params := protocol.InitializeParams{
		ProtocolVersion: c.opts.protocolVer,
		ClientInfo:      protocol.Implementation{Name: c.opts.clientName, Version: c.opts.clientVer},
	}

	var result protocol.InitializeResult
	if err := c.call(ctx, protocol.MethodInitialize, params, &result); err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}

	info := &ServerInfo{
		Name:            result.ServerInfo.Name,
		Version:         result.ServerInfo.Version,
		ProtocolVersion: result.ProtocolVersion,
		Features: Features{
			Tools:     result.Capabilities.Tools != nil,
			Resources: result.Capabilities.Resources != nil,
			Prompts:   result.Capabilities.Prompts != nil,
		},
	}

	notif, err := protocol.NewRequest(0, protocol.MethodInitialized, nil)
	if err != nil {
		return nil, err
	}
	notif.ID = nil
	if err := c.transport.Notify(ctx, notif); err != nil {
		return nil, fmt.Errorf("initialized: %w", err)
	}

	c.mu.Lock()
	c.serverInfo = info
	c.mu.Unlock()
	return info, nil
}

// ListTools returns the server's tools in registration order.
func (c *Client) ListTools(ctx context.Context) ([]protocol.ToolDescriptor, error) {
	var result protocol.ListToolsResult
	if err := c.call(ctx, protocol.MethodToolsList, nil, &result); err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	return result.Tools, nil
}

// CallTool invokes a tool. A handler failure is a result with IsError set,
// not an error.
func (c *Client) CallTool(ctx context.Context, name string, arguments any) (*protocol.CallToolResult, error) {
	params, err := callToolParams(name, arguments)
	if err != nil {
		return nil, fmt.Errorf("call tool %q: %w", name, err)
	}
	var result protocol.CallToolResult
	if err := c.call(ctx, protocol.MethodToolsCall, params, &result); err != nil {
		return nil, fmt.Errorf("call tool %q: %w", name, err)
	}
	return &result, nil
}

// CallToolWithProgress is CallTool with a progress token. Progress
// notifications reach the transport's notification handler.
func (c *Client) CallToolWithProgress(ctx context.Context, name string, arguments any, token string) (*protocol.CallToolResult, error) {
	params, err := callToolParams(name, arguments)
	if err != nil {
		return nil, fmt.Errorf("call tool %q: %w", name, err)
	}
	params.Meta = &protocol.RequestMeta{ProgressToken: token}
	var result protocol.CallToolResult
	if err := c.call(ctx, protocol.MethodToolsCall, params, &result); err != nil {
		return nil, fmt.Errorf("call tool %q: %w", name, err)
	}
	return &result, nil
}

// ListResources returns the server's resources in registration order.
func (c *Client) ListResources(ctx context.Context) ([]protocol.ResourceDescriptor, error) {
	var result protocol.ListResourcesResult
	if err := c.call(ctx, protocol.MethodResourcesList, nil, &result); err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	return result.Resources, nil
}

// ReadResource returns the first content item of a resource.
func (c *Client) ReadResource(ctx context.Context, uri string) (*protocol.ResourceContents, error) {
	var result protocol.ReadResourceResult
	if err := c.call(ctx, protocol.MethodResourcesRead, protocol.ReadResourceParams{URI: uri}, &result); err != nil {
		return nil, fmt.Errorf("read resource %q: %w", uri, err)
	}
	if len(result.Contents) == 0 {
		return nil, fmt.Errorf("read resource %q: %w", uri, ErrNoContent)
	}
	return &result.Contents[0], nil
}

// ListPrompts returns the server's prompts in registration order.
func (c *Client) ListPrompts(ctx context.Context) ([]protocol.PromptDescriptor, error) {
	var result protocol.ListPromptsResult
	if err := c.call(ctx, protocol.MethodPromptsList, nil, &result); err != nil {
		return nil, fmt.Errorf("list prompts: %w", err)
	}
	return result.Prompts, nil
}

// GetPrompt renders a prompt.
func (c *Client) GetPrompt(ctx context.Context, name string, arguments map[string]string) (*protocol.GetPromptResult, error) {
	var result protocol.GetPromptResult
	params := protocol.GetPromptParams{Name: name, Arguments: arguments}
	if err := c.call(ctx, protocol.MethodPromptsGet, params, &result); err != nil {
		return nil, fmt.Errorf("get prompt %q: %w", name, err)
	}
	return &result, nil
}

// Ping checks that the server answers.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.call(ctx, protocol.MethodPing, nil, nil); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// ServerInfo returns what the server announced, or nil before Initialize.
func (c *Client) ServerInfo() *ServerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}

// Close closes the transport.
func (c *Client) Close() error {
	return c.transport.Close()
}

// call sends method and decodes the result into out. Error responses are
// returned as *protocol.Error.
func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	req, err := protocol.NewRequest(c.requestID.Add(1), method, params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}

	if c.opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.timeout)
		defer cancel()
	}

	resp, err := c.transport.Send(ctx, req)
	if err != nil {
		return err
	}
	if err := resp.Validate(); err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	if out == nil {
		return nil
	}
	if err := resp.DecodeResult(out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

func callToolParams(name string, arguments any) (protocol.CallToolParams, error) {
	params := protocol.CallToolParams{Name: name}
	if arguments == nil {
		return params, nil
	}
	raw, err := marshalArguments(arguments)
	if err != nil {
		return params, err
	}
	params.Arguments = raw
	return params, nil
}

func marshalArguments(arguments any) (json.RawMessage, error) {
	if raw, ok := arguments.(json.RawMessage); ok {
		return raw, nil
	}
	raw, err := json.Marshal(arguments)
	if err != nil {
		return nil, fmt.Errorf("marshal arguments: %w", err)
	}
	return raw, nil
}
