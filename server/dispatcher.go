package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/felixgeelhaar/mcp-duplex/protocol"
)

// Info identifies the server during the initialize handshake.
type Info struct {
	Name    string
	Version string
}

// Dispatcher routes requests to a sealed Registry. It holds no mutable state
// and is safe for concurrent use by any number of sessions.
type Dispatcher struct {
	reg  *Registry
	info Info
}

// NewDispatcher seals reg and returns a dispatcher over it.
func NewDispatcher(reg *Registry, info Info) *Dispatcher {
	reg.Seal()
	return &Dispatcher{reg: reg, info: info}
}

// Registry returns the underlying registry.
func (d *Dispatcher) Registry() *Registry { return d.reg }

// Initialize answers the handshake with the capability summary.
func (d *Dispatcher) Initialize(_ protocol.InitializeParams) *protocol.InitializeResult {
	caps := protocol.ServerCapabilities{}
	if d.reg.Len(NamespaceTools) > 0 {
		caps.Tools = &struct{}{}
	}
	if d.reg.Len(NamespaceResources) > 0 {
		caps.Resources = &struct{}{}
	}
	if d.reg.Len(NamespacePrompts) > 0 {
		caps.Prompts = &struct{}{}
	}
	return &protocol.InitializeResult{
		ProtocolVersion: protocol.ProtocolVersion,
		ServerInfo:      protocol.Implementation{Name: d.info.Name, Version: d.info.Version},
		Capabilities:    caps,
	}
}

// ListTools returns every tool descriptor in registration order.
func (d *Dispatcher) ListTools() []protocol.ToolDescriptor { return d.reg.Tools() }

// ListResources returns every resource descriptor in registration order.
func (d *Dispatcher) ListResources() []protocol.ResourceDescriptor { return d.reg.Resources() }

// ListPrompts returns every prompt descriptor in registration order.
func (d *Dispatcher) ListPrompts() []protocol.PromptDescriptor { return d.reg.Prompts() }

// CallTool invokes a tool. Handler failures come back as a result with
// IsError set, never as an error; errors are reserved for unknown tools and
// rejected arguments.
func (d *Dispatcher) CallTool(ctx context.Context, name string, args json.RawMessage) (*protocol.CallToolResult, error) {
	tool, err := d.reg.LookupTool(name)
	if err != nil {
		return nil, protocol.NewUnknownTool(name)
	}
	if err := tool.ValidateArguments(args); err != nil {
		return nil, protocol.NewInvalidParams(fmt.Sprintf("tool %q: %v", name, err))
	}

	outcome := invoke(ctx, tool.Handler(), args)
	if outcome.Rejected != nil {
		return nil, outcome.Rejected
	}
	return outcome.Result(), nil
}

// ReadResource returns the content of the resource at uri.
func (d *Dispatcher) ReadResource(ctx context.Context, uri string) (*protocol.ReadResourceResult, error) {
	if uri == "" {
		return nil, protocol.NewInvalidParams("uri is required")
	}
	res, params, err := d.reg.LookupResource(uri)
	if err != nil {
		return nil, protocol.NewUnknownResource(uri)
	}

	content, err := res.Handler()(ctx, uri, params)
	if err != nil {
		return nil, asProtocolError(err)
	}
	// handlers may hand out shared content; defaults go on a copy
	var out protocol.ResourceContents
	if content != nil {
		out = *content
	}
	if out.URI == "" {
		out.URI = uri
	}
	if out.MimeType == "" {
		out.MimeType = res.desc.MimeType
	}
	return &protocol.ReadResourceResult{Contents: []protocol.ResourceContents{out}}, nil
}

// GetPrompt renders a prompt after checking its required arguments.
func (d *Dispatcher) GetPrompt(ctx context.Context, name string, args map[string]string) (*protocol.GetPromptResult, error) {
	prompt, err := d.reg.LookupPrompt(name)
	if err != nil {
		return nil, protocol.NewUnknownPrompt(name)
	}
	if missing := prompt.Missing(args); len(missing) > 0 {
		return nil, protocol.NewMissingArgument(name, missing...)
	}
	if args == nil {
		args = map[string]string{}
	}

	result, err := prompt.Handler()(ctx, args)
	if err != nil {
		return nil, asProtocolError(err)
	}
	if result == nil {
		result = &protocol.GetPromptResult{}
	}
	if result.Messages == nil {
		result.Messages = []protocol.PromptMessage{}
	}
	return result, nil
}

// OutcomeKind tags an Outcome.
type OutcomeKind int

// Outcome kinds.
const (
	OutcomeOk OutcomeKind = iota
	OutcomeFailed
)

// Outcome is the tagged result of running a tool handler: Ok with content, or
// Failed with a message. Rejected is set instead when the handler refused the
// request with a protocol error.
type Outcome struct {
	Kind     OutcomeKind
	Content  []protocol.Content
	Message  string
	Rejected *protocol.Error
}

// Result converts the outcome into the wire result.
func (o Outcome) Result() *protocol.CallToolResult {
	if o.Kind == OutcomeFailed {
		return &protocol.CallToolResult{
			Content: []protocol.Content{protocol.TextContent("Error: " + o.Message)},
			IsError: true,
		}
	}
	content := o.Content
	if content == nil {
		content = []protocol.Content{}
	}
	return &protocol.CallToolResult{Content: content}
}

func invoke(ctx context.Context, handler ToolHandler, args json.RawMessage) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = Outcome{Kind: OutcomeFailed, Message: fmt.Sprintf("panic: %v", r)}
		}
	}()

	content, err := handler(ctx, args)
	if err != nil {
		var perr *protocol.Error
		if errors.As(err, &perr) {
			return Outcome{Rejected: perr}
		}
		return Outcome{Kind: OutcomeFailed, Message: err.Error()}
	}
	return Outcome{Kind: OutcomeOk, Content: content}
}

func asProtocolError(err error) *protocol.Error {
	var perr *protocol.Error
	if errors.As(err, &perr) {
		return perr
	}
	return protocol.NewInternalError(err.Error())
}
