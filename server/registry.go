package server

import (
	"errors"
	"fmt"
	"sync"

	"github.com/felixgeelhaar/mcp-duplex/protocol"
	"github.com/felixgeelhaar/mcp-duplex/schema"
)

// Registry errors.
var (
	ErrDuplicateKey      = errors.New("duplicate key")
	ErrNotFound          = errors.New("not found")
	ErrSealed            = errors.New("registry is sealed")
	ErrInvalidDescriptor = errors.New("invalid descriptor")
)

// Namespace names one of the registry's three key spaces.
type Namespace string

// Registry namespaces.
const (
	NamespaceTools     Namespace = "tools"
	NamespaceResources Namespace = "resources"
	NamespacePrompts   Namespace = "prompts"
)

// Registry holds the tools, resources and prompts offered by one server.
// Entries keep registration order. Once sealed it is read-only and safe for
// any number of concurrent readers.
type Registry struct {
	mu     sync.RWMutex
	sealed bool

	tools     []*Tool
	toolIndex map[string]int

	resources     []*Resource
	resourceIndex map[string]int

	prompts     []*Prompt
	promptIndex map[string]int
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		toolIndex:     make(map[string]int),
		resourceIndex: make(map[string]int),
		promptIndex:   make(map[string]int),
	}
}

// Seal makes the registry read-only. Further registrations fail with ErrSealed.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Sealed reports whether Seal has been called.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// RegisterTool adds a tool. A *schema.Schema input schema is also used to
// validate arguments before the handler runs; a nil schema means "no arguments".
func (r *Registry) RegisterTool(desc protocol.ToolDescriptor, handler ToolHandler) error {
	if desc.Name == "" || handler == nil {
		return fmt.Errorf("%w: tool needs a name and a handler", ErrInvalidDescriptor)
	}
	t := &Tool{desc: desc, handler: handler}
	switch s := desc.InputSchema.(type) {
	case nil:
		t.validator = schema.Object(nil)
		t.desc.InputSchema = t.validator
	case *schema.Schema:
		t.validator = s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return ErrSealed
	}
	if _, ok := r.toolIndex[desc.Name]; ok {
		return fmt.Errorf("%w: tool %q", ErrDuplicateKey, desc.Name)
	}
	r.toolIndex[desc.Name] = len(r.tools)
	r.tools = append(r.tools, t)
	return nil
}

// RegisterResource adds a resource. The URI may contain {param} placeholders.
func (r *Registry) RegisterResource(desc protocol.ResourceDescriptor, handler ResourceHandler) error {
	if desc.URI == "" || handler == nil {
		return fmt.Errorf("%w: resource needs a uri and a handler", ErrInvalidDescriptor)
	}
	res, err := newResource(desc, handler)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return ErrSealed
	}
	if _, ok := r.resourceIndex[desc.URI]; ok {
		return fmt.Errorf("%w: resource %q", ErrDuplicateKey, desc.URI)
	}
	r.resourceIndex[desc.URI] = len(r.resources)
	r.resources = append(r.resources, res)
	return nil
}

// RegisterPrompt adds a prompt.
func (r *Registry) RegisterPrompt(desc protocol.PromptDescriptor, handler PromptHandler) error {
	if desc.Name == "" || handler == nil {
		return fmt.Errorf("%w: prompt needs a name and a handler", ErrInvalidDescriptor)
	}
	p := &Prompt{desc: desc, handler: handler}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return ErrSealed
	}
	if _, ok := r.promptIndex[desc.Name]; ok {
		return fmt.Errorf("%w: prompt %q", ErrDuplicateKey, desc.Name)
	}
	r.promptIndex[desc.Name] = len(r.prompts)
	r.prompts = append(r.prompts, p)
	return nil
}

// Tools returns tool descriptors in registration order.
func (r *Registry) Tools() []protocol.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]protocol.ToolDescriptor, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.desc)
	}
	return out
}

// Resources returns resource descriptors in registration order.
func (r *Registry) Resources() []protocol.ResourceDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]protocol.ResourceDescriptor, 0, len(r.resources))
	for _, res := range r.resources {
		out = append(out, res.desc)
	}
	return out
}

// Prompts returns prompt descriptors in registration order.
func (r *Registry) Prompts() []protocol.PromptDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]protocol.PromptDescriptor, 0, len(r.prompts))
	for _, p := range r.prompts {
		d := p.desc
		d.Arguments = append([]protocol.PromptArgument(nil), p.desc.Arguments...)
		out = append(out, d)
	}
	return out
}

// Len returns the number of entries in a namespace.
func (r *Registry) Len(ns Namespace) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch ns {
	case NamespaceTools:
		return len(r.tools)
	case NamespaceResources:
		return len(r.resources)
	case NamespacePrompts:
		return len(r.prompts)
	}
	return 0
}

// LookupTool returns the tool registered under name.
func (r *Registry) LookupTool(name string) (*Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.toolIndex[name]
	if !ok {
		return nil, fmt.Errorf("%w: tool %q", ErrNotFound, name)
	}
	return r.tools[i], nil
}

// LookupResource returns the resource serving uri together with any template
// parameters. An exact registration wins over a template match.
func (r *Registry) LookupResource(uri string) (*Resource, map[string]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i, ok := r.resourceIndex[uri]; ok {
		return r.resources[i], nil, nil
	}
	for _, res := range r.resources {
		if params, ok := res.match(uri); ok {
			return res, params, nil
		}
	}
	return nil, nil, fmt.Errorf("%w: resource %q", ErrNotFound, uri)
}

// LookupPrompt returns the prompt registered under name.
func (r *Registry) LookupPrompt(name string) (*Prompt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.promptIndex[name]
	if !ok {
		return nil, fmt.Errorf("%w: prompt %q", ErrNotFound, name)
	}
	return r.prompts[i], nil
}
