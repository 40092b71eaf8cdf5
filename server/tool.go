package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/felixgeelhaar/mcp-duplex/protocol"
	"github.com/felixgeelhaar/mcp-duplex/schema"
)

// ToolHandler runs a tool with its raw, already validated arguments.
// Returning a *protocol.Error rejects the request; any other error is a
// tool failure reported to the caller as an error result.
type ToolHandler func(ctx context.Context, args json.RawMessage) ([]protocol.Content, error)

// Tool is a registered tool.
type Tool struct {
	desc      protocol.ToolDescriptor
	validator *schema.Schema
	handler   ToolHandler
}

// Descriptor returns the tool's descriptor.
func (t *Tool) Descriptor() protocol.ToolDescriptor { return t.desc }

// Handler returns the bound handler.
func (t *Tool) Handler() ToolHandler { return t.handler }

// ValidateArguments checks args against the tool's input schema, if any.
func (t *Tool) ValidateArguments(args json.RawMessage) error {
	if t.validator == nil {
		return nil
	}
	return t.validator.Validate(args)
}

// ToolBuilder registers a tool from a typed Go function.
type ToolBuilder struct {
	reg  *Registry
	desc protocol.ToolDescriptor
	err  error
}

// Tool starts building a tool named name.
func (r *Registry) Tool(name string) *ToolBuilder {
	return &ToolBuilder{reg: r, desc: protocol.ToolDescriptor{Name: name}}
}

// Description sets the tool description.
func (b *ToolBuilder) Description(desc string) *ToolBuilder {
	b.desc.Description = desc
	return b
}

// Handler derives the input schema from fn and registers the tool.
// fn must be func(In) (Out, error) or func(context.Context, In) (Out, error)
// where In is a struct. Out may be a string, a protocol.Content, a
// []protocol.Content or any JSON-encodable value.
func (b *ToolBuilder) Handler(fn any) *ToolBuilder {
	if b.err != nil {
		return b
	}
	handler, inputSchema, err := adaptTypedHandler(fn)
	if err != nil {
		b.err = fmt.Errorf("tool %q: %w", b.desc.Name, err)
		return b
	}
	b.desc.InputSchema = inputSchema
	b.err = b.reg.RegisterTool(b.desc, handler)
	return b
}

// Err returns the first error hit while building or registering.
func (b *ToolBuilder) Err() error { return b.err }

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

func adaptTypedHandler(fn any) (ToolHandler, *schema.Schema, error) {
	if fn == nil {
		return nil, nil, errors.New("handler is nil")
	}
	fnVal := reflect.ValueOf(fn)
	fnType := fnVal.Type()
	if fnType.Kind() != reflect.Func {
		return nil, nil, fmt.Errorf("handler must be a function, got %s", fnType.Kind())
	}

	hasContext := false
	switch fnType.NumIn() {
	case 1:
	case 2:
		if !fnType.In(0).Implements(contextType) {
			return nil, nil, errors.New("first parameter must be context.Context when using 2 parameters")
		}
		hasContext = true
	default:
		return nil, nil, fmt.Errorf("handler must have 1 or 2 parameters, got %d", fnType.NumIn())
	}
	if fnType.NumOut() != 2 || !fnType.Out(1).Implements(errorType) {
		return nil, nil, errors.New("handler must return (result, error)")
	}

	inputType := fnType.In(fnType.NumIn() - 1)
	isPtr := inputType.Kind() == reflect.Ptr
	if isPtr {
		inputType = inputType.Elem()
	}
	if inputType.Kind() != reflect.Struct {
		return nil, nil, fmt.Errorf("input must be a struct, got %s", inputType.Kind())
	}
	inputSchema, err := schema.GenerateFromType(inputType)
	if err != nil {
		return nil, nil, fmt.Errorf("generate input schema: %w", err)
	}

	handler := func(ctx context.Context, args json.RawMessage) ([]protocol.Content, error) {
		in := reflect.New(inputType)
		if len(args) > 0 {
			if err := json.Unmarshal(args, in.Interface()); err != nil {
				return nil, protocol.NewInvalidParams(fmt.Sprintf("failed to parse arguments: %v", err))
			}
		}
		if !isPtr {
			in = in.Elem()
		}

		callArgs := make([]reflect.Value, 0, 2)
		if hasContext {
			callArgs = append(callArgs, reflect.ValueOf(ctx))
		}
		results := fnVal.Call(append(callArgs, in))

		if errVal := results[1].Interface(); errVal != nil {
			return nil, errVal.(error)
		}
		return toContent(results[0].Interface())
	}
	return handler, inputSchema, nil
}

func toContent(v any) ([]protocol.Content, error) {
	switch out := v.(type) {
	case nil:
		return []protocol.Content{}, nil
	case string:
		return []protocol.Content{protocol.TextContent(out)}, nil
	case protocol.Content:
		return []protocol.Content{out}, nil
	case []protocol.Content:
		return out, nil
	case fmt.Stringer:
		return []protocol.Content{protocol.TextContent(out.String())}, nil
	default:
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode result: %w", err)
		}
		return []protocol.Content{protocol.TextContent(string(data))}, nil
	}
}
