package server

import (
	"context"

	"github.com/felixgeelhaar/mcp-duplex/protocol"
)

// PromptHandler renders a prompt. Required arguments are guaranteed present.
type PromptHandler func(ctx context.Context, args map[string]string) (*protocol.GetPromptResult, error)

// Prompt is a registered prompt.
type Prompt struct {
	desc    protocol.PromptDescriptor
	handler PromptHandler
}

// Descriptor returns the prompt's descriptor.
func (p *Prompt) Descriptor() protocol.PromptDescriptor { return p.desc }

// Handler returns the bound handler.
func (p *Prompt) Handler() PromptHandler { return p.handler }

// Missing lists required arguments absent from args, in declaration order.
// A present key counts even when its value is empty.
func (p *Prompt) Missing(args map[string]string) []string {
	var missing []string
	for _, arg := range p.desc.Arguments {
		if !arg.Required {
			continue
		}
		if _, ok := args[arg.Name]; !ok {
			missing = append(missing, arg.Name)
		}
	}
	return missing
}

// PromptBuilder registers a prompt fluently.
type PromptBuilder struct {
	reg  *Registry
	desc protocol.PromptDescriptor
	err  error
}

// Prompt starts building a prompt named name.
func (r *Registry) Prompt(name string) *PromptBuilder {
	return &PromptBuilder{reg: r, desc: protocol.PromptDescriptor{Name: name}}
}

// Description sets the prompt description.
func (b *PromptBuilder) Description(desc string) *PromptBuilder {
	b.desc.Description = desc
	return b
}

// Argument declares an argument.
func (b *PromptBuilder) Argument(name, description string, required bool) *PromptBuilder {
	b.desc.Arguments = append(b.desc.Arguments, protocol.PromptArgument{
		Name:        name,
		Description: description,
		Required:    required,
	})
	return b
}

// Handler registers the prompt.
func (b *PromptBuilder) Handler(fn PromptHandler) *PromptBuilder {
	if b.err != nil {
		return b
	}
	b.err = b.reg.RegisterPrompt(b.desc, fn)
	return b
}

// Err returns the first registration error.
func (b *PromptBuilder) Err() error { return b.err }

// UserMessage is a convenience for single-message prompt results.
func UserMessage(description, text string) *protocol.GetPromptResult {
	return &protocol.GetPromptResult{
		Description: description,
		Messages: []protocol.PromptMessage{
			{Role: "user", Content: protocol.TextContent(text)},
		},
	}
}
