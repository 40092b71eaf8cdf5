package server

import (
	"context"
	"regexp"
	"strings"

	"github.com/felixgeelhaar/mcp-duplex/protocol"
)

// ResourceHandler produces the content of a resource. params holds the
// values bound to {placeholders} of a templated URI.
type ResourceHandler func(ctx context.Context, uri string, params map[string]string) (*protocol.ResourceContents, error)

// Resource is a registered resource.
type Resource struct {
	desc    protocol.ResourceDescriptor
	handler ResourceHandler

	pattern    *regexp.Regexp
	paramNames []string
}

var placeholder = regexp.MustCompile(`\{([^}]+)\}`)

func newResource(desc protocol.ResourceDescriptor, handler ResourceHandler) (*Resource, error) {
	r := &Resource{desc: desc, handler: handler}
	matches := placeholder.FindAllStringSubmatch(desc.URI, -1)
	if len(matches) == 0 {
		return r, nil
	}

	for _, m := range matches {
		r.paramNames = append(r.paramNames, m[1])
	}
	pattern := regexp.QuoteMeta(desc.URI)
	pattern = strings.ReplaceAll(pattern, `\{`, "{")
	pattern = strings.ReplaceAll(pattern, `\}`, "}")
	pattern = "^" + placeholder.ReplaceAllString(pattern, `([^/]+)`) + "$"

	var err error
	r.pattern, err = regexp.Compile(pattern)
	return r, err
}

// Descriptor returns the resource's descriptor.
func (r *Resource) Descriptor() protocol.ResourceDescriptor { return r.desc }

// Handler returns the bound handler.
func (r *Resource) Handler() ResourceHandler { return r.handler }

// IsTemplate reports whether the URI has placeholders.
func (r *Resource) IsTemplate() bool { return r.pattern != nil }

func (r *Resource) match(uri string) (map[string]string, bool) {
	if r.pattern == nil {
		return nil, false
	}
	m := r.pattern.FindStringSubmatch(uri)
	if m == nil {
		return nil, false
	}
	params := make(map[string]string, len(r.paramNames))
	for i, name := range r.paramNames {
		params[name] = m[i+1]
	}
	return params, true
}

// ResourceBuilder registers a resource fluently.
type ResourceBuilder struct {
	reg  *Registry
	desc protocol.ResourceDescriptor
	err  error
}

// Resource starts building a resource for uri.
func (r *Registry) Resource(uri string) *ResourceBuilder {
	return &ResourceBuilder{reg: r, desc: protocol.ResourceDescriptor{URI: uri}}
}

// Name sets the human-readable name.
func (b *ResourceBuilder) Name(name string) *ResourceBuilder {
	b.desc.Name = name
	return b
}

// Description sets the resource description.
func (b *ResourceBuilder) Description(desc string) *ResourceBuilder {
	b.desc.Description = desc
	return b
}

// MimeType sets the MIME type of the content.
func (b *ResourceBuilder) MimeType(mimeType string) *ResourceBuilder {
	b.desc.MimeType = mimeType
	return b
}

// Handler registers the resource.
func (b *ResourceBuilder) Handler(fn ResourceHandler) *ResourceBuilder {
	if b.err != nil {
		return b
	}
	b.err = b.reg.RegisterResource(b.desc, fn)
	return b
}

// Text registers a resource that always returns the same text.
func (b *ResourceBuilder) Text(text string) *ResourceBuilder {
	return b.Handler(func(_ context.Context, uri string, _ map[string]string) (*protocol.ResourceContents, error) {
		return &protocol.ResourceContents{URI: uri, MimeType: b.desc.MimeType, Text: text}, nil
	})
}

// Err returns the first registration error.
func (b *ResourceBuilder) Err() error { return b.err }
