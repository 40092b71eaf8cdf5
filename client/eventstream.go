package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tmaxmax/go-sse"

	"github.com/felixgeelhaar/mcp-duplex/protocol"
	"github.com/felixgeelhaar/mcp-duplex/transport"
)

// EventStreamClient talks to the event-stream binding: capability calls go
// over the command routes, server events arrive over the push channel.
type EventStreamClient struct {
	baseURL string
	http    *http.Client
	timeout time.Duration

	mu        sync.RWMutex
	sessionID string
}

// EventStreamOption configures an EventStreamClient.
type EventStreamOption func(*EventStreamClient)

// WithHTTPClient replaces http.DefaultClient. Its Timeout should be zero so
// that push channels are not cut short.
func WithHTTPClient(c *http.Client) EventStreamOption {
	return func(es *EventStreamClient) {
		es.http = c
	}
}

// WithCommandTimeout bounds each command request. Defaults to 30s.
func WithCommandTimeout(d time.Duration) EventStreamOption {
	return func(es *EventStreamClient) {
		es.timeout = d
	}
}

// NewEventStreamClient returns a client for the binding at baseURL, for
// example "http://127.0.0.1:8000".
func NewEventStreamClient(baseURL string, opts ...EventStreamOption) *EventStreamClient {
	es := &EventStreamClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    http.DefaultClient,
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(es)
	}
	return es
}

// SessionID returns the id assigned by the last push channel, if any.
// Command requests carry it so the server can attribute them.
func (es *EventStreamClient) SessionID() string {
	es.mu.RLock()
	defer es.mu.RUnlock()
	return es.sessionID
}

// Listen opens the push channel and calls fn for every event until d
// elapses, ctx is cancelled or fn returns an error. A zero d listens until
// ctx ends. Reaching d or the end of ctx is not an error.
func (es *EventStreamClient) Listen(ctx context.Context, d time.Duration, fn func(protocol.Event) error) error {
	if d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, es.baseURL+"/sse", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := es.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("open push channel: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("open push channel: %w", decodeError(resp))
	}
	if id := resp.Header.Get(transport.SessionHeader); id != "" {
		es.mu.Lock()
		es.sessionID = id
		es.mu.Unlock()
	}

	for ev, err := range sse.Read(resp.Body, nil) {
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read push channel: %w", err)
		}
		var event protocol.Event
		if err := json.Unmarshal([]byte(ev.Data), &event); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		if err := fn(event); err != nil {
			return err
		}
	}
	return nil
}

// ListTools returns the server's tools.
func (es *EventStreamClient) ListTools(ctx context.Context) ([]protocol.ToolDescriptor, error) {
	var tools []protocol.ToolDescriptor
	if err := es.do(ctx, http.MethodGet, "/tools", nil, &tools); err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	return tools, nil
}

// CallTool invokes a tool. A handler failure is a result with IsError set.
func (es *EventStreamClient) CallTool(ctx context.Context, name string, arguments any) (*protocol.CallToolResult, error) {
	params, err := callToolParams(name, arguments)
	if err != nil {
		return nil, fmt.Errorf("call tool %q: %w", name, err)
	}
	var env struct {
		Result protocol.CallToolResult `json:"result"`
	}
	if err := es.do(ctx, http.MethodPost, "/tools/call", params, &env); err != nil {
		return nil, fmt.Errorf("call tool %q: %w", name, err)
	}
	return &env.Result, nil
}

// ListResources returns the server's resources.
func (es *EventStreamClient) ListResources(ctx context.Context) ([]protocol.ResourceDescriptor, error) {
	var resources []protocol.ResourceDescriptor
	if err := es.do(ctx, http.MethodGet, "/resources", nil, &resources); err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	return resources, nil
}

// ReadResource reads a resource.
func (es *EventStreamClient) ReadResource(ctx context.Context, uri string) (*protocol.ResourceContents, error) {
	var env struct {
		Content  string `json:"content"`
		MimeType string `json:"mimeType"`
		URI      string `json:"uri"`
	}
	path := "/resources/read?uri=" + url.QueryEscape(uri)
	if err := es.do(ctx, http.MethodGet, path, nil, &env); err != nil {
		return nil, fmt.Errorf("read resource %q: %w", uri, err)
	}
	return &protocol.ResourceContents{URI: env.URI, MimeType: env.MimeType, Text: env.Content}, nil
}

// ListPrompts returns the server's prompts.
func (es *EventStreamClient) ListPrompts(ctx context.Context) ([]protocol.PromptDescriptor, error) {
	var prompts []protocol.PromptDescriptor
	if err := es.do(ctx, http.MethodGet, "/prompts", nil, &prompts); err != nil {
		return nil, fmt.Errorf("list prompts: %w", err)
	}
	return prompts, nil
}

// GetPrompt renders a prompt.
func (es *EventStreamClient) GetPrompt(ctx context.Context, name string, arguments map[string]string) (*protocol.GetPromptResult, error) {
	var env struct {
		Result protocol.GetPromptResult `json:"result"`
	}
	params := protocol.GetPromptParams{Name: name, Arguments: arguments}
	if err := es.do(ctx, http.MethodPost, "/prompts/get", params, &env); err != nil {
		return nil, fmt.Errorf("get prompt %q: %w", name, err)
	}
	return &env.Result, nil
}

// Close releases idle connections.
func (es *EventStreamClient) Close() error {
	es.http.CloseIdleConnections()
	return nil
}

func (es *EventStreamClient) do(ctx context.Context, method, path string, body any, out any) error {
	if es.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, es.timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, es.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id := es.SessionID(); id != "" {
		req.Header.Set(transport.SessionHeader, id)
	}

	resp, err := es.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// decodeError turns an error envelope back into a *protocol.Error so that
// callers can match it with errors.Is as on the stream bindings.
func decodeError(resp *http.Response) error {
	var env struct {
		Error string `json:"error"`
		Code  int    `json:"code"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err := json.Unmarshal(data, &env); err != nil || env.Error == "" {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}
	if env.Code == 0 {
		return errors.New(env.Error)
	}
	return &protocol.Error{Code: env.Code, Message: env.Error}
}
