package demo_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/mcp-duplex/protocol"
	"github.com/felixgeelhaar/mcp-duplex/server"
	"github.com/felixgeelhaar/mcp-duplex/servers/demo"
)

func newDispatcher(t *testing.T) *server.Dispatcher {
	t.Helper()
	reg, err := demo.NewRegistry()
	require.NoError(t, err)
	return server.NewDispatcher(reg, demo.Info())
}

func TestRegistryContents(t *testing.T) {
	d := newDispatcher(t)

	var tools []string
	for _, tool := range d.ListTools() {
		tools = append(tools, tool.Name)
	}
	assert.Equal(t, []string{"greet", "add", "multiply", "calculate", "echo", "get_system_info"}, tools)

	var uris []string
	for _, res := range d.ListResources() {
		uris = append(uris, res.URI)
	}
	assert.Equal(t, []string{"config://settings", "file://readme"}, uris)

	var prompts []string
	for _, p := range d.ListPrompts() {
		prompts = append(prompts, p.Name)
	}
	assert.Equal(t, []string{"code_review", "explain_code"}, prompts)

	assert.Equal(t, demo.Name, d.Initialize(protocol.InitializeParams{}).ServerInfo.Name)
}

func callTool(t *testing.T, d *server.Dispatcher, name, args string) *protocol.CallToolResult {
	t.Helper()
	result, err := d.CallTool(context.Background(), name, json.RawMessage(args))
	require.NoError(t, err)
	return result
}

func TestTools(t *testing.T) {
	d := newDispatcher(t)

	tests := []struct {
		name, tool, args, want string
	}{
		{"greet", "greet", `{"name":"Ada"}`, "Hello, Ada! Welcome to the MCP server."},
		{"add", "add", `{"a":5,"b":7}`, "The sum of 5 and 7 is 12."},
		{"add fractions", "add", `{"a":0.5,"b":0.25}`, "The sum of 0.5 and 0.25 is 0.75."},
		{"multiply", "multiply", `{"a":3,"b":2.5}`, "The product of 3 and 2.5 is 7.5."},
		{"calculate", "calculate", `{"expression":"sqrt(16)+2*3"}`, "Calculation result: 10"},
		{"echo", "echo", `{"message":"hi there"}`, "Echo: hi there"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := callTool(t, d, tt.tool, tt.args)
			assert.False(t, result.IsError)
			assert.Equal(t, tt.want, result.Text())
		})
	}

	t.Run("calculation failure is a failed result", func(t *testing.T) {
		result := callTool(t, d, "calculate", `{"expression":"1/0"}`)
		assert.True(t, result.IsError)
		assert.Contains(t, result.Text(), "calculation error: division by zero")
	})

	t.Run("system info", func(t *testing.T) {
		result := callTool(t, d, "get_system_info", `{}`)
		var info demo.SystemInfo
		require.NoError(t, json.Unmarshal([]byte(result.Text()), &info))
		assert.NotEmpty(t, info.OS)
		assert.NotEmpty(t, info.GoVersion)
		assert.Positive(t, info.CPUs)
	})

	t.Run("missing required argument", func(t *testing.T) {
		_, err := d.CallTool(context.Background(), "echo", json.RawMessage(`{}`))
		assert.ErrorIs(t, err, &protocol.Error{Code: protocol.CodeInvalidParams})
	})
}

// Scenarios A-D exercised directly against the dispatcher; the same steps
// run over every binding in the e2e package.
func TestScenarios(t *testing.T) {
	d := newDispatcher(t)
	ctx := context.Background()

	t.Run("A add", func(t *testing.T) {
		assert.Contains(t, callTool(t, d, "add", `{"a":5,"b":7}`).Text(), "12")
	})

	t.Run("B calculate", func(t *testing.T) {
		assert.Contains(t, callTool(t, d, "calculate", `{"expression":"sqrt(16)+2*3"}`).Text(), "10")
	})

	t.Run("C read settings", func(t *testing.T) {
		result, err := d.ReadResource(ctx, "config://settings")
		require.NoError(t, err)
		require.Len(t, result.Contents, 1)
		assert.Equal(t, "application/json", result.Contents[0].MimeType)

		var settings map[string]any
		require.NoError(t, json.Unmarshal([]byte(result.Contents[0].Text), &settings))
		assert.Equal(t, "1.0.0", settings["version"])

		again, err := d.ReadResource(ctx, "config://settings")
		require.NoError(t, err)
		assert.Equal(t, result, again)
	})

	t.Run("D code review", func(t *testing.T) {
		_, err := d.GetPrompt(ctx, "code_review", map[string]string{})
		assert.ErrorIs(t, err, protocol.ErrMissingArgument)

		result, err := d.GetPrompt(ctx, "code_review", map[string]string{"code": "x=1"})
		require.NoError(t, err)
		assert.Contains(t, result.Text(), "x=1")
		assert.Contains(t, result.Text(), "```python")
	})
}

func TestPrompts(t *testing.T) {
	d := newDispatcher(t)
	ctx := context.Background()

	result, err := d.GetPrompt(ctx, "explain_code", map[string]string{"code": "fn main() {}", "language": "rust"})
	require.NoError(t, err)
	text := result.Text()
	assert.True(t, strings.HasPrefix(text, "Please explain in detail what the following rust code does"))
	assert.Contains(t, text, "```rust\nfn main() {}\n```")

	_, err = d.GetPrompt(ctx, "explain_code", nil)
	assert.ErrorIs(t, err, protocol.ErrMissingArgument)
}

func TestReadme(t *testing.T) {
	d := newDispatcher(t)
	result, err := d.ReadResource(context.Background(), "file://readme")
	require.NoError(t, err)
	assert.Equal(t, "text/markdown", result.Contents[0].MimeType)
	assert.Contains(t, result.Contents[0].Text, "calculate")
}
