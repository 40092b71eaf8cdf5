package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/felixgeelhaar/mcp-duplex/protocol"
)

func nopTool(context.Context, json.RawMessage) ([]protocol.Content, error) {
	return []protocol.Content{protocol.TextContent("ok")}, nil
}

func nopResource(_ context.Context, uri string, _ map[string]string) (*protocol.ResourceContents, error) {
	return &protocol.ResourceContents{URI: uri, Text: "content of " + uri}, nil
}

func nopPrompt(context.Context, map[string]string) (*protocol.GetPromptResult, error) {
	return UserMessage("", "hello"), nil
}

func TestRegistry_Register(t *testing.T) {
	t.Run("rejects duplicate keys per namespace", func(t *testing.T) {
		reg := NewRegistry()
		if err := reg.RegisterTool(protocol.ToolDescriptor{Name: "echo"}, nopTool); err != nil {
			t.Fatalf("first register: %v", err)
		}
		err := reg.RegisterTool(protocol.ToolDescriptor{Name: "echo"}, nopTool)
		if !errors.Is(err, ErrDuplicateKey) {
			t.Errorf("second register = %v, want ErrDuplicateKey", err)
		}

		if err := reg.RegisterPrompt(protocol.PromptDescriptor{Name: "echo"}, nopPrompt); err != nil {
			t.Errorf("same key in another namespace should be allowed: %v", err)
		}
		if err := reg.RegisterResource(protocol.ResourceDescriptor{URI: "config://a"}, nopResource); err != nil {
			t.Fatal(err)
		}
		if err := reg.RegisterResource(protocol.ResourceDescriptor{URI: "config://a"}, nopResource); !errors.Is(err, ErrDuplicateKey) {
			t.Errorf("duplicate resource = %v, want ErrDuplicateKey", err)
		}
	})

	t.Run("rejects incomplete descriptors", func(t *testing.T) {
		reg := NewRegistry()
		if err := reg.RegisterTool(protocol.ToolDescriptor{}, nopTool); !errors.Is(err, ErrInvalidDescriptor) {
			t.Errorf("empty name = %v", err)
		}
		if err := reg.RegisterPrompt(protocol.PromptDescriptor{Name: "p"}, nil); !errors.Is(err, ErrInvalidDescriptor) {
			t.Errorf("nil handler = %v", err)
		}
	})

	t.Run("rejects registration once sealed", func(t *testing.T) {
		reg := NewRegistry()
		reg.Seal()
		if err := reg.RegisterTool(protocol.ToolDescriptor{Name: "late"}, nopTool); !errors.Is(err, ErrSealed) {
			t.Errorf("register after seal = %v, want ErrSealed", err)
		}
	})
}

func TestRegistry_ListOrder(t *testing.T) {
	reg := NewRegistry()
	names := []string{"zeta", "alpha", "mid", "beta"}
	for _, n := range names {
		if err := reg.RegisterTool(protocol.ToolDescriptor{Name: n}, nopTool); err != nil {
			t.Fatal(err)
		}
	}

	for round := 0; round < 3; round++ {
		tools := reg.Tools()
		if len(tools) != len(names) {
			t.Fatalf("len = %d, want %d", len(tools), len(names))
		}
		for i, n := range names {
			if tools[i].Name != n {
				t.Errorf("tools[%d] = %q, want %q", i, tools[i].Name, n)
			}
		}
	}
}

func TestRegistry_Lookup(t *testing.T) {
	reg := NewRegistry()
	_ = reg.RegisterResource(protocol.ResourceDescriptor{URI: "file://{name}"}, nopResource)
	_ = reg.RegisterResource(protocol.ResourceDescriptor{URI: "file://readme", MimeType: "text/markdown"}, nopResource)

	t.Run("missing tool", func(t *testing.T) {
		if _, err := reg.LookupTool("nope"); !errors.Is(err, ErrNotFound) {
			t.Errorf("LookupTool = %v, want ErrNotFound", err)
		}
	})

	t.Run("exact resource beats template", func(t *testing.T) {
		res, params, err := reg.LookupResource("file://readme")
		if err != nil {
			t.Fatal(err)
		}
		if res.IsTemplate() || params != nil {
			t.Errorf("got template match for exact uri")
		}
	})

	t.Run("template binds parameters", func(t *testing.T) {
		res, params, err := reg.LookupResource("file://notes")
		if err != nil {
			t.Fatal(err)
		}
		if !res.IsTemplate() || params["name"] != "notes" {
			t.Errorf("params = %v", params)
		}
	})

	t.Run("missing resource", func(t *testing.T) {
		if _, _, err := reg.LookupResource("config://none"); !errors.Is(err, ErrNotFound) {
			t.Errorf("LookupResource = %v, want ErrNotFound", err)
		}
	})
}

func TestRegistry_ConcurrentReads(t *testing.T) {
	reg := NewRegistry()
	for i := 0; i < 10; i++ {
		_ = reg.RegisterTool(protocol.ToolDescriptor{Name: fmt.Sprintf("t%d", i)}, nopTool)
	}
	reg.Seal()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := reg.LookupTool(fmt.Sprintf("t%d", i%10)); err != nil {
				t.Errorf("lookup: %v", err)
			}
			if len(reg.Tools()) != 10 {
				t.Error("unexpected tool count")
			}
		}(i)
	}
	wg.Wait()
}

func TestBuilders(t *testing.T) {
	type addInput struct {
		A int `json:"a" jsonschema:"required"`
		B int `json:"b" jsonschema:"required"`
	}

	t.Run("typed tool derives schema", func(t *testing.T) {
		reg := NewRegistry()
		b := reg.Tool("add").Description("Add two numbers").Handler(func(in addInput) (int, error) {
			return in.A + in.B, nil
		})
		if err := b.Err(); err != nil {
			t.Fatal(err)
		}
		tools := reg.Tools()
		if tools[0].Description != "Add two numbers" {
			t.Errorf("description = %q", tools[0].Description)
		}
		data, _ := json.Marshal(tools[0].InputSchema)
		if string(data) == "" || !json.Valid(data) {
			t.Fatalf("schema = %s", data)
		}
	})

	t.Run("invalid handler signatures", func(t *testing.T) {
		reg := NewRegistry()
		cases := []any{
			"not a func",
			func() (string, error) { return "", nil },
			func(a, b, c int) (string, error) { return "", nil },
			func(in addInput) string { return "" },
			func(x int) (string, error) { return "", nil },
			func(s string, in addInput) (string, error) { return "", nil },
			nil,
		}
		for i, fn := range cases {
			if err := reg.Tool(fmt.Sprintf("bad%d", i)).Handler(fn).Err(); err == nil {
				t.Errorf("case %d: expected error", i)
			}
		}
		if reg.Len(NamespaceTools) != 0 {
			t.Errorf("invalid tools should not be registered")
		}
	})

	t.Run("duplicate through builder", func(t *testing.T) {
		reg := NewRegistry()
		handler := func(context.Context, addInput) (string, error) { return "", nil }
		_ = reg.Tool("add").Handler(handler)
		if err := reg.Tool("add").Handler(handler).Err(); !errors.Is(err, ErrDuplicateKey) {
			t.Errorf("Err() = %v, want ErrDuplicateKey", err)
		}
	})

	t.Run("resource and prompt builders", func(t *testing.T) {
		reg := NewRegistry()
		if err := reg.Resource("config://settings").Name("Settings").MimeType("application/json").Text(`{"version":"1.0.0"}`).Err(); err != nil {
			t.Fatal(err)
		}
		if err := reg.Prompt("code_review").Argument("code", "Code", true).Argument("language", "Language", false).Handler(nopPrompt).Err(); err != nil {
			t.Fatal(err)
		}
		prompts := reg.Prompts()
		if len(prompts[0].Arguments) != 2 || !prompts[0].Arguments[0].Required {
			t.Errorf("arguments = %+v", prompts[0].Arguments)
		}
	})
}

func TestPrompt_Missing(t *testing.T) {
	p := &Prompt{desc: protocol.PromptDescriptor{
		Name: "code_review",
		Arguments: []protocol.PromptArgument{
			{Name: "code", Required: true},
			{Name: "language"},
			{Name: "style", Required: true},
		},
	}}

	tests := []struct {
		name string
		args map[string]string
		want int
	}{
		{"nil args", nil, 2},
		{"only optional", map[string]string{"language": "go"}, 2},
		{"one required", map[string]string{"code": "x=1"}, 1},
		{"all required", map[string]string{"code": "x=1", "style": "terse"}, 0},
		{"empty value counts as present", map[string]string{"code": "", "style": ""}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Missing(tt.args); len(got) != tt.want {
				t.Errorf("Missing() = %v, want %d entries", got, tt.want)
			}
		})
	}
}
