package server

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/felixgeelhaar/mcp-duplex/protocol"
)

type addInput struct {
	A float64 `json:"a" jsonschema:"required"`
	B float64 `json:"b" jsonschema:"required"`
}

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	reg := NewRegistry()

	mustOK := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	mustOK(reg.Tool("add").Description("Add two numbers").Handler(func(in addInput) (string, error) {
		return strconv.FormatFloat(in.A+in.B, 'f', -1, 64), nil
	}).Err())
	mustOK(reg.RegisterTool(protocol.ToolDescriptor{Name: "fail"}, func(context.Context, json.RawMessage) ([]protocol.Content, error) {
		return nil, errors.New("disk on fire")
	}))
	mustOK(reg.RegisterTool(protocol.ToolDescriptor{Name: "boom"}, func(context.Context, json.RawMessage) ([]protocol.Content, error) {
		panic("kaboom")
	}))
	mustOK(reg.RegisterTool(protocol.ToolDescriptor{Name: "reject"}, func(context.Context, json.RawMessage) ([]protocol.Content, error) {
		return nil, protocol.NewInvalidParams("bad shape")
	}))
	mustOK(reg.Resource("config://settings").Name("Settings").MimeType("application/json").Text(`{"version":"1.0.0"}`).Err())
	mustOK(reg.Prompt("code_review").
		Argument("code", "Code to review", true).
		Argument("language", "Language", false).
		Handler(func(_ context.Context, args map[string]string) (*protocol.GetPromptResult, error) {
			return UserMessage("Code review", "Review this "+args["language"]+" code:\n"+args["code"]), nil
		}).Err())

	return NewDispatcher(reg, Info{Name: "test", Version: "0.0.1"})
}

func TestDispatcher_Initialize(t *testing.T) {
	d := newTestDispatcher(t)
	result := d.Initialize(protocol.InitializeParams{})

	if result.ProtocolVersion != protocol.ProtocolVersion {
		t.Errorf("ProtocolVersion = %q", result.ProtocolVersion)
	}
	if result.ServerInfo.Name != "test" {
		t.Errorf("ServerInfo.Name = %q", result.ServerInfo.Name)
	}
	if result.Capabilities.Tools == nil || result.Capabilities.Resources == nil || result.Capabilities.Prompts == nil {
		t.Errorf("capabilities = %+v", result.Capabilities)
	}
	if !d.Registry().Sealed() {
		t.Error("registry should be sealed")
	}
}

func TestDispatcher_CallTool(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	t.Run("ok", func(t *testing.T) {
		result, err := d.CallTool(ctx, "add", json.RawMessage(`{"a":5,"b":7}`))
		if err != nil {
			t.Fatal(err)
		}
		if result.IsError || result.Text() != "12" {
			t.Errorf("result = %+v", result)
		}
	})

	t.Run("unknown tool", func(t *testing.T) {
		_, err := d.CallTool(ctx, "nope", nil)
		if !errors.Is(err, protocol.ErrUnknownTool) {
			t.Errorf("err = %v, want UnknownTool", err)
		}
	})

	t.Run("schema violation", func(t *testing.T) {
		_, err := d.CallTool(ctx, "add", json.RawMessage(`{"a":"five","b":7}`))
		var perr *protocol.Error
		if !errors.As(err, &perr) || perr.Code != protocol.CodeInvalidParams {
			t.Errorf("err = %v, want InvalidParams", err)
		}
	})

	t.Run("handler error is a failed result", func(t *testing.T) {
		result, err := d.CallTool(ctx, "fail", nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !result.IsError || result.Text() != "Error: disk on fire" {
			t.Errorf("result = %+v", result)
		}
	})

	t.Run("panic is a failed result", func(t *testing.T) {
		result, err := d.CallTool(ctx, "boom", nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !result.IsError || !strings.Contains(result.Text(), "kaboom") {
			t.Errorf("result = %+v", result)
		}
	})

	t.Run("protocol error rejects", func(t *testing.T) {
		_, err := d.CallTool(ctx, "reject", nil)
		var perr *protocol.Error
		if !errors.As(err, &perr) || perr.Code != protocol.CodeInvalidParams {
			t.Errorf("err = %v, want InvalidParams", err)
		}
	})
}

func TestDispatcher_ReadResource(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	first, err := d.ReadResource(ctx, "config://settings")
	if err != nil {
		t.Fatal(err)
	}
	second, err := d.ReadResource(ctx, "config://settings")
	if err != nil {
		t.Fatal(err)
	}
	if first.Contents[0] != second.Contents[0] {
		t.Errorf("reads differ: %+v vs %+v", first.Contents[0], second.Contents[0])
	}
	if first.Contents[0].MimeType != "application/json" || first.Contents[0].URI != "config://settings" {
		t.Errorf("contents = %+v", first.Contents[0])
	}

	if _, err := d.ReadResource(ctx, "config://missing"); !errors.Is(err, protocol.ErrUnknownResource) {
		t.Errorf("err = %v, want UnknownResource", err)
	}
	if _, err := d.ReadResource(ctx, ""); err == nil {
		t.Error("expected error for empty uri")
	}
}

func TestDispatcher_ReadResourceLeavesHandlerContent(t *testing.T) {
	reg := NewRegistry()
	shared := &protocol.ResourceContents{Text: "cached"}
	err := reg.RegisterResource(
		protocol.ResourceDescriptor{URI: "mem://{id}", Name: "Memory", MimeType: "text/plain"},
		func(context.Context, string, map[string]string) (*protocol.ResourceContents, error) {
			return shared, nil
		})
	if err != nil {
		t.Fatal(err)
	}
	d := NewDispatcher(reg, Info{Name: "test"})
	ctx := context.Background()

	for _, uri := range []string{"mem://a", "mem://b"} {
		got, err := d.ReadResource(ctx, uri)
		if err != nil {
			t.Fatal(err)
		}
		if c := got.Contents[0]; c.URI != uri || c.MimeType != "text/plain" || c.Text != "cached" {
			t.Errorf("read %s = %+v", uri, c)
		}
	}
	if shared.URI != "" || shared.MimeType != "" {
		t.Errorf("handler content was modified: %+v", *shared)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			uri := "mem://" + strconv.Itoa(i)
			got, err := d.ReadResource(ctx, uri)
			if err != nil {
				t.Error(err)
				return
			}
			if got.Contents[0].URI != uri {
				t.Errorf("read %s answered %s", uri, got.Contents[0].URI)
			}
		}(i)
	}
	wg.Wait()
}

func TestDispatcher_GetPrompt(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	t.Run("renders with optional argument", func(t *testing.T) {
		result, err := d.GetPrompt(ctx, "code_review", map[string]string{"code": "x = 1", "language": "python"})
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(result.Text(), "x = 1") || !strings.Contains(result.Text(), "python") {
			t.Errorf("text = %q", result.Text())
		}
	})

	t.Run("missing required argument", func(t *testing.T) {
		_, err := d.GetPrompt(ctx, "code_review", map[string]string{"language": "go"})
		var perr *protocol.Error
		if !errors.As(err, &perr) || perr.Code != protocol.CodeMissingArgument {
			t.Fatalf("err = %v, want MissingArgument", err)
		}
		data, _ := perr.Data.(map[string]any)
		missing, _ := data["missing"].([]string)
		if len(missing) != 1 || missing[0] != "code" {
			t.Errorf("data = %v", perr.Data)
		}
	})

	t.Run("unknown prompt", func(t *testing.T) {
		if _, err := d.GetPrompt(ctx, "nope", nil); !errors.Is(err, protocol.ErrUnknownPrompt) {
			t.Errorf("err = %v, want UnknownPrompt", err)
		}
	})
}

func TestDispatcher_Concurrent(t *testing.T) {
	d := newTestDispatcher(t)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			args, _ := json.Marshal(addInput{A: float64(i), B: 1})
			result, err := d.CallTool(context.Background(), "add", args)
			if err != nil {
				t.Errorf("call %d: %v", i, err)
				return
			}
			if want := strconv.Itoa(i + 1); result.Text() != want {
				t.Errorf("call %d = %q, want %q", i, result.Text(), want)
			}
		}(i)
	}
	wg.Wait()
}

func TestOutcome_Result(t *testing.T) {
	ok := Outcome{Kind: OutcomeOk}.Result()
	if ok.IsError || ok.Content == nil {
		t.Errorf("ok result = %+v", ok)
	}

	failed := Outcome{Kind: OutcomeFailed, Message: "nope"}.Result()
	if !failed.IsError || failed.Text() != "Error: nope" {
		t.Errorf("failed result = %+v", failed)
	}
}
