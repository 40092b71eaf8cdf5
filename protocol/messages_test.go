package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestRequest_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name         string
		input        string
		method       string
		notification bool
		wantErr      bool
	}{
		{
			name:   "call with payload",
			input:  `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"add"}}`,
			method: MethodToolsCall,
		},
		{
			name:   "string id",
			input:  `{"jsonrpc":"2.0","id":"abc-123","method":"tools/list"}`,
			method: MethodToolsList,
		},
		{
			name:         "notification",
			input:        `{"jsonrpc":"2.0","method":"notifications/initialized"}`,
			method:       MethodInitialized,
			notification: true,
		},
		{
			name:    "invalid json",
			input:   `{invalid}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Request
			err := json.Unmarshal([]byte(tt.input), &got)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Method != tt.method {
				t.Errorf("Method = %q, want %q", got.Method, tt.method)
			}
			if got.IsNotification() != tt.notification {
				t.Errorf("IsNotification() = %v, want %v", got.IsNotification(), tt.notification)
			}
		})
	}
}

func TestNewRequest(t *testing.T) {
	req, err := NewRequest(7, MethodPromptsGet, GetPromptParams{Name: "code_review"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(req.ID) != "7" {
		t.Errorf("ID = %s, want 7", req.ID)
	}
	if !strings.Contains(string(req.Params), `"code_review"`) {
		t.Errorf("Params = %s, want prompt name", req.Params)
	}
}

func TestNewResponse(t *testing.T) {
	t.Run("nil result still carries a result", func(t *testing.T) {
		resp := NewResponse(json.RawMessage(`1`), nil)
		data, err := json.Marshal(resp)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if !strings.Contains(string(data), `"result":{}`) {
			t.Errorf("response = %s, want empty result object", data)
		}
		if err := resp.Validate(); err != nil {
			t.Errorf("Validate() = %v", err)
		}
	})

	t.Run("error response omits result", func(t *testing.T) {
		resp := NewErrorResponse(json.RawMessage(`2`), NewUnknownTool("x"))
		data, _ := json.Marshal(resp)
		if strings.Contains(string(data), `"result"`) {
			t.Errorf("response = %s, should not contain result", data)
		}
	})
}

func TestResponse_Validate(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"result only", `{"jsonrpc":"2.0","id":1,"result":{"tools":[]}}`, false},
		{"error only", `{"jsonrpc":"2.0","id":1,"error":{"code":-32010,"message":"unknown tool: x"}}`, false},
		{"neither", `{"jsonrpc":"2.0","id":1}`, true},
		{"both", `{"jsonrpc":"2.0","id":1,"result":{},"error":{"code":-32603,"message":"x"}}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp Response
			if err := json.Unmarshal([]byte(tt.input), &resp); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			err := resp.Validate()
			if tt.wantErr && !errors.Is(err, ErrMalformedResponse) {
				t.Errorf("Validate() = %v, want ErrMalformedResponse", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
		})
	}
}

func TestResponse_DecodeResult(t *testing.T) {
	t.Run("decodes in-process result", func(t *testing.T) {
		resp := NewResponse(json.RawMessage(`1`), &CallToolResult{Content: []Content{TextContent("12")}})
		var out CallToolResult
		if err := resp.DecodeResult(&out); err != nil {
			t.Fatalf("DecodeResult: %v", err)
		}
		if out.Text() != "12" {
			t.Errorf("Text() = %q, want %q", out.Text(), "12")
		}
	})

	t.Run("returns the carried error", func(t *testing.T) {
		resp := NewErrorResponse(json.RawMessage(`1`), NewUnknownPrompt("x"))
		var out GetPromptResult
		if err := resp.DecodeResult(&out); !errors.Is(err, ErrUnknownPrompt) {
			t.Errorf("DecodeResult() = %v, want unknown prompt", err)
		}
	})
}

func TestGetPromptResult_Text(t *testing.T) {
	r := &GetPromptResult{Messages: []PromptMessage{
		{Role: "user", Content: TextContent("first")},
		{Role: "assistant", Content: TextContent("second")},
	}}
	if got := r.Text(); got != "first\nsecond" {
		t.Errorf("Text() = %q, want %q", got, "first\nsecond")
	}
}
