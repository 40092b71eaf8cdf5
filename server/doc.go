// Package server holds the capability registry and the dispatcher that
// answers MCP requests from it.
//
// A Registry collects tools, resources and prompts in registration order.
// Handing it to NewDispatcher seals it; after that it is read-only and one
// Dispatcher can be shared by every connected session regardless of binding.
//
// # Tools
//
// Typed tools derive their input schema from a struct:
//
//	type AddInput struct {
//	    A float64 `json:"a" jsonschema:"required"`
//	    B float64 `json:"b" jsonschema:"required"`
//	}
//
//	reg := server.NewRegistry()
//	err := reg.Tool("add").
//	    Description("Add two numbers").
//	    Handler(func(ctx context.Context, in AddInput) (string, error) {
//	        return strconv.FormatFloat(in.A+in.B, 'f', -1, 64), nil
//	    }).
//	    Err()
//
// A handler error becomes a result with IsError set and the text
// "Error: <message>". Returning a *protocol.Error rejects the call instead.
//
// # Resources and prompts
//
//	reg.Resource("config://settings").MimeType("application/json").Text(`{"debug":false}`)
//	reg.Prompt("code_review").Argument("code", "Code to review", true).Handler(render)
//
// GetPrompt refuses a prompt whose required arguments are absent with a
// MissingArgument error before the handler runs.
package server
