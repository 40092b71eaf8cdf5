package server

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/felixgeelhaar/mcp-duplex/protocol"
)

// HandleRequest is the JSON-RPC entry point shared by every binding. It
// returns a nil response for notifications. Session state (whether the
// handshake happened) is enforced by the binding, not here.
func (d *Dispatcher) HandleRequest(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	switch req.Method {
	case protocol.MethodInitialize:
		var params protocol.InitializeParams
		if err := decodeParams(req, &params); err != nil {
			return nil, err
		}
		return protocol.NewResponse(req.ID, d.Initialize(params)), nil

	case protocol.MethodInitialized:
		return nil, nil

	case protocol.MethodPing:
		return protocol.NewResponse(req.ID, struct{}{}), nil

	case protocol.MethodToolsList:
		return protocol.NewResponse(req.ID, &protocol.ListToolsResult{Tools: d.ListTools()}), nil

	case protocol.MethodToolsCall:
		var params protocol.CallToolParams
		if err := decodeParams(req, &params); err != nil {
			return nil, err
		}
		if params.Name == "" {
			return nil, protocol.NewInvalidParams("tool name is required")
		}
		ctx = withProgress(ctx, req.Params)
		result, err := d.CallTool(ctx, params.Name, params.Arguments)
		if err != nil {
			return nil, err
		}
		return protocol.NewResponse(req.ID, result), nil

	case protocol.MethodResourcesList:
		return protocol.NewResponse(req.ID, &protocol.ListResourcesResult{Resources: d.ListResources()}), nil

	case protocol.MethodResourcesRead:
		var params protocol.ReadResourceParams
		if err := decodeParams(req, &params); err != nil {
			return nil, err
		}
		result, err := d.ReadResource(ctx, params.URI)
		if err != nil {
			return nil, err
		}
		return protocol.NewResponse(req.ID, result), nil

	case protocol.MethodPromptsList:
		return protocol.NewResponse(req.ID, &protocol.ListPromptsResult{Prompts: d.ListPrompts()}), nil

	case protocol.MethodPromptsGet:
		var params protocol.GetPromptParams
		if err := decodeParams(req, &params); err != nil {
			return nil, err
		}
		if params.Name == "" {
			return nil, protocol.NewInvalidParams("prompt name is required")
		}
		result, err := d.GetPrompt(ctx, params.Name, params.Arguments)
		if err != nil {
			return nil, err
		}
		return protocol.NewResponse(req.ID, result), nil

	default:
		return nil, protocol.NewMethodNotFound(req.Method)
	}
}

// ErrorResponse converts a handler error into an error response for req.
func ErrorResponse(req *protocol.Request, err error) *protocol.Response {
	var id json.RawMessage
	if req != nil {
		id = req.ID
	}
	var perr *protocol.Error
	if errors.As(err, &perr) {
		return protocol.NewErrorResponse(id, perr)
	}
	return protocol.NewErrorResponse(id, protocol.NewInternalError(err.Error()))
}

func decodeParams(req *protocol.Request, v any) error {
	if len(req.Params) == 0 {
		return nil
	}
	if err := json.Unmarshal(req.Params, v); err != nil {
		return protocol.NewInvalidParams(err.Error())
	}
	return nil
}

func withProgress(ctx context.Context, params json.RawMessage) context.Context {
	token := ExtractProgressToken(params)
	if token == "" {
		return ctx
	}
	sender := protocol.NotificationSenderFromContext(ctx)
	if sender == nil {
		return ctx
	}
	return ContextWithProgress(ctx, NewProgressReporter(token, sender))
}
