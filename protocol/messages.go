package protocol

import (
	"encoding/json"
	"errors"
)

// JSONRPCVersion is the JSON-RPC protocol version.
const JSONRPCVersion = "2.0"

// Request represents a JSON-RPC 2.0 request. Method carries the request kind
// and Params its payload.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification returns true if this request has no ID (is a notification).
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0
}

// NewRequest builds a request with the given id, marshalling params.
func NewRequest(id int64, method string, params any) (*Request, error) {
	idRaw, err := json.Marshal(id)
	if err != nil {
		return nil, err
	}
	req := &Request{JSONRPC: JSONRPCVersion, ID: idRaw, Method: method}
	if params != nil {
		req.Params, err = json.Marshal(params)
		if err != nil {
			return nil, err
		}
	}
	return req, nil
}

// Response represents a JSON-RPC 2.0 response. Exactly one of Result and
// Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// NewResponse creates a successful response. A nil result is replaced by an
// empty object so the response is never empty.
func NewResponse(id json.RawMessage, result any) *Response {
	if result == nil {
		result = struct{}{}
	}
	return &Response{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Result:  result,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(id json.RawMessage, err *Error) *Response {
	return &Response{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error:   err,
	}
}

// ErrMalformedResponse is returned by Validate for a response carrying both
// or neither of result and error.
var ErrMalformedResponse = errors.New("response must carry exactly one of result or error")

// Validate checks the result/error exclusivity of a decoded response.
func (r *Response) Validate() error {
	hasResult := r.Result != nil
	hasError := r.Error != nil
	if hasResult == hasError {
		return ErrMalformedResponse
	}
	return nil
}

// DecodeResult decodes the response result into v.
func (r *Response) DecodeResult(v any) error {
	if r.Error != nil {
		return r.Error
	}
	if raw, ok := r.Result.(json.RawMessage); ok {
		return json.Unmarshal(raw, v)
	}
	data, err := json.Marshal(r.Result)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// Notification represents a JSON-RPC notification (no ID, no response expected).
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// NewNotification marshals params into a notification.
func NewNotification(method string, params any) (*Notification, error) {
	n := &Notification{JSONRPC: JSONRPCVersion, Method: method}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		n.Params = data
	}
	return n, nil
}
