// Package client provides clients for every binding of an MCP server.
//
// Client speaks JSON-RPC over a Transport. FrameTransport implements
// Transport on top of the stream framings, either over a reader/writer pair
// (NewStreamTransport, typically a subprocess's pipes) or over WebSocket
// (DialWebSocket):
//
//	tr := client.NewStreamTransport(stdout, stdin, transport.NewlineFraming{})
//	c := client.New(tr)
//	if _, err := c.Initialize(ctx); err != nil {
//		return err
//	}
//	result, err := c.CallTool(ctx, "add", map[string]any{"a": 5, "b": 7})
//
// EventStreamClient talks to the HTTP event-stream binding. It offers the
// same capability methods plus Listen for the push channel. Error envelopes
// are decoded into *protocol.Error, so errors.Is(err, protocol.ErrUnknownTool)
// works the same against either binding.
package client
