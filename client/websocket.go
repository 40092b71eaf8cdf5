package client

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/felixgeelhaar/mcp-duplex/transport"
)

// DialWebSocket connects to a WebSocket stream binding. Each message carries
// one JSON-RPC frame.
func DialWebSocket(ctx context.Context, url string, opts ...FrameOption) (*FrameTransport, error) {
	return DialWebSocketWithHeader(ctx, url, nil, opts...)
}

// DialWebSocketWithHeader is DialWebSocket with extra handshake headers.
func DialWebSocketWithHeader(ctx context.Context, url string, header http.Header, opts ...FrameOption) (*FrameTransport, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return NewFrameTransport(transport.NewWebSocketConn(conn), opts...), nil
}
