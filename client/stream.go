package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/felixgeelhaar/mcp-duplex/protocol"
	"github.com/felixgeelhaar/mcp-duplex/transport"
)

// ErrTransportClosed is returned by Send after the connection ended.
var ErrTransportClosed = errors.New("transport closed")

// FrameTransport correlates requests and responses by id over a
// transport.FrameConn. Server notifications are passed to the notification
// handler, if any.
type FrameTransport struct {
	conn     transport.FrameConn
	onNotify func(method string, params json.RawMessage)

	mu      sync.Mutex
	pending map[string]chan *protocol.Response
	closed  bool
	err     error
	done    chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// FrameOption configures a FrameTransport.
type FrameOption func(*FrameTransport)

// WithNotificationHandler receives server notifications such as progress
// updates. fn runs on the read goroutine and must not block.
func WithNotificationHandler(fn func(method string, params json.RawMessage)) FrameOption {
	return func(t *FrameTransport) {
		t.onNotify = fn
	}
}

// NewFrameTransport starts reading responses from conn.
func NewFrameTransport(conn transport.FrameConn, opts ...FrameOption) *FrameTransport {
	t := &FrameTransport{
		conn:    conn,
		pending: make(map[string]chan *protocol.Response),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	go t.readLoop()
	return t
}

// NewStreamTransport speaks the stream protocol over a reader/writer pair,
// typically a server subprocess's stdout and stdin. Closing the transport
// closes w when it is an io.Closer.
func NewStreamTransport(r io.Reader, w io.Writer, framing transport.Framing, opts ...FrameOption) *FrameTransport {
	return NewFrameTransport(transport.NewStreamConn(r, w, framing), opts...)
}

// Send writes req and waits for the response carrying the same id.
func (t *FrameTransport) Send(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	key := string(req.ID)
	ch := make(chan *protocol.Response, 1)

	t.mu.Lock()
	if t.closed {
		err := t.closedErr()
		t.mu.Unlock()
		return nil, err
	}
	t.pending[key] = ch
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pending, key)
		t.mu.Unlock()
	}()

	if err := t.write(req); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case resp := <-ch:
		return resp, nil
	case <-t.done:
		// A response may have raced the end of the stream.
		select {
		case resp := <-ch:
			return resp, nil
		default:
		}
		t.mu.Lock()
		defer t.mu.Unlock()
		return nil, t.closedErr()
	}
}

// Notify writes req without waiting for anything back.
func (t *FrameTransport) Notify(_ context.Context, req *protocol.Request) error {
	return t.write(req)
}

// Close closes the connection and fails pending requests.
func (t *FrameTransport) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}

// Done is closed when the read side of the connection ended.
func (t *FrameTransport) Done() <-chan struct{} {
	return t.done
}

func (t *FrameTransport) write(req *protocol.Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	if err := t.conn.WriteFrame(data); err != nil {
		return fmt.Errorf("write request: %w", err)
	}
	return nil
}

// closedErr must be called with mu held.
func (t *FrameTransport) closedErr() error {
	if t.err != nil {
		return t.err
	}
	return ErrTransportClosed
}

type inboundFrame struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  *protocol.Error `json:"error"`
}

func (t *FrameTransport) readLoop() {
	defer close(t.done)
	for {
		frame, err := t.conn.ReadFrame()
		if err != nil {
			t.mu.Lock()
			t.closed = true
			if !errors.Is(err, io.EOF) && t.err == nil {
				t.err = fmt.Errorf("%w: %v", ErrTransportClosed, err)
			}
			t.mu.Unlock()
			return
		}

		var in inboundFrame
		if err := json.Unmarshal(frame, &in); err != nil {
			continue
		}

		if in.Method != "" {
			if t.onNotify != nil {
				t.onNotify(in.Method, in.Params)
			}
			continue
		}

		resp := &protocol.Response{JSONRPC: protocol.JSONRPCVersion, ID: in.ID, Error: in.Error}
		if len(in.Result) > 0 {
			resp.Result = in.Result
		}

		// A response without an id reports a connection-level failure, such
		// as an unparseable frame; it is delivered when the stream ends.
		if len(in.ID) == 0 || string(in.ID) == "null" {
			if in.Error != nil {
				t.mu.Lock()
				t.err = in.Error
				t.mu.Unlock()
			}
			continue
		}

		t.mu.Lock()
		ch, ok := t.pending[string(in.ID)]
		t.mu.Unlock()
		if ok {
			// a duplicate id must not stall the loop
			select {
			case ch <- resp:
			default:
			}
		}
	}
}
