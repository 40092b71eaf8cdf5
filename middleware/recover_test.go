package middleware

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/felixgeelhaar/mcp-duplex/protocol"
)

func TestRecover(t *testing.T) {
	panicking := func(context.Context, *protocol.Request) (*protocol.Response, error) {
		panic("something broke")
	}

	t.Run("converts panic to internal error", func(t *testing.T) {
		logger, buf := captureLogger()
		resp, err := Recover(logger)(panicking)(context.Background(), testRequest("tools/call"))

		if resp != nil {
			t.Errorf("resp = %v, want nil", resp)
		}
		var perr *protocol.Error
		if !errors.As(err, &perr) || perr.Code != protocol.CodeInternalError {
			t.Fatalf("err = %v, want internal error", err)
		}
		if !strings.Contains(perr.Message, "something broke") {
			t.Errorf("message = %q", perr.Message)
		}
		if !strings.Contains(buf.String(), "handler panic") {
			t.Errorf("panic not logged: %s", buf.String())
		}
	})

	t.Run("passes through without panic", func(t *testing.T) {
		resp, err := Recover(nil)(okHandler)(context.Background(), testRequest("ping"))
		if err != nil || resp == nil {
			t.Errorf("got (%v, %v)", resp, err)
		}
	})

	t.Run("custom handler", func(t *testing.T) {
		var seen any
		h := RecoverWithHandler(func(_ context.Context, req *protocol.Request, v any) (*protocol.Response, error) {
			seen = v
			return protocol.NewResponse(req.ID, "recovered"), nil
		})(panicking)

		resp, err := h(context.Background(), testRequest("ping"))
		if err != nil || resp.Result != "recovered" || seen != "something broke" {
			t.Errorf("got (%v, %v), seen %v", resp, err, seen)
		}
	})
}
