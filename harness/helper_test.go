package harness

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"testing"
	"time"

	"github.com/felixgeelhaar/mcp-duplex/server"
	"github.com/felixgeelhaar/mcp-duplex/servers/demo"
	"github.com/felixgeelhaar/mcp-duplex/transport"
)

// The test binary doubles as the server under test: with helperEnv set it
// runs the requested mode instead of the tests.
const (
	helperEnv     = "MCP_DUPLEX_HARNESS_HELPER"
	helperAddrEnv = "MCP_DUPLEX_HARNESS_ADDR"
)

func TestMain(m *testing.M) {
	if mode := os.Getenv(helperEnv); mode != "" {
		os.Exit(runHelper(mode))
	}
	os.Exit(m.Run())
}

func helperCommand() []string {
	return []string{os.Args[0], "-test.run=^$"}
}

func helperEnvFor(mode string, extra ...string) ProcessOption {
	return WithEnv(append([]string{helperEnv + "=" + mode}, extra...)...)
}

func runHelper(mode string) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	defer stop()

	switch mode {
	case "sleep":
		fmt.Println("sleeping")
		<-ctx.Done()
		return 0
	case "stubborn":
		signal.Ignore(syscall.SIGTERM)
		time.Sleep(time.Minute)
		return 0
	case "crash":
		fmt.Println("starting")
		fmt.Fprintln(os.Stderr, "boom: port already in use")
		return 3
	case "stdio", "sse":
		reg, err := demo.NewRegistry()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		dispatcher := server.NewDispatcher(reg, demo.Info())
		var t transport.Transport
		if mode == "stdio" {
			t = transport.NewStdio()
		} else {
			t = transport.NewEventStream(os.Getenv(helperAddrEnv), transport.WithHeartbeatInterval(time.Second))
		}
		if err := t.Serve(ctx, dispatcher); err != nil && ctx.Err() == nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		return 0
	default:
		fmt.Fprintln(os.Stderr, "unknown helper mode", mode)
		return 2
	}
}
