package main

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// cliHelperEnv makes the test binary behave as mcp-duplex itself, so the
// test command can launch it as the server under test.
const cliHelperEnv = "MCP_DUPLEX_CLI_HELPER"

func TestMain(m *testing.M) {
	if os.Getenv(cliHelperEnv) == "1" {
		root := newRootCmd()
		root.SetArgs(os.Args[1:])
		if err := root.Execute(); err != nil {
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	root := newRootCmd()
	assert.Equal(t, "mcp-duplex", root.Use)

	for _, path := range [][]string{
		{"serve", "stdio"},
		{"serve", "sse"},
		{"serve", "ws"},
		{"test"},
		{"config", "show"},
	} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}

	for _, flag := range []string{"config", "log-level", "log-format", "telemetry"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), flag)
	}
}

func TestHelp(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "mcp-duplex test --stdio-only")
	assert.Contains(t, out, "MCP_DUPLEX_")

	out, err = execute(t, "test", "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "--stdio-only")
	assert.Contains(t, out, "--sse-only")
}

func TestConfigShow(t *testing.T) {
	file := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte("stream:\n  framing: length\n"), 0o600))
	t.Setenv("MCP_DUPLEX_WEBSOCKET_ADDR", "127.0.0.1:9999")

	out, err := execute(t, "--config", file, "--log-format", "json", "config", "show")
	require.NoError(t, err)

	var doc map[string]map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "length", doc["stream"]["framing"])
	assert.Equal(t, "127.0.0.1:9999", doc["websocket"]["addr"])
	assert.Equal(t, "json", doc["log"]["format"])
}

func TestInvalidConfig(t *testing.T) {
	_, err := execute(t, "--log-format", "xml", "config", "show")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log.format")
}

func TestTestCommand_ExclusiveFlags(t *testing.T) {
	_, err := execute(t, "test", "--stdio-only", "--sse-only")
	require.Error(t, err)
}

func TestTestCommand(t *testing.T) {
	if testing.Short() {
		t.Skip("starts server subprocesses")
	}
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	t.Setenv(cliHelperEnv, "1")
	t.Setenv("MCP_DUPLEX_HARNESS_SERVER_COMMAND", os.Args[0]+",serve")
	t.Setenv("MCP_DUPLEX_HARNESS_SSE_ADDR", addr)
	t.Setenv("MCP_DUPLEX_HARNESS_LISTEN_DURATION", "1s")

	out, err := execute(t, "test")
	require.NoError(t, err, out)
	assert.Contains(t, out, "PASS stdio (10/10 steps)")
	assert.Contains(t, out, "PASS sse (11/11 steps)")
	assert.Contains(t, out, "2/2 bindings passed")

	out, err = execute(t, "test", "--stdio-only", "--log-level", "error")
	require.NoError(t, err, out)
	assert.Contains(t, out, "1/1 bindings passed")
	assert.NotContains(t, out, "PASS sse")
}

func TestTestCommand_ServerFails(t *testing.T) {
	t.Setenv(cliHelperEnv, "1")
	// serve with an unknown binding exits at once
	t.Setenv("MCP_DUPLEX_HARNESS_SERVER_COMMAND", os.Args[0]+",serve,bogus")

	out, err := execute(t, "test", "--stdio-only")
	require.ErrorIs(t, err, errScenariosFailed)
	assert.Contains(t, out, "FAIL stdio (0/0 steps)")
	assert.Contains(t, out, "0/1 bindings passed")
}
