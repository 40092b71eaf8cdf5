// Package demo is the example capability set served by mcp-duplex: a few
// tools including a safe calculator, two resources and two prompts.
package demo

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/felixgeelhaar/mcp-duplex/protocol"
	"github.com/felixgeelhaar/mcp-duplex/server"
)

// Server identity announced in the handshake.
const (
	Name    = "mcp-duplex-demo"
	Version = "1.0.0"
)

// DefaultLanguage is assumed by the prompts when no language is given.
const DefaultLanguage = "python"

// Info is the server identity for server.NewDispatcher.
func Info() server.Info {
	return server.Info{Name: Name, Version: Version}
}

// NewRegistry returns a registry holding the whole demo capability set.
func NewRegistry() (*server.Registry, error) {
	reg := server.NewRegistry()
	if err := Register(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

// Register adds the demo tools, resources and prompts to reg.
func Register(reg *server.Registry) error {
	for _, register := range []func(*server.Registry) error{
		registerTools,
		registerResources,
		registerPrompts,
	} {
		if err := register(reg); err != nil {
			return err
		}
	}
	return nil
}

type greetInput struct {
	Name string `json:"name" jsonschema:"required,description=Name of the person to greet"`
}

type pairInput struct {
	A float64 `json:"a" jsonschema:"required,description=First number"`
	B float64 `json:"b" jsonschema:"required,description=Second number"`
}

type calculateInput struct {
	Expression string `json:"expression" jsonschema:"required,description=Arithmetic expression such as sqrt(16)+2*3"`
}

type echoInput struct {
	Message string `json:"message" jsonschema:"required,description=Message to return"`
}

// SystemInfo is the payload of get_system_info.
type SystemInfo struct {
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	GoVersion string `json:"go_version"`
	CPUs      int    `json:"cpus"`
	Hostname  string `json:"hostname"`
}

func registerTools(reg *server.Registry) error {
	builders := []*server.ToolBuilder{
		reg.Tool("greet").
			Description("Greet a user by name").
			Handler(func(in greetInput) (string, error) {
				return fmt.Sprintf("Hello, %s! Welcome to the MCP server.", in.Name), nil
			}),
		reg.Tool("add").
			Description("Add two numbers").
			Handler(func(in pairInput) (string, error) {
				return fmt.Sprintf("The sum of %s and %s is %s.",
					FormatNumber(in.A), FormatNumber(in.B), FormatNumber(in.A+in.B)), nil
			}),
		reg.Tool("multiply").
			Description("Multiply two numbers").
			Handler(func(in pairInput) (string, error) {
				return fmt.Sprintf("The product of %s and %s is %s.",
					FormatNumber(in.A), FormatNumber(in.B), FormatNumber(in.A*in.B)), nil
			}),
		reg.Tool("calculate").
			Description("Evaluate an arithmetic expression safely").
			Handler(func(in calculateInput) (string, error) {
				v, err := Evaluate(in.Expression)
				if err != nil {
					return "", fmt.Errorf("calculation error: %w", err)
				}
				return "Calculation result: " + FormatNumber(v), nil
			}),
		reg.Tool("echo").
			Description("Return the message unchanged").
			Handler(func(in echoInput) (string, error) {
				return "Echo: " + in.Message, nil
			}),
		reg.Tool("get_system_info").
			Description("Describe the host running the server").
			Handler(func(struct{}) (SystemInfo, error) {
				return systemInfo(), nil
			}),
	}
	for _, b := range builders {
		if err := b.Err(); err != nil {
			return err
		}
	}
	return nil
}

func systemInfo() SystemInfo {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return SystemInfo{
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		GoVersion: runtime.Version(),
		CPUs:      runtime.NumCPU(),
		Hostname:  host,
	}
}

// Settings is the content of config://settings.
type Settings struct {
	ServerName     string   `json:"server_name"`
	Version        string   `json:"version"`
	Features       []string `json:"features"`
	MaxConnections int      `json:"max_connections"`
	DebugMode      bool     `json:"debug_mode"`
}

// DefaultSettings is served by config://settings.
func DefaultSettings() Settings {
	return Settings{
		ServerName:     Name,
		Version:        Version,
		Features:       []string{"tools", "resources", "prompts"},
		MaxConnections: 100,
		DebugMode:      true,
	}
}

const readme = `# mcp-duplex demo server

## Tools
- greet: greet a user
- add: add two numbers
- multiply: multiply two numbers
- calculate: evaluate an arithmetic expression
- echo: return a message
- get_system_info: describe the host

## Resources
- config://settings: server configuration
- file://readme: this file

## Prompts
- code_review: review a piece of code
- explain_code: explain a piece of code
`

func registerResources(reg *server.Registry) error {
	if err := reg.Resource("config://settings").
		Name("Server settings").
		Description("Effective server configuration").
		MimeType("application/json").
		Handler(func(_ context.Context, uri string, _ map[string]string) (*protocol.ResourceContents, error) {
			data, err := json.MarshalIndent(DefaultSettings(), "", "  ")
			if err != nil {
				return nil, err
			}
			return &protocol.ResourceContents{URI: uri, Text: string(data)}, nil
		}).Err(); err != nil {
		return err
	}

	return reg.Resource("file://readme").
		Name("README").
		Description("What this server offers").
		MimeType("text/markdown").
		Text(readme).
		Err()
}

func registerPrompts(reg *server.Registry) error {
	if err := reg.Prompt("code_review").
		Description("Ask for a review of a piece of code").
		Argument("code", "Code to review", true).
		Argument("language", "Programming language (default python)", false).
		Handler(func(_ context.Context, args map[string]string) (*protocol.GetPromptResult, error) {
			lang := language(args)
			var b strings.Builder
			fmt.Fprintf(&b, "Please review the following %s code:\n\n", lang)
			writeFenced(&b, lang, args["code"])
			b.WriteString("\nPlease check the following items:\n")
			b.WriteString("1. Code style and readability\n")
			b.WriteString("2. Potential bugs or errors\n")
			b.WriteString("3. Performance optimization possibilities\n")
			b.WriteString("4. Security vulnerabilities\n")
			b.WriteString("5. Improvement suggestions\n")
			return server.UserMessage("Code review prompt", b.String()), nil
		}).Err(); err != nil {
		return err
	}

	return reg.Prompt("explain_code").
		Description("Ask for an explanation of a piece of code").
		Argument("code", "Code to explain", true).
		Argument("language", "Programming language (default python)", false).
		Handler(func(_ context.Context, args map[string]string) (*protocol.GetPromptResult, error) {
			lang := language(args)
			var b strings.Builder
			fmt.Fprintf(&b, "Please explain in detail what the following %s code does:\n\n", lang)
			writeFenced(&b, lang, args["code"])
			b.WriteString("\nPlease include the overall purpose, the role of each part, the algorithms used, ")
			b.WriteString("the inputs and outputs, and an example usage.\n")
			return server.UserMessage("Code explanation prompt", b.String()), nil
		}).Err()
}

func language(args map[string]string) string {
	if lang := args["language"]; lang != "" {
		return lang
	}
	return DefaultLanguage
}

func writeFenced(b *strings.Builder, lang, code string) {
	fmt.Fprintf(b, "```%s\n%s\n```\n", lang, code)
}
