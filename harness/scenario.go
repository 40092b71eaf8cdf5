package harness

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/felixgeelhaar/mcp-duplex/client"
	"github.com/felixgeelhaar/mcp-duplex/protocol"
)

// Step is one named check against a connected client.
type Step struct {
	Name string
	Run  func(ctx context.Context, c client.Capabilities) error
}

// StepResult records how a step went.
type StepResult struct {
	Name     string
	Err      error
	Duration time.Duration
}

// Passed reports whether the step succeeded.
func (s StepResult) Passed() bool { return s.Err == nil }

// Scenario is the standard step list run against every binding. It expects
// the demo capability set.
func Scenario() []Step {
	return []Step{
		{Name: "list tools", Run: listTools},
		{Name: "call add", Run: expectTool("add", map[string]any{"a": 5, "b": 7}, "12")},
		{Name: "call calculate", Run: expectTool("calculate", map[string]any{"expression": "sqrt(16)+2*3"}, "10")},
		{Name: "call echo", Run: expectTool("echo", map[string]any{"message": "hello duplex"}, "Echo: hello duplex")},
		{Name: "list resources", Run: listResources},
		{Name: "read config", Run: readConfig},
		{Name: "list prompts", Run: listPrompts},
		{Name: "get prompt", Run: getPrompt},
		{Name: "get prompt without code", Run: promptMissingArgument},
		{Name: "call unknown tool", Run: unknownTool},
	}
}

// RunSteps runs every step in order. A failing step does not stop the
// following ones.
func RunSteps(ctx context.Context, c client.Capabilities, steps []Step) []StepResult {
	results := make([]StepResult, 0, len(steps))
	for _, step := range steps {
		start := time.Now()
		err := step.Run(ctx, c)
		results = append(results, StepResult{Name: step.Name, Err: err, Duration: time.Since(start)})
	}
	return results
}

func listTools(ctx context.Context, c client.Capabilities) error {
	tools, err := c.ListTools(ctx)
	if err != nil {
		return err
	}
	if !slices.ContainsFunc(tools, func(t protocol.ToolDescriptor) bool { return t.Name == "add" }) {
		return fmt.Errorf("tool %q not listed among %d tools", "add", len(tools))
	}
	return nil
}

func expectTool(name string, args map[string]any, want string) func(context.Context, client.Capabilities) error {
	return func(ctx context.Context, c client.Capabilities) error {
		result, err := c.CallTool(ctx, name, args)
		if err != nil {
			return err
		}
		text := result.Text()
		if result.IsError {
			return fmt.Errorf("tool %s failed: %s", name, text)
		}
		if !strings.Contains(text, want) {
			return fmt.Errorf("tool %s answered %q, want it to contain %q", name, text, want)
		}
		return nil
	}
}

func listResources(ctx context.Context, c client.Capabilities) error {
	resources, err := c.ListResources(ctx)
	if err != nil {
		return err
	}
	if len(resources) == 0 {
		return errors.New("no resources listed")
	}
	return nil
}

func readConfig(ctx context.Context, c client.Capabilities) error {
	contents, err := c.ReadResource(ctx, "config://settings")
	if err != nil {
		return err
	}
	if !strings.Contains(contents.Text, `"version"`) {
		return fmt.Errorf("config://settings has no version: %s", contents.Text)
	}
	return nil
}

func listPrompts(ctx context.Context, c client.Capabilities) error {
	prompts, err := c.ListPrompts(ctx)
	if err != nil {
		return err
	}
	if len(prompts) == 0 {
		return errors.New("no prompts listed")
	}
	return nil
}

func getPrompt(ctx context.Context, c client.Capabilities) error {
	code := "def add(a, b):\n    return a + b"
	result, err := c.GetPrompt(ctx, "code_review", map[string]string{"code": code})
	if err != nil {
		return err
	}
	if !strings.Contains(result.Text(), code) {
		return errors.New("rendered prompt does not contain the code")
	}
	return nil
}

func promptMissingArgument(ctx context.Context, c client.Capabilities) error {
	_, err := c.GetPrompt(ctx, "code_review", map[string]string{"language": "go"})
	if !errors.Is(err, protocol.ErrMissingArgument) {
		return fmt.Errorf("want missing argument error, got %v", err)
	}
	return nil
}

func unknownTool(ctx context.Context, c client.Capabilities) error {
	_, err := c.CallTool(ctx, "no_such_tool", map[string]any{})
	if !errors.Is(err, protocol.ErrUnknownTool) {
		return fmt.Errorf("want unknown tool error, got %v", err)
	}
	return nil
}

// ListenStep listens on the push channel for d and expects a connected
// event.
func ListenStep(es *client.EventStreamClient, d time.Duration) Step {
	return Step{
		Name: "listen push channel",
		Run: func(ctx context.Context, _ client.Capabilities) error {
			var connected bool
			err := es.Listen(ctx, d, func(ev protocol.Event) error {
				if ev.Type == protocol.EventConnected {
					connected = true
				}
				return nil
			})
			if err != nil {
				return err
			}
			if !connected {
				return errors.New("no connected event received")
			}
			return nil
		},
	}
}
