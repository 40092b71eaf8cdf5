package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/felixgeelhaar/mcp-duplex/client"
	"github.com/felixgeelhaar/mcp-duplex/transport"
)

// DefaultListenDuration is how long the event-stream binding listens to the
// push channel.
const DefaultListenDuration = 3 * time.Second

// Binding describes how to launch a server and talk to it.
type Binding struct {
	Name    string
	Command []string
	Probe   Probe
	Options []ProcessOption
	// Connect returns a client for the ready process plus steps that only
	// this binding runs.
	Connect func(ctx context.Context, p *Process) (client.Capabilities, []Step, error)
}

// StdioBinding launches command with its stdin and stdout as the frame
// pipes. The server is probed by the handshake itself, so the probe only
// guards against an immediate exit.
func StdioBinding(command []string, framing transport.Framing) Binding {
	return Binding{
		Name:    "stdio",
		Command: command,
		Probe:   DelayProbe{Delay: 100 * time.Millisecond},
		Options: []ProcessOption{WithStdioPipes()},
		Connect: func(ctx context.Context, p *Process) (client.Capabilities, []Step, error) {
			r, w := p.Pipes()
			c := client.New(client.NewStreamTransport(r, w, framing))
			if _, err := c.Initialize(ctx); err != nil {
				_ = c.Close()
				return nil, nil, err
			}
			return c, nil, nil
		},
	}
}

// EventStreamBinding launches command and talks to it over HTTP at baseURL
// once GET /health answers.
func EventStreamBinding(command []string, baseURL string, readyTimeout, listen time.Duration) Binding {
	baseURL = strings.TrimRight(baseURL, "/")
	if listen <= 0 {
		listen = DefaultListenDuration
	}
	return Binding{
		Name:    "sse",
		Command: command,
		Probe:   HTTPProbe{URL: baseURL + "/health", Timeout: readyTimeout},
		Connect: func(_ context.Context, _ *Process) (client.Capabilities, []Step, error) {
			es := client.NewEventStreamClient(baseURL)
			return es, []Step{ListenStep(es, listen)}, nil
		},
	}
}

// Result is the outcome of one binding.
type Result struct {
	Binding string
	Steps   []StepResult
	// Err is set when the binding could not be exercised at all.
	Err error
}

// Passed counts passing steps.
func (r Result) Passed() int {
	n := 0
	for _, s := range r.Steps {
		if s.Passed() {
			n++
		}
	}
	return n
}

// OK reports whether the server started and every step passed.
func (r Result) OK() bool {
	return r.Err == nil && len(r.Steps) > 0 && r.Passed() == len(r.Steps)
}

// Summary collects the results of a run.
type Summary struct {
	Results []Result
}

// OK reports whether every binding passed.
func (s Summary) OK() bool {
	for _, r := range s.Results {
		if !r.OK() {
			return false
		}
	}
	return len(s.Results) > 0
}

// Write prints per-step lines, one PASS/FAIL line per binding and the
// overall count.
func (s Summary) Write(w io.Writer) error {
	var b strings.Builder
	passed := 0
	for _, r := range s.Results {
		for _, step := range r.Steps {
			if step.Passed() {
				fmt.Fprintf(&b, "  ok    %s (%s)\n", step.Name, step.Duration.Round(time.Millisecond))
			} else {
				fmt.Fprintf(&b, "  FAIL  %s: %v\n", step.Name, step.Err)
			}
		}
		if r.Err != nil {
			fmt.Fprintf(&b, "  error: %v\n", r.Err)
		}
		status := "FAIL"
		if r.OK() {
			status = "PASS"
			passed++
		}
		fmt.Fprintf(&b, "%s %s (%d/%d steps)\n", status, r.Binding, r.Passed(), len(r.Steps))
	}
	fmt.Fprintf(&b, "%d/%d bindings passed\n", passed, len(s.Results))
	_, err := io.WriteString(w, b.String())
	return err
}

// Runner exercises bindings one after the other.
type Runner struct {
	logger   *slog.Logger
	graceful time.Duration
	steps    []Step
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the logger for progress messages.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithStopTimeout sets the graceful timeout of every launched process.
func WithStopTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.graceful = d
	}
}

// WithSteps replaces the standard scenario.
func WithSteps(steps []Step) RunnerOption {
	return func(r *Runner) {
		r.steps = steps
	}
}

// NewRunner creates a Runner running Scenario by default.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		logger:   slog.New(slog.DiscardHandler),
		graceful: DefaultGracefulTimeout,
		steps:    Scenario(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run launches the binding's server, runs the steps and tears the server
// down.
func (r *Runner) Run(ctx context.Context, b Binding) Result {
	result := Result{Binding: b.Name}
	logger := r.logger.With(slog.String("binding", b.Name))
	logger.Info("starting server", slog.Any("command", b.Command))

	opts := append([]ProcessOption{
		WithGracefulTimeout(r.graceful),
		WithProcessLogger(logger),
	}, b.Options...)
	p := NewProcess(b.Command, opts...)

	result.Err = WithProcess(ctx, p, b.Probe, func(ctx context.Context, p *Process) error {
		c, extra, err := b.Connect(ctx, p)
		if err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		defer c.Close()

		steps := append(append([]Step(nil), r.steps...), extra...)
		result.Steps = RunSteps(ctx, c, steps)
		for _, s := range result.Steps {
			if !s.Passed() {
				logger.Warn("step failed", slog.String("step", s.Name), slog.String("error", s.Err.Error()))
			}
		}
		return nil
	})
	if result.Err != nil {
		logger.Error("binding failed", slog.String("error", result.Err.Error()))
	}
	return result
}

// RunAll runs every binding in order.
func (r *Runner) RunAll(ctx context.Context, bindings ...Binding) Summary {
	var s Summary
	for _, b := range bindings {
		s.Results = append(s.Results, r.Run(ctx, b))
	}
	return s
}
