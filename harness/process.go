package harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultGracefulTimeout is how long Stop waits after asking the process to
// terminate before killing it.
const DefaultGracefulTimeout = 5 * time.Second

var (
	// ErrNotReady is returned when a probe gave up before the server was
	// ready.
	ErrNotReady = errors.New("server not ready")
	// ErrProcessExited is returned when the server exited while it was
	// expected to run.
	ErrProcessExited = errors.New("server process exited")
)

// ExitError reports a server that exited early, with everything it wrote.
type ExitError struct {
	Err    error
	Stdout string
	Stderr string
}

func (e *ExitError) Error() string {
	msg := ErrProcessExited.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Stderr != "" {
		msg += "\nstderr:\n" + e.Stderr
	}
	if e.Stdout != "" {
		msg += "\nstdout:\n" + e.Stdout
	}
	return msg
}

// Is matches ErrProcessExited.
func (e *ExitError) Is(target error) bool { return target == ErrProcessExited }

func (e *ExitError) Unwrap() error { return e.Err }

// Process is a server subprocess owned by the harness. Scenario code never
// touches the process directly; it only sees the frame pipes in stdio mode.
type Process struct {
	argv     []string
	env      []string
	stdio    bool
	graceful time.Duration
	logger   *slog.Logger

	cmd    *exec.Cmd
	stdout syncBuffer
	stderr syncBuffer

	// parent ends of the child's stdout and stdin in stdio mode
	frameOut *os.File
	frameIn  *os.File

	done    chan struct{}
	waitErr error
	killed  atomic.Bool
	stopMu  sync.Mutex
}

// ProcessOption configures a Process.
type ProcessOption func(*Process)

// WithStdioPipes hands the child's stdin and stdout to the caller as frame
// pipes instead of capturing stdout.
func WithStdioPipes() ProcessOption {
	return func(p *Process) {
		p.stdio = true
	}
}

// WithGracefulTimeout sets the wait between the terminate request and the
// kill.
func WithGracefulTimeout(d time.Duration) ProcessOption {
	return func(p *Process) {
		if d > 0 {
			p.graceful = d
		}
	}
}

// WithEnv adds KEY=value entries to the inherited environment.
func WithEnv(env ...string) ProcessOption {
	return func(p *Process) {
		p.env = append(p.env, env...)
	}
}

// WithProcessLogger sets the logger.
func WithProcessLogger(l *slog.Logger) ProcessOption {
	return func(p *Process) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewProcess prepares argv for Start.
func NewProcess(argv []string, opts ...ProcessOption) *Process {
	p := &Process{
		argv:     argv,
		graceful: DefaultGracefulTimeout,
		logger:   slog.New(slog.DiscardHandler),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the process. ctx only bounds the launch itself; the process
// lives until Stop.
func (p *Process) Start(ctx context.Context) error {
	if len(p.argv) == 0 {
		return errors.New("empty server command")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	cmd := exec.Command(p.argv[0], p.argv[1:]...)
	cmd.Env = append(os.Environ(), p.env...)
	cmd.Stderr = &p.stderr

	var childIn, childOut *os.File
	if p.stdio {
		var err error
		if childIn, p.frameIn, err = os.Pipe(); err != nil {
			return fmt.Errorf("stdin pipe: %w", err)
		}
		if p.frameOut, childOut, err = os.Pipe(); err != nil {
			_ = childIn.Close()
			_ = p.frameIn.Close()
			return fmt.Errorf("stdout pipe: %w", err)
		}
		cmd.Stdin = childIn
		cmd.Stdout = childOut
	} else {
		cmd.Stdout = &p.stdout
	}

	err := cmd.Start()
	if childIn != nil {
		_ = childIn.Close()
		_ = childOut.Close()
	}
	if err != nil {
		p.closePipes()
		return fmt.Errorf("start %s: %w", p.argv[0], err)
	}
	p.cmd = cmd
	p.logger.Info("server process started", slog.Int("pid", cmd.Process.Pid), slog.Any("argv", p.argv))

	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()
	return nil
}

// Pid returns the process id, or 0 before Start.
func (p *Process) Pid() int {
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Running reports whether the process was started and has not exited.
func (p *Process) Running() bool {
	if p.cmd == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Done is closed when the process has exited.
func (p *Process) Done() <-chan struct{} { return p.done }

// Killed reports whether Stop had to escalate to a kill.
func (p *Process) Killed() bool { return p.killed.Load() }

// Pipes returns the frame pipes in stdio mode: read the server's frames from
// r and write frames to w.
func (p *Process) Pipes() (r io.Reader, w io.WriteCloser) {
	return p.frameOut, p.frameIn
}

// Output returns what the process wrote to stdout and stderr so far. In
// stdio mode stdout carries frames and is not captured.
func (p *Process) Output() (stdout, stderr string) {
	return p.stdout.String(), p.stderr.String()
}

// exitError describes an early exit. The process must have exited.
func (p *Process) exitError() error {
	stdout, stderr := p.Output()
	return &ExitError{Err: p.waitErr, Stdout: stdout, Stderr: stderr}
}

// Stop asks the process to terminate, waits up to the graceful timeout and
// then kills it. It returns once the process is gone and is safe to call
// more than once.
func (p *Process) Stop() error {
	p.stopMu.Lock()
	defer p.stopMu.Unlock()

	if p.cmd == nil {
		return nil
	}
	defer p.closePipes()

	// EOF on stdin is a stop request for a stdio server.
	if p.frameIn != nil {
		_ = p.frameIn.Close()
	}
	if !p.Running() {
		return nil
	}

	if err := terminate(p.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.logger.Warn("terminate server process", slog.String("error", err.Error()))
	}

	select {
	case <-p.done:
		p.logger.Info("server process stopped", slog.Int("pid", p.Pid()))
		return nil
	case <-time.After(p.graceful):
	}

	p.logger.Warn("server process ignored terminate, killing", slog.Int("pid", p.Pid()), slog.Duration("graceful_timeout", p.graceful))
	p.killed.Store(true)
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill server process: %w", err)
	}
	<-p.done
	return nil
}

func (p *Process) closePipes() {
	if p.frameIn != nil {
		_ = p.frameIn.Close()
	}
	if p.frameOut != nil {
		_ = p.frameOut.Close()
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
