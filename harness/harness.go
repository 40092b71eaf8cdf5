package harness

import (
	"context"
	"errors"
	"fmt"
)

// WithProcess starts p, waits for probe and runs fn. The process is stopped
// on every exit path, including a failing probe, an error from fn and a
// panic in fn.
func WithProcess(ctx context.Context, p *Process, probe Probe, fn func(ctx context.Context, p *Process) error) (err error) {
	if err := p.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if stopErr := p.Stop(); stopErr != nil {
			err = errors.Join(err, stopErr)
		}
	}()

	if probe != nil {
		if err := probe.Wait(ctx, p); err != nil {
			return fmt.Errorf("wait for server: %w", err)
		}
	}
	return fn(ctx, p)
}
