package harness

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// DefaultReadyTimeout bounds HTTPProbe.
const DefaultReadyTimeout = 10 * time.Second

// Probe decides when a started server is ready to be exercised.
type Probe interface {
	Wait(ctx context.Context, p *Process) error
}

// DelayProbe waits a fixed delay and then checks the process is still
// running.
type DelayProbe struct {
	Delay time.Duration
}

func (d DelayProbe) Wait(ctx context.Context, p *Process) error {
	timer := time.NewTimer(d.Delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.Done():
		return p.exitError()
	case <-timer.C:
	}
	if !p.Running() {
		return p.exitError()
	}
	return nil
}

// HTTPProbe polls URL until it answers 200, the process exits or Timeout
// passes. A 200 only counts once the process is still running one Interval
// later: another server may own the address while the child fails to bind.
type HTTPProbe struct {
	URL      string
	Timeout  time.Duration
	Interval time.Duration
	Client   *http.Client
}

func (h HTTPProbe) Wait(ctx context.Context, p *Process) error {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = DefaultReadyTimeout
	}
	interval := h.Interval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	client := h.Client
	if client == nil {
		client = &http.Client{Timeout: time.Second}
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if h.ready(ctx, client) {
			return h.confirm(ctx, p, interval)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.Done():
			return p.exitError()
		case <-deadline.C:
			return fmt.Errorf("%w: %s did not answer within %s", ErrNotReady, h.URL, timeout)
		case <-ticker.C:
		}
	}
}

func (h HTTPProbe) confirm(ctx context.Context, p *Process, settle time.Duration) error {
	timer := time.NewTimer(settle)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.Done():
		return p.exitError()
	case <-timer.C:
	}
	if !p.Running() {
		return p.exitError()
	}
	return nil
}

func (h HTTPProbe) ready(ctx context.Context, client *http.Client) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
