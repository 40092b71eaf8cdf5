package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// ShutdownConfig configures draining of the command channel.
type ShutdownConfig struct {
	// Timeout bounds the wait for in-flight requests. Default 30s.
	Timeout time.Duration
	// DrainDelay is waited before new requests are refused, so a load
	// balancer can take the instance out of rotation first.
	DrainDelay time.Duration

	OnDrainStart       func()
	OnShutdownComplete func(err error)
}

// ShutdownManager tracks in-flight command requests and waits for them to
// finish when the binding stops.
type ShutdownManager struct {
	config ShutdownConfig

	draining atomic.Bool
	inFlight atomic.Int64
	idle     chan struct{}

	doneCh    chan struct{}
	closeOnce sync.Once
}

// NewShutdownManager returns a manager accepting requests.
func NewShutdownManager(config ShutdownConfig) *ShutdownManager {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &ShutdownManager{
		config: config,
		idle:   make(chan struct{}, 1),
		doneCh: make(chan struct{}),
	}
}

// IsDraining reports whether new requests are being refused.
func (sm *ShutdownManager) IsDraining() bool {
	return sm.draining.Load()
}

// InFlightRequests returns the number of tracked requests.
func (sm *ShutdownManager) InFlightRequests() int64 {
	return sm.inFlight.Load()
}

// TrackRequest admits a request. It returns false once draining has begun;
// the caller must then refuse the request and not call CompleteRequest.
func (sm *ShutdownManager) TrackRequest() bool {
	sm.inFlight.Add(1)
	if sm.draining.Load() {
		sm.CompleteRequest()
		return false
	}
	return true
}

// CompleteRequest releases a request admitted by TrackRequest.
func (sm *ShutdownManager) CompleteRequest() {
	if sm.inFlight.Add(-1) == 0 && sm.draining.Load() {
		select {
		case sm.idle <- struct{}{}:
		default:
		}
	}
}

// Shutdown stops admitting requests and waits for the in-flight ones, up to
// the configured timeout. It returns the context error if requests were
// still running when the wait ended.
func (sm *ShutdownManager) Shutdown(ctx context.Context) error {
	if sm.config.DrainDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sm.config.DrainDelay):
		}
	}

	sm.draining.Store(true)
	if sm.config.OnDrainStart != nil {
		sm.config.OnDrainStart()
	}

	waitCtx, cancel := context.WithTimeout(ctx, sm.config.Timeout)
	defer cancel()

	var err error
	for sm.inFlight.Load() > 0 {
		select {
		case <-waitCtx.Done():
			if sm.inFlight.Load() > 0 {
				err = waitCtx.Err()
			}
		case <-sm.idle:
			continue
		case <-time.After(50 * time.Millisecond):
			continue
		}
		break
	}

	sm.closeOnce.Do(func() { close(sm.doneCh) })
	if sm.config.OnShutdownComplete != nil {
		sm.config.OnShutdownComplete(err)
	}
	return err
}

// Done is closed when Shutdown has finished.
func (sm *ShutdownManager) Done() <-chan struct{} {
	return sm.doneCh
}
