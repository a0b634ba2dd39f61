// Package lifecycle converts external stop signals and internal fatal errors into a single
// cancellation event observed by every pump in a session, per the C6 controller contract.
package lifecycle

import (
	"context"
	"os"
	"os/signal"
	"sync"
)

// Controller is a one-shot stop latch shared by every task in a session. Stop is idempotent
// and safe to call from any goroutine, including multiple times concurrently.
type Controller struct {
	once   sync.Once
	stopCh chan struct{}

	mu       sync.Mutex
	lastErr  error
}

// New returns a Controller in the running state.
func New() *Controller {
	return &Controller{stopCh: make(chan struct{})}
}

// Stop requests shutdown. cause may be nil for a clean operator-initiated stop; only the first
// Stop call's cause (nil included) is retained and returned by Err, later calls are no-ops.
func (c *Controller) Stop(cause error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.lastErr = cause
		c.mu.Unlock()
		close(c.stopCh)
	})
}

// Stopped returns a channel closed once Stop has been called.
func (c *Controller) Stopped() <-chan struct{} {
	return c.stopCh
}

// Err returns the cause passed to the first Stop call, or nil for a clean stop or if Stop has
// not been called yet.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Context returns a context canceled when Stop is called, derived from parent.
func (c *Controller) Context(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-c.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx
}

// NotifyOSSignals arranges for any signal in Signals() to call Stop, and returns a function
// the caller must invoke to release the underlying signal.Notify registration.
func (c *Controller) NotifyOSSignals() (stop func()) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, Signals()...)
	done := make(chan struct{})
	go func() {
		select {
		case <-sigCh:
			c.Stop(nil)
		case <-done:
		}
	}()
	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}
