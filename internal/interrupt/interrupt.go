// Package interrupt implements the two-stage Ctrl-C behavior: the first
// interrupt requests a cooperative stop honored at the next loop
// checkpoint, the second forces immediate exit. The signal handler only
// advances the controller's state; all real work happens on the loop's
// own goroutine via the cancellation context.
package interrupt

import (
	"context"
	"os"
	"os/signal"
	"sync"
)

// state of the controller. Armed means no interrupt has been seen yet.
type state int

const (
	armed state = iota
	triggered
)

// Controller tracks interrupt state and exposes a context cancelled on the
// first interrupt.
type Controller struct {
	mu    sync.Mutex
	state state

	ctx    context.Context
	cancel context.CancelFunc

	sigs      chan os.Signal
	done      chan struct{}
	closeOnce sync.Once
	// exit is overridable for tests; defaults to os.Exit.
	exit func(code int)
}

// New installs a handler for the given signals and returns the controller.
// The returned context is cancelled on the first signal.
func New(parent context.Context, signals ...os.Signal) *Controller {
	ctx, cancel := context.WithCancel(parent)
	c := &Controller{
		ctx:    ctx,
		cancel: cancel,
		sigs:   make(chan os.Signal, 2),
		done:   make(chan struct{}),
		exit:   os.Exit,
	}
	signal.Notify(c.sigs, signals...)
	go c.watch()
	return c
}

// Context returns the cancellation token loops must check at their
// boundaries.
func (c *Controller) Context() context.Context {
	return c.ctx
}

// Triggered reports whether a cooperative stop has been requested.
func (c *Controller) Triggered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == triggered
}

// Close stops listening for signals and lets the watch goroutine exit.
// Idempotent; the context stays usable.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		signal.Stop(c.sigs)
		close(c.sigs)
		c.cancel()
	})
}

func (c *Controller) watch() {
	defer close(c.done)
	for range c.sigs {
		c.mu.Lock()
		switch c.state {
		case armed:
			c.state = triggered
			c.mu.Unlock()
			c.cancel()
		case triggered:
			c.mu.Unlock()
			c.exit(130)
			return
		}
	}
}
