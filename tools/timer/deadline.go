// Package timer provides the one bounded-wait primitive shared by the transport
// negotiator and the diagnostic harness.
//
// A Deadline derives a context from its parent and cancels it when the bound
// elapses. Expire callbacks run from the timer goroutine and are meant to tear
// down whatever the wait was blocked on (closing a socket, aborting a request),
// so an expired wait does not depend on the waiter noticing ctx.Done().
package timer

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

type Deadline struct {
	ctx    context.Context
	cancel context.CancelFunc
	timer  *clock.Timer
	start  time.Time
	clk    clock.Clock

	mu       sync.Mutex
	expired  bool
	stopped  bool
	onExpire []func()
}

// Start bounds a wait of d under parent. A nil clk means the wall clock.
// d <= 0 means no own bound: the Deadline only follows the parent.
func Start(parent context.Context, d time.Duration, clk clock.Clock) *Deadline {
	if clk == nil {
		clk = clock.New()
	}
	ctx, cancel := context.WithCancel(parent)
	dl := &Deadline{ctx: ctx, cancel: cancel, clk: clk, start: clk.Now()}
	if d > 0 {
		dl.timer = clk.AfterFunc(d, dl.fire)
	}
	return dl
}

func (d *Deadline) fire() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.expired = true
	fns := d.onExpire
	d.onExpire = nil
	d.mu.Unlock()

	d.cancel()
	for _, fn := range fns {
		fn()
	}
}

func (d *Deadline) Context() context.Context { return d.ctx }

// Done is Context().Done().
func (d *Deadline) Done() <-chan struct{} { return d.ctx.Done() }

// OnExpire registers fn to run when the bound fires. If it already fired, fn runs now.
// Callbacks never run after Stop.
func (d *Deadline) OnExpire(fn func()) {
	d.mu.Lock()
	if d.expired {
		d.mu.Unlock()
		fn()
		return
	}
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.onExpire = append(d.onExpire, fn)
	d.mu.Unlock()
}

// Expired reports whether this Deadline's own bound fired, as opposed to the
// parent being cancelled or Stop being called.
func (d *Deadline) Expired() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.expired
}

// Elapsed is the time since Start on the Deadline's clock.
func (d *Deadline) Elapsed() time.Duration {
	return d.clk.Since(d.start)
}

// Stop releases the timer and cancels the derived context. Safe to call more than once.
func (d *Deadline) Stop() {
	d.mu.Lock()
	d.stopped = true
	d.onExpire = nil
	d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.cancel()
}

// Sleep waits for d or until ctx is done; it reports false when ctx ended first.
func Sleep(ctx context.Context, d time.Duration, clk clock.Clock) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	dl := Start(ctx, d, clk)
	defer dl.Stop()
	<-dl.Done()
	return dl.Expired()
}
