//go:build mtstate_synccond

package platform

import (
	"context"
	"sync"
	"time"
)

// Cond is a condition variable on top of sync.Cond whose waits can be
// bounded by a deadline or a context. Timers and context callbacks wake
// every waiter, so wakeups may be spurious.
type Cond struct {
	L sync.Locker
	c *sync.Cond
}

// NewCond returns a Cond using l.
func NewCond(l sync.Locker) *Cond {
	return &Cond{L: l, c: sync.NewCond(l)}
}

// Broadcast wakes all waiters. The caller must hold c.L.
func (c *Cond) Broadcast() {
	c.c.Broadcast()
}

// Wait blocks until Broadcast. The caller must hold c.L.
func (c *Cond) Wait() {
	c.c.Wait()
}

// WaitContext releases c.L and blocks until Broadcast, the deadline or ctx
// is done. It returns nil on wakeup, ErrTimeout when the deadline passed and
// ctx.Err() on cancellation. c.L is held again on return.
// A zero deadline waits without a bound.
func (c *Cond) WaitContext(ctx context.Context, deadline time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	expired := false
	if !deadline.IsZero() {
		d := time.Until(deadline)
		if d <= 0 {
			return ErrTimeout
		}
		t := time.AfterFunc(d, func() {
			c.L.Lock()
			expired = true
			c.c.Broadcast()
			c.L.Unlock()
		})
		defer t.Stop()
	}

	stop := context.AfterFunc(ctx, func() {
		c.L.Lock()
		c.c.Broadcast()
		c.L.Unlock()
	})
	defer stop()

	c.c.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	if expired {
		return ErrTimeout
	}
	return nil
}
