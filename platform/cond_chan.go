//go:build !mtstate_synccond

package platform

import (
	"context"
	"sync"
	"time"
)

// Cond is a broadcast-only condition variable bound to a locker.
// Every waiter of a generation observes the close of the same channel.
type Cond struct {
	L  sync.Locker
	ch chan struct{}
}

// NewCond returns a Cond using l.
func NewCond(l sync.Locker) *Cond {
	return &Cond{L: l, ch: make(chan struct{})}
}

// Broadcast wakes all waiters. The caller must hold c.L.
func (c *Cond) Broadcast() {
	close(c.ch)
	c.ch = make(chan struct{})
}

// Wait blocks until Broadcast. The caller must hold c.L.
func (c *Cond) Wait() {
	_ = c.WaitContext(context.Background(), time.Time{})
}

// WaitContext releases c.L and blocks until Broadcast, the deadline or ctx
// is done. It returns nil on wakeup, ErrTimeout when the deadline passed and
// ctx.Err() on cancellation. c.L is held again on return.
// A zero deadline waits without a bound.
func (c *Cond) WaitContext(ctx context.Context, deadline time.Time) error {
	ch := c.ch
	c.L.Unlock()
	defer c.L.Lock()

	var expired <-chan time.Time
	if !deadline.IsZero() {
		d := time.Until(deadline)
		if d <= 0 {
			return ErrTimeout
		}
		t := time.NewTimer(d)
		defer t.Stop()
		expired = t.C
	}

	select {
	case <-ch:
		return nil
	case <-expired:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
