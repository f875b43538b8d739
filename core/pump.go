package core

import (
	"time"

	"github.com/pkg/errors"
)

// Submit queues m for its chip. It never blocks on the bus; argument errors
// are reported through the message status. A completed message may be
// submitted again, one still queued or running is refused with ErrBusy.
func (c *Controller) Submit(m *Message) error {
	if m == nil || m.Chip == nil {
		return errors.Wrap(ErrInvalidArgument, "message without chip")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if m.Chip.ctrl != c || m.Chip.removed {
		return errors.Wrap(ErrInvalidArgument, "chip not attached to this controller")
	}
	if m.owner != nil {
		return errors.Wrap(ErrBusy, "message already submitted")
	}
	m.owner = c
	m.rearm()
	m.Status = StatusPending
	m.Err = nil
	m.Actual = 0
	c.queue = append(c.queue, m)
	if !c.suspended {
		c.kick()
	}
	return nil
}

// kick wakes the drain goroutine. Called with mu held.
func (c *Controller) kick() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Controller) pump() {
	defer c.wg.Done()
	for {
		select {
		case <-c.wake:
			c.drain()
		case <-c.quit:
			return
		}
	}
}

// drain runs queued messages until the queue empties or the controller is
// suspended or closed. Suspension is only observed between messages.
func (c *Controller) drain() {
	if c.res.Power != nil {
		c.res.Power.Busy()
		defer c.res.Power.Idle()
	}

	c.mu.Lock()
	for len(c.queue) > 0 && !c.suspended && !c.closed {
		m := c.queue[0]
		c.queue[0] = nil
		c.queue = c.queue[1:]
		c.cur = m
		m.Status = StatusInProgress
		st := m.Chip.chipState
		st.csHigh = c.csHigh
		c.sig.Store(uint32(st.sig))
		c.maskSR.Store(uint32(st.maskSR))
		c.mu.Unlock()

		err := c.handle(m, &st)
		if err != nil {
			c.log.debug(ComponentPump, "message failed", "cs", st.cs, "error", err)
		}

		// Complete may submit m again.
		c.mu.Lock()
		m.owner = nil
		c.mu.Unlock()
		m.finish(err)

		c.mu.Lock()
		c.cur = nil
	}
	c.mu.Unlock()
}

// handle runs the transfers of m in order. Chip select is asserted before
// the first transfer and after every CSChange, and released after the last
// transfer, after every CSChange and on failure.
func (c *Controller) handle(m *Message, st *chipState) error {
	defer c.deassert(st)
	for i, t := range m.Transfers {
		if t == nil {
			return errors.Wrapf(ErrInvalidArgument, "transfer %d is nil", i)
		}
		if err := c.runTransfer(m, st, t); err != nil {
			return errors.WithMessagef(err, "transfer %d", i)
		}
		if i == len(m.Transfers)-1 || t.CSChange {
			c.deassert(st)
		}
	}
	return nil
}

func (c *Controller) assert(st *chipState) {
	if st.csCtl == nil || c.csActive {
		return
	}
	st.csCtl(st.csHigh)
	c.csActive = true
}

func (c *Controller) deassert(st *chipState) {
	if st.csCtl == nil || !c.csActive {
		return
	}
	st.csCtl(!st.csHigh)
	c.csActive = false
}

// Suspend stops the drain goroutine at the next message boundary. It waits
// for an in-flight message within the suspend budget and gives up with
// ErrBusy, leaving the controller running.
func (c *Controller) Suspend() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.suspended = true
	for tries := 0; c.cur != nil; tries++ {
		if tries >= c.suspendTries {
			c.suspended = false
			return errors.Wrap(ErrBusy, "message still in flight")
		}
		c.mu.Unlock()
		time.Sleep(c.suspendPoll)
		c.mu.Lock()
	}
	c.log.debug(ComponentPump, "suspended", "queued", len(c.queue))
	return nil
}

// Resume restarts draining after Suspend.
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.suspended = false
	if len(c.queue) > 0 {
		c.kick()
	}
	c.log.debug(ComponentPump, "resumed", "queued", len(c.queue))
}

// Pending returns the number of queued messages, not counting the current
// one.
func (c *Controller) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}
