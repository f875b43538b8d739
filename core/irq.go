package core

import (
	"github.com/jkramarz/edison-spi/regs"
)

// HandleInterrupt services the SSP interrupt line and reports whether the
// interrupt was raised by this port. Transfers never complete through it:
// overruns and underruns are logged and cleared, and an idle port is shut
// down. A message in flight is left running.
func (c *Controller) HandleInterrupt() bool {
	sr := c.ssp.SR.Load()
	if sr&regs.StatusFlags(c.maskSR.Load()) == 0 {
		return false
	}

	if sr&(regs.SRROR|regs.SRTUR) != 0 {
		c.log.error(ComponentIRQ, "fifo overrun or underrun",
			"sr", uint32(sr),
			"overrun", sr&regs.SRROR != 0,
			"underrun", sr&regs.SRTUR != 0)
	}

	c.mu.Lock()
	idle := c.cur == nil
	c.mu.Unlock()
	if idle {
		c.ssp.CR0.ClearBits(regs.CR0SSE)
		c.ssp.CR1.ClearBits(regs.CR1Flags(c.sig.Load()))
	}

	c.ssp.SR.Store(clearSR)
	return true
}
