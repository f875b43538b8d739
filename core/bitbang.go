package core

import (
	"time"

	"github.com/jkramarz/edison-spi/regs"
)

// Side channel words that take over the port's clock pin.
const (
	auxCtrlDrive   = 0x01070034
	auxCtrlRelease = 0x01070038
	auxDataInit    = 0x00000003
	auxDataSelect  = 0x00000099
	auxClockLow    = 0x00000002
	auxClockHigh   = 0x00000003
	auxDataIdle    = 0x00000000
)

// bitbang restarts the port and toggles its clock through the aux side
// channel until clock synchronization completes. Giving up is logged and
// the transfer goes on.
func (c *Controller) bitbang(cr0 regs.CR0Flags, timeout uint32) {
	sr := c.ssp.SR.Load()
	c.log.warn(ComponentXfer, "starting clock bit-bang",
		"desync", sr&regs.SRNotSync != 0,
		"disabled", c.ssp.CR0.Load()&regs.CR0SSE == 0)

	c.ssp.CR0.Store(cr0 &^ regs.CR0SSE)
	c.ssp.PSP.Store(pspBitbang)
	c.ssp.TO.Store(timeout)
	c.ssp.CR0.Store(cr0)

	c.auxStore(c.aux.Data, auxDataInit)
	c.auxStore(c.aux.Ctrl, auxCtrlDrive)
	c.auxStore(c.aux.Data, auxDataSelect)
	c.auxStore(c.aux.Ctrl, auxCtrlRelease)

	count := 0
	for c.ssp.SR.Load()&regs.SRCSS != 0 && count < MaxBitbangLoop {
		c.auxStore(c.aux.Data, auxClockLow)
		c.auxStore(c.aux.Ctrl, auxCtrlDrive)
		c.auxStore(c.aux.Data, auxClockHigh)
		c.auxStore(c.aux.Ctrl, auxCtrlDrive)
		count++
	}
	if count >= MaxBitbangLoop {
		c.log.error(ComponentXfer, "clock bit-bang did not converge", "loops", count)
	}
	c.log.debug(ComponentXfer, "clock bit-bang done", "loops", count)

	c.auxStore(c.aux.Data, auxDataIdle)
	c.aux.Ctrl.Store(auxCtrlRelease)
}

func (c *Controller) auxStore(r regs.R32[uint32], v uint32) {
	r.Store(v)
	if c.auxDelay > 0 {
		time.Sleep(c.auxDelay)
	}
}
