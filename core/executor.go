package core

import (
	"context"
	"runtime"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/jkramarz/edison-spi/regs"
)

// runTransfer executes one transfer of the current message and returns once
// both directions are done.
func (c *Controller) runTransfer(m *Message, st *chipState, t *Transfer) error {
	if t.Len <= 0 || t.Len > MaxTransferSize {
		c.log.warn(ComponentXfer, "transfer length null or too large", "len", t.Len, "max", MaxTransferSize)
		return errors.Wrapf(ErrInvalidArgument, "length %d", t.Len)
	}

	bits, cr0 := st.bits, st.cr0
	if t.BitsPerWord != 0 {
		bits = t.BitsPerWord
		cr0 &^= regs.CR0EDSS | regs.CR0DSS
		cr0 |= regs.DataSize(bits)
		if bits > 16 {
			cr0 |= regs.CR0EDSS
		}
	}
	if bits < MinBitsPerWord || bits > MaxBitsPerWord {
		c.log.warn(ComponentXfer, "invalid word size", "bits", bits)
		return errors.Wrapf(ErrInvalidArgument, "%d bits per word", bits)
	}
	kind, stride := wordFor(bits)
	if t.Len%stride != 0 {
		c.log.warn(ComponentXfer, "length not a multiple of the word size", "len", t.Len, "bits", bits)
		return errors.Wrapf(ErrInvalidArgument, "length %d in %d bit mode", t.Len, bits)
	}
	if (t.TX != nil && len(t.TX) < t.Len) || (t.RX != nil && len(t.RX) < t.Len) {
		return errors.Wrapf(ErrInvalidArgument, "buffer shorter than length %d", t.Len)
	}

	c.flush()

	// DMA of exactly eight words misbehaves, such transfers are polled.
	polledOnly := t.Len == 8*stride
	if stride == 4 && !c.plat.Quirks.Has(QuirkTimingReset) {
		cr0 |= regs.CR0EDSS
	}
	c.x.bind(t, kind, stride)

	c.program(st, t, cr0)
	c.assert(st)

	useDMA := st.dma && c.dma.ready() && !polledOnly
	if useDMA {
		if err := c.dma.configure(c.plat, stride, st.rxThreshold, c.res.DataAddr); err != nil {
			c.log.warn(ComponentDMA, "dma configuration failed, polling", "error", err)
			useDMA = false
		}
	}
	if useDMA {
		return c.dmaTransfer(m, st, t)
	}
	return c.pollTransfer(m)
}

// flush leaves the FIFOs empty. A TX FIFO still holding data means the
// previous transfer broke, the port is reset instead of drained.
func (c *Controller) flush() {
	if !c.ssp.TxFifoEmpty() {
		c.log.error(ComponentXfer, "TX FIFO not empty, resetting the port",
			"sr", uint32(c.ssp.SR.Load()))
		c.ssp.CR0.ClearBits(regs.CR0SSE)
		return
	}
	n := 0
	for !c.ssp.RxFifoEmpty() && n < FifoDepth+1 {
		c.ssp.DR.Load()
		n++
	}
	if n > 0 {
		c.log.warn(ComponentXfer, "flushed stale words", "words", n)
	}
}

// program writes the per transfer register setup and (re)enables the port.
func (c *Controller) program(st *chipState, t *Transfer, cr0 regs.CR0Flags) {
	q := c.plat.Quirks
	x := &c.x

	c.ssp.SR.Store(clearSR)

	cr1 := st.cr1 | st.sig
	if q.Has(QuirkNoTrail) {
		// Short transfers lower the RX threshold to what the DMA can move,
		// it must stay aligned to the 4 byte DMA granularity.
		if x.len/x.stride <= st.rxThreshold {
			thr := (x.len &^ 3) / x.stride
			if thr < 1 {
				thr = 1
			}
			cr1 = cr1&^regs.CR1RFT | regs.RxThreshold(thr)
		} else {
			c.ssp.TO.Store(st.timeout)
		}
	}
	c.log.debug(ComponentXfer, "transfer", "len", x.len, "stride", x.stride,
		"cr0", uint32(cr0), "cr1", uint32(cr1))
	c.ssp.CR1.Store(cr1)

	if q.Has(QuirkFrameSelect) {
		c.ssp.FS.Store(1 << st.cs)
	}

	speed := st.speed
	if t.Speed != 0 {
		speed = t.Speed
	}
	if speed > 0 && !q.Has(QuirkSlaveClock) {
		div := c.plat.Divider(speed)
		cr0 = cr0&^regs.CR0SCR | regs.ClockRate(div)
		speed = c.plat.Speed(div)
	}

	if q.Has(QuirkBitBang) && (c.ssp.SR.Load()&regs.SRNotSync != 0 || c.ssp.CR0.Load()&regs.CR0SSE == 0) {
		c.bitbang(cr0, st.timeout)
		return
	}

	if speed > clockDelaySpeed {
		c.ssp.CR2.SetBits(regs.CR2ClkDelEn)
	} else {
		c.ssp.CR2.ClearBits(regs.CR2ClkDelEn)
	}

	if q.Has(QuirkTimingReset) {
		c.ssp.CR0.Store(cr0TimingRestart)
		c.ssp.CR0.Store(cr0 &^ regs.CR0SSE)
		c.ssp.CR0.Store(cr0 | regs.CR0SSE)
		return
	}
	c.ssp.CR0.Store(cr0)
}

// pollTransfer moves the transfer through the FIFOs by hand. A worker pushes
// the source while this goroutine spins on the receive side. Either side
// failing to move a word within the stall timeout ends the transfer.
func (c *Controller) pollTransfer(m *Message) error {
	x := &c.x
	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error {
		w := newStallWatch(c.stall)
		for x.tx < x.txEnd {
			n := x.push()
			w.progress(n > 0)
			if n > 0 {
				continue
			}
			if w.expired() {
				return errors.Wrapf(ErrStalled, "tx at %d/%d", x.tx, x.txEnd)
			}
			runtime.Gosched()
		}
		return nil
	})
	var rxErr error
	w := newStallWatch(c.stall)
	for rx := x.rx; !x.pull(); rx = x.rx {
		w.progress(x.rx != rx)
		if ctx.Err() != nil {
			break
		}
		if w.expired() {
			rxErr = errors.Wrapf(ErrStalled, "rx at %d/%d", x.rx, x.rxEnd)
			break
		}
		runtime.Gosched()
	}
	err := g.Wait()
	m.Actual += x.rx
	if err != nil {
		c.log.error(ComponentXfer, "polled transfer stalled", "error", err, "sr", uint32(c.ssp.SR.Load()))
		return err
	}
	if rxErr != nil {
		c.log.error(ComponentXfer, "polled transfer stalled", "error", rxErr, "sr", uint32(c.ssp.SR.Load()))
	}
	return rxErr
}

// dmaLengths returns the bytes the DMA streams move. Without trailing byte
// support the DMA only moves whole 32 bit units, cut down to a multiple of
// the RX threshold so the last burst cannot stall; the CPU drains the rest.
func (c *Controller) dmaLengths(threshold int) (rx, tx int) {
	x := &c.x
	if !c.plat.Quirks.Has(QuirkNoTrail) {
		return x.len, x.len
	}
	n := x.len &^ 3
	if unit := threshold * x.stride; n > unit {
		n = n / unit * unit
	}
	return n, n
}

func (c *Controller) dmaTransfer(m *Message, st *chipState, t *Transfer) error {
	x := &c.x
	q := c.plat.Quirks
	x.dmaRX, x.dmaTX = c.dmaLengths(st.rxThreshold)

	txBuf := t.TX
	if txBuf == nil {
		txBuf = c.zeros
	}
	rxBuf := t.RX
	if rxBuf == nil {
		rxBuf = c.sink
	}
	txBuf, rxBuf = txBuf[:x.len], rxBuf[:x.len]

	var rxAddr, txAddr DevAddr
	mapped := false
	if q.Has(QuirkSRAMCopy) {
		stx, stxAddr := c.res.Staging.tx()
		copy(stx, txBuf)
		_, rxAddr = c.res.Staging.rx()
		txAddr = stxAddr
	} else {
		var err error
		if txAddr, err = c.res.Mapper.Map(txBuf, DirTX); err != nil {
			c.log.error(ComponentDMA, "tx dma mapping failed", "error", err)
			return errors.Wrapf(ErrMapping, "tx: %v", err)
		}
		if rxAddr, err = c.res.Mapper.Map(rxBuf, DirRX); err != nil {
			c.res.Mapper.Unmap(txAddr, x.len, DirTX)
			c.log.error(ComponentDMA, "rx dma mapping failed", "error", err)
			return errors.Wrapf(ErrMapping, "rx: %v", err)
		}
		mapped = true
	}

	c.log.debug(ComponentDMA, "dma transfer", "len", x.len, "dma_rx", x.dmaRX, "dma_tx", x.dmaTX)

	var trailErr error
	fired := c.bridge.reset(func() {
		// Both streams are done: stop the service requests first.
		c.ssp.SR.Store(clearSR)
		c.ssp.CR1.ClearBits(st.sig)
		if mapped {
			c.res.Mapper.Unmap(rxAddr, x.len, DirRX)
			c.res.Mapper.Unmap(txAddr, x.len, DirTX)
		}
		trailErr = c.completeDMA(m, st, rxBuf)
	})
	rxd, txd := c.dma.prepare(&c.bridge, c.res.DataAddr, rxAddr, txAddr, x.dmaRX, x.dmaTX)
	if rxd == nil {
		// Nothing moves by DMA, the drain polls the whole transfer.
		x.dmaRX, x.dmaTX = 0, 0
	}
	c.dma.fire(rxd, txd)
	<-fired
	return trailErr
}

// completeDMA runs on the finalizer once both streams are done.
func (c *Controller) completeDMA(m *Message, st *chipState, rxBuf []byte) error {
	x := &c.x
	q := c.plat.Quirks

	if q.Has(QuirkSRAMCopy) && x.dmaRX > 0 {
		n := x.len
		if unit := st.rxThreshold * x.stride; q.Has(QuirkNoTrail) && n > unit {
			n = n / unit * unit
		}
		srx, _ := c.res.Staging.rx()
		copy(rxBuf[:n], srx[:n])
	}

	var err error
	if q.Has(QuirkNoTrail) || x.dmaRX < x.len {
		err = c.drainTrail()
	}
	if !q.Has(QuirkNoTrail) {
		c.ssp.TO.Store(0)
	}
	if err != nil {
		m.Actual += x.rx
		return err
	}
	m.Actual += x.len
	return nil
}

// drainTrail moves the bytes the DMA did not cover through the FIFOs.
func (c *Controller) drainTrail() error {
	x := &c.x
	if x.dmaRX == x.len {
		return nil
	}
	c.log.debug(ComponentXfer, "handling trailing bytes",
		"bytes", x.len-x.dmaRX, "sr", uint32(c.ssp.SR.Load()))
	x.rx += x.dmaRX
	x.tx += x.dmaTX
	w := newStallWatch(c.stall)
	for x.tx < x.txEnd || x.rx < x.rxEnd {
		rx := x.rx
		x.pull()
		n := x.push()
		w.progress(n > 0 || x.rx != rx)
		if w.expired() {
			c.log.error(ComponentXfer, "trailing bytes stalled",
				"tx", x.tx, "rx", x.rx, "len", x.len, "sr", uint32(c.ssp.SR.Load()))
			return errors.Wrapf(ErrStalled, "trailing bytes at rx %d/%d", x.rx, x.rxEnd)
		}
	}
	return nil
}
