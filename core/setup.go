package core

import (
	"github.com/pkg/errors"
	"periph.io/x/conn/v3/physic"

	"github.com/jkramarz/edison-spi/regs"
)

// Mode is the SPI mode of a chip.
type Mode uint8

const (
	ModeCPHA   Mode = 1 << iota // sample on the second clock edge
	ModeCPOL                    // clock idles high
	ModeCSHigh                  // chip select is active high
)

const (
	Mode0 Mode = 0
	Mode1      = ModeCPHA
	Mode2      = ModeCPOL
	Mode3      = ModeCPOL | ModeCPHA
)

// CSControl drives a chip select line to level.
type CSControl func(level bool)

// ChipInfo carries board specific chip settings.
type ChipInfo struct {
	Burst    int    // FIFO burst in words: 8, 4 or 1
	Timeout  uint32 // receiver timeout
	DMA      bool
	Loopback bool
	CS       CSControl // nil when the port frames the chip itself
}

// ChipConfig describes a peripheral on one chip select.
type ChipConfig struct {
	ChipSelect  int
	BitsPerWord int // 0 selects DefaultBitsPerWord
	MaxSpeed    physic.Frequency
	Mode        Mode

	// Info is nil for chips without board settings: DMA on, default burst.
	Info *ChipInfo
}

// chipState is the cached per chip register setup. It is copied at message
// start so the drain goroutine works on a stable snapshot.
type chipState struct {
	cs          int
	bits        int
	cr0         regs.CR0Flags
	cr1         regs.CR1Flags
	speed       physic.Frequency
	timeout     uint32
	dma         bool
	csCtl       CSControl
	csHigh      bool
	rxThreshold int
	sig         regs.CR1Flags
	maskSR      regs.StatusFlags
}

// Chip is the configuration of one peripheral. It is replaced in place by
// later Setup calls for the same chip select.
type Chip struct {
	ctrl    *Controller
	removed bool
	chipState
}

// ChipSelect returns the chip select number.
func (ch *Chip) ChipSelect() int { return ch.cs }

// Controller returns the controller the chip is attached to.
func (ch *Chip) Controller() *Controller { return ch.ctrl }

// Speed returns the effective bit clock, zero in slave mode.
func (ch *Chip) Speed() physic.Frequency {
	ch.ctrl.mu.Lock()
	defer ch.ctrl.mu.Unlock()
	return ch.speed
}

// BitsPerWord returns the default word width.
func (ch *Chip) BitsPerWord() int {
	ch.ctrl.mu.Lock()
	defer ch.ctrl.mu.Unlock()
	return ch.bits
}

// DMA reports whether transfers of this chip may use DMA.
func (ch *Chip) DMA() bool {
	ch.ctrl.mu.Lock()
	defer ch.ctrl.mu.Unlock()
	return ch.dma
}

// Setup configures the chip on cfg.ChipSelect. A chip whose message is in
// flight cannot be reconfigured.
func (c *Controller) Setup(cfg ChipConfig) (*Chip, error) {
	bits := cfg.BitsPerWord
	if bits == 0 {
		bits = DefaultBitsPerWord
	}
	if bits < MinBitsPerWord || bits > MaxBitsPerWord {
		return nil, errors.Wrapf(ErrInvalidArgument, "%d bits per word", bits)
	}
	if cfg.ChipSelect < 0 || (c.plat.NumChipSelect > 0 && cfg.ChipSelect >= c.plat.NumChipSelect) {
		return nil, errors.Wrapf(ErrInvalidArgument, "chip select %d", cfg.ChipSelect)
	}
	q := c.plat.Quirks

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	old := c.chips[cfg.ChipSelect]
	if old != nil && c.cur != nil && c.cur.Chip == old {
		return nil, errors.Wrapf(ErrBusy, "chip select %d has a message in flight", cfg.ChipSelect)
	}

	st := chipState{cs: cfg.ChipSelect, bits: bits}
	st.cr0 = regs.CR0Motorola | regs.DataSize(bits) | regs.CR0SSE
	if bits > 16 {
		st.cr0 |= regs.CR0EDSS
	}

	burst := DefaultBurst
	if info := cfg.Info; info != nil {
		csHigh := cfg.Mode&ModeCSHigh != 0
		flip := csHigh != c.csHigh
		if flip {
			if c.cur != nil {
				return nil, errors.Wrap(ErrBusy, "chip select polarity change with a message in flight")
			}
			if info.CS == nil {
				return nil, errors.Wrap(ErrInvalidArgument, "chip select polarity needs a chip select control")
			}
		}
		if !c.pinmuxed && !info.DMA && c.plat.Pinmux != nil {
			if err := c.plat.Pinmux(); err != nil {
				return nil, errors.Wrap(err, "pinmux")
			}
			c.pinmuxed = true
		}
		if flip {
			c.csHigh = csHigh
			info.CS(!c.csHigh)
		}

		burst = info.Burst
		if burst > DefaultBurst {
			burst = DefaultBurst
		}
		st.timeout = info.Timeout
		if info.Loopback {
			st.cr1 |= regs.CR1LBM
		}
		st.dma = info.DMA
		st.csCtl = info.CS
	} else {
		c.log.info(ComponentSetup, "setting default chip values", "cs", cfg.ChipSelect)
		st.dma = true
		if !q.Has(QuirkNoTrail) {
			st.timeout = DefaultTimeout
		}
	}

	switch burst {
	case 8:
		st.rxThreshold = 8
	case 4:
		st.rxThreshold = 4
	default:
		st.rxThreshold = 1
	}
	// DMA at low bit clocks corrupts data on MRFL.
	if c.plat.Variant == VariantMRFL && st.dma && cfg.MaxSpeed < slowDMASpeed {
		st.rxThreshold = 1
	}
	st.cr1 |= regs.RxThreshold(st.rxThreshold) | regs.TxThreshold(FifoDepth-st.rxThreshold)

	if cfg.Mode&ModeCPHA != 0 {
		st.cr1 |= regs.CR1SPH
	}
	if cfg.Mode&ModeCPOL != 0 {
		st.cr1 |= regs.CR1SPO
	}
	if q.Has(QuirkSlaveClock) {
		st.cr1 |= regs.CR1SCLKDIR | regs.CR1SFRMDIR
	}
	st.cr1 |= regs.CR1SCFR

	if !q.Has(QuirkSlaveClock) {
		div := c.plat.Divider(cfg.MaxSpeed)
		st.cr0 |= regs.ClockRate(div)
		st.speed = c.plat.Speed(div)
		c.log.debug(ComponentSetup, "clock", "cs", cfg.ChipSelect,
			"speed", st.speed, "div", div, "cr0", uint32(st.cr0))
	}

	if st.dma {
		if c.dma == nil {
			c.log.warn(ComponentSetup, "no dma engine, using polled transfers", "cs", cfg.ChipSelect)
			st.dma = false
		} else if err := c.dma.acquire(); err != nil {
			c.log.warn(ComponentSetup, "dma channel not available, using polled transfers",
				"cs", cfg.ChipSelect, "error", err)
			st.dma = false
		}
	}
	if st.dma {
		st.sig = regs.CR1TSRE | regs.CR1RSRE
		if q.Has(QuirkNoTrail) {
			st.sig |= regs.CR1TRAIL
		}
		st.maskSR = regs.SRROR | regs.SRTUR
	} else {
		st.sig = regs.CR1TINTE
		st.maskSR = regs.SRROR | regs.SRTUR | regs.SRTINT
	}
	c.sig.Store(uint32(st.sig))
	c.maskSR.Store(uint32(st.maskSR))

	if old != nil {
		old.chipState = st
		return old, nil
	}
	ch := &Chip{ctrl: c, chipState: st}
	c.chips[cfg.ChipSelect] = ch
	return ch, nil
}

// Remove detaches ch. It fails with ErrBusy while a message of ch is in
// flight.
func (c *Controller) Remove(ch *Chip) error {
	if ch == nil || ch.ctrl != c {
		return errors.Wrap(ErrInvalidArgument, "chip not attached")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur != nil && c.cur.Chip == ch {
		return errors.Wrapf(ErrBusy, "chip select %d has a message in flight", ch.cs)
	}
	if c.chips[ch.cs] == ch {
		delete(c.chips, ch.cs)
	}
	ch.removed = true
	return nil
}
