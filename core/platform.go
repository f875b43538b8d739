package core

import (
	"periph.io/x/conn/v3/physic"
)

// Controller limits.
const (
	FifoDepth       = 16
	MaxTransferSize = 8192
	MinBitsPerWord  = 4
	MaxBitsPerWord  = 32

	DefaultBitsPerWord = 8
	DefaultBurst       = 8
	DefaultTimeout     = 500 // receiver timeout when DMA moves trailing bytes

	// MaxBitbangLoop bounds the clock synchronization toggles.
	MaxBitbangLoop = 10000
)

const (
	clockDelaySpeed  = 6250 * physic.KiloHertz
	slowDMASpeed     = 800 * physic.KiloHertz
	pspBitbang       = 0x02010007
	cr0TimingRestart = 0x0000000f
)

// Variant is the SoC family the SSP block sits in.
type Variant uint8

const (
	VariantMRST Variant = iota // Moorestown
	VariantMDFL                // Medfield
	VariantMRFL                // Merrifield
	VariantBYT                 // Baytrail
)

func (v Variant) String() string {
	switch v {
	case VariantMRST:
		return "mrst"
	case VariantMDFL:
		return "mdfl"
	case VariantMRFL:
		return "mrfl"
	case VariantBYT:
		return "byt"
	default:
		return "unknown"
	}
}

// Quirks select platform workarounds.
type Quirks uint32

const (
	// QuirkBitBang: clock synchronization through the aux side channel.
	QuirkBitBang Quirks = 1 << iota

	// QuirkNoTrail: DMA moves only 4 byte aligned, threshold aligned
	// prefixes, the CPU drains the rest.
	QuirkNoTrail

	// QuirkSRAMCopy: DMA runs against a staging window in device SRAM.
	QuirkSRAMCopy

	// QuirkSlaveClock: the port is clocked by the remote master.
	QuirkSlaveClock

	// QuirkFrameSelect: the frame select register must name the chip select.
	QuirkFrameSelect

	// QuirkTimingReset: the port is restarted through a fixed CR0 sequence
	// on every transfer.
	QuirkTimingReset
)

// Has reports whether all bits of q are set.
func (qs Quirks) Has(q Quirks) bool {
	return qs&q == q
}

// Platform describes the silicon a controller runs on.
type Platform struct {
	Variant       Variant
	Quirks        Quirks
	Bus           int // bus number, also the DMA request line on MRFL
	NumChipSelect int

	// Pinmux is applied once per controller, by the first non DMA chip.
	Pinmux func() error
}

func (p Platform) clockDomain() (base, minDiv, maxDiv int64) {
	if p.Variant == VariantMRFL {
		return 25000000, 0, 4095
	}
	return 100000000, 3, 4095
}

// Divider returns the SCR value for speed. It rounds towards the slower
// clock so the effective speed never exceeds the request.
func (p Platform) Divider(speed physic.Frequency) uint32 {
	base, lo, hi := p.clockDomain()
	hz := int64(speed / physic.Hertz)
	div := hi
	if hz > 0 {
		div = (base+hz-1)/hz - 1
	}
	if div < lo {
		div = lo
	}
	if div > hi {
		div = hi
	}
	return uint32(div)
}

// Speed returns the bit clock produced by div.
func (p Platform) Speed(div uint32) physic.Frequency {
	base, _, _ := p.clockDomain()
	return physic.Frequency(base/(int64(div)+1)) * physic.Hertz
}

// dmaRequestLines returns the RX and TX handshake lines.
func (p Platform) dmaRequestLines() (rx, tx int) {
	switch p.Variant {
	case VariantBYT:
		return 1, 0
	case VariantMRFL:
		return p.Bus, p.Bus
	default:
		return 0, 0
	}
}
