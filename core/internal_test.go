package core

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"

	"github.com/jkramarz/edison-spi/regs"
)

type mapBank struct {
	mu sync.Mutex
	m  map[regs.Offset]uint32
}

func newMapBank() *mapBank {
	return &mapBank{m: make(map[regs.Offset]uint32)}
}

func (b *mapBank) Load(off regs.Offset) uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.m[off]
}

func (b *mapBank) Store(off regs.Offset, v uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.m[off] = v
}

func TestDivider(t *testing.T) {
	mdfl := Platform{Variant: VariantMDFL}
	mrfl := Platform{Variant: VariantMRFL}

	tests := []struct {
		p     Platform
		speed physic.Frequency
		div   uint32
	}{
		{mdfl, 0, 4095},
		{mdfl, 100 * physic.MegaHertz, 3},
		{mdfl, 25 * physic.MegaHertz, 3},
		{mdfl, 10 * physic.MegaHertz, 9},
		{mdfl, 3 * physic.MegaHertz, 33},
		{mdfl, physic.MegaHertz, 99},
		{mdfl, physic.KiloHertz, 4095},
		{mrfl, 0, 4095},
		{mrfl, 25 * physic.MegaHertz, 0},
		{mrfl, 50 * physic.MegaHertz, 0},
		{mrfl, 5 * physic.MegaHertz, 4},
		{mrfl, physic.Hertz, 4095},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.div, tc.p.Divider(tc.speed), "%s at %s", tc.p.Variant, tc.speed)
	}
}

func TestDividerNeverFaster(t *testing.T) {
	for _, p := range []Platform{{Variant: VariantMDFL}, {Variant: VariantMRFL}, {Variant: VariantBYT}} {
		for hz := int64(30000); hz <= 25000000; hz = hz*5/4 + 1 {
			speed := physic.Frequency(hz) * physic.Hertz
			got := p.Speed(p.Divider(speed))
			assert.LessOrEqual(t, int64(got), int64(speed), "%s at %d Hz", p.Variant, hz)
		}
	}
}

func TestWordFor(t *testing.T) {
	for bits := MinBitsPerWord; bits <= MaxBitsPerWord; bits++ {
		kind, stride := wordFor(bits)
		switch {
		case bits <= 8:
			assert.Equal(t, word8, kind)
			assert.Equal(t, 1, stride)
		case bits <= 16:
			assert.Equal(t, word16, kind)
			assert.Equal(t, 2, stride)
		default:
			assert.Equal(t, word32, kind)
			assert.Equal(t, 4, stride)
		}
	}
}

func TestBurstFor(t *testing.T) {
	assert.Equal(t, 8, burstFor(8))
	assert.Equal(t, 4, burstFor(4))
	assert.Equal(t, 1, burstFor(1))
	assert.Equal(t, 1, burstFor(2))
}

func TestDMALengths(t *testing.T) {
	tests := []struct {
		quirks         Quirks
		len, stride    int
		threshold, dma int
	}{
		{QuirkNoTrail, 100, 4, 4, 96},
		{QuirkNoTrail, 100, 4, 8, 96},
		{QuirkNoTrail, 33, 1, 8, 32},
		{QuirkNoTrail, 7, 1, 8, 4},
		{QuirkNoTrail, 3, 1, 8, 0},
		{QuirkNoTrail, 20, 1, 8, 16},
		{QuirkNoTrail, 6, 2, 4, 4},
		{0, 101, 1, 8, 101},
	}
	for _, tc := range tests {
		c := &Controller{plat: Platform{Quirks: tc.quirks}}
		c.x.len, c.x.stride = tc.len, tc.stride
		rx, tx := c.dmaLengths(tc.threshold)
		assert.Equal(t, tc.dma, rx, "len %d threshold %d", tc.len, tc.threshold)
		assert.Equal(t, rx, tx)
	}
}

func TestCompletionBridge(t *testing.T) {
	var b completionBridge
	calls := 0
	fired := b.reset(func() { calls++ })

	b.mark(DirRX)
	select {
	case <-fired:
		t.Fatal("fired with one stream outstanding")
	default:
	}
	b.mark(DirTX)
	<-fired
	assert.Equal(t, 1, calls)

	b.mark(DirRX)
	b.mark(dirBoth)
	assert.Equal(t, 1, calls, "finish runs once per transfer")

	fired = b.reset(func() { calls++ })
	b.skip(DirRX)
	b.skip(DirTX)
	select {
	case <-fired:
		t.Fatal("skip fired")
	default:
	}
	b.mark(dirBoth)
	<-fired
	assert.Equal(t, 2, calls)
}

func TestCompletionSignal(t *testing.T) {
	ch := make(chan Direction, 1)
	c := Completion{dir: DirTX, ch: ch}
	assert.Equal(t, DirTX, c.Direction())
	c.Signal()
	c.Signal() // full, dropped
	assert.Equal(t, DirTX, <-ch)

	Completion{}.Signal()
}

func TestSetupRegisters(t *testing.T) {
	c, err := New(Resources{Regs: newMapBank(), Platform: Platform{Variant: VariantMDFL, Quirks: QuirkNoTrail}},
		WithLogger(NewLogger(io.Discard)))
	require.NoError(t, err)
	defer c.Close()

	ch, err := c.Setup(ChipConfig{ChipSelect: 1, BitsPerWord: 16, MaxSpeed: physic.MegaHertz, Mode: Mode3})
	require.NoError(t, err)
	assert.Equal(t, regs.CR0Motorola|regs.DataSize(16)|regs.CR0SSE|regs.ClockRate(99), ch.cr0)
	assert.Equal(t, regs.RxThreshold(8)|regs.TxThreshold(8)|regs.CR1SPH|regs.CR1SPO|regs.CR1SCFR, ch.cr1)
	assert.Equal(t, physic.MegaHertz, ch.Speed())
	assert.False(t, ch.DMA(), "no dma engine")
	assert.Zero(t, ch.timeout)
	assert.Equal(t, regs.CR1TINTE, ch.sig)

	wide, err := c.Setup(ChipConfig{ChipSelect: 2, BitsPerWord: 24, Info: &ChipInfo{Burst: 4, Loopback: true, Timeout: 7}})
	require.NoError(t, err)
	assert.NotZero(t, wide.cr0&regs.CR0EDSS)
	assert.Equal(t, regs.DataSize(24), wide.cr0&regs.CR0DSS)
	assert.Equal(t, 4, wide.rxThreshold)
	assert.NotZero(t, wide.cr1&regs.CR1LBM)
	assert.Equal(t, uint32(7), wide.timeout)
	assert.Equal(t, uint32(4095), uint32(wide.cr0&regs.CR0SCR)>>8, "zero speed is the slowest clock")

	again, err := c.Setup(ChipConfig{ChipSelect: 1, BitsPerWord: 8})
	require.NoError(t, err)
	assert.Same(t, ch, again, "setup updates the chip in place")
	assert.Equal(t, 8, ch.BitsPerWord())

	_, err = c.Setup(ChipConfig{BitsPerWord: 3})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = c.Setup(ChipConfig{BitsPerWord: 33})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = c.Setup(ChipConfig{ChipSelect: -1})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = c.Setup(ChipConfig{Mode: ModeCSHigh, Info: &ChipInfo{}})
	assert.ErrorIs(t, err, ErrInvalidArgument, "polarity without chip select control")
}

func TestSetupQuirks(t *testing.T) {
	slave, err := New(Resources{Regs: newMapBank(), Platform: Platform{Quirks: QuirkSlaveClock}},
		WithLogger(NewLogger(io.Discard)))
	require.NoError(t, err)
	defer slave.Close()
	ch, err := slave.Setup(ChipConfig{MaxSpeed: physic.MegaHertz})
	require.NoError(t, err)
	assert.Zero(t, ch.Speed())
	assert.Zero(t, ch.cr0&regs.CR0SCR)
	assert.NotZero(t, ch.cr1&regs.CR1SCLKDIR)
	assert.NotZero(t, ch.cr1&regs.CR1SFRMDIR)
	assert.Equal(t, uint32(DefaultTimeout), ch.timeout, "trailing bytes use the receiver timeout")

	mrfl, err := New(Resources{Regs: newMapBank(), Platform: Platform{Variant: VariantMRFL}},
		WithLogger(NewLogger(io.Discard)))
	require.NoError(t, err)
	defer mrfl.Close()
	ch, err = mrfl.Setup(ChipConfig{MaxSpeed: 500 * physic.KiloHertz})
	require.NoError(t, err)
	assert.Equal(t, 1, ch.rxThreshold, "slow dma on mrfl moves single words")
	assert.Equal(t, regs.RxThreshold(1)|regs.TxThreshold(15), ch.cr1&(regs.CR1RFT|regs.CR1TFT))
}

func TestSetupBusyAndPolarity(t *testing.T) {
	c, err := New(Resources{Regs: newMapBank(), Platform: Platform{NumChipSelect: 2}},
		WithLogger(NewLogger(io.Discard)))
	require.NoError(t, err)
	defer c.Close()

	var levels []bool
	ch, err := c.Setup(ChipConfig{Info: &ChipInfo{CS: func(l bool) { levels = append(levels, l) }}})
	require.NoError(t, err)
	_, err = c.Setup(ChipConfig{ChipSelect: 2})
	assert.ErrorIs(t, err, ErrInvalidArgument, "beyond the chip select count")

	// pretend a message of ch is in flight
	c.mu.Lock()
	c.cur = &Message{Chip: ch}
	c.mu.Unlock()
	_, err = c.Setup(ChipConfig{})
	assert.ErrorIs(t, err, ErrBusy)
	_, err = c.Setup(ChipConfig{ChipSelect: 1, Mode: ModeCSHigh, Info: &ChipInfo{CS: func(bool) {}}})
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, c.Remove(ch), ErrBusy)
	c.mu.Lock()
	c.cur = nil
	c.mu.Unlock()

	_, err = c.Setup(ChipConfig{ChipSelect: 1, Mode: ModeCSHigh, Info: &ChipInfo{CS: func(bool) {}}})
	require.NoError(t, err)
	assert.True(t, c.csHigh)
	assert.Empty(t, levels)
	require.NoError(t, c.Remove(ch))
}

func TestPinmuxOnce(t *testing.T) {
	calls := 0
	p := Platform{Pinmux: func() error { calls++; return nil }}
	c, err := New(Resources{Regs: newMapBank(), Platform: p}, WithLogger(NewLogger(io.Discard)))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Setup(ChipConfig{Info: &ChipInfo{DMA: true}})
	require.NoError(t, err)
	assert.Zero(t, calls, "dma chips leave the pins alone")
	_, err = c.Setup(ChipConfig{ChipSelect: 1, Info: &ChipInfo{}})
	require.NoError(t, err)
	_, err = c.Setup(ChipConfig{ChipSelect: 2, Info: &ChipInfo{}})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestPinmuxFailureKeepsPolarity(t *testing.T) {
	fail := errors.New("pinmux busy")
	p := Platform{Pinmux: func() error { return fail }}
	c, err := New(Resources{Regs: newMapBank(), Platform: p}, WithLogger(NewLogger(io.Discard)))
	require.NoError(t, err)
	defer c.Close()

	var levels []bool
	cs := func(l bool) { levels = append(levels, l) }
	_, err = c.Setup(ChipConfig{Mode: ModeCSHigh, Info: &ChipInfo{CS: cs}})
	assert.ErrorIs(t, err, fail)
	assert.False(t, c.csHigh)
	assert.Empty(t, levels, "chip select untouched")
	assert.False(t, c.pinmuxed)
}

func TestStallWatch(t *testing.T) {
	w := newStallWatch(0)
	w.last = time.Now().Add(-time.Hour)
	assert.False(t, w.expired(), "zero limit never expires")

	w = newStallWatch(time.Minute)
	assert.False(t, w.expired())
	w.last = time.Now().Add(-2 * time.Minute)
	assert.True(t, w.expired())
	w.progress(false)
	assert.True(t, w.expired())
	w.progress(true)
	assert.False(t, w.expired())
}
