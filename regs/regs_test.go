package regs

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type mapBank struct {
	mu sync.Mutex
	m  map[Offset]uint32
}

func newMapBank() *mapBank { return &mapBank{m: make(map[Offset]uint32)} }

func (b *mapBank) Load(off Offset) uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.m[off]
}

func (b *mapBank) Store(off Offset, v uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.m[off] = v
}

func TestR32Bits(t *testing.T) {
	bank := newMapBank()
	r := NewR32[CR0Flags](bank, OffCR0)

	r.Store(CR0Motorola | DataSize(8))
	r.SetBits(CR0SSE)
	assert.Equal(t, uint32(0x87), bank.m[OffCR0])
	assert.Equal(t, CR0SSE, r.LoadBits(CR0SSE))

	r.ClearBits(CR0SSE)
	assert.Equal(t, CR0Flags(0), r.LoadBits(CR0SSE))
	assert.Equal(t, OffCR0, r.Offset())
}

func TestFieldEncoders(t *testing.T) {
	assert.Equal(t, CR0Flags(0x7), DataSize(8))
	assert.Equal(t, CR0Flags(0xf), DataSize(16))
	assert.Equal(t, CR0Flags(0x3), DataSize(4))
	assert.Equal(t, CR0Flags(0x00006300), ClockRate(0x63))
	assert.Equal(t, CR0Flags(0x000fff00), ClockRate(0x1fff))

	assert.Equal(t, CR1Flags(7<<10), RxThreshold(8))
	assert.Equal(t, CR1Flags(3<<10), RxThreshold(4))
	assert.Equal(t, CR1Flags(0), RxThreshold(1))
	assert.Equal(t, CR1Flags(7<<6), TxThreshold(8))
	assert.Equal(t, CR1Flags(11<<6), TxThreshold(12))
}

func TestFifoPredicates(t *testing.T) {
	bank := newMapBank()
	ssp := NewSSP(bank)

	tests := []struct {
		name    string
		sr      StatusFlags
		txEmpty bool
		rxEmpty bool
		txFull  bool
	}{
		{"idle", SRTNF, true, true, false},
		{"tx level one", SRTNF | 1<<8, false, true, false},
		{"tx full level wraps", 0, false, true, false},
		{"tx at threshold", SRTNF | SRTFL, false, true, true},
		{"rx pending", SRTNF | SRRNE | 2<<12, true, false, false},
	}
	for _, tt := range tests {
		bank.Store(OffSR, uint32(tt.sr))
		assert.Equal(t, tt.txEmpty, ssp.TxFifoEmpty(), tt.name)
		assert.Equal(t, tt.rxEmpty, ssp.RxFifoEmpty(), tt.name)
		assert.Equal(t, tt.txFull, ssp.TxFifoFull(), tt.name)
	}

	sr := StatusFlags(SRTNF | 5<<8 | 9<<12)
	assert.Equal(t, 5, sr.TxLevel())
	assert.Equal(t, 9, sr.RxLevel())
}
