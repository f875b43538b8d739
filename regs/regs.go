// Package regs provides typed access to the SSP register block.
//
// The block itself is an opaque Bank: anything that can load and store 32 bit
// words at a register offset. On hardware that is a mapped window, in tests it
// is the simulator, and over a debug link it is the serial bridge.
package regs

// Offset is a register offset within a bank, in bytes.
type Offset uint32

// Bank is a register window. Implementations must be safe for concurrent use,
// the polled transfer path pushes and pulls from two goroutines at once.
type Bank interface {
	Load(off Offset) uint32
	Store(off Offset, v uint32)
}

// R32 is a single 32 bit register holding values of type T.
type R32[T ~uint32] struct {
	bank Bank
	off  Offset
}

// NewR32 returns the register at off in bank.
func NewR32[T ~uint32](bank Bank, off Offset) R32[T] {
	return R32[T]{bank: bank, off: off}
}

func (r R32[T]) Load() T {
	return T(r.bank.Load(r.off))
}

func (r R32[T]) Store(v T) {
	r.bank.Store(r.off, uint32(v))
}

// LoadBits returns the register value masked with mask.
func (r R32[T]) LoadBits(mask T) T {
	return r.Load() & mask
}

// SetBits does a read-modify-write setting mask.
func (r R32[T]) SetBits(mask T) {
	r.Store(r.Load() | mask)
}

// ClearBits does a read-modify-write clearing mask.
func (r R32[T]) ClearBits(mask T) {
	r.Store(r.Load() &^ mask)
}

// Offset returns the register offset within its bank.
func (r R32[T]) Offset() Offset {
	return r.off
}
