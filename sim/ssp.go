// Package sim simulates an SSP port with its clock side channel, its DMA
// engine and the memory the engine reaches. It is the hardware behind the
// controller tests and the sspctl dry runs.
package sim

import (
	"sync"

	"github.com/jkramarz/edison-spi/regs"
)

// FifoDepth is the word capacity of each simulated FIFO.
const FifoDepth = 16

// Access is one register write seen by the simulator.
type Access struct {
	Off regs.Offset
	Val uint32
}

// SSP is a simulated SSP register block. Words written while the port is
// enabled shift out immediately as long as the RX FIFO has room, and the
// word clocked back in is produced by Peer.
type SSP struct {
	mu sync.Mutex

	cr0, cr1, itr, to, psp, cr2, fs uint32
	sticky                          regs.StatusFlags

	tx, rx []uint32

	// Peer returns the word the remote device shifts in for w. Nil echoes,
	// like the loopback mode.
	peer func(w uint32) uint32

	desync  int // clock toggles left until CSS clears
	toggles int
	halted  bool

	trace    []Access
	drWrites int
	drReads  int
}

// NewSSP returns a disabled port with empty FIFOs.
func NewSSP() *SSP {
	return &SSP{}
}

// SetPeer installs the remote device model.
func (s *SSP) SetPeer(peer func(w uint32) uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peer = peer
}

// SetDesync holds the clock synchronization status until the side channel
// toggled the clock n times.
func (s *SSP) SetDesync(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.desync = n
}

// Halt stops the serial clock while on. Words stay in the TX FIFO and
// nothing arrives in the RX FIFO, like a slave port whose master went away.
func (s *SSP) Halt(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.halted = on
	s.shift()
}

// Toggles returns the clock toggles seen from the side channel.
func (s *SSP) Toggles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.toggles
}

// Preload puts words straight into the FIFOs, as left behind by a broken
// transfer.
func (s *SSP) Preload(tx, rx []uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tx = append(s.tx, tx...)
	s.rx = append(s.rx, rx...)
}

// Levels returns the FIFO fill levels.
func (s *SSP) Levels() (tx, rx int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tx), len(s.rx)
}

// Raise sets write one to clear status bits, as an error condition would.
func (s *SSP) Raise(flags regs.StatusFlags) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sticky |= flags & (regs.SRROR | regs.SRTUR | regs.SRTINT)
}

// Trace returns the register writes so far, data register excluded.
func (s *SSP) Trace() []Access {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Access(nil), s.trace...)
}

// ResetTrace drops the recorded writes.
func (s *SSP) ResetTrace() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trace = s.trace[:0]
}

// DataCounts returns how many words were written to and read from the data
// register by the CPU.
func (s *SSP) DataCounts() (writes, reads int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drWrites, s.drReads
}

// Reg returns the raw value of a control register.
func (s *SSP) Reg(off regs.Offset) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(off)
}

func (s *SSP) enabled() bool {
	return regs.CR0Flags(s.cr0)&regs.CR0SSE != 0
}

// wordMask is the data size programmed in CR0.
func (s *SSP) wordMask() uint32 {
	cr0 := regs.CR0Flags(s.cr0)
	bits := uint(cr0&regs.CR0DSS) + 1
	if cr0&regs.CR0EDSS != 0 {
		bits += 16
	}
	if bits >= 32 {
		return 0xffffffff
	}
	return 1<<bits - 1
}

func (s *SSP) shift() {
	if !s.enabled() || s.halted {
		return
	}
	for len(s.tx) > 0 && len(s.rx) < FifoDepth {
		w := s.tx[0]
		s.tx = s.tx[1:]
		if s.peer != nil {
			w = s.peer(w)
		}
		s.rx = append(s.rx, w&s.wordMask())
	}
}

func (s *SSP) status() regs.StatusFlags {
	sr := s.sticky
	if len(s.tx) < FifoDepth {
		sr |= regs.SRTNF
	}
	sr |= regs.StatusFlags(len(s.tx)&0xf) << 8
	if len(s.rx) > 0 {
		sr |= regs.SRRNE
		sr |= regs.StatusFlags(len(s.rx)&0xf) << 12
	}
	if len(s.tx) > 0 && s.enabled() {
		sr |= regs.SRBSY
	}
	if s.desync > 0 {
		sr |= regs.SRCSS
	}
	return sr
}

func (s *SSP) loadLocked(off regs.Offset) uint32 {
	switch off {
	case regs.OffCR0:
		return s.cr0
	case regs.OffCR1:
		return s.cr1
	case regs.OffSR:
		return uint32(s.status())
	case regs.OffITR:
		return s.itr
	case regs.OffTO:
		return s.to
	case regs.OffPSP:
		return s.psp
	case regs.OffCR2:
		return s.cr2
	case regs.OffFS:
		return s.fs
	}
	return 0
}

// Load implements regs.Bank.
func (s *SSP) Load(off regs.Offset) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if off == regs.OffDR {
		s.drReads++
		return s.popLocked()
	}
	s.shift()
	return s.loadLocked(off)
}

// Store implements regs.Bank.
func (s *SSP) Store(off regs.Offset, v uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if off == regs.OffDR {
		s.drWrites++
		s.pushLocked(v)
		return
	}
	s.trace = append(s.trace, Access{Off: off, Val: v})
	switch off {
	case regs.OffCR0:
		s.cr0 = v
		if !s.enabled() {
			s.tx, s.rx = s.tx[:0], s.rx[:0]
		}
		s.shift()
	case regs.OffCR1:
		s.cr1 = v
	case regs.OffSR:
		s.sticky &^= regs.StatusFlags(v)
	case regs.OffITR:
		s.itr = v
	case regs.OffTO:
		s.to = v
	case regs.OffPSP:
		s.psp = v
	case regs.OffCR2:
		s.cr2 = v
	case regs.OffFS:
		s.fs = v
	}
}

func (s *SSP) pushLocked(w uint32) bool {
	if len(s.tx) >= FifoDepth {
		return false
	}
	s.tx = append(s.tx, w)
	s.shift()
	return true
}

func (s *SSP) popLocked() uint32 {
	if len(s.rx) == 0 {
		return 0
	}
	w := s.rx[0]
	s.rx = s.rx[1:]
	s.shift()
	return w
}

// dmaPush is the TX service request path: it reports false while the FIFO
// is full.
func (s *SSP) dmaPush(w uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pushLocked(w)
}

// dmaPop is the RX service request path.
func (s *SSP) dmaPop() (uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shift()
	if len(s.rx) == 0 {
		return 0, false
	}
	return s.popLocked(), true
}

// toggle is one clock edge driven from the side channel.
func (s *SSP) toggle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toggles++
	if s.desync > 0 {
		s.desync--
	}
}
