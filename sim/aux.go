package sim

import (
	"sync"

	"github.com/jkramarz/edison-spi/regs"
)

// Values of the aux control register.
const (
	AuxCtrlDrive   = 0x01070034 // drive the clock pin from the data register
	AuxCtrlRelease = 0x01070038 // hand the pin back to the port
)

// Aux is the simulated clock override side channel of an SSP port. Every
// drive command with the clock bit high in the data register is one clock
// edge for the port.
type Aux struct {
	mu     sync.Mutex
	port   *SSP
	ctrl   uint32
	data   uint32
	writes []Access
}

// NewAux returns a side channel driving port's clock.
func NewAux(port *SSP) *Aux {
	return &Aux{port: port}
}

// Load implements regs.Bank.
func (a *Aux) Load(off regs.Offset) uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch off {
	case regs.OffAuxCtrl:
		return a.ctrl
	case regs.OffAuxData:
		return a.data
	}
	return 0
}

// Store implements regs.Bank.
func (a *Aux) Store(off regs.Offset, v uint32) {
	a.mu.Lock()
	a.writes = append(a.writes, Access{Off: off, Val: v})
	edge := false
	switch off {
	case regs.OffAuxCtrl:
		a.ctrl = v
		edge = v == AuxCtrlDrive && a.data&1 != 0
	case regs.OffAuxData:
		a.data = v
	}
	a.mu.Unlock()

	if edge {
		a.port.toggle()
	}
}

// Writes returns all side channel writes in order.
func (a *Aux) Writes() []Access {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Access(nil), a.writes...)
}
