package sim

import (
	"github.com/jkramarz/edison-spi/core"
)

// Fixed device addresses of the simulated board.
const (
	PortAddr    core.DevAddr = 0xff128000
	DataAddr                 = PortAddr + 0x10
	StagingAddr core.DevAddr = 0xfffdc000
)

// Board is one simulated SSP port with everything around it.
type Board struct {
	SSP     *SSP
	Aux     *Aux
	Mem     *Memory
	DMA     *DMA // nil without a DMA engine
	Staging *core.Staging
	Power   *Power

	Platform core.Platform
}

// NewBoard builds a port for p. channels is the number of free DMA
// channels, negative for a board without a DMA engine.
func NewBoard(p core.Platform, channels int) *Board {
	b := &Board{
		SSP:      NewSSP(),
		Mem:      NewMemory(),
		Power:    &Power{},
		Platform: p,
	}
	b.Aux = NewAux(b.SSP)
	if channels >= 0 {
		b.DMA = NewDMA(b.SSP, b.Mem, DataAddr, channels)
	}
	if p.Quirks.Has(core.QuirkSRAMCopy) {
		b.Staging = b.Mem.NewStaging(StagingAddr)
	}
	return b
}

// Resources returns the attach resources of the board.
func (b *Board) Resources() core.Resources {
	res := core.Resources{
		Regs:     b.SSP,
		Aux:      b.Aux,
		DataAddr: DataAddr,
		Platform: b.Platform,
		Mapper:   b.Mem,
		Staging:  b.Staging,
		Power:    b.Power,
	}
	if b.DMA != nil {
		res.DMA = b.DMA
	}
	return res
}
