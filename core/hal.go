package core

import (
	"github.com/jkramarz/edison-spi/regs"
)

// DevAddr is an address as seen by the DMA engine.
type DevAddr uint64

// Direction of a DMA stream, relative to the SSP port.
type Direction uint8

const (
	DirRX Direction = iota // device to memory
	DirTX                  // memory to device

	dirBoth // synthetic, both streams bypassed
)

func (d Direction) String() string {
	switch d {
	case DirRX:
		return "rx"
	case DirTX:
		return "tx"
	default:
		return "none"
	}
}

// Mapper makes CPU buffers reachable by the DMA engine.
type Mapper interface {
	// Map returns the device address of buf for a transfer in dir.
	Map(buf []byte, dir Direction) (DevAddr, error)

	// Unmap releases a mapping returned by Map.
	Unmap(addr DevAddr, n int, dir Direction)
}

// SlaveConfig is the static per-direction setup of a DMA channel.
type SlaveConfig struct {
	Direction   Direction
	RequestLine int     // hardware handshake line
	AddrWidth   int     // bytes per device access
	MaxBurst    int     // words per service request
	DevAddr     DevAddr // the SSP data register
}

// DMAEngine hands out channels of the controller's companion DMA engine.
type DMAEngine interface {
	// RequestChannel returns a free channel able to serve dir.
	RequestChannel(dir Direction) (DMAChannel, error)
}

// DMAChannel is one hardware DMA channel.
type DMAChannel interface {
	Configure(cfg SlaveConfig) error

	// Prepare builds a descriptor moving n bytes from src to dst. A channel
	// that cannot describe the move returns an error; the controller then
	// runs neither stream and polls the transfer.
	Prepare(dst, src DevAddr, n int) (Descriptor, error)

	Release()
}

// Descriptor is a prepared DMA move.
type Descriptor interface {
	// Submit starts the move. done.Signal must be called exactly once, from
	// any goroutine, when the engine finished the move.
	Submit(done Completion)
}

// Completion is the one-shot notification of a DMA stream. It carries the
// stream direction and the controller's completion queue; the zero value
// discards the signal.
type Completion struct {
	dir Direction
	ch  chan<- Direction
}

// Direction reports which stream this completion belongs to.
func (c Completion) Direction() Direction { return c.dir }

// Signal reports the stream finished. It never blocks.
func (c Completion) Signal() {
	if c.ch == nil {
		return
	}
	select {
	case c.ch <- c.dir:
	default:
	}
}

// PowerManager is told when the message pump starts and stops working.
type PowerManager interface {
	Busy()
	Idle()
}

// Staging is a device-local memory window the DMA engine must use instead
// of system memory on some platforms. RX occupies the first MaxTransferSize
// bytes, TX the next MaxTransferSize.
type Staging struct {
	Mem  []byte
	Addr DevAddr
}

func (s *Staging) rx() ([]byte, DevAddr) {
	return s.Mem[:MaxTransferSize], s.Addr
}

func (s *Staging) tx() ([]byte, DevAddr) {
	return s.Mem[MaxTransferSize : 2*MaxTransferSize], s.Addr + MaxTransferSize
}

// Resources is what device attach hands to the controller.
type Resources struct {
	Regs     regs.Bank // SSP register block
	Aux      regs.Bank // clock override side channel, bit-bang platforms only
	DataAddr DevAddr   // device address of the data register

	Platform Platform

	DMA     DMAEngine // nil when the platform has no usable DMA
	Mapper  Mapper
	Staging *Staging // required with QuirkSRAMCopy

	Power PowerManager // optional
}
