// Package bus exposes controller chips through the periph.io and TinyGo
// SPI interfaces.
package bus

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"

	"github.com/jkramarz/edison-spi/core"
)

// Port is one chip select of a controller.
type Port struct {
	ctrl *core.Controller
	base core.ChipConfig

	mu      sync.Mutex
	maxFreq physic.Frequency
	conn    *Conn
}

// NewPort returns the port for the chip described by base. Connect
// replaces its speed, clock mode and word size; chip select, polarity and
// board settings are kept.
func NewPort(ctrl *core.Controller, base core.ChipConfig) *Port {
	return &Port{ctrl: ctrl, base: base}
}

func (p *Port) String() string {
	return fmt.Sprintf("SSP%d.%d", p.ctrl.Platform().Bus, p.base.ChipSelect)
}

// Connect implements spi.Port. Each call reconfigures the chip.
func (p *Port) Connect(f physic.Frequency, m spi.Mode, bits int) (spi.Conn, error) {
	if f < 0 {
		return nil, errors.Errorf("bus: invalid speed %s", f)
	}
	if m&(spi.HalfDuplex|spi.LSBFirst|spi.NoCS) != 0 {
		return nil, errors.Errorf("bus: unsupported mode %s", m)
	}
	if m < spi.Mode0 || m > spi.Mode3 {
		return nil, errors.Errorf("bus: unknown spi mode %d", m)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.maxFreq != 0 && (f == 0 || f > p.maxFreq) {
		f = p.maxFreq
	}
	cfg := p.base
	cfg.MaxSpeed = f
	cfg.BitsPerWord = bits
	cfg.Mode = cfg.Mode&core.ModeCSHigh | core.Mode(m)
	chip, err := p.ctrl.Setup(cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "bus: connect %s", p)
	}
	p.conn = &Conn{port: p, chip: chip}
	return p.conn, nil
}

// LimitSpeed implements spi.Port. It takes effect on the next Connect.
func (p *Port) LimitSpeed(f physic.Frequency) error {
	if f <= 0 {
		return errors.Errorf("bus: invalid speed %s", f)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.maxFreq == 0 || f < p.maxFreq {
		p.maxFreq = f
	}
	return nil
}

// Close detaches the chip from the controller.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.ctrl.Remove(p.conn.chip)
	p.conn = nil
	p.maxFreq = 0
	return err
}

// Conn is a connected chip.
type Conn struct {
	port *Port
	chip *core.Chip
}

func (c *Conn) String() string {
	return c.port.String()
}

// Chip returns the controller chip behind c.
func (c *Conn) Chip() *core.Chip {
	return c.chip
}

// Duplex implements conn.Conn.
func (c *Conn) Duplex() conn.Duplex {
	return conn.Full
}

// Tx runs one transfer. w and r must have the same length unless one of
// them is empty.
func (c *Conn) Tx(w, r []byte) error {
	return c.TxPackets([]spi.Packet{{W: w, R: r}})
}

// TxPackets runs pkts as one message. Chip select is released between
// packets unless KeepCS is set.
func (c *Conn) TxPackets(pkts []spi.Packet) error {
	var xfers []*core.Transfer
	for i, pkt := range pkts {
		n := len(pkt.W)
		if len(pkt.R) > n {
			n = len(pkt.R)
		}
		if len(pkt.W) != 0 && len(pkt.R) != 0 && len(pkt.W) != len(pkt.R) {
			return errors.Errorf("bus: packet %d: write %d and read %d bytes differ", i, len(pkt.W), len(pkt.R))
		}
		if n == 0 {
			continue
		}
		last := i == len(pkts)-1
		for off := 0; off < n; off += core.MaxTransferSize {
			end := off + core.MaxTransferSize
			if end > n {
				end = n
			}
			t := &core.Transfer{Len: end - off, BitsPerWord: int(pkt.BitsPerWord)}
			if len(pkt.W) != 0 {
				t.TX = pkt.W[off:end]
			}
			if len(pkt.R) != 0 {
				t.RX = pkt.R[off:end]
			}
			t.CSChange = end == n && !last && !pkt.KeepCS
			xfers = append(xfers, t)
		}
	}
	if len(xfers) == 0 {
		return nil
	}
	m := core.NewMessage(c.chip, xfers...)
	if err := c.chip.Controller().Submit(m); err != nil {
		return err
	}
	return m.Wait()
}

var _ spi.PortCloser = (*Port)(nil)
var _ spi.Conn = (*Conn)(nil)
