package bridge

import (
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/jkramarz/edison-spi/host/serial"
	"github.com/jkramarz/edison-spi/protocol"
	"github.com/jkramarz/edison-spi/regs"
)

// identifyChunk is the dictionary slice requested per identify.
const identifyChunk = 40

// Client is the host end of a bridge link.
type Client struct {
	host    *protocol.Host
	timeout time.Duration
	log     *slog.Logger

	mu  sync.Mutex
	err error
}

// NewClient starts a client on port.
func NewClient(port io.ReadWriteCloser, opts ...Option) *Client {
	o := buildOptions(opts)
	return &Client{
		host:    protocol.NewHost(port),
		timeout: o.timeout,
		log:     o.log,
	}
}

// Dial opens the serial device in cfg and starts a client on it.
func Dial(cfg *serial.Config, opts ...Option) (*Client, error) {
	port, err := serial.Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := port.Flush(); err != nil {
		port.Close()
		return nil, errors.Wrap(err, "flush serial port")
	}
	return NewClient(port, opts...), nil
}

// Identify retrieves the device dictionary and checks that it numbers the
// register commands as expected.
func (c *Client) Identify() (*Dictionary, error) {
	var sb strings.Builder
	for offset := uint32(0); ; {
		chunk, err := c.identify(offset, identifyChunk)
		if err != nil {
			return nil, errors.Wrapf(err, "dictionary chunk at offset %d", offset)
		}
		sb.Write(chunk)
		offset += uint32(len(chunk))
		if len(chunk) < identifyChunk {
			break
		}
	}
	d := ParseDictionary(sb.String())
	c.log.Debug("identified device", "bytes", sb.Len(), "commands", len(d.Commands))
	if err := d.check(); err != nil {
		return d, err
	}
	return d, nil
}

func (c *Client) identify(offset uint32, count int) ([]byte, error) {
	p := protocol.AppendUint(nil, uint32(CmdIdentify))
	p = protocol.AppendUint(p, offset)
	p = protocol.AppendUint(p, uint32(count))
	resp, err := c.host.Call(p, c.timeout)
	if err != nil {
		return nil, err
	}
	d := protocol.NewDecoder(resp)
	id, off := d.Uint(), d.Uint()
	data := d.Bytes()
	if err := d.Err(); err != nil {
		return nil, errors.Wrap(err, "identify response")
	}
	if uint16(id) != RspIdentify || off != offset {
		return nil, errors.Wrapf(ErrResponse, "id %d offset %d", id, off)
	}
	return data, nil
}

// Read loads a register of bank.
func (c *Client) Read(bank uint8, off regs.Offset) (uint32, error) {
	p := protocol.AppendUint(nil, uint32(CmdRegRead))
	p = protocol.AppendUint(p, uint32(bank))
	p = protocol.AppendUint(p, uint32(off))
	resp, err := c.host.Call(p, c.timeout)
	if err != nil {
		return 0, errors.Wrapf(err, "read bank %d offset %#x", bank, uint32(off))
	}
	d := protocol.NewDecoder(resp)
	id, b, o, v := d.Uint(), d.Uint(), d.Uint(), d.Uint()
	if err := d.Err(); err != nil {
		return 0, errors.Wrap(err, "reg_value")
	}
	if uint16(id) != RspRegValue || b != uint32(bank) || o != uint32(off) {
		return 0, errors.Wrapf(ErrResponse, "id %d bank %d offset %#x", id, b, o)
	}
	return v, nil
}

// Write stores a register of bank.
func (c *Client) Write(bank uint8, off regs.Offset, v uint32) error {
	p := protocol.AppendUint(nil, uint32(CmdRegWrite))
	p = protocol.AppendUint(p, uint32(bank))
	p = protocol.AppendUint(p, uint32(off))
	p = protocol.AppendUint(p, v)
	if err := c.host.Send(p, c.timeout); err != nil {
		return errors.Wrapf(err, "write bank %d offset %#x", bank, uint32(off))
	}
	return nil
}

// Bank returns bank id as a register window.
func (c *Client) Bank(id uint8) *Bank {
	return &Bank{c: c, id: id}
}

// Err returns the first error a Bank swallowed.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) latch(err error) {
	c.log.Error("register access failed", "err", err)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

// Close stops the link and closes the port.
func (c *Client) Close() error {
	return c.host.Close()
}

// Bank is a remote register bank. Failed accesses read as zero and are
// latched in the client's Err.
type Bank struct {
	c  *Client
	id uint8
}

func (b *Bank) Load(off regs.Offset) uint32 {
	v, err := b.c.Read(b.id, off)
	if err != nil {
		b.c.latch(err)
		return 0
	}
	return v
}

func (b *Bank) Store(off regs.Offset, v uint32) {
	if err := b.c.Write(b.id, off, v); err != nil {
		b.c.latch(err)
	}
}

var _ regs.Bank = (*Bank)(nil)
