package bridge

import (
	"io"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/jkramarz/edison-spi/protocol"
	"github.com/jkramarz/edison-spi/regs"
)

// maxChunk bounds identify data so a response fits one frame.
const maxChunk = protocol.PayloadMax - 12

// Responder serves register banks to a bridge client.
type Responder struct {
	reg   *Registry
	banks map[uint8]regs.Bank
	dev   *protocol.Device
	log   *slog.Logger
}

// NewResponder returns a responder answering on w for banks.
func NewResponder(w io.Writer, banks map[uint8]regs.Bank, opts ...Option) *Responder {
	o := buildOptions(opts)
	r := &Responder{
		reg:   NewRegistry(),
		banks: banks,
		log:   o.log,
	}
	r.reg.Register("identify", "offset=%u count=%c", r.identify)
	r.reg.Register("reg_read", "bank=%c offset=%u", r.read)
	r.reg.Register("reg_write", "bank=%c offset=%u value=%u", r.write)
	r.reg.Register("identify_response", "offset=%u data=%*s", nil)
	r.reg.Register("reg_value", "bank=%c offset=%u value=%u", nil)

	r.dev = protocol.NewDevice(w, r.reg.Dispatch)
	r.dev.OnReset(func() { r.log.Info("host restarted link") })
	r.dev.OnError(func(err error) { r.log.Warn("command failed", "err", err) })
	return r
}

// Registry returns the command registry.
func (r *Responder) Registry() *Registry {
	return r.reg
}

// Write feeds stream data received from the client.
func (r *Responder) Write(p []byte) (int, error) {
	return r.dev.Write(p)
}

// Serve answers requests read from rd until EOF.
func (r *Responder) Serve(rd io.Reader) error {
	return r.dev.Serve(rd)
}

func (r *Responder) identify(d *protocol.Decoder) ([][]byte, error) {
	offset := d.Uint()
	count := d.Uint()
	if d.Err() != nil {
		return nil, nil
	}
	dict := r.reg.Dictionary()
	if count > maxChunk {
		count = maxChunk
	}
	var data []byte
	if int(offset) < len(dict) {
		end := int(offset) + int(count)
		if end > len(dict) {
			end = len(dict)
		}
		data = []byte(dict[offset:end])
	}
	p := protocol.AppendUint(nil, uint32(RspIdentify))
	p = protocol.AppendUint(p, offset)
	p = protocol.AppendBytes(p, data)
	return [][]byte{p}, nil
}

func (r *Responder) bank(id uint32) (regs.Bank, error) {
	b, ok := r.banks[uint8(id)]
	if !ok || id > 0xff {
		return nil, errors.Wrapf(ErrUnknownBank, "bank %d", id)
	}
	return b, nil
}

func (r *Responder) read(d *protocol.Decoder) ([][]byte, error) {
	id, off := d.Uint(), d.Uint()
	if d.Err() != nil {
		return nil, nil
	}
	b, err := r.bank(id)
	if err != nil {
		return nil, err
	}
	v := b.Load(regs.Offset(off))
	r.log.Debug("reg read", "bank", id, "offset", off, "value", v)

	p := protocol.AppendUint(nil, uint32(RspRegValue))
	p = protocol.AppendUint(p, id)
	p = protocol.AppendUint(p, off)
	p = protocol.AppendUint(p, v)
	return [][]byte{p}, nil
}

func (r *Responder) write(d *protocol.Decoder) ([][]byte, error) {
	id, off, v := d.Uint(), d.Uint(), d.Uint()
	if d.Err() != nil {
		return nil, nil
	}
	b, err := r.bank(id)
	if err != nil {
		return nil, err
	}
	r.log.Debug("reg write", "bank", id, "offset", off, "value", v)
	b.Store(regs.Offset(off), v)
	return nil, nil
}
