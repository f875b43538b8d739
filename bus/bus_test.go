package bus

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"

	"github.com/jkramarz/edison-spi/core"
	"github.com/jkramarz/edison-spi/sim"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func newBoard(t *testing.T) (*core.Controller, *sim.Board) {
	t.Helper()
	b := sim.NewBoard(core.Platform{Variant: core.VariantMDFL, Quirks: core.QuirkNoTrail, Bus: 3, NumChipSelect: 2}, 2)
	c, err := core.New(b.Resources(), core.WithLogger(quiet), core.WithAuxDelay(0))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, b
}

type csLog struct {
	mu     sync.Mutex
	levels []bool
}

func (l *csLog) set(level bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.levels = append(l.levels, level)
}

func (l *csLog) get() []bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]bool(nil), l.levels...)
}

func TestPortConnect(t *testing.T) {
	c, _ := newBoard(t)
	p := NewPort(c, core.ChipConfig{ChipSelect: 1})
	assert.Equal(t, "SSP3.1", p.String())

	require.NoError(t, p.LimitSpeed(2*physic.MegaHertz))
	require.NoError(t, p.LimitSpeed(10*physic.MegaHertz), "a higher limit is ignored")
	assert.Error(t, p.LimitSpeed(0))

	sc, err := p.Connect(8*physic.MegaHertz, spi.Mode3, 16)
	require.NoError(t, err)
	cc := sc.(*Conn)
	assert.LessOrEqual(t, int64(cc.Chip().Speed()), int64(2*physic.MegaHertz))
	assert.Equal(t, 16, cc.Chip().BitsPerWord())
	assert.Equal(t, conn.Full, sc.Duplex())
	assert.Equal(t, "SSP3.1", sc.String())

	_, err = p.Connect(physic.MegaHertz, spi.Mode0|spi.HalfDuplex, 8)
	assert.Error(t, err)
	_, err = p.Connect(physic.MegaHertz, spi.Mode0, 40)
	assert.ErrorIs(t, err, core.ErrInvalidArgument)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
}

func TestConnTx(t *testing.T) {
	c, b := newBoard(t)
	p := NewPort(c, core.ChipConfig{Info: &core.ChipInfo{DMA: true, Burst: 8}})
	sc, err := p.Connect(4*physic.MegaHertz, spi.Mode0, 8)
	require.NoError(t, err)

	w := make([]byte, 300)
	for i := range w {
		w[i] = byte(i * 13)
	}
	r := make([]byte, len(w))
	require.NoError(t, sc.Tx(w, r))
	assert.Equal(t, w, r, "loopback")
	assert.NotEmpty(t, b.DMA.Moves())

	assert.NoError(t, sc.Tx(w[:10], nil), "write only")
	assert.NoError(t, sc.Tx(nil, r[:10]), "read only")
	assert.NoError(t, sc.Tx(nil, nil))
	assert.Error(t, sc.Tx(w[:4], r[:5]))
}

func TestConnLargeTx(t *testing.T) {
	c, _ := newBoard(t)
	var cs csLog
	p := NewPort(c, core.ChipConfig{Info: &core.ChipInfo{CS: cs.set}})
	sc, err := p.Connect(physic.MegaHertz, spi.Mode0, 8)
	require.NoError(t, err)

	w := make([]byte, core.MaxTransferSize+100)
	for i := range w {
		w[i] = byte(i)
	}
	r := make([]byte, len(w))
	require.NoError(t, sc.Tx(w, r))
	assert.Equal(t, w, r)
	assert.Equal(t, []bool{false, true}, cs.get(), "chip select held across chunks")
}

func TestConnPackets(t *testing.T) {
	c, _ := newBoard(t)
	var cs csLog
	p := NewPort(c, core.ChipConfig{Info: &core.ChipInfo{CS: cs.set}})
	sc, err := p.Connect(physic.MegaHertz, spi.Mode1, 8)
	require.NoError(t, err)

	cmd := []byte{0x9f, 0x00}
	resp := make([]byte, 2)
	data := make([]byte, 4)
	tail := make([]byte, 2)
	err = sc.TxPackets([]spi.Packet{
		{W: cmd, R: resp, KeepCS: true},
		{W: []byte{1, 2, 3, 4}, R: data},
		{W: []byte{5, 6}, R: tail},
	})
	require.NoError(t, err)
	assert.Equal(t, cmd, resp)
	assert.Equal(t, []byte{1, 2, 3, 4}, data)
	assert.Equal(t, []byte{5, 6}, tail)
	assert.Equal(t, []bool{false, true, false, true}, cs.get(),
		"released after the second packet only")

	err = sc.TxPackets([]spi.Packet{{W: []byte{1, 2}, R: make([]byte, 2), BitsPerWord: 16}})
	assert.NoError(t, err)
	err = sc.TxPackets([]spi.Packet{{W: []byte{1, 2, 3}, BitsPerWord: 16}})
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
}

func TestCSHighKept(t *testing.T) {
	c, _ := newBoard(t)
	var cs csLog
	p := NewPort(c, core.ChipConfig{Mode: core.ModeCSHigh, Info: &core.ChipInfo{CS: cs.set}})
	sc, err := p.Connect(physic.MegaHertz, spi.Mode0, 8)
	require.NoError(t, err)
	require.NoError(t, sc.Tx([]byte{1}, make([]byte, 1)))
	levels := cs.get()
	require.NotEmpty(t, levels)
	assert.True(t, levels[len(levels)-2], "asserted high")
	assert.False(t, levels[len(levels)-1])
}

func TestDevice(t *testing.T) {
	c, b := newBoard(t)
	b.SSP.SetPeer(func(w uint32) uint32 { return w ^ 0xff })
	p := NewPort(c, core.ChipConfig{})
	sc, err := p.Connect(physic.MegaHertz, spi.Mode0, 8)
	require.NoError(t, err)

	d := NewDevice(sc.(*Conn))
	got, err := d.Transfer(0x0f)
	require.NoError(t, err)
	assert.Equal(t, byte(0xf0), got)

	r := make([]byte, 3)
	require.NoError(t, d.Tx([]byte{0, 1, 2}, r))
	assert.Equal(t, []byte{0xff, 0xfe, 0xfd}, r)
}

var _ conn.Conn = (*Conn)(nil)
