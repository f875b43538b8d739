package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkramarz/edison-spi/core"
	"github.com/jkramarz/edison-spi/regs"
)

func enable(s *SSP, bits int) {
	cr0 := regs.DataSize(bits) | regs.CR0SSE
	if bits > 16 {
		cr0 |= regs.CR0EDSS
	}
	s.Store(regs.OffCR0, uint32(cr0))
}

func TestSSPEcho(t *testing.T) {
	s := NewSSP()
	enable(s, 8)

	s.Store(regs.OffDR, 0x1a5)
	s.Store(regs.OffDR, 0x42)

	sr := regs.StatusFlags(s.Load(regs.OffSR))
	assert.NotZero(t, sr&regs.SRRNE)
	assert.NotZero(t, sr&regs.SRTNF)
	assert.Equal(t, 2, sr.RxLevel())

	assert.Equal(t, uint32(0xa5), s.Load(regs.OffDR), "word masked to 8 bits")
	assert.Equal(t, uint32(0x42), s.Load(regs.OffDR))
	assert.Zero(t, regs.StatusFlags(s.Load(regs.OffSR))&regs.SRRNE)

	writes, reads := s.DataCounts()
	assert.Equal(t, 2, writes)
	assert.Equal(t, 2, reads)
}

func TestSSPPeerAndWideWords(t *testing.T) {
	s := NewSSP()
	s.SetPeer(func(w uint32) uint32 { return ^w })
	enable(s, 32)

	s.Store(regs.OffDR, 0x0000ffff)
	assert.Equal(t, uint32(0xffff0000), s.Load(regs.OffDR))
}

func TestSSPStallsWhenRxFull(t *testing.T) {
	s := NewSSP()
	enable(s, 16)
	for i := 0; i < FifoDepth+3; i++ {
		s.Store(regs.OffDR, uint32(i))
	}
	tx, rx := s.Levels()
	assert.Equal(t, 3, tx)
	assert.Equal(t, FifoDepth, rx)

	s.Load(regs.OffDR)
	tx, rx = s.Levels()
	assert.Equal(t, 2, tx)
	assert.Equal(t, FifoDepth, rx)
}

func TestSSPDisableClearsFifos(t *testing.T) {
	s := NewSSP()
	s.Preload([]uint32{1, 2}, []uint32{3})
	sr := regs.StatusFlags(s.Load(regs.OffSR))
	assert.Equal(t, 2, sr.TxLevel())
	assert.Zero(t, sr&regs.SRBSY, "disabled port is not busy")

	s.Store(regs.OffCR0, 0)
	tx, rx := s.Levels()
	assert.Zero(t, tx)
	assert.Zero(t, rx)
}

func TestSSPStickyStatus(t *testing.T) {
	s := NewSSP()
	s.Raise(regs.SRROR | regs.SRTUR | regs.SRBSY)
	sr := regs.StatusFlags(s.Load(regs.OffSR))
	assert.NotZero(t, sr&regs.SRROR)
	assert.NotZero(t, sr&regs.SRTUR)

	s.Store(regs.OffSR, uint32(regs.SRROR))
	sr = regs.StatusFlags(s.Load(regs.OffSR))
	assert.Zero(t, sr&regs.SRROR)
	assert.NotZero(t, sr&regs.SRTUR)
}

func TestSSPTrace(t *testing.T) {
	s := NewSSP()
	s.Store(regs.OffCR1, 7)
	s.Store(regs.OffDR, 1)
	s.Store(regs.OffTO, 9)
	assert.Equal(t, []Access{{regs.OffCR1, 7}, {regs.OffTO, 9}}, s.Trace())

	s.ResetTrace()
	assert.Empty(t, s.Trace())
	assert.Equal(t, uint32(7), s.Reg(regs.OffCR1))
}

func TestAuxTogglesClearDesync(t *testing.T) {
	s := NewSSP()
	a := NewAux(s)
	s.SetDesync(2)
	assert.NotZero(t, regs.StatusFlags(s.Load(regs.OffSR))&regs.SRCSS)

	a.Store(regs.OffAuxData, 3)
	a.Store(regs.OffAuxCtrl, AuxCtrlDrive)
	a.Store(regs.OffAuxData, 2)
	a.Store(regs.OffAuxCtrl, AuxCtrlDrive)
	assert.NotZero(t, regs.StatusFlags(s.Load(regs.OffSR))&regs.SRCSS)

	a.Store(regs.OffAuxData, 3)
	a.Store(regs.OffAuxCtrl, AuxCtrlDrive)
	assert.Zero(t, regs.StatusFlags(s.Load(regs.OffSR))&regs.SRCSS)
	assert.Equal(t, 2, s.Toggles())
	assert.Len(t, a.Writes(), 6)
	assert.Equal(t, uint32(AuxCtrlDrive), a.Load(regs.OffAuxCtrl))
}

func TestMemoryMapping(t *testing.T) {
	m := NewMemory()
	buf := make([]byte, 100)
	addr, err := m.Map(buf, core.DirTX)
	require.NoError(t, err)
	other, err := m.Map(make([]byte, 10), core.DirRX)
	require.NoError(t, err)
	assert.NotEqual(t, addr, other)
	assert.Equal(t, 2, m.Mapped())

	w, err := m.resolve(addr+96, 4)
	require.NoError(t, err)
	w[0] = 0x5a
	assert.Equal(t, byte(0x5a), buf[96])

	_, err = m.resolve(addr+98, 4)
	assert.Error(t, err)

	m.Unmap(addr, len(buf), core.DirTX)
	assert.Equal(t, 1, m.Mapped())

	m.FailMap(2)
	_, err = m.Map(buf, core.DirTX)
	assert.NoError(t, err)
	_, err = m.Map(buf, core.DirRX)
	assert.ErrorIs(t, err, ErrMapFailed)
	assert.Equal(t, 3, m.Maps())
}

func TestMemoryStaging(t *testing.T) {
	m := NewMemory()
	st := m.NewStaging(StagingAddr)
	require.Len(t, st.Mem, 2*core.MaxTransferSize)

	w, err := m.resolve(StagingAddr+core.MaxTransferSize, 8)
	require.NoError(t, err)
	w[0] = 1
	assert.Equal(t, byte(1), st.Mem[core.MaxTransferSize])
}

func TestDMALoopback(t *testing.T) {
	b := NewBoard(core.Platform{Variant: core.VariantMRFL}, 2)
	enable(b.SSP, 16)

	rxch, err := b.DMA.RequestChannel(core.DirRX)
	require.NoError(t, err)
	txch, err := b.DMA.RequestChannel(core.DirTX)
	require.NoError(t, err)
	_, err = b.DMA.RequestChannel(core.DirTX)
	assert.ErrorIs(t, err, ErrNoChannel)

	require.NoError(t, rxch.Configure(core.SlaveConfig{Direction: core.DirRX, AddrWidth: 2, DevAddr: DataAddr}))
	require.NoError(t, txch.Configure(core.SlaveConfig{Direction: core.DirTX, AddrWidth: 2, DevAddr: DataAddr}))
	assert.Error(t, txch.Configure(core.SlaveConfig{Direction: core.DirRX, AddrWidth: 2}))

	src := make([]byte, 64)
	for i := range src {
		src[i] = byte(i * 3)
	}
	dst := make([]byte, 64)
	srcAddr, _ := b.Mem.Map(src, core.DirTX)
	dstAddr, _ := b.Mem.Map(dst, core.DirRX)

	rxd, err := rxch.Prepare(dstAddr, DataAddr, len(dst))
	require.NoError(t, err)
	txd, err := txch.Prepare(DataAddr, srcAddr, len(src))
	require.NoError(t, err)
	_, err = txch.Prepare(DataAddr, srcAddr, 3)
	assert.Error(t, err, "length not a multiple of the width")

	rxd.Submit(core.Completion{})
	txd.Submit(core.Completion{})
	b.DMA.Wait()

	assert.Empty(t, b.DMA.Errors())
	assert.Equal(t, src, dst)
	assert.Len(t, b.DMA.Moves(), 2)
	assert.Len(t, b.DMA.Configs(), 2)

	b.DMA.FailPrepare(core.DirRX, 1)
	_, err = rxch.Prepare(dstAddr, DataAddr, 4)
	assert.ErrorIs(t, err, ErrPrepareFailed)

	rxch.Release()
	txch.Release()
	assert.Equal(t, 2, b.DMA.Released())
}

func TestBoardResources(t *testing.T) {
	b := NewBoard(core.Platform{Variant: core.VariantMRST, Quirks: core.QuirkSRAMCopy}, -1)
	res := b.Resources()
	assert.Nil(t, res.DMA)
	assert.NotNil(t, res.Staging)
	assert.Equal(t, DataAddr, res.DataAddr)
}
