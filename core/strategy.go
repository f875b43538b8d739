package core

import (
	"encoding/binary"
	"time"

	"github.com/jkramarz/edison-spi/regs"
)

// wordKind selects how one FIFO word moves between memory and the data
// register.
type wordKind uint8

const (
	wordDiscard wordKind = iota // no buffer: push zeros, drop reads
	word8
	word16
	word32
)

// wordFor returns the access kind and byte stride for a word width.
func wordFor(bits int) (wordKind, int) {
	switch {
	case bits <= 8:
		return word8, 1
	case bits <= 16:
		return word16, 2
	default:
		return word32, 4
	}
}

// cursor is the progress of the current transfer. Only the drain goroutine,
// the push worker it starts and the finalizer it waits on touch it; the TX
// and RX halves are never written by two goroutines at once.
type cursor struct {
	ssp *regs.SSP

	txKind, rxKind wordKind
	stride         int

	txBuf, rxBuf []byte
	tx, txEnd    int
	rx, rxEnd    int
	len          int

	dmaRX, dmaTX int // bytes covered by DMA
}

func (x *cursor) bind(t *Transfer, kind wordKind, stride int) {
	x.txKind, x.rxKind = kind, kind
	if t.TX == nil {
		x.txKind = wordDiscard
	}
	if t.RX == nil {
		x.rxKind = wordDiscard
	}
	x.stride = stride
	x.txBuf, x.rxBuf = t.TX, t.RX
	x.tx, x.rx = 0, 0
	x.txEnd, x.rxEnd = t.Len, t.Len
	x.len = t.Len
	x.dmaRX, x.dmaTX = 0, 0
}

// push writes at most one word. It returns the bytes consumed, zero when the
// TX FIFO sits at its full threshold or the source is exhausted.
func (x *cursor) push() int {
	if x.ssp.TxFifoFull() || x.tx == x.txEnd {
		return 0
	}
	var w uint32
	switch x.txKind {
	case word8:
		w = uint32(x.txBuf[x.tx])
	case word16:
		w = uint32(binary.LittleEndian.Uint16(x.txBuf[x.tx:]))
	case word32:
		w = binary.LittleEndian.Uint32(x.txBuf[x.tx:])
	}
	x.ssp.DR.Store(w)
	x.tx += x.stride
	return x.stride
}

// pull drains the RX FIFO into the destination while words are available
// and the transfer wants more. It reports whether the receive side is done.
func (x *cursor) pull() bool {
	for x.rx < x.rxEnd && !x.ssp.RxFifoEmpty() {
		w := x.ssp.DR.Load()
		switch x.rxKind {
		case word8:
			x.rxBuf[x.rx] = byte(w)
		case word16:
			binary.LittleEndian.PutUint16(x.rxBuf[x.rx:], uint16(w))
		case word32:
			binary.LittleEndian.PutUint32(x.rxBuf[x.rx:], w)
		}
		x.rx += x.stride
	}
	return x.rx == x.rxEnd
}

// stallWatch fails a FIFO loop that stops making progress. A zero limit
// never expires.
type stallWatch struct {
	limit time.Duration
	last  time.Time
}

func newStallWatch(limit time.Duration) stallWatch {
	return stallWatch{limit: limit, last: time.Now()}
}

// progress records whether pos moved since the previous call.
func (w *stallWatch) progress(moved bool) {
	if moved && w.limit > 0 {
		w.last = time.Now()
	}
}

func (w *stallWatch) expired() bool {
	return w.limit > 0 && time.Since(w.last) > w.limit
}
