package core

import (
	"github.com/pkg/errors"
)

// dmaPair owns the RX and TX channels of one controller. Only one transfer
// is in flight on the pair at a time.
type dmaPair struct {
	eng    DMAEngine
	rx, tx DMAChannel
	events chan<- Direction
	log    logger
}

func newDMAPair(eng DMAEngine, events chan<- Direction, log logger) *dmaPair {
	return &dmaPair{eng: eng, events: events, log: log}
}

func (d *dmaPair) ready() bool {
	return d != nil && d.rx != nil && d.tx != nil
}

// acquire requests both channels. It is a no-op once they are held.
func (d *dmaPair) acquire() error {
	if d.ready() {
		return nil
	}
	rx, err := d.eng.RequestChannel(DirRX)
	if err != nil {
		return errors.Wrapf(ErrNoDMA, "rx channel: %v", err)
	}
	tx, err := d.eng.RequestChannel(DirTX)
	if err != nil {
		rx.Release()
		return errors.Wrapf(ErrNoDMA, "tx channel: %v", err)
	}
	d.rx, d.tx = rx, tx
	d.log.debug(ComponentDMA, "channels acquired")
	return nil
}

// burstFor maps an RX FIFO threshold to a DMA burst size.
func burstFor(threshold int) int {
	switch threshold {
	case 8:
		return 8
	case 4:
		return 4
	default:
		return 1
	}
}

// configure programs the static slave parameters for one word width.
func (d *dmaPair) configure(p Platform, stride, threshold int, data DevAddr) error {
	rxLine, txLine := p.dmaRequestLines()
	burst := burstFor(threshold)
	err := d.rx.Configure(SlaveConfig{
		Direction:   DirRX,
		RequestLine: rxLine,
		AddrWidth:   stride,
		MaxBurst:    burst,
		DevAddr:     data,
	})
	if err != nil {
		return errors.Wrap(err, "configure rx channel")
	}
	err = d.tx.Configure(SlaveConfig{
		Direction:   DirTX,
		RequestLine: txLine,
		AddrWidth:   stride,
		MaxBurst:    burst,
		DevAddr:     data,
	})
	return errors.Wrap(err, "configure tx channel")
}

// prepare builds the descriptors of both streams. The pair moves together:
// if either descriptor cannot be prepared neither stream runs, both are
// marked done on b right away and the caller polls the transfer.
func (d *dmaPair) prepare(b *completionBridge, data, rxBuf, txBuf DevAddr, rxLen, txLen int) (rxd, txd Descriptor) {
	var err error
	if rxLen > 0 {
		if rxd, err = d.rx.Prepare(rxBuf, data, rxLen); err != nil {
			d.log.debug(ComponentDMA, "rx descriptor not prepared", "len", rxLen, "error", err)
			rxd = nil
		}
	}
	if rxd != nil && txLen > 0 {
		if txd, err = d.tx.Prepare(data, txBuf, txLen); err != nil {
			d.log.debug(ComponentDMA, "tx descriptor not prepared", "len", txLen, "error", err)
			txd = nil
		}
	}
	if rxd == nil || txd == nil {
		rxd, txd = nil, nil
		b.skip(DirRX)
		b.skip(DirTX)
	}
	return rxd, txd
}

// fire starts the prepared streams. With neither prepared the pair
// completes without touching hardware.
func (d *dmaPair) fire(rxd, txd Descriptor) {
	if rxd == nil && txd == nil {
		d.log.debug(ComponentDMA, "bypassing dma")
		d.events <- dirBoth
		return
	}
	if rxd != nil {
		rxd.Submit(Completion{dir: DirRX, ch: d.events})
	}
	if txd != nil {
		txd.Submit(Completion{dir: DirTX, ch: d.events})
	}
}

// release returns both channels. Safe to call repeatedly.
func (d *dmaPair) release() {
	if d == nil {
		return
	}
	if d.rx != nil {
		d.rx.Release()
		d.rx = nil
	}
	if d.tx != nil {
		d.tx.Release()
		d.tx = nil
	}
}
