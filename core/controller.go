// Package core is the transfer engine of an SSP SPI controller.
//
// A Controller serializes submitted messages into one queue and drains it
// on a dedicated goroutine. Each transfer is programmed into the SSP
// registers and moved either by the companion DMA engine or by polling the
// FIFOs, with chip select bracketing the message.
package core

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/jkramarz/edison-spi/regs"
)

const (
	defaultAuxDelay     = 10 * time.Microsecond
	defaultSuspendTries = 25
	defaultSuspendPoll  = 20 * time.Millisecond
	defaultStallTimeout = time.Second
)

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger. Records carry the bus number and a component.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.log.l = l }
}

// WithAuxDelay sets the pause after each side channel access while bit
// banging the clock.
func WithAuxDelay(d time.Duration) Option {
	return func(c *Controller) { c.auxDelay = d }
}

// WithSuspendBudget sets how long Suspend waits for an in-flight message:
// tries polls of poll each.
func WithSuspendBudget(tries int, poll time.Duration) Option {
	return func(c *Controller) {
		c.suspendTries = tries
		c.suspendPoll = poll
	}
}

// WithStallTimeout bounds how long a polled FIFO may sit without progress
// before the transfer fails with ErrStalled. Zero waits forever, which is
// the default for slave ports clocked by the remote master.
func WithStallTimeout(d time.Duration) Option {
	return func(c *Controller) { c.stall = d }
}

// Controller is one SSP port.
type Controller struct {
	ssp  *regs.SSP
	aux  *regs.Aux
	res  Resources
	plat Platform
	log  logger

	auxDelay     time.Duration
	suspendTries int
	suspendPoll  time.Duration
	stall        time.Duration

	dma    *dmaPair
	zeros  []byte // TX source for transfers without one
	sink   []byte // RX destination for transfers without one
	events chan Direction
	bridge completionBridge

	// Trigger enables and interrupt mask of the chip set up last, read by
	// the interrupt handler.
	sig    atomic.Uint32
	maskSR atomic.Uint32

	mu        sync.Mutex
	queue     []*Message
	cur       *Message
	suspended bool
	closed    bool
	chips     map[int]*Chip
	csHigh    bool
	pinmuxed  bool

	// drain goroutine only
	x        cursor
	csActive bool

	wake    chan struct{}
	quit    chan struct{}
	finStop chan struct{}
	wg      sync.WaitGroup
	finWG   sync.WaitGroup
}

const clearSR = regs.SRTUR | regs.SRROR | regs.SRTINT

// New attaches a controller to res and starts its workers.
func New(res Resources, opts ...Option) (*Controller, error) {
	if res.Regs == nil {
		return nil, errors.Wrap(ErrInvalidArgument, "no register bank")
	}
	q := res.Platform.Quirks
	if q.Has(QuirkBitBang) && res.Aux == nil {
		return nil, errors.Wrap(ErrInvalidArgument, "clock bit-bang needs the aux bank")
	}
	if res.DMA != nil {
		if q.Has(QuirkSRAMCopy) {
			if res.Staging == nil || len(res.Staging.Mem) < 2*MaxTransferSize {
				return nil, errors.Wrap(ErrInvalidArgument, "sram copy needs a staging window")
			}
		} else if res.Mapper == nil {
			return nil, errors.Wrap(ErrInvalidArgument, "dma needs a mapper")
		}
	}

	stall := defaultStallTimeout
	if q.Has(QuirkSlaveClock) {
		stall = 0
	}
	c := &Controller{
		ssp:          regs.NewSSP(res.Regs),
		res:          res,
		plat:         res.Platform,
		log:          logger{l: Logger()},
		auxDelay:     defaultAuxDelay,
		suspendTries: defaultSuspendTries,
		suspendPoll:  defaultSuspendPoll,
		stall:        stall,
		events:       make(chan Direction, 2),
		chips:        make(map[int]*Chip),
		wake:         make(chan struct{}, 1),
		quit:         make(chan struct{}),
		finStop:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log.l = c.log.l.With("bus", c.plat.Bus)
	if res.Aux != nil {
		c.aux = regs.NewAux(res.Aux)
	}
	if res.DMA != nil {
		c.dma = newDMAPair(res.DMA, c.events, c.log)
		c.zeros = make([]byte, MaxTransferSize)
		c.sink = make([]byte, MaxTransferSize)
	}
	c.x.ssp = c.ssp
	c.sig.Store(uint32(regs.CR1TINTE))
	c.maskSR.Store(uint32(regs.SRROR | regs.SRTUR | regs.SRTINT))

	c.wg.Add(1)
	go c.pump()
	c.finWG.Add(1)
	go c.finalizer()

	c.log.info(ComponentSetup, "controller attached",
		"platform", c.plat.Variant, "quirks", c.plat.Quirks, "dma", c.dma != nil)
	return c, nil
}

// Platform returns the platform the controller was attached with.
func (c *Controller) Platform() Platform {
	return c.plat
}

// Close stops the workers after the in-flight message. Queued messages
// complete with ErrClosed.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	pending := c.queue
	c.queue = nil
	for _, m := range pending {
		m.owner = nil
	}
	c.mu.Unlock()

	close(c.quit)
	c.wg.Wait()
	close(c.finStop)
	c.finWG.Wait()

	for _, m := range pending {
		m.finish(errors.Wrap(ErrClosed, "message dropped"))
	}

	c.mu.Lock()
	c.dma.release()
	c.mu.Unlock()
	c.ssp.CR0.ClearBits(regs.CR0SSE)
	return nil
}
