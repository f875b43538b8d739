package sim

import (
	"encoding/binary"
	"runtime"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/jkramarz/edison-spi/core"
)

var (
	// ErrNoChannel is returned when all simulated channels are taken.
	ErrNoChannel = errors.New("sim: no free dma channel")

	// ErrPrepareFailed is returned by an injected descriptor failure.
	ErrPrepareFailed = errors.New("sim: descriptor not prepared")
)

// Move is one finished DMA stream.
type Move struct {
	Dir core.Direction
	Len int
}

// DMA is a simulated DMA engine serving one SSP port. Each submitted
// descriptor runs on its own goroutine and signals completion from there.
type DMA struct {
	port *SSP
	mem  *Memory
	data core.DevAddr

	// Stall bounds how long a stream waits on a FIFO before it gives up
	// and reports an error.
	Stall time.Duration

	mu       sync.Mutex
	free     int
	failing  map[core.Direction]int
	configs  []core.SlaveConfig
	moves    []Move
	errs     []error
	released int
	wg       sync.WaitGroup
}

// NewDMA returns an engine with channels free channels moving data between
// mem and port, whose data register sits at data.
func NewDMA(port *SSP, mem *Memory, data core.DevAddr, channels int) *DMA {
	return &DMA{
		port:    port,
		mem:     mem,
		data:    data,
		Stall:   2 * time.Second,
		free:    channels,
		failing: make(map[core.Direction]int),
	}
}

// FailPrepare makes the next n descriptor preparations for dir fail.
func (d *DMA) FailPrepare(dir core.Direction, n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failing[dir] = n
}

// Configs returns every slave configuration applied, in order.
func (d *DMA) Configs() []core.SlaveConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]core.SlaveConfig(nil), d.configs...)
}

// Moves returns the finished streams in completion order.
func (d *DMA) Moves() []Move {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Move(nil), d.moves...)
}

// Errors returns the streams that stalled or hit unmapped memory.
func (d *DMA) Errors() []error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]error(nil), d.errs...)
}

// Released returns how many channels were given back.
func (d *DMA) Released() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.released
}

// Wait blocks until all submitted streams finished.
func (d *DMA) Wait() {
	d.wg.Wait()
}

// RequestChannel implements core.DMAEngine.
func (d *DMA) RequestChannel(dir core.Direction) (core.DMAChannel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.free == 0 {
		return nil, ErrNoChannel
	}
	d.free--
	return &channel{dma: d, dir: dir}, nil
}

type channel struct {
	dma *DMA
	dir core.Direction
	cfg core.SlaveConfig
}

func (ch *channel) Configure(cfg core.SlaveConfig) error {
	if cfg.Direction != ch.dir {
		return errors.Errorf("sim: %s channel configured for %s", ch.dir, cfg.Direction)
	}
	switch cfg.AddrWidth {
	case 1, 2, 4:
	default:
		return errors.Errorf("sim: address width %d", cfg.AddrWidth)
	}
	ch.dma.mu.Lock()
	defer ch.dma.mu.Unlock()
	ch.cfg = cfg
	ch.dma.configs = append(ch.dma.configs, cfg)
	return nil
}

func (ch *channel) Prepare(dst, src core.DevAddr, n int) (core.Descriptor, error) {
	d := ch.dma
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failing[ch.dir] > 0 {
		d.failing[ch.dir]--
		return nil, ErrPrepareFailed
	}
	if ch.cfg.AddrWidth == 0 {
		return nil, errors.New("sim: channel not configured")
	}
	if n <= 0 || n%ch.cfg.AddrWidth != 0 {
		return nil, errors.Errorf("sim: length %d with width %d", n, ch.cfg.AddrWidth)
	}
	mem := src
	if ch.dir == core.DirRX {
		if src != d.data {
			return nil, errors.Errorf("sim: rx source %#x is not the data register", uint64(src))
		}
		mem = dst
	} else if dst != d.data {
		return nil, errors.Errorf("sim: tx destination %#x is not the data register", uint64(dst))
	}
	return &descriptor{ch: ch, addr: mem, n: n, width: ch.cfg.AddrWidth}, nil
}

func (ch *channel) Release() {
	ch.dma.mu.Lock()
	defer ch.dma.mu.Unlock()
	ch.dma.free++
	ch.dma.released++
}

type descriptor struct {
	ch    *channel
	addr  core.DevAddr
	n     int
	width int
}

func (desc *descriptor) Submit(done core.Completion) {
	d := desc.ch.dma
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		err := desc.run()
		d.mu.Lock()
		if err != nil {
			d.errs = append(d.errs, err)
		} else {
			d.moves = append(d.moves, Move{Dir: desc.ch.dir, Len: desc.n})
		}
		d.mu.Unlock()
		done.Signal()
	}()
}

func (desc *descriptor) run() error {
	d := desc.ch.dma
	buf, err := d.mem.resolve(desc.addr, desc.n)
	if err != nil {
		return err
	}
	for off := 0; off < desc.n; off += desc.width {
		last := time.Now()
		for !desc.step(buf[off : off+desc.width]) {
			if time.Since(last) > d.Stall {
				return errors.Errorf("sim: %s stream stalled at %d/%d", desc.ch.dir, off, desc.n)
			}
			runtime.Gosched()
		}
	}
	return nil
}

// step moves one word, reporting false when the FIFO is not ready.
func (desc *descriptor) step(b []byte) bool {
	port := desc.ch.dma.port
	if desc.ch.dir == core.DirTX {
		return port.dmaPush(getWord(b))
	}
	w, ok := port.dmaPop()
	if ok {
		putWord(b, w)
	}
	return ok
}

func getWord(b []byte) uint32 {
	switch len(b) {
	case 1:
		return uint32(b[0])
	case 2:
		return uint32(binary.LittleEndian.Uint16(b))
	default:
		return binary.LittleEndian.Uint32(b)
	}
}

func putWord(b []byte, w uint32) {
	switch len(b) {
	case 1:
		b[0] = byte(w)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(w))
	default:
		binary.LittleEndian.PutUint32(b, w)
	}
}
