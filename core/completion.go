package core

import (
	"sync"
)

// completionBridge turns the two DMA stream completions of a transfer into
// one wake up for the drain goroutine. The finalizer goroutine marks streams
// as their completions arrive; the mark that completes the pair runs the
// transfer's finish step once and then fires.
type completionBridge struct {
	mu     sync.Mutex
	rxDone bool
	txDone bool
	fired  bool
	finish func()
	fire   chan struct{}
}

// reset arms the bridge for a new transfer and returns the channel closed
// once finish has run.
func (b *completionBridge) reset(finish func()) <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rxDone, b.txDone, b.fired = false, false, false
	b.finish = finish
	b.fire = make(chan struct{})
	return b.fire
}

// skip marks a stream that was never started. It must run before any stream
// of the transfer is submitted and never fires by itself.
func (b *completionBridge) skip(dir Direction) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch dir {
	case DirRX:
		b.rxDone = true
	case DirTX:
		b.txDone = true
	}
}

func (b *completionBridge) mark(dir Direction) {
	b.mu.Lock()
	switch dir {
	case DirRX:
		b.rxDone = true
	case DirTX:
		b.txDone = true
	default:
		b.rxDone, b.txDone = true, true
	}
	if !b.rxDone || !b.txDone || b.fired || b.fire == nil {
		b.mu.Unlock()
		return
	}
	b.fired = true
	finish, fire := b.finish, b.fire
	b.mu.Unlock()

	if finish != nil {
		finish()
	}
	close(fire)
}

// finalizer forwards stream completions to the bridge until stop closes.
func (c *Controller) finalizer() {
	defer c.finWG.Done()
	for {
		select {
		case dir := <-c.events:
			c.log.debug(ComponentDMA, "stream done", "dir", dir)
			c.bridge.mark(dir)
		case <-c.finStop:
			return
		}
	}
}
