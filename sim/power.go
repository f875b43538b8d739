package sim

import (
	"sync"
)

// Power counts busy and idle notifications.
type Power struct {
	mu    sync.Mutex
	busy  int
	idle  int
	depth int
}

func (p *Power) Busy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.busy++
	p.depth++
}

func (p *Power) Idle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idle++
	p.depth--
}

// Counts returns the busy and idle notifications so far.
func (p *Power) Counts() (busy, idle int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.busy, p.idle
}

// Active reports whether the device is between Busy and Idle.
func (p *Power) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.depth > 0
}
