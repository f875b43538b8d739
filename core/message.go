package core

import (
	"sync"

	"periph.io/x/conn/v3/physic"
)

// Transfer is one contiguous data movement within a message.
type Transfer struct {
	TX  []byte // nil sends zeros
	RX  []byte // nil discards received words
	Len int

	BitsPerWord int              // 0 uses the chip default
	Speed       physic.Frequency // 0 uses the chip default

	// CSChange deasserts chip select after this transfer.
	CSChange bool
}

// Message is an ordered sequence of transfers to one chip. The controller
// owns a submitted message until Complete has run and Done is closed.
type Message struct {
	Chip      *Chip
	Transfers []*Transfer

	// Complete runs once per submission on the drain goroutine with the
	// final status set.
	Complete func(*Message)

	Status Status
	Err    error
	Actual int // bytes moved so far

	owner *Controller // set while queued or running, guarded by owner.mu

	mu      sync.Mutex
	done    chan struct{}
	closing bool // finish is running
}

// NewMessage returns a message of xfers addressed to chip.
func NewMessage(chip *Chip, xfers ...*Transfer) *Message {
	m := &Message{Chip: chip, Transfers: xfers}
	m.doneChan()
	return m
}

func (m *Message) doneChan() chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done == nil {
		m.done = make(chan struct{})
	}
	return m.done
}

// rearm gives a finished message a fresh Done channel for its next run.
func (m *Message) rearm() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done == nil || m.closing {
		m.done = make(chan struct{})
		return
	}
	select {
	case <-m.done:
		m.done = make(chan struct{})
	default:
	}
}

// Done is closed after the completion notification ran. A message submitted
// again gets a new channel.
func (m *Message) Done() <-chan struct{} {
	return m.doneChan()
}

// Wait blocks until the message completes and returns its error.
func (m *Message) Wait() error {
	<-m.Done()
	return m.Err
}

func (m *Message) finish(err error) {
	if err != nil {
		m.Status = StatusError
		m.Err = err
	} else {
		m.Status = StatusOK
	}
	m.mu.Lock()
	done := m.done
	m.closing = true
	m.mu.Unlock()

	if m.Complete != nil {
		m.Complete(m)
	}

	m.mu.Lock()
	close(done)
	m.closing = false
	m.mu.Unlock()
}
