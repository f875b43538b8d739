package core

import (
	"github.com/pkg/errors"
)

// Controller errors. Returned errors wrap one of these; test with errors.Is.
var (
	// ErrInvalidArgument indicates a caller error: bad length, alignment,
	// word width or chip select request.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrBusy indicates the controller or chip is in use by a message.
	ErrBusy = errors.New("controller busy")

	// ErrNoDMA indicates no DMA channel pair could be acquired.
	ErrNoDMA = errors.New("no dma channel")

	// ErrMapping indicates a buffer could not be mapped for DMA.
	ErrMapping = errors.New("dma mapping failed")

	// ErrClosed indicates the controller was closed.
	ErrClosed = errors.New("controller closed")

	// ErrStalled indicates a polled FIFO made no progress within the stall
	// timeout.
	ErrStalled = errors.New("fifo stalled")
)

// Status is the state of a message.
type Status uint8

const (
	StatusPending Status = iota
	StatusInProgress
	StatusOK
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusInProgress:
		return "in progress"
	case StatusOK:
		return "ok"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}
