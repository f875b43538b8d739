package protocol

import (
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// DefaultTimeout bounds the wait for an ACK or a response.
const DefaultTimeout = 2 * time.Second

// Host is the requesting end of a link. One request is in flight at a
// time; a background reader splits incoming frames into ACKs and
// responses.
type Host struct {
	port io.ReadWriteCloser

	mu  sync.Mutex // one request at a time
	seq uint8
	out []byte

	scan  *Scanner
	acks  chan Frame
	resps chan Frame

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewHost starts a host on port.
func NewHost(port io.ReadWriteCloser) *Host {
	h := &Host{
		port:  port,
		seq:   SeqDest,
		scan:  NewScanner(),
		acks:  make(chan Frame, 1),
		resps: make(chan Frame, 16),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go h.readLoop()
	return h
}

// Send delivers payload and waits for its ACK.
func (h *Host) Send(payload []byte, timeout time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.request(payload, timeout)
}

// Call delivers payload and returns the first response that follows its
// ACK.
func (h *Host) Call(payload []byte, timeout time.Duration) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.request(payload, timeout); err != nil {
		return nil, err
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case f := <-h.resps:
		return f.Payload, nil
	case <-t.C:
		return nil, errors.Wrapf(ErrTimeout, "response after %v", timeout)
	case <-h.done:
		return nil, ErrStopped
	}
}

// Seq returns the sequence of the next request.
func (h *Host) Seq() uint8 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seq
}

func (h *Host) request(payload []byte, timeout time.Duration) error {
	h.drain()
	for attempt := 0; ; attempt++ {
		if err := h.write(payload); err != nil {
			return err
		}
		ack, err := h.waitAck(timeout)
		if err != nil {
			return err
		}
		if ack.Seq == NextSeq(h.seq) {
			h.seq = ack.Seq
			return nil
		}
		if attempt > 0 {
			return errors.Wrapf(ErrSequence, "sent 0x%02x, device expects 0x%02x", h.seq, ack.Seq)
		}
		// NAK: the device names the sequence it wants
		h.seq = ack.Seq
		h.drain()
	}
}

func (h *Host) write(payload []byte) error {
	var err error
	h.out, err = AppendFrame(h.out[:0], h.seq, payload)
	if err != nil {
		return err
	}
	n, err := h.port.Write(h.out)
	if err != nil {
		return errors.Wrap(err, "write frame")
	}
	if n != len(h.out) {
		return errors.Errorf("incomplete write: %d/%d bytes", n, len(h.out))
	}
	return nil
}

func (h *Host) waitAck(timeout time.Duration) (Frame, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case f := <-h.acks:
		return f, nil
	case <-t.C:
		return Frame{}, errors.Wrapf(ErrTimeout, "ack after %v", timeout)
	case <-h.done:
		return Frame{}, ErrStopped
	}
}

// drain discards frames left over from an abandoned request.
func (h *Host) drain() {
	for {
		select {
		case <-h.acks:
		case <-h.resps:
		default:
			return
		}
	}
}

func (h *Host) readLoop() {
	defer close(h.done)
	buf := make([]byte, 256)
	for {
		select {
		case <-h.stop:
			return
		default:
		}
		n, err := h.port.Read(buf)
		if n > 0 {
			h.scan.Write(buf[:n])
			for {
				f, ok := h.scan.Next()
				if !ok {
					break
				}
				h.dispatch(f)
			}
		}
		if err == io.EOF || errors.Is(err, io.ErrClosedPipe) {
			return
		}
		if err != nil {
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func (h *Host) dispatch(f Frame) {
	if f.IsAck() {
		select {
		case h.acks <- f:
		default:
			// keep the newest ack
			select {
			case <-h.acks:
			default:
			}
			h.acks <- f
		}
		return
	}
	select {
	case h.resps <- f:
	default:
		select {
		case <-h.resps:
		default:
		}
		h.resps <- f
	}
}

// Close stops the reader and closes the port.
func (h *Host) Close() error {
	h.closeOnce.Do(func() {
		close(h.stop)
		h.closeErr = h.port.Close()
		<-h.done
	})
	return h.closeErr
}
