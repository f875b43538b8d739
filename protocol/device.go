package protocol

import (
	"io"
	"sync"

	"github.com/pkg/errors"
)

// Handler serves one request payload and returns the response payloads.
// A handler error is reported to the device's error hook; the link keeps
// running.
type Handler func(payload []byte) ([][]byte, error)

// Device is the responding end of a link. Every frame is answered with an
// ACK naming the next expected sequence. Frames in sequence are handed to
// the handler first and its responses follow the ACK with the same
// sequence byte. A frame with sequence 0x10 while another was expected
// means the host restarted.
type Device struct {
	mu      sync.Mutex
	w       io.Writer
	handler Handler
	scan    *Scanner
	next    uint8
	resyncs int
	out     []byte

	onReset func()
	onError func(error)
}

// NewDevice returns a device writing its frames to w.
func NewDevice(w io.Writer, h Handler) *Device {
	return &Device{
		w:       w,
		handler: h,
		scan:    NewScanner(),
		next:    SeqDest,
	}
}

// OnReset sets the hook called when the host restarts its sequence.
func (d *Device) OnReset(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onReset = fn
}

// OnError sets the hook receiving handler errors.
func (d *Device) OnError(fn func(error)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onError = fn
}

// Write feeds received stream data and answers complete frames.
func (d *Device) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scan.Write(p)
	d.out = d.out[:0]
	for {
		f, ok := d.scan.Next()
		if r := d.scan.Resyncs(); r != d.resyncs {
			// regained sync: tell the host where we are
			d.resyncs = r
			d.out, _ = AppendFrame(d.out, d.next, nil)
		}
		if !ok {
			break
		}
		d.frame(f)
	}
	if len(d.out) == 0 {
		return len(p), nil
	}
	if _, err := d.w.Write(d.out); err != nil {
		return len(p), errors.Wrap(err, "write reply")
	}
	return len(p), nil
}

func (d *Device) frame(f Frame) {
	if f.Seq == SeqDest && d.next != SeqDest {
		d.next = SeqDest
		if d.onReset != nil {
			d.onReset()
		}
	}
	if f.Seq != d.next || f.IsAck() {
		d.out, _ = AppendFrame(d.out, d.next, nil)
		return
	}
	d.next = NextSeq(f.Seq)
	var resps [][]byte
	if d.handler != nil {
		var err error
		resps, err = d.handler(f.Payload)
		if err != nil && d.onError != nil {
			d.onError(err)
		}
	}
	d.out, _ = AppendFrame(d.out, d.next, nil)
	for _, r := range resps {
		var err error
		if d.out, err = AppendFrame(d.out, d.next, r); err != nil && d.onError != nil {
			d.onError(err)
		}
	}
}

// Serve reads from r until it fails or reaches EOF, which ends a served
// link cleanly.
func (d *Device) Serve(r io.Reader) error {
	buf := make([]byte, 256)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := d.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err == io.EOF || errors.Is(err, io.ErrClosedPipe) {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "read")
		}
	}
}

// Reset returns the device to the initial sequence.
func (d *Device) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next = SeqDest
	d.scan = NewScanner()
	d.resyncs = 0
}
