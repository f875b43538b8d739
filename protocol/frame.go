package protocol

import (
	"bytes"

	"github.com/pkg/errors"
)

// Frame is one decoded frame.
type Frame struct {
	Seq     uint8
	Payload []byte
}

// IsAck reports whether f carries no payload.
func (f Frame) IsAck() bool {
	return len(f.Payload) == 0
}

// AppendFrame appends the frame of payload with sequence seq to dst.
func AppendFrame(dst []byte, seq uint8, payload []byte) ([]byte, error) {
	n := FrameMin + len(payload)
	if n > FrameMax {
		return dst, errors.Wrapf(ErrFrameTooLong, "%d bytes (max %d)", n, FrameMax)
	}
	start := len(dst)
	dst = append(dst, byte(n), seq)
	dst = append(dst, payload...)
	crc := CRC16(dst[start:])
	return append(dst, byte(crc>>8), byte(crc), SyncByte), nil
}

// Scanner splits a byte stream into frames. A bad length, sequence, sync
// byte or checksum drops the scanner out of sync; it then discards input up
// to the next sync byte.
type Scanner struct {
	buf     []byte
	synced  bool
	resyncs int
	dropped int
}

// NewScanner returns a synchronized scanner.
func NewScanner() *Scanner {
	return &Scanner{synced: true}
}

// Write buffers stream data. It never fails.
func (s *Scanner) Write(p []byte) (int, error) {
	s.buf = append(s.buf, p...)
	return len(p), nil
}

// Next returns the next complete frame, false when more input is needed.
func (s *Scanner) Next() (Frame, bool) {
	defer s.compact()
	for len(s.buf) > 0 {
		if !s.synced {
			i := bytes.IndexByte(s.buf, SyncByte)
			if i < 0 {
				s.dropped += len(s.buf)
				s.buf = s.buf[:0]
				return Frame{}, false
			}
			s.dropped += i
			s.buf = s.buf[i+1:]
			s.synced = true
			s.resyncs++
			continue
		}
		if s.buf[0] == SyncByte {
			s.buf = s.buf[1:]
			continue
		}
		if len(s.buf) < FrameMin {
			break
		}
		n := int(s.buf[posLen])
		if n < FrameMin || n > FrameMax {
			s.synced = false
			continue
		}
		seq := s.buf[posSeq]
		if seq&^SeqMask != SeqDest {
			s.synced = false
			continue
		}
		if len(s.buf) < n {
			break
		}
		if s.buf[n-1] != SyncByte {
			s.synced = false
			continue
		}
		want := uint16(s.buf[n-TrailerSize])<<8 | uint16(s.buf[n-TrailerSize+1])
		if CRC16(s.buf[:n-TrailerSize]) != want {
			s.synced = false
			continue
		}
		f := Frame{Seq: seq, Payload: append([]byte(nil), s.buf[HeaderSize:n-TrailerSize]...)}
		s.buf = s.buf[n:]
		return f, true
	}
	return Frame{}, false
}

// compact moves the unread tail to the front of the buffer.
func (s *Scanner) compact() {
	if len(s.buf) == 0 {
		s.buf = s.buf[:0:0]
		return
	}
	if cap(s.buf) > 4*FrameMax {
		s.buf = append([]byte(nil), s.buf...)
	}
}

// Synced reports whether the scanner is in sync.
func (s *Scanner) Synced() bool { return s.synced }

// Resyncs returns how often the scanner regained sync.
func (s *Scanner) Resyncs() int { return s.resyncs }

// Dropped returns the bytes discarded while out of sync.
func (s *Scanner) Dropped() int { return s.dropped }

// Buffered returns the bytes waiting for a complete frame.
func (s *Scanner) Buffered() int { return len(s.buf) }
