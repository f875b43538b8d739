// Package protocol implements the framing of the register bridge link.
//
// A frame is [len][seq] payload [crc16 hi][crc16 lo][0x7E]. The sequence
// byte always carries 0x10 in its high nibble and counts 0x10..0x1F in the
// low one. Payloads are VLQ encoded command ids and arguments; a frame with
// an empty payload is an ACK naming the next expected sequence.
package protocol

import (
	"github.com/pkg/errors"
)

// Frame layout.
const (
	HeaderSize  = 2
	TrailerSize = 3
	FrameMin    = HeaderSize + TrailerSize
	FrameMax    = 64
	PayloadMax  = FrameMax - FrameMin

	SyncByte = 0x7E
	SeqDest  = 0x10
	SeqMask  = 0x0F

	posLen = 0
	posSeq = 1
)

var (
	ErrFrameTooLong = errors.New("protocol: frame too long")
	ErrShortVLQ     = errors.New("protocol: truncated vlq")
	ErrTimeout      = errors.New("protocol: timeout")
	ErrSequence     = errors.New("protocol: sequence mismatch")
	ErrStopped      = errors.New("protocol: link stopped")
)

// NextSeq returns the sequence following seq.
func NextSeq(seq uint8) uint8 {
	return (seq+1)&SeqMask | SeqDest
}
