package protocol

// AppendInt appends v in the variable length encoding: seven bits per byte,
// most significant first, continuation in the high bit, and a sign folded
// into the first byte.
func AppendInt(dst []byte, v int32) []byte {
	if !(-(1<<26) <= v && v < (3<<26)) {
		dst = append(dst, byte((v>>28)&0x7F)|0x80)
	}
	if !(-(1<<19) <= v && v < (3<<19)) {
		dst = append(dst, byte((v>>21)&0x7F)|0x80)
	}
	if !(-(1<<12) <= v && v < (3<<12)) {
		dst = append(dst, byte((v>>14)&0x7F)|0x80)
	}
	if !(-(1<<5) <= v && v < (3<<5)) {
		dst = append(dst, byte((v>>7)&0x7F)|0x80)
	}
	return append(dst, byte(v&0x7F))
}

// AppendUint appends v. Values above 1<<31 take the five byte form.
func AppendUint(dst []byte, v uint32) []byte {
	return AppendInt(dst, int32(v))
}

// AppendBytes appends b with a length prefix.
func AppendBytes(dst, b []byte) []byte {
	dst = AppendUint(dst, uint32(len(b)))
	return append(dst, b...)
}

// Decoder reads values from a payload. The first error sticks and later
// reads return zero values.
type Decoder struct {
	buf []byte
	err error
}

// NewDecoder returns a decoder over p.
func NewDecoder(p []byte) *Decoder {
	return &Decoder{buf: p}
}

// Int reads a signed value.
func (d *Decoder) Int() int32 {
	if d.err != nil {
		return 0
	}
	if len(d.buf) == 0 {
		d.err = ErrShortVLQ
		return 0
	}
	c := uint32(d.buf[0])
	d.buf = d.buf[1:]
	v := c & 0x7F
	if c&0x60 == 0x60 {
		v |= ^uint32(0x1F)
	}
	for c&0x80 != 0 {
		if len(d.buf) == 0 {
			d.err = ErrShortVLQ
			return 0
		}
		c = uint32(d.buf[0])
		d.buf = d.buf[1:]
		v = v<<7 | c&0x7F
	}
	return int32(v)
}

// Uint reads an unsigned value.
func (d *Decoder) Uint() uint32 {
	return uint32(d.Int())
}

// Bytes reads a length prefixed byte string. The result aliases the payload.
func (d *Decoder) Bytes() []byte {
	n := int(d.Uint())
	if d.err != nil {
		return nil
	}
	if n < 0 || n > len(d.buf) {
		d.err = ErrShortVLQ
		return nil
	}
	b := d.buf[:n]
	d.buf = d.buf[n:]
	return b
}

// Len returns the undecoded bytes left.
func (d *Decoder) Len() int {
	return len(d.buf)
}

// Err returns the first decoding error.
func (d *Decoder) Err() error {
	return d.err
}
