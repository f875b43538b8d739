package bus

import (
	"tinygo.org/x/drivers"
)

// Device adapts a connected chip to the TinyGo driver SPI interface, so
// drivers written against tinygo.org/x/drivers run on the controller.
type Device struct {
	conn *Conn
	one  [2]byte
}

// NewDevice returns the driver bus for c.
func NewDevice(c *Conn) *Device {
	return &Device{conn: c}
}

// Tx implements drivers.SPI. Either buffer may be nil.
func (d *Device) Tx(w, r []byte) error {
	return d.conn.Tx(w, r)
}

// Transfer implements drivers.SPI, sending b and returning the byte
// clocked in with it.
func (d *Device) Transfer(b byte) (byte, error) {
	d.one[0] = b
	if err := d.conn.Tx(d.one[:1], d.one[1:2]); err != nil {
		return 0, err
	}
	return d.one[1], nil
}

var _ drivers.SPI = (*Device)(nil)
