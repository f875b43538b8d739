package serial

import (
	"io"

	"github.com/pkg/errors"
	"github.com/tarm/serial"
)

// NativePort wraps the tarm/serial implementation
type NativePort struct {
	port *serial.Port
	cfg  Config
}

// Open opens a native serial port
func Open(cfg *Config) (*NativePort, error) {
	if cfg == nil {
		return nil, errors.New("serial: nil config")
	}
	c := *cfg
	if c.Baud == 0 {
		c.Baud = DefaultBaud
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        c.Device,
		Baud:        c.Baud,
		ReadTimeout: c.ReadTimeout,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open serial port %s", c.Device)
	}
	return &NativePort{port: port, cfg: c}, nil
}

// Read reads data from the serial port. An expired read timeout returns no
// data and no error.
func (p *NativePort) Read(b []byte) (int, error) {
	n, err := p.port.Read(b)
	if n == 0 && err == io.EOF && p.cfg.ReadTimeout > 0 {
		return 0, nil
	}
	return n, err
}

// Write writes data to the serial port
func (p *NativePort) Write(b []byte) (int, error) {
	return p.port.Write(b)
}

// Close closes the serial port
func (p *NativePort) Close() error {
	return p.port.Close()
}

// Flush discards buffered input.
func (p *NativePort) Flush() error {
	return p.port.Flush()
}

// Config returns the settings the port was opened with.
func (p *NativePort) Config() Config {
	return p.cfg
}

var _ Port = (*NativePort)(nil)
