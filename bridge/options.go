package bridge

import (
	"log/slog"
	"time"

	"github.com/jkramarz/edison-spi/core"
	"github.com/jkramarz/edison-spi/protocol"
)

type options struct {
	timeout time.Duration
	log     *slog.Logger
}

// Option configures a Client or Responder.
type Option func(*options)

// WithTimeout bounds each request round trip.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithLogger sets the logger. The default is core.Logger().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

func buildOptions(opts []Option) options {
	o := options{timeout: protocol.DefaultTimeout}
	for _, fn := range opts {
		fn(&o)
	}
	if o.log == nil {
		o.log = core.Logger()
	}
	o.log = o.log.With("component", string(core.ComponentBridge))
	return o
}
