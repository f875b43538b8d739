package core

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

// Component identifies a subsystem for log filtering.
type Component string

// Controller component identifiers.
const (
	ComponentPump   Component = "pump"
	ComponentXfer   Component = "xfer"
	ComponentDMA    Component = "dma"
	ComponentIRQ    Component = "irq"
	ComponentSetup  Component = "setup"
	ComponentBridge Component = "bridge"
)

var (
	// defaultLog is used by controllers created without WithLogger.
	defaultLog *slog.Logger

	logLevel = new(slog.LevelVar)
	logMutex sync.RWMutex
)

func init() {
	logLevel.Set(slog.LevelWarn)
	defaultLog = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
}

// SetLogLevel sets the minimum level of the default logger.
func SetLogLevel(level slog.Level) {
	logLevel.Set(level)
}

// SetLogger replaces the default logger. Controllers and bridges created
// afterwards use it.
func SetLogger(logger *slog.Logger) {
	logMutex.Lock()
	defer logMutex.Unlock()
	defaultLog = logger
}

// NewLogger creates a text logger writing to w at the shared level.
func NewLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel}))
}

// Logger returns the default logger.
func Logger() *slog.Logger {
	logMutex.RLock()
	defer logMutex.RUnlock()
	return defaultLog
}

// logger tags every record with the controller's bus and a component.
type logger struct {
	l *slog.Logger
}

func (lg logger) debug(c Component, msg string, args ...any) {
	lg.l.Debug(msg, append([]any{"component", string(c)}, args...)...)
}

func (lg logger) info(c Component, msg string, args ...any) {
	lg.l.Info(msg, append([]any{"component", string(c)}, args...)...)
}

func (lg logger) warn(c Component, msg string, args ...any) {
	lg.l.Warn(msg, append([]any{"component", string(c)}, args...)...)
}

func (lg logger) error(c Component, msg string, args ...any) {
	lg.l.Error(msg, append([]any{"component", string(c)}, args...)...)
}
