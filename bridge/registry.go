// Package bridge carries SSP register accesses over a framed serial link.
//
// The device end answers identify, reg_read and reg_write commands for a
// fixed set of register banks; the host end turns those into a regs.Bank so
// a controller can run against registers it cannot map.
package bridge

import (
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/jkramarz/edison-spi/protocol"
)

// Command ids, in registration order.
const (
	CmdIdentify uint16 = iota
	CmdRegRead
	CmdRegWrite
	RspIdentify
	RspRegValue
)

// Bank ids.
const (
	BankSSP uint8 = iota
	BankAux
)

var (
	ErrUnknownCommand = errors.New("bridge: unknown command")
	ErrUnknownBank    = errors.New("bridge: unknown bank")
	ErrDictionary     = errors.New("bridge: dictionary mismatch")
	ErrResponse       = errors.New("bridge: unexpected response")
)

// Handler decodes the arguments of one command and returns the response
// payloads.
type Handler func(d *protocol.Decoder) ([][]byte, error)

// Command is one registered command or response. Responses have no handler.
type Command struct {
	ID      uint16
	Name    string
	Format  string // e.g. "bank=%c offset=%u"
	Handler Handler
}

// Registry assigns ids to commands in registration order and serves the
// dictionary describing them.
type Registry struct {
	mu         sync.RWMutex
	commands   map[uint16]*Command
	byName     map[string]uint16
	nextID     uint16
	dictionary string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		commands: make(map[uint16]*Command),
		byName:   make(map[string]uint16),
	}
}

// Register adds a command and returns its id. Registering a name again
// returns the existing id.
func (r *Registry) Register(name, format string, h Handler) uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byName[name]; ok {
		return id
	}
	id := r.nextID
	r.nextID++
	r.commands[id] = &Command{ID: id, Name: name, Format: format, Handler: h}
	r.byName[name] = id
	r.rebuild()
	return id
}

// Lookup returns the command with id.
func (r *Registry) Lookup(id uint16) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[id]
	return cmd, ok
}

// Count returns the number of registered commands.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.commands)
}

// Dictionary returns one "name format" line per command, in id order.
func (r *Registry) Dictionary() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dictionary
}

// Dispatch decodes the command id of payload and runs its handler.
func (r *Registry) Dispatch(payload []byte) ([][]byte, error) {
	d := protocol.NewDecoder(payload)
	id := d.Uint()
	if err := d.Err(); err != nil {
		return nil, errors.Wrap(err, "command id")
	}
	cmd, ok := r.Lookup(uint16(id))
	if !ok || cmd.Handler == nil {
		return nil, errors.Wrapf(ErrUnknownCommand, "id %d", id)
	}
	resps, err := cmd.Handler(d)
	if err != nil {
		return nil, errors.Wrap(err, cmd.Name)
	}
	if err := d.Err(); err != nil {
		return nil, errors.Wrapf(err, "%s arguments", cmd.Name)
	}
	return resps, nil
}

// rebuild must be called with the lock held.
func (r *Registry) rebuild() {
	var sb strings.Builder
	for i := uint16(0); i < r.nextID; i++ {
		cmd, ok := r.commands[i]
		if !ok {
			continue
		}
		sb.WriteString(cmd.Name)
		if cmd.Format != "" {
			sb.WriteByte(' ')
			sb.WriteString(cmd.Format)
		}
		sb.WriteByte('\n')
	}
	r.dictionary = sb.String()
}

// Dictionary is the command set a device reported.
type Dictionary struct {
	Commands map[string]uint16
	Formats  map[string]string
	Raw      string
}

// ParseDictionary reads the line format Registry.Dictionary produces.
func ParseDictionary(raw string) *Dictionary {
	d := &Dictionary{
		Commands: make(map[string]uint16),
		Formats:  make(map[string]string),
		Raw:      raw,
	}
	for i, line := range strings.Split(strings.TrimRight(raw, "\n"), "\n") {
		name, format, _ := strings.Cut(line, " ")
		if name == "" {
			continue
		}
		d.Commands[name] = uint16(i)
		d.Formats[name] = format
	}
	return d
}

// check verifies the device numbers commands the way this package does.
func (d *Dictionary) check() error {
	want := map[string]uint16{
		"identify":          CmdIdentify,
		"reg_read":          CmdRegRead,
		"reg_write":         CmdRegWrite,
		"identify_response": RspIdentify,
		"reg_value":         RspRegValue,
	}
	for name, id := range want {
		got, ok := d.Commands[name]
		if !ok {
			return errors.Wrapf(ErrDictionary, "missing %s", name)
		}
		if got != id {
			return errors.Wrapf(ErrDictionary, "%s is id %d, want %d", name, got, id)
		}
	}
	return nil
}
