// Package config loads board description files.
package config

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
	"periph.io/x/conn/v3/physic"

	"github.com/jkramarz/edison-spi/core"
	"github.com/jkramarz/edison-spi/host/serial"
)

var ErrInvalid = errors.New("config: invalid board")

// Speed is a bit clock given as "4MHz" or as plain hertz.
type Speed struct {
	Frequency physic.Frequency
}

func (s *Speed) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var hz int64
	if err := unmarshal(&hz); err == nil {
		s.Frequency = physic.Frequency(hz) * physic.Hertz
		return nil
	}
	var str string
	if err := unmarshal(&str); err != nil {
		return err
	}
	return s.Frequency.Set(str)
}

type BridgeConf struct {
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`
}

type ChipConf struct {
	CS       int    `yaml:"cs"`
	Bits     int    `yaml:"bits"`
	MaxSpeed Speed  `yaml:"max_speed"`
	Mode     int    `yaml:"mode"`
	CSHigh   bool   `yaml:"cs_high"`
	CSGpio   bool   `yaml:"cs_gpio"`
	DMA      *bool  `yaml:"dma"` // default on
	Burst    int    `yaml:"burst"`
	Timeout  uint32 `yaml:"timeout"`
	Loopback bool   `yaml:"loopback"`
}

// Board is one SSP port and the chips wired to it.
type Board struct {
	Variant     string      `yaml:"platform"` // mrst, mdfl, mrfl or byt
	Slave       bool        `yaml:"slave"`
	Bus         int         `yaml:"bus"`
	ChipSelects int         `yaml:"chip_selects"`
	Bridge      *BridgeConf `yaml:"bridge"`
	Chips       []ChipConf  `yaml:"chips"`
}

// Load reads the board file at path.
func Load(path string) (*Board, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read board file")
	}
	b, err := Parse(data)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return b, nil
}

// Parse decodes and validates a board description.
func Parse(data []byte) (*Board, error) {
	b := &Board{}
	if err := yaml.Unmarshal(data, b); err != nil {
		return nil, errors.Wrap(err, "parse board")
	}
	if err := b.validate(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Board) validate() error {
	if _, err := b.variant(); err != nil {
		return err
	}
	if b.ChipSelects < 0 {
		return errors.Wrapf(ErrInvalid, "chip_selects %d", b.ChipSelects)
	}
	seen := make(map[int]bool)
	for i, c := range b.Chips {
		if c.CS < 0 || (b.ChipSelects > 0 && c.CS >= b.ChipSelects) {
			return errors.Wrapf(ErrInvalid, "chip %d: cs %d", i, c.CS)
		}
		if seen[c.CS] {
			return errors.Wrapf(ErrInvalid, "chip %d: cs %d used twice", i, c.CS)
		}
		seen[c.CS] = true
		if c.Bits != 0 && (c.Bits < core.MinBitsPerWord || c.Bits > core.MaxBitsPerWord) {
			return errors.Wrapf(ErrInvalid, "chip %d: bits %d", i, c.Bits)
		}
		if c.Mode < 0 || c.Mode > 3 {
			return errors.Wrapf(ErrInvalid, "chip %d: mode %d", i, c.Mode)
		}
		switch c.Burst {
		case 0, 1, 4, 8:
		default:
			return errors.Wrapf(ErrInvalid, "chip %d: burst %d", i, c.Burst)
		}
	}
	return nil
}

func (b *Board) variant() (core.Variant, error) {
	switch strings.ToLower(b.Variant) {
	case "mrst":
		return core.VariantMRST, nil
	case "mdfl", "":
		return core.VariantMDFL, nil
	case "mrfl":
		return core.VariantMRFL, nil
	case "byt":
		return core.VariantBYT, nil
	}
	return 0, errors.Wrapf(ErrInvalid, "platform %q", b.Variant)
}

// Quirks derives the workarounds the platform needs.
func (b *Board) Quirks() core.Quirks {
	v, _ := b.variant()
	q := core.QuirkNoTrail
	if v == core.VariantMRST {
		q |= core.QuirkBitBang
		if b.Slave {
			q |= core.QuirkSRAMCopy
		}
	}
	if b.Slave {
		q |= core.QuirkSlaveClock
	}
	if v == core.VariantMRFL {
		q |= core.QuirkFrameSelect | core.QuirkTimingReset
	}
	return q
}

// Platform returns the controller platform of the board.
func (b *Board) Platform() core.Platform {
	v, _ := b.variant()
	return core.Platform{
		Variant:       v,
		Quirks:        b.Quirks(),
		Bus:           b.Bus,
		NumChipSelect: b.ChipSelects,
	}
}

// ChipConfigs returns one setup per chip. csFor supplies the chip select
// line of chips driven by GPIO; it may be nil when none are.
func (b *Board) ChipConfigs(csFor func(cs int) core.CSControl) []core.ChipConfig {
	out := make([]core.ChipConfig, 0, len(b.Chips))
	for _, c := range b.Chips {
		mode := core.Mode(c.Mode)
		info := &core.ChipInfo{
			Burst:    c.Burst,
			Timeout:  c.Timeout,
			DMA:      c.DMA == nil || *c.DMA,
			Loopback: c.Loopback,
		}
		if info.Burst == 0 {
			info.Burst = core.DefaultBurst
		}
		if (c.CSGpio || c.CSHigh) && csFor != nil {
			info.CS = csFor(c.CS)
		}
		if c.CSHigh {
			mode |= core.ModeCSHigh
		}
		out = append(out, core.ChipConfig{
			ChipSelect:  c.CS,
			BitsPerWord: c.Bits,
			MaxSpeed:    c.MaxSpeed.Frequency,
			Mode:        mode,
			Info:        info,
		})
	}
	return out
}

// Serial returns the bridge port settings, nil without a bridge.
func (b *Board) Serial() *serial.Config {
	if b.Bridge == nil || b.Bridge.Device == "" {
		return nil
	}
	cfg := serial.DefaultConfig(b.Bridge.Device)
	if b.Bridge.Baud != 0 {
		cfg.Baud = b.Bridge.Baud
	}
	return cfg
}
