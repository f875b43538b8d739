// Command sspctl runs loopback transfers through an SSP controller, either
// on the simulated port or on a board reached over the register bridge. With
// -serve it is the other end of that bridge, answering for a simulated port.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"

	"github.com/jkramarz/edison-spi/bridge"
	"github.com/jkramarz/edison-spi/bus"
	"github.com/jkramarz/edison-spi/config"
	"github.com/jkramarz/edison-spi/core"
	"github.com/jkramarz/edison-spi/host/serial"
	"github.com/jkramarz/edison-spi/regs"
	"github.com/jkramarz/edison-spi/sim"
)

var (
	boardFile = flag.String("config", "", "Board file (default: simulated mdfl port)")
	useBridge = flag.Bool("bridge", false, "Reach the registers over the serial bridge")
	serve     = flag.Bool("serve", false, "Serve a simulated port on the bridge device")
	device    = flag.String("device", "", "Bridge serial device (overrides the board file)")
	baud      = flag.Int("baud", serial.DefaultBaud, "Bridge baud rate")
	cs        = flag.Int("cs", 0, "Chip select to exercise")
	length    = flag.Int("len", 64, "Bytes per transfer")
	bits      = flag.Int("bits", 0, "Bits per word (default: board setting)")
	count     = flag.Int("count", 1, "Number of transfers")
	verbose   = flag.Bool("v", false, "Enable debug logging")
	logFile   = flag.String("log", "", "Write log records to this file instead of stderr")
)

func main() {
	flag.Parse()
	if *verbose {
		core.SetLogLevel(slog.LevelDebug)
	}
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fail("open log: %v", err)
		}
		defer f.Close()
		core.SetLogger(core.NewLogger(f))
	}

	board, err := loadBoard()
	if err != nil {
		fail("%v", err)
	}

	if *serve {
		if err := serveBridge(board); err != nil {
			fail("%v", err)
		}
		return
	}

	res, closeRes, err := resources(board)
	if err != nil {
		fail("%v", err)
	}
	defer closeRes()

	ctrl, err := core.New(res)
	if err != nil {
		fail("attach controller: %v", err)
	}
	defer ctrl.Close()

	if err := exercise(ctrl, board); err != nil {
		fail("%v", err)
	}
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func loadBoard() (*config.Board, error) {
	if *boardFile == "" {
		return config.Parse([]byte("platform: mdfl\nchip_selects: 4\n"))
	}
	return config.Load(*boardFile)
}

func serialConfig(board *config.Board) (*serial.Config, error) {
	if *device != "" {
		cfg := serial.DefaultConfig(*device)
		cfg.Baud = *baud
		return cfg, nil
	}
	if cfg := board.Serial(); cfg != nil {
		return cfg, nil
	}
	return nil, errors.New("no bridge device: pass -device or add bridge to the board file")
}

// resources returns what the controller attaches to: the simulated board,
// or the remote banks behind the bridge.
func resources(board *config.Board) (core.Resources, func(), error) {
	if !*useBridge {
		b := sim.NewBoard(board.Platform(), 2)
		return b.Resources(), func() {}, nil
	}

	cfg, err := serialConfig(board)
	if err != nil {
		return core.Resources{}, nil, err
	}
	fmt.Printf("Connecting to bridge on %s...\n", cfg.Device)
	client, err := bridge.Dial(cfg)
	if err != nil {
		return core.Resources{}, nil, err
	}
	dict, err := client.Identify()
	if err != nil {
		client.Close()
		return core.Resources{}, nil, errors.Wrap(err, "identify bridge")
	}
	fmt.Printf("Bridge answers %d commands\n", len(dict.Commands))

	res := core.Resources{
		Regs:     client.Bank(bridge.BankSSP),
		Aux:      client.Bank(bridge.BankAux),
		Platform: board.Platform(),
	}
	return res, func() {
		if err := client.Err(); err != nil {
			fmt.Fprintf(os.Stderr, "Bridge error: %v\n", err)
		}
		client.Close()
	}, nil
}

func serveBridge(board *config.Board) error {
	cfg, err := serialConfig(board)
	if err != nil {
		return err
	}
	port, err := serial.Open(cfg)
	if err != nil {
		return err
	}
	defer port.Close()

	b := sim.NewBoard(board.Platform(), -1)
	r := bridge.NewResponder(port, map[uint8]regs.Bank{
		bridge.BankSSP: b.SSP,
		bridge.BankAux: b.Aux,
	})
	fmt.Printf("Serving simulated %s port on %s\n", board.Platform().Variant, cfg.Device)
	return r.Serve(port)
}

func chipConfig(board *config.Board) core.ChipConfig {
	csFor := func(line int) core.CSControl {
		return func(level bool) {
			core.Logger().Debug("chip select", "cs", line, "level", level)
		}
	}
	for _, c := range board.ChipConfigs(csFor) {
		if c.ChipSelect == *cs {
			return c
		}
	}
	return core.ChipConfig{ChipSelect: *cs, MaxSpeed: physic.MegaHertz}
}

func exercise(ctrl *core.Controller, board *config.Board) error {
	cfg := chipConfig(board)
	wordBits := cfg.BitsPerWord
	if *bits != 0 {
		wordBits = *bits
	}
	if wordBits == 0 {
		wordBits = core.DefaultBitsPerWord
	}

	port := bus.NewPort(ctrl, cfg)
	defer port.Close()
	conn, err := port.Connect(cfg.MaxSpeed, spi.Mode(cfg.Mode&core.Mode3), wordBits)
	if err != nil {
		return err
	}
	chip := conn.(*bus.Conn).Chip()
	fmt.Printf("%s: %d bits, %s, dma %v\n", conn, chip.BitsPerWord(), chip.Speed(), chip.DMA())

	tx := make([]byte, *length)
	rx := make([]byte, *length)
	failures := 0
	start := time.Now()
	for i := 0; i < *count; i++ {
		for j := range tx {
			tx[j] = byte(i + j*7)
		}
		if err := conn.Tx(tx, rx); err != nil {
			return errors.Wrapf(err, "transfer %d", i)
		}
		if !bytes.Equal(tx, rx) {
			failures++
			if *verbose {
				fmt.Printf("  transfer %d mismatch:\n    tx % x\n    rx % x\n", i, tx, rx)
			}
		}
	}
	elapsed := time.Since(start)
	fmt.Printf("%d transfers of %d bytes in %v, %d mismatched\n", *count, *length, elapsed, failures)
	if failures > 0 {
		return errors.Errorf("%d mismatched transfers", failures)
	}
	return nil
}
