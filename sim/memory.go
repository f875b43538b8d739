package sim

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/jkramarz/edison-spi/core"
)

// ErrMapFailed is returned by Memory.Map when a failure was injected.
var ErrMapFailed = errors.New("sim: mapping failed")

const (
	memBase  core.DevAddr = 0x10000000
	pageSize core.DevAddr = 0x1000
)

type region struct {
	buf []byte
	dir core.Direction
}

// Memory is the device address space of the simulated DMA engine. It maps
// CPU buffers and staging windows to device addresses.
type Memory struct {
	mu      sync.Mutex
	next    core.DevAddr
	regions map[core.DevAddr]region
	fixed   map[core.DevAddr][]byte
	failIn  int // fail the n-th next Map, 0 disables
	maps    int
}

// NewMemory returns an empty address space.
func NewMemory() *Memory {
	return &Memory{
		next:    memBase,
		regions: make(map[core.DevAddr]region),
		fixed:   make(map[core.DevAddr][]byte),
	}
}

// FailMap makes the n-th next Map call fail, counting from 1.
func (m *Memory) FailMap(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failIn = n
}

// Map implements core.Mapper.
func (m *Memory) Map(buf []byte, dir core.Direction) (core.DevAddr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failIn > 0 {
		m.failIn--
		if m.failIn == 0 {
			return 0, errors.Wrapf(ErrMapFailed, "%s buffer of %d bytes", dir, len(buf))
		}
	}
	addr := m.next
	m.next += (core.DevAddr(len(buf)) + pageSize) &^ (pageSize - 1)
	m.regions[addr] = region{buf: buf, dir: dir}
	m.maps++
	return addr, nil
}

// Unmap implements core.Mapper.
func (m *Memory) Unmap(addr core.DevAddr, n int, dir core.Direction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.regions, addr)
}

// Mapped returns the number of live mappings.
func (m *Memory) Mapped() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.regions)
}

// Maps returns the number of successful Map calls.
func (m *Memory) Maps() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maps
}

// NewStaging allocates a staging window for both directions at addr.
func (m *Memory) NewStaging(addr core.DevAddr) *core.Staging {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem := make([]byte, 2*core.MaxTransferSize)
	m.fixed[addr] = mem
	return &core.Staging{Mem: mem, Addr: addr}
}

// resolve returns the n bytes at addr.
func (m *Memory) resolve(addr core.DevAddr, n int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for base, r := range m.regions {
		if b, ok := window(base, r.buf, addr, n); ok {
			return b, nil
		}
	}
	for base, mem := range m.fixed {
		if b, ok := window(base, mem, addr, n); ok {
			return b, nil
		}
	}
	return nil, errors.Errorf("sim: address %#x+%d not mapped", uint64(addr), n)
}

func window(base core.DevAddr, buf []byte, addr core.DevAddr, n int) ([]byte, bool) {
	if addr < base || addr+core.DevAddr(n) > base+core.DevAddr(len(buf)) {
		return nil, false
	}
	off := int(addr - base)
	return buf[off : off+n], true
}
