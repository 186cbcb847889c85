// Package machine owns the RAM, the MMIO dispatch table, the
// interrupt controller, and the set of harts, and drives the
// machine-wide event loop.
//
// The cyclic-ownership design note in the specification — devices need
// to call back into the machine for RAM and IRQ delivery, the machine
// needs to dispatch into devices — is resolved the way
// coprocessor_manager.go resolves it for coprocessor workers: the
// machine is the long-lived owner, and devices receive narrow
// collaborator interfaces (ethoc.RAM, the PLIC controller pointer)
// rather than a back-pointer to the machine itself.
package machine

import (
	"encoding/binary"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/rvvm-go/rvvm/internal/hart"
	"github.com/rvvm-go/rvvm/internal/mmio"
	"github.com/rvvm-go/rvvm/internal/plic"
	"github.com/rvvm-go/rvvm/internal/ram"
)

// Config describes a machine to create.
type Config struct {
	RAMBegin uint64
	RAMSize  uint64
	NumHarts int
	ResetPC  uint32
}

// Machine is the core emulator instance: one RAM region, one MMIO
// table, one PLIC, and NumHarts harts all sharing them through the
// narrow Bus interface.
type Machine struct {
	mu sync.Mutex

	ram   *ram.Region
	mmio  *mmio.Table
	plic  *plic.Controller
	harts []*hart.Hart

	attachOrder []uint64 // MMIO begin addresses, in the order they were attached

	needsReset bool
}

// New validates cfg and constructs a Machine. It returns an error
// (rather than panicking) on invalid memory size or hart count, per
// the specification's fatal-error-returns-null-handle convention.
func New(cfg Config) (*Machine, error) {
	if cfg.RAMSize == 0 {
		return nil, fmt.Errorf("machine: ram size must be non-zero")
	}
	if cfg.NumHarts <= 0 {
		return nil, fmt.Errorf("machine: hart count must be positive, got %d", cfg.NumHarts)
	}

	m := &Machine{
		ram:  ram.New(cfg.RAMBegin, cfg.RAMSize),
		mmio: mmio.NewTable(),
		plic: plic.New(cfg.NumHarts),
	}

	bus := &machineBus{m: m}
	for i := 0; i < cfg.NumHarts; i++ {
		m.harts = append(m.harts, hart.New(uint32(i), bus, cfg.ResetPC))
	}
	return m, nil
}

// RAM returns the machine's physical memory region, for device
// constructors that need the bounded RAM interface (internal/ethoc's
// Config.RAM).
func (m *Machine) RAM() *ram.Region { return m.ram }

// PLIC returns the machine's interrupt controller.
func (m *Machine) PLIC() *plic.Controller { return m.plic }

// MMIO returns the machine's MMIO dispatch table, for device
// constructors that attach themselves directly (internal/ethoc's
// Attach takes the table rather than going through AttachMMIO, so it
// can start its background worker only after a successful attach).
func (m *Machine) MMIO() *mmio.Table { return m.mmio }

// Hart returns the hart at index i.
func (m *Machine) Hart(i int) *hart.Hart { return m.harts[i] }

// NumHarts reports how many harts the machine owns.
func (m *Machine) NumHarts() int { return len(m.harts) }

// AttachMMIO inserts region into the dispatch table and records it in
// attach order, so teardown can invoke Remove callbacks in reverse.
func (m *Machine) AttachMMIO(region mmio.Region) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.mmio.Attach(region); err != nil {
		return err
	}
	m.attachOrder = append(m.attachOrder, region.Begin)
	return nil
}

// TrackAttach records an MMIO region's begin address in attach order
// without attaching it, for devices (internal/ethoc) that attach
// directly against the table returned by MMIO so they can start their
// background worker only on success. Shutdown still tears the region
// down in reverse attach order via its registered Remove callback.
func (m *Machine) TrackAttach(begin uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attachOrder = append(m.attachOrder, begin)
}

// DetachMMIO removes a single region ahead of machine teardown,
// invoking its Remove callback.
func (m *Machine) DetachMMIO(begin uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.mmio.Detach(begin) {
		return false
	}
	for i, b := range m.attachOrder {
		if b == begin {
			m.attachOrder = append(m.attachOrder[:i], m.attachOrder[i+1:]...)
			break
		}
	}
	return true
}

// Run starts one goroutine per hart and blocks until every hart has
// halted (or ctx-free cooperative shutdown via Shutdown stops them).
// It mirrors coprocessor_manager.go's join pattern, generalized from
// one worker to N harts via errgroup.
func (m *Machine) Run() error {
	var g errgroup.Group
	for i := range m.harts {
		h := m.harts[i]
		g.Go(func() error {
			for h.Running() {
				if m.plic.Pending(h.ID()) {
					if _, ok := m.plic.Claim(h.ID()); ok {
						h.PostEvent(hart.EventInterrupt)
					}
				}
				if !h.Step() {
					break
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// Shutdown halts every hart and tears down every attached device in
// reverse attach order, invoking each device's Remove callback. This
// is the free_machine operation from the specification's lifecycle.
func (m *Machine) Shutdown() {
	for _, h := range m.harts {
		h.Halt()
	}

	m.mu.Lock()
	order := append([]uint64(nil), m.attachOrder...)
	m.mu.Unlock()

	for i := len(order) - 1; i >= 0; i-- {
		m.DetachMMIO(order[i])
	}
}

// machineBus implements hart.Bus by routing an access to RAM when the
// address falls inside the RAM region, and to the MMIO table
// otherwise.
type machineBus struct {
	m *Machine
}

func (b *machineBus) FetchInstruction(addr uint64) (uint32, bool) {
	var buf [4]byte
	if !b.load(addr, 4, buf[:]) {
		return 0, false
	}
	return binary.LittleEndian.Uint32(buf[:]), true
}

func (b *machineBus) Load(addr uint64, size uint) (uint64, bool) {
	buf := make([]byte, size)
	if !b.load(addr, size, buf) {
		return 0, false
	}
	switch size {
	case 1:
		return uint64(buf[0]), true
	case 2:
		return uint64(binary.LittleEndian.Uint16(buf)), true
	case 4:
		return uint64(binary.LittleEndian.Uint32(buf)), true
	case 8:
		return binary.LittleEndian.Uint64(buf), true
	default:
		return 0, false
	}
}

func (b *machineBus) Store(addr uint64, size uint, val uint64) bool {
	buf := make([]byte, size)
	switch size {
	case 1:
		buf[0] = byte(val)
	case 2:
		binary.LittleEndian.PutUint16(buf, uint16(val))
	case 4:
		binary.LittleEndian.PutUint32(buf, uint32(val))
	case 8:
		binary.LittleEndian.PutUint64(buf, val)
	default:
		return false
	}
	return b.store(addr, size, buf)
}

func (b *machineBus) load(addr uint64, size uint, buf []byte) bool {
	r := b.m.ram
	if addr >= r.Begin() && addr+uint64(size) <= r.End() {
		return r.Read(buf, addr)
	}
	return b.m.mmio.Dispatch(addr, size, buf, false)
}

func (b *machineBus) store(addr uint64, size uint, buf []byte) bool {
	r := b.m.ram
	if addr >= r.Begin() && addr+uint64(size) <= r.End() {
		return r.Write(addr, buf)
	}
	return b.m.mmio.Dispatch(addr, size, buf, true)
}
