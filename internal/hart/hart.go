// Package hart implements the fetch/decode/dispatch engine for a single
// RISC-V hardware thread executing RV32I integer instructions, plus the
// register-file semantics that back it.
//
// The cache-line-aware register layout and the mutex discipline around
// execution are grounded in the Intuition Engine's cpu_ie32.go CPU:
// hot-path state (PC, general registers) kept in one struct, a single
// mutex guarding register/memory access from debug and device-adapter
// goroutines, and an Execute loop that fetches, decodes and dispatches
// in a tight switch. Unlike that CPU's fixed 8-byte instruction words
// and hand-rolled opcode switch, this hart decodes standard 32-bit
// RISC-V words and dispatches through a pre-built table, as the
// specification requires (an opcode table filled once at init, indexed
// by a composed funct id, with "smudged" slots for opcodes whose
// encoding ignores some funct bits).
package hart

import "sync"

// Event bits sampled between instructions (Hart.pendingEvents).
const (
	EventInterrupt uint32 = 1 << iota
	EventShutdown
)

// Bus is the narrow interface a hart uses to reach guest memory. The
// machine implements it by combining the RAM region and the MMIO
// dispatch table; the hart itself knows nothing about either.
type Bus interface {
	// FetchInstruction reads a 32-bit instruction word at addr. ok is
	// false when addr is outside RAM and no MMIO region accepts the read.
	FetchInstruction(addr uint64) (word uint32, ok bool)
	// Load reads size bytes (1, 2, 4 or 8) from addr into a
	// little-endian value. ok is false on a bus error.
	Load(addr uint64, size uint) (val uint64, ok bool)
	// Store writes the low size bytes of val to addr.
	Store(addr uint64, size uint, val uint64) (ok bool)
}

// PrivMode is the hart's current privilege level. The core only models
// machine mode; higher levels are declared for forward compatibility
// with a fuller privileged spec, which is explicitly out of scope here.
type PrivMode uint8

const (
	PrivMachine PrivMode = iota
	PrivSupervisor
	PrivUser
)

// Trap describes why Step stopped executing, distinct from a normal
// fall-through to the next instruction.
type Trap struct {
	Cause string
	PC    uint64
}

func (t *Trap) Error() string { return t.Cause }

// Hart is one hardware thread: a 32-entry integer register file, a
// program counter and a bitmap of events sampled at instruction
// boundaries.
//
// Register index 0 is hardwired to zero: reads yield 0, writes are
// silently discarded. That invariant is enforced centrally in SetReg
// rather than at each call site, mirroring how cpu_ie32.go's
// getRegister funnels every register access through one accessor.
type Hart struct {
	mu sync.Mutex

	id   uint32
	regs [32]uint32
	pc   uint32

	pendingEvents      uint32
	interruptsObserved uint64
	priv               PrivMode
	running            bool

	bus   Bus
	table *opcodeTable
}

// New creates a hart bound to bus, with PC set to resetPC and all
// registers zeroed.
func New(id uint32, bus Bus, resetPC uint32) *Hart {
	return &Hart{
		id:      id,
		bus:     bus,
		pc:      resetPC,
		priv:    PrivMachine,
		running: true,
		table:   sharedOpcodeTable(),
	}
}

// ID returns the hart's index within the machine.
func (h *Hart) ID() uint32 { return h.id }

// PC returns the current program counter.
func (h *Hart) PC() uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pc
}

// SetPC overwrites the program counter, e.g. at reset or after a boot
// loader places the hart at its entry point.
func (h *Hart) SetPC(pc uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pc = pc
}

// Reg reads register index (0-31) as raw bits.
func (h *Hart) Reg(index uint8) uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reg(index)
}

func (h *Hart) reg(index uint8) uint32 {
	if index&0x1F == 0 {
		return 0
	}
	return h.regs[index&0x1F]
}

// RegU returns register contents interpreted as unsigned 32-bit.
func (h *Hart) RegU(index uint8) uint32 { return h.Reg(index) }

// RegS returns register contents interpreted as signed 32-bit.
func (h *Hart) RegS(index uint8) int32 { return int32(h.Reg(index)) }

// SetReg writes value to register index. Writes to index 0 are
// silently discarded, per the RISC-V zero-register invariant.
func (h *Hart) SetReg(index uint8, value uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.setReg(index, value)
}

func (h *Hart) setReg(index uint8, value uint32) {
	idx := index & 0x1F
	if idx == 0 {
		return
	}
	h.regs[idx] = value
}

// Running reports whether the hart's execution loop should keep going.
func (h *Hart) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

// Halt stops the hart's execution loop (e.g. on a syscon poweroff
// request routed in from outside this package).
func (h *Hart) Halt() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.running = false
}

// PostEvent ORs bits into the hart's pending-event bitmap. Safe to call
// from any goroutine; the machine's run loop calls this after claiming
// an interrupt from the PLIC, so the hart notices it at its next Step.
func (h *Hart) PostEvent(bits uint32) {
	h.mu.Lock()
	h.pendingEvents |= bits
	h.mu.Unlock()
}

// InterruptsObserved returns the number of times Step has noticed
// EventInterrupt pending since the hart was created. Trap delivery
// itself is out of this core's scope (see ops.go's execSystem); this
// only counts observations at an instruction boundary, for callers
// that want to confirm the PLIC's claimed IRQs are actually reaching
// the hart.
func (h *Hart) InterruptsObserved() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.interruptsObserved
}

// pendingAndClear returns the current event bitmap and clears it.
func (h *Hart) pendingAndClear() uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	bits := h.pendingEvents
	h.pendingEvents = 0
	return bits
}

// Step fetches, decodes and executes a single instruction. It returns
// false (with Running() becoming false) on a fetch bus error or an
// unimplemented/illegal opcode. The caller's outer loop is expected to
// check pending events between Step calls, exactly as the machine's
// event loop does.
func (h *Hart) Step() bool {
	if !h.Running() {
		return false
	}

	pc := h.PC()
	word, ok := h.bus.FetchInstruction(uint64(pc))
	if !ok {
		h.Halt()
		return false
	}

	idx := composeIndex(word)
	handler := h.table[idx]
	if handler == nil {
		h.Halt()
		return false
	}

	next := handler(h, word, pc)
	h.SetPC(next)

	events := h.pendingAndClear()
	if events&EventInterrupt != 0 {
		h.mu.Lock()
		h.interruptsObserved++
		h.mu.Unlock()
	}
	if events&EventShutdown != 0 {
		h.Halt()
		return false
	}
	return true
}
