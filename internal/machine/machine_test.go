package machine

import (
	"encoding/binary"
	"testing"

	"github.com/rvvm-go/rvvm/internal/mmio"
)

func TestNewRejectsZeroRAM(t *testing.T) {
	if _, err := New(Config{RAMSize: 0, NumHarts: 1}); err == nil {
		t.Fatal("expected error for zero RAM size")
	}
}

func TestNewRejectsNonPositiveHartCount(t *testing.T) {
	if _, err := New(Config{RAMSize: 4096, NumHarts: 0}); err == nil {
		t.Fatal("expected error for zero hart count")
	}
}

func TestRunExecutesUntilECALL(t *testing.T) {
	m, err := New(Config{RAMBegin: 0, RAMSize: 4096, NumHarts: 1, ResetPC: 0})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// ADDI x1, x0, 5 ; ECALL
	addi := uint32(0x13) | (1 << 7) | (0 << 15) | (uint32(5) << 20)
	ecall := uint32(0x73)
	var code [8]byte
	binary.LittleEndian.PutUint32(code[0:4], addi)
	binary.LittleEndian.PutUint32(code[4:8], ecall)
	if !m.RAM().Write(0, code[:]) {
		t.Fatal("failed to load code into RAM")
	}

	if err := m.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := m.Hart(0).Reg(1); got != 5 {
		t.Fatalf("x1 = %d, want 5", got)
	}
	if m.Hart(0).Running() {
		t.Fatal("expected hart to have halted on ECALL")
	}
}

func TestMachineBusRoutesMMIOOutsideRAM(t *testing.T) {
	m, err := New(Config{RAMBegin: 0x1000, RAMSize: 0x1000, NumHarts: 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var seen uint64
	err = m.AttachMMIO(mmio.Region{
		Begin: 0x9000, End: 0x9010, MinOpSize: 4, MaxOpSize: 4,
		Write: func(offset uint64, size uint, buf []byte) bool {
			seen = offset
			return true
		},
		Read: func(offset uint64, size uint, buf []byte) bool { return true },
	})
	if err != nil {
		t.Fatalf("AttachMMIO: %v", err)
	}

	bus := &machineBus{m: m}
	if !bus.Store(0x9004, 4, 0xAA) {
		t.Fatal("store to MMIO region should succeed")
	}
	if seen != 4 {
		t.Fatalf("mmio offset = %d, want 4", seen)
	}
}

func TestRunDeliversPendingPLICInterruptToHart(t *testing.T) {
	m, err := New(Config{RAMBegin: 0, RAMSize: 4096, NumHarts: 1, ResetPC: 0})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Three NOPs (ADDI x0, x0, 0) followed by ECALL: enough instruction
	// boundaries for Run's per-hart loop to notice the claimed IRQ
	// before the hart halts.
	nop := uint32(0x13)
	ecall := uint32(0x73)
	var code [16]byte
	binary.LittleEndian.PutUint32(code[0:4], nop)
	binary.LittleEndian.PutUint32(code[4:8], nop)
	binary.LittleEndian.PutUint32(code[8:12], nop)
	binary.LittleEndian.PutUint32(code[12:16], ecall)
	if !m.RAM().Write(0, code[:]) {
		t.Fatal("failed to load code into RAM")
	}

	m.PLIC().SendIRQ(m.Hart(0).ID(), 3)

	if err := m.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := m.Hart(0).InterruptsObserved(); got != 1 {
		t.Fatalf("InterruptsObserved = %d, want 1 (IRQ claimed by Run's loop should reach the hart)", got)
	}
	if m.PLIC().Pending(m.Hart(0).ID()) {
		t.Fatal("IRQ should have been claimed, not left pending, once observed")
	}
}

func TestShutdownTearsDownInReverseAttachOrder(t *testing.T) {
	m, err := New(Config{RAMBegin: 0, RAMSize: 0x1000, NumHarts: 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var order []uint64
	attach := func(begin uint64) {
		m.AttachMMIO(mmio.Region{
			Begin: begin, End: begin + 0x10,
			Remove: func() { order = append(order, begin) },
		})
	}
	attach(0x2000)
	attach(0x3000)
	attach(0x4000)

	m.Shutdown()

	want := []uint64{0x4000, 0x3000, 0x2000}
	if len(order) != len(want) {
		t.Fatalf("teardown order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("teardown order = %v, want %v", order, want)
		}
	}
	for i := 0; i < m.NumHarts(); i++ {
		if m.Hart(i).Running() {
			t.Fatalf("hart %d should be halted after Shutdown", i)
		}
	}
}
