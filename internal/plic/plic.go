// Package plic implements the platform-level interrupt controller
// interface: devices raise IRQ lines by number, and harts sample
// pending lines between instructions.
//
// There is no single file in the teacher repo that plays this role —
// the Intuition Engine's CPUs drive interrupts through a single
// hardwired vector table (cpu_ie32.go's InterruptVector/InterruptEnabled
// pair) rather than a multi-line controller. This package keeps that
// CPU's concurrency discipline (a dedicated mutex guarding a small bank
// of interrupt state, safe to call from any goroutine) but generalises
// it to the PLIC contract the specification calls for: N independent
// IRQ lines, one first-in-first-out pending queue per hart, and a Controller safe to call
// concurrently from device background threads and MMIO write handlers
// alike.
package plic

import "sync"

// MaxLines bounds the number of distinct IRQ numbers the controller
// will track; large enough for the Ethernet MAC's seven interrupt
// source bits and any future devices attached to the same core.
const MaxLines = 64

// Controller routes IRQ lines from devices to harts. SendIRQ is safe
// to call concurrently from any goroutine: device background threads
// and MMIO write handlers both call it without additional locking.
type Controller struct {
	mu      sync.Mutex
	pending [MaxLines]bool
	claimed map[uint32][]uint64 // hart id -> pending line numbers, oldest first
}

// New returns a controller with no lines asserted.
func New(numHarts int) *Controller {
	return &Controller{claimed: make(map[uint32][]uint64, numHarts)}
}

// SendIRQ asserts irq for the given hart. It is level-sensitive from
// the controller's point of view: re-asserting an already-pending line
// is a no-op until the hart claims it.
func (c *Controller) SendIRQ(hartID uint32, irq uint64) {
	if irq >= MaxLines {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, pending := range c.claimed[hartID] {
		if pending == irq {
			return
		}
	}
	c.claimed[hartID] = append(c.claimed[hartID], irq)
}

// Pending reports whether hartID has any unclaimed interrupt.
func (c *Controller) Pending(hartID uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.claimed[hartID]) > 0
}

// Claim pops and returns the oldest pending IRQ line for hartID. ok is
// false when nothing is pending.
func (c *Controller) Claim(hartID uint32) (irq uint64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	lines := c.claimed[hartID]
	if len(lines) == 0 {
		return 0, false
	}
	irq = lines[0]
	c.claimed[hartID] = lines[1:]
	return irq, true
}

// Reset clears all pending interrupts for every hart.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.claimed = make(map[uint32][]uint64)
}
