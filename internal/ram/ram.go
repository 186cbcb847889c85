// Package ram implements the machine's physical memory region: a
// contiguous, byte-addressable block of guest RAM with a bounds-checked
// read/write API.
//
// The design follows the memory bus in the Intuition Engine
// (memory_bus.go / machine_bus.go): a plain byte slice guarded by a
// single mutex, little-endian helpers built on encoding/binary, and a
// Reset that clears the block in cache-friendly chunks. Unlike the
// teacher's bus, this region carries no MMIO dispatch of its own — MMIO
// lives one layer up, in package mmio, so RAM stays a pure memory
// object that devices and harts can reason about independently.
package ram

import (
	"encoding/binary"
	"sync"
)

// Region is a contiguous block of guest RAM starting at physical
// address Begin. All accesses are byte-granular; alignment is the
// caller's concern.
type Region struct {
	begin uint64
	mu    sync.RWMutex
	bytes []byte
}

// New allocates a RAM region of size bytes starting at begin.
func New(begin uint64, size uint64) *Region {
	return &Region{
		begin: begin,
		bytes: make([]byte, size),
	}
}

// Begin returns the region's base physical address.
func (r *Region) Begin() uint64 { return r.begin }

// Size returns the region's length in bytes.
func (r *Region) Size() uint64 { return uint64(len(r.bytes)) }

// End returns the address one past the last byte of the region.
func (r *Region) End() uint64 { return r.begin + r.Size() }

// contains reports whether [addr, addr+n) lies fully within the region.
// Caller must hold r.mu.
func (r *Region) contains(addr, n uint64) bool {
	if n == 0 {
		return addr >= r.begin && addr <= r.End()
	}
	if addr < r.begin {
		return false
	}
	end := addr + n
	if end < addr {
		return false // overflow
	}
	return end <= r.End()
}

// Read copies len(dst) bytes from guest address addr into dst. It
// returns false without copying anything when the range is not fully
// contained in the region.
func (r *Region) Read(dst []byte, addr uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.contains(addr, uint64(len(dst))) {
		return false
	}
	off := addr - r.begin
	copy(dst, r.bytes[off:off+uint64(len(dst))])
	return true
}

// Write copies src into guest RAM at addr. It returns false without any
// partial effect when the range is not fully contained in the region.
func (r *Region) Write(addr uint64, src []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.contains(addr, uint64(len(src))) {
		return false
	}
	off := addr - r.begin
	copy(r.bytes[off:off+uint64(len(src))], src)
	return true
}

// Read32 reads a little-endian 32-bit word. ok is false if the word
// falls outside the region.
func (r *Region) Read32(addr uint64) (val uint32, ok bool) {
	var buf [4]byte
	if !r.Read(buf[:], addr) {
		return 0, false
	}
	return binary.LittleEndian.Uint32(buf[:]), true
}

// Write32 writes a little-endian 32-bit word.
func (r *Region) Write32(addr uint64, val uint32) bool {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], val)
	return r.Write(addr, buf[:])
}

// Read8 reads a single byte.
func (r *Region) Read8(addr uint64) (val uint8, ok bool) {
	var buf [1]byte
	if !r.Read(buf[:], addr) {
		return 0, false
	}
	return buf[0], true
}

// Write8 writes a single byte.
func (r *Region) Write8(addr uint64, val uint8) bool {
	return r.Write(addr, []byte{val})
}

// Reset clears the entire region to zero.
func (r *Region) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	const chunk = 64 // cache-line sized clear, matches component_reset.go
	for i := 0; i < len(r.bytes); i += chunk {
		end := i + chunk
		if end > len(r.bytes) {
			end = len(r.bytes)
		}
		clear(r.bytes[i:end])
	}
}
