// Package tap abstracts the host-side virtual network interface that
// backs the Ethernet MAC device: raw L2 frame send/recv, a blocking
// poll with an explicit wake, and MAC address storage.
//
// The teacher repo has no networking code of its own — this interface
// and its poll-with-wake shape are grounded in the specification's
// §4.5/§9 device framework (a background thread blocks in a poll that
// must be wakeable both by host I/O readiness and by an explicit
// request to exit) and in the ioctl-via-golang.org/x/sys/unix idiom
// used throughout the retrieval pack for host device control
// (ChengyuZhu6-veritysetup-go's dm_linux.go, ehrlich-b-go-ublk's
// queue/runner.go, aamcrae-pru's pru.go).
package tap

import "time"

// PollMask selects which readiness conditions Poll waits for.
type PollMask uint8

const (
	PollIn PollMask = 1 << iota
	PollOut
)

// PollResult reports which requested conditions became ready, or that
// the wait was interrupted by an explicit Wake call or a timeout.
type PollResult struct {
	Readable bool
	Writable bool
	Woken    bool
}

// Device is a host-side L2 network endpoint.
type Device interface {
	// Poll blocks until at least one condition in mask is ready, Wake
	// is called from another goroutine, or timeout elapses (timeout<0
	// means wait indefinitely). It returns an error only on a fatal
	// host I/O failure; ordinary non-readiness is reported as an empty
	// PollResult with Woken false.
	Poll(mask PollMask, timeout time.Duration) (PollResult, error)

	// Recv reads one frame into buf, returning the number of bytes
	// read. A failed read is reported as an error, matching the
	// specification's treatment of a failed tap_recv as a
	// descriptor-flag-worthy I/O error. A frame longer than buf is
	// truncated to len(buf) bytes without an error.
	Recv(buf []byte) (int, error)

	// Send writes one frame. The returned count may be less than
	// len(buf) on a partial send.
	Send(buf []byte) (int, error)

	// Wake unblocks a goroutine currently parked in Poll, regardless
	// of whether any condition in its mask became ready. Safe to call
	// from any goroutine, including when no Poll call is outstanding.
	Wake()

	// IsUp reports whether the underlying link is currently up, for
	// the MDIO BMSR link-status emulation.
	IsUp() bool

	// MAC returns the interface's current hardware address.
	MAC() [6]byte

	// SetMAC updates the interface's hardware address.
	SetMAC(addr [6]byte) error

	// Close releases the underlying host resource. After Close, Poll
	// must return promptly with an error.
	Close() error
}
