package tap

import (
	"errors"
	"sync"
	"time"
)

// LoopbackDevice is an in-memory Device used by tests and by hosts
// with no TAP support. Frames queued with Inject become readable via
// Poll/Recv; frames passed to Send are recorded for assertions.
type LoopbackDevice struct {
	mu     sync.Mutex
	rx     [][]byte
	sent   [][]byte
	mac    [6]byte
	up     bool
	closed bool
	wake   chan struct{}
}

// NewLoopback returns a LoopbackDevice reporting link-up by default.
func NewLoopback() *LoopbackDevice {
	return &LoopbackDevice{up: true, wake: make(chan struct{}, 1)}
}

// Inject makes frame available to the next Recv, as if it had arrived
// over the wire, and wakes any blocked Poll waiting on PollIn.
func (d *LoopbackDevice) Inject(frame []byte) {
	cp := append([]byte(nil), frame...)
	d.mu.Lock()
	d.rx = append(d.rx, cp)
	d.mu.Unlock()
	d.Wake()
}

// Sent returns every frame handed to Send so far, oldest first.
func (d *LoopbackDevice) Sent() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]byte, len(d.sent))
	copy(out, d.sent)
	return out
}

// SetLinkUp controls the value IsUp reports, for PHY link-status tests.
func (d *LoopbackDevice) SetLinkUp(up bool) {
	d.mu.Lock()
	d.up = up
	d.mu.Unlock()
}

func (d *LoopbackDevice) Poll(mask PollMask, timeout time.Duration) (PollResult, error) {
	d.mu.Lock()
	closed := d.closed
	readable := mask&PollIn != 0 && len(d.rx) > 0
	writable := mask&PollOut != 0
	d.mu.Unlock()

	if closed {
		return PollResult{}, errors.New("tap: device closed")
	}
	if readable || writable {
		return PollResult{Readable: readable, Writable: writable}, nil
	}

	var after <-chan time.Time
	if timeout >= 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		after = t.C
	}

	select {
	case <-d.wake:
		d.mu.Lock()
		readable = mask&PollIn != 0 && len(d.rx) > 0
		d.mu.Unlock()
		return PollResult{Readable: readable, Writable: mask&PollOut != 0, Woken: true}, nil
	case <-after:
		return PollResult{}, nil
	}
}

func (d *LoopbackDevice) Recv(buf []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.rx) == 0 {
		return 0, errors.New("tap: no frame queued")
	}
	frame := d.rx[0]
	d.rx = d.rx[1:]
	n := copy(buf, frame)
	return n, nil
}

func (d *LoopbackDevice) Send(buf []byte) (int, error) {
	cp := append([]byte(nil), buf...)
	d.mu.Lock()
	d.sent = append(d.sent, cp)
	d.mu.Unlock()
	return len(buf), nil
}

func (d *LoopbackDevice) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *LoopbackDevice) IsUp() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.up
}

func (d *LoopbackDevice) MAC() [6]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mac
}

func (d *LoopbackDevice) SetMAC(addr [6]byte) error {
	d.mu.Lock()
	d.mac = addr
	d.mu.Unlock()
	return nil
}

func (d *LoopbackDevice) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.Wake()
	return nil
}
