//go:build linux

package tap

import (
	"fmt"
	"os"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	ifNameSize = 16
	tunDevPath = "/dev/net/tun"
	iffTap     = 0x0002
	iffNoPI    = 0x1000
	tunSetIff  = 0x400454ca // _IOW('T', 202, int), ifreq struct pointer
)

type ifReq struct {
	name  [ifNameSize]byte
	flags uint16
	_     [22]byte // pad to the kernel's struct ifreq size
}

// linuxDevice opens a Linux TAP interface via /dev/net/tun
// and a TUNSETIFF ioctl, following the ioctl-via-x/sys/unix idiom the
// retrieval pack uses for host device control.
type linuxDevice struct {
	file *os.File

	mu  sync.Mutex
	mac [6]byte
	up  bool

	wakeR *os.File
	wakeW *os.File
}

// Open creates or attaches to a TAP interface named ifName (empty
// string lets the kernel assign one).
func Open(ifName string) (Device, error) {
	f, err := os.OpenFile(tunDevPath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("tap: open %s: %w", tunDevPath, err)
	}

	var req ifReq
	copy(req.name[:], ifName)
	req.flags = iffTap | iffNoPI

	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), uintptr(tunSetIff), uintptr(unsafe.Pointer(&req))); errno != 0 {
		f.Close()
		return nil, fmt.Errorf("tap: TUNSETIFF: %w", errno)
	}

	wr, ww, err := os.Pipe()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("tap: wake pipe: %w", err)
	}

	return &linuxDevice{file: f, up: true, wakeR: wr, wakeW: ww}, nil
}

func (d *linuxDevice) Poll(mask PollMask, timeout time.Duration) (PollResult, error) {
	fds := []unix.PollFd{{Fd: int32(d.file.Fd())}, {Fd: int32(d.wakeR.Fd()), Events: unix.POLLIN}}
	if mask&PollIn != 0 {
		fds[0].Events |= unix.POLLIN
	}
	if mask&PollOut != 0 {
		fds[0].Events |= unix.POLLOUT
	}

	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}

	n, err := unix.Poll(fds, ms)
	if err != nil {
		if err == unix.EINTR {
			return PollResult{}, nil
		}
		return PollResult{}, fmt.Errorf("tap: poll: %w", err)
	}
	if n == 0 {
		return PollResult{}, nil
	}

	var res PollResult
	if fds[1].Revents&unix.POLLIN != 0 {
		var buf [64]byte
		unix.Read(int(d.wakeR.Fd()), buf[:])
		res.Woken = true
	}
	if fds[0].Revents&unix.POLLIN != 0 {
		res.Readable = true
	}
	if fds[0].Revents&unix.POLLOUT != 0 {
		res.Writable = true
	}
	return res, nil
}

func (d *linuxDevice) Recv(buf []byte) (int, error) {
	n, err := d.file.Read(buf)
	if err != nil {
		return 0, fmt.Errorf("tap: recv: %w", err)
	}
	return n, nil
}

func (d *linuxDevice) Send(buf []byte) (int, error) {
	n, err := d.file.Write(buf)
	if err != nil {
		return n, fmt.Errorf("tap: send: %w", err)
	}
	return n, nil
}

func (d *linuxDevice) Wake() {
	d.wakeW.Write([]byte{0})
}

func (d *linuxDevice) IsUp() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.up
}

func (d *linuxDevice) MAC() [6]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mac
}

func (d *linuxDevice) SetMAC(addr [6]byte) error {
	d.mu.Lock()
	d.mac = addr
	d.mu.Unlock()
	return nil
}

func (d *linuxDevice) Close() error {
	d.wakeW.Close()
	d.wakeR.Close()
	return d.file.Close()
}
