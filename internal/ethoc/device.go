package ethoc

import (
	"encoding/binary"
	"sync"

	"github.com/rvvm-go/rvvm/internal/device"
	"github.com/rvvm-go/rvvm/internal/mmio"
	"github.com/rvvm-go/rvvm/internal/plic"
	"github.com/rvvm-go/rvvm/internal/tap"
)

// RAM is the narrow bounded memory interface the background DMA
// thread uses to move frame data in and out of guest memory. Satisfied
// directly by *internal/ram.Region.
type RAM interface {
	Read(dst []byte, addr uint64) bool
	Write(addr uint64, src []byte) bool
}

// Config bundles everything a Device needs at construction: the
// machine collaborators it calls back into, never the other way
// around, per the specification's "avoid back-pointers that survive
// teardown" design note.
type Config struct {
	RAM    RAM
	PLIC   *plic.Controller
	HartID uint32
	IRQ    uint64
	Tap    tap.Device // if nil, a LoopbackDevice is used
}

// Device is one OpenCores Ethernet MAC instance.
type Device struct {
	mu sync.Mutex

	moder      uint32
	intSrc     uint32
	intMask    uint32
	packetLen  uint32
	collConf   uint32
	txBDNum    uint32
	ctrlModer  uint32
	miiModer   uint32
	miiAddress uint32
	miiTxData  uint32
	miiRxData  uint32
	miiStatus  uint32
	hash       [2]uint32
	txctrl     uint32
	mac        [6]byte

	bd      bdRing
	curTxBD uint32
	curRxBD uint32

	ram    RAM
	plic   *plic.Controller
	hartID uint32
	irq    uint64
	tap    tap.Device

	phyID  uint8
	worker device.Worker
}

// New constructs a Device in its post-reset state. The background
// thread is not started until Attach succeeds.
func New(cfg Config) *Device {
	t := cfg.Tap
	if t == nil {
		t = tap.NewLoopback()
	}
	d := &Device{
		ram:    cfg.RAM,
		plic:   cfg.PLIC,
		hartID: cfg.HartID,
		irq:    cfg.IRQ,
		tap:    t,
	}
	d.reset()
	return d
}

func (d *Device) reset() {
	d.moder = resetModer
	d.intSrc = 0
	d.intMask = 0
	d.packetLen = resetPacketLen
	d.collConf = resetCollConf
	d.txBDNum = resetTxBDNum
	d.ctrlModer = 0
	d.miiModer = resetMIIModer
	d.miiAddress = 0
	d.miiTxData = 0
	d.miiRxData = 0
	d.miiStatus = 0
	d.hash[0] = 0
	d.hash[1] = 0
	d.txctrl = 0
	d.mac = [6]byte{}
	d.bd.reset()
	d.curTxBD = 0
	d.curRxBD = 0
}

// Attach registers the device's MMIO window with table at base and
// starts its background DMA thread.
func (d *Device) Attach(table *mmio.Table, base uint64) error {
	region := mmio.Region{
		Begin:     base,
		End:       base + RegWindowSize,
		MinOpSize: 1,
		MaxOpSize: 8,
		Read:      d.mmioRead,
		Write:     d.mmioWrite,
		Remove:    d.Remove,
		Name:      "ethernet_oc",
	}
	if err := table.Attach(region); err != nil {
		return err
	}
	d.worker.Start(d.run)
	return nil
}

// Remove stops the background thread and releases the TAP handle. It
// is registered as the MMIO region's Remove callback, so machine
// teardown invokes it automatically; it is also safe to call directly
// (e.g. from a failed Attach path) and idempotent.
func (d *Device) Remove() {
	d.worker.Stop(d.tap)
	d.tap.Close()
}

// --- MMIO register access ---

func (d *Device) mmioRead(offset uint64, size uint, buf []byte) bool {
	if offset < RegBDRingBase && (offset%4 != 0 || size != 4) {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if offset >= RegBDRingBase {
		end := offset + uint64(size)
		if end > RegBDRingEnd {
			return false
		}
		copy(buf[:size], d.bd.raw[offset-RegBDRingBase:])
		return true
	}

	var v uint32
	switch offset {
	case RegMODER:
		v = d.moder
	case RegINTSrc:
		v = d.intSrc
	case RegINTMask:
		v = d.intMask
	case RegIPGT, RegIPGR1, RegIPGR2:
		v = 0
	case RegPacketLen:
		v = d.packetLen
	case RegCollConf:
		v = d.collConf
	case RegTxBDNum:
		v = d.txBDNum
	case RegCtrlModer:
		v = d.ctrlModer
	case RegMIIModer:
		v = d.miiModer
	case RegMIICommand:
		v = 0
	case RegMIIAddress:
		v = d.miiAddress
	case RegMIITxData:
		v = d.miiTxData
	case RegMIIRxData:
		v = d.miiRxData
	case RegMIIStatus:
		v = d.miiStatus
	case RegMACAddr0:
		d.refreshMACFromTap()
		v = uint32(d.mac[5]) | uint32(d.mac[4])<<8 | uint32(d.mac[3])<<16 | uint32(d.mac[2])<<24
	case RegMACAddr1:
		d.refreshMACFromTap()
		v = uint32(d.mac[1]) | uint32(d.mac[0])<<8
	case RegHash0:
		v = d.hash[0]
	case RegHash1:
		v = d.hash[1]
	case RegTXCtrl:
		v = d.txctrl
	default:
		return false
	}
	binary.LittleEndian.PutUint32(buf, v)
	return true
}

func (d *Device) mmioWrite(offset uint64, size uint, buf []byte) bool {
	if offset < RegBDRingBase && (offset%4 != 0 || size != 4) {
		return false
	}

	d.mu.Lock()
	wake := false

	if offset >= RegBDRingBase {
		end := offset + uint64(size)
		if end > RegBDRingEnd {
			d.mu.Unlock()
			return false
		}
		copy(d.bd.raw[offset-RegBDRingBase:], buf[:size])
		if end >= uint64(d.txBDNum)*bdBytes {
			wake = true
		}
		d.mu.Unlock()
		if wake {
			d.tap.Wake()
		}
		return true
	}

	val := binary.LittleEndian.Uint32(buf)
	switch offset {
	case RegMODER:
		prevRX := d.moder&moderRXEN != 0
		prevTX := d.moder&moderTXEN != 0
		d.moder = val
		if !prevRX && d.moder&moderRXEN != 0 {
			d.curRxBD = d.txBDNum
			wake = true
		}
		if !prevTX && d.moder&moderTXEN != 0 {
			d.curTxBD = 0
			wake = true
		}
	case RegINTSrc:
		d.intSrc &^= val
		if d.intSrc&d.intMask != 0 {
			d.plic.SendIRQ(d.hartID, d.irq)
		}
	case RegINTMask:
		d.intMask = val
		if d.intSrc&d.intMask != 0 {
			d.plic.SendIRQ(d.hartID, d.irq)
		}
	case RegIPGT, RegIPGR1, RegIPGR2:
		// ignored, per the register map
	case RegPacketLen:
		d.packetLen = val
	case RegCollConf:
		d.collConf = val
	case RegTxBDNum:
		d.txBDNum = val
	case RegCtrlModer:
		d.ctrlModer = val
	case RegMIIModer:
		d.miiModer = val
	case RegMIICommand:
		if val&miiCmdRStat != 0 {
			d.miiRxData = d.mdioRead(uint8(d.miiAddress&0x1F), uint8((d.miiAddress>>8)&0x1F)) & 0xFFFF
		} else if val&miiCmdWCtrlData != 0 {
			d.mdioWrite(uint8(d.miiAddress&0x1F), uint8((d.miiAddress>>8)&0x1F), uint16(d.miiTxData&0xFFFF))
		}
	case RegMIIAddress:
		d.miiAddress = val
	case RegMIITxData:
		d.miiTxData = val
	case RegMIIRxData:
		// read-only
	case RegMIIStatus:
		d.miiStatus = val
	case RegMACAddr0:
		d.mac[5] = byte(val)
		d.mac[4] = byte(val >> 8)
		d.mac[3] = byte(val >> 16)
		d.mac[2] = byte(val >> 24)
		d.tap.SetMAC(d.mac)
	case RegMACAddr1:
		d.mac[1] = byte(val)
		d.mac[0] = byte(val >> 8)
		d.tap.SetMAC(d.mac)
	case RegHash0:
		d.hash[0] = val
	case RegHash1:
		d.hash[1] = val
	case RegTXCtrl:
		d.txctrl = val
	default:
		d.mu.Unlock()
		return false
	}

	d.mu.Unlock()
	if wake {
		d.tap.Wake()
	}
	return true
}

func (d *Device) refreshMACFromTap() {
	d.mac = d.tap.MAC()
}

// raiseInterrupt sets bit n in int_src and, if the corresponding mask
// bit is set, asks the PLIC to deliver the IRQ. Caller must hold d.mu.
func (d *Device) raiseInterrupt(bit uint32) {
	d.intSrc |= 1 << bit
	if d.intMask&(1<<bit) != 0 {
		d.plic.SendIRQ(d.hartID, d.irq)
	}
}

// --- MDIO / PHY emulation ---

func (d *Device) mdioRead(phy, reg uint8) uint32 {
	if d.phyID != phy {
		return 0
	}
	switch reg {
	case miiRegBMSR:
		if d.tap.IsUp() {
			return 1 << 2
		}
		return 0
	case miiRegPHYIDR1, miiRegPHYIDR2:
		return 0
	default:
		return 0
	}
}

func (d *Device) mdioWrite(phy, reg uint8, val uint16) {
	if d.phyID != phy {
		return
	}
	// every writable register is currently a no-op on this PHY model
	_ = reg
	_ = val
}

// --- Background DMA thread ---

func (d *Device) run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		d.mu.Lock()
		mask, rxTarget, haveRX := d.pollState()
		d.mu.Unlock()

		res, err := d.tap.Poll(mask, -1)
		if err != nil {
			continue
		}
		if res.Woken && !res.Readable && !res.Writable {
			select {
			case <-stop:
				return
			default:
			}
			continue
		}

		if res.Readable && haveRX {
			d.mu.Lock()
			rxEnabled := d.moder&moderRXEN != 0
			d.mu.Unlock()
			if rxEnabled {
				d.handleRX(rxTarget)
			}
		}
		if res.Writable {
			d.mu.Lock()
			txEnabled := d.moder&moderTXEN != 0
			d.mu.Unlock()
			if txEnabled {
				d.handleTX()
			}
		}
	}
}

// pollState computes which conditions the thread should wait for and,
// when an RX slot is available, which descriptor it is. Caller must
// hold d.mu.
func (d *Device) pollState() (mask tap.PollMask, rxTarget uint32, haveRX bool) {
	if d.moder&moderTXEN != 0 {
		if d.bd.data(d.curTxBD)&txReady != 0 {
			mask |= tap.PollOut
		}
	}
	if d.moder&moderRXEN != 0 {
		prev := d.curRxBD
		for d.bd.data(d.curRxBD)&rxEmpty == 0 {
			if d.bd.data(d.curRxBD)&bdWrapBit != 0 || d.curRxBD == bdCount-1 {
				d.curRxBD = d.txBDNum
			} else {
				d.curRxBD++
			}
			if d.curRxBD == prev {
				return mask, 0, false
			}
		}
		mask |= tap.PollIn
		return mask, d.curRxBD, true
	}
	return mask, 0, false
}

// handleRX processes one arrived frame into descriptor rxbd. It holds
// d.mu only to read/commit register and descriptor state, releasing it
// around the blocking tap.Recv call so a hart's MMIO access never waits
// on host network I/O.
func (d *Device) handleRX(rxbd uint32) {
	d.mu.Lock()
	data := d.bd.data(rxbd) &^ rxEmpty
	ptr := d.bd.ptr(rxbd)
	d.mu.Unlock()

	scratch := make([]byte, 1536)
	n, err := d.tap.Recv(scratch)

	d.mu.Lock()
	defer d.mu.Unlock()

	if err != nil {
		data |= rxInvSym
		d.raiseInterrupt(intRXE)
		d.bd.setData(rxbd, data)
		return
	}

	if d.ram.Write(uint64(ptr), scratch[:n]) {
		data = withLength(data, uint32(n))
	} else {
		data |= rxOverrun
		d.raiseInterrupt(intRXE)
	}

	maxLen := d.packetLen & 0xFFFF
	minLen := (d.packetLen >> 16) & 0xFFFF
	if uint32(n) > maxLen {
		data |= rxTooLong
		d.raiseInterrupt(intRXE)
	} else if d.moder&(moderPAD|moderRECSMALL) == 0 && uint32(n) < minLen {
		data |= rxShortFrm
		d.raiseInterrupt(intRXE)
	}

	if data&bdIRQBit != 0 {
		d.raiseInterrupt(intRXB)
	}
	d.bd.setData(rxbd, data)
}

// handleTX sends the frame queued at curTxBD, if any is ready. Like
// handleRX, it releases d.mu around the blocking tap.Send call so the
// background thread never holds the register lock during TAP I/O.
func (d *Device) handleTX() {
	d.mu.Lock()
	txbd := d.curTxBD
	data := d.bd.data(txbd)
	if data&txReady == 0 {
		d.mu.Unlock()
		return
	}

	if data&bdWrapBit != 0 || d.curTxBD == d.txBDNum {
		d.curTxBD = 0
	} else {
		d.curTxBD++
	}

	toWrite := bdLength(data)
	buf := make([]byte, toWrite)
	readOK := d.ram.Read(buf, uint64(d.bd.ptr(txbd)))
	data &^= txReady
	d.mu.Unlock()

	var written int
	var sendErr error
	if readOK {
		written, sendErr = d.tap.Send(buf)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case !readOK:
		data |= txCS
		d.raiseInterrupt(intTXE)
	case sendErr != nil:
		data |= txRL
		d.raiseInterrupt(intTXE)
	case uint32(written) < toWrite:
		data |= txUR
		d.raiseInterrupt(intTXE)
	}

	if data&bdIRQBit != 0 {
		d.raiseInterrupt(intTXB)
	}
	d.bd.setData(txbd, data)
}
