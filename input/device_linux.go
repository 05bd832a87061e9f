//go:build linux

package input

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	evKey = 0x01
	evRel = 0x02

	evMax  = 0x1f
	keyMax = 0x2ff

	relX           = 0x00
	relY           = 0x01
	relHWheel      = 0x06
	relWheel       = 0x08
	relWheelHiRes  = 0x0b
	relHWheelHiRes = 0x0c

	// struct input_event on 64-bit: two 8-byte time fields, then
	// type (u16), code (u16), value (s32).
	inputEventSize = 24
)

type evdevDevice struct {
	f    *os.File
	info DeviceInfo
	buf  []byte
}

// enumerateDevices opens every /dev/input/event* node and queries its
// capability bitmaps. Unreadable nodes are skipped.
func enumerateDevices() ([]Device, error) {
	paths, err := filepath.Glob("/dev/input/event*")
	if err != nil {
		return nil, fmt.Errorf("list input devices: %w", err)
	}
	sort.Strings(paths)

	var devices []Device
	for _, path := range paths {
		dev, err := openEvdev(path)
		if err != nil {
			continue
		}
		devices = append(devices, dev)
	}
	return devices, nil
}

func openEvdev(path string) (*evdevDevice, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}

	fd := int(f.Fd())
	info := DeviceInfo{
		Path: path,
		Name: deviceName(fd),
	}

	if types, err := capabilityBits(fd, 0, evMax); err == nil {
		info.RelativeMotion = bitSet(types, evRel)
	}
	if keys, err := capabilityBits(fd, evKey, keyMax); err == nil {
		info.PrimaryButton = bitSet(keys, codeBtnLeft)
	}

	return &evdevDevice{
		f:    f,
		info: info,
		buf:  make([]byte, 64*inputEventSize),
	}, nil
}

func (d *evdevDevice) Info() DeviceInfo {
	return d.info
}

// ReadEvents performs one blocking read and decodes the complete samples it
// returned. Sync reports and axes the engine does not consume are dropped
// here so the poll loop only sees meaningful samples.
func (d *evdevDevice) ReadEvents() ([]RawEvent, error) {
	n, err := d.f.Read(d.buf)
	if err != nil {
		return nil, err
	}

	events := make([]RawEvent, 0, n/inputEventSize)
	for off := 0; off+inputEventSize <= n; off += inputEventSize {
		typ := binary.LittleEndian.Uint16(d.buf[off+16:])
		code := binary.LittleEndian.Uint16(d.buf[off+18:])
		value := int32(binary.LittleEndian.Uint32(d.buf[off+20:]))

		switch typ {
		case evRel:
			switch code {
			case relX:
				events = append(events, RawEvent{Kind: RawRelX, Value: value})
			case relY:
				events = append(events, RawEvent{Kind: RawRelY, Value: value})
			case relWheel:
				events = append(events, RawEvent{Kind: RawWheel, Value: value})
			case relHWheel:
				events = append(events, RawEvent{Kind: RawHWheel, Value: value})
			case relWheelHiRes:
				events = append(events, RawEvent{Kind: RawWheelHiRes, Value: value})
			case relHWheelHiRes:
				events = append(events, RawEvent{Kind: RawHWheelHiRes, Value: value})
			}
		case evKey:
			// Key repeat (value 2) is not a state change.
			if value == 0 || value == 1 {
				events = append(events, RawEvent{Kind: RawKey, Code: code, Value: value})
			}
		}
	}

	return events, nil
}

func (d *evdevDevice) Close() error {
	return d.f.Close()
}

// ioctl request constructors for the evdev EVIOCG* family.
func iocRead(nr, size uintptr) uintptr {
	const (
		iocNrShift   = 0
		iocTypeShift = 8
		iocSizeShift = 16
		iocDirShift  = 30
		iocDirRead   = 2
	)
	return iocDirRead<<iocDirShift | size<<iocSizeShift | 'E'<<iocTypeShift | nr<<iocNrShift
}

func deviceName(fd int) string {
	buf := make([]byte, 256)
	// EVIOCGNAME(len)
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), iocRead(0x06, uintptr(len(buf))), uintptr(unsafe.Pointer(&buf[0])))
	if errno != 0 {
		return "unknown"
	}
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i])
		}
	}
	return string(buf)
}

// capabilityBits returns the capability bitmap for one event type.
// ev 0 queries the supported event types themselves.
func capabilityBits(fd, ev, maxBit int) ([]byte, error) {
	buf := make([]byte, maxBit/8+1)
	// EVIOCGBIT(ev, len)
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), iocRead(uintptr(0x20+ev), uintptr(len(buf))), uintptr(unsafe.Pointer(&buf[0])))
	if errno != 0 {
		return nil, errno
	}
	return buf, nil
}

func bitSet(bits []byte, bit int) bool {
	idx := bit / 8
	if idx >= len(bits) {
		return false
	}
	return bits[idx]&(1<<(uint(bit)%8)) != 0
}
