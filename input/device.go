package input

// RawKind classifies a raw sample read from the physical device.
type RawKind int

// Raw sample kinds, one per evdev axis or key channel the engine consumes.
const (
	RawRelX RawKind = iota
	RawRelY
	RawWheel
	RawHWheel
	RawWheelHiRes
	RawHWheelHiRes
	RawKey
)

// RawEvent is one unprocessed sample from the device. Value carries the
// axis delta, or 0/1 release/press for RawKey.
type RawEvent struct {
	Kind  RawKind
	Code  uint16
	Value int32
}

// DeviceInfo describes an enumerated input device and the capabilities the
// selection policy cares about.
type DeviceInfo struct {
	Path           string
	Name           string
	RelativeMotion bool
	PrimaryButton  bool
}

// Device is a physical input device. ReadEvents blocks until samples are
// available; Close unblocks a pending read.
type Device interface {
	Info() DeviceInfo
	ReadEvents() ([]RawEvent, error)
	Close() error
}

// EnumerateFunc lists candidate devices. The platform default is replaced
// in tests with scripted fakes.
type EnumerateFunc func() ([]Device, error)

// evdev button codes for the fixed physical-to-logical mapping.
const (
	codeBtnLeft   = 0x110
	codeBtnRight  = 0x111
	codeBtnMiddle = 0x112
	codeBtnSide   = 0x113
	codeBtnExtra  = 0x114
)

// buttonForCode maps a physical button code to the logical button set.
func buttonForCode(code uint16) (Button, bool) {
	switch code {
	case codeBtnLeft:
		return ButtonLeft, true
	case codeBtnRight:
		return ButtonRight, true
	case codeBtnMiddle:
		return ButtonMiddle, true
	case codeBtnSide:
		return ButtonBack, true
	case codeBtnExtra:
		return ButtonForward, true
	default:
		return 0, false
	}
}

// selectDevice applies the capture device selection policy: the first
// enumerated device exposing relative motion and a primary button wins;
// remaining candidates are closed. Returns nil when none qualifies.
func selectDevice(devices []Device) Device {
	var selected Device
	for _, dev := range devices {
		info := dev.Info()
		if selected == nil && info.RelativeMotion && info.PrimaryButton {
			selected = dev
			continue
		}
		_ = dev.Close()
	}
	return selected
}
