// Package input captures events from a physical pointer device, tracks the
// local pointer state and detects screen-edge crossings.
package input

// Button is a logical mouse button.
type Button int

// Logical buttons in the fixed physical-to-logical mapping.
const (
	ButtonLeft Button = iota
	ButtonRight
	ButtonMiddle
	ButtonBack
	ButtonForward
)

func (b Button) String() string {
	switch b {
	case ButtonLeft:
		return "left"
	case ButtonRight:
		return "right"
	case ButtonMiddle:
		return "middle"
	case ButtonBack:
		return "back"
	case ButtonForward:
		return "forward"
	default:
		return "unknown"
	}
}

// Edge identifies a screen boundary.
type Edge int

// Screen edges.
const (
	EdgeLeft Edge = iota
	EdgeRight
	EdgeTop
	EdgeBottom
)

func (e Edge) String() string {
	switch e {
	case EdgeLeft:
		return "left"
	case EdgeRight:
		return "right"
	case EdgeTop:
		return "top"
	case EdgeBottom:
		return "bottom"
	default:
		return "unknown"
	}
}

// EventType tags a normalized input event.
type EventType string

// Normalized event types emitted by the capture engine.
const (
	EventMouseMove   EventType = "mouse_move"
	EventMouseButton EventType = "mouse_button"
	EventMouseWheel  EventType = "mouse_wheel"
	EventEdgeCrossed EventType = "edge_crossed"
	EventKey         EventType = "key"
)

// Event is one normalized input event. Only the fields relevant to Type are
// populated; the flat shape keeps the stream trivially serializable for the
// network transport.
type Event struct {
	Type EventType `json:"type"`

	// EventMouseMove: one axis delta is zero per emission.
	DX float64 `json:"dx,omitempty"`
	DY float64 `json:"dy,omitempty"`

	// EventMouseButton.
	Button  Button `json:"button,omitempty"`
	Pressed bool   `json:"pressed,omitempty"`

	// EventMouseWheel.
	WheelDelta float64 `json:"wheel_delta,omitempty"`
	Horizontal bool    `json:"horizontal,omitempty"`

	// EventEdgeCrossed: X/Y is the clamped boundary position.
	Edge Edge    `json:"edge,omitempty"`
	X    float64 `json:"x,omitempty"`
	Y    float64 `json:"y,omitempty"`

	// EventKey: non-pointer keys pass through with their raw code.
	KeyCode uint16 `json:"key_code,omitempty"`
}

// ButtonState is the pressed/released state of the logical button set.
type ButtonState struct {
	Left    bool `json:"left"`
	Right   bool `json:"right"`
	Middle  bool `json:"middle"`
	Back    bool `json:"back"`
	Forward bool `json:"forward"`
}

// PointerState is a snapshot of the local pointer. X and Y are clamped to
// [0, ScreenWidth] x [0, ScreenHeight].
type PointerState struct {
	X            float64     `json:"x"`
	Y            float64     `json:"y"`
	Buttons      ButtonState `json:"buttons"`
	ScreenWidth  float64     `json:"screen_width"`
	ScreenHeight float64     `json:"screen_height"`
}
