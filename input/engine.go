package input

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
)

// ErrDeviceLost reports a fatal capture failure: the device disappeared or
// reads fail persistently. The engine stops and is not restarted.
var ErrDeviceLost = errors.New("input: capture device lost")

const defaultQueueSize = 256

// Options configures the capture engine.
type Options struct {
	ScreenWidth  float64
	ScreenHeight float64

	// EdgeThreshold must satisfy 0 <= t < min(width, height)/2; at or
	// above that bound the opposing edge conditions become
	// simultaneously satisfiable, which is rejected as a configuration
	// error.
	EdgeThreshold float64

	// MouseAcceleration scales raw deltas before clamping; 0 means 1.0.
	MouseAcceleration float64

	// SmoothScroll enables high-resolution wheel samples.
	SmoothScroll bool

	// QueueSize bounds the outgoing event channel.
	QueueSize int

	// Enumerate lists candidate devices; the platform default is used
	// when nil.
	Enumerate EnumerateFunc
}

// Engine owns one physical pointer device and turns its raw samples into a
// normalized, ordered event stream.
//
// Exactly one goroutine performs the blocking device reads; it is the sole
// producer on the event channel and blocks when the channel is full so
// ordering is preserved and button press/release pairs are never dropped.
type Engine struct {
	opts   Options
	device Device

	mu    sync.Mutex
	state PointerState

	events chan Event
	errs   chan error

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewEngine validates options and selects a capture device. A missing
// device is not an error: the engine comes up disabled and the daemon
// continues without pointer sharing.
func NewEngine(opts Options) (*Engine, error) {
	if opts.ScreenWidth <= 0 || opts.ScreenHeight <= 0 {
		return nil, fmt.Errorf("input: invalid screen dimensions %gx%g", opts.ScreenWidth, opts.ScreenHeight)
	}
	minDim := opts.ScreenWidth
	if opts.ScreenHeight < minDim {
		minDim = opts.ScreenHeight
	}
	if opts.EdgeThreshold < 0 || opts.EdgeThreshold >= minDim/2 {
		return nil, fmt.Errorf("input: edge threshold %g out of range [0, %g)", opts.EdgeThreshold, minDim/2)
	}
	if opts.MouseAcceleration == 0 {
		opts.MouseAcceleration = 1.0
	}
	if opts.MouseAcceleration < 0 {
		return nil, fmt.Errorf("input: mouse acceleration %g must be positive", opts.MouseAcceleration)
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}

	enumerate := opts.Enumerate
	if enumerate == nil {
		enumerate = enumerateDevices
	}
	devices, err := enumerate()
	if err != nil {
		return nil, fmt.Errorf("input: enumerate devices: %w", err)
	}
	device := selectDevice(devices)

	return &Engine{
		opts:   opts,
		device: device,
		state: PointerState{
			ScreenWidth:  opts.ScreenWidth,
			ScreenHeight: opts.ScreenHeight,
		},
		events: make(chan Event, opts.QueueSize),
		errs:   make(chan error, 1),
	}, nil
}

// Disabled reports whether no suitable capture device was found.
func (e *Engine) Disabled() bool {
	return e.device == nil
}

// DeviceName returns the selected device's name, or "" when disabled.
func (e *Engine) DeviceName() string {
	if e.device == nil {
		return ""
	}
	return e.device.Info().Name
}

// Start launches the polling goroutine. Starting a disabled engine is a
// no-op.
func (e *Engine) Start() {
	e.startOnce.Do(func() {
		e.ctx, e.cancel = context.WithCancel(context.Background())
		if e.device == nil {
			return
		}
		log.Printf("input: capturing from %q (%s)", e.device.Info().Name, e.device.Info().Path)
		e.wg.Add(1)
		go e.pollLoop()
	})
}

// Stop closes the device to unblock a pending read and waits for the
// polling goroutine to exit.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		if e.cancel != nil {
			e.cancel()
		}
		if e.device != nil {
			_ = e.device.Close()
		}
		e.wg.Wait()
		close(e.events)
	})
}

// Events is the normalized event stream, FIFO in generation order.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// Errors reports the fatal capture failure, if any.
func (e *Engine) Errors() <-chan error {
	return e.errs
}

// Pointer returns a snapshot of the current pointer state.
func (e *Engine) Pointer() PointerState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) pollLoop() {
	defer e.wg.Done()

	for {
		raws, err := e.device.ReadEvents()
		if err != nil {
			if e.ctx.Err() != nil {
				return
			}
			select {
			case e.errs <- fmt.Errorf("%w: %v", ErrDeviceLost, err):
			default:
			}
			return
		}

		for _, raw := range raws {
			ev, ok := e.normalize(raw)
			if !ok {
				continue
			}
			// Blocking send: back-pressure instead of dropping.
			select {
			case e.events <- ev:
			case <-e.ctx.Done():
				return
			}
		}
	}
}

// normalize turns one raw sample into at most one normalized event. State
// mutation happens under the lock; the lock is released before the event is
// handed to the channel.
func (e *Engine) normalize(raw RawEvent) (Event, bool) {
	switch raw.Kind {
	case RawRelX:
		return e.stepX(float64(raw.Value) * e.opts.MouseAcceleration), true
	case RawRelY:
		return e.stepY(float64(raw.Value) * e.opts.MouseAcceleration), true
	case RawWheel:
		return Event{Type: EventMouseWheel, WheelDelta: float64(raw.Value)}, true
	case RawHWheel:
		return Event{Type: EventMouseWheel, WheelDelta: float64(raw.Value), Horizontal: true}, true
	case RawWheelHiRes:
		if !e.opts.SmoothScroll {
			return Event{}, false
		}
		return Event{Type: EventMouseWheel, WheelDelta: float64(raw.Value) / 120}, true
	case RawHWheelHiRes:
		if !e.opts.SmoothScroll {
			return Event{}, false
		}
		return Event{Type: EventMouseWheel, WheelDelta: float64(raw.Value) / 120, Horizontal: true}, true
	case RawKey:
		return e.key(raw)
	default:
		return Event{}, false
	}
}

func (e *Engine) stepX(delta float64) Event {
	e.mu.Lock()
	step := stepAxis(e.state.X, delta, e.state.ScreenWidth, e.opts.EdgeThreshold)
	e.state.X = step.newPos
	y := e.state.Y
	width := e.state.ScreenWidth
	e.mu.Unlock()

	switch {
	case step.crossedLow:
		return Event{Type: EventEdgeCrossed, Edge: EdgeLeft, X: 0, Y: y}
	case step.crossedHigh:
		return Event{Type: EventEdgeCrossed, Edge: EdgeRight, X: width, Y: y}
	default:
		return Event{Type: EventMouseMove, DX: delta}
	}
}

func (e *Engine) stepY(delta float64) Event {
	e.mu.Lock()
	step := stepAxis(e.state.Y, delta, e.state.ScreenHeight, e.opts.EdgeThreshold)
	e.state.Y = step.newPos
	x := e.state.X
	height := e.state.ScreenHeight
	e.mu.Unlock()

	switch {
	case step.crossedLow:
		return Event{Type: EventEdgeCrossed, Edge: EdgeTop, X: x, Y: 0}
	case step.crossedHigh:
		return Event{Type: EventEdgeCrossed, Edge: EdgeBottom, X: x, Y: height}
	default:
		return Event{Type: EventMouseMove, DY: delta}
	}
}

func (e *Engine) key(raw RawEvent) (Event, bool) {
	pressed := raw.Value != 0

	button, ok := buttonForCode(raw.Code)
	if !ok {
		return Event{Type: EventKey, KeyCode: raw.Code, Pressed: pressed}, true
	}

	e.mu.Lock()
	switch button {
	case ButtonLeft:
		e.state.Buttons.Left = pressed
	case ButtonRight:
		e.state.Buttons.Right = pressed
	case ButtonMiddle:
		e.state.Buttons.Middle = pressed
	case ButtonBack:
		e.state.Buttons.Back = pressed
	case ButtonForward:
		e.state.Buttons.Forward = pressed
	}
	e.mu.Unlock()

	return Event{Type: EventMouseButton, Button: button, Pressed: pressed}, true
}
