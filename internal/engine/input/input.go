// Package input handles SDL2 input events.
package input

import (
	"github.com/veandco/go-sdl2/sdl"
)

// EventType classifies a translated event.
type EventType int

const (
	EventNone EventType = iota
	EventQuit
	EventWindowResize
	EventWindowMinimize
	EventWindowRestore
	EventKeyDown
	EventKeyUp
	EventMouseMove
	EventMouseDown
	EventMouseUp
	EventMouseWheel
)

// Event represents a processed input event.
type Event struct {
	Type   EventType
	Key    sdl.Scancode
	Width  int
	Height int
	MouseX int
	MouseY int
	DeltaX int // relative motion, or wheel steps
	DeltaY int
	Button uint8
}

// Translate converts an SDL event. The bool is false for events the viewer
// ignores.
func Translate(event sdl.Event) (Event, bool) {
	switch e := event.(type) {
	case *sdl.QuitEvent:
		return Event{Type: EventQuit}, true

	case *sdl.WindowEvent:
		switch e.Event {
		case sdl.WINDOWEVENT_RESIZED, sdl.WINDOWEVENT_SIZE_CHANGED:
			return Event{Type: EventWindowResize, Width: int(e.Data1), Height: int(e.Data2)}, true
		case sdl.WINDOWEVENT_MINIMIZED:
			return Event{Type: EventWindowMinimize}, true
		case sdl.WINDOWEVENT_RESTORED:
			return Event{Type: EventWindowRestore}, true
		case sdl.WINDOWEVENT_CLOSE:
			return Event{Type: EventQuit}, true
		}

	case *sdl.KeyboardEvent:
		if e.Repeat != 0 {
			return Event{}, false
		}
		switch e.Type {
		case sdl.KEYDOWN:
			return Event{Type: EventKeyDown, Key: e.Keysym.Scancode}, true
		case sdl.KEYUP:
			return Event{Type: EventKeyUp, Key: e.Keysym.Scancode}, true
		}

	case *sdl.MouseMotionEvent:
		return Event{
			Type:   EventMouseMove,
			MouseX: int(e.X),
			MouseY: int(e.Y),
			DeltaX: int(e.XRel),
			DeltaY: int(e.YRel),
		}, true

	case *sdl.MouseButtonEvent:
		ev := Event{MouseX: int(e.X), MouseY: int(e.Y), Button: e.Button}
		switch e.Type {
		case sdl.MOUSEBUTTONDOWN:
			ev.Type = EventMouseDown
			return ev, true
		case sdl.MOUSEBUTTONUP:
			ev.Type = EventMouseUp
			return ev, true
		}

	case *sdl.MouseWheelEvent:
		return Event{Type: EventMouseWheel, DeltaX: int(e.X), DeltaY: int(e.Y)}, true
	}

	return Event{}, false
}

// Input polls SDL and folds events into per-frame state.
type Input struct {
	events    []Event
	poll      func() sdl.Event
	quit      bool
	resized   bool
	minimized bool
	dragging  bool
	dragX     int
	dragY     int
	wheel     int
}

// New creates an input handler polling SDL's event queue.
func New() *Input {
	return NewWithPoller(sdl.PollEvent)
}

// NewWithPoller creates an input handler reading from poll until it
// returns nil.
func NewWithPoller(poll func() sdl.Event) *Input {
	return &Input{
		events: make([]Event, 0, 16),
		poll:   poll,
	}
}

// Update drains pending events. Returns true once a quit was requested.
func (i *Input) Update() bool {
	i.events = i.events[:0]
	i.resized = false
	i.dragX, i.dragY, i.wheel = 0, 0, 0

	for event := i.poll(); event != nil; event = i.poll() {
		ev, ok := Translate(event)
		if !ok {
			continue
		}
		i.events = append(i.events, ev)

		switch ev.Type {
		case EventQuit:
			i.quit = true
		case EventWindowResize:
			i.resized = true
		case EventWindowMinimize:
			i.minimized = true
		case EventWindowRestore:
			i.minimized = false
			i.resized = true
		case EventMouseDown:
			if ev.Button == sdl.BUTTON_LEFT {
				i.dragging = true
			}
		case EventMouseUp:
			if ev.Button == sdl.BUTTON_LEFT {
				i.dragging = false
			}
		case EventMouseMove:
			if i.dragging {
				i.dragX += ev.DeltaX
				i.dragY += ev.DeltaY
			}
		case EventMouseWheel:
			i.wheel += ev.DeltaY
		}
	}

	return i.quit
}

// Events returns the events from the last Update.
func (i *Input) Events() []Event {
	return i.events
}

// QuitRequested reports whether a quit event has been seen.
func (i *Input) QuitRequested() bool { return i.quit }

// Resized reports whether the drawable may have changed size during the
// last Update.
func (i *Input) Resized() bool { return i.resized }

// Minimized reports whether the window is currently minimized.
func (i *Input) Minimized() bool { return i.minimized }

// Drag returns the left-button drag motion accumulated in the last Update.
func (i *Input) Drag() (dx, dy int) { return i.dragX, i.dragY }

// Wheel returns the vertical wheel steps from the last Update.
func (i *Input) Wheel() int { return i.wheel }

// IsKeyPressed checks if a specific key was pressed this frame.
func (i *Input) IsKeyPressed(scancode sdl.Scancode) bool {
	for _, e := range i.events {
		if e.Type == EventKeyDown && e.Key == scancode {
			return true
		}
	}
	return false
}
