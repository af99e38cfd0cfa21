package input

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/veandco/go-sdl2/sdl"
)

// queue feeds a fixed event list to Input.
func queue(events ...sdl.Event) func() sdl.Event {
	return func() sdl.Event {
		if len(events) == 0 {
			return nil
		}
		ev := events[0]
		events = events[1:]
		return ev
	}
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		name string
		in   sdl.Event
		want EventType
		ok   bool
	}{
		{"quit", &sdl.QuitEvent{Type: sdl.QUIT}, EventQuit, true},
		{"close", &sdl.WindowEvent{Type: sdl.WINDOWEVENT, Event: sdl.WINDOWEVENT_CLOSE}, EventQuit, true},
		{"resize", &sdl.WindowEvent{Type: sdl.WINDOWEVENT, Event: sdl.WINDOWEVENT_RESIZED, Data1: 640, Data2: 480}, EventWindowResize, true},
		{"minimize", &sdl.WindowEvent{Type: sdl.WINDOWEVENT, Event: sdl.WINDOWEVENT_MINIMIZED}, EventWindowMinimize, true},
		{"restore", &sdl.WindowEvent{Type: sdl.WINDOWEVENT, Event: sdl.WINDOWEVENT_RESTORED}, EventWindowRestore, true},
		{"exposed", &sdl.WindowEvent{Type: sdl.WINDOWEVENT, Event: sdl.WINDOWEVENT_EXPOSED}, EventNone, false},
		{"key down", &sdl.KeyboardEvent{Type: sdl.KEYDOWN, Keysym: sdl.Keysym{Scancode: sdl.SCANCODE_W}}, EventKeyDown, true},
		{"key repeat", &sdl.KeyboardEvent{Type: sdl.KEYDOWN, Repeat: 1}, EventNone, false},
		{"wheel", &sdl.MouseWheelEvent{Type: sdl.MOUSEWHEEL, Y: -1}, EventMouseWheel, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Translate(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got.Type)
		})
	}
}

func TestUpdateResizeAndQuit(t *testing.T) {
	in := NewWithPoller(queue(
		&sdl.WindowEvent{Type: sdl.WINDOWEVENT, Event: sdl.WINDOWEVENT_RESIZED, Data1: 800, Data2: 600},
		&sdl.QuitEvent{Type: sdl.QUIT},
	))

	assert.True(t, in.Update())
	assert.True(t, in.Resized())
	assert.Len(t, in.Events(), 2)
	assert.Equal(t, 800, in.Events()[0].Width)

	// Resize is per update; quit sticks.
	assert.True(t, in.Update())
	assert.False(t, in.Resized())
	assert.True(t, in.QuitRequested())
}

func TestUpdateMinimizeRestore(t *testing.T) {
	in := NewWithPoller(queue(&sdl.WindowEvent{Type: sdl.WINDOWEVENT, Event: sdl.WINDOWEVENT_MINIMIZED}))
	in.Update()
	assert.True(t, in.Minimized())

	in.poll = queue(&sdl.WindowEvent{Type: sdl.WINDOWEVENT, Event: sdl.WINDOWEVENT_RESTORED})
	in.Update()
	assert.False(t, in.Minimized())
	assert.True(t, in.Resized())
}

func TestUpdateDragAndWheel(t *testing.T) {
	in := NewWithPoller(queue(
		&sdl.MouseMotionEvent{Type: sdl.MOUSEMOTION, XRel: 50, YRel: 50},
		&sdl.MouseButtonEvent{Type: sdl.MOUSEBUTTONDOWN, Button: sdl.BUTTON_LEFT},
		&sdl.MouseMotionEvent{Type: sdl.MOUSEMOTION, XRel: 3, YRel: -2},
		&sdl.MouseMotionEvent{Type: sdl.MOUSEMOTION, XRel: 4, YRel: 1},
		&sdl.MouseButtonEvent{Type: sdl.MOUSEBUTTONUP, Button: sdl.BUTTON_LEFT},
		&sdl.MouseMotionEvent{Type: sdl.MOUSEMOTION, XRel: 9, YRel: 9},
		&sdl.MouseWheelEvent{Type: sdl.MOUSEWHEEL, Y: 2},
		&sdl.KeyboardEvent{Type: sdl.KEYDOWN, Keysym: sdl.Keysym{Scancode: sdl.SCANCODE_ESCAPE}},
	))

	assert.False(t, in.Update())
	dx, dy := in.Drag()
	assert.Equal(t, 7, dx)
	assert.Equal(t, -1, dy)
	assert.Equal(t, 2, in.Wheel())
	assert.True(t, in.IsKeyPressed(sdl.SCANCODE_ESCAPE))
	assert.False(t, in.IsKeyPressed(sdl.SCANCODE_W))
}
