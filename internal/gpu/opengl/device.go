// Package opengl implements the gpu API on an OpenGL 4.1 core context.
//
// OpenGL has no explicit submission model, so command buffers record closures
// that run on the context thread when submitted. Fences map to sync objects
// and semaphores are no-ops: a single context executes commands in order.
// The swapchain is the window's default framebuffer with one image; it goes
// out of date whenever the drawable size stops matching its extent.
//
// Host-visible buffers keep their contents in host memory and are copied
// into their GL buffer object when a command reads them. GL 4.1 has no
// persistent mapping.
package opengl

import (
	"errors"
	"fmt"

	"github.com/go-gl/gl/v4.1-core/gl"
	"go.uber.org/zap"

	"github.com/Faultbox/midgard-vk/internal/gpu"
	"github.com/Faultbox/midgard-vk/internal/logger"
)

// Uniform block binding points shared by every pipeline.
const (
	FrameBlockBinding = 0
	PushBlockBinding  = 1
)

// Block names shaders use for the frame uniforms and the push constants.
const (
	FrameBlockName = "Frame"
	PushBlockName  = "Push"
)

var errForeign = errors.New("opengl: object from another backend")

// Window is the windowing side the device presents through. Its GL context
// must be current on the calling thread.
type Window interface {
	gpu.Surface
	SwapBuffers()
}

// Device is an OpenGL gpu.Device.
type Device struct {
	win   Window
	log   *zap.Logger
	name  string
	queue *Queue
}

var _ gpu.Device = (*Device)(nil)

// New loads GL function pointers for the current context.
func New(win Window) (*Device, error) {
	if err := gl.Init(); err != nil {
		return nil, fmt.Errorf("opengl: init: %w", err)
	}
	d := &Device{win: win, log: logger.Named("opengl")}
	d.queue = &Queue{dev: d}
	d.name = gl.GoStr(gl.GetString(gl.RENDERER))

	d.log.Info("OpenGL device created",
		zap.String("version", gl.GoStr(gl.GetString(gl.VERSION))),
		zap.String("renderer", d.name))
	return d, nil
}

// Name implements gpu.Device.
func (d *Device) Name() string { return d.name }

// CreateBuffer implements gpu.Device.
func (d *Device) CreateBuffer(desc gpu.BufferDesc) (gpu.Buffer, error) {
	if err := desc.Validate(); err != nil {
		return nil, fmt.Errorf("opengl: %w", err)
	}
	b := &Buffer{desc: desc}
	// An empty buffer owns no buffer object and no host copy.
	if desc.Size == 0 {
		return b, nil
	}
	if desc.Memory == gpu.MemoryHostVisible {
		b.host = make([]byte, desc.Size)
	}
	// Pure staging buffers never reach the GL.
	if desc.Memory == gpu.MemoryDeviceLocal || desc.Usage&^(gpu.UsageTransferSrc|gpu.UsageTransferDst) != 0 {
		gl.GenBuffers(1, &b.id)
		gl.BindBuffer(gl.COPY_WRITE_BUFFER, b.id)
		gl.BufferData(gl.COPY_WRITE_BUFFER, int(desc.Size), nil, usageHint(desc))
		gl.BindBuffer(gl.COPY_WRITE_BUFFER, 0)
		if err := glError("create buffer"); err != nil {
			b.Destroy()
			return nil, err
		}
	}
	return b, nil
}

func usageHint(desc gpu.BufferDesc) uint32 {
	if desc.Memory == gpu.MemoryHostVisible {
		return gl.DYNAMIC_DRAW
	}
	return gl.STATIC_DRAW
}

// CreateFence implements gpu.Device.
func (d *Device) CreateFence(signaled bool) (gpu.Fence, error) {
	return &Fence{signaled: signaled}, nil
}

// CreateSemaphore implements gpu.Device.
func (d *Device) CreateSemaphore() (gpu.Semaphore, error) { return &Semaphore{}, nil }

// CreateCommandPool implements gpu.Device.
func (d *Device) CreateCommandPool() (gpu.CommandPool, error) { return &CommandPool{}, nil }

// GraphicsQueue implements gpu.Device.
func (d *Device) GraphicsQueue() gpu.Queue { return d.queue }

// TransferQueue implements gpu.Device.
func (d *Device) TransferQueue() gpu.Queue { return d.queue }

// SurfaceFormat implements gpu.Device. The default framebuffer is sRGB-capable
// RGBA8 as requested at context creation.
func (d *Device) SurfaceFormat() gpu.Format { return gpu.FormatRGBA8SRGB }

// WaitIdle implements gpu.Device.
func (d *Device) WaitIdle() error {
	gl.Finish()
	return nil
}

// Destroy implements gpu.Device. The context belongs to the window.
func (d *Device) Destroy() {
	gl.Finish()
}

// glError drains the GL error queue and reports the first error.
func glError(what string) error {
	first := gl.NO_ERROR
	for {
		code := gl.GetError()
		if code == gl.NO_ERROR {
			break
		}
		if first == gl.NO_ERROR {
			first = int(code)
		}
	}
	if first == gl.NO_ERROR {
		return nil
	}
	if first == gl.OUT_OF_MEMORY {
		return fmt.Errorf("opengl: %s: %w", what, gpu.ErrOutOfMemory)
	}
	return fmt.Errorf("opengl: %s: error 0x%x", what, first)
}
