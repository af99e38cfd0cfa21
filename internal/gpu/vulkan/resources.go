package vulkan

import (
	"time"

	vk "github.com/goki/vulkan"

	"github.com/Faultbox/midgard-vk/internal/gpu"
)

// Buffer is a VkBuffer with its own memory allocation.
type Buffer struct {
	dev       *Device
	desc      gpu.BufferDesc
	buffer    vk.Buffer
	memory    vk.DeviceMemory
	mapped    []byte
	destroyed bool
}

func (b *Buffer) Size() uint64           { return b.desc.Size }
func (b *Buffer) Usage() gpu.BufferUsage { return b.desc.Usage }
func (b *Buffer) Memory() gpu.MemoryKind { return b.desc.Memory }

// empty reports whether the buffer has no VkBuffer behind it.
func (b *Buffer) empty() bool { return b.buffer == vk.NullBuffer }

// Map implements gpu.Buffer.
func (b *Buffer) Map() ([]byte, error) {
	switch {
	case b.destroyed:
		return nil, gpu.ErrDestroyed
	case b.desc.Size == 0:
		return []byte{}, nil
	case b.mapped == nil:
		return nil, gpu.ErrNotMappable
	}
	return b.mapped, nil
}

// Destroy implements gpu.Buffer.
func (b *Buffer) Destroy() {
	if b.destroyed {
		return
	}
	b.destroyed = true
	if b.dev == nil {
		return
	}
	dev := b.dev.device
	if b.mapped != nil {
		vk.UnmapMemory(dev, b.memory)
		b.mapped = nil
	}
	if b.buffer != vk.NullBuffer {
		vk.DestroyBuffer(dev, b.buffer, nil)
		b.buffer = vk.NullBuffer
	}
	if b.memory != vk.NullDeviceMemory {
		vk.FreeMemory(dev, b.memory, nil)
		b.memory = vk.NullDeviceMemory
	}
}

// Fence wraps a VkFence.
type Fence struct {
	dev   *Device
	fence vk.Fence
}

// Wait implements gpu.Fence.
func (f *Fence) Wait(timeout time.Duration) error {
	if f.fence == vk.NullFence {
		return gpu.ErrDestroyed
	}
	ret := vk.WaitForFences(f.dev.device, 1, []vk.Fence{f.fence}, vk.True, nanos(timeout))
	return check(ret, "vulkan: wait for fence")
}

// Reset implements gpu.Fence.
func (f *Fence) Reset() error {
	if f.fence == vk.NullFence {
		return gpu.ErrDestroyed
	}
	return check(vk.ResetFences(f.dev.device, 1, []vk.Fence{f.fence}), "vulkan: reset fence")
}

// Signaled implements gpu.Fence.
func (f *Fence) Signaled() bool {
	return f.fence != vk.NullFence && vk.GetFenceStatus(f.dev.device, f.fence) == vk.Success
}

// Destroy implements gpu.Fence.
func (f *Fence) Destroy() {
	if f.fence != vk.NullFence {
		vk.DestroyFence(f.dev.device, f.fence, nil)
		f.fence = vk.NullFence
	}
}

// Semaphore wraps a binary VkSemaphore.
type Semaphore struct {
	dev *Device
	sem vk.Semaphore
}

// Destroy implements gpu.Semaphore.
func (s *Semaphore) Destroy() {
	if s.sem != vk.NullSemaphore {
		vk.DestroySemaphore(s.dev.device, s.sem, nil)
		s.sem = vk.NullSemaphore
	}
}

func semaphores(list []gpu.Semaphore) ([]vk.Semaphore, error) {
	out := make([]vk.Semaphore, 0, len(list))
	for _, s := range list {
		vs, ok := s.(*Semaphore)
		if !ok {
			return nil, errForeign
		}
		out = append(out, vs.sem)
	}
	return out, nil
}
