package soft

import (
	"errors"
	"fmt"
	"time"

	"github.com/Faultbox/midgard-vk/internal/gpu"
)

// Buffer is host memory standing in for a GPU allocation.
type Buffer struct {
	dev       *Device
	desc      gpu.BufferDesc
	data      []byte
	destroyed bool
}

// Size implements gpu.Buffer.
func (b *Buffer) Size() uint64 { return b.desc.Size }

// Usage implements gpu.Buffer.
func (b *Buffer) Usage() gpu.BufferUsage { return b.desc.Usage }

// Memory implements gpu.Buffer.
func (b *Buffer) Memory() gpu.MemoryKind { return b.desc.Memory }

// Label returns the debug label.
func (b *Buffer) Label() string { return b.desc.Label }

// Map implements gpu.Buffer.
func (b *Buffer) Map() ([]byte, error) {
	b.dev.mu.Lock()
	defer b.dev.mu.Unlock()
	if b.destroyed {
		return nil, b.dev.violate(fmt.Errorf("map %q: %w", b.desc.Label, gpu.ErrDestroyed))
	}
	if b.desc.Size == 0 {
		return []byte{}, nil
	}
	if b.desc.Memory != gpu.MemoryHostVisible {
		return nil, fmt.Errorf("map %q: %w", b.desc.Label, gpu.ErrNotMappable)
	}
	return b.data, nil
}

// Contents returns the buffer bytes regardless of memory kind. Test helper.
func (b *Buffer) Contents() []byte {
	b.dev.mu.Lock()
	defer b.dev.mu.Unlock()
	return append([]byte(nil), b.data...)
}

// Destroyed reports whether Destroy was called.
func (b *Buffer) Destroyed() bool {
	b.dev.mu.Lock()
	defer b.dev.mu.Unlock()
	return b.destroyed
}

// Destroy implements gpu.Buffer. Destroying a buffer that pending work still
// references is recorded as a violation.
func (b *Buffer) Destroy() {
	b.dev.mu.Lock()
	defer b.dev.mu.Unlock()
	if b.destroyed {
		return
	}
	for _, s := range b.dev.pending {
		if s.references(b) {
			b.dev.violate(fmt.Errorf("destroy %q: %w", b.desc.Label, gpu.ErrInUse))
			break
		}
	}
	b.destroyed = true
	b.data = nil
	b.dev.stats.BuffersFreed++
	b.dev.freed("buffer")
}

// Fence is signaled when its submission executes.
type Fence struct {
	dev       *Device
	signaled  bool
	pending   *submission
	destroyed bool
}

// Wait implements gpu.Fence. Waiting executes the GPU up to the fence's
// submission. Waiting on an unsignaled fence that no submission will signal
// returns ErrTimeout and is recorded, since on real hardware it deadlocks.
func (f *Fence) Wait(timeout time.Duration) error {
	d := f.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.FenceWaits++
	if f.destroyed {
		return d.violate(fmt.Errorf("wait on fence: %w", gpu.ErrDestroyed))
	}
	if f.signaled {
		return nil
	}
	if f.pending == nil {
		return d.violate(fmt.Errorf("wait on fence no submission will signal: %w", gpu.ErrTimeout))
	}
	d.flushLocked(f.pending)
	return nil
}

// Reset implements gpu.Fence.
func (f *Fence) Reset() error {
	d := f.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.FenceResets++
	if f.pending != nil {
		return d.violate(fmt.Errorf("reset fence of pending submission: %w", gpu.ErrInUse))
	}
	f.signaled = false
	return nil
}

// Signaled implements gpu.Fence. It does not advance the GPU.
func (f *Fence) Signaled() bool {
	f.dev.mu.Lock()
	defer f.dev.mu.Unlock()
	return f.signaled
}

// Destroy implements gpu.Fence.
func (f *Fence) Destroy() {
	f.dev.mu.Lock()
	defer f.dev.mu.Unlock()
	if f.destroyed {
		return
	}
	if f.pending != nil {
		f.dev.violate(fmt.Errorf("destroy fence: %w", gpu.ErrInUse))
	}
	f.destroyed = true
	f.dev.freed("fence")
}

// Semaphore is a binary semaphore. Signals and waits are matched at queue time.
type Semaphore struct {
	dev       *Device
	signaled  bool
	destroyed bool
}

func (s *Semaphore) signalLocked(op string) {
	if s.signaled {
		s.dev.violate(fmt.Errorf("%s signals a semaphore that is already signaled", op))
	}
	s.signaled = true
}

func (s *Semaphore) waitLocked(op string) {
	if !s.signaled {
		s.dev.violate(fmt.Errorf("%s waits on a semaphore nothing signals", op))
	}
	s.signaled = false
}

// Destroy implements gpu.Semaphore.
func (s *Semaphore) Destroy() {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	if s.destroyed {
		return
	}
	s.destroyed = true
	s.dev.freed("semaphore")
}

// Swapchain hands out image indices round robin.
type Swapchain struct {
	dev       *Device
	desc      gpu.SwapchainDesc
	images    int
	next      uint32
	destroyed bool
}

// Extent implements gpu.Swapchain.
func (s *Swapchain) Extent() gpu.Extent { return s.desc.Extent }

// Format implements gpu.Swapchain.
func (s *Swapchain) Format() gpu.Format { return s.desc.Format }

// ImageCount implements gpu.Swapchain.
func (s *Swapchain) ImageCount() int { return s.images }

// AcquireNextImage implements gpu.Swapchain. Results queued with
// Device.QueueAcquireResults are returned first; ErrSuboptimal still acquires.
func (s *Swapchain) AcquireNextImage(timeout time.Duration, signal gpu.Semaphore) (uint32, error) {
	d := s.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.Acquires++
	if s.destroyed {
		return 0, d.violate(fmt.Errorf("acquire: %w", gpu.ErrDestroyed))
	}
	var result error
	if len(d.acquireResults) > 0 {
		result = d.acquireResults[0]
		d.acquireResults = d.acquireResults[1:]
	}
	if result != nil && !errors.Is(result, gpu.ErrSuboptimal) {
		return 0, result
	}
	if sem, ok := signal.(*Semaphore); ok {
		sem.signalLocked("acquire")
	}
	idx := s.next
	s.next = (s.next + 1) % uint32(s.images)
	return idx, result
}

// Destroy implements gpu.Swapchain.
func (s *Swapchain) Destroy() {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	if s.destroyed {
		return
	}
	if len(s.dev.pending) > 0 {
		s.dev.violate(fmt.Errorf("destroy swapchain with %d pending submission(s): %w", len(s.dev.pending), gpu.ErrInUse))
	}
	s.destroyed = true
	s.dev.freed("swapchain")
}

// Surface is a scripted window surface.
type Surface struct {
	extents []gpu.Extent
	waits   int
	closeAt int
}

var _ gpu.Surface = (*Surface)(nil)

// NewSurface returns a surface that reports the given extents in order, then
// keeps reporting the last one.
func NewSurface(extents ...gpu.Extent) *Surface {
	if len(extents) == 0 {
		extents = []gpu.Extent{{Width: 800, Height: 600}}
	}
	return &Surface{extents: extents}
}

// SetExtents replaces the scripted extents.
func (s *Surface) SetExtents(extents ...gpu.Extent) { s.extents = extents }

// DrawableExtent implements gpu.Surface.
func (s *Surface) DrawableExtent() gpu.Extent {
	e := s.extents[0]
	if len(s.extents) > 1 {
		s.extents = s.extents[1:]
	}
	return e
}

// CloseAfter makes the n-th WaitEvents call from now, and every later one,
// report a close request.
func (s *Surface) CloseAfter(n int) { s.closeAt = s.waits + n }

// WaitEvents implements gpu.Surface.
func (s *Surface) WaitEvents() bool {
	s.waits++
	return s.closeAt == 0 || s.waits < s.closeAt
}

// Waits returns how many times WaitEvents was called.
func (s *Surface) Waits() int { return s.waits }
