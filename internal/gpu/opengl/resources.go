package opengl

import (
	"time"

	"github.com/go-gl/gl/v4.1-core/gl"

	"github.com/Faultbox/midgard-vk/internal/gpu"
)

// Buffer is a GL buffer object, a host copy, or both.
type Buffer struct {
	desc      gpu.BufferDesc
	id        uint32
	host      []byte
	destroyed bool
}

func (b *Buffer) Size() uint64           { return b.desc.Size }
func (b *Buffer) Usage() gpu.BufferUsage { return b.desc.Usage }
func (b *Buffer) Memory() gpu.MemoryKind { return b.desc.Memory }

// Map implements gpu.Buffer.
func (b *Buffer) Map() ([]byte, error) {
	switch {
	case b.destroyed:
		return nil, gpu.ErrDestroyed
	case b.desc.Size == 0:
		return []byte{}, nil
	case b.host == nil:
		return nil, gpu.ErrNotMappable
	}
	return b.host, nil
}

// Destroy implements gpu.Buffer.
func (b *Buffer) Destroy() {
	if b.destroyed {
		return
	}
	b.destroyed = true
	if b.id != 0 {
		gl.DeleteBuffers(1, &b.id)
		b.id = 0
	}
	b.host = nil
}

// sync uploads the host copy into the buffer object before the GL reads it.
func (b *Buffer) sync(target uint32) {
	gl.BindBuffer(target, b.id)
	if b.host != nil && b.id != 0 {
		gl.BufferSubData(target, 0, len(b.host), gl.Ptr(b.host))
	}
}

// Fence is a GL sync object inserted after a submission.
type Fence struct {
	sync     uintptr
	signaled bool
}

// Wait implements gpu.Fence. A fence no submission will signal times out at once.
func (f *Fence) Wait(timeout time.Duration) error {
	if f.signaled {
		return nil
	}
	if f.sync == 0 {
		return gpu.ErrTimeout
	}
	ns := uint64(0)
	if timeout > 0 {
		ns = uint64(timeout.Nanoseconds())
	}
	switch gl.ClientWaitSync(f.sync, gl.SYNC_FLUSH_COMMANDS_BIT, ns) {
	case gl.ALREADY_SIGNALED, gl.CONDITION_SATISFIED:
		f.complete()
		return nil
	case gl.TIMEOUT_EXPIRED:
		return gpu.ErrTimeout
	}
	return glError("client wait sync")
}

func (f *Fence) complete() {
	gl.DeleteSync(f.sync)
	f.sync = 0
	f.signaled = true
}

// Reset implements gpu.Fence.
func (f *Fence) Reset() error {
	if f.sync != 0 {
		gl.DeleteSync(f.sync)
		f.sync = 0
	}
	f.signaled = false
	return nil
}

// Signaled implements gpu.Fence.
func (f *Fence) Signaled() bool {
	if f.signaled {
		return true
	}
	if f.sync == 0 {
		return false
	}
	var status int32
	gl.GetSynciv(f.sync, gl.SYNC_STATUS, 1, nil, &status)
	if status == gl.SIGNALED {
		f.complete()
	}
	return f.signaled
}

// Destroy implements gpu.Fence.
func (f *Fence) Destroy() {
	if f.sync != 0 {
		gl.DeleteSync(f.sync)
		f.sync = 0
	}
}

// Semaphore is a placeholder; commands on one context are already ordered.
type Semaphore struct{}

// Destroy implements gpu.Semaphore.
func (*Semaphore) Destroy() {}
