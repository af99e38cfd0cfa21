package soft

import (
	"encoding/binary"
	"fmt"

	"github.com/Faultbox/midgard-vk/internal/gpu"
)

// CommandPool allocates soft command buffers.
type CommandPool struct {
	dev       *Device
	destroyed bool
}

// Allocate implements gpu.CommandPool.
func (p *CommandPool) Allocate(n int) ([]gpu.CommandBuffer, error) {
	if n <= 0 {
		return nil, fmt.Errorf("soft: allocate %d command buffers", n)
	}
	cbs := make([]gpu.CommandBuffer, n)
	for i := range cbs {
		cbs[i] = &CommandBuffer{dev: p.dev}
	}
	return cbs, nil
}

// Free implements gpu.CommandPool.
func (p *CommandPool) Free(cbs ...gpu.CommandBuffer) {
	p.dev.mu.Lock()
	defer p.dev.mu.Unlock()
	for _, cb := range cbs {
		if c, ok := cb.(*CommandBuffer); ok && c.state == statePending {
			p.dev.violate(fmt.Errorf("free pending command buffer: %w", gpu.ErrInUse))
		}
	}
}

// Destroy implements gpu.CommandPool.
func (p *CommandPool) Destroy() {
	p.dev.mu.Lock()
	defer p.dev.mu.Unlock()
	if p.destroyed {
		return
	}
	p.destroyed = true
	p.dev.freed("pool")
}

type cbState int

const (
	stateInitial cbState = iota
	stateRecording
	stateExecutable
	statePending
)

// execState is the bound state while a command buffer executes.
type execState struct {
	pipeline *Pipeline
	vb       *Buffer
	vbOffset uint64
	ib       *Buffer
	ibOffset uint64
	ibType   gpu.IndexType
	push     []byte
	fb       *Framebuffer
}

// CommandBuffer records closures that run when the GPU executes it.
type CommandBuffer struct {
	dev     *Device
	state   cbState
	oneTime bool
	cmds    []func(*execState)
	refs    []*Buffer
}

// Begin implements gpu.CommandBuffer. Beginning a command buffer whose previous
// submission has not completed is a violation.
func (c *CommandBuffer) Begin(oneTimeSubmit bool) error {
	d := c.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.Begins++
	switch c.state {
	case statePending:
		return d.violate(fmt.Errorf("begin command buffer: %w", gpu.ErrInUse))
	case stateRecording:
		return d.violate(fmt.Errorf("begin command buffer that is already recording"))
	}
	c.state = stateRecording
	c.oneTime = oneTimeSubmit
	c.cmds = c.cmds[:0]
	c.refs = c.refs[:0]
	return nil
}

// End implements gpu.CommandBuffer.
func (c *CommandBuffer) End() error {
	d := c.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if c.state != stateRecording {
		return d.violate(fmt.Errorf("end command buffer that is not recording"))
	}
	c.state = stateExecutable
	return nil
}

// Reset implements gpu.CommandBuffer.
func (c *CommandBuffer) Reset() error {
	d := c.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if c.state == statePending {
		return d.violate(fmt.Errorf("reset command buffer: %w", gpu.ErrInUse))
	}
	c.state = stateInitial
	c.cmds = c.cmds[:0]
	c.refs = c.refs[:0]
	return nil
}

func (c *CommandBuffer) record(name string, fn func(*execState), refs ...*Buffer) {
	d := c.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if c.state != stateRecording {
		d.violate(fmt.Errorf("%s recorded outside Begin/End", name))
		return
	}
	c.cmds = append(c.cmds, fn)
	c.refs = append(c.refs, refs...)
}

func softBuffer(b gpu.Buffer) *Buffer {
	sb, _ := b.(*Buffer)
	return sb
}

// CopyBuffer implements gpu.CommandBuffer.
func (c *CommandBuffer) CopyBuffer(src, dst gpu.Buffer, regions ...gpu.CopyRegion) {
	s, t := softBuffer(src), softBuffer(dst)
	c.record("CopyBuffer", func(*execState) {
		if s == nil || t == nil || s.destroyed || t.destroyed {
			c.dev.violate(fmt.Errorf("copy between destroyed buffers: %w", gpu.ErrDestroyed))
			return
		}
		for _, r := range regions {
			if r.SrcOffset+r.Size > uint64(len(s.data)) || r.DstOffset+r.Size > uint64(len(t.data)) {
				c.dev.violate(fmt.Errorf("copy region %+v out of bounds (%d -> %d bytes)", r, len(s.data), len(t.data)))
				continue
			}
			copy(t.data[r.DstOffset:r.DstOffset+r.Size], s.data[r.SrcOffset:r.SrcOffset+r.Size])
		}
	}, s, t)
}

// BufferBarrier implements gpu.CommandBuffer. Execution is already in order.
func (c *CommandBuffer) BufferBarrier(buf gpu.Buffer) {
	c.record("BufferBarrier", func(*execState) {}, softBuffer(buf))
}

// BeginRenderPass implements gpu.CommandBuffer.
func (c *CommandBuffer) BeginRenderPass(rp gpu.RenderPass, fb gpu.Framebuffer, clear gpu.ClearValues) {
	f, _ := fb.(*Framebuffer)
	c.record("BeginRenderPass", func(st *execState) {
		if f == nil || f.destroyed {
			c.dev.violate(fmt.Errorf("render pass on destroyed framebuffer: %w", gpu.ErrDestroyed))
		}
		st.fb = f
	})
}

// EndRenderPass implements gpu.CommandBuffer.
func (c *CommandBuffer) EndRenderPass() {
	c.record("EndRenderPass", func(st *execState) { st.fb = nil })
}

// BindPipeline implements gpu.CommandBuffer.
func (c *CommandBuffer) BindPipeline(p gpu.Pipeline) {
	pp, _ := p.(*Pipeline)
	c.record("BindPipeline", func(st *execState) { st.pipeline = pp })
}

// BindUniforms implements gpu.CommandBuffer.
func (c *CommandBuffer) BindUniforms(u gpu.UniformBinding) {
	c.record("BindUniforms", func(*execState) {})
}

// SetViewport implements gpu.CommandBuffer.
func (c *CommandBuffer) SetViewport(v gpu.Viewport) {
	c.record("SetViewport", func(*execState) {})
}

// BindVertexBuffer implements gpu.CommandBuffer.
func (c *CommandBuffer) BindVertexBuffer(buf gpu.Buffer, offset uint64) {
	b := softBuffer(buf)
	c.record("BindVertexBuffer", func(st *execState) {
		st.vb, st.vbOffset = b, offset
	}, b)
}

// BindIndexBuffer implements gpu.CommandBuffer.
func (c *CommandBuffer) BindIndexBuffer(buf gpu.Buffer, offset uint64, t gpu.IndexType) {
	b := softBuffer(buf)
	c.record("BindIndexBuffer", func(st *execState) {
		st.ib, st.ibOffset, st.ibType = b, offset, t
	}, b)
}

// PushConstants implements gpu.CommandBuffer.
func (c *CommandBuffer) PushConstants(p gpu.Pipeline, stages gpu.ShaderStage, offset uint32, data []byte) {
	block := append([]byte(nil), data...)
	c.record("PushConstants", func(st *execState) {
		if need := int(offset) + len(block); len(st.push) < need {
			st.push = append(st.push, make([]byte, need-len(st.push))...)
		}
		copy(st.push[offset:], block)
	})
}

// DrawIndexed implements gpu.CommandBuffer. Execution fetches every index,
// adds vertexOffset and checks the result against the bound vertex buffer.
func (c *CommandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	c.record("DrawIndexed", func(st *execState) {
		d := c.dev
		call := DrawCall{
			IndexCount:    indexCount,
			FirstIndex:    firstIndex,
			VertexOffset:  vertexOffset,
			PushConstants: append([]byte(nil), st.push...),
			Framebuffer:   st.fb,
		}
		if st.ib == nil || st.ib.destroyed || st.vb == nil || st.vb.destroyed {
			d.violate(fmt.Errorf("draw without live vertex/index buffers: %w", gpu.ErrDestroyed))
			return
		}
		size := uint64(2)
		if st.ibType == gpu.IndexUint32 {
			size = 4
		}
		var vertexCount uint64
		if st.pipeline != nil && st.pipeline.desc.VertexStride > 0 {
			vertexCount = (uint64(len(st.vb.data)) - st.vbOffset) / uint64(st.pipeline.desc.VertexStride)
		}
		for i := uint64(0); i < uint64(indexCount); i++ {
			pos := st.ibOffset + (uint64(firstIndex)+i)*size
			if pos+size > uint64(len(st.ib.data)) {
				d.violate(fmt.Errorf("index %d read past index buffer end", uint64(firstIndex)+i))
				return
			}
			var idx uint32
			if size == 2 {
				idx = uint32(binary.LittleEndian.Uint16(st.ib.data[pos:]))
			} else {
				idx = binary.LittleEndian.Uint32(st.ib.data[pos:])
			}
			v := int64(idx) + int64(vertexOffset)
			if v < 0 || (vertexCount > 0 && uint64(v) >= vertexCount) {
				d.violate(fmt.Errorf("vertex %d outside vertex buffer of %d vertices", v, vertexCount))
				return
			}
			call.Vertices = append(call.Vertices, uint32(v))
		}
		d.draws = append(d.draws, call)
	})
}

// submission is one SubmitInfo waiting for the GPU.
type submission struct {
	cbs   []*CommandBuffer
	fence *Fence
}

func (s *submission) references(b *Buffer) bool {
	for _, cb := range s.cbs {
		for _, r := range cb.refs {
			if r == b {
				return true
			}
		}
	}
	return false
}

// Queue is the single soft queue.
type Queue struct {
	dev *Device
}

// Submit implements gpu.Queue.
func (q *Queue) Submit(infos ...gpu.SubmitInfo) error {
	d := q.dev
	for _, info := range infos {
		if d.opts.SubmitHook != nil {
			if err := d.opts.SubmitHook(info); err != nil {
				return fmt.Errorf("queue submit: %w", err)
			}
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return gpu.ErrDestroyed
	}
	for _, info := range infos {
		sub := &submission{}
		for _, cb := range info.CommandBuffers {
			c, ok := cb.(*CommandBuffer)
			if !ok {
				return fmt.Errorf("soft: foreign command buffer %T", cb)
			}
			switch c.state {
			case statePending:
				return d.violate(fmt.Errorf("submit command buffer: %w", gpu.ErrInUse))
			case stateExecutable:
			default:
				return d.violate(fmt.Errorf("submit command buffer that was not ended"))
			}
			sub.cbs = append(sub.cbs, c)
		}
		for _, w := range info.Waits {
			if s, ok := w.Semaphore.(*Semaphore); ok {
				s.waitLocked("submit")
			}
		}
		for _, sig := range info.Signals {
			if s, ok := sig.(*Semaphore); ok {
				s.signalLocked("submit")
			}
		}
		if info.Fence != nil {
			f, ok := info.Fence.(*Fence)
			if !ok {
				return fmt.Errorf("soft: foreign fence %T", info.Fence)
			}
			if f.signaled || f.pending != nil {
				return d.violate(fmt.Errorf("submit with a fence that was not reset: %w", gpu.ErrInUse))
			}
			f.pending = sub
			sub.fence = f
		}
		for _, c := range sub.cbs {
			c.state = statePending
		}
		d.pending = append(d.pending, sub)
		d.stats.Submits++
	}
	return nil
}

// Present implements gpu.Queue.
func (q *Queue) Present(info gpu.PresentInfo) error {
	d := q.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.Presents++
	for _, w := range info.Waits {
		if s, ok := w.(*Semaphore); ok {
			s.waitLocked("present")
		}
	}
	sc, ok := info.Swapchain.(*Swapchain)
	if !ok || sc.destroyed {
		return d.violate(fmt.Errorf("present to destroyed swapchain: %w", gpu.ErrDestroyed))
	}
	if info.ImageIndex >= uint32(sc.images) {
		return d.violate(fmt.Errorf("present image %d of %d", info.ImageIndex, sc.images))
	}
	var result error
	if len(d.presentResults) > 0 {
		result = d.presentResults[0]
		d.presentResults = d.presentResults[1:]
	}
	d.presents = append(d.presents, info.ImageIndex)
	return result
}

// WaitIdle implements gpu.Queue.
func (q *Queue) WaitIdle() error {
	q.dev.mu.Lock()
	defer q.dev.mu.Unlock()
	q.dev.stats.WaitIdles++
	q.dev.flushLocked(nil)
	return nil
}

// flushLocked executes pending submissions in order, stopping after until
// (or draining the queue when until is nil).
func (d *Device) flushLocked(until *submission) {
	for len(d.pending) > 0 {
		sub := d.pending[0]
		d.pending = d.pending[1:]
		for _, cb := range sub.cbs {
			st := &execState{}
			for _, cmd := range cb.cmds {
				cmd(st)
			}
			cb.state = stateExecutable
			if cb.oneTime {
				cb.state = stateInitial
			}
			d.stats.Executed++
		}
		if sub.fence != nil {
			sub.fence.signaled = true
			sub.fence.pending = nil
		}
		if sub == until {
			return
		}
	}
}
