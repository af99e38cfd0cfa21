package opengl

import (
	"fmt"

	"github.com/go-gl/gl/v4.1-core/gl"

	"github.com/Faultbox/midgard-vk/internal/gpu"
)

// CommandPool hands out closure-recording command buffers.
type CommandPool struct{}

// Allocate implements gpu.CommandPool.
func (*CommandPool) Allocate(n int) ([]gpu.CommandBuffer, error) {
	out := make([]gpu.CommandBuffer, n)
	for i := range out {
		out[i] = &CommandBuffer{}
	}
	return out, nil
}

// Free implements gpu.CommandPool.
func (*CommandPool) Free(cbs ...gpu.CommandBuffer) {
	for _, c := range cbs {
		if cb, ok := c.(*CommandBuffer); ok {
			cb.cmds = nil
		}
	}
}

// Destroy implements gpu.CommandPool.
func (*CommandPool) Destroy() {}

// execState is the binding state while a command buffer replays.
type execState struct {
	pipeline    *Pipeline
	vertex      *Buffer
	vertexOff   uint64
	index       *Buffer
	indexOff    uint64
	indexType   uint32
	indexStride uint64
}

// CommandBuffer records GL calls for replay at submit time.
type CommandBuffer struct {
	cmds      []func(*execState)
	recording bool
	ended     bool
}

// Begin implements gpu.CommandBuffer.
func (c *CommandBuffer) Begin(bool) error {
	if c.recording {
		return fmt.Errorf("opengl: begin while recording")
	}
	c.cmds = c.cmds[:0]
	c.recording, c.ended = true, false
	return nil
}

// End implements gpu.CommandBuffer.
func (c *CommandBuffer) End() error {
	if !c.recording {
		return fmt.Errorf("opengl: end without begin")
	}
	c.recording, c.ended = false, true
	return nil
}

// Reset implements gpu.CommandBuffer.
func (c *CommandBuffer) Reset() error {
	c.cmds = c.cmds[:0]
	c.recording, c.ended = false, false
	return nil
}

func (c *CommandBuffer) record(fn func(*execState)) { c.cmds = append(c.cmds, fn) }

// CopyBuffer implements gpu.CommandBuffer.
func (c *CommandBuffer) CopyBuffer(src, dst gpu.Buffer, regions ...gpu.CopyRegion) {
	s, d := src.(*Buffer), dst.(*Buffer)
	regions = append([]gpu.CopyRegion(nil), regions...)
	c.record(func(*execState) {
		for _, r := range regions {
			copyRegion(s, d, r)
		}
	})
}

// copyRegion moves one region between any mix of host copies and buffer objects.
func copyRegion(s, d *Buffer, r gpu.CopyRegion) {
	if r.Size == 0 {
		return
	}
	switch {
	case s.host != nil && d.host != nil:
		copy(d.host[r.DstOffset:r.DstOffset+r.Size], s.host[r.SrcOffset:r.SrcOffset+r.Size])
		if d.id != 0 {
			d.sync(gl.COPY_WRITE_BUFFER)
		}
	case s.host != nil:
		gl.BindBuffer(gl.COPY_WRITE_BUFFER, d.id)
		gl.BufferSubData(gl.COPY_WRITE_BUFFER, int(r.DstOffset), int(r.Size), gl.Ptr(s.host[r.SrcOffset:]))
	case d.host != nil:
		gl.BindBuffer(gl.COPY_READ_BUFFER, s.id)
		gl.GetBufferSubData(gl.COPY_READ_BUFFER, int(r.SrcOffset), int(r.Size), gl.Ptr(d.host[r.DstOffset:]))
	default:
		gl.BindBuffer(gl.COPY_READ_BUFFER, s.id)
		gl.BindBuffer(gl.COPY_WRITE_BUFFER, d.id)
		gl.CopyBufferSubData(gl.COPY_READ_BUFFER, gl.COPY_WRITE_BUFFER, int(r.SrcOffset), int(r.DstOffset), int(r.Size))
	}
}

// BufferBarrier implements gpu.CommandBuffer. GL orders buffer writes before
// later reads on its own.
func (c *CommandBuffer) BufferBarrier(gpu.Buffer) {}

// BeginRenderPass implements gpu.CommandBuffer.
func (c *CommandBuffer) BeginRenderPass(rp gpu.RenderPass, fb gpu.Framebuffer, clear gpu.ClearValues) {
	pass, frame := rp.(*RenderPass), fb.(*Framebuffer)
	c.record(func(*execState) {
		gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
		gl.Viewport(0, 0, int32(frame.extent.Width), int32(frame.extent.Height))
		gl.ClearColor(clear.Color[0], clear.Color[1], clear.Color[2], clear.Color[3])
		mask := uint32(gl.COLOR_BUFFER_BIT)
		if pass.depth {
			gl.Enable(gl.DEPTH_TEST)
			gl.DepthFunc(gl.LEQUAL)
			gl.DepthMask(true)
			gl.ClearDepth(float64(clear.Depth))
			mask |= gl.DEPTH_BUFFER_BIT
		} else {
			gl.Disable(gl.DEPTH_TEST)
		}
		gl.Clear(mask)
	})
}

// EndRenderPass implements gpu.CommandBuffer.
func (c *CommandBuffer) EndRenderPass() {
	c.record(func(s *execState) {
		gl.BindVertexArray(0)
		*s = execState{}
	})
}

// BindPipeline implements gpu.CommandBuffer.
func (c *CommandBuffer) BindPipeline(p gpu.Pipeline) {
	pl := p.(*Pipeline)
	c.record(func(s *execState) {
		s.pipeline = pl
		gl.UseProgram(pl.program)
		gl.BindVertexArray(pl.vao)
		if pl.desc.CullBackFaces {
			gl.Enable(gl.CULL_FACE)
			gl.CullFace(gl.BACK)
		} else {
			gl.Disable(gl.CULL_FACE)
		}
		if pl.push != 0 {
			gl.BindBufferBase(gl.UNIFORM_BUFFER, PushBlockBinding, pl.push)
		}
	})
}

// BindUniforms implements gpu.CommandBuffer.
func (c *CommandBuffer) BindUniforms(u gpu.UniformBinding) {
	ub := u.(*UniformBinding)
	c.record(func(*execState) {
		ub.buffer.sync(gl.UNIFORM_BUFFER)
		gl.BindBufferBase(gl.UNIFORM_BUFFER, FrameBlockBinding, ub.buffer.id)
	})
}

// SetViewport implements gpu.CommandBuffer.
func (c *CommandBuffer) SetViewport(v gpu.Viewport) {
	c.record(func(*execState) {
		gl.Viewport(int32(v.X), int32(v.Y), int32(v.Width), int32(v.Height))
	})
}

// BindVertexBuffer implements gpu.CommandBuffer.
func (c *CommandBuffer) BindVertexBuffer(buf gpu.Buffer, offset uint64) {
	b := buf.(*Buffer)
	c.record(func(s *execState) {
		s.vertex, s.vertexOff = b, offset
	})
}

// BindIndexBuffer implements gpu.CommandBuffer.
func (c *CommandBuffer) BindIndexBuffer(buf gpu.Buffer, offset uint64, t gpu.IndexType) {
	b := buf.(*Buffer)
	c.record(func(s *execState) {
		s.index, s.indexOff = b, offset
		s.indexType, s.indexStride = gl.UNSIGNED_SHORT, 2
		if t == gpu.IndexUint32 {
			s.indexType, s.indexStride = gl.UNSIGNED_INT, 4
		}
	})
}

// PushConstants implements gpu.CommandBuffer. The bytes land in the
// pipeline's Push uniform block.
func (c *CommandBuffer) PushConstants(p gpu.Pipeline, _ gpu.ShaderStage, offset uint32, data []byte) {
	if len(data) == 0 {
		return
	}
	pl := p.(*Pipeline)
	data = append([]byte(nil), data...)
	c.record(func(*execState) {
		if pl.push == 0 {
			return
		}
		gl.BindBuffer(gl.UNIFORM_BUFFER, pl.push)
		gl.BufferSubData(gl.UNIFORM_BUFFER, int(offset), len(data), gl.Ptr(data))
	})
}

// DrawIndexed implements gpu.CommandBuffer.
func (c *CommandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	c.record(func(s *execState) {
		if s.pipeline == nil || s.vertex == nil || s.index == nil {
			return
		}
		s.vertex.sync(gl.ARRAY_BUFFER)
		s.pipeline.setAttributes(s.vertexOff)
		s.index.sync(gl.ELEMENT_ARRAY_BUFFER)

		offset := s.indexOff + uint64(firstIndex)*s.indexStride
		if instanceCount > 1 || firstInstance != 0 {
			gl.DrawElementsInstancedBaseVertex(gl.TRIANGLES, int32(indexCount), s.indexType,
				gl.PtrOffset(int(offset)), int32(instanceCount), vertexOffset)
			return
		}
		gl.DrawElementsBaseVertex(gl.TRIANGLES, int32(indexCount), s.indexType,
			gl.PtrOffset(int(offset)), vertexOffset)
	})
}

// Queue replays command buffers on the context thread.
type Queue struct {
	dev *Device
}

// Submit implements gpu.Queue. Each fence gets a sync object placed after
// its commands.
func (q *Queue) Submit(infos ...gpu.SubmitInfo) error {
	for _, info := range infos {
		for _, c := range info.CommandBuffers {
			cb, ok := c.(*CommandBuffer)
			if !ok {
				return errForeign
			}
			if !cb.ended {
				return fmt.Errorf("opengl: submit of a command buffer that was not ended")
			}
			var s execState
			for _, fn := range cb.cmds {
				fn(&s)
			}
		}
		if err := glError("submit"); err != nil {
			return err
		}
		if info.Fence != nil {
			f, ok := info.Fence.(*Fence)
			if !ok {
				return errForeign
			}
			if f.sync != 0 {
				gl.DeleteSync(f.sync)
			}
			f.signaled = false
			f.sync = gl.FenceSync(gl.SYNC_GPU_COMMANDS_COMPLETE, 0)
		}
	}
	return nil
}

// Present implements gpu.Queue by swapping the window's buffers.
func (q *Queue) Present(info gpu.PresentInfo) error {
	sc, ok := info.Swapchain.(*Swapchain)
	if !ok {
		return errForeign
	}
	q.dev.win.SwapBuffers()
	if cur := q.dev.win.DrawableExtent(); cur != sc.extent {
		return gpu.ErrSuboptimal
	}
	return nil
}

// WaitIdle implements gpu.Queue.
func (q *Queue) WaitIdle() error {
	gl.Finish()
	return nil
}
