package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/Faultbox/midgard-vk/internal/gpu"
)

// CommandPool allocates primary command buffers on the graphics family.
type CommandPool struct {
	dev  *Device
	pool vk.CommandPool
}

// Allocate implements gpu.CommandPool.
func (p *CommandPool) Allocate(n int) ([]gpu.CommandBuffer, error) {
	if p.pool == vk.NullCommandPool {
		return nil, gpu.ErrDestroyed
	}
	raw := make([]vk.CommandBuffer, n)
	ret := vk.AllocateCommandBuffers(p.dev.device, &vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        p.pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: uint32(n),
	}, raw)
	if err := check(ret, "vulkan: allocate command buffers"); err != nil {
		return nil, err
	}
	out := make([]gpu.CommandBuffer, n)
	for i, cb := range raw {
		out[i] = &CommandBuffer{dev: p.dev, cb: cb}
	}
	return out, nil
}

// Free implements gpu.CommandPool.
func (p *CommandPool) Free(cbs ...gpu.CommandBuffer) {
	raw := make([]vk.CommandBuffer, 0, len(cbs))
	for _, c := range cbs {
		if cb, ok := c.(*CommandBuffer); ok && cb.cb != nil {
			raw = append(raw, cb.cb)
			cb.cb = nil
		}
	}
	if len(raw) > 0 && p.pool != vk.NullCommandPool {
		vk.FreeCommandBuffers(p.dev.device, p.pool, uint32(len(raw)), raw)
	}
}

// Destroy implements gpu.CommandPool. Buffers allocated from the pool are
// freed with it.
func (p *CommandPool) Destroy() {
	if p.pool != vk.NullCommandPool {
		vk.DestroyCommandPool(p.dev.device, p.pool, nil)
		p.pool = vk.NullCommandPool
	}
}

// CommandBuffer records into a VkCommandBuffer. Recording calls do not return
// errors; Vulkan reports recording problems through End.
type CommandBuffer struct {
	dev *Device
	cb  vk.CommandBuffer
}

// Begin implements gpu.CommandBuffer.
func (c *CommandBuffer) Begin(oneTimeSubmit bool) error {
	info := vk.CommandBufferBeginInfo{SType: vk.StructureTypeCommandBufferBeginInfo}
	if oneTimeSubmit {
		info.Flags = vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)
	}
	return check(vk.BeginCommandBuffer(c.cb, &info), "vulkan: begin command buffer")
}

// End implements gpu.CommandBuffer.
func (c *CommandBuffer) End() error {
	return check(vk.EndCommandBuffer(c.cb), "vulkan: end command buffer")
}

// Reset implements gpu.CommandBuffer.
func (c *CommandBuffer) Reset() error {
	return check(vk.ResetCommandBuffer(c.cb, 0), "vulkan: reset command buffer")
}

// CopyBuffer implements gpu.CommandBuffer.
func (c *CommandBuffer) CopyBuffer(src, dst gpu.Buffer, regions ...gpu.CopyRegion) {
	s, d := src.(*Buffer), dst.(*Buffer)
	if s.empty() || d.empty() {
		return
	}
	rg := make([]vk.BufferCopy, 0, len(regions))
	for _, r := range regions {
		if r.Size == 0 {
			continue
		}
		rg = append(rg, vk.BufferCopy{
			SrcOffset: vk.DeviceSize(r.SrcOffset),
			DstOffset: vk.DeviceSize(r.DstOffset),
			Size:      vk.DeviceSize(r.Size),
		})
	}
	if len(rg) == 0 {
		return
	}
	vk.CmdCopyBuffer(c.cb, s.buffer, d.buffer, uint32(len(rg)), rg)
}

// BufferBarrier implements gpu.CommandBuffer.
func (c *CommandBuffer) BufferBarrier(buf gpu.Buffer) {
	b := buf.(*Buffer)
	if b.empty() {
		return
	}
	vk.CmdPipelineBarrier(c.cb,
		vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		vk.PipelineStageFlags(vk.PipelineStageVertexInputBit),
		0, 0, nil, 1, []vk.BufferMemoryBarrier{{
			SType:               vk.StructureTypeBufferMemoryBarrier,
			SrcAccessMask:       vk.AccessFlags(vk.AccessTransferWriteBit),
			DstAccessMask:       vk.AccessFlags(vk.AccessVertexAttributeReadBit | vk.AccessIndexReadBit),
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Buffer:              b.buffer,
			Offset:              0,
			Size:                vk.DeviceSize(vk.WholeSize),
		}}, 0, nil)
}

// BeginRenderPass implements gpu.CommandBuffer.
func (c *CommandBuffer) BeginRenderPass(rp gpu.RenderPass, fb gpu.Framebuffer, clear gpu.ClearValues) {
	pass, frame := rp.(*RenderPass), fb.(*Framebuffer)
	values := []vk.ClearValue{vk.NewClearValue(clear.Color[:])}
	if pass.depth {
		values = append(values, vk.NewClearDepthStencil(clear.Depth, 0))
	}
	vk.CmdBeginRenderPass(c.cb, &vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  pass.pass,
		Framebuffer: frame.fb,
		RenderArea: vk.Rect2D{
			Extent: vk.Extent2D{Width: frame.extent.Width, Height: frame.extent.Height},
		},
		ClearValueCount: uint32(len(values)),
		PClearValues:    values,
	}, vk.SubpassContentsInline)
}

// EndRenderPass implements gpu.CommandBuffer.
func (c *CommandBuffer) EndRenderPass() { vk.CmdEndRenderPass(c.cb) }

// BindPipeline implements gpu.CommandBuffer.
func (c *CommandBuffer) BindPipeline(p gpu.Pipeline) {
	vk.CmdBindPipeline(c.cb, vk.PipelineBindPointGraphics, p.(*Pipeline).pipeline)
}

// BindUniforms implements gpu.CommandBuffer. A pipeline must be bound.
func (c *CommandBuffer) BindUniforms(u gpu.UniformBinding) {
	ub := u.(*UniformBinding)
	vk.CmdBindDescriptorSets(c.cb, vk.PipelineBindPointGraphics, ub.pipeline.layout,
		0, 1, []vk.DescriptorSet{ub.set}, 0, nil)
}

// SetViewport implements gpu.CommandBuffer. The scissor follows the viewport.
func (c *CommandBuffer) SetViewport(v gpu.Viewport) {
	vk.CmdSetViewport(c.cb, 0, 1, []vk.Viewport{{
		X: v.X, Y: v.Y, Width: v.Width, Height: v.Height,
		MinDepth: 0, MaxDepth: 1,
	}})
	vk.CmdSetScissor(c.cb, 0, 1, []vk.Rect2D{{
		Offset: vk.Offset2D{X: int32(v.X), Y: int32(v.Y)},
		Extent: vk.Extent2D{Width: uint32(v.Width), Height: uint32(v.Height)},
	}})
}

// BindVertexBuffer implements gpu.CommandBuffer.
func (c *CommandBuffer) BindVertexBuffer(buf gpu.Buffer, offset uint64) {
	b := buf.(*Buffer)
	if b.empty() {
		return
	}
	vk.CmdBindVertexBuffers(c.cb, 0, 1, []vk.Buffer{b.buffer}, []vk.DeviceSize{vk.DeviceSize(offset)})
}

// BindIndexBuffer implements gpu.CommandBuffer.
func (c *CommandBuffer) BindIndexBuffer(buf gpu.Buffer, offset uint64, t gpu.IndexType) {
	b := buf.(*Buffer)
	if b.empty() {
		return
	}
	it := vk.IndexTypeUint16
	if t == gpu.IndexUint32 {
		it = vk.IndexTypeUint32
	}
	vk.CmdBindIndexBuffer(c.cb, b.buffer, vk.DeviceSize(offset), it)
}

// PushConstants implements gpu.CommandBuffer.
func (c *CommandBuffer) PushConstants(p gpu.Pipeline, stages gpu.ShaderStage, offset uint32, data []byte) {
	if len(data) == 0 {
		return
	}
	pl := p.(*Pipeline)
	vk.CmdPushConstants(c.cb, pl.layout, shaderStageFlags(stages), offset, uint32(len(data)), unsafe.Pointer(&data[0]))
}

// DrawIndexed implements gpu.CommandBuffer.
func (c *CommandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	vk.CmdDrawIndexed(c.cb, indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
}

// Queue wraps a VkQueue. presentVia is set on the graphics queue when
// presentation has to go through a different family's queue.
type Queue struct {
	dev        *Device
	queue      vk.Queue
	presentVia *Queue
}

// Submit implements gpu.Queue.
func (q *Queue) Submit(infos ...gpu.SubmitInfo) error {
	submits := make([]vk.SubmitInfo, 0, len(infos))
	var fence vk.Fence = vk.NullFence
	for i, info := range infos {
		cbs := make([]vk.CommandBuffer, 0, len(info.CommandBuffers))
		for _, c := range info.CommandBuffers {
			cb, ok := c.(*CommandBuffer)
			if !ok {
				return errForeign
			}
			cbs = append(cbs, cb.cb)
		}
		waits := make([]vk.Semaphore, 0, len(info.Waits))
		stages := make([]vk.PipelineStageFlags, 0, len(info.Waits))
		for _, w := range info.Waits {
			s, ok := w.Semaphore.(*Semaphore)
			if !ok {
				return errForeign
			}
			waits = append(waits, s.sem)
			stages = append(stages, stageFlags(w.Stage))
		}
		signals, err := semaphores(info.Signals)
		if err != nil {
			return err
		}
		submits = append(submits, vk.SubmitInfo{
			SType:                vk.StructureTypeSubmitInfo,
			WaitSemaphoreCount:   uint32(len(waits)),
			PWaitSemaphores:      waits,
			PWaitDstStageMask:    stages,
			CommandBufferCount:   uint32(len(cbs)),
			PCommandBuffers:      cbs,
			SignalSemaphoreCount: uint32(len(signals)),
			PSignalSemaphores:    signals,
		})
		if info.Fence != nil {
			// vkQueueSubmit takes one fence for the whole batch.
			if i != len(infos)-1 {
				return fmt.Errorf("vulkan: only the last submit info may carry a fence: %w", gpu.ErrUnsupported)
			}
			f, ok := info.Fence.(*Fence)
			if !ok {
				return errForeign
			}
			fence = f.fence
		}
	}
	return check(vk.QueueSubmit(q.queue, uint32(len(submits)), submits, fence), "vulkan: queue submit")
}

// Present implements gpu.Queue.
func (q *Queue) Present(info gpu.PresentInfo) error {
	if q.presentVia != nil {
		return q.presentVia.Present(info)
	}
	sc, ok := info.Swapchain.(*Swapchain)
	if !ok {
		return errForeign
	}
	waits, err := semaphores(info.Waits)
	if err != nil {
		return err
	}
	ret := vk.QueuePresent(q.queue, &vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: uint32(len(waits)),
		PWaitSemaphores:    waits,
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{sc.swapchain},
		PImageIndices:      []uint32{info.ImageIndex},
	})
	return mapResult(ret)
}

// WaitIdle implements gpu.Queue.
func (q *Queue) WaitIdle() error {
	return check(vk.QueueWaitIdle(q.queue), "vulkan: queue wait idle")
}
