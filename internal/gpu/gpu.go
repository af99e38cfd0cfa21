// Package gpu defines the explicit GPU API the renderer core is written against.
//
// The model follows Vulkan: work is recorded into command buffers and submitted
// to queues, the host learns about completion through fences, and queue to queue
// ordering (acquire, render, present) is expressed with semaphores. Backends live
// in subpackages: vulkan, opengl and soft.
//
// Every resource is owning. Destroy releases the underlying handle exactly once
// and is safe to call again or on a partially constructed object.
package gpu

import (
	"fmt"
	"time"

	"github.com/go-gl/mathgl/mgl32"
)

// BufferUsage is a bit set describing how a buffer will be bound.
type BufferUsage uint32

const (
	UsageVertex BufferUsage = 1 << iota
	UsageIndex
	UsageUniform
	UsageTransferSrc
	UsageTransferDst
)

// Has reports whether all bits of f are set.
func (u BufferUsage) Has(f BufferUsage) bool { return u&f == f }

// MemoryKind selects where buffer memory lives.
type MemoryKind int

const (
	// MemoryDeviceLocal is fast GPU memory the host cannot map.
	MemoryDeviceLocal MemoryKind = iota
	// MemoryHostVisible is host-visible, host-coherent memory.
	MemoryHostVisible
)

func (m MemoryKind) String() string {
	if m == MemoryHostVisible {
		return "host-visible"
	}
	return "device-local"
}

// BufferDesc describes a buffer to create.
type BufferDesc struct {
	Size   uint64
	Usage  BufferUsage
	Memory MemoryKind
	Label  string
}

// Validate checks desc against the constraints every backend enforces.
// A zero size is valid: such a buffer holds no allocation.
func (desc BufferDesc) Validate() error {
	if desc.Usage == 0 {
		return fmt.Errorf("%w: %q has no usage", ErrInvalidBuffer, desc.Label)
	}
	if desc.Memory != MemoryDeviceLocal && desc.Memory != MemoryHostVisible {
		return fmt.Errorf("%w: %q has memory kind %d", ErrInvalidBuffer, desc.Label, desc.Memory)
	}
	return nil
}

// Extent is a size in pixels.
type Extent struct {
	Width, Height uint32
}

// Empty reports whether the extent has zero area.
func (e Extent) Empty() bool { return e.Width == 0 || e.Height == 0 }

// PipelineStage identifies where a semaphore wait blocks.
type PipelineStage uint32

const (
	StageTopOfPipe PipelineStage = 1 << iota
	StageTransfer
	StageVertexInput
	StageColorAttachmentOutput
	StageBottomOfPipe
)

// ShaderStage selects the stages a push constant range is visible to.
type ShaderStage uint32

const (
	ShaderVertex ShaderStage = 1 << iota
	ShaderFragment
)

// IndexType is the element type of an index buffer.
type IndexType int

const (
	IndexUint16 IndexType = iota
	IndexUint32
)

// Format is a swapchain image format.
type Format int

const (
	FormatUndefined Format = iota
	FormatBGRA8SRGB
	FormatBGRA8Unorm
	FormatRGBA8SRGB
	FormatRGBA8Unorm
)

// PresentMode mirrors VkPresentModeKHR.
type PresentMode int

const (
	PresentFIFO PresentMode = iota
	PresentMailbox
	PresentImmediate
)

// Buffer is a linear GPU allocation.
type Buffer interface {
	Size() uint64
	Usage() BufferUsage
	Memory() MemoryKind
	// Map returns the persistently mapped contents of a host-visible buffer.
	// Device-local buffers return ErrNotMappable. A zero-size buffer maps to
	// an empty slice.
	Map() ([]byte, error)
	Destroy()
}

// Fence is a GPU to host completion signal.
type Fence interface {
	// Wait blocks until the fence is signaled or timeout elapses (ErrTimeout).
	Wait(timeout time.Duration) error
	Reset() error
	Signaled() bool
	Destroy()
}

// Semaphore orders work between queue operations. The host never waits on it.
type Semaphore interface {
	Destroy()
}

// CopyRegion is one range of a buffer to buffer copy.
type CopyRegion struct {
	SrcOffset, DstOffset, Size uint64
}

// ClearValues are the values a render pass clears its attachments to.
type ClearValues struct {
	Color [4]float32
	Depth float32
}

// Viewport covers the render area.
type Viewport struct {
	X, Y, Width, Height float32
}

// CommandBuffer records GPU work for later submission.
type CommandBuffer interface {
	Begin(oneTimeSubmit bool) error
	End() error
	Reset() error

	CopyBuffer(src, dst Buffer, regions ...CopyRegion)
	// BufferBarrier makes transfer writes to buf visible to vertex input reads.
	BufferBarrier(buf Buffer)

	BeginRenderPass(rp RenderPass, fb Framebuffer, clear ClearValues)
	EndRenderPass()
	BindPipeline(p Pipeline)
	BindUniforms(u UniformBinding)
	SetViewport(v Viewport)
	BindVertexBuffer(buf Buffer, offset uint64)
	BindIndexBuffer(buf Buffer, offset uint64, t IndexType)
	PushConstants(p Pipeline, stages ShaderStage, offset uint32, data []byte)
	// DrawIndexed draws indexCount indices starting at firstIndex. Each fetched
	// index has vertexOffset added before the vertex is read.
	DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32)
}

// CommandPool allocates command buffers for one queue family.
type CommandPool interface {
	Allocate(n int) ([]CommandBuffer, error)
	Free(cbs ...CommandBuffer)
	Destroy()
}

// SemaphoreWait is a semaphore a submission waits on before the given stage.
type SemaphoreWait struct {
	Semaphore Semaphore
	Stage     PipelineStage
}

// SubmitInfo describes one queue submission.
type SubmitInfo struct {
	CommandBuffers []CommandBuffer
	Waits          []SemaphoreWait
	Signals        []Semaphore
	// Fence, if set, is signaled once every command buffer has completed.
	Fence Fence
}

// PresentInfo describes one present request.
type PresentInfo struct {
	Waits      []Semaphore
	Swapchain  Swapchain
	ImageIndex uint32
}

// Queue executes submitted command buffers in order.
type Queue interface {
	Submit(infos ...SubmitInfo) error
	// Present queues an image for display. ErrOutOfDate and ErrSuboptimal mean
	// the swapchain should be rebuilt; any other error is fatal.
	Present(info PresentInfo) error
	WaitIdle() error
}

// SwapchainDesc describes a swapchain to create.
type SwapchainDesc struct {
	Extent      Extent
	Format      Format
	PresentMode PresentMode
	MinImages   uint32
}

// Swapchain is a ring of presentable images.
type Swapchain interface {
	Extent() Extent
	Format() Format
	ImageCount() int
	// AcquireNextImage returns the index of the next image and arranges for
	// signal to be signaled when the image is ready for rendering. ErrOutOfDate
	// means nothing was acquired; ErrSuboptimal means the image is usable.
	AcquireNextImage(timeout time.Duration, signal Semaphore) (uint32, error)
	Destroy()
}

// ImageView is a view of one swapchain image.
type ImageView interface {
	Destroy()
}

// RenderPassDesc describes the attachments of a render pass.
type RenderPassDesc struct {
	ColorFormat Format
	Depth       bool
}

// RenderPass describes attachment usage for a set of framebuffers.
type RenderPass interface {
	Destroy()
}

// Framebuffer binds a swapchain image view (plus its own depth image) to a render pass.
type Framebuffer interface {
	Extent() Extent
	Destroy()
}

// VertexAttribute is one attribute of the interleaved vertex layout.
type VertexAttribute struct {
	Location   uint32
	Components int // float32 components, 2..4
	Offset     uint32
}

// PipelineDesc describes a graphics pipeline.
type PipelineDesc struct {
	RenderPass       RenderPass
	VertexShader     []byte
	FragmentShader   []byte
	VertexStride     uint32
	Attributes       []VertexAttribute
	PushConstantSize uint32
	UniformSize      uint64
	CullBackFaces    bool
}

// Pipeline is an immutable graphics pipeline.
type Pipeline interface {
	Destroy()
}

// UniformBinding binds one uniform buffer to a pipeline's uniform slot.
type UniformBinding interface {
	Destroy()
}

// Surface is the window side of presentation.
type Surface interface {
	// DrawableExtent returns the current drawable size in pixels. It is zero
	// while the window is minimized.
	DrawableExtent() Extent
	// WaitEvents blocks until the windowing system delivers an event or a
	// short timeout passes. It returns false once the window was asked to close.
	WaitEvents() bool
}

// Device creates resources and exposes queues.
type Device interface {
	Name() string

	CreateBuffer(desc BufferDesc) (Buffer, error)
	CreateFence(signaled bool) (Fence, error)
	CreateSemaphore() (Semaphore, error)
	CreateCommandPool() (CommandPool, error)

	GraphicsQueue() Queue
	// TransferQueue may return the graphics queue when the device has no
	// dedicated transfer queue.
	TransferQueue() Queue

	SurfaceFormat() Format
	CreateRenderPass(desc RenderPassDesc) (RenderPass, error)
	CreateSwapchain(desc SwapchainDesc) (Swapchain, error)
	CreateImageViews(sc Swapchain) ([]ImageView, error)
	CreateFramebuffer(rp RenderPass, view ImageView, extent Extent) (Framebuffer, error)
	CreatePipeline(desc PipelineDesc) (Pipeline, error)
	CreateUniformBinding(p Pipeline, buf Buffer) (UniformBinding, error)

	WaitIdle() error
	Destroy()
}

// PushConstants is the per-draw constant block: model matrix then its inverse.
type PushConstants struct {
	Model   mgl32.Mat4
	Inverse mgl32.Mat4
}

// PushConstantSize is the encoded size of PushConstants.
const PushConstantSize = 2 * 16 * 4
