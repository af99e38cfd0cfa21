// Package soft implements the gpu API in host memory.
//
// The "GPU" advances lazily: submissions stay pending until a fence wait, a
// queue or device idle-wait, or Flush executes them. This keeps fence and
// command buffer discipline observable from tests, which is the main purpose
// of the backend; it also drives the headless viewer.
//
// Misuse that a Vulkan validation layer would report (re-recording a pending
// command buffer, resetting an in-flight fence, waiting on a semaphore nothing
// signals, touching destroyed resources) is recorded as a violation and, where
// the call returns an error, returned as well.
package soft

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Faultbox/midgard-vk/internal/gpu"
)

// Options configures a Device.
type Options struct {
	// ImageCount is the number of swapchain images (default 3).
	ImageCount int
	// Format is the surface format (default BGRA8 sRGB).
	Format gpu.Format
	// CreateBufferHook, when set, can fail buffer creation.
	CreateBufferHook func(desc gpu.BufferDesc) error
	// SubmitHook, when set, can fail queue submission.
	SubmitHook func(info gpu.SubmitInfo) error
}

// Stats counts device activity.
type Stats struct {
	Submits        int
	FenceWaits     int
	FenceResets    int
	Begins         int
	Acquires       int
	Presents       int
	WaitIdles      int
	BuffersCreated int
	BuffersFreed   int
	Executed       int // command buffers executed
}

// DrawCall is one executed DrawIndexed.
type DrawCall struct {
	IndexCount   uint32
	FirstIndex   uint32
	VertexOffset int32
	// Vertices are the vertex indices fetched, after adding VertexOffset.
	Vertices      []uint32
	PushConstants []byte
	Framebuffer   *Framebuffer
}

// Device is an in-memory gpu.Device.
type Device struct {
	opts Options

	mu         sync.Mutex
	queue      *Queue
	pending    []*submission
	stats      Stats
	violations []error
	live       map[string]int
	draws      []DrawCall
	presents   []uint32

	acquireResults []error
	presentResults []error
	destroyed      bool
}

var _ gpu.Device = (*Device)(nil)

// New creates a soft device.
func New(opts Options) *Device {
	if opts.ImageCount <= 0 {
		opts.ImageCount = 3
	}
	if opts.Format == gpu.FormatUndefined {
		opts.Format = gpu.FormatBGRA8SRGB
	}
	d := &Device{
		opts: opts,
		live: make(map[string]int),
	}
	d.queue = &Queue{dev: d}
	return d
}

// Name implements gpu.Device.
func (d *Device) Name() string { return "soft" }

// QueueAcquireResults sets the results of the next swapchain acquisitions, in order.
// nil entries succeed. Once exhausted, acquisitions succeed.
func (d *Device) QueueAcquireResults(results ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.acquireResults = append(d.acquireResults, results...)
}

// QueuePresentResults sets the results of the next presents, in order.
func (d *Device) QueuePresentResults(results ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.presentResults = append(d.presentResults, results...)
}

// Stats returns a snapshot of the counters.
func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Violations returns every recorded API misuse.
func (d *Device) Violations() []error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]error(nil), d.violations...)
}

// Live returns the number of live objects of a kind ("buffer", "fence",
// "semaphore", "swapchain", "view", "framebuffer", ...).
func (d *Device) Live(kind string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.live[kind]
}

// Draws returns the executed draw calls.
func (d *Device) Draws() []DrawCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]DrawCall(nil), d.draws...)
}

// Presents returns the image indices presented successfully or stale, in order.
func (d *Device) Presents() []uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]uint32(nil), d.presents...)
}

// Pending returns the number of submissions the GPU has not executed yet.
func (d *Device) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Flush executes every pending submission.
func (d *Device) Flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.flushLocked(nil)
}

func (d *Device) violate(err error) error {
	err = fmt.Errorf("%w: %w", ErrViolation, err)
	d.violations = append(d.violations, err)
	return err
}

func (d *Device) created(kind string) { d.live[kind]++ }
func (d *Device) freed(kind string)   { d.live[kind]-- }

// CreateBuffer implements gpu.Device.
func (d *Device) CreateBuffer(desc gpu.BufferDesc) (gpu.Buffer, error) {
	if err := desc.Validate(); err != nil {
		return nil, fmt.Errorf("soft: %w", err)
	}
	if d.opts.CreateBufferHook != nil {
		if err := d.opts.CreateBufferHook(desc); err != nil {
			return nil, fmt.Errorf("create buffer %q: %w", desc.Label, err)
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return nil, gpu.ErrDestroyed
	}
	d.stats.BuffersCreated++
	d.created("buffer")
	return &Buffer{dev: d, desc: desc, data: make([]byte, desc.Size)}, nil
}

// CreateFence implements gpu.Device.
func (d *Device) CreateFence(signaled bool) (gpu.Fence, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.created("fence")
	return &Fence{dev: d, signaled: signaled}, nil
}

// CreateSemaphore implements gpu.Device.
func (d *Device) CreateSemaphore() (gpu.Semaphore, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.created("semaphore")
	return &Semaphore{dev: d}, nil
}

// CreateCommandPool implements gpu.Device.
func (d *Device) CreateCommandPool() (gpu.CommandPool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.created("pool")
	return &CommandPool{dev: d}, nil
}

// GraphicsQueue implements gpu.Device.
func (d *Device) GraphicsQueue() gpu.Queue { return d.queue }

// TransferQueue implements gpu.Device. The soft device has a single queue.
func (d *Device) TransferQueue() gpu.Queue { return d.queue }

// SurfaceFormat implements gpu.Device.
func (d *Device) SurfaceFormat() gpu.Format { return d.opts.Format }

// CreateRenderPass implements gpu.Device.
func (d *Device) CreateRenderPass(desc gpu.RenderPassDesc) (gpu.RenderPass, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.created("renderpass")
	return &object{dev: d, kind: "renderpass"}, nil
}

// CreateSwapchain implements gpu.Device.
func (d *Device) CreateSwapchain(desc gpu.SwapchainDesc) (gpu.Swapchain, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if desc.Extent.Empty() {
		return nil, d.violate(fmt.Errorf("create swapchain with zero extent %dx%d", desc.Extent.Width, desc.Extent.Height))
	}
	n := d.opts.ImageCount
	if int(desc.MinImages) > n {
		n = int(desc.MinImages)
	}
	d.created("swapchain")
	return &Swapchain{dev: d, desc: desc, images: n}, nil
}

// CreateImageViews implements gpu.Device.
func (d *Device) CreateImageViews(sc gpu.Swapchain) ([]gpu.ImageView, error) {
	s, ok := sc.(*Swapchain)
	if !ok {
		return nil, fmt.Errorf("soft: foreign swapchain %T", sc)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if s.destroyed {
		return nil, d.violate(fmt.Errorf("image views of destroyed swapchain: %w", gpu.ErrDestroyed))
	}
	views := make([]gpu.ImageView, s.images)
	for i := range views {
		d.created("view")
		views[i] = &ImageView{object: object{dev: d, kind: "view"}, swapchain: s, index: i}
	}
	return views, nil
}

// CreateFramebuffer implements gpu.Device.
func (d *Device) CreateFramebuffer(rp gpu.RenderPass, view gpu.ImageView, extent gpu.Extent) (gpu.Framebuffer, error) {
	v, ok := view.(*ImageView)
	if !ok {
		return nil, fmt.Errorf("soft: foreign image view %T", view)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if v.destroyed {
		return nil, d.violate(fmt.Errorf("framebuffer over destroyed view: %w", gpu.ErrDestroyed))
	}
	d.created("framebuffer")
	return &Framebuffer{object: object{dev: d, kind: "framebuffer"}, view: v, extent: extent}, nil
}

// CreatePipeline implements gpu.Device.
func (d *Device) CreatePipeline(desc gpu.PipelineDesc) (gpu.Pipeline, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.created("pipeline")
	return &Pipeline{object: object{dev: d, kind: "pipeline"}, desc: desc}, nil
}

// CreateUniformBinding implements gpu.Device.
func (d *Device) CreateUniformBinding(p gpu.Pipeline, buf gpu.Buffer) (gpu.UniformBinding, error) {
	b, ok := buf.(*Buffer)
	if !ok {
		return nil, fmt.Errorf("soft: foreign buffer %T", buf)
	}
	if !b.desc.Usage.Has(gpu.UsageUniform) {
		return nil, fmt.Errorf("soft: buffer %q lacks uniform usage", b.desc.Label)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.created("uniform")
	return &object{dev: d, kind: "uniform"}, nil
}

// WaitIdle implements gpu.Device.
func (d *Device) WaitIdle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.WaitIdles++
	d.flushLocked(nil)
	return nil
}

// Destroy implements gpu.Device. Remaining live objects are reported as violations.
func (d *Device) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return
	}
	d.flushLocked(nil)
	d.destroyed = true
	for kind, n := range d.live {
		if n != 0 {
			d.violate(fmt.Errorf("%d %s object(s) leaked at device destroy", n, kind))
		}
	}
}

// ErrViolation is wrapped by every recorded violation.
var ErrViolation = errors.New("soft: api violation")

// object is a handle with nothing but a lifetime.
type object struct {
	dev       *Device
	kind      string
	destroyed bool
}

func (o *object) Destroy() {
	o.dev.mu.Lock()
	defer o.dev.mu.Unlock()
	if o.destroyed {
		return
	}
	o.destroyed = true
	o.dev.freed(o.kind)
}

// ImageView is one view of a swapchain image.
type ImageView struct {
	object
	swapchain *Swapchain
	index     int
}

// Framebuffer renders into one image view.
type Framebuffer struct {
	object
	view   *ImageView
	extent gpu.Extent
}

// Extent implements gpu.Framebuffer.
func (f *Framebuffer) Extent() gpu.Extent { return f.extent }

// ImageIndex returns the swapchain image this framebuffer targets.
func (f *Framebuffer) ImageIndex() int { return f.view.index }

// Pipeline holds the description it was created with.
type Pipeline struct {
	object
	desc gpu.PipelineDesc
}
