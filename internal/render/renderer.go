package render

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"

	"github.com/Faultbox/midgard-vk/internal/gpu"
	"github.com/Faultbox/midgard-vk/internal/logger"
	"github.com/Faultbox/midgard-vk/internal/scene"
)

// UniformSize is the per-frame uniform block: view-projection matrix followed
// by the eye position padded to a vec4.
const UniformSize = 64 + 16

// FrameUniforms is the per-frame uniform block.
type FrameUniforms struct {
	ViewProj mgl32.Mat4
	Eye      mgl32.Vec3
}

// Put encodes u into dst in place. dst must hold UniformSize bytes.
func (u FrameUniforms) Put(dst []byte) {
	buf := gpu.AppendMat4(dst[:0], u.ViewProj)
	for _, f := range [4]float32{u.Eye[0], u.Eye[1], u.Eye[2], 1} {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(f))
	}
}

// RendererConfig configures a Renderer.
type RendererConfig struct {
	FramesInFlight int
	ClearColor     [4]float32
	VertexShader   []byte
	FragmentShader []byte
	PresentMode    gpu.PresentMode
	AcquireTimeout time.Duration
}

type draw struct {
	model     *scene.Model
	transform mgl32.Mat4
}

// Renderer draws submitted models each frame. It owns the render pass and
// pipeline, which outlive swapchain rebuilds.
type Renderer struct {
	dev        gpu.Device
	cfg        RendererConfig
	log        *zap.Logger
	pass       gpu.RenderPass
	pipeline   gpu.Pipeline
	swapchains *SwapchainManager
	sync       *Synchronizer
	uniforms   []gpu.UniformBinding

	draws     []draw
	drawCalls int
}

// NewRenderer builds the pipeline objects, swapchain and frame slots.
func NewRenderer(dev gpu.Device, surface gpu.Surface, cfg RendererConfig) (r *Renderer, err error) {
	r = &Renderer{dev: dev, cfg: cfg, log: logger.Named("render")}
	defer func() {
		if err != nil {
			r.Destroy()
			r = nil
		}
	}()

	r.pass, err = dev.CreateRenderPass(gpu.RenderPassDesc{ColorFormat: dev.SurfaceFormat(), Depth: true})
	if err != nil {
		return nil, fmt.Errorf("render: create render pass: %w", err)
	}
	r.pipeline, err = dev.CreatePipeline(gpu.PipelineDesc{
		RenderPass:       r.pass,
		VertexShader:     cfg.VertexShader,
		FragmentShader:   cfg.FragmentShader,
		VertexStride:     scene.VertexSize,
		Attributes:       scene.VertexLayout(),
		PushConstantSize: gpu.PushConstantSize,
		UniformSize:      UniformSize,
	})
	if err != nil {
		return nil, fmt.Errorf("render: create pipeline: %w", err)
	}
	r.swapchains, err = NewSwapchainManager(dev, surface, r.pass, SwapchainConfig{PresentMode: cfg.PresentMode})
	if err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	r.sync, err = NewSynchronizer(dev, r.swapchains, Config{
		FramesInFlight: cfg.FramesInFlight,
		UniformSize:    UniformSize,
		AcquireTimeout: cfg.AcquireTimeout,
	})
	if err != nil {
		return nil, err
	}
	for i := 0; i < r.sync.FramesInFlight(); i++ {
		u, err := dev.CreateUniformBinding(r.pipeline, r.sync.UniformBuffer(i))
		if err != nil {
			return nil, fmt.Errorf("render: uniform binding %d: %w", i, err)
		}
		r.uniforms = append(r.uniforms, u)
	}

	r.log.Info("renderer created",
		zap.String("device", dev.Name()),
		zap.Int("images", r.swapchains.ImageCount()),
		zap.Int("frames_in_flight", r.sync.FramesInFlight()))
	return r, nil
}

// Submit queues a model for the next frame. The renderer holds a reference
// until the GPU is done with that frame.
func (r *Renderer) Submit(model *scene.Model, transform mgl32.Mat4) {
	r.draws = append(r.draws, draw{model: model.Retain(), transform: transform})
}

// Frame records and presents the queued draws, then clears the queue. Draws
// queued for a frame that was skipped by a stale swapchain are dropped.
func (r *Renderer) Frame(u FrameUniforms) error {
	err := r.sync.DrawFrame(func(f *Frame) error {
		if len(f.Uniforms) >= UniformSize {
			u.Put(f.Uniforms)
		}
		r.record(f)
		return nil
	})

	for _, d := range r.draws {
		r.sync.Defer(d.model.Release)
	}
	r.draws = r.draws[:0]
	return err
}

func (r *Renderer) record(f *Frame) {
	cb := f.CommandBuffer
	cb.BeginRenderPass(r.pass, f.Framebuffer, gpu.ClearValues{Color: r.cfg.ClearColor, Depth: 1})
	cb.SetViewport(gpu.Viewport{Width: float32(f.Extent.Width), Height: float32(f.Extent.Height)})
	cb.BindPipeline(r.pipeline)
	cb.BindUniforms(r.uniforms[f.Slot])

	for _, d := range r.draws {
		m := d.model
		if !m.Initialized() || m.Destroyed() || m.IndexCount() == 0 {
			continue
		}
		cb.BindVertexBuffer(m.VertexBuffer(), 0)
		cb.BindIndexBuffer(m.IndexBuffer(), 0, gpu.IndexUint16)

		meshes := m.Meshes()
		for k, rg := range m.Ranges() {
			if rg.Empty() {
				continue
			}
			world := d.transform.Mul4(meshes[k].Transform)
			pc := gpu.PushConstants{Model: world, Inverse: world.Inv()}
			cb.PushConstants(r.pipeline, gpu.ShaderVertex, 0, pc.Bytes())
			cb.DrawIndexed(rg.IndexCount, 1, rg.IndexOffset, int32(rg.VertexOffset), 0)
			r.drawCalls++
		}
	}
	cb.EndRenderPass()
}

// Resize flags the swapchain for a rebuild after the next present.
func (r *Renderer) Resize() { r.sync.MarkResized() }

// Extent returns the current swapchain extent.
func (r *Renderer) Extent() gpu.Extent { return r.swapchains.Extent() }

// Retirer returns the frame-aware release queue, for use as a scene.Retirer.
func (r *Renderer) Retirer() scene.Retirer { return r.sync }

// Stats returns synchronizer counters.
func (r *Renderer) Stats() Stats { return r.sync.Stats() }

// DrawCalls returns the number of draw calls recorded so far.
func (r *Renderer) DrawCalls() int { return r.drawCalls }

// WaitIdle blocks until the GPU has finished all submitted frames.
func (r *Renderer) WaitIdle() error {
	if r.sync == nil {
		return r.dev.WaitIdle()
	}
	return r.sync.WaitIdle()
}

// Destroy releases everything the renderer created, after the device is idle.
func (r *Renderer) Destroy() {
	for _, d := range r.draws {
		d.model.Release()
	}
	r.draws = nil
	if r.sync != nil {
		r.sync.Destroy()
		r.sync = nil
	} else {
		_ = r.dev.WaitIdle()
	}
	for _, u := range r.uniforms {
		u.Destroy()
	}
	r.uniforms = nil
	if r.swapchains != nil {
		r.swapchains.Destroy()
		r.swapchains = nil
	}
	if r.pipeline != nil {
		r.pipeline.Destroy()
		r.pipeline = nil
	}
	if r.pass != nil {
		r.pass.Destroy()
		r.pass = nil
	}
}
