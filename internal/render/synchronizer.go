// Package render drives frames through the GPU: swapchain image acquisition,
// command recording, submission and presentation, with a fixed number of
// frames allowed in flight.
package render

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Faultbox/midgard-vk/internal/gpu"
	"github.com/Faultbox/midgard-vk/internal/logger"
)

// ErrFrameLoop wraps every error that must end the frame loop.
var ErrFrameLoop = errors.New("render: frame loop failed")

// DefaultFramesInFlight is used when Config.FramesInFlight is zero.
const DefaultFramesInFlight = 2

// Config configures a Synchronizer.
type Config struct {
	FramesInFlight int
	// UniformSize is the size of each slot's persistently mapped uniform
	// buffer. Zero disables per-slot uniforms.
	UniformSize    uint64
	AcquireTimeout time.Duration
	FenceTimeout   time.Duration
}

// Frame is what a record callback gets to work with. Everything in it
// belongs to the current slot and must not be retained past the callback.
type Frame struct {
	Slot          int
	Number        uint64
	ImageIndex    uint32
	CommandBuffer gpu.CommandBuffer
	Framebuffer   gpu.Framebuffer
	Extent        gpu.Extent
	// Uniforms is the slot's mapped uniform memory. The GPU is done with it.
	Uniforms []byte
}

// RecordFunc records one frame's commands between Begin and End.
type RecordFunc func(f *Frame) error

// Stats counts synchronizer activity.
type Stats struct {
	Frames     uint64 // frames submitted
	Skipped    uint64 // iterations skipped by a stale or timed out acquire
	Rebuilds   int
	Deferred   int // releases still waiting
	FenceWaits uint64
}

type frameSlot struct {
	cb             gpu.CommandBuffer
	imageAvailable gpu.Semaphore
	renderFinished gpu.Semaphore
	inFlight       gpu.Fence
	uniform        gpu.Buffer
	mapped         []byte
	state          FrameState
}

type deferred struct {
	after uint64 // run once this many frames have been started
	fn    func()
}

// Synchronizer runs the per-frame state machine over K frame slots.
//
// Slot f's command buffer, semaphores, fence and uniform memory are touched
// only by iterations running on slot f, and only after slot f's fence shows
// the GPU finished the previous frame that used them.
type Synchronizer struct {
	dev        gpu.Device
	queue      gpu.Queue
	swapchains *SwapchainManager
	cfg        Config
	log        *zap.Logger

	pool     gpu.CommandPool
	slots    []frameSlot
	current  int
	frame    uint64
	resized  bool
	deferred []deferred
	stats    Stats

	destroyed bool
}

// NewSynchronizer creates the per-slot command buffers, sync objects and
// uniform buffers. Fences start signaled so the first wait on each slot returns.
func NewSynchronizer(dev gpu.Device, swapchains *SwapchainManager, cfg Config) (*Synchronizer, error) {
	if cfg.FramesInFlight == 0 {
		cfg.FramesInFlight = DefaultFramesInFlight
	}
	if cfg.FramesInFlight < 0 {
		return nil, fmt.Errorf("render: %d frames in flight", cfg.FramesInFlight)
	}
	if cfg.AcquireTimeout == 0 {
		cfg.AcquireTimeout = time.Second
	}
	if cfg.FenceTimeout == 0 {
		cfg.FenceTimeout = 5 * time.Second
	}

	s := &Synchronizer{
		dev:        dev,
		queue:      dev.GraphicsQueue(),
		swapchains: swapchains,
		cfg:        cfg,
		log:        logger.Named("render"),
	}
	if err := s.init(); err != nil {
		s.Destroy()
		return nil, fmt.Errorf("render: create frame slots: %w", err)
	}
	s.log.Info("frame synchronizer ready", zap.Int("frames_in_flight", cfg.FramesInFlight))
	return s, nil
}

func (s *Synchronizer) init() error {
	var err error
	if s.pool, err = s.dev.CreateCommandPool(); err != nil {
		return err
	}
	cbs, err := s.pool.Allocate(s.cfg.FramesInFlight)
	if err != nil {
		return err
	}

	s.slots = make([]frameSlot, s.cfg.FramesInFlight)
	for i := range s.slots {
		slot := &s.slots[i]
		slot.cb = cbs[i]
		if slot.imageAvailable, err = s.dev.CreateSemaphore(); err != nil {
			return err
		}
		if slot.renderFinished, err = s.dev.CreateSemaphore(); err != nil {
			return err
		}
		if slot.inFlight, err = s.dev.CreateFence(true); err != nil {
			return err
		}
		if s.cfg.UniformSize == 0 {
			continue
		}
		slot.uniform, err = s.dev.CreateBuffer(gpu.BufferDesc{
			Size:   s.cfg.UniformSize,
			Usage:  gpu.UsageUniform,
			Memory: gpu.MemoryHostVisible,
			Label:  fmt.Sprintf("frame-uniforms-%d", i),
		})
		if err != nil {
			return err
		}
		if slot.mapped, err = slot.uniform.Map(); err != nil {
			return err
		}
	}
	return nil
}

// DrawFrame runs one iteration of the frame loop on the current slot.
//
// A stale or timed out acquire triggers a rebuild when needed and returns nil
// without recording. Staleness reported by present, or a resize flagged with
// MarkResized, rebuilds the swapchain after presenting. The slot advances after
// every submission whatever present returned. Any other failure wraps
// ErrFrameLoop.
func (s *Synchronizer) DrawFrame(record RecordFunc) error {
	if s.destroyed {
		return fmt.Errorf("%w: %w", ErrFrameLoop, gpu.ErrDestroyed)
	}
	slot := &s.slots[s.current]

	// Idle -> Acquiring
	slot.state = StateAcquiring
	s.stats.FenceWaits++
	if err := slot.inFlight.Wait(s.cfg.FenceTimeout); err != nil {
		slot.state = StateIdle
		return s.fatal("wait for frame fence", err)
	}
	s.runDeferred()

	imageIndex, err := s.swapchains.Acquire(s.cfg.AcquireTimeout, slot.imageAvailable)
	switch {
	case errors.Is(err, gpu.ErrOutOfDate):
		slot.state = StateIdle
		s.stats.Skipped++
		s.log.Debug("acquire reported stale swapchain", zap.Int("slot", s.current))
		if err := s.rebuild(); err != nil {
			return err
		}
		return nil
	case errors.Is(err, gpu.ErrTimeout):
		slot.state = StateIdle
		s.stats.Skipped++
		s.log.Warn("acquire timed out", zap.Duration("timeout", s.cfg.AcquireTimeout))
		return nil
	case errors.Is(err, gpu.ErrSuboptimal):
		// The image is usable; rebuild once it has been presented.
		s.resized = true
	case err != nil:
		slot.state = StateIdle
		return s.fatal("acquire image", err)
	}

	// Acquiring -> Recording. Work is now certain to be submitted, so the
	// fence can be reset without risking a wait that never returns.
	if err := slot.inFlight.Reset(); err != nil {
		return s.fatal("reset frame fence", err)
	}
	slot.state = StateRecording
	if err := s.record(slot, imageIndex, record); err != nil {
		return err
	}

	// Recording -> Submitted
	err = s.queue.Submit(gpu.SubmitInfo{
		CommandBuffers: []gpu.CommandBuffer{slot.cb},
		Waits: []gpu.SemaphoreWait{{
			Semaphore: slot.imageAvailable,
			Stage:     gpu.StageColorAttachmentOutput,
		}},
		Signals: []gpu.Semaphore{slot.renderFinished},
		Fence:   slot.inFlight,
	})
	if err != nil {
		return s.fatal("submit frame", err)
	}
	slot.state = StateSubmitted

	// Submitted -> Presenting
	slot.state = StatePresenting
	presentErr := s.queue.Present(gpu.PresentInfo{
		Waits:      []gpu.Semaphore{slot.renderFinished},
		Swapchain:  s.swapchains.Swapchain(),
		ImageIndex: imageIndex,
	})

	// Presenting -> Idle
	slot.state = StateIdle
	s.current = (s.current + 1) % len(s.slots)
	s.frame++
	s.stats.Frames++

	if presentErr != nil && !gpu.IsStale(presentErr) {
		return s.fatal("present", presentErr)
	}
	if gpu.IsStale(presentErr) || s.resized {
		return s.rebuild()
	}
	return nil
}

func (s *Synchronizer) record(slot *frameSlot, imageIndex uint32, record RecordFunc) error {
	cb := slot.cb
	if err := cb.Reset(); err != nil {
		return s.fatal("reset command buffer", err)
	}
	if err := cb.Begin(false); err != nil {
		return s.fatal("begin command buffer", err)
	}
	f := &Frame{
		Slot:          s.current,
		Number:        s.frame,
		ImageIndex:    imageIndex,
		CommandBuffer: cb,
		Framebuffer:   s.swapchains.Framebuffer(imageIndex),
		Extent:        s.swapchains.Extent(),
		Uniforms:      slot.mapped,
	}
	if record != nil {
		if err := record(f); err != nil {
			return s.fatal("record frame", err)
		}
	}
	if err := cb.End(); err != nil {
		return s.fatal("end command buffer", err)
	}
	return nil
}

func (s *Synchronizer) rebuild() error {
	s.resized = false
	if err := s.swapchains.Rebuild(); err != nil {
		if errors.Is(err, gpu.ErrSurfaceClosed) {
			return fmt.Errorf("%w: %w", ErrFrameLoop, err)
		}
		return s.fatal("rebuild swapchain", err)
	}
	return nil
}

func (s *Synchronizer) fatal(step string, err error) error {
	s.log.Error("frame loop failure", zap.String("step", step), zap.Int("slot", s.current), zap.Error(err))
	return fmt.Errorf("%w: %s: %w", ErrFrameLoop, step, err)
}

// MarkResized requests a swapchain rebuild after the next present.
func (s *Synchronizer) MarkResized() { s.resized = true }

// Defer runs fn once every frame recorded so far, including one being
// recorded now, has completed on the GPU. It is how resources those frames
// may read are released.
func (s *Synchronizer) Defer(fn func()) {
	s.deferred = append(s.deferred, deferred{
		after: s.frame + uint64(len(s.slots)),
		fn:    fn,
	})
}

// runDeferred runs releases whose frames are complete. It is called right
// after the current slot's fence wait: having started frame F and waited on
// its slot, frames up to F-K are done.
func (s *Synchronizer) runDeferred() {
	kept := s.deferred[:0]
	var due []func()
	for _, d := range s.deferred {
		if s.frame >= d.after {
			due = append(due, d.fn)
		} else {
			kept = append(kept, d)
		}
	}
	s.deferred = kept
	for _, fn := range due {
		fn()
	}
}

// WaitIdle blocks until the device is idle and runs every pending release,
// including releases deferred by the ones it runs.
func (s *Synchronizer) WaitIdle() error {
	if err := s.dev.WaitIdle(); err != nil {
		return err
	}
	for len(s.deferred) > 0 {
		pending := s.deferred
		s.deferred = nil
		for _, d := range pending {
			d.fn()
		}
	}
	return nil
}

// State returns the state of a slot.
func (s *Synchronizer) State(slot int) FrameState { return s.slots[slot].state }

// Current returns the slot the next DrawFrame will use.
func (s *Synchronizer) Current() int { return s.current }

// FramesInFlight returns the number of slots.
func (s *Synchronizer) FramesInFlight() int { return len(s.slots) }

// UniformBuffer returns a slot's uniform buffer, nil when uniforms are disabled.
func (s *Synchronizer) UniformBuffer(slot int) gpu.Buffer { return s.slots[slot].uniform }

// Stats returns counters.
func (s *Synchronizer) Stats() Stats {
	st := s.stats
	st.Rebuilds = s.swapchains.Rebuilds()
	st.Deferred = len(s.deferred)
	return st
}

// Destroy waits for the device, runs pending releases and frees every slot
// resource. It is safe on a partially created synchronizer.
func (s *Synchronizer) Destroy() {
	if s.destroyed {
		return
	}
	s.destroyed = true
	if err := s.WaitIdle(); err != nil {
		s.log.Warn("wait idle before destroy", zap.Error(err))
	}
	for i := range s.slots {
		slot := &s.slots[i]
		if slot.inFlight != nil {
			slot.inFlight.Destroy()
		}
		if slot.imageAvailable != nil {
			slot.imageAvailable.Destroy()
		}
		if slot.renderFinished != nil {
			slot.renderFinished.Destroy()
		}
		if slot.uniform != nil {
			slot.uniform.Destroy()
		}
		if slot.cb != nil && s.pool != nil {
			s.pool.Free(slot.cb)
		}
	}
	s.slots = nil
	if s.pool != nil {
		s.pool.Destroy()
		s.pool = nil
	}
}
