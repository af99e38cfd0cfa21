// Package staging moves bytes between host memory and device-local buffers
// through short-lived host-visible staging buffers.
package staging

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Faultbox/midgard-vk/internal/gpu"
	"github.com/Faultbox/midgard-vk/internal/logger"
)

// DefaultTimeout bounds the wait for a transfer to complete.
const DefaultTimeout = 10 * time.Second

// Uploader performs blocking one-shot transfers. It is meant for load-time
// data; per-frame data goes through persistently mapped buffers instead.
type Uploader struct {
	dev     gpu.Device
	pool    gpu.CommandPool
	timeout time.Duration
	log     *zap.Logger
}

// New creates an uploader with its own command pool.
func New(dev gpu.Device) (*Uploader, error) {
	pool, err := dev.CreateCommandPool()
	if err != nil {
		return nil, fmt.Errorf("staging: create command pool: %w", err)
	}
	return &Uploader{
		dev:     dev,
		pool:    pool,
		timeout: DefaultTimeout,
		log:     logger.Named("staging"),
	}, nil
}

// Upload copies data into the start of dst and blocks until the copy has
// completed on the device. dst must have transfer-destination usage.
func (u *Uploader) Upload(dst gpu.Buffer, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if uint64(len(data)) > dst.Size() {
		return fmt.Errorf("staging: %d bytes do not fit buffer of %d", len(data), dst.Size())
	}
	if !dst.Usage().Has(gpu.UsageTransferDst) {
		return fmt.Errorf("staging: destination lacks transfer-dst usage")
	}

	stage, err := u.dev.CreateBuffer(gpu.BufferDesc{
		Size:   uint64(len(data)),
		Usage:  gpu.UsageTransferSrc,
		Memory: gpu.MemoryHostVisible,
		Label:  "staging-upload",
	})
	if err != nil {
		return fmt.Errorf("staging: create staging buffer: %w", err)
	}
	defer stage.Destroy()

	mem, err := stage.Map()
	if err != nil {
		return fmt.Errorf("staging: map: %w", err)
	}
	copy(mem, data)

	err = u.submitAndWait(func(cb gpu.CommandBuffer) {
		cb.CopyBuffer(stage, dst, gpu.CopyRegion{Size: uint64(len(data))})
		cb.BufferBarrier(dst)
	})
	if err != nil {
		return err
	}

	u.log.Debug("upload complete", zap.Int("bytes", len(data)))
	return nil
}

// Download reads the first size bytes of src back to host memory. src must
// have transfer-source usage.
func (u *Uploader) Download(src gpu.Buffer, size uint64) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	if size > src.Size() {
		return nil, fmt.Errorf("staging: read %d bytes from buffer of %d", size, src.Size())
	}
	if !src.Usage().Has(gpu.UsageTransferSrc) {
		return nil, fmt.Errorf("staging: source lacks transfer-src usage")
	}

	stage, err := u.dev.CreateBuffer(gpu.BufferDesc{
		Size:   size,
		Usage:  gpu.UsageTransferDst,
		Memory: gpu.MemoryHostVisible,
		Label:  "staging-readback",
	})
	if err != nil {
		return nil, fmt.Errorf("staging: create readback buffer: %w", err)
	}
	defer stage.Destroy()

	err = u.submitAndWait(func(cb gpu.CommandBuffer) {
		cb.CopyBuffer(src, stage, gpu.CopyRegion{Size: size})
	})
	if err != nil {
		return nil, err
	}

	mem, err := stage.Map()
	if err != nil {
		return nil, fmt.Errorf("staging: map readback: %w", err)
	}
	return append([]byte(nil), mem[:size]...), nil
}

// submitAndWait records a one-time command buffer, submits it to the transfer
// queue and waits on a fence for it to complete.
func (u *Uploader) submitAndWait(record func(cb gpu.CommandBuffer)) error {
	cbs, err := u.pool.Allocate(1)
	if err != nil {
		return fmt.Errorf("staging: allocate command buffer: %w", err)
	}
	cb := cbs[0]
	defer u.pool.Free(cb)

	if err := cb.Begin(true); err != nil {
		return fmt.Errorf("staging: begin: %w", err)
	}
	record(cb)
	if err := cb.End(); err != nil {
		return fmt.Errorf("staging: end: %w", err)
	}

	fence, err := u.dev.CreateFence(false)
	if err != nil {
		return fmt.Errorf("staging: create fence: %w", err)
	}
	defer fence.Destroy()

	q := u.dev.TransferQueue()
	if err := q.Submit(gpu.SubmitInfo{CommandBuffers: []gpu.CommandBuffer{cb}, Fence: fence}); err != nil {
		return fmt.Errorf("staging: submit: %w", err)
	}
	if err := fence.Wait(u.timeout); err != nil {
		// The copy may still reference the staging buffer.
		_ = q.WaitIdle()
		return fmt.Errorf("staging: wait: %w", err)
	}
	return nil
}

// Destroy releases the command pool.
func (u *Uploader) Destroy() {
	if u.pool != nil {
		u.pool.Destroy()
		u.pool = nil
	}
}
