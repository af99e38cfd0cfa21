package gpu

import "errors"

// Swapchain staleness. Both are recoverable by rebuilding the swapchain.
var (
	ErrOutOfDate  = errors.New("gpu: swapchain out of date")
	ErrSuboptimal = errors.New("gpu: swapchain suboptimal")
)

// Device and resource failures.
var (
	ErrTimeout       = errors.New("gpu: timeout")
	ErrDeviceLost    = errors.New("gpu: device lost")
	ErrOutOfMemory   = errors.New("gpu: out of memory")
	ErrDestroyed     = errors.New("gpu: resource destroyed")
	ErrNotMappable   = errors.New("gpu: buffer memory is not host visible")
	ErrInUse         = errors.New("gpu: resource still in use by the device")
	ErrUnsupported   = errors.New("gpu: unsupported")
	ErrInvalidBuffer = errors.New("gpu: invalid buffer description")
	ErrSurfaceClosed = errors.New("gpu: surface closed")
)

// IsStale reports whether err means the swapchain no longer matches the surface.
func IsStale(err error) bool {
	return errors.Is(err, ErrOutOfDate) || errors.Is(err, ErrSuboptimal)
}
