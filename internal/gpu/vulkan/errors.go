package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/Faultbox/midgard-vk/internal/gpu"
)

// mapResult converts a VkResult into nil or an error wrapping the matching
// gpu sentinel. Success-with-info codes other than Suboptimal map to nil.
func mapResult(ret vk.Result) error {
	switch ret {
	case vk.Success, vk.Incomplete:
		return nil
	case vk.Suboptimal:
		return gpu.ErrSuboptimal
	case vk.ErrorOutOfDate:
		return gpu.ErrOutOfDate
	case vk.Timeout, vk.NotReady:
		return gpu.ErrTimeout
	case vk.ErrorDeviceLost, vk.ErrorSurfaceLost:
		return fmt.Errorf("%w (%d)", gpu.ErrDeviceLost, int32(ret))
	case vk.ErrorOutOfHostMemory, vk.ErrorOutOfDeviceMemory:
		return fmt.Errorf("%w (%d)", gpu.ErrOutOfMemory, int32(ret))
	}
	if ret > 0 {
		return nil
	}
	return fmt.Errorf("vulkan: %w", vk.Error(ret))
}

// check wraps mapResult with the failing call's name.
func check(ret vk.Result, what string) error {
	if err := mapResult(ret); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}
