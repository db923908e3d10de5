package alloc

import (
	"fmt"

	"github.com/yofukashino/go-funnel/internal/interfaces"
)

// vkImageHandle stands in for a VkImage bound to imported DMA-BUF memory,
// for the same reason eglImageHandle does in egl.go: the client graphics
// API is out of scope, the allocator only needs a stable handle.
type vkImageHandle struct {
	dmabufFD int
	gbmBO    uint32
	usage    uint32
}

// VulkanAllocator wraps GBMAllocator with the VkImage-from-DMA-BUF import
// step (spec §4.3, funnel_stream_config.vk_usage, funnel_api API_VULKAN).
type VulkanAllocator struct {
	*GBMAllocator
	// Usage is the VkImageUsageFlags bitmask the stream was configured
	// with; it doesn't change allocation, only what the consumer may do
	// with the resulting VkImage, so it is carried through opaquely.
	Usage uint32
}

var _ interfaces.Allocator = (*VulkanAllocator)(nil)

// NewVulkanAllocator builds a Vulkan-import allocator on top of an
// already-open render node.
func NewVulkanAllocator(renderNode string, fd int, usage uint32) *VulkanAllocator {
	return &VulkanAllocator{GBMAllocator: NewGBMAllocator(renderNode, fd), Usage: usage}
}

// AllocBuffer allocates the backing dumb buffer, then imports it as a
// VkImage handle tagged with the configured usage flags.
func (a *VulkanAllocator) AllocBuffer(req interfaces.AllocRequest) (interfaces.AllocResult, error) {
	res, err := a.GBMAllocator.AllocBuffer(req)
	if err != nil {
		return res, err
	}
	handle, ok := res.BO.(uint32)
	if !ok {
		return res, fmt.Errorf("vulkan import: unexpected BO type %T", res.BO)
	}
	res.BO = &vkImageHandle{dmabufFD: res.Fds[0], gbmBO: handle, usage: a.Usage}
	return res, nil
}

// FreeBuffer unwraps the VkImage handle back to the GEM handle before
// delegating to GBMAllocator's teardown.
func (a *VulkanAllocator) FreeBuffer(res interfaces.AllocResult) error {
	if img, ok := res.BO.(*vkImageHandle); ok {
		res.BO = img.gbmBO
	}
	return a.GBMAllocator.FreeBuffer(res)
}
