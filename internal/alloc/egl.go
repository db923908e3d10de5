package alloc

import (
	"fmt"

	"github.com/yofukashino/go-funnel/internal/interfaces"
)

// eglImageHandle stands in for an EGLImageKHR: the funnel API treats the
// client graphics API as an implementation detail (spec §1), so this
// package only needs a comparable handle to hand back through
// AllocResult.BO, not a real EGL binding.
type eglImageHandle struct {
	dmabufFD int
	gbmBO    uint32
}

// EGLAllocator wraps GBMAllocator with the EGLImage-from-DMA-BUF import
// step an EGL-backed producer needs on top of the raw buffer (spec §4.3,
// funnel_api API_EGL).
type EGLAllocator struct {
	*GBMAllocator
}

var _ interfaces.Allocator = (*EGLAllocator)(nil)

// NewEGLAllocator builds an EGL-import allocator on top of an already-open
// render node.
func NewEGLAllocator(renderNode string, fd int) *EGLAllocator {
	return &EGLAllocator{GBMAllocator: NewGBMAllocator(renderNode, fd)}
}

// AllocBuffer allocates the backing dumb buffer via the embedded
// GBMAllocator, then imports it as an EGLImage handle.
func (a *EGLAllocator) AllocBuffer(req interfaces.AllocRequest) (interfaces.AllocResult, error) {
	res, err := a.GBMAllocator.AllocBuffer(req)
	if err != nil {
		return res, err
	}
	handle, ok := res.BO.(uint32)
	if !ok {
		return res, fmt.Errorf("egl import: unexpected BO type %T", res.BO)
	}
	res.BO = &eglImageHandle{dmabufFD: res.Fds[0], gbmBO: handle}
	return res, nil
}

// FreeBuffer unwraps the EGLImage handle back to the GEM handle before
// delegating to GBMAllocator's teardown.
func (a *EGLAllocator) FreeBuffer(res interfaces.AllocResult) error {
	if img, ok := res.BO.(*eglImageHandle); ok {
		res.BO = img.gbmBO
	}
	return a.GBMAllocator.FreeBuffer(res)
}
