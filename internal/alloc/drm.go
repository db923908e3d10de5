// Package alloc implements the buffer allocators behind a stream (spec
// §4.3): dumb-buffer DRM allocation as the common base, with EGL and Vulkan
// variants layered on top for the import paths those APIs need. Grounded on
// the ioctl-marshalling style of internal/ctrl/control.go, but talking to
// the DRM render node directly via golang.org/x/sys/unix rather than the
// teacher's io_uring ring.
package alloc

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/yofukashino/go-funnel/internal/interfaces"
)

// ioctl request codes for the subset of the DRM uapi this allocator needs.
// Values mirror DRM_IOCTL_MODE_CREATE_DUMB, DRM_IOCTL_MODE_MAP_DUMB,
// DRM_IOCTL_MODE_DESTROY_DUMB and DRM_IOCTL_PRIME_HANDLE_TO_FD from
// <drm/drm.h> / <drm/drm_mode.h>.
const drmIoctlBase = 'd'

// ioctl request codes are computed at init time (not const) because Go's
// constant expressions can't call iowr's shift math over unsafe.Sizeof.
var (
	drmIoctlModeCreateDumb  = iowr(drmIoctlBase, 0xB2, unsafe.Sizeof(drmModeCreateDumb{}))
	drmIoctlModeMapDumb     = iowr(drmIoctlBase, 0xB3, unsafe.Sizeof(drmModeMapDumb{}))
	drmIoctlModeDestroyDumb = iowr(drmIoctlBase, 0xB4, unsafe.Sizeof(drmModeDestroyDumb{}))
	drmIoctlPrimeHandleToFD = iowr(drmIoctlBase, 0x2D, unsafe.Sizeof(drmPrimeHandle{}))
)

const (
	iocNone  = 0
	iocWrite = 1
	iocRead  = 2

	iocNrBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14
	iocDirBits  = 2

	iocNrShift   = 0
	iocTypeShift = iocNrShift + iocNrBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits
)

// iowr reproduces the Linux _IOWR(type, nr, size) macro so the ioctl
// numbers above match what the kernel driver expects without depending on
// cgo-generated headers.
func iowr(typ byte, nr byte, size uintptr) uintptr {
	dir := uintptr(iocRead | iocWrite)
	return (dir << iocDirShift) | (uintptr(typ) << iocTypeShift) | (uintptr(nr) << iocNrShift) | (size << iocSizeShift)
}

type drmModeCreateDumb struct {
	Height uint32
	Width  uint32
	BPP    uint32
	Flags  uint32

	Handle uint32
	Pitch  uint32
	Size   uint64
}

type drmModeMapDumb struct {
	Handle uint32
	Pad    uint32
	Offset uint64
}

type drmModeDestroyDumb struct {
	Handle uint32
}

type drmPrimeHandle struct {
	Handle uint32
	Flags  uint32
	FD     int32
}

func drmIoctl(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// bytesPerPixel is fixed at 4 for every format this library supports
// (spec §6: 8-bit-per-channel RGB/RGBA variants only).
const bytesPerPixel = 4

// GBMAllocator is the base DMA-BUF allocator: it talks to a single DRM
// render node using dumb-buffer ioctls and exports GEM handles as DMA-BUF
// file descriptors via PRIME. EGLAllocator and VulkanAllocator embed it and
// add their own import step on top of the same underlying buffer.
type GBMAllocator struct {
	renderNodeFD int
	renderNode   string
}

var _ interfaces.Allocator = (*GBMAllocator)(nil)

// NewGBMAllocator takes ownership of an already-opened render node fd
// (see DiscoverRenderNode).
func NewGBMAllocator(renderNode string, fd int) *GBMAllocator {
	return &GBMAllocator{renderNodeFD: fd, renderNode: renderNode}
}

// AllocBuffer creates a linear dumb buffer sized for req and exports it as
// a DMA-BUF fd (spec §4.3 "alloc_buffer").
func (a *GBMAllocator) AllocBuffer(req interfaces.AllocRequest) (interfaces.AllocResult, error) {
	create := drmModeCreateDumb{
		Height: req.Height,
		Width:  req.Width,
		BPP:    bytesPerPixel * 8,
	}
	if err := drmIoctl(a.renderNodeFD, drmIoctlModeCreateDumb, unsafe.Pointer(&create)); err != nil {
		return interfaces.AllocResult{}, fmt.Errorf("create dumb buffer on %s: %w", a.renderNode, err)
	}

	prime := drmPrimeHandle{Handle: create.Handle}
	if err := drmIoctl(a.renderNodeFD, drmIoctlPrimeHandleToFD, unsafe.Pointer(&prime)); err != nil {
		a.destroyHandle(create.Handle)
		return interfaces.AllocResult{}, fmt.Errorf("export dumb buffer as dma-buf: %w", err)
	}

	res := interfaces.AllocResult{
		Width:      req.Width,
		Height:     req.Height,
		PlaneCount: 1,
		Modifier:   0, // linear; non-linear tiling is a GBM-internal detail the spec doesn't surface over dumb buffers
		BO:         create.Handle,
	}
	res.Strides[0] = create.Pitch
	res.Fds[0] = int(prime.FD)
	return res, nil
}

func (a *GBMAllocator) destroyHandle(handle uint32) {
	destroy := drmModeDestroyDumb{Handle: handle}
	_ = drmIoctl(a.renderNodeFD, drmIoctlModeDestroyDumb, unsafe.Pointer(&destroy))
}

// FreeBuffer closes the DMA-BUF fds and then destroys the backing GEM
// handle; the GEM handle owns the pages, so it outlives every fd view.
func (a *GBMAllocator) FreeBuffer(res interfaces.AllocResult) error {
	for i, fd := range res.Fds {
		if fd <= 0 {
			continue
		}
		if err := unix.Close(fd); err != nil {
			return fmt.Errorf("close dma-buf fd[%d]: %w", i, err)
		}
	}
	if handle, ok := res.BO.(uint32); ok {
		a.destroyHandle(handle)
	}
	return nil
}

// EnqueueBuffer is a no-op for the base allocator: handing the buffer to
// the transport is the pool's job, not the allocator's (spec §4.3/§4.5).
func (a *GBMAllocator) EnqueueBuffer(res interfaces.AllocResult) error {
	return nil
}

// Destroy closes the render node fd.
func (a *GBMAllocator) Destroy() error {
	if a.renderNodeFD < 0 {
		return nil
	}
	fd := a.renderNodeFD
	a.renderNodeFD = -1
	return unix.Close(fd)
}
