package syncbridge

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// dma-buf and DRM syncobj ioctl request codes, encoded the same way as
// internal/alloc/drm.go (Linux _IOWR/_IOW macros) rather than via cgo
// headers.
const (
	dmaBufBase = 'b'
	drmBase    = 'd'
)

var (
	dmaBufIoctlExportSyncFile = iowr(dmaBufBase, 2, unsafe.Sizeof(dmaBufSyncFile{}))
	dmaBufIoctlImportSyncFile = iow(dmaBufBase, 3, unsafe.Sizeof(dmaBufSyncFile{}))

	drmIoctlSyncobjCreate  = iowr(drmBase, 0xBF, unsafe.Sizeof(drmSyncobjCreate{}))
	drmIoctlSyncobjHandleToFD = iowr(drmBase, 0xC1, unsafe.Sizeof(drmSyncobjHandle{}))
	drmIoctlSyncobjFDToHandle = iowr(drmBase, 0xC2, unsafe.Sizeof(drmSyncobjHandle{}))
	drmIoctlSyncobjTransfer   = iowr(drmBase, 0xCC, unsafe.Sizeof(drmSyncobjTransfer{}))
)

const (
	iocNone  = 0
	iocWrite = 1
	iocRead  = 2

	iocNrBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocNrShift   = 0
	iocTypeShift = iocNrShift + iocNrBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits
)

func iowr(typ byte, nr byte, size uintptr) uintptr {
	return ioc(iocRead|iocWrite, typ, nr, size)
}

func iow(typ byte, nr byte, size uintptr) uintptr {
	return ioc(iocWrite, typ, nr, size)
}

func ioc(dir int, typ byte, nr byte, size uintptr) uintptr {
	return (uintptr(dir) << iocDirShift) | (uintptr(typ) << iocTypeShift) | (uintptr(nr) << iocNrShift) | (size << iocSizeShift)
}

func drmIoctl(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func dmabufIoctl(fd int, req uintptr, v *dmaBufSyncFile) error {
	return drmIoctl(fd, req, unsafe.Pointer(v))
}

// dmaBufSyncFile mirrors struct dma_buf_export_sync_file /
// dma_buf_import_sync_file, which share a layout.
type dmaBufSyncFile struct {
	Flags uint32
	FD    int32
}

const (
	dmaBufSyncRead  uint32 = 1 << 0
	dmaBufSyncWrite uint32 = 1 << 1
)

type drmSyncobjCreate struct {
	Handle uint32
	Flags  uint32
}

type drmSyncobjDestroy struct {
	Handle uint32
	Pad    uint32
}

// drmSyncobjHandle mirrors the kernel's drm_syncobj_handle, extended with
// a timeline Point field when the TIMELINE capability flag is set (spec
// §4.7).
type drmSyncobjHandle struct {
	Handle uint32
	Flags  uint32
	FD     int32
	Pad    uint32
	Point  uint64
}

const drmSyncobjFlagsTimeline uint32 = 1 << 0

type drmSyncobjTransfer struct {
	SrcHandle uint32
	DstHandle uint32
	SrcPoint  uint64
	DstPoint  uint64
	Flags     uint32
	Pad       uint32
}

// drmDeviceFD is the render-node fd the syncobj ioctls run against. A
// package-level fd works because sync-objects are only ever exchanged
// against the render node that owns the buffer's dma-buf fd, which every
// Bridge in a process shares (spec §4.3's per-context allocator owns one
// render node).
var drmDeviceFD = -1

// SetDeviceFD installs the render-node fd used for syncobj ioctls. Called
// once during stream setup once the allocator's render node is known.
func SetDeviceFD(fd int) { drmDeviceFD = fd }

// CreateSyncobj creates a new DRM sync-object on the installed device fd
// and returns its handle, for callers (e.g. internal/pool) that need to
// allocate the acquire/release timeline pair up front (spec §4.5 step 3).
func CreateSyncobj(signaled bool) (uint32, error) {
	return syncobjCreate(signaled)
}

// DestroySyncobj destroys a sync-object created by CreateSyncobj.
func DestroySyncobj(handle uint32) error {
	destroy := drmSyncobjDestroy{Handle: handle}
	return drmIoctl(drmDeviceFD, iowr(drmBase, 0xC0, unsafe.Sizeof(destroy)), unsafe.Pointer(&destroy))
}

func syncobjCreate(signaled bool) (uint32, error) {
	req := drmSyncobjCreate{}
	if signaled {
		req.Flags = 1
	}
	if err := drmIoctl(drmDeviceFD, drmIoctlSyncobjCreate, unsafe.Pointer(&req)); err != nil {
		return 0, err
	}
	return req.Handle, nil
}

func syncobjHandleToFD(handle uint32, point uint64, timeline bool) (int, error) {
	req := drmSyncobjHandle{Handle: handle, Point: point}
	if timeline {
		req.Flags = drmSyncobjFlagsTimeline
	}
	if err := drmIoctl(drmDeviceFD, drmIoctlSyncobjHandleToFD, unsafe.Pointer(&req)); err != nil {
		return -1, err
	}
	return int(req.FD), nil
}

func syncobjFDToHandle(fd int, handle uint32, point uint64, timeline bool) error {
	req := drmSyncobjHandle{Handle: handle, FD: int32(fd), Point: point}
	if timeline {
		req.Flags = drmSyncobjFlagsTimeline
	}
	return drmIoctl(drmDeviceFD, drmIoctlSyncobjFDToHandle, unsafe.Pointer(&req))
}

func syncobjTransfer(srcHandle uint32, srcPoint uint64, dstHandle uint32, dstPoint uint64) error {
	req := drmSyncobjTransfer{SrcHandle: srcHandle, SrcPoint: srcPoint, DstHandle: dstHandle, DstPoint: dstPoint}
	return drmIoctl(drmDeviceFD, drmIoctlSyncobjTransfer, unsafe.Pointer(&req))
}

// probeSyncobjTimelineSupport detects whether SYNCOBJ_HANDLE_TO_FD /
// FD_TO_HANDLE accept the TIMELINE flag on this kernel (spec §4.7). It
// does so by creating a throwaway timeline syncobj and attempting a
// TIMELINE-flagged handle-to-fd export at point 0; EINVAL means the
// kernel doesn't understand the flag.
func probeSyncobjTimelineSupport() bool {
	handle, err := syncobjCreate(false)
	if err != nil {
		return false
	}
	defer func() {
		destroy := drmSyncobjDestroy{Handle: handle}
		_ = drmIoctl(drmDeviceFD, iowr(drmBase, 0xC0, unsafe.Sizeof(destroy)), unsafe.Pointer(&destroy))
	}()

	fd, err := syncobjHandleToFD(handle, 0, true)
	if err != nil {
		return false
	}
	unix.Close(fd)
	return true
}
