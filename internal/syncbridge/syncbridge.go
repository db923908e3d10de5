// Package syncbridge implements the per-buffer fence bridge from spec
// §4.7: translating between a single sync-file fd and a (handle, point)
// timeline sync-object pair, with a dummy-binary-syncobj fallback for
// kernels that reject TIMELINE flags on the syncobj handle/fd conversion
// ioctls.
package syncbridge

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// SyncPoint is a timeline sync-object position (spec §3 "Sync point").
type SyncPoint struct {
	Handle  uint32
	Point   uint64
	Queried bool
}

// direction distinguishes the acquire and release fences of one buffer.
type direction int

const (
	directionAcquire direction = iota
	directionRelease
)

// Bridge tracks one buffer's acquire/release fence state (spec §4.7).
// BackendSync mirrors funnel_buffer.backend_sync: when true the dma-buf's
// implicit fences are not touched because the backend already supplies
// explicit sync.
type Bridge struct {
	mu sync.Mutex

	DmabufFD    int
	BackendSync bool

	acquire          SyncPoint
	release          SyncPoint
	releaseFileSet   bool
	acquireFileQueried bool

	// timelineCapable caches whether SYNCOBJ_*_TO_* ioctls accept
	// TIMELINE flags on this kernel (spec §4.7 "cross-kernel
	// compatibility"). nil means not yet probed.
	timelineCapable *bool
	dummySyncobj    uint32
}

// NewBridge returns a Bridge for a buffer backed by dmabufFD. The acquire
// and release sync-objects, if style-(B) access is used, must be supplied
// by the caller via SetSyncObjects once allocated (spec §4.5 step 3).
func NewBridge(dmabufFD uint32, backendSync bool) *Bridge {
	return &Bridge{DmabufFD: int(dmabufFD), BackendSync: backendSync}
}

// SetSyncObjects installs the acquire/release timeline handles created
// when frontend_sync buffers are allocated (spec §4.5 step 3).
func (b *Bridge) SetSyncObjects(acquireHandle, releaseHandle uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.acquire = SyncPoint{Handle: acquireHandle}
	b.release = SyncPoint{Handle: releaseHandle}
}

// GetAcquireSyncObject implements spec §4.7's get_acquire_sync_object for
// style-(B) producers.
func (b *Bridge) GetAcquireSyncObject() (SyncPoint, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.BackendSync {
		if err := b.exportImplicitReadFenceToTimelineLocked(); err != nil {
			return SyncPoint{}, err
		}
	}
	b.acquire.Queried = true
	return b.acquire, nil
}

// GetReleaseSyncObject implements spec §4.7's get_release_sync_object.
func (b *Bridge) GetReleaseSyncObject() (SyncPoint, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.releaseFileSet {
		return SyncPoint{}, fmt.Errorf("release sync-file already supplied for this buffer")
	}
	b.release.Queried = true
	return b.release, nil
}

// GetAcquireSyncFile implements spec §4.7's get_acquire_sync_file for
// style-(A) producers, returning an owned fd.
func (b *Bridge) GetAcquireSyncFile() (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.acquireFileQueried = true
	if !b.BackendSync {
		return b.exportImplicitReadFenceLocked()
	}
	return b.waitAndExportTimelineLocked(b.acquire)
}

// SetReleaseSyncFile implements spec §4.7's set_release_sync_file for
// style-(A) producers. fd is borrowed: it is imported, not closed, and the
// caller keeps ownership of it.
func (b *Bridge) SetReleaseSyncFile(fd int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.releaseFileSet = true
	if !b.BackendSync {
		return b.importIntoImplicitWriteFenceLocked(fd)
	}
	return b.importIntoTimelineLocked(fd, &b.release)
}

// SyncobjHandles returns the acquire and release sync-object handles, for
// teardown callers that don't otherwise track them.
func (b *Bridge) SyncobjHandles() (acquire, release uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.acquire.Handle, b.release.Handle
}

// QueriedBothDirections reports whether acquire and release have each been
// queried at least once, the enqueue precondition for frontend_sync
// buffers (spec §4.6 enqueue step 1).
func (b *Bridge) QueriedBothDirections() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return (b.acquire.Queried || b.acquireFileQueried) && (b.release.Queried || b.releaseFileSet)
}

// --- implicit-fence <-> sync-file plumbing -------------------------------

// exportImplicitReadFenceToTimelineLocked exports the dma-buf's read-side
// implicit fence as a sync-file, imports it into the acquire timeline at
// the current point, and advances the point (spec §4.7 invariant:
// "acquire.point strictly increases").
func (b *Bridge) exportImplicitReadFenceToTimelineLocked() error {
	fd, err := b.exportImplicitReadFenceLocked()
	if err != nil {
		return err
	}
	defer unix.Close(fd)

	if err := b.importIntoTimelineLocked(fd, &b.acquire); err != nil {
		return err
	}
	b.acquire.Point++
	return nil
}

// exportImplicitReadFenceLocked exports the dma-buf's DMA_BUF_IOCTL_EXPORT_SYNC_FILE
// read-side fence as an owned fd.
func (b *Bridge) exportImplicitReadFenceLocked() (int, error) {
	req := dmaBufSyncFile{Flags: dmaBufSyncRead, FD: -1}
	if err := dmabufIoctl(b.DmabufFD, dmaBufIoctlExportSyncFile, &req); err != nil {
		return -1, fmt.Errorf("export read-side implicit fence: %w", err)
	}
	return int(req.FD), nil
}

// importIntoImplicitWriteFenceLocked imports fd into the dma-buf's
// write-side implicit fence; fd is left open.
func (b *Bridge) importIntoImplicitWriteFenceLocked(fd int) error {
	req := dmaBufSyncFile{Flags: dmaBufSyncWrite, FD: int32(fd)}
	if err := dmabufIoctl(b.DmabufFD, dmaBufIoctlImportSyncFile, &req); err != nil {
		return fmt.Errorf("import write-side implicit fence: %w", err)
	}
	return nil
}

// importIntoTimelineLocked imports a sync-file fd into point.Point of the
// timeline sync-object point.Handle, using the dummy-syncobj staging path
// when the kernel rejects TIMELINE flags directly (spec §4.7 "cross-kernel
// compatibility").
func (b *Bridge) importIntoTimelineLocked(fd int, point *SyncPoint) error {
	capable, err := b.probeTimelineCapableLocked()
	if err != nil {
		return err
	}
	if capable {
		return syncobjFDToHandle(fd, point.Handle, point.Point, true)
	}
	if err := b.ensureDummySyncobjLocked(); err != nil {
		return err
	}
	if err := syncobjFDToHandle(fd, b.dummySyncobj, 0, false); err != nil {
		return err
	}
	return syncobjTransfer(b.dummySyncobj, 0, point.Handle, point.Point)
}

// waitAndExportTimelineLocked waits for point to become available on its
// timeline and exports it as a sync-file fd, staging through the dummy
// syncobj when TIMELINE flags aren't supported.
func (b *Bridge) waitAndExportTimelineLocked(point SyncPoint) (int, error) {
	capable, err := b.probeTimelineCapableLocked()
	if err != nil {
		return -1, err
	}
	if capable {
		return syncobjHandleToFD(point.Handle, point.Point, true)
	}
	if err := b.ensureDummySyncobjLocked(); err != nil {
		return -1, err
	}
	if err := syncobjTransfer(point.Handle, point.Point, b.dummySyncobj, 0); err != nil {
		return -1, err
	}
	return syncobjHandleToFD(b.dummySyncobj, 0, false)
}

func (b *Bridge) probeTimelineCapableLocked() (bool, error) {
	if b.timelineCapable != nil {
		return *b.timelineCapable, nil
	}
	capable := probeSyncobjTimelineSupport()
	b.timelineCapable = &capable
	return capable, nil
}

func (b *Bridge) ensureDummySyncobjLocked() error {
	if b.dummySyncobj != 0 {
		return nil
	}
	handle, err := syncobjCreate(false)
	if err != nil {
		return fmt.Errorf("create dummy binary syncobj: %w", err)
	}
	b.dummySyncobj = handle
	return nil
}
