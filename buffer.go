package funnel

import (
	"sync"

	"github.com/yofukashino/go-funnel/internal/pool"
)

// Buffer is the producer-facing handle returned by Stream.Dequeue (spec
// §4.8): it carries the allocator's opaque backend object plus the
// once-per-dequeue sync accessors.
type Buffer struct {
	stream *Stream
	handle BufferHandle
	rec    *pool.Record

	mu                  sync.Mutex
	vkSemaphoresQueried bool
	vkFenceQueried      bool
}

// Handle returns the transport's opaque buffer handle, for callers that
// need to correlate a Buffer with raw backend events.
func (b *Buffer) Handle() BufferHandle {
	return b.handle
}

// GetGBMBO returns the buffer's GBM buffer-object handle. Valid only for
// streams created with BackendGBM (spec §4.8 get_gbm_bo).
func (b *Buffer) GetGBMBO() (any, error) {
	if b.stream.backendTag != BackendGBM {
		return nil, NewStreamError("get_gbm_bo", b.stream.name, ErrCodeInvalidArgument, "stream backend is not gbm")
	}
	return b.rec.Alloc.BO, nil
}

// GetEGLImage returns the buffer's imported EGLImage handle. Valid only
// for streams created with BackendEGL (spec §4.8 get_egl_image).
func (b *Buffer) GetEGLImage() (any, error) {
	if b.stream.backendTag != BackendEGL {
		return nil, NewStreamError("get_egl_image", b.stream.name, ErrCodeInvalidArgument, "stream backend is not egl")
	}
	return b.rec.Alloc.BO, nil
}

// GetVKImage returns the buffer's imported VkImage handle. Valid only for
// streams created with BackendVulkan (spec §4.8 get_vk_image).
func (b *Buffer) GetVKImage() (any, error) {
	if b.stream.backendTag != BackendVulkan {
		return nil, NewStreamError("get_vk_image", b.stream.name, ErrCodeInvalidArgument, "stream backend is not vulkan")
	}
	return b.rec.Alloc.BO, nil
}

// GetVKSemaphores returns the buffer's acquire and release timeline sync
// points. It may be called at most once per dequeue; a second call fails
// EBUSY (spec §4.8 get_vk_semaphores, spec §8 boundary behaviour).
func (b *Buffer) GetVKSemaphores() (acquire, release SyncPoint, err error) {
	if b.rec.Bridge == nil {
		return SyncPoint{}, SyncPoint{}, NewStreamError("get_vk_semaphores", b.stream.name, ErrCodeInvalidArgument, "buffer has no frontend sync bridge")
	}

	b.mu.Lock()
	if b.vkSemaphoresQueried {
		b.mu.Unlock()
		return SyncPoint{}, SyncPoint{}, NewStreamError("get_vk_semaphores", b.stream.name, ErrCodeBusy, "semaphores already queried this dequeue")
	}
	b.vkSemaphoresQueried = true
	b.mu.Unlock()

	acq, err := b.rec.Bridge.GetAcquireSyncObject()
	if err != nil {
		return SyncPoint{}, SyncPoint{}, WrapError("get_vk_semaphores", err)
	}
	rel, err := b.rec.Bridge.GetReleaseSyncObject()
	if err != nil {
		return SyncPoint{}, SyncPoint{}, WrapError("get_vk_semaphores", err)
	}
	return acq, rel, nil
}

// GetVKFence returns the release timeline sync point the producer's
// command batch must signal before the buffer may be enqueued. It may be
// called at most once per dequeue (spec §4.8 get_vk_fence).
func (b *Buffer) GetVKFence() (SyncPoint, error) {
	if b.rec.Bridge == nil {
		return SyncPoint{}, NewStreamError("get_vk_fence", b.stream.name, ErrCodeInvalidArgument, "buffer has no frontend sync bridge")
	}

	b.mu.Lock()
	if b.vkFenceQueried {
		b.mu.Unlock()
		return SyncPoint{}, NewStreamError("get_vk_fence", b.stream.name, ErrCodeBusy, "fence already queried this dequeue")
	}
	b.vkFenceQueried = true
	b.mu.Unlock()

	rel, err := b.rec.Bridge.GetReleaseSyncObject()
	if err != nil {
		return SyncPoint{}, WrapError("get_vk_fence", err)
	}
	return rel, nil
}

// GetSize returns the stream's configured frame dimensions, not the
// allocation's (spec §4.8 get_size: "returns the configured size, not the
// allocation's width").
func (b *Buffer) GetSize() (width, height uint32) {
	return b.stream.config.registry.Width, b.stream.config.registry.Height
}

// HasSync reports whether this buffer carries frontend-managed explicit
// sync objects (spec §4.8 has_sync).
func (b *Buffer) HasSync() bool {
	return b.rec.FrontendSync
}

// IsEfficientForRendering reports spec §4.8's is_efficient_for_rendering:
// !(has_nonlinear_tiling && modifier == LINEAR). A linear buffer drawn
// into a stream that also advertised non-linear modifiers forces the
// consumer into a slow compatibility path.
func (b *Buffer) IsEfficientForRendering() bool {
	nonlinear := b.stream.config.HasNonlinearTiling()
	modifier := b.stream.negotiator.Current().Modifier
	return !(nonlinear && modifier == ModifierLinear)
}
