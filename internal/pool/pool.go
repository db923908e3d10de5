// Package pool implements the per-stream buffer pool from spec §4.5: the
// add_buffer/remove_buffer callback bodies and the buffer teardown order.
// Grounded on the pooling shape of internal/queue/pool.go, but the
// teacher's fixed-size byte-slice buckets don't fit a DMA-BUF buffer
// record, so the bucketed sync.Pool is replaced by a handle-indexed map
// under one mutex (the loop lock already serialises every caller per
// spec §5).
package pool

import (
	"fmt"
	"sync"

	"github.com/yofukashino/go-funnel/internal/format"
	"github.com/yofukashino/go-funnel/internal/interfaces"
	"github.com/yofukashino/go-funnel/internal/syncbridge"
)

// Record is one pooled buffer's bookkeeping (funnel_buffer in the
// original source): the allocator result, sync bridge, and the lifecycle
// flags add_buffer/remove_buffer/enqueue/return mutate.
type Record struct {
	Handle interfaces.BufferHandle
	Alloc  interfaces.AllocResult

	Bridge *syncbridge.Bridge

	Dequeued bool
	Orphaned bool // pw_buffer nulled out while dequeued (spec §4.5 remove_buffer)

	FrontendSync bool
	BackendSync  bool

	SentCount uint64
}

// UserAllocFunc is the optional user callback invoked after backend
// allocate (spec §4.5 step 5); FreeFunc is its counterpart run first
// during teardown.
type UserAllocFunc func(*Record)
type UserFreeFunc func(*Record)

// Pool owns every buffer record for one stream.
type Pool struct {
	mu         sync.Mutex
	allocator  interfaces.Allocator
	records    map[interfaces.BufferHandle]*Record
	numBuffers int

	onUserAlloc UserAllocFunc
	onUserFree  UserFreeFunc
}

// New returns an empty Pool backed by allocator.
func New(allocator interfaces.Allocator) *Pool {
	return &Pool{allocator: allocator, records: make(map[interfaces.BufferHandle]*Record)}
}

// SetUserCallbacks installs the optional per-buffer alloc/free hooks a
// caller configured on the stream (spec §4.5 steps 5 and the symmetric
// teardown step).
func (p *Pool) SetUserCallbacks(onAlloc UserAllocFunc, onFree UserFreeFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onUserAlloc = onAlloc
	p.onUserFree = onFree
}

// AddBuffer implements spec §4.5's add_buffer callback: allocate with the
// stream's current (fixed, not candidate) format, populate sync state,
// run the backend allocate hook and the user alloc callback.
func (p *Pool) AddBuffer(handle interfaces.BufferHandle, entry format.Entry, width, height uint32, sync format.SyncMode, backendSync bool) (*Record, error) {
	if len(entry.Modifiers) == 0 {
		return nil, fmt.Errorf("add_buffer: current format has no modifier")
	}

	req := interfaces.AllocRequest{
		Width:     width,
		Height:    height,
		Fourcc:    uint32(entry.Fourcc),
		Modifiers: modifiersToUint64(entry.Modifiers),
	}
	res, err := p.allocator.AllocBuffer(req)
	if err != nil {
		return nil, fmt.Errorf("add_buffer: allocate: %w", err)
	}

	rec := &Record{
		Handle:      handle,
		Alloc:       res,
		BackendSync: backendSync,
	}
	rec.FrontendSync = sync == format.SyncExplicitHybrid && !backendSync
	if rec.FrontendSync {
		rec.Bridge = syncbridge.NewBridge(uint32(res.Fds[0]), backendSync)
		acquireHandle, releaseHandle, err := createSyncTimelines()
		if err != nil {
			_ = p.allocator.FreeBuffer(res)
			return nil, fmt.Errorf("add_buffer: create sync timelines: %w", err)
		}
		rec.Bridge.SetSyncObjects(acquireHandle, releaseHandle)
	}

	if p.onUserAlloc != nil {
		p.onUserAlloc(rec)
	}

	p.mu.Lock()
	p.records[handle] = rec
	p.numBuffers++
	p.mu.Unlock()

	return rec, nil
}

// RunEnqueueHook invokes the backend enqueue hook for handle's buffer
// (spec §4.6 enqueue: "run backend enqueue hook (may export release
// sync-file)"). It runs once per successful enqueue, not at add_buffer
// time, so a backend_sync-capable backend sees it at the lifecycle point
// the spec actually calls for.
func (p *Pool) RunEnqueueHook(handle interfaces.BufferHandle) error {
	p.mu.Lock()
	rec, ok := p.records[handle]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("enqueue hook: unknown buffer handle")
	}
	return p.allocator.EnqueueBuffer(rec.Alloc)
}

// RemoveBuffer implements spec §4.5's remove_buffer: a dequeued buffer is
// orphaned (freed later, on its enqueue/return path); otherwise it's freed
// immediately.
func (p *Pool) RemoveBuffer(handle interfaces.BufferHandle) error {
	p.mu.Lock()
	rec, ok := p.records[handle]
	if !ok {
		p.mu.Unlock()
		return nil
	}
	if rec.Dequeued {
		rec.Orphaned = true
		p.mu.Unlock()
		return nil
	}
	delete(p.records, handle)
	p.numBuffers--
	p.mu.Unlock()

	return p.freeRecord(rec)
}

// ReleaseOrphan is called from the enqueue/return path once an orphaned,
// previously-dequeued buffer comes back (spec §4.5's deferred free).
func (p *Pool) ReleaseOrphan(handle interfaces.BufferHandle) (bool, error) {
	p.mu.Lock()
	rec, ok := p.records[handle]
	if !ok || !rec.Orphaned {
		p.mu.Unlock()
		return false, nil
	}
	delete(p.records, handle)
	p.numBuffers--
	p.mu.Unlock()

	return true, p.freeRecord(rec)
}

// freeRecord implements spec §4.5's buffer free order: user free callback
// -> backend free hook -> destroy allocator BO -> close owned fds ->
// destroy sync-objects -> deallocate record. FreeBuffer on the allocator
// already covers "destroy BO" and "close owned fds" together since both
// operate on the same AllocResult.
func (p *Pool) freeRecord(rec *Record) error {
	if p.onUserFree != nil {
		p.onUserFree(rec)
	}

	if err := p.allocator.FreeBuffer(rec.Alloc); err != nil {
		return fmt.Errorf("free buffer: %w", err)
	}

	if rec.Bridge != nil {
		destroySyncTimelines(rec.Bridge)
	}

	return nil
}

// MarkDequeued and MarkReturned toggle Record.Dequeued under the pool
// lock, used by Stream around each successful dequeue/enqueue.
func (p *Pool) MarkDequeued(handle interfaces.BufferHandle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rec, ok := p.records[handle]; ok {
		rec.Dequeued = true
	}
}

func (p *Pool) MarkReturned(handle interfaces.BufferHandle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rec, ok := p.records[handle]; ok {
		rec.Dequeued = false
		rec.SentCount++
	}
}

// Lookup returns the Record for handle, if still present.
func (p *Pool) Lookup(handle interfaces.BufferHandle) (*Record, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.records[handle]
	return rec, ok
}

// NumBuffers returns the current buffer count.
func (p *Pool) NumBuffers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.numBuffers
}

// createSyncTimelines allocates the acquire and release timeline
// sync-objects a frontend_sync buffer needs, both starting at point 0
// (spec §4.5 step 3).
func createSyncTimelines() (acquire, release uint32, err error) {
	acquire, err = syncbridge.CreateSyncobj(false)
	if err != nil {
		return 0, 0, err
	}
	release, err = syncbridge.CreateSyncobj(false)
	if err != nil {
		_ = syncbridge.DestroySyncobj(acquire)
		return 0, 0, err
	}
	return acquire, release, nil
}

// destroySyncTimelines tears down the sync-objects created for a
// frontend_sync buffer (spec §4.5 free order, "destroy sync-objects").
func destroySyncTimelines(bridge *syncbridge.Bridge) {
	acquire, release := bridge.SyncobjHandles()
	_ = syncbridge.DestroySyncobj(acquire)
	_ = syncbridge.DestroySyncobj(release)
}

func modifiersToUint64(mods []format.Modifier) []uint64 {
	out := make([]uint64, len(mods))
	for i, m := range mods {
		out[i] = uint64(m)
	}
	return out
}
