package pool

import (
	"testing"

	"github.com/yofukashino/go-funnel/internal/format"
	"github.com/yofukashino/go-funnel/internal/interfaces"
)

type mockAllocator struct {
	nextHandle  uint32
	freed       []interfaces.AllocResult
	enqueued    []interfaces.AllocResult
	failAlloc   bool
	failEnqueue bool
}

func (m *mockAllocator) AllocBuffer(req interfaces.AllocRequest) (interfaces.AllocResult, error) {
	if m.failAlloc {
		return interfaces.AllocResult{}, errAllocFailed
	}
	m.nextHandle++
	return interfaces.AllocResult{Width: req.Width, Height: req.Height, PlaneCount: 1, BO: m.nextHandle}, nil
}

func (m *mockAllocator) FreeBuffer(res interfaces.AllocResult) error {
	m.freed = append(m.freed, res)
	return nil
}

func (m *mockAllocator) EnqueueBuffer(res interfaces.AllocResult) error {
	if m.failEnqueue {
		return errEnqueueFailed
	}
	m.enqueued = append(m.enqueued, res)
	return nil
}

func (m *mockAllocator) Destroy() error { return nil }

type mockErr string

func (e mockErr) Error() string { return string(e) }

const errAllocFailed = mockErr("alloc failed")
const errEnqueueFailed = mockErr("enqueue hook failed")

func testEntry() format.Entry {
	return format.Entry{Fourcc: format.FourccXRGB8888, Wire: format.WireFormatxRGB, Modifiers: []format.Modifier{format.ModifierLinear}}
}

func TestAddBufferPopulatesRecord(t *testing.T) {
	alloc := &mockAllocator{}
	p := New(alloc)

	rec, err := p.AddBuffer(1, testEntry(), 1920, 1080, format.SyncImplicit, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Alloc.Width != 1920 || rec.Alloc.Height != 1080 {
		t.Errorf("expected allocation sized 1920x1080, got %dx%d", rec.Alloc.Width, rec.Alloc.Height)
	}
	if rec.FrontendSync {
		t.Error("expected FrontendSync=false under SyncImplicit")
	}
	if p.NumBuffers() != 1 {
		t.Errorf("expected 1 buffer, got %d", p.NumBuffers())
	}
}

func TestAddBufferRejectsEmptyModifierList(t *testing.T) {
	alloc := &mockAllocator{}
	p := New(alloc)
	entry := format.Entry{Fourcc: format.FourccXRGB8888, Wire: format.WireFormatxRGB}

	if _, err := p.AddBuffer(1, entry, 640, 480, format.SyncImplicit, false); err == nil {
		t.Error("expected error for empty modifier list")
	}
}

func TestAddBufferPropagatesAllocatorFailure(t *testing.T) {
	alloc := &mockAllocator{failAlloc: true}
	p := New(alloc)

	if _, err := p.AddBuffer(1, testEntry(), 640, 480, format.SyncImplicit, false); err == nil {
		t.Error("expected allocator failure to propagate")
	}
	if p.NumBuffers() != 0 {
		t.Errorf("expected no buffers recorded after failed alloc, got %d", p.NumBuffers())
	}
}

func TestRemoveBufferDefersWhileDequeued(t *testing.T) {
	alloc := &mockAllocator{}
	p := New(alloc)
	_, _ = p.AddBuffer(1, testEntry(), 640, 480, format.SyncImplicit, false)
	p.MarkDequeued(1)

	if err := p.RemoveBuffer(1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(alloc.freed) != 0 {
		t.Error("expected free to be deferred while buffer is dequeued")
	}

	rec, ok := p.Lookup(1)
	if !ok || !rec.Orphaned {
		t.Fatal("expected buffer to remain present and marked orphaned")
	}

	released, err := p.ReleaseOrphan(1)
	if err != nil {
		t.Fatalf("unexpected error releasing orphan: %v", err)
	}
	if !released {
		t.Error("expected ReleaseOrphan to report true")
	}
	if len(alloc.freed) != 1 {
		t.Errorf("expected buffer to be freed after release, got %d frees", len(alloc.freed))
	}
}

func TestRemoveBufferFreesImmediatelyWhenNotDequeued(t *testing.T) {
	alloc := &mockAllocator{}
	p := New(alloc)
	_, _ = p.AddBuffer(1, testEntry(), 640, 480, format.SyncImplicit, false)

	if err := p.RemoveBuffer(1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(alloc.freed) != 1 {
		t.Errorf("expected immediate free, got %d frees", len(alloc.freed))
	}
	if p.NumBuffers() != 0 {
		t.Errorf("expected 0 buffers, got %d", p.NumBuffers())
	}
}

func TestAddBufferDoesNotRunEnqueueHook(t *testing.T) {
	alloc := &mockAllocator{}
	p := New(alloc)

	_, err := p.AddBuffer(1, testEntry(), 640, 480, format.SyncImplicit, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(alloc.enqueued) != 0 {
		t.Errorf("expected add_buffer not to run the backend enqueue hook, got %d calls", len(alloc.enqueued))
	}
}

func TestRunEnqueueHookInvokesAllocatorOnce(t *testing.T) {
	alloc := &mockAllocator{}
	p := New(alloc)
	_, _ = p.AddBuffer(1, testEntry(), 640, 480, format.SyncImplicit, false)

	if err := p.RunEnqueueHook(1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(alloc.enqueued) != 1 {
		t.Errorf("expected the backend enqueue hook to run once, got %d", len(alloc.enqueued))
	}
}

func TestRunEnqueueHookRejectsUnknownHandle(t *testing.T) {
	alloc := &mockAllocator{}
	p := New(alloc)

	if err := p.RunEnqueueHook(99); err == nil {
		t.Error("expected error for an unknown buffer handle")
	}
}

func TestRunEnqueueHookPropagatesAllocatorFailure(t *testing.T) {
	alloc := &mockAllocator{failEnqueue: true}
	p := New(alloc)
	_, _ = p.AddBuffer(1, testEntry(), 640, 480, format.SyncImplicit, false)

	if err := p.RunEnqueueHook(1); err == nil {
		t.Error("expected the allocator's enqueue failure to propagate")
	}
}

func TestUserCallbacksInvoked(t *testing.T) {
	alloc := &mockAllocator{}
	p := New(alloc)

	var allocCalls, freeCalls int
	p.SetUserCallbacks(func(*Record) { allocCalls++ }, func(*Record) { freeCalls++ })

	_, _ = p.AddBuffer(1, testEntry(), 640, 480, format.SyncImplicit, false)
	if allocCalls != 1 {
		t.Errorf("expected user alloc callback once, got %d", allocCalls)
	}

	_ = p.RemoveBuffer(1)
	if freeCalls != 1 {
		t.Errorf("expected user free callback once, got %d", freeCalls)
	}
}
