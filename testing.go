package funnel

import "sync"

// MockAllocator is an in-memory Allocator for tests: it hands out
// incrementing BO handles without touching any real GBM device, and
// tracks call counts for assertions. Grounded on the teacher's
// MockBackend, generalized from block-I/O call tracking to the
// alloc/free/enqueue vtable in internal/interfaces.Allocator.
type MockAllocator struct {
	mu          sync.Mutex
	next        uint32
	live        map[uint32]AllocResult
	destroyed   bool
	allocCalls  int
	freeCalls   int
	enqueueCalls int
}

// NewMockAllocator returns a MockAllocator with no live buffers.
func NewMockAllocator() *MockAllocator {
	return &MockAllocator{live: make(map[uint32]AllocResult)}
}

// AllocBuffer implements Allocator. It echoes back the requested
// geometry and modifier, synthesizing a single-plane result with a
// fresh BO handle.
func (m *MockAllocator) AllocBuffer(req AllocRequest) (AllocResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.allocCalls++
	if m.destroyed {
		return AllocResult{}, NewError("alloc_buffer", ErrCodeShutdown, "allocator destroyed")
	}

	m.next++
	bo := m.next
	modifier := uint64(ModifierLinear)
	if len(req.Modifiers) > 0 {
		modifier = req.Modifiers[0]
	}
	res := AllocResult{
		Width:      req.Width,
		Height:     req.Height,
		PlaneCount: 1,
		Strides:    [4]uint32{req.Width * 4},
		Offsets:    [4]uint32{0},
		Modifier:   modifier,
		Fds:        [4]int{-1},
		BO:         bo,
	}
	m.live[bo] = res
	return res, nil
}

// FreeBuffer implements Allocator.
func (m *MockAllocator) FreeBuffer(res AllocResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.freeCalls++
	bo, ok := res.BO.(uint32)
	if !ok {
		return NewError("free_buffer", ErrCodeInvalidArgument, "result has no mock BO handle")
	}
	delete(m.live, bo)
	return nil
}

// EnqueueBuffer implements Allocator as a no-op hook, matching
// GBMAllocator's own no-op body.
func (m *MockAllocator) EnqueueBuffer(res AllocResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enqueueCalls++
	return nil
}

// Destroy implements Allocator.
func (m *MockAllocator) Destroy() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.destroyed = true
	return nil
}

// LiveBufferCount returns how many allocated buffers have not yet been
// freed, for tests asserting cleanup.
func (m *MockAllocator) LiveBufferCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

// CallCounts returns the number of times each Allocator method has
// been called, for tests asserting interaction patterns.
func (m *MockAllocator) CallCounts() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]int{
		"alloc":   m.allocCalls,
		"free":    m.freeCalls,
		"enqueue": m.enqueueCalls,
	}
}

// Destroyed reports whether Destroy has been called.
func (m *MockAllocator) Destroyed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.destroyed
}

var _ Allocator = (*MockAllocator)(nil)
