package transport

import (
	"sync"

	"github.com/yofukashino/go-funnel/internal/interfaces"
)

// StubBackend is a connection-less, in-memory TransportBackend used for
// tests and the example producer (spec's transport layer is an external
// black box, so there is no real compositor to link against). Grounded
// on internal/queue/runner.go's NewStubRunner/stubLoop simulation mode.
type StubBackend struct {
	mu           sync.Mutex
	active       bool
	free         []interfaces.BufferHandle
	queued       []interfaces.BufferHandle
	next         interfaces.BufferHandle
	paramUpdates [][]byte
}

// NewStubBackend returns a StubBackend with no buffers registered yet;
// call AddBuffer to populate its pool.
func NewStubBackend() *StubBackend {
	return &StubBackend{}
}

// AddBuffer registers a new handle as immediately available to dequeue.
func (s *StubBackend) AddBuffer() interfaces.BufferHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	h := s.next
	s.free = append(s.free, h)
	return h
}

func (s *StubBackend) Connect(props map[string]string) error { return nil }

func (s *StubBackend) UpdateParams(paramsPod []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paramUpdates = append(s.paramUpdates, paramsPod)
	return nil
}

// ParamUpdateCount returns how many times UpdateParams has been called,
// for tests to assert against (e.g. the format document and the
// buffer/meta parameter set are two separate publishes).
func (s *StubBackend) ParamUpdateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.paramUpdates)
}

func (s *StubBackend) SetActive(active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = active
	return nil
}

func (s *StubBackend) Dequeue() (interfaces.BufferHandle, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.free) == 0 {
		return 0, false, nil
	}
	h := s.free[0]
	s.free = s.free[1:]
	return h, true, nil
}

// Queue simulates the consumer immediately consuming and recycling the
// buffer back to the free pool, as a lazily-polled loopback would.
func (s *StubBackend) Queue(handle interfaces.BufferHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queued = append(s.queued, handle)
	s.free = append(s.free, handle)
	return nil
}

func (s *StubBackend) ReturnBuffer(handle interfaces.BufferHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.free = append(s.free, handle)
	return nil
}

func (s *StubBackend) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	return nil
}

// QueuedCount returns how many buffers have been delivered to the
// simulated consumer, for tests to assert against.
func (s *StubBackend) QueuedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queued)
}

var _ interfaces.TransportBackend = (*StubBackend)(nil)
