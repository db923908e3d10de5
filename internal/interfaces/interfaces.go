// Package interfaces holds the contracts shared between the root package
// and the stream subsystems, kept separate to avoid an import cycle
// between them.
package interfaces

// Logger is satisfied by internal/logging.Logger and by any caller-supplied
// adapter.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Observer receives pacing and negotiation telemetry. Implementations must
// be thread-safe: callbacks arrive from both the producer thread and the
// transport loop thread.
type Observer interface {
	ObserveDequeue(latencyNs uint64, got bool)
	ObserveEnqueue(latencyNs uint64, success bool)
	ObserveSkipFrame()
	ObserveProcessTick(latencyNs uint64)
	ObserveRenegotiation()
}

// AllocRequest describes the buffer the negotiation engine wants allocated
// (spec §4.4 "probe allocation").
type AllocRequest struct {
	Width     uint32
	Height    uint32
	Fourcc    uint32
	Modifiers []uint64
}

// AllocResult is what an allocator backend reports back for a concrete
// buffer (spec §4.3: "produce an object with queryable width, height,
// plane_count, stride[i], offset[i], modifier, fd[i]").
type AllocResult struct {
	Width      uint32
	Height     uint32
	PlaneCount uint32
	Strides    [4]uint32
	Offsets    [4]uint32
	Modifier   uint64
	Fds        [4]int
	BO         any // opaque GBM buffer-object handle, backend-defined
}

// Allocator is the vtable every backend (GBM, EGL, Vulkan) implements,
// generalizing the teacher's Backend vtable from block I/O to buffer
// allocation (spec §4.3).
type Allocator interface {
	AllocBuffer(req AllocRequest) (AllocResult, error)
	FreeBuffer(res AllocResult) error
	// EnqueueBuffer and Destroy are optional per-backend hooks (spec §4.3);
	// backends that don't need them implement no-op bodies rather than
	// leaving the method off the vtable, matching the teacher's "small
	// record of function pointers, some nullable" framing translated to a
	// Go interface.
	EnqueueBuffer(res AllocResult) error
	Destroy() error
}

// TransportBackend models the opaque PipeWire stream object from spec §1 /
// §4.1: a typed stream the core drives through connect/param/buffer
// primitives and which drives the core back through registered callbacks.
// This is the contract the transport library exposes; its wire mechanics
// are out of scope per spec §1.
type TransportBackend interface {
	Connect(props map[string]string) error
	UpdateParams(paramsPod []byte) error
	SetActive(active bool) error
	Dequeue() (BufferHandle, bool, error)
	Queue(handle BufferHandle) error
	ReturnBuffer(handle BufferHandle) error
	Disconnect() error
}

// BufferHandle is the transport's opaque per-buffer handle (the teacher's
// tag-equivalent): callbacks and pool bookkeeping key off it.
type BufferHandle uint32

// TransportState mirrors the PipeWire stream state machine the core reacts
// to in on_state_changed (spec §4.6).
type TransportState int

const (
	StateError TransportState = iota
	StateUnconnected
	StateConnecting
	StatePaused
	StateStreaming
)
