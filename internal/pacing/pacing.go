// Package pacing implements the producer/consumer handshake state machine
// described in spec §4.6: the four pacing modes and the dequeue/enqueue/
// return/skip_frame/process/on_state_changed algorithms that coordinate
// the producer thread with the transport's loop thread.
package pacing

import (
	"context"
	"sync"

	"github.com/yofukashino/go-funnel/internal/format"
	"github.com/yofukashino/go-funnel/internal/interfaces"
)

// CycleState is the three-way SYNCHRONOUS-mode handshake (spec §4.6).
type CycleState int

const (
	CycleInactive CycleState = iota
	CycleWaiting
	CycleActive
)

// pendingSlot holds the single buffer a non-ASYNC mode may have in flight.
type pendingSlot struct {
	handle interfaces.BufferHandle
	valid  bool
}

// Machine drives one stream's pacing state under a single lock, mirroring
// the loop-lock model of spec §5: every mutating call acquires m.mu for
// its duration and parks on m.cond while blocked.
type Machine struct {
	mu   sync.Mutex
	cond *sync.Cond

	mode   format.PacingMode
	active bool
	dead   bool

	transportState interfaces.TransportState
	backend        interfaces.TransportBackend

	cycleState      CycleState
	pending         pendingSlot
	skipBuffer      bool
	buffersDequeued int
	skipFrames      int
	numBuffers      int

	observer interfaces.Observer
}

// New returns a Machine for the given pacing mode and transport backend.
// observer may be nil.
func New(mode format.PacingMode, backend interfaces.TransportBackend, numBuffers int, observer interfaces.Observer) *Machine {
	m := &Machine{
		mode:           mode,
		backend:        backend,
		numBuffers:     numBuffers,
		observer:       observer,
		transportState: interfaces.StateUnconnected,
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Start marks the machine active (spec §4.6 `active`).
func (m *Machine) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = true
	m.cond.Broadcast()
}

// Stop unblocks every waiter and marks the stream inactive (spec §5 "stop
// explicitly unblocks waiters").
func (m *Machine) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = false
	m.unblockProcessLocked()
	m.cond.Broadcast()
}

// MarkDead makes every future call fail with EIO (spec §4.6 "dead is
// permanent for the context").
func (m *Machine) MarkDead() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dead = true
	m.cond.Broadcast()
}

// unblockProcessLocked implements spec §4.6 unblock_process(); caller must
// hold m.mu.
func (m *Machine) unblockProcessLocked() {
	if m.cycleState == CycleActive {
		m.cond.Broadcast()
		m.cycleState = CycleInactive
	}
}

// Dequeue implements spec §4.6's dequeue algorithm.
func (m *Machine) Dequeue(ctx context.Context) (interfaces.BufferHandle, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.buffersDequeued > 0 {
		return 0, false, errInvalidArgument
	}

	for {
		if err := ctx.Err(); err != nil {
			return 0, false, err
		}
		if m.dead {
			return 0, false, errIO
		}
		if !m.active {
			return 0, false, errShutdown
		}
		if m.skipFrames > 0 {
			m.skipFrames--
			return 0, false, nil
		}
		if m.transportState != interfaces.StateStreaming {
			if m.mode == format.ModeAsync {
				return 0, false, nil
			}
			m.unblockProcessLocked()
			m.cond.Wait()
			continue
		}
		if m.mode == format.ModeSingleBuffered && (m.pending.valid || m.skipBuffer) {
			m.unblockProcessLocked()
			m.cond.Wait()
			continue
		}
		if m.mode == format.ModeSynchronous && m.cycleState != CycleActive {
			m.cycleState = CycleWaiting
			m.cond.Wait()
			continue
		}

		handle, got, err := m.dequeueFromTransportLocked()
		if err != nil {
			return 0, false, err
		}
		if got {
			m.buffersDequeued = 1
			return handle, true, nil
		}
		if m.mode == format.ModeAsync {
			return 0, false, nil
		}
		m.cond.Wait()
	}
}

// dequeueFromTransportLocked retries the transport dequeue up to
// numBuffers times on a busy result (spec §4.6 "retry up to num_buffers on
// busy"). Caller holds m.mu; the backend call itself does not touch m's
// state so it's safe to call while locked for this backend's contract.
func (m *Machine) dequeueFromTransportLocked() (interfaces.BufferHandle, bool, error) {
	attempts := m.numBuffers
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		handle, got, err := m.backend.Dequeue()
		if err == nil {
			return handle, got, nil
		}
		if !isBusy(err) {
			return 0, false, err
		}
		lastErr = err
	}
	return 0, false, lastErr
}

// Enqueue implements spec §4.6's enqueue algorithm for a valid, fully
// queried buffer. The sync-bridge preconditions (frontend_sync queried
// both directions) are checked by the caller via
// syncbridge.Bridge.QueriedBothDirections before this is invoked, since
// that state lives in internal/syncbridge.
func (m *Machine) Enqueue(handle interfaces.BufferHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enqueueLocked(handle, true)
}

// Return implements spec §4.6's return(): for ASYNC it hands the buffer
// back to the transport pool immediately; for other modes it's equivalent
// to enqueue(valid=false), marking skip_buffer.
func (m *Machine) Return(handle interfaces.BufferHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mode == format.ModeAsync {
		m.buffersDequeued--
		err := m.backend.ReturnBuffer(handle)
		m.triggerProcessLocked()
		return err
	}
	return m.enqueueLocked(handle, false)
}

func (m *Machine) enqueueLocked(handle interfaces.BufferHandle, valid bool) error {
	m.buffersDequeued--

	for {
		if m.dead || !m.active {
			_ = m.backend.ReturnBuffer(handle)
			if m.dead {
				return errIO
			}
			return errShutdown
		}
		if m.transportState != interfaces.StateStreaming {
			_ = m.backend.ReturnBuffer(handle)
			return errWouldBlock
		}
		if m.mode == format.ModeAsync {
			if m.pending.valid {
				_ = m.backend.ReturnBuffer(m.pending.handle)
			}
			m.pending = pendingSlot{}
			break
		}
		if m.pending.valid || m.skipBuffer {
			m.unblockProcessLocked()
			m.cond.Wait()
			continue
		}
		break
	}

	if m.mode == format.ModeSynchronous && m.cycleState != CycleActive {
		return errStale
	}

	if valid {
		m.pending = pendingSlot{handle: handle, valid: true}
	} else {
		m.skipBuffer = true
	}
	m.unblockProcessLocked()
	if m.mode == format.ModeAsync {
		m.triggerProcessLocked()
	}
	return nil
}

// triggerProcessLocked wakes a loop-thread process tick. The transport
// backend owns scheduling the actual tick; this just signals local
// waiters so a Process() call running concurrently observes fresh state.
func (m *Machine) triggerProcessLocked() {
	m.cond.Broadcast()
}

// SkipFrame implements spec §4.6 skip_frame().
func (m *Machine) SkipFrame() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skipFrames++
	m.cond.Broadcast()
	if m.observer != nil {
		m.observer.ObserveSkipFrame()
	}
}

// Process implements spec §4.6's process callback, run by the loop thread
// on every consumer tick.
func (m *Machine) Process() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active {
		return
	}

	if m.mode == format.ModeSynchronous && m.cycleState == CycleWaiting {
		m.cycleState = CycleActive
		m.cond.Broadcast()
		// Rendezvous: the producer takes over from here and must ack via
		// enqueue/return before process is allowed to deliver the buffer
		// and return control to the loop (spec §4.6, §9 scenario 3).
		for m.cycleState == CycleActive && m.active && !m.dead {
			m.cond.Wait()
		}
	}

	if m.pending.valid {
		_ = m.backend.Queue(m.pending.handle)
		m.pending = pendingSlot{}
	} else if m.skipBuffer {
		m.skipBuffer = false
	}

	m.cond.Broadcast()
}

// OnStateChanged implements spec §4.6's on_state_changed transitions.
func (m *Machine) OnStateChanged(state interfaces.TransportState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transportState = state

	switch state {
	case interfaces.StateError, interfaces.StatePaused, interfaces.StateConnecting, interfaces.StateUnconnected:
		if m.pending.valid {
			_ = m.backend.ReturnBuffer(m.pending.handle)
		}
		m.pending = pendingSlot{}
		m.skipBuffer = false
	}
	m.cond.Broadcast()
}

func isBusy(err error) bool {
	return err == errBusy
}
