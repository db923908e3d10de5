// Package transport models the PipeWire-style loop thread spec §1 treats
// as an external black box: it dispatches the
// add_buffer/remove_buffer/state_changed/param_changed/command callbacks
// on the calling goroutine, runs the process callback from a timer on its
// own goroutine, and holds a lock and condition variable with a dead flag
// (spec §3, §5). Grounded on the goroutine-dispatch-with-context
// shape of internal/queue/runner.go's ioLoop, generalised from a single
// fixed I/O loop to a callback-driven one.
package transport

import (
	"context"
	"sync"
	"time"

	"github.com/yofukashino/go-funnel/internal/constants"
	"github.com/yofukashino/go-funnel/internal/interfaces"
	"github.com/yofukashino/go-funnel/internal/logging"
)

// Callbacks is the set of loop-thread reactions a Stream installs (spec
// §3 "loop thread... runs callbacks").
type Callbacks struct {
	AddBuffer    func(handle interfaces.BufferHandle)
	RemoveBuffer func(handle interfaces.BufferHandle)
	StateChanged func(state interfaces.TransportState)
	ParamChanged func(paramsPod []byte)
	Process      func()
	Command      func(cmd string)
}

// Loop holds the loop lock, the dead flag and the timer state. Stream and
// the pacing machine guard their own state with their own mutexes.
type Loop struct {
	mu   sync.Mutex
	cond *sync.Cond

	dead      bool
	callbacks Callbacks
	logger    *logging.Logger

	rate      time.Duration
	lazy      bool
	mode      timerMode
	state     interfaces.TransportState
	timerStop chan struct{}
	wg        sync.WaitGroup
}

type timerMode int

const (
	timerModeAsync timerMode = iota
	timerModeTicked
)

// NewLoop returns a Loop driving callbacks. logger may be nil.
func NewLoop(callbacks Callbacks, logger *logging.Logger) *Loop {
	if logger == nil {
		logger = logging.Default()
	}
	l := &Loop{
		callbacks: callbacks,
		logger:    logger,
		rate:      time.Second / constants.FallbackFrameRate,
		mode:      timerModeAsync,
	}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Lock acquires the loop lock that Wait parks on.
func (l *Loop) Lock() { l.mu.Lock() }

// Unlock releases the loop lock.
func (l *Loop) Unlock() { l.mu.Unlock() }

// Wait parks the calling goroutine on the loop's condition variable,
// releasing the lock, until Broadcast is called (spec §5 "suspension
// points"). Caller must hold the lock.
func (l *Loop) Wait() { l.cond.Wait() }

// Broadcast wakes every waiter.
func (l *Loop) Broadcast() { l.cond.Broadcast() }

// Dead reports whether the loop has been marked dead (spec §4.6 "dead is
// permanent for the context").
func (l *Loop) Dead() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dead
}

// MarkDead marks the loop permanently dead and wakes every waiter.
func (l *Loop) MarkDead() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dead = true
	l.cond.Broadcast()
}

// SetRate updates the timer's tick interval from a negotiated frame rate;
// a zero denominator falls back to constants.FallbackFrameRate (spec §4.6
// "Timer").
func (l *Loop) SetRate(num, den uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if den == 0 || num == 0 {
		l.rate = time.Second / constants.FallbackFrameRate
		return
	}
	l.rate = time.Duration(float64(time.Second) * float64(den) / float64(num))
}

// SetLazy toggles whether this stream opted out of the driving timer
// entirely (spec §4.6 "when streaming, not lazy, not ASYNC").
func (l *Loop) SetLazy(lazy bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lazy = lazy
}

// SetAsync toggles ASYNC mode, which also disables the driving timer.
func (l *Loop) SetAsync(async bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if async {
		l.mode = timerModeAsync
	} else {
		l.mode = timerModeTicked
	}
}

// DispatchStateChanged invokes the state_changed callback and starts or
// stops the driving timer to match (spec §4.6 on_state_changed).
func (l *Loop) DispatchStateChanged(ctx context.Context, state interfaces.TransportState) {
	l.mu.Lock()
	l.state = state
	shouldRun := state == interfaces.StateStreaming && !l.lazy && l.mode == timerModeTicked
	l.mu.Unlock()

	if l.callbacks.StateChanged != nil {
		l.callbacks.StateChanged(state)
	}

	if shouldRun {
		l.startTimer(ctx)
	} else {
		l.stopTimer()
	}
}

// DispatchAddBuffer invokes the add_buffer callback.
func (l *Loop) DispatchAddBuffer(handle interfaces.BufferHandle) {
	if l.callbacks.AddBuffer != nil {
		l.callbacks.AddBuffer(handle)
	}
}

// DispatchRemoveBuffer invokes the remove_buffer callback.
func (l *Loop) DispatchRemoveBuffer(handle interfaces.BufferHandle) {
	if l.callbacks.RemoveBuffer != nil {
		l.callbacks.RemoveBuffer(handle)
	}
}

// DispatchParamChanged invokes the param_changed callback.
func (l *Loop) DispatchParamChanged(paramsPod []byte) {
	if l.callbacks.ParamChanged != nil {
		l.callbacks.ParamChanged(paramsPod)
	}
}

// DispatchCommand invokes the command callback.
func (l *Loop) DispatchCommand(cmd string) {
	if l.callbacks.Command != nil {
		l.callbacks.Command(cmd)
	}
}

// startTimer launches the periodic process-tick goroutine, stopping any
// previous one first.
func (l *Loop) startTimer(ctx context.Context) {
	l.stopTimer()

	l.mu.Lock()
	rate := l.rate
	l.timerStop = make(chan struct{})
	stop := l.timerStop
	l.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := time.NewTicker(rate)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				if l.callbacks.Process != nil {
					l.callbacks.Process()
				}
			}
		}
	}()
}

func (l *Loop) stopTimer() {
	l.mu.Lock()
	stop := l.timerStop
	l.timerStop = nil
	l.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	l.wg.Wait()
}

// Close stops the driving timer and marks the loop dead.
func (l *Loop) Close() {
	l.stopTimer()
	l.MarkDead()
}
