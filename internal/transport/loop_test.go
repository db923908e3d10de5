package transport

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yofukashino/go-funnel/internal/interfaces"
)

func TestSetRateFallsBackWhenUnnegotiated(t *testing.T) {
	l := NewLoop(Callbacks{}, nil)
	l.SetRate(0, 0)

	l.mu.Lock()
	rate := l.rate
	l.mu.Unlock()

	if rate != time.Second/60 {
		t.Errorf("expected fallback 60fps rate, got %v", rate)
	}
}

func TestSetRateUsesNegotiatedFraction(t *testing.T) {
	l := NewLoop(Callbacks{}, nil)
	l.SetRate(30, 1)

	l.mu.Lock()
	rate := l.rate
	l.mu.Unlock()

	if rate != time.Second/30 {
		t.Errorf("expected 30fps rate, got %v", rate)
	}
}

func TestTimerDrivesProcessWhenStreamingAndTicked(t *testing.T) {
	var ticks int32
	l := NewLoop(Callbacks{Process: func() { atomic.AddInt32(&ticks, 1) }}, nil)
	l.SetAsync(false)
	l.SetRate(1000, 1) // fast tick for the test

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l.DispatchStateChanged(ctx, interfaces.StateStreaming)
	time.Sleep(50 * time.Millisecond)
	l.DispatchStateChanged(ctx, interfaces.StatePaused)

	if atomic.LoadInt32(&ticks) == 0 {
		t.Error("expected at least one process tick while streaming")
	}
}

func TestTimerDoesNotRunInAsyncMode(t *testing.T) {
	var ticks int32
	l := NewLoop(Callbacks{Process: func() { atomic.AddInt32(&ticks, 1) }}, nil)
	l.SetAsync(true)
	l.SetRate(1000, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l.DispatchStateChanged(ctx, interfaces.StateStreaming)
	time.Sleep(20 * time.Millisecond)
	l.Close()

	if atomic.LoadInt32(&ticks) != 0 {
		t.Errorf("expected no process ticks in ASYNC mode, got %d", ticks)
	}
}

func TestMarkDeadWakesWaiters(t *testing.T) {
	l := NewLoop(Callbacks{}, nil)

	done := make(chan struct{})
	waiting := make(chan struct{})
	go func() {
		l.Lock()
		close(waiting)
		l.Wait()
		l.Unlock()
		close(done)
	}()

	// The goroutine holds the lock until Wait releases it, so MarkDead's
	// Lock only succeeds once the goroutine is parked on the cond.
	<-waiting
	l.MarkDead()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by MarkDead")
	}
	if !l.Dead() {
		t.Error("expected loop to be marked dead")
	}
}
