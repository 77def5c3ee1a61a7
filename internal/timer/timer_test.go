package timer

import (
	"sync"
	"testing"
	"time"
)

// events collects hook firings for assertions.
type events struct {
	mu        sync.Mutex
	started   int
	ticked    int
	completed int
	paused    int
	stopped   int
}

func (e *events) hooks() Hooks {
	return Hooks{
		OnStarted:   func() { e.mu.Lock(); e.started++; e.mu.Unlock() },
		OnTicked:    func(_, _ time.Duration) { e.mu.Lock(); e.ticked++; e.mu.Unlock() },
		OnCompleted: func() { e.mu.Lock(); e.completed++; e.mu.Unlock() },
		OnPaused:    func(_ time.Duration) { e.mu.Lock(); e.paused++; e.mu.Unlock() },
		OnStopped:   func() { e.mu.Lock(); e.stopped++; e.mu.Unlock() },
	}
}

func (e *events) snapshot() (started, ticked, completed, paused, stopped int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started, e.ticked, e.completed, e.paused, e.stopped
}

func TestTimer_StartRunsAndCompletes(t *testing.T) {
	var ev events
	tm := New(ev.hooks())
	defer tm.Dispose()

	if err := tm.SetInterval(300*time.Millisecond, false); err != nil {
		t.Fatalf("SetInterval failed: %v", err)
	}
	if err := tm.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	state, err := tm.StateNow()
	if err != nil || state != Running {
		t.Fatalf("expected running state, got %v (err %v)", state, err)
	}

	// Wait past the interval plus scan cadence slack.
	time.Sleep(700 * time.Millisecond)

	started, ticked, completed, _, stopped := ev.snapshot()
	if started != 1 {
		t.Errorf("expected 1 started event, got %d", started)
	}
	if ticked == 0 {
		t.Errorf("expected ticked events while running")
	}
	if completed != 1 {
		t.Errorf("expected 1 completed event, got %d", completed)
	}
	if stopped != 1 {
		t.Errorf("expected non-repeating timer to stop, got %d stopped events", stopped)
	}

	state, _ = tm.StateNow()
	if state != Stopped {
		t.Errorf("expected stopped after completion, got %v", state)
	}
}

func TestTimer_RepeatCompletesMultipleTimes(t *testing.T) {
	var ev events
	tm := New(ev.hooks())
	defer tm.Dispose()

	if err := tm.SetInterval(250*time.Millisecond, true); err != nil {
		t.Fatalf("SetInterval failed: %v", err)
	}
	if err := tm.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	time.Sleep(900 * time.Millisecond)

	_, _, completed, _, stopped := ev.snapshot()
	if completed < 2 {
		t.Errorf("expected at least 2 completions, got %d", completed)
	}
	if stopped != 0 {
		t.Errorf("repeating timer should not stop, got %d stopped events", stopped)
	}

	state, _ := tm.StateNow()
	if state != Running {
		t.Errorf("expected repeating timer still running, got %v", state)
	}
}

func TestTimer_PausePreservesElapsed(t *testing.T) {
	var ev events
	tm := New(ev.hooks())
	defer tm.Dispose()

	if err := tm.SetInterval(1*time.Second, false); err != nil {
		t.Fatalf("SetInterval failed: %v", err)
	}
	if err := tm.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	time.Sleep(300 * time.Millisecond)
	if err := tm.Pause(); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}

	remainingAtPause, err := tm.Remaining()
	if err != nil {
		t.Fatalf("Remaining failed: %v", err)
	}
	if remainingAtPause >= 1*time.Second || remainingAtPause <= 0 {
		t.Fatalf("expected partial remaining, got %v", remainingAtPause)
	}

	// Remaining must not shrink while paused.
	time.Sleep(300 * time.Millisecond)
	remainingLater, _ := tm.Remaining()
	if remainingLater != remainingAtPause {
		t.Errorf("remaining changed while paused: %v -> %v", remainingAtPause, remainingLater)
	}

	// Resume keeps accumulated elapsed.
	if err := tm.Resume(); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	remainingResumed, _ := tm.Remaining()
	if remainingResumed > remainingAtPause+50*time.Millisecond {
		t.Errorf("resume lost accumulated elapsed: remaining %v > %v", remainingResumed, remainingAtPause)
	}
}

func TestTimer_ResetSemantics(t *testing.T) {
	var ev events
	tm := New(ev.hooks())
	defer tm.Dispose()

	if err := tm.SetInterval(1*time.Second, false); err != nil {
		t.Fatalf("SetInterval failed: %v", err)
	}

	// Reset while stopped: remains stopped.
	if err := tm.Reset(); err != nil {
		t.Fatalf("Reset on stopped failed: %v", err)
	}
	if state, _ := tm.StateNow(); state != Stopped {
		t.Errorf("expected stopped after reset from stopped, got %v", state)
	}

	// Reset while running: keeps running with zero elapsed.
	if err := tm.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	time.Sleep(300 * time.Millisecond)
	if err := tm.Reset(); err != nil {
		t.Fatalf("Reset on running failed: %v", err)
	}
	if state, _ := tm.StateNow(); state != Running {
		t.Errorf("expected running after reset from running, got %v", state)
	}
	remaining, _ := tm.Remaining()
	if remaining < 900*time.Millisecond {
		t.Errorf("expected near-full interval after reset, got %v", remaining)
	}

	// Reset while paused: transitions to stopped.
	if err := tm.Pause(); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if err := tm.Reset(); err != nil {
		t.Fatalf("Reset on paused failed: %v", err)
	}
	if state, _ := tm.StateNow(); state != Stopped {
		t.Errorf("expected stopped after reset from paused, got %v", state)
	}
}

func TestTimer_StopIsIdempotentAndSafeAfterDispose(t *testing.T) {
	var ev events
	tm := New(ev.hooks())

	if err := tm.SetInterval(1*time.Second, false); err != nil {
		t.Fatalf("SetInterval failed: %v", err)
	}
	if err := tm.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := tm.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := tm.Stop(); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}

	tm.Dispose()
	tm.Dispose() // idempotent

	if err := tm.Stop(); err != nil {
		t.Errorf("Stop after Dispose should be safe, got %v", err)
	}
}

func TestTimer_DisposedRejectsCalls(t *testing.T) {
	var ev events
	tm := New(ev.hooks())
	tm.Dispose()

	if err := tm.SetInterval(time.Second, false); err != ErrDisposed {
		t.Errorf("SetInterval after dispose: expected ErrDisposed, got %v", err)
	}
	if err := tm.Start(); err != ErrDisposed {
		t.Errorf("Start after dispose: expected ErrDisposed, got %v", err)
	}
	if err := tm.Pause(); err != ErrDisposed {
		t.Errorf("Pause after dispose: expected ErrDisposed, got %v", err)
	}
	if err := tm.Reset(); err != ErrDisposed {
		t.Errorf("Reset after dispose: expected ErrDisposed, got %v", err)
	}
	if _, err := tm.Remaining(); err != ErrDisposed {
		t.Errorf("Remaining after dispose: expected ErrDisposed, got %v", err)
	}
}

func TestTimer_StartWithoutIntervalErrors(t *testing.T) {
	var ev events
	tm := New(ev.hooks())
	defer tm.Dispose()

	if err := tm.Start(); err == nil {
		t.Fatal("expected error starting without interval")
	}
}
