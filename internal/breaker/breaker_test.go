package breaker

import (
	"testing"
	"time"
)

func TestBreaker_ClosedToOpen_AtFailureThreshold(t *testing.T) {
	b := newBreaker(Options{FailureThreshold: 3, ResetTimeout: time.Minute, HalfOpenMaxProbes: 2})

	for i := 0; i < 2; i++ {
		b.RecordFailure()
		if b.Status().State != StateClosed {
			t.Fatalf("expected CLOSED before threshold, got %v at failure %d", b.Status().State, i+1)
		}
	}
	b.RecordFailure()
	if b.Status().State != StateOpen {
		t.Errorf("expected OPEN at failure threshold, got %v", b.Status().State)
	}
}

func TestBreaker_Open_RefusesUntilResetTimeout(t *testing.T) {
	b := newBreaker(Options{FailureThreshold: 1, ResetTimeout: 50 * time.Millisecond, HalfOpenMaxProbes: 1})
	b.RecordFailure()

	if err := b.Allow(); err == nil {
		t.Error("expected Allow to refuse immediately after tripping open")
	}

	time.Sleep(60 * time.Millisecond)

	if err := b.Allow(); err != nil {
		t.Errorf("expected Allow to admit a probe after reset timeout, got: %v", err)
	}
	if b.Status().State != StateHalfOpen {
		t.Errorf("expected HALF_OPEN after reset timeout elapses, got %v", b.Status().State)
	}
}

func TestBreaker_HalfOpen_SuccessesCloseBreaker(t *testing.T) {
	b := newBreaker(Options{FailureThreshold: 1, ResetTimeout: time.Millisecond, HalfOpenMaxProbes: 2})
	b.RecordFailure()
	time.Sleep(5 * time.Millisecond)

	if err := b.Allow(); err != nil {
		t.Fatalf("expected probe admitted, got: %v", err)
	}
	b.RecordSuccess()
	if b.Status().State != StateHalfOpen {
		t.Fatalf("expected still HALF_OPEN after one success, got %v", b.Status().State)
	}

	if err := b.Allow(); err != nil {
		t.Fatalf("expected second probe admitted, got: %v", err)
	}
	b.RecordSuccess()
	if b.Status().State != StateClosed {
		t.Errorf("expected CLOSED after HalfOpenMaxProbes consecutive successes, got %v", b.Status().State)
	}
}

func TestBreaker_HalfOpen_AnyFailureReopens(t *testing.T) {
	b := newBreaker(Options{FailureThreshold: 1, ResetTimeout: time.Millisecond, HalfOpenMaxProbes: 3})
	b.RecordFailure()
	time.Sleep(5 * time.Millisecond)
	_ = b.Allow()

	b.RecordFailure()
	if b.Status().State != StateOpen {
		t.Errorf("expected a HALF_OPEN failure to reopen the breaker, got %v", b.Status().State)
	}
}

func TestBreaker_CircuitSafety_ZeroCallsReachDependencyWhileOpen(t *testing.T) {
	b := newBreaker(Options{FailureThreshold: 1, ResetTimeout: time.Hour, HalfOpenMaxProbes: 1})
	b.RecordFailure()

	calls := 0
	for i := 0; i < 10; i++ {
		if err := b.Allow(); err == nil {
			calls++
		}
	}
	if calls != 0 {
		t.Errorf("expected zero calls admitted while open within reset timeout, got %d", calls)
	}
}

func TestRegistry_GetReturnsSameBreakerPerDependency(t *testing.T) {
	reg := NewRegistry(DefaultOptions())

	a := reg.Get("openai")
	b := reg.Get("openai")
	if a != b {
		t.Error("expected the same breaker instance for repeated Get calls on the same dependency")
	}
}

func TestRegistry_Snapshot_IncludesKnownDependencies(t *testing.T) {
	reg := NewRegistry(DefaultOptions())
	snapshot := reg.Snapshot()

	for _, dep := range KnownDependencies {
		if _, ok := snapshot[dep]; !ok {
			t.Errorf("expected snapshot to include known dependency %s", dep)
		}
	}
}
