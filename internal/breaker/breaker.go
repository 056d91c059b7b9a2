// Package breaker implements C6: a per-dependency circuit breaker with a
// CLOSED/OPEN/HALF_OPEN lifecycle, shared process-wide via a registry
// keyed by dependency name.
package breaker

import (
	"fmt"
	"sync"
	"time"
)

// State is one breaker's lifecycle position.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// ErrOpen is returned by Allow when a breaker refuses a call outright.
type ErrOpen struct {
	Dependency string
}

func (e *ErrOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for %s", e.Dependency)
}

// Options configures one breaker's thresholds, per spec §4.10 defaults.
type Options struct {
	FailureThreshold  int
	ResetTimeout      time.Duration
	HalfOpenMaxProbes int
}

// DefaultOptions: failure_threshold=5, reset_timeout_ms=60000,
// half_open_max_attempts=3.
func DefaultOptions() Options {
	return Options{FailureThreshold: 5, ResetTimeout: 60 * time.Second, HalfOpenMaxProbes: 3}
}

// Breaker is a single dependency's state machine.
type Breaker struct {
	mu              sync.Mutex
	opts            Options
	state           State
	failures        int
	successes       int
	halfOpenProbes  int
	lastFailureAtMs int64
}

func newBreaker(opts Options) *Breaker {
	return &Breaker{opts: opts, state: StateClosed}
}

// Allow checks whether a call may proceed, transitioning OPEN→HALF_OPEN
// if the reset timeout has elapsed. Returns ErrOpen if the call must be
// refused.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Now().UnixMilli()-b.lastFailureAtMs > b.opts.ResetTimeout.Milliseconds() {
			b.state = StateHalfOpen
			b.halfOpenProbes = 0
			b.successes = 0
			return nil
		}
		return &ErrOpen{}
	case StateHalfOpen:
		if b.halfOpenProbes >= b.opts.HalfOpenMaxProbes {
			return &ErrOpen{}
		}
		b.halfOpenProbes++
		return nil
	}
	return nil
}

// RecordSuccess reports a successful call. In HALF_OPEN,
// HalfOpenMaxProbes consecutive successes close the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.opts.HalfOpenMaxProbes {
			b.state = StateClosed
			b.failures = 0
			b.successes = 0
			b.halfOpenProbes = 0
		}
	}
}

// RecordFailure reports a failed call. CLOSED trips to OPEN at the
// failure threshold; HALF_OPEN trips back to OPEN on any failure.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailureAtMs = time.Now().UnixMilli()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.opts.FailureThreshold {
			b.state = StateOpen
		}
	case StateHalfOpen:
		b.state = StateOpen
		b.successes = 0
		b.halfOpenProbes = 0
	}
}

// Status is the observable snapshot of a breaker's state.
type Status struct {
	State           State `json:"state"`
	Failures        int   `json:"failures"`
	Successes       int   `json:"successes"`
	LastFailureAtMs int64 `json:"last_failure_ms"`
}

// Status returns a point-in-time snapshot.
func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{State: b.state, Failures: b.failures, Successes: b.successes, LastFailureAtMs: b.lastFailureAtMs}
}

// Registry is the process-wide map of dependency name → Breaker. Stage
// handlers obtain their breaker via Registry.Get rather than constructing
// one directly, so all call sites for a dependency share lifecycle state.
type Registry struct {
	mu       sync.Mutex
	opts     Options
	breakers map[string]*Breaker
}

// KnownDependencies are the five dependencies spec §4.10 names explicitly.
var KnownDependencies = []string{"openai", "firecrawl", "brave", "gmail", "resend"}

// NewRegistry builds a registry pre-populated with KnownDependencies,
// using the same Options for all of them.
func NewRegistry(opts Options) *Registry {
	r := &Registry{opts: opts, breakers: make(map[string]*Breaker)}
	for _, dep := range KnownDependencies {
		r.breakers[dep] = newBreaker(opts)
	}
	return r
}

// Get returns the breaker for dependency, lazily creating one for names
// outside KnownDependencies (forward-compatible with a new external call
// site without a registry update).
func (r *Registry) Get(dependency string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[dependency]
	if !ok {
		b = newBreaker(r.opts)
		r.breakers[dependency] = b
	}
	return b
}

// Snapshot returns every known breaker's Status, for the healthz
// endpoint's aggregate circuit state check.
func (r *Registry) Snapshot() map[string]Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]Status, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.Status()
	}
	return out
}
