package hostpolicy

import (
	"errors"
	"sync/atomic"
	"time"
)

// State is one of the three circuit breaker states (spec.md §3 "Circuit
// Breaker"). Modeled as an atomic.Int32 the way the autobreaker example
// does, trading a mutex for lock-free reads on the hot path.
type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned by Allow when the breaker is open and not yet due for
// a half-open probe.
var ErrOpen = errors.New("circuit breaker open")

// ErrHalfOpenFull is returned when the half-open probe slots are exhausted.
var ErrHalfOpenFull = errors.New("circuit breaker half-open probe limit reached")

// Breaker is a three-state circuit breaker scoped to one host. Unlike the
// autobreaker example's percentage-based adaptive mode, it follows spec.md §3's
// simpler consecutive-failure rule: trip after threshold consecutive
// failures, probe after a fixed reset window, and require halfOpenMaxCalls
// half-open successes to close again. Any half-open failure reopens
// immediately.
type Breaker struct {
	threshold    int32
	resetAfter   time.Duration
	halfOpenCap  int32

	state                atomic.Int32
	consecutiveFailures  atomic.Int32
	halfOpenSuccesses    atomic.Int32
	halfOpenInFlight     atomic.Int32
	openedAt             atomic.Int64
}

// NewBreaker constructs a Breaker in the closed state.
func NewBreaker(threshold int, resetAfter time.Duration, halfOpenMaxCalls int) *Breaker {
	if threshold < 1 {
		threshold = 1
	}
	if halfOpenMaxCalls < 1 {
		halfOpenMaxCalls = 1
	}
	b := &Breaker{
		threshold:   int32(threshold),
		resetAfter:  resetAfter,
		halfOpenCap: int32(halfOpenMaxCalls),
	}
	b.state.Store(int32(StateClosed))
	return b
}

// State returns the current state, re-evaluating Open→HalfOpen eligibility
// as a side effect (so a caller polling State() alone still observes the
// transition once resetAfter elapses).
func (b *Breaker) State() State {
	if State(b.state.Load()) == StateOpen && b.dueForProbe() {
		b.state.CompareAndSwap(int32(StateOpen), int32(StateHalfOpen))
	}
	return State(b.state.Load())
}

func (b *Breaker) dueForProbe() bool {
	openedAt := time.Unix(0, b.openedAt.Load())
	return time.Since(openedAt) >= b.resetAfter
}

// Allow reports whether a call may proceed, admitting a bounded number of
// concurrent half-open probes (spec.md §3 invariant: "half-open admits at
// most halfOpenMaxCalls concurrent calls").
func (b *Breaker) Allow() error {
	switch b.State() {
	case StateOpen:
		return ErrOpen
	case StateHalfOpen:
		if b.halfOpenInFlight.Add(1) > b.halfOpenCap {
			b.halfOpenInFlight.Add(-1)
			return ErrHalfOpenFull
		}
		return nil
	default:
		return nil
	}
}

// Done records the outcome of a call previously admitted by Allow. Every
// Allow() call that did not return an error must be paired with exactly one
// Done() call.
func (b *Breaker) Done(success bool) {
	switch State(b.state.Load()) {
	case StateHalfOpen:
		b.halfOpenInFlight.Add(-1)
		if success {
			if b.halfOpenSuccesses.Add(1) >= b.halfOpenCap {
				b.close()
			}
		} else {
			b.open()
		}
	case StateClosed:
		if success {
			b.consecutiveFailures.Store(0)
		} else if b.consecutiveFailures.Add(1) >= b.threshold {
			b.open()
		}
	}
}

func (b *Breaker) open() {
	b.halfOpenSuccesses.Store(0)
	b.halfOpenInFlight.Store(0)
	b.openedAt.Store(time.Now().UnixNano())
	b.state.Store(int32(StateOpen))
}

func (b *Breaker) close() {
	b.consecutiveFailures.Store(0)
	b.halfOpenSuccesses.Store(0)
	b.halfOpenInFlight.Store(0)
	b.state.Store(int32(StateClosed))
}
