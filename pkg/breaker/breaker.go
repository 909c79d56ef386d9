// Package breaker implements a three-state circuit breaker that guards a
// fallible downstream call. One Breaker instance protects one dependency for
// the lifetime of the process.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed allows calls through and counts consecutive failures.
	StateClosed State = iota
	// StateOpen rejects calls until the recovery timeout elapses.
	StateOpen
	// StateHalfOpen lets a probe call through to test recovery.
	StateHalfOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrOpen is returned by Call without invoking the operation while the
// circuit is open. Callers can detect it with errors.Is and choose to skip
// rather than queue.
var ErrOpen = errors.New("circuit breaker is open")

// Default policy. Tunable through New.
const (
	DefaultFailureThreshold = 3
	DefaultRecoveryTimeout  = 60 * time.Second
)

// Breaker is a mutex-guarded consecutive-failure circuit breaker.
// The protected operation itself runs outside the critical section so a slow
// call never blocks state checks from other callers.
type Breaker struct {
	failureThreshold int
	recoveryTimeout  time.Duration

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time

	now func() time.Time
}

// New creates a Breaker. Non-positive arguments fall back to the defaults.
func New(failureThreshold int, recoveryTimeout time.Duration) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = DefaultRecoveryTimeout
	}
	return &Breaker{
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		state:            StateClosed,
		now:              time.Now,
	}
}

// Call executes op and returns its error, or ErrOpen without invoking op when
// the circuit is open and the recovery timeout has not elapsed. The first call
// after the timeout becomes the half-open probe: its success closes the
// circuit, its failure re-opens it immediately. While the probe is in flight
// every other caller gets ErrOpen, so a recovering dependency sees exactly
// one request instead of the waiting stampede.
func (b *Breaker) Call(op func() error) error {
	b.mu.Lock()
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.lastFailure) <= b.recoveryTimeout {
			b.mu.Unlock()
			return ErrOpen
		}
		b.state = StateHalfOpen
	case StateHalfOpen:
		// Another caller owns the probe.
		b.mu.Unlock()
		return ErrOpen
	}
	b.mu.Unlock()

	err := op()

	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		// A healthy call forgives past sporadic failures.
		b.state = StateClosed
		b.failures = 0
		return nil
	}

	b.failures++
	b.lastFailure = b.now()
	if b.state == StateHalfOpen || b.failures >= b.failureThreshold {
		b.state = StateOpen
	}
	return err
}

// State reports the current state without mutating it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
