package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitOpenError is returned while a breaker rejects calls. It matches
// ErrCircuitOpen.
type CircuitOpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	wait := max(e.RetryAfter, 0)
	if e.Name == "" {
		return fmt.Sprintf("%v: retry in %s", ErrCircuitOpen, wait)
	}
	return fmt.Sprintf("%v for %s: retry in %s", ErrCircuitOpen, e.Name, wait)
}

func (e *CircuitOpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

type CircuitBreakerState string

const (
	CircuitClosed   CircuitBreakerState = "closed"
	CircuitOpen     CircuitBreakerState = "open"
	CircuitHalfOpen CircuitBreakerState = "half_open"
)

type CircuitBreakerConfig struct {
	Name string
	// FailureThreshold is the number of consecutive counted failures that
	// opens the breaker.
	FailureThreshold int
	OpenTimeout      time.Duration

	// IsFailure decides whether an error counts against the breaker. Nil
	// counts every error except context.Canceled.
	IsFailure func(error) bool

	// OnStateChange runs outside the breaker lock.
	OnStateChange func(name string, from, to CircuitBreakerState)
}

// CircuitBreaker guards the control calls of one node. Once open it admits a
// single probe after OpenTimeout; the probe's outcome closes or reopens it.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	now func() time.Time

	mu          sync.Mutex
	state       CircuitBreakerState
	consecutive int
	reopenAt    time.Time
	probing     bool
}

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 10 * time.Second
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now, state: CircuitClosed}
}

func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	from, to := cb.advanceLocked(cb.now())
	cb.mu.Unlock()

	cb.report(from, to)
	return to
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from, to := cb.moveLocked(CircuitClosed)
	cb.mu.Unlock()

	cb.report(from, to)
}

// Execute runs fn unless the breaker is open. fn's error is returned as is.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}

	err = fn(ctx)
	cb.record(probe, err)
	return err
}

func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	now := cb.now()
	from, to := cb.advanceLocked(now)

	switch {
	case to == CircuitOpen, to == CircuitHalfOpen && cb.probing:
		err = &CircuitOpenError{Name: cb.cfg.Name, RetryAfter: max(cb.reopenAt.Sub(now), 0)}
	case to == CircuitHalfOpen:
		cb.probing = true
		probe = true
	}
	cb.mu.Unlock()

	cb.report(from, to)
	return probe, err
}

func (cb *CircuitBreaker) record(probe bool, err error) {
	counted := err != nil && !errors.Is(err, context.Canceled) && cb.counts(err)

	cb.mu.Lock()
	if probe {
		cb.probing = false
	}

	from, to := cb.state, cb.state
	switch {
	case err == nil:
		cb.consecutive = 0
		if probe {
			from, to = cb.moveLocked(CircuitClosed)
		}
	case !counted:
	case probe:
		from, to = cb.moveLocked(CircuitOpen)
	case cb.state == CircuitClosed:
		cb.consecutive++
		if cb.consecutive >= cb.cfg.FailureThreshold {
			from, to = cb.moveLocked(CircuitOpen)
		}
	}
	cb.mu.Unlock()

	cb.report(from, to)
}

func (cb *CircuitBreaker) counts(err error) bool {
	return cb.cfg.IsFailure == nil || cb.cfg.IsFailure(err)
}

// advanceLocked lets an open breaker whose timeout has passed go half-open.
func (cb *CircuitBreaker) advanceLocked(now time.Time) (from, to CircuitBreakerState) {
	if cb.state == CircuitOpen && !now.Before(cb.reopenAt) {
		return cb.moveLocked(CircuitHalfOpen)
	}
	return cb.state, cb.state
}

func (cb *CircuitBreaker) moveLocked(next CircuitBreakerState) (from, to CircuitBreakerState) {
	from = cb.state
	cb.state = next
	cb.consecutive = 0
	cb.probing = false
	if next == CircuitOpen {
		cb.reopenAt = cb.now().Add(cb.cfg.OpenTimeout)
	}
	return from, next
}

func (cb *CircuitBreaker) report(from, to CircuitBreakerState) {
	if from != to && cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}
}
