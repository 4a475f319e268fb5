// Package circuitbreaker stops calling an upstream that keeps failing and
// tries it again after a cooldown.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"lexitrend-go/logcolors"

	log "github.com/sirupsen/logrus"
)

// State represents the circuit breaker state
type State int

const (
	StateClosed   State = iota // calls pass through
	StateOpen                  // calls are rejected until the cooldown ends
	StateHalfOpen              // a single trial call is in flight
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the state by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var ErrCircuitOpen = errors.New("circuit breaker is open")

const (
	defaultThreshold       = 5
	defaultCooldown        = 5 * time.Minute
	defaultHalfOpenTimeout = 30 * time.Second
)

// Config holds circuit breaker configuration. Zero values take defaults.
type Config struct {
	Name      string
	Threshold int           // consecutive failures that open the circuit
	Cooldown  time.Duration // time spent OPEN before a trial call is allowed
	// HalfOpenTimeout bounds how long a trial call may run before the circuit
	// reopens.
	HalfOpenTimeout time.Duration
	// OnTrip and OnRecover run with the breaker locked; they must not call
	// back into it.
	OnTrip    func(name string, failures int)
	OnRecover func(name string)
	Now       func() time.Time
}

// Snapshot is a point-in-time view of a breaker.
type Snapshot struct {
	Name        string        `json:"name"`
	State       State         `json:"state"`
	Failures    int           `json:"failures"`
	Threshold   int           `json:"threshold"`
	LastFailure *time.Time    `json:"last_failure,omitempty"`
	RetryIn     time.Duration `json:"retry_in_ns"`
}

type CircuitBreaker struct {
	cfg Config

	mu            sync.RWMutex
	state         State
	failures      int
	openedAt      time.Time // last failure that kept or put the circuit open
	trialDeadline time.Time
}

func New(cfg Config) *CircuitBreaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = defaultThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultCooldown
	}
	if cfg.HalfOpenTimeout <= 0 {
		cfg.HalfOpenTimeout = defaultHalfOpenTimeout
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{cfg: cfg, state: StateClosed}
}

// setState moves to next and logs the reason. Callers hold the lock.
func (cb *CircuitBreaker) setState(next State, reason string) {
	prev := cb.state
	cb.state = next
	prefix := logcolors.CircuitBreakerPrefix(cb.cfg.Name)

	switch next {
	case StateOpen:
		log.Warnf("%s %s -> OPEN: %s (retry in %v)", prefix, prev, reason, cb.cfg.Cooldown)
		if cb.cfg.OnTrip != nil {
			cb.cfg.OnTrip(cb.cfg.Name, cb.failures)
		}
	case StateHalfOpen:
		cb.trialDeadline = cb.cfg.Now().Add(cb.cfg.HalfOpenTimeout)
		log.Infof("%s %s -> HALF-OPEN: %s", prefix, prev, reason)
	case StateClosed:
		cb.failures = 0
		log.Infof("%s %s -> CLOSED: %s", prefix, prev, reason)
		if prev == StateHalfOpen && cb.cfg.OnRecover != nil {
			cb.cfg.OnRecover(cb.cfg.Name)
		}
	}
}

// Allow reports whether a call may proceed. After the cooldown exactly one
// trial call is let through; further calls wait for its outcome.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.cfg.Now()
	switch cb.state {
	case StateOpen:
		if now.Sub(cb.openedAt) < cb.cfg.Cooldown {
			return false
		}
		cb.setState(StateHalfOpen, "cooldown elapsed")
		return true
	case StateHalfOpen:
		if !now.Before(cb.trialDeadline) {
			cb.openedAt = now
			cb.setState(StateOpen, "trial call timed out")
		}
		return false
	default:
		return true
	}
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		cb.setState(StateClosed, "trial call succeeded")
	case StateClosed:
		cb.failures = 0
	}
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.openedAt = cb.cfg.Now()

	switch {
	case cb.state == StateHalfOpen:
		cb.setState(StateOpen, "trial call failed")
	case cb.state == StateClosed && cb.failures >= cb.cfg.Threshold:
		cb.setState(StateOpen, "failure threshold reached")
	}
}

// Execute runs fn if the circuit allows it and records the outcome.
// Errors for which ignore returns true count as successes: the upstream
// answered, the request was just refused.
func (cb *CircuitBreaker) Execute(fn func() error, ignore func(error) bool) error {
	if !cb.Allow() {
		return ErrCircuitOpen
	}
	err := fn()
	if err == nil || (ignore != nil && ignore(err)) {
		cb.RecordSuccess()
	} else {
		cb.RecordFailure()
	}
	return err
}

// Reset closes the circuit and forgets past failures.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.openedAt = time.Time{}
	cb.trialDeadline = time.Time{}
	log.Infof("%s Manually reset to CLOSED", logcolors.CircuitBreakerPrefix(cb.cfg.Name))
}

func (cb *CircuitBreaker) Name() string {
	return cb.cfg.Name
}

func (cb *CircuitBreaker) Threshold() int {
	return cb.cfg.Threshold
}

func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

func (cb *CircuitBreaker) IsOpen() bool {
	return cb.State() == StateOpen
}

func (cb *CircuitBreaker) IsHalfOpen() bool {
	return cb.State() == StateHalfOpen
}

// Failures is the current run of consecutive failures.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.failures
}

// TimeUntilRetry is the remaining cooldown while OPEN, the remaining trial
// time while HALF-OPEN, and zero while CLOSED.
func (cb *CircuitBreaker) TimeUntilRetry() time.Duration {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.retryIn()
}

func (cb *CircuitBreaker) retryIn() time.Duration {
	var until time.Time
	switch cb.state {
	case StateOpen:
		until = cb.openedAt.Add(cb.cfg.Cooldown)
	case StateHalfOpen:
		until = cb.trialDeadline
	default:
		return 0
	}
	if d := until.Sub(cb.cfg.Now()); d > 0 {
		return d
	}
	return 0
}

func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	s := Snapshot{
		Name:      cb.cfg.Name,
		State:     cb.state,
		Failures:  cb.failures,
		Threshold: cb.cfg.Threshold,
		RetryIn:   cb.retryIn(),
	}
	if cb.state != StateClosed || cb.failures > 0 {
		last := cb.openedAt
		s.LastFailure = &last
	}
	return s
}
