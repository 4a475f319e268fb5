package apperr

import "time"

// Policy describes how failures of one kind are retried. Backoff receives
// the zero-indexed attempt that just failed.
type Policy struct {
	MaxRetries int
	Backoff    func(attempt int) time.Duration
	Retryable  bool
	// Fallback names the degraded path a caller may take once retries are
	// exhausted ("memory" for storage, "skip" for cache).
	Fallback string
}

// Delay returns the wait after the given failed attempt.
func (p Policy) Delay(attempt int) time.Duration {
	if p.Backoff == nil {
		return time.Second
	}
	return p.Backoff(attempt)
}

func exponential(base time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		return base * time.Duration(1<<uint(attempt))
	}
}

func linear(step time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		return step * time.Duration(attempt)
	}
}

func fixed(d time.Duration) func(int) time.Duration {
	return func(int) time.Duration { return d }
}

// DefaultPolicies is the built-in policy table.
func DefaultPolicies() map[Kind]Policy {
	return map[Kind]Policy{
		KindNetwork:    {MaxRetries: 3, Backoff: exponential(time.Second), Retryable: true},
		KindAPI:        {MaxRetries: 2, Backoff: linear(2 * time.Second), Retryable: true},
		KindValidation: {MaxRetries: 0, Retryable: false},
		KindStorage:    {MaxRetries: 2, Backoff: fixed(time.Second), Retryable: true, Fallback: "memory"},
		KindCache:      {MaxRetries: 1, Backoff: fixed(500 * time.Millisecond), Retryable: true, Fallback: "skip"},
		KindUnknown:    {MaxRetries: 0, Backoff: fixed(time.Second), Retryable: false},
	}
}

var defaultPolicies = DefaultPolicies()

// PolicyFor returns the built-in policy for kind.
func PolicyFor(kind Kind) Policy {
	if p, ok := defaultPolicies[kind]; ok {
		return p
	}
	return defaultPolicies[KindUnknown]
}
