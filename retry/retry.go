// Package retry re-executes fallible operations under the per-kind policies
// defined in apperr.
package retry

import (
	"context"
	"time"

	"lexitrend-go/apperr"
	"lexitrend-go/logcolors"

	log "github.com/sirupsen/logrus"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Runner applies a policy table to operations.
type Runner struct {
	policies map[apperr.Kind]apperr.Policy
	sleep    SleepFunc
}

// Option configures a Runner.
type Option func(*Runner)

// WithPolicy overrides the policy for one kind.
func WithPolicy(kind apperr.Kind, p apperr.Policy) Option {
	return func(r *Runner) { r.policies[kind] = p }
}

// WithSleep replaces the wait between attempts. Tests use it to avoid
// real delays.
func WithSleep(fn SleepFunc) Option {
	return func(r *Runner) { r.sleep = fn }
}

// NewRunner creates a Runner with the default policy table.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		policies: apperr.DefaultPolicies(),
		sleep:    contextSleep,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Policy returns the policy the runner applies to kind.
func (r *Runner) Policy(kind apperr.Kind) apperr.Policy {
	if p, ok := r.policies[kind]; ok {
		return p
	}
	return r.policies[apperr.KindUnknown]
}

// Do runs op under the policy for kind. A non-retryable policy makes
// exactly one attempt and returns its error unchanged. Otherwise op is
// retried up to MaxRetries more times and the last error is returned.
func (r *Runner) Do(ctx context.Context, kind apperr.Kind, op func(ctx context.Context) error) error {
	policy := r.Policy(kind)
	if !policy.Retryable {
		return op(ctx)
	}

	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == policy.MaxRetries {
			break
		}

		delay := policy.Delay(attempt)
		log.Debugf("%s %s attempt %d/%d failed, retrying in %v: %v",
			logcolors.LogRetry, kind, attempt+1, policy.MaxRetries+1, delay, lastErr)
		if err := r.sleep(ctx, delay); err != nil {
			return lastErr
		}
	}
	return lastErr
}

// Value is Do for operations that produce a result.
func Value[T any](ctx context.Context, r *Runner, kind apperr.Kind, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, kind, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

func contextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
