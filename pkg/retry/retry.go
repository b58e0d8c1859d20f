// Package retry runs an operation under a jittered exponential backoff policy
package retry

import (
	"context"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

// RetryPolicy defines how to retry an operation
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultPolicy is a sensible default retry policy
var DefaultPolicy = RetryPolicy{
	MaxAttempts:    3,
	InitialBackoff: 100 * time.Millisecond,
	MaxBackoff:     2 * time.Second,
}

// IsTransientFunc defines if an error is transient and should be retried
type IsTransientFunc func(error) bool

// AlwaysTransient retries every error
func AlwaysTransient(error) bool { return true }

// Do executes fn until it succeeds, returns a non-transient error, or the attempts run out.
// The last error is returned unwrapped.
func Do(ctx context.Context, policy RetryPolicy, isTransient IsTransientFunc, fn func() error) error {
	if isTransient == nil {
		isTransient = AlwaysTransient
	}
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	builder := retrypolicy.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool {
			return err != nil && isTransient(err)
		}).
		WithMaxAttempts(attempts).
		ReturnLastFailure()

	switch {
	case policy.InitialBackoff > 0 && policy.MaxBackoff > policy.InitialBackoff:
		builder = builder.WithBackoff(policy.InitialBackoff, policy.MaxBackoff).WithJitterFactor(0.25)
	case policy.InitialBackoff > 0:
		builder = builder.WithDelay(policy.InitialBackoff)
	}

	return failsafe.With[any](builder.Build()).WithContext(ctx).Run(fn)
}
