package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
)

// Policy retries an operation with exponential backoff. MaxRetries counts retries,
// so an operation runs at most MaxRetries+1 times.
type Policy struct {
	MaxRetries int
	Base       time.Duration
	Max        time.Duration
	If         func(err error) bool
	OnRetry    func(attempt uint, err error)
}

// ExhaustedError is returned when the last attempt still failed with a retryable error.
type ExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

func (p Policy) options(ctx context.Context) []retry.Option {
	attempts := uint(p.MaxRetries + 1)
	opts := []retry.Option{
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(p.Base),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	}
	if p.Max > 0 {
		opts = append(opts, retry.MaxDelay(p.Max))
	}
	if p.If != nil {
		opts = append(opts, retry.RetryIf(p.If))
	}
	if p.OnRetry != nil {
		// retry-go calls OnRetry after the final attempt too, when nothing is retried
		opts = append(opts, retry.OnRetry(func(n uint, err error) {
			if n+1 < attempts {
				p.OnRetry(n, err)
			}
		}))
	}
	return opts
}

// Do runs f until it succeeds, fails with an error the policy does not retry, the
// attempts run out or ctx is done. It returns the number of attempts made.
func Do[T any](ctx context.Context, p Policy, op string, f func() (T, error)) (T, int, error) {
	attempts := 0
	v, err := retry.DoWithData(func() (T, error) {
		attempts++
		return f()
	}, p.options(ctx)...)
	if err == nil {
		return v, attempts, nil
	}

	if attempts > p.MaxRetries && (p.If == nil || p.If(err)) {
		return v, attempts, &ExhaustedError{Op: op, Attempts: attempts, Err: err}
	}
	return v, attempts, err
}
