package openf1

import (
	"context"
	"net"
	"net/url"
	"time"

	"github.com/pkg/errors"
)

// RetryPolicy decides how many times a request is attempted and how long to
// wait between attempts.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
	Retryable   func(err error) bool
}

// DefaultRetryPolicy: 3 attempts, 5s then 10s between them, server and
// transport errors only.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     ExponentialBackoff(5 * time.Second),
		Retryable:   RetryServerErrors,
	}
}

// ExponentialBackoff returns base * 2^attempt, attempt counted from 0.
func ExponentialBackoff(base time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		if attempt < 0 {
			attempt = 0
		}
		return base << uint(attempt)
	}
}

// RetryServerErrors retries 5xx responses and transport failures. 401 and the
// rest of 4xx are final, as are decode errors and context cancellation.
func RetryServerErrors(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do runs attempt until it succeeds, returns a non-retryable error or the
// policy runs out of attempts. The last error is returned.
func (p RetryPolicy) Do(ctx context.Context, sleep Sleeper, attempt func(ctx context.Context) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = RetryServerErrors
	}
	if sleep == nil {
		sleep = sleepCtx
	}

	var err error
	for i := 0; i < maxAttempts; i++ {
		err = attempt(ctx)
		if err == nil {
			return nil
		}
		if !retryable(err) || i == maxAttempts-1 {
			break
		}
		var wait time.Duration
		if p.Backoff != nil {
			wait = p.Backoff(i)
		}
		if serr := sleep(ctx, wait); serr != nil {
			return errors.Wrap(serr, "retry wait")
		}
	}
	return err
}
