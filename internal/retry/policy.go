// Package retry decides whether and when a failed upstream attempt is
// tried again.
package retry

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/starford/notebridge/internal/apperr"
)

// Policy is exponential backoff with jitter. The n-th retry waits
// BaseDelay*2^n capped at MaxDelay, spread by +/- Jitter of itself.
type Policy struct {
	// MaxAttempts counts the first try.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter is a fraction in [0, 1).
	Jitter float64
}

// Default returns three tries starting at 200ms.
func Default() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Jitter:      0.2,
	}
}

// Decision is the outcome of consulting the policy after a failure.
type Decision struct {
	Retry bool
	After time.Duration
}

// Retryable reports whether err is transient. Only Unavailable
// failures qualify.
func Retryable(err error) bool {
	return err != nil && apperr.KindOf(err) == apperr.Unavailable
}

// Decide is the policy as a pure function: attempt is the zero-based
// index of the attempt that just failed with err. The returned delay is
// un-jittered.
func (p Policy) Decide(attempt int, err error) Decision {
	if !Retryable(err) || attempt+1 >= p.MaxAttempts {
		return Decision{}
	}
	return Decision{Retry: true, After: p.Delay(attempt)}
}

// Delay is the un-jittered wait after the attempt-th failure.
func (p Policy) Delay(attempt int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// NewBackOff returns a fresh backoff sequence for one logical call.
func (p Policy) NewBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = 2
	b.MaxInterval = p.MaxDelay
	b.RandomizationFactor = p.Jitter
	b.Reset()
	return b
}

// Notify is called before each retry wait.
type Notify func(err error, wait time.Duration)

// Do runs op until it succeeds or Decide gives up. Waits between
// attempts come from NewBackOff and observe ctx; if ctx ends during a
// wait the last attempt's failure is returned, or an Unavailable
// failure when there was none.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error), notify Notify) (T, error) {
	var (
		last    error
		attempt int
	)
	wrapped := func() (T, error) {
		res, err := op(ctx)
		if err == nil {
			return res, nil
		}
		last = err
		d := p.Decide(attempt, err)
		attempt++
		if !d.Retry {
			return res, backoff.Permanent(err)
		}
		return res, err
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(p.NewBackOff()),
		backoff.WithMaxElapsedTime(0),
	}
	if notify != nil {
		opts = append(opts, backoff.WithNotify(backoff.Notify(notify)))
	}

	res, err := backoff.Retry(ctx, wrapped, opts...)
	if err == nil {
		return res, nil
	}
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Unwrap()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if last != nil && apperr.KindOf(last) != apperr.Internal {
			return res, last
		}
		return res, apperr.Wrap(apperr.Unavailable, err, "deadline reached while retrying")
	}
	return res, err
}
