// Package ratelimit gates outbound calls to the note store with a token
// bucket shared by every concurrent caller.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/starford/notebridge/internal/apperr"
	"github.com/starford/notebridge/internal/clock"
)

// Limiter is a token bucket of capacity burst refilling at rps tokens
// per second. Refill is computed lazily from elapsed time on each
// acquisition; there is no background ticker.
type Limiter struct {
	lim   *rate.Limiter
	clock clock.Clock
}

// New returns a full bucket.
func New(rps float64, burst int, clk clock.Clock) *Limiter {
	if clk == nil {
		clk = clock.Real()
	}
	return &Limiter{lim: rate.NewLimiter(rate.Limit(rps), burst), clock: clk}
}

// Acquire takes one token, waiting for the refill if necessary. When
// the wait would outlast ctx's deadline it fails immediately with
// RateExhausted and gives the reservation back. Deadlines are wall-clock
// times, so that check uses the real time remaining. A wait abandoned by
// cancellation keeps the token spent.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return apperr.Wrap(apperr.RateExhausted, err, "rate limit wait cancelled")
	}

	now := l.clock.Now()
	r := l.lim.ReserveN(now, 1)
	if !r.OK() {
		return apperr.New(apperr.Internal, "rate limiter burst is zero")
	}
	delay := r.DelayFrom(now)
	if delay <= 0 {
		return nil
	}

	if dl, ok := ctx.Deadline(); ok && delay > time.Until(dl) {
		r.CancelAt(now)
		return &apperr.Failure{
			Kind:       apperr.RateExhausted,
			Msg:        "rate limit budget exhausted before deadline",
			RetryAfter: delay,
		}
	}

	select {
	case <-l.clock.After(delay):
		return nil
	case <-ctx.Done():
		return &apperr.Failure{
			Kind:       apperr.RateExhausted,
			Msg:        "rate limit wait cancelled",
			RetryAfter: delay,
			Err:        ctx.Err(),
		}
	}
}

// Available reports the tokens currently in the bucket, in [0, burst].
// Reservations still waiting for refill count as debt and read as zero.
func (l *Limiter) Available() float64 {
	tokens := l.lim.TokensAt(l.clock.Now())
	if tokens < 0 {
		return 0
	}
	if b := float64(l.lim.Burst()); tokens > b {
		return b
	}
	return tokens
}

// Burst returns the bucket capacity.
func (l *Limiter) Burst() int { return l.lim.Burst() }

// Rate returns the refill rate in tokens per second.
func (l *Limiter) Rate() float64 { return float64(l.lim.Limit()) }

// Wait returns how long a caller arriving now would wait for a token.
func (l *Limiter) Wait() time.Duration {
	tokens := l.lim.TokensAt(l.clock.Now())
	if tokens >= 1 || l.Rate() <= 0 {
		return 0
	}
	return time.Duration((1 - tokens) / l.Rate() * float64(time.Second))
}
