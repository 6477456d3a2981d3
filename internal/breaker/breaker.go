// Package breaker stops calls to an upstream that keeps failing and lets
// a single probe through once the cool-down has elapsed.
package breaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/starford/notebridge/internal/apperr"
)

// State is the breaker's position in the Closed -> Open -> HalfOpen cycle.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

// States lists every state, for metrics.
var States = []State{Closed, Open, HalfOpen}

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return Open
	case gobreaker.StateHalfOpen:
		return HalfOpen
	default:
		return Closed
	}
}

// Settings configures a Breaker.
type Settings struct {
	Name string
	// Threshold is the number of consecutive transient failures that
	// opens the breaker.
	Threshold int
	CoolDown  time.Duration
	// OnStateChange is called synchronously on every transition.
	OnStateChange func(name string, from, to State)
}

// Breaker is a consecutive-failure circuit breaker. Only Unavailable
// failures count against it; NotFound, Auth, Validation and caller
// cancellations say nothing about upstream health.
type Breaker struct {
	cb       *gobreaker.CircuitBreaker
	coolDown time.Duration
}

// New returns a closed breaker.
func New(s Settings) *Breaker {
	threshold := uint32(s.Threshold)
	if threshold == 0 {
		threshold = 1
	}
	st := gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: 1,
		Timeout:     s.CoolDown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		// A failure counts when an Unavailable is anywhere in its chain,
		// so a retry cut short by the rate limiter still records the
		// transient failure that preceded it. An exchange the caller
		// cancelled says nothing about the upstream; gobreaker has no
		// neutral outcome, so it is passed as a success.
		IsSuccessful: func(err error) bool {
			return !errors.Is(err, apperr.Unavailable) || errors.Is(err, context.Canceled)
		},
	}
	if s.OnStateChange != nil {
		st.OnStateChange = func(name string, from, to gobreaker.State) {
			s.OnStateChange(name, fromGobreaker(from), fromGobreaker(to))
		}
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(st), coolDown: s.CoolDown}
}

// Execute runs fn unless the breaker is open, or half-open with its
// probe already in flight. Rejections are BreakerOpen failures.
func (b *Breaker) Execute(fn func() (any, error)) (any, error) {
	res, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, b.rejection(err)
	}
	return res, err
}

func (b *Breaker) rejection(cause error) *apperr.Failure {
	return &apperr.Failure{
		Kind:       apperr.BreakerOpen,
		Msg:        "upstream circuit is open",
		RetryAfter: b.coolDown,
		Err:        cause,
	}
}

// Allow fails fast with BreakerOpen while the breaker is open, without
// counting as a request. Callers use it before spending a rate-limit
// token on a call the breaker would reject.
func (b *Breaker) Allow() error {
	if b.State() == Open {
		return b.rejection(gobreaker.ErrOpenState)
	}
	return nil
}

// State returns the current state. An open breaker whose cool-down has
// elapsed reports HalfOpen.
func (b *Breaker) State() State { return fromGobreaker(b.cb.State()) }

// ConsecutiveFailures is the current failure streak.
func (b *Breaker) ConsecutiveFailures() int {
	return int(b.cb.Counts().ConsecutiveFailures)
}

// Name returns the breaker's name.
func (b *Breaker) Name() string { return b.cb.Name() }
