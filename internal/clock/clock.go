// Package clock abstracts time so that rate limiting and connection
// probing can be tested without sleeping.
package clock

import "time"

// Clock is the subset of the time package used by the access layer.
type Clock interface {
	Now() time.Time
	// After behaves like time.After. If d <= 0 the channel is ready
	// immediately.
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
