package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/starford/notebridge/internal/apperr"
)

func fastPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond}
}

func TestDecide(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}
	unavailable := apperr.New(apperr.Unavailable, "connection refused")

	tests := []struct {
		name    string
		attempt int
		err     error
		want    Decision
	}{
		{"first failure", 0, unavailable, Decision{Retry: true, After: 100 * time.Millisecond}},
		{"second failure", 1, unavailable, Decision{Retry: true, After: 200 * time.Millisecond}},
		{"budget spent", 2, unavailable, Decision{}},
		{"not found", 0, apperr.New(apperr.NotFound, "gone"), Decision{}},
		{"auth", 0, apperr.New(apperr.Auth, "bad token"), Decision{}},
		{"validation", 0, apperr.New(apperr.Validation, "bad id"), Decision{}},
		{"unclassified", 0, errors.New("boom"), Decision{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Decide(tt.attempt, tt.err); got != tt.want {
				t.Errorf("Decide = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDelayIsMonotonicAndCapped(t *testing.T) {
	p := Policy{MaxAttempts: 10, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}
	prev := time.Duration(0)
	for i := 0; i < 10; i++ {
		d := p.Delay(i)
		if d < prev {
			t.Errorf("Delay(%d) = %v < Delay(%d) = %v", i, d, i-1, prev)
		}
		if d > p.MaxDelay {
			t.Errorf("Delay(%d) = %v exceeds cap", i, d)
		}
		prev = d
	}
	if got := p.Delay(5); got != time.Second {
		t.Errorf("Delay(5) = %v, want cap", got)
	}
}

func TestBackOffWithoutJitterMatchesDelay(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond}
	b := p.NewBackOff()
	for i := 0; i < 5; i++ {
		if got, want := b.NextBackOff(), p.Delay(i); got != want {
			t.Errorf("step %d = %v, want %v", i, got, want)
		}
	}
}

func TestBackOffJitterBounds(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Jitter: 0.5}
	for i := 0; i < 100; i++ {
		d := p.NewBackOff().NextBackOff()
		if d < 50*time.Millisecond || d > 150*time.Millisecond {
			t.Fatalf("jittered delay %v outside [50ms, 150ms]", d)
		}
	}
}

func TestDoRetriesTransientFailures(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), fastPolicy(), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", apperr.New(apperr.Unavailable, "503")
		}
		return "ok", nil
	}, nil)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if got != "ok" || calls != 3 {
		t.Errorf("got %q after %d calls", got, calls)
	}
}

func TestDoGivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	var waits []time.Duration
	_, err := Do(context.Background(), fastPolicy(), func(context.Context) (int, error) {
		calls++
		return 0, apperr.New(apperr.Unavailable, "503")
	}, func(_ error, d time.Duration) { waits = append(waits, d) })

	if !errors.Is(err, apperr.Unavailable) {
		t.Fatalf("err = %v, want unavailable", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if len(waits) != 2 {
		t.Errorf("waits = %v, want 2 entries", waits)
	}
}

func TestDoAttemptsMatchDecide(t *testing.T) {
	unavailable := apperr.New(apperr.Unavailable, "503")
	for max := 0; max <= 4; max++ {
		p := Policy{MaxAttempts: max, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

		want := 1
		for p.Decide(want-1, unavailable).Retry {
			want++
		}

		calls := 0
		_, _ = Do(context.Background(), p, func(context.Context) (int, error) {
			calls++
			return 0, unavailable
		}, nil)
		if calls != want {
			t.Errorf("MaxAttempts %d: calls = %d, Decide allows %d", max, calls, want)
		}
	}
}

func TestDoDoesNotRetryPermanentFailures(t *testing.T) {
	for _, kind := range []apperr.Kind{apperr.NotFound, apperr.Auth, apperr.Validation, apperr.RateExhausted} {
		calls := 0
		_, err := Do(context.Background(), fastPolicy(), func(context.Context) (int, error) {
			calls++
			return 0, apperr.New(kind, "nope")
		}, nil)
		if apperr.KindOf(err) != kind {
			t.Errorf("%v: err = %v", kind, err)
		}
		if calls != 1 {
			t.Errorf("%v: calls = %d, want 1", kind, calls)
		}
	}
}

func TestDoStopsAtDeadline(t *testing.T) {
	p := Policy{MaxAttempts: 10, BaseDelay: time.Second, MaxDelay: time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	calls := 0
	_, err := Do(ctx, p, func(context.Context) (int, error) {
		calls++
		return 0, apperr.New(apperr.Unavailable, "timeout")
	}, nil)

	if !errors.Is(err, apperr.Unavailable) {
		t.Fatalf("err = %v, want unavailable", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Do took %v, deadline not respected", elapsed)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
