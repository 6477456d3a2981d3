package breaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/starford/notebridge/internal/apperr"
)

func fail(kind apperr.Kind) func() (any, error) {
	return func() (any, error) { return nil, apperr.New(kind, "upstream said no") }
}

func succeed() (any, error) { return "ok", nil }

func TestBreakerTripsAndRecovers(t *testing.T) {
	var (
		mu          sync.Mutex
		transitions []State
	)
	b := New(Settings{
		Name:      "joplin",
		Threshold: 3,
		CoolDown:  50 * time.Millisecond,
		OnStateChange: func(_ string, _, to State) {
			mu.Lock()
			transitions = append(transitions, to)
			mu.Unlock()
		},
	})

	for i := 0; i < 3; i++ {
		if _, err := b.Execute(fail(apperr.Unavailable)); !errors.Is(err, apperr.Unavailable) {
			t.Fatalf("call %d: err = %v", i, err)
		}
	}
	if b.State() != Open {
		t.Fatalf("state = %s, want open", b.State())
	}

	called := false
	_, err := b.Execute(func() (any, error) { called = true; return nil, nil })
	if !errors.Is(err, apperr.BreakerOpen) {
		t.Fatalf("err = %v, want breaker_open", err)
	}
	if called {
		t.Error("operation ran while breaker was open")
	}

	time.Sleep(60 * time.Millisecond)
	if b.State() != HalfOpen {
		t.Fatalf("state = %s, want half_open", b.State())
	}
	if _, err := b.Execute(succeed); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if b.State() != Closed {
		t.Errorf("state = %s, want closed", b.State())
	}

	mu.Lock()
	defer mu.Unlock()
	want := []State{Open, HalfOpen, Closed}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, transitions[i], want[i])
		}
	}
}

func TestFailedProbeReopens(t *testing.T) {
	b := New(Settings{Name: "joplin", Threshold: 1, CoolDown: 30 * time.Millisecond})
	b.Execute(fail(apperr.Unavailable))

	time.Sleep(40 * time.Millisecond)
	b.Execute(fail(apperr.Unavailable))
	if b.State() != Open {
		t.Fatalf("state = %s, want open after failed probe", b.State())
	}
}

func TestHalfOpenAdmitsSingleProbe(t *testing.T) {
	b := New(Settings{Name: "joplin", Threshold: 1, CoolDown: 20 * time.Millisecond})
	b.Execute(fail(apperr.Unavailable))
	time.Sleep(30 * time.Millisecond)

	release := make(chan struct{})
	started := make(chan struct{})
	go b.Execute(func() (any, error) {
		close(started)
		<-release
		return nil, nil
	})
	<-started

	_, err := b.Execute(succeed)
	if !errors.Is(err, apperr.BreakerOpen) {
		t.Errorf("second half-open call err = %v, want breaker_open", err)
	}
	close(release)
}

func TestNonTransientFailuresDoNotCount(t *testing.T) {
	b := New(Settings{Name: "joplin", Threshold: 2, CoolDown: time.Minute})
	for _, kind := range []apperr.Kind{apperr.NotFound, apperr.Auth, apperr.Validation, apperr.NotFound} {
		b.Execute(fail(kind))
	}
	if b.State() != Closed {
		t.Errorf("state = %s, want closed", b.State())
	}

	b.Execute(fail(apperr.Unavailable))
	b.Execute(fail(apperr.NotFound))
	if got := b.ConsecutiveFailures(); got != 0 {
		t.Errorf("streak = %d, want reset by non-transient outcome", got)
	}
}

func TestWrappedTransientFailureCounts(t *testing.T) {
	b := New(Settings{Name: "joplin", Threshold: 1, CoolDown: time.Minute})
	b.Execute(func() (any, error) {
		return nil, &apperr.Failure{
			Kind: apperr.RateExhausted,
			Err:  apperr.New(apperr.Unavailable, "503"),
		}
	})
	if b.State() != Open {
		t.Errorf("state = %s, want open", b.State())
	}
}

func TestCallerCancellationDoesNotCount(t *testing.T) {
	b := New(Settings{Name: "joplin", Threshold: 2, CoolDown: time.Minute})
	for i := 0; i < 5; i++ {
		b.Execute(func() (any, error) {
			return nil, apperr.Wrap(apperr.Unavailable, context.Canceled, "upstream request cancelled")
		})
	}
	if b.State() != Closed {
		t.Errorf("state = %s, want closed", b.State())
	}
	if got := b.ConsecutiveFailures(); got != 0 {
		t.Errorf("streak = %d, want 0", got)
	}

	b.Execute(func() (any, error) {
		return nil, apperr.Wrap(apperr.Unavailable, context.DeadlineExceeded, "upstream timed out")
	})
	if got := b.ConsecutiveFailures(); got != 1 {
		t.Errorf("timeout streak = %d, want 1", got)
	}
}

func TestAllow(t *testing.T) {
	b := New(Settings{Name: "joplin", Threshold: 1, CoolDown: time.Minute})
	if err := b.Allow(); err != nil {
		t.Fatalf("closed breaker: %v", err)
	}
	b.Execute(fail(apperr.Unavailable))
	err := b.Allow()
	if !errors.Is(err, apperr.BreakerOpen) {
		t.Fatalf("err = %v, want breaker_open", err)
	}
	if f := apperr.From(err); f.RetryAfter != time.Minute {
		t.Errorf("retry after = %v, want 1m", f.RetryAfter)
	}
}
