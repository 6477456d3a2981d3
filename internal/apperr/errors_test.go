package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestFailureIsKind(t *testing.T) {
	err := fmt.Errorf("outer: %w", Errorf(NotFound, "note %s not found", "abc"))

	if !errors.Is(err, NotFound) {
		t.Error("errors.Is(err, NotFound) = false")
	}
	if errors.Is(err, Auth) {
		t.Error("errors.Is(err, Auth) = true")
	}
	if got := KindOf(err); got != NotFound {
		t.Errorf("KindOf = %v, want %v", got, NotFound)
	}
}

func TestKindOfUnclassified(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != Internal {
		t.Errorf("KindOf = %v, want internal", got)
	}
	if got := KindOf(Unavailable); got != Unavailable {
		t.Errorf("KindOf(bare kind) = %v, want unavailable", got)
	}
}

func TestFromWrapsUnknown(t *testing.T) {
	cause := errors.New("disk on fire")
	f := From(cause)
	if f.Kind != Internal {
		t.Errorf("kind = %v, want internal", f.Kind)
	}
	if !errors.Is(f, cause) {
		t.Error("cause not reachable")
	}
	if From(nil) != nil {
		t.Error("From(nil) should be nil")
	}
}

func TestWithOpKeepsOriginal(t *testing.T) {
	orig := New(Validation, "id is required")
	tagged := WithOp(orig, "get_note")

	if tagged.Op != "get_note" {
		t.Errorf("op = %q", tagged.Op)
	}
	if orig.Op != "" {
		t.Error("original failure was mutated")
	}
	if got := tagged.Error(); got != "get_note: id is required" {
		t.Errorf("Error() = %q", got)
	}
	if got := Message(tagged); got != "id is required" {
		t.Errorf("Message = %q", got)
	}
}

func TestKindString(t *testing.T) {
	cases := map[Kind]string{
		Validation:    "validation",
		RateExhausted: "rate_exhausted",
		BreakerOpen:   "breaker_open",
		Kind(99):      "kind(99)",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(k), got, want)
		}
	}
}

func TestKindTextRoundTrip(t *testing.T) {
	var k Kind
	if err := k.UnmarshalText([]byte("breaker_open")); err != nil || k != BreakerOpen {
		t.Errorf("UnmarshalText(breaker_open) = %v, %v", k, err)
	}
	if err := k.UnmarshalText([]byte("bogus")); err == nil {
		t.Error("expected error for unknown kind")
	}
}
