// Package apperr defines the failure taxonomy shared by every layer.
// Each error that leaves the dispatcher is a *Failure carrying exactly
// one Kind; transports map the Kind to a status code or tool error.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a failure. Kind implements error so callers can write
// errors.Is(err, apperr.NotFound).
type Kind int

const (
	Internal Kind = iota
	Validation
	NotFound
	Auth
	Unavailable
	RateExhausted
	BreakerOpen
)

var kindNames = map[Kind]string{
	Internal:      "internal",
	Validation:    "validation",
	NotFound:      "not_found",
	Auth:          "auth",
	Unavailable:   "unavailable",
	RateExhausted: "rate_exhausted",
	BreakerOpen:   "breaker_open",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func (k Kind) Error() string { return k.String() }

// MarshalText renders the kind as its snake_case name.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText parses a snake_case kind name.
func (k *Kind) UnmarshalText(b []byte) error {
	for kind, name := range kindNames {
		if name == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown failure kind %q", b)
}

// Failure is a classified error.
type Failure struct {
	Kind Kind
	// Op names the operation that failed (e.g. "get_note"); optional.
	Op  string
	Msg string
	// RetryAfter is a hint for BreakerOpen and RateExhausted.
	RetryAfter time.Duration
	Err        error
}

func (f *Failure) Error() string {
	msg := f.Msg
	if msg == "" {
		msg = f.Kind.String()
	}
	if f.Op != "" {
		msg = f.Op + ": " + msg
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *Failure) Unwrap() error { return f.Err }

// Is reports whether target is the failure's Kind.
func (f *Failure) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == f.Kind
}

// New returns a failure of the given kind.
func New(kind Kind, msg string) *Failure {
	return &Failure{Kind: kind, Msg: msg}
}

// Errorf formats a failure message.
func Errorf(kind Kind, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. The cause stays reachable through errors.Unwrap.
func Wrap(kind Kind, err error, msg string) *Failure {
	return &Failure{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the kind of err. Unclassified errors are Internal.
func KindOf(err error) Kind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return Internal
}

// From returns err as a *Failure, classifying unknown errors as Internal.
// It returns nil for a nil error.
func From(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	var k Kind
	if errors.As(err, &k) {
		return &Failure{Kind: k}
	}
	return &Failure{Kind: Internal, Msg: "unexpected error", Err: err}
}

// WithOp returns a copy of err's failure tagged with op. An existing op
// is kept.
func WithOp(err error, op string) *Failure {
	f := From(err)
	if f == nil {
		return nil
	}
	if f.Op != "" {
		return f
	}
	cp := *f
	cp.Op = op
	return &cp
}

// Message is the human-readable part of a failure, without the op
// prefix or wrapped cause.
func Message(err error) string {
	f := From(err)
	if f == nil {
		return ""
	}
	if f.Msg != "" {
		return f.Msg
	}
	return f.Kind.String()
}
