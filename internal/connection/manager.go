// Package connection tracks whether the upstream is worth calling and
// probes it when it is not.
package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/starford/notebridge/internal/apperr"
	"github.com/starford/notebridge/internal/clock"
)

// State is the manager's view of upstream health.
type State string

const (
	Disconnected State = "disconnected"
	Connecting   State = "connecting"
	Connected    State = "connected"
	Degraded     State = "degraded"
	// Fatal means the upstream rejected the credential. Only a new token
	// (Reconfigure) or a later successful probe leaves it.
	Fatal State = "fatal"
)

// States lists every state, for metrics.
var States = []State{Disconnected, Connecting, Connected, Degraded, Fatal}

// Usable reports whether operations are dispatched without a probe.
func (s State) Usable() bool { return s == Connected || s == Degraded }

// Upstream is what the manager needs from the client.
type Upstream interface {
	Ping(ctx context.Context) error
	CheckAuth(ctx context.Context) error
	SetToken(token string)
}

// Config tunes probing.
type Config struct {
	// MinProbeInterval is the least time between two probes.
	MinProbeInterval time.Duration
	// ProbeTimeout bounds one probe, independent of the callers waiting
	// on it.
	ProbeTimeout time.Duration
}

// Status is a point-in-time snapshot.
type Status struct {
	State       State     `json:"state"`
	LastSuccess time.Time `json:"last_success,omitempty"`
	LastProbe   time.Time `json:"last_probe,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	LastKind    string    `json:"last_error_kind,omitempty"`
}

// Manager owns the connection state. It is safe for concurrent use.
type Manager struct {
	up       Upstream
	cfg      Config
	clock    clock.Clock
	logger   *slog.Logger
	onChange func(from, to State)

	probes singleflight.Group

	mu          sync.Mutex
	state       State
	lastSuccess time.Time
	lastProbe   time.Time
	lastErr     error
	lastErrAt   time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the real clock.
func WithClock(c clock.Clock) Option { return func(m *Manager) { m.clock = c } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.logger = l } }

// WithStateChange registers a callback invoked after every transition,
// outside the manager's lock.
func WithStateChange(fn func(from, to State)) Option {
	return func(m *Manager) { m.onChange = fn }
}

// New returns a manager in the Disconnected state.
func New(up Upstream, cfg Config, opts ...Option) *Manager {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	m := &Manager{
		up:     up,
		cfg:    cfg,
		clock:  clock.Real(),
		logger: slog.Default(),
		state:  Disconnected,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// EnsureUsable returns nil when operations may proceed. Otherwise it
// probes the upstream, at most once per MinProbeInterval and once for
// all concurrent callers, and returns the probe's failure.
func (m *Manager) EnsureUsable(ctx context.Context) error {
	m.mu.Lock()
	if m.state.Usable() {
		m.mu.Unlock()
		return nil
	}
	// Callers arriving mid-probe join it instead of reading the
	// previous failure.
	if m.state != Connecting && m.throttledLocked() {
		err := m.storedFailureLocked()
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	ch := m.probes.DoChan("probe", func() (any, error) {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.ProbeTimeout)
		defer cancel()
		return nil, m.probe(pctx)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return apperr.Wrap(apperr.Unavailable, ctx.Err(), "gave up waiting for upstream probe")
	}
}

func (m *Manager) throttledLocked() bool {
	if m.lastProbe.IsZero() || m.clock.Now().Sub(m.lastProbe) >= m.cfg.MinProbeInterval {
		return false
	}
	// A rejection whose hint has run out is worth re-probing.
	if _, left, ok := m.pendingRejectionLocked(); ok && left <= 0 {
		return false
	}
	return true
}

// pendingRejectionLocked returns the stored breaker or rate rejection
// and how much of its retry hint is left.
func (m *Manager) pendingRejectionLocked() (*apperr.Failure, time.Duration, bool) {
	switch apperr.KindOf(m.lastErr) {
	case apperr.BreakerOpen, apperr.RateExhausted:
	default:
		return nil, 0, false
	}
	f := apperr.From(m.lastErr)
	return f, f.RetryAfter - m.clock.Now().Sub(m.lastErrAt), true
}

func (m *Manager) storedFailureLocked() error {
	if m.state == Fatal {
		return apperr.Wrap(apperr.Auth, m.lastErr, "upstream rejected the configured token")
	}
	if f, left, ok := m.pendingRejectionLocked(); ok {
		cp := *f
		cp.Op = ""
		cp.RetryAfter = max(left, 0)
		return &cp
	}
	return apperr.Wrap(apperr.Unavailable, m.lastErr, "upstream unavailable")
}

func (m *Manager) recordFailureLocked(err error) {
	m.lastErr = err
	m.lastErrAt = m.clock.Now()
}

func (m *Manager) probe(ctx context.Context) error {
	m.mu.Lock()
	// A probe that finished just before this one started already decided.
	if m.state.Usable() {
		m.mu.Unlock()
		return nil
	}
	if m.throttledLocked() {
		err := m.storedFailureLocked()
		m.mu.Unlock()
		return err
	}
	m.lastProbe = m.clock.Now()
	from := m.setLocked(Connecting)
	m.mu.Unlock()
	m.notify(from, Connecting)

	err := m.up.Ping(ctx)
	if err == nil {
		err = m.up.CheckAuth(ctx)
	}

	m.mu.Lock()
	var to State
	switch {
	case err == nil:
		to = Connected
		m.lastSuccess = m.clock.Now()
		m.lastErr = nil
	case apperr.KindOf(err) == apperr.Auth:
		to = Fatal
		m.recordFailureLocked(err)
	default:
		to = Disconnected
		m.recordFailureLocked(err)
	}
	from = m.setLocked(to)
	m.mu.Unlock()
	m.notify(from, to)

	if err == nil {
		m.logger.Info("upstream connected")
		return nil
	}
	m.logger.Warn("upstream probe failed",
		slog.String("state", string(to)),
		slog.String("kind", apperr.KindOf(err).String()),
		slog.String("error", err.Error()),
	)
	switch apperr.KindOf(err) {
	case apperr.Auth, apperr.BreakerOpen, apperr.RateExhausted:
		return err
	default:
		return apperr.Wrap(apperr.Unavailable, err, "upstream probe failed")
	}
}

// Observe folds the outcome of a dispatched call into the state. Calls
// the caller cancelled are ignored.
func (m *Manager) Observe(err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	var to State
	if err == nil {
		to = Connected
	} else {
		switch apperr.KindOf(err) {
		case apperr.NotFound:
			to = Connected
		case apperr.Unavailable:
			to = Degraded
		case apperr.BreakerOpen:
			to = Disconnected
		case apperr.Auth:
			to = Fatal
		default:
			return
		}
	}

	m.mu.Lock()
	if to == Connected {
		m.lastSuccess = m.clock.Now()
		m.lastErr = nil
	} else {
		m.recordFailureLocked(err)
	}
	from := m.setLocked(to)
	m.mu.Unlock()
	m.notify(from, to)
}

// Reconfigure installs a new token and forces the next caller to probe.
func (m *Manager) Reconfigure(token string) {
	m.up.SetToken(token)

	m.mu.Lock()
	m.lastProbe = time.Time{}
	m.lastErr = nil
	from := m.setLocked(Disconnected)
	m.mu.Unlock()
	m.notify(from, Disconnected)
	m.logger.Info("upstream token reconfigured")
}

// Status returns a snapshot of the current state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Status{
		State:       m.state,
		LastSuccess: m.lastSuccess,
		LastProbe:   m.lastProbe,
	}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
		s.LastKind = apperr.KindOf(m.lastErr).String()
	}
	return s
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setLocked(to State) State {
	from := m.state
	m.state = to
	return from
}

func (m *Manager) notify(from, to State) {
	if from == to {
		return
	}
	m.logger.Debug("connection state changed", slog.String("from", string(from)), slog.String("to", string(to)))
	if m.onChange != nil {
		m.onChange(from, to)
	}
}
