// Package noteservice is the operation dispatcher: it validates input,
// gates calls on connection health, invokes the upstream client and
// turns every outcome into a classified result.
package noteservice

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/starford/notebridge/internal/apperr"
	"github.com/starford/notebridge/internal/breaker"
	"github.com/starford/notebridge/internal/connection"
	"github.com/starford/notebridge/internal/journal"
	"github.com/starford/notebridge/internal/metrics"
	"github.com/starford/notebridge/internal/models"
	"github.com/starford/notebridge/internal/ratelimit"
	"github.com/starford/notebridge/internal/upstream"
)

// Upstream is the note store as seen by the dispatcher.
type Upstream interface {
	GetNote(ctx context.Context, id string, includeBody bool) (models.Note, error)
	NoteTags(ctx context.Context, id string) ([]string, error)
	ListFolders(ctx context.Context) ([]models.Notebook, error)
	NotesInFolder(ctx context.Context, folderID string, limit, offset int) (upstream.NotePage, error)
	Search(ctx context.Context, query string, limit int) ([]models.SearchMatch, error)
	CreateNote(ctx context.Context, in upstream.NoteInput) (models.Note, error)
	UpdateNote(ctx context.Context, id string, in upstream.NoteInput) (models.Note, error)
}

// Gate decides whether the upstream is worth calling.
type Gate interface {
	EnsureUsable(ctx context.Context) error
	Observe(err error)
	Status() connection.Status
}

// Journal records operations.
type Journal interface {
	Record(ctx context.Context, e journal.Entry) error
}

// Notifier announces notes written through the service.
type Notifier interface {
	PublishNote(typ, noteID, title string)
}

// Service dispatches note operations.
type Service struct {
	up      Upstream
	gate    Gate
	logger  *slog.Logger
	metrics *metrics.Collector
	journal Journal
	events  Notifier

	writeEnabled bool
	deadline     time.Duration

	breaker *breaker.Breaker
	limiter *ratelimit.Limiter
}

// Option configures a Service.
type Option func(*Service)

// WithWriteEnabled allows CreateNote and UpdateNote.
func WithWriteEnabled(enabled bool) Option { return func(s *Service) { s.writeEnabled = enabled } }

// WithDeadline bounds every operation, including all of its upstream
// calls. A caller's sooner deadline still wins.
func WithDeadline(d time.Duration) Option { return func(s *Service) { s.deadline = d } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// WithMetrics records operation outcomes.
func WithMetrics(m *metrics.Collector) Option { return func(s *Service) { s.metrics = m } }

// WithJournal records writes and failures.
func WithJournal(j Journal) Option { return func(s *Service) { s.journal = j } }

// WithNotifier publishes note events after successful writes.
func WithNotifier(n Notifier) Option { return func(s *Service) { s.events = n } }

// WithResilience exposes breaker and limiter state through Status.
func WithResilience(br *breaker.Breaker, lim *ratelimit.Limiter) Option {
	return func(s *Service) {
		s.breaker = br
		s.limiter = lim
	}
}

// NewService creates a dispatcher over up, gated by gate.
func NewService(up Upstream, gate Gate, opts ...Option) *Service {
	s := &Service{up: up, gate: gate, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// WriteEnabled reports whether write operations are allowed.
func (s *Service) WriteEnabled() bool { return s.writeEnabled }

// call describes one dispatch for bookkeeping.
type call struct {
	op     string
	target string
	write  bool
	// digest is the checksum of written content, for the journal.
	digest string
}

// dispatch runs fn after validate succeeds and the gate admits the
// call. It never panics and always returns a *apperr.Failure on error.
func dispatch[T any](ctx context.Context, s *Service, c *call, validate func() error, fn func(context.Context) (T, error)) (res T, err error) {
	opID := uuid.NewString()
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = apperr.Errorf(apperr.Internal, "panic: %v", r)
		}
		if err != nil {
			var zero T
			res = zero
			err = apperr.WithOp(err, c.op)
		}
		s.finish(ctx, opID, c, time.Since(start), err)
	}()

	if validate != nil {
		if verr := validate(); verr != nil {
			return res, verr
		}
	}

	if s.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.deadline)
		defer cancel()
	}

	if err := s.gate.EnsureUsable(ctx); err != nil {
		return res, err
	}
	res, err = fn(ctx)
	s.gate.Observe(err)
	return res, err
}

func (s *Service) finish(ctx context.Context, opID string, c *call, d time.Duration, err error) {
	outcome := journal.OutcomeOK
	if err != nil {
		outcome = apperr.KindOf(err).String()
	}
	s.metrics.Operation(c.op, outcome, d)

	attrs := []slog.Attr{
		slog.String("op", c.op),
		slog.String("op_id", opID),
		slog.Duration("duration", d),
	}
	if c.target != "" {
		attrs = append(attrs, slog.String("target", c.target))
	}
	if err != nil {
		attrs = append(attrs, slog.String("kind", outcome), slog.String("error", err.Error()))
		s.logger.LogAttrs(ctx, slog.LevelWarn, "operation failed", attrs...)
	} else {
		s.logger.LogAttrs(ctx, slog.LevelInfo, "operation completed", attrs...)
	}

	if !s.journaled(c, err) {
		return
	}
	entry := journal.Entry{
		ID:       opID,
		Op:       c.op,
		Outcome:  outcome,
		Target:   c.target,
		Checksum: c.digest,
		Duration: d,
	}
	if err != nil {
		entry.Message = apperr.Message(err)
	}
	// The caller's context may already be done; the record should land.
	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if jerr := s.journal.Record(jctx, entry); jerr != nil {
		s.logger.Warn("journal write failed", slog.String("op_id", opID), slog.String("error", jerr.Error()))
	}
}

// StatusReport summarises the access layer's health.
type StatusReport struct {
	Connection          connection.Status `json:"connection"`
	Breaker             breaker.State     `json:"breaker,omitempty"`
	ConsecutiveFailures int               `json:"consecutive_failures"`
	RateTokens          float64           `json:"rate_tokens"`
	RateBurst           int               `json:"rate_burst"`
	// RateWaitMS is how long a call arriving now would wait for a token.
	RateWaitMS          int64             `json:"rate_wait_ms"`
	WriteEnabled        bool              `json:"write_enabled"`
}

// Status reports health without contacting the upstream.
func (s *Service) Status(context.Context) StatusReport {
	r := StatusReport{
		Connection:   s.gate.Status(),
		WriteEnabled: s.writeEnabled,
	}
	if s.breaker != nil {
		r.Breaker = s.breaker.State()
		r.ConsecutiveFailures = s.breaker.ConsecutiveFailures()
	}
	if s.limiter != nil {
		r.RateTokens = s.limiter.Available()
		r.RateBurst = s.limiter.Burst()
		r.RateWaitMS = s.limiter.Wait().Milliseconds()
	}
	return r
}

func (s *Service) requireWrites() error {
	if !s.writeEnabled {
		return apperr.New(apperr.Validation, "write operations are disabled")
	}
	return nil
}

// journaled reports whether a dispatch is worth a journal entry: every
// write attempt, and reads that failed past validation.
func (s *Service) journaled(c *call, err error) bool {
	if s.journal == nil {
		return false
	}
	if c.write {
		return true
	}
	return err != nil && apperr.KindOf(err) != apperr.Validation
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
