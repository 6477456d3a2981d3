package internal

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/starford/notebridge/internal/breaker"
	"github.com/starford/notebridge/internal/clock"
	"github.com/starford/notebridge/internal/connection"
	"github.com/starford/notebridge/internal/credentials"
	"github.com/starford/notebridge/internal/journal"
	"github.com/starford/notebridge/internal/metrics"
	"github.com/starford/notebridge/internal/noteservice"
	"github.com/starford/notebridge/internal/ratelimit"
	"github.com/starford/notebridge/internal/sse"
	"github.com/starford/notebridge/internal/upstream"
)

const metricsNamespace = "notebridge"

// runtime holds the wired components shared by both transports.
type runtime struct {
	cfg     *Config
	logger  *slog.Logger
	metrics *metrics.Collector
	events  *sse.Broker
	limiter *ratelimit.Limiter
	breaker *breaker.Breaker
	client  *upstream.Client
	conn    *connection.Manager
	journal *journal.DB
	svc     *noteservice.Service
}

func newLogger(app *application) *slog.Logger {
	out := app.logOut
	if out == nil {
		out = os.Stderr
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: app.config.App.LogLevel,
	}))
}

// newRuntime wires the access layer. events may be nil.
func newRuntime(ctx context.Context, cfg *Config, logger *slog.Logger, events *sse.Broker) (*runtime, error) {
	rt := &runtime{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(metricsNamespace),
		events:  events,
	}

	token := cfg.Upstream.Token
	if cfg.Upstream.TokenFile != "" {
		t, err := credentials.ReadToken(cfg.Upstream.TokenFile)
		if err != nil {
			return nil, fmt.Errorf("upstream token: %w", err)
		}
		token = t
	}

	clk := clock.Real()
	rt.limiter = ratelimit.New(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, clk)
	rt.metrics.RateTokens(metricsNamespace, rt.limiter.Available)

	breakerStates := make([]string, 0, len(breaker.States))
	for _, s := range breaker.States {
		breakerStates = append(breakerStates, string(s))
	}
	rt.breaker = breaker.New(breaker.Settings{
		Name:      "joplin",
		Threshold: cfg.Breaker.FailureThreshold,
		CoolDown:  cfg.Breaker.CoolDown,
		OnStateChange: func(name string, from, to breaker.State) {
			logger.Warn("circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", string(from)),
				slog.String("to", string(to)))
			rt.metrics.BreakerState(name, breakerStates, string(to))
			if rt.events != nil {
				rt.events.PublishState(sse.TypeBreakerState, sse.StateChange{Name: name, From: string(from), To: string(to)})
			}
		},
	})
	rt.metrics.BreakerState(rt.breaker.Name(), breakerStates, string(rt.breaker.State()))

	client, err := upstream.New(upstream.Config{
		BaseURL:      cfg.Upstream.BaseURL,
		Token:        token,
		Timeout:      cfg.Upstream.Timeout,
		CallDeadline: cfg.Upstream.CallDeadline,
	}, rt.limiter, rt.breaker, cfg.Retry.Policy(),
		upstream.WithMetrics(rt.metrics),
		upstream.WithLogger(logger.With(slog.String("component", "upstream"))),
	)
	if err != nil {
		return nil, fmt.Errorf("upstream client: %w", err)
	}
	rt.client = client

	connStates := make([]string, 0, len(connection.States))
	for _, s := range connection.States {
		connStates = append(connStates, string(s))
	}
	rt.conn = connection.New(client, connection.Config{
		MinProbeInterval: cfg.Upstream.MinProbeInterval,
		ProbeTimeout:     cfg.Upstream.ProbeTimeout,
	},
		connection.WithClock(clk),
		connection.WithLogger(logger.With(slog.String("component", "connection"))),
		connection.WithStateChange(func(from, to connection.State) {
			rt.metrics.ConnectionState(connStates, string(to))
			if rt.events != nil {
				rt.events.PublishState(sse.TypeConnectionState, sse.StateChange{From: string(from), To: string(to)})
			}
		}),
	)
	rt.metrics.ConnectionState(connStates, string(rt.conn.State()))

	opts := []noteservice.Option{
		noteservice.WithWriteEnabled(cfg.Features.WriteEnabled),
		noteservice.WithDeadline(cfg.Upstream.CallDeadline),
		noteservice.WithLogger(logger),
		noteservice.WithMetrics(rt.metrics),
		noteservice.WithResilience(rt.breaker, rt.limiter),
	}
	if cfg.Journal.Path != "" {
		db, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return nil, fmt.Errorf("init journal: %w", err)
		}
		rt.journal = db
		opts = append(opts, noteservice.WithJournal(db))
		if cfg.Journal.Keep > 0 {
			n, err := db.Prune(ctx, cfg.Journal.Keep)
			if err != nil {
				logger.Warn("journal prune failed", slog.String("error", err.Error()))
			} else if n > 0 {
				logger.Info("journal pruned", slog.Int64("removed", n))
			}
		}
	}
	if events != nil {
		opts = append(opts, noteservice.WithNotifier(events))
	}
	rt.svc = noteservice.NewService(client, rt.conn, opts...)
	if events != nil {
		events.SetStatusSource(func() any { return rt.svc.Status(context.Background()) })
	}

	return rt, nil
}

// watchToken reloads the upstream token when the token file changes.
// Watch failures are logged; the last good token stays in use.
func (rt *runtime) watchToken(ctx context.Context) error {
	path := rt.cfg.Upstream.TokenFile
	if path == "" {
		return nil
	}
	current, _ := credentials.ReadToken(path)
	err := credentials.Watch(ctx, path, current, rt.logger, rt.conn.Reconfigure)
	if err != nil && ctx.Err() == nil {
		rt.logger.Error("token file watch stopped", slog.String("error", err.Error()))
	}
	return nil
}

func (rt *runtime) Close() {
	if rt.journal != nil {
		if err := rt.journal.Close(); err != nil {
			rt.logger.Warn("journal close failed", slog.String("error", err.Error()))
		}
	}
}
