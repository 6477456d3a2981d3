// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/notebridge/internal/api"
	"github.com/starford/notebridge/internal/apperr"
	"github.com/starford/notebridge/internal/mcpserver"
	"github.com/starford/notebridge/internal/sse"
)

const readinessTimeout = 3 * time.Second

func setup(opts []Option) (*application, *slog.Logger, error) {
	app := &application{version: "dev"}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return nil, nil, fmt.Errorf("config is required")
	}

	logger := newLogger(app)
	slog.SetDefault(logger)

	cfg := app.config
	logger.Info("Configuration loaded",
		slog.String("upstream", cfg.Upstream.BaseURL),
		slog.Bool("token_file", cfg.Upstream.TokenFile != ""),
		slog.Bool("write_enabled", cfg.Features.WriteEnabled),
		slog.Float64("rate_limit_rps", cfg.RateLimit.RequestsPerSecond),
		slog.String("journal_path", cfg.Journal.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))
	return app, logger, nil
}

// Serve runs the HTTP transport: REST API, event stream, metrics and
// health endpoints.
func Serve(ctx context.Context, opts ...Option) error {
	app, logger, err := setup(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	rt, err := newRuntime(ctx, cfg, logger, broker)
	if err != nil {
		return err
	}
	defer rt.Close()

	var history api.JournalReader
	if rt.journal != nil {
		history = rt.journal
	}
	apiRouter := api.NewRouter(rt.svc, history, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), readinessTimeout)
		defer cancel()
		w.Header().Set("Content-Type", "application/json")
		if err := rt.conn.EnsureUsable(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = fmt.Fprintf(w, `{"status":"unavailable","kind":%q}`, apperr.KindOf(err).String())
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", rt.metrics.Handler())

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return rt.watchToken(gCtx)
	})

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		// Event streams never finish on their own.
		broker.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown stops the other group members once shutdown begins.
var errShutdown = errors.New("shutdown")

// ServeMCP runs the tool protocol over stdin/stdout until the client
// disconnects or a termination signal arrives.
func ServeMCP(ctx context.Context, opts ...Option) error {
	app, logger, err := setup(opts)
	if err != nil {
		return err
	}

	rt, err := newRuntime(ctx, app.config, logger, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	srv := mcpserver.New(rt.svc, app.version, logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = rt.watchToken(ctx) }()

	logger.Info("MCP server listening on stdio", slog.Bool("write_enabled", rt.svc.WriteEnabled()))
	if err := srv.ServeStdio(); err != nil {
		return fmt.Errorf("mcp stdio: %w", err)
	}
	return nil
}
