package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/opensource-finance/claimguard/internal/api"
	"github.com/opensource-finance/claimguard/internal/bus"
	"github.com/opensource-finance/claimguard/internal/cache"
	"github.com/opensource-finance/claimguard/internal/domain"
	"github.com/opensource-finance/claimguard/internal/metrics"
	"github.com/opensource-finance/claimguard/internal/repository"
	"github.com/opensource-finance/claimguard/internal/scoring"
	"github.com/opensource-finance/claimguard/internal/worker"
)

const collectInterval = 15 * time.Second

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP scoring service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, a, cfg)
		},
	}
}

func serve(ctx context.Context, a *app, cfg *domain.Config) error {
	slog.Info("starting claimguard",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"async_worker", cfg.AsyncWorker,
	)

	if !cfg.Tracing.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
	}

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	c, err := newCore(ctx, cfg, repo, scoring.WithObserver(metrics.Recorder{}))
	if err != nil {
		return err
	}
	slog.Info("scoring engine initialized",
		"model_loaded", c.provider.Loaded(),
		"custom_rules", c.rules.RulesCount(),
	)

	dispatcher := worker.NewDispatcher(repo, cacheImpl, busImpl, c.engine.Processor(), worker.DispatchConfig{
		AssessmentTTL: cfg.Cache.AssessmentTTL,
		AlertWindow:   cfg.Cache.AlertWindow,
	})

	var asyncWorker *worker.Worker
	if cfg.AsyncWorker {
		asyncWorker = worker.NewWorker(busImpl, c.engine, dispatcher)
		if err := asyncWorker.Start(worker.Config{}); err != nil {
			slog.Error("failed to start async worker", "error", err)
			asyncWorker = nil
		}
	}

	go metrics.StartCollector(ctx, c.engine.Store().Stats, dbOf(repo), collectInterval)

	srv := api.NewServer(cfg.Server, api.Dependencies{
		Engine:     c.engine,
		Rules:      c.rules,
		Model:      c.provider,
		Dispatcher: dispatcher,
		Repo:       repo,
		Cache:      cacheImpl,
		Bus:        busImpl,
		Version:    Version,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("claimguard is ready", "host", cfg.Server.Host, "port", cfg.Server.Port)
	printBanner(a, cfg)

	var serveErr error
	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case serveErr = <-errCh:
		slog.Error("server failed", "error", serveErr)
	}

	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("claimguard shutdown complete")
	return serveErr
}

// dbOf returns the connection pool of SQL-backed repositories.
func dbOf(repo domain.Repository) *sql.DB {
	if r, ok := repo.(interface{ DB() *sql.DB }); ok {
		return r.DB()
	}
	return nil
}

func printBanner(a *app, cfg *domain.Config) {
	w := a.stdout
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  ClaimGuard - benefit claim fraud scoring")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Version:  %s\n", Version)
	fmt.Fprintf(w, "  Tier:     %s\n", cfg.Tier)
	fmt.Fprintf(w, "  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  Endpoints:")
	fmt.Fprintln(w, "    POST /predict-fraud          - Score one claim")
	fmt.Fprintln(w, "    POST /batch-analyze          - Score claims in order")
	fmt.Fprintln(w, "    POST /claims                 - Queue a claim for the async worker")
	fmt.Fprintln(w, "    GET  /assessments/{id}       - Get an assessment")
	fmt.Fprintln(w, "    GET  /history/{beneficiary}  - Get claim history")
	fmt.Fprintln(w, "    DELETE /history              - Reset history")
	fmt.Fprintln(w, "    GET  /rules                  - List reason rules")
	fmt.Fprintln(w, "    POST /rules                  - Create a custom reason rule")
	fmt.Fprintln(w, "    POST /rules/reload           - Hot-reload custom rules")
	fmt.Fprintln(w, "    GET  /health /ready /metrics - Operations")
	fmt.Fprintln(w)
}
