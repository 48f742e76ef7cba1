// cmd/main.go is the application entry point.
// It wires together all layers, starts the scheduler and the HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Shivanand-hulikatti/seminar-slots/internal/config"
	"github.com/Shivanand-hulikatti/seminar-slots/internal/database"
	"github.com/Shivanand-hulikatti/seminar-slots/internal/handler"
	"github.com/Shivanand-hulikatti/seminar-slots/internal/notify"
	"github.com/Shivanand-hulikatti/seminar-slots/internal/repository"
	"github.com/Shivanand-hulikatti/seminar-slots/internal/repository/postgres"
	"github.com/Shivanand-hulikatti/seminar-slots/internal/repository/sqlite"
	"github.com/Shivanand-hulikatti/seminar-slots/internal/scheduler"
	"github.com/Shivanand-hulikatti/seminar-slots/internal/service"
)

func main() {
	cfg, err := config.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	level, _ := cfg.SlogLevel()
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	// ── 1. Open the store ────────────────────────────────────────────────
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("close store", "error", err)
		}
	}()

	// ── 2. Wire up layers ────────────────────────────────────────────────
	links := notify.Links{BaseURL: cfg.PublicBaseURL}
	gateway := newGateway(cfg, logger)
	pol := cfg.Policy()
	svc := service.New(store, gateway, service.Config{
		Policy: pol,
		Links:  links,
		Logger: logger,
	})
	slotHandler := handler.NewSlotHandler(svc, logger)

	// ── 3. Start the scheduler ───────────────────────────────────────────
	schedCtx, cancelSched := context.WithCancel(ctx)
	defer cancelSched()
	var schedDone chan error
	if cfg.SchedulerEnabled {
		schedDone = make(chan error, 1)
		sched := scheduler.New(store, svc, gateway, scheduler.Config{
			ExpiryInterval:   cfg.ExpirySweepInterval,
			ReminderInterval: cfg.ReminderSweepInterval,
			RemindAfter:      pol.ReminderInterval,
			Location:         cfg.Location(),
			Links:            links,
		}, logger)
		go func() { schedDone <- sched.Run(schedCtx) }()
	} else {
		logger.Info("scheduler disabled")
	}

	// ── 4. Start server with graceful shutdown ───────────────────────────
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler.NewRouter(slotHandler, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	case err := <-schedDone:
		if err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		schedDone = nil
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	cancelSched()
	if schedDone != nil {
		if err := <-schedDone; err != nil {
			logger.Warn("scheduler stopped", "error", err)
		}
	}
	logger.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (repository.Store, error) {
	switch cfg.DatabaseType {
	case "sqlite":
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		logger.Info("opened sqlite store", "path", cfg.SQLitePath)
		return store, nil
	default:
		pool, err := database.NewPool(ctx, cfg.Database, logger)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		store := postgres.New(pool)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return store, nil
	}
}

func newGateway(cfg config.Config, logger *slog.Logger) notify.Gateway {
	if cfg.MailMode == "smtp" {
		logger.Info("sending mail over smtp", "host", cfg.SMTP.Host, "port", cfg.SMTP.Port)
		return notify.NewSMTPGateway(cfg.SMTP, nil)
	}
	return notify.NewLogGateway(logger)
}
