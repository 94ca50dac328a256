package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/caldermfg/payment-webhooks/internal/config"
	"github.com/caldermfg/payment-webhooks/internal/dispatch"
	"github.com/caldermfg/payment-webhooks/internal/handler"
	"github.com/caldermfg/payment-webhooks/internal/logging"
	"github.com/caldermfg/payment-webhooks/internal/middleware"
	"github.com/caldermfg/payment-webhooks/internal/registry"
	"github.com/caldermfg/payment-webhooks/internal/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logging.Init("payment-webhooks", cfg.LogLevel, cfg.AppEnv)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := connectDB(rootCtx, cfg)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	partnerRepo := repository.NewPartnerRepository(db)
	attemptRepo := repository.NewDispatchAttemptRepository(db)

	partners := registry.NewService(partnerRepo)

	policy := dispatch.RetryPolicy{
		Base:        cfg.BaseBackoff(),
		Multiplier:  cfg.RetryMultiplier,
		Max:         cfg.MaxBackoff(),
		MaxAttempts: cfg.RetryMaxAttempts,
	}
	transport := dispatch.NewHTTPTransport(cfg.DeliveryTimeout())

	dispatcher := dispatch.NewDispatcher(
		partners,
		attemptRepo,
		transport,
		policy,
		cfg.DispatchConcurrency,
		logging.Component("dispatcher"),
	)

	if err := dispatcher.Resume(rootCtx); err != nil {
		slog.Error("failed to resume in-flight dispatches", "error", err)
		os.Exit(1)
	}

	healthHandler := handler.NewHealthHandler(db)
	partnerHandler := handler.NewPartnerHandler(partners)
	eventHandler := handler.NewEventHandler(dispatcher, cfg.EventSigningSecret)
	dispatchHandler := handler.NewDispatchHandler(attemptRepo)

	auth := middleware.Auth(cfg.JWTSecret)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler.Liveness)
	mux.HandleFunc("GET /health/ready", healthHandler.Readiness)

	mux.HandleFunc("POST /api/v1/events", eventHandler.Receive)

	mux.Handle("POST /api/v1/partners", auth(http.HandlerFunc(partnerHandler.Register)))
	mux.Handle("GET /api/v1/partners", auth(http.HandlerFunc(partnerHandler.ListActive)))
	mux.Handle("GET /api/v1/partners/{id}", auth(http.HandlerFunc(partnerHandler.Get)))
	mux.Handle("PATCH /api/v1/partners/{id}", auth(http.HandlerFunc(partnerHandler.Update)))
	mux.Handle("DELETE /api/v1/partners/{id}", auth(http.HandlerFunc(partnerHandler.Deactivate)))

	mux.Handle("GET /api/v1/dispatches", auth(http.HandlerFunc(dispatchHandler.List)))
	mux.Handle("GET /api/v1/dispatches/exhausted", auth(http.HandlerFunc(dispatchHandler.ListExhausted)))

	root := middleware.Recovery(middleware.RequestID(middleware.Logging(mux)))

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           root,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("server started", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-rootCtx.Done()

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	dispatcher.Shutdown()

	slog.Info("server stopped")
}

func connectDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	pool := repository.PoolConfig{
		MaxOpenConns:     cfg.DBMaxOpenConns,
		MaxIdleConns:     cfg.DBMaxIdleConns,
		ConnMaxLifetimeS: cfg.DBConnMaxLifetimeS,
		ConnMaxIdleTimeS: cfg.DBConnMaxIdleTimeS,
	}

	var db *sql.DB
	connect := func() error {
		var err error
		db, err = repository.NewPostgresDB(ctx, cfg.DatabaseURL, pool)
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second

	notify := func(err error, next time.Duration) {
		slog.Info("waiting for database", "error", err, "retry_in", next.Round(time.Millisecond))
	}
	if err := backoff.RetryNotify(connect, backoff.WithContext(bo, ctx), notify); err != nil {
		return nil, fmt.Errorf("connectDB: %w", err)
	}
	return db, nil
}
