package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/productmatcher/backend/config"
	httpDelivery "github.com/productmatcher/backend/internal/delivery/http"
	"github.com/productmatcher/backend/internal/infrastructure/cache"
	"github.com/productmatcher/backend/internal/infrastructure/catalog"
	"github.com/productmatcher/backend/internal/infrastructure/download"
	"github.com/productmatcher/backend/internal/infrastructure/httpclient"
	"github.com/productmatcher/backend/internal/infrastructure/matcher"
	"github.com/productmatcher/backend/internal/logging"
	"github.com/productmatcher/backend/internal/usecase"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	logging.Info().
		Str("version", httpDelivery.Version).
		Str("environment", cfg.Server.Environment).
		Str("port", cfg.Server.Port).
		Msg("Starting ProductMatcher Backend")

	if err := run(cfg); err != nil {
		logging.Fatal().Err(err).Msg("Server stopped with error")
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Catalog connection is opened once and owned here
	store, err := catalog.Open(ctx, cfg.Catalog)
	if err != nil {
		return fmt.Errorf("failed to connect to catalog: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			logging.Warn().Err(err).Msg("Failed to close catalog connection")
		}
	}()
	logging.Info().Str("database", cfg.Catalog.Database).Str("collection", cfg.Catalog.Collection).Msg("Catalog connected")

	if err := os.MkdirAll(cfg.Upload.Dir, 0o750); err != nil {
		return fmt.Errorf("failed to create upload dir: %w", err)
	}

	// Initialize infrastructure dependencies
	httpClient := httpclient.New()
	downloader := download.NewClient(httpClient, cfg.Download.Timeout)

	matchingClient := matcher.NewBreakerClient(
		matcher.NewClient(httpClient, matcher.Config{
			BaseURL:           cfg.Matcher.BaseURL,
			Timeout:           cfg.Matcher.Timeout,
			MaxResponseBytes:  cfg.Matcher.MaxResponseBytes,
			RequestsPerMinute: cfg.Matcher.RequestsPerMinute,
		}),
		matcher.BreakerSettings{
			MaxRequests:  cfg.Matcher.Breaker.MaxRequests,
			Interval:     cfg.Matcher.Breaker.Interval,
			Timeout:      cfg.Matcher.Breaker.Timeout,
			FailureRatio: cfg.Matcher.Breaker.FailureRatio,
			MinRequests:  cfg.Matcher.Breaker.MinRequests,
		},
	)
	logging.Info().Str("url", cfg.Matcher.BaseURL).Dur("timeout", cfg.Matcher.Timeout).Msg("Matching service configured")

	// Initialize usecase layer
	matchService := usecase.NewMatchService(store, downloader, matchingClient, usecase.MatchServiceConfig{
		CatalogTimeout: cfg.Catalog.QueryTimeout,
	})

	limiters := cache.NewMemoryCache[*rate.Limiter](10*time.Minute, time.Minute)
	defer limiters.Close()

	handler := httpDelivery.NewHandler(matchService, cfg.Upload, cfg.Server.IsDevelopment())
	router := httpDelivery.SetupRouter(cfg, handler, limiters)

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		// Inference alone may take the full matcher timeout
		WriteTimeout: cfg.Matcher.Timeout + cfg.Download.Timeout + 30*time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	serverErr := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", server.Addr).Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logging.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logging.Info().Msg("Server stopped")
	return nil
}
