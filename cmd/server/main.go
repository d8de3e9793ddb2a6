package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"spendbook/internal/backend"
	"spendbook/internal/config"
	"spendbook/internal/handlers"
	"spendbook/internal/logger"
	"spendbook/internal/middleware"
	"spendbook/internal/storage"
	"spendbook/web"

	"go.uber.org/zap"
)

const (
	shutdownTimeout        = 30 * time.Second
	sessionCleanupInterval = time.Hour
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadDotEnv(); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	cfg := config.Load()

	log, err := logger.New(cfg.LogDevelopment, logger.LogLevel(cfg.LogLevel))
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	res, err := backend.Open(openCtx, cfg, log)
	cancel()
	if err != nil {
		return err
	}
	defer func() {
		if err := res.Close(); err != nil {
			log.Warn("failed to close backend", zap.Error(err))
		}
	}()

	if cfg.AuthEnabled && cfg.AdminUser != "" {
		created, err := handlers.SeedAdmin(ctx, res.Store, cfg.AdminUser, cfg.AdminPassword)
		if err != nil {
			return fmt.Errorf("seed admin user: %w", err)
		}
		if created {
			log.Info("created initial user", zap.String("username", cfg.AdminUser))
		}
	}

	h := handlers.NewHandlers(res.Store, handlers.Options{
		Templates:         web.Templates(),
		AuthEnabled:       cfg.AuthEnabled,
		SessionSecret:     []byte(cfg.SessionSecret),
		SecureCookie:      cfg.SecureCookie,
		AllowRegistration: cfg.AllowRegistration,
		Events:            res.Events,
		Logger:            log,
	})

	proxies, err := middleware.ParseProxies(cfg.TrustedProxies)
	if err != nil {
		return err
	}
	limiter := middleware.NewLimiter(cfg.LoginRateLimit, proxies)
	defer limiter.Stop()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           setupRouter(h, web.Static(), limiter, proxies, log),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	if cfg.AuthEnabled {
		go cleanupSessions(ctx, res.Store, sessionCleanupInterval, log)
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.Bool("auth", cfg.AuthEnabled))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}

func setupRouter(h *handlers.Handlers, static fs.FS, limiter *middleware.Limiter, proxies middleware.Proxies, log *zap.Logger) http.Handler {
	return middleware.Chain(
		h.Routes(static, limiter),
		middleware.Trace(log, proxies),
		middleware.SecurityHeaders(middleware.DefaultHeadersConfig()),
	)
}

// cleanupSessions deletes expired sessions every interval until ctx is done.
func cleanupSessions(ctx context.Context, store storage.Store, interval time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := store.CleanExpiredSessions(ctx, now)
			if err != nil {
				log.Warn("failed to clean expired sessions", zap.Error(err))
				continue
			}
			if n > 0 {
				log.Info("cleaned expired sessions", zap.Int64("count", n))
			}
		}
	}
}
