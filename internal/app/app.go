// Package app wires parley's components together and coordinates the process
// lifecycle: startup order, the serving loop, and the ordered shutdown
// sequence that drains connections and releases the backing store.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/parley-chat/parley/internal/api"
	"github.com/parley-chat/parley/internal/auth"
	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/hub"
	"github.com/parley-chat/parley/internal/store"
	"github.com/parley-chat/parley/internal/telemetry"
)

// App is the assembled parley process.
type App struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    store.Store
	verifier auth.Verifier
	accounts *auth.Service // nil when accounts are managed externally
	hub      *hub.Hub
	api      *api.Server
	metrics  *telemetry.Sink

	srv *http.Server

	shutdownOnce sync.Once
	exitCode     int
}

// New builds the process from configuration. Components start in dependency
// order: store, verifier, telemetry, hub, api.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := store.New(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	verifier, err := auth.NewVerifier(cfg.Auth, db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init auth: %w", err)
	}

	var accounts *auth.Service
	if svc, ok := verifier.(*auth.Service); ok {
		accounts = svc
	}

	metrics := telemetry.New(logger)

	h := hub.New(verifier, metrics, logger, hub.Options{
		AllowedOrigins:       cfg.Server.AllowedOrigins,
		RateLimitWindow:      cfg.Chat.RateLimitWindow.Duration,
		RateLimitMaxMessages: cfg.Chat.RateLimitMaxMessages,
		MaxMessageBytes:      cfg.Chat.MaxMessageBytes,
		MaxMessageChars:      cfg.Chat.MaxMessageChars,
		PresenceDelay:        cfg.Chat.PresenceDelay.Duration,
	})

	apiSrv := api.NewServer(db, accounts, h, metrics, cfg, logger)

	return &App{
		cfg:      cfg,
		logger:   logger.With("component", "app"),
		store:    db,
		verifier: verifier,
		accounts: accounts,
		hub:      h,
		api:      apiSrv,
		metrics:  metrics,
	}, nil
}

// Hub exposes the hub for tests.
func (a *App) Hub() *hub.Hub { return a.hub }

// Run serves until ctx is canceled or the listener fails, then executes the
// shutdown sequence. The return value is the process exit code: 0 when every
// critical stage succeeded, 1 otherwise.
func (a *App) Run(ctx context.Context) int {
	a.srv = &http.Server{
		Addr:    a.cfg.Server.Addr,
		Handler: a.api.Handler(),
	}

	a.api.StartBackgroundTasks(ctx)
	if a.accounts != nil {
		go a.runSessionPurger(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("parley listening", "addr", a.cfg.Server.Addr)
		if a.cfg.Server.TLSCert != "" && a.cfg.Server.TLSKey != "" {
			errCh <- a.srv.ListenAndServeTLS(a.cfg.Server.TLSCert, a.cfg.Server.TLSKey)
		} else {
			a.logger.Warn("TLS not configured, running without encryption (development only)")
			errCh <- a.srv.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
		return a.Shutdown()
	case err := <-errCh:
		a.logger.Error("listener failed", "error", err)
		a.Shutdown()
		return 1
	}
}

// Shutdown executes the ordered teardown exactly once; concurrent or repeated
// triggers observe the first run's result. Stages:
//
//  1. stop accepting new work (accept-layer close), critical
//  2. close the broadcast layer, which closes every open connection
//  3. flush buffered telemetry, bounded, non-critical
//  4. release the backing store pool, critical
func (a *App) Shutdown() int {
	a.shutdownOnce.Do(func() {
		a.logger.Info("shutdown started")

		// Stage 1: no new handshakes; in-flight requests may complete.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Shutdown.Timeout.Duration)
		if err := a.srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("accept-layer close failed, forcing", "error", err)
			_ = a.srv.Close()
			a.exitCode = 1
		}
		cancel()

		// Stage 2: close all open connections through their ordinary close paths.
		a.hub.Close()

		// Stage 3: best-effort telemetry flush; failure never blocks shutdown.
		flushCtx, cancelFlush := context.WithTimeout(context.Background(), a.cfg.Telemetry.FlushTimeout.Duration)
		if err := a.metrics.Flush(flushCtx); err != nil {
			a.logger.Warn("telemetry flush failed", "error", err)
		}
		cancelFlush()

		// Stage 4: release the store pool.
		if err := a.store.Close(); err != nil {
			a.logger.Error("store close failed", "error", err)
			a.exitCode = 1
		}

		a.logger.Info("shutdown complete", "exit_code", a.exitCode)
	})
	return a.exitCode
}

// runSessionPurger periodically removes naturally-expired live-session rows.
// Expiry enforcement happens in the validator; this is housekeeping.
func (a *App) runSessionPurger(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := a.accounts.PurgeExpiredSessions(ctx); err != nil {
				a.logger.Warn("session purge failed", "error", err)
			} else if n > 0 {
				a.logger.Info("purged expired sessions", "count", n)
			}
		}
	}
}
