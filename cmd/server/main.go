package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"

	httpapi "github.com/ppdb-id/ppdb-backend/internal/api/http"
	"github.com/ppdb-id/ppdb-backend/internal/audit"
	"github.com/ppdb-id/ppdb-backend/internal/auth"
	"github.com/ppdb-id/ppdb-backend/internal/catalog"
	"github.com/ppdb-id/ppdb-backend/internal/config"
	"github.com/ppdb-id/ppdb-backend/internal/db"
	"github.com/ppdb-id/ppdb-backend/internal/identity"
	"github.com/ppdb-id/ppdb-backend/internal/notify"
	"github.com/ppdb-id/ppdb-backend/internal/registration"
	"github.com/ppdb-id/ppdb-backend/internal/selection"
	"github.com/ppdb-id/ppdb-backend/internal/storage"
	"github.com/ppdb-id/ppdb-backend/internal/store"
	"github.com/ppdb-id/ppdb-backend/internal/verification"
)

// expireSweepInterval is how often accepted registrations past their
// re-enrollment deadline are expired.
const expireSweepInterval = time.Hour

func main() {
	_ = godotenv.Load()
	cfg := config.FromEnv()
	log := newLogger(cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	driver := db.Normalize(cfg.DBDriver)
	d, err := db.Open(ctx, driver, cfg.DBDSN)
	if err != nil {
		return err
	}
	defer d.Close()
	log.Info("database ready", "driver", string(driver))

	blobs, err := storage.NewFSStore(cfg.BlobBasePath)
	if err != nil {
		return err
	}

	st := store.New(d, driver)
	tokens := auth.NewTokenService(cfg.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	hasher := auth.BcryptHasher{}
	sink := notify.NewLogSink(log)
	auditor := audit.NewRecorder(st, log)

	ident := identity.NewService(st, tokens, hasher, sink, auditor, cfg.ResetTokenTTL, log)
	cat := catalog.NewService(st, hasher, auditor, log)
	regs := registration.NewService(st, blobs, sink, auditor, log)
	verif := verification.NewService(st, sink, auditor, log)
	sel := selection.NewService(st, sink, auditor, log)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewServer(d, st, tokens, ident, cat, regs, verif, sel, cfg.CORSOrigins, log).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go expireSweep(ctx, regs, log)

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}
	return nil
}

// expireSweep periodically expires accepted registrations whose deadline has
// passed. One sweep at startup, then on the interval.
func expireSweep(ctx context.Context, regs *registration.Service, log *slog.Logger) {
	t := time.NewTicker(expireSweepInterval)
	defer t.Stop()
	for {
		if _, err := regs.ExpireOverdue(ctx); err != nil {
			log.Warn("expire sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      lvl,
		TimeFormat: time.RFC3339,
	}))
}
