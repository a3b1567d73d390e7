package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/care-portal-scheduling/internal/app"
	"github.com/hackgods/care-portal-scheduling/internal/appointment"
	"github.com/hackgods/care-portal-scheduling/internal/config"
	"github.com/hackgods/care-portal-scheduling/internal/logger"
)

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(rootCtx); err != nil {
		fmt.Fprintln(os.Stderr, "reconcile-worker:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}
	if cfg.Storage != config.StoragePostgres {
		return errors.New("reconcile worker needs a shared ledger, set STORAGE=postgres")
	}
	log := logger.New(cfg.Env).With().Str("component", "reconcile-worker").Logger()

	log.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.ReconcileEvery).
		Dur("grace", cfg.ReconcileGrace).
		Msg("reconcile worker starting up")

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			log.Error().Err(err).Msg("closing backends")
		}
	}()

	loop(ctx, log, a.Service, cfg.ReconcileEvery, cfg.ReconcileGrace)
	return nil
}

// loop runs a pass at startup and then every interval until ctx is done.
func loop(ctx context.Context, log zerolog.Logger, svc *appointment.Service, every, grace time.Duration) {
	runOnce(ctx, log, svc, grace)

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("shutdown signal received, stopping reconcile worker")
			return
		case <-ticker.C:
			runOnce(ctx, log, svc, grace)
		}
	}
}

func runOnce(ctx context.Context, log zerolog.Logger, svc *appointment.Service, grace time.Duration) int {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	released, err := svc.ReconcileOrphans(runCtx, grace)
	if err != nil {
		log.Error().Err(err).Msg("reconcile run failed")
		return 0
	}
	log.Info().Int("released", released).Dur("took", time.Since(start)).Msg("reconcile run complete")
	return released
}
