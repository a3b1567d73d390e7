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

	"github.com/spf13/cobra"

	"github.com/hackgods/care-portal-scheduling/internal/api"
	"github.com/hackgods/care-portal-scheduling/internal/app"
	"github.com/hackgods/care-portal-scheduling/internal/config"
	"github.com/hackgods/care-portal-scheduling/internal/db"
	"github.com/hackgods/care-portal-scheduling/internal/directory"
	"github.com/hackgods/care-portal-scheduling/internal/logger"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "api-server",
		Short: "Care portal appointment scheduling API",
	}
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			inMemory, _ := cmd.Flags().GetBool("in-memory")
			return runServer(inMemory)
		},
	}
	cmd.Flags().Bool("in-memory", false, "Keep appointments in process with a fake provider directory and local locks")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply ledger migrations and the provider directory schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context())
		},
	}
}

func loadConfig(inMemory bool) (config.Config, error) {
	if inMemory {
		os.Setenv("STORAGE", config.StorageMemory)
		if os.Getenv("LOCK_BACKEND") == "" {
			os.Setenv("LOCK_BACKEND", config.LockLocal)
		}
	}
	return config.Load()
}

func runServer(inMemory bool) error {
	cfg, err := loadConfig(inMemory)
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}
	log := logger.New(cfg.Env)

	log.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
		Str("storage", cfg.Storage).
		Str("lock_backend", cfg.LockBackend).
		Str("clinic_timezone", cfg.ClinicTimezone).
		Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(rootCtx, cfg, log)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: api.NewRouter(api.RouterConfig{
			Service: a.Service,
			Query:   a.Query,
			PgPool:  a.PgPool,
			Redis:   a.Redis,
			Logger:  log,
			Env:     cfg.Env,
			Version: version,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-rootCtx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-serveErr:
		log.Error().Err(err).Msg("http server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if err := a.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("closing backends")
	}

	log.Info().Msg("api-server stopped")
	return nil
}

func runMigrate(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}
	if cfg.Storage != config.StoragePostgres {
		return errors.New("migrate needs STORAGE=postgres")
	}
	log := logger.New(cfg.Env)

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, 2)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()

	n, err := db.NewMigrator(pool, log).Up(ctx)
	if err != nil {
		return err
	}
	log.Info().Int("applied", n).Msg("ledger migrations complete")

	gdb, err := directory.OpenPostgres(cfg.PostgresDSN)
	if err != nil {
		return err
	}
	if sqlDB, err := gdb.DB(); err == nil {
		defer sqlDB.Close()
	}
	if err := directory.NewStore(gdb).Migrate(ctx); err != nil {
		return fmt.Errorf("provider directory: %w", err)
	}
	log.Info().Msg("provider directory schema ready")
	return nil
}
