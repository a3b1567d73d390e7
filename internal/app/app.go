// Package app assembles the scheduling core from configuration. The API
// server and the reconcile worker share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/hackgods/care-portal-scheduling/internal/appointment"
	"github.com/hackgods/care-portal-scheduling/internal/calendar"
	"github.com/hackgods/care-portal-scheduling/internal/config"
	"github.com/hackgods/care-portal-scheduling/internal/db"
	"github.com/hackgods/care-portal-scheduling/internal/directory"
	"github.com/hackgods/care-portal-scheduling/internal/lock"
	"github.com/hackgods/care-portal-scheduling/internal/notify"
)

// DemoProviders is how many fake providers the in-memory mode starts with.
const DemoProviders = 10

type App struct {
	Service  *appointment.Service
	Query    *appointment.Query
	Ledger   appointment.Ledger
	Store    *directory.Store
	PgPool   *pgxpool.Pool
	Redis    *redis.Client
	Notifier *notify.Dispatcher

	logger  zerolog.Logger
	closers []func() error
}

// Build connects every backend cfg selects. On error, whatever was already
// opened is closed again.
func Build(ctx context.Context, cfg config.Config, logger zerolog.Logger) (_ *App, err error) {
	a := &App{logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	if cfg.LockBackend == config.LockRedis || cfg.NotifyChannel != "" {
		rdb, err := lock.NewRedisClient(ctx, lock.RedisOptions{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.Redis = rdb
		a.closers = append(a.closers, rdb.Close)
		logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")
	}

	switch cfg.Storage {
	case config.StoragePostgres:
		if err := a.openPostgres(ctx, cfg); err != nil {
			return nil, err
		}
	case config.StorageMemory:
		if err := a.openMemory(ctx, cfg); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown storage %q", cfg.Storage)
	}

	var locker lock.Locker
	switch cfg.LockBackend {
	case config.LockRedis:
		locker = lock.NewRedisLocker(a.Redis, cfg.LockTTL, cfg.LockWait)
	default:
		locker = lock.NewKeyedLocker(cfg.LockWait)
	}

	senders := []notify.Sender{notify.NewLogSender(logger)}
	if cfg.NotifyChannel != "" {
		senders = append(senders, notify.NewRedisPublisher(a.Redis, cfg.NotifyChannel))
	}
	a.Notifier = notify.NewDispatcher(logger, notify.Options{
		Workers:   cfg.NotifyWorkers,
		QueueSize: cfg.NotifyQueue,
	}, senders...)

	a.Service = appointment.NewService(a.Ledger, a.Store, locker, cfg,
		appointment.WithNotifier(a.Notifier),
		appointment.WithLogger(logger),
	)
	a.Query = appointment.NewQuery(a.Ledger, cfg.Location())

	return a, nil
}

func (a *App) openPostgres(ctx context.Context, cfg config.Config) error {
	pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, 25)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	a.PgPool = pool
	a.closers = append(a.closers, func() error { pool.Close(); return nil })
	a.Ledger = appointment.NewPgLedger(pool)
	a.logger.Info().Msg("connected to Postgres")

	gdb, err := directory.OpenPostgres(cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("provider directory: %w", err)
	}
	a.closers = append(a.closers, closeGorm(gdb))
	a.Store = directory.NewStore(gdb)
	return nil
}

// openMemory keeps appointments in process and seeds a sqlite directory with
// fake providers so the server is usable without any infrastructure.
func (a *App) openMemory(ctx context.Context, cfg config.Config) error {
	a.Ledger = appointment.NewMemoryLedger()

	gdb, err := directory.OpenSQLite(cfg.DirectorySQLite)
	if err != nil {
		return fmt.Errorf("provider directory: %w", err)
	}
	a.closers = append(a.closers, closeGorm(gdb))
	a.Store = directory.NewStore(gdb)

	if err := a.Store.Migrate(ctx); err != nil {
		return err
	}
	today := calendar.DateOf(time.Now().In(cfg.Location()))
	for _, p := range directory.FakeProviders(gofakeit.New(1), DemoProviders, today) {
		if err := a.Store.Upsert(ctx, p); err != nil {
			return fmt.Errorf("seed provider %s: %w", p.ID, err)
		}
	}
	a.logger.Warn().Int("providers", DemoProviders).Msg("running with in-memory storage, appointments are not persisted")
	return nil
}

// Close drains the notifier and then releases connections in reverse order.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Notifier != nil {
		if err := a.Notifier.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("notifier: %w", err))
		}
		a.Notifier = nil
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func closeGorm(gdb *gorm.DB) func() error {
	return func() error {
		sqlDB, err := gdb.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
}
