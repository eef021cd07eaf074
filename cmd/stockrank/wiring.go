package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fedutinova/stockrank/internal/database"
	"github.com/fedutinova/stockrank/internal/dispatcher"
	"github.com/fedutinova/stockrank/internal/queue"
	"github.com/fedutinova/stockrank/internal/redis"
	"github.com/fedutinova/stockrank/internal/repository"
	"github.com/fedutinova/stockrank/internal/storage"
)

// app holds whatever connections a command opened; close releases them in
// reverse order.
type app struct {
	broker  *queue.RedisQueue
	store   repository.Store
	archive storage.Storage
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) openBroker(ctx context.Context) error {
	redisService, err := redis.New(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() { _ = redisService.Close() })

	a.broker = queue.NewRedisQueue(redisService.Client(), queue.RedisQueueConfig{Prefix: cfg.QueuePrefix})
	a.closers = append(a.closers, func() { _ = a.broker.Close() })
	slog.Info("broker connected", "prefix", cfg.QueuePrefix)
	return nil
}

func (a *app) openStore(ctx context.Context, migrate bool) error {
	switch cfg.StoreDriver {
	case "sqlite":
		db, err := database.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return fmt.Errorf("open sqlite %s: %w", cfg.SQLitePath, err)
		}
		a.closers = append(a.closers, func() { _ = db.Close() })
		a.store = repository.NewSQLite(db.DB)
	case "postgres", "postgresql", "pgx":
		db, err := database.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, db.Close)
		if migrate {
			if err := db.Migrate(ctx); err != nil {
				return err
			}
		}
		a.store = repository.NewPostgres(db)
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q (want postgres or sqlite)", cfg.StoreDriver)
	}
	slog.Info("store opened", "driver", cfg.StoreDriver)
	return nil
}

func (a *app) openArchive(ctx context.Context) error {
	archive, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize report archive: %w", err)
	}
	a.archive = archive
	slog.Info("report archive initialized", "type", storage.GetStorageType(cfg))
	return nil
}

func (a *app) dispatcher() *dispatcher.Dispatcher {
	var prices repository.PriceSource
	var rankings repository.RankingStore
	if a.store != nil {
		prices, rankings = a.store, a.store
	}
	return dispatcher.New(a.broker, prices, rankings, a.archive, dispatcher.Config{
		PollInterval: cfg.PollInterval,
		MaxStall:     cfg.MaxStall,
		ReclaimAfter: cfg.ReclaimAfter,
		DefaultYears: cfg.DefaultYears,
	})
}
