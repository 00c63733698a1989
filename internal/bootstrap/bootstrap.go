// Package bootstrap assembles the adapters and services selected by the
// configuration. Both the server and the operator CLI build on it.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-redis/redis/v8"

	"github.com/ericfisherdev/contactlink/internal/adapter/driven/lock"
	"github.com/ericfisherdev/contactlink/internal/adapter/driven/memory"
	"github.com/ericfisherdev/contactlink/internal/adapter/driven/metrics"
	"github.com/ericfisherdev/contactlink/internal/adapter/driven/redislock"
	sqliteadapter "github.com/ericfisherdev/contactlink/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/contactlink/internal/application"
	"github.com/ericfisherdev/contactlink/internal/config"
	"github.com/ericfisherdev/contactlink/internal/domain/port/driven"
)

// Services holds the wired dependencies of one process.
type Services struct {
	Store      driven.TxContactStore
	Locker     driven.FingerprintLocker
	Recorder   *metrics.Recorder
	Reconciler *application.Reconciler

	closers []func() error
}

// Build opens the configured store, runs migrations for SQLite, connects the
// lock backend, and wires the reconciler. Call Close when done, even after an
// error has been returned by a later step.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Services, error) {
	s := &Services{Recorder: metrics.NewRecorder()}

	store, err := s.openStore(cfg, logger)
	if err != nil {
		return s, err
	}
	s.Store = store

	locker, err := s.openLocker(ctx, cfg, logger)
	if err != nil {
		return s, err
	}
	s.Locker = locker

	s.Reconciler = application.NewReconciler(s.Store, s.Locker, s.Recorder, logger)
	return s, nil
}

func (s *Services) openStore(cfg *config.Config, logger *slog.Logger) (driven.TxContactStore, error) {
	if cfg.Store == config.StoreMemory {
		logger.Warn("using in-memory contact store, contacts are lost on restart")
		return memory.NewContactStore(), nil
	}

	db, err := sqliteadapter.NewDB(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.DBPath, err)
	}
	s.closers = append(s.closers, db.Close)
	logger.Info("database opened", "path", cfg.DBPath)

	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return nil, err
	}
	logger.Info("migrations complete")

	return sqliteadapter.NewContactRepo(db), nil
}

func (s *Services) openLocker(ctx context.Context, cfg *config.Config, logger *slog.Logger) (driven.FingerprintLocker, error) {
	if !cfg.UsesRedisLocks() {
		return lock.NewKeyedLocker(cfg.LockTimeout), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	s.closers = append(s.closers, client.Close)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis %s: %w", cfg.RedisAddr, err)
	}
	logger.Info("redis fingerprint locks enabled", "addr", cfg.RedisAddr, "db", cfg.RedisDB)

	return redislock.NewLocker(client, redislock.Options{Timeout: cfg.LockTimeout}, logger), nil
}

// Close releases every resource Build opened, in reverse order.
func (s *Services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
