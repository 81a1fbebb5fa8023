package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"parcel/internal/access"
	"parcel/internal/api"
	"parcel/internal/archive"
	"parcel/internal/assets"
	"parcel/internal/bundle"
	"parcel/internal/config"
	"parcel/internal/daemon"
	"parcel/internal/notifications"
	"parcel/internal/planner"
	"parcel/internal/progress"
	"parcel/internal/retry"
	"parcel/internal/revocation"
	"parcel/internal/storage"
	"parcel/internal/worker"
	"parcel/internal/workflow"
)

type runtime struct {
	buckets  *storage.Buckets
	store    *bundle.Store
	signal   *revocation.RedisSignal
	notifier notifications.Service
	daemon   *daemon.Daemon
}

// bootstrap opens every collaborator and wires the daemon. Partially opened
// resources are closed on failure.
func bootstrap(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*runtime, error) {
	rt := &runtime{}
	if err := rt.wire(ctx, cfg, logger); err != nil {
		_ = rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	var err error

	if rt.buckets, err = storage.Open(ctx, cfg); err != nil {
		return err
	}
	if rt.store, err = bundle.Open(cfg); err != nil {
		return fmt.Errorf("open bundle store: %w", err)
	}

	archiver := archive.New(rt.buckets.Staging, rt.buckets.Archive)
	assetStore := assets.NewBlobStore(rt.buckets.Assets)
	gate, err := access.FromConfig(cfg)
	if err != nil {
		return err
	}

	checkers := []revocation.Checker{revocation.NewStoreChecker(rt.store, nil)}
	var publisher revocation.Publisher
	if cfg.Revocation.RedisURL != "" {
		if rt.signal, err = revocation.Dial(ctx, cfg.Revocation.RedisURL, cfg.Revocation.KeyPrefix, revocation.DefaultFlagTTL); err != nil {
			return fmt.Errorf("revocation signal: %w", err)
		}
		checkers = append(checkers, rt.signal)
		publisher = rt.signal
	}

	rt.notifier = notifications.NewService(cfg)

	pool := worker.New(assetStore, archiver, progress.NewAggregator(rt.store, logger),
		revocation.Any(checkers...),
		worker.Options{
			Size:         cfg.Workers.PoolSize,
			ChunkTimeout: cfg.ChunkTimeout(),
			Policy:       retry.FromConfig(cfg),
			Logger:       logger,
		},
	)
	deps := workflow.Dependencies{
		Store:    rt.store,
		Pool:     pool,
		Archiver: archiver,
		Notifier: rt.notifier,
		Logger:   logger,
	}
	manager := workflow.NewManager(cfg, deps, healthChecks(rt, cfg)...)
	bundles := api.NewBundleService(cfg, api.Deps{
		Store:      rt.store,
		Planner:    planner.New(assetStore, planner.LimitsFromConfig(cfg)),
		Gate:       gate,
		Revocation: publisher,
		Notifier:   rt.notifier,
		Waker:      manager,
		Logger:     logger,
	})

	rt.daemon, err = daemon.New(cfg, daemon.Dependencies{
		Store:    rt.store,
		Workflow: manager,
		Sweeper:  workflow.NewSweeper(cfg, deps),
		Bundles:  bundles,
		Archiver: archiver,
		Logger:   logger,
	})
	return err
}

func healthChecks(rt *runtime, cfg *config.Config) []workflow.ManagerOption {
	opts := []workflow.ManagerOption{
		workflow.WithHealthCheck("bundle-store", func(ctx context.Context) error {
			health, err := rt.store.CheckHealth(ctx)
			if err != nil {
				return err
			}
			if !health.IntegrityCheck {
				return errors.New("integrity check failed")
			}
			return nil
		}),
		workflow.WithHealthCheck("asset-bucket", func(ctx context.Context) error {
			return storage.Ping(ctx, rt.buckets.Assets)
		}),
		workflow.WithHealthCheck("staging-bucket", func(ctx context.Context) error {
			return storage.Ping(ctx, rt.buckets.Staging)
		}),
		workflow.WithHealthCheck("archive-bucket", func(ctx context.Context) error {
			return storage.Ping(ctx, rt.buckets.Archive)
		}),
	}
	if cfg.Revocation.RedisURL != "" {
		opts = append(opts, workflow.WithHealthCheck("revocation-signal", func(ctx context.Context) error {
			return rt.signal.Ping(ctx)
		}))
	}
	return opts
}

// Close releases everything bootstrap opened. The daemon closes the store.
func (rt *runtime) Close() error {
	if rt == nil {
		return nil
	}
	var errs []error
	if rt.daemon != nil {
		errs = append(errs, rt.daemon.Close())
	} else if rt.store != nil {
		errs = append(errs, rt.store.Close())
	}
	if rt.notifier != nil {
		errs = append(errs, notifications.Close(rt.notifier))
	}
	if rt.signal != nil {
		errs = append(errs, rt.signal.Close())
	}
	errs = append(errs, rt.buckets.Close())
	return errors.Join(errs...)
}
