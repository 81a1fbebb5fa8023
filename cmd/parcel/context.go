package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"parcel/internal/access"
	"parcel/internal/api"
	"parcel/internal/archive"
	"parcel/internal/assets"
	"parcel/internal/bundle"
	"parcel/internal/bundleaccess"
	"parcel/internal/config"
	"parcel/internal/logging"
	"parcel/internal/notifications"
	"parcel/internal/planner"
	"parcel/internal/revocation"
	"parcel/internal/storage"
	"parcel/internal/workflow"
)

type commandContext struct {
	configFlag *string

	configOnce   sync.Once
	config       *config.Config
	configPath   string
	configExists bool
	configErr    error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, exists, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
		c.configExists = exists
	})
	return c.config, c.configErr
}

// withSession runs fn against the daemon when it answers, or against the
// bundle store opened in-process otherwise.
func (c *commandContext) withSession(cmd *cobra.Command, fn func(bundleaccess.Session) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	client, err := bundleaccess.NewClient(cfg.Paths.APIBind, cfg.Paths.APIToken)
	if err != nil {
		return fmt.Errorf("api client: %w", err)
	}
	session, err := bundleaccess.OpenWithFallback(cmd.Context(), client, func(ctx context.Context) (bundleaccess.Access, func() error, error) {
		local, err := openLocal(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		svc, err := local.bundleService()
		if err != nil {
			_ = local.Close()
			return nil, nil, err
		}
		return bundleaccess.NewStoreAccess(svc), local.Close, nil
	})
	if err != nil {
		return err
	}
	defer session.Close()
	return fn(session)
}

// withLocal runs fn against the store and buckets opened in-process.
func (c *commandContext) withLocal(cmd *cobra.Command, fn func(*localResources) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	local, err := openLocal(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer local.Close()
	return fn(local)
}

// localResources is what a CLI process opens when it works without the
// daemon.
type localResources struct {
	cfg      *config.Config
	logger   *slog.Logger
	buckets  *storage.Buckets
	store    *bundle.Store
	archiver *archive.Archiver
	notifier notifications.Service
	signal   *revocation.RedisSignal
}

func openLocal(ctx context.Context, cfg *config.Config) (*localResources, error) {
	logger, err := cliLogger(cfg)
	if err != nil {
		return nil, err
	}
	r := &localResources{cfg: cfg, logger: logger}
	if r.buckets, err = storage.Open(ctx, cfg); err != nil {
		return nil, err
	}
	if r.store, err = bundle.Open(cfg); err != nil {
		_ = r.buckets.Close()
		return nil, fmt.Errorf("open bundle store: %w", err)
	}
	r.archiver = archive.New(r.buckets.Staging, r.buckets.Archive)
	r.notifier = notifications.NewService(cfg)
	if cfg.Revocation.RedisURL != "" {
		signal, err := revocation.Dial(ctx, cfg.Revocation.RedisURL, cfg.Revocation.KeyPrefix, revocation.DefaultFlagTTL)
		if err != nil {
			logging.WarnWithContext(logger, "revocation signal unavailable", "revocation_signal_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "workers observe revocations from the store"),
			)
		} else {
			r.signal = signal
		}
	}
	return r, nil
}

func (r *localResources) bundleService() (*api.BundleService, error) {
	gate, err := access.FromConfig(r.cfg)
	if err != nil {
		return nil, err
	}
	deps := api.Deps{
		Store:    r.store,
		Planner:  planner.New(assets.NewBlobStore(r.buckets.Assets), planner.LimitsFromConfig(r.cfg)),
		Gate:     gate,
		Notifier: r.notifier,
		Logger:   r.logger,
	}
	if r.signal != nil {
		deps.Revocation = r.signal
	}
	return api.NewBundleService(r.cfg, deps), nil
}

func (r *localResources) workflowDeps() workflow.Dependencies {
	return workflow.Dependencies{
		Store:    r.store,
		Archiver: r.archiver,
		Notifier: r.notifier,
		Logger:   r.logger,
	}
}

func (r *localResources) Close() error {
	var errs []error
	if r.signal != nil {
		errs = append(errs, r.signal.Close())
	}
	errs = append(errs, notifications.Close(r.notifier))
	errs = append(errs, r.store.Close())
	errs = append(errs, r.buckets.Close())
	return errors.Join(errs...)
}

// cliLogger appends to the daemon's log file so CLI-side mutations show up
// next to daemon activity without cluttering command output.
func cliLogger(cfg *config.Config) (*slog.Logger, error) {
	return logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Format:      "json",
		OutputPaths: []string{filepath.Join(cfg.Paths.LogDir, "parcel.log")},
	})
}

// daemonRunning reports whether another process holds the daemon lock.
func daemonRunning(cfg *config.Config) bool {
	lock := flock.New(cfg.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return false
	}
	if locked {
		_ = lock.Unlock()
		return false
	}
	return true
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
