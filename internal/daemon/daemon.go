package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"parcel/internal/api"
	"parcel/internal/archive"
	"parcel/internal/bundle"
	"parcel/internal/config"
	"parcel/internal/logging"
	"parcel/internal/staging"
	"parcel/internal/workflow"
)

// Dependencies are the long-lived collaborators a Daemon coordinates.
// Sweeper is optional.
type Dependencies struct {
	Store    *bundle.Store
	Workflow *workflow.Manager
	Sweeper  *workflow.Sweeper
	Bundles  *api.BundleService
	Archiver *archive.Archiver
	Logger   *slog.Logger
}

// Daemon coordinates the background processing services and enforces single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *bundle.Store
	workflow *workflow.Manager
	sweeper  *workflow.Sweeper
	bundles  *api.BundleService
	archiver *archive.Archiver
	api      *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, deps Dependencies) (*Daemon, error) {
	if cfg == nil || deps.Store == nil || deps.Workflow == nil || deps.Bundles == nil || deps.Archiver == nil {
		return nil, errors.New("daemon requires config, store, workflow manager, bundle service, and archiver")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    deps.Store,
		workflow: deps.Workflow,
		sweeper:  deps.Sweeper,
		bundles:  deps.Bundles,
		archiver: deps.Archiver,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the daemon lock, releases orphaned staging, and launches the
// workflow manager, the timeout sweeper, and the API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another parcel daemon instance is already running")
	}

	d.cleanStaging(ctx)

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.workflow.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start workflow: %w", err)
	}
	if err := d.api.start(runCtx); err != nil {
		d.workflow.Stop()
		cancel()
		_ = d.lock.Unlock()
		return err
	}
	if d.sweeper != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.sweeper.Run(runCtx)
		}()
	}

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("parcel daemon started", logging.String("lock", d.lockPath))
	return nil
}

// cleanStaging releases segments left behind by bundles that are no longer
// in flight. Failures only cost disk space, so they are logged and ignored.
func (d *Daemon) cleanStaging(ctx context.Context) {
	active, err := d.store.ActiveIDs(ctx)
	if err != nil {
		logging.WarnWithContext(d.logger, "staging cleanup skipped", "staging_cleanup_skipped",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check bundle database access"),
		)
		return
	}
	if _, err := staging.CleanOrphaned(ctx, d.archiver, active, d.logger); err != nil {
		logging.WarnWithContext(d.logger, "staging cleanup incomplete", "staging_cleanup_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check storage.staging_bucket permissions"),
			logging.String(logging.FieldImpact, "orphaned segments stay until the next start"),
		)
	}
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.api.stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.workflow.Stop()
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("parcel daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Handler returns the HTTP handler serving the admin and delivery routes.
func (d *Daemon) Handler() http.Handler {
	return d.api.handler
}

// Addr returns the address the API server listens on, or "" when it is not
// listening.
func (d *Daemon) Addr() string {
	return d.api.addr()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	summary := d.workflow.Status(ctx)
	return api.DaemonStatus{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		DatabasePath: d.store.Path(),
		LockFilePath: d.lockPath,
		APIBind:      d.api.addr(),
		Workflow:     api.FromStatusSummary(summary),
	}
}
