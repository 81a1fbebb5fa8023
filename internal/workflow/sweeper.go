package workflow

import (
	"context"
	"log/slog"
	"time"

	"parcel/internal/archive"
	"parcel/internal/bundle"
	"parcel/internal/config"
	"parcel/internal/logging"
	"parcel/internal/notifications"
	"parcel/internal/services"
)

// Sweeper fails bundles that stopped making progress.
type Sweeper struct {
	store     *bundle.Store
	archiver  *archive.Archiver
	publisher publisher
	logger    *slog.Logger
	ceiling   time.Duration
	interval  time.Duration
	now       func() time.Time
}

// NewSweeper constructs a Sweeper from the workflow timing configuration.
func NewSweeper(cfg *config.Config, deps Dependencies) *Sweeper {
	logger := logging.NewComponentLogger(deps.Logger, "sweeper")
	return &Sweeper{
		store:     deps.Store,
		archiver:  deps.Archiver,
		publisher: publisher{notifier: deps.Notifier, logger: logger},
		logger:    logger,
		ceiling:   cfg.HardCeiling(),
		interval:  secondsOr(cfg.Workflow.SweepIntervalSeconds, 30*time.Second),
		now:       time.Now,
	}
}

// SetClock replaces time.Now.
func (s *Sweeper) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Run sweeps on every interval until ctx ends. A non-positive ceiling
// disables the sweep.
func (s *Sweeper) Run(ctx context.Context) {
	if s.ceiling <= 0 {
		s.logger.Info("timeout sweep disabled")
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			logging.WarnWithContext(s.logger, "timeout sweep failed", "sweep_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check bundle database access"),
				logging.String(logging.FieldImpact, "stuck bundles stay in progress until the next sweep"),
			)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep fails every chunking or assembling bundle idle for longer than the
// hard ceiling and returns their identifiers.
func (s *Sweeper) Sweep(ctx context.Context) ([]string, error) {
	if s.ceiling <= 0 {
		return nil, nil
	}
	cutoff := s.now().Add(-s.ceiling)
	ids, err := s.store.FailTimedOut(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		bctx := services.WithBundleID(ctx, id)
		logger := logging.WithContext(bctx, s.logger)
		logging.WarnWithContext(logger, "bundle timed out", "bundle_timed_out",
			logging.Alert("bundle_timeout"),
			logging.Duration("hard_ceiling", s.ceiling),
			logging.Time("idle_before", cutoff),
			logging.String(logging.FieldErrorHint, "check worker logs for the stalled chunk"),
			logging.String(logging.FieldImpact, "bundle failed; recipients see a failed delivery"),
		)
		if err := s.archiver.Release(bctx, id); err != nil {
			logging.WarnWithContext(logger, "release staged segments failed", "staging_release_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "run parcel check and inspect the staging bucket"),
			)
		}
		req, err := s.store.Get(bctx, id)
		if err != nil || req == nil {
			continue
		}
		s.publisher.publish(bctx, notifications.EventBundleTimedOut, timedOutPayload(req))
	}
	return ids, nil
}
