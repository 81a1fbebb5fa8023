package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"parcel/internal/bundle"
	"parcel/internal/logging"
	"parcel/internal/notifications"
	"parcel/internal/retry"
	"parcel/internal/services"
)

// ExpiredReason is recorded on bundles whose expiry passed before the archive
// was ready.
const ExpiredReason = "bundle expired before its archive was ready"

// Process advances one bundle as far as it can go: it starts a pending
// bundle, runs its pending chunks, and finalizes the archive once every chunk
// completed. Revoked, terminal, and missing bundles are left alone. A non-nil
// error means the bundle should be retried later.
func (m *Manager) Process(ctx context.Context, bundleID string) error {
	ctx = services.WithBundleID(ctx, bundleID)
	logger := logging.WithContext(ctx, m.logger)

	req, err := m.store.Get(ctx, bundleID)
	if err != nil {
		return err
	}
	if !processable(req) {
		return nil
	}
	m.setLastBundle(bundleID)

	if req.IsExpired(m.now()) {
		return m.failBundle(ctx, req, ExpiredReason)
	}

	if req.Status == bundle.StatusPending {
		started, err := m.store.MarkStarted(ctx, bundleID)
		if err != nil {
			return err
		}
		if req, err = m.store.Get(ctx, bundleID); err != nil {
			return err
		}
		if !processable(req) {
			return nil
		}
		if started {
			logger.Info("bundle started",
				logging.Int("total_chunks", req.TotalChunks),
				logging.Int64("total_bytes", req.TotalBytes),
				logging.String(logging.FieldEventType, "bundle_started"),
			)
		}
	}

	if req.Status == bundle.StatusChunking {
		if req, err = m.runChunks(ctx, logger, req); err != nil || req == nil {
			return err
		}
	}

	if req.Status == bundle.StatusAssembling {
		return m.assemble(ctx, logger, req)
	}
	return nil
}

func processable(req *bundle.Request) bool {
	return req != nil && !req.IsRevoked() && req.IsProcessing()
}

// runChunks executes the bundle's pending chunks and returns the refreshed
// record when it should continue to assembly, nil otherwise.
func (m *Manager) runChunks(ctx context.Context, logger *slog.Logger, req *bundle.Request) (*bundle.Request, error) {
	chunks, err := m.store.Chunks(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	pending := bundle.PendingChunks(chunks)
	if len(pending) > 0 {
		logger.Info("running chunks",
			logging.Int("pending_chunks", len(pending)),
			logging.Int("completed_chunks", req.CompletedChunks),
		)
		report, err := m.pool.Run(ctx, req.ID, pending)
		if err != nil {
			return nil, err
		}
		if report.Failed > 0 {
			m.publishFailure(ctx, req.ID)
			return nil, nil
		}
		if report.Cancelled {
			return nil, m.settleCancelled(ctx, logger, req.ID)
		}
	}

	fresh, err := m.store.Get(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if !processable(fresh) {
		m.releaseStaged(ctx, logger, req.ID)
		return nil, nil
	}
	if fresh.Status != bundle.StatusAssembling {
		return nil, nil
	}
	return fresh, nil
}

// settleCancelled decides what a cancelled run means. Revoked and failed
// bundles are already settled; an expired one is failed here.
func (m *Manager) settleCancelled(ctx context.Context, logger *slog.Logger, bundleID string) error {
	req, err := m.store.Get(ctx, bundleID)
	if err != nil {
		return err
	}
	if !processable(req) {
		logger.Info("bundle cancelled", logging.String("status", bundleStatus(req)))
		return nil
	}
	if req.IsExpired(m.now()) {
		return m.failBundle(ctx, req, ExpiredReason)
	}
	return nil
}

func (m *Manager) assemble(ctx context.Context, logger *slog.Logger, req *bundle.Request) error {
	var result bundle.ArchiveResult
	attempts, err := m.finalize.Do(ctx, func(ctx context.Context, _ int) error {
		r, err := m.archiver.Finalize(ctx, req.ID, req.TotalChunks)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		if ctx.Err() != nil || retry.IsTransient(err) {
			return err
		}
		reason := fmt.Sprintf("assemble archive: %s", services.Details(err).Message)
		return m.failBundle(ctx, req, reason)
	}

	ready, err := m.store.MarkReady(ctx, req.ID, result)
	if err != nil {
		return err
	}
	if !ready {
		// Revoked or failed while the archive was being written.
		if err := m.archiver.Discard(ctx, req.ID); err != nil {
			logging.WarnWithContext(logger, "discard unused archive failed", "archive_discard_failed",
				logging.Error(err),
				logging.String("location", result.Location),
				logging.String(logging.FieldErrorHint, "delete the archive object manually"),
			)
		}
		m.releaseStaged(ctx, logger, req.ID)
		return nil
	}
	m.releaseStaged(ctx, logger, req.ID)

	logger.Info("bundle ready",
		logging.String("location", result.Location),
		logging.Int64("archive_size_bytes", result.SizeBytes),
		logging.String("checksum", result.Checksum),
		logging.Int("finalize_attempts", attempts),
		logging.String(logging.FieldEventType, "bundle_ready"),
	)
	if fresh, err := m.store.Get(ctx, req.ID); err == nil && fresh != nil {
		req = fresh
	}
	m.publisher.publish(ctx, notifications.EventBundleReady, readyPayload(req, result, m.cfg.Storage.PublicBaseURL))
	return nil
}

func (m *Manager) failBundle(ctx context.Context, req *bundle.Request, reason string) error {
	logger := logging.WithContext(ctx, m.logger)
	changed, err := m.store.MarkFailed(ctx, req.ID, reason)
	if err != nil {
		return err
	}
	m.releaseStaged(ctx, logger, req.ID)
	if !changed {
		return nil
	}
	logging.WarnWithContext(logger, "bundle failed", "bundle_failed",
		logging.String("reason", reason),
		logging.String(logging.FieldErrorHint, "inspect the bundle with parcel show"),
		logging.String(logging.FieldImpact, "recipients see a failed delivery"),
	)
	m.publisher.publish(ctx, notifications.EventBundleFailed, failedPayload(req, reason))
	return nil
}

// publishFailure reports a bundle failed by a chunk event.
func (m *Manager) publishFailure(ctx context.Context, bundleID string) {
	req, err := m.store.Get(ctx, bundleID)
	if err != nil || req == nil || req.Status != bundle.StatusFailed {
		return
	}
	m.publisher.publish(ctx, notifications.EventBundleFailed, failedPayload(req, req.ErrorMessage))
}

func (m *Manager) releaseStaged(ctx context.Context, logger *slog.Logger, bundleID string) {
	if err := m.archiver.Release(ctx, bundleID); err != nil {
		logging.WarnWithContext(logger, "release staged segments failed", "staging_release_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "run parcel check and inspect the staging bucket"),
			logging.String(logging.FieldImpact, "orphaned segments remain until the next startup cleanup"),
		)
	}
}

func bundleStatus(req *bundle.Request) string {
	switch {
	case req == nil:
		return "missing"
	case req.IsRevoked():
		return string(bundle.StatusRevoked)
	default:
		return string(req.Status)
	}
}
