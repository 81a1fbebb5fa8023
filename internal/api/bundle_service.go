package api

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"parcel/internal/access"
	"parcel/internal/bundle"
	"parcel/internal/config"
	"parcel/internal/delivery"
	"parcel/internal/logging"
	"parcel/internal/notifications"
	"parcel/internal/planner"
	"parcel/internal/revocation"
	"parcel/internal/services"
)

// Waker is nudged after a bundle is created so processing starts promptly.
type Waker interface {
	Wake()
}

// Deps are the collaborators a BundleService uses. Revocation, Notifier, and
// Waker are optional.
type Deps struct {
	Store      *bundle.Store
	Planner    *planner.Planner
	Gate       *access.Gate
	Revocation revocation.Publisher
	Notifier   notifications.Service
	Waker      Waker
	Logger     *slog.Logger
	Now        func() time.Time
}

// BundleService runs bundle operations and returns API DTOs.
type BundleService struct {
	store      *bundle.Store
	planner    *planner.Planner
	gate       *access.Gate
	poller     *delivery.Service
	revocation revocation.Publisher
	notifier   notifications.Service
	waker      Waker
	logger     *slog.Logger
	now        func() time.Time
	defaultTTL time.Duration
	view       ViewOptions
}

// CreateInput describes a bundle to prepare. ExpiresAt wins over ExpiresIn;
// with neither, access.default_ttl_hours applies.
type CreateInput struct {
	ID        string
	Label     string
	AssetIDs  []string
	Password  string
	ExpiresIn time.Duration
	ExpiresAt *time.Time
}

// NewBundleService constructs a BundleService.
func NewBundleService(cfg *config.Config, deps Deps) *BundleService {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	opts := delivery.Options{
		PublicBaseURL:  cfg.Storage.PublicBaseURL,
		StallThreshold: cfg.StallThreshold(),
	}
	return &BundleService{
		store:      deps.Store,
		planner:    deps.Planner,
		gate:       deps.Gate,
		poller:     delivery.NewService(deps.Store, deps.Gate, opts, now),
		revocation: deps.Revocation,
		notifier:   deps.Notifier,
		waker:      deps.Waker,
		logger:     logging.NewComponentLogger(deps.Logger, "api"),
		now:        now,
		defaultTTL: time.Duration(cfg.Access.DefaultTTLHours) * time.Hour,
		view: ViewOptions{
			PublicBaseURL:  cfg.Storage.PublicBaseURL,
			StallThreshold: cfg.StallThreshold(),
		},
	}
}

func (s *BundleService) viewOptions() ViewOptions {
	opts := s.view
	opts.Now = s.now()
	return opts
}

// Create plans the assets and persists a pending bundle. Planning errors
// leave no record behind.
func (s *BundleService) Create(ctx context.Context, in CreateInput) (Bundle, error) {
	now := s.now()
	expiresAt, err := s.resolveExpiry(in, now)
	if err != nil {
		return Bundle{}, err
	}

	plan, err := s.planner.Plan(ctx, in.AssetIDs)
	if err != nil {
		return Bundle{}, err
	}

	var hash string
	if in.Password != "" {
		if hash, err = s.gate.HashPassword(in.Password); err != nil {
			return Bundle{}, err
		}
	}

	req, err := s.store.Create(ctx, bundle.NewRequest{
		ID:           in.ID,
		Label:        strings.TrimSpace(in.Label),
		AssetIDs:     in.AssetIDs,
		Chunks:       plan.Chunks,
		ExpiresAt:    expiresAt,
		PasswordHash: hash,
	})
	if err != nil {
		return Bundle{}, err
	}

	logger := logging.WithContext(services.WithBundleID(ctx, req.ID), s.logger)
	logger.Info("bundle created",
		logging.Int("assets", len(req.AssetIDs)),
		logging.Int("total_chunks", req.TotalChunks),
		logging.Int64("total_bytes", req.TotalBytes),
		logging.Bool("password_protected", req.RequiresPassword()),
		logging.String(logging.FieldEventType, "bundle_created"),
	)
	if s.waker != nil {
		s.waker.Wake()
	}
	return FromRequest(req, s.viewOptions()), nil
}

func (s *BundleService) resolveExpiry(in CreateInput, now time.Time) (*time.Time, error) {
	var at time.Time
	switch {
	case in.ExpiresAt != nil:
		at = in.ExpiresAt.UTC()
	case in.ExpiresIn < 0:
		return nil, services.Wrap(services.ErrValidation, "api", "create bundle", "expiry duration is negative", nil)
	case in.ExpiresIn > 0:
		at = now.Add(in.ExpiresIn).UTC()
	case s.defaultTTL > 0:
		at = now.Add(s.defaultTTL).UTC()
	default:
		return nil, nil
	}
	if !at.After(now) {
		return nil, services.Wrap(services.ErrValidation, "api", "create bundle", "expiry is not in the future", nil)
	}
	return &at, nil
}

// Describe fetches a bundle with its chunks. A missing bundle returns nil, nil.
func (s *BundleService) Describe(ctx context.Context, id string) (*BundleDetail, error) {
	req, err := s.store.Get(ctx, id)
	if err != nil || req == nil {
		return nil, err
	}
	chunks, err := s.store.Chunks(ctx, id)
	if err != nil {
		return nil, err
	}
	return &BundleDetail{Bundle: FromRequest(req, s.viewOptions()), Chunks: FromChunks(chunks)}, nil
}

// List returns bundles whose effective status is one of statuses, oldest
// first. No statuses means every bundle.
func (s *BundleService) List(ctx context.Context, statuses ...bundle.Status) ([]Bundle, error) {
	reqs, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	want := make(map[bundle.Status]struct{}, len(statuses))
	for _, status := range statuses {
		want[status] = struct{}{}
	}
	opts := s.viewOptions()
	out := make([]Bundle, 0, len(reqs))
	for _, req := range reqs {
		if len(want) > 0 {
			if _, ok := want[req.EffectiveStatus(opts.Now)]; !ok {
				continue
			}
		}
		out = append(out, FromRequest(req, opts))
	}
	return out, nil
}

// Stats returns bundle counts keyed by stored status.
func (s *BundleService) Stats(ctx context.Context) (map[string]int, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return MergeBundleStats(stats), nil
}

// Revoke revokes a bundle, signals running workers, and notifies
// collaborators. Revoking twice keeps the first revocation.
func (s *BundleService) Revoke(ctx context.Context, id, reason string) (RevokeResponse, error) {
	result, err := s.store.Revoke(ctx, id, strings.TrimSpace(reason))
	if err != nil {
		return RevokeResponse{}, err
	}
	if !result.Found {
		return RevokeResponse{}, services.Wrap(services.ErrNotFound, "api", "revoke bundle", id, nil)
	}
	resp := RevokeResponse{Bundle: FromRequest(result.Request, s.viewOptions()), Changed: result.Changed}
	if !result.Changed {
		return resp, nil
	}

	ctx = services.WithBundleID(ctx, id)
	logger := logging.WithContext(ctx, s.logger)
	logger.Info("bundle revoked",
		logging.String("reason", result.Request.RevokeReason),
		logging.String("stored_status", string(result.Request.Status)),
		logging.String(logging.FieldEventType, "bundle_revoked"),
	)
	if s.revocation != nil {
		if err := s.revocation.Publish(ctx, id); err != nil {
			logging.WarnWithContext(logger, "revocation signal failed", "revocation_signal_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check revocation.redis_url"),
				logging.String(logging.FieldImpact, "workers observe the revocation from the store instead"),
			)
		}
	}
	if s.notifier != nil {
		payload := notifications.Payload{"bundleId": id}
		if result.Request.RevokeReason != "" {
			payload["reason"] = result.Request.RevokeReason
		}
		if err := s.notifier.Publish(ctx, notifications.EventBundleRevoked, payload); err != nil {
			logging.WarnWithContext(logger, "revocation notification failed", "notification_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check notifications.webhook_url and kafka_brokers"),
			)
		}
	}
	return resp, nil
}

// Poll answers a delivery poll.
func (s *BundleService) Poll(ctx context.Context, id string, attempt access.Attempt) (delivery.Snapshot, error) {
	return s.poller.Poll(ctx, id, attempt)
}

// ArchiveLocation authorizes an archive download. It returns the stored
// location only when the bundle projects as Ready for attempt; otherwise it
// returns the snapshot explaining why not.
func (s *BundleService) ArchiveLocation(ctx context.Context, id string, attempt access.Attempt) (string, delivery.Snapshot, error) {
	snap, err := s.poller.Poll(ctx, id, attempt)
	if err != nil || snap.State != delivery.StateReady {
		return "", snap, err
	}
	req, err := s.store.Get(ctx, id)
	if err != nil {
		return "", snap, err
	}
	if req == nil || req.ResultLocation == "" {
		return "", snap, services.Wrap(services.ErrNotFound, "api", "archive location", fmt.Sprintf("bundle %s has no archive", id), nil)
	}
	return req.ResultLocation, snap, nil
}
