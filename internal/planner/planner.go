// Package planner partitions an ordered asset list into chunks bounded by a
// byte budget and an asset count. Planning is deterministic: the same assets
// with the same sizes always produce the same chunks, so a retried request
// plans identically.
package planner

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"parcel/internal/assets"
	"parcel/internal/bundle"
	"parcel/internal/config"
	"parcel/internal/services"
)

// statConcurrency bounds parallel Stat calls while planning.
const statConcurrency = 8

// Limits bounds a plan.
type Limits struct {
	ChunkByteBudget   int64
	MaxAssets         int
	MaxAssetsPerChunk int
}

// LimitsFromConfig reads planner limits from configuration.
func LimitsFromConfig(cfg *config.Config) Limits {
	return Limits{
		ChunkByteBudget:   cfg.Planner.ChunkByteBudget,
		MaxAssets:         cfg.Planner.MaxAssets,
		MaxAssetsPerChunk: cfg.Planner.MaxAssetsPerChunk,
	}
}

// Plan is the ordered chunk list for one request.
type Plan struct {
	Chunks     []bundle.ChunkPlan
	TotalBytes int64
}

// PlanningError reports input rejected at plan time. The request never starts.
type PlanningError struct {
	AssetID string
	Reason  string
	Err     error
}

func (e *PlanningError) Error() string {
	msg := "planning failed: " + e.Reason
	if e.AssetID != "" {
		msg = fmt.Sprintf("planning failed: asset %q: %s", e.AssetID, e.Reason)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PlanningError) Unwrap() error { return e.Err }

func (e *PlanningError) Is(target error) bool { return target == services.ErrPlanning }

// Planner checks assets against the asset store and packs them into chunks.
type Planner struct {
	assets assets.Store
	limits Limits
}

// New constructs a Planner.
func New(store assets.Store, limits Limits) *Planner {
	return &Planner{assets: store, limits: limits}
}

// Plan validates assetIDs, checks that every asset is accessible, and packs
// them in input order.
func (p *Planner) Plan(ctx context.Context, assetIDs []string) (Plan, error) {
	if len(assetIDs) == 0 {
		return Plan{}, &PlanningError{Reason: "asset list is empty"}
	}
	if p.limits.MaxAssets > 0 && len(assetIDs) > p.limits.MaxAssets {
		return Plan{}, &PlanningError{Reason: fmt.Sprintf("%d assets exceed the limit of %d", len(assetIDs), p.limits.MaxAssets)}
	}
	seen := make(map[string]struct{}, len(assetIDs))
	for _, id := range assetIDs {
		if err := assets.ValidateID(id); err != nil {
			return Plan{}, &PlanningError{AssetID: id, Reason: "invalid asset id", Err: err}
		}
		if _, dup := seen[id]; dup {
			return Plan{}, &PlanningError{AssetID: id, Reason: "listed more than once"}
		}
		seen[id] = struct{}{}
	}

	infos := make([]assets.Info, len(assetIDs))
	errs := make([]error, len(assetIDs))
	var g errgroup.Group
	g.SetLimit(statConcurrency)
	for i, id := range assetIDs {
		g.Go(func() error {
			info, err := p.assets.Stat(ctx, id)
			if err != nil {
				errs[i] = err
				return nil
			}
			infos[i] = info
			return nil
		})
	}
	_ = g.Wait()

	// Report the first failing asset in input order so errors are stable.
	for i, err := range errs {
		if err == nil {
			continue
		}
		if errors.Is(err, services.ErrTransient) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return Plan{}, services.Wrap(services.ErrTransient, "planner", "stat asset", assetIDs[i], err)
		}
		return Plan{}, &PlanningError{AssetID: assetIDs[i], Reason: "asset is not accessible", Err: err}
	}

	chunks := Pack(infos, p.limits)
	var total int64
	for _, info := range infos {
		total += info.Size
	}
	return Plan{Chunks: chunks, TotalBytes: total}, nil
}

// Pack groups consecutive assets greedily. A chunk closes when the next asset
// would push it past the byte budget or the per-chunk asset cap. An asset
// larger than the budget gets a chunk of its own.
func Pack(infos []assets.Info, limits Limits) []bundle.ChunkPlan {
	var (
		chunks  []bundle.ChunkPlan
		current bundle.ChunkPlan
	)
	flush := func() {
		if len(current.AssetIDs) == 0 {
			return
		}
		current.Index = len(chunks)
		chunks = append(chunks, current)
		current = bundle.ChunkPlan{}
	}
	for _, info := range infos {
		overBudget := limits.ChunkByteBudget > 0 && current.Bytes+info.Size > limits.ChunkByteBudget
		overCount := limits.MaxAssetsPerChunk > 0 && len(current.AssetIDs) >= limits.MaxAssetsPerChunk
		if overBudget || overCount {
			flush()
		}
		current.AssetIDs = append(current.AssetIDs, info.ID)
		current.Bytes += info.Size
	}
	flush()
	return chunks
}
