// Package staging inspects and reclaims request-scoped segment prefixes in
// the staging bucket.
package staging

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"parcel/internal/archive"
	"parcel/internal/logging"
	"parcel/internal/services"
)

// Area is the staging bucket as seen through the archiver.
type Area interface {
	StagedBundleIDs(ctx context.Context) ([]string, error)
	SegmentUsage(ctx context.Context, bundleID string) (archive.Usage, error)
	Release(ctx context.Context, bundleID string) error
}

// CleanResult contains the outcome of a cleanup pass.
type CleanResult struct {
	Removed []string
	Errors  []CleanupError
}

// CleanupError pairs a bundle identifier with its cleanup error.
type CleanupError struct {
	BundleID string
	Error    error
}

// CleanOrphaned releases the segments of every staged bundle that is not in
// active. Listing failures abort the pass; per-bundle failures are collected.
func CleanOrphaned(ctx context.Context, area Area, active map[string]struct{}, logger *slog.Logger) (CleanResult, error) {
	result := CleanResult{}
	ids, err := area.StagedBundleIDs(ctx)
	if err != nil {
		return result, err
	}
	for _, id := range ids {
		if _, ok := active[id]; ok {
			continue
		}
		if err := area.Release(ctx, id); err != nil {
			result.Errors = append(result.Errors, CleanupError{BundleID: id, Error: err})
			if logger != nil {
				logging.WarnWithContext(logging.WithContext(services.WithBundleID(ctx, id), logger),
					"failed to release orphaned staging", "staging_cleanup_failed",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check storage.staging_bucket permissions"),
					logging.String(logging.FieldImpact, "staging space not reclaimed"),
				)
			}
			continue
		}
		result.Removed = append(result.Removed, id)
		if logger != nil {
			logging.WithContext(services.WithBundleID(ctx, id), logger).Info("released orphaned staging",
				logging.String(logging.FieldEventType, "staging_cleanup"),
			)
		}
	}
	return result, nil
}

// Entry describes the staged segments of one bundle.
type Entry struct {
	BundleID string    `json:"bundleId" yaml:"bundleId"`
	Segments int       `json:"segments" yaml:"segments"`
	Bytes    int64     `json:"bytes" yaml:"bytes"`
	Newest   time.Time `json:"newest" yaml:"newest"`
	Active   bool      `json:"active" yaml:"active"`
}

// List summarizes every staged bundle, ordered by identifier. active marks
// bundles still in flight; a nil map marks none.
func List(ctx context.Context, area Area, active map[string]struct{}) ([]Entry, error) {
	ids, err := area.StagedBundleIDs(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	entries := make([]Entry, 0, len(ids))
	for _, id := range ids {
		usage, err := area.SegmentUsage(ctx, id)
		if err != nil {
			return nil, err
		}
		_, inFlight := active[id]
		entries = append(entries, Entry{
			BundleID: id,
			Segments: usage.Segments,
			Bytes:    usage.Bytes,
			Newest:   usage.Newest,
			Active:   inFlight,
		})
	}
	return entries, nil
}
