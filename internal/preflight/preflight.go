package preflight

import (
	"context"
	"strings"

	"parcel/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
// Checks are only run when the corresponding setting is configured.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result
	for _, dir := range []struct{ name, path string }{
		{"Staging directory", cfg.Paths.StagingDir},
		{"Archive directory", cfg.Paths.ArchiveDir},
		{"Log directory", cfg.Paths.LogDir},
	} {
		if strings.TrimSpace(dir.path) != "" {
			results = append(results, CheckDirectoryAccess(dir.name, dir.path))
		}
	}

	results = append(results,
		CheckBucket(ctx, "Asset bucket", cfg.Storage.AssetBucket),
		CheckBucket(ctx, "Staging bucket", cfg.Storage.StagingBucket),
		CheckBucket(ctx, "Archive bucket", cfg.Storage.ArchiveBucket),
	)

	if strings.TrimSpace(cfg.Revocation.RedisURL) != "" {
		results = append(results, CheckRedis(ctx, cfg.Revocation.RedisURL))
	}
	if strings.TrimSpace(cfg.Notifications.WebhookURL) != "" {
		results = append(results, CheckWebhook(ctx, cfg.Notifications.WebhookURL))
	}
	if len(cfg.Notifications.KafkaBrokers) > 0 {
		results = append(results, CheckKafka(ctx, cfg.Notifications.KafkaBrokers))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
