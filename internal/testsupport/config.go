package testsupport

import (
	"path/filepath"
	"testing"

	"parcel/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Buckets default to in-memory gocloud buckets and timings are shortened so
// workflow tests finish quickly.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StagingDir = filepath.Join(base, "staging")
	cfgVal.Paths.ArchiveDir = filepath.Join(base, "archives")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Storage.AssetBucket = "mem://"
	cfgVal.Storage.StagingBucket = "mem://"
	cfgVal.Storage.ArchiveBucket = "mem://"
	cfgVal.Storage.PublicBaseURL = "https://parcel.test"
	cfgVal.Workers.RetryInitialBackoffMS = 1
	cfgVal.Workers.RetryMaxBackoffMS = 5
	cfgVal.Workflow.QueuePollInterval = 1
	cfgVal.Workflow.ErrorRetryInterval = 1
	cfgVal.Access.BcryptCost = 4
	cfgVal.Access.SessionSecret = "test-session-secret"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithChunkBudget overrides the planner byte budget and per-chunk asset cap.
func WithChunkBudget(bytes int64, maxAssets int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Planner.ChunkByteBudget = bytes
		if maxAssets > 0 {
			b.cfg.Planner.MaxAssetsPerChunk = maxAssets
		}
	}
}

// WithPoolSize overrides the worker pool bound.
func WithPoolSize(size int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workers.PoolSize = size
	}
}

// WithFileBuckets points every bucket at a directory under the test temp dir.
func WithFileBuckets() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Storage.AssetBucket = FileBucketURL(filepath.Join(b.baseDir, "assets"))
		b.cfg.Storage.StagingBucket = FileBucketURL(b.cfg.Paths.StagingDir)
		b.cfg.Storage.ArchiveBucket = FileBucketURL(b.cfg.Paths.ArchiveDir)
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StagingDir)
}
