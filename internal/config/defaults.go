package config

import "golang.org/x/crypto/bcrypt"

const (
	defaultConfigPath            = "~/.config/parcel/config.toml"
	defaultStagingDir            = "~/.local/share/parcel/staging"
	defaultArchiveDir            = "~/.local/share/parcel/archives"
	defaultLogDir                = "~/.local/share/parcel/logs"
	defaultAPIBind               = "127.0.0.1:7600"
	defaultPublicBaseURL         = "http://127.0.0.1:7600"
	defaultChunkByteBudget       = 256 << 20
	defaultMaxAssets             = 10000
	defaultMaxAssetsPerChunk     = 500
	defaultPoolSize              = 4
	defaultMaxConcurrentBundles  = 2
	defaultRetryAttempts         = 3
	defaultRetryInitialBackoffMS = 500
	defaultRetryMaxBackoffMS     = 8000
	defaultChunkTimeoutSeconds   = 600
	defaultQueuePollInterval     = 2
	defaultErrorRetryInterval    = 10
	defaultStallThresholdSeconds = 120
	defaultHardCeilingSeconds    = 1800
	defaultSweepIntervalSeconds  = 30
	defaultSessionTTLSeconds     = 3600
	defaultRevocationKeyPrefix   = "parcel:revoked:"
	defaultKafkaTopic            = "parcel.bundle-events"
	defaultNotifyTimeout         = 10
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir: defaultStagingDir,
			ArchiveDir: defaultArchiveDir,
			LogDir:     defaultLogDir,
			APIBind:    defaultAPIBind,
		},
		Storage: Storage{
			PublicBaseURL: defaultPublicBaseURL,
		},
		Planner: Planner{
			ChunkByteBudget:   defaultChunkByteBudget,
			MaxAssets:         defaultMaxAssets,
			MaxAssetsPerChunk: defaultMaxAssetsPerChunk,
		},
		Workers: Workers{
			PoolSize:              defaultPoolSize,
			MaxConcurrentBundles:  defaultMaxConcurrentBundles,
			RetryAttempts:         defaultRetryAttempts,
			RetryInitialBackoffMS: defaultRetryInitialBackoffMS,
			RetryMaxBackoffMS:     defaultRetryMaxBackoffMS,
			ChunkTimeoutSeconds:   defaultChunkTimeoutSeconds,
		},
		Workflow: Workflow{
			QueuePollInterval:     defaultQueuePollInterval,
			ErrorRetryInterval:    defaultErrorRetryInterval,
			StallThresholdSeconds: defaultStallThresholdSeconds,
			HardCeilingSeconds:    defaultHardCeilingSeconds,
			SweepIntervalSeconds:  defaultSweepIntervalSeconds,
		},
		Access: Access{
			BcryptCost:        bcrypt.DefaultCost,
			SessionTTLSeconds: defaultSessionTTLSeconds,
		},
		Revocation: Revocation{
			KeyPrefix: defaultRevocationKeyPrefix,
		},
		Notifications: Notifications{
			KafkaTopic:     defaultKafkaTopic,
			RequestTimeout: defaultNotifyTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
