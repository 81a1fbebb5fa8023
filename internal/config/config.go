package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	StagingDir string `toml:"staging_dir"`
	ArchiveDir string `toml:"archive_dir"`
	LogDir     string `toml:"log_dir"`
	APIBind    string `toml:"api_bind"`
	APIToken   string `toml:"api_token"`
}

// Storage names the blob buckets used for source assets, staged segments,
// and finished archives. Values are gocloud bucket URLs (file://, mem://,
// s3://, gs://).
type Storage struct {
	AssetBucket   string `toml:"asset_bucket"`
	StagingBucket string `toml:"staging_bucket"`
	ArchiveBucket string `toml:"archive_bucket"`
	PublicBaseURL string `toml:"public_base_url"`
}

// Planner bounds how asset lists are split into chunks.
type Planner struct {
	ChunkByteBudget   int64 `toml:"chunk_byte_budget"`
	MaxAssets         int   `toml:"max_assets"`
	MaxAssetsPerChunk int   `toml:"max_assets_per_chunk"`
}

// Workers configures the chunk worker pool and its retry policy.
type Workers struct {
	PoolSize              int `toml:"pool_size"`
	MaxConcurrentBundles  int `toml:"max_concurrent_bundles"`
	RetryAttempts         int `toml:"retry_attempts"`
	RetryInitialBackoffMS int `toml:"retry_initial_backoff_ms"`
	RetryMaxBackoffMS     int `toml:"retry_max_backoff_ms"`
	ChunkTimeoutSeconds   int `toml:"chunk_timeout_seconds"`
}

// Workflow contains configuration for daemon timing and intervals.
type Workflow struct {
	QueuePollInterval     int `toml:"queue_poll_interval"`
	ErrorRetryInterval    int `toml:"error_retry_interval"`
	StallThresholdSeconds int `toml:"stall_threshold_seconds"`
	HardCeilingSeconds    int `toml:"hard_ceiling_seconds"`
	SweepIntervalSeconds  int `toml:"sweep_interval_seconds"`
}

// Access configures password hashing and delivery sessions.
type Access struct {
	BcryptCost        int    `toml:"bcrypt_cost"`
	SessionSecret     string `toml:"session_secret"`
	SessionTTLSeconds int    `toml:"session_ttl_seconds"`
	DefaultTTLHours   int    `toml:"default_ttl_hours"`
}

// Revocation configures the optional cross-process revocation signal.
type Revocation struct {
	RedisURL  string `toml:"redis_url"`
	KeyPrefix string `toml:"key_prefix"`
}

// Notifications configures lifecycle events published for external
// collaborators such as the email sender. Both transports are optional.
type Notifications struct {
	WebhookURL     string   `toml:"webhook_url"`
	KafkaBrokers   []string `toml:"kafka_brokers"`
	KafkaTopic     string   `toml:"kafka_topic"`
	RequestTimeout int      `toml:"request_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for parcel.
//
// Configuration sections by subsystem:
//   - Paths: local directories and API bind address
//   - Storage: asset, staging, and archive buckets
//   - Planner: chunk byte budget and asset limits
//   - Workers: pool size and retry policy
//   - Workflow: polling, stall, and sweep timing
//   - Access: bcrypt cost and session signing
//   - Revocation: optional Redis signal
//   - Notifications: optional webhook / Kafka lifecycle events
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Storage       Storage       `toml:"storage"`
	Planner       Planner       `toml:"planner"`
	Workers       Workers       `toml:"workers"`
	Workflow      Workflow      `toml:"workflow"`
	Access        Access        `toml:"access"`
	Revocation    Revocation    `toml:"revocation"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("parcel.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StagingDir, c.Paths.ArchiveDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the location of the bundle database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.LogDir, "bundles.db")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.LogDir, "parceld.lock")
}

// ChunkTimeout returns the per-attempt deadline for one chunk.
func (c *Config) ChunkTimeout() time.Duration {
	return time.Duration(c.Workers.ChunkTimeoutSeconds) * time.Second
}

// StallThreshold returns the advisory stall window.
func (c *Config) StallThreshold() time.Duration {
	return time.Duration(c.Workflow.StallThresholdSeconds) * time.Second
}

// HardCeiling returns the no-progress window after which the sweep fails a bundle.
func (c *Config) HardCeiling() time.Duration {
	return time.Duration(c.Workflow.HardCeilingSeconds) * time.Second
}

// SweepInterval returns how often the supervisory sweep runs.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Workflow.SweepIntervalSeconds) * time.Second
}

// SessionTTL returns how long an unlocked delivery session stays valid.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Access.SessionTTLSeconds) * time.Second
}

// RetryInitialBackoff returns the first retry delay for chunk attempts.
func (c *Config) RetryInitialBackoff() time.Duration {
	return time.Duration(c.Workers.RetryInitialBackoffMS) * time.Millisecond
}

// RetryMaxBackoff caps the retry delay for chunk attempts.
func (c *Config) RetryMaxBackoff() time.Duration {
	return time.Duration(c.Workers.RetryMaxBackoffMS) * time.Millisecond
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
