package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validatePlanner(); err != nil {
		return err
	}
	if err := c.validateWorkers(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateAccess(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateStorage() error {
	if c.Storage.AssetBucket == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = defaultConfigPath
		}
		return fmt.Errorf("storage.asset_bucket is required. Set PARCEL_ASSET_BUCKET env var or edit %s (create with 'parcel config init')", defaultPath)
	}
	if c.Storage.StagingBucket == "" {
		return errors.New("storage.staging_bucket must be set")
	}
	if c.Storage.ArchiveBucket == "" {
		return errors.New("storage.archive_bucket must be set")
	}
	return nil
}

func (c *Config) validatePlanner() error {
	if c.Planner.ChunkByteBudget <= 0 {
		return errors.New("planner.chunk_byte_budget must be positive")
	}
	return ensurePositiveMap(map[string]int{
		"planner.max_assets":           c.Planner.MaxAssets,
		"planner.max_assets_per_chunk": c.Planner.MaxAssetsPerChunk,
	})
}

func (c *Config) validateWorkers() error {
	if err := ensurePositiveMap(map[string]int{
		"workers.pool_size":                c.Workers.PoolSize,
		"workers.max_concurrent_bundles":   c.Workers.MaxConcurrentBundles,
		"workers.retry_attempts":           c.Workers.RetryAttempts,
		"workers.retry_initial_backoff_ms": c.Workers.RetryInitialBackoffMS,
		"workers.retry_max_backoff_ms":     c.Workers.RetryMaxBackoffMS,
		"workers.chunk_timeout_seconds":    c.Workers.ChunkTimeoutSeconds,
	}); err != nil {
		return err
	}
	if c.Workers.RetryMaxBackoffMS < c.Workers.RetryInitialBackoffMS {
		return errors.New("workers.retry_max_backoff_ms must be at least workers.retry_initial_backoff_ms")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.queue_poll_interval":     c.Workflow.QueuePollInterval,
		"workflow.error_retry_interval":    c.Workflow.ErrorRetryInterval,
		"workflow.stall_threshold_seconds": c.Workflow.StallThresholdSeconds,
		"workflow.hard_ceiling_seconds":    c.Workflow.HardCeilingSeconds,
		"workflow.sweep_interval_seconds":  c.Workflow.SweepIntervalSeconds,
	}); err != nil {
		return err
	}
	if c.Workflow.HardCeilingSeconds <= c.Workflow.StallThresholdSeconds {
		return errors.New("workflow.hard_ceiling_seconds must be greater than workflow.stall_threshold_seconds")
	}
	return nil
}

func (c *Config) validateAccess() error {
	if c.Access.BcryptCost < bcrypt.MinCost || c.Access.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("access.bcrypt_cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if c.Access.DefaultTTLHours < 0 {
		return errors.New("access.default_ttl_hours must not be negative")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.WebhookURL == "" {
		return nil
	}
	u, err := url.Parse(c.Notifications.WebhookURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("notifications.webhook_url must be an http(s) URL")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", strings.TrimSpace(key))
		}
	}
	return nil
}
