package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeStorage()
	c.normalizeAccess()
	c.normalizeRevocation()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	if c.Paths.ArchiveDir, err = expandPath(c.Paths.ArchiveDir); err != nil {
		return fmt.Errorf("paths.archive_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("PARCEL_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeStorage() {
	c.Storage.AssetBucket = strings.TrimSpace(c.Storage.AssetBucket)
	if c.Storage.AssetBucket == "" {
		if value, ok := os.LookupEnv("PARCEL_ASSET_BUCKET"); ok {
			c.Storage.AssetBucket = strings.TrimSpace(value)
		}
	}
	c.Storage.StagingBucket = strings.TrimSpace(c.Storage.StagingBucket)
	if c.Storage.StagingBucket == "" {
		c.Storage.StagingBucket = fileBucketURL(c.Paths.StagingDir)
	}
	c.Storage.ArchiveBucket = strings.TrimSpace(c.Storage.ArchiveBucket)
	if c.Storage.ArchiveBucket == "" {
		c.Storage.ArchiveBucket = fileBucketURL(c.Paths.ArchiveDir)
	}
	c.Storage.PublicBaseURL = strings.TrimRight(strings.TrimSpace(c.Storage.PublicBaseURL), "/")
	if c.Storage.PublicBaseURL == "" {
		c.Storage.PublicBaseURL = "http://" + c.Paths.APIBind
	}
}

func (c *Config) normalizeAccess() {
	if c.Access.SessionSecret == "" {
		if value, ok := os.LookupEnv("PARCEL_SESSION_SECRET"); ok {
			c.Access.SessionSecret = value
		}
	}
	if c.Access.SessionTTLSeconds <= 0 {
		c.Access.SessionTTLSeconds = defaultSessionTTLSeconds
	}
}

func (c *Config) normalizeRevocation() {
	c.Revocation.RedisURL = strings.TrimSpace(c.Revocation.RedisURL)
	if c.Revocation.RedisURL == "" {
		if value, ok := os.LookupEnv("PARCEL_REDIS_URL"); ok {
			c.Revocation.RedisURL = strings.TrimSpace(value)
		}
	}
	if strings.TrimSpace(c.Revocation.KeyPrefix) == "" {
		c.Revocation.KeyPrefix = defaultRevocationKeyPrefix
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.WebhookURL = strings.TrimSpace(c.Notifications.WebhookURL)
	if len(c.Notifications.KafkaBrokers) == 0 {
		if value, ok := os.LookupEnv("PARCEL_KAFKA_BROKERS"); ok {
			c.Notifications.KafkaBrokers = strings.Split(value, ",")
		}
	}
	brokers := c.Notifications.KafkaBrokers[:0]
	for _, broker := range c.Notifications.KafkaBrokers {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	c.Notifications.KafkaBrokers = brokers
	if strings.TrimSpace(c.Notifications.KafkaTopic) == "" {
		c.Notifications.KafkaTopic = defaultKafkaTopic
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func fileBucketURL(dir string) string {
	if dir == "" {
		return ""
	}
	u := url.URL{Scheme: "file", Path: dir, RawQuery: "create_dir=true"}
	return u.String()
}
