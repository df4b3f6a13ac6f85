// Package config handles YAML config file loading for the conveyor CLI.
package config

import (
	"fmt"
	"time"
)

// Config represents a conveyor.yaml configuration file.
// All values are optional and act as defaults for conveyor run flags.
// CLI flags always override config values.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Items     ItemsConfig     `yaml:"items"`
	Admission AdmissionConfig `yaml:"admission"`
	Retry     RetryConfig     `yaml:"retry"`
	Publish   PublishConfig   `yaml:"publish"`
	Adapter   AdapterConfig   `yaml:"adapter"`
	Trends    TrendsConfig    `yaml:"trends"`
	Audit     AuditConfig     `yaml:"audit"`
	Feeds     FeedsConfig     `yaml:"feeds"`
}

// FeedsConfig lists the RSS/Atom feeds the ingest connector polls.
type FeedsConfig struct {
	Sources []FeedSource `yaml:"sources"`
	// MaxAge skips feed entries older than this window.
	MaxAge Duration `yaml:"max_age"`
}

// FeedSource is one polled feed. An empty Themes list matches every theme.
type FeedSource struct {
	Name   string   `yaml:"name"`
	URL    string   `yaml:"url"`
	Themes []string `yaml:"themes,omitempty"`
}

// StorageConfig selects where the ledger and artifacts live.
type StorageConfig struct {
	// Path is the root directory for the file ledger and fs artifacts.
	Path string `yaml:"path"`
	// ArtifactBackend is fs or s3.
	ArtifactBackend string `yaml:"artifact_backend"`
	// S3Bucket and S3Prefix configure the s3 artifact backend.
	S3Bucket string `yaml:"s3_bucket"`
	S3Prefix string `yaml:"s3_prefix"`
	S3Region string `yaml:"s3_region"`
}

// ItemsConfig selects the item store backend.
type ItemsConfig struct {
	// Backend is file or redis.
	Backend string `yaml:"backend"`
	// RedisURL is the redis connection URL for the redis backend.
	// Format: redis://[:password@]host:port[/db]
	RedisURL string `yaml:"redis_url"`
	// MaxKeys bounds the file backend's dedup history, oldest evicted first.
	MaxKeys int `yaml:"max_keys"`
}

// AdmissionConfig tunes the dedup/admission gate.
type AdmissionConfig struct {
	// ScoreThreshold is the minimum mean score for admission.
	ScoreThreshold float64 `yaml:"score_threshold"`
	// MaxBatchItems caps admitted items per ingest batch, best first.
	MaxBatchItems int `yaml:"max_batch_items"`
}

// RetryConfig bounds collaborator retries. It never applies to committed
// ledger transitions.
type RetryConfig struct {
	// MaxAttempts caps attempts per collaborator call, including the first.
	MaxAttempts int `yaml:"max_attempts"`
	// Backoff is the base exponential backoff between attempts.
	Backoff Duration `yaml:"backoff"`
	// CallTimeout bounds each collaborator call.
	CallTimeout Duration `yaml:"call_timeout"`
	// StaleAfter is how long a running record may sit before it is presumed
	// crashed and eligible for a new attempt.
	StaleAfter Duration `yaml:"stale_after"`
}

// PublishConfig carries the publish limits and topic cooldown.
type PublishConfig struct {
	MaxFreePerDay int `yaml:"max_free_per_day"`
	MaxPaidPerDay int `yaml:"max_paid_per_day"`
	// TopicCooldownDays skips topics selected within the window.
	TopicCooldownDays int `yaml:"topic_cooldown_days"`
}

// AdapterConfig holds delivery-notification adapter defaults.
type AdapterConfig struct {
	Type    string            `yaml:"type"` // redis or webhook
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// TrendsConfig configures the optional Postgres trend store.
type TrendsConfig struct {
	// DSN is the Postgres connection string. Empty disables trend recording.
	DSN string `yaml:"dsn"`
}

// AuditConfig tunes the reconciler.
type AuditConfig struct {
	// QualityThreshold is the minimum mean quality score before a
	// score-drift finding is raised.
	QualityThreshold float64 `yaml:"quality_threshold"`
	// SampleArtifacts caps how many artifacts get quality-scored per audit.
	SampleArtifacts int `yaml:"sample_artifacts"`
	// StaleItemDays is how old an unconsumed admitted item may be before a
	// stale-item finding is raised.
	StaleItemDays int `yaml:"stale_item_days"`
}

// Defaults applied when the config file omits a value.
const (
	DefaultScoreThreshold    = 6.5
	DefaultMaxBatchItems     = 8
	DefaultMaxAttempts       = 3
	DefaultBackoff           = 500 * time.Millisecond
	DefaultCallTimeout       = 3 * time.Minute
	DefaultStaleAfter        = 30 * time.Minute
	DefaultMaxFreePerDay     = 24
	DefaultMaxPaidPerDay     = 1
	DefaultTopicCooldownDays = 7
	DefaultMaxKeys           = 5000
	DefaultQualityThreshold  = 6.0
	DefaultSampleArtifacts   = 2
	DefaultStaleItemDays     = 3
	DefaultFeedMaxAge        = 7 * 24 * time.Hour
)

// ApplyDefaults fills zero values with the documented defaults.
func (c *Config) ApplyDefaults() {
	if c.Admission.ScoreThreshold == 0 {
		c.Admission.ScoreThreshold = DefaultScoreThreshold
	}
	if c.Admission.MaxBatchItems == 0 {
		c.Admission.MaxBatchItems = DefaultMaxBatchItems
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = DefaultMaxAttempts
	}
	if c.Retry.Backoff.Duration == 0 {
		c.Retry.Backoff.Duration = DefaultBackoff
	}
	if c.Retry.CallTimeout.Duration == 0 {
		c.Retry.CallTimeout.Duration = DefaultCallTimeout
	}
	if c.Retry.StaleAfter.Duration == 0 {
		c.Retry.StaleAfter.Duration = DefaultStaleAfter
	}
	if c.Publish.MaxFreePerDay == 0 {
		c.Publish.MaxFreePerDay = DefaultMaxFreePerDay
	}
	if c.Publish.MaxPaidPerDay == 0 {
		c.Publish.MaxPaidPerDay = DefaultMaxPaidPerDay
	}
	if c.Publish.TopicCooldownDays == 0 {
		c.Publish.TopicCooldownDays = DefaultTopicCooldownDays
	}
	if c.Items.MaxKeys == 0 {
		c.Items.MaxKeys = DefaultMaxKeys
	}
	if c.Items.Backend == "" {
		c.Items.Backend = "file"
	}
	if c.Storage.ArtifactBackend == "" {
		c.Storage.ArtifactBackend = "fs"
	}
	if c.Audit.QualityThreshold == 0 {
		c.Audit.QualityThreshold = DefaultQualityThreshold
	}
	if c.Audit.SampleArtifacts == 0 {
		c.Audit.SampleArtifacts = DefaultSampleArtifacts
	}
	if c.Audit.StaleItemDays == 0 {
		c.Audit.StaleItemDays = DefaultStaleItemDays
	}
	if c.Feeds.MaxAge.Duration == 0 {
		c.Feeds.MaxAge.Duration = DefaultFeedMaxAge
	}
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}
