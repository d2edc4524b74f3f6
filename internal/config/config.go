// Package config loads and validates sitewatch configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Watch   WatchConfig   `mapstructure:"watch"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Storage StorageConfig `mapstructure:"storage"`
	Events  EventsConfig  `mapstructure:"events"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Archive ArchiveConfig `mapstructure:"archive"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port      int    `mapstructure:"port"`
	StaticDir string `mapstructure:"static_dir"`
	// SSEHeartbeatSeconds is the keepalive comment period on update streams.
	SSEHeartbeatSeconds int `mapstructure:"sse_heartbeat_seconds"`
}

// WatchConfig governs scheduling, retention and previews.
type WatchConfig struct {
	TickMs                 int    `mapstructure:"tick_ms"`
	Retention              int    `mapstructure:"retention"`
	DefaultIntervalSeconds int    `mapstructure:"default_interval_seconds"`
	JitterMaxMs            int    `mapstructure:"jitter_max_ms"`
	PreviewMaxLength       int    `mapstructure:"preview_max_length"`
	SeedFile               string `mapstructure:"seed_file"`
}

// HTTPConfig configures the fetcher.
type HTTPConfig struct {
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
	PerHostRPS     float64  `mapstructure:"per_host_rps"`
	PerHostBurst   int      `mapstructure:"per_host_burst"`
	UserAgents     []string `mapstructure:"user_agents"`
}

// StorageConfig selects the registry and history backend.
type StorageConfig struct {
	Backend    string `mapstructure:"backend"`
	DSN        string `mapstructure:"dsn"`
	SQLitePath string `mapstructure:"sqlite_path"`
	MaxConns   int32  `mapstructure:"max_conns"`
}

// EventsConfig tunes the event bus and its sinks.
type EventsConfig struct {
	BufferSize      int  `mapstructure:"buffer_size"`
	SinkBatchSize   int  `mapstructure:"sink_batch_size"`
	SinkBatchWaitMs int  `mapstructure:"sink_batch_wait_ms"`
	SinkTimeoutMs   int  `mapstructure:"sink_timeout_ms"`
	LogEnabled      bool `mapstructure:"log_enabled"`
	MetricsEnabled  bool `mapstructure:"metrics_enabled"`
}

// PubSubConfig enables forwarding change events to a topic.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ArchiveConfig enables snapshot archiving to a bucket or a directory.
type ArchiveConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	Dir       string `mapstructure:"dir"`
	Prefix    string `mapstructure:"prefix"`
}

// LoggingConfig toggles zap development features and file output.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	File        string `mapstructure:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
}

// Load builds a Config from an optional file and SITEWATCH_* environment
// variables (SITEWATCH_STORAGE_DSN sets storage.dsn).
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SITEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.static_dir", "")
	v.SetDefault("server.sse_heartbeat_seconds", 15)
	v.SetDefault("watch.tick_ms", 100)
	v.SetDefault("watch.retention", 5)
	v.SetDefault("watch.default_interval_seconds", 1)
	v.SetDefault("watch.jitter_max_ms", 1500)
	v.SetDefault("watch.preview_max_length", 400)
	v.SetDefault("watch.seed_file", "configs/seeds.yaml")
	v.SetDefault("http.timeout_seconds", 10)
	v.SetDefault("http.per_host_rps", 0)
	v.SetDefault("http.per_host_burst", 1)
	v.SetDefault("http.user_agents", []string{})
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.sqlite_path", "sitewatch.db")
	v.SetDefault("storage.max_conns", 10)
	v.SetDefault("events.buffer_size", 1000)
	v.SetDefault("events.sink_batch_size", 100)
	v.SetDefault("events.sink_batch_wait_ms", 500)
	v.SetDefault("events.sink_timeout_ms", 10000)
	v.SetDefault("events.log_enabled", true)
	v.SetDefault("events.metrics_enabled", true)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("archive.dir", "")
	v.SetDefault("archive.prefix", "changes")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return errors.New("server.port must be > 0")
	}
	if c.Watch.TickMs <= 0 {
		return errors.New("watch.tick_ms must be > 0")
	}
	if c.Watch.Retention <= 0 {
		return errors.New("watch.retention must be > 0")
	}
	if c.Watch.DefaultIntervalSeconds <= 0 {
		return errors.New("watch.default_interval_seconds must be > 0")
	}
	if c.Watch.JitterMaxMs < 0 {
		return errors.New("watch.jitter_max_ms must be >= 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return errors.New("http.timeout_seconds must be > 0")
	}
	if c.HTTP.PerHostRPS < 0 {
		return errors.New("http.per_host_rps must be >= 0")
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Storage.DSN == "" {
			return errors.New("storage.dsn is required for the postgres backend")
		}
	case BackendSQLite:
		if c.Storage.SQLitePath == "" {
			return errors.New("storage.sqlite_path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of memory, postgres, sqlite", c.Storage.Backend)
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return errors.New("pubsub.project_id and pubsub.topic_name must be set together")
	}
	if c.Archive.GCSBucket != "" && c.Archive.Dir != "" {
		return errors.New("archive.gcs_bucket and archive.dir are mutually exclusive")
	}
	return nil
}

// SSEHeartbeat returns the keepalive period for update streams.
func (c Config) SSEHeartbeat() time.Duration {
	return time.Duration(c.Server.SSEHeartbeatSeconds) * time.Second
}

// Tick returns the scheduler period.
func (c Config) Tick() time.Duration {
	return time.Duration(c.Watch.TickMs) * time.Millisecond
}

// JitterMax returns the jittered policy's upper bound.
func (c Config) JitterMax() time.Duration {
	return time.Duration(c.Watch.JitterMaxMs) * time.Millisecond
}

// FetchTimeout returns the per-request fetch timeout.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// SinkBatchWait returns the maximum time events wait before a sink flush.
func (c Config) SinkBatchWait() time.Duration {
	return time.Duration(c.Events.SinkBatchWaitMs) * time.Millisecond
}

// SinkTimeout returns the per-sink flush deadline.
func (c Config) SinkTimeout() time.Duration {
	return time.Duration(c.Events.SinkTimeoutMs) * time.Millisecond
}
