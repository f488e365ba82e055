// Package config defines the judger worker's configuration file format.
package config

import (
	"os"
	"time"

	"gavel/internal/common/storage"
	appErr "gavel/pkg/errors"
	"gavel/pkg/utils/logger"

	"github.com/pelletier/go-toml/v2"
)

// Config is the worker configuration, loaded from a TOML file. The
// coordinator can generate this file for a registered node.
type Config struct {
	Coordinator CoordinatorConfig   `toml:"coordinator"`
	Kafka       KafkaConfig         `toml:"kafka"`
	Storage     storage.MinIOConfig `toml:"storage"`
	Cache       CacheConfig         `toml:"cache"`
	Sandbox     SandboxConfig       `toml:"sandbox"`
	Logger      logger.Config       `toml:"logger"`
	// Languages overrides builtin language profiles, keyed by language id.
	Languages map[string]LanguageConfig `toml:"languages"`
}

// CoordinatorConfig identifies this node to the coordinator and sets the
// cadence of its control loops.
type CoordinatorConfig struct {
	URL                  string `toml:"url"`
	NodeID               string `toml:"node_id"`
	Secret               string `toml:"secret"`
	Transport            string `toml:"transport"` // http or kafka
	HeartbeatIntervalSec int    `toml:"heartbeat_interval_sec"`
	PollIntervalMS       int    `toml:"poll_interval_ms"`
	ReconnectBackoffSec  int    `toml:"reconnect_backoff_sec"`
}

// KafkaConfig is only consulted when the transport is kafka.
type KafkaConfig struct {
	Brokers       []string `toml:"brokers"`
	TaskTopic     string   `toml:"task_topic"`
	ResultTopic   string   `toml:"result_topic"`
	ConsumerGroup string   `toml:"consumer_group"`
}

// CacheConfig bounds the local test data cache.
type CacheConfig struct {
	Dir       string `toml:"dir"`
	MaxSizeMB int64  `toml:"max_size_mb"`
}

// LanguageConfig overrides one language profile. Zero fields keep the
// builtin value; commands use {src} and {bin} placeholders.
type LanguageConfig struct {
	SourceFile       string   `toml:"source_file"`
	BinaryFile       string   `toml:"binary_file"`
	CompileCmd       string   `toml:"compile_cmd"`
	RunCmd           string   `toml:"run_cmd"`
	Env              []string `toml:"env"`
	TimeMultiplier   float64  `toml:"time_multiplier"`
	MemoryMultiplier float64  `toml:"memory_multiplier"`
}

// SandboxConfig selects and locates the isolation backend.
type SandboxConfig struct {
	Backend     string `toml:"backend"` // auto, isolate, process
	IsolatePath string `toml:"isolate_path"`
	WorkDir     string `toml:"work_dir"`
}

// Load reads and validates a worker config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.ConfigError, "read config %s", path)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, appErr.Wrapf(err, appErr.ConfigError, "parse config %s", path)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults fills unset fields with working defaults.
func (c *Config) SetDefaults() {
	if c.Coordinator.Transport == "" {
		c.Coordinator.Transport = "http"
	}
	if c.Coordinator.HeartbeatIntervalSec <= 0 {
		c.Coordinator.HeartbeatIntervalSec = 30
	}
	if c.Coordinator.PollIntervalMS <= 0 {
		c.Coordinator.PollIntervalMS = 1000
	}
	if c.Coordinator.ReconnectBackoffSec <= 0 {
		c.Coordinator.ReconnectBackoffSec = 5
	}
	if c.Kafka.TaskTopic == "" {
		c.Kafka.TaskTopic = "gavel.tasks"
	}
	if c.Kafka.ResultTopic == "" {
		c.Kafka.ResultTopic = "gavel.results"
	}
	if c.Cache.Dir == "" {
		c.Cache.Dir = "/var/cache/gavel"
	}
	if c.Cache.MaxSizeMB <= 0 {
		c.Cache.MaxSizeMB = 1024
	}
	if c.Sandbox.Backend == "" {
		c.Sandbox.Backend = "auto"
	}
	if c.Sandbox.IsolatePath == "" {
		c.Sandbox.IsolatePath = "isolate"
	}
	if c.Sandbox.WorkDir == "" {
		c.Sandbox.WorkDir = os.TempDir()
	}
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Logger.Format == "" {
		c.Logger.Format = "json"
	}
	if c.Logger.OutputPath == "" {
		c.Logger.OutputPath = "stdout"
	}
}

// Validate rejects configs that cannot identify the node.
func (c *Config) Validate() error {
	if c.Coordinator.NodeID == "" || c.Coordinator.Secret == "" {
		return appErr.Newf(appErr.ConfigError, "node_id and secret are required")
	}
	switch c.Coordinator.Transport {
	case "http":
		if c.Coordinator.URL == "" {
			return appErr.Newf(appErr.ConfigError, "coordinator url is required for http transport")
		}
	case "kafka":
		if len(c.Kafka.Brokers) == 0 {
			return appErr.Newf(appErr.ConfigError, "kafka brokers are required for kafka transport")
		}
	default:
		return appErr.Newf(appErr.ConfigError, "unknown transport %q", c.Coordinator.Transport)
	}
	return nil
}

// HeartbeatInterval returns the heartbeat cadence as a duration.
func (c *CoordinatorConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSec) * time.Second
}

// PollInterval returns the fetch cadence as a duration.
func (c *CoordinatorConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// ReconnectBackoff returns the wait between reconnect attempts.
func (c *CoordinatorConfig) ReconnectBackoff() time.Duration {
	return time.Duration(c.ReconnectBackoffSec) * time.Second
}
