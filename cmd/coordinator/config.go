package main

import (
	"fmt"
	"os"
	"time"

	"gavel/internal/common/db"
	"gavel/internal/common/mq"
	"gavel/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8090"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	PublicURL    string        `yaml:"publicURL"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// AuthConfig holds the operator token settings.
type AuthConfig struct {
	AdminSecret string `yaml:"adminSecret"`
	AdminIssuer string `yaml:"adminIssuer"`
}

// DispatchConfig tunes queueing and liveness.
type DispatchConfig struct {
	SweepInterval   time.Duration `yaml:"sweepInterval"`
	LivenessTimeout time.Duration `yaml:"livenessTimeout"`
	MaxRetries      int           `yaml:"maxRetries"`
}

// BrokerConfig enables the Kafka dispatch path.
type BrokerConfig struct {
	Enabled     bool   `yaml:"enabled"`
	TaskTopic   string `yaml:"taskTopic"`
	ResultTopic string `yaml:"resultTopic"`
	Group       string `yaml:"group"`
}

// AppConfig holds coordinator configuration.
type AppConfig struct {
	Server   ServerConfig   `yaml:"server"`
	Logger   logger.Config  `yaml:"logger"`
	Database db.MySQLConfig `yaml:"database"`
	Kafka    mq.KafkaConfig `yaml:"kafka"`
	Broker   BrokerConfig   `yaml:"broker"`
	Auth     AuthConfig     `yaml:"auth"`
	Dispatch DispatchConfig `yaml:"dispatch"`
}

func loadAppConfig(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file failed: %w", err)
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file failed: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *AppConfig) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = defaultHTTPAddr
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = defaultReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = defaultWriteTimeout
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = defaultIdleTimeout
	}
	if c.Broker.TaskTopic == "" {
		c.Broker.TaskTopic = "gavel.tasks"
	}
	if c.Broker.ResultTopic == "" {
		c.Broker.ResultTopic = "gavel.results"
	}
}
