// Package config loads the fiberjobs YAML configuration.
//
// Layout:
//
//	scheduler:
//	  worker_count: 0          # 0 = GOMAXPROCS
//	  fiber_count: 512
//	  counter_count: 4096
//	  wait_poll_interval: 1ms
//	metrics:
//	  enabled: false
//	  port: 9090
//	log:
//	  level: info              # logrus level name
//	  format: text             # text | json
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/fiberjobs/pkg/jobsystem"
	"github.com/ChuLiYu/fiberjobs/pkg/types"
)

// Config represents the complete system configuration structure
// Maps config file fields through YAML tags
type Config struct {
	Scheduler struct {
		WorkerCount      int           `yaml:"worker_count"`
		FiberCount       int           `yaml:"fiber_count"`
		CounterCount     int           `yaml:"counter_count"`
		WaitPollInterval time.Duration `yaml:"wait_poll_interval"`
	} `yaml:"scheduler"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.Scheduler.FiberCount = jobsystem.DefaultFiberCount
	cfg.Scheduler.CounterCount = jobsystem.DefaultCounterCount
	cfg.Scheduler.WaitPollInterval = jobsystem.DefaultWaitPollInterval
	cfg.Metrics.Port = 9090
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	return cfg
}

// Load reads path on top of Default. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the scheduler cannot start with.
func (c *Config) Validate() error {
	switch {
	case c.Scheduler.WorkerCount < 0:
		return fmt.Errorf("scheduler.worker_count must be >= 0, got %d", c.Scheduler.WorkerCount)
	case c.Scheduler.WorkerCount > types.MaxWorkers:
		return fmt.Errorf("scheduler.worker_count must be <= %d, got %d", types.MaxWorkers, c.Scheduler.WorkerCount)
	case c.Scheduler.FiberCount <= 0:
		return fmt.Errorf("scheduler.fiber_count must be positive, got %d", c.Scheduler.FiberCount)
	case c.Scheduler.CounterCount <= 0:
		return fmt.Errorf("scheduler.counter_count must be positive, got %d", c.Scheduler.CounterCount)
	case c.Scheduler.WaitPollInterval <= 0:
		return fmt.Errorf("scheduler.wait_poll_interval must be positive, got %s", c.Scheduler.WaitPollInterval)
	case c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535):
		return fmt.Errorf("metrics.port out of range: %d", c.Metrics.Port)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// NewLogger builds the logrus logger described by the log section.
func (c *Config) NewLogger(out io.Writer) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}

	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(level)
	if c.Log.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger, nil
}

// SchedulerOptions maps the scheduler section onto jobsystem.Options.
func (c *Config) SchedulerOptions(log *logrus.Entry, obs jobsystem.Observer) jobsystem.Options {
	return jobsystem.Options{
		FiberCount:       c.Scheduler.FiberCount,
		CounterCount:     c.Scheduler.CounterCount,
		WaitPollInterval: c.Scheduler.WaitPollInterval,
		Logger:           log,
		Observer:         obs,
	}
}

// Marshal renders the effective configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
