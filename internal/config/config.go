// Package config loads boardflow's runtime configuration from a YAML file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the tunables of the engine, the schedulers and the HTTP surface.
// Zero values in a file are replaced by defaults.
type Config struct {
	Database string `yaml:"database"`
	HTTPAddr string `yaml:"http_addr"`

	Engine    Engine    `yaml:"engine"`
	Scheduler Scheduler `yaml:"scheduler"`
}

// Engine configures the dispatcher, the loop guard and action execution.
type Engine struct {
	Workers          int           `yaml:"workers"`
	MaxChainDepth    int           `yaml:"max_chain_depth"`
	RateLimit        int           `yaml:"rate_limit"`
	RateWindow       time.Duration `yaml:"rate_window"`
	FailureThreshold int           `yaml:"failure_threshold"`
	ActionTimeout    time.Duration `yaml:"action_timeout"`
	WebhookTimeout   time.Duration `yaml:"webhook_timeout"`
}

// Scheduler configures the recurrence tick and the due-date sweep.
type Scheduler struct {
	Interval    time.Duration `yaml:"interval"`
	DueInterval time.Duration `yaml:"due_interval"`
	Disabled    bool          `yaml:"disabled"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Database: "boardflow.db",
		HTTPAddr: ":8080",
		Engine: Engine{
			Workers:          4,
			MaxChainDepth:    10,
			RateLimit:        100,
			RateWindow:       time.Minute,
			FailureThreshold: 5,
			ActionTimeout:    30 * time.Second,
			WebhookTimeout:   5 * time.Second,
		},
		Scheduler: Scheduler{
			Interval:    60 * time.Second,
			DueInterval: 60 * time.Second,
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := Parse(data, cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML into cfg. Unknown keys are errors.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return cfg.Validate()
		}
		return fmt.Errorf("parse: %w", err)
	}
	return cfg.Validate()
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Database) == "" {
		errs = append(errs, errors.New("database is required"))
	}
	positive := []struct {
		name string
		ok   bool
	}{
		{"engine.workers", c.Engine.Workers > 0},
		{"engine.max_chain_depth", c.Engine.MaxChainDepth > 0},
		{"engine.rate_limit", c.Engine.RateLimit > 0},
		{"engine.rate_window", c.Engine.RateWindow > 0},
		{"engine.action_timeout", c.Engine.ActionTimeout > 0},
		{"engine.webhook_timeout", c.Engine.WebhookTimeout > 0},
		{"scheduler.interval", c.Scheduler.Interval > 0},
		{"scheduler.due_interval", c.Scheduler.DueInterval > 0},
	}
	for _, p := range positive {
		if !p.ok {
			errs = append(errs, fmt.Errorf("%s must be positive", p.name))
		}
	}
	if c.Engine.FailureThreshold < 0 {
		errs = append(errs, errors.New("engine.failure_threshold must not be negative"))
	}
	return errors.Join(errs...)
}
