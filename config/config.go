// Package config loads and validates the YAML configuration for a
// hashledger client process: which server to sync against, where to keep
// local key material, and how the replay database and sync loop behave.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config captures a client process's local runtime settings.
type Config struct {
	Identity struct {
		PrivateKeyPath string `yaml:"private_key_path"`
	} `yaml:"identity"`

	Transport struct {
		BaseURL        string `yaml:"base_url"`
		BearerToken    string `yaml:"bearer_token"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"transport"`

	Storage struct {
		Backend string `yaml:"backend"` // "memory" | "file"
		Dir     string `yaml:"dir"`
	} `yaml:"storage"`

	DBLog struct {
		PersonalDB   string `yaml:"personal_db"`
		DatabasePath string `yaml:"database_path"`
	} `yaml:"dblog"`

	Sync struct {
		PollIntervalSeconds int `yaml:"poll_interval_seconds"`
		PageSize            int `yaml:"page_size"`
	} `yaml:"sync"`

	Logging struct {
		Level   string `yaml:"level"`
		Service string `yaml:"service"`
		Version string `yaml:"version"`
	} `yaml:"logging"`
}

// Load reads, expands, defaults, and validates config from path.
func Load(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	cfg.expandEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Storage.Backend == "file" {
		if err := os.MkdirAll(cfg.Storage.Dir, 0700); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Transport.TimeoutSeconds <= 0 {
		c.Transport.TimeoutSeconds = 10
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "memory"
	}
	if c.DBLog.PersonalDB == "" {
		c.DBLog.PersonalDB = "default"
	}
	if c.DBLog.DatabasePath == "" {
		c.DBLog.DatabasePath = "file::memory:?cache=shared"
	}
	if c.Sync.PollIntervalSeconds <= 0 {
		c.Sync.PollIntervalSeconds = 30
	}
	if c.Sync.PageSize <= 0 {
		c.Sync.PageSize = 100
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Service == "" {
		c.Logging.Service = "hashledger"
	}
	if c.Logging.Version == "" {
		c.Logging.Version = "dev"
	}
}

func (c *Config) validate() error {
	if c.Identity.PrivateKeyPath == "" {
		return errors.New("identity.private_key_path is required")
	}
	if c.Transport.BaseURL == "" {
		return errors.New("transport.base_url is required")
	}
	if _, err := url.Parse(c.Transport.BaseURL); err != nil {
		return fmt.Errorf("transport.base_url is invalid: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(c.Storage.Backend)) {
	case "memory":
	case "file":
		if c.Storage.Dir == "" {
			return errors.New("storage.dir is required when storage.backend is \"file\"")
		}
	default:
		return errors.New("storage.backend must be one of memory|file")
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug|info|warn|error, got %q", c.Logging.Level)
	}
	return nil
}

func (c *Config) expandEnv() {
	c.Identity.PrivateKeyPath = os.ExpandEnv(strings.TrimSpace(c.Identity.PrivateKeyPath))
	c.Transport.BaseURL = os.ExpandEnv(strings.TrimSpace(c.Transport.BaseURL))
	c.Transport.BearerToken = os.ExpandEnv(strings.TrimSpace(c.Transport.BearerToken))
	c.Storage.Dir = os.ExpandEnv(strings.TrimSpace(c.Storage.Dir))
	c.DBLog.DatabasePath = os.ExpandEnv(strings.TrimSpace(c.DBLog.DatabasePath))
}
