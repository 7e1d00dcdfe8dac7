// Copyright 2026 The Mailworks Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads and validates the client configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// RetryPolicyName selects how the client reacts to transient failures.
type RetryPolicyName string

const (
	// RetryFaultTolerance keeps retrying with exponential back-off until
	// MaxWait is exceeded.
	RetryFaultTolerance RetryPolicyName = "fault_tolerance"
	// RetryFailFast turns the first error into the final one.
	RetryFailFast RetryPolicyName = "fail_fast"
)

// Config is the top-level client configuration.
type Config struct {
	// Endpoint is the service URL. Leave empty to resolve it through
	// autodiscovery from the mailbox address.
	Endpoint string `mapstructure:"endpoint"`

	// Mailbox is the primary SMTP address the client acts as.
	Mailbox  string `mapstructure:"mailbox"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`

	MaxConnections int `mapstructure:"max_connections"`
	PageSize       int `mapstructure:"page_size"`
	ChunkSize      int `mapstructure:"chunk_size"`

	RetryPolicy RetryPolicyName `mapstructure:"retry_policy"`
	MaxWait     time.Duration   `mapstructure:"max_wait"`
	BackoffBase time.Duration   `mapstructure:"backoff_base"`

	// CacheDir holds the endpoint cache database. Empty means in-memory
	// caching only.
	CacheDir string `mapstructure:"cache_dir"`
}

func defaultConfig() *Config {
	return &Config{
		MaxConnections: 4,
		PageSize:       1000,
		ChunkSize:      100,
		RetryPolicy:    RetryFaultTolerance,
		MaxWait:        time.Hour,
		BackoffBase:    4 * time.Second,
	}
}

// DefaultConfigPath returns ~/.config/ews/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "ews", "config.yaml")
}

// Load reads the configuration at path. A missing file yields the defaults;
// a present but invalid file is an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("max_connections", 4)
	v.SetDefault("page_size", 1000)
	v.SetDefault("chunk_size", 100)
	v.SetDefault("retry_policy", string(RetryFaultTolerance))
	v.SetDefault("max_wait", time.Hour)
	v.SetDefault("backoff_base", 4*time.Second)

	if err := v.ReadInConfig(); err != nil {
		switch err.(type) {
		case *os.PathError, viper.ConfigFileNotFoundError:
			// the defaults alone never name an endpoint or mailbox, so
			// surface that instead of failing later on an empty address
			cfg := defaultConfig()
			if err := cfg.IsValid(); err != nil {
				return nil, fmt.Errorf("no config file at %s: %w", path, err)
			}
			return cfg, nil
		default:
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := defaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.IsValid(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsValid checks the structural constraints of the configuration.
func (c *Config) IsValid() error {
	if c.MaxConnections < 1 {
		return fmt.Errorf("max_connections must be at least 1, got %d", c.MaxConnections)
	}
	if c.PageSize < 1 {
		return fmt.Errorf("page_size must be at least 1, got %d", c.PageSize)
	}
	if c.ChunkSize < 1 {
		return fmt.Errorf("chunk_size must be at least 1, got %d", c.ChunkSize)
	}
	if c.RetryPolicy != RetryFaultTolerance && c.RetryPolicy != RetryFailFast {
		return fmt.Errorf("unknown retry_policy: %s", c.RetryPolicy)
	}
	if c.MaxWait <= 0 {
		return fmt.Errorf("max_wait must be positive, got %s", c.MaxWait)
	}
	if c.BackoffBase <= 0 {
		return fmt.Errorf("backoff_base must be positive, got %s", c.BackoffBase)
	}
	if c.Endpoint == "" && c.Mailbox == "" {
		return fmt.Errorf("either endpoint or mailbox must be set")
	}
	return nil
}
