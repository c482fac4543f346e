// Copyright (c) 2026 Bambinounos
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads configuration from config.yaml and environment
// variables. ${VAR} references inside the YAML are expanded before parsing
// so credentials can stay out of the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Account holds the connection settings for a single IMAP mailbox.
// Immutable once loaded; owned by the scheduler.
type Account struct {
	Email        string   `yaml:"email"`
	Password     string   `yaml:"password"`
	Host         string   `yaml:"host"`
	Port         int      `yaml:"port"`
	UseSSL       bool     `yaml:"use_ssl"`
	Folders      []string `yaml:"folders"`
	PollInterval Duration `yaml:"poll_interval"`
	MarkSeen     bool     `yaml:"mark_seen"`

	// OAuth2 client-credential settings for XOAUTH2. When TokenURL is set
	// the connector authenticates with a bearer token instead of Password.
	OAuthClientID     string `yaml:"oauth_client_id"`
	OAuthClientSecret string `yaml:"oauth_client_secret"`
	OAuthTokenURL     string `yaml:"oauth_token_url"`
	OAuthScope        string `yaml:"oauth_scope"`
}

// Pipeline holds the scoring thresholds and retry policy.
type Pipeline struct {
	// NoiseThreshold routes messages below it to Completed("noise").
	// Inclusive on the opportunity side: confidence == threshold proceeds
	// to extraction.
	NoiseThreshold float64 `yaml:"noise_threshold"`
	// EntityFloor flags entities below it as low-confidence. They still
	// feed the matcher but are excluded from the headline summary.
	EntityFloor float64 `yaml:"entity_floor"`
	// MaxAttempts caps redeliveries for transient and model faults.
	MaxAttempts int `yaml:"max_attempts"`
	// RetryBase is the first redelivery delay; doubled per attempt.
	RetryBase Duration `yaml:"retry_base"`
	// Workers is the size of the job worker pool.
	Workers int `yaml:"workers"`
	// LeaseTTL bounds how long one worker may hold a message lease.
	LeaseTTL Duration `yaml:"lease_ttl"`
}

// Matching holds the catalog matcher settings.
type Matching struct {
	CatalogPath string `yaml:"catalog_path"`
	// MinSimilarity is the fuzzy floor (normalized edit-distance ratio).
	MinSimilarity float64 `yaml:"min_similarity"`
	// TieMargin widens the best fuzzy score into an ambiguous set.
	TieMargin float64 `yaml:"tie_margin"`
	// RefreshInterval re-reads the catalog even without file events.
	RefreshInterval Duration `yaml:"refresh_interval"`
}

// Inference selects and tunes the scoring backend.
type Inference struct {
	// Provider is "openai" or "keyword".
	Provider string   `yaml:"provider"`
	APIKey   string   `yaml:"api_key"`
	BaseURL  string   `yaml:"base_url"`
	Model    string   `yaml:"model"`
	Timeout  Duration `yaml:"timeout"`
}

// Alerts holds the opportunity evaluation and notification settings.
type Alerts struct {
	// Threshold is the minimum composite score for an Alerted outcome.
	Threshold float64 `yaml:"threshold"`
	// DedupWindow is the sliding window for the opportunity dedup key.
	DedupWindow Duration `yaml:"dedup_window"`
	// ClassWeight and MatchWeight blend the composite score.
	ClassWeight float64 `yaml:"class_weight"`
	MatchWeight float64 `yaml:"match_weight"`
	// WebhookURL receives alert notifications; empty means log-only.
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
}

// Config holds all configuration for the EIA service.
type Config struct {
	Accounts  []Account
	Pipeline  Pipeline
	Matching  Matching
	Inference Inference
	Alerts    Alerts

	DatabaseURL string
	RedisURL    string

	// Port serves the health endpoint.
	Port int
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Accounts  []Account `yaml:"accounts"`
	Pipeline  Pipeline  `yaml:"pipeline"`
	Matching  Matching  `yaml:"matching"`
	Inference Inference `yaml:"inference"`
	Alerts    Alerts    `yaml:"alerts"`
	Database  struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings.
func Load() (*Config, error) {
	return LoadFile(envOrDefault("CONFIG_PATH", "config.yaml"))
}

// LoadFile reads and validates configuration from the given path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	// Expand ${VAR} references in the YAML
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg := &Config{
		Pipeline:    raw.Pipeline,
		Matching:    raw.Matching,
		Inference:   raw.Inference,
		Alerts:      raw.Alerts,
		DatabaseURL: firstNonEmpty(raw.Database.URL, envOrDefault("DATABASE_URL", "postgres://localhost:5432/eia")),
		RedisURL:    firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		Port:        envOrDefaultInt("PORT", 8080),
	}

	for _, a := range raw.Accounts {
		// Skip accounts with empty credentials (commented out in YAML)
		if a.Email == "" || a.Host == "" {
			continue
		}
		if a.Password == "" && a.OAuthTokenURL == "" {
			continue
		}
		if a.Port == 0 {
			if a.UseSSL {
				a.Port = 993
			} else {
				a.Port = 143
			}
		}
		if len(a.Folders) == 0 {
			a.Folders = []string{"INBOX"}
		}
		if a.PollInterval <= 0 {
			a.PollInterval = Duration(envOrDefaultDuration("POLL_INTERVAL", 10*time.Minute))
		}
		cfg.Accounts = append(cfg.Accounts, a)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	p := &cfg.Pipeline
	if p.NoiseThreshold == 0 {
		p.NoiseThreshold = 0.5
	}
	if p.EntityFloor == 0 {
		p.EntityFloor = 0.4
	}
	if p.MaxAttempts == 0 {
		p.MaxAttempts = 5
	}
	if p.RetryBase <= 0 {
		p.RetryBase = Duration(2 * time.Second)
	}
	if p.Workers == 0 {
		p.Workers = 4
	}
	if p.LeaseTTL <= 0 {
		p.LeaseTTL = Duration(5 * time.Minute)
	}

	m := &cfg.Matching
	if m.CatalogPath == "" {
		m.CatalogPath = envOrDefault("CATALOG_PATH", "catalog.yaml")
	}
	if m.MinSimilarity == 0 {
		m.MinSimilarity = 0.82
	}
	if m.TieMargin == 0 {
		m.TieMargin = 0.02
	}
	if m.RefreshInterval <= 0 {
		m.RefreshInterval = Duration(time.Hour)
	}

	i := &cfg.Inference
	if i.Provider == "" {
		i.Provider = "keyword"
	}
	if i.Model == "" {
		i.Model = "gpt-4o-mini"
	}
	if i.Timeout <= 0 {
		i.Timeout = Duration(30 * time.Second)
	}
	if i.APIKey == "" {
		i.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	a := &cfg.Alerts
	if a.Threshold == 0 {
		a.Threshold = 0.75
	}
	if a.DedupWindow <= 0 {
		a.DedupWindow = Duration(24 * time.Hour)
	}
	if a.ClassWeight == 0 && a.MatchWeight == 0 {
		a.ClassWeight = 0.6
		a.MatchWeight = 0.4
	}
	if a.Channel == "" {
		a.Channel = "default"
	}
}

func validate(cfg *Config) error {
	if cfg.Pipeline.NoiseThreshold < 0 || cfg.Pipeline.NoiseThreshold > 1 {
		return fmt.Errorf("pipeline.noise_threshold %v out of [0,1]", cfg.Pipeline.NoiseThreshold)
	}
	if cfg.Matching.MinSimilarity < 0 || cfg.Matching.MinSimilarity > 1 {
		return fmt.Errorf("matching.min_similarity %v out of [0,1]", cfg.Matching.MinSimilarity)
	}
	if cfg.Alerts.Threshold < 0 || cfg.Alerts.Threshold > 1 {
		return fmt.Errorf("alerts.threshold %v out of [0,1]", cfg.Alerts.Threshold)
	}
	if cfg.Inference.Provider != "openai" && cfg.Inference.Provider != "keyword" {
		return fmt.Errorf("inference.provider %q not supported", cfg.Inference.Provider)
	}
	if cfg.Inference.Provider == "openai" && cfg.Inference.APIKey == "" {
		return fmt.Errorf("inference.provider openai requires an API key")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
