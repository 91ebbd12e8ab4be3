// Copyright (c) 2026 John Earle
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

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the ingestion service.
type Config struct {
	// Domains hosted by this system. Mail from these domains must be
	// authenticated; mail to them is routed to local mailboxes.
	Domains []string

	// Webhook
	Port          int
	WebhookSecret string

	// Storage
	DatabaseURL string

	// Redis
	RedisURL         string
	IngestQueue      string
	DeadLetterQueue  string
	ForwardQueue     string
	IdempotencyTTL   time.Duration
	NearDuplicateTTL time.Duration

	// Security
	OriginSecret string
	OriginMaxAge time.Duration

	// Routing
	LoopbackWindow time.Duration

	// Worker
	WorkerConcurrency int
	JobTimeout        time.Duration
	MaxAttempts       int

	// Outbound rate limit applied to external alias forwards
	RateLimit       int
	RateLimitWindow time.Duration

	// Security alerting (optional)
	Alerts AlertConfig

	// SES suppression mirror (optional)
	SESEnabled bool
	SESRegion  string

	LogLevel slog.Level
}

// AlertConfig holds the OAuth2-protected alert endpoint settings.
type AlertConfig struct {
	URL          string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Domains []string `yaml:"domains"`
	Webhook struct {
		Port   int    `yaml:"port"`
		Secret string `yaml:"secret"`
	} `yaml:"webhook"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL    string `yaml:"url"`
		Queues struct {
			Ingest     string `yaml:"ingest"`
			DeadLetter string `yaml:"dead_letter"`
			Forward    string `yaml:"forward"`
		} `yaml:"queues"`
	} `yaml:"redis"`
	Security struct {
		OriginSecret string `yaml:"origin_secret"`
		OriginMaxAge string `yaml:"origin_max_age"`
	} `yaml:"security"`
	Dedup struct {
		TTL                 string `yaml:"ttl"`
		NearDuplicateWindow string `yaml:"near_duplicate_window"`
	} `yaml:"dedup"`
	Routing struct {
		LoopbackWindow string `yaml:"loopback_window"`
	} `yaml:"routing"`
	Worker struct {
		Concurrency int    `yaml:"concurrency"`
		JobTimeout  string `yaml:"job_timeout"`
		MaxAttempts int    `yaml:"max_attempts"`
	} `yaml:"worker"`
	RateLimit struct {
		Limit  int    `yaml:"limit"`
		Window string `yaml:"window"`
	} `yaml:"ratelimit"`
	Alerts struct {
		URL          string   `yaml:"url"`
		TokenURL     string   `yaml:"token_url"`
		ClientID     string   `yaml:"client_id"`
		ClientSecret string   `yaml:"client_secret"`
		Scopes       []string `yaml:"scopes"`
	} `yaml:"alerts"`
	SES struct {
		Enabled bool   `yaml:"enabled"`
		Region  string `yaml:"region"`
	} `yaml:"ses"`
	LogLevel string `yaml:"log_level"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings. A .env file in the working
// directory is loaded first when present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env file", "error", err)
	}

	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse builds a Config from YAML bytes. ${VAR} references are expanded from
// the environment before parsing, and unset values fall back to environment
// variables and then to defaults.
func Parse(data []byte) (*Config, error) {
	// Expand ${VAR} references in the YAML
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg := &Config{
		Port:              firstPositive(raw.Webhook.Port, envOrDefaultInt("PORT", 8080)),
		WebhookSecret:     firstNonEmpty(raw.Webhook.Secret, os.Getenv("WEBHOOK_SECRET")),
		DatabaseURL:       firstNonEmpty(raw.Database.URL, envOrDefault("DATABASE_URL", "postgres://localhost:5432/elektrine")),
		RedisURL:          firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		IngestQueue:       firstNonEmpty(raw.Redis.Queues.Ingest, envOrDefault("INGEST_QUEUE", "inbound:ingest")),
		DeadLetterQueue:   firstNonEmpty(raw.Redis.Queues.DeadLetter, envOrDefault("DEAD_LETTER_QUEUE", "inbound:dead")),
		ForwardQueue:      firstNonEmpty(raw.Redis.Queues.Forward, envOrDefault("FORWARD_QUEUE", "outbound:forward")),
		IdempotencyTTL:    durationOr(raw.Dedup.TTL, envOrDefaultDuration("IDEMPOTENCY_TTL", 24*time.Hour)),
		NearDuplicateTTL:  durationOr(raw.Dedup.NearDuplicateWindow, 5*time.Minute),
		OriginSecret:      firstNonEmpty(raw.Security.OriginSecret, os.Getenv("ORIGIN_SECRET")),
		OriginMaxAge:      durationOr(raw.Security.OriginMaxAge, 10*time.Minute),
		LoopbackWindow:    durationOr(raw.Routing.LoopbackWindow, 5*time.Minute),
		WorkerConcurrency: firstPositive(raw.Worker.Concurrency, envOrDefaultInt("WORKER_CONCURRENCY", 4)),
		JobTimeout:        durationOr(raw.Worker.JobTimeout, envOrDefaultDuration("JOB_TIMEOUT", 60*time.Second)),
		MaxAttempts:       firstPositive(raw.Worker.MaxAttempts, 5),
		RateLimit:         firstPositive(raw.RateLimit.Limit, 100),
		RateLimitWindow:   durationOr(raw.RateLimit.Window, time.Hour),
		Alerts: AlertConfig{
			URL:          firstNonEmpty(raw.Alerts.URL, os.Getenv("ALERT_URL")),
			TokenURL:     raw.Alerts.TokenURL,
			ClientID:     raw.Alerts.ClientID,
			ClientSecret: firstNonEmpty(raw.Alerts.ClientSecret, os.Getenv("ALERT_CLIENT_SECRET")),
			Scopes:       raw.Alerts.Scopes,
		},
		SESEnabled: raw.SES.Enabled,
		SESRegion:  firstNonEmpty(raw.SES.Region, envOrDefault("AWS_REGION", "us-east-1")),
		LogLevel:   parseLevel(firstNonEmpty(raw.LogLevel, envOrDefault("LOG_LEVEL", "info"))),
	}

	for _, d := range raw.Domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		cfg.Domains = append(cfg.Domains, d)
	}
	if len(cfg.Domains) == 0 {
		for _, d := range strings.Split(os.Getenv("HOSTED_DOMAINS"), ",") {
			if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
				cfg.Domains = append(cfg.Domains, d)
			}
		}
	}

	return cfg, nil
}

// Validate checks settings the service cannot run without.
func (c *Config) Validate() error {
	if len(c.Domains) == 0 {
		return fmt.Errorf("no hosted domains configured (check config.yaml or HOSTED_DOMAINS)")
	}
	if c.WebhookSecret == "" {
		// The MTA asserts the submission's authentication in the payload,
		// so an unauthenticated endpoint would let anyone pass as a local
		// sender.
		return fmt.Errorf("webhook.secret is required (check config.yaml or WEBHOOK_SECRET)")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("worker.max_attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.Alerts.URL != "" && c.Alerts.TokenURL != "" && c.Alerts.ClientID == "" {
		return fmt.Errorf("alerts.client_id is required when alerts.token_url is set")
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

func durationOr(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
