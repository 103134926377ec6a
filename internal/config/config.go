/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config loads the verification orchestrator's YAML configuration
// file, applies environment overrides, and validates the result.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration decodes both plain YAML durations ("30s") and raw nanosecond
// integers into a time.Duration.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var raw any
	if err := unmarshal(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		d.Duration = parsed
	case int:
		d.Duration = time.Duration(v)
	default:
		return fmt.Errorf("invalid duration value: %v", raw)
	}
	return nil
}

// ServerConfig controls the external-surface listeners (§6: signal/query
// dispatch, out of scope for wire format but the listen addresses are ours
// to configure).
type ServerConfig struct {
	ListenAddr  string `yaml:"listen_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// PostgresConfig configures the durable verification store.
type PostgresConfig struct {
	DSN         string   `yaml:"dsn"`
	MaxConns    int      `yaml:"max_conns"`
	ConnTimeout Duration `yaml:"conn_timeout"`
}

// RedisConfig configures the verifier-authorization credential cache.
type RedisConfig struct {
	Addr              string   `yaml:"addr"`
	DB                int      `yaml:"db"`
	CredentialCacheTTL Duration `yaml:"credential_cache_ttl"`
}

// NotificationConfig selects and configures the notifier used for
// level_change / verification_failed / reviewer_rejected / attempt_expired
// notifications.
type NotificationConfig struct {
	Sink          string `yaml:"sink"` // "slack" or "file"
	SlackWebhook  string `yaml:"slack_webhook"`
	FileOutputDir string `yaml:"file_output_dir"`
}

// OrchestratorConfig holds the subject orchestrator's operational
// parameters: per-method deadlines, the expiry-sweep cadence, and the
// continue-as-new iteration cap (spec.md §5, §9).
type OrchestratorConfig struct {
	EmailPhoneDeadline   Duration `yaml:"email_phone_deadline"`
	GovernmentIDDeadline Duration `yaml:"government_id_deadline"`
	TwoPartyDeadline     Duration `yaml:"two_party_deadline"`
	ExpirySweepInterval  Duration `yaml:"expiry_sweep_interval"`
	ContinueAsNewAfter   int      `yaml:"continue_as_new_after"`
	MaxWrongCodeAttempts int      `yaml:"max_wrong_code_attempts"`
}

// LoggingConfig controls the zap-backed logr.Logger constructed at startup.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ExternalServicesConfig points at the two external systems this engine
// never defines the identity of (spec.md §1 Non-goals): the document
// scanner and the credential registry. An empty URL falls back to a
// conservative in-process stub rather than failing startup, since not
// every deployment exercises government_id or trusted-verifier checks.
type ExternalServicesConfig struct {
	DocumentScannerURL    string   `yaml:"document_scanner_url"`
	CredentialRegistryURL string   `yaml:"credential_registry_url"`
	RequestTimeout        Duration `yaml:"request_timeout"`
}

// Config is the root configuration object loaded from YAML.
type Config struct {
	Server           ServerConfig           `yaml:"server"`
	Postgres         PostgresConfig         `yaml:"postgres"`
	Redis            RedisConfig            `yaml:"redis"`
	Notification     NotificationConfig     `yaml:"notification"`
	Orchestrator     OrchestratorConfig     `yaml:"orchestrator"`
	Logging          LoggingConfig          `yaml:"logging"`
	ExternalServices ExternalServicesConfig `yaml:"external_services"`
}

// Load reads, parses, applies environment overrides, and validates the
// configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:  ":8443",
			MetricsAddr: ":9090",
		},
		Postgres: PostgresConfig{
			MaxConns:    10,
			ConnTimeout: Duration{5 * time.Second},
		},
		Redis: RedisConfig{
			DB:                 0,
			CredentialCacheTTL: Duration{24 * time.Hour},
		},
		Notification: NotificationConfig{
			Sink: "file",
		},
		Orchestrator: OrchestratorConfig{
			EmailPhoneDeadline:   Duration{24 * time.Hour},
			GovernmentIDDeadline: Duration{7 * 24 * time.Hour},
			TwoPartyDeadline:     Duration{72 * time.Hour},
			ExpirySweepInterval:  Duration{30 * 24 * time.Hour},
			ContinueAsNewAfter:   1000,
			MaxWrongCodeAttempts: 3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		ExternalServices: ExternalServicesConfig{
			RequestTimeout: Duration{10 * time.Second},
		},
	}
}

func loadFromEnv(cfg *Config) error {
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("NOTIFICATION_SINK"); v != "" {
		cfg.Notification.Sink = v
	}
	if v := os.Getenv("SLACK_WEBHOOK"); v != "" {
		cfg.Notification.SlackWebhook = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("CONTINUE_AS_NEW_AFTER"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid CONTINUE_AS_NEW_AFTER: %w", err)
		}
		cfg.Orchestrator.ContinueAsNewAfter = n
	}
	return nil
}

func validate(cfg *Config) error {
	if cfg.Postgres.DSN == "" {
		return fmt.Errorf("postgres DSN is required")
	}
	if cfg.Postgres.MaxConns <= 0 {
		return fmt.Errorf("postgres max_conns must be greater than 0")
	}
	switch cfg.Notification.Sink {
	case "slack":
		if cfg.Notification.SlackWebhook == "" {
			return fmt.Errorf("notification.slack_webhook is required when sink is slack")
		}
	case "file":
		if cfg.Notification.FileOutputDir == "" {
			cfg.Notification.FileOutputDir = os.TempDir()
		}
	default:
		return fmt.Errorf("unsupported notification sink: %s", cfg.Notification.Sink)
	}
	if cfg.Orchestrator.ContinueAsNewAfter <= 0 {
		return fmt.Errorf("orchestrator.continue_as_new_after must be greater than 0")
	}
	if cfg.Orchestrator.MaxWrongCodeAttempts <= 0 {
		return fmt.Errorf("orchestrator.max_wrong_code_attempts must be greater than 0")
	}
	return nil
}
