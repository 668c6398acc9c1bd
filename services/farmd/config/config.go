package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultListen     = ":8090"
	defaultGenesis    = "genesis.toml"
	defaultAuditSpec  = "@every 5m"
	defaultClockMode  = ClockUnix
	defaultJournalDSN = "file:farm-journal.db"
)

// Clock modes select the accrual unit.
const (
	ClockUnix   = "unix"
	ClockUnixMs = "unix_ms"
)

// Storage backends.
const (
	BackendMemory  = "memory"
	BackendLevelDB = "leveldb"
	BackendBolt    = "bolt"
)

// Config captures the runtime settings for the farm daemon.
type Config struct {
	ListenAddress  string          `yaml:"listen"`
	GenesisPath    string          `yaml:"genesis"`
	MaxConnections int             `yaml:"max_connections"`
	Clock          string          `yaml:"clock"`
	TLS            TLSConfig       `yaml:"tls"`
	Auth           AuthConfig      `yaml:"auth"`
	Data           DataConfig      `yaml:"data"`
	Journal        JournalConfig   `yaml:"journal"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
	Audit          AuditConfig     `yaml:"audit"`
	Logging        LoggingConfig   `yaml:"logging"`
	Telemetry      TelemetryConfig `yaml:"telemetry"`
}

// TLSConfig describes the TLS material for the HTTP server.
type TLSConfig struct {
	CertPath      string `yaml:"cert"`
	KeyPath       string `yaml:"key"`
	AllowInsecure bool   `yaml:"allow_insecure"`
}

// AuthConfig configures the JWT authenticator guarding admin routes.
type AuthConfig struct {
	HMACSecretEnv string        `yaml:"hmac_secret_env"`
	Issuer        string        `yaml:"issuer"`
	Audience      []string      `yaml:"audience"`
	ClockSkew     time.Duration `yaml:"clock_skew"`
}

// DataConfig selects the state backend.
type DataConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// JournalConfig selects the event journal database.
type JournalConfig struct {
	Driver    string `yaml:"driver"`
	DSN       string `yaml:"dsn"`
	ExportDir string `yaml:"export_dir"`
}

// RateLimitConfig bounds per-client request rates. Zero disables limiting.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// AuditConfig schedules the periodic invariant audit.
type AuditConfig struct {
	Schedule string `yaml:"schedule"`
	Disabled bool   `yaml:"disabled"`
}

// LoggingConfig controls log level and optional rotating file output.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// TelemetryConfig configures OTLP export.
type TelemetryConfig struct {
	Endpoint    string            `yaml:"endpoint"`
	Insecure    bool              `yaml:"insecure"`
	Headers     map[string]string `yaml:"headers"`
	Traces      bool              `yaml:"traces"`
	Metrics     bool              `yaml:"metrics"`
	SampleRatio float64           `yaml:"sample_ratio"`
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{
		ListenAddress: defaultListen,
	}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// HMACSecret resolves the JWT secret from the configured environment variable.
func (cfg AuthConfig) HMACSecret() (string, error) {
	secret := strings.TrimSpace(os.Getenv(cfg.HMACSecretEnv))
	if secret == "" {
		return "", fmt.Errorf("environment variable %s is empty", cfg.HMACSecretEnv)
	}
	return secret, nil
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListen
	}
	cfg.GenesisPath = strings.TrimSpace(cfg.GenesisPath)
	if cfg.GenesisPath == "" {
		cfg.GenesisPath = defaultGenesis
	}
	cfg.Clock = strings.ToLower(strings.TrimSpace(cfg.Clock))
	if cfg.Clock == "" {
		cfg.Clock = defaultClockMode
	}
	cfg.TLS.CertPath = strings.TrimSpace(cfg.TLS.CertPath)
	cfg.TLS.KeyPath = strings.TrimSpace(cfg.TLS.KeyPath)

	cfg.Auth.HMACSecretEnv = strings.TrimSpace(cfg.Auth.HMACSecretEnv)
	if cfg.Auth.HMACSecretEnv == "" {
		cfg.Auth.HMACSecretEnv = "FARMD_JWT_SECRET"
	}
	cfg.Auth.Issuer = strings.TrimSpace(cfg.Auth.Issuer)
	audience := make([]string, 0, len(cfg.Auth.Audience))
	for _, aud := range cfg.Auth.Audience {
		if trimmed := strings.TrimSpace(aud); trimmed != "" {
			audience = append(audience, trimmed)
		}
	}
	cfg.Auth.Audience = audience
	if cfg.Auth.ClockSkew == 0 {
		cfg.Auth.ClockSkew = 2 * time.Minute
	}

	cfg.Data.Backend = strings.ToLower(strings.TrimSpace(cfg.Data.Backend))
	if cfg.Data.Backend == "" {
		cfg.Data.Backend = BackendMemory
	}
	cfg.Data.Path = strings.TrimSpace(cfg.Data.Path)

	cfg.Journal.Driver = strings.ToLower(strings.TrimSpace(cfg.Journal.Driver))
	if cfg.Journal.Driver == "" {
		cfg.Journal.Driver = "sqlite"
	}
	cfg.Journal.DSN = strings.TrimSpace(cfg.Journal.DSN)
	if cfg.Journal.DSN == "" && cfg.Journal.Driver == "sqlite" {
		cfg.Journal.DSN = defaultJournalDSN
	}
	cfg.Journal.ExportDir = strings.TrimSpace(cfg.Journal.ExportDir)

	if cfg.RateLimit.RPS > 0 && cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = int(cfg.RateLimit.RPS) + 1
	}
	cfg.Audit.Schedule = strings.TrimSpace(cfg.Audit.Schedule)
	if cfg.Audit.Schedule == "" {
		cfg.Audit.Schedule = defaultAuditSpec
	}
	cfg.Logging.Level = strings.TrimSpace(cfg.Logging.Level)
	cfg.Logging.File = strings.TrimSpace(cfg.Logging.File)
	cfg.Telemetry.Endpoint = strings.TrimSpace(cfg.Telemetry.Endpoint)
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	hasCert := cfg.TLS.CertPath != ""
	if hasCert != (cfg.TLS.KeyPath != "") {
		return fmt.Errorf("tls: cert and key must either both be provided or both be empty")
	}
	if !cfg.TLS.AllowInsecure && !hasCert {
		return fmt.Errorf("tls: cert and key are required unless allow_insecure=true")
	}
	switch cfg.Clock {
	case ClockUnix, ClockUnixMs:
	default:
		return fmt.Errorf("clock: unsupported mode %q", cfg.Clock)
	}
	switch cfg.Data.Backend {
	case BackendMemory:
	case BackendLevelDB, BackendBolt:
		if cfg.Data.Path == "" {
			return fmt.Errorf("data: path required for %s backend", cfg.Data.Backend)
		}
	default:
		return fmt.Errorf("data: unsupported backend %q", cfg.Data.Backend)
	}
	switch cfg.Journal.Driver {
	case "sqlite":
	case "postgres":
		if cfg.Journal.DSN == "" {
			return fmt.Errorf("journal: dsn required for postgres")
		}
	default:
		return fmt.Errorf("journal: unsupported driver %q", cfg.Journal.Driver)
	}
	if cfg.MaxConnections < 0 {
		return fmt.Errorf("max_connections must not be negative")
	}
	if cfg.RateLimit.RPS < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit: values must not be negative")
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: sample_ratio must be within [0,1]")
	}
	return nil
}
