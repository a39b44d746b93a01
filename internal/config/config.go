package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/rpggio/overseer/internal/domain/mode"
	"gopkg.in/yaml.v3"
)

// Config defines server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	DB        DBConfig        `yaml:"db" toml:"db"`
	Log       LogConfig       `yaml:"log" toml:"log"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Transport TransportConfig `yaml:"transport" toml:"transport"`
	Approval  ApprovalConfig  `yaml:"approval" toml:"approval"`
	Mode      ModeConfig      `yaml:"mode" toml:"mode"`
	Retention RetentionConfig `yaml:"retention" toml:"retention"`
	Feed      FeedConfig      `yaml:"feed" toml:"feed"`
	Telemetry TelemetryConfig `yaml:"telemetry" toml:"telemetry"`

	// File is the config file that was read, if any.
	File string `yaml:"-" toml:"-"`
}

type ServerConfig struct {
	Host string `yaml:"host" toml:"host"`
	Port int    `yaml:"port" toml:"port"`
}

type DBConfig struct {
	Path string `yaml:"path" toml:"path"`
}

type LogConfig struct {
	Level string `yaml:"level" toml:"level"`
}

type AuthConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`
}

type TransportConfig struct {
	// Mode is "http" (REST, SSE and MCP) or "stdio" (MCP only).
	Mode string `yaml:"mode" toml:"mode"`
}

type ApprovalConfig struct {
	Timeout       Duration    `yaml:"timeout" toml:"timeout"`
	SweepInterval Duration    `yaml:"sweep_interval" toml:"sweep_interval"`
	Rules         []mode.Rule `yaml:"rules" toml:"rules"`
}

type ModeConfig struct {
	Initial string `yaml:"initial" toml:"initial"`
}

type RetentionConfig struct {
	Horizon  Duration `yaml:"horizon" toml:"horizon"`
	Interval Duration `yaml:"interval" toml:"interval"`
}

type FeedConfig struct {
	Backlog int `yaml:"backlog" toml:"backlog"`
}

type TelemetryConfig struct {
	SentryDSN   string `yaml:"sentry_dsn" toml:"sentry_dsn"`
	Environment string `yaml:"environment" toml:"environment"`
}

// Duration is a time.Duration written as "90s", "30m" or "2160h" in files.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		DB: DBConfig{
			Path: "overseer.db",
		},
		Log: LogConfig{
			Level: "info",
		},
		Transport: TransportConfig{
			Mode: "http",
		},
		Approval: ApprovalConfig{
			Timeout:       Duration(30 * time.Minute),
			SweepInterval: Duration(15 * time.Second),
		},
		Mode: ModeConfig{
			Initial: string(mode.FullAuto),
		},
		Retention: RetentionConfig{
			Horizon:  Duration(90 * 24 * time.Hour),
			Interval: Duration(time.Hour),
		},
		Feed: FeedConfig{
			Backlog: 256,
		},
	}
}

// Load reads configuration from an optional .env file, an optional YAML or
// TOML file and environment variables, in that order.
func Load() (Config, error) {
	// a missing .env is fine
	_ = godotenv.Load()

	cfg := Default()

	if path := os.Getenv("OVERSEER_CONFIG_PATH"); path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return Config{}, err
		}
		cfg.File = path
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if host := os.Getenv("OVERSEER_SERVER_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if portStr := os.Getenv("OVERSEER_SERVER_PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return fmt.Errorf("invalid OVERSEER_SERVER_PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if dbPath := os.Getenv("OVERSEER_DB_PATH"); dbPath != "" {
		cfg.DB.Path = dbPath
	}
	if level := os.Getenv("OVERSEER_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
	if enabled := os.Getenv("OVERSEER_AUTH_ENABLED"); enabled != "" {
		v, err := strconv.ParseBool(enabled)
		if err != nil {
			return fmt.Errorf("invalid OVERSEER_AUTH_ENABLED: %w", err)
		}
		cfg.Auth.Enabled = v
	}
	if transport := os.Getenv("OVERSEER_TRANSPORT"); transport != "" {
		cfg.Transport.Mode = transport
	}
	if initial := os.Getenv("OVERSEER_MODE"); initial != "" {
		cfg.Mode.Initial = initial
	}
	if backlog := os.Getenv("OVERSEER_FEED_BACKLOG"); backlog != "" {
		n, err := strconv.Atoi(backlog)
		if err != nil {
			return fmt.Errorf("invalid OVERSEER_FEED_BACKLOG: %w", err)
		}
		cfg.Feed.Backlog = n
	}
	if dsn := os.Getenv("OVERSEER_SENTRY_DSN"); dsn != "" {
		cfg.Telemetry.SentryDSN = dsn
	}

	durations := []struct {
		env string
		dst *Duration
	}{
		{"OVERSEER_APPROVAL_TIMEOUT", &cfg.Approval.Timeout},
		{"OVERSEER_SWEEP_INTERVAL", &cfg.Approval.SweepInterval},
		{"OVERSEER_RETENTION_HORIZON", &cfg.Retention.Horizon},
		{"OVERSEER_RETENTION_INTERVAL", &cfg.Retention.Interval},
	}
	for _, d := range durations {
		v := os.Getenv(d.env)
		if v == "" {
			continue
		}
		if err := d.dst.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("invalid %s: %w", d.env, err)
		}
	}
	return nil
}

// Validate checks values that would otherwise fail late at startup.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	switch c.Transport.Mode {
	case "http", "stdio":
	default:
		return fmt.Errorf("invalid transport mode %q (expected http or stdio)", c.Transport.Mode)
	}
	if _, err := mode.ParseMode(c.Mode.Initial); err != nil {
		return fmt.Errorf("mode.initial: %w", err)
	}
	if err := mode.ValidateRules(c.Approval.Rules); err != nil {
		return fmt.Errorf("approval.rules: %w", err)
	}
	if c.Approval.Timeout <= 0 || c.Approval.SweepInterval <= 0 {
		return fmt.Errorf("approval timeout and sweep interval must be positive")
	}
	if c.Retention.Horizon <= 0 || c.Retention.Interval <= 0 {
		return fmt.Errorf("retention horizon and interval must be positive")
	}
	if c.Feed.Backlog <= 0 {
		return fmt.Errorf("feed backlog must be positive")
	}
	return nil
}

// InitialMode returns the parsed initial mode. Call after Validate.
func (c Config) InitialMode() mode.Mode {
	m, err := mode.ParseMode(c.Mode.Initial)
	if err != nil {
		return mode.FullAuto
	}
	return m
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = toml.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

// LoadRules re-reads only the approval rules from a config file.
func LoadRules(path string) ([]mode.Rule, error) {
	var cfg Config
	if err := loadFromFile(path, &cfg); err != nil {
		return nil, err
	}
	if err := mode.ValidateRules(cfg.Approval.Rules); err != nil {
		return nil, err
	}
	return cfg.Approval.Rules, nil
}
