package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Printer  PrinterConfig  `yaml:"printer" toml:"printer"`
	Queue    QueueConfig    `yaml:"queue" toml:"queue"`
	Quota    QuotaConfig    `yaml:"quota" toml:"quota"`
	Uploads  UploadsConfig  `yaml:"uploads" toml:"uploads"`
	Auth     AuthConfig     `yaml:"auth" toml:"auth"`
	Webhooks WebhooksConfig `yaml:"webhooks" toml:"webhooks"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
}

type ServerConfig struct {
	Port            int           `yaml:"port" toml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" toml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" toml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

type PrinterConfig struct {
	Name     string `yaml:"name" toml:"name"`
	Host     string `yaml:"host" toml:"host"`
	Port     int    `yaml:"port" toml:"port"`
	User     string `yaml:"user" toml:"user"`
	Password string `yaml:"password" toml:"password"`
	TLS      bool   `yaml:"tls" toml:"tls"`
}

type QueueConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" toml:"poll_interval"`
	JobTimeout   time.Duration `yaml:"job_timeout" toml:"job_timeout"`
	OrphanPolicy string        `yaml:"orphan_policy" toml:"orphan_policy"`
}

type QuotaConfig struct {
	MonthlyPapers int    `yaml:"monthly_papers" toml:"monthly_papers"`
	Timezone      string `yaml:"timezone" toml:"timezone"`
}

type UploadsConfig struct {
	Dir       string `yaml:"dir" toml:"dir"`
	MaxSizeMB int64  `yaml:"max_size_mb" toml:"max_size_mb"`
	// Retention is how long uploads of finished jobs are kept. Zero keeps
	// them forever.
	Retention     time.Duration `yaml:"retention" toml:"retention"`
	SweepInterval time.Duration `yaml:"sweep_interval" toml:"sweep_interval"`
}

type AuthConfig struct {
	JWTSecret            string        `yaml:"jwt_secret" toml:"jwt_secret"`
	TokenTTL             time.Duration `yaml:"token_ttl" toml:"token_ttl"`
	DefaultAdminPassword string        `yaml:"default_admin_password" toml:"default_admin_password"`
}

type WebhooksConfig struct {
	URLs       []string      `yaml:"urls" toml:"urls"`
	Secret     string        `yaml:"secret" toml:"secret"`
	Timeout    time.Duration `yaml:"timeout" toml:"timeout"`
	MaxRetries int           `yaml:"max_retries" toml:"max_retries"`
	Workers    int           `yaml:"workers" toml:"workers"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Path: "./data/printdesk.db",
		},
		Printer: PrinterConfig{
			Name: "HP-LaserJet-1020",
			Host: "localhost",
			Port: 631,
		},
		Queue: QueueConfig{
			PollInterval: time.Second,
			OrphanPolicy: "review",
		},
		Quota: QuotaConfig{
			MonthlyPapers: 10,
			Timezone:      "Asia/Kolkata",
		},
		Uploads: UploadsConfig{
			Dir:           "./data/uploads",
			MaxSizeMB:     50,
			SweepInterval: 24 * time.Hour,
		},
		Auth: AuthConfig{
			TokenTTL:             24 * time.Hour,
			DefaultAdminPassword: "admin123",
		},
		Webhooks: WebhooksConfig{
			Timeout:    10 * time.Second,
			MaxRetries: 3,
			Workers:    2,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaults()
}

// Load reads a YAML file, or TOML when the path ends in .toml. A missing
// file yields the defaults.
func Load(configPath string) (*Config, error) {
	cfg := defaults()
	if configPath == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if strings.EqualFold(filepath.Ext(configPath), ".toml") {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

func LoadFromEnv() *Config {
	cfg := defaults()
	cfg.ApplyEnv()
	return cfg
}

// ApplyEnv overrides fields from PRINTDESK_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("PRINTDESK_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}

	if v := os.Getenv("PRINTDESK_DB_PATH"); v != "" {
		c.Database.Path = v
	}

	if v := os.Getenv("PRINTDESK_PRINTER"); v != "" {
		c.Printer.Name = v
	}

	if v := os.Getenv("PRINTDESK_CUPS_HOST"); v != "" {
		c.Printer.Host = v
	}

	if v := os.Getenv("PRINTDESK_CUPS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Printer.Port = port
		}
	}

	if v := os.Getenv("PRINTDESK_QUOTA"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Quota.MonthlyPapers = n
		}
	}

	if v := os.Getenv("PRINTDESK_TIMEZONE"); v != "" {
		c.Quota.Timezone = v
	}

	if v := os.Getenv("PRINTDESK_UPLOAD_DIR"); v != "" {
		c.Uploads.Dir = v
	}

	if v := os.Getenv("PRINTDESK_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}

	if v := os.Getenv("PRINTDESK_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}

	if v := os.Getenv("PRINTDESK_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("server read timeout must be non-negative")
	}

	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("server write timeout must be non-negative")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	if c.Printer.Name == "" {
		return fmt.Errorf("printer name is required")
	}

	if c.Printer.Port < 1 || c.Printer.Port > 65535 {
		return fmt.Errorf("printer port must be between 1 and 65535, got %d", c.Printer.Port)
	}

	if c.Queue.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}

	if c.Queue.JobTimeout < 0 {
		return fmt.Errorf("job timeout must be non-negative")
	}

	validPolicies := map[string]bool{
		"review": true,
		"fail":   true,
	}

	if !validPolicies[c.Queue.OrphanPolicy] {
		return fmt.Errorf("invalid orphan policy: %s (valid: review, fail)", c.Queue.OrphanPolicy)
	}

	if c.Quota.MonthlyPapers < 0 {
		return fmt.Errorf("monthly paper quota must be non-negative")
	}

	if _, err := c.Quota.Location(); err != nil {
		return err
	}

	if c.Uploads.Dir == "" {
		return fmt.Errorf("upload directory is required")
	}

	if c.Uploads.MaxSizeMB < 1 {
		return fmt.Errorf("max upload size must be at least 1 MB")
	}

	if c.Uploads.Retention < 0 {
		return fmt.Errorf("upload retention must be non-negative")
	}

	if c.Uploads.Retention > 0 && c.Uploads.SweepInterval <= 0 {
		return fmt.Errorf("upload sweep interval must be positive")
	}

	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("token ttl must be positive")
	}

	if c.Webhooks.MaxRetries < 0 {
		return fmt.Errorf("webhook max retries must be non-negative")
	}

	if len(c.Webhooks.URLs) > 0 && c.Webhooks.Workers < 1 {
		return fmt.Errorf("webhook workers must be at least 1")
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json": true,
		"text": true,
	}

	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (valid: json, text)", c.Logging.Format)
	}

	return nil
}

// Location resolves the quota time zone.
func (q QuotaConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(q.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid quota timezone %q: %w", q.Timezone, err)
	}
	return loc, nil
}

func (q UploadsConfig) MaxBytes() int64 {
	return q.MaxSizeMB << 20
}

func (l LoggingConfig) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch l.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
