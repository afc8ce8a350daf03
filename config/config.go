// Package config loads the mailmerge YAML configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/mailmerge/convert"
	"github.com/hazyhaar/mailmerge/merge"
	"github.com/hazyhaar/mailmerge/pipeline"
)

// Config holds the full mailmerge configuration.
type Config struct {
	Listen      string          `yaml:"listen"`
	LogLevel    string          `yaml:"log_level"`
	MaxUploadMB int             `yaml:"max_upload_mb"`
	AuditDB     string          `yaml:"audit_db"` // empty disables batch history
	MCPRoot     string          `yaml:"mcp_root"` // directory the MCP tools are confined to
	Retention   string          `yaml:"retention"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
	Merge       MergeConfig     `yaml:"merge"`
	Locale      merge.Policy    `yaml:"locale"`
	Converter   convert.Config  `yaml:"converter"`
}

// RateLimitConfig bounds merge requests per client IP. Zero requests
// disables the limit.
type RateLimitConfig struct {
	Requests int    `yaml:"requests"`
	Window   string `yaml:"window"`
}

// MergeConfig holds the batch defaults.
type MergeConfig struct {
	NamingField    string `yaml:"naming_field"`
	Format         string `yaml:"format"`
	Workers        int    `yaml:"workers"`
	ConvertTimeout string `yaml:"convert_timeout"`
	Collisions     string `yaml:"collisions"`
}

// DefaultConfig returns sane defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:      ":8090",
		LogLevel:    "info",
		MaxUploadMB: 32,
		AuditDB:     "mailmerge.db",
		Retention:   "720h",
		RateLimit:   RateLimitConfig{Requests: 30, Window: "1m"},
		Merge: MergeConfig{
			Format:         string(convert.PDF),
			ConvertTimeout: "2m",
			Collisions:     string(pipeline.CollisionSuffix),
		},
		Locale: merge.DefaultPolicy(),
		Converter: convert.Config{
			Backend:          convert.BackendOffice,
			OfficeBinary:     "soffice",
			BreakerThreshold: 5,
		},
	}
}

// LoadConfig reads a YAML file over DefaultConfig and validates the
// result. An empty path returns the validated defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	return cfg, cfg.Validate()
}

// Validate checks that values are usable.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen is required")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("max_upload_mb must be > 0")
	}
	if _, err := duration("retention", c.Retention); err != nil {
		return err
	}
	if c.RateLimit.Requests < 0 {
		return fmt.Errorf("rate_limit.requests must be >= 0")
	}
	if _, err := duration("rate_limit.window", c.RateLimit.Window); err != nil {
		return err
	}
	if _, err := convert.ParseFormat(c.Merge.Format); err != nil {
		return fmt.Errorf("merge.format: %w", err)
	}
	if c.Merge.Workers < 0 {
		return fmt.Errorf("merge.workers must be >= 0")
	}
	if _, err := duration("merge.convert_timeout", c.Merge.ConvertTimeout); err != nil {
		return err
	}
	switch pipeline.Collision(c.Merge.Collisions) {
	case pipeline.CollisionSuffix, pipeline.CollisionOverwrite:
	default:
		return fmt.Errorf("merge.collisions: unsupported %q (use suffix or overwrite)", c.Merge.Collisions)
	}
	if c.Locale.DecimalSeparator != "" && c.Locale.DecimalSeparator == c.Locale.ThousandsSeparator {
		return fmt.Errorf("locale: decimal and thousands separators must differ")
	}
	if c.Converter.BreakerThreshold < 0 {
		return fmt.Errorf("converter.breaker_threshold must be >= 0")
	}
	switch c.Converter.Backend {
	case convert.BackendOffice, convert.BackendBrowser, convert.BackendNative:
	default:
		return fmt.Errorf("converter.backend: unsupported %q (use office, browser or native)", c.Converter.Backend)
	}
	return nil
}

func duration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must be >= 0", field)
	}
	return d, nil
}

// Level returns the slog level named by log_level.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("log_level: unsupported %q", c.LogLevel)
	}
	return l, nil
}

// MaxUploadBytes returns the request body cap in bytes.
func (c *Config) MaxUploadBytes() int64 { return int64(c.MaxUploadMB) * 1024 * 1024 }

// RetentionPeriod returns how long batch history is kept; 0 keeps it
// forever.
func (c *Config) RetentionPeriod() time.Duration {
	d, _ := duration("retention", c.Retention)
	return d
}

// RateWindow returns the rate limit window, 1m when unset.
func (c *Config) RateWindow() time.Duration {
	if d, _ := duration("rate_limit.window", c.RateLimit.Window); d > 0 {
		return d
	}
	return time.Minute
}

// Pipeline returns the orchestrator configuration.
func (c *Config) Pipeline(logger *slog.Logger) pipeline.Config {
	timeout, _ := duration("merge.convert_timeout", c.Merge.ConvertTimeout)
	format, _ := convert.ParseFormat(c.Merge.Format)
	return pipeline.Config{
		NamingField:    c.Merge.NamingField,
		Format:         format,
		Workers:        c.Merge.Workers,
		ConvertTimeout: timeout,
		Collisions:     pipeline.Collision(c.Merge.Collisions),
		Policy:         c.Locale,
		Logger:         logger,
	}
}

// Convert returns the conversion stack configuration.
func (c *Config) Convert(logger *slog.Logger) convert.Config {
	cc := c.Converter
	cc.Timeout, _ = duration("merge.convert_timeout", c.Merge.ConvertTimeout)
	cc.Logger = logger
	return cc
}
