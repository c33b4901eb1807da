// Package config handles TOML/YAML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/og-meta-proxy/config.toml",
	"configs/config.toml",
}

// ReservedPaths are served by the proxy itself and never forwarded to the origin.
var ReservedPaths = []string{"/_proxy/healthz", "/_proxy/status"}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config      string `kong:"short='c',help='Path to TOML or YAML config file.',env='CONFIG_PATH'"`
	Host        string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port        int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	OriginURL   string `kong:"name='origin-url',help='Origin base URL (overrides config).',env='ORIGIN_URL'"`
	MetadataURL string `kong:"name='metadata-url',help='Metadata service URL (overrides config).',env='METADATA_URL'"`
	LogLevel    string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server" yaml:"server"`
	Origin   OriginConfig   `toml:"origin" yaml:"origin"`
	Metadata MetadataConfig `toml:"metadata" yaml:"metadata"`
	Rewrite  RewriteConfig  `toml:"rewrite" yaml:"rewrite"`
	Log      LogConfig      `toml:"log" yaml:"log"`
	Metrics  MetricsConfig  `toml:"metrics" yaml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host" yaml:"host"`
	Port         int             `toml:"port" yaml:"port"` // 0 means "use default" (3000)
	BodyMaxBytes int64           `toml:"body_max_bytes" yaml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled" yaml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second" yaml:"requests_per_second"`
}

// OriginConfig holds the single proxied origin.
type OriginConfig struct {
	TargetURL string `toml:"target_url" yaml:"target_url"`
	// FollowRedirects is a pointer so an omitted key can default to true.
	FollowRedirects  *bool `toml:"follow_redirects" yaml:"follow_redirects"`
	TimeoutSeconds   int   `toml:"timeout_seconds" yaml:"timeout_seconds"`
	IdleConnections  int   `toml:"idle_connections" yaml:"idle_connections"`
	MaxResponseBytes int64 `toml:"max_response_bytes" yaml:"max_response_bytes"`
}

// MetadataConfig holds the Open Graph metadata service settings.
type MetadataConfig struct {
	BaseURL          string `toml:"base_url" yaml:"base_url"`
	QueryParam       string `toml:"query_param" yaml:"query_param"`
	IDSegment        int    `toml:"id_segment" yaml:"id_segment"`
	TimeoutSeconds   int    `toml:"timeout_seconds" yaml:"timeout_seconds"`
	MaxResponseBytes int64  `toml:"max_response_bytes" yaml:"max_response_bytes"`
}

// RewriteConfig controls how metadata values are written into HTML.
type RewriteConfig struct {
	EscapeValues bool `toml:"escape_values" yaml:"escape_values"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Path    string `toml:"path" yaml:"path"`
}

// Load reads the config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/og-meta-proxy/config.toml then configs/config.toml. If nothing is found
// the configuration is built from CLI flags alone.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := decode(path, data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		if path == "" {
			return nil, fmt.Errorf("config: validate (no config file found, searched %v): %w", configSearchPaths, err)
		}
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// decode picks the decoder from the file extension; anything that is not YAML is TOML.
func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return toml.Unmarshal(data, cfg)
	}
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.OriginURL != "" {
		c.Origin.TargetURL = cli.OriginURL
	}
	if cli.MetadataURL != "" {
		c.Metadata.BaseURL = cli.MetadataURL
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	if err := validateHTTPURL("origin.target_url", c.Origin.TargetURL); err != nil {
		return err
	}
	if err := validateHTTPURL("metadata.base_url", c.Metadata.BaseURL); err != nil {
		return err
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Origin.TimeoutSeconds < 0 {
		return fmt.Errorf("origin.timeout_seconds must be non-negative; got %d", c.Origin.TimeoutSeconds)
	}
	if c.Origin.IdleConnections < 0 {
		return fmt.Errorf("origin.idle_connections must be non-negative; got %d", c.Origin.IdleConnections)
	}
	if c.Origin.MaxResponseBytes < 0 {
		return fmt.Errorf("origin.max_response_bytes must be non-negative; got %d", c.Origin.MaxResponseBytes)
	}
	if c.Metadata.TimeoutSeconds < 0 {
		return fmt.Errorf("metadata.timeout_seconds must be non-negative; got %d", c.Metadata.TimeoutSeconds)
	}
	if c.Metadata.MaxResponseBytes < 0 {
		return fmt.Errorf("metadata.max_response_bytes must be non-negative; got %d", c.Metadata.MaxResponseBytes)
	}
	if c.Metadata.IDSegment < 0 {
		return fmt.Errorf("metadata.id_segment must be non-negative; got %d", c.Metadata.IDSegment)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		if p == "/" {
			return fmt.Errorf("metrics.path %q would shadow every proxied route", p)
		}
		for _, reserved := range ReservedPaths {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

func validateHTTPURL(field, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https; got %q", field, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s has no host; got %q", field, raw)
	}
	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields, zero means "unset" because TOML cannot distinguish between
// an explicit 0 and an omitted key. IDSegment is the exception: 0 would always
// select the empty segment before the leading slash, so it is treated as unset too.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Origin.FollowRedirects == nil {
		follow := true
		c.Origin.FollowRedirects = &follow
	}
	if c.Origin.TimeoutSeconds == 0 {
		c.Origin.TimeoutSeconds = 60
	}
	if c.Origin.IdleConnections == 0 {
		c.Origin.IdleConnections = 100
	}
	if c.Origin.MaxResponseBytes == 0 {
		c.Origin.MaxResponseBytes = 20 * 1024 * 1024 // 20 MB
	}
	if c.Metadata.QueryParam == "" {
		c.Metadata.QueryParam = "propertyId"
	}
	if c.Metadata.IDSegment == 0 {
		c.Metadata.IDSegment = 2
	}
	if c.Metadata.TimeoutSeconds == 0 {
		c.Metadata.TimeoutSeconds = 10
	}
	if c.Metadata.MaxResponseBytes == 0 {
		c.Metadata.MaxResponseBytes = 1024 * 1024 // 1 MB
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// FollowsRedirects reports whether the origin client should follow redirects.
func (c *OriginConfig) FollowsRedirects() bool {
	return c.FollowRedirects == nil || *c.FollowRedirects
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
