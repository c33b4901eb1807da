package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// cliWithPath returns a CLI struct pointing at the given config file.
func cliWithPath(path string) *CLI {
	return &CLI{Config: path}
}

// writeConfig writes data to a file named name in a fresh temp dir and returns its path.
func writeConfig(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalTOML = `
[origin]
target_url = "https://origin.example.com/share"

[metadata]
base_url = "https://meta.example.com/og.json"
`

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[server]
host = "0.0.0.0"
port = 9000
body_max_bytes = 5242880

[origin]
target_url = "https://origin.example.com/share"
follow_redirects = false
timeout_seconds = 30
idle_connections = 50
max_response_bytes = 1048576

[metadata]
base_url = "https://meta.example.com/og.json"
query_param = "id"
id_segment = 3
timeout_seconds = 5

[rewrite]
escape_values = true

[log]
level = "debug"
format = "text"
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9000)
	}
	if cfg.Origin.TargetURL != "https://origin.example.com/share" {
		t.Errorf("Origin.TargetURL = %q", cfg.Origin.TargetURL)
	}
	if cfg.Origin.FollowsRedirects() {
		t.Error("Origin.FollowsRedirects() = true, want false")
	}
	if cfg.Origin.TimeoutSeconds != 30 {
		t.Errorf("Origin.TimeoutSeconds = %d, want %d", cfg.Origin.TimeoutSeconds, 30)
	}
	if cfg.Metadata.QueryParam != "id" {
		t.Errorf("Metadata.QueryParam = %q, want %q", cfg.Metadata.QueryParam, "id")
	}
	if cfg.Metadata.IDSegment != 3 {
		t.Errorf("Metadata.IDSegment = %d, want %d", cfg.Metadata.IDSegment, 3)
	}
	if cfg.Metadata.TimeoutSeconds != 5 {
		t.Errorf("Metadata.TimeoutSeconds = %d, want %d", cfg.Metadata.TimeoutSeconds, 5)
	}
	if !cfg.Rewrite.EscapeValues {
		t.Error("Rewrite.EscapeValues = false, want true")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}
}

func TestLoad_YAMLConfig(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  port: 8080
origin:
  target_url: https://origin.example.com
metadata:
  base_url: https://meta.example.com/og.json
  query_param: pid
log:
  level: warn
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 8080)
	}
	if cfg.Metadata.QueryParam != "pid" {
		t.Errorf("Metadata.QueryParam = %q, want %q", cfg.Metadata.QueryParam, "pid")
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "warn")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "config.yml", "origin: [unterminated\n")

	if _, err := Load(cliWithPath(path)); err == nil {
		t.Fatal("Load() expected error for malformed YAML, got nil")
	}
}

func TestLoad_MissingOriginURL(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[metadata]
base_url = "https://meta.example.com/og.json"
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for missing origin.target_url, got nil")
	}
	if !strings.Contains(err.Error(), "origin.target_url") {
		t.Errorf("error = %q, want mention of origin.target_url", err)
	}
}

func TestLoad_MissingMetadataURL(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[origin]
target_url = "https://origin.example.com"
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for missing metadata.base_url, got nil")
	}
	if !strings.Contains(err.Error(), "metadata.base_url") {
		t.Errorf("error = %q, want mention of metadata.base_url", err)
	}
}

func TestLoad_NonHTTPScheme(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[origin]
target_url = "ftp://origin.example.com"

[metadata]
base_url = "https://meta.example.com/og.json"
`)

	if _, err := Load(cliWithPath(path)); err == nil {
		t.Fatal("Load() expected error for ftp origin, got nil")
	}
}

func TestLoad_PlainHTTPAllowed(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[origin]
target_url = "http://127.0.0.1:8081"

[metadata]
base_url = "http://127.0.0.1:8082/og.json"
`)

	if _, err := Load(cliWithPath(path)); err != nil {
		t.Fatalf("Load() error = %v; plain http origins should be allowed", err)
	}
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	path := writeConfig(t, "config.toml", minimalTOML+`
[log]
level = "verbose"
`)

	if _, err := Load(cliWithPath(path)); err == nil {
		t.Fatal("Load() expected error for invalid log level, got nil")
	}
}

func TestLoad_InvalidLogFormat(t *testing.T) {
	path := writeConfig(t, "config.toml", minimalTOML+`
[log]
format = "xml"
`)

	if _, err := Load(cliWithPath(path)); err == nil {
		t.Fatal("Load() expected error for invalid log format, got nil")
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "config.toml", minimalTOML)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("default Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("default Server.Port = %d, want %d", cfg.Server.Port, 3000)
	}
	if cfg.Server.BodyMaxBytes != 10*1024*1024 {
		t.Errorf("default Server.BodyMaxBytes = %d, want %d", cfg.Server.BodyMaxBytes, 10*1024*1024)
	}
	if !cfg.Origin.FollowsRedirects() {
		t.Error("default Origin.FollowsRedirects() = false, want true")
	}
	if cfg.Origin.MaxResponseBytes != 20*1024*1024 {
		t.Errorf("default Origin.MaxResponseBytes = %d, want %d", cfg.Origin.MaxResponseBytes, 20*1024*1024)
	}
	if cfg.Metadata.QueryParam != "propertyId" {
		t.Errorf("default Metadata.QueryParam = %q, want %q", cfg.Metadata.QueryParam, "propertyId")
	}
	if cfg.Metadata.IDSegment != 2 {
		t.Errorf("default Metadata.IDSegment = %d, want %d", cfg.Metadata.IDSegment, 2)
	}
	if cfg.Metadata.TimeoutSeconds != 10 {
		t.Errorf("default Metadata.TimeoutSeconds = %d, want %d", cfg.Metadata.TimeoutSeconds, 10)
	}
	if cfg.Rewrite.EscapeValues {
		t.Error("default Rewrite.EscapeValues = true, want false")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("default Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("default Log.Format = %q, want %q", cfg.Log.Format, "json")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(cliWithPath("/nonexistent/config.toml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file, got nil")
	}
}

func TestLoad_CLIOnly(t *testing.T) {
	orig := configSearchPaths
	configSearchPaths = []string{"/nonexistent/config.toml"}
	defer func() { configSearchPaths = orig }()

	cfg, err := Load(&CLI{
		OriginURL:   "http://127.0.0.1:9001",
		MetadataURL: "http://127.0.0.1:9002/og.json",
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Origin.TargetURL != "http://127.0.0.1:9001" {
		t.Errorf("Origin.TargetURL = %q", cfg.Origin.TargetURL)
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want default %d", cfg.Server.Port, 3000)
	}
}

func TestLoad_CLIOnly_MissingURLs(t *testing.T) {
	orig := configSearchPaths
	configSearchPaths = []string{"/nonexistent/config.toml"}
	defer func() { configSearchPaths = orig }()

	_, err := Load(&CLI{})
	if err == nil {
		t.Fatal("Load() expected error without config file or URL flags, got nil")
	}
	if !strings.Contains(err.Error(), "no config file found") {
		t.Errorf("error = %q, want mention of missing config file", err)
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	path := writeConfig(t, "config.toml", minimalTOML+`
[server]
host = "0.0.0.0"
port = 8000

[log]
level = "info"
`)

	cli := &CLI{
		Config:      path,
		Host:        "127.0.0.1",
		Port:        3001,
		OriginURL:   "https://cli-origin.example.com",
		MetadataURL: "https://cli-meta.example.com/og.json",
		LogLevel:    "debug",
	}

	cfg, err := Load(cli)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q (CLI override)", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 3001 {
		t.Errorf("Server.Port = %d, want %d (CLI override)", cfg.Server.Port, 3001)
	}
	if cfg.Origin.TargetURL != "https://cli-origin.example.com" {
		t.Errorf("Origin.TargetURL = %q, want CLI override", cfg.Origin.TargetURL)
	}
	if cfg.Metadata.BaseURL != "https://cli-meta.example.com/og.json" {
		t.Errorf("Metadata.BaseURL = %q, want CLI override", cfg.Metadata.BaseURL)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (CLI override)", cfg.Log.Level, "debug")
	}
}

func TestLoad_NegativeValues(t *testing.T) {
	tests := []struct {
		name  string
		extra string
		field string
	}{
		{"port", "[server]\nport = -1\n", "server.port"},
		{"body_max_bytes", "[server]\nbody_max_bytes = -1\n", "server.body_max_bytes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "config.toml", minimalTOML+tt.extra)
			_, err := Load(cliWithPath(path))
			if err == nil {
				t.Fatalf("Load() expected error for negative %s, got nil", tt.field)
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error = %q, want mention of %s", err, tt.field)
			}
		})
	}
}

func TestLoad_NegativeOriginTimeout(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[origin]
target_url = "https://origin.example.com"
timeout_seconds = -5

[metadata]
base_url = "https://meta.example.com/og.json"
`)

	if _, err := Load(cliWithPath(path)); err == nil {
		t.Fatal("Load() expected error for negative origin timeout, got nil")
	}
}

func TestLoad_NegativeMetadataTimeout(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[origin]
target_url = "https://origin.example.com"

[metadata]
base_url = "https://meta.example.com/og.json"
timeout_seconds = -1
`)

	if _, err := Load(cliWithPath(path)); err == nil {
		t.Fatal("Load() expected error for negative metadata timeout, got nil")
	}
}

func TestLoad_NegativeIDSegment(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[origin]
target_url = "https://origin.example.com"

[metadata]
base_url = "https://meta.example.com/og.json"
id_segment = -2
`)

	if _, err := Load(cliWithPath(path)); err == nil {
		t.Fatal("Load() expected error for negative id_segment, got nil")
	}
}

func TestLoad_RateLimitConfig_Enabled(t *testing.T) {
	path := writeConfig(t, "config.toml", minimalTOML+`
[server.rate_limit]
enabled = true
requests_per_second = 50.0
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Server.RateLimit.Enabled {
		t.Error("expected RateLimit.Enabled = true")
	}
	if cfg.Server.RateLimit.RequestsPerSecond != 50.0 {
		t.Errorf("RateLimit.RequestsPerSecond = %v, want 50.0", cfg.Server.RateLimit.RequestsPerSecond)
	}
}

func TestLoad_RateLimitConfig_BadValue(t *testing.T) {
	path := writeConfig(t, "config.toml", minimalTOML+`
[server.rate_limit]
enabled = true
requests_per_second = 0
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for rate limit enabled with requests_per_second=0, got nil")
	}
	if !strings.Contains(err.Error(), "requests_per_second") {
		t.Errorf("error = %q, want mention of requests_per_second", err)
	}
}

func TestWarnPermissions_Loose(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	path := writeConfig(t, "config.toml", "# test")

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if !strings.Contains(buf.String(), "readable by group/others") {
		t.Errorf("expected permission warning, got: %q", buf.String())
	}
}

func TestWarnPermissions_Strict(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("# test"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if buf.Len() != 0 {
		t.Errorf("expected no warning for 0600 file, got: %q", buf.String())
	}
}

func TestFindConfigInPaths(t *testing.T) {
	path1 := writeConfig(t, "config.toml", minimalTOML)
	path2 := writeConfig(t, "config.toml", minimalTOML)

	if got := findConfigInPaths([]string{path1, path2}); got != path1 {
		t.Errorf("findConfigInPaths() = %q, want first match %q", got, path1)
	}
	if got := findConfigInPaths([]string{"/nonexistent/a.toml", path2}); got != path2 {
		t.Errorf("findConfigInPaths() = %q, want %q", got, path2)
	}
	if got := findConfigInPaths([]string{"/nonexistent/a.toml"}); got != "" {
		t.Errorf("findConfigInPaths() = %q, want empty", got)
	}
}

func TestLoad_MetricsPathDefault(t *testing.T) {
	path := writeConfig(t, "config.toml", minimalTOML+`
[metrics]
enabled = true
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}
}

func TestLoad_MetricsPathInvalid(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr string
	}{
		{"no leading slash", "metrics", "metrics.path"},
		{"root", "/", "shadow"},
		{"healthz", "/_proxy/healthz", "conflicts"},
		{"status", "/_proxy/status", "conflicts"},
		{"under status", "/_proxy/status/metrics", "conflicts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfgPath := writeConfig(t, "config.toml", minimalTOML+`
[metrics]
enabled = true
path = "`+tt.path+`"
`)

			_, err := Load(cliWithPath(cfgPath))
			if err == nil {
				t.Fatalf("Load() expected error for metrics.path=%q, got nil", tt.path)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MetricsDisabledSkipsPathValidation(t *testing.T) {
	path := writeConfig(t, "config.toml", minimalTOML+`
[metrics]
enabled = false
path = "bad-no-slash"
`)

	if _, err := Load(cliWithPath(path)); err != nil {
		t.Fatalf("Load() error = %v; disabled metrics should skip path validation", err)
	}
}

func TestServerConfig_Addr(t *testing.T) {
	sc := &ServerConfig{Host: "127.0.0.1", Port: 3000}
	want := "127.0.0.1:3000"
	if got := sc.Addr(); got != want {
		t.Errorf("Addr() = %q, want %q", got, want)
	}
}
