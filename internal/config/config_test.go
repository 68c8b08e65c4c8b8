package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
)

func TestDefaultConfig(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/data")
	cfg := defaultConfig()

	if cfg.Database.Backend != "bolt" {
		t.Errorf("Database.Backend = %s, want bolt", cfg.Database.Backend)
	}
	if cfg.Database.Path != "/data/feedsync/feedsync.db" {
		t.Errorf("Database.Path = %s, want /data/feedsync/feedsync.db", cfg.Database.Path)
	}
	if cfg.Database.Timeout != 1*time.Second {
		t.Errorf("Database.Timeout = %v, want 1s", cfg.Database.Timeout)
	}
	if cfg.Feed.HTTPTimeout != 30*time.Second {
		t.Errorf("Feed.HTTPTimeout = %v, want 30s", cfg.Feed.HTTPTimeout)
	}
	if cfg.Feed.RefreshInterval != time.Hour {
		t.Errorf("Feed.RefreshInterval = %v, want 1h", cfg.Feed.RefreshInterval)
	}
	if cfg.Feed.MaxConcurrent != 8 {
		t.Errorf("Feed.MaxConcurrent = %d, want 8", cfg.Feed.MaxConcurrent)
	}
	if cfg.Feed.UserAgent == "" {
		t.Error("Feed.UserAgent should not be empty")
	}
	if cfg.Feed.AllowLocal {
		t.Error("Feed.AllowLocal should default to false")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
}

func TestLoad_DefaultConfig(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Feed.RefreshInterval != time.Hour {
		t.Errorf("Feed.RefreshInterval = %v, want 1h", cfg.Feed.RefreshInterval)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %s, want info", cfg.Log.Level)
	}
}

func TestLoad_FromFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "test-config.toml")
	configContent := `
[database]
backend = "sqlite"
path = "/tmp/test.db"
timeout = "10s"

[feed]
http_timeout = "60s"
refresh_interval = "15m"
host_interval = "0s"
user_agent = "test-agent"
max_concurrent = 2
allow_local = true

[log]
level = "debug"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Backend != "sqlite" {
		t.Errorf("Database.Backend = %s, want sqlite", cfg.Database.Backend)
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %s, want '/tmp/test.db'", cfg.Database.Path)
	}
	if cfg.Database.Timeout != 10*time.Second {
		t.Errorf("Database.Timeout = %v, want 10s", cfg.Database.Timeout)
	}
	if cfg.Feed.HTTPTimeout != 60*time.Second {
		t.Errorf("Feed.HTTPTimeout = %v, want 60s", cfg.Feed.HTTPTimeout)
	}
	if cfg.Feed.RefreshInterval != 15*time.Minute {
		t.Errorf("Feed.RefreshInterval = %v, want 15m", cfg.Feed.RefreshInterval)
	}
	if cfg.Feed.HostInterval != 0 {
		t.Errorf("Feed.HostInterval = %v, want 0", cfg.Feed.HostInterval)
	}
	if cfg.Feed.UserAgent != "test-agent" {
		t.Errorf("Feed.UserAgent = %s, want 'test-agent'", cfg.Feed.UserAgent)
	}
	if cfg.Feed.MaxConcurrent != 2 {
		t.Errorf("Feed.MaxConcurrent = %d, want 2", cfg.Feed.MaxConcurrent)
	}
	if !cfg.Feed.AllowLocal {
		t.Error("Feed.AllowLocal = false, want true")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %s, want debug", cfg.Log.Level)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(configPath, []byte("[feed]\nmax_concurrent = 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FEEDSYNC_FEED_MAX_CONCURRENT", "5")
	t.Setenv("FEEDSYNC_DATABASE_BACKEND", "sqlite")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Feed.MaxConcurrent != 5 {
		t.Errorf("Feed.MaxConcurrent = %d, want 5 from environment", cfg.Feed.MaxConcurrent)
	}
	if cfg.Database.Backend != "sqlite" {
		t.Errorf("Database.Backend = %s, want sqlite from environment", cfg.Database.Backend)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"unknown backend", "[database]\nbackend = \"postgres\"\n", "database.backend"},
		{"zero concurrency", "[feed]\nmax_concurrent = 0\n", "feed.max_concurrent"},
		{"negative timeout", "[feed]\nhttp_timeout = \"-1s\"\n", "feed.http_timeout"},
		{"malformed toml", "[feed\n", "reading config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(t.TempDir(), "config.toml")
			if err := os.WriteFile(configPath, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			_, err := Load(configPath)
			if err == nil {
				t.Fatal("Load() succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_ExpandsPaths(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	configPath := filepath.Join(t.TempDir(), "config.toml")
	content := "[database]\npath = \"~/feeds.db\"\n\n[log]\nfile = \"logs/feedsync.log\"\n"
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Path != filepath.Join(home, "feeds.db") {
		t.Errorf("Database.Path = %s, want it under %s", cfg.Database.Path, home)
	}
	if !filepath.IsAbs(cfg.Log.File) {
		t.Errorf("Log.File = %s, want absolute", cfg.Log.File)
	}

	if err := os.WriteFile(configPath, []byte("[database]\npath = \"~other/feeds.db\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(configPath); err == nil {
		t.Error("Load() accepted ~other/ path")
	}
}

func TestSave(t *testing.T) {
	cfg := &Config{
		Database: DatabaseConfig{
			Backend: "sqlite",
			Path:    "/test/path.db",
			Timeout: 10 * time.Second,
		},
		Feed: FeedConfig{
			HTTPTimeout:     45 * time.Second,
			RefreshInterval: 20 * time.Minute,
			HostInterval:    time.Second,
			UserAgent:       "test-save-agent",
			MaxConcurrent:   3,
		},
		Log: LogConfig{Level: "warn"},
	}

	savePath := filepath.Join(t.TempDir(), "nested", "saved-config.toml")
	if err := Save(cfg, savePath); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	data, err := os.ReadFile(savePath)
	if err != nil {
		t.Fatalf("Save() did not create config file: %v", err)
	}
	var raw map[string]map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		t.Fatalf("saved config is not valid TOML: %v", err)
	}
	if got := raw["feed"]["http_timeout"]; got != "45s" {
		t.Errorf("feed.http_timeout written as %v, want \"45s\"", got)
	}

	loaded, err := Load(savePath)
	if err != nil {
		t.Fatalf("Failed to load saved config: %v", err)
	}
	if loaded.Database.Path != cfg.Database.Path {
		t.Errorf("Loaded Database.Path = %s, want %s", loaded.Database.Path, cfg.Database.Path)
	}
	if loaded.Feed.HostInterval != cfg.Feed.HostInterval {
		t.Errorf("Loaded Feed.HostInterval = %v, want %v", loaded.Feed.HostInterval, cfg.Feed.HostInterval)
	}
	if loaded.Feed.MaxConcurrent != cfg.Feed.MaxConcurrent {
		t.Errorf("Loaded Feed.MaxConcurrent = %d, want %d", loaded.Feed.MaxConcurrent, cfg.Feed.MaxConcurrent)
	}
	if loaded.Log.Level != "warn" {
		t.Errorf("Loaded Log.Level = %s, want warn", loaded.Log.Level)
	}
}

func TestGenerateDefaultConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "generated.toml")
	if err := GenerateDefaultConfig(configPath); err != nil {
		t.Fatalf("GenerateDefaultConfig() error = %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load generated config: %v", err)
	}
	want := defaultConfig()
	if cfg.Feed.RefreshInterval != want.Feed.RefreshInterval {
		t.Errorf("Generated Feed.RefreshInterval = %v, want %v", cfg.Feed.RefreshInterval, want.Feed.RefreshInterval)
	}
	if cfg.Feed.UserAgent != want.Feed.UserAgent {
		t.Errorf("Generated Feed.UserAgent = %s, want %s", cfg.Feed.UserAgent, want.Feed.UserAgent)
	}
}

func TestTestConfig(t *testing.T) {
	cfg := TestConfig()

	if cfg.Database.Path != ":memory:" {
		t.Errorf("TestConfig Database.Path = %s, want ':memory:'", cfg.Database.Path)
	}
	if cfg.Feed.UserAgent != "feedsync-test/1.0" {
		t.Errorf("TestConfig Feed.UserAgent = %s, want 'feedsync-test/1.0'", cfg.Feed.UserAgent)
	}
	if !cfg.Feed.AllowLocal {
		t.Error("TestConfig should allow local feeds")
	}
	if cfg.Feed.HostInterval != 0 {
		t.Errorf("TestConfig Feed.HostInterval = %v, want 0", cfg.Feed.HostInterval)
	}
}
