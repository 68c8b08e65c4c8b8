package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/pders01/feedsync/internal/validation"
)

type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Log      LogConfig      `mapstructure:"log"`
}

type DatabaseConfig struct {
	// Backend is "bolt" or "sqlite".
	Backend string        `mapstructure:"backend"`
	Path    string        `mapstructure:"path"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type FeedConfig struct {
	HTTPTimeout     time.Duration `mapstructure:"http_timeout"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	// HostInterval spaces requests to the same host. Zero disables it.
	HostInterval  time.Duration `mapstructure:"host_interval"`
	UserAgent     string        `mapstructure:"user_agent"`
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	// Sources is the path of feeds.yaml. Empty means search the default locations.
	Sources    string `mapstructure:"sources"`
	AllowLocal bool   `mapstructure:"allow_local"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Backend: "bolt",
			Path:    filepath.Join(dataDir(), "feedsync.db"),
			Timeout: 1 * time.Second,
		},
		Feed: FeedConfig{
			HTTPTimeout:     30 * time.Second,
			RefreshInterval: time.Hour,
			HostInterval:    500 * time.Millisecond,
			UserAgent:       "feedsync/1.0 (https://github.com/pders01/feedsync)",
			MaxConcurrent:   8,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

func dataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "feedsync")
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".local", "share", "feedsync")
}

func configDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "feedsync")
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".config", "feedsync")
}

// DefaultPath is where the config file is looked up when none is given.
func DefaultPath() string {
	return filepath.Join(configDir(), "config.toml")
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	cfg := defaultConfig()
	v.SetDefault("database.backend", cfg.Database.Backend)
	v.SetDefault("database.path", cfg.Database.Path)
	v.SetDefault("database.timeout", cfg.Database.Timeout)
	v.SetDefault("feed.http_timeout", cfg.Feed.HTTPTimeout)
	v.SetDefault("feed.refresh_interval", cfg.Feed.RefreshInterval)
	v.SetDefault("feed.host_interval", cfg.Feed.HostInterval)
	v.SetDefault("feed.user_agent", cfg.Feed.UserAgent)
	v.SetDefault("feed.max_concurrent", cfg.Feed.MaxConcurrent)
	v.SetDefault("feed.sources", cfg.Feed.Sources)
	v.SetDefault("feed.allow_local", cfg.Feed.AllowLocal)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.file", cfg.Log.File)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("FEEDSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := expandPaths(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Backend {
	case "bolt", "sqlite":
	default:
		return fmt.Errorf("database.backend must be bolt or sqlite, got %q", c.Database.Backend)
	}
	if c.Database.Path == "" {
		return errors.New("database.path must be set")
	}
	if c.Feed.MaxConcurrent < 1 {
		return fmt.Errorf("feed.max_concurrent must be positive, got %d", c.Feed.MaxConcurrent)
	}
	if c.Feed.HTTPTimeout <= 0 {
		return fmt.Errorf("feed.http_timeout must be positive, got %s", c.Feed.HTTPTimeout)
	}
	return nil
}

func expandPaths(cfg *Config) error {
	for _, p := range []*string{&cfg.Database.Path, &cfg.Feed.Sources, &cfg.Log.File} {
		expanded, err := validation.ExpandPath(*p)
		if err != nil {
			return err
		}
		*p = expanded
	}
	return nil
}

func Save(config *Config, path string) error {
	v := viper.New()

	// Durations as strings for TOML readability
	v.Set("database", map[string]interface{}{
		"backend": config.Database.Backend,
		"path":    config.Database.Path,
		"timeout": config.Database.Timeout.String(),
	})
	v.Set("feed", map[string]interface{}{
		"http_timeout":     config.Feed.HTTPTimeout.String(),
		"refresh_interval": config.Feed.RefreshInterval.String(),
		"host_interval":    config.Feed.HostInterval.String(),
		"user_agent":       config.Feed.UserAgent,
		"max_concurrent":   config.Feed.MaxConcurrent,
		"sources":          config.Feed.Sources,
		"allow_local":      config.Feed.AllowLocal,
	})
	v.Set("log", map[string]interface{}{
		"level": config.Log.Level,
		"file":  config.Log.File,
	})

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	return v.WriteConfigAs(path)
}

func GenerateDefaultConfig(path string) error {
	return Save(defaultConfig(), path)
}
