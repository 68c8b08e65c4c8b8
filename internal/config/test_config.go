package config

import "time"

// TestConfig returns a config suitable for testing
func TestConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Backend: "bolt",
			Path:    ":memory:",
			Timeout: 1 * time.Second,
		},
		Feed: FeedConfig{
			HTTPTimeout:     5 * time.Second,
			RefreshInterval: 1 * time.Minute,
			UserAgent:       "feedsync-test/1.0",
			MaxConcurrent:   4,
			AllowLocal:      true,
		},
		Log: LogConfig{
			Level: "off",
		},
	}
}
