package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// Environment variables holding the upstream API credentials
const (
	EnvClientID     = "TWITCH_CLIENT_ID"
	EnvClientSecret = "TWITCH_CLIENT_SECRET"
)

// Config holds all runtime configuration parameters
type Config struct {
	Seed              string   `json:"seed"`
	DBPath            string   `json:"db_path"`
	MetricsPath       string   `json:"metrics_path"`
	MetricsAddr       string   `json:"metrics_addr"`
	Budget            int      `json:"budget"`
	CheckpointEvery   int      `json:"checkpoint_every"`
	Language          string   `json:"language"`
	BroadcasterTypes  []string `json:"broadcaster_types"`
	Exclude           []string `json:"exclude"`
	FollowsTop        int      `json:"follows_top"`
	FollowersTop      int      `json:"followers_top"`
	RequestsPerSecond float64  `json:"requests_per_second"`
	RequestTimeoutMs  int      `json:"request_timeout_ms"`
	FollowCacheTTLMs  int      `json:"follow_cache_ttl_ms"`
	RandomSeed        uint64   `json:"random_seed"`
	LogLevel          string   `json:"log_level"`
	APIBaseURL        string   `json:"api_base_url"`
	AuthURL           string   `json:"auth_url"`

	// Credentials are never read from the file
	ClientID     string `json:"-"`
	ClientSecret string `json:"-"`
}

// LoadConfig reads and validates configuration from a JSON file.
// A missing file is not an error: defaults are used instead.
func LoadConfig(path string) (*Config, error) {
	var cfg Config

	file, err := os.Open(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// defaults only
	case err != nil:
		return nil, fmt.Errorf("failed to open config file: %w", err)
	default:
		defer file.Close()
		decoder := json.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	}

	cfg.ClientID = os.Getenv(EnvClientID)
	cfg.ClientSecret = os.Getenv(EnvClientSecret)

	// Apply defaults for missing values
	ApplyDefaults(&cfg)

	// Validate configuration
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// ApplyDefaults sets default values for unspecified fields
func ApplyDefaults(cfg *Config) {
	if cfg.DBPath == "" {
		cfg.DBPath = "streamers.db"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "metrics.log"
	}
	if cfg.CheckpointEvery == 0 {
		cfg.CheckpointEvery = 10
	}
	if cfg.Language == "" {
		cfg.Language = "es"
	}
	if cfg.BroadcasterTypes == nil {
		cfg.BroadcasterTypes = []string{"partner", "affiliate"}
	}
	if cfg.RequestsPerSecond == 0 {
		// Helix allows 800 points per minute for app tokens
		cfg.RequestsPerSecond = 12
	}
	if cfg.RequestTimeoutMs == 0 {
		cfg.RequestTimeoutMs = 10000
	}
	if cfg.FollowCacheTTLMs == 0 {
		cfg.FollowCacheTTLMs = int((6 * time.Hour).Milliseconds())
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api.twitch.tv/helix"
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = "https://id.twitch.tv/oauth2/token"
	}
}

// validate checks that values are sensible
func validate(cfg *Config) error {
	if cfg.Budget < 0 {
		return fmt.Errorf("budget must be >= 0 (0 means unbounded)")
	}
	if cfg.CheckpointEvery < 1 {
		return fmt.Errorf("checkpoint_every must be >= 1")
	}
	if cfg.FollowsTop < 0 || cfg.FollowersTop < 0 {
		return fmt.Errorf("follows_top and followers_top must be >= 0")
	}
	if cfg.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second must be >= 0")
	}
	if cfg.RequestTimeoutMs < 1000 {
		return fmt.Errorf("request_timeout_ms must be >= 1000")
	}
	if cfg.FollowCacheTTLMs < 0 {
		return fmt.Errorf("follow_cache_ttl_ms must be >= 0")
	}
	return nil
}

// RequireCredentials reports whether the upstream API credentials are present.
// Only commands that talk to the API need them.
func (c *Config) RequireCredentials() error {
	if c.ClientID == "" || c.ClientSecret == "" {
		return fmt.Errorf("missing credentials: set %s and %s", EnvClientID, EnvClientSecret)
	}
	return nil
}

// RequestTimeout returns the per-request timeout as a duration
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

// FollowCacheTTL returns the follow cache TTL as a duration
func (c *Config) FollowCacheTTL() time.Duration {
	return time.Duration(c.FollowCacheTTLMs) * time.Millisecond
}
