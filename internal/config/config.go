package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the settings for the chat client and the dev backend.
type Config struct {
	API      *APIConfig      `json:"api"`
	Realtime *RealtimeConfig `json:"realtime"`
	Typing   *TypingConfig   `json:"typing"`
	Cache    *CacheConfig    `json:"cache"`
	Backend  *BackendConfig  `json:"backend"`
}

// APIConfig configures the REST boundary client.
type APIConfig struct {
	BaseURL string        `json:"base_url"`
	Timeout time.Duration `json:"timeout"`
}

// RealtimeConfig configures the websocket channel and its reconnect policy.
type RealtimeConfig struct {
	URL              string        `json:"url"`
	HandshakeTimeout time.Duration `json:"handshake_timeout"`
	WriteTimeout     time.Duration `json:"write_timeout"`
	BackoffMin       time.Duration `json:"backoff_min"`
	BackoffMax       time.Duration `json:"backoff_max"`
	// FailureNoticeAfter is the number of consecutive failed reconnect
	// attempts before a single terminal-failure notification is surfaced.
	// Retrying continues regardless.
	FailureNoticeAfter int `json:"failure_notice_after"`
}

// TypingConfig configures the typing signaler debounce and lease.
type TypingConfig struct {
	Debounce time.Duration `json:"debounce"`
	// LeaseTTL bounds how long a received typing indicator stays set
	// without a refresh before it auto-clears.
	LeaseTTL time.Duration `json:"lease_ttl"`
}

// CacheConfig configures the local sqlite message cache. An empty path
// disables caching.
type CacheConfig struct {
	Path string `json:"path"`
}

// BackendConfig configures the bundled dev backend.
type BackendConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	DatabasePath string        `json:"database_path"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

// DefaultConfig returns settings that work against a local dev backend.
func DefaultConfig() *Config {
	return &Config{
		API: &APIConfig{
			BaseURL: "http://127.0.0.1:8080",
			Timeout: 15 * time.Second,
		},
		Realtime: &RealtimeConfig{
			URL:                "ws://127.0.0.1:8080/ws",
			HandshakeTimeout:   10 * time.Second,
			WriteTimeout:       5 * time.Second,
			BackoffMin:         500 * time.Millisecond,
			BackoffMax:         30 * time.Second,
			FailureNoticeAfter: 5,
		},
		Typing: &TypingConfig{
			Debounce: 400 * time.Millisecond,
			LeaseTTL: 5 * time.Second,
		},
		Cache: &CacheConfig{
			Path: "./schoolchat-cache.db",
		},
		Backend: &BackendConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			DatabasePath: "./schoolchat.db",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
	}
}

// Validate checks every section for values that would fail at runtime.
func (c *Config) Validate() error {
	if c.API == nil || c.API.BaseURL == "" {
		return fmt.Errorf("api base URL is required")
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("api timeout must be positive")
	}
	if c.Realtime == nil || c.Realtime.URL == "" {
		return fmt.Errorf("realtime URL is required")
	}
	if c.Realtime.HandshakeTimeout <= 0 {
		return fmt.Errorf("realtime handshake timeout must be positive")
	}
	if c.Realtime.WriteTimeout <= 0 {
		return fmt.Errorf("realtime write timeout must be positive")
	}
	if c.Realtime.BackoffMin <= 0 || c.Realtime.BackoffMax < c.Realtime.BackoffMin {
		return fmt.Errorf("realtime backoff bounds must satisfy 0 < min <= max")
	}
	if c.Realtime.FailureNoticeAfter <= 0 {
		return fmt.Errorf("realtime failure notice threshold must be positive")
	}
	if c.Typing == nil || c.Typing.Debounce <= 0 || c.Typing.LeaseTTL <= 0 {
		return fmt.Errorf("typing debounce and lease TTL must be positive")
	}
	if c.Cache == nil {
		return fmt.Errorf("cache configuration is required")
	}
	if c.Backend == nil {
		return fmt.Errorf("backend configuration is required")
	}
	if c.Backend.Port <= 0 || c.Backend.Port > 65535 {
		return fmt.Errorf("backend port must be between 1 and 65535")
	}
	if c.Backend.DatabasePath == "" {
		return fmt.Errorf("backend database path cannot be empty")
	}
	if c.Backend.ReadTimeout <= 0 || c.Backend.WriteTimeout <= 0 {
		return fmt.Errorf("backend timeouts must be positive")
	}
	return nil
}

// LoadFromEnv reads SCHOOLCHAT_* variables over the defaults. A .env file in
// the working directory is loaded first when present; real environment
// variables win over .env entries.
func LoadFromEnv() *Config {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	setString(&cfg.API.BaseURL, "SCHOOLCHAT_API_URL")
	setDuration(&cfg.API.Timeout, "SCHOOLCHAT_API_TIMEOUT")

	setString(&cfg.Realtime.URL, "SCHOOLCHAT_WS_URL")
	setDuration(&cfg.Realtime.HandshakeTimeout, "SCHOOLCHAT_WS_HANDSHAKE_TIMEOUT")
	setDuration(&cfg.Realtime.WriteTimeout, "SCHOOLCHAT_WS_WRITE_TIMEOUT")
	setDuration(&cfg.Realtime.BackoffMin, "SCHOOLCHAT_WS_BACKOFF_MIN")
	setDuration(&cfg.Realtime.BackoffMax, "SCHOOLCHAT_WS_BACKOFF_MAX")
	setInt(&cfg.Realtime.FailureNoticeAfter, "SCHOOLCHAT_WS_FAILURE_NOTICE_AFTER")

	setDuration(&cfg.Typing.Debounce, "SCHOOLCHAT_TYPING_DEBOUNCE")
	setDuration(&cfg.Typing.LeaseTTL, "SCHOOLCHAT_TYPING_LEASE_TTL")

	setString(&cfg.Cache.Path, "SCHOOLCHAT_CACHE_PATH")

	setString(&cfg.Backend.Host, "SCHOOLCHAT_BACKEND_HOST")
	setInt(&cfg.Backend.Port, "SCHOOLCHAT_BACKEND_PORT")
	setString(&cfg.Backend.DatabasePath, "SCHOOLCHAT_BACKEND_DATABASE_PATH")
	setDuration(&cfg.Backend.ReadTimeout, "SCHOOLCHAT_BACKEND_READ_TIMEOUT")
	setDuration(&cfg.Backend.WriteTimeout, "SCHOOLCHAT_BACKEND_WRITE_TIMEOUT")

	return cfg
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// configFile mirrors Config with string durations for JSON parsing.
type configFile struct {
	API *struct {
		BaseURL string `json:"base_url"`
		Timeout string `json:"timeout"`
	} `json:"api"`
	Realtime *struct {
		URL                string `json:"url"`
		HandshakeTimeout   string `json:"handshake_timeout"`
		WriteTimeout       string `json:"write_timeout"`
		BackoffMin         string `json:"backoff_min"`
		BackoffMax         string `json:"backoff_max"`
		FailureNoticeAfter int    `json:"failure_notice_after"`
	} `json:"realtime"`
	Typing *struct {
		Debounce string `json:"debounce"`
		LeaseTTL string `json:"lease_ttl"`
	} `json:"typing"`
	Cache *struct {
		Path string `json:"path"`
	} `json:"cache"`
	Backend *struct {
		Host         string `json:"host"`
		Port         int    `json:"port"`
		DatabasePath string `json:"database_path"`
		ReadTimeout  string `json:"read_timeout"`
		WriteTimeout string `json:"write_timeout"`
	} `json:"backend"`
}

// LoadFromFile overlays a JSON config file on top of environment settings.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file configFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg := LoadFromEnv()

	if file.API != nil {
		overlayString(&cfg.API.BaseURL, file.API.BaseURL)
		overlayDuration(&cfg.API.Timeout, file.API.Timeout)
	}
	if file.Realtime != nil {
		overlayString(&cfg.Realtime.URL, file.Realtime.URL)
		overlayDuration(&cfg.Realtime.HandshakeTimeout, file.Realtime.HandshakeTimeout)
		overlayDuration(&cfg.Realtime.WriteTimeout, file.Realtime.WriteTimeout)
		overlayDuration(&cfg.Realtime.BackoffMin, file.Realtime.BackoffMin)
		overlayDuration(&cfg.Realtime.BackoffMax, file.Realtime.BackoffMax)
		if file.Realtime.FailureNoticeAfter > 0 {
			cfg.Realtime.FailureNoticeAfter = file.Realtime.FailureNoticeAfter
		}
	}
	if file.Typing != nil {
		overlayDuration(&cfg.Typing.Debounce, file.Typing.Debounce)
		overlayDuration(&cfg.Typing.LeaseTTL, file.Typing.LeaseTTL)
	}
	if file.Cache != nil {
		overlayString(&cfg.Cache.Path, file.Cache.Path)
	}
	if file.Backend != nil {
		overlayString(&cfg.Backend.Host, file.Backend.Host)
		if file.Backend.Port > 0 {
			cfg.Backend.Port = file.Backend.Port
		}
		overlayString(&cfg.Backend.DatabasePath, file.Backend.DatabasePath)
		overlayDuration(&cfg.Backend.ReadTimeout, file.Backend.ReadTimeout)
		overlayDuration(&cfg.Backend.WriteTimeout, file.Backend.WriteTimeout)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

func overlayString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func overlayDuration(dst *time.Duration, v string) {
	if v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// Load resolves configuration with precedence: file > environment (+.env) >
// defaults. File errors fall back silently to the environment settings.
func Load(path string) *Config {
	if path != "" {
		if cfg, err := LoadFromFile(path); err == nil {
			return cfg
		}
	}
	return LoadFromEnv()
}
