// Package config loads front end and development backend settings from the
// environment, optionally layered over a YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port              string        `yaml:"port"`
	APIURL            string        `yaml:"api_url"`
	APITimeout        time.Duration `yaml:"api_timeout"`
	RedisURL          string        `yaml:"redis_url"`
	SessionSecret     string        `yaml:"session_secret"`
	SessionTTL        time.Duration `yaml:"session_ttl"`
	CookieSecure      bool          `yaml:"cookie_secure"`
	PlaybackTolerance float64       `yaml:"playback_tolerance"`
	LogLevel          string        `yaml:"log_level"`
	Dev               bool          `yaml:"dev"`
	// AllowedOrigins are extra origins the playback websocket accepts.
	AllowedOrigins []string `yaml:"allowed_origins"`

	Mock MockConfig `yaml:"mock"`
}

// MockConfig configures the development backend.
type MockConfig struct {
	Port           string   `yaml:"port"`
	AudioDir       string   `yaml:"audio_dir"`
	Catalog        string   `yaml:"catalog"`
	AllowedWorkers []string `yaml:"allowed_workers"`
	// Database is a SQLite file for progress. Empty keeps it in memory.
	Database string `yaml:"database"`
}

func Default() Config {
	return Config{
		Port:              "5175",
		APIURL:            "http://localhost:8000",
		APITimeout:        30 * time.Second,
		SessionTTL:        24 * time.Hour,
		PlaybackTolerance: 0.35,
		LogLevel:          "info",
		Mock: MockConfig{
			Port:     "8000",
			AudioDir: "static/audio",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// any), then environment variables.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Port = getenv("PORT", cfg.Port)
	cfg.APIURL = getenv("API_URL", cfg.APIURL)
	cfg.APITimeout = getenvDuration("API_TIMEOUT", cfg.APITimeout)
	cfg.RedisURL = getenv("REDIS_URL", cfg.RedisURL)
	cfg.SessionSecret = getenv("SESSION_SECRET", cfg.SessionSecret)
	cfg.SessionTTL = getenvDuration("SESSION_TTL", cfg.SessionTTL)
	cfg.CookieSecure = getenvBool("COOKIE_SECURE", cfg.CookieSecure)
	cfg.PlaybackTolerance = getenvFloat("PLAYBACK_TOLERANCE", cfg.PlaybackTolerance)
	cfg.LogLevel = getenv("LOG_LEVEL", cfg.LogLevel)
	cfg.Dev = getenvBool("DEV", cfg.Dev)
	if raw := getenv("ALLOWED_ORIGINS", ""); raw != "" {
		cfg.AllowedOrigins = splitList(raw)
	}

	cfg.Mock.Port = getenv("MOCK_PORT", cfg.Mock.Port)
	cfg.Mock.AudioDir = getenv("MOCK_AUDIO_DIR", cfg.Mock.AudioDir)
	cfg.Mock.Catalog = getenv("MOCK_CATALOG", cfg.Mock.Catalog)
	cfg.Mock.Database = getenv("MOCK_DB", cfg.Mock.Database)
	if raw := getenv("MOCK_ALLOWED_WORKERS", ""); raw != "" {
		cfg.Mock.AllowedWorkers = splitList(raw)
	}
}

// Validate checks the settings the front end cannot run without. A missing
// session secret is tolerated only in dev mode.
func (c Config) Validate() error {
	if c.SessionSecret == "" && !c.Dev {
		return errors.New("config: SESSION_SECRET is empty, cannot sign worker sessions")
	}
	if c.PlaybackTolerance <= 0 {
		return errors.New("config: PLAYBACK_TOLERANCE must be positive")
	}
	if c.SessionTTL <= 0 {
		return errors.New("config: SESSION_TTL must be positive")
	}
	return nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvDuration(k string, def time.Duration) time.Duration {
	raw := getenv(k, "")
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func getenvFloat(k string, def float64) float64 {
	raw := getenv(k, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func getenvBool(k string, def bool) bool {
	raw := getenv(k, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
