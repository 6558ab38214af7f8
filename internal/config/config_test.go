package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetenv(t *testing.T) {
	key := "TEST_ENV_VAR_SURVEY"
	assert.Equal(t, "default_value", getenv(key, "default_value"))

	t.Setenv(key, "set_value")
	assert.Equal(t, "set_value", getenv(key, "default_value"))
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"PORT", "API_URL", "API_TIMEOUT", "REDIS_URL", "SESSION_SECRET",
		"SESSION_TTL", "COOKIE_SECURE", "PLAYBACK_TOLERANCE", "LOG_LEVEL", "DEV",
		"MOCK_PORT", "MOCK_AUDIO_DIR", "MOCK_CATALOG", "MOCK_ALLOWED_WORKERS", "MOCK_DB", "ALLOWED_ORIGINS"} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "5175", cfg.Port)
	assert.Equal(t, "http://localhost:8000", cfg.APIURL)
	assert.Equal(t, 0.35, cfg.PlaybackTolerance)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "survey.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "9000"
api_url: http://backend:8000
session_ttl: 2h
playback_tolerance: 0.5
mock:
  allowed_workers: [W1, W2]
  database: /tmp/from-file.db
`), 0o600))

	t.Setenv("API_URL", "http://override:8000")
	t.Setenv("API_TIMEOUT", "not-a-duration")
	t.Setenv("MOCK_DB", "/var/lib/mock.db")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "http://override:8000", cfg.APIURL)
	assert.Equal(t, 2*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 0.5, cfg.PlaybackTolerance)
	assert.Equal(t, 30*time.Second, cfg.APITimeout)
	assert.Equal(t, []string{"W1", "W2"}, cfg.Mock.AllowedWorkers)
	assert.Equal(t, "/var/lib/mock.db", cfg.Mock.Database)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestListsFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("MOCK_ALLOWED_WORKERS", " W1, ,W2 ")
	t.Setenv("ALLOWED_ORIGINS", "https://worker.mturk.com")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"W1", "W2"}, cfg.Mock.AllowedWorkers)
	assert.Equal(t, []string{"https://worker.mturk.com"}, cfg.AllowedOrigins)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.Validate())

	cfg.Dev = true
	assert.NoError(t, cfg.Validate())

	cfg = Default()
	cfg.SessionSecret = "s3cret"
	assert.NoError(t, cfg.Validate())

	cfg.PlaybackTolerance = 0
	assert.Error(t, cfg.Validate())
}
