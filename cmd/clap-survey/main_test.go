package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Sensify-Lab/CLAP-MTurk-Interface/internal/config"
	"github.com/Sensify-Lab/CLAP-MTurk-Interface/internal/mockapi"
	"github.com/Sensify-Lab/CLAP-MTurk-Interface/internal/session"
)

func TestHealthCommand(t *testing.T) {
	backend := httptest.NewServer(mockapi.New(mockapi.Options{}).Router())
	defer backend.Close()
	t.Setenv("API_URL", backend.URL)
	t.Setenv("LOG_LEVEL", "")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"health"})
	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, backend.URL+": ok\n", out.String())
}

func TestNewStore(t *testing.T) {
	logger = zap.NewNop()
	cfg = config.Default()
	ctx := context.Background()

	store, release, err := newStore(ctx)
	require.NoError(t, err)
	assert.IsType(t, &session.MemoryStore{}, store)
	release()

	mr := miniredis.RunT(t)
	cfg.RedisURL = "redis://" + mr.Addr()
	store, release, err = newStore(ctx)
	require.NoError(t, err)
	assert.IsType(t, &session.RedisStore{}, store)
	release()

	cfg.RedisURL = "not-a-url"
	_, _, err = newStore(ctx)
	assert.Error(t, err)
}

func TestSessionSecret(t *testing.T) {
	logger = zap.NewNop()
	cfg = config.Default()

	cfg.SessionSecret = "s3cret"
	b, err := sessionSecret()
	require.NoError(t, err)
	assert.Equal(t, []byte("s3cret"), b)

	cfg.SessionSecret = ""
	a, err := sessionSecret()
	require.NoError(t, err)
	b, err = sessionSecret()
	require.NoError(t, err)
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}

func TestNewMockAPI(t *testing.T) {
	logger = zap.NewNop()
	cfg = config.Default()
	dir := t.TempDir()
	cfg.Mock.Catalog = filepath.Join(dir, "catalog.yaml")
	cfg.Mock.Database = filepath.Join(dir, "progress.db")
	require.NoError(t, os.WriteFile(cfg.Mock.Catalog, []byte(`
songs:
  - id: s1
    file: a.mp3
    descriptions:
      gpt: Calm piano.
`), 0o600))

	handler, release, err := newMockAPI()
	require.NoError(t, err)
	defer release()

	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader("user_id=W1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/next-song?user_id=W1", nil))
	assert.JSONEq(t, `{"complete":false,"song_id":"s1","song_file":"a.mp3","descriptions":{"gpt":"Calm piano."}}`, rr.Body.String())
	assert.FileExists(t, cfg.Mock.Database)

	cfg.Mock.Catalog = filepath.Join(dir, "missing.yaml")
	_, _, err = newMockAPI()
	assert.Error(t, err)
}
