package worker

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gimmi17/Solanagram/internal/supervisor"
)

func writeBundle(t *testing.T, cfg supervisor.WorkerConfig, apiHash string, session []byte) string {
	t.Helper()
	dir := t.TempDir()

	raw, err := json.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, supervisor.BundleConfigFile), raw, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, supervisor.BundleSessionFile), session, 0o600))
	if apiHash != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, supervisor.BundleAPIHashFile), []byte(apiHash+"\n"), 0o600))
	}
	return dir
}

func validConfig() supervisor.WorkerConfig {
	return supervisor.WorkerConfig{
		Type:        supervisor.TypeLogger,
		UserID:      1,
		SessionID:   10,
		Phone:       "+391234567890",
		APIID:       25128314,
		ChatID:      -1001234567890,
		DatabaseDSN: "postgres://solanagram:x@db/solanagram",
	}
}

func TestLoadBundle(t *testing.T) {
	dir := writeBundle(t, validConfig(), "deadbeef", []byte("session-bytes"))

	bundle, err := LoadBundle(dir)
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", bundle.APIHash, "api hash file is trimmed")
	assert.Equal(t, []byte("session-bytes"), bundle.SessionBlob)
	assert.Equal(t, int64(-1001234567890), bundle.Config.ChatID)
}

func TestLoadBundleAPIHashFromEnv(t *testing.T) {
	dir := writeBundle(t, validConfig(), "", []byte("session-bytes"))
	t.Setenv(BundleEnvAPIHash, "beefdead")

	bundle, err := LoadBundle(dir)
	require.NoError(t, err)
	assert.Equal(t, "beefdead", bundle.APIHash)
}

func TestLoadBundleMissingFields(t *testing.T) {
	cfg := validConfig()
	cfg.DatabaseDSN = ""
	dir := writeBundle(t, cfg, "deadbeef", []byte("session-bytes"))

	_, err := LoadBundle(dir)
	assert.ErrorContains(t, err, "database_dsn")
}

func TestLoadBundleMissingSession(t *testing.T) {
	dir := t.TempDir()
	raw, err := json.Marshal(validConfig())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, supervisor.BundleConfigFile), raw, 0o600))

	_, err = LoadBundle(dir)
	assert.Error(t, err)
}
