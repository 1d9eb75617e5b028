package credentials

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeMonkeyCybersecurity/oastengine/internal/config"
	"github.com/CodeMonkeyCybersecurity/oastengine/internal/logger"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	log, err := logger.New(config.LoggerConfig{Level: "error", Format: "console"})
	require.NoError(t, err)
	return &Manager{configDir: t.TempDir(), logger: log}
}

func TestLoadWithoutSavedTokenReturnsEmpty(t *testing.T) {
	m := newTestManager(t)
	token, err := m.Load()
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Save("super-secret-token"))

	token, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, "super-secret-token", token)
}

func TestTokenFileIsEncryptedAtRest(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Save("super-secret-token"))

	raw, err := os.ReadFile(filepath.Join(m.configDir, "token.enc"))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "super-secret-token")
}

func TestSaveReusesExistingKey(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Save("first"))
	key1, err := os.ReadFile(filepath.Join(m.configDir, ".key"))
	require.NoError(t, err)

	require.NoError(t, m.Save("second"))
	key2, err := os.ReadFile(filepath.Join(m.configDir, ".key"))
	require.NoError(t, err)

	assert.Equal(t, key1, key2)

	token, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, "second", token)
}
