package sessionstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeMonkeyCybersecurity/oastengine/internal/config"
	"github.com/CodeMonkeyCybersecurity/oastengine/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	cfg := config.SessionStoreConfig{
		Backend:  "bbolt",
		BoltPath: filepath.Join(t.TempDir(), "sessions.db"),
	}

	store, err := Open(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	_, err := Open(config.SessionStoreConfig{Backend: "carrier-pigeon"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errUnknownBackend)
}

func TestLoadOrGenerateKeypairGeneratesOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	calls := 0
	generate := func() (types.RSAKeypair, error) {
		calls++
		return types.RSAKeypair{N: "123", E: 65537, D: "456", P: "7", Q: "8"}, nil
	}

	kp1, err := store.LoadOrGenerateKeypair(ctx, generate)
	require.NoError(t, err)
	assert.Equal(t, "123", kp1.N)
	assert.Equal(t, 1, calls)

	kp2, err := store.LoadOrGenerateKeypair(ctx, generate)
	require.NoError(t, err)
	assert.Equal(t, kp1, kp2)
	assert.Equal(t, 1, calls, "second load must reuse the persisted keypair, not regenerate")
}

func TestSaveAndLoadSessions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sessions := []types.ClientSession{
		{ServerURL: "https://oast.fun", CorrelationID: "abc", SecretKey: "sec1"},
		{ServerURL: "https://oast.pro", CorrelationID: "def", SecretKey: "sec2"},
	}

	for _, s := range sessions {
		require.NoError(t, store.SaveSession(ctx, s))
	}

	loaded, err := store.LoadSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, loaded, 2)

	byServer := make(map[string]types.ClientSession)
	for _, s := range loaded {
		byServer[s.ServerURL] = s
	}
	assert.Equal(t, "abc", byServer["https://oast.fun"].CorrelationID)
	assert.Equal(t, "sec2", byServer["https://oast.pro"].SecretKey)
}

func TestDeleteSessionRemovesOnlyOne(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveSession(ctx, types.ClientSession{ServerURL: "https://oast.fun"}))
	require.NoError(t, store.SaveSession(ctx, types.ClientSession{ServerURL: "https://oast.pro"}))

	require.NoError(t, store.DeleteSession(ctx, "https://oast.fun"))

	loaded, err := store.LoadSessions(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "https://oast.pro", loaded[0].ServerURL)
}

func TestClearSessionsRemovesAll(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveSession(ctx, types.ClientSession{ServerURL: "https://oast.fun"}))
	require.NoError(t, store.SaveSession(ctx, types.ClientSession{ServerURL: "https://oast.pro"}))

	require.NoError(t, store.ClearSessions(ctx))

	loaded, err := store.LoadSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestClearSessionsLeavesKeypairIntact(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	generate := func() (types.RSAKeypair, error) {
		return types.RSAKeypair{N: "999", E: 65537}, nil
	}
	_, err := store.LoadOrGenerateKeypair(ctx, generate)
	require.NoError(t, err)

	require.NoError(t, store.SaveSession(ctx, types.ClientSession{ServerURL: "https://oast.fun"}))
	require.NoError(t, store.ClearSessions(ctx))

	calls := 0
	kp, err := store.LoadOrGenerateKeypair(ctx, func() (types.RSAKeypair, error) {
		calls++
		return types.RSAKeypair{}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "999", kp.N)
	assert.Equal(t, 0, calls, "keypair must survive ClearSessions")
}

func TestLoadSessionsSkipsCorruptedRecordWithoutFailing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveSession(ctx, types.ClientSession{ServerURL: "https://oast.fun"}))

	// Directly corrupt the second record's bytes in the backend.
	require.NoError(t, store.backend.put(ctx, sessionKey("https://oast.pro"), []byte("not valid ciphertext")))

	loaded, err := store.LoadSessions(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "https://oast.fun", loaded[0].ServerURL)
}

func TestOpenReusesSameKeyAcrossRestarts(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sessions.db")
	cfg := config.SessionStoreConfig{Backend: "bbolt", BoltPath: dbPath}

	store1, err := Open(cfg, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store1.SaveSession(ctx, types.ClientSession{ServerURL: "https://oast.fun", CorrelationID: "persisted"}))
	require.NoError(t, store1.Close())

	store2, err := Open(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store2.Close() })

	loaded, err := store2.LoadSessions(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "persisted", loaded[0].CorrelationID)
}

func TestEncryptAtRestRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}

	ciphertext, err := encryptAtRest([]byte("hello session"), key)
	require.NoError(t, err)
	assert.NotContains(t, string(ciphertext), "hello session")

	plaintext, err := decryptAtRest(ciphertext, key)
	require.NoError(t, err)
	assert.Equal(t, "hello session", string(plaintext))
}

func TestDecryptAtRestTamperedCiphertextFails(t *testing.T) {
	key := make([]byte, 32)

	ciphertext, err := encryptAtRest([]byte("hello"), key)
	require.NoError(t, err)
	ciphertext[len(ciphertext)-1] ^= 0xFF

	_, err = decryptAtRest(ciphertext, key)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorrupted)
}
