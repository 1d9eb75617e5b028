// Package sessionstore persists the process-wide RSA keypair and every
// live client's protocol credentials across restarts, encrypted at
// rest, behind an embedded bbolt database or a shared Redis.
package sessionstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/CodeMonkeyCybersecurity/oastengine/internal/config"
	"github.com/CodeMonkeyCybersecurity/oastengine/internal/logger"
	"github.com/CodeMonkeyCybersecurity/oastengine/pkg/types"
)

const (
	keypairKey    = "keypair"
	sessionPrefix = "session:"
)

// Store is the persistence layer for RSAKeypair and ClientSession
// records. All values are JSON-marshaled then AES-256-GCM sealed
// before reaching the backend; the backend itself never sees
// plaintext.
type Store struct {
	backend backend
	key     []byte
	log     *logger.Logger
}

// Open constructs a Store from configuration, selecting the bbolt or
// redis backend per cfg.Backend. The encryption key is derived from
// cfg.Passphrase via PBKDF2 when set, or generated once and persisted
// 0600 alongside the bbolt file (as oastengine-sessionstore.key in the
// working directory when BoltPath is empty) when not — mirroring this
// org's credential manager.
func Open(cfg config.SessionStoreConfig, log *logger.Logger) (*Store, error) {
	var b backend
	var err error

	switch cfg.Backend {
	case "bbolt", "":
		b, err = newBboltBackend(cfg.BoltPath)
	case "redis":
		timeout := cfg.RedisTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		b, err = newRedisBackend(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, timeout)
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownBackend, cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	var key []byte
	if cfg.Passphrase != "" {
		key = deriveKeyFromPassphrase(cfg.Passphrase)
	} else {
		keyPath := cfg.BoltPath + ".key"
		if keyPath == ".key" {
			keyPath = "oastengine-sessionstore.key"
		}
		key, err = loadOrCreateFileKey(keyPath)
		if err != nil {
			b.close()
			return nil, err
		}
	}

	return &Store{backend: b, key: key, log: log}, nil
}

// Close releases the underlying backend's resources.
func (s *Store) Close() error {
	return s.backend.close()
}

func (s *Store) put(ctx context.Context, key string, v interface{}) error {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}

	ciphertext, err := encryptAtRest(plaintext, s.key)
	if err != nil {
		return fmt.Errorf("encrypt %s: %w", key, err)
	}

	return s.backend.put(ctx, key, ciphertext)
}

func (s *Store) getInto(ctx context.Context, key string, v interface{}) error {
	ciphertext, err := s.backend.get(ctx, key)
	if err != nil {
		return err
	}

	plaintext, err := decryptAtRest(ciphertext, s.key)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(plaintext, v); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupted, err)
	}

	return nil
}

// LoadOrGenerateKeypair returns the persisted RSA keypair, generating
// and persisting a fresh one through core if none exists or the stored
// record is corrupted. A corrupted store never blocks startup: it is
// treated the same as "nothing persisted yet".
func (s *Store) LoadOrGenerateKeypair(ctx context.Context, generate func() (types.RSAKeypair, error)) (types.RSAKeypair, error) {
	start := time.Now()

	var kp types.RSAKeypair
	err := s.getInto(ctx, keypairKey, &kp)
	switch {
	case err == nil:
		s.logStore(ctx, "load_keypair", 1, start)
		return kp, nil
	case err == ErrNotFound:
		// fall through to generate
	default:
		if s.log != nil {
			s.log.Warnw("stored keypair unreadable, generating a new one", "error", err)
		}
	}

	kp, err = generate()
	if err != nil {
		return types.RSAKeypair{}, fmt.Errorf("generate keypair: %w", err)
	}

	if err := s.put(ctx, keypairKey, kp); err != nil {
		return types.RSAKeypair{}, fmt.Errorf("persist generated keypair: %w", err)
	}

	s.logStore(ctx, "generate_keypair", 1, start)
	return kp, nil
}

// SaveSession persists a ClientSession, keyed by its ServerURL.
func (s *Store) SaveSession(ctx context.Context, session types.ClientSession) error {
	start := time.Now()

	if err := s.put(ctx, sessionKey(session.ServerURL), session); err != nil {
		return fmt.Errorf("save session for %s: %w", session.ServerURL, err)
	}

	s.logStore(ctx, "save_session", 1, start)
	return nil
}

// LoadSessions returns every persisted ClientSession. Records that fail
// to decrypt or unmarshal are skipped and logged rather than failing
// the whole load — one corrupted session must not block every other
// server's session from resuming.
func (s *Store) LoadSessions(ctx context.Context) ([]types.ClientSession, error) {
	start := time.Now()

	var sessions []types.ClientSession

	err := s.backend.forEachPrefix(ctx, sessionPrefix, func(key string, value []byte) error {
		plaintext, err := decryptAtRest(value, s.key)
		if err != nil {
			if s.log != nil {
				s.log.Warnw("skipping corrupted session record", "key", key, "error", err)
			}
			return nil
		}

		var session types.ClientSession
		if err := json.Unmarshal(plaintext, &session); err != nil {
			if s.log != nil {
				s.log.Warnw("skipping unparseable session record", "key", key, "error", err)
			}
			return nil
		}

		sessions = append(sessions, session)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}

	s.logStore(ctx, "load_sessions", int64(len(sessions)), start)
	return sessions, nil
}

// DeleteSession removes the persisted session for a single server.
func (s *Store) DeleteSession(ctx context.Context, serverURL string) error {
	start := time.Now()

	if err := s.backend.delete(ctx, sessionKey(serverURL)); err != nil {
		return fmt.Errorf("delete session for %s: %w", serverURL, err)
	}

	s.logStore(ctx, "delete_session", 1, start)
	return nil
}

// ClearSessions removes every persisted ClientSession, leaving the
// keypair untouched.
func (s *Store) ClearSessions(ctx context.Context) error {
	start := time.Now()

	sessions, err := s.LoadSessions(ctx)
	if err != nil {
		return err
	}

	for _, session := range sessions {
		if err := s.backend.delete(ctx, sessionKey(session.ServerURL)); err != nil {
			return fmt.Errorf("clear session for %s: %w", session.ServerURL, err)
		}
	}

	s.logStore(ctx, "clear_sessions", int64(len(sessions)), start)
	return nil
}

func sessionKey(serverURL string) string {
	return sessionPrefix + strings.ToLower(serverURL)
}

func (s *Store) logStore(ctx context.Context, operation string, rows int64, start time.Time) {
	if s.log == nil {
		return
	}
	s.log.LogStoreOperation(ctx, operation, "sessionstore", rows, time.Since(start))
}
