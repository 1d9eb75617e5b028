package sessionstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/pbkdf2"
)

const sessionStoreSalt = "oastengine-sessionstore-salt-v1"

// deriveKeyFromPassphrase derives a 32-byte AES-256 key from an
// operator-supplied passphrase. Same construction as this org's
// credential manager: fixed salt, 100k PBKDF2 rounds, SHA-256.
func deriveKeyFromPassphrase(passphrase string) []byte {
	return pbkdf2.Key([]byte(passphrase), []byte(sessionStoreSalt), 100000, 32, sha256.New)
}

// loadOrCreateFileKey reads a base64-free raw 32-byte key from keyPath,
// generating and persisting one (mode 0600) if none exists yet.
func loadOrCreateFileKey(keyPath string) ([]byte, error) {
	if data, err := os.ReadFile(keyPath); err == nil && len(data) == 32 {
		return data, nil
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate session store key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
		return nil, fmt.Errorf("create session store key directory: %w", err)
	}

	if err := os.WriteFile(keyPath, key, 0600); err != nil {
		return nil, fmt.Errorf("write session store key: %w", err)
	}

	return key, nil
}

// encryptAtRest seals plaintext with AES-256-GCM, a fresh random nonce
// prepended to the ciphertext. This is a different mode and purpose
// than the RSA-OAEP/AES-CFB wire decryption in oastcrypto: this one is
// local-storage-at-rest, authenticated, nonce-per-write.
func encryptAtRest(plaintext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// decryptAtRest is the inverse of encryptAtRest. It returns ErrCorrupted
// (never a raw crypto error) so callers can fall through to "nothing
// persisted" instead of failing startup.
func decryptAtRest(ciphertext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("%w: ciphertext shorter than nonce", ErrCorrupted)
	}

	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}

	return plaintext, nil
}
