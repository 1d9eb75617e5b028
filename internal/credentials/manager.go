// Package credentials stores the engine's optional Interactsh auth
// token encrypted at rest under the user's home directory, so a host
// CLI never needs the token in a plaintext config file or repeated on
// every invocation.
package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/crypto/ssh/terminal"

	"github.com/CodeMonkeyCybersecurity/oastengine/internal/logger"
)

// Manager reads and writes the encrypted token file.
type Manager struct {
	configDir string
	logger    *logger.Logger
}

// NewManager creates the manager, ensuring its config directory exists.
func NewManager(log *logger.Logger) (*Manager, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home directory: %w", err)
	}

	configDir := filepath.Join(homeDir, ".oastengine")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return nil, fmt.Errorf("create config directory: %w", err)
	}

	return &Manager{configDir: configDir, logger: log}, nil
}

// Load decrypts and returns the stored token, or "" if none has been
// saved yet.
func (m *Manager) Load() (string, error) {
	tokenFile := filepath.Join(m.configDir, "token.enc")

	encrypted, err := os.ReadFile(tokenFile)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read token file: %w", err)
	}

	key, err := m.getOrCreateKey()
	if err != nil {
		return "", fmt.Errorf("get decryption key: %w", err)
	}

	decrypted, err := decrypt(encrypted, key)
	if err != nil {
		return "", fmt.Errorf("decrypt token: %w", err)
	}
	return string(decrypted), nil
}

// Save encrypts and persists token.
func (m *Manager) Save(token string) error {
	key, err := m.getOrCreateKey()
	if err != nil {
		return fmt.Errorf("get encryption key: %w", err)
	}

	encrypted, err := encrypt([]byte(token), key)
	if err != nil {
		return fmt.Errorf("encrypt token: %w", err)
	}

	tokenFile := filepath.Join(m.configDir, "token.enc")
	if err := os.WriteFile(tokenFile, encrypted, 0600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	return nil
}

// CheckAndPromptForToken loads the stored token, or — in an
// interactive terminal with none stored — prompts for one and saves
// it. Returns "" without error in a non-interactive session so CI and
// scripted runs never block on stdin.
func (m *Manager) CheckAndPromptForToken() (string, error) {
	token, err := m.Load()
	if err != nil {
		m.logger.Warnw("failed to load stored auth token", "error", err)
	}
	if token != "" {
		m.logger.Debug("using stored auth token")
		return token, nil
	}

	if !isInteractive() {
		m.logger.Debug("non-interactive session, skipping auth token prompt")
		return "", nil
	}
	if os.Getenv("OASTENGINE_SKIP_PROMPTS") == "true" {
		m.logger.Debug("OASTENGINE_SKIP_PROMPTS set, skipping auth token prompt")
		return "", nil
	}

	fmt.Print("Interactsh server auth token (leave blank if none): ")
	entered, err := readLine()
	if err != nil {
		return "", fmt.Errorf("read auth token: %w", err)
	}
	entered = strings.TrimSpace(entered)
	if entered == "" {
		return "", nil
	}

	if err := m.Save(entered); err != nil {
		return "", fmt.Errorf("save auth token: %w", err)
	}
	m.logger.Info("auth token saved securely")
	return entered, nil
}

func (m *Manager) getOrCreateKey() ([]byte, error) {
	keyFile := filepath.Join(m.configDir, ".key")

	if keyData, err := os.ReadFile(keyFile); err == nil {
		if key, err := base64.StdEncoding.DecodeString(string(keyData)); err == nil && len(key) == 32 {
			return key, nil
		}
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(key)
	if err := os.WriteFile(keyFile, []byte(encoded), 0600); err != nil {
		return nil, fmt.Errorf("save key: %w", err)
	}
	return key, nil
}

func isInteractive() bool {
	fi, _ := os.Stdin.Stat()
	return fi.Mode()&os.ModeCharDevice != 0
}

// readLine reads the token without echo when stdin is a terminal, and
// falls back to a plain line read otherwise (piped input in tests).
func readLine() (string, error) {
	if terminal.IsTerminal(int(syscall.Stdin)) {
		b, err := terminal.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		return string(b), err
	}
	var line string
	_, err := fmt.Scanln(&line)
	if err != nil && err.Error() != "unexpected newline" {
		return "", err
	}
	return line, nil
}

func encrypt(plaintext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decrypt(ciphertext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	return gcm.Open(nil, nonce, ciphertext, nil)
}
