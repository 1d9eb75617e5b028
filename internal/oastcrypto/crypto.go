// Package oastcrypto provides the hybrid RSA-OAEP + AES-256-CFB
// decryption pipeline the Interactsh v1 wire protocol requires, plus
// the PEM/SPKI public-key export quirk and CSPRNG identifier generation
// every Protocol Client depends on.
package oastcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"math/big"
	"sync"
	"unicode/utf8"

	"github.com/CodeMonkeyCybersecurity/oastengine/pkg/types"
)

const (
	rsaKeyBits   = 2048
	rsaPublicExp = 65537
	aesKeySize   = 32

	lettersAlphabet       = "abcdefghijklmnopqrstuvwxyz"
	lettersDigitsAlphabet = lettersAlphabet + "0123456789"
)

// Core holds the process-wide RSA keypair and implements the hybrid
// decryption primitives. It is safe for concurrent use by every
// Protocol Client; the keypair is read-only once initialized.
type Core struct {
	mu   sync.RWMutex
	priv *rsa.PrivateKey
}

// New returns an uninitialized Core. Call InitializeKeys or LoadKeypair
// before using any decrypt/export operation.
func New() *Core {
	return &Core{}
}

// InitializeKeys generates an RSA-2048 keypair with e=65537 if one is
// not already present in memory. Idempotent.
func (c *Core) InitializeKeys() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.priv != nil {
		return nil
	}

	priv, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return fmt.Errorf("oastcrypto: generate key: %w", err)
	}
	if priv.PublicKey.E != rsaPublicExp {
		return fmt.Errorf("oastcrypto: unexpected public exponent %d", priv.PublicKey.E)
	}
	priv.Precompute()
	c.priv = priv
	return nil
}

// LoadKeypair installs a previously persisted keypair as the in-memory
// keypair, reconstructing it from its decimal-string components.
func (c *Core) LoadKeypair(kp types.RSAKeypair) error {
	n, ok := new(big.Int).SetString(kp.N, 10)
	if !ok {
		return fmt.Errorf("%w: n", ErrInvalidLength)
	}
	d, ok := new(big.Int).SetString(kp.D, 10)
	if !ok {
		return fmt.Errorf("%w: d", ErrInvalidLength)
	}
	p, ok := new(big.Int).SetString(kp.P, 10)
	if !ok {
		return fmt.Errorf("%w: p", ErrInvalidLength)
	}
	q, ok := new(big.Int).SetString(kp.Q, 10)
	if !ok {
		return fmt.Errorf("%w: q", ErrInvalidLength)
	}

	priv := &rsa.PrivateKey{
		PublicKey: rsa.PublicKey{N: n, E: kp.E},
		D:         d,
		Primes:    []*big.Int{p, q},
	}
	priv.Precompute()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.priv = priv
	return nil
}

// ExportKeypair serializes the in-memory keypair for persistence. The
// numeric components are decimal-string-encoded arbitrary-precision
// integers, per the session-persistence wire layout.
func (c *Core) ExportKeypair() (types.RSAKeypair, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.priv == nil {
		return types.RSAKeypair{}, ErrKeysNotInitialized
	}

	priv := c.priv
	kp := types.RSAKeypair{
		N: priv.PublicKey.N.String(),
		E: priv.PublicKey.E,
		D: priv.D.String(),
		P: priv.Primes[0].String(),
		Q: priv.Primes[1].String(),
	}
	if priv.Precomputed.Dp != nil {
		kp.Dp = priv.Precomputed.Dp.String()
		kp.Dq = priv.Precomputed.Dq.String()
		kp.Qi = priv.Precomputed.Qinv.String()
	}
	return kp, nil
}

// ExportPublicKeyPEM produces an ASN.1 DER SubjectPublicKeyInfo wrapping
// the RSA public key, PEM-encodes it, then Base64-encodes the entire
// PEM document once more. The Interactsh protocol expects exactly this
// doubly-Base64-encoded PEM on the wire; reproducing the outer layer is
// a compatibility requirement, not a choice.
func (c *Core) ExportPublicKeyPEM() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.priv == nil {
		return nil, ErrKeysNotInitialized
	}

	der, err := x509.MarshalPKIXPublicKey(&c.priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPEMMalformed, err)
	}

	block := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	encoded := base64.StdEncoding.EncodeToString(block)
	return []byte(encoded), nil
}

// DecryptAESKey Base64-decodes the AES key blob the server sent and
// RSA-OAEP-decrypts it with SHA-256/MGF1-SHA-256 and an empty label.
func (c *Core) DecryptAESKey(encryptedKeyB64 string) ([]byte, error) {
	c.mu.RLock()
	priv := c.priv
	c.mu.RUnlock()

	if priv == nil {
		return nil, ErrKeysNotInitialized
	}

	encrypted, err := base64.StdEncoding.DecodeString(encryptedKeyB64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLength, err)
	}

	key, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, encrypted, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPadding, err)
	}
	return key, nil
}

// DecryptInteraction implements the full hybrid decryption pipeline:
// RSA-OAEP-decrypt the AES key, pad/truncate it to 32 bytes, then
// AES-256-CFB-decrypt the secure message using the first 16 bytes as
// the IV. Returns the plaintext as a UTF-8 string.
func (c *Core) DecryptInteraction(encryptedAESKeyB64, secureMessageB64 string) (string, error) {
	key, err := c.DecryptAESKey(encryptedAESKeyB64)
	if err != nil {
		return "", err
	}
	key = normalizeAESKey(key)

	secure, err := base64.StdEncoding.DecodeString(secureMessageB64)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidLength, err)
	}
	if len(secure) < aes.BlockSize {
		return "", fmt.Errorf("%w: secure message shorter than one AES block", ErrInvalidLength)
	}

	iv, ciphertext := secure[:aes.BlockSize], secure[aes.BlockSize:]

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidLength, err)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCFBDecrypter(block, iv).XORKeyStream(plaintext, ciphertext)

	if !utf8.Valid(plaintext) {
		return "", ErrInvalidUTF8
	}
	return string(plaintext), nil
}

// normalizeAESKey applies the historical Interactsh key-length quirk:
// right-pad a short key with zero bytes, truncate a long one. Some
// Interactsh server versions have shipped keys of varying lengths;
// reproducing this is a compatibility requirement.
func normalizeAESKey(key []byte) []byte {
	switch {
	case len(key) == aesKeySize:
		return key
	case len(key) < aesKeySize:
		padded := make([]byte, aesKeySize)
		copy(padded, key)
		return padded
	default:
		return key[:aesKeySize]
	}
}

// GenerateRandomID returns a CSPRNG string of the given length, drawn
// uniformly from a 36-character alphabet (a-z0-9), or a 26-character
// alphabet (a-z) when lettersOnly is set. length == 0 returns "".
func GenerateRandomID(length int, lettersOnly bool) (string, error) {
	if length == 0 {
		return "", nil
	}
	if length < 0 {
		return "", ErrInvalidLength
	}

	alphabet := lettersDigitsAlphabet
	if lettersOnly {
		alphabet = lettersAlphabet
	}
	alphabetLen := len(alphabet)

	// Rejection sampling: reject any byte value that would make the
	// modulo reduction non-uniform over alphabetLen.
	maxValid := byte(256 - (256 % alphabetLen))

	out := make([]byte, length)
	buf := make([]byte, 1)
	for i := range out {
		for {
			if _, err := rand.Read(buf); err != nil {
				return "", fmt.Errorf("oastcrypto: read random byte: %w", err)
			}
			if buf[0] < maxValid {
				out[i] = alphabet[int(buf[0])%alphabetLen]
				break
			}
		}
	}
	return string(out), nil
}
