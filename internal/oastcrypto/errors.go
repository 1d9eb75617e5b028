package oastcrypto

import "errors"

// Sentinel errors for the crypto core. Key-state, decryption, export and
// load failures surface as one of these (or wrap one via
// fmt.Errorf("...: %w", ...)); key generation and random-source failures
// wrap the underlying error instead. Nothing here is ever swallowed.
var (
	ErrKeysNotInitialized = errors.New("oastcrypto: keys not initialized")
	ErrInvalidPadding     = errors.New("oastcrypto: invalid OAEP padding")
	ErrInvalidLength      = errors.New("oastcrypto: invalid length")
	ErrInvalidUTF8        = errors.New("oastcrypto: decrypted payload is not valid UTF-8")
	ErrPEMMalformed       = errors.New("oastcrypto: malformed PEM public key")
)
