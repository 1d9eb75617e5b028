package sessionstore

import "errors"

var (
	// ErrNotFound is returned when a session or keypair is requested but
	// no record exists yet.
	ErrNotFound = errors.New("sessionstore: record not found")

	// ErrCorrupted is returned when a stored record fails to decrypt or
	// unmarshal. Callers should treat this as "nothing persisted" rather
	// than a fatal error: a corrupted store must never block startup.
	ErrCorrupted = errors.New("sessionstore: stored record is corrupted")

	errUnknownBackend = errors.New("sessionstore: unknown backend")
)
