package manager

import "errors"

var (
	// ErrNotStarted is returned by operations that require Start to have
	// run first.
	ErrNotStarted = errors.New("manager: engine not started")

	// ErrAlreadyStarted guards against a double Start.
	ErrAlreadyStarted = errors.New("manager: engine already started")

	// ErrUnknownServer is returned when an operation names a server_url
	// with no corresponding client and the operation does not create one
	// lazily.
	ErrUnknownServer = errors.New("manager: unknown server")
)
