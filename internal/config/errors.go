package config

import "errors"

var (
	errConfigNoServers      = errors.New("config: engine.servers must not be empty")
	errConfigUnknownBackend = errors.New("config: session_store.backend must be \"bbolt\" or \"redis\"")
)
