// Package engine is the External Interface Facade: a thin typed
// surface over the Multi-Server Manager that a host (CLI, TUI,
// long-running service) drives directly, plus an EventSink fan-out
// standing in for spec.md's "events emitted to host".
package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/CodeMonkeyCybersecurity/oastengine/internal/archive"
	"github.com/CodeMonkeyCybersecurity/oastengine/internal/config"
	"github.com/CodeMonkeyCybersecurity/oastengine/internal/logger"
	"github.com/CodeMonkeyCybersecurity/oastengine/internal/manager"
	"github.com/CodeMonkeyCybersecurity/oastengine/internal/oastcrypto"
	"github.com/CodeMonkeyCybersecurity/oastengine/internal/protocol"
	"github.com/CodeMonkeyCybersecurity/oastengine/internal/sessionstore"
	"github.com/CodeMonkeyCybersecurity/oastengine/internal/telemetry"
	"github.com/CodeMonkeyCybersecurity/oastengine/pkg/types"
)

// Engine is the host-facing facade. Every operation that can block on
// I/O takes a context.Context first; synchronous in-memory reads do
// not.
type Engine struct {
	cfg     *config.Config
	mgr     *manager.Manager
	store   *sessionstore.Store
	archive *archive.Store
	log     *logger.Logger
	tel     telemetry.Telemetry
	sinks   sinkList
}

// New constructs an Engine from configuration. It opens the session
// store and builds the Manager, but does not start it — call Start
// before any other operation except RegisterSink and GetStatus.
func New(cfg *config.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		field := "session_store.backend"
		if len(cfg.Engine.Servers) == 0 {
			field = "engine.servers"
		}
		return nil, &ConfigError{Field: field, Err: err}
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("engine: build logger: %w", err)
	}

	tel, err := telemetry.New(context.Background(), cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("engine: build telemetry: %w", err)
	}

	store, err := sessionstore.Open(cfg.SessionStore, log)
	if err != nil {
		return nil, fmt.Errorf("engine: open session store: %w", err)
	}

	arch, err := archive.Open(cfg.Archive, log)
	if err != nil {
		return nil, fmt.Errorf("engine: open archive: %w", err)
	}
	if arch != nil {
		runID, err := oastcrypto.GenerateRandomID(12, false)
		if err != nil {
			return nil, fmt.Errorf("engine: generate archive run id: %w", err)
		}
		log = log.WithArchive(arch, runID)
	}

	e := &Engine{cfg: cfg, store: store, archive: arch, log: log, tel: tel}
	e.mgr = manager.New(cfg, store, arch, log, tel, manager.Callbacks{
		OnDataChanged:          e.sinks.dataChanged,
		OnURLGenerated:         e.sinks.urlGenerated,
		OnURLsChanged:          e.sinks.urlsChanged,
		OnFilterChanged:        e.sinks.filterChanged,
		OnFilterEnabledChanged: e.sinks.filterEnabledChanged,
		OnRowSelected:          e.sinks.rowSelected,
	})
	return e, nil
}

// RegisterSink adds a host-supplied EventSink. Safe to call before or
// after Start; not safe for concurrent use with itself.
func (e *Engine) RegisterSink(sink EventSink) {
	e.sinks.add(sink)
}

// Start loads or generates the process keypair and restores every
// persisted session. It does not pre-warm any client: call
// InitializeClients explicitly (e.g. with the configured server list)
// for that.
func (e *Engine) Start(ctx context.Context) error {
	return e.mgr.Start(ctx)
}

// Stop closes every client, the underlying session store and the
// interaction archive (if enabled).
func (e *Engine) Stop(ctx context.Context) error {
	stopErr := e.mgr.Stop(ctx)
	closeErr := e.store.Close()
	archiveErr := e.archive.Close()
	if stopErr != nil {
		return stopErr
	}
	if closeErr != nil {
		return closeErr
	}
	return archiveErr
}

// GenerateURL registers a client for serverURL (lazily, if needed) and
// mints a fresh URL from it. serverURL may be a single URL or, per the
// reference client's fallback behavior, a comma-separated candidate
// list — candidates are tried in random order, each over https first
// and http as a last resort, and the first successful registration
// wins. An empty serverURL falls back to the configured server list.
func (e *Engine) GenerateURL(ctx context.Context, serverURL, tag string) (types.ActiveUrl, error) {
	candidates := e.candidateURLs(serverURL)
	if len(candidates) == 0 {
		return types.ActiveUrl{}, ErrNoServerURL
	}

	var lastErr error
	for _, candidate := range candidates {
		active, err := e.mgr.GenerateURL(ctx, candidate, tag)
		if err == nil {
			return active, nil
		}
		lastErr = err

		if strings.HasPrefix(candidate, "https://") {
			if fallbackActive, fallbackErr := e.mgr.GenerateURL(ctx, protocol.HTTPFallback(candidate), tag); fallbackErr == nil {
				return fallbackActive, nil
			}
		}
	}
	return types.ActiveUrl{}, lastErr
}

func (e *Engine) candidateURLs(serverURL string) []string {
	if serverURL == "" {
		if len(e.cfg.Engine.Servers) == 0 {
			return nil
		}
		// No server named: let the UI's "random server" behavior pick
		// one of the configured servers, in the same random-retry order
		// ParseServerURLs would give an explicit comma-separated list.
		serverURL = strings.Join(e.cfg.Engine.Servers, ",")
	}
	return protocol.ParseServerURLs(serverURL)
}

// Poll forces one poll iteration on every client.
func (e *Engine) Poll(ctx context.Context, notify bool) error {
	return e.mgr.Poll(ctx, notify)
}

// InitializeClients eagerly registers a client for every server URL in
// parallel, returning the count that succeeded.
func (e *Engine) InitializeClients(ctx context.Context, serverURLs []string) (int, error) {
	return e.mgr.InitializeClients(ctx, serverURLs)
}

// GetInteractions returns a snapshot of the full interaction log.
func (e *Engine) GetInteractions() []types.Interaction {
	return e.mgr.GetInteractions()
}

// GetNewInteractions returns every interaction appended at or after
// sinceIndex.
func (e *Engine) GetNewInteractions(sinceIndex int) []types.Interaction {
	return e.mgr.GetNewInteractions(sinceIndex)
}

// DeleteInteraction removes a single interaction by unique_id.
func (e *Engine) DeleteInteraction(uniqueID string) bool {
	return e.mgr.DeleteInteraction(uniqueID)
}

// DeleteInteractions removes every interaction named in uniqueIDs,
// returning the number actually removed.
func (e *Engine) DeleteInteractions(uniqueIDs []string) int {
	return e.mgr.DeleteInteractions(uniqueIDs)
}

// ClearInteractions empties the interaction log.
func (e *Engine) ClearInteractions() {
	e.mgr.ClearInteractions()
}

// ClearUrls empties the ActiveUrl registry.
func (e *Engine) ClearUrls() {
	e.mgr.ClearUrls()
}

// ClearAllData empties interactions and URLs and resets the
// interaction counter.
func (e *Engine) ClearAllData() {
	e.mgr.ClearAllData()
}

// GetActiveUrls returns a snapshot of the URL registry.
func (e *Engine) GetActiveUrls() []types.ActiveUrl {
	return e.mgr.GetActiveUrls()
}

// SetUrlActive toggles an ActiveUrl's IsActive flag.
func (e *Engine) SetUrlActive(uniqueID string, active bool) bool {
	return e.mgr.SetUrlActive(uniqueID, active)
}

// RemoveUrl deletes a single ActiveUrl by unique_id.
func (e *Engine) RemoveUrl(uniqueID string) bool {
	return e.mgr.RemoveUrl(uniqueID)
}

// GetClientCount returns the number of Protocol Clients currently held
// by the engine.
func (e *Engine) GetClientCount() int {
	return e.mgr.GetClientCount()
}

// SetFilter stores an opaque filter string and emits FilterChanged.
func (e *Engine) SetFilter(filter string) {
	e.mgr.SetFilter(filter)
}

// GetFilter returns the currently stored filter string.
func (e *Engine) GetFilter() string {
	return e.mgr.GetFilter()
}

// SetFilterEnabled toggles whether the host's filter is applied.
func (e *Engine) SetFilterEnabled(enabled bool) {
	e.mgr.SetFilterEnabled(enabled)
}

// GetFilterEnabled returns whether the host's filter is currently
// applied.
func (e *Engine) GetFilterEnabled() bool {
	return e.mgr.GetFilterEnabled()
}

// SetInteractionTag mutates a stored Interaction's tag.
func (e *Engine) SetInteractionTag(uniqueID, tag string) bool {
	return e.mgr.SetInteractionTag(uniqueID, tag)
}

// SetSelectedRowID records the host's current row selection. Session-
// only: never persisted across restarts.
func (e *Engine) SetSelectedRowID(uniqueID string) {
	e.mgr.SetSelectedRowID(uniqueID)
}

// GetSelectedRowID returns the host's current row selection, if any.
func (e *Engine) GetSelectedRowID() string {
	return e.mgr.GetSelectedRowID()
}

// GetStatus returns a point-in-time summary of the engine.
func (e *Engine) GetStatus() types.Status {
	return e.mgr.GetStatus()
}
