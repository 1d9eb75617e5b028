// Package manager owns the lifecycle of every per-server Protocol
// Client, the ActiveUrl registry, the interaction log, and the
// background polling supervisor that ties them together.
package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	retryablehttp "github.com/projectdiscovery/retryablehttp-go"
	"github.com/twmb/murmur3"
	"golang.org/x/sync/errgroup"

	"github.com/CodeMonkeyCybersecurity/oastengine/internal/archive"
	"github.com/CodeMonkeyCybersecurity/oastengine/internal/config"
	"github.com/CodeMonkeyCybersecurity/oastengine/internal/httpclient"
	"github.com/CodeMonkeyCybersecurity/oastengine/internal/logger"
	"github.com/CodeMonkeyCybersecurity/oastengine/internal/oastcrypto"
	"github.com/CodeMonkeyCybersecurity/oastengine/internal/protocol"
	"github.com/CodeMonkeyCybersecurity/oastengine/internal/ratelimit"
	"github.com/CodeMonkeyCybersecurity/oastengine/internal/sessionstore"
	"github.com/CodeMonkeyCybersecurity/oastengine/internal/telemetry"
	"github.com/CodeMonkeyCybersecurity/oastengine/pkg/types"
)

// Manager is the Multi-Server Manager: a server_url -> Client map plus
// the engine-wide interaction log and URL registry, guarded by a single
// RWMutex per the cooperative single-actor model.
type Manager struct {
	cfg       config.EngineConfig
	httpCfg   config.HTTPClientConfig
	rateCfg   config.RateLimitConfig
	store     *sessionstore.Store
	archive   *archive.Store
	crypto    *oastcrypto.Core
	log       *logger.Logger
	telemetry telemetry.Telemetry
	callbacks Callbacks
	http      *retryablehttp.Client

	mu      sync.RWMutex
	clients map[string]*protocol.Client
	state   types.EngineState
	started bool
}

// New constructs a Manager. arch may be nil (archive disabled); its
// methods are nil-safe so callers never need to branch on it. Start
// must be called before any other operation except GetStatus.
func New(cfg *config.Config, store *sessionstore.Store, arch *archive.Store, log *logger.Logger, tel telemetry.Telemetry, callbacks Callbacks) *Manager {
	retryOpts := retryablehttp.DefaultOptionsSingle
	retryOpts.Timeout = cfg.HTTPClient.Timeout
	retryOpts.RetryMax = cfg.HTTPClient.MaxRetries

	httpClient := retryablehttp.NewClient(retryOpts)
	httpClient.HTTPClient = httpclient.NewInteractshClient(httpclient.SecureClientConfig{
		Timeout:            cfg.HTTPClient.Timeout,
		InsecureSkipVerify: !cfg.HTTPClient.VerifySSL,
	})

	return &Manager{
		cfg:       cfg.Engine,
		httpCfg:   cfg.HTTPClient,
		rateCfg:   cfg.RateLimit,
		store:     store,
		archive:   arch,
		crypto:    oastcrypto.New(),
		log:       log,
		telemetry: tel,
		callbacks: callbacks,
		http:      httpClient,
		clients:   make(map[string]*protocol.Client),
	}
}

// Start loads or generates the process keypair, restores every
// persisted session as a reattached, polling Protocol Client, and
// restores the non-confidential EngineState document. A restore
// failure for one session drops that session from persistence and is
// aggregated into the returned error; it never blocks the others, and
// the manager is started with the sessions that did restore.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.mu.Unlock()

	kp, err := m.store.LoadOrGenerateKeypair(ctx, func() (types.RSAKeypair, error) {
		if err := m.crypto.InitializeKeys(); err != nil {
			return types.RSAKeypair{}, err
		}
		return m.crypto.ExportKeypair()
	})
	if err != nil {
		return fmt.Errorf("manager: load or generate keypair: %w", err)
	}
	if err := m.crypto.LoadKeypair(kp); err != nil {
		return fmt.Errorf("manager: install keypair: %w", err)
	}

	state, err := loadState(m.cfg.StatePath)
	if err != nil {
		if m.log != nil {
			m.log.Warnw("failed to load persisted engine state, starting empty", "error", err)
		}
		state = types.EngineState{}
	}

	sessions, err := m.store.LoadSessions(ctx)
	if err != nil {
		return fmt.Errorf("manager: load sessions: %w", err)
	}

	var restoreErrs *multierror.Error
	restored := make(map[string]*protocol.Client)

	for _, session := range sessions {
		client, err := protocol.Resume(m.clientOptions(session.ServerURL), session)
		if err != nil {
			restoreErrs = multierror.Append(restoreErrs, fmt.Errorf("resume %s: %w", session.ServerURL, err))
			m.deleteSessionBestEffort(ctx, session.ServerURL)
			continue
		}

		if err := client.StartPolling(ctx); err != nil {
			restoreErrs = multierror.Append(restoreErrs, fmt.Errorf("start polling %s: %w", session.ServerURL, err))
			m.deleteSessionBestEffort(ctx, session.ServerURL)
			continue
		}

		restored[session.ServerURL] = client
	}

	m.mu.Lock()
	m.clients = restored
	m.state = state
	m.started = true
	m.mu.Unlock()

	if m.telemetry != nil {
		m.telemetry.RecordClientCount(len(restored))
	}

	if restoreErrs != nil {
		return restoreErrs.ErrorOrNil()
	}
	return nil
}

// Stop stops every client's polling loop, closes each one, empties the
// clients map, and marks the engine not-started. Per-client failures
// are logged and aggregated but never abort the others.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return ErrNotStarted
	}
	clients := m.clients
	m.clients = make(map[string]*protocol.Client)
	m.started = false
	m.mu.Unlock()

	var errs *multierror.Error
	var mu sync.Mutex
	var wg sync.WaitGroup

	for serverURL, client := range clients {
		wg.Add(1)
		go func(serverURL string, client *protocol.Client) {
			defer wg.Done()
			client.StopPolling()
			if err := client.Close(ctx); err != nil {
				mu.Lock()
				errs = multierror.Append(errs, fmt.Errorf("close %s: %w", serverURL, err))
				mu.Unlock()
				if m.log != nil {
					m.log.Warnw("failed to deregister client on stop", "server", serverURL, "error", err)
				}
			}
		}(serverURL, client)
	}
	wg.Wait()

	if m.telemetry != nil {
		m.telemetry.RecordClientCount(0)
	}

	return errs.ErrorOrNil()
}

func (m *Manager) clientOptions(serverURL string) protocol.Options {
	return protocol.Options{
		ServerURL:                serverURL,
		Token:                    m.cfg.Token,
		CorrelationIDLength:      m.cfg.CorrelationIDLength,
		CorrelationIDNonceLength: m.cfg.CorrelationIDNonceLength,
		PollingInterval:          m.cfg.PollingInterval,
		HTTPClient:               m.http,
		UserAgent:                m.httpCfg.UserAgent,
		Limiter:                  ratelimit.NewLimiter(ratelimit.Config{RequestsPerSecond: float64(m.rateCfg.RequestsPerSecond), BurstSize: m.rateCfg.BurstSize, MinDelay: m.rateCfg.MinDelay}),
		Logger:                   m.log,
		Crypto:                   m.crypto,
		OnInteraction: func(rawJSON string) {
			m.onInteraction(rawJSON, serverURL)
		},
		OnSessionExpired: func() {
			m.onSessionExpired(serverURL)
		},
	}
}

func (m *Manager) deleteSessionBestEffort(ctx context.Context, serverURL string) {
	if err := m.store.DeleteSession(ctx, serverURL); err != nil && m.log != nil {
		m.log.Warnw("failed to delete unrestorable session", "server", serverURL, "error", err)
	}
}

// GenerateURL lazily registers a Protocol Client for server_url if one
// does not already exist, persists its credentials, mints a fresh URL
// from it, appends an ActiveUrl record, persists engine state, and
// emits UrlGenerated.
func (m *Manager) GenerateURL(ctx context.Context, serverURL, tag string) (types.ActiveUrl, error) {
	if !m.isStarted() {
		return types.ActiveUrl{}, ErrNotStarted
	}

	client, _, err := m.getOrCreateClient(ctx, serverURL)
	if err != nil {
		return types.ActiveUrl{}, err
	}

	urlStr, uniqueID, err := client.GenerateURL()
	if err != nil {
		return types.ActiveUrl{}, fmt.Errorf("manager: generate url: %w", err)
	}

	active := types.ActiveUrl{
		URL:       urlStr,
		UniqueID:  uniqueID,
		CreatedAt: time.Now(),
		IsActive:  true,
		ServerURL: serverURL,
		Tag:       tag,
	}

	m.mu.Lock()
	m.state.ActiveUrls = append(m.state.ActiveUrls, active)
	state := m.state
	m.mu.Unlock()

	if err := m.persistState(state); err != nil {
		return types.ActiveUrl{}, err
	}

	m.callbacks.urlGenerated(urlStr)
	return active, nil
}

// getOrCreateClient returns the existing client for serverURL, or
// registers a new one, persists its session, and starts its polling
// loop in one step — so every client this manager ever hands out is
// already polling, regardless of whether it was created by GenerateURL
// or by InitializeClients.
func (m *Manager) getOrCreateClient(ctx context.Context, serverURL string) (*protocol.Client, bool, error) {
	m.mu.RLock()
	client, ok := m.clients[serverURL]
	m.mu.RUnlock()
	if ok {
		return client, false, nil
	}

	client, err := protocol.NewSession(ctx, m.clientOptions(serverURL))
	if err != nil {
		if m.telemetry != nil {
			m.telemetry.RecordRegistration(serverURL, false)
		}
		return nil, false, fmt.Errorf("manager: register %s: %w", serverURL, err)
	}
	if m.telemetry != nil {
		m.telemetry.RecordRegistration(serverURL, true)
	}

	if err := m.store.SaveSession(ctx, client.Session()); err != nil {
		return nil, false, fmt.Errorf("manager: save session for %s: %w", serverURL, err)
	}
	if err := client.StartPolling(ctx); err != nil {
		return nil, false, fmt.Errorf("manager: start polling %s: %w", serverURL, err)
	}

	m.mu.Lock()
	m.clients[serverURL] = client
	count := len(m.clients)
	m.mu.Unlock()

	if m.telemetry != nil {
		m.telemetry.RecordClientCount(count)
	}

	return client, true, nil
}

// onInteraction is the callback wired into every Protocol Client. It
// attributes a decrypted interaction's full_id to the most recent
// matching ActiveUrl, appends an Interaction record if that URL is
// active, and emits DataChanged. Unattributable or disabled-URL
// interactions are dropped silently, per spec.
func (m *Manager) onInteraction(rawJSON, serverURL string) {
	fullID, parsed, err := parseInteractionPayload(rawJSON)
	if err != nil {
		if m.log != nil {
			m.log.Warnw("dropping malformed interaction payload", "server", serverURL, "error", err)
		}
		return
	}

	m.mu.Lock()
	active, found := findActiveURL(m.state.ActiveUrls, fullID)
	if !found || !active.IsActive {
		m.mu.Unlock()
		return
	}

	m.state.InteractionCounter++
	interaction := types.Interaction{
		Protocol:      strings.ToLower(parsed.Protocol),
		UniqueID:      fmt.Sprintf("int_%d_%d", time.Now().UnixMilli(), m.state.InteractionCounter),
		FullID:        fullID,
		QType:         parsed.QType,
		RawRequest:    parsed.RawRequest,
		RawResponse:   parsed.RawResponse,
		RemoteAddress: parsed.RemoteAddress,
		Timestamp:     time.Now(),
		Tag:           active.Tag,
		ServerURL:     serverURL,
		Fingerprint:   fingerprint(fullID, parsed.RawRequest),
	}
	m.state.Interactions = append(m.state.Interactions, interaction)
	state := m.state
	m.mu.Unlock()

	if m.log != nil {
		m.log.LogInteractionEvent(context.Background(), interaction.Protocol, interaction.UniqueID, interaction.RemoteAddress, map[string]interface{}{"outcome": "attributed", "server": serverURL})
	}
	if m.telemetry != nil {
		m.telemetry.RecordInteraction(interaction.Protocol)
	}

	if err := m.persistState(state); err != nil && m.log != nil {
		m.log.Warnw("failed to persist engine state after interaction", "error", err)
	}
	if err := m.archive.SaveInteraction(context.Background(), interaction); err != nil && m.log != nil {
		m.log.Warnw("failed to archive interaction", "unique_id", interaction.UniqueID, "error", err)
	}

	m.callbacks.dataChanged()
}

func fingerprint(fullID, rawRequest string) string {
	sum := murmur3.Sum32([]byte(fullID + "\x00" + rawRequest))
	return fmt.Sprintf("%08x", sum)
}

// onSessionExpired removes the Protocol Client for server_url and
// deletes its persisted session.
func (m *Manager) onSessionExpired(serverURL string) {
	m.mu.Lock()
	delete(m.clients, serverURL)
	count := len(m.clients)
	m.mu.Unlock()

	if m.telemetry != nil {
		m.telemetry.RecordClientCount(count)
	}

	m.deleteSessionBestEffort(context.Background(), serverURL)

	if m.log != nil {
		m.log.LogClientStateChange(context.Background(), serverURL, "polling", "idle")
	}
}

// Poll forces one poll iteration on every client. The sweep runs over a
// snapshot of the clients map; a client whose session has expired is
// removed as soon as the sweep reaches it, and the others are still
// polled. If notify is true and the interaction log grew, DataChanged
// fires once more after the sweep, on top of the per-item DataChanged
// that onInteraction already fired; if nothing was appended, notify
// fires nothing.
func (m *Manager) Poll(ctx context.Context, notify bool) error {
	if !m.isStarted() {
		return ErrNotStarted
	}

	m.mu.RLock()
	clients := make(map[string]*protocol.Client, len(m.clients))
	for k, v := range m.clients {
		clients[k] = v
	}
	before := len(m.state.Interactions)
	m.mu.RUnlock()

	var errs *multierror.Error
	for serverURL, client := range clients {
		err := client.ForcePoll(ctx)
		if err == nil {
			continue
		}
		if errors.Is(err, protocol.ErrSessionExpired) {
			// ForcePoll, unlike the background loop, never tears the
			// client down itself: that is the manager's job.
			m.onSessionExpired(serverURL)
			continue
		}
		errs = multierror.Append(errs, fmt.Errorf("poll %s: %w", serverURL, err))
		if m.log != nil {
			m.log.Warnw("poll failed", "server", serverURL, "error", err)
		}
	}

	m.mu.RLock()
	after := len(m.state.Interactions)
	m.mu.RUnlock()

	if notify && after > before {
		m.callbacks.dataChanged()
	}

	return errs.ErrorOrNil()
}

// InitializeClients eagerly constructs and registers a Protocol Client
// for each server URL in parallel, returning the count that succeeded.
// Per-URL failures are logged and do not abort the batch.
func (m *Manager) InitializeClients(ctx context.Context, serverURLs []string) (int, error) {
	if !m.isStarted() {
		return 0, ErrNotStarted
	}

	var succeeded atomic.Int32
	g, gctx := errgroup.WithContext(ctx)

	for _, serverURL := range serverURLs {
		serverURL := serverURL
		g.Go(func() error {
			if _, _, err := m.getOrCreateClient(gctx, serverURL); err != nil {
				if m.log != nil {
					m.log.Warnw("failed to initialize client", "server", serverURL, "error", err)
				}
				return nil
			}
			succeeded.Add(1)
			return nil
		})
	}

	_ = g.Wait()
	return int(succeeded.Load()), nil
}

// GetClientCount returns the number of Protocol Clients currently held
// by the manager.
func (m *Manager) GetClientCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

func (m *Manager) isStarted() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.started
}

func (m *Manager) persistState(state types.EngineState) error {
	if m.cfg.StatePath == "" {
		return nil
	}
	state.SelectedRowID = ""
	if err := saveState(m.cfg.StatePath, state); err != nil {
		return fmt.Errorf("manager: persist engine state: %w", err)
	}
	return nil
}

// GetInteractions returns a snapshot of the full interaction log.
func (m *Manager) GetInteractions() []types.Interaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Interaction, len(m.state.Interactions))
	copy(out, m.state.Interactions)
	return out
}

// GetNewInteractions returns every interaction appended at or after
// sinceIndex.
func (m *Manager) GetNewInteractions(sinceIndex int) []types.Interaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sinceIndex < 0 || sinceIndex >= len(m.state.Interactions) {
		return nil
	}
	out := make([]types.Interaction, len(m.state.Interactions)-sinceIndex)
	copy(out, m.state.Interactions[sinceIndex:])
	return out
}

// DeleteInteraction removes a single interaction by unique_id,
// returning true if found.
func (m *Manager) DeleteInteraction(uid string) bool {
	n := m.DeleteInteractions([]string{uid})
	return n == 1
}

// DeleteInteractions removes every interaction whose unique_id is in
// uids, returning the number actually removed.
func (m *Manager) DeleteInteractions(uids []string) int {
	toDelete := make(map[string]bool, len(uids))
	for _, uid := range uids {
		toDelete[uid] = true
	}

	m.mu.Lock()
	kept := m.state.Interactions[:0:0]
	removed := 0
	for _, interaction := range m.state.Interactions {
		if toDelete[interaction.UniqueID] {
			removed++
			continue
		}
		kept = append(kept, interaction)
	}
	m.state.Interactions = kept
	state := m.state
	m.mu.Unlock()

	if removed > 0 {
		if err := m.persistState(state); err != nil && m.log != nil {
			m.log.Warnw("failed to persist state after deleting interactions", "error", err)
		}
		m.callbacks.dataChanged()
	}
	return removed
}

// ClearInteractions empties the interaction log without touching the
// URL registry.
func (m *Manager) ClearInteractions() {
	m.mu.Lock()
	m.state.Interactions = nil
	state := m.state
	m.mu.Unlock()

	if err := m.persistState(state); err != nil && m.log != nil {
		m.log.Warnw("failed to persist state after clearing interactions", "error", err)
	}
	m.callbacks.dataChanged()
}

// ClearUrls empties the ActiveUrl registry.
func (m *Manager) ClearUrls() {
	m.mu.Lock()
	m.state.ActiveUrls = nil
	state := m.state
	m.mu.Unlock()

	if err := m.persistState(state); err != nil && m.log != nil {
		m.log.Warnw("failed to persist state after clearing urls", "error", err)
	}
	m.callbacks.urlsChanged()
}

// ClearAllData empties interactions and URLs and resets the
// interaction counter to zero, so the next minted interaction is
// numbered starting at 1.
func (m *Manager) ClearAllData() {
	m.mu.Lock()
	m.state = types.EngineState{
		Filter:        m.state.Filter,
		FilterEnabled: m.state.FilterEnabled,
	}
	state := m.state
	m.mu.Unlock()

	if err := m.persistState(state); err != nil && m.log != nil {
		m.log.Warnw("failed to persist state after clearing all data", "error", err)
	}
	m.callbacks.dataChanged()
	m.callbacks.urlsChanged()
}

// GetActiveUrls returns a snapshot of the URL registry.
func (m *Manager) GetActiveUrls() []types.ActiveUrl {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.ActiveUrl, len(m.state.ActiveUrls))
	copy(out, m.state.ActiveUrls)
	return out
}

// SetUrlActive toggles an ActiveUrl's IsActive flag, returning false if
// no URL with that unique_id exists.
func (m *Manager) SetUrlActive(uniqueID string, active bool) bool {
	m.mu.Lock()
	found := false
	for i := range m.state.ActiveUrls {
		if m.state.ActiveUrls[i].UniqueID == uniqueID {
			m.state.ActiveUrls[i].IsActive = active
			found = true
			break
		}
	}
	state := m.state
	m.mu.Unlock()

	if !found {
		return false
	}

	if err := m.persistState(state); err != nil && m.log != nil {
		m.log.Warnw("failed to persist state after set_url_active", "error", err)
	}
	m.callbacks.urlsChanged()
	return true
}

// RemoveUrl deletes a single ActiveUrl by unique_id, returning false if
// not found.
func (m *Manager) RemoveUrl(uniqueID string) bool {
	m.mu.Lock()
	idx := -1
	for i, u := range m.state.ActiveUrls {
		if u.UniqueID == uniqueID {
			idx = i
			break
		}
	}
	if idx == -1 {
		m.mu.Unlock()
		return false
	}
	m.state.ActiveUrls = append(m.state.ActiveUrls[:idx], m.state.ActiveUrls[idx+1:]...)
	state := m.state
	m.mu.Unlock()

	if err := m.persistState(state); err != nil && m.log != nil {
		m.log.Warnw("failed to persist state after remove_url", "error", err)
	}
	m.callbacks.urlsChanged()
	return true
}

// SetFilter stores an opaque filter string; the manager never
// interprets it.
func (m *Manager) SetFilter(filter string) {
	m.mu.Lock()
	m.state.Filter = filter
	state := m.state
	m.mu.Unlock()

	if err := m.persistState(state); err != nil && m.log != nil {
		m.log.Warnw("failed to persist state after set_filter", "error", err)
	}
	if m.callbacks.OnFilterChanged != nil {
		m.callbacks.OnFilterChanged(filter)
	}
}

// GetFilter returns the currently stored filter string.
func (m *Manager) GetFilter() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Filter
}

// SetFilterEnabled toggles whether the host's filter is applied.
func (m *Manager) SetFilterEnabled(enabled bool) {
	m.mu.Lock()
	m.state.FilterEnabled = enabled
	state := m.state
	m.mu.Unlock()

	if err := m.persistState(state); err != nil && m.log != nil {
		m.log.Warnw("failed to persist state after set_filter_enabled", "error", err)
	}
	if m.callbacks.OnFilterEnabledChanged != nil {
		m.callbacks.OnFilterEnabledChanged(enabled)
	}
}

// GetFilterEnabled returns whether the host's filter is currently
// applied.
func (m *Manager) GetFilterEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.FilterEnabled
}

// SetInteractionTag mutates a stored Interaction's tag, returning false
// if no interaction with that unique_id exists.
func (m *Manager) SetInteractionTag(uniqueID string, tag string) bool {
	m.mu.Lock()
	found := false
	for i := range m.state.Interactions {
		if m.state.Interactions[i].UniqueID == uniqueID {
			m.state.Interactions[i].Tag = tag
			found = true
			break
		}
	}
	state := m.state
	m.mu.Unlock()

	if !found {
		return false
	}

	if err := m.persistState(state); err != nil && m.log != nil {
		m.log.Warnw("failed to persist state after set_interaction_tag", "error", err)
	}
	m.callbacks.dataChanged()
	return true
}

// SetSelectedRowID records the host's current row selection. This is
// session-only: it is not persisted across restarts.
func (m *Manager) SetSelectedRowID(uniqueID string) {
	m.mu.Lock()
	m.state.SelectedRowID = uniqueID
	m.mu.Unlock()

	if m.callbacks.OnRowSelected != nil {
		m.callbacks.OnRowSelected(uniqueID)
	}
}

// GetSelectedRowID returns the host's current row selection, if any.
func (m *Manager) GetSelectedRowID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.SelectedRowID
}

// GetStatus returns a point-in-time summary of the engine.
func (m *Manager) GetStatus() types.Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return types.Status{
		IsStarted:        m.started,
		InteractionCount: len(m.state.Interactions),
		ClientCount:      len(m.clients),
	}
}

type interactionPayload struct {
	FullID        string `json:"full-id"`
	Protocol      string `json:"protocol"`
	QType         string `json:"q-type"`
	RawRequest    string `json:"raw-request"`
	RawResponse   string `json:"raw-response"`
	RemoteAddress string `json:"remote-address"`
}

func parseInteractionPayload(rawJSON string) (string, interactionPayload, error) {
	var payload interactionPayload
	if err := json.Unmarshal([]byte(rawJSON), &payload); err != nil {
		return "", interactionPayload{}, err
	}
	if payload.FullID == "" {
		return "", interactionPayload{}, fmt.Errorf("manager: interaction payload missing full-id")
	}
	return payload.FullID, payload, nil
}
