// Package protocol implements the Interactsh v1 wire protocol for
// exactly one server: registration, long-polling, and deregistration,
// modeled as an explicit Idle/Polling/Closed state machine.
package protocol

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	retryablehttp "github.com/projectdiscovery/retryablehttp-go"

	"github.com/CodeMonkeyCybersecurity/oastengine/internal/httpclient"
	"github.com/CodeMonkeyCybersecurity/oastengine/internal/oastcrypto"
	"github.com/CodeMonkeyCybersecurity/oastengine/pkg/types"
)

const (
	DefaultPollingInterval = 5 * time.Second
	minPollingInterval     = 5 * time.Second
	maxPollingInterval     = 3600 * time.Second

	DefaultCorrelationIDLength      = 20
	DefaultCorrelationIDNonceLength = 13
)

// RateLimiter paces outbound calls. Satisfied by *ratelimit.Limiter.
type RateLimiter interface {
	Wait(ctx context.Context) error
}

// Logger is the minimal surface the protocol client needs. Satisfied by
// *zap.SugaredLogger and therefore by *logger.Logger, which embeds one.
type Logger interface {
	Debugw(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
}

type noopLogger struct{}

func (noopLogger) Debugw(string, ...interface{}) {}
func (noopLogger) Warnw(string, ...interface{})  {}
func (noopLogger) Errorw(string, ...interface{}) {}

// Options configures a new or resumed Client.
type Options struct {
	ServerURL                string
	Token                    string
	CorrelationIDLength      int
	CorrelationIDNonceLength int
	PollingInterval          time.Duration
	HTTPClient               *retryablehttp.Client
	UserAgent                string
	Limiter                  RateLimiter
	Logger                   Logger
	Crypto                   *oastcrypto.Core

	// OnInteraction is invoked once per decrypted interaction payload
	// (still raw JSON text) delivered in a /poll response.
	OnInteraction func(rawJSON string)
	// OnSessionExpired is invoked when the server responds 400 to a
	// poll, signalling it has forgotten this session.
	OnSessionExpired func()
}

func (o *Options) setDefaults() error {
	if o.CorrelationIDLength == 0 {
		o.CorrelationIDLength = DefaultCorrelationIDLength
	}
	if o.CorrelationIDNonceLength == 0 {
		o.CorrelationIDNonceLength = DefaultCorrelationIDNonceLength
	}
	if o.PollingInterval == 0 {
		o.PollingInterval = DefaultPollingInterval
	}
	if o.PollingInterval < minPollingInterval || o.PollingInterval > maxPollingInterval {
		return fmt.Errorf("%w: %s", ErrInvalidPollingInterval, o.PollingInterval)
	}
	if o.Logger == nil {
		o.Logger = noopLogger{}
	}
	if o.Crypto == nil {
		return fmt.Errorf("protocol: Options.Crypto is required")
	}
	return nil
}

// Client is the per-server Interactsh protocol state machine.
type Client struct {
	opts       Options
	httpClient *retryablehttp.Client
	serverURL  *url.URL

	mu            sync.Mutex
	state         types.ClientState
	correlationID string
	secretKey     string

	cancel context.CancelFunc
	doneCh chan struct{}
}

// NewSession constructs a Client in new-session mode: it generates a
// fresh correlation_id and secret_key and performs the /register round
// trip against the server.
func NewSession(ctx context.Context, opts Options) (*Client, error) {
	if err := opts.setDefaults(); err != nil {
		return nil, err
	}

	serverURL, err := url.Parse(opts.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("protocol: invalid server url %q: %w", opts.ServerURL, err)
	}

	correlationID, err := oastcrypto.GenerateRandomID(opts.CorrelationIDLength, false)
	if err != nil {
		return nil, err
	}
	secretKey, err := oastcrypto.GenerateRandomID(opts.CorrelationIDNonceLength, false)
	if err != nil {
		return nil, err
	}

	c := newClient(opts, serverURL, correlationID, secretKey)

	if err := c.register(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Resume constructs a Client for a session restored from persistence. It
// does NOT re-register — it reattaches to a server-side session created
// in a prior process lifetime using the same RSA key.
func Resume(opts Options, session types.ClientSession) (*Client, error) {
	if err := opts.setDefaults(); err != nil {
		return nil, err
	}
	opts.ServerURL = session.ServerURL
	if session.Token != "" {
		opts.Token = session.Token
	}

	serverURL, err := url.Parse(session.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("protocol: invalid server url %q: %w", session.ServerURL, err)
	}

	return newClient(opts, serverURL, session.CorrelationID, session.SecretKey), nil
}

func newClient(opts Options, serverURL *url.URL, correlationID, secretKey string) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		retryOpts := retryablehttp.DefaultOptionsSingle
		retryOpts.Timeout = 10 * time.Second
		httpClient = retryablehttp.NewClient(retryOpts)
	}

	return &Client{
		opts:          opts,
		httpClient:    httpClient,
		serverURL:     serverURL,
		state:         types.ClientIdle,
		correlationID: correlationID,
		secretKey:     secretKey,
	}
}

// State returns the client's current lifecycle state.
func (c *Client) State() types.ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns the persistable credentials for this client.
func (c *Client) Session() types.ClientSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return types.ClientSession{
		ServerURL:     c.serverURL.String(),
		CorrelationID: c.correlationID,
		SecretKey:     c.secretKey,
		Token:         c.opts.Token,
	}
}

func (c *Client) authHeader(req *retryablehttp.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.opts.Token != "" {
		req.Header.Set("Authorization", c.opts.Token)
	}
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}
}

func (c *Client) register(ctx context.Context) error {
	if c.opts.Limiter != nil {
		if err := c.opts.Limiter.Wait(ctx); err != nil {
			return err
		}
	}

	pubKeyPEM, err := c.opts.Crypto.ExportPublicKeyPEM()
	if err != nil {
		return err
	}

	body, err := json.Marshal(registerRequest{
		PublicKey:     string(pubKeyPEM),
		SecretKey:     c.secretKey,
		CorrelationID: c.correlationID,
	})
	if err != nil {
		return fmt.Errorf("protocol: marshal register request: %w", err)
	}

	regURL := c.serverURL.String() + "/register"
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, regURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("protocol: build register request: %w", err)
	}
	c.authHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("protocol: register request: %w", err)
	}
	defer httpclient.CloseBody(resp)

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return &RegistrationFailedError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return nil
}

// StartPolling transitions Idle -> Polling and launches the background
// polling loop. Returns ErrClientAlreadyPolling / ErrClientClosed if the
// state does not permit it.
func (c *Client) StartPolling(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case types.ClientPolling:
		c.mu.Unlock()
		return ErrClientAlreadyPolling
	case types.ClientClosed:
		c.mu.Unlock()
		return ErrClientClosed
	}
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.doneCh = make(chan struct{})
	c.state = types.ClientPolling
	c.mu.Unlock()

	go c.pollLoop(loopCtx)
	return nil
}

// StopPolling flips the cancellation flag and waits for the polling
// loop to observe it before returning, so the caller never observes a
// half-transitioned state. Idempotent.
func (c *Client) StopPolling() {
	c.mu.Lock()
	if c.state != types.ClientPolling {
		c.mu.Unlock()
		return
	}
	cancel := c.cancel
	done := c.doneCh
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	c.mu.Lock()
	if c.state == types.ClientPolling {
		c.state = types.ClientIdle
	}
	c.mu.Unlock()
}

func (c *Client) pollLoop(ctx context.Context) {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.opts.PollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.poll(ctx); err != nil {
				if err == ErrSessionExpired {
					if c.opts.OnSessionExpired != nil {
						c.opts.OnSessionExpired()
					}
					c.mu.Lock()
					c.state = types.ClientIdle
					c.mu.Unlock()
					return
				}
				c.opts.Logger.Warnw("poll iteration failed", "server", c.serverURL.String(), "error", err)
			}
		}
	}
}

// ForcePoll runs one poll iteration immediately. Valid only in Polling
// state; unlike the loop, SessionExpired propagates to the caller
// instead of being handled internally — the caller (the manager) is
// responsible for tearing the client down.
func (c *Client) ForcePoll(ctx context.Context) error {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	if state != types.ClientPolling {
		return ErrClientNotPolling
	}
	return c.poll(ctx)
}

func (c *Client) poll(ctx context.Context) error {
	if c.opts.Limiter != nil {
		if err := c.opts.Limiter.Wait(ctx); err != nil {
			return &TransientPollError{Cause: err}
		}
	}

	c.mu.Lock()
	pollURL := fmt.Sprintf("%s/poll?id=%s&secret=%s", c.serverURL.String(), c.correlationID, c.secretKey)
	c.mu.Unlock()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, pollURL, nil)
	if err != nil {
		return &TransientPollError{Cause: err}
	}
	c.authHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransientPollError{Cause: err}
	}
	defer httpclient.CloseBody(resp)

	switch resp.StatusCode {
	case http.StatusOK:
		return c.handlePollResponse(resp.Body)
	case http.StatusUnauthorized:
		return ErrAuthFailure
	case http.StatusBadRequest:
		return ErrSessionExpired
	default:
		body, _ := io.ReadAll(resp.Body)
		return &TransientPollError{Cause: fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))}
	}
}

func (c *Client) handlePollResponse(body io.Reader) error {
	var poll pollResponse
	if err := json.NewDecoder(body).Decode(&poll); err != nil {
		return &TransientPollError{Cause: fmt.Errorf("decode poll response: %w", err)}
	}

	for _, item := range poll.Data {
		plaintext, err := c.opts.Crypto.DecryptInteraction(poll.AESKey, item)
		if err != nil {
			c.opts.Logger.Warnw("skipping undecryptable interaction", "server", c.serverURL.String(), "error", err)
			continue
		}
		if c.opts.OnInteraction != nil {
			c.opts.OnInteraction(plaintext)
		}
	}
	return nil
}

// GenerateURL mints a fresh subdomain under this client's server. Only
// valid when state != Closed and a correlation_id exists.
func (c *Client) GenerateURL() (urlStr, uniqueID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == types.ClientClosed {
		return "", "", ErrClientClosed
	}
	if c.correlationID == "" {
		return "", "", fmt.Errorf("protocol: no correlation id")
	}

	nonce, err := oastcrypto.GenerateRandomID(c.opts.CorrelationIDNonceLength, false)
	if err != nil {
		return "", "", err
	}

	uniqueID = c.correlationID + nonce
	host := c.serverURL.Hostname()
	urlStr = fmt.Sprintf("https://%s.%s", uniqueID, host)
	return urlStr, uniqueID, nil
}

// Close deregisters from the server. Preconditions: not Polling, not
// already Closed. State becomes Closed only on a successful
// deregistration; on failure the client remains Idle so the caller may
// retry.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case types.ClientPolling:
		c.mu.Unlock()
		return ErrClientAlreadyPolling
	case types.ClientClosed:
		c.mu.Unlock()
		return nil
	}
	correlationID, secretKey := c.correlationID, c.secretKey
	c.mu.Unlock()

	if c.opts.Limiter != nil {
		if err := c.opts.Limiter.Wait(ctx); err != nil {
			return err
		}
	}

	body, err := json.Marshal(deregisterRequest{CorrelationID: correlationID, SecretKey: secretKey})
	if err != nil {
		return fmt.Errorf("protocol: marshal deregister request: %w", err)
	}

	deregURL := c.serverURL.String() + "/deregister"
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, deregURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("protocol: build deregister request: %w", err)
	}
	c.authHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("protocol: deregister request: %w", err)
	}
	defer httpclient.CloseBody(resp)

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return &DeregistrationFailedError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	c.mu.Lock()
	c.state = types.ClientClosed
	c.mu.Unlock()
	return nil
}

// ParseServerURLs accepts a comma-separated server list and returns the
// candidates in a random retry order. Registration should try each in
// turn, degrading https:// to http:// as a last resort before giving up
// on a candidate, per the reference client this behavior is grounded
// on.
func ParseServerURLs(raw string) []string {
	parts := strings.Split(raw, ",")
	candidates := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.Contains(p, "://") {
			p = "https://" + p
		}
		candidates = append(candidates, p)
	}
	rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	return candidates
}

// HTTPFallback degrades an https:// server URL to http://. Engine.GenerateURL
// tries it for a candidate right after that candidate's https
// registration fails, before moving on to the next candidate.
func HTTPFallback(serverURL string) string {
	if strings.HasPrefix(serverURL, "https://") {
		return "http://" + strings.TrimPrefix(serverURL, "https://")
	}
	return serverURL
}
