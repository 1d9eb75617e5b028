package protocol

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeMonkeyCybersecurity/oastengine/internal/oastcrypto"
	"github.com/CodeMonkeyCybersecurity/oastengine/pkg/types"
)

// fakeServer reproduces just enough of an Interactsh server to exercise
// the Client state machine end to end, including the kebab/camel case
// asymmetry between register and deregister payloads.
type fakeServer struct {
	mu             sync.Mutex
	registered     bool
	deregistered   bool
	registerBody   map[string]interface{}
	deregisterBody map[string]interface{}
	pollStatus     int32
	pollPayload    pollResponse

	srv *httptest.Server
}

func newFakeServer() *fakeServer {
	f := &fakeServer{}
	atomic.StoreInt32(&f.pollStatus, http.StatusOK)
	mux := http.NewServeMux()
	mux.HandleFunc("/register", f.handleRegister)
	mux.HandleFunc("/poll", f.handlePoll)
	mux.HandleFunc("/deregister", f.handleDeregister)
	f.srv = httptest.NewServer(mux)
	return f
}

func (f *fakeServer) URL() string { return f.srv.URL }
func (f *fakeServer) Close()      { f.srv.Close() }

func (f *fakeServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body map[string]interface{}
	_ = json.NewDecoder(r.Body).Decode(&body)

	f.mu.Lock()
	f.registered = true
	f.registerBody = body
	f.mu.Unlock()

	w.WriteHeader(http.StatusOK)
}

func (f *fakeServer) handlePoll(w http.ResponseWriter, r *http.Request) {
	status := int(atomic.LoadInt32(&f.pollStatus))
	if status != http.StatusOK {
		w.WriteHeader(status)
		return
	}

	f.mu.Lock()
	payload := f.pollPayload
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func (f *fakeServer) handleDeregister(w http.ResponseWriter, r *http.Request) {
	var body map[string]interface{}
	_ = json.NewDecoder(r.Body).Decode(&body)

	f.mu.Lock()
	f.deregistered = true
	f.deregisterBody = body
	f.mu.Unlock()

	w.WriteHeader(http.StatusOK)
}

func (f *fakeServer) setPollStatus(status int) {
	atomic.StoreInt32(&f.pollStatus, int32(status))
}

func (f *fakeServer) setPollPayload(p pollResponse) {
	f.mu.Lock()
	f.pollPayload = p
	f.mu.Unlock()
}

func newTestCrypto(t *testing.T) *oastcrypto.Core {
	t.Helper()
	c := oastcrypto.New()
	require.NoError(t, c.InitializeKeys())
	return c
}

func TestNewSessionRegistersWithKebabCaseKeys(t *testing.T) {
	srv := newFakeServer()
	defer srv.Close()

	crypto := newTestCrypto(t)
	ctx := context.Background()

	client, err := NewSession(ctx, Options{
		ServerURL: srv.URL(),
		Crypto:    crypto,
	})
	require.NoError(t, err)
	assert.Equal(t, types.ClientIdle, client.State())

	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.True(t, srv.registered)
	assert.Contains(t, srv.registerBody, "public-key")
	assert.Contains(t, srv.registerBody, "secret-key")
	assert.Contains(t, srv.registerBody, "correlation-id")
}

func TestNewSessionFailsOnNon200(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/register", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := NewSession(context.Background(), Options{
		ServerURL: srv.URL,
		Crypto:    newTestCrypto(t),
	})
	require.Error(t, err)
	var regErr *RegistrationFailedError
	assert.ErrorAs(t, err, &regErr)
}

func TestResumeDoesNotRegister(t *testing.T) {
	srv := newFakeServer()
	defer srv.Close()

	client, err := Resume(Options{Crypto: newTestCrypto(t)}, types.ClientSession{
		ServerURL:     srv.URL(),
		CorrelationID: "abc123",
		SecretKey:     "secret",
	})
	require.NoError(t, err)
	assert.Equal(t, types.ClientIdle, client.State())

	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.False(t, srv.registered)
}

func TestCloseDeregistersWithCamelCaseKeys(t *testing.T) {
	srv := newFakeServer()
	defer srv.Close()

	client, err := Resume(Options{Crypto: newTestCrypto(t)}, types.ClientSession{
		ServerURL:     srv.URL(),
		CorrelationID: "abc123",
		SecretKey:     "secret",
	})
	require.NoError(t, err)

	require.NoError(t, client.Close(context.Background()))
	assert.Equal(t, types.ClientClosed, client.State())

	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.True(t, srv.deregistered)
	assert.Contains(t, srv.deregisterBody, "correlationID")
	assert.Contains(t, srv.deregisterBody, "secretKey")
}

func TestCloseFailureLeavesClientIdle(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/deregister", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := Resume(Options{Crypto: newTestCrypto(t)}, types.ClientSession{
		ServerURL:     srv.URL,
		CorrelationID: "abc123",
		SecretKey:     "secret",
	})
	require.NoError(t, err)

	err = client.Close(context.Background())
	require.Error(t, err)
	var deregErr *DeregistrationFailedError
	assert.ErrorAs(t, err, &deregErr)
	assert.Equal(t, types.ClientIdle, client.State())
}

func TestCloseWhilePollingReturnsAlreadyPolling(t *testing.T) {
	srv := newFakeServer()
	defer srv.Close()
	srv.setPollPayload(pollResponse{})

	client, err := Resume(Options{
		Crypto:          newTestCrypto(t),
		PollingInterval: minPollingInterval,
	}, types.ClientSession{ServerURL: srv.URL(), CorrelationID: "abc", SecretKey: "sec"})
	require.NoError(t, err)

	require.NoError(t, client.StartPolling(context.Background()))
	defer client.StopPolling()

	err = client.Close(context.Background())
	assert.ErrorIs(t, err, ErrClientAlreadyPolling)
}

func TestStartPollingTwiceFails(t *testing.T) {
	srv := newFakeServer()
	defer srv.Close()

	client, err := Resume(Options{
		Crypto:          newTestCrypto(t),
		PollingInterval: minPollingInterval,
	}, types.ClientSession{ServerURL: srv.URL(), CorrelationID: "abc", SecretKey: "sec"})
	require.NoError(t, err)

	require.NoError(t, client.StartPolling(context.Background()))
	defer client.StopPolling()

	err = client.StartPolling(context.Background())
	assert.ErrorIs(t, err, ErrClientAlreadyPolling)
}

func TestForcePollRequiresPollingState(t *testing.T) {
	srv := newFakeServer()
	defer srv.Close()

	client, err := Resume(Options{Crypto: newTestCrypto(t)}, types.ClientSession{
		ServerURL: srv.URL(), CorrelationID: "abc", SecretKey: "sec",
	})
	require.NoError(t, err)

	err = client.ForcePoll(context.Background())
	assert.ErrorIs(t, err, ErrClientNotPolling)
}

func TestForcePollDecryptsAndDeliversInteraction(t *testing.T) {
	srv := newFakeServer()
	defer srv.Close()

	crypto := newTestCrypto(t)
	plaintext := []byte(`{"protocol":"dns","unique-id":"xyz"}`)
	encKeyB64, secureB64 := encryptWithPublicKey(t, crypto, plaintext)

	srv.setPollPayload(pollResponse{Data: []string{secureB64}, AESKey: encKeyB64})

	client, err := Resume(Options{
		Crypto:          crypto,
		PollingInterval: minPollingInterval,
	}, types.ClientSession{ServerURL: srv.URL(), CorrelationID: "abc", SecretKey: "sec"})
	require.NoError(t, err)

	var received string
	client.opts.OnInteraction = func(raw string) { received = raw }

	require.NoError(t, client.StartPolling(context.Background()))
	defer client.StopPolling()

	require.NoError(t, client.ForcePoll(context.Background()))
	assert.Equal(t, string(plaintext), received)
}

func TestForcePollPropagatesSessionExpired(t *testing.T) {
	srv := newFakeServer()
	defer srv.Close()
	srv.setPollStatus(http.StatusBadRequest)

	client, err := Resume(Options{
		Crypto:          newTestCrypto(t),
		PollingInterval: minPollingInterval,
	}, types.ClientSession{ServerURL: srv.URL(), CorrelationID: "abc", SecretKey: "sec"})
	require.NoError(t, err)

	require.NoError(t, client.StartPolling(context.Background()))
	defer client.StopPolling()

	err = client.ForcePoll(context.Background())
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestPollLoopExitsToIdleOnSessionExpired(t *testing.T) {
	srv := newFakeServer()
	defer srv.Close()
	srv.setPollStatus(http.StatusBadRequest)

	var expiredCalled int32
	client, err := Resume(Options{
		Crypto:          newTestCrypto(t),
		PollingInterval: minPollingInterval,
		OnSessionExpired: func() {
			atomic.StoreInt32(&expiredCalled, 1)
		},
	}, types.ClientSession{ServerURL: srv.URL(), CorrelationID: "abc", SecretKey: "sec"})
	require.NoError(t, err)

	require.NoError(t, client.StartPolling(context.Background()))

	require.Eventually(t, func() bool {
		return client.State() == types.ClientIdle
	}, minPollingInterval+2*time.Second, 20*time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&expiredCalled))
}

func TestStopPollingIsIdempotent(t *testing.T) {
	srv := newFakeServer()
	defer srv.Close()

	client, err := Resume(Options{
		Crypto:          newTestCrypto(t),
		PollingInterval: minPollingInterval,
	}, types.ClientSession{ServerURL: srv.URL(), CorrelationID: "abc", SecretKey: "sec"})
	require.NoError(t, err)

	require.NoError(t, client.StartPolling(context.Background()))
	client.StopPolling()
	client.StopPolling()
	assert.Equal(t, types.ClientIdle, client.State())
}

func TestGenerateURLAfterCloseFails(t *testing.T) {
	srv := newFakeServer()
	defer srv.Close()

	client, err := Resume(Options{Crypto: newTestCrypto(t)}, types.ClientSession{
		ServerURL: srv.URL(), CorrelationID: "abc", SecretKey: "sec",
	})
	require.NoError(t, err)
	require.NoError(t, client.Close(context.Background()))

	_, _, err = client.GenerateURL()
	assert.ErrorIs(t, err, ErrClientClosed)
}

func TestGenerateURLIncludesCorrelationIDPrefix(t *testing.T) {
	srv := newFakeServer()
	defer srv.Close()

	client, err := Resume(Options{Crypto: newTestCrypto(t)}, types.ClientSession{
		ServerURL: srv.URL(), CorrelationID: "abc123", SecretKey: "sec",
	})
	require.NoError(t, err)

	urlStr, uniqueID, err := client.GenerateURL()
	require.NoError(t, err)
	assert.Contains(t, urlStr, uniqueID)
	assert.True(t, strings.HasPrefix(uniqueID, "abc123"))
	assert.Len(t, uniqueID, len("abc123")+DefaultCorrelationIDNonceLength)
}

func TestOptionsRejectsOutOfRangePollingInterval(t *testing.T) {
	_, err := NewSession(context.Background(), Options{
		ServerURL:       "https://example.invalid",
		Crypto:          newTestCrypto(t),
		PollingInterval: 1 * time.Second,
	})
	assert.ErrorIs(t, err, ErrInvalidPollingInterval)
}

func TestParseServerURLsNormalizesScheme(t *testing.T) {
	urls := ParseServerURLs("oast.example.com, https://oast2.example.com")
	assert.Len(t, urls, 2)
	for _, u := range urls {
		assert.Contains(t, u, "://")
	}
}

func TestHTTPFallbackDowngradesScheme(t *testing.T) {
	assert.Equal(t, "http://oast.example.com", HTTPFallback("https://oast.example.com"))
	assert.Equal(t, "http://oast.example.com", HTTPFallback("http://oast.example.com"))
}

// encryptWithPublicKey mirrors the server-side hybrid encryption using
// the Core's own public key, exercised through its exported surface
// only (the test lives in package protocol, not oastcrypto).
func encryptWithPublicKey(t *testing.T, c *oastcrypto.Core, plaintext []byte) (encKeyB64, secureB64 string) {
	t.Helper()

	pemB64, err := c.ExportPublicKeyPEM()
	require.NoError(t, err)

	outer, err := base64.StdEncoding.DecodeString(string(pemB64))
	require.NoError(t, err)
	block, _ := pem.Decode(outer)
	require.NotNil(t, block)

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	require.NoError(t, err)
	pub, ok := parsed.(*rsa.PublicKey)
	require.True(t, ok)

	key := make([]byte, 32)
	_, err = rand.Read(key)
	require.NoError(t, err)

	encKey, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, key, nil)
	require.NoError(t, err)
	encKeyB64 = base64.StdEncoding.EncodeToString(encKey)

	iv := make([]byte, aes.BlockSize)
	_, err = rand.Read(iv)
	require.NoError(t, err)

	cipherBlock, err := aes.NewCipher(key)
	require.NoError(t, err)
	ciphertext := make([]byte, len(plaintext))
	cipher.NewCFBEncrypter(cipherBlock, iv).XORKeyStream(ciphertext, plaintext)

	secureB64 = base64.StdEncoding.EncodeToString(append(append([]byte{}, iv...), ciphertext...))
	return encKeyB64, secureB64
}
