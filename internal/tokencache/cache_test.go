package tokencache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testClientID     = "11111111-1111-4111-8111-111111111111"
	testClientSecret = "s3cret"
)

type issuerStub struct {
	calls     atomic.Int32
	status    atomic.Int32
	expiresIn int64
	delay     time.Duration
}

func (s *issuerStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n := s.calls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if r.URL.Path != TokenPath || r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var body map[string]string
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil ||
		body["grant_type"] != "client_credentials" ||
		body["client_id"] != testClientID ||
		body["client_secret"] != testClientSecret {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if code := s.status.Load(); code != 0 && code != http.StatusOK {
		w.WriteHeader(int(code))
		_, _ = w.Write([]byte(`{"error":"invalid client credentials"}`))
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token": fmt.Sprintf("token-%d", n),
		"token_type":   "Bearer",
		"expires_in":   s.expiresIn,
	})
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestCache(t *testing.T, stub *issuerStub, clk *clock) *Cache {
	t.Helper()
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)
	cfg := Config{
		BaseURL:      srv.URL + "/",
		ClientID:     testClientID,
		ClientSecret: testClientSecret,
		SafetyMargin: DefaultSafetyMargin,
	}
	if clk != nil {
		cfg.Now = clk.Now
	}
	c, err := New(cfg)
	require.NoError(t, err)
	return c
}

func TestTokenIsCachedUntilMargin(t *testing.T) {
	stub := &issuerStub{expiresIn: 120}
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	c := newTestCache(t, stub, clk)
	ctx := context.Background()

	first, err := c.Token(ctx, false)
	require.NoError(t, err)
	second, err := c.Token(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, stub.calls.Load())

	expiry, ok := c.Expiry()
	require.True(t, ok)
	assert.Equal(t, clk.Now().Add(60*time.Second), expiry)

	clk.Advance(61 * time.Second)
	third, err := c.Token(ctx, false)
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
	assert.EqualValues(t, 2, stub.calls.Load())
}

func TestForceRefresh(t *testing.T) {
	stub := &issuerStub{expiresIn: 1800}
	c := newTestCache(t, stub, nil)

	first, err := c.Token(context.Background(), false)
	require.NoError(t, err)
	forced, err := c.AuthHeader(context.Background(), true)
	require.NoError(t, err)
	assert.NotEqual(t, "Bearer "+first, forced)
	assert.EqualValues(t, 2, stub.calls.Load())
}

func TestFailureClearsCache(t *testing.T) {
	stub := &issuerStub{expiresIn: 1800}
	c := newTestCache(t, stub, nil)

	_, err := c.Token(context.Background(), false)
	require.NoError(t, err)

	stub.status.Store(http.StatusUnauthorized)
	_, err = c.Token(context.Background(), true)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIssuer)
	assert.Contains(t, err.Error(), "invalid client credentials")

	_, ok := c.Expiry()
	assert.False(t, ok, "a failed refresh must not leave a stale token behind")

	stub.status.Store(http.StatusOK)
	_, err = c.Token(context.Background(), false)
	require.NoError(t, err)
	assert.EqualValues(t, 3, stub.calls.Load())
}

func TestTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(Config{BaseURL: url, ClientID: testClientID, ClientSecret: testClientSecret})
	require.NoError(t, err)
	_, err = c.Token(context.Background(), false)
	assert.Error(t, err)
}

func TestConcurrentRefreshSharesOneCall(t *testing.T) {
	stub := &issuerStub{expiresIn: 1800, delay: 50 * time.Millisecond}
	c := newTestCache(t, stub, nil)

	var wg sync.WaitGroup
	tokens := make([]string, 16)
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := c.Token(context.Background(), false)
			assert.NoError(t, err)
			tokens[i] = tok
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, stub.calls.Load())
	for _, tok := range tokens {
		assert.Equal(t, tokens[0], tok)
	}
}

func TestDoRetriesOnceOn401(t *testing.T) {
	stub := &issuerStub{expiresIn: 1800}
	c := newTestCache(t, stub, nil)

	var downstreamCalls atomic.Int32
	var seen []string
	var mu sync.Mutex
	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Header.Get("Authorization"))
		mu.Unlock()
		if downstreamCalls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer downstream.Close()

	resp, err := c.Do(context.Background(), func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, downstream.URL, nil)
	})
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, downstreamCalls.Load())
	assert.EqualValues(t, 2, stub.calls.Load())
	require.Len(t, seen, 2)
	assert.NotEqual(t, seen[0], seen[1], "retry must carry a refreshed token")
}

func TestDoGivesUpAfterSecond401(t *testing.T) {
	stub := &issuerStub{expiresIn: 1800}
	c := newTestCache(t, stub, nil)

	var downstreamCalls atomic.Int32
	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		downstreamCalls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer downstream.Close()

	_, err := c.Do(context.Background(), func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, downstream.URL, nil)
	})
	assert.True(t, errors.Is(err, ErrUnauthorized))
	assert.EqualValues(t, 2, downstreamCalls.Load())
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{ClientID: "a", ClientSecret: "b"})
	assert.Error(t, err)
	_, err = New(Config{BaseURL: "http://auth"})
	assert.Error(t, err)
	_, err = New(Config{BaseURL: "http://auth", ClientID: "a", ClientSecret: "b", SafetyMargin: -time.Second})
	assert.Error(t, err)
}
