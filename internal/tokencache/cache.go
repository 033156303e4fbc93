// Package tokencache obtains M2M access tokens from the auth service and
// reuses them until shortly before they expire.
package tokencache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"
)

const (
	// TokenPath is appended to the auth service base URL.
	TokenPath = "/api/v1/auth/token"

	DefaultSafetyMargin = 60 * time.Second
	DefaultTimeout      = 10 * time.Second

	maxErrorBody = 4 << 10
)

var (
	// ErrUnauthorized is returned by Do when the downstream service rejects
	// the request even after one forced refresh.
	ErrUnauthorized = errors.New("tokencache: unauthorized after token refresh")
	// ErrIssuer wraps non-success responses from the token endpoint.
	ErrIssuer = errors.New("tokencache: token request rejected")
)

// Config holds the client credentials and endpoint of the auth service.
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	SafetyMargin time.Duration
	HTTPClient   *http.Client
	Now          func() time.Time
}

// Cache holds at most one token. It is safe for concurrent use; concurrent
// refreshes share a single request to the issuer.
type Cache struct {
	tokenURL     string
	clientID     string
	clientSecret string
	margin       time.Duration
	http         *http.Client
	now          func() time.Time

	group singleflight.Group

	mu     sync.Mutex
	token  string
	expiry time.Time
}

func New(cfg Config) (*Cache, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("tokencache: base url is required")
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("tokencache: client credentials are required")
	}
	c := &Cache{
		tokenURL:     base + TokenPath,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		margin:       cfg.SafetyMargin,
		http:         cfg.HTTPClient,
		now:          cfg.Now,
	}
	if c.margin < 0 {
		return nil, errors.New("tokencache: safety margin cannot be negative")
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: DefaultTimeout}
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// Token returns the cached token while it is still fresh, otherwise fetches
// a new one. Any fetch failure clears the cache.
func (c *Cache) Token(ctx context.Context, forceRefresh bool) (string, error) {
	if !forceRefresh {
		if tok, ok := c.cached(); ok {
			return tok, nil
		}
	}
	key := "cached"
	if forceRefresh {
		key = "forced"
	}
	ch := c.group.DoChan(key, func() (any, error) {
		if !forceRefresh {
			if tok, ok := c.cached(); ok {
				return tok, nil
			}
		}
		return c.refresh(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// AuthHeader returns the Authorization header value for the current token.
func (c *Cache) AuthHeader(ctx context.Context, forceRefresh bool) (string, error) {
	tok, err := c.Token(ctx, forceRefresh)
	if err != nil {
		return "", err
	}
	return "Bearer " + tok, nil
}

// Invalidate drops the cached token.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.token, c.expiry = "", time.Time{}
	c.mu.Unlock()
}

// Expiry reports when the cached token stops being served, if one is cached.
func (c *Cache) Expiry() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expiry, c.token != ""
}

// Do sends a request built by newRequest with the current token. On a 401 it
// forces one refresh and retries once; a second 401 returns ErrUnauthorized.
// newRequest is called once per attempt so request bodies can be rebuilt.
func (c *Cache) Do(ctx context.Context, newRequest func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	resp, err := c.attempt(ctx, newRequest, false)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	drain(resp)

	resp, err = c.attempt(ctx, newRequest, true)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		drain(resp)
		return nil, ErrUnauthorized
	}
	return resp, nil
}

func (c *Cache) attempt(ctx context.Context, newRequest func(ctx context.Context) (*http.Request, error), force bool) (*http.Response, error) {
	header, err := c.AuthHeader(ctx, force)
	if err != nil {
		return nil, err
	}
	req, err := newRequest(ctx)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", header)
	return c.http.Do(req)
}

func (c *Cache) cached() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.now().Before(c.expiry) {
		return c.token, true
	}
	return "", false
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (c *Cache) refresh(ctx context.Context) (string, error) {
	tok, expiry, err := c.fetch(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.token, c.expiry = "", time.Time{}
		return "", err
	}
	c.token, c.expiry = tok, expiry
	return tok, nil
}

func (c *Cache) fetch(ctx context.Context) (string, time.Time, error) {
	body, err := json.Marshal(map[string]string{
		"grant_type":    "client_credentials",
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
	})
	if err != nil {
		return "", time.Time{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, bytes.NewReader(body))
	if err != nil {
		return "", time.Time{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	fetchedAt := c.now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("tokencache: request token: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("tokencache: read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := gjson.GetBytes(raw, "error").String()
		if msg == "" {
			msg = strings.TrimSpace(string(raw[:min(len(raw), maxErrorBody)]))
		}
		return "", time.Time{}, fmt.Errorf("%w: status %d: %s", ErrIssuer, resp.StatusCode, msg)
	}

	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return "", time.Time{}, fmt.Errorf("tokencache: decode token response: %w", err)
	}
	if tr.AccessToken == "" || tr.ExpiresIn <= 0 {
		return "", time.Time{}, errors.New("tokencache: token response missing access_token or expires_in")
	}
	expiry := fetchedAt.Add(time.Duration(tr.ExpiresIn)*time.Second - c.margin)
	return tr.AccessToken, expiry, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	_ = resp.Body.Close()
}
