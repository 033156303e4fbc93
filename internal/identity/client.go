// Package identity talks to the hosted identity provider that owns end-user
// accounts.
package identity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"paservices.dev/internal/auth"
)

var (
	ErrUserNotFound = errors.New("identity: user not found")
	ErrUnavailable  = errors.New("identity: provider unavailable")
)

const usersPath = "/auth/v1/admin/users/"

// User is the subset of the provider's user object the auth service needs.
type User struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	ConfirmedAt *time.Time `json:"email_confirmed_at,omitempty"`
}

// Client calls the provider's admin API with a service-role key.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

var _ auth.UserDirectory = (*Client)(nil)

func NewClient(baseURL, apiKey string, httpClient *http.Client) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" || apiKey == "" {
		return nil, errors.New("identity: base url and api key are required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: baseURL, apiKey: apiKey, http: httpClient}, nil
}

// GetUser fetches one user by id.
func (c *Client) GetUser(ctx context.Context, userID string) (User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+usersPath+url.PathEscape(userID), nil)
	if err != nil {
		return User{}, err
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return User{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return User{}, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return User{}, ErrUserNotFound
	case resp.StatusCode >= 500:
		return User{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return User{}, fmt.Errorf("identity: unexpected status %d: %s", resp.StatusCode, errorMessage(body))
	}

	// Some provider versions wrap the object in {"user": {...}}.
	obj := gjson.ParseBytes(body)
	if u := obj.Get("user"); u.IsObject() {
		obj = u
	}
	user := User{
		ID:    obj.Get("id").String(),
		Email: obj.Get("email").String(),
	}
	if user.ID == "" {
		return User{}, errors.New("identity: user object has no id")
	}
	if raw := obj.Get("email_confirmed_at").String(); raw != "" {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			ts = ts.UTC()
			user.ConfirmedAt = &ts
		}
	}
	return user, nil
}

// UserExists reports whether the provider knows userID.
func (c *Client) UserExists(ctx context.Context, userID string) (bool, error) {
	_, err := c.GetUser(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func errorMessage(body []byte) string {
	for _, path := range []string{"msg", "message", "error_description", "error"} {
		if v := gjson.GetBytes(body, path); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return strings.TrimSpace(string(body))
}
