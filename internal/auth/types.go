package auth

import (
	"sort"
	"strings"
	"time"
)

// Client is a registered machine identity allowed to request tokens.
type Client struct {
	ID           string    `json:"id"`
	Name         string    `json:"client_name"`
	SecretHash   string    `json:"-"`
	Active       bool      `json:"is_active"`
	Description  string    `json:"description,omitempty"`
	CallbackURLs []string  `json:"allowed_callback_urls,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Permission struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type ClientRole struct {
	ClientID   string    `json:"client_id"`
	RoleID     string    `json:"role_id"`
	AssignedAt time.Time `json:"assigned_at"`
}

type RolePermission struct {
	RoleID       string    `json:"role_id"`
	PermissionID string    `json:"permission_id"`
	AssignedAt   time.Time `json:"assigned_at"`
}

// UserRole binds an end-user identity, owned by the external identity
// provider, to a local role.
type UserRole struct {
	UserID     string    `json:"user_id"`
	RoleID     string    `json:"role_id"`
	AssignedAt time.Time `json:"assigned_at"`
}

// Capabilities is the resolved role and permission set of a principal.
type Capabilities struct {
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

// NewCapabilities builds a normalized capability set: names are trimmed,
// deduplicated and sorted. Both slices are non-nil.
func NewCapabilities(roles, permissions []string) Capabilities {
	return Capabilities{
		Roles:       dedupeStrings(roles),
		Permissions: dedupeStrings(permissions),
	}
}

func (c Capabilities) HasPermission(name string) bool {
	return containsString(c.Permissions, name)
}

func (c Capabilities) HasRole(name string) bool {
	return containsString(c.Roles, name)
}

func dedupeStrings(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func containsString(values []string, want string) bool {
	want = strings.TrimSpace(want)
	if want == "" {
		return false
	}
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
