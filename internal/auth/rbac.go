package auth

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

const (
	maxNameLength        = 100
	maxDescriptionLength = 500
)

// RBACService manages machine clients and the role/permission graph.
type RBACService struct {
	store     Store
	directory UserDirectory
	params    Argon2Params
}

// RBACOption configures the RBAC service.
type RBACOption func(*RBACService)

// WithUserDirectory makes user-role assignment reject users unknown to the
// identity provider.
func WithUserDirectory(dir UserDirectory) RBACOption {
	return func(s *RBACService) {
		s.directory = dir
	}
}

// WithHashParams sets the argon2id cost used for new client secrets.
func WithHashParams(p Argon2Params) RBACOption {
	return func(s *RBACService) {
		s.params = p
	}
}

func NewRBACService(store Store, opts ...RBACOption) *RBACService {
	s := &RBACService{store: store, params: DefaultArgon2Params}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// NewClientInput describes a client to register.
type NewClientInput struct {
	Name         string   `json:"client_name"`
	Description  string   `json:"description"`
	CallbackURLs []string `json:"allowed_callback_urls"`
}

// ResolveCapabilities returns the roles of a client and the union of the
// permissions granted to those roles.
func (s *RBACService) ResolveCapabilities(ctx context.Context, clientID string) (Capabilities, error) {
	id, err := parseID("client_id", clientID)
	if err != nil {
		return Capabilities{}, err
	}
	caps, err := s.store.ClientCapabilities(ctx, id)
	if err != nil {
		return Capabilities{}, err
	}
	return NewCapabilities(caps.Roles, caps.Permissions), nil
}

// ResolveUserCapabilities is ResolveCapabilities for end-user identities.
func (s *RBACService) ResolveUserCapabilities(ctx context.Context, userID string) (Capabilities, error) {
	id, err := parseID("user_id", userID)
	if err != nil {
		return Capabilities{}, err
	}
	caps, err := s.store.UserCapabilities(ctx, id)
	if err != nil {
		return Capabilities{}, err
	}
	return NewCapabilities(caps.Roles, caps.Permissions), nil
}

// CreateClient registers an active client and returns it together with the
// plaintext secret. The secret is not recoverable afterwards.
func (s *RBACService) CreateClient(ctx context.Context, in NewClientInput) (Client, string, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Client{}, "", fmt.Errorf("%w: client_name is required", ErrInvalidInput)
	}
	if len(name) > maxNameLength {
		return Client{}, "", fmt.Errorf("%w: client_name too long", ErrInvalidInput)
	}
	desc, err := normalizeDescription(in.Description)
	if err != nil {
		return Client{}, "", err
	}
	callbacks, err := normalizeCallbackURLs(in.CallbackURLs)
	if err != nil {
		return Client{}, "", err
	}

	secret, err := GenerateClientSecret()
	if err != nil {
		return Client{}, "", err
	}
	hash, err := s.params.Hash(secret)
	if err != nil {
		return Client{}, "", err
	}
	client, err := s.store.CreateClient(ctx, Client{
		ID:           uuid.NewString(),
		Name:         name,
		SecretHash:   hash,
		Active:       true,
		Description:  desc,
		CallbackURLs: callbacks,
	})
	if err != nil {
		return Client{}, "", err
	}
	return client, secret, nil
}

func (s *RBACService) GetClient(ctx context.Context, clientID string) (Client, error) {
	id, err := parseID("client_id", clientID)
	if err != nil {
		return Client{}, err
	}
	return s.store.GetClient(ctx, id)
}

func (s *RBACService) ListClients(ctx context.Context) ([]Client, error) {
	return s.store.ListClients(ctx)
}

// SetClientActive toggles whether a client may obtain tokens. Clients are
// deactivated rather than deleted.
func (s *RBACService) SetClientActive(ctx context.Context, clientID string, active bool) (Client, error) {
	id, err := parseID("client_id", clientID)
	if err != nil {
		return Client{}, err
	}
	return s.store.SetClientActive(ctx, id, active)
}

// RotateClientSecret replaces a client's secret and returns the new plaintext.
func (s *RBACService) RotateClientSecret(ctx context.Context, clientID string) (string, error) {
	id, err := parseID("client_id", clientID)
	if err != nil {
		return "", err
	}
	secret, err := GenerateClientSecret()
	if err != nil {
		return "", err
	}
	hash, err := s.params.Hash(secret)
	if err != nil {
		return "", err
	}
	if err := s.store.UpdateClientSecret(ctx, id, hash); err != nil {
		return "", err
	}
	return secret, nil
}

func (s *RBACService) CreateRole(ctx context.Context, name, description string) (Role, error) {
	name, err := normalizeRoleName(name)
	if err != nil {
		return Role{}, err
	}
	desc, err := normalizeDescription(description)
	if err != nil {
		return Role{}, err
	}
	return s.store.CreateRole(ctx, name, desc)
}

func (s *RBACService) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

func (s *RBACService) CreatePermission(ctx context.Context, name, description string) (Permission, error) {
	name, err := normalizePermissionName(name)
	if err != nil {
		return Permission{}, err
	}
	desc, err := normalizeDescription(description)
	if err != nil {
		return Permission{}, err
	}
	return s.store.CreatePermission(ctx, name, desc)
}

func (s *RBACService) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.ListPermissions(ctx)
}

func (s *RBACService) AssignClientRole(ctx context.Context, clientID, roleID string) (ClientRole, error) {
	cid, rid, err := parseIDPair("client_id", clientID, "role_id", roleID)
	if err != nil {
		return ClientRole{}, err
	}
	return s.store.AssignClientRole(ctx, cid, rid)
}

func (s *RBACService) RevokeClientRole(ctx context.Context, clientID, roleID string) error {
	cid, rid, err := parseIDPair("client_id", clientID, "role_id", roleID)
	if err != nil {
		return err
	}
	return s.store.RevokeClientRole(ctx, cid, rid)
}

func (s *RBACService) ListClientRoles(ctx context.Context, clientID string) ([]Role, error) {
	id, err := parseID("client_id", clientID)
	if err != nil {
		return nil, err
	}
	return s.store.ListClientRoles(ctx, id)
}

func (s *RBACService) AssignRolePermission(ctx context.Context, roleID, permissionID string) (RolePermission, error) {
	rid, pid, err := parseIDPair("role_id", roleID, "permission_id", permissionID)
	if err != nil {
		return RolePermission{}, err
	}
	return s.store.AssignRolePermission(ctx, rid, pid)
}

func (s *RBACService) RevokeRolePermission(ctx context.Context, roleID, permissionID string) error {
	rid, pid, err := parseIDPair("role_id", roleID, "permission_id", permissionID)
	if err != nil {
		return err
	}
	return s.store.RevokeRolePermission(ctx, rid, pid)
}

func (s *RBACService) ListRolePermissions(ctx context.Context, roleID string) ([]Permission, error) {
	id, err := parseID("role_id", roleID)
	if err != nil {
		return nil, err
	}
	return s.store.ListRolePermissions(ctx, id)
}

// AssignUserRole grants a role to an end user. When a user directory is
// configured the user must exist there.
func (s *RBACService) AssignUserRole(ctx context.Context, userID, roleID string) (UserRole, error) {
	uid, rid, err := parseIDPair("user_id", userID, "role_id", roleID)
	if err != nil {
		return UserRole{}, err
	}
	if s.directory != nil {
		exists, err := s.directory.UserExists(ctx, uid)
		if err != nil {
			return UserRole{}, fmt.Errorf("%w: identity provider: %v", ErrUnavailable, err)
		}
		if !exists {
			return UserRole{}, fmt.Errorf("%w: user %s", ErrNotFound, uid)
		}
	}
	return s.store.AssignUserRole(ctx, uid, rid)
}

func (s *RBACService) RevokeUserRole(ctx context.Context, userID, roleID string) error {
	uid, rid, err := parseIDPair("user_id", userID, "role_id", roleID)
	if err != nil {
		return err
	}
	return s.store.RevokeUserRole(ctx, uid, rid)
}

func (s *RBACService) ListUserRoles(ctx context.Context, userID string) ([]Role, error) {
	id, err := parseID("user_id", userID)
	if err != nil {
		return nil, err
	}
	return s.store.ListUserRoles(ctx, id)
}

// Bootstrap idempotently ensures the baseline roles, permissions and grants.
func (s *RBACService) Bootstrap(ctx context.Context, baseline Baseline) (BootstrapReport, error) {
	if err := baseline.Validate(); err != nil {
		return BootstrapReport{}, err
	}
	return s.store.ApplyBaseline(ctx, baseline)
}

func parseID(field, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidInput, field)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %s must be a UUID", ErrInvalidInput, field)
	}
	return id.String(), nil
}

func parseIDPair(f1, v1, f2, v2 string) (string, string, error) {
	a, err := parseID(f1, v1)
	if err != nil {
		return "", "", err
	}
	b, err := parseID(f2, v2)
	if err != nil {
		return "", "", err
	}
	return a, b, nil
}

func normalizeRoleName(name string) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "", fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	if len(name) > maxNameLength {
		return "", fmt.Errorf("%w: role name too long", ErrInvalidInput)
	}
	if strings.ContainsAny(name, " \t\r\n") {
		return "", fmt.Errorf("%w: role name cannot contain whitespace", ErrInvalidInput)
	}
	return name, nil
}

func normalizePermissionName(name string) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "", fmt.Errorf("%w: permission name is required", ErrInvalidInput)
	}
	if len(name) > maxNameLength {
		return "", fmt.Errorf("%w: permission name too long", ErrInvalidInput)
	}
	if name == GrantAll || strings.ContainsAny(name, " \t\r\n") {
		return "", fmt.Errorf("%w: invalid permission name %q", ErrInvalidInput, name)
	}
	return name, nil
}

func normalizeDescription(desc string) (string, error) {
	desc = strings.TrimSpace(desc)
	if len(desc) > maxDescriptionLength {
		return "", fmt.Errorf("%w: description too long", ErrInvalidInput)
	}
	return desc, nil
}

func normalizeCallbackURLs(raw []string) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		u, err := url.Parse(r)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("%w: invalid callback url %q", ErrInvalidInput, r)
		}
		out = append(out, u.String())
	}
	return out, nil
}
