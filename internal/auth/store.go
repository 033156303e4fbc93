package auth

import "context"

// ClientStore persists registered machine clients.
type ClientStore interface {
	CreateClient(ctx context.Context, client Client) (Client, error)
	GetClient(ctx context.Context, clientID string) (Client, error)
	ListClients(ctx context.Context) ([]Client, error)
	SetClientActive(ctx context.Context, clientID string, active bool) (Client, error)
	UpdateClientSecret(ctx context.Context, clientID, secretHash string) error
}

// CapabilityStore resolves the permission graph for a principal.
type CapabilityStore interface {
	ClientCapabilities(ctx context.Context, clientID string) (Capabilities, error)
	UserCapabilities(ctx context.Context, userID string) (Capabilities, error)
}

// GraphStore persists roles, permissions and their assignments.
// Every mutating call runs in its own transaction.
type GraphStore interface {
	CapabilityStore

	CreateRole(ctx context.Context, name, description string) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	CreatePermission(ctx context.Context, name, description string) (Permission, error)
	ListPermissions(ctx context.Context) ([]Permission, error)

	AssignClientRole(ctx context.Context, clientID, roleID string) (ClientRole, error)
	RevokeClientRole(ctx context.Context, clientID, roleID string) error
	ListClientRoles(ctx context.Context, clientID string) ([]Role, error)

	AssignRolePermission(ctx context.Context, roleID, permissionID string) (RolePermission, error)
	RevokeRolePermission(ctx context.Context, roleID, permissionID string) error
	ListRolePermissions(ctx context.Context, roleID string) ([]Permission, error)

	AssignUserRole(ctx context.Context, userID, roleID string) (UserRole, error)
	RevokeUserRole(ctx context.Context, userID, roleID string) error
	ListUserRoles(ctx context.Context, userID string) ([]Role, error)

	ApplyBaseline(ctx context.Context, baseline Baseline) (BootstrapReport, error)
}

// Store is the full persistence surface of the auth service.
type Store interface {
	ClientStore
	GraphStore
}

// UserDirectory answers whether an end-user identity exists in the external
// identity provider.
type UserDirectory interface {
	UserExists(ctx context.Context, userID string) (bool, error)
}
