package auth

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store used for local development and tests.
type MemoryStore struct {
	mu          sync.RWMutex
	now         func() time.Time
	clients     map[string]Client
	roles       map[string]Role
	permissions map[string]Permission
	clientRoles map[string]map[string]time.Time
	rolePerms   map[string]map[string]time.Time
	userRoles   map[string]map[string]time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:         func() time.Time { return time.Now().UTC() },
		clients:     make(map[string]Client),
		roles:       make(map[string]Role),
		permissions: make(map[string]Permission),
		clientRoles: make(map[string]map[string]time.Time),
		rolePerms:   make(map[string]map[string]time.Time),
		userRoles:   make(map[string]map[string]time.Time),
	}
}

func (m *MemoryStore) CreateClient(_ context.Context, c Client) (Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clients[c.ID]; ok {
		return Client{}, ErrConflict
	}
	for _, existing := range m.clients {
		if existing.Name == c.Name {
			return Client{}, ErrConflict
		}
	}
	now := m.now()
	c.CreatedAt, c.UpdatedAt = now, now
	m.clients[c.ID] = c
	return c, nil
}

func (m *MemoryStore) GetClient(_ context.Context, clientID string) (Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[clientID]
	if !ok {
		return Client{}, ErrNotFound
	}
	return c, nil
}

func (m *MemoryStore) ListClients(_ context.Context) ([]Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Client, 0, len(m.clients))
	for _, c := range m.clients {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) SetClientActive(_ context.Context, clientID string, active bool) (Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[clientID]
	if !ok {
		return Client{}, ErrNotFound
	}
	c.Active = active
	c.UpdatedAt = m.now()
	m.clients[clientID] = c
	return c, nil
}

func (m *MemoryStore) UpdateClientSecret(_ context.Context, clientID, secretHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[clientID]
	if !ok {
		return ErrNotFound
	}
	c.SecretHash = secretHash
	c.UpdatedAt = m.now()
	m.clients[clientID] = c
	return nil
}

func (m *MemoryStore) CreateRole(_ context.Context, name, description string) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roleByName(name); ok {
		return Role{}, ErrConflict
	}
	now := m.now()
	r := Role{ID: uuid.NewString(), Name: name, Description: description, CreatedAt: now, UpdatedAt: now}
	m.roles[r.ID] = r
	return r, nil
}

func (m *MemoryStore) ListRoles(_ context.Context) ([]Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sortedRoles(nil), nil
}

func (m *MemoryStore) CreatePermission(_ context.Context, name, description string) (Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.permissionByName(name); ok {
		return Permission{}, ErrConflict
	}
	now := m.now()
	p := Permission{ID: uuid.NewString(), Name: name, Description: description, CreatedAt: now, UpdatedAt: now}
	m.permissions[p.ID] = p
	return p, nil
}

func (m *MemoryStore) ListPermissions(_ context.Context) ([]Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sortedPermissions(nil), nil
}

func (m *MemoryStore) AssignClientRole(_ context.Context, clientID, roleID string) (ClientRole, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clients[clientID]; !ok {
		return ClientRole{}, ErrNotFound
	}
	if _, ok := m.roles[roleID]; !ok {
		return ClientRole{}, ErrNotFound
	}
	at, err := link(m.clientRoles, clientID, roleID, m.now())
	if err != nil {
		return ClientRole{}, err
	}
	return ClientRole{ClientID: clientID, RoleID: roleID, AssignedAt: at}, nil
}

func (m *MemoryStore) RevokeClientRole(_ context.Context, clientID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return unlink(m.clientRoles, clientID, roleID)
}

func (m *MemoryStore) ListClientRoles(_ context.Context, clientID string) ([]Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.clients[clientID]; !ok {
		return nil, ErrNotFound
	}
	return m.sortedRoles(edgesOf(m.clientRoles, clientID)), nil
}

func (m *MemoryStore) AssignRolePermission(_ context.Context, roleID, permissionID string) (RolePermission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[roleID]; !ok {
		return RolePermission{}, ErrNotFound
	}
	if _, ok := m.permissions[permissionID]; !ok {
		return RolePermission{}, ErrNotFound
	}
	at, err := link(m.rolePerms, roleID, permissionID, m.now())
	if err != nil {
		return RolePermission{}, err
	}
	return RolePermission{RoleID: roleID, PermissionID: permissionID, AssignedAt: at}, nil
}

func (m *MemoryStore) RevokeRolePermission(_ context.Context, roleID, permissionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return unlink(m.rolePerms, roleID, permissionID)
}

func (m *MemoryStore) ListRolePermissions(_ context.Context, roleID string) ([]Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.roles[roleID]; !ok {
		return nil, ErrNotFound
	}
	return m.sortedPermissions(edgesOf(m.rolePerms, roleID)), nil
}

func (m *MemoryStore) AssignUserRole(_ context.Context, userID, roleID string) (UserRole, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[roleID]; !ok {
		return UserRole{}, ErrNotFound
	}
	at, err := link(m.userRoles, userID, roleID, m.now())
	if err != nil {
		return UserRole{}, err
	}
	return UserRole{UserID: userID, RoleID: roleID, AssignedAt: at}, nil
}

func (m *MemoryStore) RevokeUserRole(_ context.Context, userID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return unlink(m.userRoles, userID, roleID)
}

func (m *MemoryStore) ListUserRoles(_ context.Context, userID string) ([]Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sortedRoles(edgesOf(m.userRoles, userID)), nil
}

func (m *MemoryStore) ClientCapabilities(_ context.Context, clientID string) (Capabilities, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.capabilities(m.clientRoles[clientID]), nil
}

func (m *MemoryStore) UserCapabilities(_ context.Context, userID string) (Capabilities, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.capabilities(m.userRoles[userID]), nil
}

func (m *MemoryStore) ApplyBaseline(_ context.Context, b Baseline) (BootstrapReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var report BootstrapReport
	now := m.now()
	for _, e := range b.Roles {
		if _, ok := m.roleByName(e.Name); ok {
			continue
		}
		r := Role{ID: uuid.NewString(), Name: e.Name, Description: e.Description, CreatedAt: now, UpdatedAt: now}
		m.roles[r.ID] = r
		report.RolesCreated++
	}
	for _, e := range b.Permissions {
		if _, ok := m.permissionByName(e.Name); ok {
			continue
		}
		p := Permission{ID: uuid.NewString(), Name: e.Name, Description: e.Description, CreatedAt: now, UpdatedAt: now}
		m.permissions[p.ID] = p
		report.PermissionsCreated++
	}
	for _, g := range b.Grants {
		role, ok := m.roleByName(g.Role)
		if !ok {
			continue
		}
		for _, name := range g.Permissions {
			var targets []Permission
			if name == GrantAll {
				targets = m.sortedPermissions(nil)
			} else if p, ok := m.permissionByName(name); ok {
				targets = []Permission{p}
			}
			for _, p := range targets {
				if _, err := link(m.rolePerms, role.ID, p.ID, now); err == nil {
					report.GrantsCreated++
				}
			}
		}
	}
	return report, nil
}

func (m *MemoryStore) capabilities(roleIDs map[string]time.Time) Capabilities {
	var roles, perms []string
	for roleID := range roleIDs {
		r, ok := m.roles[roleID]
		if !ok {
			continue
		}
		roles = append(roles, r.Name)
		for permID := range m.rolePerms[roleID] {
			if p, ok := m.permissions[permID]; ok {
				perms = append(perms, p.Name)
			}
		}
	}
	return NewCapabilities(roles, perms)
}

func (m *MemoryStore) roleByName(name string) (Role, bool) {
	for _, r := range m.roles {
		if r.Name == name {
			return r, true
		}
	}
	return Role{}, false
}

func (m *MemoryStore) permissionByName(name string) (Permission, bool) {
	for _, p := range m.permissions {
		if p.Name == name {
			return p, true
		}
	}
	return Permission{}, false
}

// sortedRoles returns the roles whose ids are in filter, or all roles when
// filter is nil.
func (m *MemoryStore) sortedRoles(filter map[string]time.Time) []Role {
	out := []Role{}
	for id, r := range m.roles {
		if filter != nil {
			if _, ok := filter[id]; !ok {
				continue
			}
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *MemoryStore) sortedPermissions(filter map[string]time.Time) []Permission {
	out := []Permission{}
	for id, p := range m.permissions {
		if filter != nil {
			if _, ok := filter[id]; !ok {
				continue
			}
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func edgesOf(edges map[string]map[string]time.Time, from string) map[string]time.Time {
	if set, ok := edges[from]; ok {
		return set
	}
	return map[string]time.Time{}
}

func link(edges map[string]map[string]time.Time, from, to string, at time.Time) (time.Time, error) {
	set, ok := edges[from]
	if !ok {
		set = make(map[string]time.Time)
		edges[from] = set
	}
	if _, dup := set[to]; dup {
		return time.Time{}, ErrConflict
	}
	set[to] = at
	return at, nil
}

func unlink(edges map[string]map[string]time.Time, from, to string) error {
	set, ok := edges[from]
	if !ok {
		return ErrNotFound
	}
	if _, ok := set[to]; !ok {
		return ErrNotFound
	}
	delete(set, to)
	if len(set) == 0 {
		delete(edges, from)
	}
	return nil
}
