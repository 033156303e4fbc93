package pg

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"paservices.dev/internal/auth"
)

func (s *Store) CreateRole(ctx context.Context, name, description string) (auth.Role, error) {
	if s.db == nil {
		return auth.Role{}, errNoDB
	}
	var (
		role auth.Role
		desc sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		insert into roles (id, name, description)
		values ($1, $2, $3)
		returning id, name, description, created_at, updated_at
	`, uuid.NewString(), name, nullIfEmpty(description)).Scan(&role.ID, &role.Name, &desc, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		return auth.Role{}, mapWriteError(err)
	}
	role.Description = desc.String
	return role, nil
}

func (s *Store) ListRoles(ctx context.Context) ([]auth.Role, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	return s.queryRoles(ctx, `select id, name, description, created_at, updated_at from roles order by name`)
}

func (s *Store) CreatePermission(ctx context.Context, name, description string) (auth.Permission, error) {
	if s.db == nil {
		return auth.Permission{}, errNoDB
	}
	var (
		perm auth.Permission
		desc sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		insert into permissions (id, name, description)
		values ($1, $2, $3)
		returning id, name, description, created_at, updated_at
	`, uuid.NewString(), name, nullIfEmpty(description)).Scan(&perm.ID, &perm.Name, &desc, &perm.CreatedAt, &perm.UpdatedAt)
	if err != nil {
		return auth.Permission{}, mapWriteError(err)
	}
	perm.Description = desc.String
	return perm, nil
}

func (s *Store) ListPermissions(ctx context.Context) ([]auth.Permission, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	return s.queryPermissions(ctx, `select id, name, description, created_at, updated_at from permissions order by name`)
}

func (s *Store) AssignClientRole(ctx context.Context, clientID, roleID string) (auth.ClientRole, error) {
	at, err := s.link(ctx, `insert into client_roles (client_id, role_id) values ($1, $2) returning assigned_at`, clientID, roleID)
	if err != nil {
		return auth.ClientRole{}, err
	}
	return auth.ClientRole{ClientID: clientID, RoleID: roleID, AssignedAt: at}, nil
}

func (s *Store) RevokeClientRole(ctx context.Context, clientID, roleID string) error {
	return s.unlink(ctx, `delete from client_roles where client_id = $1 and role_id = $2`, clientID, roleID)
}

func (s *Store) ListClientRoles(ctx context.Context, clientID string) ([]auth.Role, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	if err := s.mustExist(ctx, `select exists(select 1 from clients where id = $1)`, clientID); err != nil {
		return nil, err
	}
	return s.queryRoles(ctx, `
		select r.id, r.name, r.description, r.created_at, r.updated_at
		from roles r
		join client_roles cr on cr.role_id = r.id
		where cr.client_id = $1
		order by r.name
	`, clientID)
}

func (s *Store) AssignRolePermission(ctx context.Context, roleID, permissionID string) (auth.RolePermission, error) {
	at, err := s.link(ctx, `insert into role_permissions (role_id, permission_id) values ($1, $2) returning assigned_at`, roleID, permissionID)
	if err != nil {
		return auth.RolePermission{}, err
	}
	return auth.RolePermission{RoleID: roleID, PermissionID: permissionID, AssignedAt: at}, nil
}

func (s *Store) RevokeRolePermission(ctx context.Context, roleID, permissionID string) error {
	return s.unlink(ctx, `delete from role_permissions where role_id = $1 and permission_id = $2`, roleID, permissionID)
}

func (s *Store) ListRolePermissions(ctx context.Context, roleID string) ([]auth.Permission, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	if err := s.mustExist(ctx, `select exists(select 1 from roles where id = $1)`, roleID); err != nil {
		return nil, err
	}
	return s.queryPermissions(ctx, `
		select p.id, p.name, p.description, p.created_at, p.updated_at
		from permissions p
		join role_permissions rp on rp.permission_id = p.id
		where rp.role_id = $1
		order by p.name
	`, roleID)
}

func (s *Store) AssignUserRole(ctx context.Context, userID, roleID string) (auth.UserRole, error) {
	at, err := s.link(ctx, `insert into user_roles (user_id, role_id) values ($1, $2) returning assigned_at`, userID, roleID)
	if err != nil {
		return auth.UserRole{}, err
	}
	return auth.UserRole{UserID: userID, RoleID: roleID, AssignedAt: at}, nil
}

func (s *Store) RevokeUserRole(ctx context.Context, userID, roleID string) error {
	return s.unlink(ctx, `delete from user_roles where user_id = $1 and role_id = $2`, userID, roleID)
}

func (s *Store) ListUserRoles(ctx context.Context, userID string) ([]auth.Role, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	return s.queryRoles(ctx, `
		select r.id, r.name, r.description, r.created_at, r.updated_at
		from roles r
		join user_roles ur on ur.role_id = r.id
		where ur.user_id = $1
		order by r.name
	`, userID)
}

func (s *Store) ClientCapabilities(ctx context.Context, clientID string) (auth.Capabilities, error) {
	return s.capabilities(ctx, `
		select r.name, p.name
		from client_roles cr
		join roles r on r.id = cr.role_id
		left join role_permissions rp on rp.role_id = r.id
		left join permissions p on p.id = rp.permission_id
		where cr.client_id = $1
	`, clientID)
}

func (s *Store) UserCapabilities(ctx context.Context, userID string) (auth.Capabilities, error) {
	return s.capabilities(ctx, `
		select r.name, p.name
		from user_roles ur
		join roles r on r.id = ur.role_id
		left join role_permissions rp on rp.role_id = r.id
		left join permissions p on p.id = rp.permission_id
		where ur.user_id = $1
	`, userID)
}

func (s *Store) capabilities(ctx context.Context, query, principal string) (auth.Capabilities, error) {
	if s.db == nil {
		return auth.Capabilities{}, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, query, principal)
	if err != nil {
		return auth.Capabilities{}, mapReadError(err)
	}
	defer rows.Close()

	var roles, perms []string
	for rows.Next() {
		var (
			role string
			perm sql.NullString
		)
		if err := rows.Scan(&role, &perm); err != nil {
			return auth.Capabilities{}, mapReadError(err)
		}
		roles = append(roles, role)
		if perm.Valid {
			perms = append(perms, perm.String)
		}
	}
	if err := rows.Err(); err != nil {
		return auth.Capabilities{}, mapReadError(err)
	}
	return auth.NewCapabilities(roles, perms), nil
}

// link inserts one edge of the graph. A duplicate edge is ErrConflict and a
// missing endpoint is ErrNotFound.
func (s *Store) link(ctx context.Context, query, from, to string) (time.Time, error) {
	if s.db == nil {
		return time.Time{}, errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return time.Time{}, mapReadError(err)
	}
	defer func() { _ = tx.Rollback() }()

	var at time.Time
	if err := tx.QueryRowContext(ctx, query, from, to).Scan(&at); err != nil {
		return time.Time{}, mapWriteError(err)
	}
	if err := tx.Commit(); err != nil {
		return time.Time{}, mapReadError(err)
	}
	return at, nil
}

func (s *Store) unlink(ctx context.Context, query, from, to string) error {
	if s.db == nil {
		return errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapReadError(err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, query, from, to)
	if err != nil {
		return mapReadError(err)
	}
	if err := requireAffected(res); err != nil {
		return mapReadError(err)
	}
	return mapReadError(tx.Commit())
}

func (s *Store) mustExist(ctx context.Context, query, id string) error {
	var exists bool
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&exists); err != nil {
		return mapReadError(err)
	}
	if !exists {
		return auth.ErrNotFound
	}
	return nil
}

func (s *Store) queryRoles(ctx context.Context, query string, args ...any) ([]auth.Role, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapReadError(err)
	}
	defer rows.Close()

	result := []auth.Role{}
	for rows.Next() {
		var (
			role auth.Role
			desc sql.NullString
		)
		if err := rows.Scan(&role.ID, &role.Name, &desc, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, mapReadError(err)
		}
		role.Description = desc.String
		result = append(result, role)
	}
	if err := rows.Err(); err != nil {
		return nil, mapReadError(err)
	}
	return result, nil
}

func (s *Store) queryPermissions(ctx context.Context, query string, args ...any) ([]auth.Permission, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapReadError(err)
	}
	defer rows.Close()

	result := []auth.Permission{}
	for rows.Next() {
		var (
			perm auth.Permission
			desc sql.NullString
		)
		if err := rows.Scan(&perm.ID, &perm.Name, &desc, &perm.CreatedAt, &perm.UpdatedAt); err != nil {
			return nil, mapReadError(err)
		}
		perm.Description = desc.String
		result = append(result, perm)
	}
	if err := rows.Err(); err != nil {
		return nil, mapReadError(err)
	}
	return result, nil
}
