package pg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"paservices.dev/internal/auth"
)

// ApplyBaseline inserts missing baseline rows in a single transaction.
// Existing rows are left untouched, so a rerun reports zero insertions.
func (s *Store) ApplyBaseline(ctx context.Context, b auth.Baseline) (auth.BootstrapReport, error) {
	if s.db == nil {
		return auth.BootstrapReport{}, errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return auth.BootstrapReport{}, mapReadError(err)
	}
	defer func() { _ = tx.Rollback() }()

	var report auth.BootstrapReport
	for _, r := range b.Roles {
		n, err := execCount(ctx, tx, `
			insert into roles (id, name, description) values ($1, $2, $3)
			on conflict (name) do nothing
		`, uuid.NewString(), r.Name, nullIfEmpty(r.Description))
		if err != nil {
			return auth.BootstrapReport{}, fmt.Errorf("ensure role %s: %w", r.Name, err)
		}
		report.RolesCreated += n
	}
	for _, p := range b.Permissions {
		n, err := execCount(ctx, tx, `
			insert into permissions (id, name, description) values ($1, $2, $3)
			on conflict (name) do nothing
		`, uuid.NewString(), p.Name, nullIfEmpty(p.Description))
		if err != nil {
			return auth.BootstrapReport{}, fmt.Errorf("ensure permission %s: %w", p.Name, err)
		}
		report.PermissionsCreated += n
	}
	for _, g := range b.Grants {
		for _, perm := range g.Permissions {
			var (
				n   int
				err error
			)
			if perm == auth.GrantAll {
				n, err = execCount(ctx, tx, `
					insert into role_permissions (role_id, permission_id)
					select r.id, p.id from roles r cross join permissions p
					where r.name = $1
					on conflict do nothing
				`, g.Role)
			} else {
				n, err = execCount(ctx, tx, `
					insert into role_permissions (role_id, permission_id)
					select r.id, p.id from roles r join permissions p on p.name = $2
					where r.name = $1
					on conflict do nothing
				`, g.Role, perm)
			}
			if err != nil {
				return auth.BootstrapReport{}, fmt.Errorf("grant %s to %s: %w", perm, g.Role, err)
			}
			report.GrantsCreated += n
		}
	}
	if err := tx.Commit(); err != nil {
		return auth.BootstrapReport{}, mapReadError(err)
	}
	return report, nil
}

func execCount(ctx context.Context, tx *sql.Tx, query string, args ...any) (int, error) {
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, mapReadError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, mapReadError(err)
	}
	return int(n), nil
}
