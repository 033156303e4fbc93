package auth

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
)

func TestDefaultBaseline(t *testing.T) {
	b, err := DefaultBaseline()
	if err != nil {
		t.Fatalf("DefaultBaseline: %v", err)
	}
	var roles []string
	for _, r := range b.Roles {
		roles = append(roles, r.Name)
	}
	if !slices.Equal(roles, []string{RoleAdmin, RoleUser, RoleService}) {
		t.Fatalf("unexpected baseline roles: %v", roles)
	}
	if len(b.Permissions) != 8 {
		t.Fatalf("expected 8 baseline permissions, got %d", len(b.Permissions))
	}
}

func TestBootstrapIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestRBAC(t)
	baseline, err := DefaultBaseline()
	if err != nil {
		t.Fatalf("DefaultBaseline: %v", err)
	}

	first, err := svc.Bootstrap(ctx, baseline)
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if first.RolesCreated != 3 || first.PermissionsCreated != 8 || first.GrantsCreated != 10 {
		t.Fatalf("unexpected first report: %+v", first)
	}

	second, err := svc.Bootstrap(ctx, baseline)
	if err != nil {
		t.Fatalf("Bootstrap rerun: %v", err)
	}
	if second != (BootstrapReport{}) {
		t.Fatalf("expected rerun to create nothing, got %+v", second)
	}

	roles, _ := store.ListRoles(ctx)
	perms, _ := store.ListPermissions(ctx)
	if len(roles) != 3 || len(perms) != 8 {
		t.Fatalf("row counts changed: %d roles, %d permissions", len(roles), len(perms))
	}

	for _, role := range roles {
		granted, err := store.ListRolePermissions(ctx, role.ID)
		if err != nil {
			t.Fatalf("ListRolePermissions: %v", err)
		}
		var names []string
		for _, p := range granted {
			names = append(names, p.Name)
		}
		switch role.Name {
		case RoleAdmin:
			if len(names) != 8 {
				t.Fatalf("admin should hold every permission, got %v", names)
			}
		case RoleUser:
			if !slices.Equal(names, []string{PermUsersRead}) {
				t.Fatalf("unexpected user grants: %v", names)
			}
		case RoleService:
			if !slices.Equal(names, []string{PermSuperIDGenerate}) {
				t.Fatalf("unexpected service grants: %v", names)
			}
		}
	}
}

func TestBootstrapAdminPicksUpExistingPermissions(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestRBAC(t)
	if _, err := svc.CreatePermission(ctx, "reports:export", ""); err != nil {
		t.Fatalf("CreatePermission: %v", err)
	}
	baseline, err := DefaultBaseline()
	if err != nil {
		t.Fatalf("DefaultBaseline: %v", err)
	}
	if _, err := svc.Bootstrap(ctx, baseline); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	roles, _ := store.ListRoles(ctx)
	for _, r := range roles {
		if r.Name != RoleAdmin {
			continue
		}
		granted, _ := store.ListRolePermissions(ctx, r.ID)
		if len(granted) != 9 {
			t.Fatalf("expected admin to hold 9 permissions, got %d", len(granted))
		}
	}
}

func TestLoadBaselineValidation(t *testing.T) {
	cases := map[string]string{
		"unknown role": `
roles: [{name: admin}]
permissions: [{name: a:b}]
grants: [{role: ghost, permissions: [a:b]}]
`,
		"unknown permission": `
roles: [{name: admin}]
permissions: [{name: a:b}]
grants: [{role: admin, permissions: [c:d]}]
`,
		"duplicate role": `
roles: [{name: admin}, {name: Admin}]
`,
		"unknown field": `
roles: [{name: admin, colour: blue}]
`,
		"empty": ``,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadBaseline(strings.NewReader(doc)); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}
