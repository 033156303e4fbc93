package pg

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"paservices.dev/internal/auth"
)

const (
	clientID = "7d1c5a0e-3f9b-4c61-9a5e-0b8f2d4e6a11"
	roleID   = "0f6e2a3b-8c4d-4e5f-9a1b-2c3d4e5f6a7b"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func TestCreateClientConflict(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("insert into clients").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	_, err := store.CreateClient(context.Background(), auth.Client{ID: clientID, Name: "billing", SecretHash: "h", Active: true})
	if !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetClientScansRow(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectQuery("select id, client_name").
		WithArgs(clientID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "client_name", "client_secret_hash", "is_active", "description", "allowed_callback_urls", "created_at", "updated_at"}).
			AddRow(clientID, "billing", "$argon2id$...", true, nil, []byte(`["https://billing.internal/cb"]`), now, now))

	c, err := store.GetClient(context.Background(), clientID)
	if err != nil {
		t.Fatalf("get client: %v", err)
	}
	if c.Name != "billing" || !c.Active || c.Description != "" {
		t.Fatalf("unexpected client %+v", c)
	}
	if len(c.CallbackURLs) != 1 || c.CallbackURLs[0] != "https://billing.internal/cb" {
		t.Fatalf("unexpected callbacks %v", c.CallbackURLs)
	}
}

func TestGetClientNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("select id, client_name").
		WithArgs(clientID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := store.GetClient(context.Background(), clientID); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateClientSecretMissing(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("update clients set client_secret_hash").
		WithArgs(clientID, "new-hash").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.UpdateClientSecret(context.Background(), clientID, "new-hash"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAssignClientRoleMapsConstraintErrors(t *testing.T) {
	cases := []struct {
		code string
		want error
	}{
		{pgErrUniqueViolation, auth.ErrConflict},
		{pgErrForeignKeyViolation, auth.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			store, mock := newMockStore(t)
			mock.ExpectBegin()
			mock.ExpectQuery("insert into client_roles").
				WithArgs(clientID, roleID).
				WillReturnError(&pgconn.PgError{Code: tc.code})
			mock.ExpectRollback()

			_, err := store.AssignClientRole(context.Background(), clientID, roleID)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Fatalf("expectations: %v", err)
			}
		})
	}
}

func TestRevokeMissingEdge(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("delete from role_permissions").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	if err := store.RevokeRolePermission(context.Background(), roleID, clientID); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListClientRolesUnknownClient(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("select exists").
		WithArgs(clientID).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	if _, err := store.ListClientRoles(context.Background(), clientID); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClientCapabilitiesUnion(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("from client_roles cr").
		WithArgs(clientID).
		WillReturnRows(sqlmock.NewRows([]string{"role", "permission"}).
			AddRow("service", "super_id:generate").
			AddRow("user", "users:read").
			AddRow("auditor", "users:read").
			AddRow("empty", nil))

	caps, err := store.ClientCapabilities(context.Background(), clientID)
	if err != nil {
		t.Fatalf("capabilities: %v", err)
	}
	if len(caps.Roles) != 4 {
		t.Fatalf("expected 4 roles, got %v", caps.Roles)
	}
	if len(caps.Permissions) != 2 || !caps.HasPermission("super_id:generate") || !caps.HasPermission("users:read") {
		t.Fatalf("unexpected permissions %v", caps.Permissions)
	}
}

func testBaseline() auth.Baseline {
	return auth.Baseline{
		Roles: []auth.BaselineEntry{{Name: "admin", Description: "Administrators"}},
		Permissions: []auth.BaselineEntry{
			{Name: "users:read"},
			{Name: "super_id:generate"},
		},
		Grants: []auth.BaselineGrant{{Role: "admin", Permissions: []string{auth.GrantAll}}},
	}
}

func expectBaseline(mock sqlmock.Sqlmock, roles, perms, grants int64) {
	mock.ExpectBegin()
	mock.ExpectExec("insert into roles").WillReturnResult(sqlmock.NewResult(0, roles))
	mock.ExpectExec("insert into permissions").WithArgs(sqlmock.AnyArg(), "users:read", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, perms))
	mock.ExpectExec("insert into permissions").WithArgs(sqlmock.AnyArg(), "super_id:generate", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, perms))
	mock.ExpectExec("cross join permissions").WithArgs("admin").WillReturnResult(sqlmock.NewResult(0, grants))
	mock.ExpectCommit()
}

func TestApplyBaselineIsIdempotent(t *testing.T) {
	store, mock := newMockStore(t)
	expectBaseline(mock, 1, 1, 2)
	expectBaseline(mock, 0, 0, 0)

	first, err := store.ApplyBaseline(context.Background(), testBaseline())
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	want := auth.BootstrapReport{RolesCreated: 1, PermissionsCreated: 2, GrantsCreated: 2}
	if first != want {
		t.Fatalf("first run: expected %+v, got %+v", want, first)
	}

	second, err := store.ApplyBaseline(context.Background(), testBaseline())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second != (auth.BootstrapReport{}) {
		t.Fatalf("second run should insert nothing, got %+v", second)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestApplyBaselineRollsBackOnError(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("insert into roles").WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	if _, err := store.ApplyBaseline(context.Background(), testBaseline()); err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecordSuperIDs(t *testing.T) {
	store, mock := newMockStore(t)
	ids := []string{"a7c3e9d2-1b4f-4e6a-8c0d-2f5b7a9e1c3d", "b8d4f0e3-2c5a-4f7b-9d1e-3a6c8b0f2d4e"}
	mock.ExpectBegin()
	for _, id := range ids {
		mock.ExpectExec("insert into generated_super_ids").
			WithArgs(id, clientID, []byte(`{"source":"test"}`)).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	if err := store.RecordSuperIDs(context.Background(), clientID, ids, map[string]any{"source": "test"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestNilDatabase(t *testing.T) {
	store := &Store{}
	if _, err := store.ListRoles(context.Background()); !errors.Is(err, errNoDB) || !errors.Is(err, auth.ErrUnavailable) {
		t.Fatalf("expected errNoDB, got %v", err)
	}
	if err := store.Ping(context.Background()); !errors.Is(err, errNoDB) {
		t.Fatalf("expected errNoDB, got %v", err)
	}
}

func TestTransportFailuresAreUnavailable(t *testing.T) {
	t.Run("begin", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin().WillReturnError(driver.ErrBadConn)

		_, err := store.AssignClientRole(context.Background(), clientID, roleID)
		if !errors.Is(err, auth.ErrUnavailable) {
			t.Fatalf("expected ErrUnavailable, got %v", err)
		}
	})

	t.Run("exists check", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery("select exists").
			WithArgs(clientID).
			WillReturnError(driver.ErrBadConn)

		_, err := store.ListClientRoles(context.Background(), clientID)
		if !errors.Is(err, auth.ErrUnavailable) {
			t.Fatalf("expected ErrUnavailable, got %v", err)
		}
	})

	t.Run("query", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery("select id, client_name").
			WithArgs(clientID).
			WillReturnError(errors.New("connection reset by peer"))

		_, err := store.GetClient(context.Background(), clientID)
		if !errors.Is(err, auth.ErrUnavailable) {
			t.Fatalf("expected ErrUnavailable, got %v", err)
		}
		if errors.Is(err, auth.ErrNotFound) {
			t.Fatalf("transport failure must not read as not found: %v", err)
		}
	})

	t.Run("constraint still maps", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery("insert into client_roles").
			WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})
		mock.ExpectRollback()

		_, err := store.AssignClientRole(context.Background(), clientID, roleID)
		if !errors.Is(err, auth.ErrNotFound) || errors.Is(err, auth.ErrUnavailable) {
			t.Fatalf("expected plain ErrNotFound, got %v", err)
		}
	})
}
