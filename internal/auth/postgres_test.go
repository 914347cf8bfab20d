package auth

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

// nonEmptyID matches any non-empty string argument.
type nonEmptyID struct{}

func (nonEmptyID) Match(v driver.Value) bool {
	s, ok := v.(string)
	return ok && s != ""
}

func newMockStore(t *testing.T) (*PGStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPGStore(db), mock
}

func expectations(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGFindUserByIdentifier(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	mock.ExpectQuery(`from users where lower`).
		WithArgs("ada@athenaeum.org").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "email", "employee_id", "password_hash", "overrides",
			"reset_token_hash", "reset_expires_at", "last_login_at", "updated_by",
			"created_at", "updated_at",
		}).AddRow(
			"user-1", "ada@athenaeum.org", "EMP-0042", "$2a$10$hash",
			[]byte(`{"granted":["canEditItem"],"revoked":["canViewItem"]}`),
			nil, nil, nil, nil, now, now,
		))
	mock.ExpectQuery(`select role_id from user_roles`).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"role_id"}).
			AddRow("role-a").AddRow("role-b"))

	u, err := store.Users(ctx).FindByIdentifier(ctx, "ada@athenaeum.org")
	if err != nil {
		t.Fatalf("FindByIdentifier: %v", err)
	}
	if !reflect.DeepEqual(u.RoleIDs, []string{"role-a", "role-b"}) {
		t.Fatalf("role ids = %v", u.RoleIDs)
	}
	if !u.Overrides.Granted.Has("canEditItem") || !u.Overrides.Revoked.Has("canViewItem") {
		t.Fatalf("overrides not decoded: %+v", u.Overrides)
	}
	expectations(t, mock)
}

func TestPGFindUserNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(`from users where id`).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	if _, err := store.Users(ctx).Find(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	expectations(t, mock)
}

func TestPGUpdateOverridesWritesSortedDocument(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	o := Overrides{
		Granted: NewStringSet("canViewReports", "canEditItem"),
		Revoked: NewStringSet(),
	}
	mock.ExpectExec(`update users set overrides`).
		WithArgs("user-1", []byte(`{"granted":["canEditItem","canViewReports"],"revoked":[]}`), "admin-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.Users(ctx).UpdateOverrides(ctx, "user-1", o, "admin-1"); err != nil {
		t.Fatalf("UpdateOverrides: %v", err)
	}
	expectations(t, mock)
}

func TestPGUpdateOverridesUnknownUser(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec(`update users set overrides`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Users(ctx).UpdateOverrides(ctx, "ghost", Overrides{}, "admin-1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	expectations(t, mock)
}

func TestPGResetPasswordClearsTokenFields(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec(`update users set password_hash`).
		WithArgs("user-1", "$2a$10$newhash").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.Users(ctx).ResetPassword(ctx, "user-1", "$2a$10$newhash"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	expectations(t, mock)
}

func TestPGFindRefreshToken(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	expires := time.Now().Add(time.Hour).UTC()
	created := time.Now().UTC()
	mock.ExpectQuery(`from tokens where value`).
		WithArgs("opaque-value", TokenTypeRefresh).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "value", "type", "expires_at", "revoked",
			"revoked_by_ip", "created_by_ip", "replaced_by_token", "created_at",
		}).AddRow("tok-1", "user-1", "opaque-value", TokenTypeRefresh, expires, false,
			nil, "10.0.0.1", nil, created))

	tok, err := store.Tokens(ctx).FindRefresh(ctx, "opaque-value")
	if err != nil {
		t.Fatalf("FindRefresh: %v", err)
	}
	if tok.ID != "tok-1" || tok.Revoked || tok.CreatedByIP != "10.0.0.1" {
		t.Fatalf("unexpected token: %+v", tok)
	}
	expectations(t, mock)
}

func TestPGRevokeToken(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec(`update tokens set revoked = true`).
		WithArgs("opaque-value", "10.0.0.9", TokenTypeRefresh).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.Tokens(ctx).Revoke(ctx, "opaque-value", "10.0.0.9"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	expectations(t, mock)
}

func TestPGRevokeUnknownToken(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec(`update tokens set revoked = true`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.Tokens(ctx).Revoke(ctx, "ghost", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	expectations(t, mock)
}

func TestPGPurgeExpired(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	mock.ExpectExec(`delete from tokens where expires_at`).
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.Tokens(ctx).PurgeExpired(ctx, now)
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if n != 3 {
		t.Fatalf("purged = %d, want 3", n)
	}
	expectations(t, mock)
}

func TestPGEnsureGeneratesMissingIDs(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	// Builtin catalog entries carry no ids. Ensure must mint one per row:
	// id is the primary key, so inserting them as-is would collide.
	perms := []Permission{
		{Name: "canViewItem", Description: "View catalog items", Category: CategoryCatalog, Active: true},
		{ID: "perm-fixed", Name: "canEditItem", Description: "Edit catalog items", Category: CategoryCatalog, Active: true},
	}

	mock.ExpectExec(`insert into permissions`).
		WithArgs(nonEmptyID{}, "canViewItem", "View catalog items", "catalog", true).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`insert into permissions`).
		WithArgs("perm-fixed", "canEditItem", "Edit catalog items", "catalog", true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.Permissions(ctx).Ensure(ctx, perms); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	expectations(t, mock)
}

func TestPGCreateUserGeneratesMissingID(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec(`insert into users`).
		WithArgs(nonEmptyID{}, "ada@athenaeum.org", "EMP-0042", "$2a$10$hash",
			[]byte(`{"granted":[],"revoked":[]}`), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	u := &User{Email: "ada@athenaeum.org", EmployeeID: "EMP-0042", PasswordHash: "$2a$10$hash"}
	if err := store.Users(ctx).Create(ctx, u); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if u.ID == "" {
		t.Fatal("Create must assign an id")
	}
	expectations(t, mock)
}

func TestPGActiveNames(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(`select name from permissions where active`).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).
			AddRow("canViewItem").AddRow("canEditItem"))

	names, err := store.Permissions(ctx).ActiveNames(ctx)
	if err != nil {
		t.Fatalf("ActiveNames: %v", err)
	}
	if !names.Has("canViewItem") || !names.Has("canEditItem") || names.Len() != 2 {
		t.Fatalf("unexpected names: %v", names.Sorted())
	}
	expectations(t, mock)
}
