package auth

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestResolveEffectivePermissions(t *testing.T) {
	roles := []*Role{
		{ID: "r1", Permissions: NewStringSet(PermViewItem, PermIssueItem)},
		{ID: "r2", Permissions: NewStringSet(PermViewItem, PermViewReports)},
		nil,
	}

	user := &User{Overrides: Overrides{
		Granted: NewStringSet(PermEditItem),
		Revoked: NewStringSet(PermViewItem),
	}}

	got := ResolveEffectivePermissions(user, roles).Sorted()
	want := []string{PermEditItem, PermIssueItem, PermViewReports}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("effective = %v, want %v", got, want)
	}
}

func TestRevokeWinsWhenNameInBothSets(t *testing.T) {
	user := &User{Overrides: Overrides{
		Granted: NewStringSet(PermEditItem),
		Revoked: NewStringSet(PermEditItem),
	}}
	if ResolveEffectivePermissions(user, nil).Has(PermEditItem) {
		t.Fatal("a name in both override sets must resolve to excluded")
	}
}

func TestResolveRolePermissionsIsPureUnion(t *testing.T) {
	roles := []*Role{
		{Permissions: NewStringSet(PermViewItem)},
		{Permissions: NewStringSet(PermViewItem, PermIssueItem)},
	}
	got := ResolveRolePermissions(roles)
	if got.Len() != 2 {
		t.Fatalf("expected deduplicated union, got %v", got.Sorted())
	}
	// The result must not alias role sets.
	got.Add("extra")
	if roles[0].Permissions.Has("extra") {
		t.Fatal("resolution mutated a role")
	}
}

func TestGrantValidatesAgainstActiveCatalog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.svc.GrantPermission(ctx, "user-1", "canFlyToTheMoon", "admin-1")
	ve, ok := IsValidationError(err)
	if !ok {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if !reflect.DeepEqual(ve.Names, []string{"canFlyToTheMoon"}) {
		t.Fatalf("unexpected names: %v", ve.Names)
	}

	// Inactive catalog entries are rejected too.
	if err := f.store.Permissions(ctx).Ensure(ctx, []Permission{
		{Name: "canUseLegacyScanner", Category: CategoryCatalog, Active: false},
	}); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if _, ok := IsValidationError(f.svc.GrantPermission(ctx, "user-1", "canUseLegacyScanner", "admin-1")); !ok {
		t.Fatal("expected ValidationError for inactive permission")
	}
}

func TestGrantClearsStandingRevocation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Suppress a role-derived permission, then grant it back.
	if err := f.svc.RevokePermission(ctx, "user-1", PermViewItem, "admin-1"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	view, err := f.svc.EffectivePermissions(ctx, "user-1")
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if contains(view.EffectivePermissions, PermViewItem) {
		t.Fatal("revoked permission still effective")
	}

	if err := f.svc.GrantPermission(ctx, "user-1", PermViewItem, "admin-1"); err != nil {
		t.Fatalf("grant: %v", err)
	}
	view, err = f.svc.EffectivePermissions(ctx, "user-1")
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if !contains(view.EffectivePermissions, PermViewItem) {
		t.Fatal("grant did not take effect")
	}
	if contains(view.RevokedPermissions, PermViewItem) {
		t.Fatal("grant must clear the standing revocation")
	}
}

func TestRevokeRecordsSuppressionOnlyForRoleDerived(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// PermViewItem comes from the librarian role: revoking must suppress it.
	if err := f.svc.RevokePermission(ctx, "user-1", PermViewItem, "admin-1"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	// PermEditItem is a pure override: revoking only drops the grant.
	if err := f.svc.GrantPermission(ctx, "user-1", PermEditItem, "admin-1"); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := f.svc.RevokePermission(ctx, "user-1", PermEditItem, "admin-1"); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	view, err := f.svc.EffectivePermissions(ctx, "user-1")
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if !reflect.DeepEqual(view.RevokedPermissions, []string{PermViewItem}) {
		t.Fatalf("revoked set = %v, want only %s", view.RevokedPermissions, PermViewItem)
	}
	if len(view.GrantedPermissions) != 0 {
		t.Fatalf("granted set = %v, want empty", view.GrantedPermissions)
	}
}

func TestRevokeSkipsCatalogValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Unknown names pass through; only grants validate against the catalog.
	if err := f.svc.RevokePermission(ctx, "user-1", "canOperateTimeMachine", "admin-1"); err != nil {
		t.Fatalf("revoke of unknown name must succeed: %v", err)
	}
}

func TestBulkUpdateReportsEveryInvalidName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.svc.UpdateOverrides(ctx, "user-1",
		[]string{PermEditItem, "badOne"},
		[]string{"badTwo", "badOne"},
		"admin-1")
	ve, ok := IsValidationError(err)
	if !ok {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if !reflect.DeepEqual(ve.Names, []string{"badOne", "badTwo"}) {
		t.Fatalf("unexpected invalid names: %v", ve.Names)
	}

	// Nothing may be applied on failure.
	view, err := f.svc.EffectivePermissions(ctx, "user-1")
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if len(view.GrantedPermissions) != 0 || len(view.RevokedPermissions) != 0 {
		t.Fatalf("overrides changed despite validation failure: %+v", view)
	}
}

func TestBulkUpdateReplacesWholesale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.svc.GrantPermission(ctx, "user-1", PermEditItem, "admin-1"); err != nil {
		t.Fatalf("grant: %v", err)
	}
	err := f.svc.UpdateOverrides(ctx, "user-1",
		[]string{PermViewReports, PermViewReports, " " + PermManageMembers + " "},
		[]string{PermIssueItem},
		"admin-2")
	if err != nil {
		t.Fatalf("bulk update: %v", err)
	}

	view, err := f.svc.EffectivePermissions(ctx, "user-1")
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if !reflect.DeepEqual(view.GrantedPermissions, []string{PermManageMembers, PermViewReports}) {
		t.Fatalf("granted = %v", view.GrantedPermissions)
	}
	if !reflect.DeepEqual(view.RevokedPermissions, []string{PermIssueItem}) {
		t.Fatalf("revoked = %v", view.RevokedPermissions)
	}

	u, err := f.store.Users(ctx).Find(ctx, "user-1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if u.UpdatedBy != "admin-2" {
		t.Fatalf("updated_by = %q", u.UpdatedBy)
	}
}

func TestOverrideOpsUnknownUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.svc.GrantPermission(ctx, "ghost", PermViewItem, "admin-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("grant: got %v", err)
	}
	if err := f.svc.UpdateOverrides(ctx, "ghost", nil, nil, "admin-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("bulk: got %v", err)
	}
	if _, err := f.svc.EffectivePermissions(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("view: got %v", err)
	}
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
