package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"athenaeum.org/internal/obs"
)

// Builtin permission names.
const (
	PermViewItem          = "canViewItem"
	PermEditItem          = "canEditItem"
	PermDeleteItem        = "canDeleteItem"
	PermIssueItem         = "canIssueItem"
	PermReturnItem        = "canReturnItem"
	PermManageMembers     = "canManageMembers"
	PermSendReminders     = "canSendReminders"
	PermViewReports       = "canViewReports"
	PermManageRoles       = "canManageRoles"
	PermManagePermissions = "canManagePermissions"
)

// BuiltinPermissions returns the catalog entries ensured at startup.
func BuiltinPermissions() []Permission {
	return []Permission{
		{Name: PermViewItem, Description: "View catalog items", Category: CategoryCatalog, Active: true},
		{Name: PermEditItem, Description: "Create and edit catalog items", Category: CategoryCatalog, Active: true},
		{Name: PermDeleteItem, Description: "Delete catalog items", Category: CategoryCatalog, Active: true},
		{Name: PermIssueItem, Description: "Issue items to members", Category: CategoryCirculation, Active: true},
		{Name: PermReturnItem, Description: "Accept item returns", Category: CategoryCirculation, Active: true},
		{Name: PermManageMembers, Description: "Manage member accounts", Category: CategoryMembers, Active: true},
		{Name: PermSendReminders, Description: "Send overdue reminders", Category: CategoryMembers, Active: true},
		{Name: PermViewReports, Description: "View circulation reports", Category: CategoryReports, Active: true},
		{Name: PermManageRoles, Description: "Manage roles", Category: CategoryAdministration, Active: true},
		{Name: PermManagePermissions, Description: "Manage per-user permission overrides", Category: CategoryAdministration, Active: true},
	}
}

// ResolveRolePermissions returns the union of permissions across roles.
// Pure; callers resolve fresh on every check, nothing is cached.
func ResolveRolePermissions(roles []*Role) StringSet {
	out := make(StringSet)
	for _, role := range roles {
		if role == nil {
			continue
		}
		for name := range role.Permissions {
			out[name] = struct{}{}
		}
	}
	return out
}

// ResolveEffectivePermissions layers the user's overrides on top of the
// role union. Revocations apply last: a name present in both override
// sets resolves to excluded.
func ResolveEffectivePermissions(user *User, roles []*Role) StringSet {
	effective := ResolveRolePermissions(roles)
	for name := range user.Overrides.Granted {
		effective[name] = struct{}{}
	}
	for name := range user.Overrides.Revoked {
		delete(effective, name)
	}
	return effective
}

// PermissionView is the diagnostic projection of a user's permissions.
type PermissionView struct {
	UserID               string   `json:"user_id"`
	RolePermissions      []string `json:"role_permissions"`
	GrantedPermissions   []string `json:"granted_permissions"`
	RevokedPermissions   []string `json:"revoked_permissions"`
	EffectivePermissions []string `json:"effective_permissions"`
}

// EffectivePermissions resolves and returns all four permission sets for
// a user.
func (s *Service) EffectivePermissions(ctx context.Context, userID string) (PermissionView, error) {
	user, err := s.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		return PermissionView{}, err
	}
	roles, err := s.loadRoles(ctx, user)
	if err != nil {
		return PermissionView{}, err
	}
	return PermissionView{
		UserID:               user.ID,
		RolePermissions:      ResolveRolePermissions(roles).Sorted(),
		GrantedPermissions:   user.Overrides.Granted.Sorted(),
		RevokedPermissions:   user.Overrides.Revoked.Sorted(),
		EffectivePermissions: ResolveEffectivePermissions(user, roles).Sorted(),
	}, nil
}

// GrantPermission adds a per-user grant. The name must exist in the
// active catalog; granting also clears a standing revocation so the
// grant takes effect immediately.
func (s *Service) GrantPermission(ctx context.Context, userID, name, actorID string) error {
	name = strings.TrimSpace(name)
	active, err := s.store.Permissions(ctx).ActiveNames(ctx)
	if err != nil {
		return fmt.Errorf("load permission catalog: %w", err)
	}
	if !active.Has(name) {
		return &ValidationError{Names: []string{name}}
	}

	user, err := s.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		return err
	}
	overrides := user.Overrides
	overrides.Granted.Add(name)
	overrides.Revoked.Remove(name)

	if err := s.store.Users(ctx).UpdateOverrides(ctx, userID, overrides, actorID); err != nil {
		return fmt.Errorf("persist overrides: %w", err)
	}
	obs.RecordOverrideUpdate("grant")
	s.emit(ctx, "auth.permission.grant", actorID, "", true, map[string]string{"user_id": userID, "permission": name})
	return nil
}

// RevokePermission removes a permission from the user. The name is
// always dropped from the granted set; it is recorded in the revoked set
// only when a role still supplies it, since role-derived permissions
// reappear on every resolution unless suppressed. Unlike grants, revokes
// are not validated against the catalog.
func (s *Service) RevokePermission(ctx context.Context, userID, name, actorID string) error {
	name = strings.TrimSpace(name)
	user, err := s.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		return err
	}
	roles, err := s.loadRoles(ctx, user)
	if err != nil {
		return err
	}

	overrides := user.Overrides
	overrides.Granted.Remove(name)
	if ResolveRolePermissions(roles).Has(name) {
		overrides.Revoked.Add(name)
	}

	if err := s.store.Users(ctx).UpdateOverrides(ctx, userID, overrides, actorID); err != nil {
		return fmt.Errorf("persist overrides: %w", err)
	}
	obs.RecordOverrideUpdate("revoke")
	s.emit(ctx, "auth.permission.revoke", actorID, "", true, map[string]string{"user_id": userID, "permission": name})
	return nil
}

// UpdateOverrides replaces both override sets wholesale. Every requested
// name is validated against the active catalog first; one ValidationError
// listing all invalid names is returned and nothing is written.
func (s *Service) UpdateOverrides(ctx context.Context, userID string, granted, revoked []string, actorID string) error {
	active, err := s.store.Permissions(ctx).ActiveNames(ctx)
	if err != nil {
		return fmt.Errorf("load permission catalog: %w", err)
	}

	grantSet := NewStringSet(granted...)
	revokeSet := NewStringSet(revoked...)

	var invalid []string
	requested := grantSet.Clone()
	for name := range revokeSet {
		requested[name] = struct{}{}
	}
	for _, name := range requested.Sorted() {
		if !active.Has(name) {
			invalid = append(invalid, name)
		}
	}
	if len(invalid) > 0 {
		return &ValidationError{Names: invalid}
	}

	if _, err := s.store.Users(ctx).Find(ctx, userID); err != nil {
		return err
	}
	if err := s.store.Users(ctx).UpdateOverrides(ctx, userID, Overrides{Granted: grantSet, Revoked: revokeSet}, actorID); err != nil {
		return fmt.Errorf("persist overrides: %w", err)
	}
	obs.RecordOverrideUpdate("bulk")
	s.emit(ctx, "auth.permission.update", actorID, "", true, map[string]string{"user_id": userID})
	return nil
}

// IsValidationError unwraps err into a *ValidationError if possible.
func IsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
