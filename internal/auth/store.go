package auth

import (
	"context"
	"time"
)

// Store aggregates the persistence contracts the service depends on.
// Implementations must return ErrNotFound (possibly wrapped) when a
// record is missing.
type Store interface {
	Users(ctx context.Context) UserStore
	Roles(ctx context.Context) RoleStore
	Permissions(ctx context.Context) PermissionStore
	Tokens(ctx context.Context) TokenStore
}

// UserStore owns user records including their permission overrides and
// reset-token fields.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	// FindByIdentifier matches email (case-insensitive) or employee id.
	FindByIdentifier(ctx context.Context, identifier string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	// FindByResetTokenHash only returns users whose reset window is
	// still open at the given instant.
	FindByResetTokenHash(ctx context.Context, hash string, now time.Time) (*User, error)

	// UpdateOverrides replaces the whole overrides document in one write.
	UpdateOverrides(ctx context.Context, userID string, o Overrides, updatedBy string) error

	SetResetToken(ctx context.Context, userID, hash string, expiresAt time.Time) error
	ClearResetToken(ctx context.Context, userID string) error
	// ResetPassword stores the new hash and clears the reset fields in a
	// single operation so a reset token cannot be consumed twice.
	ResetPassword(ctx context.Context, userID, passwordHash string) error

	UpdateLastLogin(ctx context.Context, userID string, at time.Time) error
}

// RoleStore owns shared role records and their permission assignments.
type RoleStore interface {
	Create(ctx context.Context, r *Role) error
	Find(ctx context.Context, id string) (*Role, error)
	FindMany(ctx context.Context, ids []string) ([]*Role, error)
	List(ctx context.Context) ([]*Role, error)
	SetPermissions(ctx context.Context, roleID string, names []string) error
	Assign(ctx context.Context, userID, roleID string) error
}

// PermissionStore owns the permission catalog.
type PermissionStore interface {
	// Ensure inserts any catalog entries that do not exist yet.
	Ensure(ctx context.Context, perms []Permission) error
	List(ctx context.Context) ([]Permission, error)
	// ActiveNames returns the names eligible for override validation.
	ActiveNames(ctx context.Context) (StringSet, error)
}

// TokenStore owns persisted refresh tokens, keyed by opaque value.
type TokenStore interface {
	Create(ctx context.Context, t *Token) error
	FindRefresh(ctx context.Context, value string) (*Token, error)
	// Revoke marks the token revoked; revoking an already revoked token
	// succeeds, a missing token returns ErrNotFound.
	Revoke(ctx context.Context, value, byIP string) error
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// WithTokenStore returns a Store delegating token operations to a
// separate TokenStore (e.g. Postgres records with Redis-held tokens).
func WithTokenStore(base Store, tokens TokenStore) Store {
	return &splitStore{Store: base, tokens: tokens}
}

type splitStore struct {
	Store
	tokens TokenStore
}

func (s *splitStore) Tokens(context.Context) TokenStore { return s.tokens }
