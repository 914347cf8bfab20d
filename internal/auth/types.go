package auth

import "time"

// PermissionCategory groups catalog entries by functional area.
type PermissionCategory string

const (
	CategoryCatalog        PermissionCategory = "catalog"
	CategoryCirculation    PermissionCategory = "circulation"
	CategoryMembers        PermissionCategory = "members"
	CategoryReports        PermissionCategory = "reports"
	CategoryAdministration PermissionCategory = "administration"
)

// User is a staff account. Overrides layer per-user permission exceptions
// on top of the permissions derived from the user's roles.
type User struct {
	ID           string
	Email        string
	EmployeeID   string
	PasswordHash string
	RoleIDs      []string
	Overrides    Overrides

	ResetTokenHash string
	ResetExpiresAt *time.Time

	LastLoginAt *time.Time
	UpdatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Overrides are the per-user permission exceptions. Both sets hold
// permission names; a name present in both resolves to excluded.
type Overrides struct {
	Granted StringSet `json:"granted"`
	Revoked StringSet `json:"revoked"`
}

// Role groups permissions and is shared across users; users reference
// roles, they never own them.
type Role struct {
	ID          string
	Name        string
	Description string
	Permissions StringSet
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Permission is a catalog entry. Inactive entries stay in storage but are
// rejected when granted.
type Permission struct {
	ID          string
	Name        string
	Description string
	Category    PermissionCategory
	Active      bool
	CreatedAt   time.Time
}

// Token types.
const (
	TokenTypeRefresh = "refresh"
	TokenTypeReset   = "reset"
)

// Token is a persisted credential record owned by exactly one user.
// ReplacedByToken is a forward link for rotation chains; no current flow
// sets it.
type Token struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	Value           string    `json:"value"`
	Type            string    `json:"type"`
	ExpiresAt       time.Time `json:"expires_at"`
	Revoked         bool      `json:"revoked"`
	RevokedByIP     string    `json:"revoked_by_ip,omitempty"`
	CreatedByIP     string    `json:"created_by_ip,omitempty"`
	ReplacedByToken string    `json:"replaced_by_token,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Active reports whether the token can still be accepted at the given
// instant. Revocation and expiry are both absorbing.
func (t *Token) Active(now time.Time) bool {
	return t != nil && !t.Revoked && now.Before(t.ExpiresAt)
}

// UserSummary is the caller-facing projection returned on login.
type UserSummary struct {
	ID         string   `json:"id"`
	Email      string   `json:"email"`
	EmployeeID string   `json:"employee_id"`
	RoleIDs    []string `json:"role_ids"`
}

func summarize(u *User) UserSummary {
	return UserSummary{
		ID:         u.ID,
		Email:      u.Email,
		EmployeeID: u.EmployeeID,
		RoleIDs:    append([]string(nil), u.RoleIDs...),
	}
}

// Principal is an authenticated caller with resolved effective permissions.
type Principal struct {
	UserID      string
	RoleIDs     []string
	Permissions StringSet
}

func (p Principal) HasPermission(name string) bool {
	return p.Permissions.Has(name)
}
