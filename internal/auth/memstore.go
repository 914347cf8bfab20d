package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"athenaeum.org/internal/ids"
)

// InMemoryStore is a Store backed by maps. It powers tests and local
// development; the full HTTP stack runs against it unchanged.
type InMemoryStore struct {
	mu     sync.RWMutex
	users  map[string]*User
	roles  map[string]*Role
	perms  map[string]Permission
	tokens map[string]*Token
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users:  make(map[string]*User),
		roles:  make(map[string]*Role),
		perms:  make(map[string]Permission),
		tokens: make(map[string]*Token),
	}
}

func (s *InMemoryStore) Users(context.Context) UserStore             { return (*memUsers)(s) }
func (s *InMemoryStore) Roles(context.Context) RoleStore             { return (*memRoles)(s) }
func (s *InMemoryStore) Permissions(context.Context) PermissionStore { return (*memPerms)(s) }
func (s *InMemoryStore) Tokens(context.Context) TokenStore           { return (*memTokens)(s) }

func cloneUser(u *User) *User {
	out := *u
	out.RoleIDs = append([]string(nil), u.RoleIDs...)
	out.Overrides = Overrides{Granted: u.Overrides.Granted.Clone(), Revoked: u.Overrides.Revoked.Clone()}
	if u.ResetExpiresAt != nil {
		t := *u.ResetExpiresAt
		out.ResetExpiresAt = &t
	}
	if u.LastLoginAt != nil {
		t := *u.LastLoginAt
		out.LastLoginAt = &t
	}
	return &out
}

func cloneRole(r *Role) *Role {
	out := *r
	out.Permissions = r.Permissions.Clone()
	return &out
}

type memUsers InMemoryStore

func (m *memUsers) Create(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == "" {
		u.ID = ids.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	u.UpdatedAt = u.CreatedAt
	m.users[u.ID] = cloneUser(u)
	return nil
}

func (m *memUsers) Find(_ context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(u), nil
}

func (m *memUsers) FindByIdentifier(_ context.Context, identifier string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, identifier) || u.EmployeeID == identifier {
			return cloneUser(u), nil
		}
	}
	return nil, ErrNotFound
}

func (m *memUsers) FindByEmail(_ context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return cloneUser(u), nil
		}
	}
	return nil, ErrNotFound
}

func (m *memUsers) FindByResetTokenHash(_ context.Context, hash string, now time.Time) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.ResetTokenHash == "" || u.ResetTokenHash != hash {
			continue
		}
		if u.ResetExpiresAt == nil || !now.Before(*u.ResetExpiresAt) {
			continue
		}
		return cloneUser(u), nil
	}
	return nil, ErrNotFound
}

func (m *memUsers) UpdateOverrides(_ context.Context, userID string, o Overrides, updatedBy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.Overrides = Overrides{Granted: o.Granted.Clone(), Revoked: o.Revoked.Clone()}
	u.UpdatedBy = updatedBy
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memUsers) SetResetToken(_ context.Context, userID, hash string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.ResetTokenHash = hash
	u.ResetExpiresAt = &expiresAt
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memUsers) ClearResetToken(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.ResetTokenHash = ""
	u.ResetExpiresAt = nil
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memUsers) ResetPassword(_ context.Context, userID, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.ResetTokenHash = ""
	u.ResetExpiresAt = nil
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memUsers) UpdateLastLogin(_ context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.LastLoginAt = &at
	return nil
}

type memRoles InMemoryStore

func (m *memRoles) Create(_ context.Context, r *Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == "" {
		r.ID = ids.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	r.UpdatedAt = r.CreatedAt
	m.roles[r.ID] = cloneRole(r)
	return nil
}

func (m *memRoles) Find(_ context.Context, id string) (*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRole(r), nil
}

func (m *memRoles) FindMany(ctx context.Context, roleIDs []string) ([]*Role, error) {
	out := make([]*Role, 0, len(roleIDs))
	for _, id := range roleIDs {
		r, err := m.Find(ctx, id)
		if err != nil {
			if err == ErrNotFound {
				continue
			}
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *memRoles) List(_ context.Context) ([]*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Role, 0, len(m.roles))
	for _, r := range m.roles {
		out = append(out, cloneRole(r))
	}
	return out, nil
}

func (m *memRoles) SetPermissions(_ context.Context, roleID string, names []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[roleID]
	if !ok {
		return ErrNotFound
	}
	r.Permissions = NewStringSet(names...)
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memRoles) Assign(_ context.Context, userID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := m.roles[roleID]; !ok {
		return ErrNotFound
	}
	for _, id := range u.RoleIDs {
		if id == roleID {
			return nil
		}
	}
	u.RoleIDs = append(u.RoleIDs, roleID)
	return nil
}

type memPerms InMemoryStore

func (m *memPerms) Ensure(_ context.Context, perms []Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range perms {
		if _, ok := m.perms[p.Name]; ok {
			continue
		}
		if p.ID == "" {
			p.ID = ids.New()
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = time.Now().UTC()
		}
		m.perms[p.Name] = p
	}
	return nil
}

func (m *memPerms) List(_ context.Context) ([]Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Permission, 0, len(m.perms))
	for _, p := range m.perms {
		out = append(out, p)
	}
	return out, nil
}

func (m *memPerms) ActiveNames(_ context.Context) (StringSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(StringSet, len(m.perms))
	for name, p := range m.perms {
		if p.Active {
			out[name] = struct{}{}
		}
	}
	return out, nil
}

type memTokens InMemoryStore

func (m *memTokens) Create(_ context.Context, t *Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.tokens[t.Value] = &cp
	return nil
}

func (m *memTokens) FindRefresh(_ context.Context, value string) (*Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tokens[value]
	if !ok || t.Type != TokenTypeRefresh {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memTokens) Revoke(_ context.Context, value, byIP string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[value]
	if !ok || t.Type != TokenTypeRefresh {
		return ErrNotFound
	}
	if t.Revoked {
		return nil
	}
	t.Revoked = true
	t.RevokedByIP = byIP
	return nil
}

func (m *memTokens) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for value, t := range m.tokens {
		if !now.Before(t.ExpiresAt) {
			delete(m.tokens, value)
			n++
		}
	}
	return n, nil
}
