package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"athenaeum.org/internal/ids"
)

// PGStore implements Store over database/sql with a PostgreSQL schema
// (see migrations/). Overrides live in a single jsonb column so each
// override change is one UPDATE keyed by user id; concurrent writers to
// the same user follow last-write-wins.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore { return &PGStore{db: db} }

func (s *PGStore) Users(context.Context) UserStore             { return &pgUsers{db: s.db} }
func (s *PGStore) Roles(context.Context) RoleStore             { return &pgRoles{db: s.db} }
func (s *PGStore) Permissions(context.Context) PermissionStore { return &pgPerms{db: s.db} }
func (s *PGStore) Tokens(context.Context) TokenStore           { return &pgTokens{db: s.db} }

type pgUsers struct {
	db *sql.DB
}

const userColumns = `id, email, employee_id, password_hash, overrides, reset_token_hash, reset_expires_at, last_login_at, updated_by, created_at, updated_at`

func (s *pgUsers) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	overrides, err := json.Marshal(u.Overrides)
	if err != nil {
		return fmt.Errorf("marshal overrides: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`insert into users (id, email, employee_id, password_hash, overrides, created_at, updated_at)
		 values ($1, lower($2), $3, $4, $5, $6, $6)`,
		u.ID, u.Email, u.EmployeeID, u.PasswordHash, overrides, u.CreatedAt)
	return err
}

func (s *pgUsers) Find(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id = $1`, id)
	return s.scan(ctx, row)
}

func (s *pgUsers) FindByIdentifier(ctx context.Context, identifier string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where lower(email) = lower($1) or employee_id = $1`, identifier)
	return s.scan(ctx, row)
}

func (s *pgUsers) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where lower(email) = lower($1)`, email)
	return s.scan(ctx, row)
}

func (s *pgUsers) FindByResetTokenHash(ctx context.Context, hash string, now time.Time) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where reset_token_hash = $1 and reset_expires_at > $2`, hash, now)
	return s.scan(ctx, row)
}

func (s *pgUsers) scan(ctx context.Context, row *sql.Row) (*User, error) {
	var (
		u         User
		overrides []byte
		resetHash sql.NullString
		resetExp  sql.NullTime
		lastLogin sql.NullTime
		updatedBy sql.NullString
	)
	err := row.Scan(&u.ID, &u.Email, &u.EmployeeID, &u.PasswordHash, &overrides,
		&resetHash, &resetExp, &lastLogin, &updatedBy, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(overrides) > 0 {
		if err := json.Unmarshal(overrides, &u.Overrides); err != nil {
			return nil, fmt.Errorf("unmarshal overrides: %w", err)
		}
	}
	u.ResetTokenHash = resetHash.String
	if resetExp.Valid {
		t := resetExp.Time
		u.ResetExpiresAt = &t
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoginAt = &t
	}
	u.UpdatedBy = updatedBy.String

	rows, err := s.db.QueryContext(ctx,
		`select role_id from user_roles where user_id = $1 order by role_id`, u.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var roleID string
		if err := rows.Scan(&roleID); err != nil {
			return nil, err
		}
		u.RoleIDs = append(u.RoleIDs, roleID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *pgUsers) UpdateOverrides(ctx context.Context, userID string, o Overrides, updatedBy string) error {
	overrides, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal overrides: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`update users set overrides = $2, updated_by = $3, updated_at = now() where id = $1`,
		userID, overrides, updatedBy)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func (s *pgUsers) SetResetToken(ctx context.Context, userID, hash string, expiresAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update users set reset_token_hash = $2, reset_expires_at = $3, updated_at = now() where id = $1`,
		userID, hash, expiresAt)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func (s *pgUsers) ClearResetToken(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set reset_token_hash = null, reset_expires_at = null, updated_at = now() where id = $1`,
		userID)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func (s *pgUsers) ResetPassword(ctx context.Context, userID, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set password_hash = $2, reset_token_hash = null, reset_expires_at = null, updated_at = now() where id = $1`,
		userID, passwordHash)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func (s *pgUsers) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update users set last_login_at = $2 where id = $1`, userID, at)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

type pgRoles struct {
	db *sql.DB
}

func (s *pgRoles) Create(ctx context.Context, r *Role) error {
	if r.ID == "" {
		r.ID = ids.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into roles (id, name, description, created_at, updated_at) values ($1, $2, $3, $4, $4)`,
		r.ID, r.Name, r.Description, r.CreatedAt)
	return err
}

func (s *pgRoles) Find(ctx context.Context, id string) (*Role, error) {
	var r Role
	err := s.db.QueryRowContext(ctx,
		`select id, name, description, created_at, updated_at from roles where id = $1`, id).
		Scan(&r.ID, &r.Name, &r.Description, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`select p.name from permissions p join role_permissions rp on rp.permission_id = p.id where rp.role_id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	r.Permissions = make(StringSet)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		r.Permissions[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *pgRoles) FindMany(ctx context.Context, roleIDs []string) ([]*Role, error) {
	out := make([]*Role, 0, len(roleIDs))
	for _, id := range roleIDs {
		r, err := s.Find(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *pgRoles) List(ctx context.Context) ([]*Role, error) {
	rows, err := s.db.QueryContext(ctx, `select id from roles order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roleIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		roleIDs = append(roleIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return s.FindMany(ctx, roleIDs)
}

func (s *pgRoles) SetPermissions(ctx context.Context, roleID string, names []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, roleID); err != nil {
		return err
	}
	for _, name := range NewStringSet(names...).Sorted() {
		if _, err := tx.ExecContext(ctx,
			`insert into role_permissions (role_id, permission_id)
			 select $1, id from permissions where name = $2`, roleID, name); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *pgRoles) Assign(ctx context.Context, userID, roleID string) error {
	_, err := s.db.ExecContext(ctx,
		`insert into user_roles (user_id, role_id) values ($1, $2) on conflict do nothing`,
		userID, roleID)
	return err
}

type pgPerms struct {
	db *sql.DB
}

func (s *pgPerms) Ensure(ctx context.Context, perms []Permission) error {
	for _, p := range perms {
		if p.ID == "" {
			p.ID = ids.New()
		}
		if _, err := s.db.ExecContext(ctx,
			`insert into permissions (id, name, description, category, active, created_at)
			 values ($1, $2, $3, $4, $5, now())
			 on conflict (name) do nothing`,
			p.ID, p.Name, p.Description, string(p.Category), p.Active); err != nil {
			return fmt.Errorf("ensure permission %s: %w", p.Name, err)
		}
	}
	return nil
}

func (s *pgPerms) List(ctx context.Context) ([]Permission, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, name, description, category, active, created_at from permissions order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Permission
	for rows.Next() {
		var p Permission
		var category string
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &category, &p.Active, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Category = PermissionCategory(category)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *pgPerms) ActiveNames(ctx context.Context) (StringSet, error) {
	rows, err := s.db.QueryContext(ctx, `select name from permissions where active`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(StringSet)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out[name] = struct{}{}
	}
	return out, rows.Err()
}

type pgTokens struct {
	db *sql.DB
}

func (s *pgTokens) Create(ctx context.Context, t *Token) error {
	_, err := s.db.ExecContext(ctx,
		`insert into tokens (id, user_id, value, type, expires_at, revoked, created_by_ip, created_at)
		 values ($1, $2, $3, $4, $5, false, $6, $7)`,
		t.ID, t.UserID, t.Value, t.Type, t.ExpiresAt, t.CreatedByIP, t.CreatedAt)
	return err
}

func (s *pgTokens) FindRefresh(ctx context.Context, value string) (*Token, error) {
	var (
		t           Token
		revokedByIP sql.NullString
		replacedBy  sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`select id, user_id, value, type, expires_at, revoked, revoked_by_ip, created_by_ip, replaced_by_token, created_at
		 from tokens where value = $1 and type = $2`, value, TokenTypeRefresh).
		Scan(&t.ID, &t.UserID, &t.Value, &t.Type, &t.ExpiresAt, &t.Revoked,
			&revokedByIP, &t.CreatedByIP, &replacedBy, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.RevokedByIP = revokedByIP.String
	t.ReplacedByToken = replacedBy.String
	return &t, nil
}

func (s *pgTokens) Revoke(ctx context.Context, value, byIP string) error {
	res, err := s.db.ExecContext(ctx,
		`update tokens set revoked = true, revoked_by_ip = $2 where value = $1 and type = $3`,
		value, byIP, TokenTypeRefresh)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func (s *pgTokens) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from tokens where expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
