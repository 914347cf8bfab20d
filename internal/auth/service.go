package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"athenaeum.org/internal/audit"
	"athenaeum.org/internal/ids"
	"athenaeum.org/internal/mail"
	"athenaeum.org/internal/obs"
)

const (
	defaultIssuer          = "athenaeum"
	defaultAccessTTL       = 15 * time.Minute
	defaultRefreshLifetime = 7
)

// Service implements login, logout, token lifecycle, permission
// resolution and the password reset flow on top of a Store.
type Service struct {
	store Store
	now   func() time.Time

	secret          []byte
	issuer          string
	accessTTL       time.Duration
	refreshLifetime int

	mailer  mail.Sender
	auditor *audit.Dispatcher
	devMode bool
}

// Option configures Service.
type Option func(*Service)

// WithTokenSecret sets the HMAC secret used for access tokens.
func WithTokenSecret(secret string) Option {
	return func(s *Service) { s.secret = []byte(secret) }
}

// WithIssuer overrides the issuer claim.
func WithIssuer(issuer string) Option {
	return func(s *Service) {
		if issuer != "" {
			s.issuer = issuer
		}
	}
}

// WithAccessTTL overrides the access-token lifetime.
func WithAccessTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.accessTTL = ttl
		}
	}
}

// WithRefreshLifetime sets the refresh-token lifetime multiplier.
func WithRefreshLifetime(lifetime int) Option {
	return func(s *Service) {
		if lifetime > 0 {
			s.refreshLifetime = lifetime
		}
	}
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMailer sets the outbound-mail sender used by the reset flow.
func WithMailer(sender mail.Sender) Option {
	return func(s *Service) { s.mailer = sender }
}

// WithAuditor attaches the activity-log dispatcher.
func WithAuditor(d *audit.Dispatcher) Option {
	return func(s *Service) { s.auditor = d }
}

// WithDevMode relaxes production-only behavior: reset tokens are
// returned to the caller and mail failures do not abort the flow.
func WithDevMode(enabled bool) Option {
	return func(s *Service) { s.devMode = enabled }
}

// NewService constructs the auth service. A token secret is required.
func NewService(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	s := &Service{
		store:           store,
		now:             time.Now,
		issuer:          defaultIssuer,
		accessTTL:       defaultAccessTTL,
		refreshLifetime: defaultRefreshLifetime,
	}
	for _, opt := range opts {
		opt(s)
	}
	if len(s.secret) == 0 {
		return nil, errors.New("auth: token secret is required")
	}
	return s, nil
}

// EnsureBuiltins inserts any missing builtin catalog permissions.
func (s *Service) EnsureBuiltins(ctx context.Context) error {
	return s.store.Permissions(ctx).Ensure(ctx, BuiltinPermissions())
}

// LoginResult is returned on successful authentication.
type LoginResult struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	User             UserSummary
}

// Login authenticates by email or employee id. Unknown identifiers and
// wrong passwords produce the identical ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, identifier, password, clientIP string) (LoginResult, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		obs.RecordLogin("failure")
		return LoginResult{}, ErrInvalidCredentials
	}

	user, err := s.store.Users(ctx).FindByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.RecordLogin("failure")
			s.emit(ctx, "auth.login", "", clientIP, false, map[string]string{"identifier": identifier})
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, fmt.Errorf("find user: %w", err)
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		obs.RecordLogin("failure")
		s.emit(ctx, "auth.login", user.ID, clientIP, false, map[string]string{"identifier": identifier})
		return LoginResult{}, ErrInvalidCredentials
	}

	result, err := s.issueTokenPair(ctx, user, clientIP)
	if err != nil {
		return LoginResult{}, err
	}

	// Best effort; a stale last_login must not fail the login.
	if err := s.store.Users(ctx).UpdateLastLogin(ctx, user.ID, s.now().UTC()); err != nil {
		obs.Log(map[string]any{"level": "warn", "msg": "update_last_login_failed", "user_id": user.ID, "error": err.Error()})
	}

	obs.RecordLogin("success")
	s.emit(ctx, "auth.login", user.ID, clientIP, true, map[string]string{"identifier": identifier})
	return result, nil
}

// Logout revokes the refresh token if it exists. It always succeeds:
// unknown or already revoked tokens are silent no-ops.
func (s *Service) Logout(ctx context.Context, refreshToken, actorID, clientIP string) {
	err := s.store.Tokens(ctx).Revoke(ctx, refreshToken, clientIP)
	switch {
	case err == nil:
		obs.RecordTokenRevoked()
	case errors.Is(err, ErrNotFound):
	default:
		obs.Log(map[string]any{"level": "warn", "msg": "logout_revoke_failed", "error": err.Error()})
	}
	s.emit(ctx, "auth.logout", actorID, clientIP, true, nil)
}

// ValidateRefreshToken returns the token record when it is known,
// unrevoked and unexpired; every other case is ErrInvalidToken.
func (s *Service) ValidateRefreshToken(ctx context.Context, value string) (*Token, error) {
	tok, err := s.store.Tokens(ctx).FindRefresh(ctx, value)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	if !tok.Active(s.now()) {
		return nil, ErrInvalidToken
	}
	return tok, nil
}

// Authenticate verifies an access token and resolves the caller into a
// Principal with effective permissions.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (Principal, error) {
	claims, err := s.parseAccessToken(accessToken)
	if err != nil {
		return Principal{}, ErrInvalidToken
	}
	user, err := s.store.Users(ctx).Find(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Principal{}, ErrInvalidToken
		}
		return Principal{}, fmt.Errorf("load principal: %w", err)
	}
	roles, err := s.loadRoles(ctx, user)
	if err != nil {
		return Principal{}, err
	}
	return Principal{
		UserID:      user.ID,
		RoleIDs:     append([]string(nil), user.RoleIDs...),
		Permissions: ResolveEffectivePermissions(user, roles),
	}, nil
}

func (s *Service) issueTokenPair(ctx context.Context, user *User, clientIP string) (LoginResult, error) {
	now := s.now().UTC()

	access, accessExp, err := s.signAccessToken(user, now)
	if err != nil {
		return LoginResult{}, err
	}

	secret, err := newRefreshSecret()
	if err != nil {
		return LoginResult{}, err
	}
	record := &Token{
		ID:          ids.New(),
		UserID:      user.ID,
		Value:       secret,
		Type:        TokenTypeRefresh,
		ExpiresAt:   s.refreshExpiry(now),
		CreatedByIP: clientIP,
		CreatedAt:   now,
	}
	if err := s.store.Tokens(ctx).Create(ctx, record); err != nil {
		return LoginResult{}, fmt.Errorf("store refresh token: %w", err)
	}

	obs.RecordTokenIssued("access")
	obs.RecordTokenIssued("refresh")
	return LoginResult{
		AccessToken:      access,
		RefreshToken:     secret,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: record.ExpiresAt,
		User:             summarize(user),
	}, nil
}

func (s *Service) loadRoles(ctx context.Context, user *User) ([]*Role, error) {
	roles, err := s.store.Roles(ctx).FindMany(ctx, user.RoleIDs)
	if err != nil {
		return nil, fmt.Errorf("load roles: %w", err)
	}
	return roles, nil
}

func (s *Service) emit(ctx context.Context, event, actorID, ip string, success bool, fields map[string]string) {
	s.auditor.Emit(ctx, audit.Event{
		Time:    s.now().UTC(),
		Event:   event,
		ActorID: actorID,
		IP:      ip,
		Success: success,
		Fields:  fields,
	})
}
