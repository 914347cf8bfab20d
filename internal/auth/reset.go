package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"athenaeum.org/internal/mail"
	"athenaeum.org/internal/obs"
)

const (
	resetTokenBytes = 32
	resetTokenTTL   = 30 * time.Minute
)

// ResetRequest reports the outcome of a password-reset request. Token
// and ResetURL are only populated in dev mode; production callers never
// see the raw token.
type ResetRequest struct {
	Email     string
	ExpiresAt time.Time
	Token     string
	ResetURL  string
}

func hashResetToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// RequestPasswordReset issues a single-use reset token for the account
// behind email and mails the reset link. A failed delivery rolls the
// stored token back so no unreachable token stays live; in dev mode the
// failure is logged and the raw token returned instead.
func (s *Service) RequestPasswordReset(ctx context.Context, email, baseURL string) (*ResetRequest, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.store.Users(ctx).FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, resetTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate reset token: %w", err)
	}
	raw := hex.EncodeToString(buf)
	expiresAt := s.now().UTC().Add(resetTokenTTL)

	if err := s.store.Users(ctx).SetResetToken(ctx, user.ID, hashResetToken(raw), expiresAt); err != nil {
		return nil, fmt.Errorf("store reset token: %w", err)
	}

	resetURL := strings.TrimRight(baseURL, "/") + "/reset-password/" + raw
	if s.mailer != nil {
		msg := mail.Message{
			To:      user.Email,
			Subject: "Athenaeum password reset",
			Body: "A password reset was requested for your account.\n\n" +
				"Reset link (valid for 30 minutes): " + resetURL + "\n\n" +
				"If you did not request this, ignore this message.",
		}
		if err := s.mailer.Send(ctx, msg); err != nil {
			if !s.devMode {
				if clearErr := s.store.Users(ctx).ClearResetToken(ctx, user.ID); clearErr != nil {
					obs.Log(map[string]any{"level": "error", "msg": "reset_rollback_failed", "user_id": user.ID, "error": clearErr.Error()})
				}
				return nil, fmt.Errorf("send reset mail: %w", err)
			}
			obs.Log(map[string]any{"level": "warn", "msg": "reset_mail_skipped", "user_id": user.ID, "error": err.Error()})
		}
	}

	obs.RecordPasswordReset("requested")
	s.emit(ctx, "auth.password.forgot", user.ID, "", true, map[string]string{"email": user.Email})

	result := &ResetRequest{Email: user.Email, ExpiresAt: expiresAt}
	if s.devMode {
		result.Token = raw
		result.ResetURL = resetURL
	}
	return result, nil
}

// ValidateResetToken checks a reset token without consuming it. Unknown
// and expired tokens are indistinguishable.
func (s *Service) ValidateResetToken(ctx context.Context, token string) error {
	_, err := s.lookupResetUser(ctx, token)
	return err
}

// ResetPassword consumes a reset token and sets the new password. The
// password update and the reset-field clearing happen in one store
// operation, so a second consume of the same token fails.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	user, err := s.lookupResetUser(ctx, token)
	if err != nil {
		return err
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.store.Users(ctx).ResetPassword(ctx, user.ID, hash); err != nil {
		return fmt.Errorf("reset password: %w", err)
	}
	obs.RecordPasswordReset("completed")
	s.emit(ctx, "auth.password.reset", user.ID, "", true, nil)
	return nil
}

func (s *Service) lookupResetUser(ctx context.Context, token string) (*User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	user, err := s.store.Users(ctx).FindByResetTokenHash(ctx, hashResetToken(token), s.now().UTC())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("find reset token: %w", err)
	}
	return user, nil
}
