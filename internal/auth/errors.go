package auth

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned by stores when no record matches.
	ErrNotFound = errors.New("auth: not found")

	// ErrInvalidCredentials covers both unknown identifiers and wrong
	// passwords; callers cannot tell the two apart.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrInvalidToken covers missing, revoked, expired and malformed
	// tokens uniformly.
	ErrInvalidToken = errors.New("auth: invalid or expired token")

	// ErrUnauthorized signals a principal lacking a required permission.
	ErrUnauthorized = errors.New("auth: unauthorized")

	// ErrPasswordTooShort rejects passwords below the minimum length.
	ErrPasswordTooShort = fmt.Errorf("auth: password must be at least %d characters", MinPasswordLength)
)

// ValidationError reports every unknown or inactive permission name in
// one failure so override updates are applied all-or-nothing.
type ValidationError struct {
	Names []string
}

func (e *ValidationError) Error() string {
	return "auth: invalid permissions: " + strings.Join(e.Names, ", ")
}
