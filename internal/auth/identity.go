package auth

import (
	"context"
	"time"
)

// Identity is what a validated token asserts about its bearer.
type Identity struct {
	Subject     string
	UserID      int64
	Username    string
	Roles       []string
	Permissions PermissionTree
	TokenID     string
	IssuedAt    time.Time
	NotBefore   time.Time
	ExpiresAt   time.Time
}

// HasFunction reports whether the identity's permission claim grants code.
func (id Identity) HasFunction(code string) bool {
	return id.Permissions.Has(code)
}

// Grant is the input of token issuance: a verified user and its resolved permissions.
type Grant struct {
	UserID      int64
	Username    string
	Roles       []string
	Permissions PermissionTree
}

// IssuedToken is a signed token and its validity window.
type IssuedToken struct {
	Token     string
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenIssuer signs grants.
type TokenIssuer interface {
	Issue(ctx context.Context, grant Grant, now time.Time) (IssuedToken, error)
}

// PasswordVerifier is the opaque password check capability.
type PasswordVerifier interface {
	VerifyPassword(plain, hash string) bool
}
