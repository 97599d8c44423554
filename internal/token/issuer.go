package token

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"qazna.org/permgate/internal/auth"
	"qazna.org/permgate/internal/ids"
	"qazna.org/permgate/internal/obs"
)

var _ auth.TokenIssuer = (*Issuer)(nil)

// Issuer signs HS256 access tokens carrying a permission claim.
type Issuer struct {
	cfg Config
}

// NewIssuer validates cfg and returns an Issuer. Configuration problems are
// reported once here as ErrConfiguration.
func NewIssuer(cfg Config) (*Issuer, error) {
	cfg, err := cfg.normalized()
	if err != nil {
		return nil, err
	}
	return &Issuer{cfg: cfg}, nil
}

// TTL returns the configured token lifetime.
func (i *Issuer) TTL() time.Duration {
	return i.cfg.TTL
}

// Issue signs grant with iat/nbf = now and exp = now + TTL.
func (i *Issuer) Issue(ctx context.Context, grant auth.Grant, now time.Time) (auth.IssuedToken, error) {
	if err := ctx.Err(); err != nil {
		return auth.IssuedToken{}, err
	}
	if grant.UserID <= 0 {
		return auth.IssuedToken{}, errors.New("token: user id is required")
	}
	username := strings.TrimSpace(grant.Username)
	if username == "" {
		return auth.IssuedToken{}, errors.New("token: username is required")
	}

	perm := EncodePermissions(grant.Permissions)
	size, err := perm.size()
	if err != nil {
		return auth.IssuedToken{}, fmt.Errorf("token: encode permissions: %w", err)
	}
	if size > i.cfg.MaxClaimBytes {
		return auth.IssuedToken{}, fmt.Errorf("%w: %d bytes exceeds %d", ErrClaimTooLarge, size, i.cfg.MaxClaimBytes)
	}

	now = now.UTC().Truncate(time.Second)
	exp := now.Add(i.cfg.TTL)
	jti := ids.NewAt(now)
	claims := Claims{
		Username:    username,
		Roles:       grant.Roles,
		Permissions: perm,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.cfg.Issuer,
			Subject:   auth.FormatSubject(grant.UserID),
			Audience:  jwt.ClaimStrings{i.cfg.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        jti,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.cfg.Key)
	if err != nil {
		return auth.IssuedToken{}, fmt.Errorf("%w: sign token: %w", ErrConfiguration, err)
	}
	if err := ctx.Err(); err != nil {
		return auth.IssuedToken{}, err
	}
	obs.CountTokenIssued()
	return auth.IssuedToken{Token: signed, ID: jti, IssuedAt: now, ExpiresAt: exp}, nil
}
