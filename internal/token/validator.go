package token

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"qazna.org/permgate/internal/auth"
)

// Validator verifies tokens produced by an Issuer sharing the same Config.
// It never consults the permission store.
type Validator struct {
	cfg Config
}

// NewValidator validates cfg and returns a Validator.
func NewValidator(cfg Config) (*Validator, error) {
	cfg, err := cfg.normalized()
	if err != nil {
		return nil, err
	}
	return &Validator{cfg: cfg}, nil
}

// Validate checks, in order, structure, signature, issuer/audience and the
// validity window at now, and returns the identity exactly as issued.
func (v *Validator) Validate(ctx context.Context, raw string, now time.Time) (auth.Identity, error) {
	if err := ctx.Err(); err != nil {
		return auth.Identity{}, err
	}
	if raw == "" {
		return auth.Identity{}, ErrMalformed
	}

	// jwt checks structure and signature only; the claim checks below follow
	// the issuer/audience then time-window order with an inclusive exp.
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	var claims Claims
	if _, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return v.cfg.Key, nil
	}); err != nil {
		return auth.Identity{}, classify(err)
	}
	if err := v.checkClaims(&claims.RegisteredClaims, now); err != nil {
		return auth.Identity{}, err
	}

	userID, err := auth.ParseSubject(claims.Subject)
	if err != nil {
		return auth.Identity{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if claims.Username == "" || claims.IssuedAt == nil {
		return auth.Identity{}, fmt.Errorf("%w: required claims missing", ErrMalformed)
	}
	tree, err := claims.Permissions.Tree()
	if err != nil {
		return auth.Identity{}, fmt.Errorf("%w: permission claim: %w", ErrMalformed, err)
	}
	if !sort.StringsAreSorted(claims.Roles) {
		return auth.Identity{}, fmt.Errorf("%w: roles claim not canonical", ErrMalformed)
	}
	if err := ctx.Err(); err != nil {
		return auth.Identity{}, err
	}

	return auth.Identity{
		Subject:     claims.Subject,
		UserID:      userID,
		Username:    claims.Username,
		Roles:       claims.Roles,
		Permissions: tree,
		TokenID:     claims.ID,
		IssuedAt:    claims.IssuedAt.Time.UTC(),
		NotBefore:   claims.NotBefore.Time.UTC(),
		ExpiresAt:   claims.ExpiresAt.Time.UTC(),
	}, nil
}

// checkClaims verifies issuer and audience, then that now lies within
// [nbf - skew, exp + skew].
func (v *Validator) checkClaims(rc *jwt.RegisteredClaims, now time.Time) error {
	if rc.Issuer != v.cfg.Issuer {
		return fmt.Errorf("%w: issuer %q", ErrWrongIssuerOrAudience, rc.Issuer)
	}
	if !slices.Contains(rc.Audience, v.cfg.Audience) {
		return fmt.Errorf("%w: audience %v", ErrWrongIssuerOrAudience, []string(rc.Audience))
	}
	if rc.ExpiresAt == nil || rc.NotBefore == nil {
		return fmt.Errorf("%w: exp and nbf are required", ErrMalformed)
	}
	if now.Before(rc.NotBefore.Time.Add(-v.cfg.ClockSkew)) {
		return fmt.Errorf("%w: not valid before %s", ErrExpired, rc.NotBefore.Time.UTC().Format(time.RFC3339))
	}
	if now.After(rc.ExpiresAt.Time.Add(v.cfg.ClockSkew)) {
		return fmt.Errorf("%w: expired at %s", ErrExpired, rc.ExpiresAt.Time.UTC().Format(time.RFC3339))
	}
	return nil
}

// classify maps jwt parse errors onto the validation taxonomy.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %w", ErrBadSignature, err)
	default:
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
}
