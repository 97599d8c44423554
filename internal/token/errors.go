package token

import (
	"errors"
	"fmt"
)

// ErrInvalidToken is the umbrella for every validation failure; the protocol
// boundary maps it to a single "unauthorized".
var ErrInvalidToken = errors.New("token: invalid")

var (
	ErrMalformed             = fmt.Errorf("%w: malformed", ErrInvalidToken)
	ErrBadSignature          = fmt.Errorf("%w: bad signature", ErrInvalidToken)
	ErrWrongIssuerOrAudience = fmt.Errorf("%w: wrong issuer or audience", ErrInvalidToken)
	ErrExpired               = fmt.Errorf("%w: expired", ErrInvalidToken)
)

var (
	ErrConfiguration = errors.New("token: invalid configuration")
	ErrClaimTooLarge = errors.New("token: permission claim too large")
)

// Reason returns a short label for a validation error, for logs and metrics.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case errors.Is(err, ErrBadSignature):
		return "bad_signature"
	case errors.Is(err, ErrWrongIssuerOrAudience):
		return "wrong_issuer_or_audience"
	case errors.Is(err, ErrExpired):
		return "expired"
	default:
		return "other"
	}
}
