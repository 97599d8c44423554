package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"qazna.org/permgate/internal/audit"
	"qazna.org/permgate/internal/auth"
	"qazna.org/permgate/internal/obs"
	"qazna.org/permgate/internal/token"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var errMissingBearer = errors.New("missing bearer token")

// requireToken validates the bearer token and stores the caller identity in
// the request context. Every failure answers "access denied"; the reason is
// only logged and counted.
func (a *API) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			a.rejectToken(w, r, "missing")
			return
		}
		identity, err := a.validator.Validate(r.Context(), raw, a.now())
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			a.rejectToken(w, r, token.Reason(err))
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithIdentity(r.Context(), identity)))
	})
}

func (a *API) rejectToken(w http.ResponseWriter, r *http.Request, reason string) {
	obs.CountTokenRejected(reason)
	audit.TokenRejected(r.Context(), reason)
	a.log.Debug("bearer token rejected",
		zap.String("reason", reason),
		zap.String("request_id", RequestIDFromContext(r.Context())),
	)
	w.Header().Set("WWW-Authenticate", `Bearer realm="permgate"`)
	writeError(w, r, http.StatusUnauthorized, accessDenied)
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errMissingBearer
	}
	raw := strings.TrimSpace(header[len(bearer):])
	if raw == "" {
		return "", errMissingBearer
	}
	return raw, nil
}
