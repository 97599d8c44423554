package audit

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"qazna.org/permgate/internal/auth"
	"qazna.org/permgate/internal/obs"
)

const (
	EventAuthenticated = "auth.authenticated"
	EventDenied        = "auth.denied"
	EventTokenRejected = "token.rejected"
	EventPermissions   = "permissions.read"
	EventAppCreated    = "application.created"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the audit request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit entry enriched with request and caller context.
func LogEvent(ctx context.Context, event string, fields ...zap.Field) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	all := make([]zap.Field, 0, len(fields)+4)
	all = append(all, zap.String("type", "audit"), zap.String("event", event))
	if rid := RequestIDFromContext(ctx); rid != "" {
		all = append(all, zap.String("request_id", rid))
	}
	if id, ok := auth.IdentityFromContext(ctx); ok {
		all = append(all, zap.Int64("caller_id", id.UserID))
	}
	all = append(all, fields...)
	obs.Named("audit").Info(event, all...)
	return nil
}

// Authenticated records a successful login.
func Authenticated(ctx context.Context, userID int64, username, tokenID string) {
	_ = LogEvent(ctx, EventAuthenticated,
		zap.Int64("user_id", userID),
		zap.String("username", username),
		zap.String("jti", tokenID),
	)
}

// Denied records a failed login. The reason stays in the log only.
func Denied(ctx context.Context, username, reason string) {
	_ = LogEvent(ctx, EventDenied, zap.String("username", username), zap.String("reason", reason))
}

// TokenRejected records a bearer token that failed validation.
func TokenRejected(ctx context.Context, reason string) {
	_ = LogEvent(ctx, EventTokenRejected, zap.String("reason", reason))
}

// PermissionsRead records one user reading another user's permissions.
func PermissionsRead(ctx context.Context, targetID int64) {
	_ = LogEvent(ctx, EventPermissions, zap.Int64("target_id", targetID))
}

// ApplicationCreated records a new application in the registry.
func ApplicationCreated(ctx context.Context, appID int64, name string) {
	_ = LogEvent(ctx, EventAppCreated, zap.Int64("application_id", appID), zap.String("name", name))
}
