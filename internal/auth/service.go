package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"qazna.org/permgate/internal/obs"
)

// DefaultViewerFunction lets a caller read another user's permissions.
const DefaultViewerFunction = "Roles.View"

// Service authenticates users and serves their permission trees.
type Service struct {
	store    PermissionStore
	resolver *Resolver
	issuer   TokenIssuer
	verifier PasswordVerifier
	now      func() time.Time
	viewer   string
	log      *zap.Logger
}

// AuthResult is returned by a successful Authenticate call.
type AuthResult struct {
	UserID      int64           `json:"userId"`
	Username    string          `json:"userName"`
	Token       string          `json:"token"`
	ExpiresAt   time.Time       `json:"expiresAtUtc"`
	Permissions UserPermissions `json:"permissions"`
	// TokenID is the jti of Token, kept for audit trails.
	TokenID     string          `json:"-"`
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithPasswordVerifier overrides the bcrypt verifier.
func WithPasswordVerifier(v PasswordVerifier) ServiceOption {
	return func(s *Service) error {
		if v == nil {
			return errors.New("auth: password verifier is nil")
		}
		s.verifier = v
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithViewerFunction sets the function code that authorizes reading other
// users' permissions.
func WithViewerFunction(code string) ServiceOption {
	return func(s *Service) error {
		code = strings.TrimSpace(code)
		if code == "" {
			return errors.New("auth: viewer function code is empty")
		}
		s.viewer = code
		return nil
	}
}

// WithLogger sets the logger; defaults to the shared "auth" logger.
func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) error {
		if l != nil {
			s.log = l
		}
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(store PermissionStore, issuer TokenIssuer, opts ...ServiceOption) (*Service, error) {
	if issuer == nil {
		return nil, errors.New("auth: token issuer is required")
	}
	resolver, err := NewResolver(store)
	if err != nil {
		return nil, err
	}
	svc := &Service{
		store:    store,
		resolver: resolver,
		issuer:   issuer,
		verifier: BcryptVerifier{},
		now:      time.Now,
		viewer:   DefaultViewerFunction,
		log:      obs.Named("auth"),
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// Resolver exposes the service's permission resolver.
func (s *Service) Resolver() *Resolver {
	return s.resolver
}

// Authenticate checks credentials, resolves the user's permissions and issues
// a token. Unknown usernames and wrong passwords both yield
// ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, username, password string) (AuthResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return AuthResult{}, fmt.Errorf("%w: username and password are required", ErrInvalidInput)
	}

	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.verifier.VerifyPassword(password, dummyHash())
			s.deny(username, "unknown user")
			return AuthResult{}, ErrInvalidCredentials
		}
		obs.CountAuthAttempt("error")
		return AuthResult{}, resolutionError("load user", err)
	}
	if !s.verifier.VerifyPassword(password, user.PasswordHash) {
		s.deny(username, "password mismatch")
		return AuthResult{}, ErrInvalidCredentials
	}

	tree, err := s.resolver.ResolvePermissions(ctx, user.ID)
	if err != nil {
		obs.CountAuthAttempt("error")
		return AuthResult{}, err
	}
	roles, err := s.store.GetRoleNamesForUser(ctx, user.ID)
	if err != nil {
		obs.CountAuthAttempt("error")
		return AuthResult{}, resolutionError("load role names", err)
	}
	if err := ctx.Err(); err != nil {
		return AuthResult{}, err
	}

	issued, err := s.issuer.Issue(ctx, Grant{
		UserID:      user.ID,
		Username:    user.Username,
		Roles:       normalizeRoles(roles),
		Permissions: tree,
	}, s.now())
	if err != nil {
		obs.CountAuthAttempt("error")
		return AuthResult{}, fmt.Errorf("issue token: %w", err)
	}

	obs.CountAuthAttempt("ok")
	_, modules, functions := tree.Counts()
	s.log.Info("user authenticated",
		zap.Int64("user_id", user.ID),
		zap.String("username", user.Username),
		zap.String("jti", issued.ID),
		zap.Int("modules", modules),
		zap.Int("functions", functions),
		zap.Time("expires_at", issued.ExpiresAt),
	)
	return AuthResult{
		UserID:    user.ID,
		Username:  user.Username,
		Token:     issued.Token,
		ExpiresAt: issued.ExpiresAt.UTC(),
		TokenID:   issued.ID,
		Permissions: UserPermissions{
			UserID:     user.ID,
			Username:   user.Username,
			Categories: tree,
		},
	}, nil
}

// GetPermissions returns the permission tree of userID. The caller must be
// that user or hold the viewer function.
func (s *Service) GetPermissions(ctx context.Context, caller Identity, userID int64) (UserPermissions, error) {
	if userID <= 0 {
		return UserPermissions{}, fmt.Errorf("%w: user id must be positive", ErrInvalidInput)
	}
	if caller.UserID != userID && !caller.HasFunction(s.viewer) {
		return UserPermissions{}, ErrForbidden
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return UserPermissions{}, fmt.Errorf("user %d: %w", userID, ErrNotFound)
		}
		return UserPermissions{}, resolutionError("load user", err)
	}
	tree, err := s.resolver.ResolvePermissions(ctx, userID)
	if err != nil {
		return UserPermissions{}, err
	}
	return UserPermissions{UserID: user.ID, Username: user.Username, Categories: tree}, nil
}

func (s *Service) deny(username, reason string) {
	obs.CountAuthAttempt("denied")
	s.log.Info("authentication denied", zap.String("username", username), zap.String("reason", reason))
}

func normalizeRoles(roles []string) []string {
	if len(roles) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(roles))
	out := make([]string, 0, len(roles))
	for _, role := range roles {
		role = strings.TrimSpace(role)
		if role == "" {
			continue
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	sort.Strings(out)
	return out
}
