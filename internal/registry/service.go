package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"qazna.org/permgate/internal/auth"
	"qazna.org/permgate/internal/obs"
)

// Service validates registry requests and checks the caller's functions.
// Authorization failures wrap auth.ErrForbidden.
type Service struct {
	store Store
	now   func() time.Time
	log   *zap.Logger
}

type Option func(*Service)

// WithClock overrides the time stamped on new records.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

func NewService(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("registry: store is required")
	}
	s := &Service{store: store, now: time.Now, log: obs.Named("registry")}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) CreateApplication(ctx context.Context, caller auth.Identity, in NewApplication) (Application, error) {
	if err := require(caller, FunctionManageApplications); err != nil {
		return Application{}, err
	}
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	in.Environment = strings.ToLower(strings.TrimSpace(in.Environment))
	if in.Name == "" {
		return Application{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if err := maxLen("name", in.Name, maxNameLen); err != nil {
		return Application{}, err
	}
	if err := maxLen("description", in.Description, maxDescriptionLen); err != nil {
		return Application{}, err
	}
	if err := maxLen("environment", in.Environment, maxNameLen); err != nil {
		return Application{}, err
	}
	in.CreatedAt = s.now().UTC()

	app, err := s.store.CreateApplication(ctx, in)
	if err != nil {
		return Application{}, err
	}
	s.log.Info("application registered",
		zap.Int64("application_id", app.ID),
		zap.String("name", app.Name),
		zap.Int64("caller_id", caller.UserID),
	)
	return app, nil
}

func (s *Service) GetApplication(ctx context.Context, caller auth.Identity, id int64) (Application, error) {
	if err := require(caller, FunctionViewApplications); err != nil {
		return Application{}, err
	}
	if id <= 0 {
		return Application{}, fmt.Errorf("%w: application id must be positive", ErrInvalidInput)
	}
	return s.store.GetApplication(ctx, id)
}

func (s *Service) ListApplications(ctx context.Context, caller auth.Identity) ([]Application, error) {
	if err := require(caller, FunctionViewApplications); err != nil {
		return nil, err
	}
	apps, err := s.store.ListApplications(ctx)
	if err != nil {
		return nil, err
	}
	if apps == nil {
		apps = []Application{}
	}
	return apps, nil
}

// RecordError stores an error log for an existing application. An empty
// severity defaults to "error".
func (s *Service) RecordError(ctx context.Context, caller auth.Identity, in NewErrorLog) (ErrorLog, error) {
	if err := require(caller, FunctionRecordErrors); err != nil {
		return ErrorLog{}, err
	}
	if in.ApplicationID <= 0 {
		return ErrorLog{}, fmt.Errorf("%w: applicationId must be positive", ErrInvalidInput)
	}
	severity, err := normalizeSeverity(in.Severity, SeverityError)
	if err != nil {
		return ErrorLog{}, err
	}
	in.Severity = severity
	in.Message = strings.TrimSpace(in.Message)
	in.Source = strings.TrimSpace(in.Source)
	if in.Message == "" {
		return ErrorLog{}, fmt.Errorf("%w: message is required", ErrInvalidInput)
	}
	if err := maxLen("message", in.Message, maxMessageLen); err != nil {
		return ErrorLog{}, err
	}
	if err := maxLen("stackTrace", in.StackTrace, maxStackTraceLen); err != nil {
		return ErrorLog{}, err
	}
	if err := maxLen("source", in.Source, maxSourceLen); err != nil {
		return ErrorLog{}, err
	}
	in.LoggedAt = s.now().UTC()
	return s.store.RecordError(ctx, in)
}

// ListErrorLogs returns the newest logs first. The limit defaults to
// DefaultListLimit and is capped at MaxListLimit.
func (s *Service) ListErrorLogs(ctx context.Context, caller auth.Identity, filter ErrorLogFilter) ([]ErrorLog, error) {
	if err := require(caller, FunctionViewErrors); err != nil {
		return nil, err
	}
	if filter.ApplicationID < 0 {
		return nil, fmt.Errorf("%w: applicationId must not be negative", ErrInvalidInput)
	}
	if filter.Severity != "" {
		severity, err := normalizeSeverity(filter.Severity, "")
		if err != nil {
			return nil, err
		}
		filter.Severity = severity
	}
	switch {
	case filter.Limit < 0:
		return nil, fmt.Errorf("%w: limit must not be negative", ErrInvalidInput)
	case filter.Limit == 0:
		filter.Limit = DefaultListLimit
	case filter.Limit > MaxListLimit:
		filter.Limit = MaxListLimit
	}
	logs, err := s.store.ListErrorLogs(ctx, filter)
	if err != nil {
		return nil, err
	}
	if logs == nil {
		logs = []ErrorLog{}
	}
	return logs, nil
}

func require(caller auth.Identity, function string) error {
	if !caller.HasFunction(function) {
		return fmt.Errorf("%w: %s required", auth.ErrForbidden, function)
	}
	return nil
}

func normalizeSeverity(v, fallback string) (string, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" && fallback != "" {
		return fallback, nil
	}
	switch v {
	case SeverityDebug, SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return v, nil
	}
	return "", fmt.Errorf("%w: unknown severity %q", ErrInvalidInput, v)
}

func maxLen(field, v string, n int) error {
	if utf8.RuneCountInString(v) > n {
		return fmt.Errorf("%w: %s exceeds %d characters", ErrInvalidInput, field, n)
	}
	return nil
}
