// Package registry keeps the applications that report errors and the error
// logs they send. Every operation is gated by permission functions carried
// in the caller's token.
package registry

import (
	"context"
	"errors"
	"time"
)

// Functions that gate registry operations.
const (
	FunctionViewApplications   = "Applications.View"
	FunctionManageApplications = "Applications.Manage"
	FunctionViewErrors         = "ErrorLogs.View"
	FunctionRecordErrors       = "ErrorLogs.Record"
)

// Severity levels accepted for error logs.
const (
	SeverityDebug    = "debug"
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

const (
	maxNameLen        = 100
	maxDescriptionLen = 1000
	maxMessageLen     = 4000
	maxStackTraceLen  = 32 << 10
	maxSourceLen      = 200

	DefaultListLimit = 100
	MaxListLimit     = 1000
)

var (
	ErrNotFound     = errors.New("registry: not found")
	ErrInvalidInput = errors.New("registry: invalid input")
	ErrConflict     = errors.New("registry: conflict")
)

// Application is a system registered to report errors.
type Application struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Environment string    `json:"environment,omitempty"`
	CreatedAt   time.Time `json:"createdAtUtc"`
}

// NewApplication is the input of CreateApplication.
type NewApplication struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Environment string    `json:"environment,omitempty"`
	CreatedAt   time.Time `json:"-"`
}

// ErrorLog is one error reported by an application.
type ErrorLog struct {
	ID              int64     `json:"id"`
	ApplicationID   int64     `json:"applicationId"`
	ApplicationName string    `json:"applicationName"`
	Severity        string    `json:"severity"`
	Message         string    `json:"message"`
	StackTrace      string    `json:"stackTrace,omitempty"`
	Source          string    `json:"source,omitempty"`
	LoggedAt        time.Time `json:"loggedAtUtc"`
}

// NewErrorLog is the input of RecordError.
type NewErrorLog struct {
	ApplicationID int64     `json:"applicationId"`
	Severity      string    `json:"severity,omitempty"`
	Message       string    `json:"message"`
	StackTrace    string    `json:"stackTrace,omitempty"`
	Source        string    `json:"source,omitempty"`
	LoggedAt      time.Time `json:"-"`
}

// ErrorLogFilter narrows ListErrorLogs. Zero fields match everything.
type ErrorLogFilter struct {
	ApplicationID int64
	Severity      string
	Limit         int
}

// Store persists applications and error logs.
type Store interface {
	CreateApplication(ctx context.Context, app NewApplication) (Application, error)
	GetApplication(ctx context.Context, id int64) (Application, error)
	ListApplications(ctx context.Context) ([]Application, error)
	RecordError(ctx context.Context, entry NewErrorLog) (ErrorLog, error)
	ListErrorLogs(ctx context.Context, filter ErrorLogFilter) ([]ErrorLog, error)
}
