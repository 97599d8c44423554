package pg

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"qazna.org/permgate/internal/registry"
)

var _ registry.Store = (*Store)(nil)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

func (s *Store) CreateApplication(ctx context.Context, app registry.NewApplication) (registry.Application, error) {
	if s.db == nil {
		return registry.Application{}, errDBUnavailable
	}
	var out registry.Application
	err := s.db.QueryRowContext(ctx, `
		insert into applications(name, description, environment, created_at)
		values ($1, $2, $3, $4)
		returning id, name, description, environment, created_at
	`, app.Name, app.Description, app.Environment, app.CreatedAt).
		Scan(&out.ID, &out.Name, &out.Description, &out.Environment, &out.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return registry.Application{}, registry.ErrConflict
		}
		return registry.Application{}, describe("insert application", err)
	}
	return out, nil
}

func (s *Store) GetApplication(ctx context.Context, id int64) (registry.Application, error) {
	if s.db == nil {
		return registry.Application{}, errDBUnavailable
	}
	var out registry.Application
	err := s.db.QueryRowContext(ctx, `
		select id, name, description, environment, created_at
		from applications
		where id = $1
	`, id).Scan(&out.ID, &out.Name, &out.Description, &out.Environment, &out.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return registry.Application{}, registry.ErrNotFound
	}
	if err != nil {
		return registry.Application{}, describe("load application", err)
	}
	return out, nil
}

func (s *Store) ListApplications(ctx context.Context) ([]registry.Application, error) {
	if s.db == nil {
		return nil, errDBUnavailable
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, name, description, environment, created_at
		from applications
		order by name, id
	`)
	if err != nil {
		return nil, describe("list applications", err)
	}
	defer rows.Close()

	var apps []registry.Application
	for rows.Next() {
		var a registry.Application
		if err := rows.Scan(&a.ID, &a.Name, &a.Description, &a.Environment, &a.CreatedAt); err != nil {
			return nil, describe("scan application", err)
		}
		apps = append(apps, a)
	}
	if err := rows.Err(); err != nil {
		return nil, describe("list applications", err)
	}
	return apps, nil
}

// RecordError inserts the log and returns it with the owning application's
// name. An unknown application maps to registry.ErrNotFound.
func (s *Store) RecordError(ctx context.Context, entry registry.NewErrorLog) (registry.ErrorLog, error) {
	if s.db == nil {
		return registry.ErrorLog{}, errDBUnavailable
	}
	var out registry.ErrorLog
	err := s.db.QueryRowContext(ctx, `
		with inserted as (
			insert into error_logs(application_id, severity, message, stack_trace, source, logged_at)
			values ($1, $2, $3, $4, $5, $6)
			returning id, application_id, severity, message, stack_trace, source, logged_at
		)
		select i.id, i.application_id, a.name, i.severity, i.message, i.stack_trace, i.source, i.logged_at
		from inserted i
		join applications a on a.id = i.application_id
	`, entry.ApplicationID, entry.Severity, entry.Message, entry.StackTrace, entry.Source, entry.LoggedAt).
		Scan(&out.ID, &out.ApplicationID, &out.ApplicationName, &out.Severity, &out.Message, &out.StackTrace, &out.Source, &out.LoggedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return registry.ErrorLog{}, registry.ErrNotFound
		}
		return registry.ErrorLog{}, describe("insert error log", err)
	}
	return out, nil
}

func (s *Store) ListErrorLogs(ctx context.Context, filter registry.ErrorLogFilter) ([]registry.ErrorLog, error) {
	if s.db == nil {
		return nil, errDBUnavailable
	}
	query, args := errorLogsQuery(filter)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, describe("list error logs", err)
	}
	defer rows.Close()

	var logs []registry.ErrorLog
	for rows.Next() {
		var l registry.ErrorLog
		if err := rows.Scan(&l.ID, &l.ApplicationID, &l.ApplicationName, &l.Severity, &l.Message, &l.StackTrace, &l.Source, &l.LoggedAt); err != nil {
			return nil, describe("scan error log", err)
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, describe("list error logs", err)
	}
	return logs, nil
}

func errorLogsQuery(filter registry.ErrorLogFilter) (string, []any) {
	var b strings.Builder
	b.WriteString(`
		select e.id, e.application_id, a.name, e.severity, e.message, e.stack_trace, e.source, e.logged_at
		from error_logs e
		join applications a on a.id = e.application_id
		where true`)
	args := make([]any, 0, 3)
	if filter.ApplicationID > 0 {
		args = append(args, filter.ApplicationID)
		b.WriteString(" and e.application_id = $1")
	}
	if filter.Severity != "" {
		args = append(args, filter.Severity)
		b.WriteString(" and e.severity = $" + strconv.Itoa(len(args)))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = registry.DefaultListLimit
	}
	args = append(args, limit)
	b.WriteString(" order by e.logged_at desc, e.id desc limit $" + strconv.Itoa(len(args)))
	return b.String(), args
}
