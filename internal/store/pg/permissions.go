package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"qazna.org/permgate/internal/auth"
)

var _ auth.PermissionStore = (*Store)(nil)

const functionRowsQuery = `
		select c.id, c.name, m.id, m.name, m.area, m.controller, m.action, f.id, f.code, f.display_name
		from role_functions rf
		join functions f on f.id = rf.function_id
		join modules m on m.id = f.module_id
		join categories c on c.id = m.category_id
		where rf.role_id = any($1)
	`

func (s *Store) GetUserByUsername(ctx context.Context, username string) (auth.User, error) {
	return s.getUser(ctx, `
		select id, username, password_hash, created_at
		from users
		where username = $1
	`, username)
}

func (s *Store) GetUserByID(ctx context.Context, userID int64) (auth.User, error) {
	return s.getUser(ctx, `
		select id, username, password_hash, created_at
		from users
		where id = $1
	`, userID)
}

func (s *Store) getUser(ctx context.Context, query string, arg any) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errDBUnavailable
	}
	var u auth.User
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.User{}, describe("load user", err)
	}
	return u, nil
}

func (s *Store) GetRoleIDsForUser(ctx context.Context, userID int64) ([]int64, error) {
	if s.db == nil {
		return nil, errDBUnavailable
	}
	rows, err := s.db.QueryContext(ctx, `
		select distinct role_id
		from user_roles
		where user_id = $1
		order by role_id
	`, userID)
	if err != nil {
		return nil, describe("load role ids", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, describe("scan role id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, describe("load role ids", err)
	}
	return ids, nil
}

func (s *Store) GetRoleNamesForUser(ctx context.Context, userID int64) ([]string, error) {
	if s.db == nil {
		return nil, errDBUnavailable
	}
	rows, err := s.db.QueryContext(ctx, `
		select distinct r.name
		from user_roles ur
		join roles r on r.id = ur.role_id
		where ur.user_id = $1
		order by r.name
	`, userID)
	if err != nil {
		return nil, describe("load role names", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, describe("scan role name", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, describe("load role names", err)
	}
	return names, nil
}

// GetFunctionRowsForRoles loads every function reachable from roleIDs in one
// round trip. Duplicate rows are left for the resolver to collapse.
func (s *Store) GetFunctionRowsForRoles(ctx context.Context, roleIDs []int64) ([]auth.FunctionRow, error) {
	if s.db == nil {
		return nil, errDBUnavailable
	}
	roleIDs = distinctIDs(roleIDs)
	if len(roleIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, functionRowsQuery, roleIDs)
	if err != nil {
		return nil, describe("load function rows", err)
	}
	defer rows.Close()

	var out []auth.FunctionRow
	for rows.Next() {
		var (
			r                    auth.FunctionRow
			area, ctrl, act, dsp sql.NullString
		)
		if err := rows.Scan(&r.CategoryID, &r.CategoryName, &r.ModuleID, &r.ModuleName,
			&area, &ctrl, &act, &r.FunctionID, &r.Code, &dsp); err != nil {
			return nil, describe("scan function row", err)
		}
		r.Area, r.Controller, r.Action, r.DisplayName = area.String, ctrl.String, act.String, dsp.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, describe("load function rows", err)
	}
	return out, nil
}

func distinctIDs(ids []int64) []int64 {
	if len(ids) == 0 {
		return nil
	}
	out := append([]int64(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	n := 1
	for i := 1; i < len(out); i++ {
		if out[i] != out[n-1] {
			out[n] = out[i]
			n++
		}
	}
	return out[:n]
}

// describe attaches the failing step and, for server errors, the SQLSTATE.
// Context errors pass through untouched.
func describe(step string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if pgErr, ok := maybePgError(err); ok {
		return fmt.Errorf("%s: sqlstate %s: %w", step, pgErr.Code, err)
	}
	return fmt.Errorf("%s: %w", step, err)
}
