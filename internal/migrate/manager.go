// Package migrate installs the permission schema and the reference catalog.
//
// Migrations live under migrations/ as NNNN_name.up.sql with an optional
// matching .down.sql; seeds live under seeds/ and are applied once each.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultMigrationsTable = "schema_migrations"
	defaultSeedsTable      = "schema_seeds"

	migrationsDir = "migrations"
	seedsDir      = "seeds"
)

// ErrNothingApplied is returned by Down when no migration has been recorded.
var ErrNothingApplied = errors.New("no migrations applied")

//go:embed sql
var bundled embed.FS

// Schema returns the bundled permission schema and catalog seeds.
func Schema() fs.FS {
	sub, err := fs.Sub(bundled, "sql")
	if err != nil {
		panic(err)
	}
	return sub
}

// Manager applies migrations and seeds from an fs.FS.
type Manager struct {
	db              *sql.DB
	source          fs.FS
	migrationsTable string
	seedsTable      string
	log             *zap.Logger
	now             func() time.Time
}

type Option func(*Manager)

// WithMigrationsTable overrides the default migrations bookkeeping table.
func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.migrationsTable = name
		}
	}
}

// WithSeedsTable overrides the default seeds bookkeeping table.
func WithSeedsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.seedsTable = name
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// NewManager constructs a Manager. A nil source selects Schema().
func NewManager(db *sql.DB, source fs.FS, opts ...Option) *Manager {
	if source == nil {
		source = Schema()
	}
	m := &Manager{
		db:              db,
		source:          source,
		migrationsTable: defaultMigrationsTable,
		seedsTable:      defaultSeedsTable,
		log:             zap.NewNop(),
		now:             func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies all pending migrations in name order and returns the names applied.
func (m *Manager) Up(ctx context.Context) ([]string, error) {
	return m.applyPending(ctx, migrationsDir, ".up.sql", m.migrationsTable)
}

// Seed applies seed files that have not been applied yet.
func (m *Manager) Seed(ctx context.Context) ([]string, error) {
	return m.applyPending(ctx, seedsDir, ".sql", m.seedsTable)
}

// Down rolls back the most recently applied migration and returns its name.
func (m *Manager) Down(ctx context.Context) (string, error) {
	if err := m.ensureTables(ctx); err != nil {
		return "", err
	}
	applied, err := m.history(ctx, m.migrationsTable)
	if err != nil {
		return "", err
	}
	if len(applied) == 0 {
		return "", ErrNothingApplied
	}
	last := applied[len(applied)-1]
	downName := path.Join(migrationsDir, strings.TrimSuffix(last, ".up.sql")+".down.sql")
	script, err := fs.ReadFile(m.source, downName)
	if err != nil {
		return "", fmt.Errorf("missing down migration for %s: %w", last, err)
	}
	forget := fmt.Sprintf(`delete from %s where name = $1`, m.migrationsTable)
	if err := m.run(ctx, string(script), forget, last); err != nil {
		return "", fmt.Errorf("rollback migration %s: %w", last, err)
	}
	m.log.Info("migration rolled back", zap.String("name", last))
	return last, nil
}

// Status returns applied migrations in application order.
func (m *Manager) Status(ctx context.Context) ([]string, error) {
	if err := m.ensureTables(ctx); err != nil {
		return nil, err
	}
	return m.history(ctx, m.migrationsTable)
}

func (m *Manager) applyPending(ctx context.Context, dir, suffix, table string) ([]string, error) {
	if err := m.ensureTables(ctx); err != nil {
		return nil, err
	}
	done, err := m.listExecuted(ctx, table)
	if err != nil {
		return nil, err
	}
	names, err := collectSQL(m.source, dir, suffix)
	if err != nil {
		return nil, err
	}
	record := fmt.Sprintf(`insert into %s(name, applied_at) values ($1, $2)`, table)
	var applied []string
	for _, name := range names {
		if done[name] {
			continue
		}
		script, err := fs.ReadFile(m.source, path.Join(dir, name))
		if err != nil {
			return applied, err
		}
		if err := m.run(ctx, string(script), record, name, m.now()); err != nil {
			return applied, fmt.Errorf("apply %s/%s: %w", dir, name, err)
		}
		m.log.Info("sql applied", zap.String("dir", dir), zap.String("name", name))
		applied = append(applied, name)
	}
	return applied, nil
}

// run executes script and the bookkeeping statement in one transaction.
func (m *Manager) run(ctx context.Context, script, bookkeeping string, args ...any) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(script) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, args...); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *Manager) ensureTables(ctx context.Context) error {
	for _, table := range []string{m.migrationsTable, m.seedsTable} {
		ddl := fmt.Sprintf(`create table if not exists %s (
			name text primary key,
			applied_at timestamptz not null default now()
		)`, table)
		if _, err := m.db.ExecContext(ctx, ddl); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) listExecuted(ctx context.Context, table string) (map[string]bool, error) {
	names, err := m.history(ctx, table)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out, nil
}

func (m *Manager) history(ctx context.Context, table string) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`select name from %s order by applied_at, name`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		res = append(res, name)
	}
	return res, rows.Err()
}

func collectSQL(source fs.FS, dir, suffix string) ([]string, error) {
	entries, err := fs.ReadDir(source, dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		// seeds match ".sql", so keep down scripts out of that set too
		if strings.HasSuffix(e.Name(), ".down.sql") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// splitStatements splits on semicolons outside single-quoted literals and
// drops empty statements.
func splitStatements(script string) []string {
	var stmts []string
	var current strings.Builder
	inString := false
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			stmts = append(stmts, s)
		}
		current.Reset()
	}
	for _, r := range script {
		switch {
		case r == '\'':
			inString = !inString
			current.WriteRune(r)
		case r == ';' && !inString:
			flush()
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return stmts
}
